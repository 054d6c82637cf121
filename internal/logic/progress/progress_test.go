package progress

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*RedisProgressStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisProgressStore(rdb), mr
}

func TestRedisProgressStore_StatusRoundTrip(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	status, err := store.GetSigStatus(ctx, "sigA")
	require.NoError(t, err)
	assert.Equal(t, SigUnknown, status)

	require.NoError(t, store.MarkSigStatus(ctx, "sigA", SigProcessed))
	status, err = store.GetSigStatus(ctx, "sigA")
	require.NoError(t, err)
	assert.Equal(t, SigProcessed, status)
	assert.Equal(t, processedTTL, mr.TTL("progress:sig:sigA"))

	require.NoError(t, store.MarkSigStatus(ctx, "sigB", SigAbsent))
	mr.FastForward(absentTTL + time.Second)
	status, err = store.GetSigStatus(ctx, "sigB")
	require.NoError(t, err)
	assert.Equal(t, SigUnknown, status)
}

func TestRedisProgressStore_ClaimOnce(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	ok, err := store.TryClaim(ctx, "sig")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.TryClaim(ctx, "sig")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Release(ctx, "sig"))
	ok, err = store.TryClaim(ctx, "sig")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestProgressManager(t *testing.T) {
	store, _ := newTestStore(t)
	pm := NewProgressManager(store)
	ctx := context.Background()

	assert.True(t, pm.ShouldProcess(ctx, "s1", SourceLive))
	assert.False(t, pm.ShouldProcess(ctx, "s1", SourceBackfill), "claimed by live")

	pm.MarkSigStatus(ctx, "s1", SigProcessed)
	assert.False(t, pm.ShouldProcess(ctx, "s1", SourceBackfill))

	assert.True(t, pm.ShouldProcess(ctx, "s2", SourceLive))
	pm.MarkSigStatus(ctx, "s2", SigUnknown)
	assert.True(t, pm.ShouldProcess(ctx, "s2", SourceLive), "released after failure")
}

func TestProgressManager_DisabledAndRedisDown(t *testing.T) {
	var disabled *ProgressManager
	assert.False(t, disabled.Enabled())
	assert.True(t, disabled.ShouldProcess(context.Background(), "x", SourceLive))
	disabled.MarkSigStatus(context.Background(), "x", SigProcessed)

	store, mr := newTestStore(t)
	pm := NewProgressManager(store)
	mr.Close()
	assert.True(t, pm.ShouldProcess(context.Background(), "y", SourceLive))
}
