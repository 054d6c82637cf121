package backfill

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openbook-indexer/internal/config"
	"openbook-indexer/internal/consts"
	"openbook-indexer/internal/ledger"
	"openbook-indexer/internal/ledger/ledgertest"
	"openbook-indexer/internal/logic/processor"
	"openbook-indexer/internal/logic/progress"
)

type collector struct {
	mu   sync.Mutex
	jobs []processor.Job
}

func (c *collector) handle(_ context.Context, job processor.Job) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs = append(c.jobs, job)
}

func (c *collector) signatures() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.jobs))
	for _, j := range c.jobs {
		out = append(out, j.Signature)
	}
	sort.Strings(out)
	return out
}

func history(n int) []ledger.SignatureInfo {
	sigs := make([]ledger.SignatureInfo, n)
	for i := range sigs {
		sigs[i] = ledger.SignatureInfo{Signature: fmt.Sprintf("sig-%03d", i), Slot: uint64(1000 - i)}
	}
	return sigs
}

func newBackfiller(fake *ledgertest.Fake, c *collector, conf config.BackfillConfig) *Backfiller {
	b := New(fake, consts.OpenBookV2Program, c.handle, conf)
	b.pause = 0
	return b
}

func TestRun_PaginatesToHistoryStart(t *testing.T) {
	fake := ledgertest.New()
	fake.SetSignatures(history(25))
	c := &collector{}

	n, err := newBackfiller(fake, c, config.BackfillConfig{BatchSize: 10, Concurrency: 3}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 25, n)

	got := c.signatures()
	require.Len(t, got, 25)
	assert.Equal(t, "sig-000", got[0])
	assert.Equal(t, "sig-024", got[24])
	for _, j := range c.jobs {
		assert.Equal(t, progress.SourceBackfill, j.Source)
		assert.Nil(t, j.Tx)
	}
}

func TestRun_StopsAtMaxSignatures(t *testing.T) {
	fake := ledgertest.New()
	fake.SetSignatures(history(50))
	c := &collector{}

	n, err := newBackfiller(fake, c, config.BackfillConfig{BatchSize: 10, MaxSignatures: 15}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 15, n)
	got := c.signatures()
	assert.Equal(t, "sig-014", got[len(got)-1])
}

func TestRun_EmptyHistory(t *testing.T) {
	c := &collector{}
	n, err := newBackfiller(ledgertest.New(), c, config.BackfillConfig{}).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRun_Cancelled(t *testing.T) {
	fake := ledgertest.New()
	fake.SetSignatures(history(5))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newBackfiller(fake, &collector{}, config.BackfillConfig{}).Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestStartStop(t *testing.T) {
	fake := ledgertest.New()
	fake.SetSignatures(history(3))
	c := &collector{}
	b := newBackfiller(fake, c, config.BackfillConfig{})

	b.Start()
	assert.Eventually(t, func() bool { return len(c.signatures()) == 3 }, time.Second, 5*time.Millisecond)
	b.Stop()
}
