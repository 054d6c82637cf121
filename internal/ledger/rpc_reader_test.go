package ledger

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openbook-indexer/internal/consts"
)

func TestRPCReader_GetSlotUsesConfirmedCommitment(t *testing.T) {
	bodies := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies <- body
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":321}`))
	}))
	t.Cleanup(srv.Close)

	r := newRPCReader(srv.URL, time.Second)
	slot, err := r.GetSlot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(321), slot)

	var req struct {
		Method string           `json:"method"`
		Params []map[string]any `json:"params"`
	}
	require.NoError(t, json.Unmarshal(<-bodies, &req))
	assert.Equal(t, "getSlot", req.Method)
	require.Len(t, req.Params, 1)
	assert.Equal(t, consts.CommitmentConfirmed, req.Params[0]["commitment"])
}
