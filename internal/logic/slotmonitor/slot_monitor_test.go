package slotmonitor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/zeromicro/go-zero/core/logx/logtest"
)

type flakyChain struct {
	calls atomic.Int32
	fails int32
	slot  uint64
}

func (c *flakyChain) GetSlot(context.Context) (uint64, error) {
	if c.calls.Add(1) <= c.fails {
		return 0, errors.New("rpc unavailable")
	}
	return c.slot, nil
}

type processed uint64

func (p processed) LastSlot() uint64 { return uint64(p) }

func TestSlotMonitor_RetriesThenRecordsSlot(t *testing.T) {
	chain := &flakyChain{fails: 2, slot: 500}
	m := New(chain, processed(450), time.Hour, time.Second)
	m.Start()
	defer m.Stop()

	assert.Eventually(t, func() bool { return m.ChainSlot() == 500 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(3), chain.calls.Load())
}

func TestSlotMonitor_GivesUpAfterMaxRetries(t *testing.T) {
	chain := &flakyChain{fails: 100, slot: 1}
	m := New(chain, processed(0), time.Hour, time.Second)
	m.check()

	assert.Equal(t, uint64(0), m.ChainSlot())
	assert.Equal(t, int32(maxRetries), chain.calls.Load())
}

func TestSlotMonitor_StopInterruptsRetry(t *testing.T) {
	m := New(&flakyChain{fails: 100}, processed(0), time.Hour, time.Second)
	m.Start()

	stopped := make(chan struct{})
	go func() {
		m.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stop blocked")
	}
}

func TestSlotMonitor_LagLoggedAtSlowLevel(t *testing.T) {
	buf := logtest.NewCollector(t)

	m := New(&flakyChain{slot: 500}, processed(100), time.Hour, time.Second)
	m.check()
	assert.Contains(t, buf.String(), `"level":"slow"`)
	assert.Contains(t, buf.String(), "lag=400")

	buf.Reset()
	m = New(&flakyChain{slot: 500}, processed(450), time.Hour, time.Second)
	m.check()
	assert.NotContains(t, buf.String(), "lag=")
}
