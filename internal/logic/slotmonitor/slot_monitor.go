// Package slotmonitor 定时查询链上 slot，与已处理的最大 slot 比较得出索引延迟
package slotmonitor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/threading"

	"openbook-indexer/internal/metrics"
)

const (
	defaultInterval = 10 * time.Second
	maxRetries      = 3
	retryDelay      = 300 * time.Millisecond
	// 超过该 slot 差且仍在处理交易时告警
	lagWarnSlots = 150
)

type SlotFetcher interface {
	GetSlot(ctx context.Context) (uint64, error)
}

type SlotReader interface {
	LastSlot() uint64
}

// SlotMonitor 实现 go-zero service.Service
type SlotMonitor struct {
	chain     SlotFetcher
	processed SlotReader
	interval  time.Duration
	timeout   time.Duration

	chainSlot atomic.Uint64
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	logger    logx.Logger
}

func New(chain SlotFetcher, processed SlotReader, interval, timeout time.Duration) *SlotMonitor {
	if interval <= 0 {
		interval = defaultInterval
	}
	if timeout <= 0 {
		timeout = 6 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SlotMonitor{
		chain:     chain,
		processed: processed,
		interval:  interval,
		timeout:   timeout,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		logger:    logx.WithContext(ctx).WithFields(logx.Field("service", "slot_monitor")),
	}
}

func (m *SlotMonitor) Start() {
	threading.GoSafe(m.run)
}

func (m *SlotMonitor) Stop() {
	m.cancel()
	<-m.done
}

// ChainSlot 最近一次查询到的链上 slot，尚未查询成功时为 0
func (m *SlotMonitor) ChainSlot() uint64 {
	return m.chainSlot.Load()
}

func (m *SlotMonitor) run() {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.check()
	for {
		select {
		case <-m.ctx.Done():
			m.logger.Infof("[SlotMonitor] stopped")
			return
		case <-ticker.C:
			drainTicker(ticker)
			m.check()
		}
	}
}

func drainTicker(t *time.Ticker) {
	for {
		select {
		case <-t.C:
			// 丢弃多余 tick
		default:
			return
		}
	}
}

func (m *SlotMonitor) check() {
	slot, err := m.getSlotWithRetry()
	if err != nil {
		if m.ctx.Err() == nil {
			m.logger.Errorf("[SlotMonitor] getSlot failed after retries: %v", err)
		}
		return
	}
	m.chainSlot.Store(slot)
	metrics.ChainSlot.Set(float64(slot))

	last := m.processed.LastSlot()
	if last == 0 || last > slot {
		return
	}
	lag := slot - last
	metrics.SlotLag.Set(float64(lag))
	if lag > lagWarnSlots {
		m.logger.Slowf("[SlotMonitor] 索引落后: chain=%d, processed=%d, lag=%d", slot, last, lag)
	}
}

func (m *SlotMonitor) getSlotWithRetry() (uint64, error) {
	var attempt int
	for {
		ctx, cancel := context.WithTimeout(m.ctx, m.timeout)
		slot, err := m.chain.GetSlot(ctx)
		cancel()
		if err == nil {
			return slot, nil
		}

		attempt++
		if attempt >= maxRetries || m.ctx.Err() != nil {
			return 0, err
		}
		select {
		case <-m.ctx.Done():
			return 0, m.ctx.Err()
		case <-time.After(retryDelay):
		}
	}
}
