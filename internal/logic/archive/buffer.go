package archive

import (
	"sync"

	"openbook-indexer/internal/logic/core"
)

type eventBuffer struct {
	mu     sync.Mutex
	buffer []*core.TradeEvent
}

func newEventBuffer() *eventBuffer {
	return &eventBuffer{}
}

// Add 追加事件，返回追加后的缓冲长度
func (b *eventBuffer) Add(events ...*core.TradeEvent) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buffer = append(b.buffer, events...)
	return len(b.buffer)
}

func (b *eventBuffer) Flush() []*core.TradeEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	flushed := b.buffer
	b.buffer = nil // reset
	return flushed
}

func (b *eventBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffer)
}
