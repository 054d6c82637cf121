// Package store 内存中的只追加事件日志
package store

import (
	"sync"

	"openbook-indexer/internal/logic/core"
)

const DefaultLimit = 100

// UnknownMarketName 按市场名聚合时，未注册市场使用的名称
const UnknownMarketName = "Unknown"

// Filter 查询条件，空字符串表示不过滤
type Filter struct {
	Market string
	Type   string
	Limit  int // <=0 时使用 DefaultLimit
}

// MarketNamer 按地址查询市场名
type MarketNamer interface {
	MarketName(address string) (string, bool)
}

// TradeStore 只追加的事件存储，按到达顺序保存。容量不设上限。
type TradeStore struct {
	mu     sync.RWMutex
	events []*core.TradeEvent
}

func NewTradeStore() *TradeStore {
	return &TradeStore{events: make([]*core.TradeEvent, 0, 1024)}
}

// Append 在一次加锁内追加一批事件
func (s *TradeStore) Append(events ...*core.TradeEvent) {
	if len(events) == 0 {
		return
	}
	s.mu.Lock()
	s.events = append(s.events, events...)
	s.mu.Unlock()
}

func (s *TradeStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// All 按插入顺序返回全部事件的副本
func (s *TradeStore) All() []*core.TradeEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*core.TradeEvent, len(s.events))
	copy(out, s.events)
	return out
}

// Query 从最新事件向前扫描，返回最多 Limit 条匹配事件（新到旧）以及未过滤的总数
func (s *TradeStore) Query(f Filter) (events []*core.TradeEvent, total int) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	total = len(s.events)
	events = make([]*core.TradeEvent, 0, min(limit, total))
	for i := total - 1; i >= 0 && len(events) < limit; i-- {
		e := s.events[i]
		if f.Market != "" && e.Market != f.Market {
			continue
		}
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		events = append(events, e)
	}
	return events, total
}

// GroupBy 聚合维度
type GroupBy int

const (
	ByType          GroupBy = iota // 指令类型
	ByMarket                       // 市场名，未注册市场归入 "Unknown"
	ByMarketAddress                // 市场地址
)

// Aggregate 全量扫描计数。ByMarket 需要 namer 解析市场名，其余维度可传 nil。
func (s *TradeStore) Aggregate(by GroupBy, namer MarketNamer) map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return CountBy(s.events, by, namer)
}

// Stats 在同一次加锁内统计总数、按类型与按市场名的计数，三者一致
func (s *TradeStore) Stats(namer MarketNamer) (total int, byType, byMarket map[string]int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events), CountBy(s.events, ByType, nil), CountBy(s.events, ByMarket, namer)
}

// MarketTrades 返回某市场的事件总数和最近 limit 条（新到旧），两者取自同一时刻
func (s *TradeStore) MarketTrades(address string, limit int) (recent []*core.TradeEvent, count int) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if e.Market != address {
			continue
		}
		count++
		if len(recent) < limit {
			recent = append(recent, e)
		}
	}
	if recent == nil {
		recent = []*core.TradeEvent{}
	}
	return recent, count
}

// CountBy 对给定事件计数，调用方负责提供一致的副本
func CountBy(events []*core.TradeEvent, by GroupBy, namer MarketNamer) map[string]int {
	counts := make(map[string]int)
	for _, e := range events {
		switch by {
		case ByType:
			counts[e.Type]++
		case ByMarketAddress:
			counts[e.Market]++
		case ByMarket:
			name, ok := "", false
			if namer != nil {
				name, ok = namer.MarketName(e.Market)
			}
			if !ok {
				name = UnknownMarketName
			}
			counts[name]++
		}
	}
	return counts
}
