// Package registry 维护本次运行中已发现的市场，只增不减
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/syncx"

	"openbook-indexer/internal/ledger"
	"openbook-indexer/internal/logic/core"
	"openbook-indexer/internal/metrics"
	"openbook-indexer/internal/types"
)

const loadFlightKey = "markets"

type Registry struct {
	conn      ledger.Connection
	programID types.Pubkey
	flight    syncx.SingleFlight
	logger    logx.Logger
	now       func() time.Time

	mu      sync.RWMutex
	markets map[string]core.Market
}

func New(conn ledger.Connection, programID types.Pubkey) *Registry {
	return &Registry{
		conn:      conn,
		programID: programID,
		flight:    syncx.NewSingleFlight(),
		logger:    logx.WithContext(context.Background()).WithFields(logx.Field("service", "registry")),
		now:       time.Now,
		markets:   make(map[string]core.Market),
	}
}

// Load 重新扫描市场账户并插入新市场，返回新增数量。
// 并发调用合并为一次扫描；扫描失败时保留已有数据并返回错误。
func (r *Registry) Load(ctx context.Context) (int, error) {
	v, err := r.flight.Do(loadFlightKey, func() (any, error) {
		markets, err := FindAllMarkets(ctx, r.conn, r.programID)
		if err != nil {
			r.logger.Errorf("[Registry] 市场扫描失败，保留现有 %d 个市场: %v", r.Len(), err)
			return 0, err
		}
		added := r.Upsert(markets...)
		r.logger.Infof("[Registry] 市场扫描完成: 扫描到 %d 个, 新增 %d 个, 共 %d 个", len(markets), added, r.Len())
		return added, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// Upsert 插入尚不存在的市场，已存在的条目不会被替换
func (r *Registry) Upsert(markets ...core.Market) int {
	createdAt := r.now().UnixMilli()

	r.mu.Lock()
	defer r.mu.Unlock()
	added := 0
	for _, m := range markets {
		if _, ok := r.markets[m.Address]; ok {
			continue
		}
		m.CreatedAt = createdAt
		r.markets[m.Address] = m
		added++
	}
	metrics.MarketsRegistered.Set(float64(len(r.markets)))
	return added
}

func (r *Registry) Has(address string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.markets[address]
	return ok
}

func (r *Registry) Get(address string) (core.Market, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markets[address]
	return m, ok
}

// MarketName 实现 store.MarketNamer
func (r *Registry) MarketName(address string) (string, bool) {
	m, ok := r.Get(address)
	return m.Name, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markets)
}

// List 按 CreatedAt、地址排序
func (r *Registry) List() []core.Market {
	r.mu.RLock()
	out := make([]core.Market, 0, len(r.markets))
	for _, m := range r.markets {
		out = append(out, m)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].Address < out[j].Address
	})
	return out
}
