// Package watcher 订阅程序日志与市场账户变更，把签名调度到有界的处理协程池
package watcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/threading"

	"openbook-indexer/internal/ledger"
	"openbook-indexer/internal/logic/core"
	"openbook-indexer/internal/logic/processor"
	"openbook-indexer/internal/logic/progress"
	"openbook-indexer/internal/metrics"
	"openbook-indexer/internal/types"
)

const defaultConcurrency = 16

// MarketSource 注册表中监听器用到的部分
type MarketSource interface {
	Load(ctx context.Context) (int, error)
	Get(address string) (core.Market, bool)
}

// JobHandler 处理一个签名，通常是 processor.Processor.Handle
type JobHandler func(ctx context.Context, job processor.Job)

type Options struct {
	Concurrency         int
	ResubscribeInterval time.Duration
	AccountFilter       ledger.AccountFilter
	// OnNewMarket 新市场首次被发现时回调，每个市场每次运行最多一次
	OnNewMarket func(core.Market)
}

// Watcher 实现 go-zero service.Service
type Watcher struct {
	conn      ledger.Connection
	programID types.Pubkey
	markets   MarketSource
	handle    JobHandler
	opts      Options

	runner *threading.TaskRunner

	logSub     *ledger.Subscription[ledger.LogNotification]
	accountSub *ledger.Subscription[ledger.AccountNotification]

	announceMu sync.Mutex
	announced  map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger logx.Logger
}

func New(conn ledger.Connection, programID types.Pubkey, markets MarketSource, handle JobHandler, opts Options) *Watcher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.ResubscribeInterval <= 0 {
		opts.ResubscribeInterval = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		conn:      conn,
		programID: programID,
		markets:   markets,
		handle:    handle,
		opts:      opts,
		runner:    threading.NewTaskRunner(opts.Concurrency),
		announced: make(map[string]struct{}),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logx.WithContext(ctx).WithFields(logx.Field("service", "watcher")),
	}
}

// Open 建立两路订阅。启动阶段失败直接返回错误。
func (w *Watcher) Open(ctx context.Context) error {
	logSub, err := w.conn.SubscribeLogs(ctx, w.programID)
	if err != nil {
		return fmt.Errorf("subscribe logs: %w", err)
	}
	accountSub, err := w.conn.SubscribeAccountChanges(ctx, w.programID, w.opts.AccountFilter)
	if err != nil {
		_ = logSub.Unsubscribe()
		return fmt.Errorf("subscribe account changes: %w", err)
	}
	w.logSub, w.accountSub = logSub, accountSub
	w.logger.Infof("[Watcher] 订阅成功: logs=%d, accounts=%d, 并发上限=%d", logSub.ID, accountSub.ID, w.opts.Concurrency)
	return nil
}

// Start 启动读取协程后立即返回
func (w *Watcher) Start() {
	if w.logSub == nil || w.accountSub == nil {
		w.logger.Errorf("[Watcher] 未调用 Open，不启动")
		return
	}

	w.wg.Add(2)
	threading.GoSafe(func() {
		defer w.wg.Done()
		watchStream(w, "logs", w.logSub, func(ctx context.Context) (*ledger.Subscription[ledger.LogNotification], error) {
			return w.conn.SubscribeLogs(ctx, w.programID)
		}, w.onLog)
	})
	threading.GoSafe(func() {
		defer w.wg.Done()
		watchStream(w, "accounts", w.accountSub, func(ctx context.Context) (*ledger.Subscription[ledger.AccountNotification], error) {
			return w.conn.SubscribeAccountChanges(ctx, w.programID, w.opts.AccountFilter)
		}, w.onAccount)
	})
}

// Stop 停止接收并取消订阅，已调度的处理任务不等待
func (w *Watcher) Stop() {
	w.cancel()
	w.wg.Wait()
	w.logger.Infof("[Watcher] 已停止")
}

// watchStream 消费一路订阅；流结束且未停止时，间隔 ResubscribeInterval 重新订阅
func watchStream[T any](
	w *Watcher,
	name string,
	sub *ledger.Subscription[T],
	subscribe func(ctx context.Context) (*ledger.Subscription[T], error),
	handle func(T),
) {
	for sub != nil {
		consume(w.ctx, sub, handle)
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Errorf("[Watcher] 取消 %s 订阅失败: %v", name, err)
		}
		if w.ctx.Err() != nil {
			return
		}

		w.logger.Errorf("[Watcher] %s 订阅已断开, %v 后重新订阅", name, w.opts.ResubscribeInterval)
		sub = resubscribe(w, name, subscribe)
	}
}

func consume[T any](ctx context.Context, sub *ledger.Subscription[T], handle func(T)) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-sub.Notifications:
			if !ok {
				return
			}
			handle(n)
		}
	}
}

// resubscribe 直到成功或停止；停止时返回 nil
func resubscribe[T any](w *Watcher, name string, subscribe func(ctx context.Context) (*ledger.Subscription[T], error)) *ledger.Subscription[T] {
	ticker := time.NewTicker(w.opts.ResubscribeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return nil
		case <-ticker.C:
		}
		sub, err := subscribe(w.ctx)
		if err != nil {
			w.logger.Errorf("[Watcher] 重新订阅 %s 失败: %v", name, err)
			continue
		}
		metrics.Resubscribes.WithLabelValues(name).Inc()
		w.logger.Infof("[Watcher] 重新订阅 %s 成功: id=%d", name, sub.ID)
		return sub
	}
}

// onLog 调度到协程池，池满时阻塞读取
func (w *Watcher) onLog(n ledger.LogNotification) {
	job := processor.Job{
		Signature: n.Signature,
		Slot:      n.Slot,
		Tx:        n.Transaction,
		Source:    progress.SourceLive,
	}
	w.runner.Schedule(func() {
		w.handle(w.ctx, job)
	})
}

func (w *Watcher) onAccount(n ledger.AccountNotification) {
	addr := n.Address.String()
	if w.isAnnounced(addr) {
		return
	}
	if _, ok := w.markets.Get(addr); ok {
		return
	}
	w.runner.Schedule(func() {
		w.detectMarket(addr)
	})
}

// detectMarket 重新加载注册表；找到该地址时宣告一次新市场，找不到则等待下一次变更
func (w *Watcher) detectMarket(addr string) {
	if _, err := w.markets.Load(w.ctx); err != nil {
		w.logger.Errorf("[Watcher] 新账户 %s 触发的市场重载失败: %v", addr, err)
		return
	}
	m, ok := w.markets.Get(addr)
	if !ok {
		w.logger.Debugf("[Watcher] 账户 %s 不是可解析的市场", addr)
		return
	}
	if !w.markAnnounced(addr) {
		return
	}

	metrics.NewMarketsDetected.Inc()
	w.logger.Infof("[Watcher] 发现新市场: %s (%s)", m.Name, m.Address)
	if w.opts.OnNewMarket != nil {
		w.opts.OnNewMarket(m)
	}
}

func (w *Watcher) isAnnounced(addr string) bool {
	w.announceMu.Lock()
	defer w.announceMu.Unlock()
	_, ok := w.announced[addr]
	return ok
}

// markAnnounced 首次标记返回 true
func (w *Watcher) markAnnounced(addr string) bool {
	w.announceMu.Lock()
	defer w.announceMu.Unlock()
	if _, ok := w.announced[addr]; ok {
		return false
	}
	w.announced[addr] = struct{}{}
	return true
}
