// Package archive 将索引到的事件批量归档到 PostgreSQL
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/threading"

	"openbook-indexer/internal/config"
	"openbook-indexer/internal/logic/core"
	"openbook-indexer/internal/metrics"
)

// Archiver 缓冲事件并定时批量落库，实现 go-zero service.Service
type Archiver struct {
	store      *DBArchiveStore
	db         *sql.DB
	buffer     *eventBuffer
	interval   time.Duration
	batchLimit int
	logger     logx.Logger

	flushCh  chan struct{}
	started  atomic.Bool
	stopOnce sync.Once
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// Open 连接数据库并建表
func Open(dsn string, c config.ArchiveConfig) (*Archiver, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres failed: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres failed: %w", err)
	}

	store := NewDBArchiveStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	a := NewArchiver(store, c)
	a.db = db
	return a, nil
}

func NewArchiver(store *DBArchiveStore, c config.ArchiveConfig) *Archiver {
	interval := time.Duration(c.FlushIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Archiver{
		store:      store,
		buffer:     newEventBuffer(),
		interval:   interval,
		batchLimit: c.BatchLimit,
		logger:     logx.WithContext(ctx).WithFields(logx.Field("service", "archive")),
		flushCh:    make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

func (a *Archiver) Name() string {
	return "postgres"
}

// Write 事件进入缓冲区，达到批量上限时提前触发刷新
func (a *Archiver) Write(_ context.Context, events []*core.TradeEvent) error {
	if n := a.buffer.Add(events...); a.batchLimit > 0 && n >= a.batchLimit {
		select {
		case a.flushCh <- struct{}{}:
		default:
		}
	}
	return nil
}

// Start 启动后台 flush 协程，立即返回
func (a *Archiver) Start() {
	if a.started.CompareAndSwap(false, true) {
		threading.GoSafe(a.flushLoop)
	}
}

func (a *Archiver) flushLoop() {
	defer close(a.done)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.flush(a.ctx)
		case <-a.flushCh:
			a.flush(a.ctx)
		}
	}
}

func (a *Archiver) flush(ctx context.Context) {
	events := a.buffer.Flush()
	if len(events) == 0 {
		return
	}
	if err := a.store.BatchInsertEvents(ctx, events, a.batchLimit); err != nil {
		// 打日志即可，buffer 已清空
		metrics.SinkErrors.WithLabelValues(a.Name()).Inc()
		a.logger.Errorf("[Archive] 批量写入失败, 丢弃 %d 条事件: %v", len(events), err)
		return
	}
	a.logger.Debugf("[Archive] 批量写入 %d 条事件", len(events))
}

// Stop 停止 flush 协程，最后落库一次剩余事件并关闭连接。可重复调用。
func (a *Archiver) Stop() {
	a.stopOnce.Do(func() {
		a.cancel()
		if a.started.Load() {
			<-a.done
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.flush(ctx)
		if a.db != nil {
			_ = a.db.Close()
		}
	})
}
