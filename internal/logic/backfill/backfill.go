// Package backfill 启动时按签名倒序回补程序的历史交易
package backfill

import (
	"context"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/mr"
	"github.com/zeromicro/go-zero/core/threading"

	"openbook-indexer/internal/config"
	"openbook-indexer/internal/ledger"
	"openbook-indexer/internal/logic/processor"
	"openbook-indexer/internal/logic/progress"
	"openbook-indexer/internal/types"
)

const (
	maxBatchSize = 1000 // getSignaturesForAddress 单次上限
	batchPause   = 100 * time.Millisecond
)

type JobHandler func(ctx context.Context, job processor.Job)

// Backfiller 实现 go-zero service.Service
type Backfiller struct {
	conn      ledger.Connection
	programID types.Pubkey
	handle    JobHandler
	conf      config.BackfillConfig
	pause     time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	logger logx.Logger
}

func New(conn ledger.Connection, programID types.Pubkey, handle JobHandler, conf config.BackfillConfig) *Backfiller {
	if conf.BatchSize <= 0 || conf.BatchSize > maxBatchSize {
		conf.BatchSize = 100
	}
	if conf.Concurrency <= 0 {
		conf.Concurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Backfiller{
		conn:      conn,
		programID: programID,
		handle:    handle,
		conf:      conf,
		pause:     batchPause,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		logger:    logx.WithContext(ctx).WithFields(logx.Field("service", "backfill")),
	}
}

func (b *Backfiller) Start() {
	threading.GoSafe(func() {
		defer close(b.done)
		if _, err := b.Run(b.ctx); err != nil {
			b.logger.Errorf("[Backfill] 回补中断，仅保留实时索引: %v", err)
		}
	})
}

func (b *Backfiller) Stop() {
	b.cancel()
	<-b.done
}

// Run 从最新签名向前翻页，直到历史结束或达到 MaxSignatures，返回已处理的签名数
func (b *Backfiller) Run(ctx context.Context) (int, error) {
	start := time.Now()
	b.logger.Infof("[Backfill] 开始回补: batch=%d, max=%d", b.conf.BatchSize, b.conf.MaxSignatures)

	processed := 0
	before := ""
	for {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		limit := b.conf.BatchSize
		if b.conf.MaxSignatures > 0 {
			limit = min(limit, b.conf.MaxSignatures-processed)
		}
		if limit <= 0 {
			break
		}

		sigs, err := b.conn.GetSignaturesForAddress(ctx, b.programID, before, limit)
		if err != nil {
			return processed, fmt.Errorf("get signatures before %q: %w", before, err)
		}
		if len(sigs) == 0 {
			b.logger.Infof("[Backfill] 已到达历史起点")
			break
		}

		b.processBatch(ctx, sigs)
		processed += len(sigs)
		before = sigs[len(sigs)-1].Signature

		elapsed := time.Since(start)
		b.logger.Infof("[Backfill] 进度: %d 笔交易 (%.1f tx/s)", processed, float64(processed)/max(elapsed.Seconds(), 0.001))

		if len(sigs) < limit {
			break
		}
		if b.pause > 0 {
			select {
			case <-ctx.Done():
				return processed, ctx.Err()
			case <-time.After(b.pause):
			}
		}
	}

	b.logger.Infof("[Backfill] 回补完成: %d 笔交易, 耗时 %v", processed, time.Since(start))
	return processed, nil
}

func (b *Backfiller) processBatch(ctx context.Context, sigs []ledger.SignatureInfo) {
	mr.ForEach(func(source chan<- ledger.SignatureInfo) {
		for _, s := range sigs {
			source <- s
		}
	}, func(s ledger.SignatureInfo) {
		b.handle(ctx, processor.Job{
			Signature: s.Signature,
			Slot:      s.Slot,
			Source:    progress.SourceBackfill,
		})
	}, mr.WithWorkers(b.conf.Concurrency))
}
