// Package processor 将一笔交易转换为若干 TradeEvent 并写入存储
package processor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"openbook-indexer/internal/consts"
	"openbook-indexer/internal/ledger"
	"openbook-indexer/internal/logic/core"
	"openbook-indexer/internal/logic/decoder"
	"openbook-indexer/internal/logic/progress"
	"openbook-indexer/internal/logic/store"
	"openbook-indexer/internal/logic/txadapter"
	"openbook-indexer/internal/metrics"
	"openbook-indexer/internal/types"
)

// Sink 事件的可选下游（Kafka、Postgres），写入失败只记日志
type Sink interface {
	Name() string
	Write(ctx context.Context, events []*core.TradeEvent) error
}

// MarketLookup 市场注册表中处理器用到的部分
type MarketLookup interface {
	Has(address string) bool
	MarketName(address string) (string, bool)
}

// Job 一个待处理的签名。Tx 非空时（gRPC 推送）跳过拉取。
type Job struct {
	Signature string
	Slot      uint64
	Tx        *ledger.Transaction
	Source    int16
}

type Processor struct {
	conn      ledger.Connection
	programID types.Pubkey
	markets   MarketLookup
	store     *store.TradeStore
	decoder   *decoder.Chain
	progress  *progress.ProgressManager
	sinks     []Sink

	lastSlot atomic.Uint64
	now      func() time.Time
	logger   logx.Logger
}

func New(
	conn ledger.Connection,
	programID types.Pubkey,
	markets MarketLookup,
	tradeStore *store.TradeStore,
	dec *decoder.Chain,
	pm *progress.ProgressManager,
	sinks ...Sink,
) *Processor {
	if dec == nil {
		dec = decoder.NewChain(nil, nil)
	}
	return &Processor{
		conn:      conn,
		programID: programID,
		markets:   markets,
		store:     tradeStore,
		decoder:   dec,
		progress:  pm,
		sinks:     sinks,
		now:       time.Now,
		logger:    logx.WithContext(context.Background()).WithFields(logx.Field("service", "processor")),
	}
}

// Process 处理日志订阅推送的签名
func (p *Processor) Process(ctx context.Context, signature string, slot uint64) {
	p.Handle(ctx, Job{Signature: signature, Slot: slot, Source: progress.SourceLive})
}

// Handle 判重、拉取交易并索引。任何失败只记日志，不重试。
func (p *Processor) Handle(ctx context.Context, job Job) {
	claimed := false
	defer func() {
		if r := recover(); r != nil {
			metrics.TransactionsProcessed.WithLabelValues("error").Inc()
			p.logger.Errorf("[Processor] 处理交易 panic: sig=%s, err=%v", job.Signature, r)
			if claimed {
				p.progress.MarkSigStatus(context.WithoutCancel(ctx), job.Signature, progress.SigUnknown)
			}
		}
	}()

	if !p.progress.ShouldProcess(ctx, job.Signature, job.Source) {
		metrics.TransactionsProcessed.WithLabelValues("duplicate").Inc()
		return
	}
	claimed = true

	tx := job.Tx
	if tx == nil {
		var err error
		tx, err = p.conn.GetTransaction(ctx, job.Signature)
		if err != nil {
			metrics.TransactionsProcessed.WithLabelValues("error").Inc()
			p.logger.Errorf("[Processor] 拉取交易失败: sig=%s, slot=%d, err=%v", job.Signature, job.Slot, err)
			p.progress.MarkSigStatus(ctx, job.Signature, progress.SigUnknown)
			return
		}
		if tx == nil {
			metrics.TransactionsProcessed.WithLabelValues("skipped").Inc()
			p.logger.Infof("[Processor] 交易不存在，跳过: sig=%s, slot=%d", job.Signature, job.Slot)
			p.progress.MarkSigStatus(ctx, job.Signature, progress.SigAbsent)
			return
		}
	}

	if _, err := p.ProcessTransaction(ctx, tx, job.Slot); err != nil {
		metrics.TransactionsProcessed.WithLabelValues("error").Inc()
		p.logger.Errorf("[Processor] 解析交易失败: sig=%s, err=%v", job.Signature, err)
		p.progress.MarkSigStatus(ctx, job.Signature, progress.SigUnknown)
		return
	}
	p.progress.MarkSigStatus(ctx, job.Signature, progress.SigProcessed)
}

// ProcessTransaction 为每条目标程序的顶层指令生成一个事件，一次性追加到存储后再交给各个 sink
func (p *Processor) ProcessTransaction(ctx context.Context, tx *ledger.Transaction, slot uint64) ([]*core.TradeEvent, error) {
	start := time.Now()
	defer func() {
		metrics.ProcessDuration.Observe(time.Since(start).Seconds())
	}()

	adapted, err := txadapter.AdaptTx(tx, slot)
	if err != nil {
		return nil, fmt.Errorf("adapt tx: %w", err)
	}

	ixs := adapted.TopLevelFor(p.programID)
	if len(ixs) == 0 {
		metrics.TransactionsProcessed.WithLabelValues("no_events").Inc()
		return nil, nil
	}

	blockTime := p.now().UnixMilli()
	if adapted.TxCtx.HasTime {
		blockTime = adapted.TxCtx.BlockTime * 1000
	}

	logNames := decoder.InstructionNamesFromLogs(adapted.LogMessages, p.programID.String())
	events := make([]*core.TradeEvent, 0, len(ixs))
	for i, ix := range ixs {
		var logName string
		if i < len(logNames) {
			logName = logNames[i]
		}
		events = append(events, p.buildEvent(adapted, ix, logName, blockTime))
	}

	p.store.Append(events...)
	p.observeSlot(adapted.TxCtx.Slot)
	metrics.TransactionsProcessed.WithLabelValues("indexed").Inc()
	for _, e := range events {
		metrics.EventsIndexed.WithLabelValues(e.Type, string(e.DecodeConfidence)).Inc()
		p.logger.Infof("[Processor] %-15s | %-12s | %s", e.Type, p.displayMarket(e.Market), types.ShortSig(e.Signature))
	}

	p.publish(ctx, events)
	return events, nil
}

func (p *Processor) buildEvent(tx *core.AdaptedTx, ix *core.AdaptedInstruction, logName string, blockTime int64) *core.TradeEvent {
	res := p.decoder.DecodeInstruction(ix.Data, logName)
	payload := res.Payload()
	if tx.Failed {
		// 执行失败的交易照常索引，打上标记供下游区分
		payload["failed"] = true
	}

	market := consts.UnknownMarket
	if first, ok := ix.FirstAccount(); ok {
		addr := first.String()
		if p.markets != nil && p.markets.Has(addr) {
			market = addr
		} else {
			// 首个账户不是已注册市场，保留原值便于排查
			payload["firstAccount"] = addr
		}
	}

	return &core.TradeEvent{
		Signature:        tx.Signature,
		Market:           market,
		Slot:             tx.TxCtx.Slot,
		BlockTime:        blockTime,
		Type:             res.Name,
		InstructionIndex: ix.IxIndex,
		Payload:          payload,
		DecodeConfidence: res.Confidence(),
	}
}

func (p *Processor) publish(ctx context.Context, events []*core.TradeEvent) {
	for _, sink := range p.sinks {
		if err := sink.Write(ctx, events); err != nil {
			metrics.SinkErrors.WithLabelValues(sink.Name()).Inc()
			p.logger.Errorf("[Processor] 写入 %s 失败: sig=%s, events=%d, err=%v",
				sink.Name(), types.ShortSig(events[0].Signature), len(events), err)
		}
	}
}

func (p *Processor) observeSlot(slot uint64) {
	for {
		cur := p.lastSlot.Load()
		if slot <= cur {
			return
		}
		if p.lastSlot.CompareAndSwap(cur, slot) {
			metrics.LastSlot.Set(float64(slot))
			return
		}
	}
}

// LastSlot 已处理交易中的最大 slot
func (p *Processor) LastSlot() uint64 {
	return p.lastSlot.Load()
}

func (p *Processor) displayMarket(addr string) string {
	if p.markets != nil {
		if name, ok := p.markets.MarketName(addr); ok {
			return name
		}
	}
	if len(addr) > 8 {
		return addr[:8]
	}
	return addr
}
