// Package mq 把索引到的事件发布到 Kafka
package mq

import (
	"context"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/zeromicro/go-zero/core/jsonx"
	"github.com/zeromicro/go-zero/core/logx"

	"openbook-indexer/internal/config"
	"openbook-indexer/internal/consts"
	"openbook-indexer/internal/logic/core"
	"openbook-indexer/internal/pkg/utils"
	"openbook-indexer/internal/types"
)

const runIDHeader = "run-id"

// Publisher 每个 TradeEvent 一条 JSON 消息，key 为市场地址
type Publisher struct {
	producer   messageProducer
	closer     func()
	topic      string
	partitions uint32
	runID      string
	timeout    time.Duration
	logger     logx.Logger
}

// NewPublisher 连接 Kafka 并创建 Publisher
func NewPublisher(cfg config.KafkaProducerConfig, runID string) (*Publisher, error) {
	producer, err := NewKafkaProducer(cfg, runID)
	if err != nil {
		return nil, err
	}
	p := newPublisher(producer, cfg, runID)
	p.closer = func() {
		if remaining := producer.Flush(5000); remaining > 0 {
			p.logger.Errorf("[Kafka] 关闭时仍有 %d 条消息未投递", remaining)
		}
		producer.Close()
	}
	return p, nil
}

func newPublisher(producer messageProducer, cfg config.KafkaProducerConfig, runID string) *Publisher {
	timeout := time.Duration(cfg.SendTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Publisher{
		producer:   producer,
		topic:      cfg.Topic,
		partitions: uint32(partitionCount(cfg)),
		runID:      runID,
		timeout:    timeout,
		logger:     logx.WithContext(context.Background()).WithFields(logx.Field("service", "kafka")),
	}
}

func (p *Publisher) Name() string {
	return "kafka"
}

// Write 发送并等待投递回执，部分失败时返回错误
func (p *Publisher) Write(ctx context.Context, events []*core.TradeEvent) error {
	if len(events) == 0 {
		return nil
	}
	jobs, err := p.buildJobs(events)
	if err != nil {
		return err
	}

	_, failed := SendKafkaJobs(ctx, p.producer, jobs, p.timeout)
	if len(failed) > 0 {
		return fmt.Errorf("kafka send failed: %d/%d, first: %w", len(failed), len(jobs), failed[0].Err)
	}
	return nil
}

func (p *Publisher) buildJobs(events []*core.TradeEvent) ([]*KafkaJob, error) {
	jobs := make([]*KafkaJob, 0, len(events))
	for _, e := range events {
		value, err := jsonx.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal event %s#%d: %w", e.Signature, e.InstructionIndex, err)
		}
		jobs = append(jobs, &KafkaJob{
			Topic:     p.topic,
			Partition: int32(utils.PartitionHashBytes(partitionSeed(e), p.partitions)),
			Key:       []byte(e.Market),
			Value:     value,
			Headers:   []kafka.Header{{Key: runIDHeader, Value: []byte(p.runID)}},
		})
	}
	return jobs, nil
}

// partitionSeed 同一市场的事件落在同一分区；未注册市场按签名分散
func partitionSeed(e *core.TradeEvent) []byte {
	if e.Market != consts.UnknownMarket {
		if pk, err := types.TryPubkeyFromBase58(e.Market); err == nil {
			return pk[:]
		}
	}
	if sig, err := types.SignatureFromBase58(e.Signature); err == nil {
		return sig[:]
	}
	return nil
}

func (p *Publisher) Close() {
	if p.closer != nil {
		p.closer()
	}
}
