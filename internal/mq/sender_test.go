package mq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openbook-indexer/internal/config"
	"openbook-indexer/internal/ledger/ledgertest"
	"openbook-indexer/internal/logic/core"
)

const testTopic = "test-topic"

// fakeProducer 按 mode 模拟投递回执
type fakeProducer struct {
	mu       sync.Mutex
	messages []*kafka.Message
	mode     string // ok / produce-error / delivery-error / silent
}

func (f *fakeProducer) Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error {
	f.mu.Lock()
	f.messages = append(f.messages, msg)
	f.mu.Unlock()

	switch f.mode {
	case "produce-error":
		return errors.New("queue full")
	case "delivery-error":
		m := *msg
		m.TopicPartition.Error = errors.New("broker down")
		deliveryChan <- &m
	case "silent":
	default:
		deliveryChan <- msg
	}
	return nil
}

func jobs(n int) []*KafkaJob {
	out := make([]*KafkaJob, n)
	for i := range out {
		out[i] = &KafkaJob{Topic: testTopic, Value: []byte{byte(i)}}
	}
	return out
}

func TestSendKafkaJobs(t *testing.T) {
	p := &fakeProducer{}
	ok, failed := SendKafkaJobs(context.Background(), p, jobs(10), time.Second)
	assert.Len(t, ok, 10)
	assert.Empty(t, failed)
	assert.Len(t, p.messages, 10)
}

func TestSendKafkaJobs_Empty(t *testing.T) {
	ok, failed := SendKafkaJobs(context.Background(), &fakeProducer{}, nil, time.Second)
	assert.Empty(t, ok)
	assert.Empty(t, failed)
}

func TestSendKafkaJobs_Failures(t *testing.T) {
	for _, mode := range []string{"produce-error", "delivery-error", "silent"} {
		t.Run(mode, func(t *testing.T) {
			ok, failed := SendKafkaJobs(context.Background(), &fakeProducer{mode: mode}, jobs(2), 20*time.Millisecond)
			assert.Empty(t, ok)
			assert.Len(t, failed, 2)
		})
	}
}

func TestSendKafkaJobs_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, failed := SendKafkaJobs(ctx, &fakeProducer{mode: "silent"}, jobs(1), time.Minute)
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0].Err, context.Canceled)
}

func TestPublisher_Write(t *testing.T) {
	p := &fakeProducer{}
	pub := newPublisher(p, config.KafkaProducerConfig{Topic: testTopic, Partitions: 4}, "run-1")
	market := ledgertest.Key("market").String()

	events := []*core.TradeEvent{
		{Signature: "sig1", Market: market, Type: "PlaceOrder", Payload: map[string]any{}},
		{Signature: "sig2", Market: market, Type: "CancelOrder", Payload: map[string]any{}},
		{Signature: "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW", Market: "unknown", Type: "Unknown(9)", Payload: map[string]any{}},
	}
	require.NoError(t, pub.Write(context.Background(), events))
	require.Len(t, p.messages, 3)

	byValue := make(map[string]*kafka.Message)
	for _, m := range p.messages {
		byValue[string(m.Key)+"/"+*m.TopicPartition.Topic] = m
		assert.Equal(t, testTopic, *m.TopicPartition.Topic)
		assert.Less(t, m.TopicPartition.Partition, int32(4))
		require.Len(t, m.Headers, 1)
		assert.Equal(t, runIDHeader, m.Headers[0].Key)
		assert.Equal(t, "run-1", string(m.Headers[0].Value))
	}
	assert.Contains(t, byValue, market+"/"+testTopic)
	assert.Contains(t, byValue, "unknown/"+testTopic)

	// 同一市场落在同一分区
	var partitions []int32
	for _, m := range p.messages {
		if string(m.Key) == market {
			partitions = append(partitions, m.TopicPartition.Partition)
		}
	}
	require.Len(t, partitions, 2)
	assert.Equal(t, partitions[0], partitions[1])
	assert.Equal(t, "kafka", pub.Name())
}

func TestPublisher_WriteReportsFailure(t *testing.T) {
	pub := newPublisher(&fakeProducer{mode: "delivery-error"}, config.KafkaProducerConfig{Topic: testTopic, SendTimeoutMs: 50}, "run")
	err := pub.Write(context.Background(), []*core.TradeEvent{{Signature: "s", Market: "unknown", Payload: map[string]any{}}})
	assert.Error(t, err)

	assert.NoError(t, pub.Write(context.Background(), nil))
}

func TestPublisher_JSONValue(t *testing.T) {
	p := &fakeProducer{}
	pub := newPublisher(p, config.KafkaProducerConfig{Topic: testTopic}, "run")
	require.NoError(t, pub.Write(context.Background(), []*core.TradeEvent{{
		Signature: "s", Market: "unknown", Slot: 7, BlockTime: 1000, Type: "Deposit",
		InstructionIndex: 2, Payload: map[string]any{"baseAmount": 5}, DecodeConfidence: core.ConfidenceStructured,
	}}))
	assert.JSONEq(t, `{"signature":"s","market":"unknown","slot":7,"blockTime":1000,"type":"Deposit",
		"instructionIndex":2,"payload":{"baseAmount":5},"decodeConfidence":"structured"}`, string(p.messages[0].Value))
}
