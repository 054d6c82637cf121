package svc

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"openbook-indexer/internal/config"
	"openbook-indexer/internal/ledger"
	"openbook-indexer/internal/logic/archive"
	"openbook-indexer/internal/logic/decoder"
	"openbook-indexer/internal/logic/processor"
	"openbook-indexer/internal/logic/progress"
	"openbook-indexer/internal/logic/registry"
	"openbook-indexer/internal/logic/store"
	"openbook-indexer/internal/mq"
	"openbook-indexer/internal/types"
	"openbook-indexer/pkg/logger"
)

// ServiceContext 持有索引器运行期间共享的全部对象，由 main 构造并在退出时 Close
type ServiceContext struct {
	Config    config.Config
	RunID     string
	ProgramID types.Pubkey

	Conn      ledger.Connection
	Registry  *registry.Registry
	Store     *store.TradeStore
	Decoder   *decoder.Chain
	Progress  *progress.ProgressManager
	Processor *processor.Processor

	// 以下为可选组件，未配置时为 nil
	Redis     *redis.Client
	Archiver  *archive.Archiver
	Publisher *mq.Publisher
}

// NewServiceContext 创建服务上下文。可选组件初始化失败时直接返回错误。
func NewServiceContext(c config.Config) (*ServiceContext, error) {
	programID, err := types.TryPubkeyFromBase58(c.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("invalid program_id: %w", err)
	}

	sc := &ServiceContext{
		Config:    c,
		RunID:     uuid.NewString(),
		ProgramID: programID,
		Store:     store.NewTradeStore(),
	}

	// 1. 链上数据源
	sc.Conn, err = ledger.NewConnection(c)
	if err != nil {
		return nil, err
	}
	sc.Registry = registry.New(sc.Conn, programID)

	// 2. 解码链
	sc.Decoder, err = decoder.NewFromConfig(c.Decoder)
	if err != nil {
		sc.Close()
		return nil, err
	}

	// 3. 签名进度（可选）
	var redisStore *progress.RedisProgressStore
	if c.RedisAddr != "" {
		sc.Redis = redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		if err := sc.Redis.Ping(context.Background()).Err(); err != nil {
			sc.Close()
			return nil, fmt.Errorf("redis ping %s failed: %w", c.RedisAddr, err)
		}
		redisStore = progress.NewRedisProgressStore(sc.Redis)
		logger.Infof("[svc] 启用 Redis 签名进度: %s", c.RedisAddr)
	}
	sc.Progress = progress.NewProgressManager(redisStore)

	// 4. 事件下游（可选）
	var sinks []processor.Sink
	if c.PostgresDSN != "" {
		sc.Archiver, err = archive.Open(c.PostgresDSN, c.Archive)
		if err != nil {
			sc.Close()
			return nil, err
		}
		sinks = append(sinks, sc.Archiver)
		logger.Infof("[svc] 启用 Postgres 事件归档")
	}
	if c.KafkaProducerConf.Brokers != "" {
		sc.Publisher, err = mq.NewPublisher(c.KafkaProducerConf, sc.RunID)
		if err != nil {
			sc.Close()
			return nil, fmt.Errorf("kafka producer init failed: %w", err)
		}
		sinks = append(sinks, sc.Publisher)
		logger.Infof("[svc] 启用 Kafka 事件发布: topic=%s", c.KafkaProducerConf.Topic)
	}

	sc.Processor = processor.New(sc.Conn, programID, sc.Registry, sc.Store, sc.Decoder, sc.Progress, sinks...)

	logger.Infof("[svc] 服务上下文初始化完成: run=%s, source=%s, program=%s", sc.RunID, c.Ledger.Source, programID)
	return sc, nil
}

// Close 释放连接类资源
func (sc *ServiceContext) Close() {
	if sc.Archiver != nil {
		sc.Archiver.Stop()
	}
	if sc.Publisher != nil {
		sc.Publisher.Close()
	}
	if sc.Redis != nil {
		_ = sc.Redis.Close()
	}
	if sc.Conn != nil {
		if err := sc.Conn.Close(); err != nil {
			logger.Errorf("[svc] 关闭链上连接失败: %v", err)
		}
	}
}
