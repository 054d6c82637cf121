package config

import (
	"time"

	"openbook-indexer/pkg/logger"
)

type LogConfig struct {
	Format   string `json:"format,default=console,options=console|json"` // 日志格式
	LogDir   string `json:"log_dir,optional"`                            // 日志目录，为空时只输出到 stdout
	Level    string `json:"level,default=info"`                          // debug / info / warn / error
	Compress bool   `json:"compress,optional"`                           // 是否压缩旧日志文件
}

func (c *LogConfig) ToLogOption() logger.LogOption {
	return logger.LogOption{
		Format:   c.Format,
		LogDir:   c.LogDir,
		Level:    c.Level,
		Compress: c.Compress,
	}
}

// LedgerConfig 链上数据源配置
type LedgerConfig struct {
	Source                 string `json:"source,default=rpc,options=rpc|geyser"` // rpc: JSON-RPC + websocket；geyser: Yellowstone gRPC
	RpcEndpoint            string `json:"rpc_endpoint,default=https://api.devnet.solana.com"`
	WsEndpoint             string `json:"ws_endpoint,default=wss://api.devnet.solana.com"`
	RequestTimeoutMs       int    `json:"request_timeout_ms,default=15000"`   // 单次 RPC 请求超时
	ResubscribeIntervalSec int    `json:"resubscribe_interval_sec,default=5"` // 订阅断开后重新订阅的间隔
	MarketDataSize         uint64 `json:"market_data_size,default=944"`       // 账户变更订阅的 dataSize 过滤
}

func (c *LedgerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

func (c *LedgerConfig) ResubscribeInterval() time.Duration {
	return time.Duration(c.ResubscribeIntervalSec) * time.Second
}

// GrpcConfig Yellowstone gRPC 客户端连接相关配置，仅 source=geyser 时使用
type GrpcConfig struct {
	Endpoint string `json:"endpoint,optional"` // gRPC 服务端地址
	XToken   string `json:"x_token,optional"`  // x-token 认证

	// 应用级逻辑心跳（ping）配置
	StreamPingIntervalSec int `json:"stream_ping_interval_sec,default=10"`

	// gRPC Keepalive 底层连接检测配置
	KeepalivePingIntervalSec int `json:"keepalive_ping_interval_sec,default=10"`
	KeepalivePingTimeoutSec  int `json:"keepalive_ping_timeout_sec,default=20"`

	// gRPC 窗口大小调优
	InitialWindowSize     int `json:"initial_window_size,default=1073741824"`
	InitialConnWindowSize int `json:"initial_conn_window_size,default=1073741824"`

	// 消息体大小限制
	MaxCallSendMsgSize int `json:"max_call_send_msg_size,default=67108864"`
	MaxCallRecvMsgSize int `json:"max_call_recv_msg_size,default=67108864"`

	ReconnectIntervalSec int `json:"reconnect_interval_sec,default=3"` // 流断开后重新订阅的间隔
	ConnectTimeoutSec    int `json:"connect_timeout_sec,default=10"`
	SendTimeoutSec       int `json:"send_timeout_sec,default=5"`
	// 超过该时长未收到任何更新则重连
	RecvIdleTimeoutSec int `json:"recv_idle_timeout_sec,default=60"`
}

type WorkerConfig struct {
	Concurrency int `json:"concurrency,default=16"` // 交易处理并发上限
}

type DecoderConfig struct {
	Structured bool   `json:"structured,default=true"` // 是否启用 Borsh 结构化解码
	TableFile  string `json:"table_file,optional"`     // 指令类型表覆盖文件（yaml）
}

type ApiConfig struct {
	Listen             string `json:"listen,default=:3000"`
	DefaultLimit       int    `json:"default_limit,default=100"`
	ShutdownTimeoutSec int    `json:"shutdown_timeout_sec,default=5"`
}

type SnapshotConfig struct {
	Enabled bool   `json:"enabled,default=true"`
	Dir     string `json:"dir,default=."`
}

type BackfillConfig struct {
	Enabled       bool `json:"enabled,optional"`
	BatchSize     int  `json:"batch_size,default=100"`      // 每次 getSignaturesForAddress 拉取条数（最大 1000）
	MaxSignatures int  `json:"max_signatures,default=1000"` // 回补签名总数上限
	Concurrency   int  `json:"concurrency,default=4"`       // 每批签名的并发处理数
}

// KafkaProducerConfig 表示 Kafka 生产者相关配置，Brokers 为空时不启用
type KafkaProducerConfig struct {
	Brokers       string `json:"brokers,optional"`         // 多个用英文逗号分隔
	BatchSize     int    `json:"batch_size,default=32768"` // 批处理大小（单位字节）
	LingerMs      int    `json:"linger_ms,default=5"`      // 批处理最大延迟（毫秒）
	Topic         string `json:"topic,default=openbook-trade-events"`
	Partitions    int    `json:"partitions,default=4"`
	SendTimeoutMs int    `json:"send_timeout_ms,default=5000"` // 单条事件等待 ack 的超时时间
}

// ArchiveConfig Postgres 归档的缓冲刷新策略
type ArchiveConfig struct {
	FlushIntervalMs int `json:"flush_interval_ms,default=1000"`
	BatchLimit      int `json:"batch_limit,default=500"`
}

// Config 是主配置结构体，用于驱动索引器服务
type Config struct {
	LogConf   LogConfig      `json:"logger"`
	ProgramID string         `json:"program_id,default=opnb2LAfJYbRMAHHvqjCwQxanZn7ReEHp1k81EohpZb"`
	Ledger    LedgerConfig   `json:"ledger"`
	Grpc      GrpcConfig     `json:"grpc,optional"`
	Workers   WorkerConfig   `json:"workers"`
	Decoder   DecoderConfig  `json:"decoder"`
	Api       ApiConfig      `json:"api"`
	Snapshot  SnapshotConfig `json:"snapshot"`
	Backfill  BackfillConfig `json:"backfill,optional"`

	RedisAddr         string              `json:"redis_addr,optional"`   // 为空时不启用签名进度
	PostgresDSN       string              `json:"postgres_dsn,optional"` // 为空时不启用归档
	KafkaProducerConf KafkaProducerConfig `json:"kafka_producer,optional"`
	Archive           ArchiveConfig       `json:"archive,optional"`
}

// ResubscribeInterval 订阅断开后重新订阅的间隔：geyser 使用 grpc.reconnect_interval_sec，其余使用 ledger 配置
func (c *Config) ResubscribeInterval() time.Duration {
	if c.Ledger.Source == "geyser" && c.Grpc.ReconnectIntervalSec > 0 {
		return time.Duration(c.Grpc.ReconnectIntervalSec) * time.Second
	}
	return c.Ledger.ResubscribeInterval()
}
