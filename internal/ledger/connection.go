package ledger

import (
	"context"
	"fmt"

	"openbook-indexer/internal/config"
	"openbook-indexer/internal/types"
)

// Connection 索引器对链上数据源的全部依赖
type Connection interface {
	SubscribeLogs(ctx context.Context, programID types.Pubkey) (*Subscription[LogNotification], error)
	SubscribeAccountChanges(ctx context.Context, programID types.Pubkey, filter AccountFilter) (*Subscription[AccountNotification], error)

	// GetTransaction 以 confirmed 级别拉取交易，交易不存在时返回 nil, nil
	GetTransaction(ctx context.Context, signature string) (*Transaction, error)
	GetProgramAccounts(ctx context.Context, programID types.Pubkey, filter AccountFilter) ([]ProgramAccount, error)
	// GetSignaturesForAddress 按时间倒序返回 before 之前的签名，before 为空时从最新开始
	GetSignaturesForAddress(ctx context.Context, address types.Pubkey, before string, limit int) ([]SignatureInfo, error)
	GetSlot(ctx context.Context) (uint64, error)

	Close() error
}

// NewConnection 根据 ledger.source 构造数据源
func NewConnection(c config.Config) (Connection, error) {
	switch c.Ledger.Source {
	case "geyser":
		return NewGeyserConnection(c.Grpc, c.Ledger.RpcEndpoint, c.Ledger.RequestTimeout())
	case "", "rpc":
		return NewRPCConnection(c.Ledger.RpcEndpoint, c.Ledger.WsEndpoint, c.Ledger.RequestTimeout()), nil
	default:
		return nil, fmt.Errorf("unsupported ledger source: %q", c.Ledger.Source)
	}
}
