package ledger

import (
	"context"
	"time"

	"openbook-indexer/internal/types"
)

// RPCConnection 使用 JSON-RPC 读取、websocket pubsub 订阅
type RPCConnection struct {
	*rpcReader
	pubsub *pubsubClient
}

var _ Connection = (*RPCConnection)(nil)

func NewRPCConnection(rpcEndpoint, wsEndpoint string, timeout time.Duration) *RPCConnection {
	return &RPCConnection{
		rpcReader: newRPCReader(rpcEndpoint, timeout),
		pubsub:    newPubsubClient(wsEndpoint),
	}
}

func (c *RPCConnection) SubscribeLogs(ctx context.Context, programID types.Pubkey) (*Subscription[LogNotification], error) {
	return c.pubsub.subscribeLogs(ctx, programID)
}

func (c *RPCConnection) SubscribeAccountChanges(ctx context.Context, programID types.Pubkey, filter AccountFilter) (*Subscription[AccountNotification], error) {
	return c.pubsub.subscribeProgram(ctx, programID, filter)
}

// Close 订阅连接由各自的 Subscription 负责释放
func (c *RPCConnection) Close() error {
	return nil
}
