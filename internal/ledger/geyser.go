package ledger

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mr-tron/base58"
	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/threading"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"

	"openbook-indexer/internal/config"
	"openbook-indexer/internal/types"
)

// GeyserConnection 通过 Yellowstone gRPC 订阅交易与账户变更，读操作仍走 JSON-RPC
type GeyserConnection struct {
	*rpcReader

	conn   *grpc.ClientConn
	client pb.GeyserClient
	conf   config.GrpcConfig
	logger logx.Logger

	nextID atomic.Uint64
	mu     sync.Mutex
	closed bool
}

var _ Connection = (*GeyserConnection)(nil)

func NewGeyserConnection(grpcConf config.GrpcConfig, rpcEndpoint string, timeout time.Duration) (*GeyserConnection, error) {
	dialCtx, cancel := context.WithTimeout(context.Background(), time.Duration(grpcConf.ConnectTimeoutSec)*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(
		dialCtx,
		grpcConf.Endpoint,
		grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{InsecureSkipVerify: true})),
		grpc.WithInitialWindowSize(int32(grpcConf.InitialWindowSize)),
		grpc.WithInitialConnWindowSize(int32(grpcConf.InitialConnWindowSize)),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallSendMsgSize(grpcConf.MaxCallSendMsgSize),
			grpc.MaxCallRecvMsgSize(grpcConf.MaxCallRecvMsgSize),
		),
		grpc.WithBlock(),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                time.Duration(grpcConf.KeepalivePingIntervalSec) * time.Second,
			Timeout:             time.Duration(grpcConf.KeepalivePingTimeoutSec) * time.Second,
			PermitWithoutStream: true,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect geyser %s: %w", grpcConf.Endpoint, err)
	}

	return &GeyserConnection{
		rpcReader: newRPCReader(rpcEndpoint, timeout),
		conn:      conn,
		client:    pb.NewGeyserClient(conn),
		conf:      grpcConf,
		logger:    logx.WithContext(context.Background()).WithFields(logx.Field("service", "geyser")),
	}, nil
}

func (g *GeyserConnection) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	return g.conn.Close()
}

func (g *GeyserConnection) SubscribeLogs(ctx context.Context, programID types.Pubkey) (*Subscription[LogNotification], error) {
	req := buildTransactionRequest(programID)
	return openGeyserStream(ctx, g, req, func(u *pb.SubscribeUpdate) (LogNotification, bool) {
		t, ok := u.GetUpdateOneof().(*pb.SubscribeUpdate_Transaction)
		if !ok || t.Transaction == nil || t.Transaction.Transaction == nil {
			return LogNotification{}, false
		}
		tx, err := convertGeyserTx(t.Transaction.Slot, t.Transaction.Transaction)
		if err != nil {
			g.logger.Errorf("[geyser] 交易转换失败: slot=%d, err=%v", t.Transaction.Slot, err)
			return LogNotification{}, false
		}
		return LogNotification{Signature: tx.Signature, Slot: tx.Slot, Failed: tx.Failed, Transaction: tx}, true
	})
}

func (g *GeyserConnection) SubscribeAccountChanges(ctx context.Context, programID types.Pubkey, filter AccountFilter) (*Subscription[AccountNotification], error) {
	req := buildAccountRequest(programID, filter)
	return openGeyserStream(ctx, g, req, func(u *pb.SubscribeUpdate) (AccountNotification, bool) {
		a, ok := u.GetUpdateOneof().(*pb.SubscribeUpdate_Account)
		if !ok || a.Account == nil || a.Account.Account == nil {
			return AccountNotification{}, false
		}
		addr, err := types.PubkeyFromBytes(a.Account.Account.Pubkey)
		if err != nil {
			return AccountNotification{}, false
		}
		return AccountNotification{Address: addr, Slot: a.Account.Slot, Data: a.Account.Account.Data}, true
	})
}

func buildTransactionRequest(programID types.Pubkey) *pb.SubscribeRequest {
	commitment := pb.CommitmentLevel_CONFIRMED
	return &pb.SubscribeRequest{
		Transactions: map[string]*pb.SubscribeRequestFilterTransactions{
			"program": {
				Vote:           boolPtr(false),
				AccountInclude: []string{programID.String()},
			},
		},
		Commitment: &commitment,
	}
}

func buildAccountRequest(programID types.Pubkey, filter AccountFilter) *pb.SubscribeRequest {
	var filters []*pb.SubscribeRequestFilterAccountsFilter
	if filter.DataSize > 0 {
		filters = append(filters, &pb.SubscribeRequestFilterAccountsFilter{
			Filter: &pb.SubscribeRequestFilterAccountsFilter_Datasize{Datasize: filter.DataSize},
		})
	}
	if len(filter.MemcmpBytes) > 0 {
		filters = append(filters, &pb.SubscribeRequestFilterAccountsFilter{
			Filter: &pb.SubscribeRequestFilterAccountsFilter_Memcmp{
				Memcmp: &pb.SubscribeRequestFilterAccountsFilterMemcmp{
					Offset: filter.MemcmpOffset,
					Data:   &pb.SubscribeRequestFilterAccountsFilterMemcmp_Bytes{Bytes: filter.MemcmpBytes},
				},
			},
		})
	}
	commitment := pb.CommitmentLevel_CONFIRMED
	return &pb.SubscribeRequest{
		Accounts: map[string]*pb.SubscribeRequestFilterAccounts{
			"program": {
				Owner:   []string{programID.String()},
				Filters: filters,
			},
		},
		Commitment: &commitment,
	}
}

// openGeyserStream 打开一条订阅流。流出错、EOF 或超过空闲阈值未收到任何更新时结束，通知通道随之关闭。
func openGeyserStream[T any](
	ctx context.Context,
	g *GeyserConnection,
	req *pb.SubscribeRequest,
	convert func(u *pb.SubscribeUpdate) (T, bool),
) (*Subscription[T], error) {
	streamCtx, cancel := context.WithCancel(context.Background())
	metaCtx := metadata.NewOutgoingContext(streamCtx, metadata.New(map[string]string{"x-token": g.conf.XToken}))

	stream, err := g.client.Subscribe(metaCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("geyser subscribe failed: %w", err)
	}
	if err := sendWithTimeout(ctx, stream.Send, req, time.Duration(g.conf.SendTimeoutSec)*time.Second); err != nil {
		cancel()
		return nil, fmt.Errorf("geyser send request failed: %w", err)
	}

	id := g.nextID.Add(1)
	out := make(chan T, wsNotifyBuffer)
	var lastRecv atomic.Int64
	lastRecv.Store(time.Now().UnixNano())

	threading.GoSafe(func() { geyserPingLoop(streamCtx, g, stream, &lastRecv, cancel) })
	threading.GoSafe(func() {
		defer close(out)
		defer cancel()
		for {
			update, err := stream.Recv()
			if err != nil {
				if streamCtx.Err() != nil {
					return
				}
				if errors.Is(err, io.EOF) {
					g.logger.Infof("[geyser] 服务端关闭流 (EOF): id=%d", id)
				} else {
					g.logger.Errorf("[geyser] 流错误: id=%d, err=%v", id, err)
				}
				return
			}
			lastRecv.Store(time.Now().UnixNano())

			v, ok := convert(update)
			if !ok {
				continue
			}
			select {
			case out <- v:
			case <-streamCtx.Done():
				return
			}
		}
	})

	return NewSubscription[T](id, out, func() error {
		cancel()
		return nil
	}), nil
}

// geyserPingLoop 应用层心跳，同时负责空闲超时检测
func geyserPingLoop(ctx context.Context, g *GeyserConnection, stream pb.Geyser_SubscribeClient, lastRecv *atomic.Int64, cancel context.CancelFunc) {
	interval := time.Duration(g.conf.StreamPingIntervalSec) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	idle := time.Duration(g.conf.RecvIdleTimeoutSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ping := &pb.SubscribeRequest{Ping: &pb.SubscribeRequestPing{Id: 1}}
			if err := sendWithTimeout(ctx, stream.Send, ping, time.Duration(g.conf.SendTimeoutSec)*time.Second); err != nil {
				g.logger.Errorf("[geyser] ping 失败: %v", err)
			}
			if idle > 0 && time.Since(time.Unix(0, lastRecv.Load())) > idle {
				g.logger.Errorf("[geyser] %v 未收到任何更新，关闭订阅流", idle)
				cancel()
				return
			}
		}
	}
}

// sendWithTimeout 带超时的 Send
func sendWithTimeout[T any](ctx context.Context, sendFunc func(T) error, req T, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- sendFunc(req)
	}()

	select {
	case <-timeoutCtx.Done():
		return timeoutCtx.Err()
	case err := <-done:
		return err
	}
}

// convertGeyserTx 将 gRPC 推送的交易转换为内部结构
func convertGeyserTx(slot uint64, info *pb.SubscribeUpdateTransactionInfo) (*Transaction, error) {
	if info.Transaction == nil || info.Transaction.Message == nil {
		return nil, errors.New("missing transaction message")
	}
	if len(info.Signature) == 0 {
		return nil, errors.New("missing signature")
	}
	msg := info.Transaction.Message

	tx := &Transaction{
		Signature:    base58.Encode(info.Signature),
		Slot:         slot,
		AccountKeys:  msg.AccountKeys,
		Instructions: make([]CompiledInstruction, 0, len(msg.Instructions)),
	}
	for _, ix := range msg.Instructions {
		tx.Instructions = append(tx.Instructions, CompiledInstruction{
			ProgramIDIndex: int(ix.ProgramIdIndex),
			Accounts:       bytesToIndexes(ix.Accounts),
			Data:           ix.Data,
		})
	}

	if meta := info.Meta; meta != nil {
		tx.Failed = meta.Err != nil
		tx.LogMessages = meta.LogMessages
		tx.LoadedWritable = meta.LoadedWritableAddresses
		tx.LoadedReadonly = meta.LoadedReadonlyAddresses
		for _, inner := range meta.InnerInstructions {
			group := InnerInstructions{Index: int(inner.Index)}
			for _, ix := range inner.Instructions {
				group.Instructions = append(group.Instructions, CompiledInstruction{
					ProgramIDIndex: int(ix.ProgramIdIndex),
					Accounts:       bytesToIndexes(ix.Accounts),
					Data:           ix.Data,
				})
			}
			tx.InnerInstructions = append(tx.InnerInstructions, group)
		}
	}
	return tx, nil
}

func bytesToIndexes(b []byte) []int {
	out := make([]int, len(b))
	for i, v := range b {
		out[i] = int(v)
	}
	return out
}

func boolPtr(b bool) *bool {
	return &b
}
