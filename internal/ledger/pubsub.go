package ledger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/threading"

	"openbook-indexer/internal/consts"
	"openbook-indexer/internal/types"
)

const (
	wsHandshakeTimeout = 10 * time.Second
	wsWriteTimeout     = 5 * time.Second
	wsPingInterval     = 30 * time.Second
	wsNotifyBuffer     = 256
	subscribeRequestID = 1
)

// pubsubClient Solana websocket JSON-RPC 订阅客户端。
// 每个订阅独占一条 websocket 连接，连接断开时订阅的通知通道关闭，由调用方决定是否重新订阅。
type pubsubClient struct {
	endpoint string
	logger   logx.Logger
}

func newPubsubClient(endpoint string) *pubsubClient {
	return &pubsubClient{
		endpoint: endpoint,
		logger:   logx.WithContext(context.Background()).WithFields(logx.Field("service", "pubsub")),
	}
}

type wsRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type wsError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type wsMessage struct {
	ID     *uint64         `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *wsError        `json:"error"`
	Method string          `json:"method"`
	Params *struct {
		Subscription uint64          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params"`
}

type logsNotificationResult struct {
	Context struct {
		Slot uint64 `json:"slot"`
	} `json:"context"`
	Value struct {
		Signature string          `json:"signature"`
		Err       json.RawMessage `json:"err"`
	} `json:"value"`
}

type programNotificationResult struct {
	Context struct {
		Slot uint64 `json:"slot"`
	} `json:"context"`
	Value struct {
		Pubkey  string `json:"pubkey"`
		Account struct {
			Data []string `json:"data"` // [base64, "base64"]
		} `json:"account"`
	} `json:"value"`
}

// wsConn 单条订阅连接，写操作串行化
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

func (c *wsConn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) close() {
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
}

func (p *pubsubClient) dial(ctx context.Context) (*wsConn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	header := http.Header{}
	header.Set("Accept", "application/json")

	conn, _, err := dialer.DialContext(ctx, p.endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s failed: %w", p.endpoint, err)
	}
	c := &wsConn{conn: conn, done: make(chan struct{})}
	conn.SetPingHandler(func(data string) error {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	return c, nil
}

// subscribeWS 建立订阅并启动读循环。parse 返回 false 的通知会被丢弃。
func subscribeWS[T any](
	ctx context.Context,
	p *pubsubClient,
	method, unsubscribeMethod, notificationMethod string,
	params []any,
	parse func(raw json.RawMessage) (T, bool),
) (*Subscription[T], error) {
	c, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.writeJSON(wsRequest{JSONRPC: "2.0", ID: subscribeRequestID, Method: method, Params: params}); err != nil {
		c.close()
		return nil, fmt.Errorf("%s send failed: %w", method, err)
	}

	subID, err := awaitSubscriptionID(ctx, c)
	if err != nil {
		c.close()
		return nil, fmt.Errorf("%s failed: %w", method, err)
	}

	out := make(chan T, wsNotifyBuffer)
	threading.GoSafe(func() {
		defer close(out)
		defer c.close()
		for {
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				select {
				case <-c.done:
				default:
					p.logger.Errorf("[%s] 读取失败，订阅结束: id=%d, err=%v", method, subID, err)
				}
				return
			}

			var msg wsMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				p.logger.Errorf("[%s] 消息解析失败: %v", method, err)
				continue
			}
			if msg.Method != notificationMethod || msg.Params == nil {
				continue
			}
			v, ok := parse(msg.Params.Result)
			if !ok {
				continue
			}
			select {
			case out <- v:
			case <-c.done:
				return
			}
		}
	})
	threading.GoSafe(func() { pingLoop(c) })

	cancel := func() error {
		defer c.close()
		return c.writeJSON(wsRequest{JSONRPC: "2.0", ID: subscribeRequestID + 1, Method: unsubscribeMethod, Params: []any{subID}})
	}
	return NewSubscription[T](subID, out, cancel), nil
}

// awaitSubscriptionID 等待订阅请求的响应，返回服务端分配的订阅 id
func awaitSubscriptionID(ctx context.Context, c *wsConn) (uint64, error) {
	deadline := time.Now().Add(wsHandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetReadDeadline(deadline)
	defer func() { _ = c.conn.SetReadDeadline(time.Time{}) }()

	for {
		var msg wsMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return 0, err
		}
		if msg.ID == nil || *msg.ID != subscribeRequestID {
			continue
		}
		if msg.Error != nil {
			return 0, fmt.Errorf("rpc error %d: %s", msg.Error.Code, msg.Error.Message)
		}
		var id uint64
		if err := json.Unmarshal(msg.Result, &id); err != nil {
			return 0, fmt.Errorf("invalid subscription id: %w", err)
		}
		return id, nil
	}
}

func pingLoop(c *wsConn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(wsWriteTimeout))
			c.writeMu.Unlock()
			if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				logx.Debugf("[pubsub] ping 失败: %v", err)
			}
		}
	}
}

func (p *pubsubClient) subscribeLogs(ctx context.Context, programID types.Pubkey) (*Subscription[LogNotification], error) {
	params := []any{
		map[string]any{"mentions": []string{programID.String()}},
		map[string]any{"commitment": consts.CommitmentConfirmed},
	}
	return subscribeWS(ctx, p, "logsSubscribe", "logsUnsubscribe", "logsNotification", params,
		func(raw json.RawMessage) (LogNotification, bool) {
			var r logsNotificationResult
			if err := json.Unmarshal(raw, &r); err != nil || r.Value.Signature == "" {
				return LogNotification{}, false
			}
			failed := len(r.Value.Err) > 0 && string(r.Value.Err) != "null"
			return LogNotification{Signature: r.Value.Signature, Slot: r.Context.Slot, Failed: failed}, true
		})
}

func (p *pubsubClient) subscribeProgram(ctx context.Context, programID types.Pubkey, filter AccountFilter) (*Subscription[AccountNotification], error) {
	cfg := map[string]any{"encoding": "base64", "commitment": consts.CommitmentConfirmed}
	var filters []any
	if filter.DataSize > 0 {
		filters = append(filters, map[string]any{"dataSize": filter.DataSize})
	}
	if len(filter.MemcmpBytes) > 0 {
		filters = append(filters, map[string]any{"memcmp": map[string]any{
			"offset":   filter.MemcmpOffset,
			"bytes":    base64.StdEncoding.EncodeToString(filter.MemcmpBytes),
			"encoding": "base64",
		}})
	}
	if len(filters) > 0 {
		cfg["filters"] = filters
	}

	return subscribeWS(ctx, p, "programSubscribe", "programUnsubscribe", "programNotification", []any{programID.String(), cfg},
		func(raw json.RawMessage) (AccountNotification, bool) {
			var r programNotificationResult
			if err := json.Unmarshal(raw, &r); err != nil {
				return AccountNotification{}, false
			}
			addr, err := types.TryPubkeyFromBase58(r.Value.Pubkey)
			if err != nil {
				return AccountNotification{}, false
			}
			var data []byte
			if len(r.Value.Account.Data) > 0 {
				data, _ = base64.StdEncoding.DecodeString(r.Value.Account.Data[0])
			}
			return AccountNotification{Address: addr, Slot: r.Context.Slot, Data: data}, true
		})
}
