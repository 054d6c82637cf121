package ledger

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openbook-indexer/internal/types"
)

var testProgram = types.PubkeyFromBase58("opnb2LAfJYbRMAHHvqjCwQxanZn7ReEHp1k81EohpZb")

// newWSServer 启动一个模拟 Solana pubsub 的 websocket 服务。
// 收到订阅请求后回复订阅 id，并依次推送 notifications；收到的所有请求方法写入 methods。
func newWSServer(t *testing.T, notifications []string, methods chan<- string) *httptest.Server {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			var req wsRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			methods <- req.Method
			if strings.HasSuffix(req.Method, "Unsubscribe") {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","result":true,"id":2}`))
				continue
			}
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","result":42,"id":1}`))
			for _, n := range notifications {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(n))
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestPubsub_SubscribeLogs(t *testing.T) {
	methods := make(chan string, 8)
	srv := newWSServer(t, []string{
		`{"jsonrpc":"2.0","method":"logsNotification","params":{"subscription":42,"result":{"context":{"slot":100},"value":{"signature":"sigA","err":null,"logs":[]}}}}`,
		`{"jsonrpc":"2.0","method":"somethingElse","params":{"subscription":42,"result":{}}}`,
		`{"jsonrpc":"2.0","method":"logsNotification","params":{"subscription":42,"result":{"context":{"slot":101},"value":{"signature":"sigB","err":{"InstructionError":[0,"Custom"]},"logs":[]}}}}`,
	}, methods)

	p := newPubsubClient(wsURL(srv))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := p.subscribeLogs(ctx, testProgram)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), sub.ID)
	assert.Equal(t, "logsSubscribe", <-methods)

	first := <-sub.Notifications
	assert.Equal(t, "sigA", first.Signature)
	assert.Equal(t, uint64(100), first.Slot)
	assert.False(t, first.Failed)

	second := <-sub.Notifications
	assert.Equal(t, "sigB", second.Signature)
	assert.True(t, second.Failed)

	require.NoError(t, sub.Unsubscribe())
	select {
	case m := <-methods:
		assert.Equal(t, "logsUnsubscribe", m)
	case <-time.After(2 * time.Second):
		t.Fatal("unsubscribe request not received")
	}

	// 取消后通道关闭
	for range sub.Notifications {
	}
	assert.NoError(t, sub.Unsubscribe())
}

func TestPubsub_SubscribeProgram(t *testing.T) {
	addr := types.PubkeyFromBase58("11111111111111111111111111111111")
	data := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
	methods := make(chan string, 8)
	srv := newWSServer(t, []string{
		`{"jsonrpc":"2.0","method":"programNotification","params":{"subscription":42,"result":{"context":{"slot":7},"value":{"pubkey":"` + addr.String() + `","account":{"data":["` + data + `","base64"]}}}}}`,
		`{"jsonrpc":"2.0","method":"programNotification","params":{"subscription":42,"result":{"context":{"slot":8},"value":{"pubkey":"not-a-key","account":{"data":[]}}}}}`,
	}, methods)

	p := newPubsubClient(wsURL(srv))
	sub, err := p.subscribeProgram(context.Background(), testProgram, AccountFilter{DataSize: 944})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	n := <-sub.Notifications
	assert.Equal(t, addr, n.Address)
	assert.Equal(t, uint64(7), n.Slot)
	assert.Equal(t, []byte{1, 2, 3}, n.Data)

	select {
	case extra := <-sub.Notifications:
		t.Fatalf("unexpected notification: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPubsub_StreamEndClosesChannel(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		var req wsRequest
		_ = conn.ReadJSON(&req)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","result":1,"id":1}`))
		_ = conn.Close()
	}))
	defer srv.Close()

	sub, err := newPubsubClient(wsURL(srv)).subscribeLogs(context.Background(), testProgram)
	require.NoError(t, err)

	select {
	case _, ok := <-sub.Notifications:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("notification channel not closed after server hangup")
	}
}

func TestPubsub_SubscribeError(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var req wsRequest
		_ = conn.ReadJSON(&req)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","error":{"code":-32602,"message":"Invalid params"},"id":1}`))
	}))
	defer srv.Close()

	_, err := newPubsubClient(wsURL(srv)).subscribeLogs(context.Background(), testProgram)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid params")
}
