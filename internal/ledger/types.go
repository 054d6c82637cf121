package ledger

import (
	"sync"

	"openbook-indexer/internal/types"
)

// LogNotification 程序日志通知：一笔提及目标程序的交易
type LogNotification struct {
	Signature string
	Slot      uint64
	Failed    bool

	// Transaction 数据源随通知一起推送的完整交易（Geyser），为 nil 时需要再通过 GetTransaction 拉取
	Transaction *Transaction
}

// AccountNotification 程序账户变更通知
type AccountNotification struct {
	Address types.Pubkey
	Slot    uint64
	Data    []byte
}

// AccountFilter 程序账户过滤条件，零值字段不参与过滤
type AccountFilter struct {
	DataSize     uint64
	MemcmpOffset uint64
	MemcmpBytes  []byte
}

type ProgramAccount struct {
	Address types.Pubkey
	Data    []byte
}

type SignatureInfo struct {
	Signature string
	Slot      uint64
	BlockTime *int64
	Failed    bool
}

// CompiledInstruction 交易中的一条编译后指令，账户与程序均以 accountKeys 下标表示
type CompiledInstruction struct {
	ProgramIDIndex int
	Accounts       []int
	Data           []byte
}

// InnerInstructions 某条主指令触发的 CPI 指令
type InnerInstructions struct {
	Index        int
	Instructions []CompiledInstruction
}

// Transaction 从链上取回的原始交易
type Transaction struct {
	Signature string
	Slot      uint64
	BlockTime *int64 // Unix 秒
	Failed    bool

	AccountKeys    [][]byte // message.accountKeys
	LoadedWritable [][]byte // Address Lookup Table 解析出的 writable 地址
	LoadedReadonly [][]byte // Address Lookup Table 解析出的 readonly 地址

	Instructions      []CompiledInstruction
	InnerInstructions []InnerInstructions
	LogMessages       []string
}

// Subscription 一个活跃的订阅。Notifications 在订阅结束（断线或取消）时关闭。
type Subscription[T any] struct {
	ID            uint64
	Notifications <-chan T

	once   sync.Once
	cancel func() error
	err    error
}

func NewSubscription[T any](id uint64, ch <-chan T, cancel func() error) *Subscription[T] {
	return &Subscription[T]{ID: id, Notifications: ch, cancel: cancel}
}

// Unsubscribe 取消订阅，可重复调用
func (s *Subscription[T]) Unsubscribe() error {
	s.once.Do(func() {
		if s.cancel != nil {
			s.err = s.cancel()
		}
	})
	return s.err
}
