// Package ledgertest 提供内存版 ledger.Connection，供各业务包单测使用
package ledgertest

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"openbook-indexer/internal/ledger"
	"openbook-indexer/internal/types"
)

type Fake struct {
	mu sync.Mutex

	Slot         uint64
	transactions map[string]*ledger.Transaction
	txErrors     map[string]error
	accounts     []ledger.ProgramAccount
	accountsErr  error
	signatures   []ledger.SignatureInfo // 按时间倒序

	// ScanHook 在 GetProgramAccounts 返回前调用，可用于制造慢扫描
	ScanHook func()

	scanCalls   int
	txCalls     int
	logSubs     []*fakeSub[ledger.LogNotification]
	accountSubs []*fakeSub[ledger.AccountNotification]
	nextID      uint64
	closed      bool
}

var _ ledger.Connection = (*Fake)(nil)

type fakeSub[T any] struct {
	ch           chan T
	once         sync.Once
	unsubscribed bool
}

func (s *fakeSub[T]) end() {
	s.once.Do(func() { close(s.ch) })
}

func New() *Fake {
	return &Fake{
		transactions: make(map[string]*ledger.Transaction),
		txErrors:     make(map[string]error),
	}
}

func (f *Fake) AddTransaction(tx *ledger.Transaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transactions[tx.Signature] = tx
}

func (f *Fake) FailTransaction(signature string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txErrors[signature] = err
}

func (f *Fake) SetProgramAccounts(accounts []ledger.ProgramAccount, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts = accounts
	f.accountsErr = err
}

func (f *Fake) SetSignatures(sigs []ledger.SignatureInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signatures = sigs
}

func (f *Fake) ScanCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scanCalls
}

func (f *Fake) TxCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.txCalls
}

func (f *Fake) LogSubscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.logSubs)
}

func (f *Fake) AccountSubscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.accountSubs)
}

// PushLog 向最近一次日志订阅推送通知，调用前必须已有订阅
func (f *Fake) PushLog(n ledger.LogNotification) {
	f.mu.Lock()
	sub := f.logSubs[len(f.logSubs)-1]
	f.mu.Unlock()
	sub.ch <- n
}

func (f *Fake) PushAccount(n ledger.AccountNotification) {
	f.mu.Lock()
	sub := f.accountSubs[len(f.accountSubs)-1]
	f.mu.Unlock()
	sub.ch <- n
}

// EndLogs 模拟日志订阅断开
func (f *Fake) EndLogs() {
	f.mu.Lock()
	sub := f.logSubs[len(f.logSubs)-1]
	f.mu.Unlock()
	sub.end()
}

// AllUnsubscribed 所有订阅是否都已取消
func (f *Fake) AllUnsubscribed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.logSubs {
		if !s.unsubscribed {
			return false
		}
	}
	for _, s := range f.accountSubs {
		if !s.unsubscribed {
			return false
		}
	}
	return true
}

func (f *Fake) SubscribeLogs(_ context.Context, _ types.Pubkey) (*ledger.Subscription[ledger.LogNotification], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, errors.New("connection closed")
	}
	f.nextID++
	sub := &fakeSub[ledger.LogNotification]{ch: make(chan ledger.LogNotification, 64)}
	f.logSubs = append(f.logSubs, sub)
	return ledger.NewSubscription[ledger.LogNotification](f.nextID, sub.ch, func() error {
		f.mu.Lock()
		sub.unsubscribed = true
		f.mu.Unlock()
		sub.end()
		return nil
	}), nil
}

func (f *Fake) SubscribeAccountChanges(_ context.Context, _ types.Pubkey, _ ledger.AccountFilter) (*ledger.Subscription[ledger.AccountNotification], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, errors.New("connection closed")
	}
	f.nextID++
	sub := &fakeSub[ledger.AccountNotification]{ch: make(chan ledger.AccountNotification, 64)}
	f.accountSubs = append(f.accountSubs, sub)
	return ledger.NewSubscription[ledger.AccountNotification](f.nextID, sub.ch, func() error {
		f.mu.Lock()
		sub.unsubscribed = true
		f.mu.Unlock()
		sub.end()
		return nil
	}), nil
}

func (f *Fake) GetTransaction(_ context.Context, signature string) (*ledger.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txCalls++
	if err, ok := f.txErrors[signature]; ok {
		return nil, err
	}
	tx, ok := f.transactions[signature]
	if !ok {
		return nil, nil
	}
	return tx, nil
}

func (f *Fake) GetProgramAccounts(_ context.Context, _ types.Pubkey, filter ledger.AccountFilter) ([]ledger.ProgramAccount, error) {
	f.mu.Lock()
	f.scanCalls++
	hook := f.ScanHook
	accounts, err := f.accounts, f.accountsErr
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}

	var out []ledger.ProgramAccount
	for _, acc := range accounts {
		if filter.DataSize > 0 && uint64(len(acc.Data)) != filter.DataSize {
			continue
		}
		if len(filter.MemcmpBytes) > 0 {
			end := filter.MemcmpOffset + uint64(len(filter.MemcmpBytes))
			if uint64(len(acc.Data)) < end || !bytes.Equal(acc.Data[filter.MemcmpOffset:end], filter.MemcmpBytes) {
				continue
			}
		}
		out = append(out, acc)
	}
	return out, nil
}

func (f *Fake) GetSignaturesForAddress(_ context.Context, _ types.Pubkey, before string, limit int) ([]ledger.SignatureInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	start := 0
	if before != "" {
		start = len(f.signatures)
		for i, s := range f.signatures {
			if s.Signature == before {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(f.signatures) {
		end = len(f.signatures)
	}
	if start >= end {
		return nil, nil
	}
	return append([]ledger.SignatureInfo(nil), f.signatures[start:end]...), nil
}

func (f *Fake) GetSlot(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Slot, nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
