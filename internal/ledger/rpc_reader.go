package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/blocto/solana-go-sdk/client"
	"github.com/blocto/solana-go-sdk/rpc"
	"github.com/mr-tron/base58"

	"openbook-indexer/internal/consts"
	"openbook-indexer/internal/types"
)

// readCommitment 所有链上读取使用的确认级别
var readCommitment = rpc.Commitment(consts.CommitmentConfirmed)

// rpcReader 基于 JSON-RPC 的只读查询，RPC 与 Geyser 两种连接共用
type rpcReader struct {
	client  *client.Client
	timeout time.Duration
}

func newRPCReader(endpoint string, timeout time.Duration) *rpcReader {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &rpcReader{
		client:  client.NewClient(endpoint),
		timeout: timeout,
	}
}

func (r *rpcReader) GetTransaction(ctx context.Context, signature string) (*Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.client.GetTransactionWithConfig(ctx, signature, client.GetTransactionConfig{
		Commitment: readCommitment,
	})
	if err != nil {
		return nil, fmt.Errorf("getTransaction %s failed: %w", types.ShortSig(signature), err)
	}
	if tx == nil {
		return nil, nil
	}
	return convertClientTx(signature, tx), nil
}

// convertClientTx 将 SDK 返回的交易转换为内部结构
func convertClientTx(signature string, tx *client.Transaction) *Transaction {
	msg := tx.Transaction.Message

	out := &Transaction{
		Signature:    signature,
		Slot:         tx.Slot,
		BlockTime:    tx.BlockTime,
		AccountKeys:  make([][]byte, 0, len(msg.Accounts)),
		Instructions: make([]CompiledInstruction, 0, len(msg.Instructions)),
	}
	for _, acc := range msg.Accounts {
		out.AccountKeys = append(out.AccountKeys, acc.Bytes())
	}
	for _, ix := range msg.Instructions {
		out.Instructions = append(out.Instructions, CompiledInstruction{
			ProgramIDIndex: ix.ProgramIDIndex,
			Accounts:       ix.Accounts,
			Data:           ix.Data,
		})
	}

	if meta := tx.Meta; meta != nil {
		out.Failed = meta.Err != nil
		out.LogMessages = meta.LogMessages
		out.LoadedWritable = decodeBase58List(meta.LoadedAddresses.Writable)
		out.LoadedReadonly = decodeBase58List(meta.LoadedAddresses.Readonly)
		for _, inner := range meta.InnerInstructions {
			group := InnerInstructions{Index: int(inner.Index)}
			for _, ix := range inner.Instructions {
				group.Instructions = append(group.Instructions, CompiledInstruction{
					ProgramIDIndex: ix.ProgramIDIndex,
					Accounts:       ix.Accounts,
					Data:           ix.Data,
				})
			}
			out.InnerInstructions = append(out.InnerInstructions, group)
		}
	}
	return out
}

// decodeBase58List 非法地址保留为空切片，由 txadapter 统一报错
func decodeBase58List(list []string) [][]byte {
	if len(list) == 0 {
		return nil
	}
	out := make([][]byte, len(list))
	for i, s := range list {
		b, err := base58.Decode(s)
		if err == nil {
			out[i] = b
		}
	}
	return out
}

func (r *rpcReader) GetProgramAccounts(ctx context.Context, programID types.Pubkey, filter AccountFilter) ([]ProgramAccount, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var filters []rpc.GetProgramAccountsConfigFilter
	if len(filter.MemcmpBytes) > 0 {
		filters = append(filters, rpc.GetProgramAccountsConfigFilter{
			MemCmp: &rpc.GetProgramAccountsConfigFilterMemCmp{
				Offset: filter.MemcmpOffset,
				Bytes:  base58.Encode(filter.MemcmpBytes),
			},
		})
	}
	if filter.DataSize > 0 {
		filters = append(filters, rpc.GetProgramAccountsConfigFilter{DataSize: filter.DataSize})
	}

	accounts, err := r.client.GetProgramAccountsWithConfig(ctx, programID.String(), client.GetProgramAccountsConfig{
		Commitment: readCommitment,
		Filters:    filters,
	})
	if err != nil {
		return nil, fmt.Errorf("getProgramAccounts failed: %w", err)
	}

	out := make([]ProgramAccount, 0, len(accounts))
	for _, acc := range accounts {
		out = append(out, ProgramAccount{
			Address: types.Pubkey(acc.Pubkey),
			Data:    acc.AccountInfo.Data,
		})
	}
	return out, nil
}

func (r *rpcReader) GetSignaturesForAddress(ctx context.Context, address types.Pubkey, before string, limit int) ([]SignatureInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	sigs, err := r.client.GetSignaturesForAddressWithConfig(ctx, address.String(), client.GetSignaturesForAddressConfig{
		Limit:      limit,
		Before:     before,
		Commitment: readCommitment,
	})
	if err != nil {
		return nil, fmt.Errorf("getSignaturesForAddress failed: %w", err)
	}

	out := make([]SignatureInfo, 0, len(sigs))
	for _, s := range sigs {
		out = append(out, SignatureInfo{
			Signature: s.Signature,
			Slot:      s.Slot,
			BlockTime: s.BlockTime,
			Failed:    s.Err != nil,
		})
	}
	return out, nil
}

func (r *rpcReader) GetSlot(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	slot, err := r.client.GetSlotWithConfig(ctx, client.GetSlotConfig{Commitment: readCommitment})
	if err != nil {
		return 0, fmt.Errorf("getSlot failed: %w", err)
	}
	return slot, nil
}
