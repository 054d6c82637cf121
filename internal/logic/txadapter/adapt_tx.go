package txadapter

import (
	"fmt"

	"openbook-indexer/internal/ledger"
	"openbook-indexer/internal/logic/core"
	"openbook-indexer/internal/types"
)

// buildFullAccountKeys 构造交易中完整的账户 Pubkey 列表。
// 拼接 message.accountKeys 与 Address Lookup Table 中的 writable / readonly 地址，
// 供后续通过 accountIndex 索引使用。
func buildFullAccountKeys(accountKeys, loadedWritable, loadedReadonly [][]byte) ([]types.Pubkey, error) {
	total := len(accountKeys) + len(loadedWritable) + len(loadedReadonly)
	pubkeys := make([]types.Pubkey, total)

	i := 0
	for _, group := range [...]struct {
		name string
		keys [][]byte
	}{
		{"accountKeys", accountKeys},
		{"loadedWritable", loadedWritable},
		{"loadedReadonly", loadedReadonly},
	} {
		for _, b := range group.keys {
			if len(b) != 32 {
				return nil, fmt.Errorf("invalid pubkey in %s at index %d", group.name, i)
			}
			copy(pubkeys[i][:], b)
			i++
		}
	}
	return pubkeys, nil
}

func resolveInstruction(ix ledger.CompiledInstruction, accountKeys []types.Pubkey, ixIndex, innerIndex uint16) (*core.AdaptedInstruction, error) {
	if ix.ProgramIDIndex < 0 || ix.ProgramIDIndex >= len(accountKeys) {
		return nil, fmt.Errorf("program index %d out of range (%d keys)", ix.ProgramIDIndex, len(accountKeys))
	}
	accounts := make([]types.Pubkey, 0, len(ix.Accounts))
	for _, idx := range ix.Accounts {
		if idx < 0 || idx >= len(accountKeys) {
			return nil, fmt.Errorf("account index %d out of range (%d keys)", idx, len(accountKeys))
		}
		accounts = append(accounts, accountKeys[idx])
	}
	return &core.AdaptedInstruction{
		IxIndex:    ixIndex,
		InnerIndex: innerIndex,
		ProgramID:  accountKeys[ix.ProgramIDIndex],
		Accounts:   accounts,
		Data:       ix.Data,
	}, nil
}

// buildAdaptedInstructions 扁平化解析主指令与 inner 指令：
//   - IxIndex：主指令索引；
//   - InnerIndex：0 表示主指令，1及以上表示对应的 inner 指令序号。
func buildAdaptedInstructions(tx *ledger.Transaction, accountKeys []types.Pubkey) ([]*core.AdaptedInstruction, error) {
	instructions := make([]*core.AdaptedInstruction, 0, max(len(tx.Instructions)*2, 8))
	innerIndex := 0

	for i, raw := range tx.Instructions {
		ix, err := resolveInstruction(raw, accountKeys, uint16(i), 0)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		instructions = append(instructions, ix)

		// inner 列表按主指令索引递增排列，顺序匹配即可
		for innerIndex < len(tx.InnerInstructions) && tx.InnerInstructions[innerIndex].Index < i {
			innerIndex++
		}
		if innerIndex < len(tx.InnerInstructions) && tx.InnerInstructions[innerIndex].Index == i {
			for j, rawInner := range tx.InnerInstructions[innerIndex].Instructions {
				inner, err := resolveInstruction(rawInner, accountKeys, uint16(i), uint16(j+1))
				if err != nil {
					return nil, fmt.Errorf("inner instruction %d.%d: %w", i, j+1, err)
				}
				instructions = append(instructions, inner)
			}
			innerIndex++
		}
	}
	return instructions, nil
}

// AdaptTx 将链上取回的交易解析为内部 AdaptedTx 结构，slot 以通知中的值为准
func AdaptTx(tx *ledger.Transaction, slot uint64) (_ *core.AdaptedTx, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("AdaptTx panic: %v", r)
		}
	}()

	if tx == nil {
		return nil, fmt.Errorf("nil transaction")
	}

	accountKeys, err := buildFullAccountKeys(tx.AccountKeys, tx.LoadedWritable, tx.LoadedReadonly)
	if err != nil {
		return nil, fmt.Errorf("buildFullAccountKeys error: %w", err)
	}
	if len(accountKeys) == 0 {
		return nil, fmt.Errorf("invalid transaction: missing accountKeys")
	}

	instructions, err := buildAdaptedInstructions(tx, accountKeys)
	if err != nil {
		return nil, err
	}

	if slot == 0 {
		slot = tx.Slot
	}
	txCtx := &core.TxContext{Slot: slot}
	if tx.BlockTime != nil {
		txCtx.BlockTime = *tx.BlockTime
		txCtx.HasTime = true
	}

	return &core.AdaptedTx{
		TxCtx:        txCtx,
		Signature:    tx.Signature,
		Failed:       tx.Failed,
		Instructions: instructions,
		LogMessages:  tx.LogMessages,
	}, nil
}
