package ledgertest

import (
	"crypto/sha256"

	"openbook-indexer/internal/consts"
	"openbook-indexer/internal/ledger"
	"openbook-indexer/internal/types"
)

// Ix 测试用指令描述
type Ix struct {
	Program  types.Pubkey
	Accounts []types.Pubkey
	Data     []byte
}

// Key 由种子字符串派生一个确定性的测试地址
func Key(seed string) types.Pubkey {
	return types.Pubkey(sha256.Sum256([]byte(seed)))
}

// BuildTx 按给定指令构造一笔交易，账户表按出现顺序去重
func BuildTx(signature string, slot uint64, blockTime *int64, ixs ...Ix) *ledger.Transaction {
	tx := &ledger.Transaction{
		Signature: signature,
		Slot:      slot,
		BlockTime: blockTime,
	}
	index := make(map[types.Pubkey]int)
	keyIndex := func(k types.Pubkey) int {
		if i, ok := index[k]; ok {
			return i
		}
		i := len(tx.AccountKeys)
		index[k] = i
		b := k
		tx.AccountKeys = append(tx.AccountKeys, b[:])
		return i
	}

	for _, ix := range ixs {
		compiled := ledger.CompiledInstruction{
			ProgramIDIndex: keyIndex(ix.Program),
			Data:           ix.Data,
		}
		for _, acc := range ix.Accounts {
			compiled.Accounts = append(compiled.Accounts, keyIndex(acc))
		}
		tx.Instructions = append(tx.Instructions, compiled)
	}
	return tx
}

func Int64Ptr(v int64) *int64 {
	return &v
}

// MarketAccount 按 OpenBook v2 market 账户布局构造一个账户
func MarketAccount(address types.Pubkey, name string, base, quote types.Pubkey) ledger.ProgramAccount {
	data := make([]byte, consts.MarketApproxDataSize)
	copy(data, consts.MarketDiscriminator[:])
	copy(data[consts.MarketNameOffset:consts.MarketNameOffset+consts.MarketNameLen], name)
	copy(data[consts.MarketBaseMintOffset:], base[:])
	copy(data[consts.MarketQuoteMintOffset:], quote[:])
	return ledger.ProgramAccount{Address: address, Data: data}
}
