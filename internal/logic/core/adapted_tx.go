package core

import (
	"openbook-indexer/internal/types"
)

// TxContext 表示交易所属 slot 的上下文信息。
type TxContext struct {
	BlockTime int64  // 区块时间戳（Unix 秒），链上未返回时为 0
	HasTime   bool   // 链上是否返回了 blockTime
	Slot      uint64 // 通知中的 slot（Solana 高度单位）
}

// AdaptedInstruction 表示一条主指令或 inner 指令。
// 所有指令在预处理阶段已展平，并补充了位置信息（IxIndex、InnerIndex），以支持顺序遍历与事件定位。
type AdaptedInstruction struct {
	IxIndex    uint16         // 主指令索引（从 0 开始）
	InnerIndex uint16         // Inner 指令在主指令中的序号，主指令本身为 0，CPI 调用从 1 开始
	ProgramID  types.Pubkey   // 指令对应的程序 ID
	Accounts   []types.Pubkey // 指令涉及的账户列表，保持原始顺序
	Data       []byte         // 指令原始数据
}

// IsTopLevel 是否为交易的主指令
func (ix *AdaptedInstruction) IsTopLevel() bool {
	return ix.InnerIndex == 0
}

// FirstAccount 返回指令的第一个账户引用，没有账户时 ok=false
func (ix *AdaptedInstruction) FirstAccount() (types.Pubkey, bool) {
	if len(ix.Accounts) == 0 {
		return types.Pubkey{}, false
	}
	return ix.Accounts[0], true
}

// AdaptedTx 表示已解析的链上交易结构，是事件解析流程的核心输入。
type AdaptedTx struct {
	TxCtx     *TxContext
	Signature string // base58 交易签名
	Failed    bool   // 链上执行是否失败（失败的交易同样会被索引）

	// Instructions 表示交易中的所有指令（包括主指令和 inner 指令），已按 Solana 执行顺序展平。
	Instructions []*AdaptedInstruction

	// LogMessages 交易执行过程中产生的 Program 日志
	LogMessages []string
}

// TopLevelFor 返回调用指定程序的主指令
func (tx *AdaptedTx) TopLevelFor(programID types.Pubkey) []*AdaptedInstruction {
	var out []*AdaptedInstruction
	for _, ix := range tx.Instructions {
		if ix.IsTopLevel() && ix.ProgramID == programID {
			out = append(out, ix)
		}
	}
	return out
}
