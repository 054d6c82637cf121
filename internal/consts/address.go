package consts

import "openbook-indexer/internal/types"

// Base58 地址常量（可读性高，适合配置与日志使用）
const (
	// DEX: OpenBook v2
	OpenBookV2ProgramStr = "opnb2LAfJYbRMAHHvqjCwQxanZn7ReEHp1k81EohpZb"
)

var OpenBookV2Program = types.PubkeyFromBase58(OpenBookV2ProgramStr)
