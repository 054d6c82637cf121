package core

// DecodeConfidence 事件的解码可信度
type DecodeConfidence string

const (
	ConfidenceStructured DecodeConfidence = "structured"
	ConfidenceFallback   DecodeConfidence = "fallback"
)

// Market 已注册的 OpenBook 市场，插入后不可变
type Market struct {
	Address    string `json:"address"`
	Name       string `json:"name"`
	BaseAsset  string `json:"baseAsset"`  // base mint（base58）
	QuoteAsset string `json:"quoteAsset"` // quote mint（base58）
	CreatedAt  int64  `json:"createdAt"`  // 注册表插入时间（Unix 毫秒）
}

// TradeEvent 一条被索引的程序指令
type TradeEvent struct {
	Signature        string           `json:"signature"`
	Market           string           `json:"market"` // 已注册市场地址或 "unknown"
	Slot             uint64           `json:"slot"`
	BlockTime        int64            `json:"blockTime"` // Unix 毫秒
	Type             string           `json:"type"`
	InstructionIndex uint16           `json:"instructionIndex"`
	Payload          map[string]any   `json:"payload"`
	DecodeConfidence DecodeConfidence `json:"decodeConfidence"`
}
