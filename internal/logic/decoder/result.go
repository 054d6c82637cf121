package decoder

import "openbook-indexer/internal/logic/core"

// Kind 解码结果的变体标签
type Kind uint8

const (
	KindStructured Kind = iota + 1
	KindFallback
)

// Result 解码结果：Structured{Name, Fields} 或 Fallback{Name, Raw}
type Result struct {
	Kind   Kind
	Name   string
	Fields map[string]any // 仅 Structured
	Raw    []byte         // 仅 Fallback

	// FromLog 指令名取自交易日志而非判别码查表
	FromLog bool
}

func Structured(name string, fields map[string]any) Result {
	return Result{Kind: KindStructured, Name: name, Fields: fields}
}

func Fallback(name string, raw []byte) Result {
	return Result{Kind: KindFallback, Name: name, Raw: raw}
}

func (r Result) Confidence() core.DecodeConfidence {
	if r.Kind == KindStructured {
		return core.ConfidenceStructured
	}
	return core.ConfidenceFallback
}

// Payload 事件中对外输出的 payload。Fallback 的原始字节以整数数组输出。
func (r Result) Payload() map[string]any {
	if r.Kind == KindStructured {
		out := make(map[string]any, len(r.Fields)+1)
		for k, v := range r.Fields {
			out[k] = v
		}
		return out
	}
	raw := make([]int, len(r.Raw))
	for i, b := range r.Raw {
		raw[i] = int(b)
	}
	out := map[string]any{"raw": raw}
	if r.FromLog {
		out["nameSource"] = "log"
	}
	return out
}

// Decoder 指令解码能力。ok=false 表示该实现无法识别这段数据。
type Decoder interface {
	Decode(data []byte) (Result, bool)
}
