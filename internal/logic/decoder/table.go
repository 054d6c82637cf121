package decoder

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// fallbackRawLen 兜底 payload 截取判别字节之后的原始字节数
const fallbackRawLen = 9

// DefaultInstructionTypes 单字节判别码到指令名的默认映射
var DefaultInstructionTypes = map[uint8]string{
	0: "PlaceOrder",
	1: "CancelOrder",
	2: "CreateMarket",
	3: "ConsumeEvents",
	4: "Deposit",
	5: "SettleFunds",
	6: "PlaceTakeOrder",
	7: "CancelAllOrders",
}

// TableDecoder 按首字节查表的兜底解码器，总能给出结果
type TableDecoder struct {
	types map[uint8]string
}

var _ Decoder = (*TableDecoder)(nil)

// NewTableDecoder overrides 中的条目覆盖或扩展默认映射
func NewTableDecoder(overrides map[uint8]string) *TableDecoder {
	types := make(map[uint8]string, len(DefaultInstructionTypes)+len(overrides))
	for k, v := range DefaultInstructionTypes {
		types[k] = v
	}
	for k, v := range overrides {
		types[k] = v
	}
	return &TableDecoder{types: types}
}

func (d *TableDecoder) Decode(data []byte) (Result, bool) {
	if len(data) == 0 {
		return Fallback("Unknown(empty)", nil), true
	}
	name, ok := d.types[data[0]]
	if !ok {
		name = fmt.Sprintf("Unknown(%d)", data[0])
	}
	end := min(len(data), 1+fallbackRawLen)
	raw := append([]byte(nil), data[1:end]...)
	return Fallback(name, raw), true
}

// tableFile 指令表覆盖文件格式：
//
//	instructions:
//	  8: EditOrder
//	  9: CloseMarket
type tableFile struct {
	Instructions map[string]string `yaml:"instructions"`
}

// LoadTableFile 读取 yaml 指令表覆盖文件
func LoadTableFile(path string) (map[uint8]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read instruction table %s: %w", path, err)
	}
	var f tableFile
	if err := yaml.Unmarshal(content, &f); err != nil {
		return nil, fmt.Errorf("parse instruction table %s: %w", path, err)
	}

	out := make(map[uint8]string, len(f.Instructions))
	for k, name := range f.Instructions {
		n, err := strconv.ParseUint(k, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid discriminator %q in %s: %w", k, path, err)
		}
		if name == "" {
			return nil, fmt.Errorf("empty instruction name for discriminator %d in %s", n, path)
		}
		out[uint8(n)] = name
	}
	return out, nil
}
