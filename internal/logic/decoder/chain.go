package decoder

// Chain 依次尝试各解码器，其次采用日志中的指令名，最后退回查表解码，永不失败
type Chain struct {
	decoders []Decoder
	table    *TableDecoder
}

var _ Decoder = (*Chain)(nil)

// NewChain structured 为 nil 时只使用查表解码
func NewChain(structured *StructuredDecoder, table *TableDecoder) *Chain {
	if table == nil {
		table = NewTableDecoder(nil)
	}
	c := &Chain{table: table}
	if structured != nil {
		c.decoders = append(c.decoders, structured)
	}
	return c
}

func (c *Chain) Decode(data []byte) (Result, bool) {
	return c.DecodeAll(data), true
}

func (c *Chain) DecodeAll(data []byte) Result {
	return c.DecodeInstruction(data, "")
}

// DecodeInstruction logName 为该指令在交易日志中打印的名字，没有时传空串。
// 日志名只替换查表得到的名字，原始字节照常保留。
func (c *Chain) DecodeInstruction(data []byte, logName string) Result {
	for _, d := range c.decoders {
		if res, ok := d.Decode(data); ok {
			return res
		}
	}
	res, _ := c.table.Decode(data)
	if logName != "" {
		res.Name = logName
		res.FromLog = true
	}
	return res
}
