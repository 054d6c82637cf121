// Package decoder 将 OpenBook v2 指令数据解码为带可信度标签的结果
package decoder

import (
	"openbook-indexer/internal/config"
	"openbook-indexer/pkg/logger"
)

// NewFromConfig 按 decoder 配置组装解码链
func NewFromConfig(c config.DecoderConfig) (*Chain, error) {
	var overrides map[uint8]string
	if c.TableFile != "" {
		var err error
		overrides, err = LoadTableFile(c.TableFile)
		if err != nil {
			return nil, err
		}
		logger.Infof("[Decoder] 加载指令表覆盖文件: %s, 条目数: %d", c.TableFile, len(overrides))
	}

	var structured *StructuredDecoder
	if c.Structured {
		structured = NewStructuredDecoder()
		logger.Infof("[Decoder] 启用结构化解码: %v", structured.Names())
	}
	return NewChain(structured, NewTableDecoder(overrides)), nil
}
