package registry

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"openbook-indexer/internal/consts"
	"openbook-indexer/internal/ledger"
	"openbook-indexer/internal/logic/core"
	"openbook-indexer/internal/types"
	"openbook-indexer/pkg/logger"
)

// ParseMarket 从 market 账户数据中解析名称与 base/quote mint，CreatedAt 由注册表插入时填写
func ParseMarket(address types.Pubkey, data []byte) (core.Market, error) {
	if len(data) < consts.MarketMinAccountLen {
		return core.Market{}, fmt.Errorf("market account too short: %d < %d", len(data), consts.MarketMinAccountLen)
	}
	if !bytes.Equal(data[:8], consts.MarketDiscriminator[:]) {
		return core.Market{}, fmt.Errorf("discriminator mismatch")
	}

	rawName := data[consts.MarketNameOffset : consts.MarketNameOffset+consts.MarketNameLen]
	name := strings.TrimSpace(strings.ToValidUTF8(string(bytes.TrimRight(rawName, "\x00")), ""))
	addr := address.String()
	if name == "" {
		name = "Market-" + addr[:8]
	}

	base, _ := types.PubkeyFromBytes(data[consts.MarketBaseMintOffset : consts.MarketBaseMintOffset+32])
	quote, _ := types.PubkeyFromBytes(data[consts.MarketQuoteMintOffset : consts.MarketQuoteMintOffset+32])

	return core.Market{
		Address:    addr,
		Name:       name,
		BaseAsset:  base.String(),
		QuoteAsset: quote.String(),
	}, nil
}

// FindAllMarkets 扫描程序下所有 market 账户，无法解析的账户跳过并告警
func FindAllMarkets(ctx context.Context, conn ledger.Connection, programID types.Pubkey) ([]core.Market, error) {
	accounts, err := conn.GetProgramAccounts(ctx, programID, ledger.AccountFilter{
		MemcmpOffset: 0,
		MemcmpBytes:  consts.MarketDiscriminator[:],
	})
	if err != nil {
		return nil, fmt.Errorf("scan market accounts: %w", err)
	}

	markets := make([]core.Market, 0, len(accounts))
	for _, acc := range accounts {
		m, err := ParseMarket(acc.Address, acc.Data)
		if err != nil {
			logger.Warnf("[FindAllMarkets] 跳过无法解析的账户: %s, err=%v", acc.Address, err)
			continue
		}
		markets = append(markets, m)
	}
	return markets, nil
}
