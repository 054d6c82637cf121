package decoder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/near/borsh-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openbook-indexer/internal/config"
	"openbook-indexer/internal/logic/core"
)

func encodeIx(t *testing.T, snakeName string, args any) []byte {
	t.Helper()
	disc := AnchorDiscriminator(snakeName)
	if args == nil {
		return disc[:]
	}
	body, err := borsh.Serialize(args)
	require.NoError(t, err)
	return append(disc[:], body...)
}

func TestAnchorDiscriminator(t *testing.T) {
	// 与 OpenBook v2 IDL 中 place_order 的判别码一致
	assert.Equal(t, [8]byte{0x33, 0xc2, 0x9b, 0xaf, 0x6d, 0x82, 0x60, 0x6a}, AnchorDiscriminator("place_order"))
}

func TestStructuredDecoder_PlaceOrder(t *testing.T) {
	data := encodeIx(t, "place_order", PlaceOrderArgs{
		Side:                      1,
		PriceLots:                 1500,
		MaxBaseLots:               10,
		MaxQuoteLotsIncludingFees: 16000,
		ClientOrderID:             77,
		OrderType:                 2,
		ExpiryTimestamp:           0,
		SelfTradeBehavior:         0,
		Limit:                     10,
	})

	res, ok := NewStructuredDecoder().Decode(data)
	require.True(t, ok)
	assert.Equal(t, KindStructured, res.Kind)
	assert.Equal(t, "PlaceOrder", res.Name)
	assert.Equal(t, core.ConfidenceStructured, res.Confidence())
	assert.Equal(t, "Ask", res.Fields["side"])
	assert.Equal(t, int64(1500), res.Fields["priceLots"])
	assert.Equal(t, int64(10), res.Fields["maxBaseLots"])
	assert.Equal(t, "PostOnly", res.Fields["orderType"])
	assert.Equal(t, uint64(77), res.Fields["clientOrderId"])
}

func TestStructuredDecoder_Layouts(t *testing.T) {
	d := NewStructuredDecoder()
	bid := uint8(0)

	cases := []struct {
		name   string
		data   []byte
		want   string
		field  string
		expect any
	}{
		{"deposit", encodeIx(t, "deposit", DepositArgs{BaseAmount: 5, QuoteAmount: 6}), "Deposit", "quoteAmount", uint64(6)},
		{"consume_events", encodeIx(t, "consume_events", ConsumeEventsArgs{Limit: 8}), "ConsumeEvents", "limit", uint64(8)},
		{"cancel_all_orders", encodeIx(t, "cancel_all_orders", CancelAllOrdersArgs{SideOption: &bid, Limit: 3}), "CancelAllOrders", "side", "Bid"},
		{"cancel_all_orders_none", encodeIx(t, "cancel_all_orders", CancelAllOrdersArgs{Limit: 3}), "CancelAllOrders", "side", nil},
		{"cancel_order", encodeIx(t, "cancel_order", CancelOrderArgs{OrderID: [16]byte{1}}), "CancelOrder", "orderId", "1"},
		{"cancel_by_client_id", encodeIx(t, "cancel_order_by_client_order_id", CancelOrderByClientOrderIDArgs{ClientOrderID: 9}), "CancelOrderByClientOrderId", "clientOrderId", uint64(9)},
		{"settle_funds", encodeIx(t, "settle_funds", nil), "SettleFunds", "", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, ok := d.Decode(tc.data)
			require.True(t, ok)
			assert.Equal(t, tc.want, res.Name)
			if tc.field != "" {
				assert.Equal(t, tc.expect, res.Fields[tc.field])
			}
		})
	}
}

func TestStructuredDecoder_Rejects(t *testing.T) {
	d := NewStructuredDecoder()

	_, ok := d.Decode([]byte{0, 1, 2})
	assert.False(t, ok, "shorter than discriminator")

	_, ok = d.Decode([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9})
	assert.False(t, ok, "unknown discriminator")

	disc := AnchorDiscriminator("deposit")
	_, ok = d.Decode(append(disc[:], 1, 2))
	assert.False(t, ok, "truncated args")
}

func TestTableDecoder(t *testing.T) {
	d := NewTableDecoder(nil)

	res, ok := d.Decode([]byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11})
	require.True(t, ok)
	assert.Equal(t, "PlaceOrder", res.Name)
	assert.Equal(t, KindFallback, res.Kind)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}, res.Raw)
	assert.Equal(t, map[string]any{"raw": []int{1, 2, 3, 4, 5, 6, 7, 8, 9}}, res.Payload())

	res, _ = d.Decode([]byte{7})
	assert.Equal(t, "CancelAllOrders", res.Name)
	assert.Empty(t, res.Raw)

	res, _ = d.Decode([]byte{200, 1})
	assert.Equal(t, "Unknown(200)", res.Name)
	assert.Equal(t, core.ConfidenceFallback, res.Confidence())

	res, _ = d.Decode(nil)
	assert.Equal(t, "Unknown(empty)", res.Name)
}

func TestChain_FallsBackToTable(t *testing.T) {
	c := NewChain(NewStructuredDecoder(), NewTableDecoder(nil))

	structured := c.DecodeAll(encodeIx(t, "deposit", DepositArgs{BaseAmount: 1}))
	assert.Equal(t, core.ConfidenceStructured, structured.Confidence())

	fallback := c.DecodeAll([]byte{5, 0, 0})
	assert.Equal(t, core.ConfidenceFallback, fallback.Confidence())
	assert.Equal(t, "SettleFunds", fallback.Name)

	tableOnly := NewChain(nil, nil)
	res, ok := tableOnly.Decode(encodeIx(t, "deposit", DepositArgs{}))
	assert.True(t, ok)
	assert.Equal(t, core.ConfidenceFallback, res.Confidence())
}

func TestLoadTableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.yaml")
	require.NoError(t, os.WriteFile(path, []byte("instructions:\n  8: EditOrder\n  0: PlaceOrderV2\n"), 0o644))

	overrides, err := LoadTableFile(path)
	require.NoError(t, err)
	assert.Equal(t, map[uint8]string{8: "EditOrder", 0: "PlaceOrderV2"}, overrides)

	d := NewTableDecoder(overrides)
	res, _ := d.Decode([]byte{8})
	assert.Equal(t, "EditOrder", res.Name)
	res, _ = d.Decode([]byte{0})
	assert.Equal(t, "PlaceOrderV2", res.Name)
	res, _ = d.Decode([]byte{1})
	assert.Equal(t, "CancelOrder", res.Name)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("instructions:\n  300: Nope\n"), 0o644))
	_, err = LoadTableFile(bad)
	assert.Error(t, err)

	_, err = NewFromConfig(config.DecoderConfig{TableFile: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}

const testProgramID = "opnb2LAfJYbRMAHHvqjCwQxanZn7ReEHp1k81EohpZb"

func TestInstructionNamesFromLogs(t *testing.T) {
	logs := []string{
		"Program ComputeBudget111111111111111111111111111111 invoke [1]",
		"Program ComputeBudget111111111111111111111111111111 success",
		"Program " + testProgramID + " invoke [1]",
		"Program log: Instruction: PlaceOrder",
		"Program TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA invoke [2]",
		"Program log: Instruction: Transfer",
		"Program TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA success",
		"Program " + testProgramID + " consumed 12000 of 200000 compute units",
		"Program " + testProgramID + " success",
		"Program " + testProgramID + " invoke [1]",
		"Program " + testProgramID + " success",
		"Program " + testProgramID + " invoke [1]",
		"Program log: Instruction: CancelOrder",
		"Program log: Instruction: ignored",
		"Program " + testProgramID + " failed: custom program error: 0x1",
	}

	names := InstructionNamesFromLogs(logs, testProgramID)
	assert.Equal(t, []string{"PlaceOrder", "", "CancelOrder"}, names)

	assert.Empty(t, InstructionNamesFromLogs(nil, testProgramID))
	// 其他程序的 CPI 调用不计入
	cpiOnly := []string{
		"Program Other11111111111111111111111111111111111 invoke [1]",
		"Program " + testProgramID + " invoke [2]",
		"Program log: Instruction: PlaceOrder",
		"Program " + testProgramID + " success",
		"Program Other11111111111111111111111111111111111 success",
	}
	assert.Empty(t, InstructionNamesFromLogs(cpiOnly, testProgramID))
}

func TestChain_LogNameBetweenStructuredAndTable(t *testing.T) {
	c := NewChain(NewStructuredDecoder(), NewTableDecoder(nil))

	// 结构化解码优先于日志名
	res := c.DecodeInstruction(encodeIx(t, "deposit", DepositArgs{BaseAmount: 1}), "SomethingElse")
	assert.Equal(t, KindStructured, res.Kind)
	assert.Equal(t, "Deposit", res.Name)

	// 日志名优先于查表
	res = c.DecodeInstruction([]byte{0, 7, 7}, "PlaceTakeOrder")
	assert.Equal(t, "PlaceTakeOrder", res.Name)
	assert.Equal(t, core.ConfidenceFallback, res.Confidence())
	assert.Equal(t, "log", res.Payload()["nameSource"])
	assert.Equal(t, []int{7, 7}, res.Payload()["raw"])

	res = c.DecodeInstruction([]byte{0, 7, 7}, "")
	assert.Equal(t, "PlaceOrder", res.Name)
	assert.NotContains(t, res.Payload(), "nameSource")
}
