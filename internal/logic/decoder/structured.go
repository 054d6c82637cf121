package decoder

import (
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/near/borsh-go"
)

const anchorDiscriminatorLen = 8

// PlaceOrderArgs OpenBook v2 place_order 参数
type PlaceOrderArgs struct {
	Side                      uint8
	PriceLots                 int64
	MaxBaseLots               int64
	MaxQuoteLotsIncludingFees int64
	ClientOrderID             uint64
	OrderType                 uint8
	ExpiryTimestamp           uint64
	SelfTradeBehavior         uint8
	Limit                     uint8
}

type PlaceTakeOrderArgs struct {
	Side                      uint8
	PriceLots                 int64
	MaxBaseLots               int64
	MaxQuoteLotsIncludingFees int64
	OrderType                 uint8
	Limit                     uint8
}

type CancelOrderArgs struct {
	OrderID [16]byte // u128 little-endian
}

type CancelOrderByClientOrderIDArgs struct {
	ClientOrderID uint64
}

type CancelAllOrdersArgs struct {
	SideOption *uint8
	Limit      uint8
}

type ConsumeEventsArgs struct {
	Limit uint64
}

type DepositArgs struct {
	BaseAmount  uint64
	QuoteAmount uint64
}

type layout struct {
	name   string
	decode func(args []byte) (map[string]any, error)
}

// newLayout 声明一个 Borsh 参数布局，fields 负责把参数结构转换为对外字段
func newLayout[T any](name string, fields func(*T) map[string]any) layout {
	return layout{
		name: name,
		decode: func(args []byte) (map[string]any, error) {
			var v T
			if err := borsh.Deserialize(&v, args); err != nil {
				return nil, err
			}
			return fields(&v), nil
		},
	}
}

// AnchorDiscriminator sha256("global:<snake_name>") 的前 8 字节
func AnchorDiscriminator(snakeName string) [anchorDiscriminatorLen]byte {
	sum := sha256.Sum256([]byte("global:" + snakeName))
	var d [anchorDiscriminatorLen]byte
	copy(d[:], sum[:anchorDiscriminatorLen])
	return d
}

// StructuredDecoder 按 Anchor 判别码匹配已声明的 OpenBook v2 指令布局
type StructuredDecoder struct {
	layouts map[[anchorDiscriminatorLen]byte]layout
}

var _ Decoder = (*StructuredDecoder)(nil)

func NewStructuredDecoder() *StructuredDecoder {
	d := &StructuredDecoder{layouts: make(map[[anchorDiscriminatorLen]byte]layout)}

	d.register("place_order", newLayout("PlaceOrder", func(a *PlaceOrderArgs) map[string]any {
		return map[string]any{
			"side":                      sideName(a.Side),
			"priceLots":                 a.PriceLots,
			"maxBaseLots":               a.MaxBaseLots,
			"maxQuoteLotsIncludingFees": a.MaxQuoteLotsIncludingFees,
			"clientOrderId":             a.ClientOrderID,
			"orderType":                 orderTypeName(a.OrderType),
			"expiryTimestamp":           a.ExpiryTimestamp,
			"selfTradeBehavior":         selfTradeBehaviorName(a.SelfTradeBehavior),
			"limit":                     a.Limit,
		}
	}))
	d.register("place_take_order", newLayout("PlaceTakeOrder", func(a *PlaceTakeOrderArgs) map[string]any {
		return map[string]any{
			"side":                      sideName(a.Side),
			"priceLots":                 a.PriceLots,
			"maxBaseLots":               a.MaxBaseLots,
			"maxQuoteLotsIncludingFees": a.MaxQuoteLotsIncludingFees,
			"orderType":                 orderTypeName(a.OrderType),
			"limit":                     a.Limit,
		}
	}))
	d.register("cancel_order", newLayout("CancelOrder", func(a *CancelOrderArgs) map[string]any {
		return map[string]any{"orderId": u128String(a.OrderID)}
	}))
	d.register("cancel_order_by_client_order_id", newLayout("CancelOrderByClientOrderId", func(a *CancelOrderByClientOrderIDArgs) map[string]any {
		return map[string]any{"clientOrderId": a.ClientOrderID}
	}))
	d.register("cancel_all_orders", newLayout("CancelAllOrders", func(a *CancelAllOrdersArgs) map[string]any {
		fields := map[string]any{"limit": a.Limit, "side": nil}
		if a.SideOption != nil {
			fields["side"] = sideName(*a.SideOption)
		}
		return fields
	}))
	d.register("consume_events", newLayout("ConsumeEvents", func(a *ConsumeEventsArgs) map[string]any {
		return map[string]any{"limit": a.Limit}
	}))
	d.register("deposit", newLayout("Deposit", func(a *DepositArgs) map[string]any {
		return map[string]any{"baseAmount": a.BaseAmount, "quoteAmount": a.QuoteAmount}
	}))
	d.register("settle_funds", layout{
		name:   "SettleFunds",
		decode: func([]byte) (map[string]any, error) { return map[string]any{}, nil },
	})
	return d
}

func (d *StructuredDecoder) register(snakeName string, l layout) {
	d.layouts[AnchorDiscriminator(snakeName)] = l
}

// Names 已声明布局的指令名
func (d *StructuredDecoder) Names() []string {
	names := make([]string, 0, len(d.layouts))
	for _, l := range d.layouts {
		names = append(names, l.name)
	}
	return names
}

func (d *StructuredDecoder) Decode(data []byte) (res Result, ok bool) {
	if len(data) < anchorDiscriminatorLen {
		return Result{}, false
	}
	var disc [anchorDiscriminatorLen]byte
	copy(disc[:], data[:anchorDiscriminatorLen])
	l, found := d.layouts[disc]
	if !found {
		return Result{}, false
	}

	// borsh 在数据截断时可能 panic，视为无法解码
	defer func() {
		if r := recover(); r != nil {
			res, ok = Result{}, false
		}
	}()

	fields, err := l.decode(data[anchorDiscriminatorLen:])
	if err != nil {
		return Result{}, false
	}
	return Structured(l.name, fields), true
}

func sideName(v uint8) string {
	switch v {
	case 0:
		return "Bid"
	case 1:
		return "Ask"
	default:
		return fmt.Sprintf("Side(%d)", v)
	}
}

func orderTypeName(v uint8) string {
	names := [...]string{"Limit", "ImmediateOrCancel", "PostOnly", "Market", "PostOnlySlide", "FillOrKill"}
	if int(v) < len(names) {
		return names[v]
	}
	return fmt.Sprintf("OrderType(%d)", v)
}

func selfTradeBehaviorName(v uint8) string {
	names := [...]string{"DecrementTake", "CancelProvide", "AbortTransaction"}
	if int(v) < len(names) {
		return names[v]
	}
	return fmt.Sprintf("SelfTradeBehavior(%d)", v)
}

// u128String 小端 u128 转十进制字符串
func u128String(le [16]byte) string {
	be := make([]byte, 16)
	for i := range le {
		be[15-i] = le[i]
	}
	return new(big.Int).SetBytes(be).String()
}
