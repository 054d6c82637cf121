package consts

// OpenBook v2 Market 账户布局（简化版，仅包含索引器需要的字段）：
//
//	[0:8]     discriminator
//	[8:168]   admin / market_authority / bids / asks / event_heap
//	[168:366] oracle_a / oracle_b / collect_fee_admin / open_orders_admin /
//	          consume_events_admin / close_market_admin（均按 Option<Pubkey> 计 33 字节）
//	[366:382] name（16 字节，尾部补 0）
//	[382:414] base_mint
//	[414:446] quote_mint
const (
	MarketNameOffset      = 8 + 32*5 + 33*6
	MarketNameLen         = 16
	MarketBaseMintOffset  = MarketNameOffset + MarketNameLen
	MarketQuoteMintOffset = MarketBaseMintOffset + 32
	MarketMinAccountLen   = 500

	// MarketApproxDataSize 账户变更订阅使用的近似账户大小
	MarketApproxDataSize = 944
)

// MarketDiscriminator devnet 上实际 market 账户的前 8 字节
var MarketDiscriminator = [8]byte{219, 190, 213, 55, 0, 227, 198, 154}
