package progress

// SigStatus 表示交易签名的处理状态
type SigStatus int

const (
	SigUnknown   SigStatus = 0 // Redis 不存在
	SigProcessed SigStatus = 1 // ✅ 已处理成功
	SigAbsent    SigStatus = 2 // ❌ 链上查询不到，已跳过
	SigPending   SigStatus = 3 // 🕒 某个处理者已认领，暂未完成
)

// Source 表示签名来源模块
const (
	SourceUnknown  int16 = 0
	SourceLive     int16 = 1
	SourceBackfill int16 = 2
)

func SourceName(src int16) string {
	switch src {
	case SourceLive:
		return "live"
	case SourceBackfill:
		return "backfill"
	default:
		return "unknown"
	}
}
