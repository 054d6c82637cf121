package progress

import (
	"context"

	"github.com/zeromicro/go-zero/core/logx"

	"openbook-indexer/internal/types"
)

// ProgressManager 控制签名级判重，store 为 nil 时所有判断放行
type ProgressManager struct {
	redis  *RedisProgressStore
	logger logx.Logger
}

func NewProgressManager(redis *RedisProgressStore) *ProgressManager {
	return &ProgressManager{
		redis:  redis,
		logger: logx.WithContext(context.Background()).WithFields(logx.Field("service", "progress")),
	}
}

func (pm *ProgressManager) Enabled() bool {
	return pm != nil && pm.redis != nil
}

// ShouldProcess 判断是否需要处理该签名，需要时同时完成认领。
// Redis 故障时放行，宁可重复索引也不漏数据。
func (pm *ProgressManager) ShouldProcess(ctx context.Context, signature string, source int16) bool {
	if !pm.Enabled() {
		return true
	}
	claimed, err := pm.redis.TryClaim(ctx, signature)
	if err != nil {
		pm.logger.Errorf("[Progress] 认领失败，直接处理: sig=%s, source=%s, err=%v",
			types.ShortSig(signature), SourceName(source), err)
		return true
	}
	if !claimed {
		pm.logger.Debugf("[Progress] 签名已处理或处理中，跳过: sig=%s, source=%s", types.ShortSig(signature), SourceName(source))
	}
	return claimed
}

// MarkSigStatus 标记签名的最终处理状态。SigUnknown 表示处理失败，释放认领以便重试。
func (pm *ProgressManager) MarkSigStatus(ctx context.Context, signature string, status SigStatus) {
	if !pm.Enabled() {
		return
	}
	var err error
	switch status {
	case SigProcessed, SigAbsent:
		err = pm.redis.MarkSigStatus(ctx, signature, status)
	case SigUnknown:
		err = pm.redis.Release(ctx, signature)
	default:
		return
	}
	if err != nil {
		pm.logger.Errorf("[Progress] 写入签名状态失败: sig=%s, status=%d, err=%v", types.ShortSig(signature), status, err)
	}
}
