package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisProgressStore 管理 Redis 中的签名状态记录（幂等控制）
type RedisProgressStore struct {
	rdb *redis.Client
}

const sigPrefix = "progress:sig"

const (
	processedTTL = 7 * 24 * time.Hour
	absentTTL    = 10 * time.Minute // 查询不到的交易可能只是尚未传播，短暂记录即可
	pendingTTL   = 2 * time.Minute  // 处理者崩溃时认领自动过期
)

func NewRedisProgressStore(rdb *redis.Client) *RedisProgressStore {
	return &RedisProgressStore{rdb: rdb}
}

func (r *RedisProgressStore) getKey(signature string) string {
	return fmt.Sprintf("%s:%s", sigPrefix, signature)
}

func getTTL(status SigStatus) time.Duration {
	switch status {
	case SigProcessed:
		return processedTTL
	case SigAbsent:
		return absentTTL
	default:
		return pendingTTL
	}
}

// GetSigStatus 获取签名的状态（Unknown / Processed / Absent / Pending）
func (r *RedisProgressStore) GetSigStatus(ctx context.Context, signature string) (SigStatus, error) {
	val, err := r.rdb.Get(ctx, r.getKey(signature)).Int()
	switch {
	case errors.Is(err, redis.Nil):
		return SigUnknown, nil
	case err != nil:
		return SigUnknown, fmt.Errorf("redis get error: %w", err)
	case val == int(SigProcessed):
		return SigProcessed, nil
	case val == int(SigAbsent):
		return SigAbsent, nil
	case val == int(SigPending):
		return SigPending, nil
	default:
		return SigUnknown, nil // 容错处理
	}
}

// MarkSigStatus 通用设置签名的状态
func (r *RedisProgressStore) MarkSigStatus(ctx context.Context, signature string, status SigStatus) error {
	return r.rdb.Set(ctx, r.getKey(signature), int(status), getTTL(status)).Err()
}

// TryClaim 以 SETNX 认领签名，返回 false 表示已被处理或正在被其他处理者处理
func (r *RedisProgressStore) TryClaim(ctx context.Context, signature string) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, r.getKey(signature), int(SigPending), pendingTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx error: %w", err)
	}
	return ok, nil
}

// Release 释放认领，使签名可以被再次处理
func (r *RedisProgressStore) Release(ctx context.Context, signature string) error {
	return r.rdb.Del(ctx, r.getKey(signature)).Err()
}
