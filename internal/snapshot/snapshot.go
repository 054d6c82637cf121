// Package snapshot 退出时把内存中的市场与事件写成 JSON 文件
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"openbook-indexer/internal/logic/core"
	"openbook-indexer/internal/logic/store"
)

type Summary struct {
	TotalTransactions int            `json:"totalTransactions"`
	TotalMarkets      int            `json:"totalMarkets"`
	ByType            map[string]int `json:"byType"`
}

type Snapshot struct {
	RunID   string             `json:"runId,omitempty"`
	Summary Summary            `json:"summary"`
	Markets []core.Market      `json:"markets"`
	Trades  []*core.TradeEvent `json:"trades"`
}

// MarketLister 注册表中快照用到的部分
type MarketLister interface {
	List() []core.Market
}

// Build 收集当前数据，事件按插入顺序。汇总由同一份事件副本计算，处理中的任务继续追加也不会不一致。
func Build(runID string, markets MarketLister, trades *store.TradeStore) *Snapshot {
	list := markets.List()
	all := trades.All()
	return &Snapshot{
		RunID: runID,
		Summary: Summary{
			TotalTransactions: len(all),
			TotalMarkets:      len(list),
			ByType:            store.CountBy(all, store.ByType, nil),
		},
		Markets: list,
		Trades:  all,
	}
}

// Write 写入 dir/indexer-data-<unix ms>.json，先写临时文件再 rename
func Write(dir string, snap *Snapshot, now time.Time) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".indexer-data-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) // rename 成功后为空操作

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close snapshot: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("indexer-data-%d.json", now.UnixMilli()))
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("rename snapshot: %w", err)
	}
	return path, nil
}
