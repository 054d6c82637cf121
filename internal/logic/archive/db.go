package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"openbook-indexer/internal/logic/core"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS trade_events (
	signature         TEXT     NOT NULL,
	instruction_index INTEGER  NOT NULL,
	market            TEXT     NOT NULL,
	slot              BIGINT   NOT NULL,
	block_time        BIGINT   NOT NULL,
	type              TEXT     NOT NULL,
	decode_confidence TEXT     NOT NULL,
	payload           JSONB    NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (signature, instruction_index)
);
CREATE INDEX IF NOT EXISTS trade_events_market_slot_idx ON trade_events (market, slot);
`

const eventColumns = 8

// DBArchiveStore 负责 trade_events 表的写入
type DBArchiveStore struct {
	db *sql.DB
}

func NewDBArchiveStore(db *sql.DB) *DBArchiveStore {
	return &DBArchiveStore{db: db}
}

func (d *DBArchiveStore) EnsureSchema(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("create trade_events failed: %w", err)
	}
	return nil
}

// BatchInsertEvents 按 batchLimit 分批写入，主键冲突的事件忽略（同一签名可能被重复处理）
func (d *DBArchiveStore) BatchInsertEvents(ctx context.Context, events []*core.TradeEvent, batchLimit int) error {
	if len(events) == 0 {
		return nil
	}
	if batchLimit <= 0 {
		batchLimit = 500
	}
	for i := 0; i < len(events); i += batchLimit {
		end := min(i+batchLimit, len(events))
		query, args, err := buildInsertQuery(events[i:end])
		if err != nil {
			return err
		}
		if _, err := d.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert trade_events chunk [%d,%d) failed: %w", i, end, err)
		}
	}
	return nil
}

// buildInsertQuery 构造一批事件的多值 INSERT 语句
func buildInsertQuery(events []*core.TradeEvent) (string, []any, error) {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO trade_events (signature, instruction_index, market, slot, block_time, type, decode_confidence, payload) VALUES `)
	args := make([]any, 0, len(events)*eventColumns)

	for i, e := range events {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return "", nil, fmt.Errorf("marshal payload of %s#%d: %w", e.Signature, e.InstructionIndex, err)
		}
		if i > 0 {
			sb.WriteByte(',')
		}
		base := i * eventColumns
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8)
		args = append(args,
			e.Signature, int(e.InstructionIndex), e.Market, int64(e.Slot), e.BlockTime,
			e.Type, string(e.DecodeConfidence), string(payload),
		)
	}
	sb.WriteString(` ON CONFLICT (signature, instruction_index) DO NOTHING`)
	return sb.String(), args, nil
}
