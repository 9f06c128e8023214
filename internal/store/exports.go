package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/sadhana/internal/payload"
)

// ExportLog records one generated integration export.
type ExportLog struct {
	ID         int64            `json:"id"`
	ExportType string           `json:"export_type"`
	AdapterID  string           `json:"adapter_id,omitempty"`
	Payload    payload.Document `json:"payload"`
	CreatedAt  time.Time        `json:"created_at"`
}

// InsertExportLog appends an export log row.
func (t *Tx) InsertExportLog(ctx context.Context, l ExportLog) (ExportLog, error) {
	body, err := marshalDocument(l.Payload)
	if err != nil {
		return ExportLog{}, fmt.Errorf("insert export log: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO integration_export_logs (export_type, adapter_id, payload_json, created_at)
		VALUES (?, ?, ?, ?)
	`, l.ExportType, nullString(l.AdapterID), body, FormatTime(l.CreatedAt))
	if err != nil {
		return ExportLog{}, fmt.Errorf("insert export log: %w", err)
	}
	if l.ID, err = res.LastInsertId(); err != nil {
		return ExportLog{}, fmt.Errorf("insert export log: last insert id: %w", err)
	}
	return l, nil
}

// ExportCountsOn returns how many exports were logged on dateKey and how
// many of them came from content adapters.
func (t *Tx) ExportCountsOn(ctx context.Context, dateKey string) (total, content int, err error) {
	err = t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(COALESCE(adapter_id, '') LIKE 'content\_%' ESCAPE '\'), 0)
		FROM integration_export_logs
		WHERE substr(created_at, 1, 10) = ?
	`, dateKey).Scan(&total, &content)
	if err != nil {
		return 0, 0, fmt.Errorf("count exports on %s: %w", dateKey, err)
	}
	return total, content, nil
}

// ExportDates returns every distinct export date.
func (t *Tx) ExportDates(ctx context.Context) ([]string, error) {
	return t.dateKeys(ctx, "export dates", `SELECT DISTINCT substr(created_at, 1, 10) FROM integration_export_logs`)
}
