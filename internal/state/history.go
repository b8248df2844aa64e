// internal/state/history.go
package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/colebrumley/cortex/internal/security"
)

const maxResponseLen = 10 * 1024

// ActionRecord is one dispatched action.
type ActionRecord struct {
	ID           int64     `json:"id"`
	RuleID       string    `json:"rule_id"`
	RuleName     string    `json:"rule_name"`
	ActionType   string    `json:"action_type"`
	Success      bool      `json:"success"`
	Response     string    `json:"response,omitempty"`
	Error        string    `json:"error,omitempty"`
	EventID      int64     `json:"event_id,omitempty"`
	DispatchedAt time.Time `json:"dispatched_at"`
}

// RecordAction stores an action outcome and returns its id. Response and
// error text are scrubbed of secrets and truncated.
func (d *DB) RecordAction(ctx context.Context, rec ActionRecord) (int64, error) {
	var eventID *int64
	if rec.EventID > 0 {
		eventID = &rec.EventID
	}
	if rec.DispatchedAt.IsZero() {
		rec.DispatchedAt = time.Now()
	}

	result, err := d.db.ExecContext(ctx, `
		INSERT INTO action_history
		(rule_id, rule_name, action_type, success, response, error, event_id, dispatched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RuleID, rec.RuleName, rec.ActionType, rec.Success,
		truncate(security.ScrubOutput(rec.Response)), security.ScrubOutput(rec.Error),
		eventID, rec.DispatchedAt.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("recording action: %w", err)
	}
	return result.LastInsertId()
}

// GetHistory retrieves action history, newest first, optionally for one rule.
func (d *DB) GetHistory(ctx context.Context, ruleID string, limit int) ([]ActionRecord, error) {
	query := "SELECT id, rule_id, rule_name, action_type, success, response, error, event_id, dispatched_at FROM action_history WHERE 1=1"
	var args []any

	if ruleID != "" {
		query += " AND rule_id = ?"
		args = append(args, ruleID)
	}

	query += " ORDER BY dispatched_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var records []ActionRecord
	for rows.Next() {
		var r ActionRecord
		var response, errStr sql.NullString
		var eventID sql.NullInt64
		if err := rows.Scan(&r.ID, &r.RuleID, &r.RuleName, &r.ActionType, &r.Success,
			&response, &errStr, &eventID, &r.DispatchedAt); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		r.Response = response.String
		r.Error = errStr.String
		r.EventID = eventID.Int64
		records = append(records, r)
	}
	return records, rows.Err()
}

// CleanupHistory removes action records older than retentionDays.
func (d *DB) CleanupHistory(ctx context.Context, retentionDays int, now time.Time) (int64, error) {
	cutoff := now.AddDate(0, 0, -retentionDays).UTC()
	result, err := d.db.ExecContext(ctx, "DELETE FROM action_history WHERE dispatched_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleaning up history: %w", err)
	}
	return result.RowsAffected()
}

func truncate(s string) string {
	if len(s) > maxResponseLen {
		return s[:maxResponseLen]
	}
	return s
}
