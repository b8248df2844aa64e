// internal/state/events.go
package state

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/colebrumley/cortex/internal/activity"
)

const eventColumns = "id, timestamp, activity, productive, app, bundle_id, domain"

// AppendEvent stores an activity event and returns its id.
func (d *DB) AppendEvent(ctx context.Context, e activity.Event) (int64, error) {
	result, err := d.db.ExecContext(ctx,
		"INSERT INTO events (timestamp, activity, productive, app, bundle_id, domain) VALUES (?, ?, ?, ?, ?, ?)",
		e.Timestamp, e.Activity, e.Productive, e.App, e.BundleID, e.Domain,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting event: %w", err)
	}
	return result.LastInsertId()
}

// QueryEvents returns events with from <= timestamp <= to, oldest first.
func (d *DB) QueryEvents(ctx context.Context, from, to float64) ([]activity.Event, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT "+eventColumns+" FROM events WHERE timestamp >= ? AND timestamp <= ? ORDER BY timestamp, id",
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	return scanEvents(rows)
}

// RecentEvents returns the latest events, newest first.
func (d *DB) RecentEvents(ctx context.Context, limit int) ([]activity.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.db.QueryContext(ctx,
		"SELECT "+eventColumns+" FROM events ORDER BY timestamp DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent events: %w", err)
	}
	return scanEvents(rows)
}

// SearchEvents runs a full-text query over activity, app and domain. Each
// whitespace-separated term must match; terms are taken literally, not as
// FTS5 syntax.
func (d *DB) SearchEvents(ctx context.Context, query string, limit int) ([]activity.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT e.id, e.timestamp, e.activity, e.productive, e.app, e.bundle_id, e.domain
		FROM events e
		JOIN events_fts fts ON e.id = fts.rowid
		WHERE events_fts MATCH ?
		ORDER BY e.timestamp DESC
		LIMIT ?`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("searching events: %w", err)
	}
	return scanEvents(rows)
}

// ftsQuery quotes each term as an FTS5 string so punctuation such as the
// dot in a domain is not parsed as query syntax.
func ftsQuery(q string) string {
	terms := strings.Fields(q)
	for i, t := range terms {
		terms[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(terms, " ")
}

// CleanupEvents removes events older than retentionDays.
func (d *DB) CleanupEvents(ctx context.Context, retentionDays int, now time.Time) (int64, error) {
	cutoff := activity.Unix(now.AddDate(0, 0, -retentionDays))
	result, err := d.db.ExecContext(ctx, "DELETE FROM events WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleaning up events: %w", err)
	}
	return result.RowsAffected()
}

// TrimEvents keeps only the newest keep events.
func (d *DB) TrimEvents(ctx context.Context, keep int) (int64, error) {
	result, err := d.db.ExecContext(ctx, `
		DELETE FROM events WHERE id NOT IN (
			SELECT id FROM events ORDER BY timestamp DESC, id DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("trimming events: %w", err)
	}
	return result.RowsAffected()
}

func scanEvents(rows *sql.Rows) ([]activity.Event, error) {
	defer rows.Close()

	var events []activity.Event
	for rows.Next() {
		var e activity.Event
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Activity, &e.Productive, &e.App, &e.BundleID, &e.Domain); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
