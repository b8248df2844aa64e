// internal/state/rules.go
package state

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/colebrumley/cortex/internal/rules"
)

// UpsertRule stores a rule as a JSON document.
func (d *DB) UpsertRule(r rules.Rule) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding rule %s: %w", r.ID, err)
	}
	_, err = d.db.Exec(`
		INSERT INTO rules (id, document, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
		r.ID, string(doc), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting rule %s: %w", r.ID, err)
	}
	return nil
}

// DeleteRule removes a stored rule. Deleting a missing rule is not an error.
func (d *DB) DeleteRule(id string) error {
	if _, err := d.db.Exec("DELETE FROM rules WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting rule %s: %w", id, err)
	}
	return nil
}

// ListRules returns stored rules in the order they were first saved.
func (d *DB) ListRules() ([]rules.Rule, error) {
	rows, err := d.db.Query("SELECT id, document FROM rules ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("querying rules: %w", err)
	}
	defer rows.Close()

	var out []rules.Rule
	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("scanning rule: %w", err)
		}
		var r rules.Rule
		if err := json.Unmarshal([]byte(doc), &r); err != nil {
			return nil, fmt.Errorf("decoding rule %s: %w", id, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
