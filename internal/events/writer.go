// Package events appends the per-run event trail: one row per record outcome
// and per run transition, for after-the-fact investigation of a send.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type Payload map[string]any

func (w Writer) Append(ctx context.Context, evtType, runID, recipientToken string, payload Payload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = w.DB.ExecContext(ctx,
		`INSERT INTO events(ts,type,run_id,recipient_token,payload_json) VALUES (?,?,?,?,?)`,
		ts, evtType, runID, nullable(recipientToken), string(data))
	return err
}

// ListForRun returns the raw payloads of a run's events in append order.
func (w Writer) ListForRun(ctx context.Context, runID string) ([]string, error) {
	rows, err := w.DB.QueryContext(ctx,
		`SELECT payload_json FROM events WHERE run_id=? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
