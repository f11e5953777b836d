package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Writer appends records to a work order's event log. Append must run inside
// the same transaction as the mutation it describes so the log reflects
// commit order.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type Details map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, workOrderID, action, author, authorID string, details Details) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if details == nil {
		details = Details{}
	}
	data, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal event details: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO work_order_events(work_order_id,action,author,author_id,ts,details_json) VALUES (?,?,?,?,?,?)`,
		workOrderID, action, nullable(author), authorID, ts, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
