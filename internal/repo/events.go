package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"crewline/internal/domain"
)

func scanEvent(row rowScanner) (domain.Event, error) {
	var e domain.Event
	var author, detailsJSON sql.NullString
	err := row.Scan(&e.ID, &e.WorkOrderID, &e.Action, &author, &e.AuthorID, &e.TS, &detailsJSON)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if author.Valid {
		e.Author = author.String
	}
	if detailsJSON.Valid && detailsJSON.String != "" {
		_ = json.Unmarshal([]byte(detailsJSON.String), &e.Details)
	}
	return e, nil
}

// ListEvents returns a work order's log in append order.
func (r Repo) ListEvents(ctx context.Context, workOrderID string) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,work_order_id,action,author,author_id,ts,details_json
FROM work_order_events WHERE work_order_id=? ORDER BY id ASC`, workOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// EventsAfter returns events with IDs greater than the cursor in ascending
// order, optionally filtered to one work order. The notification dispatcher
// streams from this.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, workOrderID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if workOrderID != "" {
		clauses = append(clauses, "work_order_id=?")
		args = append(args, workOrderID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := `SELECT id,work_order_id,action,author,author_id,ts,details_json FROM work_order_events ` + where + ` ORDER BY id ASC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM work_order_events`).Scan(&id)
	return id, err
}
