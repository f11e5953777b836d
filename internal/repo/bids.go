package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"crewline/internal/domain"
)

const bidColumns = `id,work_order_id,tenant_id,contractor_id,contractor_name,contractor_email,cover_message,proposed_budget,eta_days,attachments_json,status,created_at`

func scanBid(row rowScanner) (domain.Bid, error) {
	var b domain.Bid
	var tenantID, name, email, attachmentsJSON sql.NullString
	var eta sql.NullInt64
	err := row.Scan(&b.ID, &b.WorkOrderID, &tenantID, &b.ContractorID, &name, &email,
		&b.CoverMessage, &b.ProposedBudget, &eta, &attachmentsJSON, &b.Status, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	if err != nil {
		return b, err
	}
	if tenantID.Valid {
		b.TenantID = &tenantID.String
	}
	if name.Valid {
		b.ContractorName = name.String
	}
	if email.Valid {
		b.ContractorEmail = email.String
	}
	if eta.Valid {
		v := int(eta.Int64)
		b.ETADays = &v
	}
	if attachmentsJSON.Valid && attachmentsJSON.String != "" {
		_ = json.Unmarshal([]byte(attachmentsJSON.String), &b.Attachments)
	}
	return b, nil
}

func (r Repo) InsertBid(ctx context.Context, tx *sql.Tx, b domain.Bid) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO bids(`+bidColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		b.ID, b.WorkOrderID, nullableStringPtr(b.TenantID), b.ContractorID, nullable(b.ContractorName),
		nullable(b.ContractorEmail), b.CoverMessage, b.ProposedBudget, nullableIntPtr(b.ETADays),
		nullableJSONSlice(b.Attachments), b.Status, b.CreatedAt)
	return err
}

func (r Repo) GetBid(ctx context.Context, id string) (domain.Bid, error) {
	return scanBid(r.DB.QueryRowContext(ctx, `SELECT `+bidColumns+` FROM bids WHERE id=?`, id))
}

func (r Repo) GetBidTx(ctx context.Context, tx *sql.Tx, id string) (domain.Bid, error) {
	return scanBid(tx.QueryRowContext(ctx, `SELECT `+bidColumns+` FROM bids WHERE id=?`, id))
}

// ActiveBidExists reports whether the contractor already has a non-withdrawn
// bid on the work order.
func (r Repo) ActiveBidExists(ctx context.Context, tx *sql.Tx, workOrderID, contractorID string) (bool, error) {
	row := tx.QueryRowContext(ctx, `SELECT 1 FROM bids WHERE work_order_id=? AND contractor_id=? AND status!=? LIMIT 1`,
		workOrderID, contractorID, domain.BidWithdrawn)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) UpdateBidStatus(ctx context.Context, tx *sql.Tx, id, status string) error {
	res, err := tx.ExecContext(ctx, `UPDATE bids SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteBid(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM bids WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListBidsForWorkOrder(ctx context.Context, workOrderID string) ([]domain.Bid, error) {
	return r.listBids(ctx, `SELECT `+bidColumns+` FROM bids WHERE work_order_id=? ORDER BY created_at DESC, id DESC`, workOrderID)
}

func (r Repo) ListBidsForContractor(ctx context.Context, contractorID string) ([]domain.Bid, error) {
	return r.listBids(ctx, `SELECT `+bidColumns+` FROM bids WHERE contractor_id=? ORDER BY created_at DESC, id DESC`, contractorID)
}

func (r Repo) listBids(ctx context.Context, query string, args ...any) ([]domain.Bid, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

// BumpApplicationCount adjusts the live-bid counter by delta, clamped at zero
// to tolerate prior drift.
func (r Repo) BumpApplicationCount(ctx context.Context, tx *sql.Tx, workOrderID string, delta int) error {
	_, err := tx.ExecContext(ctx, `UPDATE work_orders SET application_count=MAX(0, application_count+?) WHERE id=?`, delta, workOrderID)
	return err
}
