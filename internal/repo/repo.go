package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"crewline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const workOrderColumns = `id,tenant_id,project_id,name,description,status,priority,due_date,visibility,public_status,public_description,budget,currency,skills_json,allow_instant_claim,application_count,executor_id,executor_name,executor_email,author_id,author_name,accepted_bid_id,contractor_payment,report_link,closing_document_url,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkOrder(row rowScanner) (domain.WorkOrder, error) {
	var w domain.WorkOrder
	var tenantID, projectID, description, dueDate, publicDesc, currency, skillsJSON sql.NullString
	var executorID, executorName, executorEmail, authorName, acceptedBidID, reportLink, closingDoc sql.NullString
	var priority sql.NullInt64
	var budget, payment sql.NullFloat64
	var allowClaim int
	err := row.Scan(&w.ID, &tenantID, &projectID, &w.Name, &description, &w.Status, &priority, &dueDate,
		&w.Visibility, &w.PublicStatus, &publicDesc, &budget, &currency, &skillsJSON, &allowClaim,
		&w.ApplicationCount, &executorID, &executorName, &executorEmail, &w.AuthorID, &authorName,
		&acceptedBidID, &payment, &reportLink, &closingDoc, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	if err != nil {
		return w, err
	}
	if tenantID.Valid {
		w.TenantID = &tenantID.String
	}
	if projectID.Valid {
		w.ProjectID = &projectID.String
	}
	if description.Valid {
		w.Description = description.String
	}
	if priority.Valid {
		p := int(priority.Int64)
		w.Priority = &p
	}
	if dueDate.Valid {
		w.DueDate = &dueDate.String
	}
	if publicDesc.Valid {
		w.PublicDescription = publicDesc.String
	}
	if budget.Valid {
		w.Budget = &budget.Float64
	}
	if currency.Valid {
		w.Currency = currency.String
	}
	if skillsJSON.Valid && skillsJSON.String != "" {
		_ = json.Unmarshal([]byte(skillsJSON.String), &w.Skills)
	}
	w.AllowInstantClaim = allowClaim != 0
	if executorID.Valid {
		w.ExecutorID = executorID.String
	}
	if executorName.Valid {
		w.ExecutorName = executorName.String
	}
	if executorEmail.Valid {
		w.ExecutorEmail = executorEmail.String
	}
	if authorName.Valid {
		w.AuthorName = authorName.String
	}
	if acceptedBidID.Valid {
		w.AcceptedBidID = &acceptedBidID.String
	}
	if payment.Valid {
		w.ContractorPayment = &payment.Float64
	}
	if reportLink.Valid {
		w.ReportLink = reportLink.String
	}
	if closingDoc.Valid {
		w.ClosingDocumentURL = closingDoc.String
	}
	return w, nil
}

func workOrderArgs(w domain.WorkOrder) []any {
	return []any{
		nullableStringPtr(w.TenantID), nullableStringPtr(w.ProjectID), w.Name, nullable(w.Description),
		w.Status, nullableIntPtr(w.Priority), nullableStringPtr(w.DueDate), w.Visibility, w.PublicStatus,
		nullable(w.PublicDescription), nullableFloatPtr(w.Budget), nullable(w.Currency),
		nullableJSONSlice(w.Skills), boolToInt(w.AllowInstantClaim), w.ApplicationCount,
		nullable(w.ExecutorID), nullable(w.ExecutorName), nullable(w.ExecutorEmail),
		w.AuthorID, nullable(w.AuthorName), nullableStringPtr(w.AcceptedBidID),
		nullableFloatPtr(w.ContractorPayment), nullable(w.ReportLink), nullable(w.ClosingDocumentURL),
	}
}

func (r Repo) InsertWorkOrder(ctx context.Context, tx *sql.Tx, w domain.WorkOrder) error {
	args := append([]any{w.ID}, workOrderArgs(w)...)
	args = append(args, w.CreatedAt, w.UpdatedAt)
	_, err := tx.ExecContext(ctx, `INSERT INTO work_orders(`+workOrderColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`, args...)
	return err
}

func (r Repo) UpdateWorkOrder(ctx context.Context, tx *sql.Tx, w domain.WorkOrder) error {
	args := workOrderArgs(w)
	args = append(args, w.UpdatedAt, w.ID)
	res, err := tx.ExecContext(ctx, `UPDATE work_orders SET
tenant_id=?, project_id=?, name=?, description=?, status=?, priority=?, due_date=?, visibility=?, public_status=?,
public_description=?, budget=?, currency=?, skills_json=?, allow_instant_claim=?, application_count=?,
executor_id=?, executor_name=?, executor_email=?, author_id=?, author_name=?, accepted_bid_id=?,
contractor_payment=?, report_link=?, closing_document_url=?, updated_at=?
WHERE id=?`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetWorkOrder(ctx context.Context, id string) (domain.WorkOrder, error) {
	return scanWorkOrder(r.DB.QueryRowContext(ctx, `SELECT `+workOrderColumns+` FROM work_orders WHERE id=?`, id))
}

// GetWorkOrderTx re-reads a work order inside a transaction. The admission
// paths use this to guard against stale reads taken before the tx opened.
func (r Repo) GetWorkOrderTx(ctx context.Context, tx *sql.Tx, id string) (domain.WorkOrder, error) {
	return scanWorkOrder(tx.QueryRowContext(ctx, `SELECT `+workOrderColumns+` FROM work_orders WHERE id=?`, id))
}

type WorkOrderFilters struct {
	TenantID   string
	Status     string
	Visibility string
	ExecutorID string
	Limit      int
}

func (r Repo) ListWorkOrders(ctx context.Context, f WorkOrderFilters) ([]domain.WorkOrder, error) {
	var clauses []string
	var args []any
	if f.TenantID != "" {
		clauses = append(clauses, "tenant_id=?")
		args = append(args, f.TenantID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Visibility != "" {
		clauses = append(clauses, "visibility=?")
		args = append(args, f.Visibility)
	}
	if f.ExecutorID != "" {
		clauses = append(clauses, "executor_id=?")
		args = append(args, f.ExecutorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + workOrderColumns + ` FROM work_orders ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkOrder
	for rows.Next() {
		w, err := scanWorkOrder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

// CountPublishedTx counts a tenant's currently listed work orders inside a
// transaction. Closed listings do not occupy a slot.
func (r Repo) CountPublishedTx(ctx context.Context, tx *sql.Tx, tenantID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM work_orders WHERE tenant_id=? AND visibility=? AND public_status!=?`,
		tenantID, domain.VisibilityPublic, domain.PublicClosed).Scan(&n)
	return n, err
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableJSONSlice(in []string) any {
	if len(in) == 0 {
		return nil
	}
	b, _ := json.Marshal(in)
	return string(b)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
