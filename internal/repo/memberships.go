package repo

import (
	"context"
	"database/sql"
	"strings"

	"crewline/internal/domain"
)

const membershipColumns = `id,tenant_id,email,name,role,status,created_at,updated_at`

// NormalizeEmail lowercases and trims an email for membership keys.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func scanMembership(row rowScanner) (domain.Membership, error) {
	var m domain.Membership
	var name sql.NullString
	var role string
	err := row.Scan(&m.ID, &m.TenantID, &m.Email, &name, &role, &m.Status, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	if name.Valid {
		m.Name = name.String
	}
	m.Role = domain.Role(role)
	return m, nil
}

func (r Repo) InsertMembership(ctx context.Context, tx *sql.Tx, m domain.Membership) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO memberships(`+membershipColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		m.ID, m.TenantID, NormalizeEmail(m.Email), nullable(m.Name), string(m.Role), m.Status, m.CreatedAt, m.UpdatedAt)
	return err
}

func (r Repo) UpdateMembership(ctx context.Context, tx *sql.Tx, m domain.Membership) error {
	res, err := tx.ExecContext(ctx, `UPDATE memberships SET name=?, role=?, status=?, updated_at=? WHERE id=?`,
		nullable(m.Name), string(m.Role), m.Status, m.UpdatedAt, m.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetMembership(ctx context.Context, tenantID, email string) (domain.Membership, error) {
	return scanMembership(r.DB.QueryRowContext(ctx, `SELECT `+membershipColumns+` FROM memberships WHERE tenant_id=? AND email=?`,
		tenantID, NormalizeEmail(email)))
}

func (r Repo) GetMembershipTx(ctx context.Context, tx *sql.Tx, tenantID, email string) (domain.Membership, error) {
	return scanMembership(tx.QueryRowContext(ctx, `SELECT `+membershipColumns+` FROM memberships WHERE tenant_id=? AND email=?`,
		tenantID, NormalizeEmail(email)))
}

func (r Repo) ListMemberships(ctx context.Context, tenantID string) ([]domain.Membership, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+membershipColumns+` FROM memberships WHERE tenant_id=? ORDER BY created_at ASC, id ASC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// CountActiveMembershipsTx counts a tenant's active seats inside a
// transaction.
func (r Repo) CountActiveMembershipsTx(ctx context.Context, tx *sql.Tx, tenantID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM memberships WHERE tenant_id=? AND status=?`,
		tenantID, domain.MemberActive).Scan(&n)
	return n, err
}
