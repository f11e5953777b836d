package repo

import (
	"context"
	"database/sql"

	"crewline/internal/domain"
)

func (r Repo) InsertTenant(ctx context.Context, tx *sql.Tx, t domain.Tenant) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tenants(id,name,created_at) VALUES (?,?,?)`, t.ID, t.Name, t.CreatedAt)
	return err
}

func (r Repo) GetTenant(ctx context.Context, id string) (domain.Tenant, error) {
	var t domain.Tenant
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,created_at FROM tenants WHERE id=?`, id).
		Scan(&t.ID, &t.Name, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

// SingleTenant returns the tenant when exactly one exists, so local
// workspaces can omit --tenant.
func (r Repo) SingleTenant(ctx context.Context) (domain.Tenant, error) {
	ts, err := r.ListTenants(ctx)
	if err != nil {
		return domain.Tenant{}, err
	}
	if len(ts) != 1 {
		return domain.Tenant{}, ErrNotFound
	}
	return ts[0], nil
}

func (r Repo) ListTenants(ctx context.Context) ([]domain.Tenant, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,created_at FROM tenants ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Tenant
	for rows.Next() {
		var t domain.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) UpsertQuota(ctx context.Context, q domain.Quota) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO quotas(tenant_id,seats_limit,public_listing_limit) VALUES (?,?,?)
ON CONFLICT(tenant_id) DO UPDATE SET seats_limit=excluded.seats_limit, public_listing_limit=excluded.public_listing_limit`,
		q.TenantID, q.SeatsLimit, q.PublicListingLimit)
	return err
}

func (r Repo) GetQuota(ctx context.Context, tenantID string) (domain.Quota, error) {
	var q domain.Quota
	err := r.DB.QueryRowContext(ctx, `SELECT tenant_id,seats_limit,public_listing_limit FROM quotas WHERE tenant_id=?`, tenantID).
		Scan(&q.TenantID, &q.SeatsLimit, &q.PublicListingLimit)
	if err == sql.ErrNoRows {
		return q, ErrNotFound
	}
	return q, err
}

// GetQuotaTx reads the quota inside a transaction so limits and usage come
// from the same snapshot.
func (r Repo) GetQuotaTx(ctx context.Context, tx *sql.Tx, tenantID string) (domain.Quota, error) {
	var q domain.Quota
	err := tx.QueryRowContext(ctx, `SELECT tenant_id,seats_limit,public_listing_limit FROM quotas WHERE tenant_id=?`, tenantID).
		Scan(&q.TenantID, &q.SeatsLimit, &q.PublicListingLimit)
	if err == sql.ErrNoRows {
		return q, ErrNotFound
	}
	return q, err
}
