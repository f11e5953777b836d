package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"crewline/internal/config"
	"crewline/internal/domain"
	"crewline/internal/engine/capacity"
	"crewline/internal/events"
	"crewline/internal/repo"
)

// UserResolver is the identity/profile lookup collaborator.
type UserResolver interface {
	ResolveUser(ctx context.Context, id string) (domain.User, error)
}

// DocumentGenerator produces a closing document for a work order that
// reached agreement, returning the artifact URL.
type DocumentGenerator interface {
	Generate(ctx context.Context, w domain.WorkOrder) (string, error)
}

// Actor is the caller of an engine operation. Role is the caller's membership
// role within the affected tenant; Superuser marks a platform-level principal
// that bypasses tenant role checks.
type Actor struct {
	ID        string
	Name      string
	Email     string
	Role      domain.Role
	Superuser bool
}

func (a Actor) atLeast(min domain.Role) bool {
	return a.Superuser || a.Role.AtLeast(min)
}

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Ledger capacity.Service
	Config *config.Config
	Users  UserResolver
	Docs   DocumentGenerator
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:     db,
		Repo:   r,
		Events: events.Writer{DB: db},
		Ledger: capacity.Service{Repo: r},
		Config: cfg,
		Users:  repoResolver{r},
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

// repoResolver serves identity lookups from the local users table; deployments
// with an external directory inject their own UserResolver.
type repoResolver struct {
	repo repo.Repo
}

func (r repoResolver) ResolveUser(ctx context.Context, id string) (domain.User, error) {
	return r.repo.GetUser(ctx, id)
}

// quotaFor reads the tenant's subscription quota inside the transaction,
// falling back to configured defaults when no subscription row exists.
func (e Engine) quotaFor(ctx context.Context, tx *sql.Tx, tenantID string) (domain.Quota, error) {
	q, err := e.Repo.GetQuotaTx(ctx, tx, tenantID)
	if errors.Is(err, repo.ErrNotFound) {
		q = domain.Quota{TenantID: tenantID}
		if e.Config != nil {
			q.SeatsLimit = e.Config.Defaults.SeatsLimit
			q.PublicListingLimit = e.Config.Defaults.PublicListingLimit
		}
		return q, nil
	}
	return q, err
}

// WorkOrderCreateOptions are parameters for opening a work order.
type WorkOrderCreateOptions struct {
	ID          string
	TenantID    string
	ProjectID   string
	Name        string
	Description string
	Priority    *int
	DueDate     string
	Budget      *float64
	Currency    string
}

// CreateWorkOrder opens a new private work order in ToDo.
func (e Engine) CreateWorkOrder(ctx context.Context, opts WorkOrderCreateOptions, actor Actor) (domain.WorkOrder, error) {
	if opts.Name == "" {
		return domain.WorkOrder{}, ValidationError{"name is required"}
	}
	if opts.TenantID != "" {
		if _, err := e.Repo.GetTenant(ctx, opts.TenantID); err != nil {
			return domain.WorkOrder{}, err
		}
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.nowString()
	w := domain.WorkOrder{
		ID:           id,
		TenantID:     optionalString(opts.TenantID),
		ProjectID:    optionalString(opts.ProjectID),
		Name:         opts.Name,
		Description:  opts.Description,
		Status:       domain.StatusToDo,
		Priority:     opts.Priority,
		DueDate:      optionalString(opts.DueDate),
		Visibility:   domain.VisibilityPrivate,
		PublicStatus: domain.PublicClosed,
		Budget:       opts.Budget,
		Currency:     opts.Currency,
		AuthorID:     actor.ID,
		AuthorName:   actor.Name,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertWorkOrder(ctx, tx, w); err != nil {
		return domain.WorkOrder{}, fmt.Errorf("insert work order: %w", err)
	}
	if err := e.Events.Append(ctx, tx, w.ID, domain.EventWorkCreated, actor.Name, actor.ID, events.Details{"status": w.Status}); err != nil {
		return domain.WorkOrder{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkOrder{}, err
	}
	return w, nil
}

// CreateTenant inserts a tenant with its quota row and an active owner
// membership for the creating actor.
func (e Engine) CreateTenant(ctx context.Context, id, name string, actor Actor) (domain.Tenant, error) {
	if id == "" || name == "" {
		return domain.Tenant{}, ValidationError{"id and name are required"}
	}
	if actor.Email == "" {
		return domain.Tenant{}, ValidationError{"actor email required for owner membership"}
	}
	now := e.nowString()
	t := domain.Tenant{ID: id, Name: name, CreatedAt: now}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Tenant{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertTenant(ctx, tx, t); err != nil {
		return domain.Tenant{}, fmt.Errorf("insert tenant: %w", err)
	}
	m := domain.Membership{
		ID:        uuid.New().String(),
		TenantID:  id,
		Email:     actor.Email,
		Name:      actor.Name,
		Role:      domain.RoleOwner,
		Status:    domain.MemberActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Repo.InsertMembership(ctx, tx, m); err != nil {
		return domain.Tenant{}, fmt.Errorf("insert owner membership: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Tenant{}, err
	}
	if e.Config != nil {
		q := domain.Quota{
			TenantID:           id,
			SeatsLimit:         e.Config.Defaults.SeatsLimit,
			PublicListingLimit: e.Config.Defaults.PublicListingLimit,
		}
		if err := e.Repo.UpsertQuota(ctx, q); err != nil {
			return domain.Tenant{}, fmt.Errorf("seed quota: %w", err)
		}
	}
	return t, nil
}

// --- helpers ---

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
