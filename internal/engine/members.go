package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"crewline/internal/domain"
	"crewline/internal/repo"
)

// InviteMember records a pending membership. Invitations never consume a
// seat; the seat is reserved on activation.
func (e Engine) InviteMember(ctx context.Context, tenantID, email, name string, role domain.Role, actor Actor) (domain.Membership, error) {
	if !actor.atLeast(domain.RoleManager) {
		return domain.Membership{}, forbiddenRole("inviting a member", string(domain.RoleManager))
	}
	if strings.TrimSpace(email) == "" {
		return domain.Membership{}, ValidationError{"email is required"}
	}
	if !role.Valid() {
		return domain.Membership{}, ValidationError{"unknown role " + string(role)}
	}
	// Granting owner or org_admin is reserved to org admins.
	if role.AtLeast(domain.RoleOrgAdmin) && !actor.atLeast(domain.RoleOrgAdmin) {
		return domain.Membership{}, forbiddenRole("granting an admin role", string(domain.RoleOrgAdmin))
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Membership{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetMembershipTx(ctx, tx, tenantID, email); err == nil {
		return domain.Membership{}, ConflictError{"membership already exists for this email"}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Membership{}, err
	}

	now := e.nowString()
	m := domain.Membership{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Email:     email,
		Name:      name,
		Role:      role,
		Status:    domain.MemberInvited,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Repo.InsertMembership(ctx, tx, m); err != nil {
		return domain.Membership{}, err
	}
	return m, tx.Commit()
}

// ActivateMember turns an invitation into an active seat, subject to the
// tenant's seat quota.
func (e Engine) ActivateMember(ctx context.Context, tenantID, email string, actor Actor) (domain.Membership, error) {
	if !actor.atLeast(domain.RoleManager) {
		return domain.Membership{}, forbiddenRole("activating a member", string(domain.RoleManager))
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Membership{}, err
	}
	defer tx.Rollback()

	m, err := e.Repo.GetMembershipTx(ctx, tx, tenantID, email)
	if err != nil {
		return domain.Membership{}, err
	}
	if m.Status == domain.MemberActive {
		return m, tx.Commit()
	}
	q, err := e.quotaFor(ctx, tx, tenantID)
	if err != nil {
		return domain.Membership{}, err
	}
	if err := e.Ledger.ReserveSeat(ctx, tx, tenantID, q.SeatsLimit); err != nil {
		return domain.Membership{}, err
	}
	m.Status = domain.MemberActive
	m.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateMembership(ctx, tx, m); err != nil {
		return domain.Membership{}, err
	}
	return m, tx.Commit()
}

// DeactivateMember releases the member's seat by marking the membership
// invited again. Always succeeds for an existing membership.
func (e Engine) DeactivateMember(ctx context.Context, tenantID, email string, actor Actor) (domain.Membership, error) {
	if !actor.atLeast(domain.RoleManager) {
		return domain.Membership{}, forbiddenRole("deactivating a member", string(domain.RoleManager))
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Membership{}, err
	}
	defer tx.Rollback()

	m, err := e.Repo.GetMembershipTx(ctx, tx, tenantID, email)
	if err != nil {
		return domain.Membership{}, err
	}
	if m.Role == domain.RoleOwner {
		return domain.Membership{}, ConflictError{"the owner membership cannot be deactivated"}
	}
	if m.Status == domain.MemberInvited {
		return m, tx.Commit()
	}
	m.Status = domain.MemberInvited
	m.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateMembership(ctx, tx, m); err != nil {
		return domain.Membership{}, err
	}
	return m, tx.Commit()
}
