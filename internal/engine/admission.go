package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"crewline/internal/domain"
	"crewline/internal/events"
	"crewline/internal/repo"
)

// AcceptResult is the state after a bid acceptance: the assigned work order,
// the winning bid, and the executor membership that was activated or created.
type AcceptResult struct {
	WorkOrder      domain.WorkOrder
	Bid            domain.Bid
	Membership     domain.Membership
	NotifyExecutor bool
}

// AcceptBid admits a contractor onto the tenant and assigns them the work
// order, all in one transaction. Seat capacity is checked before any write;
// a full tenant aborts the whole acceptance.
func (e Engine) AcceptBid(ctx context.Context, workOrderID, bidID string, actor Actor) (AcceptResult, error) {
	if !actor.atLeast(domain.RoleManager) {
		return AcceptResult{}, forbiddenRole("accepting a bid", string(domain.RoleManager))
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return AcceptResult{}, err
	}
	defer tx.Rollback()

	w, err := e.Repo.GetWorkOrderTx(ctx, tx, workOrderID)
	if err != nil {
		return AcceptResult{}, err
	}
	if w.TenantID == nil {
		return AcceptResult{}, ValidationError{"work order has no tenant; cannot admit a contractor"}
	}
	if w.AcceptedBidID != nil {
		return AcceptResult{}, ConflictError{"work order already has an accepted bid"}
	}
	b, err := e.Repo.GetBidTx(ctx, tx, bidID)
	if err != nil {
		return AcceptResult{}, err
	}
	if b.WorkOrderID != w.ID {
		return AcceptResult{}, repo.ErrNotFound
	}
	if b.Status == domain.BidWithdrawn || b.Status == domain.BidRejected {
		return AcceptResult{}, ConflictError{fmt.Sprintf("bid is %s and cannot be accepted", b.Status)}
	}
	if b.ContractorEmail == "" {
		return AcceptResult{}, ValidationError{"bid carries no contractor email; cannot create a membership"}
	}

	m, err := e.admitContractor(ctx, tx, *w.TenantID, b)
	if err != nil {
		return AcceptResult{}, err
	}

	now := e.nowString()
	w.AcceptedBidID = &b.ID
	w.ContractorPayment = &b.ProposedBudget
	w.PublicStatus = domain.PublicAssigned
	w.ExecutorID = b.ContractorID
	w.ExecutorName = b.ContractorName
	w.ExecutorEmail = b.ContractorEmail
	advanced := w.Status == domain.StatusToDo
	if advanced {
		w.Status = domain.StatusAssigned
	}
	w.UpdatedAt = now
	if err := e.Repo.UpdateWorkOrder(ctx, tx, w); err != nil {
		return AcceptResult{}, err
	}
	if err := e.Repo.UpdateBidStatus(ctx, tx, b.ID, domain.BidAccepted); err != nil {
		return AcceptResult{}, err
	}
	if err := e.Events.Append(ctx, tx, w.ID, domain.EventBidAccepted, actor.Name, actor.ID,
		events.Details{"bid_id": b.ID, "contractor": b.ContractorName, "payment": b.ProposedBudget}); err != nil {
		return AcceptResult{}, err
	}
	if advanced {
		if err := e.Events.Append(ctx, tx, w.ID, domain.EventTaskAssigned, actor.Name, actor.ID,
			events.Details{"executor": b.ContractorName, "executor_id": b.ContractorID, "from": domain.StatusToDo, "to": domain.StatusAssigned}); err != nil {
			return AcceptResult{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return AcceptResult{}, err
	}
	b.Status = domain.BidAccepted
	return AcceptResult{WorkOrder: w, Bid: b, Membership: m, NotifyExecutor: true}, nil
}

// admitContractor activates the contractor's membership, reserving a seat
// when they do not already hold an active one.
func (e Engine) admitContractor(ctx context.Context, tx *sql.Tx, tenantID string, b domain.Bid) (domain.Membership, error) {
	now := e.nowString()
	m, err := e.Repo.GetMembershipTx(ctx, tx, tenantID, b.ContractorEmail)
	switch {
	case err == nil:
		if m.Status == domain.MemberActive {
			return m, nil
		}
		q, err := e.quotaFor(ctx, tx, tenantID)
		if err != nil {
			return domain.Membership{}, err
		}
		if err := e.Ledger.ReserveSeat(ctx, tx, tenantID, q.SeatsLimit); err != nil {
			return domain.Membership{}, err
		}
		m.Status = domain.MemberActive
		if !m.Role.AtLeast(domain.RoleExecutor) {
			m.Role = domain.RoleExecutor
		}
		m.UpdatedAt = now
		return m, e.Repo.UpdateMembership(ctx, tx, m)

	case errors.Is(err, repo.ErrNotFound):
		q, err := e.quotaFor(ctx, tx, tenantID)
		if err != nil {
			return domain.Membership{}, err
		}
		if err := e.Ledger.ReserveSeat(ctx, tx, tenantID, q.SeatsLimit); err != nil {
			return domain.Membership{}, err
		}
		m = domain.Membership{
			ID:        uuid.New().String(),
			TenantID:  tenantID,
			Email:     b.ContractorEmail,
			Name:      b.ContractorName,
			Role:      domain.RoleExecutor,
			Status:    domain.MemberActive,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return m, e.Repo.InsertMembership(ctx, tx, m)

	default:
		return domain.Membership{}, err
	}
}

// PublicationChange carries the listing fields a manager may set while
// publishing or editing a public work order.
type PublicationChange struct {
	Visibility        string
	PublicDescription *string
	Budget            *float64
	Currency          *string
	Skills            []string
	AllowInstantClaim *bool
}

// SetVisibility publishes or unpublishes a work order. Publication reserves a
// public-listing slot; unpublication always succeeds and frees the slot by
// closing the listing.
func (e Engine) SetVisibility(ctx context.Context, workOrderID string, change PublicationChange, actor Actor) (domain.WorkOrder, error) {
	if !actor.atLeast(domain.RoleManager) {
		return domain.WorkOrder{}, forbiddenRole("changing visibility", string(domain.RoleManager))
	}
	if change.Visibility != domain.VisibilityPublic && change.Visibility != domain.VisibilityPrivate {
		return domain.WorkOrder{}, ValidationError{fmt.Sprintf("unknown visibility %q", change.Visibility)}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	defer tx.Rollback()

	w, err := e.Repo.GetWorkOrderTx(ctx, tx, workOrderID)
	if err != nil {
		return domain.WorkOrder{}, err
	}

	if change.Visibility == domain.VisibilityPublic {
		if w.TenantID == nil {
			return domain.WorkOrder{}, ValidationError{"work order has no tenant; cannot publish"}
		}
		listed := w.Visibility == domain.VisibilityPublic && w.PublicStatus != domain.PublicClosed
		if !listed {
			q, err := e.quotaFor(ctx, tx, *w.TenantID)
			if err != nil {
				return domain.WorkOrder{}, err
			}
			if err := e.Ledger.ReservePublicSlot(ctx, tx, *w.TenantID, q.PublicListingLimit); err != nil {
				return domain.WorkOrder{}, err
			}
			w.Visibility = domain.VisibilityPublic
			w.PublicStatus = domain.PublicOpen
			if err := e.Events.Append(ctx, tx, w.ID, domain.EventPublished, actor.Name, actor.ID,
				events.Details{"public_status": w.PublicStatus}); err != nil {
				return domain.WorkOrder{}, err
			}
		}
		applyListingEdits(&w, change)
	} else {
		if w.Visibility == domain.VisibilityPublic {
			if err := e.Events.Append(ctx, tx, w.ID, domain.EventUnpublished, actor.Name, actor.ID, nil); err != nil {
				return domain.WorkOrder{}, err
			}
		}
		w.Visibility = domain.VisibilityPrivate
		w.PublicStatus = domain.PublicClosed
	}

	w.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateWorkOrder(ctx, tx, w); err != nil {
		return domain.WorkOrder{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkOrder{}, err
	}
	return w, nil
}

func applyListingEdits(w *domain.WorkOrder, change PublicationChange) {
	if change.PublicDescription != nil {
		w.PublicDescription = *change.PublicDescription
	}
	if change.Budget != nil {
		w.Budget = change.Budget
	}
	if change.Currency != nil {
		w.Currency = *change.Currency
	}
	if change.Skills != nil {
		w.Skills = change.Skills
	}
	if change.AllowInstantClaim != nil {
		w.AllowInstantClaim = *change.AllowInstantClaim
	}
}
