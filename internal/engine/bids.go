package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"crewline/internal/domain"
	"crewline/internal/repo"
)

// BidSubmission is a contractor's application to a public listing.
type BidSubmission struct {
	CoverMessage   string
	ProposedBudget float64
	ETADays        *int
	Attachments    []string
}

// SubmitBid files a contractor's bid against a public listing. The contractor
// identity is snapshotted onto the bid so later acceptance does not depend on
// the directory still resolving.
func (e Engine) SubmitBid(ctx context.Context, workOrderID, contractorID string, sub BidSubmission, actor Actor) (domain.Bid, error) {
	if strings.TrimSpace(sub.CoverMessage) == "" {
		return domain.Bid{}, ValidationError{"cover message is required"}
	}
	if sub.ProposedBudget <= 0 {
		return domain.Bid{}, ValidationError{"proposed budget must be positive"}
	}
	u, err := e.Users.ResolveUser(ctx, contractorID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Bid{}, ValidationError{fmt.Sprintf("unknown contractor %q", contractorID)}
	}
	if err != nil {
		return domain.Bid{}, fmt.Errorf("resolve contractor: %w", err)
	}
	if u.ProfileType != domain.ProfileContractor {
		return domain.Bid{}, ForbiddenError{"only contractor profiles may bid"}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bid{}, err
	}
	defer tx.Rollback()

	w, err := e.Repo.GetWorkOrderTx(ctx, tx, workOrderID)
	if err != nil {
		return domain.Bid{}, err
	}
	if w.Visibility != domain.VisibilityPublic || w.PublicStatus == domain.PublicClosed {
		return domain.Bid{}, ForbiddenError{"work order is not open for bidding"}
	}
	exists, err := e.Repo.ActiveBidExists(ctx, tx, w.ID, u.ID)
	if err != nil {
		return domain.Bid{}, err
	}
	if exists {
		return domain.Bid{}, ConflictError{"contractor already has an active bid on this work order"}
	}

	b := domain.Bid{
		ID:              uuid.New().String(),
		WorkOrderID:     w.ID,
		TenantID:        w.TenantID,
		ContractorID:    u.ID,
		ContractorName:  u.Name,
		ContractorEmail: u.Email,
		CoverMessage:    sub.CoverMessage,
		ProposedBudget:  sub.ProposedBudget,
		ETADays:         sub.ETADays,
		Attachments:     sub.Attachments,
		Status:          domain.BidSubmitted,
		CreatedAt:       e.nowString(),
	}
	if err := e.Repo.InsertBid(ctx, tx, b); err != nil {
		return domain.Bid{}, fmt.Errorf("insert bid: %w", err)
	}
	if err := e.Repo.BumpApplicationCount(ctx, tx, w.ID, 1); err != nil {
		return domain.Bid{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Bid{}, err
	}
	return b, nil
}

// WithdrawBid retracts the contractor's own bid. The bid row stays for the
// record; only the live-bid counter goes down.
func (e Engine) WithdrawBid(ctx context.Context, bidID string, actor Actor) (domain.Bid, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bid{}, err
	}
	defer tx.Rollback()

	b, err := e.Repo.GetBidTx(ctx, tx, bidID)
	if err != nil {
		return domain.Bid{}, err
	}
	if !actor.Superuser && actor.ID != b.ContractorID {
		return domain.Bid{}, ForbiddenError{"only the bidding contractor may withdraw"}
	}
	if b.Status == domain.BidAccepted {
		return domain.Bid{}, ConflictError{"an accepted bid cannot be withdrawn"}
	}
	if b.Status == domain.BidWithdrawn {
		return b, tx.Commit()
	}
	if err := e.Repo.UpdateBidStatus(ctx, tx, b.ID, domain.BidWithdrawn); err != nil {
		return domain.Bid{}, err
	}
	if err := e.Repo.BumpApplicationCount(ctx, tx, b.WorkOrderID, -1); err != nil {
		return domain.Bid{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Bid{}, err
	}
	b.Status = domain.BidWithdrawn
	return b, nil
}

// DeleteBid removes a bid row entirely. Accepted bids are protected; the
// assignment must be undone first.
func (e Engine) DeleteBid(ctx context.Context, bidID string, actor Actor) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	b, err := e.Repo.GetBidTx(ctx, tx, bidID)
	if err != nil {
		return err
	}
	if !actor.Superuser && actor.ID != b.ContractorID && !actor.Role.AtLeast(domain.RoleManager) {
		return ForbiddenError{"only the bidding contractor or a manager may delete a bid"}
	}
	if b.Status == domain.BidAccepted {
		return ConflictError{"an accepted bid cannot be deleted; reassign the work order first"}
	}
	if err := e.Repo.DeleteBid(ctx, tx, b.ID); err != nil {
		return err
	}
	// Withdrawn and rejected bids already gave their count back.
	if b.Status != domain.BidWithdrawn && b.Status != domain.BidRejected {
		if err := e.Repo.BumpApplicationCount(ctx, tx, b.WorkOrderID, -1); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RejectBid marks a competing bid rejected without touching the work order.
func (e Engine) RejectBid(ctx context.Context, workOrderID, bidID string, actor Actor) (domain.Bid, error) {
	if !actor.atLeast(domain.RoleManager) {
		return domain.Bid{}, forbiddenRole("rejecting a bid", string(domain.RoleManager))
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bid{}, err
	}
	defer tx.Rollback()

	b, err := e.Repo.GetBidTx(ctx, tx, bidID)
	if err != nil {
		return domain.Bid{}, err
	}
	if b.WorkOrderID != workOrderID {
		return domain.Bid{}, repo.ErrNotFound
	}
	if b.Status == domain.BidAccepted {
		return domain.Bid{}, ConflictError{"an accepted bid cannot be rejected; reassign the work order first"}
	}
	if b.Status == domain.BidRejected {
		return b, tx.Commit()
	}
	if err := e.Repo.UpdateBidStatus(ctx, tx, b.ID, domain.BidRejected); err != nil {
		return domain.Bid{}, err
	}
	if err := e.Repo.BumpApplicationCount(ctx, tx, b.WorkOrderID, -1); err != nil {
		return domain.Bid{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Bid{}, err
	}
	b.Status = domain.BidRejected
	return b, nil
}
