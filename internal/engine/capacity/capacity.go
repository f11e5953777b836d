// Package capacity is the ledger gating consumption of a tenant's bounded
// resources: membership seats and public-listing slots. Usage is recomputed
// from live counts inside the caller's transaction rather than tracked in a
// counter, so releasing a resource needs no bookkeeping. Reservations happen
// only inside admission transactions; nothing else may touch these counts.
package capacity

import (
	"context"
	"database/sql"
	"fmt"

	"crewline/internal/repo"
)

// LimitError reports an exhausted resource, carrying the usage the caller
// should surface to the client.
type LimitError struct {
	Resource string
	Used     int
	Limit    int
}

func (e LimitError) Error() string {
	return fmt.Sprintf("%s limit reached (%d of %d used)", e.Resource, e.Used, e.Limit)
}

// Service answers whether one more unit of a resource may be consumed. All
// checks run against the transaction passed in, so a concurrent reservation
// either sees this one's writes or serializes behind it.
type Service struct {
	Repo repo.Repo
}

// ReserveSeat admits one additional active membership for the tenant. The
// caller must insert or activate the membership in the same transaction.
func (s Service) ReserveSeat(ctx context.Context, tx *sql.Tx, tenantID string, limit int) error {
	used, err := s.Repo.CountActiveMembershipsTx(ctx, tx, tenantID)
	if err != nil {
		return fmt.Errorf("count seats: %w", err)
	}
	if used >= limit {
		return LimitError{Resource: "seats", Used: used, Limit: limit}
	}
	return nil
}

// ReservePublicSlot admits one additional public listing for the tenant. The
// caller must persist the publication in the same transaction.
func (s Service) ReservePublicSlot(ctx context.Context, tx *sql.Tx, tenantID string, limit int) error {
	used, err := s.Repo.CountPublishedTx(ctx, tx, tenantID)
	if err != nil {
		return fmt.Errorf("count public listings: %w", err)
	}
	if used >= limit {
		return LimitError{Resource: "public listings", Used: used, Limit: limit}
	}
	return nil
}
