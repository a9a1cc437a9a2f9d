package commission

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists commission obligations and their transaction coverage.
// The coverage rows carry the invariant that a transaction is referenced by at
// most one non-terminal obligation at any time.
type Repository interface {
	// Create inserts the obligation and its coverage rows atomically. Returns
	// errors.ErrTransactionCovered when any transaction is already covered by a
	// non-terminal obligation.
	Create(ctx context.Context, o *Obligation) error

	GetByID(ctx context.Context, id uuid.UUID) (*Obligation, error)
	Update(ctx context.Context, o *Obligation) error

	// ClaimDueForRetry exclusively claims failed obligations whose
	// next_attempt_at is not after now.
	ClaimDueForRetry(ctx context.Context, now time.Time, limit int) ([]*Obligation, error)

	List(ctx context.Context, f ListFilter) ([]*Obligation, error)
}

// ListFilter narrows obligation queries.
type ListFilter struct {
	MerchantID   *uuid.UUID
	Status       *Status
	ManualReview *bool
	Limit        int
	Offset       int
}
