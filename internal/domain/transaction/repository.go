package transaction

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists routed transactions.
type Repository interface {
	Create(ctx context.Context, t *Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error)
	Update(ctx context.Context, t *Transaction) error
	List(ctx context.Context, f ListFilter) ([]*Transaction, error)

	// ListUncovered returns commission-eligible transactions for the merchant
	// that are not referenced by any non-terminal commission obligation.
	ListUncovered(ctx context.Context, merchantID uuid.UUID, limit int) ([]*Transaction, error)

	// SetCommissionOwed records the commission amount settled against the row.
	// Only the commission engine calls this.
	SetCommissionOwed(ctx context.Context, id uuid.UUID, cents int64) error
}

// ListFilter narrows transaction queries.
type ListFilter struct {
	MerchantID *uuid.UUID
	Status     *Status
	Path       *Path
	Limit      int
	Offset     int
}
