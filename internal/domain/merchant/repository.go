package merchant

import (
	"context"

	"github.com/google/uuid"
)

// Repository reads merchant routing policy and processor connections.
// Connection establishment and onboarding are owned elsewhere; this service
// only consumes the records.
type Repository interface {
	// GetRoutingConfig returns the currently effective config for the merchant.
	GetRoutingConfig(ctx context.Context, merchantID uuid.UUID) (*RoutingConfig, error)

	// UpsertRoutingConfig stores a new config version (last-writer-wins).
	UpsertRoutingConfig(ctx context.Context, cfg *RoutingConfig) error

	// ListConnections returns all processor connections for the merchant.
	ListConnections(ctx context.Context, merchantID uuid.UUID) ([]*ProcessorConnection, error)

	// GetConnection returns the connection for a (merchant, processor) pair.
	GetConnection(ctx context.Context, merchantID uuid.UUID, processor string) (*ProcessorConnection, error)

	// ListMerchantsBySchedule returns merchant IDs whose commission collection
	// runs on the given schedule.
	ListMerchantsBySchedule(ctx context.Context, schedule CollectionSchedule) ([]uuid.UUID, error)
}
