package ingest

import (
	"context"

	"github.com/pedrolacerda/payflow/internal/domain/event"
)

// TransactionManager defines the interface for transaction management.
// This is an application-layer port, not a domain concern.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// DeadLetterPublisher mirrors dead-letter promotions to an operator-facing
// channel (e.g. a Redis stream). Promotion never fails because of it.
type DeadLetterPublisher interface {
	PublishDeadLetter(ctx context.Context, source, eventID, reason string, payload map[string]any) error
}

// Handler executes the business side effect for one admitted event and returns
// the result that will be cached for replay to duplicate deliveries.
// The context carries the pipeline's database transaction: repository writes
// made through it commit atomically with the ledger transition.
type Handler func(ctx context.Context, e *event.Event) (map[string]any, error)
