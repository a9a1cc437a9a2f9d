package ingest

import (
	"context"
	"fmt"

	"github.com/pedrolacerda/payflow/internal/domain/event"
)

// Decision is the idempotency guard's verdict for one delivery.
type Decision string

const (
	// Proceed: the caller owns this delivery and must run the business logic.
	Proceed Decision = "proceed"
	// AlreadyProcessing: another worker owns the claim; requeue with a short
	// delay instead of retrying inline.
	AlreadyProcessing Decision = "already_processing"
	// AlreadyProcessed: side effects already ran; replay the cached result.
	AlreadyProcessed Decision = "already_processed"
	// DeadLettered: the event terminally exhausted retries.
	DeadLettered Decision = "dead_lettered"
)

// Admission is the guard's answer plus the ledger row backing it.
type Admission struct {
	Decision Decision
	Event    *event.Event
	// CachedResult is populated on AlreadyProcessed.
	CachedResult map[string]any
}

// Guard decides whether processing must run, is already running, or already
// completed. It is a thin wrapper over the ledger's atomic claim, which is the
// sole serialization point for concurrent deliveries of the same event key.
type Guard struct {
	ledger event.Ledger
}

func NewGuard(ledger event.Ledger) *Guard {
	return &Guard{ledger: ledger}
}

// Admit attempts to claim the delivery. Claiming inserts the ledger row in
// state processing or re-claims an existing received/failed row with a
// conditional update; a unique-key conflict resolves against the current state.
func (g *Guard) Admit(ctx context.Context, e *event.Event) (*Admission, error) {
	outcome, row, err := g.ledger.Claim(ctx, e)
	if err != nil {
		return nil, fmt.Errorf("claim event %s: %w", e.Key(), err)
	}

	switch outcome {
	case event.OutcomeClaimed:
		return &Admission{Decision: Proceed, Event: row}, nil
	case event.OutcomeProcessing:
		return &Admission{Decision: AlreadyProcessing, Event: row}, nil
	case event.OutcomeProcessed:
		return &Admission{Decision: AlreadyProcessed, Event: row, CachedResult: row.Result}, nil
	case event.OutcomeDeadLettered:
		return &Admission{Decision: DeadLettered, Event: row}, nil
	default:
		return nil, fmt.Errorf("unexpected claim outcome %q for %s", outcome, e.Key())
	}
}
