package event

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ClaimOutcome is the result of an atomic ledger claim for one event key.
type ClaimOutcome string

const (
	// OutcomeClaimed means the caller owns processing for this delivery.
	OutcomeClaimed ClaimOutcome = "claimed"
	// OutcomeProcessing means another worker holds the claim right now.
	OutcomeProcessing ClaimOutcome = "processing"
	// OutcomeProcessed means side effects already ran; the stored result applies.
	OutcomeProcessed ClaimOutcome = "processed"
	// OutcomeDeadLettered means retries are terminally cancelled.
	OutcomeDeadLettered ClaimOutcome = "dead_lettered"
)

// Ledger is the durable event store. The Claim operation is the sole
// serialization point for concurrent deliveries of the same event key.
type Ledger interface {
	// Claim atomically inserts the event in state processing, or, when a row for
	// the key already exists, resolves the duplicate against the current state.
	// A row in received or failed state is re-claimed with a conditional update.
	Claim(ctx context.Context, e *Event) (ClaimOutcome, *Event, error)

	// InsertReceived records an event in the received state without claiming it.
	// Used by the routing engine to persist a synthesized event before the
	// processor call it describes is made. Inserting an existing key is a no-op.
	InsertReceived(ctx context.Context, e *Event) error

	Get(ctx context.Context, source, eventID string) (*Event, error)

	// MarkProcessed transitions processing->processed and stores the handler
	// result for verbatim replay to duplicate deliveries.
	MarkProcessed(ctx context.Context, source, eventID string, result map[string]any) error

	// MarkFailed transitions processing->failed and records the error.
	MarkFailed(ctx context.Context, source, eventID string, processingErr string) error

	// MarkDeadLettered transitions failed->dead_lettered.
	MarkDeadLettered(ctx context.Context, source, eventID string) error

	// ListStaleProcessing returns events stuck in processing longer than the
	// grace period: the crash-recovery signal for the two-phase write.
	ListStaleProcessing(ctx context.Context, olderThan time.Time, limit int) ([]*Event, error)

	// List returns ledger rows for audit, newest first.
	List(ctx context.Context, filter ListFilter) ([]*Event, error)
}

// ListFilter narrows ledger audit queries.
type ListFilter struct {
	Source string
	State  *State
	Limit  int
	Offset int
}

// RetryRepository stores scheduled re-admissions for failed events.
type RetryRepository interface {
	// Schedule upserts the task for the event key. attempt_count must only grow.
	Schedule(ctx context.Context, task *RetryTask) error

	// ClaimDue exclusively claims tasks whose next_attempt_at is not after now.
	// A claimed task is invisible to concurrent pollers until released or deleted.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*RetryTask, error)

	// Release returns an unfinished claimed task to the pool.
	Release(ctx context.Context, source, eventID string) error

	Get(ctx context.Context, source, eventID string) (*RetryTask, error)

	// Delete removes the task after success or dead-letter promotion.
	Delete(ctx context.Context, source, eventID string) error
}

// DeadLetterRepository stores terminally failed events pending manual resolution.
type DeadLetterRepository interface {
	Insert(ctx context.Context, rec *DeadLetterRecord) error
	Get(ctx context.Context, id uuid.UUID) (*DeadLetterRecord, error)
	List(ctx context.Context, resolved *bool, limit, offset int) ([]*DeadLetterRecord, error)
	Update(ctx context.Context, rec *DeadLetterRecord) error
}
