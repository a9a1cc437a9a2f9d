package event

import (
	"time"

	"github.com/google/uuid"
	"github.com/pedrolacerda/payflow/internal/domain/errors"
)

// State represents the event position in the ingestion state machine.
type State string

const (
	StateReceived     State = "received"
	StateProcessing   State = "processing"
	StateProcessed    State = "processed"
	StateFailed       State = "failed"
	StateDeadLettered State = "dead_lettered"
)

// LocalSource marks events synthesized by the routing engine itself
// (a direct synchronous processor response recorded before any retry machinery
// can observe it).
const LocalSource = "local"

// Event is the durable ledger record of one inbound processor notification.
// Rows are append-only: state and result mutate, the row is never deleted.
type Event struct {
	Source      string
	EventID     string
	Type        string
	Payload     map[string]any
	State       State
	Result      map[string]any
	LastError   *string
	ReceivedAt  time.Time
	ProcessedAt *time.Time
}

// New creates a ledger event in the received state.
func New(source, eventID, eventType string, payload map[string]any) (*Event, error) {
	if source == "" || eventID == "" {
		return nil, errors.ErrInvalidInput
	}
	if eventType == "" {
		return nil, errors.NewValidationError("type", "cannot be empty")
	}
	return &Event{
		Source:     source,
		EventID:    eventID,
		Type:       eventType,
		Payload:    payload,
		State:      StateReceived,
		ReceivedAt: time.Now(),
	}, nil
}

// Key returns the globally unique ledger key for the event.
func (e *Event) Key() string {
	return e.Source + ":" + e.EventID
}

// CanTransitionTo checks whether the state machine allows the transition.
func (e *Event) CanTransitionTo(next State) bool {
	transitions := map[State][]State{
		StateReceived:     {StateProcessing},
		StateProcessing:   {StateProcessed, StateFailed},
		StateFailed:       {StateProcessing, StateDeadLettered},
		StateProcessed:    {}, // terminal
		StateDeadLettered: {}, // terminal
	}
	allowed, ok := transitions[e.State]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == next {
			return true
		}
	}
	return false
}

// TransitionTo moves the event to the next state.
func (e *Event) TransitionTo(next State) error {
	if !e.CanTransitionTo(next) {
		return errors.NewDomainError(
			"invalid_transition",
			"cannot transition event from "+string(e.State)+" to "+string(next),
			errors.ErrInvalidStateTransition,
		)
	}
	e.State = next
	if next == StateProcessed {
		now := time.Now()
		e.ProcessedAt = &now
	}
	return nil
}

// IsTerminal reports whether the event can never be processed again.
func (e *Event) IsTerminal() bool {
	return e.State == StateProcessed || e.State == StateDeadLettered
}

// RetryTask schedules one failed event for re-admission.
// attempt_count only ever grows; next_attempt_at strictly increases per attempt.
type RetryTask struct {
	Source        string
	EventID       string
	AttemptCount  int
	NextAttemptAt time.Time
	LastError     string
	ClaimedAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DeadLetterKind distinguishes what kind of failure a dead letter tracks.
type DeadLetterKind string

const (
	KindEvent      DeadLetterKind = "event"
	KindCommission DeadLetterKind = "commission"
)

// DeadLetterRecord is the terminal holding record for an event (or commission
// obligation) that exhausted automated retry and now needs an operator.
type DeadLetterRecord struct {
	ID                  uuid.UUID
	Kind                DeadLetterKind
	Source              string
	EventID             string
	FinalError          string
	AttemptsExhaustedAt time.Time
	Resolved            bool
	ResolutionNotes     *string
	ResolvedAt          *time.Time
}

// NewDeadLetter creates an unresolved dead letter record.
func NewDeadLetter(kind DeadLetterKind, source, eventID, finalError string) *DeadLetterRecord {
	return &DeadLetterRecord{
		ID:                  uuid.New(),
		Kind:                kind,
		Source:              source,
		EventID:             eventID,
		FinalError:          finalError,
		AttemptsExhaustedAt: time.Now(),
	}
}

// Resolve marks the record handled by an operator.
func (d *DeadLetterRecord) Resolve(notes string) error {
	if d.Resolved {
		return errors.ErrAlreadyResolved
	}
	now := time.Now()
	d.Resolved = true
	d.ResolutionNotes = &notes
	d.ResolvedAt = &now
	return nil
}
