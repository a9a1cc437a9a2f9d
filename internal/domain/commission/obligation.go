package commission

import (
	"time"

	"github.com/google/uuid"
	"github.com/pedrolacerda/payflow/internal/domain/errors"
)

// Status represents the obligation position in the collection state machine.
type Status string

const (
	StatusPending    Status = "pending"
	StatusDue        Status = "due"
	StatusCollecting Status = "collecting"
	StatusCollected  Status = "collected"
	StatusFailed     Status = "failed"
)

// Obligation tracks commission owed to the platform for a group of
// externally-processed transactions. Money owed must never drop out of
// tracking: a failed obligation is either rescheduled or flagged for manual
// follow-up, never deleted.
type Obligation struct {
	ID             uuid.UUID
	MerchantID     uuid.UUID
	TransactionIDs []uuid.UUID
	AmountCents    int64
	Currency       string
	RateBps        int32
	Status         Status
	CollectionMethod string

	CollectionAttempts int
	NextAttemptAt      *time.Time
	LastError          *string

	// ManualReview marks a failed obligation as handed to an operator; together
	// with collected it makes the obligation terminal.
	ManualReview bool

	DueAt       time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CollectedAt *time.Time
}

// New creates a due obligation covering the given transactions.
func New(merchantID uuid.UUID, txIDs []uuid.UUID, amountCents int64, currency string, rateBps int32, method string) (*Obligation, error) {
	if len(txIDs) == 0 {
		return nil, errors.NewValidationError("transactions", "obligation must cover at least one transaction")
	}
	if amountCents <= 0 {
		return nil, errors.NewValidationError("amount", "must be greater than 0")
	}
	if rateBps <= 0 || rateBps > 10_000 {
		return nil, errors.NewValidationError("rate_bps", "must be between 1 and 10000")
	}
	now := time.Now()
	return &Obligation{
		ID:               uuid.New(),
		MerchantID:       merchantID,
		TransactionIDs:   txIDs,
		AmountCents:      amountCents,
		Currency:         currency,
		RateBps:          rateBps,
		Status:           StatusDue,
		CollectionMethod: method,
		DueAt:            now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// CanTransitionTo checks whether the state machine allows the transition.
func (o *Obligation) CanTransitionTo(next Status) bool {
	transitions := map[Status][]Status{
		StatusPending:    {StatusDue},
		StatusDue:        {StatusCollecting},
		StatusCollecting: {StatusCollected, StatusFailed},
		StatusFailed:     {StatusCollecting}, // scheduled retry
		StatusCollected:  {},                 // terminal
	}
	allowed, ok := transitions[o.Status]
	if !ok {
		return false
	}
	if o.ManualReview {
		return false
	}
	for _, s := range allowed {
		if s == next {
			return true
		}
	}
	return false
}

// TransitionTo moves the obligation to the next status.
func (o *Obligation) TransitionTo(next Status) error {
	if !o.CanTransitionTo(next) {
		return errors.NewDomainError(
			"invalid_transition",
			"cannot transition obligation from "+string(o.Status)+" to "+string(next),
			errors.ErrInvalidStateTransition,
		)
	}
	o.Status = next
	o.UpdatedAt = time.Now()
	if next == StatusCollected {
		now := time.Now()
		o.CollectedAt = &now
	}
	return nil
}

// MarkCollecting claims the obligation for a settlement attempt.
func (o *Obligation) MarkCollecting() error {
	return o.TransitionTo(StatusCollecting)
}

// MarkCollected records a successful settlement.
func (o *Obligation) MarkCollected() error {
	return o.TransitionTo(StatusCollected)
}

// MarkFailed records a failed settlement attempt and the retry slot.
func (o *Obligation) MarkFailed(errMsg string, nextAttempt *time.Time) error {
	if err := o.TransitionTo(StatusFailed); err != nil {
		return err
	}
	o.CollectionAttempts++
	o.LastError = &errMsg
	o.NextAttemptAt = nextAttempt
	return nil
}

// FlagManualReview terminally parks the obligation for operator follow-up.
func (o *Obligation) FlagManualReview() error {
	if o.Status != StatusFailed {
		return errors.NewDomainError(
			"invalid_transition",
			"only failed obligations can be flagged for manual review",
			errors.ErrInvalidStateTransition,
		)
	}
	o.ManualReview = true
	o.NextAttemptAt = nil
	o.UpdatedAt = time.Now()
	return nil
}

// IsTerminal reports whether the obligation will never be collected
// automatically again. Transactions covered by a terminal failed obligation
// stay covered: operators settle them out of band.
func (o *Obligation) IsTerminal() bool {
	return o.Status == StatusCollected || (o.Status == StatusFailed && o.ManualReview)
}
