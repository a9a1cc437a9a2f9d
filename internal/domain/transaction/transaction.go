package transaction

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pedrolacerda/payflow/internal/domain/errors"
)

// Path is the processing channel chosen by the routing engine.
type Path string

const (
	PathPlatform Path = "platform"
	PathExternal Path = "external"
	PathSplit    Path = "split"
)

// Status represents the transaction position in the state machine.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// Amount represents a monetary amount in the smallest currency unit (e.g. cents).
type Amount struct {
	ValueCents int64
	Currency   string
}

// String returns a human-readable representation of the amount.
func (a Amount) String() string {
	whole := a.ValueCents / 100
	frac := a.ValueCents % 100
	if frac < 0 {
		frac = -frac
	}
	return fmt.Sprintf("%d.%02d %s", whole, frac, a.Currency)
}

// Validate checks that the amount is valid.
func (a Amount) Validate() error {
	if a.ValueCents <= 0 {
		return errors.NewValidationError("amount", "must be greater than 0")
	}
	if a.Currency == "" {
		return errors.NewValidationError("currency", "cannot be empty")
	}
	if len(a.Currency) != 3 {
		return errors.NewValidationError("currency", "must be a 3-letter ISO code")
	}
	return nil
}

// Transaction is one routed payment. The routing decision and its inputs are
// frozen on the row at creation time so routing stays reproducible even when
// the processor call that follows it fails.
type Transaction struct {
	ID         uuid.UUID
	MerchantID uuid.UUID
	Amount     Amount
	Path       Path
	Processor  *string
	Status     Status

	// SplitPlatformCents is the platform slice when Path is split, 0 otherwise.
	SplitPlatformCents int64

	// CommissionOwedCents is set by the commission engine once the covering
	// obligation settles. Only that engine writes this field.
	CommissionOwedCents int64

	// Routing audit trail.
	RoutingMode    string
	FallbackReason *string
	DecisionInputs map[string]any

	ProcessorTxID *string
	LastError     *string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// New creates a pending transaction for a routing decision.
func New(merchantID uuid.UUID, amount Amount, path Path) (*Transaction, error) {
	if err := amount.Validate(); err != nil {
		return nil, err
	}
	now := time.Now()
	return &Transaction{
		ID:             uuid.New(),
		MerchantID:     merchantID,
		Amount:         amount,
		Path:           path,
		Status:         StatusPending,
		DecisionInputs: make(map[string]any),
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// CanTransitionTo checks if the transaction can transition to the given status.
func (t *Transaction) CanTransitionTo(next Status) bool {
	transitions := map[Status][]Status{
		StatusPending:   {StatusCompleted, StatusFailed},
		StatusFailed:    {StatusCompleted}, // late success callback
		StatusCompleted: {StatusRefunded},
		StatusRefunded:  {}, // terminal
	}
	allowed, ok := transitions[t.Status]
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

// TransitionTo transitions the transaction to a new status.
func (t *Transaction) TransitionTo(next Status) error {
	if !t.CanTransitionTo(next) {
		return errors.NewDomainError(
			"invalid_transition",
			"cannot transition from "+string(t.Status)+" to "+string(next),
			errors.ErrInvalidStateTransition,
		)
	}
	t.Status = next
	t.UpdatedAt = time.Now()
	if next == StatusCompleted || next == StatusFailed {
		now := time.Now()
		t.CompletedAt = &now
	}
	return nil
}

// MarkCompleted transitions to completed and records the processor reference.
func (t *Transaction) MarkCompleted(processorTxID *string) error {
	if err := t.TransitionTo(StatusCompleted); err != nil {
		return err
	}
	if processorTxID != nil {
		t.ProcessorTxID = processorTxID
	}
	return nil
}

// MarkFailed transitions to failed and records the error.
func (t *Transaction) MarkFailed(errorMsg string) error {
	if err := t.TransitionTo(StatusFailed); err != nil {
		return err
	}
	t.LastError = &errorMsg
	return nil
}

// MarkRefunded transitions to refunded.
func (t *Transaction) MarkRefunded() error {
	return t.TransitionTo(StatusRefunded)
}

// CommissionEligible reports whether the commission engine may bill this row.
func (t *Transaction) CommissionEligible() bool {
	return t.Path != PathPlatform && t.Status == StatusCompleted
}

// ExternalCents returns the externally processed portion of the amount.
func (t *Transaction) ExternalCents() int64 {
	switch t.Path {
	case PathExternal:
		return t.Amount.ValueCents
	case PathSplit:
		return t.Amount.ValueCents - t.SplitPlatformCents
	default:
		return 0
	}
}
