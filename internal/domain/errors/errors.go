package errors

import (
	"errors"
	"fmt"
)

var (
	// Event ledger errors
	ErrEventNotFound   = errors.New("event not found")
	ErrDuplicateEvent  = errors.New("duplicate event")
	ErrEventDeadLetter = errors.New("event is dead-lettered")

	// Transaction errors
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// Routing errors
	ErrNoProcessorAvailable  = errors.New("no processor available")
	ErrRoutingConfigNotFound = errors.New("routing config not found")
	ErrConnectionNotFound    = errors.New("processor connection not found")

	// Commission errors
	ErrObligationNotFound   = errors.New("commission obligation not found")
	ErrTransactionCovered   = errors.New("transaction already covered by an obligation")
	ErrCollectionExhausted  = errors.New("collection retries exhausted")

	// Processor adapter errors
	ErrProcessorNotFound    = errors.New("payment processor not found")
	ErrProcessorUnavailable = errors.New("payment processor unavailable")
	ErrProcessorRejected    = errors.New("payment rejected by processor")
	ErrProcessorTimeout     = errors.New("processor request timeout")

	// Retry / dead-letter errors
	ErrRetriesExhausted   = errors.New("max retry attempts exhausted")
	ErrDeadLetterNotFound = errors.New("dead letter record not found")
	ErrAlreadyResolved    = errors.New("dead letter already resolved")

	// Lock errors
	ErrLockAcquisitionFailed = errors.New("failed to acquire lock")
	ErrLockNotHeld           = errors.New("lock not held")

	// Validation errors
	ErrInvalidSignature = errors.New("invalid event signature")
	ErrValidationFailed = errors.New("validation failed")
	ErrInvalidInput     = errors.New("invalid input")
)

// Class partitions processing failures into the two recovery strategies the
// pipeline knows: schedule a retry, or promote straight to the dead-letter store.
type Class string

const (
	ClassRetryable Class = "retryable"
	ClassFatal     Class = "fatal"
)

// ProcessingError carries the retry classification of a failed event handler.
type ProcessingError struct {
	Class   Class
	Code    string
	Message string
	Err     error
}

func (e *ProcessingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// Retryable wraps err as a transient failure eligible for scheduled retry.
func Retryable(code, message string, err error) *ProcessingError {
	return &ProcessingError{Class: ClassRetryable, Code: code, Message: message, Err: err}
}

// Fatal wraps err as a permanent failure that must bypass retries.
func Fatal(code, message string, err error) *ProcessingError {
	return &ProcessingError{Class: ClassFatal, Code: code, Message: message, Err: err}
}

// IsRetryable reports whether err should be handed to the retry scheduler.
// Unclassified errors default to retryable: adapters and stores fail transiently
// far more often than handlers produce logic errors, and a wrongly retried fatal
// error still dead-letters after the backoff table runs out.
func IsRetryable(err error) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Class == ClassRetryable
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return false
	}
	if errors.Is(err, ErrInvalidSignature) || errors.Is(err, ErrInvalidStateTransition) || errors.Is(err, ErrInvalidInput) {
		return false
	}
	return true
}

// IsFatal reports whether err must bypass the retry scheduler.
func IsFatal(err error) bool {
	return !IsRetryable(err)
}

// DomainError wraps errors with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
