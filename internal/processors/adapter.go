package processors

import (
	"context"
)

// Result is the normalized outcome of an adapter call.
type Result struct {
	Reference    string
	Status       string // "success", "failed", "pending"
	ErrorMessage string
	// PartialEffect reports that the processor may have applied a
	// non-idempotent side effect despite the error. Such failures must not be
	// retried blindly; they go to manual reconciliation.
	PartialEffect bool
}

// Adapter is the capability one external payment processor exposes to the core.
type Adapter interface {
	// Name returns the processor identifier.
	Name() string
	// Charge processes a payment through the processor.
	Charge(ctx context.Context, req ChargeRequest) (*Result, error)
	// Refund refunds a previously charged payment.
	Refund(ctx context.Context, req RefundRequest) (*Result, error)
	// Collect pulls a commission amount from the merchant's configured method.
	Collect(ctx context.Context, req CollectRequest) (*Result, error)
}

type ChargeRequest struct {
	TransactionID string
	AmountCents   int64
	Currency      string
	Method        string
	Metadata      map[string]any
}

type RefundRequest struct {
	TransactionID string
	Reference     string
	AmountCents   int64
	Currency      string
}

type CollectRequest struct {
	ObligationID string
	MerchantID   string
	AmountCents  int64
	Currency     string
	Method       string
}
