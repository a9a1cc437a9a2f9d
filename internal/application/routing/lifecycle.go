package routing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pedrolacerda/payflow/internal/application/ingest"
	domainErrors "github.com/pedrolacerda/payflow/internal/domain/errors"
	"github.com/pedrolacerda/payflow/internal/domain/event"
	"github.com/pedrolacerda/payflow/internal/domain/transaction"
)

// Lifecycle event types. Processor webhooks and locally synthesized outcome
// events share these; both flow through the same pipeline.
const (
	EventChargeSucceeded = "charge.succeeded"
	EventChargeFailed    = "charge.failed"
	EventRefundSucceeded = "refund.succeeded"
)

// RegisterLifecycleHandlers binds the transaction status transitions to their
// event types. Handlers run inside the pipeline's transaction: the status
// update and the ledger transition commit atomically.
func RegisterLifecycleHandlers(p *ingest.Pipeline, transactions transaction.Repository) {
	h := &lifecycleHandlers{transactions: transactions}
	p.Register(EventChargeSucceeded, h.chargeSucceeded)
	p.Register(EventChargeFailed, h.chargeFailed)
	p.Register(EventRefundSucceeded, h.refundSucceeded)
}

type lifecycleHandlers struct {
	transactions transaction.Repository
}

func (h *lifecycleHandlers) chargeSucceeded(ctx context.Context, e *event.Event) (map[string]any, error) {
	txn, err := h.load(ctx, e)
	if err != nil {
		return nil, err
	}

	var ref *string
	if r, ok := e.Payload["reference"].(string); ok && r != "" {
		ref = &r
	}
	if err := txn.MarkCompleted(ref); err != nil {
		// Processed events replay their cached result; reaching here means an
		// out-of-order or contradictory callback. Not transient.
		return nil, domainErrors.Fatal("invalid_transition", "charge.succeeded on "+string(txn.Status)+" transaction", err)
	}
	if err := h.transactions.Update(ctx, txn); err != nil {
		return nil, fmt.Errorf("update transaction: %w", err)
	}
	return map[string]any{
		"transaction_id": txn.ID.String(),
		"status":         string(txn.Status),
	}, nil
}

func (h *lifecycleHandlers) chargeFailed(ctx context.Context, e *event.Event) (map[string]any, error) {
	txn, err := h.load(ctx, e)
	if err != nil {
		return nil, err
	}

	reason, _ := e.Payload["error"].(string)
	if reason == "" {
		reason = "processor reported failure"
	}
	if err := txn.MarkFailed(reason); err != nil {
		return nil, domainErrors.Fatal("invalid_transition", "charge.failed on "+string(txn.Status)+" transaction", err)
	}
	if err := h.transactions.Update(ctx, txn); err != nil {
		return nil, fmt.Errorf("update transaction: %w", err)
	}
	return map[string]any{
		"transaction_id": txn.ID.String(),
		"status":         string(txn.Status),
		"error":          reason,
	}, nil
}

func (h *lifecycleHandlers) refundSucceeded(ctx context.Context, e *event.Event) (map[string]any, error) {
	txn, err := h.load(ctx, e)
	if err != nil {
		return nil, err
	}

	if err := txn.MarkRefunded(); err != nil {
		return nil, domainErrors.Fatal("invalid_transition", "refund.succeeded on "+string(txn.Status)+" transaction", err)
	}
	if err := h.transactions.Update(ctx, txn); err != nil {
		return nil, fmt.Errorf("update transaction: %w", err)
	}
	return map[string]any{
		"transaction_id": txn.ID.String(),
		"status":         string(txn.Status),
	}, nil
}

// load resolves the transaction the event refers to. A malformed reference is
// fatal; a missing transaction is retryable because events across different
// keys carry no ordering guarantee and the creating write may still be in
// flight.
func (h *lifecycleHandlers) load(ctx context.Context, e *event.Event) (*transaction.Transaction, error) {
	raw, _ := e.Payload["transaction_id"].(string)
	if raw == "" {
		return nil, domainErrors.Fatal("missing_transaction_id", "event payload has no transaction_id", nil)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, domainErrors.Fatal("invalid_transaction_id", "event payload transaction_id is not a UUID", err)
	}

	txn, err := h.transactions.GetByID(ctx, id)
	if err != nil {
		return nil, domainErrors.Retryable("transaction_unavailable", "transaction not found or store unavailable", err)
	}
	return txn, nil
}
