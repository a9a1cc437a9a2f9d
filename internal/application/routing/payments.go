package routing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pedrolacerda/payflow/internal/application/ingest"
	domainErrors "github.com/pedrolacerda/payflow/internal/domain/errors"
	"github.com/pedrolacerda/payflow/internal/domain/event"
	"github.com/pedrolacerda/payflow/internal/domain/transaction"
	"github.com/pedrolacerda/payflow/internal/processors"
	"github.com/pedrolacerda/payflow/pkg/retry"
	"github.com/pedrolacerda/payflow/pkg/saga"
	"github.com/rs/zerolog"
)

// InitiatePaymentUseCase routes a payment, executes the processor call for the
// chosen path, and records the outcome through the same transactional pipeline
// that serves webhook events. The synchronous processor response is treated as
// a locally-synthesized event whose idempotency key is the transaction ID.
type InitiatePaymentUseCase struct {
	engine       *Engine
	adapters     *processors.Factory
	pipeline     *ingest.Pipeline
	transactions transaction.Repository
	callTimeout  time.Duration
	logger       zerolog.Logger
}

func NewInitiatePaymentUseCase(
	engine *Engine,
	adapters *processors.Factory,
	pipeline *ingest.Pipeline,
	transactions transaction.Repository,
	callTimeout time.Duration,
	logger zerolog.Logger,
) *InitiatePaymentUseCase {
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	return &InitiatePaymentUseCase{
		engine:       engine,
		adapters:     adapters,
		pipeline:     pipeline,
		transactions: transactions,
		callTimeout:  callTimeout,
		logger:       logger,
	}
}

// Execute routes and processes one payment. The returned transaction reflects
// the recorded outcome. Routing failures surface synchronously to the caller.
func (uc *InitiatePaymentUseCase) Execute(ctx context.Context, merchantID uuid.UUID, amount transaction.Amount) (*transaction.Transaction, error) {
	txn, err := uc.engine.Route(ctx, merchantID, amount)
	if err != nil {
		return nil, err
	}

	reference, procErr := uc.charge(ctx, txn)

	outcome := uc.outcomeEvent(txn, reference, procErr)
	if _, err := uc.pipeline.Process(ctx, outcome); err != nil {
		uc.logger.Error().Err(err).
			Str("transaction_id", txn.ID.String()).
			Msg("Failed to record payment outcome")
	}

	updated, err := uc.transactions.GetByID(ctx, txn.ID)
	if err != nil {
		return txn, nil
	}
	return updated, nil
}

// charge runs the processor call for the routed path with bounded timeout,
// circuit breaker, and in-process retry. Returns the processor reference on
// success.
func (uc *InitiatePaymentUseCase) charge(ctx context.Context, txn *transaction.Transaction) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, uc.callTimeout)
	defer cancel()

	switch txn.Path {
	case transaction.PathPlatform:
		return uc.chargeOne(callCtx, platformProcessor, txn.ID.String(), txn.Amount.ValueCents, txn.Amount.Currency)

	case transaction.PathExternal:
		return uc.chargeOne(callCtx, *txn.Processor, txn.ID.String(), txn.Amount.ValueCents, txn.Amount.Currency)

	case transaction.PathSplit:
		return uc.chargeSplit(callCtx, txn)

	default:
		return "", domainErrors.Fatal("unknown_path", "unknown routing path "+string(txn.Path), nil)
	}
}

// chargeSplit executes the platform slice and the external remainder as a
// two-step saga: when the external slice fails, the platform slice is refunded.
func (uc *InitiatePaymentUseCase) chargeSplit(ctx context.Context, txn *transaction.Transaction) (string, error) {
	var platformRef, externalRef string
	externalCents := txn.Amount.ValueCents - txn.SplitPlatformCents

	s := saga.New("split-payment").
		AddStep(saga.Step{
			Name: "platform-slice",
			Execute: func(ctx context.Context) error {
				ref, err := uc.chargeOne(ctx, platformProcessor, txn.ID.String()+":platform", txn.SplitPlatformCents, txn.Amount.Currency)
				if err != nil {
					return err
				}
				platformRef = ref
				return nil
			},
			Compensate: func(ctx context.Context) error {
				adapter, _, err := uc.adapters.Get(platformProcessor)
				if err != nil {
					return err
				}
				_, err = adapter.Refund(ctx, processors.RefundRequest{
					TransactionID: txn.ID.String(),
					Reference:     platformRef,
					AmountCents:   txn.SplitPlatformCents,
					Currency:      txn.Amount.Currency,
				})
				return err
			},
		}).
		AddStep(saga.Step{
			Name: "external-slice",
			Execute: func(ctx context.Context) error {
				ref, err := uc.chargeOne(ctx, *txn.Processor, txn.ID.String()+":external", externalCents, txn.Amount.Currency)
				if err != nil {
					return err
				}
				externalRef = ref
				return nil
			},
		})

	if _, err := s.Execute(ctx); err != nil {
		return "", err
	}
	return externalRef, nil
}

func (uc *InitiatePaymentUseCase) chargeOne(ctx context.Context, processor, reqID string, cents int64, currency string) (string, error) {
	adapter, breaker, err := uc.adapters.Get(processor)
	if err != nil {
		return "", err
	}

	result, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*processors.Result, error) {
		return breaker.Execute(func() (*processors.Result, error) {
			return adapter.Charge(ctx, processors.ChargeRequest{
				TransactionID: reqID,
				AmountCents:   cents,
				Currency:      currency,
			})
		})
	})
	if err != nil {
		if result != nil && result.PartialEffect {
			return "", domainErrors.Fatal("partial_effect",
				"processor reported non-idempotent partial effect, manual reconciliation required", err)
		}
		return "", err
	}
	return result.Reference, nil
}

// outcomeEvent synthesizes the ledger event for a direct processor response.
func (uc *InitiatePaymentUseCase) outcomeEvent(txn *transaction.Transaction, reference string, procErr error) *event.Event {
	eventType := EventChargeSucceeded
	payload := map[string]any{
		"transaction_id": txn.ID.String(),
		"reference":      reference,
	}
	if procErr != nil {
		eventType = EventChargeFailed
		payload["error"] = procErr.Error()
	}
	e, _ := event.New(event.LocalSource, txn.ID.String(), eventType, payload)
	return e
}

// Refund refunds a completed transaction through its processor and records the
// outcome as a synthesized event keyed by "<transaction_id>:refund".
func (uc *InitiatePaymentUseCase) Refund(ctx context.Context, txnID uuid.UUID) (*transaction.Transaction, error) {
	txn, err := uc.transactions.GetByID(ctx, txnID)
	if err != nil {
		return nil, err
	}
	if txn.Status != transaction.StatusCompleted {
		return nil, domainErrors.NewDomainError("not_refundable",
			"only completed transactions can be refunded", domainErrors.ErrInvalidStateTransition)
	}

	proc := platformProcessor
	if txn.Processor != nil && *txn.Processor != "" {
		proc = *txn.Processor
	}
	adapter, breaker, err := uc.adapters.Get(proc)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, uc.callTimeout)
	defer cancel()

	var ref string
	if txn.ProcessorTxID != nil {
		ref = *txn.ProcessorTxID
	}
	_, err = retry.DoWithResult(callCtx, retry.DefaultConfig(), func() (*processors.Result, error) {
		return breaker.Execute(func() (*processors.Result, error) {
			return adapter.Refund(callCtx, processors.RefundRequest{
				TransactionID: txn.ID.String(),
				Reference:     ref,
				AmountCents:   txn.Amount.ValueCents,
				Currency:      txn.Amount.Currency,
			})
		})
	})
	if err != nil {
		return nil, fmt.Errorf("refund call: %w", err)
	}

	refundEvent, _ := event.New(event.LocalSource, txn.ID.String()+":refund", EventRefundSucceeded, map[string]any{
		"transaction_id": txn.ID.String(),
	})
	if _, err := uc.pipeline.Process(ctx, refundEvent); err != nil {
		return nil, err
	}

	return uc.transactions.GetByID(ctx, txnID)
}
