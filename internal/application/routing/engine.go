package routing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pedrolacerda/payflow/internal/application/ingest"
	domainErrors "github.com/pedrolacerda/payflow/internal/domain/errors"
	"github.com/pedrolacerda/payflow/internal/domain/event"
	"github.com/pedrolacerda/payflow/internal/domain/merchant"
	"github.com/pedrolacerda/payflow/internal/domain/transaction"
	"github.com/pedrolacerda/payflow/internal/processors"
	"github.com/rs/zerolog"
)

const platformProcessor = processors.PlatformProcessor

// Engine decides the processing path for a pending payment and persists the
// decision, its inputs, and the ledger reservation for the eventual outcome
// event before any processor is called. Routing is therefore reproducible and
// auditable even when the processor call that follows fails.
type Engine struct {
	merchants    merchant.Repository
	transactions transaction.Repository
	ledger       event.Ledger
	txm          ingest.TransactionManager
	logger       zerolog.Logger
}

func NewEngine(
	merchants merchant.Repository,
	transactions transaction.Repository,
	ledger event.Ledger,
	txm ingest.TransactionManager,
	logger zerolog.Logger,
) *Engine {
	return &Engine{
		merchants:    merchants,
		transactions: transactions,
		ledger:       ledger,
		txm:          txm,
		logger:       logger,
	}
}

// Decide evaluates the ordered rule chain for the merchant configuration.
// Pure: no I/O, fully testable rule by rule.
func Decide(cfg *merchant.RoutingConfig, connections []*merchant.ProcessorConnection, amountCents int64) (*Decision, error) {
	in := &RuleInput{
		Config:             cfg,
		AmountCents:        amountCents,
		ConnectedProcessor: pickConnected(cfg, connections),
	}

	for _, rule := range rulesFor(cfg.Mode) {
		if d := rule.Apply(in); d != nil {
			return d, nil
		}
	}
	return nil, domainErrors.ErrNoProcessorAvailable
}

// pickConnected returns the preferred processor when its connection is usable,
// otherwise the first usable connection, otherwise empty.
func pickConnected(cfg *merchant.RoutingConfig, connections []*merchant.ProcessorConnection) string {
	var first string
	for _, c := range connections {
		if !c.Usable() {
			continue
		}
		if c.Processor == cfg.PreferredProcessor {
			return c.Processor
		}
		if first == "" {
			first = c.Processor
		}
	}
	return first
}

// Route loads the merchant policy, decides the path, and atomically persists
// the pending transaction together with the received-state ledger row that
// reserves the idempotency key of the outcome event.
func (e *Engine) Route(ctx context.Context, merchantID uuid.UUID, amount transaction.Amount) (*transaction.Transaction, error) {
	if err := amount.Validate(); err != nil {
		return nil, err
	}

	cfg, err := e.merchants.GetRoutingConfig(ctx, merchantID)
	if err != nil {
		return nil, fmt.Errorf("load routing config: %w", err)
	}
	connections, err := e.merchants.ListConnections(ctx, merchantID)
	if err != nil {
		return nil, fmt.Errorf("load processor connections: %w", err)
	}

	decision, err := Decide(cfg, connections, amount.ValueCents)
	if err != nil {
		e.logger.Warn().
			Str("merchant_id", merchantID.String()).
			Int64("amount_cents", amount.ValueCents).
			Str("mode", string(cfg.Mode)).
			Msg("Routing failed, no processor available")
		return nil, err
	}

	txn, err := transaction.New(merchantID, amount, decision.Path)
	if err != nil {
		return nil, err
	}
	proc := decision.Processor
	txn.Processor = &proc
	txn.SplitPlatformCents = decision.SplitPlatformCents
	txn.RoutingMode = string(cfg.Mode)
	txn.FallbackReason = decision.FallbackReason
	txn.DecisionInputs = map[string]any{
		"rule":                decision.Rule,
		"mode":                string(cfg.Mode),
		"amount_cents":        amount.ValueCents,
		"currency":            amount.Currency,
		"preferred_processor": cfg.PreferredProcessor,
		"connected_processor": pickConnected(cfg, connections),
		"min_external_cents":  cfg.MinExternalCents,
		"max_platform_cents":  cfg.MaxPlatformCents,
		"split_threshold":     cfg.SplitThresholdCents,
		"fallback_enabled":    cfg.FallbackEnabled,
	}

	// Reserve the ledger key for the processor outcome before the call is
	// made, so a "charge succeeded" callback can never race a missing row.
	outcomeEvent, err := event.New(event.LocalSource, txn.ID.String(), "charge.pending", map[string]any{
		"transaction_id": txn.ID.String(),
	})
	if err != nil {
		return nil, err
	}

	err = e.txm.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := e.transactions.Create(txCtx, txn); err != nil {
			return fmt.Errorf("persist transaction: %w", err)
		}
		if err := e.ledger.InsertReceived(txCtx, outcomeEvent); err != nil {
			return fmt.Errorf("reserve outcome event: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info().
		Str("transaction_id", txn.ID.String()).
		Str("merchant_id", merchantID.String()).
		Str("path", string(decision.Path)).
		Str("processor", decision.Processor).
		Str("rule", decision.Rule).
		Msg("Payment routed")
	return txn, nil
}
