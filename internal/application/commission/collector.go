package commission

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pedrolacerda/payflow/internal/application/ingest"
	"github.com/pedrolacerda/payflow/internal/domain/commission"
	domainErrors "github.com/pedrolacerda/payflow/internal/domain/errors"
	"github.com/pedrolacerda/payflow/internal/domain/event"
	"github.com/pedrolacerda/payflow/internal/domain/merchant"
	"github.com/pedrolacerda/payflow/internal/domain/transaction"
	"github.com/pedrolacerda/payflow/internal/processors"
	"github.com/pedrolacerda/payflow/pkg/retry"
	"github.com/rs/zerolog"
)

// scanBatchSize bounds how many uncovered transactions one run groups.
const scanBatchSize = 500

// Collector is the commission collection engine. It periodically scans
// externally-processed completed transactions not yet covered by an
// obligation, creates one obligation per merchant run, and drives settlement
// with the same backoff table the event pipeline uses.
type Collector struct {
	merchants    merchant.Repository
	transactions transaction.Repository
	obligations  commission.Repository
	deadLetters  event.DeadLetterRepository
	adapters     *processors.Factory
	txm          ingest.TransactionManager
	callTimeout  time.Duration
	logger       zerolog.Logger
}

func NewCollector(
	merchants merchant.Repository,
	transactions transaction.Repository,
	obligations commission.Repository,
	deadLetters event.DeadLetterRepository,
	adapters *processors.Factory,
	txm ingest.TransactionManager,
	callTimeout time.Duration,
	logger zerolog.Logger,
) *Collector {
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	return &Collector{
		merchants:    merchants,
		transactions: transactions,
		obligations:  obligations,
		deadLetters:  deadLetters,
		adapters:     adapters,
		txm:          txm,
		callTimeout:  callTimeout,
		logger:       logger,
	}
}

// RunSchedule collects for every merchant configured on the given schedule.
func (c *Collector) RunSchedule(ctx context.Context, schedule merchant.CollectionSchedule) error {
	merchants, err := c.merchants.ListMerchantsBySchedule(ctx, schedule)
	if err != nil {
		return fmt.Errorf("list merchants for schedule %s: %w", schedule, err)
	}
	for _, id := range merchants {
		if err := c.Collect(ctx, id); err != nil {
			c.logger.Error().Err(err).Str("merchant_id", id.String()).Msg("Commission run failed")
		}
	}
	return nil
}

// Collect creates and settles one obligation covering the merchant's currently
// uncovered external volume. A merchant with nothing to bill is a no-op.
func (c *Collector) Collect(ctx context.Context, merchantID uuid.UUID) error {
	cfg, err := c.merchants.GetRoutingConfig(ctx, merchantID)
	if err != nil {
		return fmt.Errorf("load routing config: %w", err)
	}

	uncovered, err := c.transactions.ListUncovered(ctx, merchantID, scanBatchSize)
	if err != nil {
		return fmt.Errorf("scan uncovered transactions: %w", err)
	}
	if len(uncovered) == 0 {
		return nil
	}

	var volumeCents int64
	currency := uncovered[0].Amount.Currency
	txIDs := make([]uuid.UUID, 0, len(uncovered))
	for _, t := range uncovered {
		if t.Amount.Currency != currency {
			// One obligation per currency; leave the rest for the next run.
			continue
		}
		volumeCents += t.ExternalCents()
		txIDs = append(txIDs, t.ID)
	}

	rate := resolveRateBps(cfg, volumeCents)
	amount := commissionCents(volumeCents, rate)
	if amount <= 0 {
		return nil
	}

	obl, err := commission.New(merchantID, txIDs, amount, currency, rate, cfg.CollectionMethod)
	if err != nil {
		return err
	}

	// Coverage rows insert atomically with the obligation; a transaction
	// already covered by a non-terminal obligation aborts the whole create.
	if err := c.txm.WithTransaction(ctx, func(txCtx context.Context) error {
		return c.obligations.Create(txCtx, obl)
	}); err != nil {
		return fmt.Errorf("create obligation: %w", err)
	}

	c.logger.Info().
		Str("obligation_id", obl.ID.String()).
		Str("merchant_id", merchantID.String()).
		Int64("amount_cents", amount).
		Int32("rate_bps", rate).
		Int("transactions", len(txIDs)).
		Msg("Commission obligation created")

	return c.Settle(ctx, obl)
}

// Settle attempts collection for one obligation. Failure schedules a retry
// with the shared backoff table on collection_attempt_count; exhaustion flags
// the obligation for manual review and records a dead letter. Money owed never
// silently leaves tracking.
func (c *Collector) Settle(ctx context.Context, obl *commission.Obligation) error {
	// Obligations claimed by ClaimDueForRetry arrive already collecting; the
	// claim flipped the status as its exclusivity guarantee.
	if obl.Status != commission.StatusCollecting {
		if err := obl.MarkCollecting(); err != nil {
			return err
		}
		if err := c.obligations.Update(ctx, obl); err != nil {
			return fmt.Errorf("mark collecting: %w", err)
		}
	}

	collectErr := c.callCollect(ctx, obl)
	if collectErr == nil {
		return c.finishCollected(ctx, obl)
	}

	attempt := obl.CollectionAttempts + 1
	delay, ok := ingest.BackoffForAttempt(attempt)
	if !ok || domainErrors.IsFatal(collectErr) {
		return c.exhaust(ctx, obl, collectErr)
	}

	next := time.Now().Add(delay)
	if err := obl.MarkFailed(collectErr.Error(), &next); err != nil {
		return err
	}
	if err := c.obligations.Update(ctx, obl); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}

	c.logger.Warn().Err(collectErr).
		Str("obligation_id", obl.ID.String()).
		Int("attempt", attempt).
		Dur("delay", delay).
		Msg("Collection attempt failed, retry scheduled")
	return nil
}

// RunDueSettlements retries failed obligations whose backoff slot has passed.
func (c *Collector) RunDueSettlements(ctx context.Context, limit int) (int, error) {
	due, err := c.obligations.ClaimDueForRetry(ctx, time.Now(), limit)
	if err != nil {
		return 0, fmt.Errorf("claim due obligations: %w", err)
	}
	settled := 0
	for _, obl := range due {
		if err := c.Settle(ctx, obl); err != nil {
			c.logger.Error().Err(err).Str("obligation_id", obl.ID.String()).Msg("Settlement retry failed")
			continue
		}
		if obl.Status == commission.StatusCollected {
			settled++
		}
	}
	return settled, nil
}

func (c *Collector) callCollect(ctx context.Context, obl *commission.Obligation) error {
	method := obl.CollectionMethod
	if method == "" {
		method = processors.PlatformProcessor
	}
	adapter, breaker, err := c.adapters.Get(processors.PlatformProcessor)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	result, err := retry.DoWithResult(callCtx, retry.DefaultConfig(), func() (*processors.Result, error) {
		return breaker.Execute(func() (*processors.Result, error) {
			return adapter.Collect(callCtx, processors.CollectRequest{
				ObligationID: obl.ID.String(),
				MerchantID:   obl.MerchantID.String(),
				AmountCents:  obl.AmountCents,
				Currency:     obl.Currency,
				Method:       method,
			})
		})
	})
	if err != nil {
		if result != nil && result.PartialEffect {
			return domainErrors.Fatal("partial_effect",
				"collection processor reported partial effect, manual reconciliation required", err)
		}
		return err
	}
	return nil
}

// finishCollected commits the collected status and the per-transaction
// commission amounts as one unit.
func (c *Collector) finishCollected(ctx context.Context, obl *commission.Obligation) error {
	if err := obl.MarkCollected(); err != nil {
		return err
	}
	err := c.txm.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := c.obligations.Update(txCtx, obl); err != nil {
			return err
		}
		// Per-transaction shares floor independently; the last transaction
		// absorbs the remainder so Σ(share) reconciles to the obligation.
		remaining := obl.AmountCents
		for i, txID := range obl.TransactionIDs {
			txn, err := c.transactions.GetByID(txCtx, txID)
			if err != nil {
				return err
			}
			share := commissionCents(txn.ExternalCents(), obl.RateBps)
			if i == len(obl.TransactionIDs)-1 {
				share = remaining
			}
			remaining -= share
			if err := c.transactions.SetCommissionOwed(txCtx, txID, share); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("commit collected obligation: %w", err)
	}

	c.logger.Info().
		Str("obligation_id", obl.ID.String()).
		Int64("amount_cents", obl.AmountCents).
		Msg("Commission collected")
	return nil
}

// exhaust terminally parks the obligation for operator follow-up.
func (c *Collector) exhaust(ctx context.Context, obl *commission.Obligation, collectErr error) error {
	if err := obl.MarkFailed(collectErr.Error(), nil); err != nil {
		return err
	}
	if err := obl.FlagManualReview(); err != nil {
		return err
	}
	if err := c.obligations.Update(ctx, obl); err != nil {
		return fmt.Errorf("flag manual review: %w", err)
	}

	rec := event.NewDeadLetter(event.KindCommission, "commission", obl.ID.String(),
		fmt.Sprintf("collection exhausted after %d attempts: %v", obl.CollectionAttempts, collectErr))
	if err := c.deadLetters.Insert(ctx, rec); err != nil {
		return fmt.Errorf("record collection dead letter: %w", err)
	}

	c.logger.Error().Err(collectErr).
		Str("obligation_id", obl.ID.String()).
		Int("attempts", obl.CollectionAttempts).
		Msg("Commission collection exhausted, flagged for manual review")
	return nil
}
