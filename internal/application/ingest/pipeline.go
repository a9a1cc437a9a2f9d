package ingest

import (
	"context"
	"fmt"
	"time"

	domainErrors "github.com/pedrolacerda/payflow/internal/domain/errors"
	"github.com/pedrolacerda/payflow/internal/domain/event"
	"github.com/rs/zerolog"
)

// Pipeline is the transactional processing context for inbound events.
// It admits a delivery through the idempotency guard, runs the registered
// handler inside a database transaction, and commits the domain side effect
// together with the ledger transition to processed as one atomic unit.
type Pipeline struct {
	guard     *Guard
	scheduler *Scheduler
	ledger    event.Ledger
	retries   event.RetryRepository
	txm       TransactionManager
	handlers  map[string]Handler
	logger    zerolog.Logger

	// grace period after which a processing row is treated as a crash.
	stalePeriod time.Duration
}

func NewPipeline(
	guard *Guard,
	scheduler *Scheduler,
	ledger event.Ledger,
	retries event.RetryRepository,
	txm TransactionManager,
	stalePeriod time.Duration,
	logger zerolog.Logger,
) *Pipeline {
	if stalePeriod <= 0 {
		stalePeriod = 10 * time.Minute
	}
	return &Pipeline{
		guard:       guard,
		scheduler:   scheduler,
		ledger:      ledger,
		retries:     retries,
		txm:         txm,
		handlers:    make(map[string]Handler),
		logger:      logger,
		stalePeriod: stalePeriod,
	}
}

// Register binds a handler to an event type. Events without a handler fail
// fatally: an unknown type is a contract error, not a transient condition.
func (p *Pipeline) Register(eventType string, h Handler) {
	p.handlers[eventType] = h
}

// Process runs one delivery end to end. The same path serves first-time
// delivery, webhook duplicates, retry re-admissions, and locally synthesized
// events; retry logic therefore contains no duplicated business logic.
//
// Returns the handler result (cached or fresh). Duplicate deliveries of a
// processed event return the stored result verbatim without re-running side
// effects. A delivery that lost the claim race returns (nil, nil) after being
// requeued with a short delay.
func (p *Pipeline) Process(ctx context.Context, e *event.Event) (map[string]any, error) {
	adm, err := p.guard.Admit(ctx, e)
	if err != nil {
		return nil, err
	}

	log := p.logger.With().Str("source", e.Source).Str("event_id", e.EventID).Str("type", e.Type).Logger()

	switch adm.Decision {
	case AlreadyProcessed:
		log.Debug().Msg("Duplicate delivery, replaying cached result")
		// A requeue that lands after the claim owner committed leaves a task
		// behind. Terminal states clear it so the poller stops re-claiming it.
		if err := p.retries.Delete(ctx, e.Source, e.EventID); err != nil {
			log.Error().Err(err).Msg("Failed to delete stale retry task")
		}
		return adm.CachedResult, nil

	case AlreadyProcessing:
		log.Info().Msg("Claim held by another worker, requeueing")
		if err := p.scheduler.Requeue(ctx, e.Source, e.EventID); err != nil {
			return nil, err
		}
		return nil, nil

	case DeadLettered:
		if err := p.retries.Delete(ctx, e.Source, e.EventID); err != nil {
			log.Error().Err(err).Msg("Failed to delete stale retry task")
		}
		return nil, domainErrors.ErrEventDeadLetter

	case Proceed:
		return p.execute(ctx, adm.Event, log)

	default:
		return nil, fmt.Errorf("unexpected admission decision %q", adm.Decision)
	}
}

// execute runs the handler inside one transaction with the ledger commit.
// Partial application is impossible: either the side effect, the stored
// result, and the processed transition all commit, or none do.
func (p *Pipeline) execute(ctx context.Context, e *event.Event, log zerolog.Logger) (map[string]any, error) {
	handler, ok := p.handlers[e.Type]
	if !ok {
		err := domainErrors.Fatal("unknown_event_type", "no handler registered for event type "+e.Type, nil)
		return nil, p.fail(ctx, e, err, log)
	}

	var result map[string]any
	txErr := p.txm.WithTransaction(ctx, func(txCtx context.Context) error {
		res, err := handler(txCtx, e)
		if err != nil {
			return err
		}
		result = res
		if err := p.ledger.MarkProcessed(txCtx, e.Source, e.EventID, res); err != nil {
			return fmt.Errorf("mark processed: %w", err)
		}
		// A succeeded retry no longer needs its task.
		if err := p.retries.Delete(txCtx, e.Source, e.EventID); err != nil {
			return fmt.Errorf("delete retry task: %w", err)
		}
		return nil
	})
	if txErr != nil {
		return nil, p.fail(ctx, e, txErr, log)
	}

	log.Info().Msg("Event processed")
	return result, nil
}

// fail rolls the event into the failed state and dispatches per classification:
// retryable failures get a scheduled retry slot, fatal failures go straight to
// the dead-letter store.
func (p *Pipeline) fail(ctx context.Context, e *event.Event, procErr error, log zerolog.Logger) error {
	if err := p.ledger.MarkFailed(ctx, e.Source, e.EventID, procErr.Error()); err != nil {
		return fmt.Errorf("mark failed after %v: %w", procErr, err)
	}

	if domainErrors.IsRetryable(procErr) {
		attempt := p.scheduler.NextAttempt(ctx, e.Source, e.EventID)
		log.Warn().Err(procErr).Int("attempt", attempt).Msg("Retryable processing failure")
		if err := p.scheduler.Schedule(ctx, e.Source, e.EventID, attempt, procErr); err != nil {
			return err
		}
		return procErr
	}

	log.Error().Err(procErr).Msg("Fatal processing failure")
	if err := p.scheduler.Promote(ctx, e.Source, e.EventID, procErr.Error()); err != nil {
		return err
	}
	return procErr
}

// RunDue claims due retry tasks and re-admits each event through Process.
// Concurrent pollers are safe: ClaimDue grants exclusive claims and the
// guard's atomic claim serializes any remaining overlap.
func (p *Pipeline) RunDue(ctx context.Context, limit int) (int, error) {
	tasks, err := p.retries.ClaimDue(ctx, time.Now(), limit)
	if err != nil {
		return 0, fmt.Errorf("claim due retry tasks: %w", err)
	}

	processed := 0
	for _, task := range tasks {
		ev, err := p.ledger.Get(ctx, task.Source, task.EventID)
		if err != nil {
			p.logger.Error().Err(err).
				Str("source", task.Source).
				Str("event_id", task.EventID).
				Msg("Retry task without ledger row, dropping")
			p.retries.Delete(ctx, task.Source, task.EventID)
			continue
		}
		if _, err := p.Process(ctx, ev); err != nil {
			// Already rescheduled or dead-lettered by Process.
			p.logger.Debug().Err(err).Str("event_id", task.EventID).Msg("Retry attempt failed")
			continue
		}
		processed++
	}
	return processed, nil
}

// Recover re-admits orphaned processing rows older than the grace period.
// A crashed worker leaves its claim behind; the recovery pass treats that as a
// retryable failure so the event flows back through the normal retry path.
func (p *Pipeline) Recover(ctx context.Context, limit int) (int, error) {
	cutoff := time.Now().Add(-p.stalePeriod)
	stale, err := p.ledger.ListStaleProcessing(ctx, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("list stale processing events: %w", err)
	}

	recovered := 0
	for _, ev := range stale {
		procErr := domainErrors.Retryable("processing_orphaned",
			"processing claim older than grace period, assuming worker crash", nil)
		if err := p.ledger.MarkFailed(ctx, ev.Source, ev.EventID, procErr.Error()); err != nil {
			p.logger.Error().Err(err).Str("event_id", ev.EventID).Msg("Failed to recover orphaned event")
			continue
		}
		attempt := p.scheduler.NextAttempt(ctx, ev.Source, ev.EventID)
		if err := p.scheduler.Schedule(ctx, ev.Source, ev.EventID, attempt, procErr); err != nil {
			p.logger.Error().Err(err).Str("event_id", ev.EventID).Msg("Failed to reschedule orphaned event")
			continue
		}
		recovered++
	}
	return recovered, nil
}
