package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/pedrolacerda/payflow/internal/domain/event"
	"github.com/rs/zerolog"
)

// backoffSchedule maps the attempt number to the delay before re-admission.
// Fixed-size array so MaxAttempts stays a constant.
var backoffSchedule = [5]time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	1 * time.Hour,
	2 * time.Hour,
}

// MaxAttempts is the last attempt that gets a retry slot. Failures beyond it
// promote to the dead-letter store.
const MaxAttempts = len(backoffSchedule)

// requeueDelay is the short delay used when re-scheduling a delivery that lost
// the claim race to another worker. It does not consume a retry attempt.
const requeueDelay = 30 * time.Second

// BackoffForAttempt returns the delay for the given attempt number (1-based)
// and whether a retry slot exists at all.
func BackoffForAttempt(attempt int) (time.Duration, bool) {
	if attempt < 1 || attempt > MaxAttempts {
		return 0, false
	}
	return backoffSchedule[attempt-1], true
}

// Scheduler owns retry scheduling and dead-letter promotion. It never runs
// business logic itself: due tasks are re-admitted through the same pipeline
// as first-time deliveries.
type Scheduler struct {
	retries     event.RetryRepository
	deadLetters event.DeadLetterRepository
	ledger      event.Ledger
	publisher   DeadLetterPublisher
	logger      zerolog.Logger
}

func NewScheduler(
	retries event.RetryRepository,
	deadLetters event.DeadLetterRepository,
	ledger event.Ledger,
	publisher DeadLetterPublisher,
	logger zerolog.Logger,
) *Scheduler {
	return &Scheduler{
		retries:     retries,
		deadLetters: deadLetters,
		ledger:      ledger,
		publisher:   publisher,
		logger:      logger,
	}
}

// Schedule records a retry slot for the failed attempt, or promotes the event
// to the dead-letter store when the backoff table is exhausted.
func (s *Scheduler) Schedule(ctx context.Context, source, eventID string, attempt int, procErr error) error {
	delay, ok := BackoffForAttempt(attempt)
	if !ok {
		return s.Promote(ctx, source, eventID, fmt.Sprintf("retries exhausted after attempt %d: %v", attempt-1, procErr))
	}

	task := &event.RetryTask{
		Source:        source,
		EventID:       eventID,
		AttemptCount:  attempt,
		NextAttemptAt: time.Now().Add(delay),
		LastError:     procErr.Error(),
	}
	if err := s.retries.Schedule(ctx, task); err != nil {
		return fmt.Errorf("schedule retry for %s:%s: %w", source, eventID, err)
	}

	s.logger.Info().
		Str("source", source).
		Str("event_id", eventID).
		Int("attempt", attempt).
		Dur("delay", delay).
		Msg("Retry scheduled")
	return nil
}

// Requeue re-schedules a delivery that found the claim held by another worker.
// The attempt count is preserved: losing a race is not a failure.
func (s *Scheduler) Requeue(ctx context.Context, source, eventID string) error {
	attempt := 1
	if existing, err := s.retries.Get(ctx, source, eventID); err == nil && existing != nil {
		attempt = existing.AttemptCount
	}
	task := &event.RetryTask{
		Source:        source,
		EventID:       eventID,
		AttemptCount:  attempt,
		NextAttemptAt: time.Now().Add(requeueDelay),
		LastError:     "claim held by another worker",
	}
	if err := s.retries.Schedule(ctx, task); err != nil {
		return fmt.Errorf("requeue %s:%s: %w", source, eventID, err)
	}
	return nil
}

// NextAttempt returns the attempt number the next failure of this event counts
// as.
func (s *Scheduler) NextAttempt(ctx context.Context, source, eventID string) int {
	task, err := s.retries.Get(ctx, source, eventID)
	if err != nil || task == nil {
		return 1
	}
	return task.AttemptCount + 1
}

// Promote terminally parks the event in the dead-letter store and cancels all
// future retries. Already-committed side effects stay committed.
func (s *Scheduler) Promote(ctx context.Context, source, eventID, reason string) error {
	rec := event.NewDeadLetter(event.KindEvent, source, eventID, reason)
	if err := s.deadLetters.Insert(ctx, rec); err != nil {
		return fmt.Errorf("insert dead letter for %s:%s: %w", source, eventID, err)
	}
	if err := s.ledger.MarkDeadLettered(ctx, source, eventID); err != nil {
		return fmt.Errorf("mark dead-lettered %s:%s: %w", source, eventID, err)
	}
	if err := s.retries.Delete(ctx, source, eventID); err != nil {
		return fmt.Errorf("delete retry task %s:%s: %w", source, eventID, err)
	}

	if s.publisher != nil {
		var payload map[string]any
		if ev, err := s.ledger.Get(ctx, source, eventID); err == nil {
			payload = ev.Payload
		}
		if err := s.publisher.PublishDeadLetter(ctx, source, eventID, reason, payload); err != nil {
			s.logger.Warn().Err(err).
				Str("source", source).
				Str("event_id", eventID).
				Msg("Failed to mirror dead letter to stream")
		}
	}

	s.logger.Error().
		Str("source", source).
		Str("event_id", eventID).
		Str("reason", reason).
		Msg("Event promoted to dead letter")
	return nil
}
