package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/pedrolacerda/payflow/internal/domain/errors"
	"github.com/pedrolacerda/payflow/internal/domain/event"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const eventColumns = `source, event_id, event_type, payload, state, result, last_error, received_at, processed_at`

// EventRepository implements event.Ledger using PostgreSQL. The unique key on
// (source, event_id) plus conditional updates make Claim the atomic
// insert-if-absent primitive the idempotency guard relies on.
type EventRepository struct {
	pool *pgxpool.Pool
}

func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

func (r *EventRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// Claim atomically takes ownership of processing for the event key.
// Insert wins the first delivery; ON CONFLICT DO NOTHING plus a readback
// resolves duplicates against the current state. Rows in received or failed
// state are re-claimed with a compare-and-swap update so a lost race can never
// double-run the handler.
func (r *EventRepository) Claim(ctx context.Context, e *event.Event) (event.ClaimOutcome, *event.Event, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return "", nil, fmt.Errorf("marshal event payload: %w", err)
	}

	tag, err := r.db(ctx).Exec(ctx,
		`INSERT INTO events (source, event_id, event_type, payload, state, received_at, claimed_at)
		 VALUES ($1, $2, $3, $4, 'processing', $5, NOW())
		 ON CONFLICT (source, event_id) DO NOTHING`,
		e.Source, e.EventID, e.Type, payload, time.Now(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("claim insert: %w", err)
	}
	if tag.RowsAffected() == 1 {
		claimed := *e
		claimed.State = event.StateProcessing
		return event.OutcomeClaimed, &claimed, nil
	}

	existing, err := r.Get(ctx, e.Source, e.EventID)
	if err != nil {
		return "", nil, err
	}

	switch existing.State {
	case event.StateProcessed:
		return event.OutcomeProcessed, existing, nil
	case event.StateDeadLettered:
		return event.OutcomeDeadLettered, existing, nil
	case event.StateProcessing:
		return event.OutcomeProcessing, existing, nil
	case event.StateReceived, event.StateFailed:
		// Re-claim. A received row is a reservation written before the
		// processor call; adopt the delivery's type and payload on claim.
		tag, err := r.db(ctx).Exec(ctx,
			`UPDATE events
			 SET state = 'processing',
			     claimed_at = NOW(),
			     event_type = CASE WHEN state = 'received' THEN $3 ELSE event_type END,
			     payload    = CASE WHEN state = 'received' THEN $4 ELSE payload END
			 WHERE source = $1 AND event_id = $2 AND state IN ('received', 'failed')`,
			e.Source, e.EventID, e.Type, payload,
		)
		if err != nil {
			return "", nil, fmt.Errorf("claim update: %w", err)
		}
		if tag.RowsAffected() == 0 {
			// Lost the race to another worker between readback and update.
			return event.OutcomeProcessing, existing, nil
		}
		reclaimed, err := r.Get(ctx, e.Source, e.EventID)
		if err != nil {
			return "", nil, err
		}
		return event.OutcomeClaimed, reclaimed, nil
	default:
		return "", nil, fmt.Errorf("event %s in unknown state %q", existing.Key(), existing.State)
	}
}

// InsertReceived records a reservation row; inserting an existing key is a no-op.
func (r *EventRepository) InsertReceived(ctx context.Context, e *event.Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = r.db(ctx).Exec(ctx,
		`INSERT INTO events (source, event_id, event_type, payload, state, received_at)
		 VALUES ($1, $2, $3, $4, 'received', $5)
		 ON CONFLICT (source, event_id) DO NOTHING`,
		e.Source, e.EventID, e.Type, payload, e.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("insert received event: %w", err)
	}
	return nil
}

func (r *EventRepository) Get(ctx context.Context, source, eventID string) (*event.Event, error) {
	return r.scanEvent(r.db(ctx).QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE source = $1 AND event_id = $2`,
		source, eventID))
}

func (r *EventRepository) MarkProcessed(ctx context.Context, source, eventID string, result map[string]any) error {
	res, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal event result: %w", err)
	}
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE events SET state = 'processed', result = $3, processed_at = NOW()
		 WHERE source = $1 AND event_id = $2 AND state = 'processing'`,
		source, eventID, res,
	)
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.NewDomainError("claim_lost",
			"event not in processing state", domainErrors.ErrInvalidStateTransition)
	}
	return nil
}

func (r *EventRepository) MarkFailed(ctx context.Context, source, eventID string, processingErr string) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE events SET state = 'failed', last_error = $3
		 WHERE source = $1 AND event_id = $2 AND state = 'processing'`,
		source, eventID, processingErr,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.NewDomainError("claim_lost",
			"event not in processing state", domainErrors.ErrInvalidStateTransition)
	}
	return nil
}

func (r *EventRepository) MarkDeadLettered(ctx context.Context, source, eventID string) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE events SET state = 'dead_lettered'
		 WHERE source = $1 AND event_id = $2 AND state = 'failed'`,
		source, eventID,
	)
	if err != nil {
		return fmt.Errorf("mark dead-lettered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.NewDomainError("invalid_transition",
			"event not in failed state", domainErrors.ErrInvalidStateTransition)
	}
	return nil
}

func (r *EventRepository) ListStaleProcessing(ctx context.Context, olderThan time.Time, limit int) ([]*event.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE state = 'processing' AND claimed_at < $1
		 ORDER BY claimed_at ASC LIMIT $2`,
		olderThan, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list stale processing: %w", err)
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *EventRepository) List(ctx context.Context, f event.ListFilter) ([]*event.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE 1=1`
	args := []any{}
	argIdx := 1

	if f.Source != "" {
		query += fmt.Sprintf(" AND source = $%d", argIdx)
		args = append(args, f.Source)
		argIdx++
	}
	if f.State != nil {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, string(*f.State))
		argIdx++
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	query += fmt.Sprintf(" ORDER BY received_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *EventRepository) collect(rows pgx.Rows) ([]*event.Event, error) {
	var events []*event.Event
	for rows.Next() {
		e, err := r.scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *EventRepository) scanEvent(s scanner) (*event.Event, error) {
	e := &event.Event{}
	var (
		state   string
		payload []byte
		result  []byte
	)
	err := s.Scan(&e.Source, &e.EventID, &e.Type, &payload, &state, &result, &e.LastError, &e.ReceivedAt, &e.ProcessedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrEventNotFound
		}
		return nil, fmt.Errorf("scan event: %w", err)
	}
	e.State = event.State(state)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal event payload: %w", err)
		}
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &e.Result); err != nil {
			return nil, fmt.Errorf("unmarshal event result: %w", err)
		}
	}
	return e, nil
}
