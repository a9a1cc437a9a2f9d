package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pedrolacerda/payflow/internal/domain/event"
)

// claimLease is how long a claimed retry task stays invisible to other
// pollers before it is considered abandoned.
const claimLease = 5 * time.Minute

// RetryRepository implements event.RetryRepository using PostgreSQL.
// ClaimDue uses FOR UPDATE SKIP LOCKED plus a lease column so concurrent
// pollers never hand the same task to two workers.
type RetryRepository struct {
	pool *pgxpool.Pool
}

func NewRetryRepository(pool *pgxpool.Pool) *RetryRepository {
	return &RetryRepository{pool: pool}
}

func (r *RetryRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// Schedule upserts the task. attempt_count never decreases and next_attempt_at
// only moves forward, preserving the monotonicity invariants.
func (r *RetryRepository) Schedule(ctx context.Context, task *event.RetryTask) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO retry_tasks (source, event_id, attempt_count, next_attempt_at, last_error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		 ON CONFLICT (source, event_id) DO UPDATE SET
		   attempt_count   = GREATEST(retry_tasks.attempt_count, EXCLUDED.attempt_count),
		   next_attempt_at = GREATEST(retry_tasks.next_attempt_at, EXCLUDED.next_attempt_at),
		   last_error      = EXCLUDED.last_error,
		   claimed_at      = NULL,
		   updated_at      = NOW()`,
		task.Source, task.EventID, task.AttemptCount, task.NextAttemptAt, task.LastError,
	)
	if err != nil {
		return fmt.Errorf("schedule retry task: %w", err)
	}
	return nil
}

func (r *RetryRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*event.RetryTask, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db(ctx).Query(ctx,
		`UPDATE retry_tasks SET claimed_at = NOW(), updated_at = NOW()
		 WHERE (source, event_id) IN (
		   SELECT source, event_id FROM retry_tasks
		   WHERE next_attempt_at <= $1
		     AND (claimed_at IS NULL OR claimed_at < $2)
		   ORDER BY next_attempt_at ASC
		   LIMIT $3
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING source, event_id, attempt_count, next_attempt_at, last_error, claimed_at, created_at, updated_at`,
		now, now.Add(-claimLease), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due retry tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*event.RetryTask
	for rows.Next() {
		t := &event.RetryTask{}
		if err := rows.Scan(&t.Source, &t.EventID, &t.AttemptCount, &t.NextAttemptAt, &t.LastError, &t.ClaimedAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan retry task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (r *RetryRepository) Release(ctx context.Context, source, eventID string) error {
	_, err := r.db(ctx).Exec(ctx,
		`UPDATE retry_tasks SET claimed_at = NULL, updated_at = NOW()
		 WHERE source = $1 AND event_id = $2`,
		source, eventID,
	)
	if err != nil {
		return fmt.Errorf("release retry task: %w", err)
	}
	return nil
}

func (r *RetryRepository) Get(ctx context.Context, source, eventID string) (*event.RetryTask, error) {
	t := &event.RetryTask{}
	err := r.db(ctx).QueryRow(ctx,
		`SELECT source, event_id, attempt_count, next_attempt_at, last_error, claimed_at, created_at, updated_at
		 FROM retry_tasks WHERE source = $1 AND event_id = $2`,
		source, eventID,
	).Scan(&t.Source, &t.EventID, &t.AttemptCount, &t.NextAttemptAt, &t.LastError, &t.ClaimedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // no task scheduled
		}
		return nil, fmt.Errorf("get retry task: %w", err)
	}
	return t, nil
}

func (r *RetryRepository) Delete(ctx context.Context, source, eventID string) error {
	_, err := r.db(ctx).Exec(ctx,
		`DELETE FROM retry_tasks WHERE source = $1 AND event_id = $2`,
		source, eventID,
	)
	if err != nil {
		return fmt.Errorf("delete retry task: %w", err)
	}
	return nil
}
