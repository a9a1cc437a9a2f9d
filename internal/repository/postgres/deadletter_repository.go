package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	domainErrors "github.com/pedrolacerda/payflow/internal/domain/errors"
	"github.com/pedrolacerda/payflow/internal/domain/event"
)

const deadLetterColumns = `id, kind, source, event_id, final_error, attempts_exhausted_at, resolved, resolution_notes, resolved_at`

// DeadLetterRepository implements event.DeadLetterRepository using PostgreSQL.
type DeadLetterRepository struct {
	pool *pgxpool.Pool
}

func NewDeadLetterRepository(pool *pgxpool.Pool) *DeadLetterRepository {
	return &DeadLetterRepository{pool: pool}
}

func (r *DeadLetterRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *DeadLetterRepository) Insert(ctx context.Context, rec *event.DeadLetterRecord) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO dead_letters (id, kind, source, event_id, final_error, attempts_exhausted_at, resolved)
		 VALUES ($1, $2, $3, $4, $5, $6, false)`,
		rec.ID, string(rec.Kind), rec.Source, rec.EventID, rec.FinalError, rec.AttemptsExhaustedAt,
	)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

func (r *DeadLetterRepository) Get(ctx context.Context, id uuid.UUID) (*event.DeadLetterRecord, error) {
	return r.scanRecord(r.db(ctx).QueryRow(ctx,
		`SELECT `+deadLetterColumns+` FROM dead_letters WHERE id = $1`, id))
}

func (r *DeadLetterRepository) List(ctx context.Context, resolved *bool, limit, offset int) ([]*event.DeadLetterRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + deadLetterColumns + ` FROM dead_letters WHERE 1=1`
	args := []any{}
	argIdx := 1
	if resolved != nil {
		query += fmt.Sprintf(" AND resolved = $%d", argIdx)
		args = append(args, *resolved)
		argIdx++
	}
	query += fmt.Sprintf(" ORDER BY attempts_exhausted_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var records []*event.DeadLetterRecord
	for rows.Next() {
		rec, err := r.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *DeadLetterRepository) Update(ctx context.Context, rec *event.DeadLetterRecord) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE dead_letters SET resolved = $2, resolution_notes = $3, resolved_at = $4 WHERE id = $1`,
		rec.ID, rec.Resolved, rec.ResolutionNotes, rec.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("update dead letter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrDeadLetterNotFound
	}
	return nil
}

func (r *DeadLetterRepository) scanRecord(s scanner) (*event.DeadLetterRecord, error) {
	rec := &event.DeadLetterRecord{}
	var kind string
	err := s.Scan(&rec.ID, &kind, &rec.Source, &rec.EventID, &rec.FinalError,
		&rec.AttemptsExhaustedAt, &rec.Resolved, &rec.ResolutionNotes, &rec.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrDeadLetterNotFound
		}
		return nil, fmt.Errorf("scan dead letter: %w", err)
	}
	rec.Kind = event.DeadLetterKind(kind)
	return rec, nil
}
