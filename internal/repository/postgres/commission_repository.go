package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pedrolacerda/payflow/internal/domain/commission"
	domainErrors "github.com/pedrolacerda/payflow/internal/domain/errors"
)

const obligationColumns = `id, merchant_id, amount_cents, currency, rate_bps, status,
	        collection_method, collection_attempts, next_attempt_at, last_error,
	        manual_review, due_at, created_at, updated_at, collected_at`

// CommissionRepository implements commission.Repository using PostgreSQL.
// The commission_coverage table carries a partial unique index on
// transaction_id WHERE active, which is what physically enforces "at most one
// non-terminal obligation per transaction".
type CommissionRepository struct {
	pool *pgxpool.Pool
}

func NewCommissionRepository(pool *pgxpool.Pool) *CommissionRepository {
	return &CommissionRepository{pool: pool}
}

func (r *CommissionRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *CommissionRepository) Create(ctx context.Context, o *commission.Obligation) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO commission_obligations
		 (id, merchant_id, amount_cents, currency, rate_bps, status, collection_method,
		  collection_attempts, manual_review, due_at, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		o.ID, o.MerchantID, o.AmountCents, o.Currency, o.RateBps, string(o.Status), o.CollectionMethod,
		o.CollectionAttempts, o.ManualReview, o.DueAt, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert obligation: %w", err)
	}

	for _, txID := range o.TransactionIDs {
		_, err := r.db(ctx).Exec(ctx,
			`INSERT INTO commission_coverage (obligation_id, transaction_id, active) VALUES ($1, $2, true)`,
			o.ID, txID,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return fmt.Errorf("transaction %s: %w", txID, domainErrors.ErrTransactionCovered)
			}
			return fmt.Errorf("insert coverage row: %w", err)
		}
	}
	return nil
}

func (r *CommissionRepository) GetByID(ctx context.Context, id uuid.UUID) (*commission.Obligation, error) {
	o, err := r.scanObligation(r.db(ctx).QueryRow(ctx,
		`SELECT `+obligationColumns+` FROM commission_obligations WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadCoverage(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// statusPredecessors inverts the obligation state machine: an update to a
// given status only lands when the stored row is in a legal prior status.
// This is the conditional write that keeps two workers from both settling
// the same obligation after a lapsed worker lock.
var statusPredecessors = map[commission.Status][]string{
	commission.StatusDue:        {"pending"},
	commission.StatusCollecting: {"due", "failed"},
	commission.StatusCollected:  {"collecting"},
	commission.StatusFailed:     {"collecting"},
}

func (r *CommissionRepository) Update(ctx context.Context, o *commission.Obligation) error {
	prior, ok := statusPredecessors[o.Status]
	if !ok {
		return fmt.Errorf("obligation status %q has no legal predecessor", o.Status)
	}
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE commission_obligations SET
		  status=$1, collection_attempts=$2, next_attempt_at=$3, last_error=$4,
		  manual_review=$5, updated_at=$6, collected_at=$7
		 WHERE id=$8 AND status = ANY($9)`,
		string(o.Status), o.CollectionAttempts, o.NextAttemptAt, o.LastError,
		o.ManualReview, o.UpdatedAt, o.CollectedAt, o.ID, prior,
	)
	if err != nil {
		return fmt.Errorf("update obligation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var stored string
		err := r.db(ctx).QueryRow(ctx,
			`SELECT status FROM commission_obligations WHERE id = $1`, o.ID).Scan(&stored)
		if errors.Is(err, pgx.ErrNoRows) {
			return domainErrors.ErrObligationNotFound
		}
		if err != nil {
			return fmt.Errorf("check obligation status: %w", err)
		}
		return fmt.Errorf("obligation %s is %s, cannot move to %s: %w",
			o.ID, stored, o.Status, domainErrors.ErrInvalidStateTransition)
	}

	// Collected obligations release the active coverage slot. Manual-review
	// failures keep theirs: those transactions are settled out of band, never
	// rebilled automatically.
	if o.IsTerminal() {
		if _, err := r.db(ctx).Exec(ctx,
			`UPDATE commission_coverage SET active = false WHERE obligation_id = $1 AND $2 = 'collected'`,
			o.ID, string(o.Status),
		); err != nil {
			return fmt.Errorf("release coverage rows: %w", err)
		}
	}
	return nil
}

// ClaimDueForRetry claims due failed obligations by moving them to collecting
// in the same statement. The status flip is the claim: a second poller, or a
// replica whose worker lock lapsed, finds no failed row to take.
func (r *CommissionRepository) ClaimDueForRetry(ctx context.Context, now time.Time, limit int) ([]*commission.Obligation, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db(ctx).Query(ctx,
		`UPDATE commission_obligations SET status = 'collecting', updated_at = NOW()
		 WHERE id IN (
		   SELECT id FROM commission_obligations
		   WHERE status = 'failed'
		     AND NOT manual_review
		     AND next_attempt_at IS NOT NULL
		     AND next_attempt_at <= $1
		   ORDER BY next_attempt_at ASC
		   LIMIT $2
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+obligationColumns,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due obligations: %w", err)
	}
	defer rows.Close()

	var obls []*commission.Obligation
	for rows.Next() {
		o, err := r.scanObligation(rows)
		if err != nil {
			return nil, err
		}
		obls = append(obls, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, o := range obls {
		if err := r.loadCoverage(ctx, o); err != nil {
			return nil, err
		}
	}
	return obls, nil
}

func (r *CommissionRepository) List(ctx context.Context, f commission.ListFilter) ([]*commission.Obligation, error) {
	query := `SELECT ` + obligationColumns + ` FROM commission_obligations WHERE 1=1`
	args := []any{}
	argIdx := 1

	if f.MerchantID != nil {
		query += fmt.Sprintf(" AND merchant_id = $%d", argIdx)
		args = append(args, *f.MerchantID)
		argIdx++
	}
	if f.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(*f.Status))
		argIdx++
	}
	if f.ManualReview != nil {
		query += fmt.Sprintf(" AND manual_review = $%d", argIdx)
		args = append(args, *f.ManualReview)
		argIdx++
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list obligations: %w", err)
	}
	defer rows.Close()

	var obls []*commission.Obligation
	for rows.Next() {
		o, err := r.scanObligation(rows)
		if err != nil {
			return nil, err
		}
		obls = append(obls, o)
	}
	return obls, rows.Err()
}

func (r *CommissionRepository) loadCoverage(ctx context.Context, o *commission.Obligation) error {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT transaction_id FROM commission_coverage WHERE obligation_id = $1`, o.ID)
	if err != nil {
		return fmt.Errorf("load coverage rows: %w", err)
	}
	defer rows.Close()

	o.TransactionIDs = o.TransactionIDs[:0]
	for rows.Next() {
		var txID uuid.UUID
		if err := rows.Scan(&txID); err != nil {
			return fmt.Errorf("scan coverage row: %w", err)
		}
		o.TransactionIDs = append(o.TransactionIDs, txID)
	}
	return rows.Err()
}

func (r *CommissionRepository) scanObligation(s scanner) (*commission.Obligation, error) {
	o := &commission.Obligation{}
	var status string
	err := s.Scan(
		&o.ID, &o.MerchantID, &o.AmountCents, &o.Currency, &o.RateBps, &status,
		&o.CollectionMethod, &o.CollectionAttempts, &o.NextAttemptAt, &o.LastError,
		&o.ManualReview, &o.DueAt, &o.CreatedAt, &o.UpdatedAt, &o.CollectedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrObligationNotFound
		}
		return nil, fmt.Errorf("scan obligation: %w", err)
	}
	o.Status = commission.Status(status)
	return o, nil
}
