package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	domainErrors "github.com/pedrolacerda/payflow/internal/domain/errors"
	"github.com/pedrolacerda/payflow/internal/domain/transaction"
)

const transactionColumns = `id, merchant_id, amount, currency, path, processor, status,
	        split_platform_cents, commission_owed_cents, routing_mode, fallback_reason,
	        decision_inputs, processor_tx_id, last_error, created_at, updated_at, completed_at`

// TransactionRepository implements transaction.Repository using PostgreSQL.
type TransactionRepository struct {
	pool *pgxpool.Pool
}

func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

func (r *TransactionRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *TransactionRepository) Create(ctx context.Context, t *transaction.Transaction) error {
	inputs, err := json.Marshal(t.DecisionInputs)
	if err != nil {
		return fmt.Errorf("marshal decision inputs: %w", err)
	}

	amountStr := centsToNumericString(t.Amount.ValueCents)

	_, err = r.db(ctx).Exec(ctx,
		`INSERT INTO transactions
		 (id, merchant_id, amount, currency, path, processor, status,
		  split_platform_cents, commission_owed_cents, routing_mode, fallback_reason,
		  decision_inputs, processor_tx_id, last_error, created_at, updated_at, completed_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		t.ID, t.MerchantID, amountStr, t.Amount.Currency, string(t.Path), t.Processor, string(t.Status),
		t.SplitPlatformCents, t.CommissionOwedCents, t.RoutingMode, t.FallbackReason,
		inputs, t.ProcessorTxID, t.LastError, t.CreatedAt, t.UpdatedAt, t.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error) {
	return r.scanTransaction(r.db(ctx).QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
}

func (r *TransactionRepository) Update(ctx context.Context, t *transaction.Transaction) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE transactions SET
		  status=$1, processor_tx_id=$2, last_error=$3, updated_at=$4, completed_at=$5
		 WHERE id=$6`,
		string(t.Status), t.ProcessorTxID, t.LastError, t.UpdatedAt, t.CompletedAt, t.ID,
	)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrTransactionNotFound
	}
	return nil
}

func (r *TransactionRepository) List(ctx context.Context, f transaction.ListFilter) ([]*transaction.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE 1=1`
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
	if f.Path != nil {
		query += fmt.Sprintf(" AND path = $%d", argIdx)
		args = append(args, string(*f.Path))
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
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()
	return r.collect(rows)
}

// ListUncovered selects commission-eligible transactions with no coverage row
// from a non-terminal obligation. Coverage rows flip to inactive only when
// their obligation reaches a terminal state.
func (r *TransactionRepository) ListUncovered(ctx context.Context, merchantID uuid.UUID, limit int) ([]*transaction.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+transactionColumns+` FROM transactions t
		 WHERE t.merchant_id = $1
		   AND t.status = 'completed'
		   AND t.path IN ('external', 'split')
		   AND NOT EXISTS (
		     SELECT 1 FROM commission_coverage c
		     WHERE c.transaction_id = t.id AND c.active
		   )
		 ORDER BY t.created_at ASC
		 LIMIT $2`,
		merchantID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list uncovered transactions: %w", err)
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *TransactionRepository) SetCommissionOwed(ctx context.Context, id uuid.UUID, cents int64) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE transactions SET commission_owed_cents = $2, updated_at = NOW() WHERE id = $1`,
		id, cents,
	)
	if err != nil {
		return fmt.Errorf("set commission owed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrTransactionNotFound
	}
	return nil
}

func (r *TransactionRepository) collect(rows pgx.Rows) ([]*transaction.Transaction, error) {
	var txns []*transaction.Transaction
	for rows.Next() {
		t, err := r.scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

func (r *TransactionRepository) scanTransaction(s scanner) (*transaction.Transaction, error) {
	t := &transaction.Transaction{DecisionInputs: make(map[string]any)}
	var (
		amountStr string
		path      string
		status    string
		inputs    []byte
	)
	err := s.Scan(
		&t.ID, &t.MerchantID, &amountStr, &t.Amount.Currency, &path, &t.Processor, &status,
		&t.SplitPlatformCents, &t.CommissionOwedCents, &t.RoutingMode, &t.FallbackReason,
		&inputs, &t.ProcessorTxID, &t.LastError, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}

	cents, err := numericStringToCents(amountStr)
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	t.Amount.ValueCents = cents
	t.Path = transaction.Path(path)
	t.Status = transaction.Status(status)
	if len(inputs) > 0 {
		if err := json.Unmarshal(inputs, &t.DecisionInputs); err != nil {
			return nil, fmt.Errorf("unmarshal decision inputs: %w", err)
		}
	}
	return t, nil
}
