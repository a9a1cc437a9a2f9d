package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	domainErrors "github.com/pedrolacerda/payflow/internal/domain/errors"
	"github.com/pedrolacerda/payflow/internal/domain/merchant"
)

// MerchantRepository implements merchant.Repository using PostgreSQL. Routing
// configs are append-only versions ordered by effective_from; reads take the
// latest effective one.
type MerchantRepository struct {
	pool *pgxpool.Pool
}

func NewMerchantRepository(pool *pgxpool.Pool) *MerchantRepository {
	return &MerchantRepository{pool: pool}
}

func (r *MerchantRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *MerchantRepository) GetRoutingConfig(ctx context.Context, merchantID uuid.UUID) (*merchant.RoutingConfig, error) {
	cfg := &merchant.RoutingConfig{}
	var mode, schedule string
	err := r.db(ctx).QueryRow(ctx,
		`SELECT merchant_id, mode, preferred_processor, fallback_enabled,
		        min_external_cents, max_platform_cents, split_threshold_cents,
		        split_platform_bps, commission_rate_bps, collection_method,
		        collection_schedule, effective_from
		 FROM routing_configs
		 WHERE merchant_id = $1 AND effective_from <= now()
		 ORDER BY effective_from DESC
		 LIMIT 1`,
		merchantID,
	).Scan(
		&cfg.MerchantID, &mode, &cfg.PreferredProcessor, &cfg.FallbackEnabled,
		&cfg.MinExternalCents, &cfg.MaxPlatformCents, &cfg.SplitThresholdCents,
		&cfg.SplitPlatformBps, &cfg.CommissionRateBps, &cfg.CollectionMethod,
		&schedule, &cfg.EffectiveFrom,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrRoutingConfigNotFound
		}
		return nil, fmt.Errorf("get routing config: %w", err)
	}
	cfg.Mode = merchant.RoutingMode(mode)
	cfg.CollectionSchedule = merchant.CollectionSchedule(schedule)
	return cfg, nil
}

func (r *MerchantRepository) UpsertRoutingConfig(ctx context.Context, cfg *merchant.RoutingConfig) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO routing_configs
		 (merchant_id, mode, preferred_processor, fallback_enabled,
		  min_external_cents, max_platform_cents, split_threshold_cents,
		  split_platform_bps, commission_rate_bps, collection_method,
		  collection_schedule, effective_from)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		 ON CONFLICT (merchant_id, effective_from) DO UPDATE SET
		  mode = EXCLUDED.mode,
		  preferred_processor = EXCLUDED.preferred_processor,
		  fallback_enabled = EXCLUDED.fallback_enabled,
		  min_external_cents = EXCLUDED.min_external_cents,
		  max_platform_cents = EXCLUDED.max_platform_cents,
		  split_threshold_cents = EXCLUDED.split_threshold_cents,
		  split_platform_bps = EXCLUDED.split_platform_bps,
		  commission_rate_bps = EXCLUDED.commission_rate_bps,
		  collection_method = EXCLUDED.collection_method,
		  collection_schedule = EXCLUDED.collection_schedule`,
		cfg.MerchantID, string(cfg.Mode), cfg.PreferredProcessor, cfg.FallbackEnabled,
		cfg.MinExternalCents, cfg.MaxPlatformCents, cfg.SplitThresholdCents,
		cfg.SplitPlatformBps, cfg.CommissionRateBps, cfg.CollectionMethod,
		string(cfg.CollectionSchedule), cfg.EffectiveFrom,
	)
	if err != nil {
		return fmt.Errorf("upsert routing config: %w", err)
	}
	return nil
}

func (r *MerchantRepository) ListConnections(ctx context.Context, merchantID uuid.UUID) ([]*merchant.ProcessorConnection, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT merchant_id, processor, status, supports_refunds, supports_recurring,
		        fee_model, created_at, updated_at
		 FROM processor_connections
		 WHERE merchant_id = $1
		 ORDER BY processor ASC`,
		merchantID,
	)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var conns []*merchant.ProcessorConnection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

func (r *MerchantRepository) GetConnection(ctx context.Context, merchantID uuid.UUID, processor string) (*merchant.ProcessorConnection, error) {
	c, err := scanConnection(r.db(ctx).QueryRow(ctx,
		`SELECT merchant_id, processor, status, supports_refunds, supports_recurring,
		        fee_model, created_at, updated_at
		 FROM processor_connections
		 WHERE merchant_id = $1 AND processor = $2`,
		merchantID, processor,
	))
	if err != nil {
		if errors.Is(err, domainErrors.ErrConnectionNotFound) {
			return nil, domainErrors.ErrConnectionNotFound
		}
		return nil, err
	}
	return c, nil
}

func (r *MerchantRepository) ListMerchantsBySchedule(ctx context.Context, schedule merchant.CollectionSchedule) ([]uuid.UUID, error) {
	// Latest effective config per merchant decides the schedule.
	rows, err := r.db(ctx).Query(ctx,
		`SELECT DISTINCT ON (merchant_id) merchant_id, collection_schedule
		 FROM routing_configs
		 WHERE effective_from <= now()
		 ORDER BY merchant_id, effective_from DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list merchants by schedule: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		var s string
		if err := rows.Scan(&id, &s); err != nil {
			return nil, fmt.Errorf("scan merchant schedule: %w", err)
		}
		if merchant.CollectionSchedule(s) == schedule {
			ids = append(ids, id)
		}
	}
	return ids, rows.Err()
}

func scanConnection(s scanner) (*merchant.ProcessorConnection, error) {
	c := &merchant.ProcessorConnection{}
	var status string
	err := s.Scan(
		&c.MerchantID, &c.Processor, &status, &c.SupportsRefunds, &c.SupportsRecurring,
		&c.FeeModel, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrConnectionNotFound
		}
		return nil, fmt.Errorf("scan processor connection: %w", err)
	}
	c.Status = merchant.ConnectionStatus(status)
	return c, nil
}
