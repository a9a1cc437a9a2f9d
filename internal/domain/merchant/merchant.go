package merchant

import (
	"time"

	"github.com/google/uuid"
	"github.com/pedrolacerda/payflow/internal/domain/errors"
)

// RoutingMode selects the per-merchant processing strategy.
type RoutingMode string

const (
	ModeCentralized   RoutingMode = "centralized"
	ModeDecentralized RoutingMode = "decentralized"
	ModeHybrid        RoutingMode = "hybrid"
)

// ConnectionStatus is the lifecycle state of a processor connection.
type ConnectionStatus string

const (
	ConnectionPending   ConnectionStatus = "pending"
	ConnectionConnected ConnectionStatus = "connected"
	ConnectionExpired   ConnectionStatus = "expired"
	ConnectionRevoked   ConnectionStatus = "revoked"
)

// CollectionSchedule is how often commission is reconciled for a merchant.
type CollectionSchedule string

const (
	ScheduleDaily   CollectionSchedule = "daily"
	ScheduleWeekly  CollectionSchedule = "weekly"
	ScheduleMonthly CollectionSchedule = "monthly"
)

// RoutingConfig is the merchant's routing policy. Exactly one effective config
// per merchant; updates are last-writer-wins versioned by EffectiveFrom.
type RoutingConfig struct {
	MerchantID        uuid.UUID
	Mode              RoutingMode
	PreferredProcessor string
	FallbackEnabled   bool
	MinExternalCents  int64
	MaxPlatformCents  int64
	SplitThresholdCents int64
	// SplitPlatformBps is the platform slice of a split payment in basis points.
	SplitPlatformBps int32
	// CommissionRateBps overrides the tiered default when > 0.
	CommissionRateBps  int32
	CollectionMethod   string
	CollectionSchedule CollectionSchedule
	EffectiveFrom      time.Time
}

// Validate checks the config for internally consistent thresholds.
func (c *RoutingConfig) Validate() error {
	switch c.Mode {
	case ModeCentralized, ModeDecentralized, ModeHybrid:
	default:
		return errors.NewValidationError("mode", "must be centralized, decentralized or hybrid")
	}
	if c.Mode != ModeCentralized && c.PreferredProcessor == "" {
		return errors.NewValidationError("preferred_processor", "required unless mode is centralized")
	}
	if c.SplitPlatformBps < 0 || c.SplitPlatformBps > 10_000 {
		return errors.NewValidationError("split_platform_bps", "must be between 0 and 10000")
	}
	if c.CommissionRateBps < 0 || c.CommissionRateBps > 10_000 {
		return errors.NewValidationError("commission_rate_bps", "must be between 0 and 10000")
	}
	if c.Mode == ModeHybrid && c.SplitThresholdCents <= 0 {
		return errors.NewValidationError("split_threshold", "must be positive for hybrid mode")
	}
	return nil
}

// ProcessorConnection is one merchant's link to an external processor.
// Uniqueness on (merchant, processor) is enforced by the store.
type ProcessorConnection struct {
	MerchantID        uuid.UUID
	Processor         string
	Status            ConnectionStatus
	SupportsRefunds   bool
	SupportsRecurring bool
	FeeModel          string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Usable reports whether payments can be routed through this connection.
func (c *ProcessorConnection) Usable() bool {
	return c.Status == ConnectionConnected
}
