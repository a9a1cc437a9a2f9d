package commission

import (
	"github.com/pedrolacerda/payflow/internal/domain/merchant"
)

// Tiered default commission rates in basis points, applied to the externally
// processed volume of a collection run when the merchant has no override.
// Documented defaults, not guessed business values: override per merchant via
// RoutingConfig.CommissionRateBps.
const (
	tierSmallCeilingCents  = 100_00   // volume below 100.00
	tierMediumCeilingCents = 1000_00  // volume below 1000.00
	tierSmallBps           = 500
	tierMediumBps          = 350
	tierLargeBps           = 250
)

// resolveRateBps returns the merchant override when set, else the tiered
// default for the run's total volume.
func resolveRateBps(cfg *merchant.RoutingConfig, volumeCents int64) int32 {
	if cfg.CommissionRateBps > 0 {
		return cfg.CommissionRateBps
	}
	switch {
	case volumeCents < tierSmallCeilingCents:
		return tierSmallBps
	case volumeCents < tierMediumCeilingCents:
		return tierMediumBps
	default:
		return tierLargeBps
	}
}

// commissionCents computes the commission for a volume at a rate, rounding
// down. Rounding in the merchant's favor keeps obligations collectable.
func commissionCents(volumeCents int64, rateBps int32) int64 {
	return volumeCents * int64(rateBps) / 10_000
}
