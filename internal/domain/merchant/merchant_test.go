package merchant_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/pedrolacerda/payflow/internal/domain/merchant"
	"github.com/stretchr/testify/assert"
)

func validConfig(mode merchant.RoutingMode) *merchant.RoutingConfig {
	return &merchant.RoutingConfig{
		MerchantID:          uuid.New(),
		Mode:                mode,
		PreferredProcessor:  "stripe",
		FallbackEnabled:     true,
		SplitThresholdCents: 100_00,
		SplitPlatformBps:    2000,
		CommissionRateBps:   350,
		CollectionMethod:    "direct_debit",
		CollectionSchedule:  merchant.ScheduleDaily,
	}
}

func TestRoutingConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*merchant.RoutingConfig)
		wantErr bool
	}{
		{"valid hybrid", nil, false},
		{"unknown mode", func(c *merchant.RoutingConfig) { c.Mode = "freestyle" }, true},
		{"centralized without processor", func(c *merchant.RoutingConfig) {
			c.Mode = merchant.ModeCentralized
			c.PreferredProcessor = ""
		}, false},
		{"decentralized without processor", func(c *merchant.RoutingConfig) {
			c.Mode = merchant.ModeDecentralized
			c.PreferredProcessor = ""
		}, true},
		{"split bps above 10000", func(c *merchant.RoutingConfig) { c.SplitPlatformBps = 10_001 }, true},
		{"negative commission rate", func(c *merchant.RoutingConfig) { c.CommissionRateBps = -1 }, true},
		{"hybrid without split threshold", func(c *merchant.RoutingConfig) { c.SplitThresholdCents = 0 }, true},
		{"decentralized without split threshold", func(c *merchant.RoutingConfig) {
			c.Mode = merchant.ModeDecentralized
			c.SplitThresholdCents = 0
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(merchant.ModeHybrid)
			if tt.mutate != nil {
				tt.mutate(cfg)
			}
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestProcessorConnection_Usable(t *testing.T) {
	tests := []struct {
		status merchant.ConnectionStatus
		want   bool
	}{
		{merchant.ConnectionConnected, true},
		{merchant.ConnectionPending, false},
		{merchant.ConnectionExpired, false},
		{merchant.ConnectionRevoked, false},
	}

	for _, tt := range tests {
		c := &merchant.ProcessorConnection{Status: tt.status}
		assert.Equal(t, tt.want, c.Usable(), "status %s", tt.status)
	}
}
