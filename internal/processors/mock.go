package processors

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	domainErrors "github.com/pedrolacerda/payflow/internal/domain/errors"
)

// MockAdapter simulates an external processor with configurable latency and
// failure behavior. Used in tests and local development.
type MockAdapter struct {
	name              string
	failureRate       float64 // 0.0 to 1.0
	latency           time.Duration
	timeoutRate       float64 // 0.0 to 1.0
	partialEffectRate float64 // 0.0 to 1.0, fraction of failures with partial effects
}

type MockAdapterOption func(*MockAdapter)

func WithFailureRate(rate float64) MockAdapterOption {
	return func(a *MockAdapter) { a.failureRate = rate }
}

func WithLatency(d time.Duration) MockAdapterOption {
	return func(a *MockAdapter) { a.latency = d }
}

func WithTimeoutRate(rate float64) MockAdapterOption {
	return func(a *MockAdapter) { a.timeoutRate = rate }
}

func WithPartialEffectRate(rate float64) MockAdapterOption {
	return func(a *MockAdapter) { a.partialEffectRate = rate }
}

func NewMockAdapter(name string, opts ...MockAdapterOption) *MockAdapter {
	a := &MockAdapter{
		name:        name,
		failureRate: 0.0,
		latency:     100 * time.Millisecond,
		timeoutRate: 0.0,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *MockAdapter) Name() string { return a.name }

func (a *MockAdapter) Charge(ctx context.Context, req ChargeRequest) (*Result, error) {
	if res, err := a.simulate(ctx, "charge for transaction "+req.TransactionID); res != nil || err != nil {
		return res, err
	}
	return &Result{
		Reference: fmt.Sprintf("%s_ch_%s", a.name, uuid.New().String()[:8]),
		Status:    "success",
	}, nil
}

func (a *MockAdapter) Refund(ctx context.Context, req RefundRequest) (*Result, error) {
	if res, err := a.simulate(ctx, "refund for "+req.Reference); res != nil || err != nil {
		return res, err
	}
	return &Result{
		Reference: fmt.Sprintf("%s_re_%s", a.name, uuid.New().String()[:8]),
		Status:    "success",
	}, nil
}

func (a *MockAdapter) Collect(ctx context.Context, req CollectRequest) (*Result, error) {
	if res, err := a.simulate(ctx, "collection for obligation "+req.ObligationID); res != nil || err != nil {
		return res, err
	}
	return &Result{
		Reference: fmt.Sprintf("%s_co_%s", a.name, uuid.New().String()[:8]),
		Status:    "success",
	}, nil
}

// simulate applies latency, then rolls timeout and failure dice.
// Returns (nil, nil) when the call should succeed.
func (a *MockAdapter) simulate(ctx context.Context, what string) (*Result, error) {
	select {
	case <-time.After(a.latency):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if rand.Float64() < a.timeoutRate {
		return nil, domainErrors.ErrProcessorTimeout
	}

	if rand.Float64() < a.failureRate {
		res := &Result{
			Status:       "failed",
			ErrorMessage: fmt.Sprintf("%s: simulated %s failure", a.name, what),
		}
		if rand.Float64() < a.partialEffectRate {
			res.PartialEffect = true
		}
		return res, domainErrors.ErrProcessorRejected
	}

	return nil, nil
}
