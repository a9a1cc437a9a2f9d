package processors

import (
	"context"
	"testing"
	"time"

	domainErrors "github.com/pedrolacerda/payflow/internal/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactory_DefaultAdapters(t *testing.T) {
	f := NewFactory()
	assert.True(t, f.Has(PlatformProcessor))
	assert.True(t, f.Has("stripe"))
	assert.True(t, f.Has("mollie"))
	assert.False(t, f.Has("adyen"))
}

func TestFactory_Get(t *testing.T) {
	f := NewFactory(NewMockAdapter("custom", WithLatency(0)))

	adapter, breaker, err := f.Get("custom")
	require.NoError(t, err)
	assert.Equal(t, "custom", adapter.Name())
	require.NotNil(t, breaker)

	_, _, err = f.Get("missing")
	assert.ErrorIs(t, err, domainErrors.ErrProcessorNotFound)
}

func TestMockAdapter_Charge(t *testing.T) {
	a := NewMockAdapter("test", WithLatency(0))

	res, err := a.Charge(context.Background(), ChargeRequest{
		TransactionID: "tx_1", AmountCents: 100_00, Currency: "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, "success", res.Status)
	assert.NotEmpty(t, res.Reference)
}

func TestMockAdapter_AlwaysFails(t *testing.T) {
	a := NewMockAdapter("test", WithLatency(0), WithFailureRate(1.0))

	res, err := a.Charge(context.Background(), ChargeRequest{TransactionID: "tx_1", AmountCents: 100_00, Currency: "USD"})
	assert.ErrorIs(t, err, domainErrors.ErrProcessorRejected)
	require.NotNil(t, res)
	assert.Equal(t, "failed", res.Status)
	assert.False(t, res.PartialEffect)
}

func TestMockAdapter_AlwaysTimesOut(t *testing.T) {
	a := NewMockAdapter("test", WithLatency(0), WithTimeoutRate(1.0))

	_, err := a.Charge(context.Background(), ChargeRequest{TransactionID: "tx_1", AmountCents: 100_00, Currency: "USD"})
	assert.ErrorIs(t, err, domainErrors.ErrProcessorTimeout)
}

func TestMockAdapter_PartialEffect(t *testing.T) {
	a := NewMockAdapter("test", WithLatency(0), WithFailureRate(1.0), WithPartialEffectRate(1.0))

	res, err := a.Charge(context.Background(), ChargeRequest{TransactionID: "tx_1", AmountCents: 100_00, Currency: "USD"})
	assert.Error(t, err)
	require.NotNil(t, res)
	assert.True(t, res.PartialEffect)
}

func TestMockAdapter_RespectsContextCancellation(t *testing.T) {
	a := NewMockAdapter("test", WithLatency(time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := a.Charge(ctx, ChargeRequest{TransactionID: "tx_1", AmountCents: 100_00, Currency: "USD"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCircuitBreaker_OpensOnSustainedFailure(t *testing.T) {
	f := NewFactory(NewMockAdapter("flaky", WithLatency(0), WithFailureRate(1.0)))
	adapter, breaker, err := f.Get("flaky")
	require.NoError(t, err)

	for i := 0; i < 15; i++ {
		breaker.Execute(func() (*Result, error) {
			return adapter.Charge(context.Background(), ChargeRequest{TransactionID: "tx", AmountCents: 1, Currency: "USD"})
		})
	}

	_, err = breaker.Execute(func() (*Result, error) {
		return adapter.Charge(context.Background(), ChargeRequest{TransactionID: "tx", AmountCents: 1, Currency: "USD"})
	})
	assert.Error(t, err)
}
