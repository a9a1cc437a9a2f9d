package routing_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pedrolacerda/payflow/internal/application/ingest"
	"github.com/pedrolacerda/payflow/internal/application/routing"
	domainErrors "github.com/pedrolacerda/payflow/internal/domain/errors"
	"github.com/pedrolacerda/payflow/internal/domain/merchant"
	"github.com/pedrolacerda/payflow/internal/domain/transaction"
	"github.com/pedrolacerda/payflow/internal/processors"
	"github.com/pedrolacerda/payflow/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingAdapter is a deterministic processor double that records every call.
type recordingAdapter struct {
	name      string
	chargeErr error
	refundErr error

	mu      sync.Mutex
	charges []processors.ChargeRequest
	refunds []processors.RefundRequest
}

func (a *recordingAdapter) Name() string { return a.name }

func (a *recordingAdapter) Charge(ctx context.Context, req processors.ChargeRequest) (*processors.Result, error) {
	a.mu.Lock()
	a.charges = append(a.charges, req)
	a.mu.Unlock()
	if a.chargeErr != nil {
		return &processors.Result{Status: "failed", ErrorMessage: a.chargeErr.Error()}, a.chargeErr
	}
	return &processors.Result{Reference: a.name + "_ch_ok", Status: "success"}, nil
}

func (a *recordingAdapter) Refund(ctx context.Context, req processors.RefundRequest) (*processors.Result, error) {
	a.mu.Lock()
	a.refunds = append(a.refunds, req)
	a.mu.Unlock()
	if a.refundErr != nil {
		return &processors.Result{Status: "failed"}, a.refundErr
	}
	return &processors.Result{Reference: a.name + "_re_ok", Status: "success"}, nil
}

func (a *recordingAdapter) Collect(ctx context.Context, req processors.CollectRequest) (*processors.Result, error) {
	return &processors.Result{Reference: a.name + "_co_ok", Status: "success"}, nil
}

func (a *recordingAdapter) chargeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.charges)
}

func (a *recordingAdapter) refundCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.refunds)
}

type paymentFixture struct {
	uc           *routing.InitiatePaymentUseCase
	merchants    *testutil.MockMerchantRepository
	transactions *testutil.MockTransactionRepository
	platform     *recordingAdapter
	stripe       *recordingAdapter
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()
	merchants := testutil.NewMockMerchantRepository()
	transactions := testutil.NewMockTransactionRepository()
	ledger := testutil.NewMockLedger()
	retries := testutil.NewMockRetryRepository()
	deadLetters := testutil.NewMockDeadLetterRepository()
	txm := &testutil.MockTxManager{}

	guard := ingest.NewGuard(ledger)
	scheduler := ingest.NewScheduler(retries, deadLetters, ledger, nil, zerolog.Nop())
	pipeline := ingest.NewPipeline(guard, scheduler, ledger, retries, txm, 10*time.Minute, zerolog.Nop())
	routing.RegisterLifecycleHandlers(pipeline, transactions)

	platform := &recordingAdapter{name: processors.PlatformProcessor}
	stripe := &recordingAdapter{name: "stripe"}
	factory := processors.NewFactory(platform, stripe)

	engine := routing.NewEngine(merchants, transactions, ledger, txm, zerolog.Nop())
	// short timeout keeps failing-path tests out of the in-process retry backoff
	uc := routing.NewInitiatePaymentUseCase(engine, factory, pipeline, transactions, 200*time.Millisecond, zerolog.Nop())

	return &paymentFixture{uc: uc, merchants: merchants, transactions: transactions, platform: platform, stripe: stripe}
}

func (f *paymentFixture) configure(t *testing.T, merchantID uuid.UUID, mode merchant.RoutingMode, mutate func(*merchant.RoutingConfig)) {
	t.Helper()
	cfg := testutil.NewTestRoutingConfig(merchantID, mode)
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, f.merchants.UpsertRoutingConfig(context.Background(), cfg))
	f.merchants.AddConnection(testutil.NewTestConnection(merchantID, "stripe", merchant.ConnectionConnected))
}

func TestInitiatePayment_ExternalSuccess(t *testing.T) {
	f := newPaymentFixture(t)
	merchantID := uuid.New()
	f.configure(t, merchantID, merchant.ModeDecentralized, nil)

	txn, err := f.uc.Execute(context.Background(), merchantID, transaction.Amount{ValueCents: 150_00, Currency: "USD"})
	require.NoError(t, err)

	assert.Equal(t, transaction.StatusCompleted, txn.Status)
	assert.Equal(t, transaction.PathExternal, txn.Path)
	require.NotNil(t, txn.ProcessorTxID)
	assert.Equal(t, "stripe_ch_ok", *txn.ProcessorTxID)
	assert.Equal(t, 1, f.stripe.chargeCount())
	assert.Equal(t, 0, f.platform.chargeCount())
}

func TestInitiatePayment_ProcessorRejectionRecordsFailure(t *testing.T) {
	f := newPaymentFixture(t)
	f.stripe.chargeErr = domainErrors.ErrProcessorRejected
	merchantID := uuid.New()
	f.configure(t, merchantID, merchant.ModeDecentralized, nil)

	txn, err := f.uc.Execute(context.Background(), merchantID, transaction.Amount{ValueCents: 150_00, Currency: "USD"})
	require.NoError(t, err)

	// the rejection is recorded, not lost: the transaction lands in failed
	assert.Equal(t, transaction.StatusFailed, txn.Status)
	require.NotNil(t, txn.LastError)
}

func TestInitiatePayment_SplitChargesBothSlices(t *testing.T) {
	f := newPaymentFixture(t)
	merchantID := uuid.New()
	f.configure(t, merchantID, merchant.ModeHybrid, func(cfg *merchant.RoutingConfig) {
		cfg.SplitThresholdCents = 100_00
		cfg.SplitPlatformBps = 2000
	})

	txn, err := f.uc.Execute(context.Background(), merchantID, transaction.Amount{ValueCents: 200_00, Currency: "USD"})
	require.NoError(t, err)

	assert.Equal(t, transaction.StatusCompleted, txn.Status)
	assert.Equal(t, transaction.PathSplit, txn.Path)
	assert.Equal(t, int64(40_00), txn.SplitPlatformCents)

	require.Equal(t, 1, f.platform.chargeCount())
	require.Equal(t, 1, f.stripe.chargeCount())
	assert.Equal(t, int64(40_00), f.platform.charges[0].AmountCents)
	assert.Equal(t, int64(160_00), f.stripe.charges[0].AmountCents)
}

func TestInitiatePayment_SplitCompensatesPlatformSlice(t *testing.T) {
	f := newPaymentFixture(t)
	f.stripe.chargeErr = domainErrors.ErrProcessorRejected
	merchantID := uuid.New()
	f.configure(t, merchantID, merchant.ModeHybrid, func(cfg *merchant.RoutingConfig) {
		cfg.SplitThresholdCents = 100_00
		cfg.SplitPlatformBps = 2000
	})

	txn, err := f.uc.Execute(context.Background(), merchantID, transaction.Amount{ValueCents: 200_00, Currency: "USD"})
	require.NoError(t, err)

	// external slice failed: the platform slice must have been refunded
	assert.Equal(t, transaction.StatusFailed, txn.Status)
	require.GreaterOrEqual(t, f.platform.refundCount(), 1)
	assert.Equal(t, int64(40_00), f.platform.refunds[0].AmountCents)
}

func TestInitiatePayment_RoutingFailureSurfacesSynchronously(t *testing.T) {
	f := newPaymentFixture(t)
	merchantID := uuid.New()
	cfg := testutil.NewTestRoutingConfig(merchantID, merchant.ModeDecentralized)
	cfg.FallbackEnabled = false
	require.NoError(t, f.merchants.UpsertRoutingConfig(context.Background(), cfg))
	// no connections at all

	_, err := f.uc.Execute(context.Background(), merchantID, transaction.Amount{ValueCents: 150_00, Currency: "USD"})
	assert.ErrorIs(t, err, domainErrors.ErrNoProcessorAvailable)
	assert.Equal(t, 0, f.stripe.chargeCount())
}

func TestRefund_CompletedTransaction(t *testing.T) {
	f := newPaymentFixture(t)
	merchantID := uuid.New()
	f.configure(t, merchantID, merchant.ModeDecentralized, nil)

	txn, err := f.uc.Execute(context.Background(), merchantID, transaction.Amount{ValueCents: 150_00, Currency: "USD"})
	require.NoError(t, err)
	require.Equal(t, transaction.StatusCompleted, txn.Status)

	refunded, err := f.uc.Refund(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusRefunded, refunded.Status)
	assert.Equal(t, 1, f.stripe.refundCount())
}

func TestRefund_PendingTransactionRejected(t *testing.T) {
	f := newPaymentFixture(t)
	txn := testutil.NewTestTransaction(uuid.New(), 100_00, transaction.PathExternal)
	require.NoError(t, f.transactions.Create(context.Background(), txn))

	_, err := f.uc.Refund(context.Background(), txn.ID)
	assert.ErrorIs(t, err, domainErrors.ErrInvalidStateTransition)
}
