package commission_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	commissionApp "github.com/pedrolacerda/payflow/internal/application/commission"
	"github.com/pedrolacerda/payflow/internal/domain/commission"
	domainErrors "github.com/pedrolacerda/payflow/internal/domain/errors"
	"github.com/pedrolacerda/payflow/internal/domain/event"
	"github.com/pedrolacerda/payflow/internal/domain/merchant"
	"github.com/pedrolacerda/payflow/internal/domain/transaction"
	"github.com/pedrolacerda/payflow/internal/processors"
	"github.com/pedrolacerda/payflow/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collectorFixture struct {
	collector    *commissionApp.Collector
	merchants    *testutil.MockMerchantRepository
	transactions *testutil.MockTransactionRepository
	obligations  *testutil.MockCommissionRepository
	deadLetters  *testutil.MockDeadLetterRepository
}

// newCollectorFixture wires a collector against a processor that always
// succeeds. The short call timeout keeps failing-path tests from sitting in
// the in-process retry backoff.
func newCollectorFixture(t *testing.T, adapter processors.Adapter) *collectorFixture {
	t.Helper()
	merchants := testutil.NewMockMerchantRepository()
	transactions := testutil.NewMockTransactionRepository()
	obligations := testutil.NewMockCommissionRepository()
	deadLetters := testutil.NewMockDeadLetterRepository()
	factory := processors.NewFactory(adapter)
	c := commissionApp.NewCollector(
		merchants, transactions, obligations, deadLetters,
		factory, &testutil.MockTxManager{}, 200*time.Millisecond, zerolog.Nop(),
	)
	return &collectorFixture{
		collector:    c,
		merchants:    merchants,
		transactions: transactions,
		obligations:  obligations,
		deadLetters:  deadLetters,
	}
}

func healthyPlatform() processors.Adapter {
	return processors.NewMockAdapter(processors.PlatformProcessor, processors.WithLatency(0))
}

func brokenPlatform() processors.Adapter {
	return processors.NewMockAdapter(processors.PlatformProcessor,
		processors.WithLatency(0), processors.WithFailureRate(1.0))
}

func TestCollector_Collect_CreatesAndSettlesObligation(t *testing.T) {
	f := newCollectorFixture(t, healthyPlatform())
	ctx := context.Background()
	merchantID := uuid.New()

	cfg := testutil.NewTestRoutingConfig(merchantID, merchant.ModeDecentralized)
	require.NoError(t, f.merchants.UpsertRoutingConfig(ctx, cfg))

	// two external completions, one split with a platform slice
	t1 := testutil.NewCompletedTransaction(merchantID, 200_00, transaction.PathExternal, "stripe")
	t2 := testutil.NewCompletedTransaction(merchantID, 300_00, transaction.PathExternal, "stripe")
	t3 := testutil.NewCompletedTransaction(merchantID, 100_00, transaction.PathSplit, "stripe")
	t3.SplitPlatformCents = 20_00
	for _, txn := range []*transaction.Transaction{t1, t2, t3} {
		require.NoError(t, f.transactions.Create(ctx, txn))
	}
	// platform-path completions never enter commission
	plat := testutil.NewCompletedTransaction(merchantID, 999_00, transaction.PathPlatform, "")
	require.NoError(t, f.transactions.Create(ctx, plat))

	require.NoError(t, f.collector.Collect(ctx, merchantID))

	obls, err := f.obligations.List(ctx, commission.ListFilter{})
	require.NoError(t, err)
	require.Len(t, obls, 1)
	obl := obls[0]

	// external volume is 200 + 300 + (100 - 20) = 580.00, medium tier 3.5%
	assert.Equal(t, int64(20_30), obl.AmountCents)
	assert.Equal(t, int32(350), obl.RateBps)
	assert.Equal(t, commission.StatusCollected, obl.Status)
	assert.Len(t, obl.TransactionIDs, 3)
	assert.NotContains(t, obl.TransactionIDs, plat.ID)

	// per-transaction shares recorded on settlement
	got, err := f.transactions.GetByID(ctx, t1.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7_00), got.CommissionOwedCents)
	got, err = f.transactions.GetByID(ctx, t3.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2_80), got.CommissionOwedCents)
}

func TestCollector_Collect_SharesReconcileToObligation(t *testing.T) {
	f := newCollectorFixture(t, healthyPlatform())
	ctx := context.Background()
	merchantID := uuid.New()

	cfg := testutil.NewTestRoutingConfig(merchantID, merchant.ModeDecentralized)
	require.NoError(t, f.merchants.UpsertRoutingConfig(ctx, cfg))

	// 10.11 at 5% floors to 50 cents per transaction, but the combined volume
	// of 20.22 yields 101. The remainder cent lands on the last share.
	t1 := testutil.NewCompletedTransaction(merchantID, 10_11, transaction.PathExternal, "stripe")
	t2 := testutil.NewCompletedTransaction(merchantID, 10_11, transaction.PathExternal, "stripe")
	require.NoError(t, f.transactions.Create(ctx, t1))
	require.NoError(t, f.transactions.Create(ctx, t2))

	require.NoError(t, f.collector.Collect(ctx, merchantID))

	obls, err := f.obligations.List(ctx, commission.ListFilter{})
	require.NoError(t, err)
	require.Len(t, obls, 1)
	require.Equal(t, int64(1_01), obls[0].AmountCents)

	var sum int64
	for _, id := range []uuid.UUID{t1.ID, t2.ID} {
		got, err := f.transactions.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Contains(t, []int64{50, 51}, got.CommissionOwedCents)
		sum += got.CommissionOwedCents
	}
	assert.Equal(t, obls[0].AmountCents, sum, "shares reconcile to the obligation total")
}

func TestCollector_Collect_NothingToBill(t *testing.T) {
	f := newCollectorFixture(t, healthyPlatform())
	ctx := context.Background()
	merchantID := uuid.New()
	require.NoError(t, f.merchants.UpsertRoutingConfig(ctx, testutil.NewTestRoutingConfig(merchantID, merchant.ModeDecentralized)))

	require.NoError(t, f.collector.Collect(ctx, merchantID))
	obls, err := f.obligations.List(ctx, commission.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, obls)
}

func TestCollector_Collect_CoveredTransactionAbortsCreate(t *testing.T) {
	f := newCollectorFixture(t, healthyPlatform())
	ctx := context.Background()
	merchantID := uuid.New()
	require.NoError(t, f.merchants.UpsertRoutingConfig(ctx, testutil.NewTestRoutingConfig(merchantID, merchant.ModeDecentralized)))

	txn := testutil.NewCompletedTransaction(merchantID, 200_00, transaction.PathExternal, "stripe")
	require.NoError(t, f.transactions.Create(ctx, txn))

	// a live obligation already covers the transaction
	prior := testutil.NewTestObligation(merchantID, []uuid.UUID{txn.ID}, 7_00)
	require.NoError(t, f.obligations.Create(ctx, prior))

	err := f.collector.Collect(ctx, merchantID)
	assert.ErrorIs(t, err, domainErrors.ErrTransactionCovered)

	obls, lerr := f.obligations.List(ctx, commission.ListFilter{})
	require.NoError(t, lerr)
	assert.Len(t, obls, 1, "the conflicting create must not persist a second obligation")
}

func TestCollector_Collect_SingleCurrencyPerRun(t *testing.T) {
	f := newCollectorFixture(t, healthyPlatform())
	ctx := context.Background()
	merchantID := uuid.New()
	require.NoError(t, f.merchants.UpsertRoutingConfig(ctx, testutil.NewTestRoutingConfig(merchantID, merchant.ModeDecentralized)))

	usd := testutil.NewCompletedTransaction(merchantID, 200_00, transaction.PathExternal, "stripe")
	eur := testutil.NewCompletedTransaction(merchantID, 300_00, transaction.PathExternal, "stripe")
	eur.Amount.Currency = "EUR"
	require.NoError(t, f.transactions.Create(ctx, usd))
	require.NoError(t, f.transactions.Create(ctx, eur))

	require.NoError(t, f.collector.Collect(ctx, merchantID))

	obls, err := f.obligations.List(ctx, commission.ListFilter{})
	require.NoError(t, err)
	require.Len(t, obls, 1)
	assert.Len(t, obls[0].TransactionIDs, 1, "mixed currencies settle across separate runs")
}

func TestCollector_Settle_FailureSchedulesRetry(t *testing.T) {
	f := newCollectorFixture(t, brokenPlatform())
	ctx := context.Background()
	merchantID := uuid.New()

	obl := testutil.NewTestObligation(merchantID, []uuid.UUID{uuid.New()}, 10_00)
	require.NoError(t, f.obligations.Create(ctx, obl))

	require.NoError(t, f.collector.Settle(ctx, obl))

	assert.Equal(t, commission.StatusFailed, obl.Status)
	assert.Equal(t, 1, obl.CollectionAttempts)
	require.NotNil(t, obl.NextAttemptAt)
	// attempt 1 maps to the 1 minute backoff slot
	assert.WithinDuration(t, time.Now().Add(time.Minute), *obl.NextAttemptAt, 5*time.Second)
	assert.False(t, obl.ManualReview)
	assert.Empty(t, f.deadLetters.All())
}

func TestCollector_Settle_ExhaustionFlagsManualReview(t *testing.T) {
	f := newCollectorFixture(t, brokenPlatform())
	ctx := context.Background()
	merchantID := uuid.New()

	obl := testutil.NewTestObligation(merchantID, []uuid.UUID{uuid.New()}, 10_00)
	obl.Status = commission.StatusFailed
	obl.CollectionAttempts = 5
	require.NoError(t, f.obligations.Create(ctx, obl))

	require.NoError(t, f.collector.Settle(ctx, obl))

	assert.Equal(t, commission.StatusFailed, obl.Status)
	assert.True(t, obl.ManualReview)
	assert.Nil(t, obl.NextAttemptAt)

	records := f.deadLetters.All()
	require.Len(t, records, 1)
	assert.Equal(t, event.KindCommission, records[0].Kind)
	assert.Equal(t, obl.ID.String(), records[0].EventID)
}

func TestCollector_RunDueSettlements(t *testing.T) {
	f := newCollectorFixture(t, healthyPlatform())
	ctx := context.Background()
	merchantID := uuid.New()

	txn := testutil.NewCompletedTransaction(merchantID, 200_00, transaction.PathExternal, "stripe")
	require.NoError(t, f.transactions.Create(ctx, txn))

	past := time.Now().Add(-time.Minute)
	due := testutil.NewTestObligation(merchantID, []uuid.UUID{txn.ID}, 7_00)
	due.Status = commission.StatusFailed
	due.CollectionAttempts = 1
	due.NextAttemptAt = &past

	future := time.Now().Add(time.Hour)
	notDue := testutil.NewTestObligation(merchantID, []uuid.UUID{uuid.New()}, 5_00)
	notDue.Status = commission.StatusFailed
	notDue.CollectionAttempts = 1
	notDue.NextAttemptAt = &future

	parked := testutil.NewTestObligation(merchantID, []uuid.UUID{uuid.New()}, 5_00)
	parked.Status = commission.StatusFailed
	parked.ManualReview = true

	require.NoError(t, f.obligations.Create(ctx, due))
	require.NoError(t, f.obligations.Create(ctx, notDue))
	require.NoError(t, f.obligations.Create(ctx, parked))

	settled, err := f.collector.RunDueSettlements(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, settled)
	assert.Equal(t, commission.StatusCollected, due.Status)
	assert.Equal(t, commission.StatusFailed, notDue.Status)
}

func TestCollector_RunDueSettlements_ClaimIsExclusive(t *testing.T) {
	f := newCollectorFixture(t, healthyPlatform())
	ctx := context.Background()
	merchantID := uuid.New()

	txn := testutil.NewCompletedTransaction(merchantID, 200_00, transaction.PathExternal, "stripe")
	require.NoError(t, f.transactions.Create(ctx, txn))

	past := time.Now().Add(-time.Minute)
	obl := testutil.NewTestObligation(merchantID, []uuid.UUID{txn.ID}, 7_00)
	obl.Status = commission.StatusFailed
	obl.CollectionAttempts = 1
	obl.NextAttemptAt = &past
	require.NoError(t, f.obligations.Create(ctx, obl))

	// Claiming moves the obligation to collecting in the same step, so a
	// second poller arriving before the first finishes has nothing to take.
	claimed, err := f.obligations.ClaimDueForRetry(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, commission.StatusCollecting, claimed[0].Status)

	again, err := f.obligations.ClaimDueForRetry(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, again)

	// The claimed obligation still settles through the normal path.
	require.NoError(t, f.collector.Settle(ctx, claimed[0]))
	assert.Equal(t, commission.StatusCollected, claimed[0].Status)
}
