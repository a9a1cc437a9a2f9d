package ingest_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pedrolacerda/payflow/internal/application/ingest"
	domainErrors "github.com/pedrolacerda/payflow/internal/domain/errors"
	"github.com/pedrolacerda/payflow/internal/domain/event"
	"github.com/pedrolacerda/payflow/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pipelineFixture struct {
	pipeline    *ingest.Pipeline
	ledger      *testutil.MockLedger
	retries     *testutil.MockRetryRepository
	deadLetters *testutil.MockDeadLetterRepository
	txm         *testutil.MockTxManager
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	ledger := testutil.NewMockLedger()
	retries := testutil.NewMockRetryRepository()
	deadLetters := testutil.NewMockDeadLetterRepository()
	txm := &testutil.MockTxManager{}
	guard := ingest.NewGuard(ledger)
	scheduler := ingest.NewScheduler(retries, deadLetters, ledger, nil, zerolog.Nop())
	p := ingest.NewPipeline(guard, scheduler, ledger, retries, txm, 10*time.Minute, zerolog.Nop())
	return &pipelineFixture{pipeline: p, ledger: ledger, retries: retries, deadLetters: deadLetters, txm: txm}
}

func TestPipeline_Process_FirstDelivery(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	handled := 0
	f.pipeline.Register("charge.succeeded", func(ctx context.Context, e *event.Event) (map[string]any, error) {
		handled++
		return map[string]any{"transaction_id": "tx_1"}, nil
	})

	ev := testutil.NewTestEvent("stripe", "evt_1", "charge.succeeded")
	result, err := f.pipeline.Process(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, "tx_1", result["transaction_id"])
	assert.Equal(t, 1, handled)
	assert.Equal(t, 1, f.txm.Calls)

	row, err := f.ledger.Get(ctx, "stripe", "evt_1")
	require.NoError(t, err)
	assert.Equal(t, event.StateProcessed, row.State)
}

func TestPipeline_Process_DuplicateReplaysCachedResult(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	handled := 0
	f.pipeline.Register("charge.succeeded", func(ctx context.Context, e *event.Event) (map[string]any, error) {
		handled++
		return map[string]any{"transaction_id": "tx_1"}, nil
	})

	ev := testutil.NewTestEvent("stripe", "evt_dup", "charge.succeeded")
	_, err := f.pipeline.Process(ctx, ev)
	require.NoError(t, err)

	// second delivery of the same key
	dup := testutil.NewTestEvent("stripe", "evt_dup", "charge.succeeded")
	result, err := f.pipeline.Process(ctx, dup)
	require.NoError(t, err)
	assert.Equal(t, "tx_1", result["transaction_id"])
	assert.Equal(t, 1, handled, "side effect must not run twice")
}

func TestPipeline_Process_ClaimHeldRequeues(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()
	f.pipeline.Register("charge.succeeded", func(ctx context.Context, e *event.Event) (map[string]any, error) {
		return map[string]any{}, nil
	})

	held := testutil.NewTestEvent("stripe", "evt_held", "charge.succeeded")
	held.State = event.StateProcessing
	f.ledger.Seed(held)

	result, err := f.pipeline.Process(ctx, testutil.NewTestEvent("stripe", "evt_held", "charge.succeeded"))
	require.NoError(t, err)
	assert.Nil(t, result)

	task, err := f.retries.Get(ctx, "stripe", "evt_held")
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, 1, task.AttemptCount)
}

func TestPipeline_Process_DeadLetteredRejects(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	dead := testutil.NewTestEvent("stripe", "evt_dead", "charge.succeeded")
	dead.State = event.StateDeadLettered
	f.ledger.Seed(dead)

	_, err := f.pipeline.Process(ctx, testutil.NewTestEvent("stripe", "evt_dead", "charge.succeeded"))
	assert.ErrorIs(t, err, domainErrors.ErrEventDeadLetter)
}

func TestPipeline_Process_RetryableFailureSchedulesRetry(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	procErr := domainErrors.Retryable("processor_down", "stripe timed out", nil)
	f.pipeline.Register("charge.succeeded", func(ctx context.Context, e *event.Event) (map[string]any, error) {
		return nil, procErr
	})

	_, err := f.pipeline.Process(ctx, testutil.NewTestEvent("stripe", "evt_retry", "charge.succeeded"))
	require.Error(t, err)

	row, gerr := f.ledger.Get(ctx, "stripe", "evt_retry")
	require.NoError(t, gerr)
	assert.Equal(t, event.StateFailed, row.State)

	task, gerr := f.retries.Get(ctx, "stripe", "evt_retry")
	require.NoError(t, gerr)
	require.NotNil(t, task)
	assert.Equal(t, 1, task.AttemptCount)
	assert.Empty(t, f.deadLetters.All())
}

func TestPipeline_Process_FatalFailurePromotesImmediately(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	f.pipeline.Register("charge.succeeded", func(ctx context.Context, e *event.Event) (map[string]any, error) {
		return nil, domainErrors.Fatal("bad_payload", "amount is negative", nil)
	})

	_, err := f.pipeline.Process(ctx, testutil.NewTestEvent("stripe", "evt_fatal", "charge.succeeded"))
	require.Error(t, err)

	row, gerr := f.ledger.Get(ctx, "stripe", "evt_fatal")
	require.NoError(t, gerr)
	assert.Equal(t, event.StateDeadLettered, row.State)
	assert.Len(t, f.deadLetters.All(), 1)
	assert.Equal(t, 0, f.retries.Len())
}

func TestPipeline_Process_UnknownTypeIsFatal(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	_, err := f.pipeline.Process(ctx, testutil.NewTestEvent("stripe", "evt_unknown", "charge.mystery"))
	require.Error(t, err)
	assert.Len(t, f.deadLetters.All(), 1)
}

func TestPipeline_Process_UnclassifiedErrorIsRetryable(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	f.pipeline.Register("charge.succeeded", func(ctx context.Context, e *event.Event) (map[string]any, error) {
		return nil, errors.New("something broke")
	})

	_, err := f.pipeline.Process(ctx, testutil.NewTestEvent("stripe", "evt_plain", "charge.succeeded"))
	require.Error(t, err)

	task, gerr := f.retries.Get(ctx, "stripe", "evt_plain")
	require.NoError(t, gerr)
	require.NotNil(t, task)
	assert.Empty(t, f.deadLetters.All())
}

func TestPipeline_Process_LedgerCommitFailureRollsBack(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	f.ledger.MarkProcessedFunc = func(ctx context.Context, source, eventID string, result map[string]any) error {
		return errors.New("connection reset")
	}
	f.pipeline.Register("charge.succeeded", func(ctx context.Context, e *event.Event) (map[string]any, error) {
		return map[string]any{}, nil
	})

	_, err := f.pipeline.Process(ctx, testutil.NewTestEvent("stripe", "evt_commit", "charge.succeeded"))
	require.Error(t, err)

	// the failure inside the transaction lands the event in failed with a retry slot
	task, gerr := f.retries.Get(ctx, "stripe", "evt_commit")
	require.NoError(t, gerr)
	require.NotNil(t, task)
}

func TestPipeline_RunDue_ReadmitsDueTasks(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	handled := 0
	f.pipeline.Register("charge.succeeded", func(ctx context.Context, e *event.Event) (map[string]any, error) {
		handled++
		return map[string]any{"ok": true}, nil
	})

	ev := testutil.NewTestEvent("stripe", "evt_due", "charge.succeeded")
	ev.State = event.StateFailed
	f.ledger.Seed(ev)
	require.NoError(t, f.retries.Schedule(ctx, &event.RetryTask{
		Source: "stripe", EventID: "evt_due", AttemptCount: 1, NextAttemptAt: time.Now().Add(-time.Minute),
	}))
	// not yet due
	require.NoError(t, f.retries.Schedule(ctx, &event.RetryTask{
		Source: "stripe", EventID: "evt_later", AttemptCount: 1, NextAttemptAt: time.Now().Add(time.Hour),
	}))

	processed, err := f.pipeline.RunDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 1, handled)

	// success deletes the task
	task, gerr := f.retries.Get(ctx, "stripe", "evt_due")
	require.NoError(t, gerr)
	assert.Nil(t, task)
}

func TestPipeline_RunDue_DeletesTaskForProcessedEvent(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	// A requeue can land after the claim owner deleted its task in-tx,
	// leaving a task that points at a processed event.
	ev := testutil.NewTestEvent("stripe", "evt_settled", "charge.succeeded")
	ev.State = event.StateProcessed
	ev.Result = map[string]any{"ok": true}
	f.ledger.Seed(ev)
	require.NoError(t, f.retries.Schedule(ctx, &event.RetryTask{
		Source: "stripe", EventID: "evt_settled", AttemptCount: 2, NextAttemptAt: time.Now().Add(-time.Minute),
	}))

	processed, err := f.pipeline.RunDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 0, f.retries.Len())
}

func TestPipeline_RunDue_DeletesTaskForDeadLetteredEvent(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	ev := testutil.NewTestEvent("stripe", "evt_buried", "charge.succeeded")
	ev.State = event.StateDeadLettered
	f.ledger.Seed(ev)
	require.NoError(t, f.retries.Schedule(ctx, &event.RetryTask{
		Source: "stripe", EventID: "evt_buried", AttemptCount: 5, NextAttemptAt: time.Now().Add(-time.Minute),
	}))

	processed, err := f.pipeline.RunDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	assert.Equal(t, 0, f.retries.Len())
}

func TestPipeline_RunDue_DropsTaskWithoutLedgerRow(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	require.NoError(t, f.retries.Schedule(ctx, &event.RetryTask{
		Source: "stripe", EventID: "evt_ghost", AttemptCount: 1, NextAttemptAt: time.Now().Add(-time.Minute),
	}))

	processed, err := f.pipeline.RunDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	assert.Equal(t, 0, f.retries.Len())
}

func TestPipeline_Recover_ReschedulesOrphanedClaims(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	stale := testutil.NewTestEvent("stripe", "evt_stale", "charge.succeeded")
	stale.State = event.StateProcessing
	stale.ReceivedAt = time.Now().Add(-time.Hour)
	f.ledger.Seed(stale)

	fresh := testutil.NewTestEvent("stripe", "evt_fresh", "charge.succeeded")
	fresh.State = event.StateProcessing
	f.ledger.Seed(fresh)

	recovered, err := f.pipeline.Recover(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	row, gerr := f.ledger.Get(ctx, "stripe", "evt_stale")
	require.NoError(t, gerr)
	assert.Equal(t, event.StateFailed, row.State)

	task, gerr := f.retries.Get(ctx, "stripe", "evt_stale")
	require.NoError(t, gerr)
	require.NotNil(t, task)
}
