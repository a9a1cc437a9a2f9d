package ingest_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pedrolacerda/payflow/internal/application/ingest"
	"github.com/pedrolacerda/payflow/internal/domain/event"
	"github.com/pedrolacerda/payflow/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffForAttempt(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
		ok      bool
	}{
		{1, 1 * time.Minute, true},
		{2, 5 * time.Minute, true},
		{3, 15 * time.Minute, true},
		{4, 1 * time.Hour, true},
		{5, 2 * time.Hour, true},
		{6, 0, false},
		{0, 0, false},
		{-1, 0, false},
	}

	for _, tt := range tests {
		got, ok := ingest.BackoffForAttempt(tt.attempt)
		assert.Equal(t, tt.ok, ok, "attempt %d", tt.attempt)
		assert.Equal(t, tt.want, got, "attempt %d", tt.attempt)
	}

	// MaxAttempts is a compile-time constant derived from the table.
	const slots = ingest.MaxAttempts
	assert.Equal(t, 5, slots)
}

func newTestScheduler(t *testing.T) (*ingest.Scheduler, *testutil.MockLedger, *testutil.MockRetryRepository, *testutil.MockDeadLetterRepository, *testutil.MockDeadLetterPublisher) {
	t.Helper()
	ledger := testutil.NewMockLedger()
	retries := testutil.NewMockRetryRepository()
	deadLetters := testutil.NewMockDeadLetterRepository()
	publisher := &testutil.MockDeadLetterPublisher{}
	s := ingest.NewScheduler(retries, deadLetters, ledger, publisher, zerolog.Nop())
	return s, ledger, retries, deadLetters, publisher
}

func TestScheduler_Schedule_RecordsRetrySlot(t *testing.T) {
	s, _, retries, _, _ := newTestScheduler(t)
	ctx := context.Background()

	before := time.Now()
	err := s.Schedule(ctx, "stripe", "evt_1", 2, errors.New("processor unavailable"))
	require.NoError(t, err)

	task, err := retries.Get(ctx, "stripe", "evt_1")
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, 2, task.AttemptCount)
	assert.Equal(t, "processor unavailable", task.LastError)
	// attempt 2 maps to a 5 minute delay
	assert.WithinDuration(t, before.Add(5*time.Minute), task.NextAttemptAt, 5*time.Second)
}

func TestScheduler_Schedule_ExhaustionPromotes(t *testing.T) {
	s, ledger, retries, deadLetters, publisher := newTestScheduler(t)
	ctx := context.Background()

	ev := testutil.NewTestEvent("stripe", "evt_exhausted", "charge.succeeded")
	ev.State = event.StateFailed
	ledger.Seed(ev)
	require.NoError(t, retries.Schedule(ctx, &event.RetryTask{
		Source: "stripe", EventID: "evt_exhausted", AttemptCount: 5, NextAttemptAt: time.Now(),
	}))

	// attempt 6 has no backoff slot
	err := s.Schedule(ctx, "stripe", "evt_exhausted", 6, errors.New("still failing"))
	require.NoError(t, err)

	records := deadLetters.All()
	require.Len(t, records, 1)
	assert.Equal(t, event.KindEvent, records[0].Kind)
	assert.False(t, records[0].Resolved)

	// retry task removed, ledger row terminal, stream mirror published
	assert.Equal(t, 0, retries.Len())
	row, err := ledger.Get(ctx, "stripe", "evt_exhausted")
	require.NoError(t, err)
	assert.Equal(t, event.StateDeadLettered, row.State)
	require.Len(t, publisher.Published, 1)
	assert.Equal(t, "evt_exhausted", publisher.Published[0].EventID)
}

func TestScheduler_Requeue_PreservesAttemptCount(t *testing.T) {
	s, _, retries, _, _ := newTestScheduler(t)
	ctx := context.Background()

	require.NoError(t, retries.Schedule(ctx, &event.RetryTask{
		Source: "stripe", EventID: "evt_race", AttemptCount: 3, NextAttemptAt: time.Now().Add(15 * time.Minute),
	}))

	before := time.Now()
	require.NoError(t, s.Requeue(ctx, "stripe", "evt_race"))

	task, err := retries.Get(ctx, "stripe", "evt_race")
	require.NoError(t, err)
	require.NotNil(t, task)
	// losing a claim race must not consume a retry attempt
	assert.Equal(t, 3, task.AttemptCount)
	assert.WithinDuration(t, before.Add(30*time.Second), task.NextAttemptAt, 5*time.Second)
}

func TestScheduler_Requeue_FirstDelivery(t *testing.T) {
	s, _, retries, _, _ := newTestScheduler(t)
	ctx := context.Background()

	require.NoError(t, s.Requeue(ctx, "stripe", "evt_new"))

	task, err := retries.Get(ctx, "stripe", "evt_new")
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, 1, task.AttemptCount)
}

func TestScheduler_NextAttempt(t *testing.T) {
	s, _, retries, _, _ := newTestScheduler(t)
	ctx := context.Background()

	assert.Equal(t, 1, s.NextAttempt(ctx, "stripe", "evt_none"))

	require.NoError(t, retries.Schedule(ctx, &event.RetryTask{
		Source: "stripe", EventID: "evt_seen", AttemptCount: 2, NextAttemptAt: time.Now(),
	}))
	assert.Equal(t, 3, s.NextAttempt(ctx, "stripe", "evt_seen"))
}

func TestScheduler_Promote_MirrorFailureDoesNotFailPromotion(t *testing.T) {
	ledger := testutil.NewMockLedger()
	retries := testutil.NewMockRetryRepository()
	deadLetters := testutil.NewMockDeadLetterRepository()
	publisher := &testutil.MockDeadLetterPublisher{
		PublishDeadLetterFunc: func(ctx context.Context, source, eventID, reason string, payload map[string]any) error {
			return errors.New("stream down")
		},
	}
	s := ingest.NewScheduler(retries, deadLetters, ledger, publisher, zerolog.Nop())

	ev := testutil.NewTestEvent("stripe", "evt_mirror", "charge.succeeded")
	ev.State = event.StateFailed
	ledger.Seed(ev)

	err := s.Promote(context.Background(), "stripe", "evt_mirror", "fatal validation error")
	require.NoError(t, err)
	assert.Len(t, deadLetters.All(), 1)
}
