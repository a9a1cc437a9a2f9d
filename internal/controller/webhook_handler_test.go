package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pedrolacerda/payflow/internal/application/ingest"
	"github.com/pedrolacerda/payflow/internal/domain/event"
	"github.com/pedrolacerda/payflow/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type webhookFixture struct {
	handler *WebhookController
	ledger  *testutil.MockLedger
	retries *testutil.MockRetryRepository
	pipe    *ingest.Pipeline
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	ledger := testutil.NewMockLedger()
	retries := testutil.NewMockRetryRepository()
	deadLetters := testutil.NewMockDeadLetterRepository()
	guard := ingest.NewGuard(ledger)
	scheduler := ingest.NewScheduler(retries, deadLetters, ledger, nil, zerolog.Nop())
	pipe := ingest.NewPipeline(guard, scheduler, ledger, retries, &testutil.MockTxManager{}, 10*time.Minute, zerolog.Nop())
	return &webhookFixture{
		handler: NewWebhookController(pipe),
		ledger:  ledger,
		retries: retries,
		pipe:    pipe,
	}
}

func webhookRequest(t *testing.T, source string, body any) *http.Request {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/"+source, bytes.NewReader(b))
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("source", source)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestWebhookController_Receive_Processed(t *testing.T) {
	f := newWebhookFixture(t)
	f.pipe.Register("charge.succeeded", func(ctx context.Context, e *event.Event) (map[string]any, error) {
		return map[string]any{"transaction_id": "tx_1"}, nil
	})

	rec := httptest.NewRecorder()
	f.handler.Receive(rec, webhookRequest(t, "stripe", WebhookEventRequest{
		ID: "evt_1", Type: "charge.succeeded", Data: map[string]any{"reference": "ch_1"},
	}))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "processed", resp["status"])
}

func TestWebhookController_Receive_DuplicateReplaysWithoutSideEffects(t *testing.T) {
	f := newWebhookFixture(t)
	handled := 0
	f.pipe.Register("charge.succeeded", func(ctx context.Context, e *event.Event) (map[string]any, error) {
		handled++
		return map[string]any{"transaction_id": "tx_1"}, nil
	})

	body := WebhookEventRequest{ID: "evt_dup", Type: "charge.succeeded"}

	first := httptest.NewRecorder()
	f.handler.Receive(first, webhookRequest(t, "stripe", body))
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	f.handler.Receive(second, webhookRequest(t, "stripe", body))

	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, 1, handled, "handler runs once across redeliveries")
}

func TestWebhookController_Receive_RetryableFailureAccepted(t *testing.T) {
	f := newWebhookFixture(t)
	f.pipe.Register("charge.succeeded", func(ctx context.Context, e *event.Event) (map[string]any, error) {
		return nil, errors.New("downstream unavailable")
	})

	rec := httptest.NewRecorder()
	f.handler.Receive(rec, webhookRequest(t, "stripe", WebhookEventRequest{
		ID: "evt_retry", Type: "charge.succeeded",
	}))

	// The scheduler owns redelivery now; the sender is done.
	assert.Equal(t, http.StatusAccepted, rec.Code)
	task, err := f.retries.Get(context.Background(), "stripe", "evt_retry")
	require.NoError(t, err)
	require.NotNil(t, task)
}

func TestWebhookController_Receive_ClaimHeldAccepted(t *testing.T) {
	f := newWebhookFixture(t)
	f.pipe.Register("charge.succeeded", func(ctx context.Context, e *event.Event) (map[string]any, error) {
		return map[string]any{}, nil
	})

	held := testutil.NewTestEvent("stripe", "evt_held", "charge.succeeded")
	held.State = event.StateProcessing
	f.ledger.Seed(held)

	rec := httptest.NewRecorder()
	f.handler.Receive(rec, webhookRequest(t, "stripe", WebhookEventRequest{
		ID: "evt_held", Type: "charge.succeeded",
	}))

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestWebhookController_Receive_DeadLetteredGone(t *testing.T) {
	f := newWebhookFixture(t)

	buried := testutil.NewTestEvent("stripe", "evt_gone", "charge.succeeded")
	buried.State = event.StateDeadLettered
	f.ledger.Seed(buried)

	rec := httptest.NewRecorder()
	f.handler.Receive(rec, webhookRequest(t, "stripe", WebhookEventRequest{
		ID: "evt_gone", Type: "charge.succeeded",
	}))

	assert.Equal(t, http.StatusGone, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "dead_lettered", resp.Code)
}

func TestWebhookController_Receive_MissingIDRejected(t *testing.T) {
	f := newWebhookFixture(t)

	rec := httptest.NewRecorder()
	f.handler.Receive(rec, webhookRequest(t, "stripe", WebhookEventRequest{
		Type: "charge.succeeded",
	}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
