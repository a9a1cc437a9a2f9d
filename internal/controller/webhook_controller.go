package controller

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pedrolacerda/payflow/internal/application/ingest"
	domainErrors "github.com/pedrolacerda/payflow/internal/domain/errors"
	"github.com/pedrolacerda/payflow/internal/domain/event"
)

// WebhookController receives lifecycle event deliveries from external
// processors. Signature verification happens in middleware before the request
// reaches this handler.
type WebhookController struct {
	pipeline *ingest.Pipeline
}

func NewWebhookController(pipeline *ingest.Pipeline) *WebhookController {
	return &WebhookController{pipeline: pipeline}
}

// Receive handles POST /webhooks/{source}.
//
// Deliveries are acknowledged once the ledger owns them: a retryable handler
// failure is answered 202 because the internal scheduler owns redelivery from
// that point on, and the sender retrying would only produce duplicates for the
// guard to swallow.
func (h *WebhookController) Receive(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")

	var req WebhookEventRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	e, err := event.New(source, req.ID, req.Type, req.Data)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.pipeline.Process(r.Context(), e)
	if err != nil {
		if errors.Is(err, domainErrors.ErrEventDeadLetter) {
			// Terminal: tell the sender to stop redelivering.
			writeJSON(w, http.StatusGone, ErrorResponse{Error: "event is dead-lettered", Code: "dead_lettered"})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
		return
	}

	if result == nil {
		// Lost the claim race to a concurrent worker; a retry slot exists.
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "processed",
		"result": result,
	})
}
