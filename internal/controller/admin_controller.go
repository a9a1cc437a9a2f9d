package controller

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pedrolacerda/payflow/internal/domain/commission"
	"github.com/pedrolacerda/payflow/internal/domain/event"
	"github.com/pedrolacerda/payflow/internal/domain/merchant"
)

// AdminController exposes operator endpoints: the dead-letter queue, the event
// ledger audit trail, commission follow-up, and merchant routing policy.
type AdminController struct {
	deadLetters event.DeadLetterRepository
	ledger      event.Ledger
	obligations commission.Repository
	merchants   merchant.Repository
}

func NewAdminController(
	deadLetters event.DeadLetterRepository,
	ledger event.Ledger,
	obligations commission.Repository,
	merchants merchant.Repository,
) *AdminController {
	return &AdminController{
		deadLetters: deadLetters,
		ledger:      ledger,
		obligations: obligations,
		merchants:   merchants,
	}
}

// ListDeadLetters handles GET /api/v1/admin/dead-letters
func (h *AdminController) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	var resolved *bool
	if s := r.URL.Query().Get("resolved"); s != "" {
		b := s == "true"
		resolved = &b
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	records, err := h.deadLetters.List(r.Context(), resolved, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]*DeadLetterResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, FromDeadLetter(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"dead_letters": resp})
}

// ResolveDeadLetter handles POST /api/v1/admin/dead-letters/{id}/resolve
func (h *AdminController) ResolveDeadLetter(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid dead letter id", Code: "invalid_id"})
		return
	}

	var req ResolveDeadLetterRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	rec, err := h.deadLetters.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := rec.Resolve(req.Notes); err != nil {
		writeError(w, err)
		return
	}
	if err := h.deadLetters.Update(r.Context(), rec); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FromDeadLetter(rec))
}

// ListEvents handles GET /api/v1/admin/events
func (h *AdminController) ListEvents(w http.ResponseWriter, r *http.Request) {
	filter := event.ListFilter{
		Source: r.URL.Query().Get("source"),
	}
	if s := r.URL.Query().Get("state"); s != "" {
		state := event.State(s)
		filter.State = &state
	}
	filter.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	filter.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))

	events, err := h.ledger.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]*EventResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, FromEvent(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": resp})
}

// ListObligations handles GET /api/v1/admin/obligations
func (h *AdminController) ListObligations(w http.ResponseWriter, r *http.Request) {
	filter := commission.ListFilter{}

	if s := r.URL.Query().Get("merchant_id"); s != "" {
		if id := parseUUID(s); id != nil {
			filter.MerchantID = id
		}
	}
	if s := r.URL.Query().Get("status"); s != "" {
		status := commission.Status(s)
		filter.Status = &status
	}
	if s := r.URL.Query().Get("manual_review"); s != "" {
		b := s == "true"
		filter.ManualReview = &b
	}
	filter.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	filter.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))

	obls, err := h.obligations.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]*ObligationResponse, 0, len(obls))
	for _, o := range obls {
		resp = append(resp, FromObligation(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"obligations": resp})
}

// GetRoutingConfig handles GET /api/v1/admin/merchants/{id}/routing-config
func (h *AdminController) GetRoutingConfig(w http.ResponseWriter, r *http.Request) {
	merchantID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid merchant id", Code: "invalid_id"})
		return
	}

	cfg, err := h.merchants.GetRoutingConfig(r.Context(), merchantID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FromRoutingConfig(cfg))
}

// UpsertRoutingConfig handles PUT /api/v1/admin/merchants/{id}/routing-config
func (h *AdminController) UpsertRoutingConfig(w http.ResponseWriter, r *http.Request) {
	merchantID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid merchant id", Code: "invalid_id"})
		return
	}

	var req UpsertRoutingConfigRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	cfg := &merchant.RoutingConfig{
		MerchantID:          merchantID,
		Mode:                merchant.RoutingMode(req.Mode),
		PreferredProcessor:  req.PreferredProcessor,
		FallbackEnabled:     req.FallbackEnabled,
		MinExternalCents:    floatToCents(req.MinExternal),
		MaxPlatformCents:    floatToCents(req.MaxPlatform),
		SplitThresholdCents: floatToCents(req.SplitThreshold),
		SplitPlatformBps:    req.SplitPlatformBps,
		CommissionRateBps:   req.CommissionRateBps,
		CollectionMethod:    req.CollectionMethod,
		CollectionSchedule:  merchant.CollectionSchedule(req.CollectionSchedule),
		EffectiveFrom:       time.Now(),
	}
	if err := cfg.Validate(); err != nil {
		writeError(w, err)
		return
	}

	if err := h.merchants.UpsertRoutingConfig(r.Context(), cfg); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FromRoutingConfig(cfg))
}
