package controller

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/pedrolacerda/payflow/internal/domain/commission"
	"github.com/pedrolacerda/payflow/internal/domain/event"
	"github.com/pedrolacerda/payflow/internal/domain/merchant"
	"github.com/pedrolacerda/payflow/internal/domain/transaction"
)

// --- Request DTOs ---
// These DTOs handle HTTP/JSON concerns (float64 for money, string for IDs, validation tags).
// Controllers convert these to domain values before calling business logic.

// WebhookEventRequest is the envelope that processors deliver. Any additional
// top-level fields travel in Data and are stored verbatim on the ledger row.
type WebhookEventRequest struct {
	ID   string         `json:"id" validate:"required"`
	Type string         `json:"type" validate:"required"`
	Data map[string]any `json:"data"`
}

// InitiatePaymentRequest holds the input for initiating a payment.
type InitiatePaymentRequest struct {
	MerchantID string  `json:"merchant_id" validate:"required,uuid"`
	Amount     float64 `json:"amount" validate:"required,gt=0"`
	Currency   string  `json:"currency" validate:"required,len=3"`
}

// UpsertRoutingConfigRequest holds a merchant routing policy update.
type UpsertRoutingConfigRequest struct {
	Mode                string  `json:"mode" validate:"required,oneof=centralized decentralized hybrid"`
	PreferredProcessor  string  `json:"preferred_processor"`
	FallbackEnabled     bool    `json:"fallback_enabled"`
	MinExternal         float64 `json:"min_external" validate:"gte=0"`
	MaxPlatform         float64 `json:"max_platform" validate:"gte=0"`
	SplitThreshold      float64 `json:"split_threshold" validate:"gte=0"`
	SplitPlatformBps    int32   `json:"split_platform_bps" validate:"gte=0,lte=10000"`
	CommissionRateBps   int32   `json:"commission_rate_bps" validate:"gte=0,lte=10000"`
	CollectionMethod    string  `json:"collection_method"`
	CollectionSchedule  string  `json:"collection_schedule" validate:"omitempty,oneof=daily weekly monthly"`
}

// ResolveDeadLetterRequest holds operator resolution notes.
type ResolveDeadLetterRequest struct {
	Notes string `json:"notes" validate:"required"`
}

// --- Response DTOs ---

// TransactionResponse represents a routed transaction in API responses.
type TransactionResponse struct {
	ID                  string         `json:"id"`
	MerchantID          string         `json:"merchant_id"`
	Amount              float64        `json:"amount"`
	Currency            string         `json:"currency"`
	Path                string         `json:"path"`
	Processor           *string        `json:"processor,omitempty"`
	Status              string         `json:"status"`
	SplitPlatformAmount float64        `json:"split_platform_amount,omitempty"`
	CommissionOwed      float64        `json:"commission_owed,omitempty"`
	RoutingMode         string         `json:"routing_mode"`
	FallbackReason      *string        `json:"fallback_reason,omitempty"`
	DecisionInputs      map[string]any `json:"decision_inputs,omitempty"`
	ProcessorTxID       *string        `json:"processor_tx_id,omitempty"`
	LastError           *string        `json:"last_error,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	CompletedAt         *time.Time     `json:"completed_at,omitempty"`
}

// EventResponse represents a ledger event in API responses.
type EventResponse struct {
	Source      string         `json:"source"`
	EventID     string         `json:"event_id"`
	Type        string         `json:"type"`
	State       string         `json:"state"`
	Result      map[string]any `json:"result,omitempty"`
	LastError   *string        `json:"last_error,omitempty"`
	ReceivedAt  time.Time      `json:"received_at"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
}

// DeadLetterResponse represents a dead letter record in API responses.
type DeadLetterResponse struct {
	ID                  string     `json:"id"`
	Kind                string     `json:"kind"`
	Source              string     `json:"source"`
	EventID             string     `json:"event_id"`
	FinalError          string     `json:"final_error"`
	AttemptsExhaustedAt time.Time  `json:"attempts_exhausted_at"`
	Resolved            bool       `json:"resolved"`
	ResolutionNotes     *string    `json:"resolution_notes,omitempty"`
	ResolvedAt          *time.Time `json:"resolved_at,omitempty"`
}

// ObligationResponse represents a commission obligation in API responses.
type ObligationResponse struct {
	ID                 string     `json:"id"`
	MerchantID         string     `json:"merchant_id"`
	TransactionIDs     []string   `json:"transaction_ids"`
	Amount             float64    `json:"amount"`
	Currency           string     `json:"currency"`
	RateBps            int32      `json:"rate_bps"`
	Status             string     `json:"status"`
	CollectionMethod   string     `json:"collection_method"`
	CollectionAttempts int        `json:"collection_attempts"`
	NextAttemptAt      *time.Time `json:"next_attempt_at,omitempty"`
	LastError          *string    `json:"last_error,omitempty"`
	ManualReview       bool       `json:"manual_review"`
	DueAt              time.Time  `json:"due_at"`
	CollectedAt        *time.Time `json:"collected_at,omitempty"`
}

// RoutingConfigResponse represents a merchant routing policy.
type RoutingConfigResponse struct {
	MerchantID         string    `json:"merchant_id"`
	Mode               string    `json:"mode"`
	PreferredProcessor string    `json:"preferred_processor,omitempty"`
	FallbackEnabled    bool      `json:"fallback_enabled"`
	MinExternal        float64   `json:"min_external"`
	MaxPlatform        float64   `json:"max_platform"`
	SplitThreshold     float64   `json:"split_threshold"`
	SplitPlatformBps   int32     `json:"split_platform_bps"`
	CommissionRateBps  int32     `json:"commission_rate_bps"`
	CollectionMethod   string    `json:"collection_method,omitempty"`
	CollectionSchedule string    `json:"collection_schedule,omitempty"`
	EffectiveFrom      time.Time `json:"effective_from"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// --- Conversion helpers ---

// FromTransaction converts a domain transaction to API response.
func FromTransaction(t *transaction.Transaction) *TransactionResponse {
	return &TransactionResponse{
		ID:                  t.ID.String(),
		MerchantID:          t.MerchantID.String(),
		Amount:              centsToFloat(t.Amount.ValueCents),
		Currency:            t.Amount.Currency,
		Path:                string(t.Path),
		Processor:           t.Processor,
		Status:              string(t.Status),
		SplitPlatformAmount: centsToFloat(t.SplitPlatformCents),
		CommissionOwed:      centsToFloat(t.CommissionOwedCents),
		RoutingMode:         t.RoutingMode,
		FallbackReason:      t.FallbackReason,
		DecisionInputs:      t.DecisionInputs,
		ProcessorTxID:       t.ProcessorTxID,
		LastError:           t.LastError,
		CreatedAt:           t.CreatedAt,
		UpdatedAt:           t.UpdatedAt,
		CompletedAt:         t.CompletedAt,
	}
}

// FromEvent converts a ledger event to API response. Payloads stay internal.
func FromEvent(e *event.Event) *EventResponse {
	return &EventResponse{
		Source:      e.Source,
		EventID:     e.EventID,
		Type:        e.Type,
		State:       string(e.State),
		Result:      e.Result,
		LastError:   e.LastError,
		ReceivedAt:  e.ReceivedAt,
		ProcessedAt: e.ProcessedAt,
	}
}

// FromDeadLetter converts a dead letter record to API response.
func FromDeadLetter(d *event.DeadLetterRecord) *DeadLetterResponse {
	return &DeadLetterResponse{
		ID:                  d.ID.String(),
		Kind:                string(d.Kind),
		Source:              d.Source,
		EventID:             d.EventID,
		FinalError:          d.FinalError,
		AttemptsExhaustedAt: d.AttemptsExhaustedAt,
		Resolved:            d.Resolved,
		ResolutionNotes:     d.ResolutionNotes,
		ResolvedAt:          d.ResolvedAt,
	}
}

// FromObligation converts a commission obligation to API response.
func FromObligation(o *commission.Obligation) *ObligationResponse {
	txIDs := make([]string, 0, len(o.TransactionIDs))
	for _, id := range o.TransactionIDs {
		txIDs = append(txIDs, id.String())
	}
	return &ObligationResponse{
		ID:                 o.ID.String(),
		MerchantID:         o.MerchantID.String(),
		TransactionIDs:     txIDs,
		Amount:             centsToFloat(o.AmountCents),
		Currency:           o.Currency,
		RateBps:            o.RateBps,
		Status:             string(o.Status),
		CollectionMethod:   o.CollectionMethod,
		CollectionAttempts: o.CollectionAttempts,
		NextAttemptAt:      o.NextAttemptAt,
		LastError:          o.LastError,
		ManualReview:       o.ManualReview,
		DueAt:              o.DueAt,
		CollectedAt:        o.CollectedAt,
	}
}

// FromRoutingConfig converts a merchant routing config to API response.
func FromRoutingConfig(c *merchant.RoutingConfig) *RoutingConfigResponse {
	return &RoutingConfigResponse{
		MerchantID:         c.MerchantID.String(),
		Mode:               string(c.Mode),
		PreferredProcessor: c.PreferredProcessor,
		FallbackEnabled:    c.FallbackEnabled,
		MinExternal:        centsToFloat(c.MinExternalCents),
		MaxPlatform:        centsToFloat(c.MaxPlatformCents),
		SplitThreshold:     centsToFloat(c.SplitThresholdCents),
		SplitPlatformBps:   c.SplitPlatformBps,
		CommissionRateBps:  c.CommissionRateBps,
		CollectionMethod:   c.CollectionMethod,
		CollectionSchedule: string(c.CollectionSchedule),
		EffectiveFrom:      c.EffectiveFrom,
	}
}

// floatToCents converts a float currency amount to cents.
func floatToCents(f float64) int64 {
	// Round, don't truncate: 19.99 has no exact float64 representation and
	// truncation would bill 1998 cents.
	return int64(math.Round(f * 100))
}

// centsToFloat converts cents to a float currency amount.
func centsToFloat(cents int64) float64 {
	return float64(cents) / 100.0
}

// parseUUID parses a UUID string, returning nil if invalid.
func parseUUID(s string) *uuid.UUID {
	if s == "" {
		return nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil
	}
	return &id
}
