package testutil

import (
	"time"

	"github.com/google/uuid"
	"github.com/pedrolacerda/payflow/internal/domain/commission"
	"github.com/pedrolacerda/payflow/internal/domain/event"
	"github.com/pedrolacerda/payflow/internal/domain/merchant"
	"github.com/pedrolacerda/payflow/internal/domain/transaction"
)

func NewTestEvent(source, eventID, eventType string) *event.Event {
	return &event.Event{
		Source:     source,
		EventID:    eventID,
		Type:       eventType,
		Payload:    map[string]any{"transaction_id": uuid.New().String()},
		State:      event.StateReceived,
		ReceivedAt: time.Now(),
	}
}

func NewTestTransaction(merchantID uuid.UUID, amountCents int64, path transaction.Path) *transaction.Transaction {
	now := time.Now()
	return &transaction.Transaction{
		ID:             uuid.New(),
		MerchantID:     merchantID,
		Amount:         transaction.Amount{ValueCents: amountCents, Currency: "USD"},
		Path:           path,
		Status:         transaction.StatusPending,
		DecisionInputs: make(map[string]any),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func NewCompletedTransaction(merchantID uuid.UUID, amountCents int64, path transaction.Path, processor string) *transaction.Transaction {
	t := NewTestTransaction(merchantID, amountCents, path)
	t.Status = transaction.StatusCompleted
	if processor != "" {
		t.Processor = &processor
	}
	completedAt := time.Now()
	t.CompletedAt = &completedAt
	return t
}

func NewTestRoutingConfig(merchantID uuid.UUID, mode merchant.RoutingMode) *merchant.RoutingConfig {
	return &merchant.RoutingConfig{
		MerchantID:         merchantID,
		Mode:               mode,
		PreferredProcessor: "stripe",
		FallbackEnabled:    true,
		SplitThresholdCents: 100_00,
		SplitPlatformBps:   2000,
		CollectionMethod:   "direct_debit",
		CollectionSchedule: merchant.ScheduleDaily,
		EffectiveFrom:      time.Now().Add(-time.Hour),
	}
}

func NewTestConnection(merchantID uuid.UUID, processor string, status merchant.ConnectionStatus) *merchant.ProcessorConnection {
	now := time.Now()
	return &merchant.ProcessorConnection{
		MerchantID:      merchantID,
		Processor:       processor,
		Status:          status,
		SupportsRefunds: true,
		FeeModel:        "flat",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func NewTestObligation(merchantID uuid.UUID, txIDs []uuid.UUID, amountCents int64) *commission.Obligation {
	now := time.Now()
	return &commission.Obligation{
		ID:               uuid.New(),
		MerchantID:       merchantID,
		TransactionIDs:   txIDs,
		AmountCents:      amountCents,
		Currency:         "USD",
		RateBps:          350,
		Status:           commission.StatusDue,
		CollectionMethod: "direct_debit",
		DueAt:            now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func StrPtr(s string) *string {
	return &s
}

func UUIDPtr(id uuid.UUID) *uuid.UUID {
	return &id
}
