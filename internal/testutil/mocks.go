package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pedrolacerda/payflow/internal/domain/commission"
	"github.com/pedrolacerda/payflow/internal/domain/errors"
	"github.com/pedrolacerda/payflow/internal/domain/event"
	"github.com/pedrolacerda/payflow/internal/domain/merchant"
	"github.com/pedrolacerda/payflow/internal/domain/transaction"
)

// --- Event Ledger Mock ---

// MockLedger is an in-memory implementation of event.Ledger. The default
// behavior mirrors the real claim semantics so pipeline tests exercise actual
// duplicate resolution; per-method Func fields override when a test needs a
// specific failure.
type MockLedger struct {
	mu     sync.Mutex
	events map[string]*event.Event

	ClaimFunc               func(ctx context.Context, e *event.Event) (event.ClaimOutcome, *event.Event, error)
	InsertReceivedFunc      func(ctx context.Context, e *event.Event) error
	GetFunc                 func(ctx context.Context, source, eventID string) (*event.Event, error)
	MarkProcessedFunc       func(ctx context.Context, source, eventID string, result map[string]any) error
	MarkFailedFunc          func(ctx context.Context, source, eventID string, processingErr string) error
	MarkDeadLetteredFunc    func(ctx context.Context, source, eventID string) error
	ListStaleProcessingFunc func(ctx context.Context, olderThan time.Time, limit int) ([]*event.Event, error)
	ListFunc                func(ctx context.Context, filter event.ListFilter) ([]*event.Event, error)
}

func NewMockLedger() *MockLedger {
	return &MockLedger{events: make(map[string]*event.Event)}
}

func (m *MockLedger) Claim(ctx context.Context, e *event.Event) (event.ClaimOutcome, *event.Event, error) {
	if m.ClaimFunc != nil {
		return m.ClaimFunc(ctx, e)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.events[e.Key()]
	if !ok {
		claimed := *e
		claimed.State = event.StateProcessing
		m.events[e.Key()] = &claimed
		return event.OutcomeClaimed, &claimed, nil
	}
	switch existing.State {
	case event.StateProcessed:
		return event.OutcomeProcessed, existing, nil
	case event.StateDeadLettered:
		return event.OutcomeDeadLettered, existing, nil
	case event.StateProcessing:
		return event.OutcomeProcessing, existing, nil
	default:
		if existing.State == event.StateReceived {
			existing.Type = e.Type
			existing.Payload = e.Payload
		}
		existing.State = event.StateProcessing
		return event.OutcomeClaimed, existing, nil
	}
}

func (m *MockLedger) InsertReceived(ctx context.Context, e *event.Event) error {
	if m.InsertReceivedFunc != nil {
		return m.InsertReceivedFunc(ctx, e)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[e.Key()]; ok {
		return nil
	}
	cp := *e
	cp.State = event.StateReceived
	m.events[e.Key()] = &cp
	return nil
}

func (m *MockLedger) Get(ctx context.Context, source, eventID string) (*event.Event, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, source, eventID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[source+":"+eventID]
	if !ok {
		return nil, errors.ErrEventNotFound
	}
	return e, nil
}

func (m *MockLedger) MarkProcessed(ctx context.Context, source, eventID string, result map[string]any) error {
	if m.MarkProcessedFunc != nil {
		return m.MarkProcessedFunc(ctx, source, eventID, result)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[source+":"+eventID]
	if !ok || e.State != event.StateProcessing {
		return errors.ErrInvalidStateTransition
	}
	e.State = event.StateProcessed
	e.Result = result
	now := time.Now()
	e.ProcessedAt = &now
	return nil
}

func (m *MockLedger) MarkFailed(ctx context.Context, source, eventID string, processingErr string) error {
	if m.MarkFailedFunc != nil {
		return m.MarkFailedFunc(ctx, source, eventID, processingErr)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[source+":"+eventID]
	if !ok || e.State != event.StateProcessing {
		return errors.ErrInvalidStateTransition
	}
	e.State = event.StateFailed
	e.LastError = &processingErr
	return nil
}

func (m *MockLedger) MarkDeadLettered(ctx context.Context, source, eventID string) error {
	if m.MarkDeadLetteredFunc != nil {
		return m.MarkDeadLetteredFunc(ctx, source, eventID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[source+":"+eventID]
	if !ok || e.State != event.StateFailed {
		return errors.ErrInvalidStateTransition
	}
	e.State = event.StateDeadLettered
	return nil
}

func (m *MockLedger) ListStaleProcessing(ctx context.Context, olderThan time.Time, limit int) ([]*event.Event, error) {
	if m.ListStaleProcessingFunc != nil {
		return m.ListStaleProcessingFunc(ctx, olderThan, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*event.Event
	for _, e := range m.events {
		if e.State == event.StateProcessing && e.ReceivedAt.Before(olderThan) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MockLedger) List(ctx context.Context, filter event.ListFilter) ([]*event.Event, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, filter)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*event.Event
	for _, e := range m.events {
		if filter.Source != "" && e.Source != filter.Source {
			continue
		}
		if filter.State != nil && e.State != *filter.State {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Seed installs an event directly, bypassing claim semantics.
func (m *MockLedger) Seed(e *event.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[e.Key()] = e
}

// --- Retry Repository Mock ---

// MockRetryRepository is an in-memory implementation of event.RetryRepository.
type MockRetryRepository struct {
	mu    sync.Mutex
	tasks map[string]*event.RetryTask

	ScheduleFunc func(ctx context.Context, task *event.RetryTask) error
	ClaimDueFunc func(ctx context.Context, now time.Time, limit int) ([]*event.RetryTask, error)
	ReleaseFunc  func(ctx context.Context, source, eventID string) error
	GetFunc      func(ctx context.Context, source, eventID string) (*event.RetryTask, error)
	DeleteFunc   func(ctx context.Context, source, eventID string) error
}

func NewMockRetryRepository() *MockRetryRepository {
	return &MockRetryRepository{tasks: make(map[string]*event.RetryTask)}
}

func (m *MockRetryRepository) Schedule(ctx context.Context, task *event.RetryTask) error {
	if m.ScheduleFunc != nil {
		return m.ScheduleFunc(ctx, task)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := task.Source + ":" + task.EventID
	if existing, ok := m.tasks[key]; ok && existing.AttemptCount > task.AttemptCount {
		// attempt_count only grows
		return nil
	}
	cp := *task
	m.tasks[key] = &cp
	return nil
}

func (m *MockRetryRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*event.RetryTask, error) {
	if m.ClaimDueFunc != nil {
		return m.ClaimDueFunc(ctx, now, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*event.RetryTask
	for _, t := range m.tasks {
		if t.ClaimedAt == nil && !t.NextAttemptAt.After(now) {
			claimed := now
			t.ClaimedAt = &claimed
			out = append(out, t)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MockRetryRepository) Release(ctx context.Context, source, eventID string) error {
	if m.ReleaseFunc != nil {
		return m.ReleaseFunc(ctx, source, eventID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[source+":"+eventID]; ok {
		t.ClaimedAt = nil
	}
	return nil
}

func (m *MockRetryRepository) Get(ctx context.Context, source, eventID string) (*event.RetryTask, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, source, eventID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[source+":"+eventID]
	if !ok {
		return nil, nil
	}
	return t, nil
}

func (m *MockRetryRepository) Delete(ctx context.Context, source, eventID string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, source, eventID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, source+":"+eventID)
	return nil
}

// Len reports how many tasks are currently scheduled.
func (m *MockRetryRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// --- Dead Letter Repository Mock ---

// MockDeadLetterRepository is an in-memory implementation of
// event.DeadLetterRepository.
type MockDeadLetterRepository struct {
	mu      sync.Mutex
	records map[uuid.UUID]*event.DeadLetterRecord

	InsertFunc func(ctx context.Context, rec *event.DeadLetterRecord) error
	GetFunc    func(ctx context.Context, id uuid.UUID) (*event.DeadLetterRecord, error)
	ListFunc   func(ctx context.Context, resolved *bool, limit, offset int) ([]*event.DeadLetterRecord, error)
	UpdateFunc func(ctx context.Context, rec *event.DeadLetterRecord) error
}

func NewMockDeadLetterRepository() *MockDeadLetterRepository {
	return &MockDeadLetterRepository{records: make(map[uuid.UUID]*event.DeadLetterRecord)}
}

func (m *MockDeadLetterRepository) Insert(ctx context.Context, rec *event.DeadLetterRecord) error {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, rec)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec
	return nil
}

func (m *MockDeadLetterRepository) Get(ctx context.Context, id uuid.UUID) (*event.DeadLetterRecord, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, errors.ErrDeadLetterNotFound
	}
	return rec, nil
}

func (m *MockDeadLetterRepository) List(ctx context.Context, resolved *bool, limit, offset int) ([]*event.DeadLetterRecord, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, resolved, limit, offset)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*event.DeadLetterRecord
	for _, rec := range m.records {
		if resolved != nil && rec.Resolved != *resolved {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (m *MockDeadLetterRepository) Update(ctx context.Context, rec *event.DeadLetterRecord) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, rec)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; !ok {
		return errors.ErrDeadLetterNotFound
	}
	m.records[rec.ID] = rec
	return nil
}

// All returns every stored record.
func (m *MockDeadLetterRepository) All() []*event.DeadLetterRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*event.DeadLetterRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	return out
}

// --- Transaction Repository Mock ---

// MockTransactionRepository is an in-memory implementation of
// transaction.Repository.
type MockTransactionRepository struct {
	mu           sync.Mutex
	transactions map[uuid.UUID]*transaction.Transaction
	covered      map[uuid.UUID]bool

	CreateFunc            func(ctx context.Context, t *transaction.Transaction) error
	GetByIDFunc           func(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error)
	UpdateFunc            func(ctx context.Context, t *transaction.Transaction) error
	ListFunc              func(ctx context.Context, f transaction.ListFilter) ([]*transaction.Transaction, error)
	ListUncoveredFunc     func(ctx context.Context, merchantID uuid.UUID, limit int) ([]*transaction.Transaction, error)
	SetCommissionOwedFunc func(ctx context.Context, id uuid.UUID, cents int64) error
}

func NewMockTransactionRepository() *MockTransactionRepository {
	return &MockTransactionRepository{
		transactions: make(map[uuid.UUID]*transaction.Transaction),
		covered:      make(map[uuid.UUID]bool),
	}
}

func (m *MockTransactionRepository) Create(ctx context.Context, t *transaction.Transaction) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, t)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions[t.ID] = t
	return nil
}

func (m *MockTransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[id]
	if !ok {
		return nil, errors.ErrTransactionNotFound
	}
	return t, nil
}

func (m *MockTransactionRepository) Update(ctx context.Context, t *transaction.Transaction) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, t)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.transactions[t.ID]; !ok {
		return errors.ErrTransactionNotFound
	}
	m.transactions[t.ID] = t
	return nil
}

func (m *MockTransactionRepository) List(ctx context.Context, f transaction.ListFilter) ([]*transaction.Transaction, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, f)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*transaction.Transaction
	for _, t := range m.transactions {
		if f.MerchantID != nil && t.MerchantID != *f.MerchantID {
			continue
		}
		if f.Status != nil && t.Status != *f.Status {
			continue
		}
		if f.Path != nil && t.Path != *f.Path {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (m *MockTransactionRepository) ListUncovered(ctx context.Context, merchantID uuid.UUID, limit int) ([]*transaction.Transaction, error) {
	if m.ListUncoveredFunc != nil {
		return m.ListUncoveredFunc(ctx, merchantID, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*transaction.Transaction
	for _, t := range m.transactions {
		if t.MerchantID != merchantID || !t.CommissionEligible() || m.covered[t.ID] {
			continue
		}
		out = append(out, t)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MockTransactionRepository) SetCommissionOwed(ctx context.Context, id uuid.UUID, cents int64) error {
	if m.SetCommissionOwedFunc != nil {
		return m.SetCommissionOwedFunc(ctx, id, cents)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[id]
	if !ok {
		return errors.ErrTransactionNotFound
	}
	t.CommissionOwedCents = cents
	return nil
}

// MarkCovered flags transactions as covered for ListUncovered's default path.
func (m *MockTransactionRepository) MarkCovered(ids ...uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.covered[id] = true
	}
}

// --- Merchant Repository Mock ---

// MockMerchantRepository is an in-memory implementation of merchant.Repository.
type MockMerchantRepository struct {
	mu          sync.Mutex
	configs     map[uuid.UUID]*merchant.RoutingConfig
	connections map[uuid.UUID][]*merchant.ProcessorConnection

	GetRoutingConfigFunc        func(ctx context.Context, merchantID uuid.UUID) (*merchant.RoutingConfig, error)
	UpsertRoutingConfigFunc     func(ctx context.Context, cfg *merchant.RoutingConfig) error
	ListConnectionsFunc         func(ctx context.Context, merchantID uuid.UUID) ([]*merchant.ProcessorConnection, error)
	GetConnectionFunc           func(ctx context.Context, merchantID uuid.UUID, processor string) (*merchant.ProcessorConnection, error)
	ListMerchantsByScheduleFunc func(ctx context.Context, schedule merchant.CollectionSchedule) ([]uuid.UUID, error)
}

func NewMockMerchantRepository() *MockMerchantRepository {
	return &MockMerchantRepository{
		configs:     make(map[uuid.UUID]*merchant.RoutingConfig),
		connections: make(map[uuid.UUID][]*merchant.ProcessorConnection),
	}
}

func (m *MockMerchantRepository) GetRoutingConfig(ctx context.Context, merchantID uuid.UUID) (*merchant.RoutingConfig, error) {
	if m.GetRoutingConfigFunc != nil {
		return m.GetRoutingConfigFunc(ctx, merchantID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configs[merchantID]
	if !ok {
		return nil, errors.ErrRoutingConfigNotFound
	}
	return cfg, nil
}

func (m *MockMerchantRepository) UpsertRoutingConfig(ctx context.Context, cfg *merchant.RoutingConfig) error {
	if m.UpsertRoutingConfigFunc != nil {
		return m.UpsertRoutingConfigFunc(ctx, cfg)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[cfg.MerchantID] = cfg
	return nil
}

func (m *MockMerchantRepository) ListConnections(ctx context.Context, merchantID uuid.UUID) ([]*merchant.ProcessorConnection, error) {
	if m.ListConnectionsFunc != nil {
		return m.ListConnectionsFunc(ctx, merchantID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connections[merchantID], nil
}

func (m *MockMerchantRepository) GetConnection(ctx context.Context, merchantID uuid.UUID, processor string) (*merchant.ProcessorConnection, error) {
	if m.GetConnectionFunc != nil {
		return m.GetConnectionFunc(ctx, merchantID, processor)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.connections[merchantID] {
		if c.Processor == processor {
			return c, nil
		}
	}
	return nil, errors.ErrConnectionNotFound
}

func (m *MockMerchantRepository) ListMerchantsBySchedule(ctx context.Context, schedule merchant.CollectionSchedule) ([]uuid.UUID, error) {
	if m.ListMerchantsByScheduleFunc != nil {
		return m.ListMerchantsByScheduleFunc(ctx, schedule)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []uuid.UUID
	for id, cfg := range m.configs {
		if cfg.CollectionSchedule == schedule {
			out = append(out, id)
		}
	}
	return out, nil
}

// AddConnection installs a processor connection for the merchant.
func (m *MockMerchantRepository) AddConnection(c *merchant.ProcessorConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.MerchantID] = append(m.connections[c.MerchantID], c)
}

// --- Commission Repository Mock ---

// MockCommissionRepository is an in-memory implementation of
// commission.Repository. The default Create enforces the one-active-coverage
// invariant the real store enforces with a partial unique index.
type MockCommissionRepository struct {
	mu          sync.Mutex
	obligations map[uuid.UUID]*commission.Obligation
	coverage    map[uuid.UUID]uuid.UUID // transaction -> active obligation

	CreateFunc           func(ctx context.Context, o *commission.Obligation) error
	GetByIDFunc          func(ctx context.Context, id uuid.UUID) (*commission.Obligation, error)
	UpdateFunc           func(ctx context.Context, o *commission.Obligation) error
	ClaimDueForRetryFunc func(ctx context.Context, now time.Time, limit int) ([]*commission.Obligation, error)
	ListFunc             func(ctx context.Context, f commission.ListFilter) ([]*commission.Obligation, error)
}

func NewMockCommissionRepository() *MockCommissionRepository {
	return &MockCommissionRepository{
		obligations: make(map[uuid.UUID]*commission.Obligation),
		coverage:    make(map[uuid.UUID]uuid.UUID),
	}
}

func (m *MockCommissionRepository) Create(ctx context.Context, o *commission.Obligation) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, o)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, txID := range o.TransactionIDs {
		if _, taken := m.coverage[txID]; taken {
			return errors.ErrTransactionCovered
		}
	}
	m.obligations[o.ID] = o
	for _, txID := range o.TransactionIDs {
		m.coverage[txID] = o.ID
	}
	return nil
}

func (m *MockCommissionRepository) GetByID(ctx context.Context, id uuid.UUID) (*commission.Obligation, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.obligations[id]
	if !ok {
		return nil, errors.ErrObligationNotFound
	}
	return o, nil
}

func (m *MockCommissionRepository) Update(ctx context.Context, o *commission.Obligation) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, o)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.obligations[o.ID]; !ok {
		return errors.ErrObligationNotFound
	}
	m.obligations[o.ID] = o
	if o.Status == commission.StatusCollected {
		for _, txID := range o.TransactionIDs {
			if m.coverage[txID] == o.ID {
				delete(m.coverage, txID)
			}
		}
	}
	return nil
}

func (m *MockCommissionRepository) ClaimDueForRetry(ctx context.Context, now time.Time, limit int) ([]*commission.Obligation, error) {
	if m.ClaimDueForRetryFunc != nil {
		return m.ClaimDueForRetryFunc(ctx, now, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*commission.Obligation
	for _, o := range m.obligations {
		if o.Status != commission.StatusFailed || o.ManualReview {
			continue
		}
		if o.NextAttemptAt == nil || o.NextAttemptAt.After(now) {
			continue
		}
		// The status flip is the claim; a second poller finds nothing to take.
		o.Status = commission.StatusCollecting
		out = append(out, o)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MockCommissionRepository) List(ctx context.Context, f commission.ListFilter) ([]*commission.Obligation, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, f)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*commission.Obligation
	for _, o := range m.obligations {
		if f.MerchantID != nil && o.MerchantID != *f.MerchantID {
			continue
		}
		if f.Status != nil && o.Status != *f.Status {
			continue
		}
		if f.ManualReview != nil && o.ManualReview != *f.ManualReview {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

// --- Transaction Manager Mock ---

// MockTxManager runs the callback directly; the context passes through
// unchanged so repository mocks behave the same inside and outside the
// "transaction".
type MockTxManager struct {
	WithTransactionFunc func(ctx context.Context, fn func(ctx context.Context) error) error
	Calls               int
}

func (m *MockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.Calls++
	if m.WithTransactionFunc != nil {
		return m.WithTransactionFunc(ctx, fn)
	}
	return fn(ctx)
}

// --- Dead Letter Publisher Mock ---

// PublishedDeadLetter records one mirror publish.
type PublishedDeadLetter struct {
	Source  string
	EventID string
	Reason  string
}

// MockDeadLetterPublisher records dead-letter mirror publishes.
type MockDeadLetterPublisher struct {
	mu        sync.Mutex
	Published []PublishedDeadLetter

	PublishDeadLetterFunc func(ctx context.Context, source, eventID, reason string, payload map[string]any) error
}

func (m *MockDeadLetterPublisher) PublishDeadLetter(ctx context.Context, source, eventID, reason string, payload map[string]any) error {
	if m.PublishDeadLetterFunc != nil {
		return m.PublishDeadLetterFunc(ctx, source, eventID, reason, payload)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Published = append(m.Published, PublishedDeadLetter{Source: source, EventID: eventID, Reason: reason})
	return nil
}
