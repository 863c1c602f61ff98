package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"payments/internal/model"
)

// MemoryPayments is an in-process Payments store with the same uniqueness
// rules as the Postgres one. It backs tests and DATABASE_URL=memory runs.
type MemoryPayments struct {
	mu     sync.Mutex
	items  map[uuid.UUID]model.Payment
	byRef  map[string]uuid.UUID
	outbox []model.Message
}

func NewMemoryPayments() *MemoryPayments {
	return &MemoryPayments{
		items: make(map[uuid.UUID]model.Payment),
		byRef: make(map[string]uuid.UUID),
	}
}

func (s *MemoryPayments) Create(_ context.Context, payment *model.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[payment.ID]; ok {
		return ErrConflict
	}
	if _, ok := s.byRef[payment.ProviderOrderRef]; ok {
		return ErrConflict
	}
	s.items[payment.ID] = *payment
	s.byRef[payment.ProviderOrderRef] = payment.ID
	return nil
}

func (s *MemoryPayments) Get(_ context.Context, id uuid.UUID) (model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.items[id]
	if !ok {
		return model.Payment{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryPayments) GetByProviderOrderRef(_ context.Context, ref string) (model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byRef[ref]
	if !ok {
		return model.Payment{}, ErrNotFound
	}
	return s.items[id], nil
}

func (s *MemoryPayments) LatestByJobID(_ context.Context, jobID uuid.UUID) (model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		latest model.Payment
		found  bool
	)
	for _, p := range s.items {
		if p.JobID != jobID {
			continue
		}
		if !found || p.CreatedAt.After(latest.CreatedAt) {
			latest, found = p, true
		}
	}
	if !found {
		return model.Payment{}, ErrNotFound
	}
	return latest, nil
}

func (s *MemoryPayments) UpdateStatus(_ context.Context, id uuid.UUID, status model.PaymentStatus, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	p.Status = status
	p.UpdatedAt = updatedAt
	s.items[id] = p
	return nil
}

// UpdateStatusWithMessages applies the status and keeps msgs, both or neither.
func (s *MemoryPayments) UpdateStatusWithMessages(_ context.Context, id uuid.UUID, status model.PaymentStatus, updatedAt time.Time, msgs []model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	p.Status = status
	p.UpdatedAt = updatedAt
	s.items[id] = p
	s.outbox = append(s.outbox, msgs...)
	return nil
}

// Messages returns the messages recorded with status changes.
func (s *MemoryPayments) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Message(nil), s.outbox...)
}

// Len returns the number of stored payments.
func (s *MemoryPayments) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

type MemoryPayouts struct {
	mu        sync.Mutex
	items     map[uuid.UUID]model.Payout
	byPayment map[uuid.UUID]uuid.UUID
	outbox    []model.Message
}

func NewMemoryPayouts() *MemoryPayouts {
	return &MemoryPayouts{
		items:     make(map[uuid.UUID]model.Payout),
		byPayment: make(map[uuid.UUID]uuid.UUID),
	}
}

func (s *MemoryPayouts) Create(_ context.Context, payout *model.Payout) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[payout.ID]; ok {
		return ErrConflict
	}
	if _, ok := s.byPayment[payout.PaymentID]; ok {
		return ErrConflict
	}
	s.items[payout.ID] = *payout
	s.byPayment[payout.PaymentID] = payout.ID
	return nil
}

func (s *MemoryPayouts) Get(_ context.Context, id uuid.UUID) (model.Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.items[id]
	if !ok {
		return model.Payout{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryPayouts) GetByPaymentID(_ context.Context, paymentID uuid.UUID) (model.Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byPayment[paymentID]
	if !ok {
		return model.Payout{}, ErrNotFound
	}
	return s.items[id], nil
}

func (s *MemoryPayouts) UpdateStatus(_ context.Context, id uuid.UUID, status model.SettlementStatus, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	p.SettlementStatus = status
	p.UpdatedAt = updatedAt
	s.items[id] = p
	return nil
}

func (s *MemoryPayouts) UpdateStatusWithMessages(_ context.Context, id uuid.UUID, status model.SettlementStatus, updatedAt time.Time, msgs []model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	p.SettlementStatus = status
	p.UpdatedAt = updatedAt
	s.items[id] = p
	s.outbox = append(s.outbox, msgs...)
	return nil
}

func (s *MemoryPayouts) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Message(nil), s.outbox...)
}

func (s *MemoryPayouts) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

type MemoryIdempotencyKeys struct {
	mu    sync.Mutex
	items map[string]model.IdempotencyRecord
}

func NewMemoryIdempotencyKeys() *MemoryIdempotencyKeys {
	return &MemoryIdempotencyKeys{items: make(map[string]model.IdempotencyRecord)}
}

func (s *MemoryIdempotencyKeys) Find(_ context.Context, token string) (model.IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.items[token]
	if !ok {
		return model.IdempotencyRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryIdempotencyKeys) Claim(_ context.Context, rec model.IdempotencyRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if held, ok := s.items[rec.Token]; ok && held.Held(rec.CreatedAt) {
		return false, nil
	}
	rec.Status = model.IdempotencyInFlight
	rec.Response = nil
	s.items[rec.Token] = rec
	return true, nil
}

func (s *MemoryIdempotencyKeys) Release(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.items[token]; ok && rec.Status == model.IdempotencyInFlight {
		delete(s.items, token)
	}
	return nil
}

func (s *MemoryIdempotencyKeys) Save(_ context.Context, rec model.IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[rec.Token] = rec
	return nil
}
