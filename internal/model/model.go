package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus is the lifecycle state of a PaymentRecord.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentSuccess PaymentStatus = "SUCCESS"
	PaymentFailed  PaymentStatus = "FAILED"
)

// Terminal reports whether no further verification outcome is expected.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentSuccess || s == PaymentFailed
}

// SettlementStatus is the state of a PayoutRecord.
type SettlementStatus string

const (
	SettlementPending   SettlementStatus = "PENDING"
	SettlementProcessed SettlementStatus = "PROCESSED"
	SettlementFailed    SettlementStatus = "FAILED"
)

type IdempotencyStatus string

const (
	IdempotencyInFlight  IdempotencyStatus = "IN_FLIGHT"
	IdempotencyCompleted IdempotencyStatus = "COMPLETED"
)

type Payment struct {
	ID               uuid.UUID       `json:"id"`
	JobID            uuid.UUID       `json:"job_id"`
	PayerID          uuid.UUID       `json:"payer_id"`
	WorkerID         uuid.UUID       `json:"worker_id"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	PaymentMethod    string          `json:"payment_method"`
	Provider         string          `json:"provider"`
	ProviderOrderRef string          `json:"provider_order_ref"`
	Status           PaymentStatus   `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
}

type Payout struct {
	ID               uuid.UUID        `json:"id"`
	JobID            uuid.UUID        `json:"job_id"`
	PaymentID        uuid.UUID        `json:"payment_id"`
	WorkerID         uuid.UUID        `json:"worker_id"`
	Amount           decimal.Decimal  `json:"amount"`
	Commission       decimal.Decimal  `json:"commission"`
	SettlementStatus SettlementStatus `json:"settlement_status"`
	BankAccountRef   string           `json:"bank_account_ref"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// IdempotencyRecord maps a client token to the response it produced.
type IdempotencyRecord struct {
	Token     string            `json:"token"`
	Response  json.RawMessage   `json:"response"`
	Status    IdempotencyStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// Held reports whether the token is claimed or answered at now. An expired
// record, in flight or not, frees the token.
func (r IdempotencyRecord) Held(now time.Time) bool {
	return now.Before(r.ExpiresAt)
}

// Replayable reports whether the record still answers for its token at now.
func (r IdempotencyRecord) Replayable(now time.Time) bool {
	return r.Status == IdempotencyCompleted && now.Before(r.ExpiresAt)
}

// Message is an encoded event addressed to a broker topic. It is written to
// the outbox in the same transaction as the state change it describes, or
// sent to the broker directly.
type Message struct {
	Topic   string
	Key     string
	Payload []byte
}
