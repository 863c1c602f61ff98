package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentRequest struct {
	JobID         uuid.UUID       `json:"job_id"`
	PayerID       uuid.UUID       `json:"payer_id"`
	WorkerID      uuid.UUID       `json:"worker_id"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method"`
	Provider      string          `json:"provider"`
}

type PaymentResponse struct {
	ID          uuid.UUID       `json:"id"`
	JobID       uuid.UUID       `json:"job_id"`
	PayerID     uuid.UUID       `json:"payer_id"`
	WorkerID    uuid.UUID       `json:"worker_id"`
	Amount      decimal.Decimal `json:"amount"`
	Status      PaymentStatus   `json:"status"`
	PaymentLink string          `json:"payment_link"`
	CreatedAt   time.Time       `json:"created_at"`
}

type PayoutRequest struct {
	PaymentID      uuid.UUID `json:"payment_id"`
	WorkerID       uuid.UUID `json:"worker_id"`
	BankAccountRef string    `json:"bank_account_ref"`
}
