package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"payments/internal/model"
)

const paymentColumns = "id, job_id, payer_id, worker_id, amount, currency, payment_method, provider, provider_order_ref, status, created_at, updated_at, metadata"

// Payments is the durable PaymentRecord store. Records are never deleted.
type Payments struct {
	dbpool *pgxpool.Pool
}

func NewPayments(dbpool *pgxpool.Pool) *Payments {
	return &Payments{dbpool: dbpool}
}

func (s *Payments) Create(ctx context.Context, payment *model.Payment) error {
	metadata := payment.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage(`{}`)
	}
	_, err := s.dbpool.Exec(
		ctx,
		"INSERT INTO payments ("+paymentColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)",
		payment.ID, payment.JobID, payment.PayerID, payment.WorkerID, payment.Amount, payment.Currency,
		payment.PaymentMethod, payment.Provider, payment.ProviderOrderRef, payment.Status,
		payment.CreatedAt, payment.UpdatedAt, metadata,
	)
	return translate(err)
}

func (s *Payments) Get(ctx context.Context, id uuid.UUID) (model.Payment, error) {
	row := s.dbpool.QueryRow(ctx, "SELECT "+paymentColumns+" FROM payments WHERE id=$1", id)
	return scanPayment(row)
}

func (s *Payments) GetByProviderOrderRef(ctx context.Context, ref string) (model.Payment, error) {
	row := s.dbpool.QueryRow(ctx, "SELECT "+paymentColumns+" FROM payments WHERE provider_order_ref=$1", ref)
	return scanPayment(row)
}

func (s *Payments) LatestByJobID(ctx context.Context, jobID uuid.UUID) (model.Payment, error) {
	row := s.dbpool.QueryRow(ctx, "SELECT "+paymentColumns+" FROM payments WHERE job_id=$1 ORDER BY created_at DESC LIMIT 1", jobID)
	return scanPayment(row)
}

func (s *Payments) UpdateStatus(ctx context.Context, id uuid.UUID, status model.PaymentStatus, updatedAt time.Time) error {
	return updatePaymentStatus(ctx, s.dbpool, id, status, updatedAt)
}

// UpdateStatusWithMessages changes the status and appends msgs to the outbox
// in one transaction, so a committed transition always has its events.
func (s *Payments) UpdateStatusWithMessages(ctx context.Context, id uuid.UUID, status model.PaymentStatus, updatedAt time.Time, msgs []model.Message) error {
	tx, err := s.dbpool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := updatePaymentStatus(ctx, tx, id, status, updatedAt); err != nil {
		return err
	}
	if err := insertOutboxMessages(ctx, tx, msgs, updatedAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func updatePaymentStatus(ctx context.Context, db execer, id uuid.UUID, status model.PaymentStatus, updatedAt time.Time) error {
	result, err := db.Exec(
		ctx,
		"UPDATE payments SET status=$1, updated_at=$2 WHERE id=$3",
		status, updatedAt, id,
	)
	if err != nil {
		return translate(err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPayment(row pgx.Row) (model.Payment, error) {
	var p model.Payment
	err := row.Scan(
		&p.ID, &p.JobID, &p.PayerID, &p.WorkerID, &p.Amount, &p.Currency,
		&p.PaymentMethod, &p.Provider, &p.ProviderOrderRef, &p.Status,
		&p.CreatedAt, &p.UpdatedAt, &p.Metadata,
	)
	if err != nil {
		return model.Payment{}, translate(err)
	}
	return p, nil
}
