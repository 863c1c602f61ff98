package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"payments/internal/model"
)

const payoutColumns = "id, job_id, payment_id, worker_id, amount, commission, settlement_status, bank_account_ref, created_at, updated_at"

type Payouts struct {
	dbpool *pgxpool.Pool
}

func NewPayouts(dbpool *pgxpool.Pool) *Payouts {
	return &Payouts{dbpool: dbpool}
}

// Create inserts payout; a second payout for the same payment yields ErrConflict.
func (s *Payouts) Create(ctx context.Context, payout *model.Payout) error {
	_, err := s.dbpool.Exec(
		ctx,
		"INSERT INTO payouts ("+payoutColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)",
		payout.ID, payout.JobID, payout.PaymentID, payout.WorkerID, payout.Amount, payout.Commission,
		payout.SettlementStatus, payout.BankAccountRef, payout.CreatedAt, payout.UpdatedAt,
	)
	return translate(err)
}

func (s *Payouts) Get(ctx context.Context, id uuid.UUID) (model.Payout, error) {
	row := s.dbpool.QueryRow(ctx, "SELECT "+payoutColumns+" FROM payouts WHERE id=$1", id)
	return scanPayout(row)
}

func (s *Payouts) GetByPaymentID(ctx context.Context, paymentID uuid.UUID) (model.Payout, error) {
	row := s.dbpool.QueryRow(ctx, "SELECT "+payoutColumns+" FROM payouts WHERE payment_id=$1", paymentID)
	return scanPayout(row)
}

func (s *Payouts) UpdateStatus(ctx context.Context, id uuid.UUID, status model.SettlementStatus, updatedAt time.Time) error {
	return updateSettlementStatus(ctx, s.dbpool, id, status, updatedAt)
}

// UpdateStatusWithMessages records the settlement status and its outbox rows
// in one transaction.
func (s *Payouts) UpdateStatusWithMessages(ctx context.Context, id uuid.UUID, status model.SettlementStatus, updatedAt time.Time, msgs []model.Message) error {
	tx, err := s.dbpool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := updateSettlementStatus(ctx, tx, id, status, updatedAt); err != nil {
		return err
	}
	if err := insertOutboxMessages(ctx, tx, msgs, updatedAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func updateSettlementStatus(ctx context.Context, db execer, id uuid.UUID, status model.SettlementStatus, updatedAt time.Time) error {
	result, err := db.Exec(
		ctx,
		"UPDATE payouts SET settlement_status=$1, updated_at=$2 WHERE id=$3",
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

func scanPayout(row pgx.Row) (model.Payout, error) {
	var p model.Payout
	err := row.Scan(
		&p.ID, &p.JobID, &p.PaymentID, &p.WorkerID, &p.Amount, &p.Commission,
		&p.SettlementStatus, &p.BankAccountRef, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return model.Payout{}, translate(err)
	}
	return p, nil
}
