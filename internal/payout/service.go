// Package payout pays workers for successfully paid, completed jobs.
package payout

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"payments/internal/apperr"
	"payments/internal/metrics"
	"payments/internal/model"
	"payments/internal/money"
	"payments/internal/store"
)

type PaymentReader interface {
	Get(ctx context.Context, id uuid.UUID) (model.Payment, error)
}

type Store interface {
	Create(ctx context.Context, payout *model.Payout) error
	Get(ctx context.Context, id uuid.UUID) (model.Payout, error)
	GetByPaymentID(ctx context.Context, paymentID uuid.UUID) (model.Payout, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.SettlementStatus, updatedAt time.Time) error
	UpdateStatusWithMessages(ctx context.Context, id uuid.UUID, status model.SettlementStatus, updatedAt time.Time, msgs []model.Message) error
}

type JobValidator interface {
	JobIsComplete(ctx context.Context, jobID uuid.UUID) (bool, error)
}

// Notifier encodes payout events. PayoutMessages yields the settled pair
// for a PROCESSED payout and the failure pair otherwise.
type Notifier interface {
	PayoutMessages(p model.Payout) ([]model.Message, error)
	Publish(ctx context.Context, msgs []model.Message) error
}

type Deps struct {
	Payments       PaymentReader
	Payouts        Store
	Jobs           JobValidator
	Notifier       Notifier
	CommissionRate decimal.Decimal
	CallTimeout    time.Duration
	Metrics        *metrics.Metrics
	Logger         *slog.Logger

	// TransactionalEvents records the settled events in the same
	// transaction as the settlement status.
	TransactionalEvents bool
}

func (d Deps) Validate() error {
	var errs []error
	if d.Payments == nil {
		errs = append(errs, errors.New("payment store is required"))
	}
	if d.Payouts == nil {
		errs = append(errs, errors.New("payout store is required"))
	}
	if d.Jobs == nil {
		errs = append(errs, errors.New("job validator is required"))
	}
	if d.Notifier == nil {
		errs = append(errs, errors.New("notifier is required"))
	}
	if d.CommissionRate.IsNegative() || d.CommissionRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, money.ErrInvalidRate)
	}
	return errors.Join(errs...)
}

type Service struct {
	payments PaymentReader
	payouts  Store
	jobs     JobValidator
	notifier Notifier
	rate     decimal.Decimal
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
	outbox   bool
	now      func() time.Time
}

func NewService(d Deps) (*Service, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	s := &Service{
		payments: d.Payments,
		payouts:  d.Payouts,
		jobs:     d.Jobs,
		notifier: d.Notifier,
		rate:     d.CommissionRate,
		timeout:  d.CallTimeout,
		metrics:  d.Metrics,
		logger:   d.Logger,
		outbox:   d.TransactionalEvents,
		now:      time.Now,
	}
	if s.timeout <= 0 {
		s.timeout = 5 * time.Second
	}
	if s.metrics == nil {
		s.metrics = metrics.Discard()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// Initiate creates and settles the payout for a successful payment. It
// returns only once the settlement status is durably recorded.
func (s *Service) Initiate(ctx context.Context, req model.PayoutRequest) (model.Payout, error) {
	const op = "payout.Initiate"

	if req.PaymentID == uuid.Nil {
		return model.Payout{}, apperr.New(apperr.KindValidation, op, "payment_id is required")
	}
	if req.BankAccountRef == "" {
		return model.Payout{}, apperr.New(apperr.KindValidation, op, "bank_account_ref is required")
	}

	payment, err := s.payments.Get(ctx, req.PaymentID)
	if errors.Is(err, store.ErrNotFound) {
		return model.Payout{}, apperr.New(apperr.KindNotFound, op, "payment not found")
	}
	if err != nil {
		return model.Payout{}, apperr.Wrap(apperr.KindPersistence, op, "could not load payment", err)
	}

	if payment.Status != model.PaymentSuccess {
		return model.Payout{}, apperr.New(apperr.KindInvalidState, op, "payment not successful")
	}
	if req.WorkerID != uuid.Nil && req.WorkerID != payment.WorkerID {
		return model.Payout{}, apperr.New(apperr.KindValidation, op, "worker does not match payment")
	}
	if !s.jobComplete(ctx, payment.JobID) {
		return model.Payout{}, apperr.New(apperr.KindInvalidState, op, "job not complete")
	}

	if _, err := s.payouts.GetByPaymentID(ctx, payment.ID); err == nil {
		return model.Payout{}, apperr.New(apperr.KindInvalidState, op, "payout already exists for payment")
	} else if !errors.Is(err, store.ErrNotFound) {
		return model.Payout{}, apperr.Wrap(apperr.KindPersistence, op, "could not check existing payout", err)
	}

	commission, amount, err := money.Split(payment.Amount, s.rate)
	if err != nil {
		return model.Payout{}, apperr.Wrap(apperr.KindInternal, op, "commission split failed", err)
	}

	now := s.now().UTC()
	payout := model.Payout{
		ID:               uuid.New(),
		JobID:            payment.JobID,
		PaymentID:        payment.ID,
		WorkerID:         payment.WorkerID,
		Amount:           amount,
		Commission:       commission,
		SettlementStatus: model.SettlementPending,
		BankAccountRef:   req.BankAccountRef,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err = s.payouts.Create(ctx, &payout)
	if errors.Is(err, store.ErrConflict) {
		// Lost a race with a concurrent payout for the same payment.
		return model.Payout{}, apperr.New(apperr.KindInvalidState, op, "payout already exists for payment")
	}
	if err != nil {
		return model.Payout{}, apperr.Wrap(apperr.KindPersistence, op, "could not save payout", err)
	}
	s.logger.Info("payout created", "payout_id", payout.ID, "payment_id", payment.ID,
		"amount", payout.Amount, "commission", payout.Commission)

	settled, msgs, err := s.settle(ctx, payout)
	if err != nil {
		s.metrics.PayoutsSettled.WithLabelValues(string(model.SettlementFailed)).Inc()
		s.logger.Error("payout settlement failed", "payout_id", payout.ID, "error", err)
		failed := payout
		failed.SettlementStatus = model.SettlementFailed
		s.publish(ctx, failed)
		return model.Payout{}, apperr.Wrap(apperr.KindPersistence, op, "settlement failed", err)
	}
	s.metrics.PayoutsSettled.WithLabelValues(string(model.SettlementProcessed)).Inc()

	if !s.outbox {
		if err := s.notifier.Publish(ctx, msgs); err != nil {
			s.metrics.BookkeepingFailures.WithLabelValues("publish").Inc()
			s.logger.Error("payout event publish failed", "payout_id", payout.ID, "error", err)
		}
	}
	return settled, nil
}

// settle marks p PROCESSED in the durable store and returns it with its
// settled events. In outbox mode the events are stored with the status.
func (s *Service) settle(ctx context.Context, p model.Payout) (model.Payout, []model.Message, error) {
	p.SettlementStatus = model.SettlementProcessed
	p.UpdatedAt = s.now().UTC()
	msgs, err := s.notifier.PayoutMessages(p)
	if err != nil {
		return model.Payout{}, nil, err
	}
	if s.outbox {
		err = s.payouts.UpdateStatusWithMessages(ctx, p.ID, p.SettlementStatus, p.UpdatedAt, msgs)
	} else {
		err = s.payouts.UpdateStatus(ctx, p.ID, p.SettlementStatus, p.UpdatedAt)
	}
	if err != nil {
		return model.Payout{}, nil, err
	}
	return p, msgs, nil
}

// publish sends the events for p best-effort.
func (s *Service) publish(ctx context.Context, p model.Payout) {
	msgs, err := s.notifier.PayoutMessages(p)
	if err == nil {
		err = s.notifier.Publish(ctx, msgs)
	}
	if err != nil {
		s.metrics.BookkeepingFailures.WithLabelValues("publish").Inc()
		s.logger.Error("payout event publish failed", "payout_id", p.ID, "status", p.SettlementStatus, "error", err)
	}
}

// Status reads the payout straight from the durable store. Unlike payment
// status, an unknown payout is an error.
func (s *Service) Status(ctx context.Context, id uuid.UUID) (model.Payout, error) {
	const op = "payout.Status"

	p, err := s.payouts.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.Payout{}, apperr.Wrap(apperr.KindInvalidState, op, "payout not found", err)
	}
	if err != nil {
		return model.Payout{}, apperr.Wrap(apperr.KindPersistence, op, "could not load payout", err)
	}
	return p, nil
}

func (s *Service) jobComplete(ctx context.Context, jobID uuid.UUID) bool {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ok, err := s.jobs.JobIsComplete(ctx, jobID)
	if err != nil {
		s.logger.Warn("job completion check failed", "job_id", jobID, "error", err)
		return false
	}
	return ok
}
