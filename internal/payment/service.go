// Package payment creates payment intents, applies provider verification
// outcomes and answers status reads through the status cache.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"payments/internal/apperr"
	"payments/internal/idempotency"
	"payments/internal/metrics"
	"payments/internal/model"
	"payments/internal/money"
	"payments/internal/provider"
	"payments/internal/store"
)

const defaultCallTimeout = 5 * time.Second

type Store interface {
	Create(ctx context.Context, payment *model.Payment) error
	Get(ctx context.Context, id uuid.UUID) (model.Payment, error)
	GetByProviderOrderRef(ctx context.Context, ref string) (model.Payment, error)
	LatestByJobID(ctx context.Context, jobID uuid.UUID) (model.Payment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.PaymentStatus, updatedAt time.Time) error
	UpdateStatusWithMessages(ctx context.Context, id uuid.UUID, status model.PaymentStatus, updatedAt time.Time, msgs []model.Message) error
}

type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

type Guard interface {
	Check(ctx context.Context, token string) (idempotency.Result, error)
	Release(ctx context.Context, token string) error
	Commit(ctx context.Context, token string, response any) error
	Stored(ctx context.Context, token string) (json.RawMessage, bool, error)
}

type Gateway interface {
	CreatePaymentLink(ctx context.Context, p provider.Provider, amount decimal.Decimal, currency string) (provider.Link, error)
	Verify(ctx context.Context, orderRef, transactionID string) (provider.Verification, error)
}

type JobValidator interface {
	JobExists(ctx context.Context, jobID uuid.UUID) (bool, error)
}

type Notifier interface {
	PaymentMessages(p model.Payment) ([]model.Message, error)
	Publish(ctx context.Context, msgs []model.Message) error
}

type Deps struct {
	Store     Store
	Cache     Cache
	Guard     Guard
	Gateway   Gateway
	Jobs      JobValidator
	Notifier  Notifier
	Providers provider.Set
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	Currency    string
	CallTimeout time.Duration
	StatusTTL   time.Duration

	// TransactionalEvents stores verification events with the status change
	// through Store.UpdateStatusWithMessages instead of publishing them after it.
	TransactionalEvents bool
}

func (d Deps) Validate() error {
	var errs []error
	if d.Store == nil {
		errs = append(errs, errors.New("payment store is required"))
	}
	if d.Cache == nil {
		errs = append(errs, errors.New("status cache is required"))
	}
	if d.Guard == nil {
		errs = append(errs, errors.New("idempotency guard is required"))
	}
	if d.Gateway == nil {
		errs = append(errs, errors.New("provider gateway is required"))
	}
	if d.Jobs == nil {
		errs = append(errs, errors.New("job validator is required"))
	}
	if d.Notifier == nil {
		errs = append(errs, errors.New("notifier is required"))
	}
	if d.Currency == "" {
		errs = append(errs, errors.New("currency is required"))
	}
	return errors.Join(errs...)
}

type Service struct {
	store     Store
	cache     Cache
	guard     Guard
	gateway   Gateway
	jobs      JobValidator
	notifier  Notifier
	providers provider.Set
	metrics   *metrics.Metrics
	logger    *slog.Logger

	currency      string
	callTimeout   time.Duration
	statusTTL     time.Duration
	transactional bool
	now           func() time.Time
}

func NewService(d Deps) (*Service, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	s := &Service{
		store:       d.Store,
		cache:       d.Cache,
		guard:       d.Guard,
		gateway:     d.Gateway,
		jobs:        d.Jobs,
		notifier:    d.Notifier,
		providers:   d.Providers,
		metrics:     d.Metrics,
		logger:      d.Logger,
		currency:    d.Currency,
		callTimeout: d.CallTimeout,
		statusTTL:   d.StatusTTL,
		transactional: d.TransactionalEvents,
		now:         time.Now,
	}
	if s.providers == nil {
		s.providers = provider.All()
	}
	if s.metrics == nil {
		s.metrics = metrics.Discard()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.callTimeout <= 0 {
		s.callTimeout = defaultCallTimeout
	}
	if s.statusTTL <= 0 {
		s.statusTTL = idempotency.DefaultRetention
	}
	return s, nil
}

// Initiate creates a PENDING payment and its provider payment link. With a
// non-empty token, a repeated or concurrent call is rejected as a duplicate,
// carrying the first response once it is known.
func (s *Service) Initiate(ctx context.Context, req model.PaymentRequest, token string) (_ model.PaymentResponse, err error) {
	const op = "payment.Initiate"

	if err := validateRequest(req); err != nil {
		return model.PaymentResponse{}, apperr.Wrap(apperr.KindValidation, op, err.Error(), err)
	}
	// Resolving the provider needs no I/O, so an unsupported name is
	// rejected before any collaborator is called.
	p, err := s.providers.Resolve(req.Provider)
	if err != nil {
		return model.PaymentResponse{}, apperr.Wrap(apperr.KindValidation, op, "unsupported payment provider: "+req.Provider, err)
	}

	if token != "" {
		res, checkErr := s.guard.Check(ctx, token)
		if checkErr != nil {
			return model.PaymentResponse{}, apperr.Wrap(apperr.KindPersistence, op, "idempotency check failed", checkErr)
		}
		if res == idempotency.Duplicate {
			return model.PaymentResponse{}, s.duplicate(ctx, op, token)
		}
		// Until the record is saved a failure hands the token back.
		defer func() {
			if err != nil {
				s.release(ctx, token)
			}
		}()
	}

	if !s.jobExists(ctx, req.JobID) {
		return model.PaymentResponse{}, apperr.New(apperr.KindValidation, op, "invalid job")
	}

	linkCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	link, err := s.gateway.CreatePaymentLink(linkCtx, p, req.Amount, s.currency)
	cancel()
	if err != nil {
		return model.PaymentResponse{}, apperr.Wrap(apperr.KindUpstream, op, "payment link creation failed", err)
	}

	meta, _ := json.Marshal(map[string]string{"pay_url": link.PayURL})
	now := s.now().UTC()
	payment := model.Payment{
		ID:               uuid.New(),
		JobID:            req.JobID,
		PayerID:          req.PayerID,
		WorkerID:         req.WorkerID,
		Amount:           req.Amount,
		Currency:         s.currency,
		PaymentMethod:    req.PaymentMethod,
		Provider:         p.String(),
		ProviderOrderRef: link.OrderRef,
		Status:           model.PaymentPending,
		CreatedAt:        now,
		UpdatedAt:        now,
		Metadata:         meta,
	}
	if err := s.store.Create(ctx, &payment); err != nil {
		return model.PaymentResponse{}, apperr.Wrap(apperr.KindPersistence, op, "could not save payment", err)
	}
	s.metrics.PaymentsInitiated.WithLabelValues(payment.Provider).Inc()
	s.logger.Info("payment created", "payment_id", payment.ID, "job_id", payment.JobID, "provider", payment.Provider)

	// The record is durable from here on; bookkeeping failures are absorbed.
	s.cacheStatus(ctx, payment.ID, payment.Status)

	resp := model.PaymentResponse{
		ID:          payment.ID,
		JobID:       payment.JobID,
		PayerID:     payment.PayerID,
		WorkerID:    payment.WorkerID,
		Amount:      payment.Amount,
		Status:      payment.Status,
		PaymentLink: link.PayURL,
		CreatedAt:   payment.CreatedAt,
	}

	if token != "" {
		if err := s.guard.Commit(ctx, token, resp); err != nil {
			s.metrics.BookkeepingFailures.WithLabelValues("idempotency_commit").Inc()
			s.logger.Error("idempotency commit failed", "payment_id", payment.ID, "error", err)
		}
	}
	return resp, nil
}

// Verify applies the provider's verdict for orderRef and publishes the
// matching event pair. Re-verifying a terminal payment re-applies the
// latest verdict.
func (s *Service) Verify(ctx context.Context, orderRef, transactionID string) (model.Payment, error) {
	const op = "payment.Verify"

	if orderRef == "" {
		return model.Payment{}, apperr.New(apperr.KindValidation, op, "provider order id is required")
	}

	verifyCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	verdict, err := s.gateway.Verify(verifyCtx, orderRef, transactionID)
	cancel()
	if err != nil {
		s.logger.Warn("provider verification failed", "order_ref", orderRef, "error", err)
		verdict = provider.Verification{Successful: false, TransactionID: transactionID, Error: "verification unavailable"}
	}

	payment, err := s.store.GetByProviderOrderRef(ctx, orderRef)
	if errors.Is(err, store.ErrNotFound) {
		return model.Payment{}, apperr.New(apperr.KindNotFound, op, "payment not found")
	}
	if err != nil {
		return model.Payment{}, apperr.Wrap(apperr.KindPersistence, op, "could not load payment", err)
	}

	status := model.PaymentFailed
	if verdict.Successful {
		status = model.PaymentSuccess
	}
	if payment.Status.Terminal() && payment.Status != status {
		s.logger.Warn("re-verification changed terminal status",
			"payment_id", payment.ID, "from", payment.Status, "to", status)
	}

	payment.Status = status
	payment.UpdatedAt = s.now().UTC()
	msgs, err := s.notifier.PaymentMessages(payment)
	if err != nil {
		return model.Payment{}, apperr.Wrap(apperr.KindInternal, op, "could not encode payment events", err)
	}

	if s.transactional {
		err = s.store.UpdateStatusWithMessages(ctx, payment.ID, status, payment.UpdatedAt, msgs)
	} else {
		err = s.store.UpdateStatus(ctx, payment.ID, status, payment.UpdatedAt)
	}
	if err != nil {
		return model.Payment{}, apperr.Wrap(apperr.KindPersistence, op, "could not update payment", err)
	}
	s.metrics.PaymentsVerified.WithLabelValues(string(status)).Inc()
	s.logger.Info("payment verified", "payment_id", payment.ID, "status", status, "reason", verdict.Error)

	s.cacheStatus(ctx, payment.ID, status)

	if !s.transactional {
		if err := s.notifier.Publish(ctx, msgs); err != nil {
			s.metrics.BookkeepingFailures.WithLabelValues("publish").Inc()
			s.logger.Error("payment event publish failed", "payment_id", payment.ID, "error", err)
		}
	}
	return payment, nil
}

// Status returns the payment's status, preferring the cache. A missing
// payment is reported with found=false and no error.
func (s *Service) Status(ctx context.Context, id uuid.UUID) (status string, found bool, err error) {
	const op = "payment.Status"

	cached, ok, err := s.cache.Get(ctx, id.String())
	if err != nil {
		s.logger.Warn("status cache read failed", "payment_id", id, "error", err)
	} else if ok {
		return cached, true, nil
	}

	payment, err := s.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperr.Wrap(apperr.KindPersistence, op, "could not load payment", err)
	}

	s.cacheStatus(ctx, id, payment.Status)
	return string(payment.Status), true, nil
}

// LatestForJob returns the most recently created payment for jobID.
func (s *Service) LatestForJob(ctx context.Context, jobID uuid.UUID) (model.Payment, error) {
	const op = "payment.LatestForJob"

	payment, err := s.store.LatestByJobID(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return model.Payment{}, apperr.New(apperr.KindNotFound, op, "no payment for job")
	}
	if err != nil {
		return model.Payment{}, apperr.Wrap(apperr.KindPersistence, op, "could not load payment", err)
	}
	return payment, nil
}

func (s *Service) jobExists(ctx context.Context, jobID uuid.UUID) bool {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	ok, err := s.jobs.JobExists(ctx, jobID)
	if err != nil {
		s.logger.Warn("job validation failed", "job_id", jobID, "error", err)
		return false
	}
	return ok
}

func (s *Service) cacheStatus(ctx context.Context, id uuid.UUID, status model.PaymentStatus) {
	if err := s.cache.Set(ctx, id.String(), string(status), s.statusTTL); err != nil {
		s.metrics.BookkeepingFailures.WithLabelValues("status_cache").Inc()
		s.logger.Warn("status cache write failed", "payment_id", id, "error", err)
	}
}

func (s *Service) release(ctx context.Context, token string) {
	if err := s.guard.Release(context.WithoutCancel(ctx), token); err != nil {
		s.metrics.BookkeepingFailures.WithLabelValues("idempotency_release").Inc()
		s.logger.Warn("idempotency release failed", "error", err)
	}
}

func (s *Service) duplicate(ctx context.Context, op, token string) error {
	err := apperr.New(apperr.KindDuplicate, op, "duplicate request")
	replay, ok, lookupErr := s.guard.Stored(ctx, token)
	if lookupErr != nil {
		s.logger.Warn("stored response lookup failed", "error", lookupErr)
	}
	if ok {
		err.Replay = replay
	}
	return err
}

func validateRequest(req model.PaymentRequest) error {
	switch {
	case req.JobID == uuid.Nil:
		return errors.New("job_id is required")
	case req.PayerID == uuid.Nil:
		return errors.New("payer_id is required")
	case req.WorkerID == uuid.Nil:
		return errors.New("worker_id is required")
	case !req.Amount.IsPositive():
		return errors.New("amount must be positive")
	case !money.InMinorUnits(req.Amount):
		return errors.New("amount must not be finer than the currency minor unit")
	case req.Provider == "":
		return errors.New("provider is required")
	}
	return nil
}
