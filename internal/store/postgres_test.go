package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"payments/internal/model"
)

// testPool migrates and empties the database named by TEST_DATABASE_URL.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := OpenSQL(url)
	if err != nil {
		t.Fatalf("OpenSQL: %v", err)
	}
	err = Migrate(db)
	db.Close()
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	ctx := context.Background()
	dbpool, err := OpenPool(ctx, url)
	if err != nil {
		t.Fatalf("OpenPool: %v", err)
	}
	t.Cleanup(dbpool.Close)
	if _, err := dbpool.Exec(ctx, "TRUNCATE payouts, payments, idempotency_keys, outbox_messages"); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return dbpool
}

func drainOutbox(t *testing.T, ob *Outbox) []OutboxMessage {
	t.Helper()
	var got []OutboxMessage
	_, err := ob.ProcessBatch(context.Background(), 10, func(_ context.Context, msgs []OutboxMessage) error {
		got = append(got, msgs...)
		return nil
	})
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	return got
}

func TestPostgresPayments(t *testing.T) {
	dbpool := testPool(t)
	ctx := context.Background()
	s := NewPayments(dbpool)
	jobID := uuid.New()
	base := time.Now().UTC().Truncate(time.Microsecond)

	older := newPayment(jobID, "stripe_pg_1", base)
	older.Amount = decimal.RequireFromString("1234.56")
	older.Metadata = json.RawMessage(`{"pay_url":"https://pay.example/stripe_pg_1"}`)
	newer := newPayment(jobID, "stripe_pg_2", base.Add(time.Minute))
	for _, p := range []*model.Payment{older, newer} {
		if err := s.Create(ctx, p); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	got, err := s.Get(ctx, older.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Amount.Equal(older.Amount) || !got.CreatedAt.Equal(base) || got.Status != model.PaymentPending {
		t.Fatalf("Get = %+v", got)
	}
	var meta map[string]string
	if err := json.Unmarshal(got.Metadata, &meta); err != nil || meta["pay_url"] != "https://pay.example/stripe_pg_1" {
		t.Fatalf("metadata = %s, %v", got.Metadata, err)
	}

	if got, err := s.GetByProviderOrderRef(ctx, "stripe_pg_2"); err != nil || got.ID != newer.ID {
		t.Fatalf("GetByProviderOrderRef = %v, %v", got.ID, err)
	}
	if got, err := s.LatestByJobID(ctx, jobID); err != nil || got.ID != newer.ID {
		t.Fatalf("LatestByJobID = %v, %v", got.ID, err)
	}
	if _, err := s.Get(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(unknown) err = %v", err)
	}

	dup := newPayment(uuid.New(), "stripe_pg_1", base)
	if err := s.Create(ctx, dup); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate order ref err = %v", err)
	}

	if err := s.UpdateStatus(ctx, older.ID, model.PaymentSuccess, base.Add(time.Hour)); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if got, _ := s.Get(ctx, older.ID); got.Status != model.PaymentSuccess || !got.UpdatedAt.Equal(base.Add(time.Hour)) {
		t.Fatalf("after update = %+v", got)
	}
	if err := s.UpdateStatus(ctx, uuid.New(), model.PaymentFailed, base); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateStatus(unknown) err = %v", err)
	}
}

func TestPostgresStatusWithMessages(t *testing.T) {
	dbpool := testPool(t)
	ctx := context.Background()
	payments := NewPayments(dbpool)
	payouts := NewPayouts(dbpool)
	ob := NewOutbox(dbpool)
	now := time.Now().UTC().Truncate(time.Microsecond)

	p := newPayment(uuid.New(), "stripe_pg_tx", now)
	if err := payments.Create(ctx, p); err != nil {
		t.Fatal(err)
	}
	msgs := []model.Message{
		{Topic: "payment-events", Key: p.ID.String(), Payload: []byte(`{"status":"SUCCESS"}`)},
		{Topic: "notification-events", Key: p.PayerID.String(), Payload: []byte(`{"subject":"Payment Successful"}`)},
	}

	tests := []struct {
		name    string
		id      uuid.UUID
		wantErr error
		wantMsg int
	}{
		{"unknown payment stores nothing", uuid.New(), ErrNotFound, 0},
		{"known payment stores both", p.ID, nil, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := payments.UpdateStatusWithMessages(ctx, tt.id, model.PaymentSuccess, now, msgs)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			got := drainOutbox(t, ob)
			if len(got) != tt.wantMsg {
				t.Fatalf("outbox rows = %d, want %d", len(got), tt.wantMsg)
			}
			for _, m := range got {
				if m.Key == "" || !json.Valid(m.Payload) {
					t.Fatalf("unexpected row %+v", m)
				}
			}
		})
	}
	if got, _ := payments.Get(ctx, p.ID); got.Status != model.PaymentSuccess {
		t.Fatalf("status = %s", got.Status)
	}
	if got := drainOutbox(t, ob); len(got) != 0 {
		t.Fatalf("processed rows delivered again: %d", len(got))
	}

	payout := &model.Payout{
		ID:               uuid.New(),
		JobID:            p.JobID,
		PaymentID:        p.ID,
		WorkerID:         p.WorkerID,
		Amount:           decimal.RequireFromString("225.00"),
		Commission:       decimal.RequireFromString("25.00"),
		SettlementStatus: model.SettlementPending,
		BankAccountRef:   "acct-pg",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := payouts.Create(ctx, payout); err != nil {
		t.Fatalf("payout Create: %v", err)
	}
	settled := []model.Message{{Topic: "payout-events", Key: payout.ID.String(), Payload: []byte(`{"status":"PROCESSED"}`)}}
	if err := payouts.UpdateStatusWithMessages(ctx, payout.ID, model.SettlementProcessed, now, settled); err != nil {
		t.Fatalf("payout UpdateStatusWithMessages: %v", err)
	}
	if got := drainOutbox(t, ob); len(got) != 1 || got[0].Topic != "payout-events" {
		t.Fatalf("payout outbox = %+v", got)
	}
}

func TestPostgresPayouts(t *testing.T) {
	dbpool := testPool(t)
	ctx := context.Background()
	payments := NewPayments(dbpool)
	s := NewPayouts(dbpool)
	now := time.Now().UTC().Truncate(time.Microsecond)

	p := newPayment(uuid.New(), "stripe_pg_payout", now)
	if err := payments.Create(ctx, p); err != nil {
		t.Fatal(err)
	}
	newPayout := func() *model.Payout {
		return &model.Payout{
			ID:               uuid.New(),
			JobID:            p.JobID,
			PaymentID:        p.ID,
			WorkerID:         p.WorkerID,
			Amount:           decimal.RequireFromString("225.00"),
			Commission:       decimal.RequireFromString("25.00"),
			SettlementStatus: model.SettlementPending,
			BankAccountRef:   "acct-pg",
			CreatedAt:        now,
			UpdatedAt:        now,
		}
	}

	first := newPayout()
	if err := s.Create(ctx, first); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(ctx, newPayout()); !errors.Is(err, ErrConflict) {
		t.Fatalf("second payout err = %v", err)
	}

	got, err := s.GetByPaymentID(ctx, p.ID)
	if err != nil || got.ID != first.ID {
		t.Fatalf("GetByPaymentID = %+v, %v", got, err)
	}
	if !got.Amount.Add(got.Commission).Equal(p.Amount) {
		t.Fatalf("split %s + %s != %s", got.Amount, got.Commission, p.Amount)
	}
	if err := s.UpdateStatus(ctx, first.ID, model.SettlementProcessed, now); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if got, _ := s.Get(ctx, first.ID); got.SettlementStatus != model.SettlementProcessed {
		t.Fatalf("settlement = %s", got.SettlementStatus)
	}
	if _, err := s.Get(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(unknown) err = %v", err)
	}
}

func TestPostgresIdempotencyKeys(t *testing.T) {
	dbpool := testPool(t)
	ctx := context.Background()
	s := NewIdempotencyKeys(dbpool)
	now := time.Now().UTC().Truncate(time.Microsecond)
	claim := model.IdempotencyRecord{Token: "tok-pg", CreatedAt: now, ExpiresAt: now.Add(time.Minute)}

	if ok, err := s.Claim(ctx, claim); err != nil || !ok {
		t.Fatalf("first Claim = %v, %v", ok, err)
	}
	if ok, err := s.Claim(ctx, claim); err != nil || ok {
		t.Fatalf("second Claim = %v, %v", ok, err)
	}
	if rec, err := s.Find(ctx, "tok-pg"); err != nil || rec.Status != model.IdempotencyInFlight {
		t.Fatalf("Find = %+v, %v", rec, err)
	}

	if err := s.Release(ctx, "tok-pg"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := s.Find(ctx, "tok-pg"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Find after release err = %v", err)
	}
	if ok, err := s.Claim(ctx, claim); err != nil || !ok {
		t.Fatalf("reclaim = %v, %v", ok, err)
	}

	done := model.IdempotencyRecord{
		Token:     "tok-pg",
		Response:  json.RawMessage(`{"id":"abc"}`),
		Status:    model.IdempotencyCompleted,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	if err := s.Save(ctx, done); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Release(ctx, "tok-pg"); err != nil {
		t.Fatalf("Release completed: %v", err)
	}
	rec, err := s.Find(ctx, "tok-pg")
	if err != nil || rec.Status != model.IdempotencyCompleted || !rec.ExpiresAt.Equal(done.ExpiresAt) {
		t.Fatalf("completed record = %+v, %v", rec, err)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Response, &resp); err != nil || resp["id"] != "abc" {
		t.Fatalf("response = %s, %v", rec.Response, err)
	}
	if ok, _ := s.Claim(ctx, claim); ok {
		t.Fatal("claimed a token with a live completed record")
	}

	later := model.IdempotencyRecord{Token: "tok-pg", CreatedAt: now.Add(2 * time.Hour), ExpiresAt: now.Add(2*time.Hour + time.Minute)}
	if ok, err := s.Claim(ctx, later); err != nil || !ok {
		t.Fatalf("claim over expired record = %v, %v", ok, err)
	}
}
