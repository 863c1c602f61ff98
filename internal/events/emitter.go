package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"payments/internal/model"
	"payments/internal/money"
)

type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

// Emitter turns state transitions into one domain event plus one user
// notification. Both messages of a transition carry the same timestamp.
//
// The *Messages methods only encode; callers either store the result with
// the transition (outbox) or hand it to Publish.
type Emitter struct {
	pub      Publisher
	timeout  time.Duration
	currency string
	logger   *slog.Logger
	now      func() time.Time
}

func NewEmitter(pub Publisher, timeout time.Duration, currency string, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{pub: pub, timeout: timeout, currency: currency, logger: logger, now: time.Now}
}

// PaymentMessages encodes the success or failure pair for p.Status.
func (e *Emitter) PaymentMessages(p model.Payment) ([]model.Message, error) {
	ts := e.timestamp()
	succeeded := p.Status == model.PaymentSuccess
	amount := p.Amount.StringFixed(money.MinorUnitPlaces)

	event := PaymentEvent{
		PaymentID: p.ID.String(),
		JobID:     p.JobID.String(),
		UserID:    p.PayerID.String(),
		Status:    string(p.Status),
		Amount:    amount,
		Timestamp: ts,
	}

	note := NotificationEvent{
		UserName: "Payment Service",
		Username: p.PayerID.String(),
		Metadata: map[string]string{"type": "payment", "payment_id": p.ID.String(), "timestamp": ts},
	}
	if succeeded {
		note.Subject = "Payment Successful"
		note.Source = SourceWhatsApp
		note.Message = fmt.Sprintf("Your payment of %s %s for Job #%s is successful.", p.Currency, amount, p.JobID)
	} else {
		note.Subject = "Payment Failed"
		note.Source = SourceEmail
		note.Message = fmt.Sprintf("Your payment of %s %s for Job #%s has failed. Please try again.", p.Currency, amount, p.JobID)
	}

	return encodePair(TopicPaymentEvents, p.ID.String(), event, p.PayerID.String(), note)
}

// PayoutMessages encodes the settled pair when p is PROCESSED and the
// failure pair otherwise.
func (e *Emitter) PayoutMessages(p model.Payout) ([]model.Message, error) {
	ts := e.timestamp()
	settled := p.SettlementStatus == model.SettlementProcessed

	status := model.SettlementProcessed
	if !settled {
		status = model.SettlementFailed
	}
	amount := p.Amount.StringFixed(money.MinorUnitPlaces)
	event := PayoutEvent{
		PayoutID:   p.ID.String(),
		PaymentID:  p.PaymentID.String(),
		JobID:      p.JobID.String(),
		WorkerID:   p.WorkerID.String(),
		Status:     string(status),
		Amount:     amount,
		Commission: p.Commission.StringFixed(money.MinorUnitPlaces),
		Timestamp:  ts,
	}

	note := NotificationEvent{
		UserName: "Payout Service",
		Username: p.WorkerID.String(),
		Metadata: map[string]string{"type": "payout", "payout_id": p.ID.String(), "timestamp": ts},
	}
	if settled {
		note.Subject = "Payout Settled"
		note.Source = SourceWhatsApp
		note.Message = fmt.Sprintf("You received %s %s for Job #%s.", e.currency, amount, p.JobID)
	} else {
		note.Subject = "Payout Failed"
		note.Source = SourceEmail
		note.Message = fmt.Sprintf("Your payout for Job #%s could not be processed. Please contact support.", p.JobID)
	}

	return encodePair(TopicPayoutEvents, p.ID.String(), event, p.WorkerID.String(), note)
}

// Publish attempts every message even if an earlier one fails. The attempt
// is bounded by the emitter timeout and is not cancelled with the caller.
func (e *Emitter) Publish(ctx context.Context, msgs []model.Message) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	var errs []error
	for _, msg := range msgs {
		if err := e.pub.Publish(ctx, msg.Topic, msg.Key, msg.Payload); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", msg.Topic, err))
			continue
		}
		e.logger.Info("published event", "topic", msg.Topic, "key", msg.Key)
	}
	return errors.Join(errs...)
}

func (e *Emitter) timestamp() string {
	return e.now().UTC().Format(time.RFC3339Nano)
}

func encodePair(topic, key string, event any, recipient string, note NotificationEvent) ([]model.Message, error) {
	eventPayload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal %s message: %w", topic, err)
	}
	notePayload, err := json.Marshal(note)
	if err != nil {
		return nil, fmt.Errorf("marshal %s message: %w", TopicNotifications, err)
	}
	return []model.Message{
		{Topic: topic, Key: key, Payload: eventPayload},
		{Topic: TopicNotifications, Key: recipient, Payload: notePayload},
	}, nil
}
