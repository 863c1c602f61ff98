// Package outbox relays rows written by the payment service to the broker.
package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"payments/internal/metrics"
	"payments/internal/store"
)

type Source interface {
	ProcessBatch(ctx context.Context, limit int, deliver func(context.Context, []store.OutboxMessage) error) (int, error)
}

type Sink interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Relay struct {
	source    Source
	sink      Sink
	batchSize int
	interval  time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewRelay(source Source, sink Sink, batchSize int, interval time.Duration, m *metrics.Metrics, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.Discard()
	}
	return &Relay{source: source, sink: sink, batchSize: batchSize, interval: interval, metrics: m, logger: logger}
}

// Run polls until ctx is cancelled. A full batch is followed immediately by
// another poll so a backlog drains without waiting for the ticker.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		for {
			n, err := r.ProcessOnce(ctx)
			if err != nil {
				r.logger.Error("error processing outbox messages", "error", err)
				break
			}
			if n < r.batchSize {
				break
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessOnce relays a single batch and returns how many rows it delivered.
func (r *Relay) ProcessOnce(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { r.metrics.OutboxBatchDuration.Observe(time.Since(start).Seconds()) }()

	n, err := r.source.ProcessBatch(ctx, r.batchSize, r.deliver)
	if err != nil {
		r.metrics.OutboxPublishErrors.Inc()
		return 0, err
	}
	if n > 0 {
		r.logger.Info("relayed outbox messages", "count", n)
		r.metrics.OutboxPublished.Add(float64(n))
	}
	return n, nil
}

func (r *Relay) deliver(ctx context.Context, messages []store.OutboxMessage) error {
	msgs := make([]kafka.Message, len(messages))
	for i, m := range messages {
		msgs[i] = kafka.Message{
			Topic: m.Topic,
			Key:   []byte(m.Key),
			Value: m.Payload,
			Time:  m.CreatedAt,
			Headers: []kafka.Header{
				{Key: "outbox-id", Value: []byte(m.ID.String())},
			},
		}
	}
	return r.sink.WriteMessages(ctx, msgs...)
}
