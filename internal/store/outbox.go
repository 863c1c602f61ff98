package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"payments/internal/model"
)

// execer is satisfied by both the pool and an open transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type OutboxMessage struct {
	ID        uuid.UUID `json:"id"`
	Topic     string    `json:"topic"`
	Key       string    `json:"key"`
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// Outbox stores events for the relay process to ship to the broker.
type Outbox struct {
	dbpool *pgxpool.Pool
}

func NewOutbox(dbpool *pgxpool.Pool) *Outbox {
	return &Outbox{dbpool: dbpool}
}

// Publish appends an outbox row on its own; the relay delivers it at least
// once. State changes use the WithMessages store methods instead, so their
// rows commit together with the change.
func (s *Outbox) Publish(ctx context.Context, topic, key string, payload []byte) error {
	return insertOutboxMessages(ctx, s.dbpool, []model.Message{{Topic: topic, Key: key, Payload: payload}}, time.Now())
}

func insertOutboxMessages(ctx context.Context, db execer, msgs []model.Message, createdAt time.Time) error {
	for _, msg := range msgs {
		_, err := db.Exec(
			ctx,
			"INSERT INTO outbox_messages (id, topic, message_key, payload, created_at) VALUES ($1, $2, $3, $4, $5)",
			uuid.New(), msg.Topic, msg.Key, msg.Payload, createdAt,
		)
		if err != nil {
			return translate(err)
		}
	}
	return nil
}

// ProcessBatch locks up to limit unprocessed rows, hands them to deliver and
// marks them processed when deliver succeeds. Rows locked by another relay are
// skipped. A deliver error rolls the batch back so it is retried.
func (s *Outbox) ProcessBatch(ctx context.Context, limit int, deliver func(context.Context, []OutboxMessage) error) (int, error) {
	tx, err := s.dbpool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(
		ctx,
		"SELECT id, topic, message_key, payload, created_at FROM outbox_messages WHERE processed_at IS NULL ORDER BY created_at LIMIT $1 FOR UPDATE SKIP LOCKED",
		limit,
	)
	if err != nil {
		return 0, err
	}

	var messages []OutboxMessage
	for rows.Next() {
		var msg OutboxMessage
		if err := rows.Scan(&msg.ID, &msg.Topic, &msg.Key, &msg.Payload, &msg.CreatedAt); err != nil {
			rows.Close()
			return 0, err
		}
		messages = append(messages, msg)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	if len(messages) == 0 {
		return 0, nil
	}

	if err := deliver(ctx, messages); err != nil {
		return 0, err
	}

	ids := make([]uuid.UUID, len(messages))
	for i, msg := range messages {
		ids[i] = msg.ID
	}
	if _, err := tx.Exec(ctx, "UPDATE outbox_messages SET processed_at=$1 WHERE id = ANY($2)", time.Now(), ids); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(messages), nil
}
