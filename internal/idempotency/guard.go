// Package idempotency decides whether a client token has already produced a
// response and records responses once they are final.
//
// The durable store is authoritative. The cache sentinel only short-circuits
// the durable lookup; losing it never turns a duplicate into a fresh request.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"payments/internal/model"
	"payments/internal/store"
)

const (
	DefaultRetention = 24 * time.Hour
	// DefaultClaimLease bounds how long an abandoned in-flight claim keeps
	// its token from being reused.
	DefaultClaimLease = time.Minute
	sentinelPrefix   = "idempotency:"
	sentinelValue    = string(model.IdempotencyCompleted)
)

type Result int

const (
	Fresh Result = iota
	Duplicate
)

func (r Result) String() string {
	if r == Duplicate {
		return "duplicate"
	}
	return "fresh"
}

type Store interface {
	Find(ctx context.Context, token string) (model.IdempotencyRecord, error)
	Claim(ctx context.Context, rec model.IdempotencyRecord) (bool, error)
	Release(ctx context.Context, token string) error
	Save(ctx context.Context, rec model.IdempotencyRecord) error
}

type Cache interface {
	Exists(ctx context.Context, key string) (bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

type Guard struct {
	store     Store
	cache     Cache
	retention time.Duration
	lease     time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func NewGuard(s Store, c Cache, retention time.Duration, logger *slog.Logger) *Guard {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{store: s, cache: c, retention: retention, lease: DefaultClaimLease, logger: logger, now: time.Now}
}

// Check classifies token and, when it is Fresh, claims it for the caller
// with an in-flight record. The caller must then Commit or Release it.
// A token held by an in-flight or completed record is a Duplicate. An empty
// token is always Fresh and claims nothing.
func (g *Guard) Check(ctx context.Context, token string) (Result, error) {
	if token == "" {
		return Fresh, nil
	}

	hit, err := g.cache.Exists(ctx, sentinelPrefix+token)
	if err != nil {
		g.logger.Warn("idempotency sentinel lookup failed, falling back to store", "error", err)
	} else if hit {
		return Duplicate, nil
	}

	now := g.now()
	claimed, err := g.store.Claim(ctx, model.IdempotencyRecord{
		Token:     token,
		Status:    model.IdempotencyInFlight,
		CreatedAt: now,
		ExpiresAt: now.Add(g.lease),
	})
	if err != nil {
		return Fresh, fmt.Errorf("claim idempotency token: %w", err)
	}
	if !claimed {
		return Duplicate, nil
	}
	return Fresh, nil
}

// Release gives up the claim taken by Check so the token can be retried.
func (g *Guard) Release(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := g.store.Release(ctx, token); err != nil {
		return fmt.Errorf("release idempotency token: %w", err)
	}
	return nil
}

// Commit completes the claim on token with response: durable record first,
// then the cache sentinel. A sentinel failure is logged and not returned.
func (g *Guard) Commit(ctx context.Context, token string, response any) error {
	if token == "" {
		return nil
	}

	snapshot, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("marshal idempotent response: %w", err)
	}

	now := g.now()
	rec := model.IdempotencyRecord{
		Token:     token,
		Response:  snapshot,
		Status:    model.IdempotencyCompleted,
		CreatedAt: now,
		ExpiresAt: now.Add(g.retention),
	}
	if err := g.store.Save(ctx, rec); err != nil {
		return fmt.Errorf("save idempotency record: %w", err)
	}

	if err := g.cache.Set(ctx, sentinelPrefix+token, sentinelValue, g.retention); err != nil {
		g.logger.Warn("idempotency sentinel write failed", "error", err)
	}
	return nil
}

// Stored returns the response snapshot committed for token, if it is still
// within its retention window.
func (g *Guard) Stored(ctx context.Context, token string) (json.RawMessage, bool, error) {
	if token == "" {
		return nil, false, nil
	}
	rec, err := g.store.Find(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if !rec.Replayable(g.now()) {
		return nil, false, nil
	}
	return rec.Response, true, nil
}
