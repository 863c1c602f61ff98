package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"payments/internal/model"
)

type IdempotencyKeys struct {
	dbpool *pgxpool.Pool
}

func NewIdempotencyKeys(dbpool *pgxpool.Pool) *IdempotencyKeys {
	return &IdempotencyKeys{dbpool: dbpool}
}

func (s *IdempotencyKeys) Find(ctx context.Context, token string) (model.IdempotencyRecord, error) {
	var rec model.IdempotencyRecord
	err := s.dbpool.QueryRow(
		ctx,
		"SELECT idempotency_key, response_data, status, created_at, expires_at FROM idempotency_keys WHERE idempotency_key=$1",
		token,
	).Scan(&rec.Token, &rec.Response, &rec.Status, &rec.CreatedAt, &rec.ExpiresAt)
	if err != nil {
		return model.IdempotencyRecord{}, translate(err)
	}
	return rec, nil
}

// Claim inserts rec as the in-flight record for its token. It reports false
// when another record still holds the token; an expired record is taken over.
func (s *IdempotencyKeys) Claim(ctx context.Context, rec model.IdempotencyRecord) (bool, error) {
	result, err := s.dbpool.Exec(
		ctx,
		`INSERT INTO idempotency_keys (idempotency_key, response_data, status, created_at, expires_at)
		 VALUES ($1, '{}'::jsonb, $2, $3, $4)
		 ON CONFLICT (idempotency_key) DO UPDATE
		 SET response_data = EXCLUDED.response_data,
		     status = EXCLUDED.status,
		     created_at = EXCLUDED.created_at,
		     expires_at = EXCLUDED.expires_at
		 WHERE idempotency_keys.expires_at <= EXCLUDED.created_at`,
		rec.Token, model.IdempotencyInFlight, rec.CreatedAt, rec.ExpiresAt,
	)
	if err != nil {
		return false, translate(err)
	}
	return result.RowsAffected() == 1, nil
}

// Release drops an in-flight claim. Completed records are kept.
func (s *IdempotencyKeys) Release(ctx context.Context, token string) error {
	_, err := s.dbpool.Exec(
		ctx,
		"DELETE FROM idempotency_keys WHERE idempotency_key=$1 AND status=$2",
		token, model.IdempotencyInFlight,
	)
	return translate(err)
}

// Save upserts rec, completing an in-flight claim or replacing an expired record.
func (s *IdempotencyKeys) Save(ctx context.Context, rec model.IdempotencyRecord) error {
	_, err := s.dbpool.Exec(
		ctx,
		`INSERT INTO idempotency_keys (idempotency_key, response_data, status, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (idempotency_key) DO UPDATE
		 SET response_data = EXCLUDED.response_data,
		     status = EXCLUDED.status,
		     created_at = EXCLUDED.created_at,
		     expires_at = EXCLUDED.expires_at`,
		rec.Token, rec.Response, rec.Status, rec.CreatedAt, rec.ExpiresAt,
	)
	return translate(err)
}
