// File: internal/mockgw/store_postgres.go
package mockgw

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4/pgxpool"
)

var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store on a pgx pool, for sandbox deployments that
// should survive restarts.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPgxPool(ctx context.Context, url string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the sandbox tables when they do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS gw_callbacks (
  id TEXT PRIMARY KEY,
  caller TEXT NOT NULL,
  merchant_request_id TEXT NOT NULL DEFAULT '',
  checkout_request_id TEXT NOT NULL DEFAULT '',
  result_code INT NOT NULL DEFAULT 0,
  result_description TEXT NOT NULL DEFAULT '',
  amount BIGINT NOT NULL DEFAULT 0,
  mpesa_receipt_number TEXT NOT NULL DEFAULT '',
  phone_number TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS gw_transactions (
  id TEXT PRIMARY KEY,
  merchant_request_id TEXT NOT NULL DEFAULT '',
  checkout_request_id TEXT NOT NULL DEFAULT '',
  amount BIGINT NOT NULL DEFAULT 0,
  phone_number TEXT NOT NULL DEFAULT '',
  mpesa_receipt_number TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS gw_registrations (
  short_code TEXT NOT NULL,
  confirmation_url TEXT NOT NULL,
  validation_url TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS gw_batches (
  id TEXT PRIMARY KEY,
  kind TEXT NOT NULL,
  count INT NOT NULL,
  total BIGINT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
);
`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveCallback(ctx context.Context, rec CallbackRecord) error {
	const sql = `
INSERT INTO gw_callbacks (id, caller, merchant_request_id, checkout_request_id, result_code, result_description, amount, mpesa_receipt_number, phone_number, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10);
`
	_, err := s.pool.Exec(ctx, sql,
		rec.ID,
		rec.Caller,
		rec.MerchantRequestID,
		rec.CheckoutRequestID,
		rec.ResultCode,
		rec.ResultDescription,
		rec.Amount,
		rec.MpesaReceiptNumber,
		rec.PhoneNumber,
		rec.CreatedAt,
	)
	if isUniqueViolation(err) {
		// Redelivered callback; first write wins.
		return nil
	}
	if err != nil {
		return fmt.Errorf("postgres SaveCallback: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListCallbacks(ctx context.Context, limit int) ([]CallbackRecord, error) {
	const sql = `
SELECT id, caller, merchant_request_id, checkout_request_id, result_code, result_description, amount, mpesa_receipt_number, phone_number, created_at
FROM gw_callbacks
ORDER BY id DESC
LIMIT $1;
`
	rows, err := s.pool.Query(ctx, sql, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres ListCallbacks: %w", err)
	}
	defer rows.Close()

	var out []CallbackRecord
	for rows.Next() {
		var rec CallbackRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.Caller,
			&rec.MerchantRequestID,
			&rec.CheckoutRequestID,
			&rec.ResultCode,
			&rec.ResultDescription,
			&rec.Amount,
			&rec.MpesaReceiptNumber,
			&rec.PhoneNumber,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres ListCallbacks scan: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveTransaction(ctx context.Context, tx Transaction) error {
	const sql = `
INSERT INTO gw_transactions (id, merchant_request_id, checkout_request_id, amount, phone_number, mpesa_receipt_number, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO NOTHING;
`
	_, err := s.pool.Exec(ctx, sql,
		tx.ID,
		tx.MerchantRequestID,
		tx.CheckoutRequestID,
		tx.Amount,
		tx.PhoneNumber,
		tx.MpesaReceiptNumber,
		tx.Status,
		tx.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres SaveTransaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, limit int) ([]Transaction, error) {
	const sql = `
SELECT id, merchant_request_id, checkout_request_id, amount, phone_number, mpesa_receipt_number, status, created_at
FROM gw_transactions
ORDER BY id DESC
LIMIT $1;
`
	rows, err := s.pool.Query(ctx, sql, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres ListTransactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var tx Transaction
		if err := rows.Scan(
			&tx.ID,
			&tx.MerchantRequestID,
			&tx.CheckoutRequestID,
			&tx.Amount,
			&tx.PhoneNumber,
			&tx.MpesaReceiptNumber,
			&tx.Status,
			&tx.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres ListTransactions scan: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveRegistration(ctx context.Context, reg WebhookRegistration) error {
	const sql = `
INSERT INTO gw_registrations (short_code, confirmation_url, validation_url, created_at)
VALUES ($1,$2,$3,$4);
`
	_, err := s.pool.Exec(ctx, sql, reg.ShortCode, reg.ConfirmationURL, reg.ValidationURL, reg.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres SaveRegistration: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveBatch(ctx context.Context, batch BulkBatch) error {
	const sql = `
INSERT INTO gw_batches (id, kind, count, total, created_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (id) DO NOTHING;
`
	_, err := s.pool.Exec(ctx, sql, batch.ID, batch.Kind, batch.Count, batch.Total, batch.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres SaveBatch: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
