package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrVouchersExhausted = errors.New("not enough unused vouchers")

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	Db   DB
	pool *pgxpool.Pool
}

func NewStore(connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{Db: pool, pool: pool}, nil
}

// New wraps an existing connection, e.g. a mock pool in tests.
func New(db DB) *Store {
	return &Store{Db: db}
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}

const schema = `
CREATE TABLE IF NOT EXISTS transactions (
	id                   TEXT PRIMARY KEY,
	order_id             TEXT NOT NULL,
	session_id           TEXT NOT NULL,
	customer_mobile      TEXT NOT NULL,
	customer_name        TEXT NOT NULL DEFAULT '',
	status               TEXT NOT NULL,
	currency             TEXT NOT NULL DEFAULT '',
	items                JSONB NOT NULL DEFAULT '[]',
	payment_type         TEXT NOT NULL DEFAULT '',
	amount_paid          BIGINT NOT NULL DEFAULT 0,
	amount_after_charges BIGINT NOT NULL DEFAULT 0,
	is_successful        BOOLEAN NOT NULL,
	payment_date         TIMESTAMPTZ,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS transactions_order_id_idx ON transactions (order_id);

CREATE TABLE IF NOT EXISTS commission_logs (
	client_reference          TEXT PRIMARY KEY,
	mobile                    TEXT NOT NULL DEFAULT '',
	product_type              TEXT NOT NULL DEFAULT '',
	destination               TEXT NOT NULL DEFAULT '',
	network                   TEXT NOT NULL DEFAULT '',
	provider                  TEXT NOT NULL DEFAULT '',
	bundle                    TEXT NOT NULL DEFAULT '',
	account_number            TEXT NOT NULL DEFAULT '',
	email                     TEXT NOT NULL DEFAULT '',
	order_id                  TEXT NOT NULL DEFAULT '',
	amount                    BIGINT NOT NULL DEFAULT 0,
	commission                BIGINT NOT NULL DEFAULT 0,
	status                    TEXT NOT NULL DEFAULT 'Pending',
	commission_service_status TEXT NOT NULL DEFAULT 'pending',
	retry_count               INT NOT NULL DEFAULT 0,
	is_retryable              BOOLEAN NOT NULL DEFAULT false,
	message                   TEXT NOT NULL DEFAULT '',
	transaction_id            TEXT NOT NULL DEFAULT '',
	external_transaction_id   TEXT NOT NULL DEFAULT '',
	created_at                TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at                TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS commission_logs_mobile_idx ON commission_logs (mobile);
CREATE INDEX IF NOT EXISTS commission_logs_retry_idx ON commission_logs (updated_at)
	WHERE commission_service_status = 'failed' AND is_retryable;

CREATE TABLE IF NOT EXISTS voucher_codes (
	id           BIGSERIAL PRIMARY KEY,
	voucher_type TEXT NOT NULL,
	serial       TEXT NOT NULL UNIQUE,
	pin          TEXT NOT NULL,
	consumed     BOOLEAN NOT NULL DEFAULT false,
	order_id     TEXT,
	consumed_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS voucher_codes_unused_idx ON voucher_codes (voucher_type, id) WHERE NOT consumed;
CREATE INDEX IF NOT EXISTS voucher_codes_order_idx ON voucher_codes (order_id);
`

// Migrate creates the tables if they are missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.Db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
