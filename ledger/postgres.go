package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/mstgnz/montypay/infra/logger"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS transactions (
	id BIGSERIAL PRIMARY KEY,
	provider_code VARCHAR(64) NOT NULL,
	reference VARCHAR(255) NOT NULL,
	amount NUMERIC(20, 4) NOT NULL,
	currency CHAR(3) NOT NULL,
	state VARCHAR(32) NOT NULL,
	gateway_session_id VARCHAR(255) NOT NULL DEFAULT '',
	last_failure_reason TEXT NOT NULL DEFAULT '',
	fulfillment_attempted BOOLEAN NOT NULL DEFAULT FALSE,
	partner JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (provider_code, reference)
);

CREATE TABLE IF NOT EXISTS sale_orders (
	id BIGSERIAL PRIMARY KEY,
	provider_code VARCHAR(64) NOT NULL,
	reference VARCHAR(255) NOT NULL,
	name VARCHAR(255) NOT NULL,
	state VARCHAR(32) NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sale_orders_reference ON sale_orders(provider_code, reference);

CREATE TABLE IF NOT EXISTS invoices (
	id BIGSERIAL PRIMARY KEY,
	order_id BIGINT NOT NULL REFERENCES sale_orders(id),
	state VARCHAR(32) NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_invoices_order ON invoices(order_id);
`

// NewPostgresStore connects to PostgreSQL, verifies the connection and creates
// the ledger tables
func NewPostgresStore(ctx context.Context, dbURL string, log *logger.SystemLogger) (*SQLStore, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("ledger: open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: ping postgres: %w", err)
	}

	store := NewPostgresStoreFromDB(db, log)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	log.Info("ledger initialized", logger.LogContext{Fields: map[string]any{"driver": "postgres"}})
	return store, nil
}

// NewPostgresStoreFromDB wraps an existing connection pool without migrating
func NewPostgresStoreFromDB(db *sql.DB, log *logger.SystemLogger) *SQLStore {
	return &SQLStore{
		db:  db,
		log: log,
		dialect: dialect{
			name:       "postgres",
			numbered:   true,
			lockSuffix: " FOR UPDATE",
			schema:     postgresSchema,
		},
	}
}
