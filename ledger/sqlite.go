package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mstgnz/montypay/infra/logger"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS transactions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	provider_code TEXT NOT NULL,
	reference TEXT NOT NULL,
	amount TEXT NOT NULL,
	currency TEXT NOT NULL,
	state TEXT NOT NULL,
	gateway_session_id TEXT NOT NULL DEFAULT '',
	last_failure_reason TEXT NOT NULL DEFAULT '',
	fulfillment_attempted BOOLEAN NOT NULL DEFAULT 0,
	partner TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	UNIQUE(provider_code, reference)
);

CREATE TABLE IF NOT EXISTS sale_orders (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	provider_code TEXT NOT NULL,
	reference TEXT NOT NULL,
	name TEXT NOT NULL,
	state TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sale_orders_reference ON sale_orders(provider_code, reference);

CREATE TABLE IF NOT EXISTS invoices (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id INTEGER NOT NULL REFERENCES sale_orders(id),
	state TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_invoices_order ON invoices(order_id);
`

// NewSQLiteStore opens (or creates) the ledger database at dbPath.
// Write transactions start with BEGIN IMMEDIATE so UpdateLocked holds the
// database write lock for the whole read-modify-write.
func NewSQLiteStore(ctx context.Context, dbPath string, log *logger.SystemLogger) (*SQLStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("ledger: create directory %s: %w", dir, err)
	}

	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000&_timeout=20000&_txlock=immediate&_foreign_keys=on", dbPath)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("ledger: open sqlite: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(0)

	store := &SQLStore{
		db:  db,
		log: log,
		dialect: dialect{
			name:      "sqlite",
			retryBusy: true,
			schema:    sqliteSchema,
		},
	}

	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	store.optimizeForMultiProcess(ctx)

	log.Info("ledger initialized", logger.LogContext{Fields: map[string]any{"driver": "sqlite", "path": dbPath}})
	return store, nil
}

// optimizeForMultiProcess applies pragmas for several processes sharing one file
func (s *SQLStore) optimizeForMultiProcess(ctx context.Context) {
	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 30000;",
		"PRAGMA temp_store = memory;",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			s.log.Warn("sqlite pragma failed", logger.LogContext{Fields: map[string]any{"pragma": pragma, "error": err.Error()}})
		}
	}

	var journalMode string
	if err := s.db.QueryRowContext(ctx, "PRAGMA journal_mode;").Scan(&journalMode); err == nil {
		s.log.Debug("sqlite journal mode", logger.LogContext{Fields: map[string]any{"mode": journalMode}})
	}
}
