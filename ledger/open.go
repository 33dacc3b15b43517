package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/mstgnz/montypay/infra/logger"
)

// Ledger drivers
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open builds the ledger for driver. dsn is the SQLite file path or the
// PostgreSQL connection URL and is ignored by the memory driver.
func Open(ctx context.Context, driver, dsn string, log *logger.SystemLogger) (Ledger, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverMemory:
		log.Warn("using in-memory ledger, state is lost on restart")
		return NewMemoryStore(), nil
	case DriverSQLite, "":
		store, err := NewSQLiteStore(ctx, dsn, log)
		if err != nil {
			return nil, err
		}
		return store, nil
	case DriverPostgres:
		if dsn == "" {
			return nil, fmt.Errorf("ledger: postgres driver needs DATABASE_URL")
		}
		store, err := NewPostgresStore(ctx, dsn, log)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("ledger: unknown driver %q", driver)
	}
}
