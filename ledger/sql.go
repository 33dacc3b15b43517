package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mstgnz/montypay/infra/logger"
	"github.com/mstgnz/montypay/provider"
)

// dialect captures the differences between the supported SQL engines
type dialect struct {
	name string
	// numbered placeholders ($1, $2) instead of ?
	numbered bool
	// lockSuffix is appended to the row read inside UpdateLocked
	lockSuffix string
	// retryBusy enables the SQLITE_BUSY retry loop
	retryBusy bool
	schema    string
}

// SQLStore implements Ledger on top of database/sql
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	log     *logger.SystemLogger
}

const maxBusyRetries = 3

const transactionColumns = `provider_code, reference, amount, currency, state, gateway_session_id,
	last_failure_reason, fulfillment_attempted, partner, created_at, updated_at`

// bind rewrites ? placeholders for engines that number their parameters
func (s *SQLStore) bind(query string) string {
	if !s.dialect.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retryOperation re-runs operation while SQLite reports lock contention.
// Backoff grows 10ms, 20ms, 40ms.
func (s *SQLStore) retryOperation(ctx context.Context, operation func() error) error {
	if !s.dialect.retryBusy {
		return operation()
	}

	var lastErr error
	for attempt := 0; attempt <= maxBusyRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		if !isBusy(err) {
			return err
		}

		lastErr = err
		if attempt == maxBusyRetries {
			break
		}
		backoff := time.Duration(10*(1<<attempt)) * time.Millisecond
		s.log.Warn("ledger busy, retrying", logger.LogContext{Fields: map[string]any{
			"backoff": backoff.String(),
			"attempt": attempt + 1,
		}})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("ledger: operation failed after %d retries: %w", maxBusyRetries+1, lastErr)
}

// Migrate creates the ledger tables when missing
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(s.dialect.schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ledger: migrate %s: %w", s.dialect.name, err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*provider.Transaction, error) {
	var (
		tx          provider.Transaction
		state       string
		partnerJSON string
	)
	err := row.Scan(&tx.ProviderCode, &tx.Reference, &tx.Amount, &tx.Currency, &state,
		&tx.GatewaySessionID, &tx.LastFailureReason, &tx.FulfillmentAttempted,
		&partnerJSON, &tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("ledger: scan transaction: %w", err)
	}
	tx.State = provider.TransactionState(state)

	if partnerJSON != "" {
		if err := json.Unmarshal([]byte(partnerJSON), &tx.Partner); err != nil {
			return nil, fmt.Errorf("ledger: decode partner: %w", err)
		}
	}
	return &tx, nil
}

// FindTransaction looks a transaction up without locking it
func (s *SQLStore) FindTransaction(ctx context.Context, providerCode, reference string) (*provider.Transaction, error) {
	var tx *provider.Transaction
	err := s.retryOperation(ctx, func() error {
		query := s.bind(`SELECT ` + transactionColumns + ` FROM transactions WHERE provider_code = ? AND reference = ?`)
		found, err := scanTransaction(s.db.QueryRowContext(ctx, query, providerCode, reference))
		if err != nil {
			return err
		}
		tx = found
		return nil
	})
	return tx, err
}

// CreateTransaction inserts tx and its orders in one database transaction
func (s *SQLStore) CreateTransaction(ctx context.Context, tx *provider.Transaction, orders []provider.Order) error {
	partnerJSON, err := json.Marshal(tx.Partner)
	if err != nil {
		return fmt.Errorf("ledger: encode partner: %w", err)
	}

	return s.retryOperation(ctx, func() error {
		sqlTx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("ledger: begin: %w", err)
		}
		defer sqlTx.Rollback()

		var exists int
		err = sqlTx.QueryRowContext(ctx,
			s.bind(`SELECT COUNT(1) FROM transactions WHERE provider_code = ? AND reference = ?`),
			tx.ProviderCode, tx.Reference).Scan(&exists)
		if err != nil {
			return fmt.Errorf("ledger: check transaction: %w", err)
		}
		if exists > 0 {
			return ErrTransactionExists
		}

		_, err = sqlTx.ExecContext(ctx, s.bind(`INSERT INTO transactions (`+transactionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			tx.ProviderCode, tx.Reference, tx.Amount, tx.Currency, string(tx.State),
			tx.GatewaySessionID, tx.LastFailureReason, tx.FulfillmentAttempted,
			string(partnerJSON), tx.CreatedAt, tx.UpdatedAt)
		if err != nil {
			return fmt.Errorf("ledger: insert transaction: %w", err)
		}

		for _, order := range orders {
			state := order.State
			if state == "" {
				state = provider.OrderDraft
			}
			_, err = sqlTx.ExecContext(ctx,
				s.bind(`INSERT INTO sale_orders (provider_code, reference, name, state) VALUES (?, ?, ?, ?)`),
				tx.ProviderCode, tx.Reference, order.Name, string(state))
			if err != nil {
				return fmt.Errorf("ledger: insert order %s: %w", order.Name, err)
			}
		}

		return sqlTx.Commit()
	})
}

// UpdateLocked reads the row under a write lock, applies fn and saves it.
// SQLite takes the lock with BEGIN IMMEDIATE, PostgreSQL with SELECT ... FOR UPDATE.
func (s *SQLStore) UpdateLocked(ctx context.Context, providerCode, reference string, fn MutateFunc) (*provider.Transaction, error) {
	var updated *provider.Transaction
	err := s.retryOperation(ctx, func() error {
		sqlTx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("ledger: begin: %w", err)
		}
		defer sqlTx.Rollback()

		query := s.bind(`SELECT `+transactionColumns+` FROM transactions WHERE provider_code = ? AND reference = ?`) + s.dialect.lockSuffix
		tx, err := scanTransaction(sqlTx.QueryRowContext(ctx, query, providerCode, reference))
		if err != nil {
			return err
		}

		if err := fn(tx); err != nil {
			return err
		}
		tx.UpdatedAt = time.Now().UTC()

		_, err = sqlTx.ExecContext(ctx, s.bind(`UPDATE transactions
			SET state = ?, gateway_session_id = ?, last_failure_reason = ?, fulfillment_attempted = ?, updated_at = ?
			WHERE provider_code = ? AND reference = ?`),
			string(tx.State), tx.GatewaySessionID, tx.LastFailureReason, tx.FulfillmentAttempted, tx.UpdatedAt,
			providerCode, reference)
		if err != nil {
			return fmt.Errorf("ledger: update transaction: %w", err)
		}

		if err := sqlTx.Commit(); err != nil {
			return fmt.Errorf("ledger: commit: %w", err)
		}
		updated = tx
		return nil
	})
	return updated, err
}

// Ping checks the database connection
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// OrdersOf returns the orders linked to tx ordered by id
func (s *SQLStore) OrdersOf(ctx context.Context, tx *provider.Transaction) ([]provider.Order, error) {
	var orders []provider.Order
	err := s.retryOperation(ctx, func() error {
		rows, err := s.db.QueryContext(ctx,
			s.bind(`SELECT id, name, state, reference FROM sale_orders WHERE provider_code = ? AND reference = ? ORDER BY id`),
			tx.ProviderCode, tx.Reference)
		if err != nil {
			return fmt.Errorf("ledger: query orders: %w", err)
		}
		defer rows.Close()

		orders = orders[:0]
		for rows.Next() {
			var (
				order provider.Order
				state string
			)
			if err := rows.Scan(&order.ID, &order.Name, &state, &order.Reference); err != nil {
				return fmt.Errorf("ledger: scan order: %w", err)
			}
			order.State = provider.OrderState(state)
			orders = append(orders, order)
		}
		return rows.Err()
	})
	return orders, err
}

// ConfirmOrder moves a draft or sent order to confirmed
func (s *SQLStore) ConfirmOrder(ctx context.Context, order provider.Order) error {
	return s.retryOperation(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			s.bind(`UPDATE sale_orders SET state = ? WHERE id = ? AND state IN (?, ?)`),
			string(provider.OrderConfirmed), order.ID, string(provider.OrderDraft), string(provider.OrderSent))
		if err != nil {
			return fmt.Errorf("ledger: confirm order %d: %w", order.ID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("ledger: confirm order %d: %w", order.ID, err)
		}
		if affected == 1 {
			return nil
		}

		var state string
		err = s.db.QueryRowContext(ctx, s.bind(`SELECT state FROM sale_orders WHERE id = ?`), order.ID).Scan(&state)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %d", ErrOrderNotFound, order.ID)
		}
		if err != nil {
			return fmt.Errorf("ledger: confirm order %d: %w", order.ID, err)
		}
		return fmt.Errorf("ledger: order %d cannot be confirmed from state %s", order.ID, state)
	})
}

// CreateInvoices creates one draft invoice per confirmed order that has none yet
func (s *SQLStore) CreateInvoices(ctx context.Context, orders []provider.Order) ([]provider.Invoice, error) {
	var created []provider.Invoice
	err := s.retryOperation(ctx, func() error {
		created = created[:0]

		sqlTx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("ledger: begin: %w", err)
		}
		defer sqlTx.Rollback()

		for _, order := range orders {
			var (
				state    string
				invoices int
			)
			err := sqlTx.QueryRowContext(ctx, s.bind(`SELECT o.state, COUNT(i.id)
				FROM sale_orders o LEFT JOIN invoices i ON i.order_id = o.id
				WHERE o.id = ? GROUP BY o.state`), order.ID).Scan(&state, &invoices)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %d", ErrOrderNotFound, order.ID)
			}
			if err != nil {
				return fmt.Errorf("ledger: read order %d: %w", order.ID, err)
			}
			if provider.OrderState(state) != provider.OrderConfirmed || invoices > 0 {
				continue
			}

			inv := provider.Invoice{OrderID: order.ID, State: provider.InvoiceDraft}
			err = sqlTx.QueryRowContext(ctx,
				s.bind(`INSERT INTO invoices (order_id, state) VALUES (?, ?) RETURNING id`),
				order.ID, string(inv.State)).Scan(&inv.ID)
			if err != nil {
				return fmt.Errorf("ledger: insert invoice for order %d: %w", order.ID, err)
			}
			created = append(created, inv)
		}

		if len(created) == 0 {
			return ErrNoInvoiceableOrders
		}
		return sqlTx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// PostInvoices posts the given invoices in one database transaction
func (s *SQLStore) PostInvoices(ctx context.Context, invoices []provider.Invoice) error {
	return s.retryOperation(ctx, func() error {
		sqlTx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("ledger: begin: %w", err)
		}
		defer sqlTx.Rollback()

		for _, inv := range invoices {
			res, err := sqlTx.ExecContext(ctx, s.bind(`UPDATE invoices SET state = ? WHERE id = ?`),
				string(provider.InvoicePosted), inv.ID)
			if err != nil {
				return fmt.Errorf("ledger: post invoice %d: %w", inv.ID, err)
			}
			if n, err := res.RowsAffected(); err != nil || n == 0 {
				return fmt.Errorf("ledger: invoice %d not found", inv.ID)
			}
		}
		return sqlTx.Commit()
	})
}

// InvoicesOf lists invoices for the given orders ordered by id
func (s *SQLStore) InvoicesOf(ctx context.Context, orders []provider.Order) ([]provider.Invoice, error) {
	if len(orders) == 0 {
		return nil, nil
	}

	args := make([]any, len(orders))
	marks := make([]string, len(orders))
	for i, order := range orders {
		args[i] = order.ID
		marks[i] = "?"
	}
	query := s.bind(`SELECT id, order_id, state FROM invoices WHERE order_id IN (` + strings.Join(marks, ", ") + `) ORDER BY id`)

	var out []provider.Invoice
	err := s.retryOperation(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("ledger: query invoices: %w", err)
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var (
				inv   provider.Invoice
				state string
			)
			if err := rows.Scan(&inv.ID, &inv.OrderID, &state); err != nil {
				return fmt.Errorf("ledger: scan invoice: %w", err)
			}
			inv.State = provider.InvoiceState(state)
			out = append(out, inv)
		}
		return rows.Err()
	})
	return out, err
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("ledger: close %s: %w", s.dialect.name, err)
	}
	s.log.Info("ledger closed", logger.LogContext{Fields: map[string]any{"driver": s.dialect.name}})
	return nil
}
