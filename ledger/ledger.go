package ledger

import (
	"context"
	"errors"

	"github.com/mstgnz/montypay/provider"
)

var (
	ErrTransactionNotFound = errors.New("ledger: transaction not found")
	ErrTransactionExists   = errors.New("ledger: transaction already exists")
	ErrNoInvoiceableOrders = errors.New("ledger: no invoiceable orders")
	ErrOrderNotFound       = errors.New("ledger: order not found")
)

// MutateFunc changes a transaction inside the per-reference critical section.
// Returning an error aborts the update and leaves the stored row untouched.
type MutateFunc func(tx *provider.Transaction) error

// TransactionStore persists payment transactions
type TransactionStore interface {
	// FindTransaction looks a transaction up by provider code and reference
	FindTransaction(ctx context.Context, providerCode, reference string) (*provider.Transaction, error)

	// CreateTransaction stores a new transaction together with its linked orders
	CreateTransaction(ctx context.Context, tx *provider.Transaction, orders []provider.Order) error

	// UpdateLocked runs fn while holding the per-reference write lock and
	// persists the result. Concurrent calls for one reference are serialized.
	UpdateLocked(ctx context.Context, providerCode, reference string, fn MutateFunc) (*provider.Transaction, error)

	// Ping reports whether the backing store is reachable
	Ping(ctx context.Context) error
}

// OrderBook exposes the sale orders and invoices linked to transactions
type OrderBook interface {
	OrdersOf(ctx context.Context, tx *provider.Transaction) ([]provider.Order, error)
	ConfirmOrder(ctx context.Context, order provider.Order) error
	CreateInvoices(ctx context.Context, orders []provider.Order) ([]provider.Invoice, error)
	PostInvoices(ctx context.Context, invoices []provider.Invoice) error
}

// Ledger is the full collaborator used by the reconciliation engine
type Ledger interface {
	TransactionStore
	OrderBook
	// InvoicesOf lists the invoices generated for the given orders
	InvoicesOf(ctx context.Context, orders []provider.Order) ([]provider.Invoice, error)
	Close() error
}
