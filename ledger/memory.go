package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mstgnz/montypay/provider"
)

type txKey struct {
	provider  string
	reference string
}

// MemoryStore keeps the ledger in process memory. Each reference has its own
// mutex so updates for different transactions never wait on each other.
type MemoryStore struct {
	mu            sync.RWMutex
	transactions  map[txKey]*provider.Transaction
	locks         map[txKey]*sync.Mutex
	orders        map[int64]*provider.Order
	ordersByRef   map[txKey][]int64
	invoices      map[int64]*provider.Invoice
	nextOrderID   int64
	nextInvoiceID int64
}

// NewMemoryStore creates an empty in-memory ledger
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		transactions: make(map[txKey]*provider.Transaction),
		locks:        make(map[txKey]*sync.Mutex),
		orders:       make(map[int64]*provider.Order),
		ordersByRef:  make(map[txKey][]int64),
		invoices:     make(map[int64]*provider.Invoice),
	}
}

// FindTransaction returns a copy of the stored transaction
func (s *MemoryStore) FindTransaction(ctx context.Context, providerCode, reference string) (*provider.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[txKey{providerCode, reference}]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	clone := *tx
	return &clone, nil
}

// CreateTransaction stores tx and assigns ids to its orders
func (s *MemoryStore) CreateTransaction(ctx context.Context, tx *provider.Transaction, orders []provider.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := txKey{tx.ProviderCode, tx.Reference}
	if _, exists := s.transactions[key]; exists {
		return ErrTransactionExists
	}

	clone := *tx
	s.transactions[key] = &clone

	for _, order := range orders {
		s.nextOrderID++
		o := order
		o.ID = s.nextOrderID
		o.Reference = tx.Reference
		if o.State == "" {
			o.State = provider.OrderDraft
		}
		s.orders[o.ID] = &o
		s.ordersByRef[key] = append(s.ordersByRef[key], o.ID)
	}
	return nil
}

// lockFor returns the mutex of an existing transaction. Unknown references
// get no mutex so they cannot grow the lock table.
func (s *MemoryStore) lockFor(key txKey) (*sync.Mutex, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.transactions[key]; !ok {
		return nil, false
	}
	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock, true
}

// UpdateLocked applies fn under the reference's mutex
func (s *MemoryStore) UpdateLocked(ctx context.Context, providerCode, reference string, fn MutateFunc) (*provider.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := txKey{providerCode, reference}
	lock, ok := s.lockFor(key)
	if !ok {
		return nil, ErrTransactionNotFound
	}
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	stored, ok := s.transactions[key]
	var working provider.Transaction
	if ok {
		working = *stored
	}
	s.mu.RUnlock()
	if !ok {
		return nil, ErrTransactionNotFound
	}

	if err := fn(&working); err != nil {
		return nil, err
	}
	working.UpdatedAt = time.Now().UTC()

	s.mu.Lock()
	saved := working
	s.transactions[key] = &saved
	s.mu.Unlock()

	return &working, nil
}

// Ping always succeeds for the memory store
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// OrdersOf returns the orders linked to tx, oldest first
func (s *MemoryStore) OrdersOf(ctx context.Context, tx *provider.Transaction) ([]provider.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.ordersByRef[txKey{tx.ProviderCode, tx.Reference}]
	orders := make([]provider.Order, 0, len(ids))
	for _, id := range ids {
		orders = append(orders, *s.orders[id])
	}
	return orders, nil
}

// ConfirmOrder moves a quotation to confirmed
func (s *MemoryStore) ConfirmOrder(ctx context.Context, order provider.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.orders[order.ID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrOrderNotFound, order.ID)
	}
	if !stored.State.NeedsConfirmation() {
		return fmt.Errorf("ledger: order %d cannot be confirmed from state %s", order.ID, stored.State)
	}
	stored.State = provider.OrderConfirmed
	return nil
}

// CreateInvoices creates one draft invoice per confirmed, not yet invoiced order
func (s *MemoryStore) CreateInvoices(ctx context.Context, orders []provider.Order) ([]provider.Invoice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	invoiced := make(map[int64]bool, len(s.invoices))
	for _, inv := range s.invoices {
		invoiced[inv.OrderID] = true
	}

	var candidates []int64
	for _, order := range orders {
		stored, ok := s.orders[order.ID]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, order.ID)
		}
		if stored.State == provider.OrderConfirmed && !invoiced[stored.ID] {
			candidates = append(candidates, stored.ID)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoInvoiceableOrders
	}

	created := make([]provider.Invoice, 0, len(candidates))
	for _, orderID := range candidates {
		s.nextInvoiceID++
		inv := provider.Invoice{ID: s.nextInvoiceID, OrderID: orderID, State: provider.InvoiceDraft}
		s.invoices[inv.ID] = &inv
		created = append(created, inv)
	}
	return created, nil
}

// PostInvoices posts draft invoices. Already posted invoices are left alone.
func (s *MemoryStore) PostInvoices(ctx context.Context, invoices []provider.Invoice) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, inv := range invoices {
		if _, ok := s.invoices[inv.ID]; !ok {
			return fmt.Errorf("ledger: invoice %d not found", inv.ID)
		}
	}
	for _, inv := range invoices {
		s.invoices[inv.ID].State = provider.InvoicePosted
	}
	return nil
}

// InvoicesOf lists invoices for the given orders ordered by id
func (s *MemoryStore) InvoicesOf(ctx context.Context, orders []provider.Order) ([]provider.Invoice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[int64]bool, len(orders))
	for _, order := range orders {
		wanted[order.ID] = true
	}

	var out []provider.Invoice
	for _, inv := range s.invoices {
		if wanted[inv.OrderID] {
			out = append(out, *inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Close is a no-op for the memory store
func (s *MemoryStore) Close() error {
	return nil
}
