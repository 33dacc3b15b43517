// Package ledger stores payment transactions together with the sale orders and
// invoices they settle.
//
// Three backends implement Ledger:
//
//	MemoryStore  per-reference mutexes, used in tests and single-process demos
//	SQLite       BEGIN IMMEDIATE transactions with SQLITE_BUSY retries
//	PostgreSQL   SELECT ... FOR UPDATE row locks
//
// UpdateLocked is the only way the reconciliation engine mutates a
// transaction. Two deliveries for the same reference never interleave inside
// it, while different references proceed independently.
package ledger
