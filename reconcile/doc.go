// Package reconcile turns MontyPay notifications into ledger state.
//
// Webhooks, browser returns and browser cancels all pass through the same
// path: normalize the payload, apply the state machine under the ledger's
// per-reference lock, then run the fulfillment cascade outside the lock for
// the one caller whose transition claimed it.
package reconcile
