// Package provider holds the domain types shared by the MontyPay reconciliation
// service: transactions and their lifecycle states, normalized gateway
// notifications, the orders and invoices owned by the ledger, and the error
// taxonomy every layer reports with.
//
// # Transactions
//
// A Transaction is created in the draft state when checkout starts a payment
// and is never deleted. Its State is written only by the reconciliation state
// machine. The pair (ProviderCode, Reference) identifies it:
//
//	tx := provider.NewTransaction("S00042", decimal.RequireFromString("19.99"), "USD", provider.Partner{
//	    Name:  "Jane Doe",
//	    Email: "jane@example.com",
//	})
//
// # Notifications
//
// Webhook posts, browser returns and browser cancels are all mapped onto a
// NotificationEvent before they reach the state machine. Downstream code
// switches on NotificationEvent.Status and never looks at raw payload keys.
//
// # Errors
//
// Four error kinds are used and can be matched with errors.Is:
//
//   - ErrConfiguration: merchant credentials are missing
//   - ErrGatewayCommunication: the gateway could not be reached or answered badly
//   - ErrUnresolvedReference: an inbound event names no known transaction
//   - ErrFulfillmentStep: confirming an order or creating/posting invoices failed
//
// GatewayCommunicationError.UserMessage returns the only text that may be shown
// to a shopper; the full error belongs in the logs.
//
// # HTTP Transport
//
// ProviderHTTPClient is the outbound transport used by the gateway client. It
// sends JSON or form bodies with a bounded timeout and returns the response
// together with an error for any non-2xx status.
package provider
