package provider

// Source identifies the inbound channel a notification arrived on
type Source string

const (
	SourceWebhook       Source = "webhook"
	SourceBrowserReturn Source = "browser_return"
	SourceBrowserCancel Source = "browser_cancel"
)

// NormalizedStatus is the gateway status mapped onto the reconciliation vocabulary
type NormalizedStatus int

const (
	StatusUnknown NormalizedStatus = iota
	StatusSuccess
	StatusPending
	StatusAuthorized
	StatusFailed
	StatusCancelled
)

// String returns the status name used in logs
func (s NormalizedStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusPending:
		return "pending"
	case StatusAuthorized:
		return "authorized"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// SignedOrder is the order block a gateway notification may carry for verification
type SignedOrder struct {
	Number      string
	Amount      string
	Currency    string
	Description string
}

// NotificationEvent is one inbound payment outcome from any channel
type NotificationEvent struct {
	Source    Source
	Reference string
	RawStatus string
	Status    NormalizedStatus
	SessionID string
	Reason    string

	// Signature is the raw hash field, empty when the caller sent none
	Signature string
	Order     SignedOrder
}

// Resolvable reports whether the event names a transaction
func (e NotificationEvent) Resolvable() bool {
	return e.Reference != ""
}
