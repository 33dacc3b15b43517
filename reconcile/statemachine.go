package reconcile

import (
	"fmt"

	"github.com/mstgnz/montypay/provider"
)

// CancelledReason is stored on a transaction cancelled by the customer
const CancelledReason = "payment cancelled by customer"

// Transition describes what applying one event did to a transaction
type Transition struct {
	From provider.TransactionState
	To   provider.TransactionState

	// Changed is false when the event repeated the current state
	Changed bool

	// Dropped is true when the event conflicted with a terminal state and was ignored
	Dropped bool

	// ClaimFulfillment is true for exactly one transition per transaction:
	// the one that set FulfillmentAttempted while moving to done
	ClaimFulfillment bool
}

// Apply runs the state machine for event against tx and mutates tx in place.
// Callers must hold the transaction's ledger lock.
//
//	success     -> done from any state except done
//	pending     -> pending from draft and pending
//	unknown     -> pending from draft and pending
//	authorized  -> authorized from draft and pending
//	failed      -> error from any non-terminal state
//	cancelled   -> cancelled from any non-terminal state
//
// done is sticky. error and cancelled only give way to a later success.
func Apply(tx *provider.Transaction, event provider.NotificationEvent) Transition {
	t := Transition{From: tx.State, To: tx.State}

	switch event.Status {
	case provider.StatusSuccess:
		if tx.State != provider.StateDone {
			tx.State = provider.StateDone
			tx.LastFailureReason = ""
			t.Changed = true
		}

	case provider.StatusPending, provider.StatusUnknown:
		switch tx.State {
		case provider.StateDraft:
			tx.State = provider.StatePending
			t.Changed = true
		case provider.StatePending:
		default:
			t.Dropped = true
		}

	case provider.StatusAuthorized:
		switch tx.State {
		case provider.StateDraft, provider.StatePending:
			tx.State = provider.StateAuthorized
			t.Changed = true
		case provider.StateAuthorized:
		default:
			t.Dropped = true
		}

	case provider.StatusFailed:
		switch {
		case tx.State == provider.StateError:
		case tx.State.IsTerminal():
			t.Dropped = true
		default:
			tx.State = provider.StateError
			tx.LastFailureReason = failureReason(event)
			t.Changed = true
		}

	case provider.StatusCancelled:
		switch {
		case tx.State == provider.StateCancelled:
		case tx.State.IsTerminal():
			t.Dropped = true
		default:
			tx.State = provider.StateCancelled
			tx.LastFailureReason = CancelledReason
			t.Changed = true
		}
	}

	if tx.State == provider.StateDone && !tx.FulfillmentAttempted {
		tx.FulfillmentAttempted = true
		t.ClaimFulfillment = true
	}

	t.To = tx.State
	return t
}

func failureReason(event provider.NotificationEvent) string {
	if event.Reason != "" {
		return event.Reason
	}
	return fmt.Sprintf("MontyPay reported status: %s", event.RawStatus)
}

// AckStatus maps a transaction state onto the webhook acknowledgement vocabulary
func AckStatus(state provider.TransactionState) string {
	switch state {
	case provider.StateDone:
		return AckDone
	case provider.StateError, provider.StateCancelled:
		return AckError
	default:
		return AckPending
	}
}
