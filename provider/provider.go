package provider

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Code is the provider code stored on every transaction owned by this service.
// Lookups always filter on it so references from other gateways never collide.
const Code = "montypay"

// TransactionState represents the lifecycle state of a payment transaction
type TransactionState string

const (
	StateDraft      TransactionState = "draft"
	StatePending    TransactionState = "pending"
	StateAuthorized TransactionState = "authorized"
	StateDone       TransactionState = "done"
	StateError      TransactionState = "error"
	StateCancelled  TransactionState = "cancelled"
)

// IsTerminal reports whether the state ends a payment attempt
func (s TransactionState) IsTerminal() bool {
	return s == StateDone || s == StateError || s == StateCancelled
}

// Valid reports whether s is one of the known states
func (s TransactionState) Valid() bool {
	switch s {
	case StateDraft, StatePending, StateAuthorized, StateDone, StateError, StateCancelled:
		return true
	}
	return false
}

// Partner holds the payer profile fields used for the billing and customer blocks
type Partner struct {
	Name        string `json:"name,omitempty"`
	Email       string `json:"email,omitempty" validate:"omitempty,email"`
	Phone       string `json:"phone,omitempty"`
	Address     string `json:"address,omitempty"`
	Zip         string `json:"zip,omitempty"`
	CountryCode string `json:"countryCode,omitempty" validate:"omitempty,iso3166_1_alpha2"`
}

// Transaction is the authoritative record of one payment attempt
type Transaction struct {
	Reference            string           `json:"reference"`
	ProviderCode         string           `json:"providerCode"`
	Amount               decimal.Decimal  `json:"amount"`
	Currency             string           `json:"currency"`
	State                TransactionState `json:"state"`
	GatewaySessionID     string           `json:"gatewaySessionId,omitempty"`
	LastFailureReason    string           `json:"lastFailureReason,omitempty"`
	FulfillmentAttempted bool             `json:"fulfillmentAttempted"`
	Partner              Partner          `json:"partner"`
	CreatedAt            time.Time        `json:"createdAt"`
	UpdatedAt            time.Time        `json:"updatedAt"`
}

// NewTransaction creates a draft transaction owned by this provider
func NewTransaction(reference string, amount decimal.Decimal, currency string, partner Partner) *Transaction {
	now := time.Now().UTC()
	return &Transaction{
		Reference:    reference,
		ProviderCode: Code,
		Amount:       amount,
		Currency:     strings.ToUpper(currency),
		State:        StateDraft,
		Partner:      partner,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// SetSessionID records the gateway correlation id. It is written at most once.
func (t *Transaction) SetSessionID(sessionID string) bool {
	if sessionID == "" || t.GatewaySessionID != "" {
		return false
	}
	t.GatewaySessionID = sessionID
	return true
}

// OrderState is the state of a sale order owned by the ledger
type OrderState string

const (
	OrderDraft     OrderState = "draft"
	OrderSent      OrderState = "sent"
	OrderConfirmed OrderState = "confirmed"
	OrderCancelled OrderState = "cancel"
)

// NeedsConfirmation reports whether the order is still a quotation
func (s OrderState) NeedsConfirmation() bool {
	return s == OrderDraft || s == OrderSent
}

// Order is a sale order linked to a transaction
type Order struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	State     OrderState `json:"state"`
	Reference string     `json:"reference"`
}

// InvoiceState is the state of an invoice owned by the ledger
type InvoiceState string

const (
	InvoiceDraft  InvoiceState = "draft"
	InvoicePosted InvoiceState = "posted"
)

// Invoice is an invoice generated for a confirmed order
type Invoice struct {
	ID      int64        `json:"id"`
	OrderID int64        `json:"orderId"`
	State   InvoiceState `json:"state"`
}
