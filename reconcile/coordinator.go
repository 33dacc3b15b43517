package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mstgnz/montypay/infra/logger"
	"github.com/mstgnz/montypay/infra/opensearch"
	"github.com/mstgnz/montypay/ledger"
	"github.com/mstgnz/montypay/provider"
	"github.com/mstgnz/montypay/provider/montypay"
	"github.com/shopspring/decimal"
)

// Webhook acknowledgement statuses
const (
	AckDone    = "done"
	AckPending = "pending"
	AckError   = "error"
	AckIgnored = "ignored"
)

// Reasons attached to ignored acknowledgements
const (
	ReasonMissingReference = "missing reference"
	ReasonNotFound         = "tx not found"
)

// Redirect banner flags
const (
	FlagFailed    = "failed"
	FlagCancelled = "cancelled"
	FlagPending   = "pending"
)

// Banner messages shown on the payment page
const (
	MessageCancelled  = "Payment was cancelled"
	MessageProcessing = "Your payment is still being processed."
	MessageUnknown    = "We could not confirm the payment yet."
)

const cascadeTimeout = 30 * time.Second

var (
	ErrSignatureMismatch   = errors.New("reconcile: notification signature mismatch")
	ErrUnsupportedCurrency = errors.New("reconcile: currency not supported")
	ErrAlreadyPaid         = errors.New("reconcile: transaction already paid")
	ErrAmountMismatch      = errors.New("reconcile: checkout does not match the existing transaction")
)

// errUnchanged aborts UpdateLocked when an event leaves the row as it was
var errUnchanged = errors.New("unchanged")

// SessionCreator opens hosted checkout sessions on the gateway
type SessionCreator interface {
	CreateSession(ctx context.Context, tx *provider.Transaction, returnBaseURL string) (*montypay.Session, error)
	Supports(currency string) bool
}

// Recorder stores the audit trail of processed events
type Recorder interface {
	LogReconciliation(ctx context.Context, entry opensearch.ReconciliationLog) error
}

// Options configures the coordinator
type Options struct {
	// ReturnBaseURL is the public base the gateway sends shoppers back to
	ReturnBaseURL    string
	ConfirmationPath string
	PaymentPath      string

	// VerifySignatures rejects webhooks whose hash does not match MerchantPass
	VerifySignatures bool
	MerchantPass     string

	// Recorder is optional
	Recorder Recorder
}

// WebhookAck is the JSON body returned to the gateway
type WebhookAck struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Redirect is where the shopper's browser is sent after a return or cancel
type Redirect struct {
	Location    string
	Flag        string
	Message     string
	LastOrderID int64
}

// Outcome is the result of processing one resolvable event
type Outcome struct {
	Transaction *provider.Transaction
	Transition  Transition
	Report      *FulfillmentReport
}

// Coordinator routes inbound gateway notifications through the state machine
// and runs fulfillment for the caller that claimed it
type Coordinator struct {
	ledger  ledger.Ledger
	gateway SessionCreator
	cascade *Cascade
	log     *logger.SystemLogger
	opts    Options
}

// NewCoordinator wires the coordinator
func NewCoordinator(l ledger.Ledger, gateway SessionCreator, cascade *Cascade, log *logger.SystemLogger, opts Options) *Coordinator {
	if opts.ConfirmationPath == "" {
		opts.ConfirmationPath = "/shop/confirmation"
	}
	if opts.PaymentPath == "" {
		opts.PaymentPath = "/shop/payment"
	}
	return &Coordinator{
		ledger:  l,
		gateway: gateway,
		cascade: cascade,
		log:     log,
		opts:    opts,
	}
}

// HandleWebhook processes a server-to-server notification. Only ledger
// failures and signature mismatches are returned as errors.
func (c *Coordinator) HandleWebhook(ctx context.Context, payload map[string]any) (WebhookAck, error) {
	event := montypay.Normalize(provider.SourceWebhook, payload)
	audit := c.newAudit(ctx, event, payload)

	if c.opts.VerifySignatures {
		ok, err := montypay.Verify(event.Order, event.Signature, c.opts.MerchantPass)
		if err != nil {
			return WebhookAck{}, err
		}
		if !ok {
			c.log.Warn("webhook signature mismatch", logger.LogContext{Reference: event.Reference, Provider: provider.Code})
			audit.Outcome = "rejected"
			c.record(ctx, audit)
			return WebhookAck{}, ErrSignatureMismatch
		}
	}

	outcome, err := c.process(ctx, event)
	var unresolved *provider.UnresolvedReferenceError
	if errors.As(err, &unresolved) {
		c.log.Warn("webhook ignored", logger.LogContext{
			Reference: event.Reference,
			Provider:  provider.Code,
			Fields:    map[string]any{"status": event.RawStatus, "error": err.Error()},
		})
		ack := WebhookAck{Status: AckIgnored, Reason: ignoredReason(unresolved)}
		audit.Outcome, audit.Reason = ack.Status, ack.Reason
		c.record(ctx, audit)
		return ack, nil
	}
	if err != nil {
		return WebhookAck{}, err
	}

	ack := WebhookAck{Status: AckStatus(outcome.Transaction.State)}
	c.log.Info("webhook processed", logger.LogContext{
		Reference: event.Reference,
		Provider:  provider.Code,
		Fields: map[string]any{
			"status":  event.RawStatus,
			"from":    string(outcome.Transition.From),
			"to":      string(outcome.Transition.To),
			"dropped": outcome.Transition.Dropped,
			"ack":     ack.Status,
		},
	})

	audit.fill(outcome)
	audit.Outcome = ack.Status
	c.record(ctx, audit)
	return ack, nil
}

// HandleReturn processes the shopper's browser coming back from the hosted page.
// The redirect is always produced; ledger problems are only logged.
func (c *Coordinator) HandleReturn(ctx context.Context, payload map[string]any) Redirect {
	event := montypay.Normalize(provider.SourceBrowserReturn, payload)
	return c.handleBrowser(ctx, event, payload)
}

// HandleCancel processes an explicit cancel from the hosted page
func (c *Coordinator) HandleCancel(ctx context.Context, payload map[string]any) Redirect {
	event := montypay.Normalize(provider.SourceBrowserCancel, payload)
	return c.handleBrowser(ctx, event, payload)
}

func (c *Coordinator) handleBrowser(ctx context.Context, event provider.NotificationEvent, payload map[string]any) Redirect {
	audit := c.newAudit(ctx, event, payload)

	outcome, err := c.process(ctx, event)
	var unresolved *provider.UnresolvedReferenceError
	switch {
	case errors.As(err, &unresolved):
		c.log.Warn("browser callback ignored", logger.LogContext{
			Reference: event.Reference,
			Provider:  provider.Code,
			Fields:    map[string]any{"source": string(event.Source), "error": err.Error()},
		})
		audit.Reason = ignoredReason(unresolved)
	case err != nil:
		c.log.Error("browser callback could not update transaction", err, logger.LogContext{Reference: event.Reference, Provider: provider.Code})
		audit.Reason = err.Error()
	}

	redirect := c.redirectFor(event, outcome)
	if redirect.Flag == "" && redirect.LastOrderID == 0 && outcome != nil {
		redirect.LastOrderID = c.firstOrderID(ctx, outcome.Transaction)
	}

	audit.fill(outcome)
	audit.Outcome = redirect.Location
	c.record(ctx, audit)
	return redirect
}

// process applies event under the ledger lock and runs the cascade when the
// transition claimed fulfillment. An event naming no known transaction fails
// with *provider.UnresolvedReferenceError.
func (c *Coordinator) process(ctx context.Context, event provider.NotificationEvent) (*Outcome, error) {
	if !event.Resolvable() {
		return nil, &provider.UnresolvedReferenceError{}
	}

	var (
		transition Transition
		snapshot   provider.Transaction
	)

	tx, err := c.ledger.UpdateLocked(ctx, provider.Code, event.Reference, func(tx *provider.Transaction) error {
		transition = Apply(tx, event)
		sessionSet := event.Source == provider.SourceWebhook && tx.SetSessionID(event.SessionID)
		snapshot = *tx
		if !transition.Changed && !transition.ClaimFulfillment && !sessionSet {
			return errUnchanged
		}
		return nil
	})
	if errors.Is(err, errUnchanged) {
		tx, err = &snapshot, nil
	}
	if errors.Is(err, ledger.ErrTransactionNotFound) {
		return nil, &provider.UnresolvedReferenceError{Reference: event.Reference}
	}
	if err != nil {
		return nil, err
	}

	if transition.Dropped {
		c.log.Warn("conflicting status dropped", logger.LogContext{
			Reference: tx.Reference,
			Provider:  tx.ProviderCode,
			Fields: map[string]any{
				"state":  string(transition.From),
				"status": event.Status.String(),
				"source": string(event.Source),
			},
		})
	}

	outcome := &Outcome{Transaction: tx, Transition: transition}
	if transition.ClaimFulfillment {
		outcome.Report = c.fulfill(ctx, tx)
	}
	return outcome, nil
}

// fulfill runs the cascade detached from the request context. The claim is
// already persisted, so an aborted run would never be retried.
func (c *Coordinator) fulfill(ctx context.Context, tx *provider.Transaction) *FulfillmentReport {
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cascadeTimeout)
	defer cancel()

	report := c.cascade.Run(runCtx, tx)
	failures := report.Failures()

	logCtx := logger.LogContext{
		Reference: tx.Reference,
		Provider:  tx.ProviderCode,
		Fields: map[string]any{
			"steps":         len(report.Steps),
			"failed":        len(failures),
			"invoices":      len(report.Invoices),
			"last_order_id": report.LastOrderID,
			"duration_ms":   report.Duration.Milliseconds(),
		},
	}
	if len(failures) > 0 {
		c.log.Error("fulfillment incomplete, manual reconciliation required", report.Err(), logCtx)
	} else {
		c.log.Info("fulfillment completed", logCtx)
	}
	return report
}

func ignoredReason(err *provider.UnresolvedReferenceError) string {
	if err.Reference == "" {
		return ReasonMissingReference
	}
	return ReasonNotFound
}

func (c *Coordinator) redirectFor(event provider.NotificationEvent, outcome *Outcome) Redirect {
	if event.Source == provider.SourceBrowserCancel {
		return c.bannerRedirect(FlagCancelled, MessageCancelled)
	}

	status := event.Status
	if outcome != nil {
		switch outcome.Transaction.State {
		case provider.StateDone:
			status = provider.StatusSuccess
		case provider.StateError:
			status = provider.StatusFailed
		case provider.StateCancelled:
			status = provider.StatusCancelled
		default:
			if status != provider.StatusPending {
				status = provider.StatusUnknown
			}
		}
	}

	switch status {
	case provider.StatusSuccess:
		redirect := Redirect{Location: c.opts.ConfirmationPath}
		if outcome != nil && outcome.Report != nil {
			redirect.LastOrderID = outcome.Report.LastOrderID
		}
		return redirect
	case provider.StatusFailed:
		message := event.Reason
		if message == "" && outcome != nil && event.Status != provider.StatusFailed {
			message = outcome.Transaction.LastFailureReason
		}
		if message == "" {
			message = event.RawStatus
		}
		return c.bannerRedirect(FlagFailed, message)
	case provider.StatusCancelled:
		return c.bannerRedirect(FlagCancelled, MessageCancelled)
	case provider.StatusPending:
		return c.bannerRedirect(FlagPending, MessageProcessing)
	default:
		return c.bannerRedirect(FlagPending, MessageUnknown)
	}
}

func (c *Coordinator) bannerRedirect(flag, message string) Redirect {
	location := c.opts.PaymentPath + "?payment_status=" + escape(flag)
	if message != "" {
		location += "&msg=" + escape(message)
	}
	return Redirect{Location: location, Flag: flag, Message: message}
}

// escape encodes a banner value with %20 for spaces
func escape(value string) string {
	value = strings.ReplaceAll(value, "\r", "")
	return strings.ReplaceAll(url.QueryEscape(value), "+", "%20")
}

func (c *Coordinator) firstOrderID(ctx context.Context, tx *provider.Transaction) int64 {
	orders, err := c.ledger.OrdersOf(ctx, tx)
	if err != nil || len(orders) == 0 {
		return 0
	}
	return orders[0].ID
}

// CheckoutRequest starts a hosted checkout for a transaction
type CheckoutRequest struct {
	Reference string
	Amount    decimal.Decimal
	Currency  string
	Partner   provider.Partner
	Orders    []string
}

// CheckoutResult is returned to the storefront
type CheckoutResult struct {
	Reference      string   `json:"reference"`
	RedirectURL    string   `json:"redirect_url"`
	PaymentMethods []string `json:"payment_methods"`
}

// StartCheckout creates the draft transaction when needed, opens a gateway
// session and moves the transaction to pending. Gateway and configuration
// errors are returned unchanged so callers can pick the shopper message.
func (c *Coordinator) StartCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	req.Currency = strings.ToUpper(req.Currency)
	if !c.gateway.Supports(req.Currency) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, req.Currency)
	}
	if req.Reference == "" {
		req.Reference = "MP-" + strings.ToUpper(uuid.NewString()[:8])
	}

	tx, err := c.ledger.FindTransaction(ctx, provider.Code, req.Reference)
	switch {
	case errors.Is(err, ledger.ErrTransactionNotFound):
		tx = provider.NewTransaction(req.Reference, req.Amount, req.Currency, req.Partner)
		if err := c.ledger.CreateTransaction(ctx, tx, checkoutOrders(req)); err != nil {
			return nil, fmt.Errorf("reconcile: create transaction: %w", err)
		}
		c.log.Info("transaction created", logger.LogContext{Reference: tx.Reference, Provider: provider.Code, Fields: map[string]any{
			"amount":   tx.Amount.StringFixed(2),
			"currency": tx.Currency,
		}})
	case err != nil:
		return nil, fmt.Errorf("reconcile: find transaction: %w", err)
	case tx.State == provider.StateDone:
		return nil, ErrAlreadyPaid
	case !tx.Amount.Equal(req.Amount) || tx.Currency != req.Currency:
		return nil, ErrAmountMismatch
	}

	session, err := c.gateway.CreateSession(ctx, tx, c.opts.ReturnBaseURL)
	if err != nil {
		c.log.Error("could not create gateway session", err, logger.LogContext{Reference: tx.Reference, Provider: provider.Code})
		return nil, err
	}

	_, err = c.ledger.UpdateLocked(ctx, provider.Code, tx.Reference, func(tx *provider.Transaction) error {
		tx.SetSessionID(session.SessionID)
		Apply(tx, provider.NotificationEvent{Status: provider.StatusPending, Reference: tx.Reference})
		return nil
	})
	if err != nil {
		c.log.Error("could not mark transaction pending", err, logger.LogContext{Reference: tx.Reference, Provider: provider.Code})
	}

	return &CheckoutResult{
		Reference:      tx.Reference,
		RedirectURL:    session.RedirectURL,
		PaymentMethods: montypay.DefaultPaymentMethods(),
	}, nil
}

func checkoutOrders(req CheckoutRequest) []provider.Order {
	names := req.Orders
	if len(names) == 0 {
		names = []string{req.Reference}
	}
	orders := make([]provider.Order, len(names))
	for i, name := range names {
		orders[i] = provider.Order{Name: name, State: provider.OrderDraft}
	}
	return orders
}

type auditEntry struct {
	opensearch.ReconciliationLog
}

func (c *Coordinator) newAudit(ctx context.Context, event provider.NotificationEvent, payload map[string]any) *auditEntry {
	raw, _ := json.Marshal(payload)
	return &auditEntry{opensearch.ReconciliationLog{
		Timestamp: time.Now().UTC(),
		EventID:   uuid.NewString(),
		RequestID: requestIDFrom(ctx),
		Reference: event.Reference,
		Provider:  provider.Code,
		Source:    string(event.Source),
		RawStatus: event.RawStatus,
		Status:    event.Status.String(),
		SessionID: event.SessionID,
		Payload:   string(raw),
	}}
}

func (a *auditEntry) fill(outcome *Outcome) {
	if outcome == nil {
		return
	}
	a.FromState = string(outcome.Transition.From)
	a.ToState = string(outcome.Transition.To)
	a.Changed = outcome.Transition.Changed
	a.Dropped = outcome.Transition.Dropped
	if a.Reason == "" {
		a.Reason = outcome.Transaction.LastFailureReason
	}

	report := outcome.Report
	if report == nil {
		return
	}
	fl := &opensearch.FulfillmentLog{
		LastOrderID: report.LastOrderID,
		DurationMs:  report.Duration.Milliseconds(),
	}
	for _, inv := range report.Invoices {
		fl.InvoiceIDs = append(fl.InvoiceIDs, inv.ID)
	}
	for _, step := range report.Steps {
		sl := opensearch.StepLog{Step: step.Step, Target: step.Target, OK: step.OK}
		if step.Err != nil {
			sl.Error = step.Err.Error()
		}
		fl.Steps = append(fl.Steps, sl)
	}
	a.Fulfillment = fl
}

func (c *Coordinator) record(ctx context.Context, audit *auditEntry) {
	if c.opts.Recorder == nil {
		return
	}
	if err := c.opts.Recorder.LogReconciliation(ctx, audit.ReconciliationLog); err != nil {
		c.log.Warn("could not record reconciliation event", logger.LogContext{
			Reference: audit.Reference,
			Provider:  provider.Code,
			Fields:    map[string]any{"error": err.Error()},
		})
	}
}

type requestIDKey struct{}

// WithRequestID stores the request id recorded on audit entries
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
