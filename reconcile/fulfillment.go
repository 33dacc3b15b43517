package reconcile

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/mstgnz/montypay/infra/logger"
	"github.com/mstgnz/montypay/ledger"
	"github.com/mstgnz/montypay/provider"
)

// Fulfillment steps
const (
	StepLoadOrders     = "load_orders"
	StepConfirmOrder   = "confirm_order"
	StepCreateInvoices = "create_invoices"
	StepPostInvoices   = "post_invoices"
)

// StepResult is the outcome of one fulfillment step
type StepResult struct {
	Step   string `json:"step"`
	Target string `json:"target,omitempty"`
	OK     bool   `json:"ok"`
	Err    error  `json:"-"`
}

// FulfillmentReport lists every step the cascade attempted for a transaction
type FulfillmentReport struct {
	Reference   string
	Steps       []StepResult
	Invoices    []provider.Invoice
	LastOrderID int64
	Duration    time.Duration
}

// Failures returns the failed steps
func (r *FulfillmentReport) Failures() []StepResult {
	if r == nil {
		return nil
	}
	var failed []StepResult
	for _, step := range r.Steps {
		if !step.OK {
			failed = append(failed, step)
		}
	}
	return failed
}

// Err joins the step errors, nil when every step succeeded
func (r *FulfillmentReport) Err() error {
	var errs []error
	for _, step := range r.Failures() {
		errs = append(errs, step.Err)
	}
	return errors.Join(errs...)
}

func (r *FulfillmentReport) record(step, target string, err error) {
	result := StepResult{Step: step, Target: target, OK: err == nil}
	if err != nil {
		result.Err = &provider.FulfillmentStepError{Step: step, Target: target, Err: err}
	}
	r.Steps = append(r.Steps, result)
}

// Cascade confirms the orders of a paid transaction and invoices them.
// Every step is attempted independently and failures end up in the report.
type Cascade struct {
	book ledger.OrderBook
	log  *logger.SystemLogger
}

// NewCascade creates a cascade over the given order book
func NewCascade(book ledger.OrderBook, log *logger.SystemLogger) *Cascade {
	return &Cascade{book: book, log: log}
}

// Run fulfills tx. It must only be called by the holder of the fulfillment claim.
func (c *Cascade) Run(ctx context.Context, tx *provider.Transaction) *FulfillmentReport {
	start := time.Now()
	report := &FulfillmentReport{Reference: tx.Reference}
	defer func() { report.Duration = time.Since(start) }()

	log := c.log.WithContext(logger.LogContext{
		Reference: tx.Reference,
		Provider:  tx.ProviderCode,
		RequestID: requestIDFrom(ctx),
	})

	orders, err := c.book.OrdersOf(ctx, tx)
	if err != nil {
		report.record(StepLoadOrders, "", err)
		log.Error("could not load orders", err)
		return report
	}
	if len(orders) == 0 {
		log.Info("no orders linked to transaction")
		return report
	}
	report.LastOrderID = orders[0].ID

	for _, order := range orders {
		orderLog := log.AddField("order_id", order.ID).AddField("order", order.Name)
		if !order.State.NeedsConfirmation() {
			orderLog.Debug("order already confirmed")
			continue
		}
		err := c.book.ConfirmOrder(ctx, order)
		report.record(StepConfirmOrder, orderTarget(order), err)
		if err != nil {
			orderLog.Error("could not confirm order", err)
		}
	}

	invoices, err := c.book.CreateInvoices(ctx, orders)
	report.record(StepCreateInvoices, "", err)
	if err != nil {
		log.Error("could not create invoices", err)
		return report
	}
	report.Invoices = invoices
	if len(invoices) == 0 {
		return report
	}

	err = c.book.PostInvoices(ctx, invoices)
	report.record(StepPostInvoices, "", err)
	if err != nil {
		log.Error("could not post invoices", err)
		return report
	}
	for i := range report.Invoices {
		report.Invoices[i].State = provider.InvoicePosted
	}

	return report
}

func orderTarget(order provider.Order) string {
	if order.Name != "" {
		return order.Name
	}
	return strconv.FormatInt(order.ID, 10)
}
