package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/mstgnz/montypay/infra/logger"
	"github.com/mstgnz/montypay/infra/opensearch"
	"github.com/mstgnz/montypay/infra/response"
	"github.com/mstgnz/montypay/ledger"
	"github.com/mstgnz/montypay/provider"
	"github.com/mstgnz/montypay/reconcile"
	"github.com/shopspring/decimal"
)

// LastOrderCookie carries the confirmed order id to the confirmation page
const LastOrderCookie = "montypay_last_order_id"

const requestTimeout = 30 * time.Second

// Reconciler is the reconciliation surface the HTTP layer drives
type Reconciler interface {
	HandleWebhook(ctx context.Context, payload map[string]any) (reconcile.WebhookAck, error)
	HandleReturn(ctx context.Context, payload map[string]any) reconcile.Redirect
	HandleCancel(ctx context.Context, payload map[string]any) reconcile.Redirect
	StartCheckout(ctx context.Context, req reconcile.CheckoutRequest) (*reconcile.CheckoutResult, error)
}

// EventSearcher reads the reconciliation audit trail
type EventSearcher interface {
	SearchReconciliation(ctx context.Context, reference string, size int) ([]opensearch.ReconciliationLog, error)
}

// MontyPayHandler serves the gateway callbacks and the checkout API
type MontyPayHandler struct {
	reconciler Reconciler
	ledger     ledger.Ledger
	events     EventSearcher
	validate   *validator.Validate
	log        *logger.SystemLogger
}

// NewMontyPayHandler creates the handler. events may be nil when the audit
// trail is not indexed.
func NewMontyPayHandler(reconciler Reconciler, l ledger.Ledger, events EventSearcher, validate *validator.Validate, log *logger.SystemLogger) *MontyPayHandler {
	return &MontyPayHandler{
		reconciler: reconciler,
		ledger:     l,
		events:     events,
		validate:   validate,
		log:        log,
	}
}

// CheckoutRequest is the storefront's request to pay for a transaction
type CheckoutRequest struct {
	Reference string           `json:"reference" validate:"omitempty,reference"`
	Amount    decimal.Decimal  `json:"amount" validate:"amount"`
	Currency  string           `json:"currency" validate:"required,len=3"`
	Partner   provider.Partner `json:"partner"`
	Orders    []string         `json:"orders" validate:"omitempty,dive,required,max=64"`
}

// TransactionView is the ops view of one transaction
type TransactionView struct {
	*provider.Transaction
	Orders   []provider.Order   `json:"orders"`
	Invoices []provider.Invoice `json:"invoices"`
}

// Webhook handles the server-to-server notification
func (h *MontyPayHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	payload, err := readPayload(r)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid notification body", err)
		return
	}

	ack, err := h.reconciler.HandleWebhook(ctx, payload)
	switch {
	case errors.Is(err, reconcile.ErrSignatureMismatch):
		response.Error(w, http.StatusUnauthorized, "Invalid webhook signature", nil)
		return
	case err != nil:
		h.log.Error("webhook processing failed", err, logger.LogContext{
			Provider:  provider.Code,
			RequestID: middleware.GetReqID(r.Context()),
		})
		response.Error(w, http.StatusInternalServerError, "Notification could not be processed", nil)
		return
	}

	_ = response.WriteJSON(w, http.StatusOK, ack)
}

// Return handles the shopper coming back from the hosted payment page
func (h *MontyPayHandler) Return(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	redirect := h.reconciler.HandleReturn(ctx, h.browserPayload(r))
	h.redirect(w, r, redirect)
}

// Cancel handles the shopper leaving the hosted payment page
func (h *MontyPayHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	redirect := h.reconciler.HandleCancel(ctx, h.browserPayload(r))
	h.redirect(w, r, redirect)
}

// Checkout opens a hosted payment session for the storefront
func (h *MontyPayHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, http.StatusBadRequest, "Validation error", err)
		return
	}

	result, err := h.reconciler.StartCheckout(ctx, reconcile.CheckoutRequest{
		Reference: req.Reference,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Partner:   req.Partner,
		Orders:    req.Orders,
	})
	if err != nil {
		h.checkoutError(w, err)
		return
	}

	response.Success(w, http.StatusOK, "Checkout session created", result)
}

func (h *MontyPayHandler) checkoutError(w http.ResponseWriter, err error) {
	var gatewayErr *provider.GatewayCommunicationError
	switch {
	case errors.As(err, &gatewayErr):
		response.Error(w, http.StatusBadGateway, gatewayErr.UserMessage(), nil)
	case errors.Is(err, provider.ErrConfiguration):
		response.Error(w, http.StatusInternalServerError, "Payment method unavailable", nil)
	case errors.Is(err, reconcile.ErrUnsupportedCurrency):
		response.Error(w, http.StatusBadRequest, "Currency not supported", err)
	case errors.Is(err, reconcile.ErrAlreadyPaid):
		response.Error(w, http.StatusConflict, "Transaction already paid", nil)
	case errors.Is(err, reconcile.ErrAmountMismatch):
		response.Error(w, http.StatusConflict, "Checkout does not match the existing transaction", nil)
	default:
		h.log.Error("checkout failed", err, logger.LogContext{Provider: provider.Code})
		response.Error(w, http.StatusInternalServerError, "Checkout failed", nil)
	}
}

// TransactionStatus returns the authoritative state of a transaction
func (h *MontyPayHandler) TransactionStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	reference := chi.URLParam(r, "reference")
	if reference == "" {
		response.Error(w, http.StatusBadRequest, "Missing reference", nil)
		return
	}

	tx, err := h.ledger.FindTransaction(ctx, provider.Code, reference)
	if errors.Is(err, ledger.ErrTransactionNotFound) {
		response.Error(w, http.StatusNotFound, "Transaction not found", nil)
		return
	}
	if err != nil {
		h.log.Error("transaction lookup failed", err, logger.LogContext{Reference: reference, Provider: provider.Code})
		response.Error(w, http.StatusInternalServerError, "Failed to load transaction", nil)
		return
	}

	orders, err := h.ledger.OrdersOf(ctx, tx)
	if err != nil {
		h.log.Error("order lookup failed", err, logger.LogContext{Reference: reference, Provider: provider.Code})
		response.Error(w, http.StatusInternalServerError, "Failed to load orders", nil)
		return
	}
	invoices, err := h.ledger.InvoicesOf(ctx, orders)
	if err != nil {
		h.log.Error("invoice lookup failed", err, logger.LogContext{Reference: reference, Provider: provider.Code})
		response.Error(w, http.StatusInternalServerError, "Failed to load invoices", nil)
		return
	}

	response.Success(w, http.StatusOK, "Transaction retrieved", TransactionView{
		Transaction: tx,
		Orders:      orders,
		Invoices:    invoices,
	})
}

// Events returns the reconciliation audit trail of a transaction
func (h *MontyPayHandler) Events(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	if h.events == nil {
		response.Error(w, http.StatusServiceUnavailable, "Event logging is disabled", nil)
		return
	}

	reference := chi.URLParam(r, "reference")
	size := 50
	if raw := r.URL.Query().Get("size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			response.Error(w, http.StatusBadRequest, "Invalid size", nil)
			return
		}
		size = parsed
	}

	events, err := h.events.SearchReconciliation(ctx, reference, size)
	if errors.Is(err, opensearch.ErrLoggingDisabled) {
		response.Error(w, http.StatusServiceUnavailable, "Event logging is disabled", nil)
		return
	}
	if err != nil {
		h.log.Error("event search failed", err, logger.LogContext{Reference: reference, Provider: provider.Code})
		response.Error(w, http.StatusInternalServerError, "Failed to load events", nil)
		return
	}

	response.Success(w, http.StatusOK, "Events retrieved", map[string]any{
		"reference": reference,
		"count":     len(events),
		"events":    events,
	})
}

func (h *MontyPayHandler) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx := reconcile.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
	return context.WithTimeout(ctx, requestTimeout)
}

func (h *MontyPayHandler) redirect(w http.ResponseWriter, r *http.Request, redirect reconcile.Redirect) {
	if redirect.LastOrderID != 0 {
		http.SetCookie(w, &http.Cookie{
			Name:     LastOrderCookie,
			Value:    strconv.FormatInt(redirect.LastOrderID, 10),
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	http.Redirect(w, r, redirect.Location, http.StatusFound)
}

// browserPayload merges query and body values. An unreadable body still
// yields a redirect, built from the query alone.
func (h *MontyPayHandler) browserPayload(r *http.Request) map[string]any {
	payload := make(map[string]any)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			payload[key] = values[0]
		}
	}

	body, err := readPayload(r)
	if err != nil {
		h.log.Warn("browser callback body ignored", logger.LogContext{
			Provider: provider.Code,
			Fields:   map[string]any{"error": err.Error()},
		})
		return payload
	}
	for key, value := range body {
		payload[key] = value
	}
	return payload
}

// readPayload decodes a form or JSON body into a flat map. An empty body is
// an empty payload.
func readPayload(r *http.Request) (map[string]any, error) {
	payload := make(map[string]any)
	if r.Body == nil || r.Method == http.MethodGet {
		return payload, nil
	}

	if strings.Contains(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		for key, values := range r.PostForm {
			if len(values) > 0 {
				payload[key] = values[0]
			}
		}
		return payload, nil
	}

	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&payload); err != nil {
		if errors.Is(err, io.EOF) {
			return payload, nil
		}
		return nil, err
	}
	return payload, nil
}
