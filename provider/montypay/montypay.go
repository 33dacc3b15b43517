package montypay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mstgnz/montypay/infra/config"
	"github.com/mstgnz/montypay/infra/logger"
	"github.com/mstgnz/montypay/provider"
)

const (
	endpointSession = "/api/v1/session"

	operationPurchase = "purchase"

	// ReturnPath and CancelPath are where the gateway sends the shopper back,
	// WebhookPath receives its server-to-server notifications
	ReturnPath  = "/payment/montypay/return"
	CancelPath  = "/payment/montypay/cancel"
	WebhookPath = "/payment/montypay/webhook"

	fallbackValue   = "N/A"
	fallbackCountry = "US"
)

// Client creates payment sessions on the MontyPay gateway
type Client struct {
	config *config.MontyPayConfig
	client *provider.ProviderHTTPClient
	log    *logger.SystemLogger
}

// Session is the gateway answer to a session request
type Session struct {
	RedirectURL string `json:"redirect_url"`
	SessionID   string `json:"session_id,omitempty"`
}

type sessionRequest struct {
	MerchantKey    string         `json:"merchant_key"`
	Operation      string         `json:"operation"`
	SuccessURL     string         `json:"success_url"`
	CancelURL      string         `json:"cancel_url"`
	Hash           string         `json:"hash"`
	Order          orderBlock     `json:"order"`
	BillingAddress billingAddress `json:"billing_address"`
	Customer       customerBlock  `json:"customer"`
}

type orderBlock struct {
	Number      string `json:"number"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
}

type billingAddress struct {
	Country string `json:"country"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
	Zip     string `json:"zip,omitempty"`
}

type customerBlock struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// NewClient creates a gateway client for the given merchant configuration
func NewClient(cfg *config.MontyPayConfig, log *logger.SystemLogger) *Client {
	return &Client{
		config: cfg,
		client: provider.NewProviderHTTPClient(provider.CreateHTTPClientConfig(cfg.BaseURL, cfg.Timeout)),
		log:    log,
	}
}

// Supports reports whether the merchant account accepts currency
func (c *Client) Supports(currency string) bool {
	return c.config.Supports(currency)
}

// DefaultPaymentMethods returns the payment methods offered at checkout
func DefaultPaymentMethods() []string {
	return []string{"card"}
}

// OrderDescription is the description sent and hashed for a transaction
func OrderDescription(reference string) string {
	return "Order " + reference
}

// CreateSession asks the gateway for a hosted payment page for tx.
// It never retries: a second call could open a second charge context.
func (c *Client) CreateSession(ctx context.Context, tx *provider.Transaction, returnBaseURL string) (*Session, error) {
	logCtx := logger.LogContext{Reference: tx.Reference, Provider: provider.Code}

	req, err := c.buildSessionRequest(tx, returnBaseURL)
	if err != nil {
		c.log.Error("MontyPay is not configured", err, logCtx)
		return nil, err
	}

	c.log.Info("Creating MontyPay payment session", logCtx)

	resp, err := c.client.SendJSON(ctx, &provider.HTTPRequest{
		Method:   http.MethodPost,
		Endpoint: endpointSession,
		Body:     req,
	})
	if err != nil {
		gwErr := provider.NewGatewayCommunicationError(statusOf(resp), resp.String(), err)
		c.log.Error("MontyPay session request failed", gwErr, logCtx)
		return nil, gwErr
	}

	var body map[string]any
	if err := c.client.ParseJSONResponse(resp, &body); err != nil {
		gwErr := provider.NewGatewayCommunicationError(resp.StatusCode, resp.String(), fmt.Errorf("invalid JSON response: %w", err))
		c.log.Error("MontyPay session response unreadable", gwErr, logCtx)
		return nil, gwErr
	}

	session := &Session{
		RedirectURL: stringField(body, "redirect_url"),
		SessionID:   firstString(body, "session_id", "id"),
	}
	if session.RedirectURL == "" {
		gwErr := provider.NewGatewayCommunicationError(resp.StatusCode, resp.String(), errors.New("response lacks redirect_url"))
		c.log.Error("Invalid response from MontyPay API", gwErr, logCtx)
		return nil, gwErr
	}

	c.log.Info("MontyPay session created", logger.LogContext{
		Reference: tx.Reference,
		Provider:  provider.Code,
		Fields:    map[string]any{"session_id": session.SessionID},
	})
	return session, nil
}

func (c *Client) buildSessionRequest(tx *provider.Transaction, returnBaseURL string) (*sessionRequest, error) {
	if c.config.MerchantKey == "" {
		return nil, &provider.ConfigurationError{Field: "MONTYPAY_MERCHANT_KEY"}
	}

	order := orderBlock{
		Number:      tx.Reference,
		Amount:      FormatAmount(tx.Amount),
		Currency:    tx.Currency,
		Description: OrderDescription(tx.Reference),
	}

	hash, err := Sign(order.Number, order.Amount, order.Currency, order.Description, c.config.MerchantPass)
	if err != nil {
		return nil, err
	}

	base := strings.TrimSuffix(returnBaseURL, "/")
	partner := tx.Partner

	return &sessionRequest{
		MerchantKey: c.config.MerchantKey,
		Operation:   operationPurchase,
		SuccessURL:  base + ReturnPath,
		CancelURL:   base + CancelPath,
		Hash:        hash,
		Order:       order,
		BillingAddress: billingAddress{
			Country: orDefault(strings.ToUpper(partner.CountryCode), fallbackCountry),
			Address: orDefault(partner.Address, fallbackValue),
			Phone:   orDefault(partner.Phone, fallbackValue),
			Zip:     strings.TrimSpace(partner.Zip),
		},
		Customer: customerBlock{
			Email: orDefault(partner.Email, fallbackValue),
			Name:  orDefault(partner.Name, fallbackValue),
		},
	}, nil
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func statusOf(resp *provider.HTTPResponse) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}
