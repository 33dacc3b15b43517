package montypay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mstgnz/montypay/infra/config"
	"github.com/mstgnz/montypay/infra/logger"
	"github.com/mstgnz/montypay/provider"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(baseURL string) *config.MontyPayConfig {
	return &config.MontyPayConfig{
		MerchantKey:         "merchant-key",
		MerchantPass:        "secret",
		Environment:         "sandbox",
		BaseURL:             baseURL,
		SupportedCurrencies: []string{"USD", "EUR", "GBP"},
		Timeout:             2 * time.Second,
	}
}

func testTransaction() *provider.Transaction {
	return provider.NewTransaction("T1", decimal.RequireFromString("19.99"), "USD", provider.Partner{})
}

func TestClient_CreateSession(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/session", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"redirect_url":"https://checkout.montypay.com/pay/abc","session_id":"sess-42"}`))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), logger.NewNop())
	session, err := client.CreateSession(context.Background(), testTransaction(), "https://shop.example.com/")

	require.NoError(t, err)
	assert.Equal(t, "https://checkout.montypay.com/pay/abc", session.RedirectURL)
	assert.Equal(t, "sess-42", session.SessionID)

	require.NotNil(t, captured)
	assert.Equal(t, "merchant-key", captured["merchant_key"])
	assert.Equal(t, "purchase", captured["operation"])
	assert.Equal(t, "https://shop.example.com/payment/montypay/return", captured["success_url"])
	assert.Equal(t, "https://shop.example.com/payment/montypay/cancel", captured["cancel_url"])
	assert.Equal(t, "7dc90ca79d9e6ba65c5727f873367a4c53e405a3", captured["hash"])

	order := captured["order"].(map[string]any)
	assert.Equal(t, "T1", order["number"])
	assert.Equal(t, "19.99", order["amount"])
	assert.Equal(t, "USD", order["currency"])
	assert.Equal(t, "Order T1", order["description"])

	billing := captured["billing_address"].(map[string]any)
	assert.Equal(t, "US", billing["country"])
	assert.Equal(t, "N/A", billing["address"])
	assert.Equal(t, "N/A", billing["phone"])
	_, hasZip := billing["zip"]
	assert.False(t, hasZip, "zip is only sent when known")

	customer := captured["customer"].(map[string]any)
	assert.Equal(t, "N/A", customer["email"])
	assert.Equal(t, "N/A", customer["name"])
}

func TestClient_CreateSession_PartnerProfile(t *testing.T) {
	var captured sessionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(`{"redirect_url":"https://pay.example/x"}`))
	}))
	defer server.Close()

	tx := testTransaction()
	tx.Partner = provider.Partner{
		Name:        "Jane Doe",
		Email:       "jane@example.com",
		Phone:       "+15550100",
		Address:     "1 Main St",
		Zip:         "10001",
		CountryCode: "ca",
	}

	client := NewClient(testConfig(server.URL), logger.NewNop())
	_, err := client.CreateSession(context.Background(), tx, "https://shop.example.com")
	require.NoError(t, err)

	assert.Equal(t, billingAddress{Country: "CA", Address: "1 Main St", Phone: "+15550100", Zip: "10001"}, captured.BillingAddress)
	assert.Equal(t, customerBlock{Email: "jane@example.com", Name: "Jane Doe"}, captured.Customer)
}

func TestClient_CreateSession_Failures(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
		wantBody   string
	}{
		{"server error", http.StatusInternalServerError, `{"error":"maintenance"}`, http.StatusInternalServerError, "maintenance"},
		{"rejected request", http.StatusUnprocessableEntity, `{"error":"hash mismatch"}`, http.StatusUnprocessableEntity, "hash mismatch"},
		{"missing redirect_url", http.StatusOK, `{"result":"ok"}`, http.StatusOK, `"result"`},
		{"not json", http.StatusOK, `<html>oops</html>`, http.StatusOK, "oops"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(testConfig(server.URL), logger.NewNop())
			session, err := client.CreateSession(context.Background(), testTransaction(), "https://shop.example.com")

			assert.Nil(t, session)
			require.Error(t, err)
			assert.True(t, errors.Is(err, provider.ErrGatewayCommunication))

			var gwErr *provider.GatewayCommunicationError
			require.True(t, errors.As(err, &gwErr))
			assert.Equal(t, tt.wantStatus, gwErr.StatusCode)
			assert.Contains(t, gwErr.Body, tt.wantBody)
			assert.Equal(t, "Unable to create payment session. Please try again.", gwErr.UserMessage())
		})
	}
}

func TestClient_CreateSession_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClient(testConfig(url), logger.NewNop())
	_, err := client.CreateSession(context.Background(), testTransaction(), "https://shop.example.com")

	var gwErr *provider.GatewayCommunicationError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, 0, gwErr.StatusCode)
}

func TestClient_CreateSession_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	cfg := testConfig(server.URL)
	cfg.Timeout = 50 * time.Millisecond

	client := NewClient(cfg, logger.NewNop())
	_, err := client.CreateSession(context.Background(), testTransaction(), "https://shop.example.com")
	assert.True(t, errors.Is(err, provider.ErrGatewayCommunication))
}

func TestClient_CreateSession_Configuration(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()

	tests := []struct {
		name   string
		mutate func(c *config.MontyPayConfig)
		field  string
	}{
		{"missing merchant key", func(c *config.MontyPayConfig) { c.MerchantKey = "" }, "MONTYPAY_MERCHANT_KEY"},
		{"missing merchant pass", func(c *config.MontyPayConfig) { c.MerchantPass = "" }, "MONTYPAY_MERCHANT_PASS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(server.URL)
			tt.mutate(cfg)

			_, err := NewClient(cfg, logger.NewNop()).CreateSession(context.Background(), testTransaction(), "https://shop.example.com")

			var cfgErr *provider.ConfigurationError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
	assert.Zero(t, calls, "no request is sent without credentials")
}

func TestClient_Metadata(t *testing.T) {
	client := NewClient(testConfig("https://checkout.montypay.com"), logger.NewNop())

	assert.True(t, client.Supports("USD"))
	assert.True(t, client.Supports("gbp"))
	assert.False(t, client.Supports("JPY"))

	assert.Equal(t, []string{"card"}, DefaultPaymentMethods())
	assert.True(t, strings.HasPrefix(OrderDescription("S1"), "Order "))
}
