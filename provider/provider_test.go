package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTransaction(t *testing.T) {
	tx := NewTransaction("T1", decimal.RequireFromString("19.99"), "usd", Partner{Name: "Jane"})

	assert.Equal(t, "T1", tx.Reference)
	assert.Equal(t, Code, tx.ProviderCode)
	assert.Equal(t, "USD", tx.Currency)
	assert.Equal(t, StateDraft, tx.State)
	assert.False(t, tx.FulfillmentAttempted)
	assert.True(t, tx.Amount.Equal(decimal.RequireFromString("19.99")))
	assert.False(t, tx.CreatedAt.IsZero())
}

func TestTransaction_SetSessionID(t *testing.T) {
	tx := NewTransaction("T1", decimal.Zero, "USD", Partner{})

	assert.False(t, tx.SetSessionID(""))
	assert.True(t, tx.SetSessionID("sess-1"))
	assert.False(t, tx.SetSessionID("sess-2"))
	assert.Equal(t, "sess-1", tx.GatewaySessionID)
}

func TestTransactionState(t *testing.T) {
	tests := []struct {
		state    TransactionState
		terminal bool
		valid    bool
	}{
		{StateDraft, false, true},
		{StatePending, false, true},
		{StateAuthorized, false, true},
		{StateDone, true, true},
		{StateError, true, true},
		{StateCancelled, true, true},
		{TransactionState("refunded"), false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.state.IsTerminal())
			assert.Equal(t, tt.valid, tt.state.Valid())
		})
	}
}

func TestOrderState_NeedsConfirmation(t *testing.T) {
	assert.True(t, OrderDraft.NeedsConfirmation())
	assert.True(t, OrderSent.NeedsConfirmation())
	assert.False(t, OrderConfirmed.NeedsConfirmation())
	assert.False(t, OrderCancelled.NeedsConfirmation())
}

func TestNotificationEvent_Resolvable(t *testing.T) {
	assert.False(t, NotificationEvent{}.Resolvable())
	assert.True(t, NotificationEvent{Reference: "T1"}.Resolvable())
	assert.Equal(t, "unknown", StatusUnknown.String())
	assert.Equal(t, "cancelled", StatusCancelled.String())
}

func TestErrors(t *testing.T) {
	t.Run("configuration", func(t *testing.T) {
		err := error(&ConfigurationError{Field: "merchant pass"})
		assert.True(t, errors.Is(err, ErrConfiguration))
		assert.Contains(t, err.Error(), "merchant pass")
	})

	t.Run("gateway truncates body", func(t *testing.T) {
		body := strings.Repeat("x", 2000)
		gwErr := NewGatewayCommunicationError(http.StatusBadGateway, body, errors.New("HTTP error 502"))

		assert.Len(t, gwErr.Body, maxErrorBody)
		assert.Equal(t, http.StatusBadGateway, gwErr.StatusCode)
		assert.True(t, errors.Is(gwErr, ErrGatewayCommunication))
		assert.NotContains(t, gwErr.UserMessage(), "502")
	})

	t.Run("gateway truncation keeps runes whole", func(t *testing.T) {
		body := "x" + strings.Repeat("é", 600)
		gwErr := NewGatewayCommunicationError(http.StatusBadGateway, body, nil)

		assert.True(t, utf8.ValidString(gwErr.Body))
		assert.Len(t, gwErr.Body, maxErrorBody-1)
		assert.True(t, strings.HasPrefix(body, gwErr.Body))
	})

	t.Run("unresolved reference", func(t *testing.T) {
		err := error(&UnresolvedReferenceError{})
		assert.True(t, errors.Is(err, ErrUnresolvedReference))
		assert.Contains(t, err.Error(), "missing reference")

		var unresolved *UnresolvedReferenceError
		require.True(t, errors.As(err, &unresolved))
	})

	t.Run("fulfillment step keeps cause", func(t *testing.T) {
		cause := errors.New("locked period")
		err := error(&FulfillmentStepError{Step: "post_invoices", Err: cause})
		assert.True(t, errors.Is(err, ErrFulfillmentStep))
		assert.True(t, errors.Is(err, cause))
	})
}

func TestProviderHTTPClient_SendJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/session", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "MontyPay-Reconciler/1.0", r.Header.Get("User-Agent"))

		raw, _ := io.ReadAll(r.Body)
		var body map[string]string
		assert.NoError(t, json.Unmarshal(raw, &body))
		assert.Equal(t, "purchase", body["operation"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"redirect_url":"https://pay.example/abc"}`))
	}))
	defer server.Close()

	client := NewProviderHTTPClient(CreateHTTPClientConfig(server.URL, time.Second))
	resp, err := client.SendJSON(context.Background(), &HTTPRequest{
		Method:   http.MethodPost,
		Endpoint: "/api/v1/session",
		Body:     map[string]string{"operation": "purchase"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var parsed map[string]string
	require.NoError(t, client.ParseJSONResponse(resp, &parsed))
	assert.Equal(t, "https://pay.example/abc", parsed["redirect_url"])
}

func TestProviderHTTPClient_Non2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"invalid hash"}`))
	}))
	defer server.Close()

	client := NewProviderHTTPClient(CreateHTTPClientConfig(server.URL, time.Second))
	resp, err := client.SendJSON(context.Background(), &HTTPRequest{Method: http.MethodPost, Endpoint: "api/v1/session"})

	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, resp.String(), "invalid hash")
}

func TestProviderHTTPClient_QueryParams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("debug"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewProviderHTTPClient(CreateHTTPClientConfig(server.URL+"/", 0))
	resp, err := client.SendJSON(context.Background(), &HTTPRequest{
		Method:      http.MethodGet,
		Endpoint:    "/status",
		QueryParams: map[string]string{"debug": "1"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestJoinURL(t *testing.T) {
	tests := []struct {
		base, endpoint, want string
	}{
		{"https://checkout.montypay.com", "/api/v1/session", "https://checkout.montypay.com/api/v1/session"},
		{"https://checkout.montypay.com/", "/api/v1/session", "https://checkout.montypay.com/api/v1/session"},
		{"https://checkout.montypay.com", "api/v1/session", "https://checkout.montypay.com/api/v1/session"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, joinURL(tt.base, tt.endpoint))
	}
}
