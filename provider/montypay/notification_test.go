package montypay

import (
	"encoding/json"
	"testing"

	"github.com/mstgnz/montypay/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		raw  string
		want provider.NormalizedStatus
	}{
		{"SUCCESS", provider.StatusSuccess},
		{"approved", provider.StatusSuccess},
		{"Pending", provider.StatusPending},
		{"processing", provider.StatusPending},
		{"in_progress", provider.StatusPending},
		{"authorized", provider.StatusAuthorized},
		{"failed", provider.StatusFailed},
		{"DECLINED", provider.StatusFailed},
		{"error", provider.StatusFailed},
		{"authentication_failed", provider.StatusFailed},
		{"cancelled", provider.StatusCancelled},
		{"canceled", provider.StatusCancelled},
		{" success ", provider.StatusSuccess},
		{"refunded", provider.StatusUnknown},
		{"", provider.StatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeStatus(tt.raw))
		})
	}
}

func TestNormalize_ReferencePrecedence(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		want    string
	}{
		{
			name:    "reference wins over order_number",
			payload: map[string]any{"reference": "REF-A", "order_number": "REF-B", "order": map[string]any{"number": "REF-C"}},
			want:    "REF-A",
		},
		{
			name:    "order_number wins over nested order",
			payload: map[string]any{"order_number": "REF-B", "order": map[string]any{"number": "REF-C"}},
			want:    "REF-B",
		},
		{
			name:    "nested order number",
			payload: map[string]any{"order": map[string]any{"number": "REF-C"}},
			want:    "REF-C",
		},
		{
			name:    "flattened form key",
			payload: map[string]any{"order[number]": "REF-D"},
			want:    "REF-D",
		},
		{
			name:    "dotted form key",
			payload: map[string]any{"order.number": "REF-E"},
			want:    "REF-E",
		},
		{
			name:    "key casing is ignored",
			payload: map[string]any{"Reference": "REF-F"},
			want:    "REF-F",
		},
		{
			name:    "numeric reference",
			payload: map[string]any{"order_number": float64(10045)},
			want:    "10045",
		},
		{
			name:    "empty reference falls through",
			payload: map[string]any{"reference": "  ", "order_number": "REF-G"},
			want:    "REF-G",
		},
		{
			name:    "missing",
			payload: map[string]any{"status": "success"},
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := Normalize(provider.SourceWebhook, tt.payload)
			assert.Equal(t, tt.want, event.Reference)
			assert.Equal(t, tt.want != "", event.Resolvable())
		})
	}
}

func TestNormalize_CaseVariantKeys(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		want    string
	}{
		{"lower-case key wins", map[string]any{"reference": "A", "REFERENCE": "B", "Reference": "C"}, "A"},
		{"variants resolve in sorted order", map[string]any{"Reference": "C", "REFERENCE": "B"}, "B"},
		{"single variant", map[string]any{"Order_Number": "S7"}, "S7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 200; i++ {
				require.Equal(t, tt.want, Normalize(provider.SourceWebhook, tt.payload).Reference)
			}
		})
	}
}

func TestNormalize_Webhook(t *testing.T) {
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": "sess-9",
		"status": "DECLINED",
		"error_description": "Insufficient funds",
		"hash": "abc",
		"order": {"number": "T1", "amount": "19.99", "currency": "USD", "description": "Order T1"}
	}`), &payload))

	event := Normalize(provider.SourceWebhook, payload)

	assert.Equal(t, provider.SourceWebhook, event.Source)
	assert.Equal(t, "T1", event.Reference)
	assert.Equal(t, "declined", event.RawStatus)
	assert.Equal(t, provider.StatusFailed, event.Status)
	assert.Equal(t, "sess-9", event.SessionID)
	assert.Equal(t, "Insufficient funds", event.Reason)
	assert.Equal(t, "abc", event.Signature)
	assert.Equal(t, provider.SignedOrder{Number: "T1", Amount: "19.99", Currency: "USD", Description: "Order T1"}, event.Order)
}

func TestNormalize_ReasonPrecedence(t *testing.T) {
	event := Normalize(provider.SourceBrowserReturn, map[string]any{
		"reference":     "T1",
		"status":        "failed",
		"message":       "second",
		"error_message": "fourth",
	})
	assert.Equal(t, "second", event.Reason)

	event = Normalize(provider.SourceBrowserReturn, map[string]any{
		"reference": "T1",
		"reason":    "first",
		"message":   "second",
	})
	assert.Equal(t, "first", event.Reason)
}

func TestNormalize_SessionIDPrecedence(t *testing.T) {
	event := Normalize(provider.SourceWebhook, map[string]any{"session_id": "s-1", "id": "s-2"})
	assert.Equal(t, "s-1", event.SessionID)
}

func TestNormalize_BrowserCancelForcesCancelled(t *testing.T) {
	event := Normalize(provider.SourceBrowserCancel, map[string]any{"reference": "T1", "status": "success"})

	assert.Equal(t, provider.StatusCancelled, event.Status)
	assert.Equal(t, "success", event.RawStatus)
}

func TestNormalize_FlatOrderFields(t *testing.T) {
	event := Normalize(provider.SourceWebhook, map[string]any{
		"reference":   "T2",
		"amount":      "5.00",
		"currency":    "EUR",
		"description": "Order T2",
		"signature":   "def",
	})

	assert.Equal(t, provider.SignedOrder{Number: "T2", Amount: "5.00", Currency: "EUR", Description: "Order T2"}, event.Order)
	assert.Equal(t, "def", event.Signature)
}

func TestNormalize_FormValues(t *testing.T) {
	event := Normalize(provider.SourceBrowserReturn, map[string]any{
		"order_number": []string{"T3", "ignored"},
		"status":       []string{"Pending"},
	})

	assert.Equal(t, "T3", event.Reference)
	assert.Equal(t, provider.StatusPending, event.Status)
}
