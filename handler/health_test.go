package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mstgnz/montypay/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func okConfig() error { return nil }

func TestHealthHandler_CheckHealth(t *testing.T) {
	down := pingFunc(func(ctx context.Context) error { return errors.New("connection refused") })

	tests := []struct {
		name          string
		ledger        Pinger
		search        Pinger
		gatewayConfig func() error
		wantCode      int
		wantStatus    string
	}{
		{
			name:          "all healthy",
			ledger:        ledger.NewMemoryStore(),
			search:        pingFunc(func(ctx context.Context) error { return nil }),
			gatewayConfig: okConfig,
			wantCode:      http.StatusOK,
			wantStatus:    "healthy",
		},
		{
			name:          "opensearch disabled",
			ledger:        ledger.NewMemoryStore(),
			gatewayConfig: okConfig,
			wantCode:      http.StatusOK,
			wantStatus:    "healthy",
		},
		{
			name:          "opensearch down",
			ledger:        ledger.NewMemoryStore(),
			search:        down,
			gatewayConfig: okConfig,
			wantCode:      http.StatusOK,
			wantStatus:    "degraded",
		},
		{
			name:          "ledger down",
			ledger:        down,
			gatewayConfig: okConfig,
			wantCode:      http.StatusServiceUnavailable,
			wantStatus:    "unhealthy",
		},
		{
			name:          "merchant credentials missing",
			ledger:        ledger.NewMemoryStore(),
			gatewayConfig: func() error { return errors.New("merchant_key is not configured") },
			wantCode:      http.StatusServiceUnavailable,
			wantStatus:    "unhealthy",
		},
		{
			name:       "nothing configured",
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.ledger, tt.search, tt.gatewayConfig, "1.2.3", "test")

			w := httptest.NewRecorder()
			h.CheckHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var resp struct {
				Success bool         `json:"success"`
				Data    HealthStatus `json:"data"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantStatus, resp.Data.Status)
			assert.Equal(t, tt.wantCode == http.StatusOK, resp.Success)
			assert.Equal(t, "1.2.3", resp.Data.Version)
			assert.Equal(t, "test", resp.Data.Environment)
			assert.Positive(t, resp.Data.System.GoRoutines)
			assert.Len(t, resp.Data.Services, 3)
		})
	}
}

func TestHealthHandler_ServiceDetail(t *testing.T) {
	h := NewHealthHandler(pingFunc(func(ctx context.Context) error { return errors.New("database is locked") }), nil, okConfig, "", "")

	w := httptest.NewRecorder()
	h.CheckHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp struct {
		Data HealthStatus `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	ledgerHealth := resp.Data.Services["ledger"]
	require.NotNil(t, ledgerHealth)
	assert.Equal(t, "unhealthy", ledgerHealth.Status)
	assert.Equal(t, "database is locked", ledgerHealth.Error)
	assert.True(t, ledgerHealth.Critical)
	assert.Equal(t, "not_configured", resp.Data.Services["opensearch"].Status)
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatBytes(tt.in))
	}
}
