package config

import (
	"errors"
	"testing"
	"time"

	"github.com/mstgnz/montypay/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApp(t *testing.T) {
	config1 := App()
	config2 := App()

	require.NotNil(t, config1)
	assert.Same(t, config1, config2, "App() should return singleton instance")
	assert.NotNil(t, config1.Validator, "Validator should be initialized")
}

func TestLoadAppConfig(t *testing.T) {
	tests := []struct {
		name     string
		env      map[string]string
		validate func(t *testing.T, cfg *AppConfig)
	}{
		{
			name: "defaults",
			env:  map[string]string{},
			validate: func(t *testing.T, cfg *AppConfig) {
				assert.Equal(t, "9999", cfg.Port)
				assert.Equal(t, "sqlite", cfg.LedgerDriver)
				assert.Equal(t, "/shop/confirmation", cfg.ShopConfirmationPath)
				assert.Equal(t, "/shop/payment", cfg.ShopPaymentPath)
				assert.False(t, cfg.EnableLogging)
				assert.Equal(t, 100, cfg.RateLimitPerMinute)
				assert.Nil(t, cfg.IPWhitelist)
			},
		},
		{
			name: "custom values",
			env: map[string]string{
				"APP_PORT":                  "8080",
				"APP_URL":                   "https://shop.example.com/",
				"LEDGER_DRIVER":             "postgres",
				"ENABLE_OPENSEARCH_LOGGING": "true",
				"RATE_LIMIT_PER_MINUTE":     "20",
				"IP_WHITELIST":              "10.0.0.1, ,10.0.0.2",
			},
			validate: func(t *testing.T, cfg *AppConfig) {
				assert.Equal(t, "8080", cfg.Port)
				assert.Equal(t, "https://shop.example.com", cfg.AppURL)
				assert.Equal(t, "postgres", cfg.LedgerDriver)
				assert.True(t, cfg.EnableLogging)
				assert.Equal(t, 20, cfg.RateLimitPerMinute)
				assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, cfg.IPWhitelist)
			},
		},
		{
			name: "invalid numbers fall back",
			env: map[string]string{
				"RATE_LIMIT_PER_MINUTE":     "many",
				"ENABLE_OPENSEARCH_LOGGING": "yes please",
			},
			validate: func(t *testing.T, cfg *AppConfig) {
				assert.Equal(t, 100, cfg.RateLimitPerMinute)
				assert.False(t, cfg.EnableLogging)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.env {
				t.Setenv(key, value)
			}
			tt.validate(t, LoadAppConfig())
		})
	}
}

func TestGetDurationEnv(t *testing.T) {
	t.Setenv("TEST_TIMEOUT", "5s")
	assert.Equal(t, 5*time.Second, GetDurationEnv("TEST_TIMEOUT", time.Second))

	t.Setenv("TEST_TIMEOUT", "-5s")
	assert.Equal(t, time.Second, GetDurationEnv("TEST_TIMEOUT", time.Second))

	t.Setenv("TEST_TIMEOUT", "soon")
	assert.Equal(t, time.Second, GetDurationEnv("TEST_TIMEOUT", time.Second))
}

func TestLoadMontyPayConfig(t *testing.T) {
	t.Setenv("MONTYPAY_MERCHANT_KEY", "key-1")
	t.Setenv("MONTYPAY_MERCHANT_PASS", "pass-1")
	t.Setenv("MONTYPAY_ENVIRONMENT", "Production")
	t.Setenv("MONTYPAY_CURRENCIES", "usd,eur")
	t.Setenv("MONTYPAY_VERIFY_WEBHOOKS", "true")

	cfg := LoadMontyPayConfig()

	assert.Equal(t, "key-1", cfg.MerchantKey)
	assert.True(t, cfg.IsProduction())
	assert.True(t, cfg.VerifyWebhooks)
	assert.Equal(t, "https://checkout.montypay.com", cfg.BaseURL)
	assert.Equal(t, []string{"USD", "EUR"}, cfg.SupportedCurrencies)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.True(t, cfg.Supports("eur"))
	assert.False(t, cfg.Supports("GBP"))
	assert.NoError(t, cfg.Validate())
}

func TestMontyPayConfig_Validate(t *testing.T) {
	valid := func() *MontyPayConfig {
		return &MontyPayConfig{
			MerchantKey:         "key",
			MerchantPass:        "pass",
			Environment:         "sandbox",
			BaseURL:             "https://checkout.montypay.com",
			SupportedCurrencies: []string{"USD"},
		}
	}

	tests := []struct {
		name      string
		mutate    func(c *MontyPayConfig)
		wantField string
	}{
		{"valid", func(c *MontyPayConfig) {}, ""},
		{"missing key", func(c *MontyPayConfig) { c.MerchantKey = "" }, "MONTYPAY_MERCHANT_KEY"},
		{"missing pass", func(c *MontyPayConfig) { c.MerchantPass = "" }, "MONTYPAY_MERCHANT_PASS"},
		{"bad environment", func(c *MontyPayConfig) { c.Environment = "staging" }, "MONTYPAY_ENVIRONMENT"},
		{"bad currency", func(c *MontyPayConfig) { c.SupportedCurrencies = []string{"XXXX"} }, "MONTYPAY_CURRENCIES"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.True(t, errors.Is(err, provider.ErrConfiguration))
			var cfgErr *provider.ConfigurationError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.wantField, cfgErr.Field)
		})
	}
}
