package config

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mstgnz/montypay/provider"
)

// sandbox and production share one host
const defaultMontyPayURL = "https://checkout.montypay.com"

// MontyPayConfig holds the merchant credentials and gateway settings
type MontyPayConfig struct {
	MerchantKey  string `validate:"required"`
	MerchantPass string `validate:"required"`
	Environment  string `validate:"oneof=sandbox production"`
	BaseURL      string `validate:"required,url"`
	// VerifyWebhooks requires a valid hash on every webhook when enabled
	VerifyWebhooks      bool
	SupportedCurrencies []string `validate:"min=1,dive,iso4217"`
	Timeout             time.Duration
}

// LoadMontyPayConfig reads the MontyPay settings from the environment
func LoadMontyPayConfig() *MontyPayConfig {
	env := strings.ToLower(GetEnv("MONTYPAY_ENVIRONMENT", "sandbox"))

	currencies := GetListEnv("MONTYPAY_CURRENCIES")
	if len(currencies) == 0 {
		currencies = []string{"USD", "EUR", "GBP"}
	}
	for i, c := range currencies {
		currencies[i] = strings.ToUpper(c)
	}

	return &MontyPayConfig{
		MerchantKey:         GetEnv("MONTYPAY_MERCHANT_KEY", ""),
		MerchantPass:        GetEnv("MONTYPAY_MERCHANT_PASS", ""),
		Environment:         env,
		BaseURL:             GetEnv("MONTYPAY_BASE_URL", defaultMontyPayURL),
		VerifyWebhooks:      GetBoolEnv("MONTYPAY_VERIFY_WEBHOOKS", false),
		SupportedCurrencies: currencies,
		Timeout:             GetDurationEnv("MONTYPAY_TIMEOUT", provider.DefaultTimeout),
	}
}

// IsProduction reports whether the live environment is configured
func (c *MontyPayConfig) IsProduction() bool {
	return c.Environment == "production"
}

// Supports reports whether payments in currency can be taken
func (c *MontyPayConfig) Supports(currency string) bool {
	currency = strings.ToUpper(currency)
	for _, supported := range c.SupportedCurrencies {
		if supported == currency {
			return true
		}
	}
	return false
}

// Validate checks the configuration and reports the first missing field
// as a *provider.ConfigurationError.
func (c *MontyPayConfig) Validate() error {
	err := App().Validator.Struct(c)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		return &provider.ConfigurationError{Field: fieldName(validationErrs[0].StructField())}
	}
	return &provider.ConfigurationError{Field: err.Error()}
}

func fieldName(structField string) string {
	if strings.HasPrefix(structField, "SupportedCurrencies") {
		return "MONTYPAY_CURRENCIES"
	}
	switch structField {
	case "MerchantKey":
		return "MONTYPAY_MERCHANT_KEY"
	case "MerchantPass":
		return "MONTYPAY_MERCHANT_PASS"
	case "Environment":
		return "MONTYPAY_ENVIRONMENT"
	case "BaseURL":
		return "MONTYPAY_BASE_URL"
	}
	return structField
}
