package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	Validator *validator.Validate
}

// AppConfig represents the application configuration
type AppConfig struct {
	Port        string
	Environment string
	Version     string
	// AppURL is the public base URL the gateway sends shoppers back to
	AppURL string

	OpenSearchURL  string
	OpenSearchUser string
	OpenSearchPass string
	EnableLogging  bool
	LoggingLevel   string

	LedgerDriver string
	SQLitePath   string
	DatabaseURL  string

	RateLimitPerMinute int
	IPWhitelist        []string
	CORSOrigins        []string

	ShopConfirmationPath string
	ShopPaymentPath      string
}

var (
	instance     *Config
	instanceOnce sync.Once

	appConfigInstance *AppConfig
	appConfigOnce     sync.Once
)

// App returns the shared validator holder
func App() *Config {
	instanceOnce.Do(func() {
		instance = &Config{
			Validator: validator.New(),
		}
	})
	return instance
}

// GetAppConfig returns the application configuration, read once from the environment
func GetAppConfig() *AppConfig {
	appConfigOnce.Do(func() {
		appConfigInstance = LoadAppConfig()
	})
	return appConfigInstance
}

// LoadAppConfig reads the application configuration from the environment
func LoadAppConfig() *AppConfig {
	return &AppConfig{
		Port:                 GetEnv("APP_PORT", "9999"),
		Environment:          GetEnv("ENVIRONMENT", "development"),
		Version:              GetEnv("APP_VERSION", "1.0.0"),
		AppURL:               strings.TrimSuffix(GetEnv("APP_URL", "http://localhost:9999"), "/"),
		OpenSearchURL:        GetEnv("OPENSEARCH_URL", "http://localhost:9200"),
		OpenSearchUser:       GetEnv("OPENSEARCH_USER", ""),
		OpenSearchPass:       GetEnv("OPENSEARCH_PASSWORD", ""),
		EnableLogging:        GetBoolEnv("ENABLE_OPENSEARCH_LOGGING", false),
		LoggingLevel:         GetEnv("LOGGING_LEVEL", "info"),
		LedgerDriver:         GetEnv("LEDGER_DRIVER", "sqlite"),
		SQLitePath:           GetEnv("SQLITE_PATH", "./data/montypay.db"),
		DatabaseURL:          GetEnv("DATABASE_URL", ""),
		RateLimitPerMinute:   GetIntEnv("RATE_LIMIT_PER_MINUTE", 100),
		IPWhitelist:          GetListEnv("IP_WHITELIST"),
		CORSOrigins:          GetListEnv("CORS_ALLOWED_ORIGINS"),
		ShopConfirmationPath: GetEnv("SHOP_CONFIRMATION_PATH", "/shop/confirmation"),
		ShopPaymentPath:      GetEnv("SHOP_PAYMENT_PATH", "/shop/payment"),
	}
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetBoolEnv returns the boolean value of an environment variable or a default value
func GetBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetIntEnv returns the integer value of an environment variable or a default value
func GetIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetDurationEnv returns a duration such as "30s" from the environment or a default value
func GetDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}

// GetListEnv splits a comma separated variable, dropping empty items
func GetListEnv(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
