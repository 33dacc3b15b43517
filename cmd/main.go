package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mstgnz/montypay/handler"
	"github.com/mstgnz/montypay/infra/config"
	"github.com/mstgnz/montypay/infra/logger"
	"github.com/mstgnz/montypay/infra/middle"
	"github.com/mstgnz/montypay/infra/opensearch"
	"github.com/mstgnz/montypay/infra/validate"
	"github.com/mstgnz/montypay/ledger"
	"github.com/mstgnz/montypay/provider/montypay"
	"github.com/mstgnz/montypay/reconcile"
	"github.com/mstgnz/montypay/router"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Load Env
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	cfg := config.GetAppConfig()
	mpCfg := config.LoadMontyPayConfig()
	validator := validate.CustomValidate()

	// OpenSearch is optional; the service runs without it
	var (
		osClient *opensearch.Client
		osLogger *opensearch.Logger
	)
	if cfg.EnableLogging {
		client, err := opensearch.NewClient(cfg)
		if err != nil {
			log.Printf("Failed to initialize OpenSearch client: %v", err)
			log.Println("Continuing without OpenSearch logging...")
		} else {
			osClient = client
			osLogger = opensearch.NewLogger(client)
		}
	}

	var sink logger.Sink
	if osLogger != nil {
		sink = osLogger
	}
	sysLog := logger.NewSystemLogger(sink, logger.SystemLoggerConfig{
		EnableConsole:    true,
		EnableOpenSearch: osLogger != nil,
		MinLevel:         logger.ParseLevel(cfg.LoggingLevel),
		Service:          "montypay",
		Version:          cfg.Version,
		Environment:      cfg.Environment,
	})
	defer sysLog.Flush()

	if osClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := osClient.EnsureIndices(ctx); err != nil {
			sysLog.Warn("could not prepare OpenSearch indices", logger.LogContext{Fields: map[string]any{"error": err.Error()}})
		} else {
			sysLog.Info("OpenSearch logging initialized")
		}
		cancel()
	}

	if err := mpCfg.Validate(); err != nil {
		// checkout answers "payment method unavailable" until this is fixed
		sysLog.Error("MontyPay is not fully configured", err)
	}

	dsn := cfg.SQLitePath
	if cfg.LedgerDriver == ledger.DriverPostgres {
		dsn = cfg.DatabaseURL
	}
	store, err := ledger.Open(context.Background(), cfg.LedgerDriver, dsn, sysLog)
	if err != nil {
		sysLog.Fatal("could not open ledger", err, logger.LogContext{Fields: map[string]any{"driver": cfg.LedgerDriver}})
	}
	defer store.Close()

	opts := reconcile.Options{
		ReturnBaseURL:    cfg.AppURL,
		ConfirmationPath: cfg.ShopConfirmationPath,
		PaymentPath:      cfg.ShopPaymentPath,
		VerifySignatures: mpCfg.VerifyWebhooks,
		MerchantPass:     mpCfg.MerchantPass,
	}
	var (
		events handler.EventSearcher
		search handler.Pinger
	)
	if osLogger != nil {
		opts.Recorder = osLogger
		events = osLogger
		search = osClient
	}

	gateway := montypay.NewClient(mpCfg, sysLog)
	cascade := reconcile.NewCascade(store, sysLog)
	coordinator := reconcile.NewCoordinator(store, gateway, cascade, sysLog, opts)

	rateLimiter := middle.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute)
	defer rateLimiter.Stop()

	r := router.New(router.Handlers{
		MontyPay: handler.NewMontyPayHandler(coordinator, store, events, validator, sysLog),
		Health:   handler.NewHealthHandler(store, search, mpCfg.Validate, cfg.Version, cfg.Environment),
	}, router.Options{
		Log:            sysLog,
		RateLimiter:    rateLimiter,
		IPWhitelist:    cfg.IPWhitelist,
		AllowedOrigins: cfg.CORSOrigins,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           r,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Create a context that listens for interrupt and terminate signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sysLog.Fatal("server stopped", err)
		}
	}()

	sysLog.Info("API is running", logger.LogContext{Fields: map[string]any{
		"port":        cfg.Port,
		"ledger":      cfg.LedgerDriver,
		"environment": mpCfg.Environment,
		"live":        mpCfg.IsProduction(),
		"verify_hash": mpCfg.VerifyWebhooks,
	}})

	// Block until a signal is received
	<-ctx.Done()

	sysLog.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		sysLog.Error("graceful shutdown failed", err)
	}
}
