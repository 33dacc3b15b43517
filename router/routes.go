package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/mstgnz/montypay/handler"
	"github.com/mstgnz/montypay/infra/logger"
	"github.com/mstgnz/montypay/infra/middle"
	"github.com/mstgnz/montypay/infra/response"
	"github.com/mstgnz/montypay/provider/montypay"
)

// Handlers groups the handlers mounted on the router
type Handlers struct {
	MontyPay *handler.MontyPayHandler
	Health   *handler.HealthHandler
}

// Options configures the middleware chain. RateLimiter and IPWhitelist only
// guard the /api group so gateway callbacks and shopper redirects are
// never turned away.
type Options struct {
	Log            *logger.SystemLogger
	RateLimiter    *middle.RateLimiter
	IPWhitelist    []string
	AllowedOrigins []string
	Timeout        time.Duration
}

// New builds the router with the full middleware chain
func New(h Handlers, opts Options) *chi.Mux {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middle.RequestLoggingMiddleware(opts.Log))
	r.Use(middle.PanicRecoveryMiddleware(opts.Log))
	r.Use(middleware.Timeout(opts.Timeout))

	r.Use(middle.SecurityHeadersMiddleware())
	r.Use(middle.RequestValidationMiddleware())

	Routes(r, h, opts)
	return r
}

// Routes mounts the service endpoints
func Routes(r chi.Router, h Handlers, opts Options) {
	if h.Health != nil {
		r.Get("/health", h.Health.CheckHealth)
	}

	r.Post(montypay.WebhookPath, h.MontyPay.Webhook)
	r.Get(montypay.ReturnPath, h.MontyPay.Return)
	r.Post(montypay.ReturnPath, h.MontyPay.Return)
	r.Get(montypay.CancelPath, h.MontyPay.Cancel)
	r.Post(montypay.CancelPath, h.MontyPay.Cancel)

	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(corsOptions(opts.AllowedOrigins)))
		if opts.RateLimiter != nil {
			r.Use(middle.RateLimitMiddleware(opts.RateLimiter))
		}
		r.Use(middle.IPWhitelistMiddleware(opts.IPWhitelist))

		r.Post("/checkout/montypay", h.MontyPay.Checkout)
		r.Get("/transactions/{reference}", h.MontyPay.TransactionStatus)
		r.Get("/transactions/{reference}/events", h.MontyPay.Events)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotFound, "Not Found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
	})
}

func corsOptions(origins []string) cors.Options {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Origin", "X-Requested-With", "X-Request-ID"},
		ExposedHeaders:   []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}
}
