// Package montypay is a payment reconciliation service for the MontyPay hosted
// checkout. It starts checkout sessions for shop orders, receives the gateway's
// webhooks and the shopper's browser returns, and keeps a ledger of payment
// transactions, sale orders and invoices consistent with what the gateway
// reports.
//
// # Overview
//
// One payment has three independent ways of reporting its outcome: the
// server-to-server webhook, the browser return and the browser cancel. They can
// arrive in any order, more than once, or not at all. All three are normalized
// into one event and fed through the same state machine under a
// per-reference lock, so an order is confirmed and invoiced exactly once no
// matter how the notifications interleave.
//
//	┌─────────────┐   checkout    ┌──────────────┐   session    ┌─────────────┐
//	│             │──────────────►│              │─────────────►│             │
//	│    Shop     │               │   MontyPay   │              │   MontyPay  │
//	│             │◄──────────────│  reconciler  │◄─────────────│   gateway   │
//	└─────────────┘  302 redirect └──────────────┘   webhook    └─────────────┘
//	                                     │
//	                                     ▼
//	                              ┌──────────────┐
//	                              │    Ledger    │
//	                              │ tx/orders/inv│
//	                              └──────────────┘
//
// # Transaction Lifecycle
//
//	draft ──► pending ──► authorized ──► done
//	  │          │             │
//	  └──────────┴─────────────┴──► cancelled / error
//
// done is sticky. A late or duplicate notification for a done transaction is
// logged and acknowledged without changing anything. cancelled and error give
// way only to a later success report from the gateway.
//
// # HTTP API
//
// Gateway callbacks:
//
//	POST     /payment/montypay/webhook   - Server-to-server notification
//	GET|POST /payment/montypay/return    - Shopper comes back from the gateway
//	GET|POST /payment/montypay/cancel    - Shopper abandons the payment page
//
// Storefront and operations:
//
//	POST /api/checkout/montypay                  - Start a checkout session
//	GET  /api/transactions/{reference}           - Transaction with orders and invoices
//	GET  /api/transactions/{reference}/events    - Reconciliation history (OpenSearch)
//	GET  /health                                 - Service health
//
// # Quick Start
//
//	export MONTYPAY_MERCHANT_KEY=your-merchant-key
//	export MONTYPAY_MERCHANT_PASS=your-merchant-pass
//	export APP_URL=https://shop.example.com
//	go run ./cmd
//
//	curl -X POST http://localhost:9999/api/checkout/montypay \
//	  -H "Content-Type: application/json" \
//	  -d '{"reference": "S00042", "amount": "19.99", "currency": "USD",
//	       "partner": {"name": "Jane Doe", "email": "jane@example.com"}}'
//
// The response carries the gateway's redirect URL; send the shopper there.
//
// # Configuration
//
//	APP_PORT                   Listen port (default 9999)
//	APP_URL                    Public base URL used for return and cancel links
//	ENVIRONMENT                development, production
//	LEDGER_DRIVER              memory, sqlite (default), postgres
//	SQLITE_PATH                SQLite database file
//	DATABASE_URL               PostgreSQL connection string
//	MONTYPAY_ENVIRONMENT       sandbox (default) or production
//	MONTYPAY_MERCHANT_KEY      Merchant key
//	MONTYPAY_MERCHANT_PASS     Merchant password, also the signing secret
//	MONTYPAY_BASE_URL          Override the gateway URL
//	MONTYPAY_CURRENCIES        Accepted currencies, comma separated
//	MONTYPAY_VERIFY_WEBHOOKS   Require a valid hash on webhooks
//	ENABLE_OPENSEARCH_LOGGING  Index reconciliation events in OpenSearch
//	OPENSEARCH_URL             OpenSearch address
//	LOGGING_LEVEL              debug, info, warn, error
//	RATE_LIMIT_PER_MINUTE      Requests per client IP per minute on /api
//	IP_WHITELIST               Allowed client IPs for /api, comma separated
//	CORS_ALLOWED_ORIGINS       Allowed origins for /api
//
// Values are read from the environment; a .env file in the working directory
// is loaded first when present.
//
// # Packages
//
//   - provider: transactions, orders, invoices, notification events, errors
//   - provider/montypay: gateway client, request signing, payload normalization
//   - ledger: memory, SQLite and PostgreSQL stores with per-reference locking
//   - reconcile: state machine, fulfillment cascade, coordinator
//   - handler: HTTP handlers
//   - router: chi routes and middleware chain
//   - infra: config, logging, OpenSearch, middleware, responses, validation
package montypay
