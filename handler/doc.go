// Package handler provides the HTTP handlers of the MontyPay reconciliation service.
//
// # MontyPay Handler
//
// MontyPayHandler bridges the HTTP layer with the reconciliation coordinator:
//
//	montypayHandler := handler.NewMontyPayHandler(coordinator, ledger, eventLogger, validator, log)
//
//	// Gateway callbacks
//	r.Post("/payment/montypay/webhook", montypayHandler.Webhook)
//	r.HandleFunc("/payment/montypay/return", montypayHandler.Return)
//	r.HandleFunc("/payment/montypay/cancel", montypayHandler.Cancel)
//
//	// Storefront and operations API
//	r.Post("/api/checkout/montypay", montypayHandler.Checkout)
//	r.Get("/api/transactions/{reference}", montypayHandler.TransactionStatus)
//	r.Get("/api/transactions/{reference}/events", montypayHandler.Events)
//
// # Callbacks
//
// The webhook accepts JSON or form encoded bodies and always answers 200
// with an acknowledgement once the body parses:
//
//	{"status": "done"}
//	{"status": "ignored", "reason": "tx not found"}
//
// A body that cannot be parsed gets 400. When webhook verification is on,
// a missing or wrong hash gets 401 and nothing is changed.
//
// Return and cancel merge query and body values and always answer with a
// 302 to the shop's confirmation or payment page:
//
//	/shop/confirmation
//	/shop/payment?payment_status=failed&msg=Insufficient%20funds
//
// A confirmed order id is handed to the confirmation page in the
// montypay_last_order_id cookie.
//
// # Checkout
//
//	POST /api/checkout/montypay
//	Content-Type: application/json
//
//	{
//	  "reference": "T1",
//	  "amount": "19.99",
//	  "currency": "USD",
//	  "partner": {"name": "Jane Doe", "email": "jane@example.com"}
//	}
//
// Gateway failures answer 502 with a message safe to show the shopper.
// Missing merchant credentials answer 500 "Payment method unavailable";
// the detail is only logged.
//
// # Health
//
// HealthHandler reports the ledger, the OpenSearch event index and the
// merchant configuration. A failing critical service answers 503.
package handler
