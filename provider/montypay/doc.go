// Package montypay speaks the MontyPay hosted checkout protocol.
//
// It covers three things:
//
//   - Sign and Verify compute the gateway hash over the order block
//   - Client.CreateSession opens a hosted payment page for a transaction
//   - Normalize turns webhook bodies and browser query strings into a
//     provider.NotificationEvent
//
// The hash is sha1 over the hex md5 of the upper-cased concatenation of
// order number, amount (two decimals), currency, description and merchant pass:
//
//	sig, err := montypay.Sign("T1", "19.99", "USD", "Order T1", pass)
//
// Session creation is never retried here. A failed call is reported as a
// *provider.GatewayCommunicationError whose UserMessage is safe to show.
package montypay
