package montypay

import (
	"encoding/json"
	"slices"
	"strconv"
	"strings"

	"github.com/mstgnz/montypay/provider"
)

var statusTable = map[string]provider.NormalizedStatus{
	"success":               provider.StatusSuccess,
	"approved":              provider.StatusSuccess,
	"pending":               provider.StatusPending,
	"processing":            provider.StatusPending,
	"in_progress":           provider.StatusPending,
	"authorized":            provider.StatusAuthorized,
	"failed":                provider.StatusFailed,
	"declined":              provider.StatusFailed,
	"error":                 provider.StatusFailed,
	"authentication_failed": provider.StatusFailed,
	"cancelled":             provider.StatusCancelled,
	"canceled":              provider.StatusCancelled,
}

// NormalizeStatus lower-cases a raw gateway status and maps it onto the
// reconciliation vocabulary. Unrecognized values map to StatusUnknown.
func NormalizeStatus(raw string) provider.NormalizedStatus {
	return statusTable[strings.ToLower(strings.TrimSpace(raw))]
}

// Normalize maps an inbound payload from any channel to a NotificationEvent.
// Keys are matched case-insensitively; the reference is taken from
// reference, then order_number, then the nested order number.
func Normalize(source provider.Source, payload map[string]any) provider.NotificationEvent {
	fields := lowerKeys(payload)
	order := nestedOrder(fields)

	event := provider.NotificationEvent{
		Source:    source,
		Reference: firstString(fields, "reference", "order_number"),
		RawStatus: strings.ToLower(strings.TrimSpace(stringField(fields, "status"))),
		SessionID: firstString(fields, "session_id", "id"),
		Reason:    firstString(fields, "reason", "message", "error_description", "error_message"),
		Signature: firstString(fields, "hash", "signature"),
	}
	if event.Reference == "" {
		event.Reference = stringField(order, "number")
	}

	event.Status = NormalizeStatus(event.RawStatus)
	if source == provider.SourceBrowserCancel {
		event.Status = provider.StatusCancelled
	}

	event.Order = provider.SignedOrder{
		Number:      orDefault(stringField(order, "number"), event.Reference),
		Amount:      orDefault(stringField(order, "amount"), stringField(fields, "amount")),
		Currency:    orDefault(stringField(order, "currency"), stringField(fields, "currency")),
		Description: orDefault(stringField(order, "description"), stringField(fields, "description")),
	}

	return event
}

// lowerKeys folds keys to lower case. An exact lower-case key wins over its
// case variants; the remaining variants are taken in sorted order.
func lowerKeys(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	var variants []string
	for key, value := range payload {
		if folded := strings.ToLower(strings.TrimSpace(key)); folded == key {
			out[key] = value
		} else {
			variants = append(variants, key)
		}
	}

	slices.Sort(variants)
	for _, key := range variants {
		folded := strings.ToLower(strings.TrimSpace(key))
		if _, ok := out[folded]; !ok {
			out[folded] = payload[key]
		}
	}
	return out
}

// nestedOrder finds the order block either as a nested object or as
// flattened form keys like order[number] or order.number.
func nestedOrder(fields map[string]any) map[string]any {
	if nested, ok := fields["order"].(map[string]any); ok {
		return lowerKeys(nested)
	}

	order := make(map[string]any)
	for key, value := range fields {
		var sub string
		switch {
		case strings.HasPrefix(key, "order[") && strings.HasSuffix(key, "]"):
			sub = key[len("order[") : len(key)-1]
		case strings.HasPrefix(key, "order."):
			sub = key[len("order."):]
		default:
			continue
		}
		order[sub] = value
	}
	return order
}

func firstString(fields map[string]any, keys ...string) string {
	for _, key := range keys {
		if value := stringField(fields, key); value != "" {
			return value
		}
	}
	return ""
}

// stringField reads a scalar value as a trimmed string
func stringField(fields map[string]any, key string) string {
	switch v := fields[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case []string:
		if len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}
