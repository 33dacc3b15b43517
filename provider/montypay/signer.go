package montypay

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/mstgnz/montypay/provider"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// FormatAmount renders an amount with exactly two decimals, as the gateway hashes it
func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

// Sign computes the MontyPay request hash:
// sha1(hex(md5(upper(number + amount + currency + description + secret)))).
// The result is 40 lowercase hex characters.
func Sign(orderNumber, amount, currency, description, secret string) (string, error) {
	if secret == "" {
		return "", &provider.ConfigurationError{Field: "MONTYPAY_MERCHANT_PASS"}
	}

	// full case mapping, so "ß" becomes "SS" as on the gateway
	toHash := cases.Upper(language.Und).String(orderNumber + amount + currency + description + secret)

	md5Sum := md5.Sum([]byte(toHash))
	md5Hex := hex.EncodeToString(md5Sum[:])

	sha1Sum := sha1.Sum([]byte(md5Hex))
	return hex.EncodeToString(sha1Sum[:]), nil
}

// Verify recomputes the hash for an inbound order block and compares it in constant time
func Verify(order provider.SignedOrder, signature, secret string) (bool, error) {
	if signature == "" {
		return false, nil
	}

	expected, err := Sign(order.Number, order.Amount, order.Currency, order.Description, secret)
	if err != nil {
		return false, err
	}

	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(signature))) == 1, nil
}
