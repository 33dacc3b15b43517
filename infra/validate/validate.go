package validate

import (
	"reflect"
	"regexp"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/mstgnz/montypay/infra/config"
	"github.com/shopspring/decimal"
)

var (
	referencePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-/.]{0,63}$`)
	registerOnce     sync.Once
)

// CustomValidate registers the custom rules on the shared validator.
// Safe to call more than once.
func CustomValidate() *validator.Validate {
	v := config.App().Validator
	registerOnce.Do(func() {
		v.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{})
		_ = v.RegisterValidation("reference", validReference)
		_ = v.RegisterValidation("amount", validAmount)
	})
	return v
}

// decimalValue lets tags on decimal.Decimal fields see the plain number
func decimalValue(field reflect.Value) any {
	if d, ok := field.Interface().(decimal.Decimal); ok {
		return d.String()
	}
	return nil
}

// validReference accepts the merchant order numbers the gateway echoes back
func validReference(fl validator.FieldLevel) bool {
	return referencePattern.MatchString(fl.Field().String())
}

// validAmount requires a positive amount with at most two decimals
func validAmount(fl validator.FieldLevel) bool {
	d, err := decimal.NewFromString(fl.Field().String())
	if err != nil {
		return false
	}
	return d.IsPositive() && d.Equal(d.Truncate(2))
}
