package provider

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	ErrConfiguration        = errors.New("configuration error")
	ErrGatewayCommunication = errors.New("gateway communication error")
	ErrUnresolvedReference  = errors.New("unresolved reference")
	ErrFulfillmentStep      = errors.New("fulfillment step failed")
)

// maxErrorBody bounds the gateway body kept on a communication error
const maxErrorBody = 512

// ConfigurationError is returned when merchant credentials are missing or invalid
type ConfigurationError struct {
	Field string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s is not configured", ErrConfiguration, e.Field)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// GatewayCommunicationError is returned when the gateway cannot be reached or answers badly
type GatewayCommunicationError struct {
	StatusCode int
	Body       string
	Err        error
}

// NewGatewayCommunicationError builds the error and truncates the body
func NewGatewayCommunicationError(statusCode int, body string, err error) *GatewayCommunicationError {
	if len(body) > maxErrorBody {
		cut := maxErrorBody
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut]
	}
	return &GatewayCommunicationError{StatusCode: statusCode, Body: body, Err: err}
}

func (e *GatewayCommunicationError) Error() string {
	msg := ErrGatewayCommunication.Error()
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: status %d", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	return msg
}

func (e *GatewayCommunicationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrGatewayCommunication}
	}
	return []error{ErrGatewayCommunication, e.Err}
}

// UserMessage is the text safe to show a shopper
func (e *GatewayCommunicationError) UserMessage() string {
	return "Unable to create payment session. Please try again."
}

// UnresolvedReferenceError is returned when an inbound event names no known transaction
type UnresolvedReferenceError struct {
	Reference string
}

func (e *UnresolvedReferenceError) Error() string {
	if e.Reference == "" {
		return fmt.Sprintf("%s: missing reference", ErrUnresolvedReference)
	}
	return fmt.Sprintf("%s: %s", ErrUnresolvedReference, e.Reference)
}

func (e *UnresolvedReferenceError) Unwrap() error { return ErrUnresolvedReference }

// FulfillmentStepError records a failed fulfillment step and its target
type FulfillmentStepError struct {
	Step   string
	Target string
	Err    error
}

func (e *FulfillmentStepError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("%s: %s: %v", ErrFulfillmentStep, e.Step, e.Err)
	}
	return fmt.Sprintf("%s: %s %s: %v", ErrFulfillmentStep, e.Step, e.Target, e.Err)
}

func (e *FulfillmentStepError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrFulfillmentStep}
	}
	return []error{ErrFulfillmentStep, e.Err}
}
