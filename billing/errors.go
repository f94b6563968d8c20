package billing

import (
	"errors"
	"fmt"
)

// Kind classifies provider failures so callers can map them to responses.
type Kind string

const (
	KindCard           Kind = "card"
	KindRateLimit      Kind = "rate_limit"
	KindInvalidRequest Kind = "invalid_request"
	KindAuthentication Kind = "authentication"
	KindConnection     Kind = "connection"
	KindProvider       Kind = "provider"
	KindSignature      Kind = "signature"
)

// Error is a classified provider error.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("billing: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("billing: %s: %s: %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of a billing error, or KindProvider for anything
// unclassified.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindProvider
}

// MessageOf returns the provider's user-facing message, if any.
func MessageOf(err error) string {
	var be *Error
	if errors.As(err, &be) {
		return be.Message
	}
	return ""
}
