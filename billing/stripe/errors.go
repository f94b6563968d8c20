package stripe

import (
	"errors"
	"net/http"

	stripelib "github.com/stripe/stripe-go/v82"

	"github.com/ivylab/ivylab/billing"
)

// classify maps a stripe-go error to a billing.Error. Errors that are not
// API responses are network failures.
func classify(op string, err error) error {
	var se *stripelib.Error
	if !errors.As(err, &se) {
		return &billing.Error{Kind: billing.KindConnection, Op: op, Message: err.Error(), Err: err}
	}

	kind := billing.KindProvider
	switch {
	case se.Type == stripelib.ErrorTypeCard:
		kind = billing.KindCard
	case se.HTTPStatusCode == http.StatusTooManyRequests:
		kind = billing.KindRateLimit
	case se.HTTPStatusCode == http.StatusUnauthorized:
		kind = billing.KindAuthentication
	case se.Type == stripelib.ErrorTypeInvalidRequest:
		kind = billing.KindInvalidRequest
	}
	return &billing.Error{Kind: kind, Op: op, Message: se.Msg, Err: err}
}
