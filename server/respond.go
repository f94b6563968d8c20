package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ivylab/ivylab"
	"github.com/ivylab/ivylab/billing"
)

// maxBody bounds JSON request bodies.
const maxBody = 1 << 20

// result is the envelope of the JSON action endpoints.
type result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeFailure(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, result{Message: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	return json.NewDecoder(r.Body).Decode(v)
}

// billingFailure maps a checkout or subscription error to a status code and
// a message safe to show the user.
func billingFailure(err error) (int, string) {
	var pe *ivylab.PaymentError
	var ve ivylab.ValidationError
	switch {
	case errors.As(err, &pe):
		return http.StatusBadRequest, "Payment failed: " + pe.Status
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Error()
	case errors.Is(err, ivylab.ErrInvalidInput):
		return http.StatusBadRequest, "Missing required fields"
	case errors.Is(err, ivylab.ErrUnknownPlan):
		return http.StatusBadRequest, "Invalid plan"
	case errors.Is(err, ivylab.ErrNoIdentity):
		return http.StatusUnauthorized, "Authentication required"
	case errors.Is(err, ivylab.ErrNoActiveSubscription):
		return http.StatusBadRequest, "No active subscription found"
	case errors.Is(err, ivylab.ErrNoBillingReference):
		return http.StatusBadRequest, "No subscription found"
	case errors.Is(err, ivylab.ErrProviderNotConfigured):
		return http.StatusServiceUnavailable, "Billing not configured"
	case errors.Is(err, ivylab.ErrAccountsNotConfigured):
		return http.StatusServiceUnavailable, "Signup not available"
	}

	var be *billing.Error
	if !errors.As(err, &be) {
		return http.StatusInternalServerError, "Unexpected error"
	}
	switch be.Kind {
	case billing.KindCard:
		return http.StatusBadRequest, "Card error: " + be.Message
	case billing.KindRateLimit:
		return http.StatusTooManyRequests, "Rate limit exceeded"
	case billing.KindInvalidRequest:
		return http.StatusBadRequest, "Invalid request: " + be.Message
	case billing.KindAuthentication:
		return http.StatusUnauthorized, "Authentication failed"
	case billing.KindConnection:
		return http.StatusInternalServerError, "Network error"
	default:
		return http.StatusInternalServerError, "Payment provider error"
	}
}
