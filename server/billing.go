package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/ivylab/ivylab"
	"github.com/ivylab/ivylab/billing"
	"github.com/ivylab/ivylab/session"
	"github.com/ivylab/ivylab/subscription"
)

// maxWebhookBody matches the payload ceiling of the payment provider.
const maxWebhookBody = 65536

type checkoutRequest struct {
	Name            string `json:"userName"`
	Email           string `json:"userEmail"`
	Password        string `json:"userPassword"`
	Plan            string `json:"plan"`
	PaymentMethodID string `json:"payment_method_id"`
}

func (s *Server) handleSignupAndSubscribe(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	rec, err := s.engine.SignupAndSubscribe(r.Context(), ivylab.SignupParams{
		Name:            req.Name,
		Email:           req.Email,
		Password:        req.Password,
		Plan:            req.Plan,
		PaymentMethodID: req.PaymentMethodID,
	})
	if err != nil {
		s.checkoutFailed(w, "signup", "Failed to create user account", err)
		return
	}

	if !s.signIn(w, r, rec, false) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"message":         "Account created and subscription activated successfully",
		"subscription_id": rec.BillingReference,
		"user_id":         rec.UserID,
		"firebase_uid":    rec.FirebaseUID,
	})
}

func (s *Server) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	if !sess.Authenticated() {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req checkoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	delta, err := s.engine.Subscribe(r.Context(), ivylab.SubscribeParams{
		UserID:          sess.UserID,
		Email:           sess.Email,
		Name:            sess.Name,
		Plan:            req.Plan,
		PaymentMethodID: req.PaymentMethodID,
	})
	if err != nil {
		s.checkoutFailed(w, "create payment", "Unexpected error", err)
		return
	}

	sess.ApplyDelta(delta)
	if err := s.sessions.Save(r.Context(), w, sess); err != nil {
		s.logger.Warn("failed to save session after payment", "user_id", sess.UserID, "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"message":         "Subscription created successfully",
		"subscription_id": delta.BillingReference,
	})
}

// checkoutFailed answers a failed checkout. fallback replaces the message of
// failures that did not come from the payment provider.
func (s *Server) checkoutFailed(w http.ResponseWriter, op, fallback string, err error) {
	status, msg := billingFailure(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", "error", err)
		if !errors.As(err, new(*billing.Error)) && status == http.StatusInternalServerError {
			msg = fallback
		}
	} else {
		s.logger.Info(op+" rejected", "error", err)
	}
	writeFailure(w, status, msg)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid payload")
		return
	}

	err = s.engine.HandleBillingEvent(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
	case errors.Is(err, ivylab.ErrProviderWebhook):
		if billing.KindOf(err) == billing.KindSignature {
			writeError(w, http.StatusBadRequest, "Invalid signature")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid payload")
	case errors.Is(err, ivylab.ErrProviderNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "Billing not configured")
	default:
		// A non-2xx answer makes the provider redeliver.
		s.logger.Error("webhook processing failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Webhook processing failed")
	}
}

func (s *Server) handleSubscription(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	if !sess.Authenticated() {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	info, err := s.engine.SubscriptionInfo(r.Context(), sess.UserID, sess.BillingReference)
	if err != nil {
		if errors.Is(err, ivylab.ErrNoActiveSubscription) {
			writeJSON(w, http.StatusOK, map[string]any{"subscription": nil})
			return
		}
		status, msg := billingFailure(err)
		writeFailure(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscription": info})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.setCancel(w, r, true)
}

func (s *Server) handleReactivate(w http.ResponseWriter, r *http.Request) {
	s.setCancel(w, r, false)
}

func (s *Server) setCancel(w http.ResponseWriter, r *http.Request, cancel bool) {
	sess := session.FromContext(r.Context())
	if !sess.Authenticated() {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var (
		sub *billing.Subscription
		err error
		msg string
	)
	if cancel {
		sub, err = s.engine.CancelAtPeriodEnd(r.Context(), sess.UserID, sess.BillingReference)
		msg = "Subscription will be canceled at the end of your current billing period"
	} else {
		sub, err = s.engine.Reactivate(r.Context(), sess.UserID, sess.BillingReference)
		msg = "Subscription reactivated successfully"
	}
	if err != nil {
		status, text := billingFailure(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("subscription change failed", "user_id", sess.UserID, "cancel", cancel, "error", err)
		}
		writeFailure(w, status, text)
		return
	}

	status := subscription.StatusActive
	if cancel {
		status = subscription.StatusCanceledAtPeriodEnd
	}
	sess.ApplyDelta(subscription.Delta{Status: status, BillingReference: sub.ID})
	if err := s.sessions.Save(r.Context(), w, sess); err != nil {
		s.logger.Warn("failed to save session", "user_id", sess.UserID, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":              true,
		"message":              msg,
		"cancel_at_period_end": sub.CancelAtPeriodEnd,
	})
}
