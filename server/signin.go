package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/ivylab/ivylab"
	"github.com/ivylab/ivylab/auth"
	"github.com/ivylab/ivylab/session"
	"github.com/ivylab/ivylab/subscription"
)

type loginRequest struct {
	IDToken      string `json:"idToken"`
	UID          string `json:"uid"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	LegacyUserID string `json:"legacyUserId"`
}

// verifyToken checks an ID token and that it belongs to uid. On failure it
// returns the status and message to answer with.
func (s *Server) verifyToken(ctx context.Context, token, uid string) (*auth.Identity, int, string) {
	if s.verifier == nil {
		return nil, http.StatusServiceUnavailable, "Token login not available"
	}
	ident, err := s.verifier.Verify(ctx, token)
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return nil, http.StatusUnauthorized, "Firebase Auth token expired"
	case errors.Is(err, auth.ErrTokenInvalid):
		return nil, http.StatusUnauthorized, "Invalid Firebase Auth token"
	case err != nil:
		s.logger.Warn("token verification failed", "error", err)
		return nil, http.StatusUnauthorized, "Token verification failed"
	}
	if ident.UID != uid {
		s.logger.Warn("token uid mismatch", "error", ivylab.ErrTokenMismatch)
		return nil, http.StatusUnauthorized, "Token UID mismatch"
	}
	return ident, 0, ""
}

// signIn replaces the session contents with rec and saves it.
func (s *Server) signIn(w http.ResponseWriter, r *http.Request, rec *subscription.Record, legacy bool) bool {
	sess := session.FromContext(r.Context())
	sess.Clear()
	sess.Fill(rec)
	sess.Legacy = legacy
	if err := s.sessions.Save(r.Context(), w, sess); err != nil {
		s.logger.Error("failed to save session", "user_id", rec.UserID, "error", err)
		writeFailure(w, http.StatusInternalServerError, "Session unavailable")
		return false
	}
	return true
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	// Allowlisted accounts that have not moved to token sign-in yet.
	if req.Email != "" && (req.IDToken == "" || req.UID == "") && s.engine.IsLegacyEmail(req.Email) {
		s.legacyLogin(w, r, req.Email)
		return
	}
	if req.IDToken == "" || req.UID == "" {
		writeFailure(w, http.StatusBadRequest, "Wrong username or password")
		return
	}

	ident, status, msg := s.verifyToken(r.Context(), req.IDToken, req.UID)
	if ident == nil {
		writeFailure(w, status, msg)
		return
	}

	email := req.Email
	if email == "" {
		email = ident.Email
	}
	name := req.DisplayName
	if name == "" {
		name = ident.Name
	}
	rec, err := s.engine.Login(r.Context(), ivylab.Profile{UID: ident.UID, Email: email, DisplayName: name})
	if err != nil {
		s.logger.Error("login failed", "user_id", ident.UID, "error", err)
		writeFailure(w, http.StatusInternalServerError, "Database error")
		return
	}

	if !s.signIn(w, r, rec, false) {
		return
	}
	writeJSON(w, http.StatusOK, result{Success: true, Message: "Login successful"})
}

func (s *Server) handleLegacyLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	s.legacyLogin(w, r, req.Email)
}

func (s *Server) legacyLogin(w http.ResponseWriter, r *http.Request, email string) {
	rec, err := s.engine.LegacyLogin(r.Context(), email)
	if err != nil {
		switch {
		case errors.Is(err, ivylab.ErrInvalidInput):
			writeFailure(w, http.StatusBadRequest, "Email is required")
		case errors.Is(err, ivylab.ErrNotLegacyAccount):
			writeFailure(w, http.StatusForbidden, "This email cannot use legacy login")
		case ivylab.IsNotFound(err):
			writeFailure(w, http.StatusUnauthorized, "No account found with this email. Please sign up for a new account.")
		default:
			s.logger.Error("legacy login failed", "error", err)
			writeFailure(w, http.StatusInternalServerError, "Database error")
		}
		return
	}

	if !s.signIn(w, r, rec, true) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"message":        "Login successful",
		"legacy_user":    true,
		"legacy_user_id": rec.UserID,
	})
}

func (s *Server) handleMigrate(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.IDToken == "" || req.UID == "" || req.Email == "" || req.LegacyUserID == "" {
		writeFailure(w, http.StatusBadRequest, "Missing required fields for migration")
		return
	}
	// Only the signed-in legacy user may move their own record.
	if sess := session.FromContext(r.Context()); !sess.Legacy || sess.UserID != req.LegacyUserID {
		writeFailure(w, http.StatusForbidden, "Sign in with the legacy account before migrating")
		return
	}

	ident, status, msg := s.verifyToken(r.Context(), req.IDToken, req.UID)
	if ident == nil {
		writeFailure(w, status, msg)
		return
	}

	rec, err := s.engine.MigrateLegacy(r.Context(), req.LegacyUserID, ivylab.Profile{
		UID:         ident.UID,
		Email:       req.Email,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		switch {
		case ivylab.IsNotFound(err):
			writeFailure(w, http.StatusNotFound, "Legacy user not found")
			return
		case errors.Is(err, ivylab.ErrAlreadyMigrated):
			writeFailure(w, http.StatusConflict, "This account has already been migrated")
			return
		case errors.Is(err, ivylab.ErrNotLegacyAccount):
			writeFailure(w, http.StatusForbidden, "Only legacy accounts can be migrated")
			return
		}
		s.logger.Error("legacy migration failed",
			"legacy_user_id", req.LegacyUserID,
			"user_id", ident.UID,
			"error", err,
		)
		writeFailure(w, http.StatusInternalServerError, "Migration failed")
		return
	}

	if !s.signIn(w, r, rec, false) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  "Account successfully migrated to secure authentication!",
		"user_id":  rec.UserID,
		"migrated": true,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	if err := s.sessions.Destroy(r.Context(), w, sess); err != nil {
		s.logger.Warn("failed to destroy session", "error", err)
	}
	writeJSON(w, http.StatusOK, result{Success: true, Message: "Logged out"})
}

func (s *Server) handleCheckAuth(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	if !sess.Authenticated() {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"user": map[string]string{
			"id":    sess.UserID,
			"email": sess.Email,
			"name":  sess.Name,
		},
	})
}
