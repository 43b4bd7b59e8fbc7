package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/TrialConsent/internal/auth"
	"github.com/BTreeMap/TrialConsent/internal/models"
)

type tokenRequest struct {
	Email    string `json:"email"`
	Password string `json:"password,omitempty"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	Email     string    `json:"email"`
	Role      auth.Role `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Server) tokenHandler(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		slog.Warn("Server.tokenHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	sess, err := s.auth.Login(req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrEmailRequired):
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeJSONResponse(w, http.StatusUnauthorized, models.Error(err.Error()))
		return
	case err != nil:
		slog.Error("Server.tokenHandler: failed to issue token", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to issue token"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(tokenResponse{
		Token:     sess.Token(),
		Email:     sess.Email(),
		Role:      sess.Role(),
		ExpiresAt: sess.ExpiresAt(),
	}))
}

func (s *Server) logoutHandler(w http.ResponseWriter, r *http.Request) {
	sess, _ := auth.SessionFromContext(r.Context())
	email := sess.Email()
	s.auth.Clear(sess)
	slog.Info("Server.logoutHandler: session cleared", "email", email)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Signed out", nil))
}
