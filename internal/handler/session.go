package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/voightkampff/vk/internal/metrics"
	"github.com/voightkampff/vk/internal/service"
)

// SessionHandler serves the built-in login and logout endpoints for the
// session cookie path.
type SessionHandler struct {
	sessions *service.SessionService
	secure   bool
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewSessionHandler creates a SessionHandler. secure marks issued cookies
// Secure and should be on everywhere TLS terminates in front of the service.
func NewSessionHandler(sessions *service.SessionService, secure bool, m *metrics.Metrics, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, secure: secure, metrics: m, logger: logger}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	User string `json:"user"`
}

// Login handles POST /session. On success the session token is set as an
// HttpOnly cookie; it is never included in the response body.
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeDetail(w, http.StatusBadRequest, "email and password are required")
		return
	}

	token, err := h.sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			h.metrics.SessionLoginsTotal.WithLabelValues("denied").Inc()
			writeDetail(w, http.StatusUnauthorized, "invalid email or password")
			return
		}
		h.logger.Error("login failed", "error", err)
		writeDetail(w, http.StatusInternalServerError, "internal error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.sessions.IdleTTL().Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})

	h.metrics.SessionLoginsTotal.WithLabelValues("ok").Inc()
	h.logger.Info("session issued", "user", req.Email)
	writeJSON(w, http.StatusOK, loginResponse{User: req.Email})
}

// Logout handles DELETE /session. The server-side record is destroyed, so
// the cookie is dead even if a client keeps a copy.
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		if err := h.sessions.Revoke(r.Context(), cookie.Value); err != nil && !errors.Is(err, service.ErrInvalidCredentials) {
			h.logger.Warn("session revocation failed", "error", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}
