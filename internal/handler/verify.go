package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/voightkampff/vk/internal/metrics"
	"github.com/voightkampff/vk/internal/service"
)

// Identity headers emitted on allowed requests; the proxy forwards them to
// the upstream backend.
const (
	HeaderUser    = "X-VK-User"
	HeaderService = "X-VK-Service"
	HeaderScopes  = "X-VK-Scopes"
	HeaderAdmin   = "X-VK-Admin"
)

// VerifyHandler is the forward-auth hot path. The proxy calls it once per
// inbound request and treats any non-2xx response as an unconditional denial.
type VerifyHandler struct {
	auth          *service.AuthService
	keys          *service.KeyService
	adminServices map[string]bool
	serviceHeader string
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

// NewVerifyHandler creates a VerifyHandler. adminServices names the services
// behind the admin gate; serviceHeader overrides the default
// X-Forwarded-Service identity header.
func NewVerifyHandler(auth *service.AuthService, keys *service.KeyService, adminServices []string, serviceHeader string, m *metrics.Metrics, logger *slog.Logger) *VerifyHandler {
	gated := make(map[string]bool, len(adminServices))
	for _, svc := range adminServices {
		gated[svc] = true
	}
	if serviceHeader == "" {
		serviceHeader = "X-Forwarded-Service"
	}
	return &VerifyHandler{
		auth:          auth,
		keys:          keys,
		adminServices: gated,
		serviceHeader: serviceHeader,
		metrics:       m,
		logger:        logger,
	}
}

type verifyResponse struct {
	Valid   bool   `json:"valid"`
	User    string `json:"user"`
	Service string `json:"service"`
}

// Verify handles GET /verify. Denial bodies carry only a generic detail so
// key state and scope grants can't be enumerated through the proxy.
func (h *VerifyHandler) Verify(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	cred := CredentialFromRequest(r)
	svc := h.resolveService(r)

	principal, err := h.auth.Verify(r.Context(), cred, svc)
	if err != nil {
		h.deny(w, r, svc, err, start)
		return
	}

	if h.adminServices[svc] && !principal.IsAdmin {
		h.deny(w, r, svc, service.ErrAdminRequired, start)
		return
	}

	if principal.Kind == service.CredentialAPIKey {
		h.keys.TouchLastUsed(principal.KeyID)
	}

	w.Header().Set(HeaderUser, principal.User)
	w.Header().Set(HeaderService, svc)
	if principal.Scopes != nil {
		w.Header().Set(HeaderScopes, strings.Join(principal.Scopes.Strings(), ","))
	}
	if principal.IsAdmin {
		w.Header().Set(HeaderAdmin, "true")
	}

	h.metrics.ObserveVerify("allow", "ok", time.Since(start))
	writeJSON(w, http.StatusOK, verifyResponse{
		Valid:   true,
		User:    principal.User,
		Service: svc,
	})
}

func (h *VerifyHandler) deny(w http.ResponseWriter, r *http.Request, svc string, err error, start time.Time) {
	var status int
	var reason string

	switch {
	case errors.Is(err, service.ErrNoCredential), errors.Is(err, service.ErrInvalidCredentials):
		status, reason = http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, service.ErrScopeDenied), errors.Is(err, service.ErrAdminRequired):
		status, reason = http.StatusForbidden, "forbidden"
	case errors.Is(err, service.ErrUnavailable):
		// Fail closed. The proxy may retry the whole request; this call
		// will not.
		status, reason = http.StatusForbidden, "unavailable"
	default:
		h.logger.Error("verification failed", "error", err)
		status, reason = http.StatusForbidden, "unavailable"
	}

	h.logger.Debug("verification denied",
		"service", svc,
		"status", status,
		"reason", reason,
		"remote_addr", r.RemoteAddr,
	)
	h.metrics.ObserveVerify("deny", reason, time.Since(start))

	if status == http.StatusUnauthorized {
		writeDetail(w, status, "missing or invalid credential")
		return
	}
	writeDetail(w, status, "access denied")
}

// resolveService determines the requested service name from the forwarded
// request context: an explicit identity header if the proxy sets one, else
// the first DNS label of the forwarded host. An empty result matches only
// wildcard-scoped keys.
func (h *VerifyHandler) resolveService(r *http.Request) string {
	if svc := r.Header.Get(h.serviceHeader); svc != "" {
		return svc
	}
	if host := r.Header.Get("X-Forwarded-Host"); host != "" {
		if i := strings.IndexByte(host, '.'); i > 0 {
			return host[:i]
		}
		return host
	}
	return ""
}

// CredentialFromRequest extracts the single credential a request carries.
// An Authorization header takes precedence; the session cookie is only
// consulted when the header is absent. The two are never combined.
func CredentialFromRequest(r *http.Request) service.Credential {
	if auth := r.Header.Get("Authorization"); auth != "" {
		secret := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		return service.Credential{Kind: service.CredentialAPIKey, Secret: secret}
	}
	if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		return service.Credential{Kind: service.CredentialSession, Token: cookie.Value}
	}
	return service.Credential{Kind: service.CredentialNone}
}
