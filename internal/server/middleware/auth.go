package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/voightkampff/vk/internal/handler"
	"github.com/voightkampff/vk/internal/model"
	"github.com/voightkampff/vk/internal/service"
)

type contextKeyAuth string

// PrincipalKey is the context key for the authenticated principal.
const PrincipalKey contextKeyAuth = "principal"

// Authenticate validates the request's credential (bearer API key or session
// cookie, never both) and attaches the resulting principal to the context.
// No scope decision happens here; this protects the management plane, where
// any valid credential may enter and RequireAdmin draws the line.
func Authenticate(auth *service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cred := handler.CredentialFromRequest(r)

			principal, err := auth.Authenticate(r.Context(), cred)
			if err != nil {
				switch {
				case errors.Is(err, service.ErrNoCredential):
					writeAuthError(w, http.StatusUnauthorized, "authentication required")
				case errors.Is(err, service.ErrUnavailable):
					writeAuthError(w, http.StatusForbidden, "access denied")
				default:
					writeAuthError(w, http.StatusUnauthorized, "missing or invalid credential")
				}
				return
			}

			ctx := context.WithValue(r.Context(), PrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin enforces admin-level access. It must run after Authenticate.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r.Context())
			if principal == nil || !principal.IsAdmin {
				writeAuthError(w, http.StatusForbidden, "admin access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil for unauthenticated requests.
func GetPrincipal(ctx context.Context) *service.Principal {
	if p, ok := ctx.Value(PrincipalKey).(*service.Principal); ok {
		return p
	}
	return nil
}

func writeAuthError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{Detail: detail})
}
