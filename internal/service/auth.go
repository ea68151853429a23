package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/voightkampff/vk/internal/model"
	"github.com/voightkampff/vk/internal/store"
)

// CredentialKind discriminates the two credential paths. A request resolves
// to exactly one kind before any store access happens; the branching never
// repeats further down the stack.
type CredentialKind int

const (
	CredentialNone CredentialKind = iota
	CredentialAPIKey
	CredentialSession
)

// Credential is the single credential extracted from a forwarded request:
// a bearer secret, a session cookie, or nothing.
type Credential struct {
	Kind   CredentialKind
	Secret string // raw API key from the Authorization header
	Token  string // session cookie value
}

// Principal is the authenticated identity a verification resolves to.
type Principal struct {
	Kind    CredentialKind
	KeyID   int64 // zero on the session path
	User    string
	IsAdmin bool
	Scopes  model.ScopeSet // nil on the session path
}

// AuthService makes the per-request allow/deny decision. It composes the
// credential store, the session authenticator, and scope matching; it holds
// no mutable state of its own.
type AuthService struct {
	store         *store.Store
	sessions      *SessionService
	lookupTimeout time.Duration
	logger        *slog.Logger
}

// NewAuthService creates an AuthService. lookupTimeout bounds the store
// lookup on the hot path; zero selects the 300ms default.
func NewAuthService(st *store.Store, sessions *SessionService, lookupTimeout time.Duration, logger *slog.Logger) *AuthService {
	if lookupTimeout <= 0 {
		lookupTimeout = 300 * time.Millisecond
	}
	return &AuthService{
		store:         st,
		sessions:      sessions,
		lookupTimeout: lookupTimeout,
		logger:        logger,
	}
}

// Authenticate resolves a credential to a principal without any scope
// decision: unknown, deactivated, and expired credentials fail with
// ErrInvalidCredentials, a missing credential with ErrNoCredential, and a
// store failure with ErrUnavailable (fail closed, never open).
func (s *AuthService) Authenticate(ctx context.Context, cred Credential) (*Principal, error) {
	switch cred.Kind {
	case CredentialAPIKey:
		return s.authenticateAPIKey(ctx, cred.Secret)
	case CredentialSession:
		return s.authenticateSession(ctx, cred.Token)
	default:
		return nil, ErrNoCredential
	}
}

// Verify runs the full verification state machine for one request:
// Authenticate, then scope matching for the API-key path. Sessions grant
// blanket access to non-admin-gated services; per-service session scoping
// belongs to the external identity system. Decisions are never cached; a
// toggle or delete takes effect on the very next call.
func (s *AuthService) Verify(ctx context.Context, cred Credential, service string) (*Principal, error) {
	principal, err := s.Authenticate(ctx, cred)
	if err != nil {
		return nil, err
	}

	if principal.Kind == CredentialAPIKey && !principal.Scopes.Matches(service) {
		return nil, ErrScopeDenied
	}

	return principal, nil
}

func (s *AuthService) authenticateAPIKey(ctx context.Context, secret string) (*Principal, error) {
	hash := store.HashSecret(secret)

	lookupCtx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	defer cancel()

	key, err := s.store.GetAPIKeyByHash(lookupCtx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		s.logger.Error("credential store lookup failed", "error", err)
		return nil, ErrUnavailable
	}

	if !key.Usable(time.Now()) {
		return nil, ErrInvalidCredentials
	}

	return &Principal{
		Kind:    CredentialAPIKey,
		KeyID:   key.ID,
		User:    key.User,
		IsAdmin: key.IsAdmin,
		Scopes:  key.Scopes,
	}, nil
}

func (s *AuthService) authenticateSession(ctx context.Context, token string) (*Principal, error) {
	rec, err := s.sessions.Validate(ctx, token)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	return &Principal{
		Kind:    CredentialSession,
		User:    rec.Owner,
		IsAdmin: rec.IsAdmin,
	}, nil
}
