package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/voightkampff/vk/internal/session"
	"github.com/voightkampff/vk/internal/store"
)

// SessionService validates browser session cookies as an alternative
// credential to API keys. Tokens are HS256 JWTs whose jti points at a
// server-side record: the signature and hard expiry live in the token,
// revocation and the sliding idle window live in the record.
type SessionService struct {
	store       *store.Store
	sessions    session.Store
	secret      []byte
	idleTTL     time.Duration
	maxLifetime time.Duration
	logger      *slog.Logger
}

// SessionConfig controls session issuance.
type SessionConfig struct {
	Secret      string        // HMAC signing secret
	IdleTTL     time.Duration // sliding window, renewed on activity
	MaxLifetime time.Duration // hard cap regardless of activity
}

// NewSessionService creates a SessionService backed by the given record store.
func NewSessionService(st *store.Store, sessions session.Store, cfg SessionConfig, logger *slog.Logger) *SessionService {
	idle := cfg.IdleTTL
	if idle <= 0 {
		idle = 2 * time.Hour
	}
	max := cfg.MaxLifetime
	if max <= 0 {
		max = 24 * time.Hour
	}
	return &SessionService{
		store:       st,
		sessions:    sessions,
		secret:      []byte(cfg.Secret),
		idleTTL:     idle,
		maxLifetime: max,
		logger:      logger,
	}
}

// IdleTTL returns the sliding session window, used for cookie max-age.
func (s *SessionService) IdleTTL() time.Duration {
	return s.idleTTL
}

type sessionClaims struct {
	Owner string `json:"owner"`
	Admin bool   `json:"admin"`
	jwt.RegisteredClaims
}

// Issue creates a session for an already-authenticated identity and returns
// the cookie token. Credential verification for human login happens before
// this call (Login below, or an external identity flow).
func (s *SessionService) Issue(ctx context.Context, owner string, isAdmin bool, ttl time.Duration) (string, error) {
	if ttl <= 0 || ttl > s.maxLifetime {
		ttl = s.idleTTL
	}

	now := time.Now().UTC()
	id := uuid.NewString()

	claims := sessionClaims{
		Owner: owner,
		Admin: isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Issuer:    "voight-kampff",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.maxLifetime)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}

	rec := session.Record{
		ID:        id,
		Owner:     owner,
		IsAdmin:   isAdmin,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.sessions.Put(ctx, rec); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return token, nil
}

// Validate resolves a cookie token to its session record, renewing the
// sliding window on success. Unknown, revoked, and expired sessions all
// return ErrInvalidCredentials.
func (s *SessionService) Validate(ctx context.Context, token string) (*session.Record, error) {
	claims, err := s.parse(token)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	rec, err := s.sessions.Get(ctx, claims.ID)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	// Renew on activity, capped at the token's hard expiry.
	newExpiry := time.Now().UTC().Add(s.idleTTL)
	if hard := claims.ExpiresAt; hard != nil && newExpiry.After(hard.Time) {
		newExpiry = hard.Time
	}
	if err := s.sessions.Touch(ctx, rec.ID, newExpiry); err != nil {
		// Renewal is best-effort; the session stays valid until its
		// current expiry either way.
		s.logger.Warn("session renewal failed", "session_id", rec.ID, "error", err)
	}

	return rec, nil
}

// Revoke destroys the server-side record for a token, ending the session
// immediately regardless of the token's remaining lifetime.
func (s *SessionService) Revoke(ctx context.Context, token string) error {
	claims, err := s.parse(token)
	if err != nil {
		return ErrInvalidCredentials
	}
	if err := s.sessions.Delete(ctx, claims.ID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return ErrInvalidCredentials
		}
		return err
	}
	return nil
}

// Login verifies an admin's password and issues a session. This is the
// built-in identity check; deployments with an external identity provider
// call Issue directly from their own login flow.
func (s *SessionService) Login(ctx context.Context, email, password string) (string, error) {
	admin, err := s.store.GetAdminByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("look up admin: %w", err)
	}
	if !admin.IsActive {
		return "", ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)) != nil {
		return "", ErrInvalidCredentials
	}

	token, err := s.Issue(ctx, admin.Email, true, s.idleTTL)
	if err != nil {
		return "", err
	}

	// Last-login is advisory, like last_used on keys.
	adminID := admin.ID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.store.UpdateAdminLastLogin(ctx, adminID); err != nil {
			s.logger.Warn("update admin last login failed", "admin_id", adminID, "error", err)
		}
	}()

	return token, nil
}

func (s *SessionService) parse(token string) (*sessionClaims, error) {
	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidCredentials
	}
	return claims, nil
}
