package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/voightkampff/vk/internal/model"
	"github.com/voightkampff/vk/internal/store"
)

// secretPrefix identifies minted secrets in logs and support tickets without
// revealing anything about them.
const secretPrefix = "vk_"

// KeyService owns the API key lifecycle. It is the only path that mints
// plaintext secrets; everything else sees hashes.
type KeyService struct {
	store  *store.Store
	logger *slog.Logger
}

// NewKeyService creates a KeyService.
func NewKeyService(st *store.Store, logger *slog.Logger) *KeyService {
	return &KeyService{store: st, logger: logger}
}

// CreateKeyInput are the caller-supplied fields for minting a key.
type CreateKeyInput struct {
	KeyName       string
	User          string
	Scopes        []string
	ExpiresInDays *int // nil means the key never expires
	IsAdmin       bool
}

// Create generates a fresh secret, persists its hash, and returns the record
// together with the plaintext. The plaintext is returned exactly once and
// never persisted.
func (s *KeyService) Create(ctx context.Context, in CreateKeyInput) (*model.APIKey, string, error) {
	if strings.TrimSpace(in.KeyName) == "" {
		return nil, "", fmt.Errorf("%w: key_name is required", ErrInvalidArgument)
	}
	if strings.TrimSpace(in.User) == "" {
		return nil, "", fmt.Errorf("%w: user is required", ErrInvalidArgument)
	}
	scopes := model.ParseScopeSet(in.Scopes)
	if len(scopes) == 0 {
		return nil, "", fmt.Errorf("%w: at least one scope is required", ErrInvalidArgument)
	}

	var expiresAt *time.Time
	if in.ExpiresInDays != nil {
		t := time.Now().UTC().Add(time.Duration(*in.ExpiresInDays) * 24 * time.Hour)
		expiresAt = &t
	}

	// A hash collision between two independently generated secrets is
	// cryptographically negligible; if the store still reports one,
	// regenerate once and give up after that.
	for attempt := 0; attempt < 2; attempt++ {
		plaintext, err := mintSecret()
		if err != nil {
			return nil, "", fmt.Errorf("generate secret: %w", err)
		}

		key := &model.APIKey{
			KeyHash:   store.HashSecret(plaintext),
			KeyName:   strings.TrimSpace(in.KeyName),
			User:      strings.TrimSpace(in.User),
			Scopes:    scopes,
			IsAdmin:   in.IsAdmin,
			IsActive:  true,
			ExpiresAt: expiresAt,
		}

		if err := s.store.CreateAPIKey(ctx, key); err != nil {
			if errors.Is(err, store.ErrConflict) {
				s.logger.Warn("api key hash collision, regenerating", "attempt", attempt+1)
				continue
			}
			return nil, "", err
		}
		return key, plaintext, nil
	}

	return nil, "", fmt.Errorf("%w: duplicate secret hash", ErrConflict)
}

// List returns all keys ordered by creation time. Hashes are excluded from
// serialization at the model level; no secrets ever leave this package.
func (s *KeyService) List(ctx context.Context) ([]model.APIKey, error) {
	return s.store.ListAPIKeys(ctx)
}

// Toggle flips a key's active flag and returns the updated record. The
// change takes effect on the very next verification; decisions are never
// cached.
func (s *KeyService) Toggle(ctx context.Context, id int64) (*model.APIKey, error) {
	return s.store.ToggleAPIKey(ctx, id)
}

// Delete removes a key permanently. A second delete of the same ID reports
// store.ErrNotFound.
func (s *KeyService) Delete(ctx context.Context, id int64) error {
	return s.store.DeleteAPIKey(ctx, id)
}

// TouchLastUsed records key usage in the background. It never blocks the
// caller and never fails verification: the timestamp is observability, not
// part of the authorization decision.
func (s *KeyService) TouchLastUsed(id int64) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.store.UpdateAPIKeyLastUsed(ctx, id); err != nil {
			s.logger.Warn("update last_used failed", "key_id", id, "error", err)
		}
	}()
}

// mintSecret generates a 32-byte random secret rendered as an opaque string.
func mintSecret() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return secretPrefix + hex.EncodeToString(raw), nil
}
