package model

import "time"

// APIKey represents an API key used to authenticate requests against the
// services behind the proxy. The raw secret is never stored; only a SHA-256
// hash is persisted, and the plaintext is returned exactly once at creation.
type APIKey struct {
	ID        int64      `json:"id" db:"id"`
	KeyHash   string     `json:"-" db:"key_hash"` // SHA-256 hash, never expose
	KeyName   string     `json:"key_name" db:"key_name"`
	User      string     `json:"user" db:"user"`
	Scopes    ScopeSet   `json:"scopes" db:"scopes"`
	IsAdmin   bool       `json:"is_admin" db:"is_admin"`
	IsActive  bool       `json:"is_active" db:"is_active"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	LastUsed  *time.Time `json:"last_used" db:"last_used"`
	ExpiresAt *time.Time `json:"expires_at" db:"expires_at"`
}

// Expired reports whether the key's expiry has passed. Keys with no expiry
// never expire.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && k.ExpiresAt.Before(now)
}

// Usable reports whether the key can authenticate a request right now.
// An expired key is treated identically to a deactivated one.
func (k *APIKey) Usable(now time.Time) bool {
	return k.IsActive && !k.Expired(now)
}
