package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voightkampff/vk/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{}) // in-memory sqlite
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testKey(t *testing.T, s *Store, name, user string, scopes ...string) *model.APIKey {
	t.Helper()
	key := &model.APIKey{
		KeyHash:  HashSecret("vk_" + name),
		KeyName:  name,
		User:     user,
		Scopes:   model.ParseScopeSet(scopes),
		IsActive: true,
	}
	if err := s.CreateAPIKey(context.Background(), key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	return key
}

func TestAPIKeyCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key := testKey(t, s, "ci-pipeline", "alice", "tts", "asr")
	if key.ID == 0 {
		t.Fatal("expected non-zero ID after create")
	}

	got, err := s.GetAPIKey(ctx, key.ID)
	if err != nil {
		t.Fatalf("GetAPIKey: %v", err)
	}
	if got.KeyName != "ci-pipeline" || got.User != "alice" {
		t.Errorf("got %q/%q, want ci-pipeline/alice", got.KeyName, got.User)
	}
	if !got.Scopes.Matches("tts") || !got.Scopes.Matches("asr") {
		t.Errorf("scopes did not survive storage: %v", got.Scopes)
	}
	if got.Scopes.Matches("billing") {
		t.Error("stored key matches a service it was never granted")
	}

	byHash, err := s.GetAPIKeyByHash(ctx, key.KeyHash)
	if err != nil {
		t.Fatalf("GetAPIKeyByHash: %v", err)
	}
	if byHash.ID != key.ID {
		t.Errorf("hash lookup found key %d, want %d", byHash.ID, key.ID)
	}

	list, err := s.ListAPIKeys(ctx)
	if err != nil {
		t.Fatalf("ListAPIKeys: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("got %d keys, want 1", len(list))
	}

	if err := s.DeleteAPIKey(ctx, key.ID); err != nil {
		t.Fatalf("DeleteAPIKey: %v", err)
	}
	if _, err := s.GetAPIKey(ctx, key.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if _, err := s.GetAPIKeyByHash(ctx, key.KeyHash); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound by hash after delete, got %v", err)
	}
	if err := s.DeleteAPIKey(ctx, key.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
}

func TestToggleAPIKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key := testKey(t, s, "toggled", "bob", "tts")

	got, err := s.ToggleAPIKey(ctx, key.ID)
	if err != nil {
		t.Fatalf("ToggleAPIKey: %v", err)
	}
	if got.IsActive {
		t.Error("expected key inactive after first toggle")
	}

	got, err = s.ToggleAPIKey(ctx, key.ID)
	if err != nil {
		t.Fatalf("ToggleAPIKey: %v", err)
	}
	if !got.IsActive {
		t.Error("expected key active after second toggle")
	}

	if _, err := s.ToggleAPIKey(ctx, 99999); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown id, got %v", err)
	}
}

func TestDuplicateHashConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	testKey(t, s, "first", "alice", "tts")

	dup := &model.APIKey{
		KeyHash:  HashSecret("vk_first"),
		KeyName:  "second",
		User:     "bob",
		Scopes:   model.ParseScopeSet([]string{"asr"}),
		IsActive: true,
	}
	if err := s.CreateAPIKey(ctx, dup); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict for duplicate hash, got %v", err)
	}
}

func TestDuplicateNameAllowed(t *testing.T) {
	s := newTestStore(t)

	testKey(t, s, "shared-name", "alice", "tts")
	testKey(t, s, "shared-name", "bob", "asr")

	list, err := s.ListAPIKeys(context.Background())
	if err != nil {
		t.Fatalf("ListAPIKeys: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("got %d keys, want 2 independent keys with the same name", len(list))
	}
}

func TestUpdateAPIKeyLastUsed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key := testKey(t, s, "touched", "alice", "tts")
	if key.LastUsed != nil {
		t.Fatal("expected nil last_used on a fresh key")
	}

	if err := s.UpdateAPIKeyLastUsed(ctx, key.ID); err != nil {
		t.Fatalf("UpdateAPIKeyLastUsed: %v", err)
	}

	got, err := s.GetAPIKey(ctx, key.ID)
	if err != nil {
		t.Fatalf("GetAPIKey: %v", err)
	}
	if got.LastUsed == nil {
		t.Fatal("expected last_used to be set")
	}
	if time.Since(*got.LastUsed) > time.Minute {
		t.Errorf("last_used not recent: %v", got.LastUsed)
	}

	if err := s.UpdateAPIKeyLastUsed(ctx, 99999); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown id, got %v", err)
	}
}

func TestAdminAccounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	has, err := s.HasAnyAdmin(ctx)
	if err != nil {
		t.Fatalf("HasAnyAdmin: %v", err)
	}
	if has {
		t.Error("expected no admins in a fresh store")
	}

	admin := &model.Admin{
		Email:        "deckard@example.com",
		PasswordHash: "$2a$10$fakefakefakefakefakefake",
		Name:         "Rick Deckard",
		IsActive:     true,
	}
	if err := s.CreateAdmin(ctx, admin); err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}
	if admin.ID == 0 {
		t.Fatal("expected non-zero admin ID")
	}

	got, err := s.GetAdminByEmail(ctx, "deckard@example.com")
	if err != nil {
		t.Fatalf("GetAdminByEmail: %v", err)
	}
	if got.Name != "Rick Deckard" {
		t.Errorf("got name %q, want Rick Deckard", got.Name)
	}
	if got.LastLoginAt != nil {
		t.Error("expected nil last_login_at before first login")
	}

	if _, err := s.GetAdminByEmail(ctx, "nobody@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown email, got %v", err)
	}

	dup := &model.Admin{Email: "deckard@example.com", PasswordHash: "x", IsActive: true}
	if err := s.CreateAdmin(ctx, dup); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict for duplicate email, got %v", err)
	}

	if err := s.UpdateAdminLastLogin(ctx, admin.ID); err != nil {
		t.Fatalf("UpdateAdminLastLogin: %v", err)
	}
	got, _ = s.GetAdminByEmail(ctx, "deckard@example.com")
	if got.LastLoginAt == nil {
		t.Error("expected last_login_at after UpdateAdminLastLogin")
	}

	has, _ = s.HasAnyAdmin(ctx)
	if !has {
		t.Error("expected HasAnyAdmin true after create")
	}

	admins, err := s.ListAdmins(ctx)
	if err != nil {
		t.Fatalf("ListAdmins: %v", err)
	}
	if len(admins) != 1 {
		t.Errorf("got %d admins, want 1", len(admins))
	}
}

func TestHashSecret(t *testing.T) {
	a := HashSecret("vk_secret")
	b := HashSecret("vk_secret")
	c := HashSecret("vk_other")

	if a != b {
		t.Error("hashing is not deterministic")
	}
	if a == c {
		t.Error("distinct secrets hashed to the same value")
	}
	if len(a) != 64 {
		t.Errorf("got hash length %d, want 64 hex chars", len(a))
	}
}
