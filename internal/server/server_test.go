package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/voightkampff/vk/internal/metrics"
	"github.com/voightkampff/vk/internal/model"
	"github.com/voightkampff/vk/internal/service"
	"github.com/voightkampff/vk/internal/session"
	"github.com/voightkampff/vk/internal/store"
)

const testPassword = "electric-sheep"

// testEnv holds the shared state for integration tests.
type testEnv struct {
	server *Server
	store  *store.Store
	keys   *service.KeyService
}

// newTestEnv creates a fresh environment with an in-memory store and a fully
// wired Server.
func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	st, err := store.Open(store.Config{}) // in-memory SQLite
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	mem := session.NewMemory()
	t.Cleanup(func() { mem.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessionSvc := service.NewSessionService(st, mem, service.SessionConfig{Secret: "test-secret"}, logger)
	authSvc := service.NewAuthService(st, sessionSvc, 0, logger)
	keySvc := service.NewKeyService(st, logger)

	cfg := DefaultConfig()
	cfg.LoginRatePerMinute = 0 // keep repeated login tests out of the limiter
	if mutate != nil {
		mutate(&cfg)
	}
	srv := New(cfg, st, mem, authSvc, keySvc, sessionSvc, metrics.New(), logger)

	return &testEnv{server: srv, store: st, keys: keySvc}
}

// seedAdmin creates an admin account the login endpoint accepts.
func (e *testEnv) seedAdmin(t *testing.T) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	admin := &model.Admin{
		Email:        "admin@example.com",
		PasswordHash: string(hash),
		Name:         "Test Admin",
		IsActive:     true,
	}
	if err := e.store.CreateAdmin(context.Background(), admin); err != nil {
		t.Fatalf("seedAdmin: %v", err)
	}
}

// mintKey creates an API key directly through the service and returns its
// record and plaintext.
func (e *testEnv) mintKey(t *testing.T, scopes []string, admin bool) (*model.APIKey, string) {
	t.Helper()
	key, plaintext, err := e.keys.Create(context.Background(), service.CreateKeyInput{
		KeyName: "test key",
		User:    "alice",
		Scopes:  scopes,
		IsAdmin: admin,
	})
	if err != nil {
		t.Fatalf("mintKey: %v", err)
	}
	return key, plaintext
}

// do executes a request against the test server.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr
}

// verify issues GET /verify with a bearer key against a service name.
func (e *testEnv) verify(t *testing.T, plaintext, svc string) *httptest.ResponseRecorder {
	t.Helper()
	headers := map[string]string{"X-Forwarded-Service": svc}
	if plaintext != "" {
		headers["Authorization"] = "Bearer " + plaintext
	}
	return e.do(t, "GET", "/verify", nil, headers)
}

func jsonBody(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("jsonBody: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Health and docs
// ---------------------------------------------------------------------------

func TestHealthEndpoints(t *testing.T) {
	e := newTestEnv(t, nil)

	for _, path := range []string{"/", "/health"} {
		rr := e.do(t, "GET", path, nil, nil)
		assertStatus(t, rr, http.StatusOK)
		if !strings.Contains(rr.Body.String(), `"operational"`) {
			t.Errorf("%s body = %s, want operational status", path, rr.Body.String())
		}
	}

	rr := e.do(t, "GET", "/healthz", nil, nil)
	assertStatus(t, rr, http.StatusOK)

	rr = e.do(t, "GET", "/readyz", nil, nil)
	assertStatus(t, rr, http.StatusOK)
}

func TestOpenAPIDocument(t *testing.T) {
	e := newTestEnv(t, nil)

	rr := e.do(t, "GET", "/openapi.json", nil, nil)
	assertStatus(t, rr, http.StatusOK)

	var doc struct {
		OpenAPI string                 `json:"openapi"`
		Paths   map[string]interface{} `json:"paths"`
	}
	decodeJSON(t, rr, &doc)
	if doc.OpenAPI == "" {
		t.Error("missing openapi version")
	}
	for _, p := range []string{"/verify", "/keys", "/session"} {
		if _, ok := doc.Paths[p]; !ok {
			t.Errorf("document missing path %s", p)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestEnv(t, nil)

	_, plaintext := e.mintKey(t, []string{"tts"}, false)
	e.verify(t, plaintext, "tts")

	rr := e.do(t, "GET", "/metrics", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	if !strings.Contains(rr.Body.String(), "vk_verify_requests_total") {
		t.Error("metrics output missing verification counter")
	}
}

// ---------------------------------------------------------------------------
// Verification
// ---------------------------------------------------------------------------

func TestVerifyAllowed(t *testing.T) {
	e := newTestEnv(t, nil)
	_, plaintext := e.mintKey(t, []string{"tts", "asr"}, false)

	rr := e.verify(t, plaintext, "tts")
	assertStatus(t, rr, http.StatusOK)

	if got := rr.Header().Get("X-VK-User"); got != "alice" {
		t.Errorf("X-VK-User = %q, want alice", got)
	}
	if got := rr.Header().Get("X-VK-Service"); got != "tts" {
		t.Errorf("X-VK-Service = %q, want tts", got)
	}
	if got := rr.Header().Get("X-VK-Scopes"); got != "tts,asr" {
		t.Errorf("X-VK-Scopes = %q, want tts,asr", got)
	}
	if got := rr.Header().Get("X-VK-Admin"); got != "" {
		t.Errorf("X-VK-Admin = %q, want unset for non-admin key", got)
	}

	var resp struct {
		Valid   bool   `json:"valid"`
		User    string `json:"user"`
		Service string `json:"service"`
	}
	decodeJSON(t, rr, &resp)
	if !resp.Valid || resp.User != "alice" || resp.Service != "tts" {
		t.Errorf("body = %+v", resp)
	}
}

func TestVerifyDenials(t *testing.T) {
	e := newTestEnv(t, nil)
	_, plaintext := e.mintKey(t, []string{"tts"}, false)

	tests := []struct {
		name string
		key  string
		svc  string
		want int
	}{
		{"no credential", "", "tts", http.StatusUnauthorized},
		{"unknown key", "vk_bogus", "tts", http.StatusUnauthorized},
		{"out of scope", plaintext, "billing", http.StatusForbidden},
		{"empty service literal scopes", plaintext, "", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := e.verify(t, tt.key, tt.svc)
			assertStatus(t, rr, tt.want)
			if rr.Header().Get("X-VK-User") != "" {
				t.Error("denial must not leak identity headers")
			}
			var resp struct {
				Detail string `json:"detail"`
			}
			decodeJSON(t, rr, &resp)
			if resp.Detail == "" {
				t.Error("denial body missing detail")
			}
		})
	}
}

func TestVerifyServiceFromForwardedHost(t *testing.T) {
	e := newTestEnv(t, nil)
	_, plaintext := e.mintKey(t, []string{"tts"}, false)

	rr := e.do(t, "GET", "/verify", nil, map[string]string{
		"Authorization":    "Bearer " + plaintext,
		"X-Forwarded-Host": "tts.example.com",
	})
	assertStatus(t, rr, http.StatusOK)
	if got := rr.Header().Get("X-VK-Service"); got != "tts" {
		t.Errorf("X-VK-Service = %q, want first label of forwarded host", got)
	}

	// An explicit service header wins over the host.
	rr = e.do(t, "GET", "/verify", nil, map[string]string{
		"Authorization":       "Bearer " + plaintext,
		"X-Forwarded-Service": "billing",
		"X-Forwarded-Host":    "tts.example.com",
	})
	assertStatus(t, rr, http.StatusForbidden)
}

func TestVerifyToggleTakesEffectImmediately(t *testing.T) {
	e := newTestEnv(t, nil)
	key, plaintext := e.mintKey(t, []string{"tts"}, false)

	assertStatus(t, e.verify(t, plaintext, "tts"), http.StatusOK)

	rr := e.do(t, "PATCH", "/keys/"+itoa(key.ID)+"/toggle", nil, nil)
	assertStatus(t, rr, http.StatusOK)

	assertStatus(t, e.verify(t, plaintext, "tts"), http.StatusUnauthorized)

	rr = e.do(t, "PATCH", "/keys/"+itoa(key.ID)+"/toggle", nil, nil)
	assertStatus(t, rr, http.StatusOK)

	assertStatus(t, e.verify(t, plaintext, "tts"), http.StatusOK)
}

func TestVerifyDeleteTakesEffectImmediately(t *testing.T) {
	e := newTestEnv(t, nil)
	key, plaintext := e.mintKey(t, []string{"*"}, false)

	assertStatus(t, e.verify(t, plaintext, "anything"), http.StatusOK)

	rr := e.do(t, "DELETE", "/keys/"+itoa(key.ID), nil, nil)
	assertStatus(t, rr, http.StatusNoContent)

	assertStatus(t, e.verify(t, plaintext, "anything"), http.StatusUnauthorized)

	rr = e.do(t, "DELETE", "/keys/"+itoa(key.ID), nil, nil)
	assertStatus(t, rr, http.StatusNotFound)
}

func TestVerifyConcurrentCallers(t *testing.T) {
	e := newTestEnv(t, nil)
	key, plaintext := e.mintKey(t, []string{"tts"}, false)

	const callers = 16
	codes := make([]int, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := httptest.NewRequest("GET", "/verify", nil)
			req.Header.Set("Authorization", "Bearer "+plaintext)
			req.Header.Set("X-Forwarded-Service", "tts")
			rr := httptest.NewRecorder()
			e.server.ServeHTTP(rr, req)
			codes[i] = rr.Code
		}(i)
	}
	wg.Wait()

	for i, code := range codes {
		if code != http.StatusOK {
			t.Errorf("caller %d: status = %d, want 200", i, code)
		}
	}

	// The last_used touches run after the responses; wait for one to land.
	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := e.store.GetAPIKey(context.Background(), key.ID)
		if err != nil {
			t.Fatalf("GetAPIKey: %v", err)
		}
		if got.LastUsed != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("last_used was never set after concurrent verifications")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestVerifyAdminGate(t *testing.T) {
	e := newTestEnv(t, func(cfg *Config) {
		cfg.AdminServices = []string{"vault"}
	})
	_, userKey := e.mintKey(t, []string{"*"}, false)
	_, adminKey := e.mintKey(t, []string{"*"}, true)

	assertStatus(t, e.verify(t, userKey, "vault"), http.StatusForbidden)

	rr := e.verify(t, adminKey, "vault")
	assertStatus(t, rr, http.StatusOK)
	if got := rr.Header().Get("X-VK-Admin"); got != "true" {
		t.Errorf("X-VK-Admin = %q, want true", got)
	}

	// The gate only applies to gated services.
	assertStatus(t, e.verify(t, userKey, "tts"), http.StatusOK)
}

// ---------------------------------------------------------------------------
// Key management API
// ---------------------------------------------------------------------------

func TestKeyLifecycleOverHTTP(t *testing.T) {
	e := newTestEnv(t, nil)

	body := jsonBody(t, map[string]interface{}{
		"key_name": "CI pipeline",
		"user":     "alice",
		"scopes":   []string{"tts", "asr"},
	})
	rr := e.do(t, "POST", "/keys", body, nil)
	assertStatus(t, rr, http.StatusCreated)

	var created struct {
		ID       int64    `json:"id"`
		KeyName  string   `json:"key_name"`
		Scopes   []string `json:"scopes"`
		IsActive bool     `json:"is_active"`
		PlainKey string   `json:"api_key"`
	}
	decodeJSON(t, rr, &created)
	if created.PlainKey == "" || !strings.HasPrefix(created.PlainKey, "vk_") {
		t.Fatalf("api_key = %q, want one-time plaintext", created.PlainKey)
	}
	if !created.IsActive {
		t.Error("created key should be active")
	}

	// The minted key verifies right away.
	assertStatus(t, e.verify(t, created.PlainKey, "tts"), http.StatusOK)

	// Listing never exposes the plaintext or hash.
	rr = e.do(t, "GET", "/keys", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	listBody := rr.Body.String()
	if strings.Contains(listBody, created.PlainKey) {
		t.Error("list response leaked the plaintext key")
	}
	if strings.Contains(listBody, "key_hash") || strings.Contains(listBody, store.HashSecret(created.PlainKey)) {
		t.Error("list response leaked the key hash")
	}

	var list []map[string]interface{}
	if err := json.Unmarshal([]byte(listBody), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("got %d keys, want 1", len(list))
	}

	rr = e.do(t, "DELETE", "/keys/"+itoa(created.ID), nil, nil)
	assertStatus(t, rr, http.StatusNoContent)
}

func TestCreateKeyValidationOverHTTP(t *testing.T) {
	e := newTestEnv(t, nil)

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing key_name", map[string]interface{}{"user": "a", "scopes": []string{"tts"}}},
		{"missing user", map[string]interface{}{"key_name": "k", "scopes": []string{"tts"}}},
		{"empty scopes", map[string]interface{}{"key_name": "k", "user": "a", "scopes": []string{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := e.do(t, "POST", "/keys", jsonBody(t, tt.body), nil)
			assertStatus(t, rr, http.StatusBadRequest)
			var resp struct {
				Detail string `json:"detail"`
			}
			decodeJSON(t, rr, &resp)
			if resp.Detail == "" {
				t.Error("error body missing detail")
			}
		})
	}

	rr := e.do(t, "POST", "/keys", strings.NewReader("{not json"), nil)
	assertStatus(t, rr, http.StatusBadRequest)
}

func TestKeyNotFoundOverHTTP(t *testing.T) {
	e := newTestEnv(t, nil)

	rr := e.do(t, "DELETE", "/keys/9999", nil, nil)
	assertStatus(t, rr, http.StatusNotFound)

	rr = e.do(t, "PATCH", "/keys/9999/toggle", nil, nil)
	assertStatus(t, rr, http.StatusNotFound)

	rr = e.do(t, "DELETE", "/keys/not-a-number", nil, nil)
	assertStatus(t, rr, http.StatusBadRequest)
}

func TestProtectedManagementAPI(t *testing.T) {
	e := newTestEnv(t, func(cfg *Config) {
		cfg.ProtectManagement = true
	})
	_, userKey := e.mintKey(t, []string{"tts"}, false)
	_, adminKey := e.mintKey(t, []string{"tts"}, true)

	rr := e.do(t, "GET", "/keys", nil, nil)
	assertStatus(t, rr, http.StatusUnauthorized)

	rr = e.do(t, "GET", "/keys", nil, map[string]string{"Authorization": "Bearer " + userKey})
	assertStatus(t, rr, http.StatusForbidden)

	rr = e.do(t, "GET", "/keys", nil, map[string]string{"Authorization": "Bearer " + adminKey})
	assertStatus(t, rr, http.StatusOK)

	// Verification stays open regardless.
	assertStatus(t, e.verify(t, userKey, "tts"), http.StatusOK)
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

func TestSessionLoginFlow(t *testing.T) {
	e := newTestEnv(t, nil)
	e.seedAdmin(t)

	body := jsonBody(t, map[string]string{
		"email":    "admin@example.com",
		"password": testPassword,
	})
	rr := e.do(t, "POST", "/session", body, nil)
	assertStatus(t, rr, http.StatusOK)

	var cookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == "vk_session" {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("login did not set vk_session cookie")
	}
	if !cookie.HttpOnly {
		t.Error("session cookie must be HttpOnly")
	}
	if strings.Contains(rr.Body.String(), cookie.Value) {
		t.Error("session token leaked into the response body")
	}

	// The cookie verifies as a credential and carries admin.
	req := httptest.NewRequest("GET", "/verify", nil)
	req.Header.Set("X-Forwarded-Service", "tts")
	req.AddCookie(cookie)
	vr := httptest.NewRecorder()
	e.server.ServeHTTP(vr, req)
	assertStatus(t, vr, http.StatusOK)
	if got := vr.Header().Get("X-VK-Admin"); got != "true" {
		t.Errorf("X-VK-Admin = %q, want true for admin session", got)
	}

	// Logout revokes server-side; the same cookie stops working.
	lreq := httptest.NewRequest("DELETE", "/session", nil)
	lreq.AddCookie(cookie)
	lr := httptest.NewRecorder()
	e.server.ServeHTTP(lr, lreq)
	assertStatus(t, lr, http.StatusNoContent)

	req = httptest.NewRequest("GET", "/verify", nil)
	req.Header.Set("X-Forwarded-Service", "tts")
	req.AddCookie(cookie)
	vr = httptest.NewRecorder()
	e.server.ServeHTTP(vr, req)
	assertStatus(t, vr, http.StatusUnauthorized)
}

func TestSessionLoginRejected(t *testing.T) {
	e := newTestEnv(t, nil)
	e.seedAdmin(t)

	rr := e.do(t, "POST", "/session", jsonBody(t, map[string]string{
		"email":    "admin@example.com",
		"password": "wrong",
	}), nil)
	assertStatus(t, rr, http.StatusUnauthorized)

	rr = e.do(t, "POST", "/session", jsonBody(t, map[string]string{
		"email": "admin@example.com",
	}), nil)
	assertStatus(t, rr, http.StatusBadRequest)
}

func TestBearerHeaderBeatsCookie(t *testing.T) {
	e := newTestEnv(t, nil)
	_, plaintext := e.mintKey(t, []string{"tts"}, false)

	// A garbage cookie alongside a valid bearer key: the header wins and the
	// cookie is never consulted.
	req := httptest.NewRequest("GET", "/verify", nil)
	req.Header.Set("Authorization", "Bearer "+plaintext)
	req.Header.Set("X-Forwarded-Service", "tts")
	req.AddCookie(&http.Cookie{Name: "vk_session", Value: "garbage"})
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	assertStatus(t, rr, http.StatusOK)

	// A garbage bearer key alongside nothing else fails even if a valid
	// session could have been used.
	req = httptest.NewRequest("GET", "/verify", nil)
	req.Header.Set("Authorization", "Bearer vk_garbage")
	req.Header.Set("X-Forwarded-Service", "tts")
	rr = httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	assertStatus(t, rr, http.StatusUnauthorized)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
