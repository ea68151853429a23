package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/voightkampff/vk/internal/metrics"
	"github.com/voightkampff/vk/internal/model"
	"github.com/voightkampff/vk/internal/service"
	"github.com/voightkampff/vk/internal/store"
)

// KeysHandler serves the key management API.
type KeysHandler struct {
	keys    *service.KeyService
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewKeysHandler creates a KeysHandler.
func NewKeysHandler(keys *service.KeyService, m *metrics.Metrics, logger *slog.Logger) *KeysHandler {
	return &KeysHandler{keys: keys, metrics: m, logger: logger}
}

type createKeyRequest struct {
	KeyName       string   `json:"key_name"`
	User          string   `json:"user"`
	Scopes        []string `json:"scopes"`
	ExpiresInDays *int     `json:"expires_in_days"`
	IsAdmin       bool     `json:"is_admin"`
}

type createKeyResponse struct {
	model.APIKey
	// APIKey is the plaintext secret, surfaced in this response and nowhere
	// else. It cannot be retrieved again.
	PlainKey string `json:"api_key"`
}

// Create handles POST /keys.
func (h *KeysHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	key, plaintext, err := h.keys.Create(r.Context(), service.CreateKeyInput{
		KeyName:       req.KeyName,
		User:          req.User,
		Scopes:        req.Scopes,
		ExpiresInDays: req.ExpiresInDays,
		IsAdmin:       req.IsAdmin,
	})
	if err != nil {
		h.writeKeyError(w, err)
		return
	}

	h.metrics.KeyOpsTotal.WithLabelValues("create").Inc()
	h.logger.Info("api key created", "key_id", key.ID, "key_name", key.KeyName, "user", key.User)
	writeJSON(w, http.StatusCreated, createKeyResponse{APIKey: *key, PlainKey: plaintext})
}

// List handles GET /keys. Hashes and plaintext secrets are never included.
func (h *KeysHandler) List(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keys.List(r.Context())
	if err != nil {
		h.writeKeyError(w, err)
		return
	}
	if keys == nil {
		keys = []model.APIKey{}
	}

	h.metrics.KeyOpsTotal.WithLabelValues("list").Inc()
	writeJSON(w, http.StatusOK, keys)
}

// Toggle handles PATCH /keys/{id}/toggle.
func (h *KeysHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	id, ok := h.keyID(w, r)
	if !ok {
		return
	}

	key, err := h.keys.Toggle(r.Context(), id)
	if err != nil {
		h.writeKeyError(w, err)
		return
	}

	h.metrics.KeyOpsTotal.WithLabelValues("toggle").Inc()
	h.logger.Info("api key toggled", "key_id", key.ID, "is_active", key.IsActive)
	writeJSON(w, http.StatusOK, key)
}

// Delete handles DELETE /keys/{id}.
func (h *KeysHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.keyID(w, r)
	if !ok {
		return
	}

	if err := h.keys.Delete(r.Context(), id); err != nil {
		h.writeKeyError(w, err)
		return
	}

	h.metrics.KeyOpsTotal.WithLabelValues("delete").Inc()
	h.logger.Info("api key deleted", "key_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *KeysHandler) keyID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid key id")
		return 0, false
	}
	return id, true
}

func (h *KeysHandler) writeKeyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidArgument):
		writeDetail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeDetail(w, http.StatusNotFound, "key not found")
	case errors.Is(err, service.ErrConflict):
		writeDetail(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("key operation failed", "error", err)
		writeDetail(w, http.StatusInternalServerError, "internal error")
	}
}
