// Package httphandler is the HTTP driving adapter: health endpoints, the
// admin key-management API, and the catch-all gateway proxy.
package httphandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/newnol/vercel-lb/internal/application"
	"github.com/newnol/vercel-lb/internal/domain/model"
	"github.com/newnol/vercel-lb/internal/domain/port/driven"
)

// Handler serves the local endpoints: health, pool status, forced refresh,
// and the admin key CRUD.
type Handler struct {
	pool     *application.Pool
	keySvc   *application.KeyService
	keyStore driven.ClientKeyStore
	usage    driven.UsageStore
	logger   *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	pool *application.Pool,
	keySvc *application.KeyService,
	keyStore driven.ClientKeyStore,
	usage driven.UsageStore,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		pool:     pool,
		keySvc:   keySvc,
		keyStore: keyStore,
		usage:    usage,
		logger:   logger,
	}
}

// NewServeMux assembles the full request pipeline: local routes plus the
// proxy catch-all, wrapped with the auth gate, logging, and panic recovery.
func NewServeMux(h *Handler, proxy *Proxy, gateMW *Gate, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /lb/health", h.PoolHealth)
	mux.HandleFunc("POST /lb/refresh", h.ForceRefresh)
	mux.HandleFunc("POST /admin/keys", h.CreateKey)
	mux.HandleFunc("GET /admin/keys", h.ListKeys)
	mux.HandleFunc("GET /admin/keys/{id}", h.GetKey)
	mux.HandleFunc("PATCH /admin/keys/{id}", h.UpdateKey)
	mux.HandleFunc("DELETE /admin/keys/{id}", h.DeleteKey)
	mux.Handle("/", proxy)

	// Gate outside the mux so the proxy catch-all is covered too; recovery
	// innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = gateMW.middleware(wrapped)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// keyInfoResponse is the JSON representation of a client key. The hash and
// the raw secret never appear here.
type keyInfoResponse struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	CreatedAt string  `json:"created_at"`
	ExpiresAt *string `json:"expires_at"`
	RateLimit int     `json:"rate_limit"`
	IsActive  bool    `json:"is_active"`
}

func toKeyInfoResponse(key model.ClientKey) keyInfoResponse {
	resp := keyInfoResponse{
		ID:        key.ID,
		Name:      key.Name,
		CreatedAt: key.CreatedAt.UTC().Format(time.RFC3339),
		RateLimit: key.RateLimit,
		IsActive:  key.IsActive,
	}
	if key.ExpiresAt != nil {
		expires := key.ExpiresAt.UTC().Format(time.RFC3339)
		resp.ExpiresAt = &expires
	}
	return resp
}

// Health is the liveness endpoint.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// PoolHealth reports the state of every upstream key and the pool's total
// remaining balance.
func (h *Handler) PoolHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"vercel_keys":   h.pool.Status(),
		"total_balance": h.pool.TotalBalance(),
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	})
}

// ForceRefresh reloads the key list and refreshes every balance immediately.
func (h *Handler) ForceRefresh(w http.ResponseWriter, r *http.Request) {
	h.pool.RefreshAll(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "keys refreshed",
		"keys_count": h.pool.Count(),
	})
}

// createKeyRequest is the JSON body for the create key endpoint.
type createKeyRequest struct {
	Name          string `json:"name"`
	RateLimit     int    `json:"rate_limit"`
	ExpiresInDays int    `json:"expires_in_days"`
}

// CreateKey mints a new client key and returns the raw secret exactly once.
func (h *Handler) CreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errTypeInvalidRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, errTypeInvalidRequest, "name is required")
		return
	}
	if req.RateLimit < 0 || req.ExpiresInDays < 0 {
		writeError(w, http.StatusBadRequest, errTypeInvalidRequest, "rate_limit and expires_in_days must not be negative")
		return
	}

	key, secret, err := h.keySvc.CreateKey(r.Context(), req.Name, req.RateLimit, req.ExpiresInDays)
	if err != nil {
		h.logger.Error("key creation failed", "error", err)
		writeError(w, http.StatusInternalServerError, errTypeServer, "internal server error")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"key":      secret,
		"key_info": toKeyInfoResponse(key),
		"warning":  "Save this key now. It cannot be retrieved again.",
	})
}

// ListKeys returns every client key, newest first.
func (h *Handler) ListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keyStore.List(r.Context())
	if err != nil {
		h.logger.Error("key listing failed", "error", err)
		writeError(w, http.StatusInternalServerError, errTypeServer, "internal server error")
		return
	}

	resp := make([]keyInfoResponse, 0, len(keys))
	for _, key := range keys {
		resp = append(resp, toKeyInfoResponse(key))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"keys":  resp,
		"total": len(resp),
	})
}

// GetKey returns a single client key with its usage statistics.
func (h *Handler) GetKey(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	key, err := h.keyStore.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("key lookup failed", "key_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, errTypeServer, "internal server error")
		return
	}
	if key == nil {
		writeError(w, http.StatusNotFound, errTypeInvalidRequest, "key not found")
		return
	}

	stats, err := h.usage.Stats(r.Context(), id)
	if err != nil {
		h.logger.Error("usage stats failed", "key_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, errTypeServer, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"key_info": toKeyInfoResponse(*key),
		"stats":    stats,
	})
}

// updateKeyRequest is the JSON body for the update key endpoint. Absent
// fields are left unchanged.
type updateKeyRequest struct {
	Name          *string `json:"name"`
	RateLimit     *int    `json:"rate_limit"`
	IsActive      *bool   `json:"is_active"`
	ExpiresInDays *int    `json:"expires_in_days"`
}

// UpdateKey applies a partial update to a client key.
func (h *Handler) UpdateKey(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req updateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errTypeInvalidRequest, "invalid JSON body")
		return
	}

	update := driven.ClientKeyUpdate{
		Name:      req.Name,
		RateLimit: req.RateLimit,
		IsActive:  req.IsActive,
	}
	if req.ExpiresInDays != nil {
		expires := time.Now().UTC().AddDate(0, 0, *req.ExpiresInDays)
		update.ExpiresAt = &expires
	}

	key, err := h.keyStore.Update(r.Context(), id, update)
	if err != nil {
		if errors.Is(err, driven.ErrKeyNotFound) {
			writeError(w, http.StatusNotFound, errTypeInvalidRequest, "key not found")
			return
		}
		h.logger.Error("key update failed", "key_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, errTypeServer, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "key updated",
		"key_info": toKeyInfoResponse(*key),
	})
}

// DeleteKey removes a client key and its usage history.
func (h *Handler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.keyStore.Delete(r.Context(), id); err != nil {
		if errors.Is(err, driven.ErrKeyNotFound) {
			writeError(w, http.StatusNotFound, errTypeInvalidRequest, "key not found")
			return
		}
		h.logger.Error("key deletion failed", "key_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, errTypeServer, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "key deleted"})
}
