package httphandler

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/newnol/vercel-lb/internal/domain/model"
	"github.com/newnol/vercel-lb/internal/domain/port/driven"
)

// rateWindow is the trailing window over which per-key request limits apply.
const rateWindow = 60 * time.Second

type ctxKey int

const clientKeyCtxKey ctxKey = iota

// clientKeyFrom returns the authenticated client key attached to the request
// context by the gate, or nil for public and admin requests.
func clientKeyFrom(ctx context.Context) *model.ClientKey {
	key, _ := ctx.Value(clientKeyCtxKey).(*model.ClientKey)
	return key
}

// Gate authenticates every request before it reaches a handler. Public paths
// pass through untouched; admin paths require the admin secret; everything
// else requires a valid client key and an open rate-limit window. Successful
// client requests get a usage entry once the handler finishes.
type Gate struct {
	adminSecret string
	keys        driven.ClientKeyStore
	usage       driven.UsageStore
	logger      *slog.Logger
}

// NewGate creates the authentication gate used by NewServeMux.
func NewGate(adminSecret string, keys driven.ClientKeyStore, usage driven.UsageStore, logger *slog.Logger) *Gate {
	return &Gate{adminSecret: adminSecret, keys: keys, usage: usage, logger: logger}
}

func (g *Gate) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		if isPublicPath(path) {
			next.ServeHTTP(w, r)
			return
		}

		token := bearerToken(r)

		if isAdminPath(path) {
			if subtle.ConstantTimeCompare([]byte(token), []byte(g.adminSecret)) != 1 {
				writeError(w, http.StatusUnauthorized, errTypeAuthentication, "Invalid admin credentials")
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		key, err := g.keys.ValidateSecret(r.Context(), token)
		if err != nil {
			g.logger.Error("client key validation failed", "error", err)
			writeError(w, http.StatusInternalServerError, errTypeServer, "internal server error")
			return
		}
		if key == nil {
			writeError(w, http.StatusUnauthorized, errTypeAuthentication, "Invalid API key")
			return
		}

		if key.RateLimit > 0 {
			count, err := g.usage.CountSince(r.Context(), key.ID, time.Now().UTC().Add(-rateWindow))
			if err != nil {
				g.logger.Error("rate limit check failed", "key_id", key.ID, "error", err)
				writeError(w, http.StatusInternalServerError, errTypeServer, "internal server error")
				return
			}
			if count >= key.RateLimit {
				writeError(w, http.StatusTooManyRequests, errTypeRateLimit,
					"Rate limit exceeded. Try again later.")
				return
			}
		}

		ctx := context.WithValue(r.Context(), clientKeyCtxKey, key)
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r.WithContext(ctx))

		if sw.status < http.StatusBadRequest {
			// The client may already be gone by now; log the usage anyway.
			if err := g.usage.Record(context.WithoutCancel(r.Context()), key.ID, path, nil, nil); err != nil {
				g.logger.Error("usage logging failed", "key_id", key.ID, "error", err)
			}
		}
	})
}

// isPublicPath reports whether the path needs no authentication.
func isPublicPath(path string) bool {
	switch path {
	case "/health", "/lb/health", "/lb/refresh":
		return true
	}
	return false
}

// isAdminPath reports whether the path is part of the management API.
func isAdminPath(path string) bool {
	return path == "/admin" || strings.HasPrefix(path, "/admin/")
}

// bearerToken extracts the credential from the Authorization header. A missing
// or malformed header yields the empty string, which never validates.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}
