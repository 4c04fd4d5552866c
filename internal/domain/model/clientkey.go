package model

import "time"

// ClientKey is an API key issued to callers of this proxy. The raw secret is
// never stored; only its SHA-256 hex digest is persisted. RateLimit is in
// requests per minute, with 0 meaning unlimited. ExpiresAt is nil for keys
// that never expire.
type ClientKey struct {
	ID        string
	KeyHash   string
	Name      string
	CreatedAt time.Time
	ExpiresAt *time.Time
	RateLimit int
	IsActive  bool
}

// IsExpired reports whether the key has an expiry in the past.
func (k *ClientKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && k.ExpiresAt.Before(now)
}

// IsUsable reports whether the key may authenticate a request: it must be
// active and not expired. Rate limiting is checked separately against the
// usage log.
func (k *ClientKey) IsUsable(now time.Time) bool {
	return k.IsActive && !k.IsExpired(now)
}
