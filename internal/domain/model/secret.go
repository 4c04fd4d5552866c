package model

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// NewSecret generates a client key secret in the form "sk-lb-" followed by 24
// random bytes, URL-safe base64 encoded. The secret is shown to the user once
// and only its hash is persisted.
func NewSecret() string {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms.
		panic(err)
	}
	return "sk-lb-" + base64.RawURLEncoding.EncodeToString(buf)
}

// HashSecret returns the SHA-256 hex digest of a raw client key secret.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
