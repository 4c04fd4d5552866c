package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/newnol/vercel-lb/internal/domain/model"
	"github.com/newnol/vercel-lb/internal/domain/port/driven"
)

// KeyService creates client keys. Generation lives here so the admin API and
// the CLI mint keys identically: only the SHA-256 hash is persisted and the
// raw secret is returned exactly once.
type KeyService struct {
	store driven.ClientKeyStore
}

// NewKeyService creates a KeyService backed by the given store.
func NewKeyService(store driven.ClientKeyStore) *KeyService {
	return &KeyService{store: store}
}

// CreateKey mints a new client key. rateLimit 0 means unlimited;
// expiresInDays 0 means the key never expires. The returned string is the raw
// secret and cannot be recovered afterwards.
func (s *KeyService) CreateKey(ctx context.Context, name string, rateLimit, expiresInDays int) (model.ClientKey, string, error) {
	secret := model.NewSecret()

	key := model.ClientKey{
		ID:        uuid.NewString(),
		KeyHash:   model.HashSecret(secret),
		Name:      name,
		CreatedAt: time.Now().UTC(),
		RateLimit: rateLimit,
		IsActive:  true,
	}
	if expiresInDays > 0 {
		expires := key.CreatedAt.AddDate(0, 0, expiresInDays)
		key.ExpiresAt = &expires
	}

	if err := s.store.Create(ctx, key); err != nil {
		return model.ClientKey{}, "", fmt.Errorf("create client key: %w", err)
	}

	return key, secret, nil
}
