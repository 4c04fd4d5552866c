// Package driven defines the ports implemented by driven adapters.
package driven

import (
	"context"
	"errors"
	"time"

	"github.com/newnol/vercel-lb/internal/domain/model"
)

// ErrKeyNotFound indicates the requested client key does not exist.
var ErrKeyNotFound = errors.New("client key not found")

// ClientKeyUpdate carries a partial update; nil fields are left unchanged.
// ExpiresAt distinguishes "unchanged" (nil) from a new expiry via the pointer.
type ClientKeyUpdate struct {
	Name      *string
	RateLimit *int
	IsActive  *bool
	ExpiresAt *time.Time
}

// ClientKeyStore defines the driven port for client key persistence.
// ValidateSecret returns nil, nil when the secret does not match a usable
// (active, unexpired) key. Update and Delete return ErrKeyNotFound when the
// key does not exist; GetByID returns nil, nil instead.
type ClientKeyStore interface {
	Create(ctx context.Context, key model.ClientKey) error
	GetByID(ctx context.Context, id string) (*model.ClientKey, error)
	List(ctx context.Context) ([]model.ClientKey, error)
	ValidateSecret(ctx context.Context, rawKey string) (*model.ClientKey, error)
	Update(ctx context.Context, id string, update ClientKeyUpdate) (*model.ClientKey, error)
	Delete(ctx context.Context, id string) error
}
