package driven

import (
	"context"
	"time"

	"github.com/newnol/vercel-lb/internal/domain/model"
)

// UsageStore defines the driven port for the append-only usage log.
// CountSince is the rate-limit window query: the number of entries for keyID
// with a timestamp strictly after since. Entries are never mutated once
// recorded, so concurrent appends are safe by construction.
type UsageStore interface {
	Record(ctx context.Context, keyID, endpoint string, tokensUsed *int, modelName *string) error
	CountSince(ctx context.Context, keyID string, since time.Time) (int, error)
	Stats(ctx context.Context, keyID string) (*model.KeyStats, error)
}
