package driven

import (
	"context"

	"github.com/newnol/vercel-lb/internal/domain/model"
)

// UpstreamKeySource delivers the list of upstream gateway credentials the pool
// should manage. Implementations own their auth, pagination, and caching; the
// pool only sees the resulting entries. An empty result is not an error -- the
// pool treats it as "source unavailable" and falls back to the local file.
type UpstreamKeySource interface {
	FetchKeys(ctx context.Context) ([]model.UpstreamKeyEntry, error)
}
