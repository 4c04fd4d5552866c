package driven

import "context"

// Credits is the balance report for a single upstream key.
type Credits struct {
	Balance   float64
	TotalUsed float64
}

// CreditsClient queries the upstream gateway's accounting endpoint for the
// remaining credit of one key. Failures are per-key and best-effort; callers
// keep the previous balance on error.
type CreditsClient interface {
	FetchCredits(ctx context.Context, secret string) (Credits, error)
}
