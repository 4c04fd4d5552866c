// Package model contains the domain types shared across adapters and services.
package model

import "time"

// UpstreamKey is a Vercel AI Gateway credential tracked by the pool. Balance
// and TotalUsed are denominated in gateway credit (USD). RefreshedAt is the
// zero value until the first successful credit refresh.
type UpstreamKey struct {
	Name        string
	Secret      string
	Balance     float64
	TotalUsed   float64
	RefreshedAt time.Time
}

// StaleAfter reports whether the key's balance is older than ttl at the given
// instant. A never-refreshed key is always stale.
func (k *UpstreamKey) StaleAfter(now time.Time, ttl time.Duration) bool {
	return now.Sub(k.RefreshedAt) > ttl
}

// KeyStatus is a read-only snapshot of a single upstream key for the health
// endpoint. LastUpdated is nil when the key has never been refreshed.
type KeyStatus struct {
	Name        string     `json:"name"`
	Balance     float64    `json:"balance"`
	TotalUsed   float64    `json:"total_used"`
	LastUpdated *time.Time `json:"last_updated"`
}

// UpstreamKeyEntry is a {name, secret} pair as delivered by a key source
// (PocketBase or the fallback file), before the pool attaches accounting state.
type UpstreamKeyEntry struct {
	Name   string
	Secret string
}
