// Package application contains use-case orchestration services.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/newnol/vercel-lb/internal/domain/model"
	"github.com/newnol/vercel-lb/internal/domain/port/driven"
)

// ErrNoKeysAvailable is returned by SelectKey when no upstream key has enough
// credit to serve a request.
var ErrNoKeysAvailable = errors.New("no upstream keys with sufficient credit")

// PoolOptions carries the tunables for a Pool.
type PoolOptions struct {
	// MinCredit is the exclusive lower bound a key's balance must clear to be
	// selectable.
	MinCredit float64
	// CreditTTL is how long a fetched balance is trusted before the key is
	// considered stale.
	CreditTTL time.Duration
	// KeysRefresh is how long a loaded key list is trusted before RefreshAll
	// reloads it from the source.
	KeysRefresh time.Duration
}

// Pool manages the set of upstream gateway keys: loading them from the key
// source (with a file fallback), keeping their credit balances fresh, and
// selecting a key for each proxied request weighted by remaining balance.
type Pool struct {
	source   driven.UpstreamKeySource
	fallback driven.UpstreamKeySource
	credits  driven.CreditsClient
	opts     PoolOptions
	logger   *slog.Logger

	mu         sync.Mutex
	keys       []*model.UpstreamKey
	lastReload time.Time

	// Injection points for tests.
	now       func() time.Time
	randFloat func() float64
}

// NewPool creates a Pool. source may be nil, in which case keys always load
// from the fallback. fallback must not be nil.
func NewPool(
	source driven.UpstreamKeySource,
	fallback driven.UpstreamKeySource,
	credits driven.CreditsClient,
	opts PoolOptions,
	logger *slog.Logger,
) *Pool {
	return &Pool{
		source:    source,
		fallback:  fallback,
		credits:   credits,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
		randFloat: rand.Float64,
	}
}

// Load fetches the key list and replaces the pool's contents. Keys whose
// secret is already present keep their balance and refresh timestamp so a
// reload never wipes accounting state; keys absent from the new list are
// dropped. Load fails only when the source and the fallback both fail.
func (p *Pool) Load(ctx context.Context) error {
	entries, err := p.fetchEntries(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	previous := make(map[string]*model.UpstreamKey, len(p.keys))
	for _, k := range p.keys {
		previous[k.Secret] = k
	}

	keys := make([]*model.UpstreamKey, 0, len(entries))
	for _, entry := range entries {
		if old, ok := previous[entry.Secret]; ok {
			old.Name = entry.Name
			keys = append(keys, old)
			continue
		}
		keys = append(keys, &model.UpstreamKey{Name: entry.Name, Secret: entry.Secret})
	}

	p.keys = keys
	p.lastReload = p.now()

	p.logger.Info("upstream key pool loaded", "keys", len(keys))

	return nil
}

func (p *Pool) fetchEntries(ctx context.Context) ([]model.UpstreamKeyEntry, error) {
	if p.source != nil {
		entries, err := p.source.FetchKeys(ctx)
		if err == nil && len(entries) > 0 {
			return entries, nil
		}
		if err != nil {
			p.logger.Warn("key source failed, falling back to key file", "error", err)
		} else {
			p.logger.Warn("key source returned no keys, falling back to key file")
		}
	}

	entries, err := p.fallback.FetchKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("load upstream keys: %w", err)
	}

	return entries, nil
}

// RefreshAll reloads the key list when it is older than the reload interval,
// then refreshes every key's balance concurrently. A failed reload keeps the
// current list; a failed per-key refresh keeps that key's stale balance.
func (p *Pool) RefreshAll(ctx context.Context) {
	p.mu.Lock()
	stale := p.lastReload.IsZero() || p.now().Sub(p.lastReload) > p.opts.KeysRefresh
	p.mu.Unlock()

	if stale {
		if err := p.Load(ctx); err != nil {
			p.logger.Error("key list reload failed, keeping current pool", "error", err)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.refreshKeysLocked(ctx, p.keys)
}

// SelectKey returns the secret of an upstream key chosen with probability
// proportional to its remaining balance. Keys with stale balances are
// refreshed first; keys at or below the minimum credit are excluded. When
// every usable balance is zero the choice is uniform.
func (p *Pool) SelectKey(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var stale []*model.UpstreamKey
	for _, k := range p.keys {
		if k.StaleAfter(p.now(), p.opts.CreditTTL) {
			stale = append(stale, k)
		}
	}
	p.refreshKeysLocked(ctx, stale)

	usable := make([]*model.UpstreamKey, 0, len(p.keys))
	total := 0.0
	for _, k := range p.keys {
		if k.Balance > p.opts.MinCredit {
			usable = append(usable, k)
			total += k.Balance
		}
	}

	if len(usable) == 0 {
		return "", ErrNoKeysAvailable
	}

	if total <= 0 {
		return usable[int(p.randFloat()*float64(len(usable)))].Secret, nil
	}

	r := p.randFloat() * total
	cumulative := 0.0
	for _, k := range usable {
		cumulative += k.Balance
		if r < cumulative {
			return k.Secret, nil
		}
	}

	// Floating point accumulation can leave r a hair past the last bucket.
	return usable[len(usable)-1].Secret, nil
}

// refreshKeysLocked fans out one credits fetch per key and waits for all of
// them. Callers must hold p.mu; the keys are mutated in place.
func (p *Pool) refreshKeysLocked(ctx context.Context, keys []*model.UpstreamKey) {
	if len(keys) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, k := range keys {
		wg.Add(1)
		go func(k *model.UpstreamKey) {
			defer wg.Done()
			p.refreshKey(ctx, k)
		}(k)
	}
	wg.Wait()
}

func (p *Pool) refreshKey(ctx context.Context, k *model.UpstreamKey) {
	credits, err := p.credits.FetchCredits(ctx, k.Secret)
	if err != nil {
		p.logger.Warn("credit refresh failed, keeping last known balance",
			"key", k.Name, "error", err)
		return
	}

	k.Balance = credits.Balance
	k.TotalUsed = credits.TotalUsed
	k.RefreshedAt = p.now()
}

// Status returns a snapshot of every key's accounting state.
func (p *Pool) Status() []model.KeyStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	statuses := make([]model.KeyStatus, 0, len(p.keys))
	for _, k := range p.keys {
		status := model.KeyStatus{
			Name:      k.Name,
			Balance:   k.Balance,
			TotalUsed: k.TotalUsed,
		}
		if !k.RefreshedAt.IsZero() {
			refreshed := k.RefreshedAt
			status.LastUpdated = &refreshed
		}
		statuses = append(statuses, status)
	}

	return statuses
}

// TotalBalance returns the sum of all key balances.
func (p *Pool) TotalBalance() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := 0.0
	for _, k := range p.keys {
		total += k.Balance
	}

	return total
}

// Count returns the number of keys currently in the pool.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.keys)
}
