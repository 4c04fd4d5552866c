package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newnol/vercel-lb/internal/domain/model"
	"github.com/newnol/vercel-lb/internal/domain/port/driven"
)

type fakeSource struct {
	entries []model.UpstreamKeyEntry
	err     error
	calls   int
}

func (f *fakeSource) FetchKeys(context.Context) ([]model.UpstreamKeyEntry, error) {
	f.calls++
	return f.entries, f.err
}

type fakeCredits struct {
	mu      sync.Mutex
	credits map[string]driven.Credits
	errs    map[string]error
	calls   map[string]int
}

func newFakeCredits() *fakeCredits {
	return &fakeCredits{
		credits: make(map[string]driven.Credits),
		errs:    make(map[string]error),
		calls:   make(map[string]int),
	}
}

func (f *fakeCredits) FetchCredits(_ context.Context, secret string) (driven.Credits, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[secret]++
	if err := f.errs[secret]; err != nil {
		return driven.Credits{}, err
	}
	return f.credits[secret], nil
}

func (f *fakeCredits) callCount(secret string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[secret]
}

func testPool(source, fallback driven.UpstreamKeySource, credits driven.CreditsClient) *Pool {
	return NewPool(source, fallback, credits, PoolOptions{
		MinCredit:   0.01,
		CreditTTL:   5 * time.Minute,
		KeysRefresh: 5 * time.Minute,
	}, slog.New(slog.DiscardHandler))
}

func entries(secrets ...string) []model.UpstreamKeyEntry {
	out := make([]model.UpstreamKeyEntry, len(secrets))
	for i, s := range secrets {
		out[i] = model.UpstreamKeyEntry{Name: "key-" + s, Secret: s}
	}
	return out
}

func TestPool_Load_FromSource(t *testing.T) {
	source := &fakeSource{entries: entries("vck_a", "vck_b")}
	fallback := &fakeSource{entries: entries("vck_file")}
	pool := testPool(source, fallback, newFakeCredits())

	require.NoError(t, pool.Load(context.Background()))

	assert.Equal(t, 2, pool.Count())
	assert.Zero(t, fallback.calls, "fallback must not be consulted when the source works")
}

func TestPool_Load_FallbackOnSourceError(t *testing.T) {
	source := &fakeSource{err: errors.New("pocketbase down")}
	fallback := &fakeSource{entries: entries("vck_file")}
	pool := testPool(source, fallback, newFakeCredits())

	require.NoError(t, pool.Load(context.Background()))
	assert.Equal(t, 1, pool.Count())
}

func TestPool_Load_FallbackOnEmptySource(t *testing.T) {
	source := &fakeSource{}
	fallback := &fakeSource{entries: entries("vck_file")}
	pool := testPool(source, fallback, newFakeCredits())

	require.NoError(t, pool.Load(context.Background()))
	assert.Equal(t, 1, pool.Count())
}

func TestPool_Load_BothFail(t *testing.T) {
	source := &fakeSource{err: errors.New("pocketbase down")}
	fallback := &fakeSource{err: errors.New("no such file")}
	pool := testPool(source, fallback, newFakeCredits())

	assert.Error(t, pool.Load(context.Background()))
}

func TestPool_Load_NilSourceUsesFallback(t *testing.T) {
	fallback := &fakeSource{entries: entries("vck_file")}
	pool := testPool(nil, fallback, newFakeCredits())

	require.NoError(t, pool.Load(context.Background()))
	assert.Equal(t, 1, pool.Count())
}

func TestPool_Load_PreservesAccountingAcrossReload(t *testing.T) {
	source := &fakeSource{entries: entries("vck_a", "vck_b")}
	credits := newFakeCredits()
	credits.credits["vck_a"] = driven.Credits{Balance: 7.5, TotalUsed: 2.5}
	credits.credits["vck_b"] = driven.Credits{Balance: 1, TotalUsed: 9}
	pool := testPool(source, &fakeSource{}, credits)
	ctx := context.Background()

	require.NoError(t, pool.Load(ctx))
	pool.RefreshAll(ctx)

	// vck_b disappears, vck_c is new.
	source.entries = entries("vck_a", "vck_c")
	require.NoError(t, pool.Load(ctx))

	statuses := pool.Status()
	require.Len(t, statuses, 2)
	assert.Equal(t, "key-vck_a", statuses[0].Name)
	assert.Equal(t, 7.5, statuses[0].Balance, "surviving key keeps its balance")
	assert.NotNil(t, statuses[0].LastUpdated)
	assert.Equal(t, "key-vck_c", statuses[1].Name)
	assert.Zero(t, statuses[1].Balance, "new key starts unrefreshed")
	assert.Nil(t, statuses[1].LastUpdated)
}

func TestPool_SelectKey_EmptyPool(t *testing.T) {
	pool := testPool(nil, &fakeSource{}, newFakeCredits())

	_, err := pool.SelectKey(context.Background())
	assert.ErrorIs(t, err, ErrNoKeysAvailable)
}

func TestPool_SelectKey_AllBelowMinimum(t *testing.T) {
	credits := newFakeCredits()
	credits.credits["vck_a"] = driven.Credits{Balance: 0.005}
	pool := testPool(nil, &fakeSource{entries: entries("vck_a")}, credits)
	ctx := context.Background()

	require.NoError(t, pool.Load(ctx))

	_, err := pool.SelectKey(ctx)
	assert.ErrorIs(t, err, ErrNoKeysAvailable)
}

func TestPool_SelectKey_WeightedByBalance(t *testing.T) {
	credits := newFakeCredits()
	credits.credits["vck_a"] = driven.Credits{Balance: 1}
	credits.credits["vck_b"] = driven.Credits{Balance: 3}
	pool := testPool(nil, &fakeSource{entries: entries("vck_a", "vck_b")}, credits)
	ctx := context.Background()

	require.NoError(t, pool.Load(ctx))
	pool.RefreshAll(ctx)

	// Total weight 4: draws below 0.25 land in vck_a's bucket.
	pool.randFloat = func() float64 { return 0.1 }
	secret, err := pool.SelectKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "vck_a", secret)

	pool.randFloat = func() float64 { return 0.9 }
	secret, err = pool.SelectKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "vck_b", secret)
}

func TestPool_SelectKey_UniformWhenTotalZero(t *testing.T) {
	pool := NewPool(nil, &fakeSource{entries: entries("vck_a", "vck_b")}, newFakeCredits(), PoolOptions{
		MinCredit:   -1,
		CreditTTL:   5 * time.Minute,
		KeysRefresh: 5 * time.Minute,
	}, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	require.NoError(t, pool.Load(ctx))
	pool.RefreshAll(ctx)

	pool.randFloat = func() float64 { return 0.6 }
	secret, err := pool.SelectKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "vck_b", secret, "zero total balance falls back to a uniform draw")
}

func TestPool_SelectKey_RefreshesOnlyStaleKeys(t *testing.T) {
	credits := newFakeCredits()
	credits.credits["vck_a"] = driven.Credits{Balance: 5}
	credits.credits["vck_b"] = driven.Credits{Balance: 5}
	pool := testPool(nil, &fakeSource{entries: entries("vck_a", "vck_b")}, credits)
	ctx := context.Background()

	now := time.Now()
	pool.now = func() time.Time { return now }

	require.NoError(t, pool.Load(ctx))
	pool.RefreshAll(ctx)
	assert.Equal(t, 1, credits.callCount("vck_a"))

	// Both keys are fresh: selection must not refetch.
	_, err := pool.SelectKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, credits.callCount("vck_a"))
	assert.Equal(t, 1, credits.callCount("vck_b"))

	// Past the TTL both are stale and get refreshed exactly once.
	now = now.Add(6 * time.Minute)
	_, err = pool.SelectKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, credits.callCount("vck_a"))
	assert.Equal(t, 2, credits.callCount("vck_b"))
}

func TestPool_SelectKey_KeepsStaleBalanceOnRefreshError(t *testing.T) {
	credits := newFakeCredits()
	credits.credits["vck_a"] = driven.Credits{Balance: 5, TotalUsed: 1}
	pool := testPool(nil, &fakeSource{entries: entries("vck_a")}, credits)
	ctx := context.Background()

	now := time.Now()
	pool.now = func() time.Time { return now }

	require.NoError(t, pool.Load(ctx))
	pool.RefreshAll(ctx)

	credits.errs["vck_a"] = errors.New("gateway down")
	now = now.Add(6 * time.Minute)

	secret, err := pool.SelectKey(ctx)
	require.NoError(t, err, "stale balance still serves when refresh fails")
	assert.Equal(t, "vck_a", secret)
	assert.Equal(t, 5.0, pool.Status()[0].Balance)
}

func TestPool_RefreshAll_ReloadsStaleKeyList(t *testing.T) {
	source := &fakeSource{entries: entries("vck_a")}
	pool := testPool(source, &fakeSource{}, newFakeCredits())
	ctx := context.Background()

	now := time.Now()
	pool.now = func() time.Time { return now }

	require.NoError(t, pool.Load(ctx))
	require.Equal(t, 1, source.calls)

	pool.RefreshAll(ctx)
	assert.Equal(t, 1, source.calls, "fresh key list is not reloaded")

	now = now.Add(6 * time.Minute)
	source.entries = entries("vck_a", "vck_b")
	pool.RefreshAll(ctx)
	assert.Equal(t, 2, source.calls)
	assert.Equal(t, 2, pool.Count())
}

func TestPool_TotalBalance(t *testing.T) {
	credits := newFakeCredits()
	credits.credits["vck_a"] = driven.Credits{Balance: 2.5}
	credits.credits["vck_b"] = driven.Credits{Balance: 1.5}
	pool := testPool(nil, &fakeSource{entries: entries("vck_a", "vck_b")}, credits)
	ctx := context.Background()

	require.NoError(t, pool.Load(ctx))
	pool.RefreshAll(ctx)

	assert.Equal(t, 4.0, pool.TotalBalance())
}
