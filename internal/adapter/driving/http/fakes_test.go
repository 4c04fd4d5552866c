package httphandler

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/newnol/vercel-lb/internal/application"
	"github.com/newnol/vercel-lb/internal/domain/model"
	"github.com/newnol/vercel-lb/internal/domain/port/driven"
)

// memKeyStore is an in-memory ClientKeyStore for handler tests.
type memKeyStore struct {
	mu   sync.Mutex
	keys []model.ClientKey
}

var _ driven.ClientKeyStore = (*memKeyStore)(nil)

func (s *memKeyStore) Create(_ context.Context, key model.ClientKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, key)
	return nil
}

func (s *memKeyStore) GetByID(_ context.Context, id string) (*model.ClientKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.ID == id {
			key := k
			return &key, nil
		}
	}
	return nil, nil
}

func (s *memKeyStore) List(_ context.Context) ([]model.ClientKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ClientKey, len(s.keys))
	copy(out, s.keys)
	return out, nil
}

func (s *memKeyStore) ValidateSecret(_ context.Context, rawKey string) (*model.ClientKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash := model.HashSecret(rawKey)
	for _, k := range s.keys {
		if k.KeyHash == hash && k.IsUsable(time.Now().UTC()) {
			key := k
			return &key, nil
		}
	}
	return nil, nil
}

func (s *memKeyStore) Update(_ context.Context, id string, update driven.ClientKeyUpdate) (*model.ClientKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.keys {
		if s.keys[i].ID != id {
			continue
		}
		if update.Name != nil {
			s.keys[i].Name = *update.Name
		}
		if update.RateLimit != nil {
			s.keys[i].RateLimit = *update.RateLimit
		}
		if update.IsActive != nil {
			s.keys[i].IsActive = *update.IsActive
		}
		if update.ExpiresAt != nil {
			expires := *update.ExpiresAt
			s.keys[i].ExpiresAt = &expires
		}
		key := s.keys[i]
		return &key, nil
	}
	return nil, driven.ErrKeyNotFound
}

func (s *memKeyStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.keys {
		if s.keys[i].ID == id {
			s.keys = append(s.keys[:i], s.keys[i+1:]...)
			return nil
		}
	}
	return driven.ErrKeyNotFound
}

type usageRecord struct {
	keyID    string
	endpoint string
	tokens   *int
	model    *string
	at       time.Time
}

// memUsage is an in-memory UsageStore for handler tests.
type memUsage struct {
	mu      sync.Mutex
	records []usageRecord
}

var _ driven.UsageStore = (*memUsage)(nil)

func (u *memUsage) Record(_ context.Context, keyID, endpoint string, tokensUsed *int, modelName *string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.records = append(u.records, usageRecord{
		keyID:    keyID,
		endpoint: endpoint,
		tokens:   tokensUsed,
		model:    modelName,
		at:       time.Now().UTC(),
	})
	return nil
}

func (u *memUsage) CountSince(_ context.Context, keyID string, since time.Time) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	count := 0
	for _, rec := range u.records {
		if rec.keyID == keyID && rec.at.After(since) {
			count++
		}
	}
	return count, nil
}

func (u *memUsage) Stats(_ context.Context, keyID string) (*model.KeyStats, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	stats := &model.KeyStats{
		ByEndpoint: map[string]int{},
		ByModel:    map[string]int{},
		Recent:     []model.UsageEntry{},
	}
	for _, rec := range u.records {
		if rec.keyID != keyID {
			continue
		}
		stats.TotalRequests++
		if rec.tokens != nil {
			stats.TotalTokens += *rec.tokens
		}
		stats.ByEndpoint[rec.endpoint]++
		if rec.model != nil {
			stats.ByModel[*rec.model]++
		}
	}
	return stats, nil
}

func (u *memUsage) forKey(keyID string) []usageRecord {
	u.mu.Lock()
	defer u.mu.Unlock()
	var out []usageRecord
	for _, rec := range u.records {
		if rec.keyID == keyID {
			out = append(out, rec)
		}
	}
	return out
}

// stubSource serves a fixed key list.
type stubSource struct {
	entries []model.UpstreamKeyEntry
}

func (s stubSource) FetchKeys(context.Context) ([]model.UpstreamKeyEntry, error) {
	return s.entries, nil
}

// stubCredits reports a fixed balance for every key.
type stubCredits struct {
	balance float64
}

func (s stubCredits) FetchCredits(context.Context, string) (driven.Credits, error) {
	return driven.Credits{Balance: s.balance}, nil
}

const testAdminSecret = "admin-secret"

// rig wires a full request pipeline against in-memory stores.
type rig struct {
	store   *memKeyStore
	usage   *memUsage
	pool    *application.Pool
	keySvc  *application.KeyService
	handler http.Handler
}

type rigOptions struct {
	upstreamKeys []model.UpstreamKeyEntry
	gatewayURL   string
	timeout      time.Duration
}

func newRig(t *testing.T, opts rigOptions) *rig {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	store := &memKeyStore{}
	usage := &memUsage{}

	if opts.timeout == 0 {
		opts.timeout = 5 * time.Second
	}
	if opts.gatewayURL == "" {
		// Unroutable unless a test provides an upstream.
		opts.gatewayURL = "http://127.0.0.1:1"
	}

	pool := application.NewPool(nil, stubSource{entries: opts.upstreamKeys}, stubCredits{balance: 10}, application.PoolOptions{
		MinCredit:   0.01,
		CreditTTL:   5 * time.Minute,
		KeysRefresh: 5 * time.Minute,
	}, logger)
	if len(opts.upstreamKeys) > 0 {
		require.NoError(t, pool.Load(context.Background()))
	}

	keySvc := application.NewKeyService(store)
	h := NewHandler(pool, keySvc, store, usage, logger)
	proxy := NewProxy(pool, usage, opts.gatewayURL, opts.timeout, logger)
	gateMW := NewGate(testAdminSecret, store, usage, logger)

	return &rig{
		store:   store,
		usage:   usage,
		pool:    pool,
		keySvc:  keySvc,
		handler: NewServeMux(h, proxy, gateMW, logger),
	}
}

// createClientKey mints a usable client key and returns it with its secret.
func (rg *rig) createClientKey(t *testing.T, name string, rateLimit int) (model.ClientKey, string) {
	t.Helper()
	key, secret, err := rg.keySvc.CreateKey(context.Background(), name, rateLimit, 0)
	require.NoError(t, err)
	return key, secret
}

// do runs a request through the full pipeline and returns the recorder.
func (rg *rig) do(method, target, bearer string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	rg.handler.ServeHTTP(rec, req)
	return rec
}
