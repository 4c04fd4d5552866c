// Package pocketbase implements the UpstreamKeySource port against a
// PocketBase instance holding the gateway key records.
package pocketbase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/newnol/vercel-lb/internal/domain/model"
	"github.com/newnol/vercel-lb/internal/domain/port/driven"
)

const (
	tokenTTL = time.Hour
	keysTTL  = 5 * time.Minute
	pageSize = 100
)

// Compile-time interface satisfaction check.
var _ driven.UpstreamKeySource = (*Client)(nil)

// Client fetches gateway key records from PocketBase. It caches the auth token
// for an hour and the fetched key list for five minutes, and falls back to the
// stale list when PocketBase is unreachable.
type Client struct {
	baseURL    string
	collection string
	email      string
	password   string
	http       *http.Client
	logger     *slog.Logger

	mu           sync.Mutex
	token        string
	tokenFetched time.Time
	cached       []model.UpstreamKeyEntry
	cachedAt     time.Time

	now func() time.Time
}

// NewClient creates a PocketBase client for the given instance and collection.
func NewClient(baseURL, collection, email, password string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		email:      email,
		password:   password,
		http:       &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		now:        time.Now,
	}
}

// FetchKeys returns the key entries stored in PocketBase. Results are cached
// for five minutes; when the fetch fails and a previous result exists, the
// stale result is returned instead of an error.
func (c *Client) FetchKeys(ctx context.Context) ([]model.UpstreamKeyEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && c.now().Sub(c.cachedAt) < keysTTL {
		return copyEntries(c.cached), nil
	}

	entries, err := c.fetchAll(ctx)
	if err != nil {
		if c.cached != nil {
			c.logger.Warn("pocketbase fetch failed, serving stale key list",
				"error", err,
				"age", c.now().Sub(c.cachedAt).Round(time.Second),
				"keys", len(c.cached))
			return copyEntries(c.cached), nil
		}
		return nil, err
	}

	c.cached = entries
	c.cachedAt = c.now()

	return copyEntries(entries), nil
}

// fetchAll walks every page of the collection. A 401 mid-pagination drops the
// cached token and retries the page once with a fresh login.
func (c *Client) fetchAll(ctx context.Context) ([]model.UpstreamKeyEntry, error) {
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}

	var entries []model.UpstreamKeyEntry
	relogged := false

	for page := 1; ; page++ {
		result, status, err := c.fetchPage(ctx, page)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			if relogged {
				return nil, fmt.Errorf("pocketbase rejected a freshly issued token")
			}
			relogged = true
			c.token = ""
			if err := c.ensureToken(ctx); err != nil {
				return nil, err
			}
			page--
			continue
		}
		if status != http.StatusOK {
			return nil, fmt.Errorf("fetch key records page %d: unexpected status %d", page, status)
		}

		for _, item := range result.Items {
			if item.APIKey == "" {
				continue
			}
			entries = append(entries, model.UpstreamKeyEntry{
				Name:   item.Name,
				Secret: item.APIKey,
			})
		}

		if page >= result.TotalPages || len(result.Items) == 0 {
			break
		}
	}

	return entries, nil
}

type recordsPage struct {
	Page       int `json:"page"`
	TotalPages int `json:"totalPages"`
	Items      []struct {
		Name   string `json:"name"`
		APIKey string `json:"api_key"`
	} `json:"items"`
}

func (c *Client) fetchPage(ctx context.Context, page int) (*recordsPage, int, error) {
	endpoint := fmt.Sprintf("%s/api/collections/%s/records?page=%s&perPage=%d",
		c.baseURL, url.PathEscape(c.collection), strconv.Itoa(page), pageSize)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build records request: %w", err)
	}
	req.Header.Set("Authorization", c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch key records page %d: %w", page, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode, nil
	}

	var result recordsPage
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, 0, fmt.Errorf("decode key records page %d: %w", page, err)
	}

	return &result, resp.StatusCode, nil
}

// ensureToken logs in when no token is held or the held one is older than an
// hour. PocketBase superuser tokens outlive that comfortably, so expiry is
// tracked client-side rather than decoded from the token.
func (c *Client) ensureToken(ctx context.Context) error {
	if c.token != "" && c.now().Sub(c.tokenFetched) < tokenTTL {
		return nil
	}

	body, err := json.Marshal(map[string]string{
		"identity": c.email,
		"password": c.password,
	})
	if err != nil {
		return fmt.Errorf("encode login request: %w", err)
	}

	endpoint := c.baseURL + "/api/collections/_superusers/auth-with-password"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("pocketbase login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("pocketbase login: unexpected status %d: %s", resp.StatusCode, raw)
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}
	if payload.Token == "" {
		return fmt.Errorf("pocketbase login returned an empty token")
	}

	c.token = payload.Token
	c.tokenFetched = c.now()

	return nil
}

func copyEntries(entries []model.UpstreamKeyEntry) []model.UpstreamKeyEntry {
	out := make([]model.UpstreamKeyEntry, len(entries))
	copy(out, entries)
	return out
}
