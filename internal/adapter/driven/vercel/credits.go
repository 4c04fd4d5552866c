// Package vercel implements the CreditsClient port against the Vercel AI
// Gateway accounting endpoint.
package vercel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/newnol/vercel-lb/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CreditsClient = (*CreditsClient)(nil)

// CreditsClient fetches remaining credit for a gateway key via GET /v1/credits.
type CreditsClient struct {
	baseURL string
	http    *http.Client
}

// NewCreditsClient creates a CreditsClient for the given gateway base URL.
// Credit queries are small and quick, so they get a fixed 10 second timeout
// independent of the proxy's long request timeout.
func NewCreditsClient(baseURL string) *CreditsClient {
	return &CreditsClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// FetchCredits returns the balance and total usage reported for the key.
func (c *CreditsClient) FetchCredits(ctx context.Context, secret string) (driven.Credits, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/credits", nil)
	if err != nil {
		return driven.Credits{}, fmt.Errorf("build credits request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+secret)

	resp, err := c.http.Do(req)
	if err != nil {
		return driven.Credits{}, fmt.Errorf("fetch credits: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return driven.Credits{}, fmt.Errorf("fetch credits: unexpected status %d: %s", resp.StatusCode, body)
	}

	// The gateway has returned both numeric and string-encoded amounts over
	// time, so both are accepted.
	var payload struct {
		Balance   flexFloat `json:"balance"`
		TotalUsed flexFloat `json:"total_used"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return driven.Credits{}, fmt.Errorf("decode credits response: %w", err)
	}

	return driven.Credits{
		Balance:   float64(payload.Balance),
		TotalUsed: float64(payload.TotalUsed),
	}, nil
}

// flexFloat decodes a JSON number or a string-encoded number.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse amount %q: %w", s, err)
	}

	*f = flexFloat(v)
	return nil
}
