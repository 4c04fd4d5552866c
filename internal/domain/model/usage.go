package model

import "time"

// UsageEntry is one append-only usage log row. TokensUsed and Model are nil
// when unknown at record time; token counts arrive only after a buffered
// upstream response has been inspected.
type UsageEntry struct {
	ID         int64     `json:"id"`
	KeyID      string    `json:"key_id"`
	Timestamp  time.Time `json:"timestamp"`
	Endpoint   string    `json:"endpoint"`
	TokensUsed *int      `json:"tokens_used"`
	Model      *string   `json:"model"`
}

// KeyStats aggregates the usage log for a single client key.
type KeyStats struct {
	TotalRequests int            `json:"total_requests"`
	TotalTokens   int            `json:"total_tokens"`
	ByEndpoint    map[string]int `json:"by_endpoint"`
	ByModel       map[string]int `json:"by_model"`
	Recent        []UsageEntry   `json:"recent_requests"`
}
