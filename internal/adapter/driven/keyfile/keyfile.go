// Package keyfile loads gateway key entries from a local JSON file. It is the
// fallback when the remote key source is disabled or unreachable.
package keyfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/newnol/vercel-lb/internal/domain/model"
	"github.com/newnol/vercel-lb/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.UpstreamKeySource = (*Loader)(nil)

// Loader reads key entries from a JSON file of the form
// {"keys":[{"name":"...","api_key":"..."}]}.
type Loader struct {
	path string
}

// NewLoader creates a Loader for the given file path.
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// FetchKeys reads and parses the key file. Entries without an api_key are
// skipped. The file is re-read on every call so edits take effect on the next
// pool reload.
func (l *Loader) FetchKeys(_ context.Context) ([]model.UpstreamKeyEntry, error) {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	var payload struct {
		Keys []struct {
			Name   string `json:"name"`
			APIKey string `json:"api_key"`
		} `json:"keys"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("parse key file %s: %w", l.path, err)
	}

	var entries []model.UpstreamKeyEntry
	for _, k := range payload.Keys {
		if k.APIKey == "" {
			continue
		}
		entries = append(entries, model.UpstreamKeyEntry{Name: k.Name, Secret: k.APIKey})
	}

	return entries, nil
}
