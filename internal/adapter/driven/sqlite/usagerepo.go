package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/newnol/vercel-lb/internal/domain/model"
	"github.com/newnol/vercel-lb/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.UsageStore = (*UsageRepo)(nil)

// UsageRepo is the SQLite implementation of the append-only UsageStore port.
type UsageRepo struct {
	db *DB
}

// NewUsageRepo creates a new UsageRepo backed by the given DB.
func NewUsageRepo(db *DB) *UsageRepo {
	return &UsageRepo{db: db}
}

// Record appends one usage entry stamped with the current time.
func (r *UsageRepo) Record(ctx context.Context, keyID, endpoint string, tokensUsed *int, modelName *string) error {
	const query = `INSERT INTO usage_logs (key_id, timestamp, endpoint, tokens_used, model)
		VALUES (?, ?, ?, ?, ?)`

	var tokens any
	if tokensUsed != nil {
		tokens = *tokensUsed
	}
	var mdl any
	if modelName != nil {
		mdl = *modelName
	}

	_, err := r.db.Writer.ExecContext(ctx, query,
		keyID, time.Now().UTC().Format(time.RFC3339), endpoint, tokens, mdl)
	if err != nil {
		return fmt.Errorf("record usage for key %s: %w", keyID, err)
	}

	return nil
}

// CountSince returns the number of entries for keyID with a timestamp strictly
// after since. This is the rate-limit window query, recomputed per request.
func (r *UsageRepo) CountSince(ctx context.Context, keyID string, since time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM usage_logs WHERE key_id = ? AND timestamp > ?`

	var count int
	err := r.db.Reader.QueryRowContext(ctx, query, keyID, since.UTC().Format(time.RFC3339)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count usage for key %s: %w", keyID, err)
	}

	return count, nil
}

// Stats aggregates the usage log for one key: totals, per-endpoint and
// per-model counts, and the 10 most recent entries.
func (r *UsageRepo) Stats(ctx context.Context, keyID string) (*model.KeyStats, error) {
	stats := &model.KeyStats{
		ByEndpoint: map[string]int{},
		ByModel:    map[string]int{},
		Recent:     []model.UsageEntry{},
	}

	err := r.db.Reader.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(tokens_used), 0) FROM usage_logs WHERE key_id = ?`,
		keyID).Scan(&stats.TotalRequests, &stats.TotalTokens)
	if err != nil {
		return nil, fmt.Errorf("usage totals for key %s: %w", keyID, err)
	}

	if err := r.countBy(ctx, keyID,
		`SELECT endpoint, COUNT(*) FROM usage_logs WHERE key_id = ? GROUP BY endpoint`,
		stats.ByEndpoint); err != nil {
		return nil, fmt.Errorf("usage by endpoint for key %s: %w", keyID, err)
	}

	if err := r.countBy(ctx, keyID,
		`SELECT model, COUNT(*) FROM usage_logs WHERE key_id = ? AND model IS NOT NULL GROUP BY model`,
		stats.ByModel); err != nil {
		return nil, fmt.Errorf("usage by model for key %s: %w", keyID, err)
	}

	recent, err := r.recent(ctx, keyID, 10)
	if err != nil {
		return nil, fmt.Errorf("recent usage for key %s: %w", keyID, err)
	}
	stats.Recent = recent

	return stats, nil
}

func (r *UsageRepo) countBy(ctx context.Context, keyID, query string, into map[string]int) error {
	rows, err := r.db.Reader.QueryContext(ctx, query, keyID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var label string
		var count int
		if err := rows.Scan(&label, &count); err != nil {
			return err
		}
		into[label] = count
	}

	return rows.Err()
}

func (r *UsageRepo) recent(ctx context.Context, keyID string, limit int) ([]model.UsageEntry, error) {
	const query = `SELECT id, key_id, timestamp, endpoint, tokens_used, model
		FROM usage_logs WHERE key_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`

	rows, err := r.db.Reader.QueryContext(ctx, query, keyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []model.UsageEntry{}
	for rows.Next() {
		var entry model.UsageEntry
		var ts string
		var tokens sql.NullInt64
		var mdl sql.NullString

		if err := rows.Scan(&entry.ID, &entry.KeyID, &ts, &entry.Endpoint, &tokens, &mdl); err != nil {
			return nil, err
		}

		entry.Timestamp, err = parseTime(ts)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp: %w", err)
		}
		if tokens.Valid {
			n := int(tokens.Int64)
			entry.TokensUsed = &n
		}
		if mdl.Valid {
			m := mdl.String
			entry.Model = &m
		}

		entries = append(entries, entry)
	}

	return entries, rows.Err()
}
