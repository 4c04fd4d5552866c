package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/newnol/vercel-lb/internal/domain/model"
	"github.com/newnol/vercel-lb/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ClientKeyStore = (*ClientKeyRepo)(nil)

// ClientKeyRepo is the SQLite implementation of the ClientKeyStore port.
type ClientKeyRepo struct {
	db *DB
}

// NewClientKeyRepo creates a new ClientKeyRepo backed by the given DB.
func NewClientKeyRepo(db *DB) *ClientKeyRepo {
	return &ClientKeyRepo{db: db}
}

// Create inserts a new client key. The key's hash must be unique.
func (r *ClientKeyRepo) Create(ctx context.Context, key model.ClientKey) error {
	const query = `INSERT INTO api_keys (id, key_hash, name, created_at, expires_at, rate_limit, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	createdAt := key.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var expiresAt any
	if key.ExpiresAt != nil {
		expiresAt = key.ExpiresAt.UTC().Format(time.RFC3339)
	}

	active := 0
	if key.IsActive {
		active = 1
	}

	_, err := r.db.Writer.ExecContext(ctx, query,
		key.ID, key.KeyHash, key.Name, createdAt.Format(time.RFC3339), expiresAt, key.RateLimit, active)
	if err != nil {
		return fmt.Errorf("create client key %q: %w", key.Name, err)
	}

	return nil
}

// GetByID retrieves a client key by its ID. Returns nil, nil if absent.
func (r *ClientKeyRepo) GetByID(ctx context.Context, id string) (*model.ClientKey, error) {
	const query = `SELECT id, key_hash, name, created_at, expires_at, rate_limit, is_active
		FROM api_keys WHERE id = ?`

	key, err := scanClientKey(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get client key %s: %w", id, err)
	}

	return key, nil
}

// List returns all client keys, newest first.
func (r *ClientKeyRepo) List(ctx context.Context) ([]model.ClientKey, error) {
	const query = `SELECT id, key_hash, name, created_at, expires_at, rate_limit, is_active
		FROM api_keys ORDER BY created_at DESC`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list client keys: %w", err)
	}
	defer rows.Close()

	var keys []model.ClientKey
	for rows.Next() {
		key, err := scanClientKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan client key: %w", err)
		}
		keys = append(keys, *key)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate client keys: %w", err)
	}

	return keys, nil
}

// ValidateSecret resolves a raw secret to its key record. Returns nil, nil
// when no key matches or the matching key is inactive or expired, so callers
// cannot distinguish a wrong secret from a revoked one.
func (r *ClientKeyRepo) ValidateSecret(ctx context.Context, rawKey string) (*model.ClientKey, error) {
	const query = `SELECT id, key_hash, name, created_at, expires_at, rate_limit, is_active
		FROM api_keys WHERE key_hash = ?`

	key, err := scanClientKey(r.db.Reader.QueryRowContext(ctx, query, model.HashSecret(rawKey)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("validate client key: %w", err)
	}

	if !key.IsUsable(time.Now().UTC()) {
		return nil, nil
	}

	return key, nil
}

// Update applies a partial update and returns the updated key.
// Returns ErrKeyNotFound if the key does not exist.
func (r *ClientKeyRepo) Update(ctx context.Context, id string, update driven.ClientKeyUpdate) (*model.ClientKey, error) {
	var sets []string
	var params []any

	if update.Name != nil {
		sets = append(sets, "name = ?")
		params = append(params, *update.Name)
	}
	if update.RateLimit != nil {
		sets = append(sets, "rate_limit = ?")
		params = append(params, *update.RateLimit)
	}
	if update.IsActive != nil {
		active := 0
		if *update.IsActive {
			active = 1
		}
		sets = append(sets, "is_active = ?")
		params = append(params, active)
	}
	if update.ExpiresAt != nil {
		sets = append(sets, "expires_at = ?")
		params = append(params, update.ExpiresAt.UTC().Format(time.RFC3339))
	}

	if len(sets) == 0 {
		key, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if key == nil {
			return nil, driven.ErrKeyNotFound
		}
		return key, nil
	}

	params = append(params, id)
	query := fmt.Sprintf("UPDATE api_keys SET %s WHERE id = ?", strings.Join(sets, ", "))

	result, err := r.db.Writer.ExecContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("update client key %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return nil, driven.ErrKeyNotFound
	}

	return r.GetByID(ctx, id)
}

// Delete removes a client key and its usage log rows.
// Returns ErrKeyNotFound if the key does not exist.
func (r *ClientKeyRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.Writer.ExecContext(ctx, `DELETE FROM usage_logs WHERE key_id = ?`, id); err != nil {
		return fmt.Errorf("delete usage logs for key %s: %w", id, err)
	}

	result, err := r.db.Writer.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete client key %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("delete client key %s: %w", id, driven.ErrKeyNotFound)
	}

	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanClientKey(s scanner) (*model.ClientKey, error) {
	var key model.ClientKey
	var createdAt string
	var expiresAt sql.NullString
	var active int

	err := s.Scan(&key.ID, &key.KeyHash, &key.Name, &createdAt, &expiresAt, &key.RateLimit, &active)
	if err != nil {
		return nil, err
	}

	key.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	if expiresAt.Valid {
		t, err := parseTime(expiresAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse expires_at: %w", err)
		}
		key.ExpiresAt = &t
	}

	key.IsActive = active != 0

	return &key, nil
}

// parseTime tries multiple SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.000",
		time.RFC3339,
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %s", s)
}
