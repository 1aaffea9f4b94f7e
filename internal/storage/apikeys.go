package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// apiKeyTimeLayout is how API key timestamps are rendered for operators.
const apiKeyTimeLayout = "2006-01-02 15:04:05"

// CreateAPIKey stores the hash of a new key and returns the plaintext once.
func (s *sqlStore) CreateAPIKey(ctx context.Context, name string) (string, error) {
	key := generateAPIKey()
	_, err := s.exec(ctx, s.db,
		`INSERT INTO api_keys (id, key_hash, name, created_at) VALUES (?, ?, ?, ?)`,
		generateID(), hashAPIKey(key), name, time.Now().Unix())
	if err != nil {
		return "", fmt.Errorf("creating api key: %w", err)
	}
	return key, nil
}

// ValidateAPIKey resolves an unrevoked key and stamps its last use.
func (s *sqlStore) ValidateAPIKey(ctx context.Context, key string) (*APIKey, error) {
	var (
		ak      APIKey
		created int64
	)
	err := s.queryRow(ctx, s.db,
		`SELECT id, key_hash, name, created_at FROM api_keys WHERE key_hash = ? AND revoked_at = 0`,
		hashAPIKey(key)).Scan(&ak.ID, &ak.KeyHash, &ak.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("validating api key: %w", err)
	}
	ak.CreatedAt = formatKeyTime(created)

	if _, err := s.exec(ctx, s.db, `UPDATE api_keys SET last_used_at = ? WHERE id = ?`, time.Now().Unix(), ak.ID); err != nil {
		s.logger.Warn("recording api key use", "id", ak.ID, "error", err)
	}
	return &ak, nil
}

// ListAPIKeys returns unrevoked keys, oldest first.
func (s *sqlStore) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	rows, err := s.query(ctx, s.db,
		`SELECT id, name, created_at, last_used_at FROM api_keys WHERE revoked_at = 0 ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		var (
			k             APIKey
			created, used int64
		)
		if err := rows.Scan(&k.ID, &k.Name, &created, &used); err != nil {
			return nil, err
		}
		k.CreatedAt = formatKeyTime(created)
		k.LastUsedAt = formatKeyTime(used)
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// RevokeAPIKey marks a key revoked. Unknown ids are ErrNotFound.
func (s *sqlStore) RevokeAPIKey(ctx context.Context, id string) error {
	res, err := s.exec(ctx, s.db,
		`UPDATE api_keys SET revoked_at = ? WHERE id = ? AND revoked_at = 0`, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// formatKeyTime renders epoch seconds; zero means never.
func formatKeyTime(sec int64) string {
	if sec == 0 {
		return ""
	}
	return time.Unix(sec, 0).UTC().Format(apiKeyTimeLayout)
}
