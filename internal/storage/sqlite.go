package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	*sqlStore
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One writer at a time; round transitions rely on serialized transactions
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	return &SQLiteStore{sqlStore: &sqlStore{
		db:     db,
		logger: logger,
		rebind: func(q string) string { return q },
	}}, nil
}

// Migrate runs database migrations
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	schema := `
	-- Current round per raffle
	CREATE TABLE IF NOT EXISTS rounds (
		raffle_id TEXT PRIMARY KEY,
		address TEXT NOT NULL,
		entrance_fee TEXT NOT NULL,
		interval_seconds INTEGER NOT NULL,
		round INTEGER NOT NULL DEFAULT 1,
		state TEXT NOT NULL,
		players TEXT NOT NULL DEFAULT '[]',
		last_timestamp INTEGER NOT NULL,
		recent_winner TEXT NOT NULL DEFAULT '',
		pending_request_id TEXT NOT NULL DEFAULT '',
		version BIGINT NOT NULL DEFAULT 0
	);

	-- Ledger accounts (amounts in wei, decimal text)
	CREATE TABLE IF NOT EXISTS accounts (
		address TEXT PRIMARY KEY,
		balance TEXT NOT NULL DEFAULT '0',
		rejects_funds INTEGER NOT NULL DEFAULT 0
	);

	-- Raffle events
	CREATE TABLE IF NOT EXISTS events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		raffle_id TEXT NOT NULL REFERENCES rounds(raffle_id),
		name TEXT NOT NULL,
		round INTEGER NOT NULL,
		payload TEXT,
		created_at INTEGER NOT NULL
	);

	-- Winner payouts
	CREATE TABLE IF NOT EXISTS payouts (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		raffle_id TEXT NOT NULL REFERENCES rounds(raffle_id),
		round INTEGER NOT NULL,
		winner TEXT NOT NULL,
		amount TEXT NOT NULL,
		request_id TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	-- Randomness subscriptions
	CREATE TABLE IF NOT EXISTS subscriptions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner TEXT NOT NULL,
		balance TEXT NOT NULL DEFAULT '0',
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS subscription_consumers (
		subscription_id INTEGER NOT NULL REFERENCES subscriptions(id) ON DELETE CASCADE,
		consumer TEXT NOT NULL,
		PRIMARY KEY (subscription_id, consumer)
	);

	-- Randomness requests
	CREATE TABLE IF NOT EXISTS vrf_requests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		subscription_id INTEGER NOT NULL REFERENCES subscriptions(id),
		consumer TEXT NOT NULL,
		key_hash TEXT NOT NULL,
		seed TEXT NOT NULL,
		min_confirmations INTEGER NOT NULL,
		callback_gas_limit INTEGER NOT NULL,
		num_words INTEGER NOT NULL,
		status TEXT NOT NULL,
		proof TEXT NOT NULL DEFAULT '',
		words TEXT NOT NULL DEFAULT '[]',
		callback_error TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		fulfilled_at INTEGER NOT NULL DEFAULT 0
	);

	-- API keys
	CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		key_hash TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		last_used_at BIGINT NOT NULL DEFAULT 0,
		revoked_at BIGINT NOT NULL DEFAULT 0
	);

	-- Indexes
	CREATE INDEX IF NOT EXISTS idx_events_raffle ON events(raffle_id, seq);
	CREATE INDEX IF NOT EXISTS idx_payouts_raffle ON payouts(raffle_id, seq);
	CREATE INDEX IF NOT EXISTS idx_vrf_requests_status ON vrf_requests(status, id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.logger.Info("database migrations complete")
	return nil
}
