package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	*sqlStore
}

// NewPostgresStore creates a new Postgres store
func NewPostgresStore(url string, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &PostgresStore{sqlStore: &sqlStore{
		db:     db,
		logger: logger,
		rebind: rebindDollar,
	}}, nil
}

// Migrate runs database migrations
func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rounds (
		raffle_id TEXT PRIMARY KEY,
		address TEXT NOT NULL,
		entrance_fee TEXT NOT NULL,
		interval_seconds BIGINT NOT NULL,
		round BIGINT NOT NULL DEFAULT 1,
		state TEXT NOT NULL,
		players JSONB NOT NULL DEFAULT '[]',
		last_timestamp BIGINT NOT NULL,
		recent_winner TEXT NOT NULL DEFAULT '',
		pending_request_id TEXT NOT NULL DEFAULT '',
		version BIGINT NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS accounts (
		address TEXT PRIMARY KEY,
		balance TEXT NOT NULL DEFAULT '0',
		rejects_funds BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE TABLE IF NOT EXISTS events (
		seq BIGSERIAL PRIMARY KEY,
		id UUID NOT NULL UNIQUE,
		raffle_id TEXT NOT NULL REFERENCES rounds(raffle_id),
		name TEXT NOT NULL,
		round BIGINT NOT NULL,
		payload JSONB,
		created_at BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS payouts (
		seq BIGSERIAL PRIMARY KEY,
		id UUID NOT NULL UNIQUE,
		raffle_id TEXT NOT NULL REFERENCES rounds(raffle_id),
		round BIGINT NOT NULL,
		winner TEXT NOT NULL,
		amount TEXT NOT NULL,
		request_id TEXT NOT NULL,
		created_at BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS subscriptions (
		id BIGSERIAL PRIMARY KEY,
		owner TEXT NOT NULL,
		balance TEXT NOT NULL DEFAULT '0',
		created_at BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS subscription_consumers (
		subscription_id BIGINT NOT NULL REFERENCES subscriptions(id) ON DELETE CASCADE,
		consumer TEXT NOT NULL,
		PRIMARY KEY (subscription_id, consumer)
	);

	CREATE TABLE IF NOT EXISTS vrf_requests (
		id BIGSERIAL PRIMARY KEY,
		subscription_id BIGINT NOT NULL REFERENCES subscriptions(id),
		consumer TEXT NOT NULL,
		key_hash TEXT NOT NULL,
		seed TEXT NOT NULL,
		min_confirmations INTEGER NOT NULL,
		callback_gas_limit BIGINT NOT NULL,
		num_words INTEGER NOT NULL,
		status TEXT NOT NULL,
		proof TEXT NOT NULL DEFAULT '',
		words JSONB NOT NULL DEFAULT '[]',
		callback_error TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		fulfilled_at BIGINT NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		key_hash TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		last_used_at BIGINT NOT NULL DEFAULT 0,
		revoked_at BIGINT NOT NULL DEFAULT 0
	);

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
