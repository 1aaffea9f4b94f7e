//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/raffled/internal/config"
	"github.com/pendergraft/raffled/internal/server"
	"github.com/pendergraft/raffled/internal/storage"
	"github.com/pendergraft/raffled/pkg/client"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const serverVersion = "1.0.0"

// TestContext holds shared test infrastructure
type TestContext struct {
	PostgresContainer *postgres.PostgresContainer
	ConnString        string
	Store             storage.Store
}

// setupPostgresE starts a Postgres container and returns the connection string
func setupPostgresE(ctx context.Context) (*postgres.PostgresContainer, string, error) {
	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("raffle"),
		postgres.WithUsername("raffle"),
		postgres.WithPassword("raffle"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start postgres container: %w", err)
	}

	connString, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, "", fmt.Errorf("failed to get postgres connection string: %w", err)
	}

	return container, connString, nil
}

// openStoreE opens and migrates the shared Postgres store
func openStoreE(connString string) (storage.Store, error) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	store, err := storage.New(config.StorageConfig{
		Type:     "postgres",
		Postgres: config.PostgresConfig{URL: connString},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// testConfig returns a config for a raffle with its own id and contract
// address, so tests sharing the database do not see each other's rounds.
func testConfig() *config.Config {
	addr := fmt.Sprintf("0x%040x", new(big.Int).SetBytes(uuidBytes()))
	return &config.Config{
		Storage:   config.StorageConfig{Type: "postgres"},
		Auth:      config.AuthConfig{Type: "api-key"},
		Logging:   config.LoggingConfig{Level: "debug", Format: "text"},
		RateLimit: config.RateLimitConfig{Enabled: false},
		Security:  config.SecurityConfig{FilterEnabled: true, MaxBodySizeMB: 1},
		Metrics:   config.MetricsConfig{ServiceName: "raffled-e2e"},
		Raffle: config.RaffleConfig{
			ID:               "e2e-" + uuid.NewString(),
			Network:          "localhost",
			Address:          addr,
			EntranceFee:      big.NewInt(1e16),
			GasLane:          "0x474e34a077df58807dbe9c96d3c009b23b3c6d0cce433e59bbf5b34f823bc56c",
			CallbackGasLimit: 500000,
			Interval:         time.Second,
		},
		VRF: config.VRFConfig{Enabled: true, BlockTime: 20 * time.Millisecond, Workers: 2, BatchSize: 20},
	}
}

func uuidBytes() []byte {
	id := uuid.New()
	return id[:]
}

// startServer starts a raffle server in-process against the shared store.
func startServer(t *testing.T, cfg *config.Config) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	srv, err := server.New(context.Background(), cfg, testCtx.Store, logger, serverVersion)
	require.NoError(t, err, "Failed to start server")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.RunBackground(ctx) }()

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		require.NoError(t, <-done)
	})
	return ts
}

// operatorClient returns a client carrying a fresh operator API key
func operatorClient(t *testing.T, ts *httptest.Server) *client.Client {
	t.Helper()
	key, err := testCtx.Store.CreateAPIKey(context.Background(), "e2e-"+t.Name())
	require.NoError(t, err, "Failed to create API key")
	return client.New(ts.URL, key)
}

// waitForUpkeep blocks until the raffle reports upkeep is needed
func waitForUpkeep(t *testing.T, c *client.Client) {
	t.Helper()
	require.Eventually(t, func() bool {
		res, err := c.CheckUpkeep(context.Background())
		return err == nil && res.UpkeepNeeded
	}, 10*time.Second, 100*time.Millisecond)
}
