// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the server
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Auth      AuthConfig
	Logging   LoggingConfig
	RateLimit RateLimitConfig
	Security  SecurityConfig
	Proxy     ProxyConfig
	Metrics   MetricsConfig
	Raffle    RaffleConfig
	Keeper    KeeperConfig
	VRF       VRFConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int
	Host           string
	ReadTimeout    int // seconds
	WriteTimeout   int // seconds
	IdleTimeout    int // seconds
	RequestTimeout int // seconds
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type     string // "sqlite" or "postgres"
	Postgres PostgresConfig
	SQLite   SQLiteConfig
}

// PostgresConfig holds Postgres connection settings
type PostgresConfig struct {
	URL string
}

// SQLiteConfig holds SQLite settings
type SQLiteConfig struct {
	Path string
}

// AuthConfig holds authentication settings
type AuthConfig struct {
	Type string // "none" or "api-key"
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string
	Format string // "text" or "json"
}

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	Enabled        bool
	RequestsPerMin int
	BurstSize      int
	CleanupMinutes int
}

// SecurityConfig holds security filter settings
type SecurityConfig struct {
	FilterEnabled bool
	MaxBodySizeMB int
}

// ProxyConfig holds trusted proxy settings for X-Forwarded-For handling
type ProxyConfig struct {
	TrustProxy     bool
	TrustedProxies []string // CIDR notation
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled     bool
	ServiceName string
}

// RaffleConfig holds the raffle construction parameters, resolved from the
// selected network and then overridden by RAFFLE_* variables
type RaffleConfig struct {
	ID               string
	Network          string
	NetworksFile     string
	ChainID          int64
	Address          string
	Coordinator      string
	EntranceFee      *big.Int // wei
	GasLane          string
	SubscriptionID   uint64
	CallbackGasLimit uint32
	Interval         time.Duration
}

// KeeperConfig holds the upkeep poller settings
type KeeperConfig struct {
	Enabled          bool
	PollInterval     time.Duration
	PerformPerMinute int
}

// VRFConfig holds the local randomness coordinator settings
type VRFConfig struct {
	Enabled     bool
	PrivateKey  string // hex secp256k1 key; empty generates one at startup
	BlockTime   time.Duration
	AutoFulfill bool
	Workers     int
	BatchSize   int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnvInt("PORT", 8080),
			Host:           getEnv("HOST", "0.0.0.0"),
			ReadTimeout:    getEnvInt("SERVER_READ_TIMEOUT", 30),
			WriteTimeout:   getEnvInt("SERVER_WRITE_TIMEOUT", 60),
			IdleTimeout:    getEnvInt("SERVER_IDLE_TIMEOUT", 120),
			RequestTimeout: getEnvInt("SERVER_REQUEST_TIMEOUT", 30),
		},
		Storage: StorageConfig{
			Type: getEnv("STORAGE_TYPE", "sqlite"),
			Postgres: PostgresConfig{
				URL: getEnv("DATABASE_URL", ""),
			},
			SQLite: SQLiteConfig{
				Path: getEnv("SQLITE_PATH", "./data/raffle.db"),
			},
		},
		Auth: AuthConfig{
			Type: getEnv("AUTH_TYPE", "none"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		RateLimit: RateLimitConfig{
			Enabled:        getEnvBool("RATE_LIMIT_ENABLED", true),
			RequestsPerMin: getEnvInt("RATE_LIMIT_RPM", 300),
			BurstSize:      getEnvInt("RATE_LIMIT_BURST", 50),
			CleanupMinutes: getEnvInt("RATE_LIMIT_CLEANUP_MINUTES", 10),
		},
		Security: SecurityConfig{
			FilterEnabled: getEnvBool("SECURITY_FILTER_ENABLED", true),
			MaxBodySizeMB: getEnvInt("SECURITY_MAX_BODY_SIZE_MB", 1),
		},
		Proxy: ProxyConfig{
			TrustProxy:     getEnvBool("TRUST_PROXY", false),
			TrustedProxies: getEnvStringSlice("TRUSTED_PROXIES", []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"}),
		},
		Metrics: MetricsConfig{
			Enabled:     getEnvBool("METRICS_ENABLED", false),
			ServiceName: getEnv("METRICS_SERVICE_NAME", "raffled"),
		},
		Raffle: RaffleConfig{
			ID:           getEnv("RAFFLE_ID", "default"),
			Network:      getEnv("RAFFLE_NETWORK", "localhost"),
			NetworksFile: getEnv("RAFFLE_NETWORKS_FILE", ""),
		},
		Keeper: KeeperConfig{
			Enabled:          getEnvBool("KEEPER_ENABLED", true),
			PollInterval:     getEnvDuration("KEEPER_POLL_INTERVAL", 5*time.Second),
			PerformPerMinute: getEnvInt("KEEPER_PERFORM_PER_MINUTE", 6),
		},
		VRF: VRFConfig{
			Enabled:     getEnvBool("VRF_ENABLED", true),
			PrivateKey:  getEnv("VRF_PRIVATE_KEY", ""),
			BlockTime:   getEnvDuration("VRF_BLOCK_TIME", time.Second),
			AutoFulfill: getEnvBool("VRF_AUTO_FULFILL", true),
			Workers:     getEnvInt("VRF_WORKERS", 4),
			BatchSize:   getEnvInt("VRF_BATCH_SIZE", 50),
		},
	}

	// If DATABASE_URL is set, default to postgres
	if cfg.Storage.Postgres.URL != "" && cfg.Storage.Type == "sqlite" {
		cfg.Storage.Type = "postgres"
	}

	if err := cfg.resolveRaffle(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// resolveRaffle fills the raffle parameters from the selected network and
// applies RAFFLE_* overrides on top.
func (c *Config) resolveRaffle() error {
	networks, err := LoadNetworks(c.Raffle.NetworksFile)
	if err != nil {
		return err
	}
	network, ok := networks[c.Raffle.Network]
	if !ok {
		return fmt.Errorf("unknown network %q", c.Raffle.Network)
	}

	r := &c.Raffle
	r.ChainID = network.ChainID
	r.Address = getEnv("RAFFLE_ADDRESS", network.RaffleAddress)
	r.Coordinator = getEnv("RAFFLE_COORDINATOR", network.Coordinator)
	r.GasLane = getEnv("RAFFLE_GAS_LANE", network.GasLane)
	r.Interval = getEnvDuration("RAFFLE_INTERVAL", time.Duration(network.IntervalSeconds)*time.Second)

	fee := getEnv("RAFFLE_ENTRANCE_FEE", network.EntranceFee)
	entranceFee, valid := new(big.Int).SetString(fee, 10)
	if !valid {
		return fmt.Errorf("invalid entrance fee %q", fee)
	}
	r.EntranceFee = entranceFee

	r.SubscriptionID = network.SubscriptionID
	if v := os.Getenv("RAFFLE_SUBSCRIPTION_ID"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid RAFFLE_SUBSCRIPTION_ID: %w", err)
		}
		r.SubscriptionID = id
	}

	r.CallbackGasLimit = network.CallbackGasLimit
	if v := os.Getenv("RAFFLE_CALLBACK_GAS_LIMIT"); v != "" {
		limit, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid RAFFLE_CALLBACK_GAS_LIMIT: %w", err)
		}
		r.CallbackGasLimit = uint32(limit)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("30s") or a bare number of seconds
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
