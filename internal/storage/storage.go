package storage

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/pendergraft/raffled/internal/config"
)

// RaffleStore handles raffle round persistence
type RaffleStore interface {
	CreateRound(ctx context.Context, r *Round) error
	LoadRound(ctx context.Context, raffleID string) (*Round, error)
	ApplyRound(ctx context.Context, u RoundUpdate) error
	ListEvents(ctx context.Context, raffleID string, pagination PaginationParams) (*PaginatedResult[Event], error)
	ListPayouts(ctx context.Context, raffleID string, pagination PaginationParams) (*PaginatedResult[Payout], error)
}

// LedgerStore handles account balances
type LedgerStore interface {
	Balance(ctx context.Context, account string) (*big.Int, error)
	SetRejectsFunds(ctx context.Context, account string, rejects bool) error
}

// RequestStore handles randomness subscriptions and requests
type RequestStore interface {
	CreateSubscription(ctx context.Context, owner string) (*Subscription, error)
	GetSubscription(ctx context.Context, id int64) (*Subscription, error)
	FundSubscription(ctx context.Context, id int64, amount *big.Int) error
	AddConsumer(ctx context.Context, id int64, consumer string) error
	CreateRequest(ctx context.Context, r *RandomnessRequest) error
	GetRequest(ctx context.Context, id int64) (*RandomnessRequest, error)
	ListPendingRequests(ctx context.Context, limit int) ([]RandomnessRequest, error)
	CompleteRequest(ctx context.Context, c RequestCompletion) error
}

// APIKeyStore handles API key operations
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, name string) (key string, err error)
	ValidateAPIKey(ctx context.Context, key string) (*APIKey, error)
	ListAPIKeys(ctx context.Context) ([]APIKey, error)
	RevokeAPIKey(ctx context.Context, id string) error
}

// Store combines all storage interfaces with lifecycle methods.
// Domain services define their own minimal interfaces based on their actual usage.
type Store interface {
	RaffleStore
	LedgerStore
	RequestStore
	APIKeyStore

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// Round is the persisted state of a raffle's current round.
// Amounts are decimal wei strings; timestamps are unix seconds.
type Round struct {
	RaffleID         string
	Address          string
	EntranceFee      string
	IntervalSeconds  int64
	Round            int64
	State            string
	Players          []string
	LastTimestamp    int64
	RecentWinner     string
	PendingRequestID string
	Balance          string // read from the ledger, not stored on the round row
	// Version counts committed updates. ApplyRound only succeeds when it
	// matches the stored version, and bumps it.
	Version int64
}

// RoundUpdate is applied atomically: either every part commits or none does.
type RoundUpdate struct {
	Round  *Round
	Credit *big.Int // amount paid into the raffle account
	Payout *Payout  // transfer from the raffle account to the winner
	Events []Event
}

// Event is a stored raffle notification
type Event struct {
	Seq       int64
	ID        string
	RaffleID  string
	Name      string
	Round     int64
	Payload   map[string]string
	CreatedAt int64
}

// Payout is a stored winner transfer
type Payout struct {
	Seq       int64
	ID        string
	RaffleID  string
	Round     int64
	Winner    string
	Amount    string
	RequestID string
	CreatedAt int64
}

// Subscription is a randomness subscription
type Subscription struct {
	ID        int64
	Owner     string
	Balance   string
	Consumers []string
	CreatedAt int64
}

// Request statuses
const (
	RequestPending   = "pending"
	RequestFulfilled = "fulfilled"
	RequestFailed    = "failed"
)

// RandomnessRequest is a randomness request awaiting or past fulfillment
type RandomnessRequest struct {
	ID               int64
	SubscriptionID   int64
	Consumer         string
	KeyHash          string
	Seed             string
	MinConfirmations int
	CallbackGasLimit int64
	NumWords         int
	Status           string
	Proof            string
	Words            []string
	CallbackError    string
	CreatedAt        int64
	FulfilledAt      int64
}

// RequestCompletion records the outcome of a fulfillment
type RequestCompletion struct {
	ID            int64
	Status        string
	Proof         string
	Words         []string
	CallbackError string
	FulfilledAt   int64
}

// APIKey represents an API key
type APIKey struct {
	ID         string
	Name       string
	KeyHash    string
	CreatedAt  string
	LastUsedAt string
	RevokedAt  string
}

// PaginationParams contains pagination options
type PaginationParams struct {
	Limit  int
	Cursor string
}

// PaginatedResult contains paginated results
type PaginatedResult[T any] struct {
	Data       []T
	HasMore    bool
	NextCursor string
}

// New creates a new store based on configuration
func New(cfg config.StorageConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Type {
	case "sqlite":
		return NewSQLiteStore(cfg.SQLite.Path, logger)
	case "postgres":
		return NewPostgresStore(cfg.Postgres.URL, logger)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
