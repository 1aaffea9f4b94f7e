package domain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/pendergraft/raffled/internal/observability/metrics"
	"github.com/pendergraft/raffled/internal/storage"
)

// Store is the persistence the coordinator needs.
type Store interface {
	CreateSubscription(ctx context.Context, owner string) (*storage.Subscription, error)
	GetSubscription(ctx context.Context, id int64) (*storage.Subscription, error)
	FundSubscription(ctx context.Context, id int64, amount *big.Int) error
	AddConsumer(ctx context.Context, id int64, consumer string) error
	CreateRequest(ctx context.Context, r *storage.RandomnessRequest) error
	GetRequest(ctx context.Context, id int64) (*storage.RandomnessRequest, error)
	ListPendingRequests(ctx context.Context, limit int) ([]storage.RandomnessRequest, error)
	CompleteRequest(ctx context.Context, c storage.RequestCompletion) error
}

// Consumer receives fulfilled randomness.
type Consumer interface {
	FulfillRandomWords(ctx context.Context, caller common.Address, requestID *big.Int, words []*big.Int) error
}

// ConsumerFunc adapts a function to the Consumer interface.
type ConsumerFunc func(ctx context.Context, caller common.Address, requestID *big.Int, words []*big.Int) error

// FulfillRandomWords calls f.
func (f ConsumerFunc) FulfillRandomWords(ctx context.Context, caller common.Address, requestID *big.Int, words []*big.Int) error {
	return f(ctx, caller, requestID, words)
}

// Coordinator serves randomness requests. Every fulfillment carries a proof
// signed with the coordinator key, and the consumer is called back with the
// coordinator address as caller.
type Coordinator struct {
	store   Store
	key     *ecdsa.PrivateKey
	address common.Address
	logger  *slog.Logger
	now     func() time.Time
	nonce   atomic.Uint64

	mu        sync.Mutex
	consumers map[common.Address]Consumer
	inflight  map[uint64]struct{}
}

// NewCoordinator creates a coordinator signing with key.
func NewCoordinator(store Store, key *ecdsa.PrivateKey, logger *slog.Logger) *Coordinator {
	c := &Coordinator{
		store:     store,
		key:       key,
		address:   crypto.PubkeyToAddress(key.PublicKey),
		logger:    logger,
		now:       time.Now,
		consumers: make(map[common.Address]Consumer),
		inflight:  make(map[uint64]struct{}),
	}
	c.nonce.Store(uint64(time.Now().UnixNano()))
	return c
}

// Address returns the coordinator's signing address.
func (c *Coordinator) Address() common.Address {
	return c.address
}

// RegisterConsumer routes fulfillments for addr to consumer.
func (c *Coordinator) RegisterConsumer(addr common.Address, consumer Consumer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consumers[addr] = consumer
}

// CreateSubscription creates an empty subscription owned by owner.
func (c *Coordinator) CreateSubscription(ctx context.Context, owner common.Address) (*Subscription, error) {
	sub, err := c.store.CreateSubscription(ctx, owner.Hex())
	if err != nil {
		return nil, fmt.Errorf("creating subscription: %w", err)
	}
	c.logger.Info("subscription created", "id", sub.ID, "owner", owner.Hex())
	return toSubscription(sub)
}

// GetSubscription returns a subscription with its consumers.
func (c *Coordinator) GetSubscription(ctx context.Context, id uint64) (*Subscription, error) {
	sub, err := c.store.GetSubscription(ctx, int64(id))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidSubscription
		}
		return nil, fmt.Errorf("getting subscription: %w", err)
	}
	return toSubscription(sub)
}

// FundSubscription adds amount to the subscription balance.
func (c *Coordinator) FundSubscription(ctx context.Context, id uint64, amount *big.Int) (*Subscription, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := c.store.FundSubscription(ctx, int64(id), amount); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidSubscription
		}
		return nil, fmt.Errorf("funding subscription: %w", err)
	}
	return c.GetSubscription(ctx, id)
}

// AddConsumer authorizes consumer to request randomness on the subscription.
func (c *Coordinator) AddConsumer(ctx context.Context, id uint64, consumer common.Address) (*Subscription, error) {
	if err := c.store.AddConsumer(ctx, int64(id), consumer.Hex()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidSubscription
		}
		return nil, fmt.Errorf("adding consumer: %w", err)
	}
	c.logger.Info("consumer added", "subscription", id, "consumer", consumer.Hex())
	return c.GetSubscription(ctx, id)
}

// RequestRandomWords records a pending request and returns its id. Ids are
// strictly increasing.
func (c *Coordinator) RequestRandomWords(ctx context.Context, p RequestParams) (uint64, error) {
	if p.Confirmations < MinConfirmations || p.Confirmations > MaxConfirmations {
		return 0, fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidConfirmations, p.Confirmations, MinConfirmations, MaxConfirmations)
	}
	if p.NumWords > MaxNumWords {
		return 0, fmt.Errorf("%w: %d > %d", ErrTooManyWords, p.NumWords, MaxNumWords)
	}

	sub, err := c.GetSubscription(ctx, p.SubscriptionID)
	if err != nil {
		return 0, err
	}
	if !hasConsumer(sub, p.Consumer) {
		return 0, fmt.Errorf("%w: %s on subscription %d", ErrInvalidConsumer, p.Consumer.Hex(), p.SubscriptionID)
	}

	seed := requestSeed(p.KeyHash, p.Consumer, p.SubscriptionID, c.nonce.Add(1))
	req := &storage.RandomnessRequest{
		SubscriptionID:   int64(p.SubscriptionID),
		Consumer:         p.Consumer.Hex(),
		KeyHash:          p.KeyHash.Hex(),
		Seed:             seed.Hex(),
		MinConfirmations: int(p.Confirmations),
		CallbackGasLimit: int64(p.CallbackGasLimit),
		NumWords:         int(p.NumWords),
		CreatedAt:        c.now().Unix(),
	}
	if err := c.store.CreateRequest(ctx, req); err != nil {
		return 0, fmt.Errorf("storing request: %w", err)
	}

	metrics.VRFRequest("requested")
	c.logger.Info("randomness requested",
		"requestId", req.ID,
		"subscription", p.SubscriptionID,
		"consumer", p.Consumer.Hex(),
		"numWords", p.NumWords,
	)
	return uint64(req.ID), nil
}

// GetRequest returns a request by id.
func (c *Coordinator) GetRequest(ctx context.Context, id uint64) (*Request, error) {
	r, err := c.store.GetRequest(ctx, int64(id))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("getting request: %w", err)
	}
	return toRequest(r)
}

// Fulfill serves a pending request: it signs the proof, derives the words and
// calls the consumer back. The request is consumed either way; a failing
// callback marks it failed and is reported in Request.CallbackError rather
// than as an error.
func (c *Coordinator) Fulfill(ctx context.Context, id uint64) (*Request, error) {
	c.mu.Lock()
	if _, busy := c.inflight[id]; busy {
		c.mu.Unlock()
		return nil, ErrRequestInFlight
	}
	c.inflight[id] = struct{}{}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.inflight, id)
		c.mu.Unlock()
	}()

	req, err := c.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusPending {
		return nil, ErrNotPending
	}

	proof, err := generateProof(c.key, req.KeyHash, req.ID, req.Seed)
	if err != nil {
		return nil, err
	}
	words := expandWords(proof.Signature, req.NumWords)

	c.mu.Lock()
	consumer, ok := c.consumers[req.Consumer]
	c.mu.Unlock()

	var callbackErr error
	if ok {
		callbackErr = consumer.FulfillRandomWords(ctx, c.address, new(big.Int).SetUint64(req.ID), words)
	} else {
		callbackErr = fmt.Errorf("no callback registered for consumer %s", req.Consumer.Hex())
	}

	completion := storage.RequestCompletion{
		ID:          int64(req.ID),
		Status:      StatusFulfilled,
		Proof:       hexutil.Encode(proof.Signature),
		Words:       make([]string, len(words)),
		FulfilledAt: c.now().Unix(),
	}
	for i, w := range words {
		completion.Words[i] = w.String()
	}
	if callbackErr != nil {
		completion.Status = StatusFailed
		completion.CallbackError = callbackErr.Error()
	}
	if err := c.store.CompleteRequest(ctx, completion); err != nil {
		if errors.Is(err, storage.ErrNotPending) {
			return nil, ErrNotPending
		}
		return nil, fmt.Errorf("completing request: %w", err)
	}

	metrics.VRFRequest(completion.Status)
	if callbackErr != nil {
		c.logger.Warn("randomness callback failed",
			"requestId", req.ID,
			"consumer", req.Consumer.Hex(),
			"error", callbackErr,
		)
	} else {
		c.logger.Info("randomness fulfilled", "requestId", req.ID, "consumer", req.Consumer.Hex())
	}

	fulfilledAt := time.Unix(completion.FulfilledAt, 0).UTC()
	req.Status = completion.Status
	req.Proof = proof
	req.Words = words
	req.CallbackError = completion.CallbackError
	req.FulfilledAt = &fulfilledAt
	return req, nil
}

// PendingRequests lists up to limit pending requests, oldest first.
func (c *Coordinator) PendingRequests(ctx context.Context, limit int) ([]Request, error) {
	pending, err := c.store.ListPendingRequests(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing pending requests: %w", err)
	}
	out := make([]Request, 0, len(pending))
	for i := range pending {
		r, err := toRequest(&pending[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, nil
}

func hasConsumer(sub *Subscription, consumer common.Address) bool {
	for _, c := range sub.Consumers {
		if c == consumer {
			return true
		}
	}
	return false
}

func toSubscription(s *storage.Subscription) (*Subscription, error) {
	bal, ok := new(big.Int).SetString(s.Balance, 10)
	if !ok {
		return nil, fmt.Errorf("subscription %d: invalid balance %q", s.ID, s.Balance)
	}
	sub := &Subscription{
		ID:        uint64(s.ID),
		Owner:     common.HexToAddress(s.Owner),
		Balance:   bal,
		Consumers: make([]common.Address, len(s.Consumers)),
		CreatedAt: time.Unix(s.CreatedAt, 0).UTC(),
	}
	for i, c := range s.Consumers {
		sub.Consumers[i] = common.HexToAddress(c)
	}
	return sub, nil
}

func toRequest(r *storage.RandomnessRequest) (*Request, error) {
	req := &Request{
		ID:               uint64(r.ID),
		SubscriptionID:   uint64(r.SubscriptionID),
		Consumer:         common.HexToAddress(r.Consumer),
		KeyHash:          common.HexToHash(r.KeyHash),
		Seed:             common.HexToHash(r.Seed),
		Confirmations:    uint16(r.MinConfirmations),
		CallbackGasLimit: uint32(r.CallbackGasLimit),
		NumWords:         uint32(r.NumWords),
		Status:           r.Status,
		CallbackError:    r.CallbackError,
		CreatedAt:        time.Unix(r.CreatedAt, 0).UTC(),
	}
	if r.Proof != "" {
		sig, err := hexutil.Decode(r.Proof)
		if err != nil {
			return nil, fmt.Errorf("request %d: invalid proof: %w", r.ID, err)
		}
		req.Proof = &Proof{KeyHash: req.KeyHash, RequestID: req.ID, Seed: req.Seed, Signature: sig}
	}
	for _, w := range r.Words {
		word, ok := new(big.Int).SetString(strings.TrimSpace(w), 10)
		if !ok {
			return nil, fmt.Errorf("request %d: invalid word %q", r.ID, w)
		}
		req.Words = append(req.Words, word)
	}
	if r.FulfilledAt != 0 {
		t := time.Unix(r.FulfilledAt, 0).UTC()
		req.FulfilledAt = &t
	}
	return req, nil
}
