package domain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/pendergraft/raffled/internal/storage"
)

// Store is the persistence the raffle needs.
type Store interface {
	CreateRound(ctx context.Context, r *storage.Round) error
	LoadRound(ctx context.Context, raffleID string) (*storage.Round, error)
	ApplyRound(ctx context.Context, u storage.RoundUpdate) error
	ListEvents(ctx context.Context, raffleID string, pagination storage.PaginationParams) (*storage.PaginatedResult[storage.Event], error)
	ListPayouts(ctx context.Context, raffleID string, pagination storage.PaginationParams) (*storage.PaginatedResult[storage.Payout], error)
}

// Coordinator issues randomness requests on behalf of the raffle.
type Coordinator interface {
	RequestRandomWords(ctx context.Context, req RandomWordsRequest) (*big.Int, error)
}

// Option configures a Raffle.
type Option func(*Raffle)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Raffle) {
		r.now = now
	}
}

// Raffle is the raffle state machine. Every mutating operation holds mu for
// its whole duration and stages changes on a copy of the committed round;
// the copy only replaces the committed round after the store has applied it.
// Writers in other processes are detected through the stored round version.
type Raffle struct {
	params      Params
	store       Store
	coordinator Coordinator
	now         func() time.Time

	mu    sync.RWMutex
	round RoundState
}

// New loads the raffle identified by params.ID, creating it in the OPEN
// state when it does not exist yet.
func New(ctx context.Context, params Params, store Store, coordinator Coordinator, opts ...Option) (*Raffle, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	r := &Raffle{
		params:      params,
		store:       store,
		coordinator: coordinator,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	stored, err := store.LoadRound(ctx, params.ID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		r.round = RoundState{
			Round:         1,
			State:         StateOpen,
			LastTimestamp: r.now().Truncate(time.Second),
			Balance:       new(big.Int),
		}
		if err := store.CreateRound(ctx, r.toStorage(r.round)); err != nil {
			return nil, fmt.Errorf("creating round: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("loading round: %w", err)
	default:
		if err := r.checkStoredParams(stored); err != nil {
			return nil, err
		}
		if r.round, err = fromStorage(stored); err != nil {
			return nil, fmt.Errorf("decoding round: %w", err)
		}
	}
	return r, nil
}

// checkStoredParams refuses to reopen a raffle under different immutable parameters.
func (r *Raffle) checkStoredParams(stored *storage.Round) error {
	fee, ok := new(big.Int).SetString(stored.EntranceFee, 10)
	if !ok || fee.Cmp(r.params.EntranceFee) != 0 {
		return fmt.Errorf("%w: stored entrance fee %s differs from configured %s", ErrInvalidParams, stored.EntranceFee, r.params.EntranceFee)
	}
	if stored.IntervalSeconds != int64(r.params.Interval/time.Second) {
		return fmt.Errorf("%w: stored interval %ds differs from configured %s", ErrInvalidParams, stored.IntervalSeconds, r.params.Interval)
	}
	if !common.IsHexAddress(stored.Address) || common.HexToAddress(stored.Address) != r.params.Address {
		return fmt.Errorf("%w: stored address %s differs from configured %s", ErrInvalidParams, stored.Address, r.params.Address.Hex())
	}
	return nil
}

// maxEnterAttempts bounds how often Enter retries after losing a race with
// another writer on the same raffle.
const maxEnterAttempts = 3

// Enter adds player to the current round. value must cover the entrance fee;
// any excess is kept in the pot.
func (r *Raffle) Enter(ctx context.Context, player common.Address, value *big.Int) error {
	if value == nil || value.Cmp(r.params.EntranceFee) < 0 {
		return ErrNotEnoughPayment
	}
	if err := r.checkPlayer(player); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for attempt := 1; ; attempt++ {
		if r.round.State != StateOpen {
			return ErrNotOpen
		}

		next := r.round.clone()
		next.Players = append(next.Players, player)
		next.Balance.Add(next.Balance, value)

		err := r.apply(ctx, next, storage.RoundUpdate{
			Credit: value,
			Events: []storage.Event{r.event(EventRaffleEnter, next.Round, map[string]string{
				"player": player.Hex(),
				"value":  value.String(),
			})},
		})
		if errors.Is(err, ErrRoundConflict) && attempt < maxEnterAttempts {
			continue
		}
		if err != nil {
			return fmt.Errorf("recording entry: %w", err)
		}
		return nil
	}
}

// checkPlayer refuses accounts that could never be paid out to as a winner.
func (r *Raffle) checkPlayer(player common.Address) error {
	switch player {
	case common.Address{}:
		return fmt.Errorf("%w: zero address", ErrInvalidPlayer)
	case r.params.Address:
		return fmt.Errorf("%w: %s is the raffle itself", ErrInvalidPlayer, player.Hex())
	case r.params.Coordinator:
		return fmt.Errorf("%w: %s is the coordinator", ErrInvalidPlayer, player.Hex())
	}
	return nil
}

// apply commits next together with u and makes it the current round. When
// another writer committed first, the stored round is reloaded and
// ErrRoundConflict returned; the caller may retry against the fresh state.
func (r *Raffle) apply(ctx context.Context, next RoundState, u storage.RoundUpdate) error {
	u.Round = r.toStorage(next)
	err := r.store.ApplyRound(ctx, u)
	if errors.Is(err, storage.ErrConflict) {
		if rerr := r.reload(ctx); rerr != nil {
			return fmt.Errorf("%w (reload failed: %v)", ErrRoundConflict, rerr)
		}
		return ErrRoundConflict
	}
	if err != nil {
		return err
	}
	next.Version++
	r.round = next
	return nil
}

func (r *Raffle) reload(ctx context.Context) error {
	stored, err := r.store.LoadRound(ctx, r.params.ID)
	if err != nil {
		return err
	}
	round, err := fromStorage(stored)
	if err != nil {
		return err
	}
	r.round = round
	return nil
}

// CheckUpkeep reports whether the round can be closed. checkData is
// accepted for interface compatibility and ignored; performData is always empty.
func (r *Raffle) CheckUpkeep(ctx context.Context, checkData []byte) (bool, []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.upkeepNeeded(r.round), []byte{}
}

func (r *Raffle) upkeepNeeded(round RoundState) bool {
	isOpen := round.State == StateOpen
	elapsed := r.now().Unix()-round.LastTimestamp.Unix() > int64(r.params.Interval/time.Second)
	hasPlayers := len(round.Players) > 0
	hasBalance := round.Balance.Sign() > 0
	return isOpen && elapsed && hasPlayers && hasBalance
}

// PerformUpkeep closes the round and requests randomness. It returns the
// request id issued by the coordinator.
func (r *Raffle) PerformUpkeep(ctx context.Context, performData []byte) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.upkeepNeeded(r.round) {
		return nil, &UpkeepNotNeededError{
			Balance:    new(big.Int).Set(r.round.Balance),
			NumPlayers: len(r.round.Players),
			State:      r.round.State,
		}
	}

	requestID, err := r.coordinator.RequestRandomWords(ctx, RandomWordsRequest{
		KeyHash:              r.params.GasLane,
		SubscriptionID:       r.params.SubscriptionID,
		RequestConfirmations: RequestConfirmations,
		CallbackGasLimit:     r.params.CallbackGasLimit,
		NumWords:             NumWords,
		Consumer:             r.params.Address,
	})
	if err != nil {
		return nil, fmt.Errorf("requesting random words: %w", err)
	}

	next := r.round.clone()
	next.State = StateCalculating
	next.PendingRequestID = new(big.Int).Set(requestID)

	err = r.apply(ctx, next, storage.RoundUpdate{
		Events: []storage.Event{r.event(EventRequestedRaffleWinner, next.Round, map[string]string{
			"requestId": requestID.String(),
		})},
	})
	if err != nil {
		return nil, fmt.Errorf("recording upkeep: %w", err)
	}
	return requestID, nil
}

// FulfillRandomWords completes the round: it picks the winner, resets the
// round and pays out the entire pot. Only the coordinator may call it. If the
// payout fails nothing changes and the round stays CALCULATING.
func (r *Raffle) FulfillRandomWords(ctx context.Context, caller common.Address, requestID *big.Int, words []*big.Int) (*FulfillResult, error) {
	if caller != r.params.Coordinator {
		return nil, ErrUnauthorizedCaller
	}
	if len(words) == 0 || words[0] == nil {
		return nil, ErrNoRandomWords
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.round.State != StateCalculating || r.round.PendingRequestID == nil || requestID == nil ||
		r.round.PendingRequestID.Cmp(requestID) != 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnknownRequest, requestID)
	}
	if len(r.round.Players) == 0 {
		panic("raffle: calculating round has no players")
	}

	idx := new(big.Int).Mod(words[0], big.NewInt(int64(len(r.round.Players)))).Int64()
	winner := r.round.Players[idx]
	amount := new(big.Int).Set(r.round.Balance)
	now := r.now()

	next := r.round.clone()
	next.RecentWinner = winner
	next.State = StateOpen
	next.Players = nil
	next.LastTimestamp = now.Truncate(time.Second)
	next.PendingRequestID = nil
	next.Balance = new(big.Int)
	next.Round++

	closedRound := r.round.Round
	err := r.apply(ctx, next, storage.RoundUpdate{
		Payout: &storage.Payout{
			ID:        uuid.New().String(),
			Round:     closedRound,
			Winner:    winner.Hex(),
			Amount:    amount.String(),
			RequestID: requestID.String(),
			CreatedAt: now.Unix(),
		},
		Events: []storage.Event{r.event(EventWinnerPicked, closedRound, map[string]string{
			"winner":    winner.Hex(),
			"amount":    amount.String(),
			"requestId": requestID.String(),
		})},
	})
	if err != nil {
		if errors.Is(err, storage.ErrTransferRejected) || errors.Is(err, storage.ErrInsufficientFunds) {
			return nil, fmt.Errorf("%w: paying %s to %s: %v", ErrTransferFailed, amount, winner.Hex(), err)
		}
		return nil, fmt.Errorf("recording fulfillment: %w", err)
	}

	return &FulfillResult{
		RequestID: new(big.Int).Set(requestID),
		Round:     closedRound,
		Winner:    winner,
		Amount:    amount,
	}, nil
}

// EntranceFee returns the minimum payment to enter.
func (r *Raffle) EntranceFee() *big.Int {
	return new(big.Int).Set(r.params.EntranceFee)
}

// State returns the current raffle state.
func (r *Raffle) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.round.State
}

// RecentWinner returns the winner of the last completed round.
func (r *Raffle) RecentWinner() common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.round.RecentWinner
}

// LastTimestamp returns when the current round started.
func (r *Raffle) LastTimestamp() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.round.LastTimestamp
}

// Player returns the entrant at index.
func (r *Raffle) Player(index int) (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if index < 0 || index >= len(r.round.Players) {
		return common.Address{}, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	return r.round.Players[index], nil
}

// Players returns a copy of the current entrants.
func (r *Raffle) Players() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]common.Address(nil), r.round.Players...)
}

// NumberOfPlayers returns the number of entrants in the current round.
func (r *Raffle) NumberOfPlayers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.round.Players)
}

// Balance returns the pot held for the current round.
func (r *Raffle) Balance() *big.Int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return new(big.Int).Set(r.round.Balance)
}

// Interval returns the minimum round duration.
func (r *Raffle) Interval() time.Duration { return r.params.Interval }

// NumWords returns how many random words each request asks for.
func (r *Raffle) NumWords() uint32 { return NumWords }

// RequestConfirmations returns the confirmation depth of each request.
func (r *Raffle) RequestConfirmations() uint16 { return RequestConfirmations }

// Params returns the construction parameters.
func (r *Raffle) Params() Params { return r.params }

// Summary returns every accessor in one consistent snapshot.
func (r *Raffle) Summary() *Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := &Summary{
		ID:                   r.params.ID,
		Address:              r.params.Address,
		EntranceFee:          new(big.Int).Set(r.params.EntranceFee),
		State:                r.round.State.String(),
		Round:                r.round.Round,
		RecentWinner:         r.round.RecentWinner,
		LastTimestamp:        r.round.LastTimestamp,
		NumberOfPlayers:      len(r.round.Players),
		Balance:              new(big.Int).Set(r.round.Balance),
		Interval:             r.params.Interval,
		NumWords:             NumWords,
		RequestConfirmations: RequestConfirmations,
	}
	if r.round.PendingRequestID != nil {
		s.PendingRequestID = new(big.Int).Set(r.round.PendingRequestID)
	}
	return s
}

func (r *Raffle) event(name string, round int64, payload map[string]string) storage.Event {
	return storage.Event{
		ID:        uuid.New().String(),
		Name:      name,
		Round:     round,
		Payload:   payload,
		CreatedAt: r.now().Unix(),
	}
}

func (r *Raffle) toStorage(round RoundState) *storage.Round {
	players := make([]string, len(round.Players))
	for i, p := range round.Players {
		players[i] = p.Hex()
	}
	var winner, pending string
	if round.RecentWinner != (common.Address{}) {
		winner = round.RecentWinner.Hex()
	}
	if round.PendingRequestID != nil {
		pending = round.PendingRequestID.String()
	}
	return &storage.Round{
		RaffleID:         r.params.ID,
		Address:          r.params.Address.Hex(),
		EntranceFee:      r.params.EntranceFee.String(),
		IntervalSeconds:  int64(r.params.Interval / time.Second),
		Round:            round.Round,
		State:            round.State.String(),
		Players:          players,
		LastTimestamp:    round.LastTimestamp.Unix(),
		RecentWinner:     winner,
		PendingRequestID: pending,
		Version:          round.Version,
	}
}

func fromStorage(s *storage.Round) (RoundState, error) {
	state, err := ParseState(s.State)
	if err != nil {
		return RoundState{}, err
	}
	round := RoundState{
		Round:         s.Round,
		State:         state,
		LastTimestamp: time.Unix(s.LastTimestamp, 0),
		Balance:       new(big.Int),
		Version:       s.Version,
	}
	for _, p := range s.Players {
		round.Players = append(round.Players, common.HexToAddress(p))
	}
	if s.RecentWinner != "" {
		round.RecentWinner = common.HexToAddress(s.RecentWinner)
	}
	if s.PendingRequestID != "" {
		id, ok := new(big.Int).SetString(s.PendingRequestID, 10)
		if !ok {
			return RoundState{}, fmt.Errorf("invalid pending request id %q", s.PendingRequestID)
		}
		round.PendingRequestID = id
	}
	if s.Balance != "" {
		bal, ok := new(big.Int).SetString(s.Balance, 10)
		if !ok {
			return RoundState{}, fmt.Errorf("invalid balance %q", s.Balance)
		}
		round.Balance = bal
	}
	return round, nil
}
