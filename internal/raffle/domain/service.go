package domain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pendergraft/raffled/internal/observability/metrics"
	"github.com/pendergraft/raffled/internal/storage"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// Service defines the raffle service interface.
type Service interface {
	// Enter adds a player to the current round.
	Enter(ctx context.Context, player common.Address, value *big.Int) error

	// CheckUpkeep reports whether the current round can be closed.
	CheckUpkeep(ctx context.Context, checkData []byte) (bool, []byte)

	// PerformUpkeep closes the round and requests randomness.
	PerformUpkeep(ctx context.Context, performData []byte) (*big.Int, error)

	// FulfillRandomWords delivers randomness and completes the round.
	FulfillRandomWords(ctx context.Context, caller common.Address, requestID *big.Int, words []*big.Int) (*FulfillResult, error)

	// Summary returns a snapshot of the raffle.
	Summary(ctx context.Context) (*Summary, error)

	// Player returns the entrant at index.
	Player(ctx context.Context, index int) (common.Address, error)

	// Players returns every entrant of the current round.
	Players(ctx context.Context) ([]common.Address, error)

	// Events lists emitted events, newest first.
	Events(ctx context.Context, pagination PaginationParams) (*EventList, error)

	// Payouts lists completed payouts, newest first.
	Payouts(ctx context.Context, pagination PaginationParams) (*PayoutList, error)
}

// service implements the Service interface.
type service struct {
	raffle *Raffle
}

// NewService creates a new raffle service around r.
func NewService(r *Raffle) Service {
	metrics.RafflePlayers(r.NumberOfPlayers())
	return &service{raffle: r}
}

func (s *service) Enter(ctx context.Context, player common.Address, value *big.Int) error {
	err := s.raffle.Enter(ctx, player, value)
	switch {
	case err == nil:
		metrics.RaffleEnter("ok")
		metrics.RafflePlayers(s.raffle.NumberOfPlayers())
	case errors.Is(err, ErrNotEnoughPayment):
		metrics.RaffleEnter("not_enough_payment")
	case errors.Is(err, ErrNotOpen):
		metrics.RaffleEnter("not_open")
	default:
		metrics.RaffleEnter("error")
	}
	return err
}

func (s *service) CheckUpkeep(ctx context.Context, checkData []byte) (bool, []byte) {
	return s.raffle.CheckUpkeep(ctx, checkData)
}

func (s *service) PerformUpkeep(ctx context.Context, performData []byte) (*big.Int, error) {
	id, err := s.raffle.PerformUpkeep(ctx, performData)
	switch {
	case err == nil:
		metrics.RaffleUpkeep("performed")
	case errors.Is(err, ErrUpkeepNotNeeded):
		metrics.RaffleUpkeep("not_needed")
	default:
		metrics.RaffleUpkeep("error")
	}
	return id, err
}

func (s *service) FulfillRandomWords(ctx context.Context, caller common.Address, requestID *big.Int, words []*big.Int) (*FulfillResult, error) {
	result, err := s.raffle.FulfillRandomWords(ctx, caller, requestID, words)
	switch {
	case err == nil:
		metrics.RaffleFulfill("ok")
		metrics.RafflePayout(result.Amount)
		metrics.RafflePlayers(0)
	case errors.Is(err, ErrTransferFailed):
		metrics.RaffleFulfill("transfer_failed")
	case errors.Is(err, ErrUnauthorizedCaller), errors.Is(err, ErrUnknownRequest):
		metrics.RaffleFulfill("rejected")
	default:
		metrics.RaffleFulfill("error")
	}
	return result, err
}

func (s *service) Summary(ctx context.Context) (*Summary, error) {
	return s.raffle.Summary(), nil
}

func (s *service) Player(ctx context.Context, index int) (common.Address, error) {
	return s.raffle.Player(index)
}

func (s *service) Players(ctx context.Context) ([]common.Address, error) {
	return s.raffle.Players(), nil
}

func (s *service) Events(ctx context.Context, pagination PaginationParams) (*EventList, error) {
	result, err := s.raffle.store.ListEvents(ctx, s.raffle.params.ID, toStoragePagination(pagination))
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}

	events := make([]Event, len(result.Data))
	for i, e := range result.Data {
		events[i] = Event{
			ID:        e.ID,
			Name:      e.Name,
			Round:     e.Round,
			Payload:   e.Payload,
			CreatedAt: time.Unix(e.CreatedAt, 0).UTC(),
		}
	}
	return &EventList{Events: events, HasMore: result.HasMore, NextCursor: result.NextCursor}, nil
}

func (s *service) Payouts(ctx context.Context, pagination PaginationParams) (*PayoutList, error) {
	result, err := s.raffle.store.ListPayouts(ctx, s.raffle.params.ID, toStoragePagination(pagination))
	if err != nil {
		return nil, fmt.Errorf("listing payouts: %w", err)
	}

	payouts := make([]Payout, len(result.Data))
	for i, p := range result.Data {
		amount, ok := new(big.Int).SetString(p.Amount, 10)
		if !ok {
			return nil, fmt.Errorf("payout %s: invalid amount %q", p.ID, p.Amount)
		}
		requestID, ok := new(big.Int).SetString(p.RequestID, 10)
		if !ok {
			return nil, fmt.Errorf("payout %s: invalid request id %q", p.ID, p.RequestID)
		}
		payouts[i] = Payout{
			ID:        p.ID,
			Round:     p.Round,
			Winner:    common.HexToAddress(p.Winner),
			Amount:    amount,
			RequestID: requestID,
			CreatedAt: time.Unix(p.CreatedAt, 0).UTC(),
		}
	}
	return &PayoutList{Payouts: payouts, HasMore: result.HasMore, NextCursor: result.NextCursor}, nil
}

func toStoragePagination(p PaginationParams) storage.PaginationParams {
	limit := p.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return storage.PaginationParams{Limit: limit, Cursor: p.Cursor}
}
