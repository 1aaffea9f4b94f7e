package domain

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// LoggingMiddleware returns a service middleware that logs all operations.
func LoggingMiddleware(logger *slog.Logger) func(Service) Service {
	return func(next Service) Service {
		return &loggingMiddleware{
			next:   next,
			logger: logger,
		}
	}
}

type loggingMiddleware struct {
	next   Service
	logger *slog.Logger
}

func (m *loggingMiddleware) Enter(ctx context.Context, player common.Address, value *big.Int) error {
	start := time.Now()
	err := m.next.Enter(ctx, player, value)
	m.logger.Info("Enter",
		"player", player.Hex(),
		"value", value,
		"duration", time.Since(start),
		"error", err,
	)
	return err
}

func (m *loggingMiddleware) CheckUpkeep(ctx context.Context, checkData []byte) (bool, []byte) {
	start := time.Now()
	needed, performData := m.next.CheckUpkeep(ctx, checkData)
	m.logger.Debug("CheckUpkeep",
		"upkeepNeeded", needed,
		"duration", time.Since(start),
	)
	return needed, performData
}

func (m *loggingMiddleware) PerformUpkeep(ctx context.Context, performData []byte) (*big.Int, error) {
	start := time.Now()
	id, err := m.next.PerformUpkeep(ctx, performData)
	m.logger.Info("PerformUpkeep",
		"requestId", id,
		"duration", time.Since(start),
		"error", err,
	)
	return id, err
}

func (m *loggingMiddleware) FulfillRandomWords(ctx context.Context, caller common.Address, requestID *big.Int, words []*big.Int) (*FulfillResult, error) {
	start := time.Now()
	result, err := m.next.FulfillRandomWords(ctx, caller, requestID, words)
	attrs := []any{
		"caller", caller.Hex(),
		"requestId", requestID,
		"words", len(words),
		"duration", time.Since(start),
		"error", err,
	}
	if result != nil {
		attrs = append(attrs, "round", result.Round, "winner", result.Winner.Hex(), "amount", result.Amount)
	}
	m.logger.Info("FulfillRandomWords", attrs...)
	return result, err
}

func (m *loggingMiddleware) Summary(ctx context.Context) (*Summary, error) {
	start := time.Now()
	s, err := m.next.Summary(ctx)
	m.logger.Debug("Summary",
		"duration", time.Since(start),
		"error", err,
	)
	return s, err
}

func (m *loggingMiddleware) Player(ctx context.Context, index int) (common.Address, error) {
	start := time.Now()
	p, err := m.next.Player(ctx, index)
	m.logger.Debug("Player",
		"index", index,
		"duration", time.Since(start),
		"error", err,
	)
	return p, err
}

func (m *loggingMiddleware) Players(ctx context.Context) ([]common.Address, error) {
	start := time.Now()
	players, err := m.next.Players(ctx)
	m.logger.Debug("Players",
		"count", len(players),
		"duration", time.Since(start),
		"error", err,
	)
	return players, err
}

func (m *loggingMiddleware) Events(ctx context.Context, pagination PaginationParams) (*EventList, error) {
	start := time.Now()
	result, err := m.next.Events(ctx, pagination)
	m.logger.Debug("Events",
		"limit", pagination.Limit,
		"cursor", pagination.Cursor,
		"duration", time.Since(start),
		"error", err,
	)
	return result, err
}

func (m *loggingMiddleware) Payouts(ctx context.Context, pagination PaginationParams) (*PayoutList, error) {
	start := time.Now()
	result, err := m.next.Payouts(ctx, pagination)
	m.logger.Debug("Payouts",
		"limit", pagination.Limit,
		"cursor", pagination.Cursor,
		"duration", time.Since(start),
		"error", err,
	)
	return result, err
}
