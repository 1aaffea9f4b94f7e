// Package keeper polls the raffle and closes rounds once upkeep is needed.
package keeper

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"golang.org/x/time/rate"

	"github.com/pendergraft/raffled/internal/raffle/domain"
)

// Upkeeper is the part of the raffle the keeper drives.
type Upkeeper interface {
	CheckUpkeep(ctx context.Context, checkData []byte) (bool, []byte)
	PerformUpkeep(ctx context.Context, performData []byte) (*big.Int, error)
}

// Config configures a Keeper.
type Config struct {
	PollInterval     time.Duration
	PerformPerMinute int
}

// Keeper is the upkeep trigger provider.
type Keeper struct {
	target   Upkeeper
	interval time.Duration
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// New creates a keeper for target.
func New(target Upkeeper, cfg Config, logger *slog.Logger) *Keeper {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	limit := rate.Inf
	if cfg.PerformPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.PerformPerMinute))
	}
	return &Keeper{
		target:   target,
		interval: cfg.PollInterval,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger,
	}
}

// Run checks upkeep every poll interval until ctx is cancelled.
func (k *Keeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	k.logger.Info("keeper started", "pollInterval", k.interval)
	for {
		select {
		case <-ctx.Done():
			k.logger.Info("keeper stopping")
			return nil
		case <-ticker.C:
			k.Tick(ctx)
		}
	}
}

// Tick runs a single check and, when needed, performs upkeep. It reports
// whether a round was closed.
func (k *Keeper) Tick(ctx context.Context) bool {
	needed, performData := k.target.CheckUpkeep(ctx, nil)
	if !needed {
		return false
	}
	if !k.limiter.Allow() {
		k.logger.Debug("upkeep needed but perform rate exceeded")
		return false
	}

	requestID, err := k.target.PerformUpkeep(ctx, performData)
	if err != nil {
		// Someone else may have closed the round between check and perform.
		if errors.Is(err, domain.ErrUpkeepNotNeeded) {
			k.logger.Debug("upkeep no longer needed", "error", err)
			return false
		}
		k.logger.Error("performing upkeep", "error", err)
		return false
	}

	k.logger.Info("upkeep performed", "requestId", requestID)
	return true
}
