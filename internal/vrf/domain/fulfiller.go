package domain

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
)

// FulfillerConfig configures the background fulfiller.
type FulfillerConfig struct {
	// BlockTime is the simulated block interval. A request becomes eligible
	// once Confirmations blocks have passed since it was created.
	BlockTime time.Duration
	Workers   int
	BatchSize int
}

// Fulfiller serves pending requests in the background once they have
// enough confirmations.
type Fulfiller struct {
	coord  *Coordinator
	cfg    FulfillerConfig
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	scheduled map[uint64]struct{}
}

// NewFulfiller creates a fulfiller for coord.
func NewFulfiller(coord *Coordinator, cfg FulfillerConfig, logger *slog.Logger) *Fulfiller {
	if cfg.BlockTime <= 0 {
		cfg.BlockTime = time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Fulfiller{
		coord:     coord,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		scheduled: make(map[uint64]struct{}),
	}
}

// Run polls for eligible requests every block until ctx is cancelled, then
// waits for in-progress fulfillments to finish.
func (f *Fulfiller) Run(ctx context.Context) error {
	pool := workerpool.New(f.cfg.Workers)
	defer pool.StopWait()

	ticker := time.NewTicker(f.cfg.BlockTime)
	defer ticker.Stop()

	f.logger.Info("randomness fulfiller started",
		"blockTime", f.cfg.BlockTime,
		"workers", f.cfg.Workers,
		"coordinator", f.coord.Address().Hex(),
	)
	for {
		select {
		case <-ctx.Done():
			f.logger.Info("randomness fulfiller stopping")
			return nil
		case <-ticker.C:
			f.poll(ctx, pool)
		}
	}
}

func (f *Fulfiller) poll(ctx context.Context, pool *workerpool.WorkerPool) {
	pending, err := f.coord.PendingRequests(ctx, f.cfg.BatchSize)
	if err != nil {
		f.logger.Error("listing pending requests", "error", err)
		return
	}

	now := f.now()
	for _, req := range pending {
		if !f.eligible(req, now) || !f.schedule(req.ID) {
			continue
		}
		id := req.ID
		pool.Submit(func() {
			defer f.unschedule(id)
			if _, err := f.coord.Fulfill(ctx, id); err != nil {
				if errors.Is(err, ErrNotPending) || errors.Is(err, ErrRequestInFlight) {
					f.logger.Debug("request already handled", "requestId", id)
					return
				}
				f.logger.Error("fulfilling request", "requestId", id, "error", err)
			}
		})
	}
}

func (f *Fulfiller) eligible(req Request, now time.Time) bool {
	wait := time.Duration(req.Confirmations) * f.cfg.BlockTime
	return !now.Before(req.CreatedAt.Add(wait))
}

func (f *Fulfiller) schedule(id uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.scheduled[id]; ok {
		return false
	}
	f.scheduled[id] = struct{}{}
	return true
}

func (f *Fulfiller) unschedule(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.scheduled, id)
}
