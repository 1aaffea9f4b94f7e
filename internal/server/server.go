// Package server provides the HTTP server setup and wiring.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-multierror"

	"github.com/pendergraft/raffled/internal/auth"
	"github.com/pendergraft/raffled/internal/config"
	"github.com/pendergraft/raffled/internal/keeper"
	"github.com/pendergraft/raffled/internal/middleware/logging"
	"github.com/pendergraft/raffled/internal/middleware/ratelimit"
	"github.com/pendergraft/raffled/internal/middleware/realip"
	"github.com/pendergraft/raffled/internal/middleware/security"
	"github.com/pendergraft/raffled/internal/observability/metrics"
	raffleDomain "github.com/pendergraft/raffled/internal/raffle/domain"
	raffleTransport "github.com/pendergraft/raffled/internal/raffle/transport"
	"github.com/pendergraft/raffled/internal/storage"
	"github.com/pendergraft/raffled/internal/validation"
	vrfDomain "github.com/pendergraft/raffled/internal/vrf/domain"
	vrfTransport "github.com/pendergraft/raffled/internal/vrf/transport"
)

// APIVersion is the HTTP API generation served under /api.
const APIVersion = "v1"

// Server is the HTTP server
type Server struct {
	cfg     *config.Config
	store   storage.Store
	logger  *slog.Logger
	router  *chi.Mux
	version string

	raffleSvc   raffleTransport.Service
	coordinator *vrfDomain.Coordinator // nil when the embedded coordinator is disabled
	keeper      *keeper.Keeper
	fulfiller   *vrfDomain.Fulfiller
	limiter     *ratelimit.Limiter
}

// New wires the raffle, its randomness coordinator and the HTTP routes.
// The store must already be migrated.
func New(ctx context.Context, cfg *config.Config, store storage.Store, logger *slog.Logger, version string) (*Server, error) {
	metrics.Init(cfg.Metrics.Enabled, cfg.Metrics.ServiceName)

	s := &Server{
		cfg:     cfg,
		store:   store,
		logger:  logger,
		router:  chi.NewRouter(),
		version: version,
	}

	params, err := raffleParams(cfg.Raffle)
	if err != nil {
		return nil, err
	}

	var requester raffleDomain.Coordinator
	if cfg.VRF.Enabled {
		key, err := vrfDomain.LoadKey(cfg.VRF.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("loading randomness key: %w", err)
		}
		s.coordinator = vrfDomain.NewCoordinator(store, key, logger.With("component", "vrf"))
		if params.Coordinator == (common.Address{}) {
			params.Coordinator = s.coordinator.Address()
		}
		if params.SubscriptionID, err = s.ensureSubscription(ctx, params); err != nil {
			return nil, err
		}
		requester = &coordinatorAdapter{coord: s.coordinator}
	} else {
		if params.Coordinator == (common.Address{}) {
			return nil, fmt.Errorf("raffle %q: a coordinator address is required when the embedded coordinator is disabled", params.ID)
		}
		requester = newRelayCoordinator()
	}

	r, err := raffleDomain.New(ctx, params, store, requester)
	if err != nil {
		return nil, fmt.Errorf("opening raffle: %w", err)
	}
	raffleSvc := raffleDomain.LoggingMiddleware(logger.With("component", "raffle"))(raffleDomain.NewService(r))
	s.raffleSvc = raffleSvc

	if s.coordinator != nil {
		s.coordinator.RegisterConsumer(params.Address, vrfDomain.ConsumerFunc(
			func(ctx context.Context, caller common.Address, requestID *big.Int, words []*big.Int) error {
				_, err := raffleSvc.FulfillRandomWords(ctx, caller, requestID, words)
				return err
			}))
		if cfg.VRF.AutoFulfill {
			s.fulfiller = vrfDomain.NewFulfiller(s.coordinator, vrfDomain.FulfillerConfig{
				BlockTime: cfg.VRF.BlockTime,
				Workers:   cfg.VRF.Workers,
				BatchSize: cfg.VRF.BatchSize,
			}, logger.With("component", "fulfiller"))
		}
	}

	if cfg.Keeper.Enabled {
		s.keeper = keeper.New(raffleSvc, keeper.Config{
			PollInterval:     cfg.Keeper.PollInterval,
			PerformPerMinute: cfg.Keeper.PerformPerMinute,
		}, logger.With("component", "keeper"))
	}

	if cfg.RateLimit.Enabled {
		s.limiter = ratelimit.New(ratelimit.Config{
			Enabled:        true,
			RequestsPerMin: cfg.RateLimit.RequestsPerMin,
			BurstSize:      cfg.RateLimit.BurstSize,
			CleanupMinutes: cfg.RateLimit.CleanupMinutes,
		})
	}

	logger.Info("raffle ready",
		"id", params.ID,
		"network", cfg.Raffle.Network,
		"address", params.Address.Hex(),
		"coordinator", params.Coordinator.Hex(),
		"entranceFee", params.EntranceFee,
		"interval", params.Interval,
		"subscription", params.SubscriptionID,
	)

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// RunBackground runs the keeper, the randomness fulfiller and rate limiter
// housekeeping until ctx is cancelled. Every task is stopped before it
// returns; their errors are combined.
func (s *Server) RunBackground(ctx context.Context) error {
	type task struct {
		name string
		run  func(context.Context) error
	}
	var tasks []task
	if s.keeper != nil {
		tasks = append(tasks, task{"keeper", s.keeper.Run})
	}
	if s.fulfiller != nil {
		tasks = append(tasks, task{"fulfiller", s.fulfiller.Run})
	}
	if s.limiter != nil {
		tasks = append(tasks, task{"ratelimit", s.limiter.Run})
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result *multierror.Error
	)
	for _, t := range tasks {
		wg.Add(1)
		go func(t task) {
			defer wg.Done()
			if err := t.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				mu.Lock()
				result = multierror.Append(result, fmt.Errorf("%s: %w", t.name, err))
				mu.Unlock()
			}
		}(t)
	}
	wg.Wait()
	return result.ErrorOrNil()
}

func (s *Server) setupMiddleware() {
	// Order matters! Security middleware runs first to block malicious requests early.

	// 1. Real IP extraction (must be first to set client IP for other middleware)
	s.router.Use(realip.Middleware(realip.Config{
		TrustProxy:     s.cfg.Proxy.TrustProxy,
		TrustedProxies: s.cfg.Proxy.TrustedProxies,
	}))

	// 2. Security filter and body size limit
	s.router.Use(security.FilterMiddleware(s.cfg.Security.FilterEnabled))
	s.router.Use(security.MaxBodySizeMiddleware(s.cfg.Security.MaxBodySizeMB))

	// 3. Rate limiting (bypasses health checks and metrics)
	if s.limiter != nil {
		s.router.Use(s.limiter.Middleware)
	}

	// 4. Standard middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(logging.Middleware(s.logger))
	s.router.Use(metrics.Middleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))

	// 5. CORS
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-API-Key")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
}

func (s *Server) setupRoutes() {
	// Health checks
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleReady)
	s.router.Get("/version", s.handleVersion)
	if s.cfg.Metrics.Enabled {
		s.router.Handle("/metrics", metrics.Handler())
	}

	raffleHandler := raffleTransport.NewHandler(s.raffleSvc)

	// Auth middleware for operator routes
	requireAuth := func(r chi.Router) {
		if s.cfg.Auth.Type == "api-key" {
			r.Use(auth.Middleware(s.store, writeError))
		}
	}

	s.router.Route("/api/"+APIVersion, func(r chi.Router) {
		r.Use(security.RequireJSON)

		r.Route("/raffle", func(r chi.Router) {
			raffleHandler.RegisterReadRoutes(r)
			raffleHandler.RegisterPlayerRoutes(r)

			r.Group(func(r chi.Router) {
				requireAuth(r)
				raffleHandler.RegisterWriteRoutes(r)
				// With an embedded coordinator the consumer callback is the
				// only fulfillment path.
				if s.coordinator == nil {
					raffleHandler.RegisterRelayRoutes(r)
				}
			})
		})

		r.Group(func(r chi.Router) {
			requireAuth(r)
			r.Get("/auth/whoami", s.handleWhoAmI)
		})

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/{address}/balance", s.handleBalance)
			r.Group(func(r chi.Router) {
				requireAuth(r)
				r.Post("/{address}/rejects", s.handleSetRejects)
			})
		})

		if s.coordinator != nil {
			vrfHandler := vrfTransport.NewHandler(s.coordinator)
			r.Route("/vrf", func(r chi.Router) {
				vrfHandler.RegisterReadRoutes(r)
				r.Group(func(r chi.Router) {
					requireAuth(r)
					vrfHandler.RegisterWriteRoutes(r)
				})
			})
		}
	})
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports ready once the raffle state can be read.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, err := s.store.LoadRound(ctx, s.cfg.Raffle.ID); err != nil {
		writeError(w, http.StatusServiceUnavailable, "NOT_READY", "Storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version":    s.version,
		"apiVersion": APIVersion,
		"network":    s.cfg.Raffle.Network,
	})
}

// handleWhoAmI reports the operator behind the presented key. With auth
// disabled every caller is anonymous.
func (s *Server) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"operator":      auth.OperatorName(r.Context()),
		"authenticated": auth.OperatorFromContext(r.Context()) != nil,
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := validation.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	bal, err := s.store.Balance(r.Context(), addr.Hex())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read balance")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"address": addr.Hex(),
		"balance": bal.String(),
	})
}

// handleSetRejects marks an account as refusing incoming transfers, which
// is how a winner that cannot receive funds is simulated.
func (s *Server) handleSetRejects(w http.ResponseWriter, r *http.Request) {
	addr, err := validation.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	var req struct {
		Rejects bool `json:"rejects"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON")
		return
	}
	if err := s.store.SetRejectsFunds(r.Context(), addr.Hex(), req.Rejects); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update account")
		return
	}
	s.logger.Info("account transfer policy changed",
		"address", addr.Hex(),
		"rejects", req.Rejects,
		"operator", auth.OperatorName(r.Context()),
	)
	writeJSON(w, http.StatusOK, map[string]any{"address": addr.Hex(), "rejects": req.Rejects})
}

// ensureSubscription makes sure the configured subscription exists on the
// embedded coordinator with the raffle as a consumer, creating it when
// missing. It returns the subscription id to use.
func (s *Server) ensureSubscription(ctx context.Context, p raffleDomain.Params) (uint64, error) {
	id := p.SubscriptionID
	if id != 0 {
		_, err := s.coordinator.GetSubscription(ctx, id)
		switch {
		case err == nil:
			if _, err := s.coordinator.AddConsumer(ctx, id, p.Address); err != nil {
				return 0, fmt.Errorf("authorizing raffle on subscription %d: %w", id, err)
			}
			return id, nil
		case !errors.Is(err, vrfDomain.ErrInvalidSubscription):
			return 0, fmt.Errorf("loading subscription %d: %w", id, err)
		}
	}

	sub, err := s.coordinator.CreateSubscription(ctx, p.Address)
	if err != nil {
		return 0, err
	}
	if _, err := s.coordinator.AddConsumer(ctx, sub.ID, p.Address); err != nil {
		return 0, fmt.Errorf("authorizing raffle on subscription %d: %w", sub.ID, err)
	}
	if id != 0 && sub.ID != id {
		s.logger.Warn("configured subscription not found, created a new one",
			"configured", id,
			"created", sub.ID,
		)
	}
	return sub.ID, nil
}

func raffleParams(rc config.RaffleConfig) (raffleDomain.Params, error) {
	p := raffleDomain.Params{
		ID:               rc.ID,
		EntranceFee:      rc.EntranceFee,
		GasLane:          common.HexToHash(rc.GasLane),
		SubscriptionID:   rc.SubscriptionID,
		CallbackGasLimit: rc.CallbackGasLimit,
		Interval:         rc.Interval,
	}
	addr, err := validation.ParseAddress(rc.Address)
	if err != nil {
		return p, fmt.Errorf("raffle address: %w", err)
	}
	p.Address = addr
	if rc.Coordinator != "" {
		if p.Coordinator, err = validation.ParseAddress(rc.Coordinator); err != nil {
			return p, fmt.Errorf("coordinator address: %w", err)
		}
	}
	return p, nil
}

// coordinatorAdapter lets the raffle request randomness from the embedded
// coordinator.
type coordinatorAdapter struct {
	coord *vrfDomain.Coordinator
}

func (a *coordinatorAdapter) RequestRandomWords(ctx context.Context, req raffleDomain.RandomWordsRequest) (*big.Int, error) {
	id, err := a.coord.RequestRandomWords(ctx, vrfDomain.RequestParams{
		KeyHash:          req.KeyHash,
		SubscriptionID:   req.SubscriptionID,
		Confirmations:    req.RequestConfirmations,
		CallbackGasLimit: req.CallbackGasLimit,
		NumWords:         req.NumWords,
		Consumer:         req.Consumer,
	})
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetUint64(id), nil
}

// relayCoordinator issues request ids when randomness is delivered by an
// external relayer through POST /api/v1/raffle/fulfill. Ids start at the
// boot time in nanoseconds so they keep increasing across restarts.
type relayCoordinator struct {
	next atomic.Uint64
}

func newRelayCoordinator() *relayCoordinator {
	c := &relayCoordinator{}
	c.next.Store(uint64(time.Now().UnixNano()))
	return c
}

func (c *relayCoordinator) RequestRandomWords(ctx context.Context, req raffleDomain.RandomWordsRequest) (*big.Int, error) {
	return new(big.Int).SetUint64(c.next.Add(1)), nil
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
