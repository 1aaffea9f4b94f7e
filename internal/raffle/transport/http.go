package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"

	"github.com/pendergraft/raffled/internal/raffle/domain"
	"github.com/pendergraft/raffled/internal/validation"
)

// Service defines the raffle service interface for HTTP transport.
type Service interface {
	Enter(ctx context.Context, player common.Address, value *big.Int) error
	CheckUpkeep(ctx context.Context, checkData []byte) (bool, []byte)
	PerformUpkeep(ctx context.Context, performData []byte) (*big.Int, error)
	FulfillRandomWords(ctx context.Context, caller common.Address, requestID *big.Int, words []*big.Int) (*domain.FulfillResult, error)
	Summary(ctx context.Context) (*domain.Summary, error)
	Player(ctx context.Context, index int) (common.Address, error)
	Players(ctx context.Context) ([]common.Address, error)
	Events(ctx context.Context, pagination domain.PaginationParams) (*domain.EventList, error)
	Payouts(ctx context.Context, pagination domain.PaginationParams) (*domain.PayoutList, error)
}

// Handler handles HTTP requests for the raffle.
type Handler struct {
	svc Service
}

// NewHandler creates a new raffle HTTP handler.
func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterReadRoutes registers read-only raffle routes (no auth required).
func (h *Handler) RegisterReadRoutes(r chi.Router) {
	r.Get("/", h.handleSummary)
	r.Get("/players", h.handlePlayers)
	r.Get("/players/{index}", h.handlePlayer)
	r.Get("/upkeep", h.handleCheckUpkeep)
	r.Get("/events", h.handleEvents)
	r.Get("/payouts", h.handlePayouts)
}

// RegisterPlayerRoutes registers routes any player may call (no auth required).
func (h *Handler) RegisterPlayerRoutes(r chi.Router) {
	r.Post("/enter", h.handleEnter)
}

// RegisterWriteRoutes registers operator routes (auth required).
func (h *Handler) RegisterWriteRoutes(r chi.Router) {
	r.Post("/upkeep", h.handlePerformUpkeep)
}

// RegisterRelayRoutes registers the signed fulfillment route used when
// randomness comes from an external coordinator. It must not be mounted
// when the server runs its own coordinator.
func (h *Handler) RegisterRelayRoutes(r chi.Router) {
	r.Post("/fulfill", h.handleFulfill)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.Summary(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read raffle")
		return
	}
	writeJSON(w, http.StatusOK, toSummaryResponse(s))
}

func (h *Handler) handlePlayers(w http.ResponseWriter, r *http.Request) {
	players, err := h.svc.Players(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list players")
		return
	}
	resp := PlayersResponse{Count: len(players), Players: make([]string, len(players))}
	for i, p := range players {
		resp.Players[i] = p.Hex()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handlePlayer(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Player index must be an integer")
		return
	}

	player, err := h.svc.Player(r.Context(), index)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PlayerResponse{Index: index, Player: player.Hex()})
}

func (h *Handler) handleCheckUpkeep(w http.ResponseWriter, r *http.Request) {
	needed, performData := h.svc.CheckUpkeep(r.Context(), nil)
	writeJSON(w, http.StatusOK, CheckUpkeepResponse{UpkeepNeeded: needed, PerformData: performData})
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)
	result, err := h.svc.Events(r.Context(), domain.PaginationParams{
		Limit:  limit,
		Cursor: r.URL.Query().Get("cursor"),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list events")
		return
	}

	resp := EventListResponse{
		Data:       make([]EventItem, len(result.Events)),
		Pagination: Pagination{Limit: limit, HasMore: result.HasMore, NextCursor: result.NextCursor},
	}
	for i, e := range result.Events {
		resp.Data[i] = EventItem{
			ID:        e.ID,
			Name:      e.Name,
			Round:     e.Round,
			Payload:   e.Payload,
			CreatedAt: e.CreatedAt.UTC(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handlePayouts(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)
	result, err := h.svc.Payouts(r.Context(), domain.PaginationParams{
		Limit:  limit,
		Cursor: r.URL.Query().Get("cursor"),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list payouts")
		return
	}

	resp := PayoutListResponse{
		Data:       make([]PayoutItem, len(result.Payouts)),
		Pagination: Pagination{Limit: limit, HasMore: result.HasMore, NextCursor: result.NextCursor},
	}
	for i, p := range result.Payouts {
		resp.Data[i] = PayoutItem{
			ID:        p.ID,
			Round:     p.Round,
			Winner:    p.Winner.Hex(),
			Amount:    bigString(p.Amount),
			RequestID: bigString(p.RequestID),
			CreatedAt: p.CreatedAt.UTC(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleEnter(w http.ResponseWriter, r *http.Request) {
	var req EnterRequest
	if !decodeBody(w, r, &req) {
		return
	}

	player, err := validation.ParseAddress(req.Player)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	value, err := validation.ParseAmount(req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	if err := h.svc.Enter(r.Context(), player, value); err != nil {
		h.writeDomainError(w, err)
		return
	}

	players, err := h.svc.Players(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list players")
		return
	}
	writeJSON(w, http.StatusCreated, EnterResponse{
		Player:          player.Hex(),
		Value:           value.String(),
		NumberOfPlayers: len(players),
	})
}

func (h *Handler) handlePerformUpkeep(w http.ResponseWriter, r *http.Request) {
	id, err := h.svc.PerformUpkeep(r.Context(), nil)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, PerformUpkeepResponse{RequestID: id.String()})
}

func (h *Handler) handleFulfill(w http.ResponseWriter, r *http.Request) {
	var req FulfillRequest
	if !decodeBody(w, r, &req) {
		return
	}

	requestID, err := validation.ParseUint256(req.RequestID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "requestId: "+err.Error())
		return
	}
	words := make([]*big.Int, len(req.RandomWords))
	for i, s := range req.RandomWords {
		if words[i], err = validation.ParseUint256(s); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "randomWords: "+err.Error())
			return
		}
	}
	sig, err := hexutil.Decode(req.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_SIGNATURE", "signature: "+err.Error())
		return
	}
	caller, err := domain.RecoverFulfiller(requestID, words, sig)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_SIGNATURE", err.Error())
		return
	}

	result, err := h.svc.FulfillRandomWords(r.Context(), caller, requestID, words)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FulfillResponse{
		RequestID: result.RequestID.String(),
		Round:     result.Round,
		Winner:    result.Winner.Hex(),
		Amount:    result.Amount.String(),
	})
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var notNeeded *domain.UpkeepNotNeededError
	switch {
	case errors.As(err, &notNeeded):
		writeErrorDetails(w, http.StatusConflict, "UPKEEP_NOT_NEEDED", "Upkeep not needed", UpkeepNotNeededDetails{
			Balance:    bigString(notNeeded.Balance),
			NumPlayers: notNeeded.NumPlayers,
			State:      notNeeded.State.String(),
		})
	case errors.Is(err, domain.ErrNotEnoughPayment):
		writeError(w, http.StatusPaymentRequired, "NOT_ENOUGH_PAYMENT", "Not enough payment entered")
	case errors.Is(err, domain.ErrNotOpen):
		writeError(w, http.StatusConflict, "RAFFLE_NOT_OPEN", "Raffle is not open")
	case errors.Is(err, domain.ErrUpkeepNotNeeded):
		writeError(w, http.StatusConflict, "UPKEEP_NOT_NEEDED", "Upkeep not needed")
	case errors.Is(err, domain.ErrIndexOutOfRange):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Player index out of range")
	case errors.Is(err, domain.ErrUnauthorizedCaller):
		writeError(w, http.StatusForbidden, "UNAUTHORIZED_CALLER", "Only the coordinator can fulfill randomness")
	case errors.Is(err, domain.ErrUnknownRequest):
		writeError(w, http.StatusNotFound, "UNKNOWN_REQUEST", "No matching randomness request")
	case errors.Is(err, domain.ErrNoRandomWords):
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "At least one random word is required")
	case errors.Is(err, domain.ErrTransferFailed):
		writeError(w, http.StatusConflict, "TRANSFER_FAILED", "Transfer to the winner failed")
	case errors.Is(err, domain.ErrInvalidPlayer):
		writeError(w, http.StatusBadRequest, "INVALID_PLAYER", "Player cannot enter this raffle")
	case errors.Is(err, domain.ErrRoundConflict):
		writeError(w, http.StatusConflict, "ROUND_CONFLICT", "Round changed concurrently, retry")
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}

func parseLimit(r *http.Request) int {
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	return limit
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON")
		return false
	}
	return true
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeErrorDetails(w, status, code, message, nil)
}

func writeErrorDetails(w http.ResponseWriter, status int, code, message string, details any) {
	body := map[string]any{
		"code":    code,
		"message": message,
	}
	if details != nil {
		body["details"] = details
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"error": body})
}
