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
	"github.com/go-chi/chi/v5"

	"github.com/pendergraft/raffled/internal/vrf/domain"
	"github.com/pendergraft/raffled/internal/validation"
)

// Service defines the coordinator interface for HTTP transport.
type Service interface {
	Address() common.Address
	CreateSubscription(ctx context.Context, owner common.Address) (*domain.Subscription, error)
	GetSubscription(ctx context.Context, id uint64) (*domain.Subscription, error)
	FundSubscription(ctx context.Context, id uint64, amount *big.Int) (*domain.Subscription, error)
	AddConsumer(ctx context.Context, id uint64, consumer common.Address) (*domain.Subscription, error)
	GetRequest(ctx context.Context, id uint64) (*domain.Request, error)
	PendingRequests(ctx context.Context, limit int) ([]domain.Request, error)
	Fulfill(ctx context.Context, id uint64) (*domain.Request, error)
}

// Handler handles HTTP requests for the coordinator.
type Handler struct {
	svc Service
}

// NewHandler creates a new coordinator HTTP handler.
func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterReadRoutes registers read-only coordinator routes (no auth required).
func (h *Handler) RegisterReadRoutes(r chi.Router) {
	r.Get("/", h.handleInfo)
	r.Get("/subscriptions/{id}", h.handleGetSubscription)
	r.Get("/requests", h.handlePending)
	r.Get("/requests/{id}", h.handleGetRequest)
	r.Get("/requests/{id}/verify", h.handleVerify)
}

// RegisterWriteRoutes registers write coordinator routes (auth required).
func (h *Handler) RegisterWriteRoutes(r chi.Router) {
	r.Post("/subscriptions", h.handleCreateSubscription)
	r.Post("/subscriptions/{id}/fund", h.handleFund)
	r.Post("/subscriptions/{id}/consumers", h.handleAddConsumer)
	r.Post("/requests/{id}/fulfill", h.handleFulfill)
}

func (h *Handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"address":          h.svc.Address().Hex(),
		"minConfirmations": domain.MinConfirmations,
		"maxConfirmations": domain.MaxConfirmations,
		"maxNumWords":      domain.MaxNumWords,
	})
}

func (h *Handler) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req CreateSubscriptionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	owner, err := validation.ParseAddress(req.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	sub, err := h.svc.CreateSubscription(r.Context(), owner)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSubscriptionResponse(sub))
}

func (h *Handler) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	sub, err := h.svc.GetSubscription(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}

func (h *Handler) handleFund(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req FundSubscriptionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := validation.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	sub, err := h.svc.FundSubscription(r.Context(), id, amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}

func (h *Handler) handleAddConsumer(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req AddConsumerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	consumer, err := validation.ParseAddress(req.Consumer)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	sub, err := h.svc.AddConsumer(r.Context(), id, consumer)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}

func (h *Handler) handlePending(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	pending, err := h.svc.PendingRequests(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list requests")
		return
	}
	data := make([]RequestResponse, len(pending))
	for i := range pending {
		data[i] = toRequestResponse(&pending[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

func (h *Handler) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	req, err := h.svc.GetRequest(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestResponse(req))
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	req, err := h.svc.GetRequest(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := VerifyResponse{RequestID: req.ID, Coordinator: h.svc.Address().Hex()}
	switch {
	case req.Proof == nil:
		resp.Reason = "request has not been served"
	default:
		words, err := domain.VerifyProof(*req.Proof, h.svc.Address(), req.NumWords)
		if err != nil {
			resp.Reason = err.Error()
			break
		}
		resp.Valid = sameWords(words, req.Words)
		if !resp.Valid {
			resp.Reason = "stored words do not match proof"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleFulfill(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	req, err := h.svc.Fulfill(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestResponse(req))
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidSubscription):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Subscription not found")
	case errors.Is(err, domain.ErrRequestNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Request not found")
	case errors.Is(err, domain.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, domain.ErrNotPending):
		writeError(w, http.StatusConflict, "ALREADY_FULFILLED", "Request already completed")
	case errors.Is(err, domain.ErrRequestInFlight):
		writeError(w, http.StatusConflict, "IN_FLIGHT", "Request is being fulfilled")
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}

func sameWords(a, b []*big.Int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Cmp(b[i]) != 0 {
			return false
		}
	}
	return true
}

func parseID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "id must be a positive integer")
		return 0, false
	}
	return id, true
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
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
