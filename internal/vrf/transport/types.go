// Package transport provides HTTP handlers for the randomness coordinator.
package transport

import (
	"time"

	"github.com/pendergraft/raffled/internal/vrf/domain"
)

// CreateSubscriptionRequest is the HTTP request body for creating a subscription.
type CreateSubscriptionRequest struct {
	Owner string `json:"owner"`
}

// FundSubscriptionRequest is the HTTP request body for funding a subscription.
type FundSubscriptionRequest struct {
	Amount string `json:"amount"`
}

// AddConsumerRequest is the HTTP request body for authorizing a consumer.
type AddConsumerRequest struct {
	Consumer string `json:"consumer"`
}

// SubscriptionResponse describes a subscription.
type SubscriptionResponse struct {
	ID        uint64    `json:"id"`
	Owner     string    `json:"owner"`
	Balance   string    `json:"balance"`
	Consumers []string  `json:"consumers"`
	CreatedAt time.Time `json:"createdAt"`
}

// ProofResponse is the proof attached to a served request.
type ProofResponse struct {
	KeyHash   string `json:"keyHash"`
	RequestID uint64 `json:"requestId"`
	Seed      string `json:"seed"`
	Signature string `json:"signature"`
}

// RequestResponse describes a randomness request.
type RequestResponse struct {
	ID               uint64         `json:"id"`
	SubscriptionID   uint64         `json:"subscriptionId"`
	Consumer         string         `json:"consumer"`
	KeyHash          string         `json:"keyHash"`
	Seed             string         `json:"seed"`
	Confirmations    uint16         `json:"confirmations"`
	CallbackGasLimit uint32         `json:"callbackGasLimit"`
	NumWords         uint32         `json:"numWords"`
	Status           string         `json:"status"`
	Proof            *ProofResponse `json:"proof,omitempty"`
	Words            []string       `json:"words,omitempty"`
	CallbackError    string         `json:"callbackError,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	FulfilledAt      *time.Time     `json:"fulfilledAt,omitempty"`
}

// VerifyResponse is the result of checking a request's proof.
type VerifyResponse struct {
	RequestID   uint64 `json:"requestId"`
	Coordinator string `json:"coordinator"`
	Valid       bool   `json:"valid"`
	Reason      string `json:"reason,omitempty"`
}

func toSubscriptionResponse(s *domain.Subscription) SubscriptionResponse {
	resp := SubscriptionResponse{
		ID:        s.ID,
		Owner:     s.Owner.Hex(),
		Balance:   s.Balance.String(),
		Consumers: make([]string, len(s.Consumers)),
		CreatedAt: s.CreatedAt.UTC(),
	}
	for i, c := range s.Consumers {
		resp.Consumers[i] = c.Hex()
	}
	return resp
}

func toRequestResponse(r *domain.Request) RequestResponse {
	resp := RequestResponse{
		ID:               r.ID,
		SubscriptionID:   r.SubscriptionID,
		Consumer:         r.Consumer.Hex(),
		KeyHash:          r.KeyHash.Hex(),
		Seed:             r.Seed.Hex(),
		Confirmations:    r.Confirmations,
		CallbackGasLimit: r.CallbackGasLimit,
		NumWords:         r.NumWords,
		Status:           r.Status,
		CallbackError:    r.CallbackError,
		CreatedAt:        r.CreatedAt.UTC(),
		FulfilledAt:      r.FulfilledAt,
	}
	if r.Proof != nil {
		resp.Proof = &ProofResponse{
			KeyHash:   r.Proof.KeyHash.Hex(),
			RequestID: r.Proof.RequestID,
			Seed:      r.Proof.Seed.Hex(),
			Signature: r.Proof.Signature.String(),
		}
	}
	if len(r.Words) > 0 {
		resp.Words = make([]string, len(r.Words))
		for i, w := range r.Words {
			resp.Words[i] = w.String()
		}
	}
	return resp
}
