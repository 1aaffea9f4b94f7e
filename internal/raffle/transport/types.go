// Package transport provides HTTP request/response types for the raffle domain.
package transport

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/pendergraft/raffled/internal/raffle/domain"
)

// Amounts and request ids are decimal strings so that 256-bit values
// survive JSON clients that parse numbers as doubles.

// EnterRequest is the HTTP request body for entering the raffle.
type EnterRequest struct {
	Player string `json:"player"`
	// Value is wei, or a decimal with a unit suffix ("0.01 ether").
	Value string `json:"value"`
}

// FulfillRequest is the HTTP request body for relaying randomness. The
// caller is the address recovered from Signature, a 65 byte secp256k1
// signature over domain.FulfillmentDigest.
type FulfillRequest struct {
	RequestID   string   `json:"requestId"`
	RandomWords []string `json:"randomWords"`
	Signature   string   `json:"signature"`
}

// SummaryResponse is the response for the raffle summary.
type SummaryResponse struct {
	ID                   string    `json:"id"`
	Address              string    `json:"address"`
	EntranceFee          string    `json:"entranceFee"`
	State                string    `json:"state"`
	Round                int64     `json:"round"`
	RecentWinner         string    `json:"recentWinner"`
	LastTimestamp        time.Time `json:"lastTimestamp"`
	NumberOfPlayers      int       `json:"numberOfPlayers"`
	Balance              string    `json:"balance"`
	IntervalSeconds      int64     `json:"intervalSeconds"`
	NumWords             uint32    `json:"numWords"`
	RequestConfirmations uint16    `json:"requestConfirmations"`
	PendingRequestID     string    `json:"pendingRequestId,omitempty"`
}

// PlayersResponse lists the current round's entrants.
type PlayersResponse struct {
	Count   int      `json:"count"`
	Players []string `json:"players"`
}

// PlayerResponse is a single entrant.
type PlayerResponse struct {
	Index  int    `json:"index"`
	Player string `json:"player"`
}

// EnterResponse is returned after a successful entry.
type EnterResponse struct {
	Player          string `json:"player"`
	Value           string `json:"value"`
	NumberOfPlayers int    `json:"numberOfPlayers"`
}

// CheckUpkeepResponse is the result of an upkeep check.
type CheckUpkeepResponse struct {
	UpkeepNeeded bool          `json:"upkeepNeeded"`
	PerformData  hexutil.Bytes `json:"performData"`
}

// PerformUpkeepResponse is returned after the round was closed.
type PerformUpkeepResponse struct {
	RequestID string `json:"requestId"`
}

// FulfillResponse describes a completed round.
type FulfillResponse struct {
	RequestID string `json:"requestId"`
	Round     int64  `json:"round"`
	Winner    string `json:"winner"`
	Amount    string `json:"amount"`
}

// EventItem is an event in a list.
type EventItem struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Round     int64             `json:"round"`
	Payload   map[string]string `json:"payload,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// PayoutItem is a payout in a list.
type PayoutItem struct {
	ID        string    `json:"id"`
	Round     int64     `json:"round"`
	Winner    string    `json:"winner"`
	Amount    string    `json:"amount"`
	RequestID string    `json:"requestId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Pagination provides pagination metadata.
type Pagination struct {
	Limit      int    `json:"limit"`
	HasMore    bool   `json:"hasMore"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// EventListResponse is the response for listing events.
type EventListResponse struct {
	Data       []EventItem `json:"data"`
	Pagination Pagination  `json:"pagination"`
}

// PayoutListResponse is the response for listing payouts.
type PayoutListResponse struct {
	Data       []PayoutItem `json:"data"`
	Pagination Pagination   `json:"pagination"`
}

// UpkeepNotNeededDetails is attached to UPKEEP_NOT_NEEDED errors.
type UpkeepNotNeededDetails struct {
	Balance    string `json:"balance"`
	NumPlayers int    `json:"numPlayers"`
	State      string `json:"state"`
}

func toSummaryResponse(s *domain.Summary) SummaryResponse {
	resp := SummaryResponse{
		ID:                   s.ID,
		Address:              s.Address.Hex(),
		EntranceFee:          s.EntranceFee.String(),
		State:                s.State,
		Round:                s.Round,
		RecentWinner:         s.RecentWinner.Hex(),
		LastTimestamp:        s.LastTimestamp.UTC(),
		NumberOfPlayers:      s.NumberOfPlayers,
		Balance:              s.Balance.String(),
		IntervalSeconds:      int64(s.Interval / time.Second),
		NumWords:             s.NumWords,
		RequestConfirmations: s.RequestConfirmations,
	}
	if s.PendingRequestID != nil {
		resp.PendingRequestID = s.PendingRequestID.String()
	}
	return resp
}

func bigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
