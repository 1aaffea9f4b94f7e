// Package domain contains the raffle state machine and its business rules.
package domain

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Fixed randomness request parameters.
const (
	RequestConfirmations uint16 = 3
	NumWords             uint32 = 1
)

// Common errors returned by the raffle. Every failure leaves the round untouched.
var (
	ErrNotEnoughPayment   = errors.New("raffle: not enough payment entered")
	ErrNotOpen            = errors.New("raffle: not open")
	ErrUpkeepNotNeeded    = errors.New("raffle: upkeep not needed")
	ErrTransferFailed     = errors.New("raffle: transfer failed")
	ErrIndexOutOfRange    = errors.New("raffle: index out of range")
	ErrUnauthorizedCaller = errors.New("raffle: unauthorized caller")
	ErrUnknownRequest     = errors.New("raffle: unknown randomness request")
	ErrNoRandomWords      = errors.New("raffle: no random words")
	ErrInvalidParams      = errors.New("raffle: invalid parameters")
	ErrInvalidPlayer      = errors.New("raffle: invalid player")
	ErrRoundConflict      = errors.New("raffle: round changed by another writer")
)

// State is the raffle state.
type State uint8

const (
	StateOpen State = iota
	StateCalculating
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateCalculating:
		return "CALCULATING"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// ParseState parses the string form produced by State.String.
func ParseState(s string) (State, error) {
	switch s {
	case "OPEN":
		return StateOpen, nil
	case "CALCULATING":
		return StateCalculating, nil
	default:
		return 0, fmt.Errorf("unknown raffle state %q", s)
	}
}

// UpkeepNotNeededError carries the diagnostic snapshot taken when a closure
// was refused. It matches ErrUpkeepNotNeeded with errors.Is.
type UpkeepNotNeededError struct {
	Balance    *big.Int
	NumPlayers int
	State      State
}

func (e *UpkeepNotNeededError) Error() string {
	return fmt.Sprintf("%s (balance=%s, players=%d, state=%s)", ErrUpkeepNotNeeded, e.Balance, e.NumPlayers, e.State)
}

func (e *UpkeepNotNeededError) Is(target error) bool {
	return target == ErrUpkeepNotNeeded
}

// Params are the construction parameters of a raffle. They never change
// after the raffle is created.
type Params struct {
	// ID names the raffle in storage.
	ID string
	// Address is the account that holds entry fees between payouts.
	Address common.Address
	// Coordinator is the only caller allowed to fulfill randomness.
	Coordinator      common.Address
	EntranceFee      *big.Int
	GasLane          common.Hash
	SubscriptionID   uint64
	CallbackGasLimit uint32
	Interval         time.Duration
}

// Validate checks the parameters for obvious misconfiguration.
func (p Params) Validate() error {
	switch {
	case p.ID == "":
		return fmt.Errorf("%w: empty raffle id", ErrInvalidParams)
	case p.Address == (common.Address{}):
		return fmt.Errorf("%w: zero raffle address", ErrInvalidParams)
	case p.Coordinator == (common.Address{}):
		return fmt.Errorf("%w: zero coordinator address", ErrInvalidParams)
	case p.EntranceFee == nil || p.EntranceFee.Sign() < 0:
		return fmt.Errorf("%w: entrance fee must be non-negative", ErrInvalidParams)
	case p.Interval < time.Second:
		return fmt.Errorf("%w: interval must be at least one second", ErrInvalidParams)
	case p.CallbackGasLimit == 0:
		return fmt.Errorf("%w: callback gas limit must be positive", ErrInvalidParams)
	}
	return nil
}

// RoundState is the committed state of the current round.
type RoundState struct {
	Round            int64
	State            State
	Players          []common.Address
	LastTimestamp    time.Time
	RecentWinner     common.Address
	PendingRequestID *big.Int
	Balance          *big.Int
	// Version is the stored version this state was read at.
	Version int64
}

func (r RoundState) clone() RoundState {
	c := r
	c.Players = append([]common.Address(nil), r.Players...)
	c.Balance = new(big.Int).Set(r.Balance)
	if r.PendingRequestID != nil {
		c.PendingRequestID = new(big.Int).Set(r.PendingRequestID)
	}
	return c
}

// RandomWordsRequest is what the raffle asks its randomness provider for.
type RandomWordsRequest struct {
	KeyHash              common.Hash
	SubscriptionID       uint64
	RequestConfirmations uint16
	CallbackGasLimit     uint32
	NumWords             uint32
	Consumer             common.Address
}

// Summary is a point-in-time view of every read accessor.
type Summary struct {
	ID                   string         `json:"id"`
	Address              common.Address `json:"address"`
	EntranceFee          *big.Int       `json:"entranceFee"`
	State                string         `json:"state"`
	Round                int64          `json:"round"`
	RecentWinner         common.Address `json:"recentWinner"`
	LastTimestamp        time.Time      `json:"lastTimestamp"`
	NumberOfPlayers      int            `json:"numberOfPlayers"`
	Balance              *big.Int       `json:"balance"`
	Interval             time.Duration  `json:"interval"`
	NumWords             uint32         `json:"numWords"`
	RequestConfirmations uint16         `json:"requestConfirmations"`
	PendingRequestID     *big.Int       `json:"pendingRequestId,omitempty"`
}

// FulfillResult describes a completed round.
type FulfillResult struct {
	RequestID *big.Int
	Round     int64
	Winner    common.Address
	Amount    *big.Int
}

// Event names.
const (
	EventRaffleEnter           = "RaffleEnter"
	EventRequestedRaffleWinner = "RequestedRaffleWinner"
	EventWinnerPicked          = "WinnerPicked"
)

// Event is a notification emitted by a committed operation.
type Event struct {
	ID        string
	Name      string
	Round     int64
	Payload   map[string]string
	CreatedAt time.Time
}

// Payout is a completed winner transfer.
type Payout struct {
	ID        string
	Round     int64
	Winner    common.Address
	Amount    *big.Int
	RequestID *big.Int
	CreatedAt time.Time
}

// PaginationParams contains pagination options.
type PaginationParams struct {
	Limit  int
	Cursor string
}

// EventList is a page of events.
type EventList struct {
	Events     []Event
	HasMore    bool
	NextCursor string
}

// PayoutList is a page of payouts.
type PayoutList struct {
	Payouts    []Payout
	HasMore    bool
	NextCursor string
}
