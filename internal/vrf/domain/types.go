// Package domain contains the local verifiable randomness coordinator.
package domain

import (
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Request limits enforced by the coordinator.
const (
	MinConfirmations = 3
	MaxConfirmations = 200
	MaxNumWords      = 500
)

// Common errors returned by the coordinator.
var (
	ErrInvalidSubscription  = errors.New("vrf: invalid subscription")
	ErrInvalidConsumer      = errors.New("vrf: invalid consumer")
	ErrInvalidConfirmations = errors.New("vrf: invalid request confirmations")
	ErrTooManyWords         = errors.New("vrf: too many words requested")
	ErrInvalidAmount        = errors.New("vrf: invalid amount")
	ErrRequestNotFound      = errors.New("vrf: request not found")
	ErrNotPending           = errors.New("vrf: request already completed")
	ErrRequestInFlight      = errors.New("vrf: request is being fulfilled")
	ErrInvalidProof         = errors.New("vrf: invalid proof")
)

// Request statuses.
const (
	StatusPending   = "pending"
	StatusFulfilled = "fulfilled"
	StatusFailed    = "failed"
)

// Subscription pays for and authorizes randomness requests.
type Subscription struct {
	ID        uint64           `json:"id"`
	Owner     common.Address   `json:"owner"`
	Balance   *big.Int         `json:"balance"`
	Consumers []common.Address `json:"consumers"`
	CreatedAt time.Time        `json:"createdAt"`
}

// RequestParams describes a randomness request.
type RequestParams struct {
	KeyHash          common.Hash
	SubscriptionID   uint64
	Confirmations    uint16
	CallbackGasLimit uint32
	NumWords         uint32
	Consumer         common.Address
}

// Proof binds a set of random words to a request. The words are derived from
// the signature, so anyone holding the coordinator address can check them.
type Proof struct {
	KeyHash   common.Hash   `json:"keyHash"`
	RequestID uint64        `json:"requestId"`
	Seed      common.Hash   `json:"seed"`
	Signature hexutil.Bytes `json:"signature"`
}

// Request is a randomness request and, once served, its outcome.
type Request struct {
	ID               uint64         `json:"id"`
	SubscriptionID   uint64         `json:"subscriptionId"`
	Consumer         common.Address `json:"consumer"`
	KeyHash          common.Hash    `json:"keyHash"`
	Seed             common.Hash    `json:"seed"`
	Confirmations    uint16         `json:"confirmations"`
	CallbackGasLimit uint32         `json:"callbackGasLimit"`
	NumWords         uint32         `json:"numWords"`
	Status           string         `json:"status"`
	Proof            *Proof         `json:"proof,omitempty"`
	Words            []*big.Int     `json:"words,omitempty"`
	CallbackError    string         `json:"callbackError,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	FulfilledAt      *time.Time     `json:"fulfilledAt,omitempty"`
}
