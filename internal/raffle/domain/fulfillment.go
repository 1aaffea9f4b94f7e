package domain

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidFulfillmentSignature is returned when a relayed fulfillment
// carries a signature no key can be recovered from.
var ErrInvalidFulfillmentSignature = errors.New("raffle: invalid fulfillment signature")

// FulfillmentDigest is the keccak256 hash a relayer signs to deliver words
// for a request: the request id followed by each word, all as uint256.
func FulfillmentDigest(requestID *big.Int, words []*big.Int) []byte {
	parts := make([][]byte, 0, len(words)+1)
	parts = append(parts, math.U256Bytes(new(big.Int).Set(requestID)))
	for _, w := range words {
		parts = append(parts, math.U256Bytes(new(big.Int).Set(w)))
	}
	return crypto.Keccak256(parts...)
}

// SignFulfillment signs the digest for requestID and words with key.
func SignFulfillment(key *ecdsa.PrivateKey, requestID *big.Int, words []*big.Int) ([]byte, error) {
	sig, err := crypto.Sign(FulfillmentDigest(requestID, words), key)
	if err != nil {
		return nil, fmt.Errorf("signing fulfillment: %w", err)
	}
	return sig, nil
}

// RecoverFulfiller returns the address that signed the fulfillment. The
// result is the caller the raffle checks against its coordinator.
func RecoverFulfiller(requestID *big.Int, words []*big.Int, sig []byte) (common.Address, error) {
	if requestID == nil || requestID.Sign() < 0 {
		return common.Address{}, fmt.Errorf("%w: missing request id", ErrInvalidFulfillmentSignature)
	}
	for _, w := range words {
		if w == nil || w.Sign() < 0 {
			return common.Address{}, fmt.Errorf("%w: invalid word", ErrInvalidFulfillmentSignature)
		}
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrInvalidFulfillmentSignature, len(sig))
	}
	// Accept both 0/1 and 27/28 recovery ids.
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig = append([]byte(nil), sig...)
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(FulfillmentDigest(requestID, words), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidFulfillmentSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
