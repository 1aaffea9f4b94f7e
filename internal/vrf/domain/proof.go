package domain

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

// LoadKey parses a hex encoded secp256k1 private key. An empty string
// generates a fresh key.
func LoadKey(hexKey string) (*ecdsa.PrivateKey, error) {
	if hexKey == "" {
		return crypto.GenerateKey()
	}
	if len(hexKey) > 2 && hexKey[:2] == "0x" {
		hexKey = hexKey[2:]
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parsing coordinator key: %w", err)
	}
	return key, nil
}

// requestSeed derives the per-request seed.
func requestSeed(keyHash common.Hash, consumer common.Address, subID uint64, nonce uint64) common.Hash {
	return crypto.Keccak256Hash(
		keyHash.Bytes(),
		common.LeftPadBytes(consumer.Bytes(), 32),
		math.U256Bytes(new(big.Int).SetUint64(subID)),
		math.U256Bytes(new(big.Int).SetUint64(nonce)),
	)
}

// proofMessage is the digest the coordinator signs for a request.
func proofMessage(keyHash common.Hash, requestID uint64, seed common.Hash) []byte {
	return crypto.Keccak256(
		keyHash.Bytes(),
		math.U256Bytes(new(big.Int).SetUint64(requestID)),
		seed.Bytes(),
	)
}

// generateProof signs the request and expands the signature into words.
func generateProof(key *ecdsa.PrivateKey, keyHash common.Hash, requestID uint64, seed common.Hash) (*Proof, error) {
	sig, err := crypto.Sign(proofMessage(keyHash, requestID, seed), key)
	if err != nil {
		return nil, fmt.Errorf("signing proof: %w", err)
	}
	return &Proof{KeyHash: keyHash, RequestID: requestID, Seed: seed, Signature: sig}, nil
}

// expandWords derives n uint256 words from the proof signature.
func expandWords(sig []byte, n uint32) []*big.Int {
	words := make([]*big.Int, n)
	for i := uint32(0); i < n; i++ {
		h := crypto.Keccak256(sig, math.U256Bytes(big.NewInt(int64(i))))
		words[i] = new(big.Int).SetBytes(h)
	}
	return words
}

// VerifyProof checks that the proof was signed by signer and returns the
// numWords random words it yields.
func VerifyProof(p Proof, signer common.Address, numWords uint32) ([]*big.Int, error) {
	if len(p.Signature) != crypto.SignatureLength {
		return nil, fmt.Errorf("%w: signature length %d", ErrInvalidProof, len(p.Signature))
	}
	pub, err := crypto.SigToPub(proofMessage(p.KeyHash, p.RequestID, p.Seed), p.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	if got := crypto.PubkeyToAddress(*pub); got != signer {
		return nil, fmt.Errorf("%w: signed by %s, want %s", ErrInvalidProof, got.Hex(), signer.Hex())
	}
	return expandWords(p.Signature, numWords), nil
}
