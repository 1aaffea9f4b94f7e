// Package validation provides input parsing and validation for raffle requests.
package validation

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/mod/semver"
)

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

var ether = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Unit suffixes accepted by ParseAmount, longest first where one is a
// suffix of another.
var units = []struct {
	name       string
	multiplier *big.Int
}{
	{"ether", ether},
	{"gwei", big.NewInt(1_000_000_000)},
	{"eth", ether},
	{"wei", big.NewInt(1)},
}

// ValidateAddress validates an Ethereum address
func ValidateAddress(addr string) error {
	if len(addr) != 42 {
		return errors.New("invalid address length: must be 42 characters (0x + 40 hex)")
	}
	if !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		return errors.New("invalid address: must start with 0x")
	}
	if !common.IsHexAddress(addr) {
		return errors.New("invalid address: contains non-hex characters")
	}
	return nil
}

// ParseAddress parses a 0x-prefixed address. The zero address is rejected
// because it can never receive a payout.
func ParseAddress(addr string) (common.Address, error) {
	if err := ValidateAddress(addr); err != nil {
		return common.Address{}, err
	}
	a := common.HexToAddress(addr)
	if a == (common.Address{}) {
		return common.Address{}, errors.New("invalid address: zero address")
	}
	return a, nil
}

// ParseAmount parses a non-negative amount. A bare integer is wei; a decimal
// number may carry a unit suffix ("0.01 ether", "5gwei").
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return nil, errors.New("amount cannot be empty")
	}

	multiplier := big.NewInt(1)
	for _, u := range units {
		if strings.HasSuffix(s, u.name) {
			s = strings.TrimSpace(strings.TrimSuffix(s, u.name))
			multiplier = u.multiplier
			break
		}
	}

	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if r.Sign() < 0 {
		return nil, errors.New("amount cannot be negative")
	}
	r.Mul(r, new(big.Rat).SetInt(multiplier))
	if !r.IsInt() {
		return nil, fmt.Errorf("amount %q has a fractional wei part", s)
	}
	return new(big.Int).Set(r.Num()), nil
}

// ParseUint256 parses a decimal or 0x-prefixed hex integer in [0, 2^256).
func ParseUint256(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 0)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	if v.Sign() < 0 || v.Cmp(maxUint256) > 0 {
		return nil, fmt.Errorf("integer %q out of uint256 range", s)
	}
	return v, nil
}

// ValidateVersion validates a semantic version string
func ValidateVersion(v string) error {
	normalized := strings.TrimPrefix(v, "v")
	if normalized == "" {
		return errors.New("version cannot be empty")
	}

	// semver library expects version to start with 'v'
	if !semver.IsValid("v" + normalized) {
		return errors.New("invalid semver version: must be in format X.Y.Z or X.Y.Z-prerelease")
	}

	mainPart := strings.SplitN(normalized, "-", 2)[0]
	if strings.Count(mainPart, ".") < 2 {
		return errors.New("invalid semver version: must be in format X.Y.Z (major.minor.patch)")
	}
	return nil
}

// CompatibleVersions reports whether a client built at clientVersion can
// talk to a server at serverVersion. Versions are compatible when they share
// a major version (and, before 1.0, a minor version). Development builds
// ("dev" or anything that is not semver) are always compatible.
func CompatibleVersions(clientVersion, serverVersion string) bool {
	c := "v" + strings.TrimPrefix(clientVersion, "v")
	s := "v" + strings.TrimPrefix(serverVersion, "v")
	if !semver.IsValid(c) || !semver.IsValid(s) {
		return true
	}
	if semver.Major(c) != semver.Major(s) {
		return false
	}
	if semver.Major(c) == "v0" {
		return semver.MajorMinor(c) == semver.MajorMinor(s)
	}
	return true
}
