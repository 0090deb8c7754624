// Package chain holds the primitives shared by the registrar: block heights,
// caller identities and the clocks that advance heights.
package chain

import (
	"errors"
	"math"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Height is the block counter used as the only notion of time.
type Height uint64

// BlockCount is a length measured in blocks.
type BlockCount uint64

// Identity identifies a caller, a bidder, a name owner or a service principal.
type Identity = common.Address

// NoIdentity is the zero identity ("none").
var NoIdentity Identity

var ErrInvalidIdentity = errors.New("invalid identity")

// Add returns h+n and false when the sum does not fit a Height.
func (h Height) Add(n BlockCount) (Height, bool) {
	if uint64(n) > math.MaxUint64-uint64(h) {
		return 0, false
	}
	return h + Height(n), true
}

// ParseIdentity parses a 0x-prefixed hex address. The zero address is rejected.
func ParseIdentity(s string) (Identity, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return NoIdentity, ErrInvalidIdentity
	}
	id := common.HexToAddress(s)
	if id == NoIdentity {
		return NoIdentity, ErrInvalidIdentity
	}
	return id, nil
}

// IsZero reports whether id is the "none" identity.
func IsZero(id Identity) bool { return id == NoIdentity }

// DeriveIdentity maps a service label to a stable identity: the last 20
// bytes of keccak256(label).
func DeriveIdentity(label string) Identity {
	return common.BytesToAddress(crypto.Keccak256([]byte(label)))
}
