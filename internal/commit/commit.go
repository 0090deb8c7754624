// Package commit computes sealed-bid commitments.
//
// A commitment is keccak256 over the 32-byte big-endian bid value followed by
// the raw salt bytes, the same packing Solidity's abi.encodePacked(uint256,
// string) produces. The digest binds only the value and the salt: the same
// pair yields the same digest for every name and every bidder.
package commit

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Digest is a 32-byte commitment.
type Digest = common.Hash

// Hash returns the commitment for value and salt. A nil value hashes as zero.
func Hash(value *uint256.Int, salt string) Digest {
	if value == nil {
		value = new(uint256.Int)
	}
	packed := value.Bytes32()
	return crypto.Keccak256Hash(packed[:], []byte(salt))
}

// Matches reports whether value and salt open the digest d.
func Matches(d Digest, value *uint256.Int, salt string) bool {
	return Hash(value, salt) == d
}

// ParseDigest decodes a 0x-prefixed 32-byte hex digest.
func ParseDigest(s string) (Digest, bool) {
	b, err := hexBytes(s)
	if err != nil || len(b) != common.HashLength {
		return Digest{}, false
	}
	return common.BytesToHash(b), true
}
