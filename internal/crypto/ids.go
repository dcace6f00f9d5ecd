// Package crypto provides the hashing and signature primitives of the
// registry: listing ids, vote commitments and request authentication.
package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ListingID returns keccak256(name), the identifier of the listing for name.
func ListingID(name string) common.Hash {
	return ethcrypto.Keccak256Hash([]byte(name))
}

// ParseListingRef accepts either a 0x-prefixed 32-byte hex hash or a plain
// listing name, which is hashed.
func ParseListingRef(ref string) (common.Hash, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return common.Hash{}, fmt.Errorf("crypto: empty listing reference")
	}
	if strings.HasPrefix(ref, "0x") || strings.HasPrefix(ref, "0X") {
		raw := ref[2:]
		if len(raw) != 2*common.HashLength {
			return common.Hash{}, fmt.Errorf("crypto: listing hash must be %d bytes", common.HashLength)
		}
		b, err := hex.DecodeString(raw)
		if err != nil {
			return common.Hash{}, fmt.Errorf("crypto: invalid listing hash: %w", err)
		}
		return common.BytesToHash(b), nil
	}
	return ListingID(ref), nil
}

// ParseAddress validates and parses a hex Ethereum address.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("crypto: invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// VoteCommitment returns keccak256(uint256(choice) || uint256(salt)), the
// hash a voter commits before revealing.
func VoteCommitment(choice uint8, salt uint64) common.Hash {
	return ethcrypto.Keccak256Hash(
		common.LeftPadBytes([]byte{choice}, 32),
		common.LeftPadBytes(uint64Bytes(salt), 32),
	)
}

func uint64Bytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}
