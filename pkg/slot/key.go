package slot

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"math/big"
)

// Calc returns keccak256( pad32(mapKey) ‖ pad32(slotIndex) ), the storage
// slot holding mapping entry mapKey at the given slot index.
func Calc(mapKey *big.Int, slotIndex uint64) common.Hash {
	var buf [64]byte

	// first 32 bytes = mapping key
	mapKey.FillBytes(buf[:32])

	// last 32 bytes = slot index (big-endian)
	for i := 0; i < 8; i++ { // write into the LAST 8 bytes of buf[32:64]
		buf[56+i] = byte(slotIndex >> (8 * (7 - i)))
	}

	return crypto.Keccak256Hash(buf[:]) // legacy Keccak-256
}

// PathKey hashes a raw slot key into the 64-nibble path the trie proofs
// walk.
func PathKey(slotKey common.Hash) common.Hash {
	return crypto.Keccak256Hash(slotKey[:])
}
