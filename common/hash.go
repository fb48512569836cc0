// Package common holds the hash type and hashing helpers shared by the
// orchard wallet packages.
package common

import (
	"encoding/binary"
	"fmt"

	ethereumCommon "github.com/ethereum/go-ethereum/common"
	blake2bsimd "github.com/minio/blake2b-simd"
	"golang.org/x/crypto/blake2b"
)

// Hash is the 32-byte digest used for commitments, nullifiers, anchors and
// transaction ids.
type Hash = ethereumCommon.Hash

const HashLength = ethereumCommon.HashLength

// PersonalizationLength is the BLAKE2b personalization size.
const PersonalizationLength = 16

func BytesToHash(b []byte) Hash {
	return ethereumCommon.BytesToHash(b)
}

func HexToHash(s string) Hash {
	return ethereumCommon.HexToHash(s)
}

// ParseHash decodes exactly 32 bytes into a Hash.
func ParseHash(b []byte) (Hash, error) {
	if len(b) != HashLength {
		return Hash{}, fmt.Errorf("hash must be %d bytes, got %d", HashLength, len(b))
	}
	return ethereumCommon.BytesToHash(b), nil
}

func IsNilHash(h Hash) bool {
	return h == Hash{}
}

// Blake2Hash is the unkeyed BLAKE2b-256 of data.
func Blake2Hash(data []byte) Hash {
	return Hash(blake2b.Sum256(data))
}

// PersonalHash computes BLAKE2b-256 personalized with person over the
// concatenation of parts. person must be at most 16 bytes.
func PersonalHash(person []byte, parts ...[]byte) Hash {
	h, err := blake2bsimd.New(&blake2bsimd.Config{Size: HashLength, Person: person})
	if err != nil {
		// only reachable with a personalization longer than 16 bytes
		panic(fmt.Sprintf("blake2b personalization %q: %v", person, err))
	}
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

func Uint64ToBytes(val uint64) []byte {
	bytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(bytes, val)
	return bytes
}

func Uint32ToBytes(val uint32) []byte {
	bytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(bytes, val)
	return bytes
}

func BytesToUint64(data []byte) uint64 {
	if len(data) < 8 {
		panic("BytesToUint64: byte slice too short")
	}
	return binary.LittleEndian.Uint64(data)
}
