package merkle

import (
	"fmt"

	"github.com/colorfulnotion/orchardwallet/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Hasher is the fixed-arity combine primitive applied at each tree level.
// Level is the level of the two children, 0 for leaves.
type Hasher interface {
	Name() string
	EmptyLeaf() common.Hash
	Combine(level uint8, left, right common.Hash) common.Hash
}

const (
	HasherBlake2b = "blake2b"
	HasherKeccak  = "keccak"
)

const merklePersonalization = "OrchWallet_Mrk"

var levelPersonalization [MerkleTreeDepth][]byte

func init() {
	for i := range levelPersonalization {
		p := make([]byte, 0, len(merklePersonalization)+1)
		p = append(p, merklePersonalization...)
		levelPersonalization[i] = append(p, byte(i))
	}
}

// Blake2bHasher combines siblings with BLAKE2b-256 personalized per level.
type Blake2bHasher struct{}

func (Blake2bHasher) Name() string { return HasherBlake2b }

func (Blake2bHasher) EmptyLeaf() common.Hash {
	return common.PersonalHash([]byte("OrchWallet_Uncm"))
}

func (Blake2bHasher) Combine(level uint8, left, right common.Hash) common.Hash {
	return common.PersonalHash(levelPersonalization[level], left[:], right[:])
}

// KeccakHasher is the level-agnostic Keccak256 combine used by the builder
// tree. Its empty leaf is the zero hash.
type KeccakHasher struct{}

func (KeccakHasher) Name() string { return HasherKeccak }

func (KeccakHasher) EmptyLeaf() common.Hash { return common.Hash{} }

func (KeccakHasher) Combine(_ uint8, left, right common.Hash) common.Hash {
	return crypto.Keccak256Hash(left[:], right[:])
}

// HasherByName resolves a hasher from its configuration name.
func HasherByName(name string) (Hasher, error) {
	switch name {
	case "", HasherBlake2b:
		return Blake2bHasher{}, nil
	case HasherKeccak:
		return KeccakHasher{}, nil
	default:
		return nil, fmt.Errorf("unknown merkle hasher %q", name)
	}
}

// emptyRoots returns the empty-subtree hash for every level 0..depth.
func emptyRoots(h Hasher) []common.Hash {
	zero := make([]common.Hash, MerkleTreeDepth+1)
	zero[0] = h.EmptyLeaf()
	for i := 1; i <= MerkleTreeDepth; i++ {
		zero[i] = h.Combine(uint8(i-1), zero[i-1], zero[i-1])
	}
	return zero
}
