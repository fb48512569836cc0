package merkle

import "github.com/colorfulnotion/orchardwallet/common"

// Accumulator is the commitment tree as seen by the scanner, the witness
// assembler and the wallet.
type Accumulator interface {
	Size() uint64
	Append(commitment common.Hash) (uint64, error)
	AppendBatch(commitments []common.Hash) (uint64, error)

	// Root returns the current root at depth 0, or the root of the
	// depth-th most recent checkpoint.
	Root(depth int) (common.Hash, error)
	Witness(position uint64, depth int) (MerkleWitness, error)

	Checkpoint(ledgerSeq uint32) bool
	LastCheckpoint() (Checkpoint, bool)
	Reset()
}

// MerkleWitness represents a Merkle inclusion proof
type MerkleWitness struct {
	Position uint64        // Leaf position
	Path     []common.Hash // Sibling hashes from leaf to root, always MerkleTreeDepth long
}

// Checkpoint is the tree state recorded at a ledger boundary.
type Checkpoint struct {
	LedgerSeq uint32
	Root      common.Hash
	Size      uint64
}

var _ Accumulator = (*MerkleTree)(nil)
