// Package merkle provides the depth-32 Orchard note commitment tree with
// bounded checkpoint history.
package merkle

import (
	"encoding/binary"
	"sync"

	"github.com/colorfulnotion/orchardwallet/common"
	"github.com/colorfulnotion/orchardwallet/log"
	"github.com/colorfulnotion/orchardwallet/walleterrors"
)

const (
	// MerkleTreeDepth is the depth of the Orchard commitment tree
	MerkleTreeDepth = 32

	// MaxTreeSize is the maximum number of leaves (2^32)
	MaxTreeSize = uint64(1) << MerkleTreeDepth

	// DefaultCheckpointRetention is the number of checkpoints kept before
	// the oldest is evicted.
	DefaultCheckpointRetention = 100
)

// Option configures a MerkleTree.
type Option func(*MerkleTree)

// WithHasher replaces the default BLAKE2b combine primitive.
func WithHasher(h Hasher) Option {
	return func(t *MerkleTree) {
		if h != nil {
			t.hasher = h
		}
	}
}

// WithCheckpointRetention bounds the checkpoint history. Values below 1
// keep the default.
func WithCheckpointRetention(n int) Option {
	return func(t *MerkleTree) {
		if n > 0 {
			t.retention = n
		}
	}
}

// MerkleTree implements the Orchard commitment Merkle tree
type MerkleTree struct {
	mu sync.RWMutex

	hasher    Hasher
	retention int

	root common.Hash // Current Merkle root
	size uint64      // Number of leaves

	// nodes[level][index] = hash; level 0 holds the leaves. A node whose
	// leaf range lies entirely below size never changes again.
	nodes map[uint8]map[uint64]common.Hash

	// Zero hashes for empty subtrees at each level
	zeroHashes []common.Hash

	checkpoints *checkpointRing
}

// NewMerkleTree creates a new Orchard Merkle tree
func NewMerkleTree(opts ...Option) *MerkleTree {
	tree := &MerkleTree{
		hasher:    Blake2bHasher{},
		retention: DefaultCheckpointRetention,
	}
	for _, opt := range opts {
		opt(tree)
	}
	tree.zeroHashes = emptyRoots(tree.hasher)
	tree.checkpoints = newCheckpointRing(tree.retention)
	tree.resetLocked()
	return tree
}

func (t *MerkleTree) resetLocked() {
	t.nodes = make(map[uint8]map[uint64]common.Hash)
	t.size = 0
	t.root = t.zeroHashes[MerkleTreeDepth]
	t.checkpoints.reset()
}

// Hasher returns the combine primitive of the tree.
func (t *MerkleTree) Hasher() Hasher {
	return t.hasher
}

// EmptyRoot is the root of a tree without leaves.
func (t *MerkleTree) EmptyRoot() common.Hash {
	return t.zeroHashes[MerkleTreeDepth]
}

// Size returns the number of leaves in the tree
func (t *MerkleTree) Size() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size
}

// Append adds a single commitment and returns its position.
func (t *MerkleTree) Append(commitment common.Hash) (uint64, error) {
	return t.AppendBatch([]common.Hash{commitment})
}

// AppendBatch adds commitments in order and returns the position of the
// first. Nothing is appended when the batch would exceed capacity.
func (t *MerkleTree) AppendBatch(commitments []common.Hash) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.appendLocked(commitments)
}

func (t *MerkleTree) appendLocked(commitments []common.Hash) (uint64, error) {
	first := t.size
	if uint64(len(commitments)) > MaxTreeSize-t.size {
		return first, walleterrors.Capacity("tree capacity exceeded: current=%d, adding=%d, max=%d",
			t.size, len(commitments), MaxTreeSize)
	}

	for _, commitment := range commitments {
		t.updatePath(t.size, commitment)
		t.size++
	}
	log.Trace(log.Tree, "Appended commitments", "first", first, "count", len(commitments), "size", t.size)
	return first, nil
}

// updatePath updates internal nodes from leaf to root
func (t *MerkleTree) updatePath(index uint64, leaf common.Hash) {
	currentHash := leaf
	currentIndex := index

	for level := uint8(0); level < MerkleTreeDepth; level++ {
		if t.nodes[level] == nil {
			t.nodes[level] = make(map[uint64]common.Hash)
		}
		t.nodes[level][currentIndex] = currentHash

		if currentIndex%2 == 0 {
			// Left child; the right sibling cannot exist yet
			currentHash = t.hasher.Combine(level, currentHash, t.zeroHashes[level])
		} else {
			currentHash = t.hasher.Combine(level, t.nodes[level][currentIndex-1], currentHash)
		}
		currentIndex = currentIndex / 2
	}

	t.root = currentHash
}

// nodeAt returns the value of node (level, index) in the tree made of the
// first size leaves.
func (t *MerkleTree) nodeAt(level uint8, index uint64, size uint64) common.Hash {
	start := index << level
	if start >= size {
		return t.zeroHashes[level]
	}
	if level < MerkleTreeDepth && start+(uint64(1)<<level) <= size {
		return t.nodes[level][index]
	}
	left := t.nodeAt(level-1, 2*index, size)
	right := t.nodeAt(level-1, 2*index+1, size)
	return t.hasher.Combine(level-1, left, right)
}

// Leaf returns the commitment at the given position
func (t *MerkleTree) Leaf(position uint64) (common.Hash, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if position >= t.size {
		return common.Hash{}, walleterrors.NotFound("leaf position %d out of bounds (size=%d)", position, t.size)
	}
	return t.nodes[0][position], nil
}

// Leaves returns every commitment in position order.
func (t *MerkleTree) Leaves() []common.Hash {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]common.Hash, t.size)
	for i := uint64(0); i < t.size; i++ {
		out[i] = t.nodes[0][i]
	}
	return out
}

// Root returns the anchor at the given checkpoint depth.
func (t *MerkleTree) Root(depth int) (common.Hash, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if depth < 0 {
		return common.Hash{}, walleterrors.Validation("negative checkpoint depth %d", depth)
	}
	if depth == 0 {
		if t.size == 0 {
			return common.Hash{}, walleterrors.NotFound("tree is empty")
		}
		return t.root, nil
	}
	cp, ok := t.checkpoints.fromNewest(depth - 1)
	if !ok {
		return common.Hash{}, walleterrors.NotFound("checkpoint depth %d exceeds retained history of %d", depth, t.checkpoints.len())
	}
	return cp.Root, nil
}

// sizeAt resolves the leaf count of the state identified by depth.
func (t *MerkleTree) sizeAt(depth int) (uint64, error) {
	if depth < 0 {
		return 0, walleterrors.Validation("negative checkpoint depth %d", depth)
	}
	if depth == 0 {
		return t.size, nil
	}
	cp, ok := t.checkpoints.fromNewest(depth - 1)
	if !ok {
		return 0, walleterrors.StateConsistency("checkpoint depth %d is not retained (have %d)", depth, t.checkpoints.len())
	}
	return cp.Size, nil
}

// Witness generates the authentication path of position against the root
// at the given checkpoint depth.
func (t *MerkleTree) Witness(position uint64, depth int) (MerkleWitness, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	size, err := t.sizeAt(depth)
	if err != nil {
		return MerkleWitness{}, err
	}
	if position >= size {
		return MerkleWitness{}, walleterrors.StateConsistency("position %d not committed at depth %d (size=%d)", position, depth, size)
	}

	witness := MerkleWitness{
		Position: position,
		Path:     make([]common.Hash, MerkleTreeDepth),
	}
	currentIndex := position
	for level := uint8(0); level < MerkleTreeDepth; level++ {
		witness.Path[level] = t.nodeAt(level, currentIndex^1, size)
		currentIndex = currentIndex / 2
	}
	return witness, nil
}

// VerifyWitness checks a witness against this tree's hasher.
func (t *MerkleTree) VerifyWitness(witness MerkleWitness, leaf common.Hash, root common.Hash) bool {
	return VerifyWitness(t.hasher, witness, leaf, root)
}

// VerifyWitness verifies a Merkle inclusion proof
func VerifyWitness(h Hasher, witness MerkleWitness, leaf common.Hash, root common.Hash) bool {
	if len(witness.Path) != MerkleTreeDepth || witness.Position >= MaxTreeSize {
		return false
	}

	currentHash := leaf
	currentIndex := witness.Position
	for level := uint8(0); level < MerkleTreeDepth; level++ {
		sibling := witness.Path[level]
		if currentIndex%2 == 0 {
			currentHash = h.Combine(level, currentHash, sibling)
		} else {
			currentHash = h.Combine(level, sibling, currentHash)
		}
		currentIndex = currentIndex / 2
	}
	return currentHash == root
}

// Checkpoint records the current root and size under ledgerSeq. A sequence
// not above the latest checkpoint is rejected and false is returned.
func (t *MerkleTree) Checkpoint(ledgerSeq uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if last, ok := t.checkpoints.fromNewest(0); ok && ledgerSeq <= last.LedgerSeq {
		log.Warn(log.Tree, "Checkpoint rejected", "ledger_seq", ledgerSeq, "last", last.LedgerSeq)
		return false
	}
	cp := Checkpoint{LedgerSeq: ledgerSeq, Root: t.root, Size: t.size}
	if evicted, ok := t.checkpoints.push(cp); ok {
		log.Debug(log.Tree, "Checkpoint evicted", "ledger_seq", evicted.LedgerSeq, "size", evicted.Size)
	}
	log.Debug(log.Tree, "Checkpoint", "ledger_seq", ledgerSeq, "size", t.size, "root", t.root)
	return true
}

// LastCheckpoint returns the most recent checkpoint.
func (t *MerkleTree) LastCheckpoint() (Checkpoint, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.checkpoints.fromNewest(0)
}

// Checkpoints returns the retained checkpoints oldest first.
func (t *MerkleTree) Checkpoints() []Checkpoint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.checkpoints.all()
}

// Reset clears the tree to empty, dropping every checkpoint.
func (t *MerkleTree) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
}

// Restore replaces the tree with the given leaves and checkpoint history.
// Every checkpoint must name a size within leaves and carry the root the
// tree had at that size; sequences must be strictly increasing and sizes
// never decrease.
func (t *MerkleTree) Restore(leaves []common.Hash, checkpoints []Checkpoint) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resetLocked()
	if _, err := t.appendLocked(leaves); err != nil {
		return err
	}
	for i, cp := range checkpoints {
		if cp.Size > t.size {
			t.resetLocked()
			return walleterrors.StateConsistency("checkpoint %d size %d exceeds restored size %d", cp.LedgerSeq, cp.Size, t.size)
		}
		if i > 0 && cp.LedgerSeq <= checkpoints[i-1].LedgerSeq {
			t.resetLocked()
			return walleterrors.StateConsistency("checkpoint %d out of order", cp.LedgerSeq)
		}
		if i > 0 && cp.Size < checkpoints[i-1].Size {
			t.resetLocked()
			return walleterrors.StateConsistency("checkpoint %d size %d below previous size %d", cp.LedgerSeq, cp.Size, checkpoints[i-1].Size)
		}
		if root := t.nodeAt(MerkleTreeDepth, 0, cp.Size); root != cp.Root {
			t.resetLocked()
			return walleterrors.StateConsistency("checkpoint %d root mismatch: expected %x, got %x", cp.LedgerSeq, cp.Root, root)
		}
		t.checkpoints.push(cp)
	}
	log.Debug(log.Tree, "Restored tree", "size", t.size, "checkpoints", t.checkpoints.len())
	return nil
}

// SerializeWitness serializes a Merkle witness for transmission
func SerializeWitness(witness MerkleWitness) []byte {
	// Format: [position:8][path_len:2][path_hashes:32*len]
	buf := make([]byte, 10+len(witness.Path)*32)
	binary.BigEndian.PutUint64(buf[0:8], witness.Position)
	binary.BigEndian.PutUint16(buf[8:10], uint16(len(witness.Path)))

	offset := 10
	for _, hash := range witness.Path {
		copy(buf[offset:offset+32], hash[:])
		offset += 32
	}
	return buf
}

// DeserializeWitness deserializes a Merkle witness
func DeserializeWitness(data []byte) (MerkleWitness, error) {
	if len(data) < 10 {
		return MerkleWitness{}, walleterrors.Validation("witness data too short: %d bytes", len(data))
	}

	position := binary.BigEndian.Uint64(data[0:8])
	pathLen := binary.BigEndian.Uint16(data[8:10])
	if pathLen != MerkleTreeDepth {
		return MerkleWitness{}, walleterrors.Validation("witness path length %d, want %d", pathLen, MerkleTreeDepth)
	}
	if len(data) != 10+int(pathLen)*32 {
		return MerkleWitness{}, walleterrors.Validation("witness data length mismatch: expected %d, got %d",
			10+int(pathLen)*32, len(data))
	}

	witness := MerkleWitness{
		Position: position,
		Path:     make([]common.Hash, pathLen),
	}
	offset := 10
	for i := 0; i < int(pathLen); i++ {
		copy(witness.Path[i][:], data[offset:offset+32])
		offset += 32
	}
	return witness, nil
}
