// Package witness assembles the anchor and authentication paths a spend
// builder needs for a set of selected notes.
package witness

import (
	"math/bits"

	"github.com/colorfulnotion/orchardwallet/common"
	"github.com/colorfulnotion/orchardwallet/log"
	"github.com/colorfulnotion/orchardwallet/orchard/merkle"
	"github.com/colorfulnotion/orchardwallet/orchard/notes"
	"github.com/colorfulnotion/orchardwallet/walleterrors"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Accumulator is the read side of the commitment tree.
type Accumulator interface {
	Size() uint64
	Root(depth int) (common.Hash, error)
	Witness(position uint64, depth int) (merkle.MerkleWitness, error)
	Hasher() merkle.Hasher
}

// SpendInput is everything a spend builder needs about one note.
type SpendInput struct {
	NoteID     notes.NoteID
	Commitment common.Hash
	Nullifier  common.Hash
	Amount     uint64
	KeyIndex   uint32
	Position   uint64
	Path       []common.Hash
}

// Witness returns the input's authentication path as a merkle witness.
func (in *SpendInput) Witness() merkle.MerkleWitness {
	return merkle.MerkleWitness{Position: in.Position, Path: in.Path}
}

// SpendPlan binds every input to the single anchor of one spend.
type SpendPlan struct {
	Anchor   common.Hash
	TreeSize uint64
	Inputs   []SpendInput
}

// Total sums the input amounts. It fails when the sum does not fit in a
// uint64.
func (p *SpendPlan) Total() (uint64, error) {
	var total uint64
	for _, in := range p.Inputs {
		sum, carry := bits.Add64(total, in.Amount, 0)
		if carry != 0 {
			return 0, walleterrors.Validation("spend inputs total overflows: %d notes", len(p.Inputs))
		}
		total = sum
	}
	return total, nil
}

type pathKey struct {
	position uint64
	anchor   common.Hash
}

// Assembler builds spend plans against the current tree state. Paths are
// cached per (position, anchor) so repeated plans against an unchanged
// tree skip recomputation.
type Assembler struct {
	acc   Accumulator
	cache *lru.Cache[pathKey, []common.Hash]
}

// NewAssembler returns an assembler over acc. cacheSize <= 0 disables the
// path cache.
func NewAssembler(acc Accumulator, cacheSize int) (*Assembler, error) {
	a := &Assembler{acc: acc}
	if cacheSize > 0 {
		cache, err := lru.New[pathKey, []common.Hash](cacheSize)
		if err != nil {
			return nil, err
		}
		a.cache = cache
	}
	return a, nil
}

// Purge drops cached paths.
func (a *Assembler) Purge() {
	if a.cache != nil {
		a.cache.Purge()
	}
}

// CachedPaths reports the number of cached paths.
func (a *Assembler) CachedPaths() int {
	if a.cache == nil {
		return 0
	}
	return a.cache.Len()
}

// Assemble returns the current anchor and, for each note in order, its
// position and path at depth 0. Every path is checked against the anchor.
func (a *Assembler) Assemble(selected []notes.DecryptedNote) (*SpendPlan, error) {
	size := a.acc.Size()
	if size == 0 {
		return nil, walleterrors.StateConsistency("commitment tree is empty, no anchor")
	}
	anchor, err := a.acc.Root(0)
	if err != nil {
		return nil, walleterrors.StateConsistency("current anchor: %v", err)
	}

	plan := &SpendPlan{Anchor: anchor, TreeSize: size, Inputs: make([]SpendInput, 0, len(selected))}
	for i := range selected {
		n := &selected[i]
		if n.Position >= size {
			return nil, walleterrors.StateConsistency("note %s position %d beyond tree size %d", n.ID(), n.Position, size)
		}
		path, err := a.path(n.Position, anchor)
		if err != nil {
			return nil, err
		}
		w := merkle.MerkleWitness{Position: n.Position, Path: path}
		if !merkle.VerifyWitness(a.acc.Hasher(), w, n.Commitment, anchor) {
			return nil, walleterrors.StateConsistency("witness for note %s does not authenticate against anchor %x", n.ID(), anchor)
		}
		plan.Inputs = append(plan.Inputs, SpendInput{
			NoteID:     n.ID(),
			Commitment: n.Commitment,
			Nullifier:  n.Nullifier,
			Amount:     n.Amount,
			KeyIndex:   n.KeyIndex,
			Position:   n.Position,
			Path:       path,
		})
	}
	log.Debug(log.Wallet, "Assembled spend plan", "anchor", anchor, "inputs", len(plan.Inputs), "tree_size", size)
	return plan, nil
}

func (a *Assembler) path(position uint64, anchor common.Hash) ([]common.Hash, error) {
	key := pathKey{position: position, anchor: anchor}
	if a.cache != nil {
		if cached, ok := a.cache.Get(key); ok {
			return append([]common.Hash(nil), cached...), nil
		}
	}
	w, err := a.acc.Witness(position, 0)
	if err != nil {
		return nil, walleterrors.StateConsistency("witness for position %d: %v", position, err)
	}
	if a.cache != nil {
		a.cache.Add(key, append([]common.Hash(nil), w.Path...))
	}
	return w.Path, nil
}
