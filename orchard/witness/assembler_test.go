package witness

import (
	"errors"
	"math"
	"testing"

	"github.com/colorfulnotion/orchardwallet/common"
	"github.com/colorfulnotion/orchardwallet/orchard/merkle"
	"github.com/colorfulnotion/orchardwallet/orchard/notes"
	"github.com/colorfulnotion/orchardwallet/walleterrors"
)

func commitment(i int) common.Hash {
	return common.Blake2Hash([]byte{'c', byte(i)})
}

func buildTree(t *testing.T, n int) *merkle.MerkleTree {
	t.Helper()
	tree := merkle.NewMerkleTree()
	for i := 0; i < n; i++ {
		if _, err := tree.Append(commitment(i)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	return tree
}

func noteAt(pos int, amount uint64) notes.DecryptedNote {
	return notes.DecryptedNote{
		Commitment:  commitment(pos),
		Nullifier:   common.Blake2Hash([]byte{'n', byte(pos)}),
		Amount:      amount,
		TxID:        common.Blake2Hash([]byte{'t', byte(pos)}),
		ActionIndex: 0,
		Position:    uint64(pos),
	}
}

// stubAccumulator serves a fixed anchor and path regardless of position.
type stubAccumulator struct {
	size   uint64
	anchor common.Hash
	path   []common.Hash
}

func (s stubAccumulator) Size() uint64                 { return s.size }
func (s stubAccumulator) Root(int) (common.Hash, error) { return s.anchor, nil }
func (s stubAccumulator) Hasher() merkle.Hasher         { return merkle.Blake2bHasher{} }
func (s stubAccumulator) Witness(pos uint64, _ int) (merkle.MerkleWitness, error) {
	return merkle.MerkleWitness{Position: pos, Path: s.path}, nil
}

func TestAssembleUsesCurrentAnchor(t *testing.T) {
	tree := buildTree(t, 3)
	if !tree.Checkpoint(1) {
		t.Fatal("checkpoint rejected")
	}
	for i := 3; i < 7; i++ {
		if _, err := tree.Append(commitment(i)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	a, err := NewAssembler(tree, 16)
	if err != nil {
		t.Fatalf("NewAssembler: %v", err)
	}
	plan, err := a.Assemble([]notes.DecryptedNote{noteAt(0, 1000), noteAt(5, 2000)})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	current, _ := tree.Root(0)
	if plan.Anchor != current {
		t.Fatalf("anchor %x is not the current root %x", plan.Anchor, current)
	}
	total, err := plan.Total()
	if err != nil || total != 3000 || len(plan.Inputs) != 2 {
		t.Fatalf("unexpected plan: total=%d err=%v inputs=%d", total, err, len(plan.Inputs))
	}
	for _, in := range plan.Inputs {
		if len(in.Path) != merkle.MerkleTreeDepth {
			t.Fatalf("path length %d", len(in.Path))
		}
		if !tree.VerifyWitness(in.Witness(), in.Commitment, plan.Anchor) {
			t.Fatalf("input at %d does not verify", in.Position)
		}
	}
}

func TestAssembleEmptyTree(t *testing.T) {
	a, err := NewAssembler(merkle.NewMerkleTree(), 0)
	if err != nil {
		t.Fatalf("NewAssembler: %v", err)
	}
	_, err = a.Assemble(nil)
	if !errors.Is(err, walleterrors.ErrStateConsistency) {
		t.Fatalf("expected StateConsistency, got %v", err)
	}
}

func TestAssembleRejectsUnknownPosition(t *testing.T) {
	a, _ := NewAssembler(buildTree(t, 2), 0)
	_, err := a.Assemble([]notes.DecryptedNote{noteAt(2, 10)})
	if !errors.Is(err, walleterrors.ErrStateConsistency) {
		t.Fatalf("expected StateConsistency, got %v", err)
	}
}

func TestAssembleRejectsMismatchedWitness(t *testing.T) {
	tree := buildTree(t, 4)
	anchor, _ := tree.Root(0)
	w, _ := tree.Witness(1, 0)

	a, _ := NewAssembler(stubAccumulator{size: 4, anchor: anchor, path: w.Path}, 0)
	if _, err := a.Assemble([]notes.DecryptedNote{noteAt(1, 10)}); err != nil {
		t.Fatalf("matching witness rejected: %v", err)
	}
	_, err := a.Assemble([]notes.DecryptedNote{noteAt(2, 10)})
	if !errors.Is(err, walleterrors.ErrStateConsistency) {
		t.Fatalf("expected StateConsistency, got %v", err)
	}
}

func TestPathCache(t *testing.T) {
	tree := buildTree(t, 4)
	a, _ := NewAssembler(tree, 8)

	selected := []notes.DecryptedNote{noteAt(1, 10), noteAt(3, 20)}
	first, err := a.Assemble(selected)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if a.CachedPaths() != 2 {
		t.Fatalf("expected 2 cached paths, got %d", a.CachedPaths())
	}

	first.Inputs[0].Path[0] = common.Hash{}
	second, err := a.Assemble(selected)
	if err != nil {
		t.Fatalf("Assemble from cache: %v", err)
	}
	if second.Inputs[0].Path[0] == (common.Hash{}) {
		t.Fatal("cached path was mutated through a returned plan")
	}

	if _, err := tree.Append(commitment(4)); err != nil {
		t.Fatalf("append: %v", err)
	}
	third, err := a.Assemble(selected)
	if err != nil {
		t.Fatalf("Assemble after append: %v", err)
	}
	if third.Anchor == second.Anchor {
		t.Fatal("anchor did not move after append")
	}
	if a.CachedPaths() != 4 {
		t.Fatalf("expected 4 cached paths, got %d", a.CachedPaths())
	}
	a.Purge()
	if a.CachedPaths() != 0 {
		t.Fatal("purge left cached paths")
	}
}

func TestPlanTotalOverflow(t *testing.T) {
	plan := &SpendPlan{Inputs: []SpendInput{{Amount: math.MaxUint64}, {Amount: 2}}}
	if _, err := plan.Total(); !errors.Is(err, walleterrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	plan.Inputs = plan.Inputs[:1]
	total, err := plan.Total()
	if err != nil || total != math.MaxUint64 {
		t.Fatalf("single input: total=%d err=%v", total, err)
	}
}
