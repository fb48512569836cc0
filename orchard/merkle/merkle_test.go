package merkle

import (
	"errors"
	"fmt"
	"testing"

	"github.com/colorfulnotion/orchardwallet/common"
	"github.com/colorfulnotion/orchardwallet/walleterrors"
	"github.com/stretchr/testify/require"
)

func testCommitment(i int) common.Hash {
	return common.Blake2Hash([]byte(fmt.Sprintf("cmx-%d", i)))
}

func appendN(t *testing.T, tree *MerkleTree, from, to int) {
	t.Helper()
	for i := from; i < to; i++ {
		pos, err := tree.Append(testCommitment(i))
		if err != nil {
			t.Fatalf("failed to append %d: %v", i, err)
		}
		if pos != uint64(i) {
			t.Fatalf("expected position %d, got %d", i, pos)
		}
	}
}

func TestMerkleTreeBasics(t *testing.T) {
	tree := NewMerkleTree()

	if tree.Size() != 0 {
		t.Fatalf("expected size 0, got %d", tree.Size())
	}
	if _, err := tree.Root(0); !errors.Is(err, walleterrors.ErrNotFound) {
		t.Fatalf("expected NotFound on empty tree, got %v", err)
	}

	commitment1 := common.HexToHash("0x1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef")
	pos, err := tree.Append(commitment1)
	if err != nil {
		t.Fatalf("failed to append: %v", err)
	}
	if pos != 0 || tree.Size() != 1 {
		t.Fatalf("expected position 0 and size 1, got %d/%d", pos, tree.Size())
	}

	leaf, err := tree.Leaf(0)
	if err != nil {
		t.Fatalf("failed to get leaf: %v", err)
	}
	if leaf != commitment1 {
		t.Fatalf("leaf mismatch: expected %v, got %v", commitment1, leaf)
	}

	root1, _ := tree.Root(0)
	commitment2 := common.HexToHash("0xfedcba0987654321fedcba0987654321fedcba0987654321fedcba0987654321")
	if _, err := tree.Append(commitment2); err != nil {
		t.Fatalf("failed to append second commitment: %v", err)
	}
	root2, _ := tree.Root(0)
	if root1 == root2 {
		t.Fatal("root should change after append")
	}
}

func TestPositionsAreDense(t *testing.T) {
	tree := NewMerkleTree()
	appendN(t, tree, 0, 10)

	first, err := tree.AppendBatch([]common.Hash{testCommitment(10), testCommitment(11), testCommitment(12)})
	require.NoError(t, err)
	require.Equal(t, uint64(10), first)
	require.Equal(t, uint64(13), tree.Size())

	leaves := tree.Leaves()
	for i, leaf := range leaves {
		require.Equal(t, testCommitment(i), leaf)
	}
}

func TestRootIsOrderSensitive(t *testing.T) {
	a := NewMerkleTree()
	b := NewMerkleTree()
	c := NewMerkleTree()

	_, err := a.AppendBatch([]common.Hash{testCommitment(1), testCommitment(2), testCommitment(3)})
	require.NoError(t, err)
	_, err = b.AppendBatch([]common.Hash{testCommitment(1), testCommitment(2), testCommitment(3)})
	require.NoError(t, err)
	_, err = c.AppendBatch([]common.Hash{testCommitment(2), testCommitment(1), testCommitment(3)})
	require.NoError(t, err)

	rootA, _ := a.Root(0)
	rootB, _ := b.Root(0)
	rootC, _ := c.Root(0)
	require.Equal(t, rootA, rootB)
	require.NotEqual(t, rootA, rootC)
}

func TestWitnessRoundTrip(t *testing.T) {
	for _, h := range []Hasher{Blake2bHasher{}, KeccakHasher{}} {
		t.Run(h.Name(), func(t *testing.T) {
			tree := NewMerkleTree(WithHasher(h))
			for n := 1; n <= 19; n++ {
				appendN(t, tree, n-1, n)
				root, err := tree.Root(0)
				require.NoError(t, err)
				for pos := 0; pos < n; pos++ {
					w, err := tree.Witness(uint64(pos), 0)
					require.NoError(t, err)
					require.Len(t, w.Path, MerkleTreeDepth)
					require.True(t, VerifyWitness(h, w, testCommitment(pos), root), "size %d position %d", n, pos)
				}
			}
		})
	}
}

func TestWitnessRejectsWrongLeaf(t *testing.T) {
	tree := NewMerkleTree()
	appendN(t, tree, 0, 4)
	root, _ := tree.Root(0)

	w, err := tree.Witness(2, 0)
	require.NoError(t, err)
	require.False(t, tree.VerifyWitness(w, testCommitment(3), root))

	w.Position = 3
	require.False(t, tree.VerifyWitness(w, testCommitment(2), root))
}

func TestWitnessOutOfRange(t *testing.T) {
	tree := NewMerkleTree()
	_, err := tree.Witness(0, 0)
	require.ErrorIs(t, err, walleterrors.ErrStateConsistency)

	appendN(t, tree, 0, 3)
	_, err = tree.Witness(3, 0)
	require.ErrorIs(t, err, walleterrors.ErrStateConsistency)
	_, err = tree.Witness(0, 1)
	require.ErrorIs(t, err, walleterrors.ErrStateConsistency)
	_, err = tree.Witness(0, -1)
	require.ErrorIs(t, err, walleterrors.ErrValidation)
}

func TestHistoricalWitness(t *testing.T) {
	tree := NewMerkleTree()
	appendN(t, tree, 0, 5)
	require.True(t, tree.Checkpoint(5))
	appendN(t, tree, 5, 9)

	root0, err := tree.Root(0)
	require.NoError(t, err)
	root1, err := tree.Root(1)
	require.NoError(t, err)
	require.NotEqual(t, root0, root1)

	for pos := uint64(0); pos < 5; pos++ {
		current, err := tree.Witness(pos, 0)
		require.NoError(t, err)
		past, err := tree.Witness(pos, 1)
		require.NoError(t, err)

		require.NotEqual(t, current.Path, past.Path)
		require.True(t, tree.VerifyWitness(current, testCommitment(int(pos)), root0))
		require.True(t, tree.VerifyWitness(past, testCommitment(int(pos)), root1))
		require.False(t, tree.VerifyWitness(past, testCommitment(int(pos)), root0))
	}

	_, err = tree.Witness(6, 1)
	require.ErrorIs(t, err, walleterrors.ErrStateConsistency)
}

func TestHistoricalStateMatchesFreshTree(t *testing.T) {
	tree := NewMerkleTree()
	for seq := 1; seq <= 6; seq++ {
		appendN(t, tree, (seq-1)*3, seq*3)
		require.True(t, tree.Checkpoint(uint32(seq)))
	}

	for depth := 1; depth <= 6; depth++ {
		size := (7 - depth) * 3
		fresh := NewMerkleTree()
		appendN(t, fresh, 0, size)

		want, _ := fresh.Root(0)
		got, err := tree.Root(depth)
		require.NoError(t, err)
		require.Equal(t, want, got, "depth %d", depth)

		for pos := 0; pos < size; pos++ {
			fw, err := fresh.Witness(uint64(pos), 0)
			require.NoError(t, err)
			hw, err := tree.Witness(uint64(pos), depth)
			require.NoError(t, err)
			require.Equal(t, fw.Path, hw.Path)
		}
	}
}

func TestCheckpointRetention(t *testing.T) {
	tree := NewMerkleTree(WithCheckpointRetention(3))
	for seq := uint32(1); seq <= 5; seq++ {
		appendN(t, tree, int(seq-1), int(seq))
		require.True(t, tree.Checkpoint(seq))
	}

	cps := tree.Checkpoints()
	require.Len(t, cps, 3)
	require.Equal(t, uint32(3), cps[0].LedgerSeq)
	require.Equal(t, uint32(5), cps[2].LedgerSeq)

	_, err := tree.Root(3)
	require.NoError(t, err)
	_, err = tree.Root(4)
	require.ErrorIs(t, err, walleterrors.ErrNotFound)
	_, err = tree.Witness(0, 4)
	require.ErrorIs(t, err, walleterrors.ErrStateConsistency)

	last, ok := tree.LastCheckpoint()
	require.True(t, ok)
	require.Equal(t, uint32(5), last.LedgerSeq)
	require.Equal(t, uint64(5), last.Size)
}

func TestCheckpointRejectsStaleSequence(t *testing.T) {
	tree := NewMerkleTree()
	appendN(t, tree, 0, 2)
	require.True(t, tree.Checkpoint(10))
	require.False(t, tree.Checkpoint(10))
	require.False(t, tree.Checkpoint(9))
	require.Len(t, tree.Checkpoints(), 1)

	// checkpoints of an empty tree are allowed and carry the empty root
	empty := NewMerkleTree()
	require.True(t, empty.Checkpoint(1))
	root, err := empty.Root(1)
	require.NoError(t, err)
	require.Equal(t, empty.EmptyRoot(), root)
}

func TestCapacity(t *testing.T) {
	tree := NewMerkleTree()
	tree.size = MaxTreeSize - 1

	_, err := tree.AppendBatch([]common.Hash{testCommitment(0), testCommitment(1)})
	require.ErrorIs(t, err, walleterrors.ErrCapacity)
	require.Equal(t, MaxTreeSize-1, tree.Size())

	tree.size = MaxTreeSize
	_, err = tree.Append(testCommitment(2))
	require.ErrorIs(t, err, walleterrors.ErrCapacity)
}

func TestReset(t *testing.T) {
	tree := NewMerkleTree()
	appendN(t, tree, 0, 4)
	tree.Checkpoint(1)

	tree.Reset()
	require.Equal(t, uint64(0), tree.Size())
	require.Empty(t, tree.Checkpoints())
	_, err := tree.Root(0)
	require.ErrorIs(t, err, walleterrors.ErrNotFound)

	appendN(t, tree, 0, 1)
}

func TestRestore(t *testing.T) {
	tree := NewMerkleTree()
	appendN(t, tree, 0, 4)
	tree.Checkpoint(1)
	appendN(t, tree, 4, 7)
	tree.Checkpoint(2)
	appendN(t, tree, 7, 8)

	restored := NewMerkleTree()
	require.NoError(t, restored.Restore(tree.Leaves(), tree.Checkpoints()))

	for depth := 0; depth <= 2; depth++ {
		want, _ := tree.Root(depth)
		got, err := restored.Root(depth)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	bad := tree.Checkpoints()
	bad[0].Root = testCommitment(99)
	err := restored.Restore(tree.Leaves(), bad)
	require.ErrorIs(t, err, walleterrors.ErrStateConsistency)
	require.Equal(t, uint64(0), restored.Size())
}

func TestRestoreRejectsShrinkingCheckpoints(t *testing.T) {
	tree := NewMerkleTree()
	appendN(t, tree, 0, 4)
	tree.Checkpoint(1)
	appendN(t, tree, 4, 7)
	tree.Checkpoint(2)

	// each root matches its size, but the later checkpoint is smaller
	cps := tree.Checkpoints()
	cps[0].Size, cps[1].Size = cps[1].Size, cps[0].Size
	cps[0].Root, cps[1].Root = cps[1].Root, cps[0].Root

	restored := NewMerkleTree()
	err := restored.Restore(tree.Leaves(), cps)
	require.ErrorIs(t, err, walleterrors.ErrStateConsistency)
	require.Equal(t, uint64(0), restored.Size())
	require.Empty(t, restored.Checkpoints())
}

func TestSerializeWitness(t *testing.T) {
	tree := NewMerkleTree()
	appendN(t, tree, 0, 6)
	w, err := tree.Witness(5, 0)
	require.NoError(t, err)

	data := SerializeWitness(w)
	require.Len(t, data, 10+MerkleTreeDepth*32)
	decoded, err := DeserializeWitness(data)
	require.NoError(t, err)
	require.Equal(t, w, decoded)

	_, err = DeserializeWitness(data[:9])
	require.ErrorIs(t, err, walleterrors.ErrValidation)
	_, err = DeserializeWitness(data[:len(data)-1])
	require.ErrorIs(t, err, walleterrors.ErrValidation)
}

func TestHasherByName(t *testing.T) {
	h, err := HasherByName("")
	require.NoError(t, err)
	require.Equal(t, HasherBlake2b, h.Name())
	h, err = HasherByName(HasherKeccak)
	require.NoError(t, err)
	require.Equal(t, HasherKeccak, h.Name())
	_, err = HasherByName("poseidon")
	require.Error(t, err)
}
