package notes

import (
	"math"
	"testing"

	"github.com/colorfulnotion/orchardwallet/common"
	"github.com/colorfulnotion/orchardwallet/walleterrors"
	"github.com/stretchr/testify/require"
)

func testNote(tx byte, action uint32, amount uint64, seq uint32) DecryptedNote {
	txID := common.Blake2Hash([]byte{'t', tx})
	return DecryptedNote{
		Commitment:  common.Blake2Hash([]byte{'c', tx, byte(action)}),
		Nullifier:   common.Blake2Hash([]byte{'n', tx, byte(action)}),
		Amount:      amount,
		LedgerSeq:   seq,
		TxID:        txID,
		ActionIndex: action,
		Position:    uint64(tx)*10 + uint64(action),
	}
}

func TestInsertAndQuery(t *testing.T) {
	r := NewRegistry()
	require.Zero(t, r.Balance())

	a := testNote(1, 0, 1000, 1)
	b := testNote(2, 0, 2000, 2)
	for _, n := range []DecryptedNote{a, b} {
		inserted, err := r.Insert(n)
		require.NoError(t, err)
		require.True(t, inserted)
	}
	require.Equal(t, uint64(3000), r.Balance())
	require.Equal(t, 2, r.Count(false))

	got, ok := r.Get(b.Commitment)
	require.True(t, ok)
	require.Equal(t, b, got)
	_, ok = r.Get(common.Hash{})
	require.False(t, ok)

	got, ok = r.GetByNullifier(a.Nullifier)
	require.True(t, ok)
	require.Equal(t, a.ID(), got.ID())
}

func TestInsertSameIDReplaces(t *testing.T) {
	r := NewRegistry()
	n := testNote(1, 0, 1000, 1)
	_, err := r.Insert(n)
	require.NoError(t, err)

	n.Amount = 1500
	inserted, err := r.Insert(n)
	require.NoError(t, err)
	require.False(t, inserted)
	require.Equal(t, 1, r.Count(true))
	require.Equal(t, uint64(1500), r.Balance())
}

func TestNullifierBindsOneNote(t *testing.T) {
	r := NewRegistry()
	a := testNote(1, 0, 1000, 1)
	_, err := r.Insert(a)
	require.NoError(t, err)

	b := testNote(2, 0, 2000, 1)
	b.Nullifier = a.Nullifier
	_, err = r.Insert(b)
	require.ErrorIs(t, err, walleterrors.ErrStateConsistency)

	c := testNote(3, 0, 3000, 1)
	c.Commitment = a.Commitment
	_, err = r.Insert(c)
	require.ErrorIs(t, err, walleterrors.ErrStateConsistency)
	require.Equal(t, 1, r.Count(true))
}

func TestMarkSpent(t *testing.T) {
	r := NewRegistry()
	notes := []DecryptedNote{testNote(1, 0, 1000, 1), testNote(1, 1, 2000, 1), testNote(2, 0, 3000, 2)}
	for _, n := range notes {
		_, err := r.Insert(n)
		require.NoError(t, err)
	}

	require.True(t, r.MarkSpent(notes[0].Nullifier))
	require.Equal(t, uint64(5000), r.Balance())

	// idempotent and tolerant of unknown nullifiers
	require.False(t, r.MarkSpent(notes[0].Nullifier))
	require.False(t, r.MarkSpent(common.Blake2Hash([]byte("unknown"))))
	require.Equal(t, uint64(5000), r.Balance())

	require.Equal(t, 2, r.Count(false))
	require.Equal(t, 3, r.Count(true))
	require.Len(t, r.List(true), 3)
	unspent := r.Unspent()
	require.Len(t, unspent, 2)
	require.Equal(t, notes[1].ID(), unspent[0].ID())
	require.Equal(t, []NoteID{notes[0].ID()}, r.SpentIDs())
	require.True(t, r.IsSpent(notes[0].ID()))
}

func TestRestore(t *testing.T) {
	r := NewRegistry()
	notes := []DecryptedNote{testNote(1, 0, 1000, 1), testNote(2, 0, 2000, 2)}
	for _, n := range notes {
		_, err := r.Insert(n)
		require.NoError(t, err)
	}
	r.MarkSpent(notes[1].Nullifier)

	restored := NewRegistry()
	require.NoError(t, restored.Restore(r.List(true), r.SpentIDs()))
	require.Equal(t, r.List(true), restored.List(true))
	require.Equal(t, uint64(1000), restored.Balance())

	err := restored.Restore(notes, []NoteID{{ActionIndex: 9}})
	require.ErrorIs(t, err, walleterrors.ErrStateConsistency)
	require.Zero(t, restored.Count(true))

	err = restored.Restore([]DecryptedNote{notes[0], notes[0]}, nil)
	require.ErrorIs(t, err, walleterrors.ErrStateConsistency)
}

func TestHistory(t *testing.T) {
	r := NewRegistry()
	for _, n := range []DecryptedNote{
		testNote(1, 0, 1000, 3),
		testNote(1, 1, 500, 3),
		testNote(2, 0, 2000, 5),
		testNote(3, 0, 3000, 8),
	} {
		_, err := r.Insert(n)
		require.NoError(t, err)
	}
	r.MarkSpent(testNote(1, 1, 500, 3).Nullifier)

	h, err := r.History(HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, h, 3)
	require.Equal(t, uint32(8), h[0].LedgerSeq)
	require.Equal(t, uint32(3), h[2].LedgerSeq)
	require.Len(t, h[2].Notes, 2)
	require.Equal(t, uint64(1500), h[2].TotalAmount)
	require.Equal(t, 1, h[2].SpentCount)
	require.True(t, h[2].Notes[1].Spent)

	h, err = r.History(HistoryQuery{MinLedger: 4, MaxLedger: 7})
	require.NoError(t, err)
	require.Len(t, h, 1)
	require.Equal(t, uint32(5), h[0].LedgerSeq)

	h, err = r.History(HistoryQuery{Limit: 1})
	require.NoError(t, err)
	require.Len(t, h, 1)
	require.Equal(t, uint32(8), h[0].LedgerSeq)

	_, err = r.History(HistoryQuery{MinLedger: 9, MaxLedger: 2})
	require.ErrorIs(t, err, walleterrors.ErrValidation)
	_, err = r.History(HistoryQuery{Limit: -1})
	require.ErrorIs(t, err, walleterrors.ErrValidation)
}

func TestBalanceSaturates(t *testing.T) {
	r := NewRegistry()
	big := testNote(1, 0, math.MaxUint64, 1)
	small := testNote(1, 1, 2, 1)
	for _, n := range []DecryptedNote{big, small} {
		_, err := r.Insert(n)
		require.NoError(t, err)
	}
	require.Equal(t, uint64(math.MaxUint64), r.Balance())

	require.True(t, r.MarkSpent(big.Nullifier))
	require.Equal(t, uint64(2), r.Balance())
}
