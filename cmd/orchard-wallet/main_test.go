package main

import (
	"context"
	"crypto/rand"
	"testing"

	"github.com/colorfulnotion/orchardwallet/common"
	"github.com/colorfulnotion/orchardwallet/orchard/bundle"
	"github.com/colorfulnotion/orchardwallet/orchard/keys"
	"github.com/colorfulnotion/orchardwallet/walleterrors"
	"github.com/stretchr/testify/require"
)

func memoryOptions() *globalOptions {
	return &globalOptions{hasher: "blake2b", strategy: "smallest-first"}
}

func TestParsePayment(t *testing.T) {
	var ivk keys.IncomingViewingKey
	ivk[3] = 9
	p, err := parsePayment(ivk.Hex() + ":1500")
	require.NoError(t, err)
	require.Equal(t, ivk, p.ivk)
	require.Equal(t, uint64(1500), p.value)

	_, err = parsePayment(ivk.Hex())
	require.Error(t, err)
	_, err = parsePayment(ivk.Hex() + ":-1")
	require.Error(t, err)
	_, err = parsePayment("abcd:1")
	require.ErrorIs(t, err, walleterrors.ErrValidation)
}

func TestIngestAndVerify(t *testing.T) {
	ctx := context.Background()
	s, err := openSession(ctx, memoryOptions())
	require.NoError(t, err)
	defer s.close()

	var ivk keys.IncomingViewingKey
	ivk[0] = 42
	s.wallet.AddViewingKey(ivk)

	first, err := buildMintLedger(1, []payment{{ivk, 700}, {ivk, 300}}, nil, []byte("hi"), rand.Reader)
	require.NoError(t, err)
	sum, err := ingestLedgers(ctx, s, []bundle.Ledger{first})
	require.NoError(t, err)
	require.Equal(t, 2, sum.NotesAdded)
	require.Equal(t, uint64(1000), s.wallet.Balance())

	spent := s.wallet.Notes(false)[0]
	second, err := buildMintLedger(2, nil, []common.Hash{spent.Nullifier}, nil, rand.Reader)
	require.NoError(t, err)
	sum, err = ingestLedgers(ctx, s, []bundle.Ledger{first, second})
	require.NoError(t, err)
	require.Equal(t, 1, sum.Skipped)
	require.Equal(t, 1, sum.Ledgers)
	require.Equal(t, 1, sum.NotesSpent)
	require.Equal(t, uint64(300), s.wallet.Balance())

	require.NoError(t, verifyJournal(s))

	_, found, err := s.store.GetState()
	require.NoError(t, err)
	require.True(t, found)

	// a commitment the wallet never saw breaks the journal
	require.NoError(t, s.store.AddCommitments(s.wallet.TreeSize(), []common.Hash{common.Blake2Hash([]byte("stray"))}))
	require.ErrorIs(t, verifyJournal(s), walleterrors.ErrStateConsistency)
}

func TestVerifyUnspentAndRevealedNotes(t *testing.T) {
	ctx := context.Background()
	s, err := openSession(ctx, memoryOptions())
	require.NoError(t, err)
	defer s.close()

	var ivk keys.IncomingViewingKey
	ivk[0] = 7
	s.wallet.AddViewingKey(ivk)

	ledger, err := buildMintLedger(1, []payment{{ivk, 500}}, nil, nil, rand.Reader)
	require.NoError(t, err)
	_, err = ingestLedgers(ctx, s, []bundle.Ledger{ledger})
	require.NoError(t, err)
	require.Equal(t, uint64(500), s.wallet.Balance())

	// the creating transaction journals the note's own nullifier
	note := s.wallet.Notes(false)[0]
	list, err := s.store.ListNullifiers()
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, note.TxID, list[0].TxID)
	require.NoError(t, verifyJournal(s))

	// a later reveal the wallet never applied is caught
	other := common.Blake2Hash([]byte("other tx"))
	require.NoError(t, s.store.AddNullifier(note.Nullifier, 2, other))
	require.ErrorIs(t, verifyJournal(s), walleterrors.ErrStateConsistency)

	// once applied the journal and the wallet agree again
	require.True(t, s.wallet.MarkSpent(note.Nullifier))
	require.NoError(t, verifyJournal(s))
}

func TestVerifySpentWithoutReveal(t *testing.T) {
	ctx := context.Background()
	s, err := openSession(ctx, memoryOptions())
	require.NoError(t, err)
	defer s.close()

	var ivk keys.IncomingViewingKey
	ivk[0] = 8
	s.wallet.AddViewingKey(ivk)
	ledger, err := buildMintLedger(1, []payment{{ivk, 900}}, nil, nil, rand.Reader)
	require.NoError(t, err)
	_, err = ingestLedgers(ctx, s, []bundle.Ledger{ledger})
	require.NoError(t, err)

	require.True(t, s.wallet.MarkSpent(s.wallet.Notes(false)[0].Nullifier))
	require.ErrorIs(t, verifyJournal(s), walleterrors.ErrStateConsistency)
}

func TestParseHashHex(t *testing.T) {
	h := common.Blake2Hash([]byte("x"))
	got, err := parseHashHex(h.Hex())
	require.NoError(t, err)
	require.Equal(t, h, got)

	_, err = parseHashHex("0x1234")
	require.Error(t, err)
}
