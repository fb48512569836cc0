package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math"
	"math/bits"
	"os"
	"strconv"
	"strings"

	"github.com/colorfulnotion/orchardwallet/common"
	log "github.com/colorfulnotion/orchardwallet/log"
	"github.com/colorfulnotion/orchardwallet/orchard/bundle"
	"github.com/colorfulnotion/orchardwallet/orchard/keys"
	"github.com/colorfulnotion/orchardwallet/orchard/merkle"
	"github.com/colorfulnotion/orchardwallet/orchard/notecrypt"
	"github.com/colorfulnotion/orchardwallet/orchard/notes"
	"github.com/colorfulnotion/orchardwallet/walleterrors"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
)

func newKeysCmd(opts *globalOptions) *cobra.Command {
	var keysCmd = &cobra.Command{
		Use:   "keys",
		Short: "Manage incoming viewing keys",
	}

	var addCmd = &cobra.Command{
		Use:   "add <ivk-hex>",
		Short: "Register an incoming viewing key",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ivk, err := keys.HexToIncomingViewingKey(args[0])
			exitOnError("Invalid viewing key", err)
			s, err := openSession(cmd.Context(), opts)
			exitOnError("Failed to open wallet", err)
			defer s.close()

			index, added := s.wallet.AddViewingKey(ivk)
			exitOnError("Failed to save wallet", s.save())
			if added {
				fmt.Printf("Registered viewing key at index %d\n", index)
			} else {
				fmt.Printf("Viewing key already registered at index %d\n", index)
			}
		},
	}

	var removeCmd = &cobra.Command{
		Use:   "remove <ivk-hex>",
		Short: "Stop scanning with an incoming viewing key",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ivk, err := keys.HexToIncomingViewingKey(args[0])
			exitOnError("Invalid viewing key", err)
			s, err := openSession(cmd.Context(), opts)
			exitOnError("Failed to open wallet", err)
			defer s.close()

			if !s.wallet.RemoveViewingKey(ivk) {
				fmt.Printf("Viewing key is not registered\n")
				return
			}
			exitOnError("Failed to save wallet", s.save())
			fmt.Printf("Removed viewing key\n")
		},
	}

	var listCmd = &cobra.Command{
		Use:   "list",
		Short: "List registered viewing keys",
		Run: func(cmd *cobra.Command, args []string) {
			s, err := openSession(cmd.Context(), opts)
			exitOnError("Failed to open wallet", err)
			defer s.close()

			for _, e := range s.wallet.ViewingKeys() {
				addr, err := notecrypt.AddressFor(e.Key)
				exitOnError("Failed to derive address", err)
				fmt.Printf("%3d  %s  address=%x\n", e.Index, e.Key.Hex(), addr[:])
			}
		},
	}

	keysCmd.AddCommand(addCmd, removeCmd, listCmd)
	return keysCmd
}

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a random incoming viewing key",
		Run: func(cmd *cobra.Command, args []string) {
			var ivk keys.IncomingViewingKey
			_, err := io.ReadFull(rand.Reader, ivk[:])
			exitOnError("Failed to read randomness", err)
			addr, err := notecrypt.AddressFor(ivk)
			exitOnError("Failed to derive address", err)
			fmt.Printf("ivk:     %s\n", ivk.Hex())
			fmt.Printf("address: %x\n", addr[:])
		},
	}
}

// payment is one note to mint: value paid to the holder of ivk.
type payment struct {
	ivk   keys.IncomingViewingKey
	value uint64
}

func parsePayment(s string) (payment, error) {
	keyHex, valueStr, ok := strings.Cut(s, ":")
	if !ok {
		return payment{}, fmt.Errorf("payment %q is not <ivk-hex>:<value>", s)
	}
	ivk, err := keys.HexToIncomingViewingKey(keyHex)
	if err != nil {
		return payment{}, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return payment{}, fmt.Errorf("payment value %q: %w", valueStr, err)
	}
	return payment{ivk: ivk, value: value}, nil
}

// buildMintLedger creates a ledger with one transaction paying every
// payment and revealing every nullifier. Revealing actions carry a note to
// a throwaway address nobody can decrypt.
func buildMintLedger(seq uint32, payments []payment, reveals []common.Hash, memo []byte, rng io.Reader) (bundle.Ledger, error) {
	var b bundle.Bundle
	for _, p := range payments {
		addr, err := notecrypt.AddressFor(p.ivk)
		if err != nil {
			return bundle.Ledger{}, err
		}
		note := notecrypt.Note{Value: p.value, Memo: memo}
		if _, err := io.ReadFull(rng, note.Rseed[:]); err != nil {
			return bundle.Ledger{}, err
		}
		action, err := notecrypt.NewAction(addr, note, rng)
		if err != nil {
			return bundle.Ledger{}, err
		}
		b.Actions = append(b.Actions, action)
	}
	for _, nf := range reveals {
		var burn keys.IncomingViewingKey
		if _, err := io.ReadFull(rng, burn[:]); err != nil {
			return bundle.Ledger{}, err
		}
		addr, err := notecrypt.AddressFor(burn)
		if err != nil {
			return bundle.Ledger{}, err
		}
		var note notecrypt.Note
		if _, err := io.ReadFull(rng, note.Rseed[:]); err != nil {
			return bundle.Ledger{}, err
		}
		action, err := notecrypt.NewAction(addr, note, rng)
		if err != nil {
			return bundle.Ledger{}, err
		}
		action.Nullifier = nf
		b.Actions = append(b.Actions, action)
	}

	var preimage []byte
	preimage = append(preimage, common.Uint32ToBytes(seq)...)
	for _, cm := range b.Commitments() {
		preimage = append(preimage, cm[:]...)
	}
	tx := bundle.Transaction{TxID: common.Blake2Hash(preimage), Bundle: b}
	return bundle.Ledger{Seq: seq, Transactions: []bundle.Transaction{tx}}, nil
}

func parseHashHex(s string) (common.Hash, error) {
	raw, err := hexutil.Decode(s)
	if err != nil {
		return common.Hash{}, err
	}
	return common.ParseHash(raw)
}

func readLedgerFile(path string) ([]bundle.Ledger, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return bundle.ReadLedgers(f)
}

func newMintCmd() *cobra.Command {
	var (
		seq      uint32
		payTo    []string
		revealed []string
		memo     string
	)
	var mintCmd = &cobra.Command{
		Use:   "mint <ledgers.json>",
		Short: "Append a synthetic ledger paying the given viewing keys",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			path := args[0]
			var ledgers []bundle.Ledger
			if _, err := os.Stat(path); err == nil {
				ledgers, err = readLedgerFile(path)
				exitOnError("Failed to read ledgers", err)
			}
			if seq == 0 {
				seq = 1
				if n := len(ledgers); n > 0 {
					seq = ledgers[n-1].Seq + 1
				}
			}

			payments := make([]payment, 0, len(payTo))
			for _, p := range payTo {
				pay, err := parsePayment(p)
				exitOnError("Invalid payment", err)
				payments = append(payments, pay)
			}
			reveals := make([]common.Hash, 0, len(revealed))
			for _, r := range revealed {
				nf, err := parseHashHex(r)
				exitOnError("Invalid nullifier", err)
				reveals = append(reveals, nf)
			}

			ledger, err := buildMintLedger(seq, payments, reveals, []byte(memo), rand.Reader)
			exitOnError("Failed to build ledger", err)
			ledgers = append(ledgers, ledger)

			f, err := os.Create(path)
			exitOnError("Failed to create ledger file", err)
			defer f.Close()
			exitOnError("Failed to write ledgers", bundle.WriteLedgers(f, ledgers))
			fmt.Printf("Appended ledger %d with %d actions to %s\n", seq, len(payments)+len(reveals), path)
		},
	}
	mintCmd.Flags().Uint32Var(&seq, "seq", 0, "Ledger sequence (default: one past the last ledger in the file)")
	mintCmd.Flags().StringArrayVar(&payTo, "pay", nil, "Payment as <ivk-hex>:<value> (repeatable)")
	mintCmd.Flags().StringArrayVar(&revealed, "reveal", nil, "Nullifier to reveal as spent (repeatable)")
	mintCmd.Flags().StringVar(&memo, "memo", "", "Memo attached to minted notes")
	return mintCmd
}

// ingestSummary totals the ledgers applied by one ingest run.
type ingestSummary struct {
	Ledgers     int
	Skipped     int
	Commitments int
	NotesAdded  int
	NotesSpent  int
}

// ingestLedgers applies ledgers in order and journals their commitments and
// nullifiers. Ledgers at or below the last checkpoint were applied by an
// earlier run and are skipped.
func ingestLedgers(ctx context.Context, s *session, ledgers []bundle.Ledger) (ingestSummary, error) {
	var sum ingestSummary
	for _, l := range ledgers {
		if last, ok := s.wallet.LastCheckpoint(); ok && l.Seq <= last {
			log.Debug(log.CLI, "Skipping ingested ledger", "seq", l.Seq, "last", last)
			sum.Skipped++
			continue
		}
		first := s.wallet.TreeSize()
		res, err := s.wallet.IngestLedger(ctx, l)
		if err != nil {
			return sum, err
		}

		var commitments []common.Hash
		for i := range l.Transactions {
			tx := &l.Transactions[i]
			commitments = append(commitments, tx.Bundle.Commitments()...)
			for _, nf := range tx.Bundle.Nullifiers() {
				if err := s.store.AddNullifier(nf, l.Seq, tx.TxID); err != nil {
					return sum, err
				}
			}
		}
		if err := s.store.AddCommitments(first, commitments); err != nil {
			return sum, err
		}

		sum.Ledgers++
		sum.Commitments += res.Commitments
		sum.NotesAdded += res.NotesAdded
		sum.NotesSpent += res.NotesSpent
	}
	return sum, s.save()
}

func newIngestCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <ledgers.json>",
		Short: "Scan closed ledgers and checkpoint after each",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ledgers, err := readLedgerFile(args[0])
			exitOnError("Failed to read ledgers", err)
			s, err := openSession(cmd.Context(), opts)
			exitOnError("Failed to open wallet", err)
			defer s.close()

			sum, err := ingestLedgers(cmd.Context(), s, ledgers)
			exitOnError("Ingestion failed", err)
			fmt.Printf("Ingested %d ledgers (%d skipped): %d commitments, %d notes added, %d notes spent\n",
				sum.Ledgers, sum.Skipped, sum.Commitments, sum.NotesAdded, sum.NotesSpent)
			fmt.Printf("Balance: %d\n", s.wallet.Balance())
		},
	}
}

func newBalanceCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Print the unspent balance",
		Run: func(cmd *cobra.Command, args []string) {
			s, err := openSession(cmd.Context(), opts)
			exitOnError("Failed to open wallet", err)
			defer s.close()
			fmt.Printf("%d\n", s.wallet.Balance())
		},
	}
}

func printNote(n *notes.DecryptedNote, spent bool) {
	status := "unspent"
	if spent {
		status = "spent"
	}
	fmt.Printf("%-10s pos=%-6d amount=%-12d key=%d ledger=%d tx=%s/%d cmx=%s\n",
		status, n.Position, n.Amount, n.KeyIndex, n.LedgerSeq, n.TxID.Hex(), n.ActionIndex, n.Commitment.Hex())
	if len(n.Note.Memo) > 0 {
		fmt.Printf("           memo=%q\n", n.Note.Memo)
	}
}

func newNotesCmd(opts *globalOptions) *cobra.Command {
	var includeSpent bool
	var notesCmd = &cobra.Command{
		Use:   "notes",
		Short: "List wallet notes",
		Run: func(cmd *cobra.Command, args []string) {
			s, err := openSession(cmd.Context(), opts)
			exitOnError("Failed to open wallet", err)
			defer s.close()
			for _, n := range s.wallet.Notes(includeSpent) {
				printNote(&n, s.wallet.IsSpent(n.ID()))
			}
		},
	}
	notesCmd.Flags().BoolVar(&includeSpent, "spent", false, "Include spent notes")
	return notesCmd
}

func newHistoryCmd(opts *globalOptions) *cobra.Command {
	var q notes.HistoryQuery
	var historyCmd = &cobra.Command{
		Use:   "history",
		Short: "List transactions that created wallet notes",
		Run: func(cmd *cobra.Command, args []string) {
			s, err := openSession(cmd.Context(), opts)
			exitOnError("Failed to open wallet", err)
			defer s.close()
			summaries, err := s.wallet.History(q)
			exitOnError("Invalid history query", err)
			for _, tx := range summaries {
				fmt.Printf("ledger=%d tx=%s notes=%d spent=%d total=%d\n",
					tx.LedgerSeq, tx.TxID.Hex(), len(tx.Notes), tx.SpentCount, tx.TotalAmount)
			}
		},
	}
	historyCmd.Flags().Uint32Var(&q.MinLedger, "min", 0, "Lowest ledger sequence")
	historyCmd.Flags().Uint32Var(&q.MaxLedger, "max", 0, "Highest ledger sequence (0 for no bound)")
	historyCmd.Flags().IntVar(&q.Limit, "limit", 0, "Maximum transactions (0 for default)")
	return historyCmd
}

func newAnchorCmd(opts *globalOptions) *cobra.Command {
	var depth int
	var anchorCmd = &cobra.Command{
		Use:   "anchor",
		Short: "Print the tree root at a checkpoint depth",
		Run: func(cmd *cobra.Command, args []string) {
			s, err := openSession(cmd.Context(), opts)
			exitOnError("Failed to open wallet", err)
			defer s.close()
			root, err := s.wallet.Root(depth)
			exitOnError("No anchor", err)
			fmt.Printf("%s\n", root.Hex())
			if last, ok := s.wallet.LastCheckpoint(); ok {
				fmt.Printf("tree_size=%d last_checkpoint=%d retained=%d\n", s.wallet.TreeSize(), last, len(s.wallet.Checkpoints()))
			}
		},
	}
	anchorCmd.Flags().IntVar(&depth, "depth", 0, "Checkpoint depth (0 is the current root)")
	return anchorCmd
}

func parseOwner(hex string) (*keys.IncomingViewingKey, error) {
	if hex == "" {
		return nil, nil
	}
	ivk, err := keys.HexToIncomingViewingKey(hex)
	if err != nil {
		return nil, err
	}
	return &ivk, nil
}

func reportSpendError(err error) {
	var ib *walleterrors.InsufficientBalanceError
	if errors.As(err, &ib) {
		fmt.Printf("Insufficient balance: have %d, need %d\n", ib.Have, ib.Need)
		os.Exit(1)
	}
	exitOnError(walleterrors.GetErrorName(err), err)
}

func newSelectCmd(opts *globalOptions) *cobra.Command {
	var owner string
	var selectCmd = &cobra.Command{
		Use:   "select <amount>",
		Short: "Select unspent notes covering an amount",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			amount, err := strconv.ParseUint(args[0], 10, 64)
			exitOnError("Invalid amount", err)
			ivk, err := parseOwner(owner)
			exitOnError("Invalid owner", err)
			s, err := openSession(cmd.Context(), opts)
			exitOnError("Failed to open wallet", err)
			defer s.close()

			selected, err := s.wallet.SelectNotes(amount, ivk)
			if err != nil {
				reportSpendError(err)
			}
			var total uint64
			for _, n := range selected {
				printNote(&n, false)
				if sum, carry := bits.Add64(total, n.Amount, 0); carry == 0 {
					total = sum
				} else {
					total = math.MaxUint64
				}
			}
			fmt.Printf("Selected %d notes totalling %d\n", len(selected), total)
		},
	}
	selectCmd.Flags().StringVar(&owner, "owner", "", "Only select notes of this viewing key")
	return selectCmd
}

func newPrepareCmd(opts *globalOptions) *cobra.Command {
	var (
		owner   string
		fee     uint64
		witness bool
	)
	var prepareCmd = &cobra.Command{
		Use:   "prepare <amount>",
		Short: "Plan a spend with witnesses against the current anchor",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			amount, err := strconv.ParseUint(args[0], 10, 64)
			exitOnError("Invalid amount", err)
			ivk, err := parseOwner(owner)
			exitOnError("Invalid owner", err)
			s, err := openSession(cmd.Context(), opts)
			exitOnError("Failed to open wallet", err)
			defer s.close()

			prep, err := s.wallet.PrepareSpend(amount, fee, ivk)
			if err != nil {
				reportSpendError(err)
			}
			fmt.Printf("anchor=%s tree_size=%d\n", prep.Plan.Anchor.Hex(), prep.Plan.TreeSize)
			for _, in := range prep.Plan.Inputs {
				fmt.Printf("input pos=%d amount=%d nf=%s\n", in.Position, in.Amount, in.Nullifier.Hex())
				if witness {
					fmt.Printf("  witness=%x\n", merkle.SerializeWitness(in.Witness()))
				}
			}
			fmt.Printf("amount=%d fee=%d change=%d\n", prep.Amount, prep.Fee, prep.Change)
		},
	}
	prepareCmd.Flags().StringVar(&owner, "owner", "", "Only spend notes of this viewing key")
	prepareCmd.Flags().Uint64Var(&fee, "fee", 0, "Fee added to the amount")
	prepareCmd.Flags().BoolVar(&witness, "witness", false, "Print serialized witnesses")
	return prepareCmd
}

// verifyJournal rebuilds the commitment tree from the store journal and
// checks it against the wallet. A wallet note is spent exactly when its
// nullifier was journaled by a transaction other than the one creating it.
func verifyJournal(s *session) error {
	entries, err := s.store.ListCommitments()
	if err != nil {
		return err
	}
	leaves := make([]common.Hash, len(entries))
	for i, e := range entries {
		if e.Position != uint64(i) {
			return walleterrors.StateConsistency("journal gap: position %d found at entry %d", e.Position, i)
		}
		leaves[i] = e.Commitment
	}
	if uint64(len(leaves)) != s.wallet.TreeSize() {
		return walleterrors.StateConsistency("journal holds %d commitments, tree holds %d", len(leaves), s.wallet.TreeSize())
	}
	if len(leaves) > 0 {
		tree := merkle.NewMerkleTree(merkle.WithHasher(s.wallet.Config().Hasher))
		if _, err := tree.AppendBatch(leaves); err != nil {
			return err
		}
		want, err := s.wallet.Root(0)
		if err != nil {
			return err
		}
		got, _ := tree.Root(0)
		if got != want {
			return walleterrors.StateConsistency("journal root %s does not match wallet root %s", got.Hex(), want.Hex())
		}
	}

	nullifiers, err := s.store.ListNullifiers()
	if err != nil {
		return err
	}
	owned := make(map[common.Hash]notes.NoteID)
	for _, n := range s.wallet.Notes(true) {
		owned[n.Nullifier] = n.ID()
	}
	for _, e := range nullifiers {
		id, ok := owned[e.Nullifier]
		if !ok || e.TxID == id.TxID {
			continue
		}
		if !s.wallet.IsSpent(id) {
			return walleterrors.StateConsistency("note %s revealed in ledger %d is not marked spent", id, e.LedgerSeq)
		}
	}
	for _, n := range s.wallet.Notes(true) {
		if !s.wallet.IsSpent(n.ID()) {
			continue
		}
		revealed, err := s.store.IsNullifierSpent(n.Nullifier, n.TxID)
		if err != nil {
			return err
		}
		if !revealed {
			return walleterrors.StateConsistency("note %s is marked spent but no reveal is journaled", n.ID())
		}
	}
	return nil
}

func newVerifyCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the wallet against its commitment and nullifier journal",
		Run: func(cmd *cobra.Command, args []string) {
			s, err := openSession(cmd.Context(), opts)
			exitOnError("Failed to open wallet", err)
			defer s.close()
			exitOnError("Verification failed", verifyJournal(s))
			fmt.Printf("OK: %d commitments, %d notes\n", s.wallet.TreeSize(), s.wallet.NoteCount(true))
		},
	}
}

func newResetCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Discard all wallet state, keys included",
		Run: func(cmd *cobra.Command, args []string) {
			s, err := openSession(cmd.Context(), opts)
			exitOnError("Failed to open wallet", err)
			defer s.close()
			s.wallet.Reset()
			exitOnError("Failed to clear store", s.store.Clear())
			fmt.Printf("Wallet reset\n")
		},
	}
}
