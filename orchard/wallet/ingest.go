package wallet

import (
	"context"
	"fmt"

	"github.com/colorfulnotion/orchardwallet/common"
	"github.com/colorfulnotion/orchardwallet/log"
	"github.com/colorfulnotion/orchardwallet/orchard/bundle"
	"github.com/colorfulnotion/orchardwallet/walleterrors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// IngestResult summarizes the effect of ingesting a ledger.
type IngestResult struct {
	LedgerSeq    uint32
	Transactions int
	Commitments  int
	NotesAdded   int
	NotesSpent   int
	Checkpointed bool
}

// AppendCommitment appends a commitment that carries no wallet note.
func (w *WalletState) AppendCommitment(commitment common.Hash) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tree.Append(commitment)
}

// MarkSpent records the note revealing nullifier as spent. Unknown
// nullifiers are ignored.
func (w *WalletState) MarkSpent(nullifier common.Hash) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.notes.MarkSpent(nullifier)
}

// Checkpoint snapshots the tree under ledgerSeq. It returns false when
// ledgerSeq is not above the last checkpoint.
func (w *WalletState) Checkpoint(ledgerSeq uint32) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tree.Checkpoint(ledgerSeq)
}

// IngestBundle applies one transaction: the nullifiers it reveals are
// marked spent, then its commitments are appended and trial-decrypted.
// It returns the number of notes added.
func (w *WalletState) IngestBundle(ctx context.Context, tx bundle.Transaction, ledgerSeq uint32) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	added, _, err := w.ingestLocked(ctx, tx, ledgerSeq)
	return added, err
}

func (w *WalletState) ingestLocked(ctx context.Context, tx bundle.Transaction, ledgerSeq uint32) (added, spent int, err error) {
	for _, nf := range tx.Bundle.Nullifiers() {
		if w.notes.MarkSpent(nf) {
			spent++
		}
	}
	added, err = w.scanner.ScanBundle(ctx, tx.TxID, ledgerSeq, &tx.Bundle)
	return added, spent, err
}

// IngestLedger applies every transaction of a closed ledger in order and
// then checkpoints the tree under the ledger sequence. A ledger at or below
// the last checkpoint is rejected before anything is applied. On failure
// the transactions already applied stay applied and no checkpoint is taken.
func (w *WalletState) IngestLedger(ctx context.Context, ledger bundle.Ledger) (res IngestResult, err error) {
	ctx, span := w.tracer.Start(ctx, "wallet.IngestLedger", trace.WithAttributes(
		attribute.Int64("ledger_seq", int64(ledger.Seq)),
		attribute.Int("transactions", len(ledger.Transactions)),
	))
	defer func() {
		span.SetAttributes(
			attribute.Int("notes_added", res.NotesAdded),
			attribute.Int("notes_spent", res.NotesSpent),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	w.mu.Lock()
	defer w.mu.Unlock()

	res.LedgerSeq = ledger.Seq
	if last, ok := w.tree.LastCheckpoint(); ok && ledger.Seq <= last.LedgerSeq {
		return res, walleterrors.Validation("ledger %d is not after last checkpoint %d", ledger.Seq, last.LedgerSeq)
	}

	for i := range ledger.Transactions {
		tx := ledger.Transactions[i]
		added, spent, err := w.ingestLocked(ctx, tx, ledger.Seq)
		res.NotesAdded += added
		res.NotesSpent += spent
		if err != nil {
			log.Error(log.Wallet, "Ledger ingestion failed", "seq", ledger.Seq, "tx", tx.TxID, "err", err)
			return res, fmt.Errorf("ledger %d tx %s: %w", ledger.Seq, tx.TxID.Hex(), err)
		}
		res.Transactions++
		res.Commitments += len(tx.Bundle.Actions)
	}
	res.Checkpointed = w.tree.Checkpoint(ledger.Seq)

	log.Info(log.Wallet, "Ingested ledger",
		"seq", ledger.Seq,
		"txs", res.Transactions,
		"commitments", res.Commitments,
		"notes_added", res.NotesAdded,
		"notes_spent", res.NotesSpent,
		"tree_size", w.tree.Size())
	return res, nil
}
