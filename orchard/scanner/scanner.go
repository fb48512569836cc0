// Package scanner trial-decrypts ingested bundles and records the notes
// owned by registered viewing keys.
package scanner

import (
	"context"
	"fmt"

	"github.com/colorfulnotion/orchardwallet/common"
	"github.com/colorfulnotion/orchardwallet/log"
	"github.com/colorfulnotion/orchardwallet/orchard/bundle"
	"github.com/colorfulnotion/orchardwallet/orchard/keys"
	"github.com/colorfulnotion/orchardwallet/orchard/notecrypt"
	"github.com/colorfulnotion/orchardwallet/orchard/notes"
	"github.com/colorfulnotion/orchardwallet/walleterrors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/colorfulnotion/orchardwallet/orchard/scanner"

// Appender assigns tree positions to commitments.
type Appender interface {
	Append(commitment common.Hash) (uint64, error)
	Root(depth int) (common.Hash, error)
}

// KeySource lists the active viewing keys in registry order.
type KeySource interface {
	List() []keys.Entry
}

// NoteSink stores decrypted notes.
type NoteSink interface {
	Insert(note notes.DecryptedNote) (bool, error)
}

// Decryptor is the trial-decryption primitive.
type Decryptor interface {
	TryDecrypt(ivk keys.IncomingViewingKey, action *bundle.Action) (notecrypt.Note, bool)
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithTracerProvider traces scans with tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Scanner) {
		s.tracer = tp.Tracer(tracerName)
	}
}

// staging maps the commitments of the bundle being scanned to the
// positions the append pass gave them.
type staging struct {
	positions map[common.Hash]uint64
}

func (s *staging) clear() {
	clear(s.positions)
}

// Scanner ingests one bundle at a time. It is not safe for concurrent use:
// the append pass and the decrypt pass of a bundle share the staging map.
type Scanner struct {
	tree   Appender
	keys   KeySource
	notes  NoteSink
	dec    Decryptor
	tracer trace.Tracer
	stage  staging
}

func New(tree Appender, keySource KeySource, sink NoteSink, dec Decryptor, opts ...Option) *Scanner {
	s := &Scanner{
		tree:   tree,
		keys:   keySource,
		notes:  sink,
		dec:    dec,
		tracer: otel.Tracer(tracerName),
		stage:  staging{positions: make(map[common.Hash]uint64)},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScanBundle appends every commitment of b to the tree, then trial-decrypts
// each action with each active key in order, keeping the first success.
// It returns the number of notes newly added. A bundle repeating a
// commitment is rejected before anything is appended; otherwise
// commitments appended before a failure stay appended.
func (s *Scanner) ScanBundle(ctx context.Context, txID common.Hash, ledgerSeq uint32, b *bundle.Bundle) (added int, err error) {
	_, span := s.tracer.Start(ctx, "scanner.ScanBundle", trace.WithAttributes(
		attribute.String("tx", txID.Hex()),
		attribute.Int64("ledger_seq", int64(ledgerSeq)),
		attribute.Int("actions", len(b.Actions)),
	))
	defer func() {
		span.SetAttributes(attribute.Int("notes_added", added))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	defer s.stage.clear()

	if err := s.appendPass(txID, b); err != nil {
		return 0, err
	}
	if len(b.Actions) == 0 {
		return 0, nil
	}
	return s.decryptPass(txID, ledgerSeq, b)
}

func (s *Scanner) appendPass(txID common.Hash, b *bundle.Bundle) error {
	seen := make(map[common.Hash]int, len(b.Actions))
	for i := range b.Actions {
		cmx := b.Actions[i].Commitment
		if prev, dup := seen[cmx]; dup {
			return walleterrors.Validation("tx %s repeats commitment %x at actions %d and %d", txID.Hex(), cmx, prev, i)
		}
		seen[cmx] = i
	}

	for i := range b.Actions {
		cmx := b.Actions[i].Commitment
		pos, err := s.tree.Append(cmx)
		if err != nil {
			return fmt.Errorf("append commitment %d of tx %s: %w", i, txID.Hex(), err)
		}
		s.stage.positions[cmx] = pos
	}
	return nil
}

func (s *Scanner) decryptPass(txID common.Hash, ledgerSeq uint32, b *bundle.Bundle) (int, error) {
	anchor, err := s.tree.Root(0)
	if err != nil {
		return 0, fmt.Errorf("anchor after append pass: %w", err)
	}

	entries := s.keys.List()
	added := 0
	for i := range b.Actions {
		action := &b.Actions[i]
		for _, entry := range entries {
			note, ok := s.dec.TryDecrypt(entry.Key, action)
			if !ok {
				continue
			}
			pos, ok := s.stage.positions[action.Commitment]
			if !ok {
				return added, walleterrors.StateConsistency("no staged position for commitment %x of tx %s action %d", action.Commitment, txID.Hex(), i)
			}
			inserted, err := s.notes.Insert(notes.DecryptedNote{
				Note:        note,
				Commitment:  action.Commitment,
				Nullifier:   action.Nullifier,
				Amount:      note.Value,
				LedgerSeq:   ledgerSeq,
				TxID:        txID,
				ActionIndex: uint32(i),
				Position:    pos,
				KeyIndex:    uint32(entry.Index),
				Anchor:      anchor,
			})
			if err != nil {
				return added, fmt.Errorf("insert note %s:%d: %w", txID.Hex(), i, err)
			}
			if inserted {
				added++
			}
			log.Debug(log.Scanner, "Decrypted note", "tx", txID, "action", i, "position", pos, "key_index", entry.Index, "amount", note.Value)
			break
		}
	}
	return added, nil
}
