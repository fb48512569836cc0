// Package wallet is the wallet state aggregate: viewing keys, commitment
// tree, note registry and the components that read and mutate them under
// a single-writer, multi-reader lock.
package wallet

import (
	"fmt"
	"sync"

	"github.com/colorfulnotion/orchardwallet/common"
	"github.com/colorfulnotion/orchardwallet/log"
	"github.com/colorfulnotion/orchardwallet/orchard/keys"
	"github.com/colorfulnotion/orchardwallet/orchard/merkle"
	"github.com/colorfulnotion/orchardwallet/orchard/notecrypt"
	"github.com/colorfulnotion/orchardwallet/orchard/notes"
	"github.com/colorfulnotion/orchardwallet/orchard/scanner"
	"github.com/colorfulnotion/orchardwallet/orchard/selector"
	"github.com/colorfulnotion/orchardwallet/orchard/witness"
	"github.com/colorfulnotion/orchardwallet/walleterrors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/colorfulnotion/orchardwallet/orchard/wallet"

// Config holds the tunables of a WalletState.
type Config struct {
	CheckpointRetention int
	WitnessCacheSize    int
	Hasher              merkle.Hasher
	Strategy            selector.Strategy
	Decryptor           scanner.Decryptor
	TracerProvider      trace.TracerProvider
}

func DefaultConfig() Config {
	return Config{
		CheckpointRetention: merkle.DefaultCheckpointRetention,
		WitnessCacheSize:    1024,
		Hasher:              merkle.Blake2bHasher{},
		Strategy:            selector.SmallestFirst{},
		Decryptor:           notecrypt.Decryptor{},
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.CheckpointRetention <= 0 {
		c.CheckpointRetention = def.CheckpointRetention
	}
	if c.Hasher == nil {
		c.Hasher = def.Hasher
	}
	if c.Strategy == nil {
		c.Strategy = def.Strategy
	}
	if c.Decryptor == nil {
		c.Decryptor = def.Decryptor
	}
	if c.TracerProvider == nil {
		c.TracerProvider = otel.GetTracerProvider()
	}
}

// WalletState owns every piece of wallet state. Mutations hold the write
// lock for their whole duration, so one bundle's append and decrypt passes
// never interleave with another operation.
type WalletState struct {
	mu sync.RWMutex

	cfg       Config
	tree      *merkle.MerkleTree
	keys      *keys.Registry
	notes     *notes.Registry
	scanner   *scanner.Scanner
	selector  *selector.Selector
	assembler *witness.Assembler
	tracer    trace.Tracer
}

// New returns an empty wallet.
func New(cfg Config) (*WalletState, error) {
	cfg.applyDefaults()
	w := &WalletState{
		cfg:      cfg,
		selector: selector.New(cfg.Strategy),
		tracer:   cfg.TracerProvider.Tracer(tracerName),
	}
	if err := w.install(merkle.NewMerkleTree(w.treeOptions()...), keys.NewRegistry(), notes.NewRegistry()); err != nil {
		return nil, err
	}
	log.Info(log.Wallet, "Created wallet state",
		"hasher", cfg.Hasher.Name(),
		"retention", cfg.CheckpointRetention,
		"strategy", cfg.Strategy.Name())
	return w, nil
}

func (w *WalletState) treeOptions() []merkle.Option {
	return []merkle.Option{
		merkle.WithHasher(w.cfg.Hasher),
		merkle.WithCheckpointRetention(w.cfg.CheckpointRetention),
	}
}

// install wires the components that read tree, key and note state.
func (w *WalletState) install(tree *merkle.MerkleTree, reg *keys.Registry, nr *notes.Registry) error {
	assembler, err := witness.NewAssembler(tree, w.cfg.WitnessCacheSize)
	if err != nil {
		return fmt.Errorf("witness assembler: %w", err)
	}
	w.tree = tree
	w.keys = reg
	w.notes = nr
	w.assembler = assembler
	w.scanner = scanner.New(tree, reg, nr, w.cfg.Decryptor, scanner.WithTracerProvider(w.cfg.TracerProvider))
	return nil
}

// Config returns the effective configuration.
func (w *WalletState) Config() Config {
	return w.cfg
}

// AddViewingKey registers ivk and returns its index.
func (w *WalletState) AddViewingKey(ivk keys.IncomingViewingKey) (int, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	index, added := w.keys.Add(ivk)
	if added {
		log.Info(log.Wallet, "Added viewing key", "index", index, "keys", w.keys.Len())
	}
	return index, added
}

// RemoveViewingKey stops scanning with ivk. Notes it decrypted are kept.
func (w *WalletState) RemoveViewingKey(ivk keys.IncomingViewingKey) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	removed := w.keys.Remove(ivk)
	if removed {
		log.Info(log.Wallet, "Removed viewing key", "keys", w.keys.Len())
	}
	return removed
}

func (w *WalletState) ViewingKeys() []keys.Entry {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.keys.List()
}

func (w *WalletState) ViewingKeyCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.keys.Len()
}

func (w *WalletState) Balance() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.notes.Balance()
}

// Notes lists notes in scan order, spent ones only if includeSpent.
func (w *WalletState) Notes(includeSpent bool) []notes.DecryptedNote {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.notes.List(includeSpent)
}

func (w *WalletState) NoteCount(includeSpent bool) int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.notes.Count(includeSpent)
}

// Note returns the note with the given commitment.
func (w *WalletState) Note(commitment common.Hash) (notes.DecryptedNote, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	n, ok := w.notes.Get(commitment)
	if !ok {
		return notes.DecryptedNote{}, walleterrors.NotFound("no note with commitment %x", commitment)
	}
	return n, nil
}

// IsSpent reports whether the note with the given id is spent.
func (w *WalletState) IsSpent(id notes.NoteID) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.notes.IsSpent(id)
}

// History groups wallet notes by the transaction that created them.
func (w *WalletState) History(q notes.HistoryQuery) ([]notes.TxSummary, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.notes.History(q)
}

// Anchor is the current root, the anchor every spend is built against.
func (w *WalletState) Anchor() (common.Hash, error) {
	return w.Root(0)
}

func (w *WalletState) Root(depth int) (common.Hash, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tree.Root(depth)
}

func (w *WalletState) Witness(position uint64, depth int) (merkle.MerkleWitness, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tree.Witness(position, depth)
}

func (w *WalletState) TreeSize() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tree.Size()
}

// LastCheckpoint returns the ledger sequence of the newest checkpoint.
func (w *WalletState) LastCheckpoint() (uint32, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	cp, ok := w.tree.LastCheckpoint()
	return cp.LedgerSeq, ok
}

// Checkpoints returns the retained checkpoints oldest first.
func (w *WalletState) Checkpoints() []merkle.Checkpoint {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tree.Checkpoints()
}

// Reset discards every key, note, commitment and checkpoint.
func (w *WalletState) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tree.Reset()
	w.keys.Reset()
	w.notes.Reset()
	w.assembler.Purge()
	log.Info(log.Wallet, "Wallet state reset")
}
