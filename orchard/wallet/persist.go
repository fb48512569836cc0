package wallet

import (
	"fmt"

	"github.com/colorfulnotion/orchardwallet/common"
	"github.com/colorfulnotion/orchardwallet/log"
	"github.com/colorfulnotion/orchardwallet/orchard/keys"
	"github.com/colorfulnotion/orchardwallet/orchard/merkle"
	"github.com/colorfulnotion/orchardwallet/orchard/notes"
	"github.com/colorfulnotion/orchardwallet/walleterrors"
	"github.com/ethereum/go-ethereum/rlp"
)

const stateVersion = 1

// StateStore keeps the serialized wallet state.
type StateStore interface {
	PutState(blob []byte) error
	GetState() ([]byte, bool, error)
}

type stateBlob struct {
	Version     uint64
	Hasher      string
	Keys        []keys.Record
	Leaves      []common.Hash
	Checkpoints []merkle.Checkpoint
	Notes       []notes.DecryptedNote
	Spent       []notes.NoteID
}

// Marshal serializes the whole wallet state into one opaque blob.
func (w *WalletState) Marshal() ([]byte, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	blob := stateBlob{
		Version:     stateVersion,
		Hasher:      w.cfg.Hasher.Name(),
		Keys:        w.keys.Records(),
		Leaves:      w.tree.Leaves(),
		Checkpoints: w.tree.Checkpoints(),
		Notes:       w.notes.List(true),
		Spent:       w.notes.SpentIDs(),
	}
	data, err := rlp.EncodeToBytes(&blob)
	if err != nil {
		return nil, fmt.Errorf("encode wallet state: %w", err)
	}
	return data, nil
}

// Restore replaces the wallet state with a blob produced by Marshal. The
// current state is untouched when the blob is rejected.
func (w *WalletState) Restore(data []byte) error {
	var blob stateBlob
	if err := rlp.DecodeBytes(data, &blob); err != nil {
		return walleterrors.Validation("decode wallet state: %v", err)
	}
	if blob.Version != stateVersion {
		return walleterrors.Validation("unsupported wallet state version %d", blob.Version)
	}
	if blob.Hasher != w.cfg.Hasher.Name() {
		return walleterrors.StateConsistency("state built with hasher %q, wallet uses %q", blob.Hasher, w.cfg.Hasher.Name())
	}

	tree := merkle.NewMerkleTree(w.treeOptions()...)
	if err := tree.Restore(blob.Leaves, blob.Checkpoints); err != nil {
		return fmt.Errorf("restore tree: %w", err)
	}
	reg := keys.NewRegistry()
	if err := reg.Restore(blob.Keys); err != nil {
		return fmt.Errorf("restore viewing keys: %w", err)
	}
	nr := notes.NewRegistry()
	if err := nr.Restore(blob.Notes, blob.Spent); err != nil {
		return fmt.Errorf("restore notes: %w", err)
	}
	for _, n := range blob.Notes {
		leaf, err := tree.Leaf(n.Position)
		if err != nil || leaf != n.Commitment {
			return walleterrors.StateConsistency("note %s commitment is not at position %d", n.ID(), n.Position)
		}
		if _, ok := reg.Key(int(n.KeyIndex)); !ok {
			return walleterrors.StateConsistency("note %s owned by unknown key index %d", n.ID(), n.KeyIndex)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.install(tree, reg, nr); err != nil {
		return err
	}
	log.Info(log.Wallet, "Restored wallet state",
		"keys", reg.Len(),
		"notes", nr.Count(true),
		"tree_size", tree.Size(),
		"checkpoints", len(blob.Checkpoints))
	return nil
}

// Save writes the serialized state to store.
func (w *WalletState) Save(store StateStore) error {
	data, err := w.Marshal()
	if err != nil {
		return err
	}
	if err := store.PutState(data); err != nil {
		return fmt.Errorf("save wallet state: %w", err)
	}
	log.Debug(log.Wallet, "Saved wallet state", "bytes", len(data))
	return nil
}

// Load restores the state kept in store. found is false when the store
// holds no state, in which case the wallet is left unchanged.
func (w *WalletState) Load(store StateStore) (found bool, err error) {
	data, found, err := store.GetState()
	if err != nil {
		return false, fmt.Errorf("load wallet state: %w", err)
	}
	if !found {
		return false, nil
	}
	return true, w.Restore(data)
}
