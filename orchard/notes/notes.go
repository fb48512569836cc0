// Package notes stores decrypted notes with their nullifier index and the
// set of spent notes.
package notes

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/colorfulnotion/orchardwallet/common"
	"github.com/colorfulnotion/orchardwallet/log"
	"github.com/colorfulnotion/orchardwallet/orchard/notecrypt"
	"github.com/colorfulnotion/orchardwallet/walleterrors"
)

// NoteID identifies a note by the action that created it.
type NoteID struct {
	TxID        common.Hash
	ActionIndex uint32
}

func (id NoteID) String() string {
	return fmt.Sprintf("%s:%d", id.TxID.Hex(), id.ActionIndex)
}

// DecryptedNote is a note owned by one of the wallet's viewing keys.
type DecryptedNote struct {
	Note        notecrypt.Note
	Commitment  common.Hash
	Nullifier   common.Hash
	Amount      uint64
	LedgerSeq   uint32
	TxID        common.Hash
	ActionIndex uint32
	Position    uint64
	KeyIndex    uint32
	Anchor      common.Hash // root when the note was scanned, informational only
}

func (n *DecryptedNote) ID() NoteID {
	return NoteID{TxID: n.TxID, ActionIndex: n.ActionIndex}
}

// Registry holds notes in insertion order. It is not safe for concurrent
// use; the wallet serializes access.
type Registry struct {
	notes        map[NoteID]*DecryptedNote
	order        []NoteID
	byCommitment map[common.Hash]NoteID
	byNullifier  map[common.Hash]NoteID
	spent        map[NoteID]struct{}
}

func NewRegistry() *Registry {
	r := &Registry{}
	r.Reset()
	return r
}

// Reset discards every note and spent mark.
func (r *Registry) Reset() {
	r.notes = make(map[NoteID]*DecryptedNote)
	r.order = nil
	r.byCommitment = make(map[common.Hash]NoteID)
	r.byNullifier = make(map[common.Hash]NoteID)
	r.spent = make(map[NoteID]struct{})
}

// Insert stores note. A note with the same id replaces the previous record
// in place and inserted is false. A commitment or nullifier already bound
// to a different note is rejected.
func (r *Registry) Insert(note DecryptedNote) (inserted bool, err error) {
	id := note.ID()
	if other, ok := r.byNullifier[note.Nullifier]; ok && other != id {
		return false, walleterrors.StateConsistency("nullifier %x already bound to note %s", note.Nullifier, other)
	}
	if other, ok := r.byCommitment[note.Commitment]; ok && other != id {
		return false, walleterrors.StateConsistency("commitment %x already bound to note %s", note.Commitment, other)
	}

	if prev, ok := r.notes[id]; ok {
		delete(r.byNullifier, prev.Nullifier)
		delete(r.byCommitment, prev.Commitment)
		log.Debug(log.Notes, "Replacing note", "id", id, "position", note.Position)
	} else {
		r.order = append(r.order, id)
		inserted = true
	}
	stored := note
	r.notes[id] = &stored
	r.byNullifier[note.Nullifier] = id
	r.byCommitment[note.Commitment] = id
	return inserted, nil
}

// Get returns the note with the given commitment.
func (r *Registry) Get(commitment common.Hash) (DecryptedNote, bool) {
	id, ok := r.byCommitment[commitment]
	if !ok {
		return DecryptedNote{}, false
	}
	return *r.notes[id], true
}

func (r *Registry) GetByNullifier(nullifier common.Hash) (DecryptedNote, bool) {
	id, ok := r.byNullifier[nullifier]
	if !ok {
		return DecryptedNote{}, false
	}
	return *r.notes[id], true
}

// MarkSpent adds the note revealing nullifier to the spent set. Unknown
// nullifiers are ignored. It reports whether the note was newly spent.
func (r *Registry) MarkSpent(nullifier common.Hash) bool {
	id, ok := r.byNullifier[nullifier]
	if !ok {
		return false
	}
	if _, done := r.spent[id]; done {
		return false
	}
	r.spent[id] = struct{}{}
	log.Debug(log.Notes, "Note spent", "id", id, "amount", r.notes[id].Amount)
	return true
}

func (r *Registry) IsSpent(id NoteID) bool {
	_, ok := r.spent[id]
	return ok
}

// List returns notes in insertion order, spent ones only if includeSpent.
func (r *Registry) List(includeSpent bool) []DecryptedNote {
	out := make([]DecryptedNote, 0, len(r.order))
	for _, id := range r.order {
		if !includeSpent && r.IsSpent(id) {
			continue
		}
		out = append(out, *r.notes[id])
	}
	return out
}

// Unspent returns the unspent notes in insertion order.
func (r *Registry) Unspent() []DecryptedNote {
	return r.List(false)
}

// Balance sums the amounts of unspent notes, saturating at MaxUint64.
func (r *Registry) Balance() uint64 {
	var total uint64
	for _, id := range r.order {
		if r.IsSpent(id) {
			continue
		}
		sum, carry := bits.Add64(total, r.notes[id].Amount, 0)
		if carry != 0 {
			return math.MaxUint64
		}
		total = sum
	}
	return total
}

// Count returns the number of notes, spent ones only if includeSpent.
func (r *Registry) Count(includeSpent bool) int {
	if includeSpent {
		return len(r.order)
	}
	return len(r.order) - len(r.spent)
}

// SpentIDs returns the spent note ids in insertion order.
func (r *Registry) SpentIDs() []NoteID {
	out := make([]NoteID, 0, len(r.spent))
	for _, id := range r.order {
		if r.IsSpent(id) {
			out = append(out, id)
		}
	}
	return out
}

// Restore replaces the registry contents. Every spent id must name one of
// the restored notes.
func (r *Registry) Restore(notes []DecryptedNote, spent []NoteID) error {
	r.Reset()
	for _, n := range notes {
		inserted, err := r.Insert(n)
		if err != nil {
			r.Reset()
			return err
		}
		if !inserted {
			r.Reset()
			return walleterrors.StateConsistency("note %s restored twice", n.ID())
		}
	}
	for _, id := range spent {
		if _, ok := r.notes[id]; !ok {
			r.Reset()
			return walleterrors.StateConsistency("spent note %s is unknown", id)
		}
		r.spent[id] = struct{}{}
	}
	return nil
}
