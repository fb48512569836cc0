// Package keys tracks the incoming viewing keys a wallet scans with.
package keys

import (
	"encoding/hex"
	"strings"

	"github.com/colorfulnotion/orchardwallet/walleterrors"
)

// IVKLength is the size of a serialized incoming viewing key.
const IVKLength = 64

// IncomingViewingKey is an opaque serialized Orchard incoming viewing key.
type IncomingViewingKey [IVKLength]byte

func (k IncomingViewingKey) Hex() string {
	return "0x" + hex.EncodeToString(k[:])
}

// ParseIncomingViewingKey validates and copies a serialized key.
func ParseIncomingViewingKey(b []byte) (IncomingViewingKey, error) {
	var k IncomingViewingKey
	if len(b) != IVKLength {
		return k, walleterrors.Validation("incoming viewing key must be %d bytes, got %d", IVKLength, len(b))
	}
	copy(k[:], b)
	return k, nil
}

// HexToIncomingViewingKey parses a hex key with or without 0x prefix.
func HexToIncomingViewingKey(s string) (IncomingViewingKey, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return IncomingViewingKey{}, walleterrors.Validation("incoming viewing key is not hex: %v", err)
	}
	return ParseIncomingViewingKey(raw)
}

// Entry is a registered key with its index.
type Entry struct {
	Index int
	Key   IncomingViewingKey
}

type slot struct {
	key     IncomingViewingKey
	removed bool
}

// Registry is an insertion-ordered set of viewing keys. The index of a key
// is its slot, assigned the first time the key is added and kept for the
// registry's lifetime: removal only tombstones the slot, and adding the
// same key again revives it. Registry is not safe for concurrent use.
type Registry struct {
	slots []slot
	index map[IncomingViewingKey]int
	live  int
}

func NewRegistry() *Registry {
	return &Registry{index: make(map[IncomingViewingKey]int)}
}

// Add registers ivk and returns its index. added is false when the key was
// already active.
func (r *Registry) Add(ivk IncomingViewingKey) (index int, added bool) {
	if i, ok := r.index[ivk]; ok {
		if !r.slots[i].removed {
			return i, false
		}
		r.slots[i].removed = false
		r.live++
		return i, true
	}
	r.slots = append(r.slots, slot{key: ivk})
	i := len(r.slots) - 1
	r.index[ivk] = i
	r.live++
	return i, true
}

// Remove deactivates ivk. It reports whether the key was active.
func (r *Registry) Remove(ivk IncomingViewingKey) bool {
	i, ok := r.index[ivk]
	if !ok || r.slots[i].removed {
		return false
	}
	r.slots[i].removed = true
	r.live--
	return true
}

// Index returns the index of an active key.
func (r *Registry) Index(ivk IncomingViewingKey) (int, bool) {
	i, ok := r.index[ivk]
	if !ok || r.slots[i].removed {
		return 0, false
	}
	return i, true
}

// Key returns the key bound to index, whether or not it is still active.
func (r *Registry) Key(index int) (IncomingViewingKey, bool) {
	if index < 0 || index >= len(r.slots) {
		return IncomingViewingKey{}, false
	}
	return r.slots[index].key, true
}

// List returns the active keys in insertion order.
func (r *Registry) List() []Entry {
	out := make([]Entry, 0, r.live)
	for i, s := range r.slots {
		if !s.removed {
			out = append(out, Entry{Index: i, Key: s.key})
		}
	}
	return out
}

// Len is the number of active keys.
func (r *Registry) Len() int {
	return r.live
}

// Reset drops every key and index binding.
func (r *Registry) Reset() {
	r.slots = nil
	r.index = make(map[IncomingViewingKey]int)
	r.live = 0
}

// Record is the persisted form of one slot.
type Record struct {
	Key     []byte
	Removed bool
}

// Records returns every slot, tombstones included, in index order.
func (r *Registry) Records() []Record {
	out := make([]Record, len(r.slots))
	for i, s := range r.slots {
		k := s.key
		out[i] = Record{Key: k[:], Removed: s.removed}
	}
	return out
}

// Restore rebuilds the registry from persisted slots, keeping indices.
func (r *Registry) Restore(records []Record) error {
	r.Reset()
	for i, rec := range records {
		k, err := ParseIncomingViewingKey(rec.Key)
		if err != nil {
			r.Reset()
			return err
		}
		if _, dup := r.index[k]; dup {
			r.Reset()
			return walleterrors.StateConsistency("viewing key at slot %d is duplicated", i)
		}
		r.slots = append(r.slots, slot{key: k, removed: rec.Removed})
		r.index[k] = i
		if !rec.Removed {
			r.live++
		}
	}
	return nil
}
