// Package selector picks unspent notes to cover a spend amount.
package selector

import (
	"fmt"
	"math/bits"
	"sort"

	"github.com/colorfulnotion/orchardwallet/orchard/notes"
	"github.com/colorfulnotion/orchardwallet/walleterrors"
)

// Filter restricts the notes eligible for selection. A nil Filter admits
// every note.
type Filter func(n *notes.DecryptedNote) bool

// OwnedBy admits notes decrypted by the viewing key at keyIndex.
func OwnedBy(keyIndex uint32) Filter {
	return func(n *notes.DecryptedNote) bool {
		return n.KeyIndex == keyIndex
	}
}

// Strategy orders eligible notes; the selector takes the shortest prefix
// that covers the target. Order must not modify its argument.
type Strategy interface {
	Name() string
	Order(candidates []notes.DecryptedNote) []notes.DecryptedNote
}

// SmallestFirst spends small notes first, consolidating dust. Equal amounts
// keep their insertion order.
type SmallestFirst struct{}

func (SmallestFirst) Name() string { return "smallest-first" }

func (SmallestFirst) Order(candidates []notes.DecryptedNote) []notes.DecryptedNote {
	out := append([]notes.DecryptedNote(nil), candidates...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Amount < out[j].Amount })
	return out
}

// LargestFirst minimizes the number of inputs. Equal amounts keep their
// insertion order.
type LargestFirst struct{}

func (LargestFirst) Name() string { return "largest-first" }

func (LargestFirst) Order(candidates []notes.DecryptedNote) []notes.DecryptedNote {
	out := append([]notes.DecryptedNote(nil), candidates...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Amount > out[j].Amount })
	return out
}

// StrategyByName resolves a strategy from its configuration name.
func StrategyByName(name string) (Strategy, error) {
	switch name {
	case "", "smallest-first":
		return SmallestFirst{}, nil
	case "largest-first":
		return LargestFirst{}, nil
	default:
		return nil, fmt.Errorf("unknown selection strategy %q", name)
	}
}

type Selector struct {
	strategy Strategy
}

// New returns a selector using strategy, SmallestFirst when nil.
func New(strategy Strategy) *Selector {
	if strategy == nil {
		strategy = SmallestFirst{}
	}
	return &Selector{strategy: strategy}
}

func (s *Selector) Strategy() Strategy {
	return s.strategy
}

// Select returns, in strategy order, the shortest prefix of the eligible
// candidates whose amounts reach target. Candidates are expected to be
// unspent and in insertion order.
func (s *Selector) Select(candidates []notes.DecryptedNote, target uint64, filter Filter) ([]notes.DecryptedNote, error) {
	eligible := make([]notes.DecryptedNote, 0, len(candidates))
	for i := range candidates {
		if filter == nil || filter(&candidates[i]) {
			eligible = append(eligible, candidates[i])
		}
	}

	ordered := s.strategy.Order(eligible)
	var sum uint64
	for i, n := range ordered {
		if sum >= target {
			return ordered[:i], nil
		}
		next, carry := bits.Add64(sum, n.Amount, 0)
		if carry != 0 {
			// the running sum no longer fits in uint64, so it covers target
			return ordered[:i+1], nil
		}
		sum = next
	}
	if sum >= target {
		return ordered, nil
	}
	return nil, &walleterrors.InsufficientBalanceError{Have: sum, Need: target}
}
