package wallet

import (
	"math/bits"

	"github.com/colorfulnotion/orchardwallet/log"
	"github.com/colorfulnotion/orchardwallet/orchard/keys"
	"github.com/colorfulnotion/orchardwallet/orchard/notes"
	"github.com/colorfulnotion/orchardwallet/orchard/selector"
	"github.com/colorfulnotion/orchardwallet/orchard/witness"
	"github.com/colorfulnotion/orchardwallet/walleterrors"
)

// SpendPreparation is a spend plan together with the amounts it pays.
type SpendPreparation struct {
	Plan   *witness.SpendPlan
	Amount uint64
	Fee    uint64
	Change uint64
}

// SelectNotes picks unspent notes covering target. With owner set, only
// notes decrypted by that viewing key are eligible.
func (w *WalletState) SelectNotes(target uint64, owner *keys.IncomingViewingKey) ([]notes.DecryptedNote, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.selectLocked(target, owner)
}

func (w *WalletState) selectLocked(target uint64, owner *keys.IncomingViewingKey) ([]notes.DecryptedNote, error) {
	var filter selector.Filter
	if owner != nil {
		index, ok := w.keys.Index(*owner)
		if !ok {
			return nil, walleterrors.NotFound("viewing key %s is not registered", owner.Hex())
		}
		filter = selector.OwnedBy(uint32(index))
	}
	return w.selector.Select(w.notes.Unspent(), target, filter)
}

// PrepareSpend selects notes covering amount plus fee and assembles their
// witnesses against the current anchor.
func (w *WalletState) PrepareSpend(amount, fee uint64, owner *keys.IncomingViewingKey) (*SpendPreparation, error) {
	need, carry := bits.Add64(amount, fee, 0)
	if carry != 0 {
		return nil, walleterrors.Validation("amount %d plus fee %d overflows", amount, fee)
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	selected, err := w.selectLocked(need, owner)
	if err != nil {
		return nil, err
	}
	plan, err := w.assembler.Assemble(selected)
	if err != nil {
		return nil, err
	}
	total, err := plan.Total()
	if err != nil {
		return nil, err
	}
	prep := &SpendPreparation{Plan: plan, Amount: amount, Fee: fee, Change: total - need}
	log.Info(log.Wallet, "Prepared spend",
		"amount", amount,
		"fee", fee,
		"inputs", len(plan.Inputs),
		"change", prep.Change,
		"anchor", plan.Anchor)
	return prep, nil
}
