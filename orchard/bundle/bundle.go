// Package bundle holds the shielded actions a wallet ingests, grouped into
// bundles, transactions and ledgers, with their RLP and JSON encodings.
package bundle

import (
	"github.com/colorfulnotion/orchardwallet/common"
	"github.com/colorfulnotion/orchardwallet/walleterrors"
	"github.com/ethereum/go-ethereum/rlp"
)

// EphemeralKeyLength is the size of an action's ephemeral public key.
const EphemeralKeyLength = 32

// Action is one Orchard action as seen by a wallet.
type Action struct {
	Commitment    common.Hash // extracted note commitment (cmx)
	Nullifier     common.Hash // revealed nullifier of the spent note
	EphemeralKey  [EphemeralKeyLength]byte
	EncCiphertext []byte
}

// NewAction validates the fixed-size fields of a decoded action.
func NewAction(cmx, nullifier, epk, ciphertext []byte) (Action, error) {
	var a Action
	if len(cmx) != common.HashLength {
		return a, walleterrors.Validation("commitment must be %d bytes, got %d", common.HashLength, len(cmx))
	}
	if len(nullifier) != common.HashLength {
		return a, walleterrors.Validation("nullifier must be %d bytes, got %d", common.HashLength, len(nullifier))
	}
	if len(epk) != EphemeralKeyLength {
		return a, walleterrors.Validation("ephemeral key must be %d bytes, got %d", EphemeralKeyLength, len(epk))
	}
	a.Commitment = common.BytesToHash(cmx)
	a.Nullifier = common.BytesToHash(nullifier)
	copy(a.EphemeralKey[:], epk)
	a.EncCiphertext = append([]byte(nil), ciphertext...)
	return a, nil
}

// Bundle is the ordered list of actions of one transaction.
type Bundle struct {
	Actions []Action
}

// Commitments returns the action commitments in action order.
func (b *Bundle) Commitments() []common.Hash {
	out := make([]common.Hash, len(b.Actions))
	for i, a := range b.Actions {
		out[i] = a.Commitment
	}
	return out
}

// Nullifiers returns the revealed nullifiers in action order.
func (b *Bundle) Nullifiers() []common.Hash {
	out := make([]common.Hash, len(b.Actions))
	for i, a := range b.Actions {
		out[i] = a.Nullifier
	}
	return out
}

// Transaction pairs a bundle with the id of the transaction carrying it.
type Transaction struct {
	TxID   common.Hash
	Bundle Bundle
}

// Ledger is one closed ledger's shielded transactions in ledger order.
type Ledger struct {
	Seq          uint32
	Transactions []Transaction
}

// EncodeBundle returns the RLP encoding of b.
func EncodeBundle(b *Bundle) ([]byte, error) {
	return rlp.EncodeToBytes(b)
}

// DecodeBundle parses an RLP encoded bundle.
func DecodeBundle(data []byte) (*Bundle, error) {
	var b Bundle
	if err := rlp.DecodeBytes(data, &b); err != nil {
		return nil, walleterrors.Validation("decode bundle: %v", err)
	}
	return &b, nil
}
