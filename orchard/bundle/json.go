package bundle

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/colorfulnotion/orchardwallet/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

type jsonAction struct {
	Commitment    hexutil.Bytes `json:"cmx"`
	Nullifier     hexutil.Bytes `json:"nullifier"`
	EphemeralKey  hexutil.Bytes `json:"epk"`
	EncCiphertext hexutil.Bytes `json:"ciphertext"`
}

type jsonTransaction struct {
	TxID    hexutil.Bytes `json:"txid"`
	Actions []jsonAction  `json:"actions"`
}

type jsonLedger struct {
	Seq          uint32            `json:"seq"`
	Transactions []jsonTransaction `json:"transactions"`
}

// ReadLedgers decodes a JSON array of ledgers with hex encoded fields.
func ReadLedgers(r io.Reader) ([]Ledger, error) {
	var raw []jsonLedger
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode ledgers: %w", err)
	}

	ledgers := make([]Ledger, len(raw))
	for i, jl := range raw {
		ledgers[i].Seq = jl.Seq
		ledgers[i].Transactions = make([]Transaction, len(jl.Transactions))
		for j, jt := range jl.Transactions {
			txID, err := common.ParseHash(jt.TxID)
			if err != nil {
				return nil, fmt.Errorf("ledger %d tx %d: %w", jl.Seq, j, err)
			}
			tx := Transaction{TxID: txID}
			for k, ja := range jt.Actions {
				a, err := NewAction(ja.Commitment, ja.Nullifier, ja.EphemeralKey, ja.EncCiphertext)
				if err != nil {
					return nil, fmt.Errorf("ledger %d tx %s action %d: %w", jl.Seq, txID.Hex(), k, err)
				}
				tx.Bundle.Actions = append(tx.Bundle.Actions, a)
			}
			ledgers[i].Transactions[j] = tx
		}
	}
	return ledgers, nil
}

// WriteLedgers encodes ledgers in the format ReadLedgers accepts.
func WriteLedgers(w io.Writer, ledgers []Ledger) error {
	raw := make([]jsonLedger, len(ledgers))
	for i, l := range ledgers {
		raw[i].Seq = l.Seq
		raw[i].Transactions = make([]jsonTransaction, len(l.Transactions))
		for j, tx := range l.Transactions {
			jt := jsonTransaction{TxID: tx.TxID.Bytes(), Actions: make([]jsonAction, len(tx.Bundle.Actions))}
			for k, a := range tx.Bundle.Actions {
				epk := a.EphemeralKey
				jt.Actions[k] = jsonAction{
					Commitment:    a.Commitment.Bytes(),
					Nullifier:     a.Nullifier.Bytes(),
					EphemeralKey:  epk[:],
					EncCiphertext: a.EncCiphertext,
				}
			}
			raw[i].Transactions[j] = jt
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(raw)
}
