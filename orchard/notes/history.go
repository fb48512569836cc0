package notes

import (
	"sort"

	"github.com/colorfulnotion/orchardwallet/common"
	"github.com/colorfulnotion/orchardwallet/walleterrors"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// HistoryQuery selects transactions by inclusive ledger range. MaxLedger 0
// means no upper bound; Limit 0 means DefaultHistoryLimit.
type HistoryQuery struct {
	MinLedger uint32
	MaxLedger uint32
	Limit     int
}

// HistoryNote is one wallet note within a transaction summary.
type HistoryNote struct {
	ActionIndex uint32
	Position    uint64
	Commitment  common.Hash
	Amount      uint64
	KeyIndex    uint32
	Spent       bool
}

// TxSummary groups the wallet's notes by the transaction that created them.
type TxSummary struct {
	TxID        common.Hash
	LedgerSeq   uint32
	Notes       []HistoryNote
	TotalAmount uint64
	SpentCount  int
}

// History returns the transactions that created wallet notes, newest
// ledger first and, within a ledger, in the order they were scanned.
func (r *Registry) History(q HistoryQuery) ([]TxSummary, error) {
	if q.MaxLedger != 0 && q.MinLedger > q.MaxLedger {
		return nil, walleterrors.Validation("min ledger %d is above max ledger %d", q.MinLedger, q.MaxLedger)
	}
	if q.Limit < 0 {
		return nil, walleterrors.Validation("negative history limit %d", q.Limit)
	}
	limit := q.Limit
	if limit == 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	byTx := make(map[common.Hash]int)
	var out []TxSummary
	for _, id := range r.order {
		n := r.notes[id]
		if n.LedgerSeq < q.MinLedger || (q.MaxLedger != 0 && n.LedgerSeq > q.MaxLedger) {
			continue
		}
		i, ok := byTx[n.TxID]
		if !ok {
			i = len(out)
			byTx[n.TxID] = i
			out = append(out, TxSummary{TxID: n.TxID, LedgerSeq: n.LedgerSeq})
		}
		spent := r.IsSpent(id)
		out[i].Notes = append(out[i].Notes, HistoryNote{
			ActionIndex: n.ActionIndex,
			Position:    n.Position,
			Commitment:  n.Commitment,
			Amount:      n.Amount,
			KeyIndex:    n.KeyIndex,
			Spent:       spent,
		})
		out[i].TotalAmount += n.Amount
		if spent {
			out[i].SpentCount++
		}
	}

	sort.SliceStable(out, func(a, b int) bool {
		return out[a].LedgerSeq > out[b].LedgerSeq
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
