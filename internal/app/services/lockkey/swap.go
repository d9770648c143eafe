package lockkey

import (
	"fmt"

	"github.com/R3E-Network/lockswap/internal/app/domain/ledger"
	"github.com/R3E-Network/lockswap/internal/app/storage"
)

// SwapRequest pairs two locked items. Item one goes to Recipient2 and item
// two goes to Recipient1.
type SwapRequest struct {
	Lock1      ledger.ID      `json:"lock1"`
	Key1       ledger.ID      `json:"key1"`
	Lock2      ledger.ID      `json:"lock2"`
	Key2       ledger.ID      `json:"key2"`
	Recipient1 ledger.Address `json:"recipient1"`
	Recipient2 ledger.Address `json:"recipient2"`
}

// SwapResult names the delivered items.
type SwapResult struct {
	Item1 ledger.ID `json:"item1"`
	Item2 ledger.ID `json:"item2"`
}

// Swap unlocks both pairs and cross-delivers the items. Any failure, a gate
// veto included, aborts the whole unit.
func Swap(tx storage.Tx, req SwapRequest) (SwapResult, error) {
	if req.Recipient1 == "" || req.Recipient2 == "" {
		return SwapResult{}, ErrInvalidRecipient
	}
	item1, err := Unlock(tx, req.Lock1, req.Key1)
	if err != nil {
		return SwapResult{}, fmt.Errorf("first pair: %w", err)
	}
	item2, err := Unlock(tx, req.Lock2, req.Key2)
	if err != nil {
		return SwapResult{}, fmt.Errorf("second pair: %w", err)
	}
	if err := tx.Transfer(item1, req.Recipient2); err != nil {
		return SwapResult{}, err
	}
	if err := tx.Transfer(item2, req.Recipient1); err != nil {
		return SwapResult{}, err
	}
	return SwapResult{Item1: item1, Item2: item2}, nil
}

// BatchSwapRequest holds parallel lists; index i of every list forms one
// pairing.
type BatchSwapRequest struct {
	Locks1      []ledger.ID      `json:"locks1"`
	Keys1       []ledger.ID      `json:"keys1"`
	Locks2      []ledger.ID      `json:"locks2"`
	Keys2       []ledger.ID      `json:"keys2"`
	Recipients1 []ledger.Address `json:"recipients1"`
	Recipients2 []ledger.Address `json:"recipients2"`
}

// Pairings splits the lists into swap requests. Lists of unequal length are
// rejected before anything executes.
func (b BatchSwapRequest) Pairings() ([]SwapRequest, error) {
	n := len(b.Locks1)
	for _, l := range []int{len(b.Keys1), len(b.Locks2), len(b.Keys2), len(b.Recipients1), len(b.Recipients2)} {
		if l != n {
			return nil, fmt.Errorf("%w: want %d entries, got %d", ErrBatchLength, n, l)
		}
	}
	out := make([]SwapRequest, n)
	for i := range out {
		out[i] = SwapRequest{
			Lock1:      b.Locks1[i],
			Key1:       b.Keys1[i],
			Lock2:      b.Locks2[i],
			Key2:       b.Keys2[i],
			Recipient1: b.Recipients1[i],
			Recipient2: b.Recipients2[i],
		}
	}
	return out, nil
}

// BatchResult is the outcome of one pairing.
type BatchResult struct {
	Index  int        `json:"index"`
	Result SwapResult `json:"result"`
	Err    error      `json:"-"`
}
