// Package compliance provides transfer gates that may veto an ownership
// transfer. Every veto wraps storage.ErrDenied.
package compliance

import (
	"context"
	"fmt"

	"github.com/R3E-Network/lockswap/internal/app/domain/ledger"
	"github.com/R3E-Network/lockswap/internal/app/storage"
)

// GateError is a transfer veto with the rule that fired.
type GateError struct {
	Gate      string
	ObjectID  ledger.ID
	Recipient ledger.Address
	Reason    string
}

func (e *GateError) Error() string {
	return fmt.Sprintf("%s: %s: transfer of %s to %s: %s", storage.ErrDenied, e.Gate, e.ObjectID, e.Recipient, e.Reason)
}

func (e *GateError) Unwrap() error { return storage.ErrDenied }

// Chain consults gates in order; the first veto wins.
type Chain []storage.Gate

var _ storage.Gate = Chain(nil)

func (c Chain) CheckTransfer(ctx context.Context, obj ledger.Object, to ledger.Address) error {
	for _, g := range c {
		if g == nil {
			continue
		}
		if err := g.CheckTransfer(ctx, obj, to); err != nil {
			return err
		}
	}
	return nil
}

// AllowAll never vetoes.
type AllowAll struct{}

func (AllowAll) CheckTransfer(context.Context, ledger.Object, ledger.Address) error { return nil }
