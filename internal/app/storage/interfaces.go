package storage

import (
	"context"
	"errors"
	"time"

	"github.com/R3E-Network/lockswap/internal/app/domain/ledger"
)

var (
	// ErrNotFound is returned for objects that never existed or were
	// destroyed. Callers consuming capability objects treat it as
	// "already consumed".
	ErrNotFound = errors.New("object not found")
	// ErrExists is returned when creating an object whose id is taken.
	ErrExists = errors.New("object already exists")
	// ErrConflict is returned when a commit observed a stale version.
	ErrConflict = errors.New("version conflict")
	// ErrDenied is the transfer gate's veto. Gates wrap it with a reason.
	ErrDenied = errors.New("transfer denied")
	// ErrStranded is returned when a unit would commit an object whose
	// wrapping parent was destroyed in the same unit.
	ErrStranded = errors.New("object stranded inside destroyed parent")
)

// Gate is consulted before any ownership transfer.
type Gate interface {
	CheckTransfer(ctx context.Context, obj ledger.Object, to ledger.Address) error
}

// Clock supplies the timestamp an atomic unit executes at.
type Clock interface {
	Now() time.Time
}

// IDGenerator issues object identifiers that are never reused.
type IDGenerator interface {
	NewID() (ledger.ID, error)
}

// Tx is one atomic unit. Nothing written through a Tx is visible to other
// units until Execute returns without error.
type Tx interface {
	Context() context.Context
	Sender() ledger.Address
	Now() time.Time
	NewID() (ledger.ID, error)

	Get(id ledger.ID) (ledger.Object, error)
	Create(obj ledger.Object) error
	Update(obj ledger.Object) error
	Transfer(id ledger.ID, to ledger.Address) error
	// Wrap makes parent the owner of id. Wrapping is not a transfer and
	// does not consult the gate.
	Wrap(id, parent ledger.ID) error
	Destroy(id ledger.ID) error
}

// Ledger executes atomic units and serves committed state.
type Ledger interface {
	Execute(ctx context.Context, sender ledger.Address, fn func(Tx) error) (ledger.Effects, error)
	Get(ctx context.Context, id ledger.ID) (ledger.Object, error)
	ListOwned(ctx context.Context, owner ledger.Owner) ([]ledger.Object, error)
	ListKind(ctx context.Context, kind ledger.Kind) ([]ledger.Object, error)
}
