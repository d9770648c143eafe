package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/R3E-Network/lockswap/internal/app/domain/ledger"
)

// ErrInvalidRecipient is returned when a transfer names no recipient.
var ErrInvalidRecipient = errors.New("invalid recipient")

// Loader reads a committed object, returning ErrNotFound for unknown ids.
type Loader func(ctx context.Context, id ledger.ID) (ledger.Object, error)

// Committer applies a changeset all-or-nothing. It must return ErrConflict
// when any read or written object changed since it was loaded.
type Committer func(ctx context.Context, cs Changeset) error

// WriteOp is the kind of a buffered write.
type WriteOp int

const (
	OpCreate WriteOp = iota + 1
	OpUpdate
	OpDelete
)

// Write is one buffered change. Prev holds the committed object for updates
// and deletes; Object holds the new state (the committed state for deletes).
type Write struct {
	Op     WriteOp
	Object ledger.Object
	Prev   ledger.Object
}

// Changeset is the validated outcome of one unit.
type Changeset struct {
	// Reads maps objects that were read but not written to the version
	// observed. Committers must verify they are unchanged.
	Reads  map[ledger.ID]uint64
	Writes []Write
}

// Empty reports whether the unit wrote nothing.
func (c Changeset) Empty() bool { return len(c.Writes) == 0 }

// Run executes fn as one atomic unit against a backend described by load and
// commit, re-executing it when the commit loses an optimistic concurrency
// race. Errors from fn abort the unit with nothing committed.
func Run(ctx context.Context, rt Runtime, sender ledger.Address, load Loader, commit Committer, fn func(Tx) error) (ledger.Effects, error) {
	rt = rt.WithDefaults()
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return ledger.Effects{}, err
		}

		u := newUnit(ctx, rt, sender, load)
		if err := fn(u); err != nil {
			return ledger.Effects{}, err
		}

		cs, err := u.changeset()
		if err != nil {
			return ledger.Effects{}, err
		}
		if cs.Empty() {
			return u.effects, nil
		}

		err = commit(ctx, cs)
		if err == nil {
			return u.effects, nil
		}
		if !errors.Is(err, ErrConflict) || attempt >= rt.MaxAttempts {
			return ledger.Effects{}, err
		}
		if rt.OnConflict != nil {
			rt.OnConflict(attempt)
		}
	}
}

type entryState int

const (
	stateClean entryState = iota
	stateCreated
	stateUpdated
	stateDeleted
)

type entry struct {
	obj   ledger.Object
	base  ledger.Object
	state entryState
}

type unit struct {
	ctx    context.Context
	rt     Runtime
	sender ledger.Address
	now    time.Time
	load   Loader

	entries map[ledger.ID]*entry
	order   []ledger.ID
	dropped map[ledger.ID]bool
	effects ledger.Effects
}

var _ Tx = (*unit)(nil)

func newUnit(ctx context.Context, rt Runtime, sender ledger.Address, load Loader) *unit {
	return &unit{
		ctx:     ctx,
		rt:      rt,
		sender:  sender,
		now:     rt.Clock.Now(),
		load:    load,
		entries: make(map[ledger.ID]*entry),
		dropped: make(map[ledger.ID]bool),
	}
}

func (u *unit) Context() context.Context { return u.ctx }
func (u *unit) Sender() ledger.Address   { return u.sender }
func (u *unit) Now() time.Time           { return u.now }

func (u *unit) NewID() (ledger.ID, error) {
	id, err := u.rt.IDs.NewID()
	if err != nil {
		return "", fmt.Errorf("allocate id: %w", err)
	}
	return id, nil
}

func (u *unit) Get(id ledger.ID) (ledger.Object, error) {
	if e, ok := u.entries[id]; ok {
		if e.state == stateDeleted {
			return ledger.Object{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return e.obj.Clone(), nil
	}
	if u.dropped[id] {
		return ledger.Object{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	obj, err := u.load(u.ctx, id)
	if err != nil {
		return ledger.Object{}, err
	}
	u.track(id, &entry{obj: obj.Clone(), base: obj, state: stateClean})
	return obj.Clone(), nil
}

func (u *unit) Create(obj ledger.Object) error {
	if obj.ID == "" {
		return errors.New("create: object id is required")
	}
	if _, ok := u.entries[obj.ID]; ok || u.dropped[obj.ID] {
		return fmt.Errorf("%w: %s", ErrExists, obj.ID)
	}
	if _, err := u.load(u.ctx, obj.ID); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, obj.ID)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	obj = obj.Clone()
	obj.Version = 1
	obj.CreatedAt = u.now
	obj.UpdatedAt = u.now
	u.track(obj.ID, &entry{obj: obj, state: stateCreated})
	u.effects.Created = append(u.effects.Created, obj.ID)
	return nil
}

func (u *unit) Update(obj ledger.Object) error {
	if _, err := u.Get(obj.ID); err != nil {
		return err
	}
	e := u.entries[obj.ID]

	obj = obj.Clone()
	obj.Version = e.obj.Version
	obj.CreatedAt = e.obj.CreatedAt
	obj.UpdatedAt = u.now
	e.obj = obj
	if e.state == stateClean {
		e.state = stateUpdated
	}
	return nil
}

func (u *unit) Transfer(id ledger.ID, to ledger.Address) error {
	if to == "" {
		return fmt.Errorf("%w: transfer of %s names no recipient", ErrInvalidRecipient, id)
	}
	obj, err := u.Get(id)
	if err != nil {
		return err
	}
	if u.rt.Gate != nil {
		if err := u.rt.Gate.CheckTransfer(u.ctx, obj, to); err != nil {
			return err
		}
	}

	obj.Owner = ledger.AccountOwner(to)
	if err := u.Update(obj); err != nil {
		return err
	}
	u.effects.Transferred = append(u.effects.Transferred, id)
	return nil
}

func (u *unit) Wrap(id, parent ledger.ID) error {
	if id == parent {
		return fmt.Errorf("wrap %s: object cannot wrap itself", id)
	}
	obj, err := u.Get(id)
	if err != nil {
		return err
	}
	obj.Owner = ledger.ObjectOwner(parent)
	return u.Update(obj)
}

func (u *unit) Destroy(id ledger.ID) error {
	if _, err := u.Get(id); err != nil {
		return err
	}
	e := u.entries[id]

	if e.state == stateCreated {
		delete(u.entries, id)
		u.order = removeID(u.order, id)
		u.effects.Created = removeID(u.effects.Created, id)
		u.dropped[id] = true
		return nil
	}
	e.state = stateDeleted
	u.effects.Destroyed = append(u.effects.Destroyed, id)
	return nil
}

func (u *unit) track(id ledger.ID, e *entry) {
	u.entries[id] = e
	u.order = append(u.order, id)
}

func (u *unit) changeset() (Changeset, error) {
	cs := Changeset{Reads: make(map[ledger.ID]uint64)}

	gone := make(map[ledger.ID]bool, len(u.dropped))
	for id := range u.dropped {
		gone[id] = true
	}
	for _, id := range u.order {
		if u.entries[id].state == stateDeleted {
			gone[id] = true
		}
	}

	for _, id := range u.order {
		e := u.entries[id]
		if e.state != stateDeleted && e.obj.Owner.Kind == ledger.OwnerObject && gone[ledger.ID(e.obj.Owner.Ref)] {
			return Changeset{}, fmt.Errorf("%w: %s was left inside %s", ErrStranded, id, e.obj.Owner.Ref)
		}

		switch e.state {
		case stateClean:
			cs.Reads[id] = e.base.Version
		case stateCreated:
			cs.Writes = append(cs.Writes, Write{Op: OpCreate, Object: e.obj.Clone()})
		case stateUpdated:
			next := e.obj.Clone()
			next.Version = e.base.Version + 1
			cs.Writes = append(cs.Writes, Write{Op: OpUpdate, Object: next, Prev: e.base})
			u.effects.Mutated = append(u.effects.Mutated, id)
		case stateDeleted:
			cs.Writes = append(cs.Writes, Write{Op: OpDelete, Object: e.base, Prev: e.base})
		}
	}
	return cs, nil
}

func removeID(ids []ledger.ID, id ledger.ID) []ledger.ID {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
