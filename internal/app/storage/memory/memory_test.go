package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/R3E-Network/lockswap/internal/app/domain/ledger"
	"github.com/R3E-Network/lockswap/internal/app/storage"
)

type denyAll struct{}

func (denyAll) CheckTransfer(_ context.Context, obj ledger.Object, to ledger.Address) error {
	return fmt.Errorf("%w: %s may not receive %s", storage.ErrDenied, to, obj.ID)
}

func seed(t *testing.T, s *Store, owner ledger.Address) ledger.ID {
	t.Helper()
	var id ledger.ID
	_, err := s.Execute(context.Background(), owner, func(tx storage.Tx) error {
		var err error
		if id, err = tx.NewID(); err != nil {
			return err
		}
		return tx.Create(ledger.Object{
			ID:    id,
			Kind:  ledger.KindItem,
			Owner: ledger.AccountOwner(owner),
			Data:  json.RawMessage(`{"name":"sword"}`),
		})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return id
}

func TestCreateAndTransfer(t *testing.T) {
	clock := storage.NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	s := New(storage.Runtime{Clock: clock})
	ctx := context.Background()

	id := seed(t, s, "alice")
	obj, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if obj.Version != 1 || !obj.CreatedAt.Equal(clock.Now()) {
		t.Fatalf("unexpected object %+v", obj)
	}

	clock.Advance(time.Minute)
	effects, err := s.Execute(ctx, "alice", func(tx storage.Tx) error {
		return tx.Transfer(id, "bob")
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if len(effects.Transferred) != 1 || len(effects.Mutated) != 1 {
		t.Fatalf("unexpected effects %+v", effects)
	}

	obj, _ = s.Get(ctx, id)
	if !obj.Owner.IsAccount("bob") || obj.Version != 2 {
		t.Fatalf("expected bob to own version 2, got %+v", obj)
	}
	owned, _ := s.ListOwned(ctx, ledger.AccountOwner("bob"))
	if len(owned) != 1 || owned[0].ID != id {
		t.Fatalf("expected bob to list the item, got %v", owned)
	}
	if owned, _ := s.ListOwned(ctx, ledger.AccountOwner("alice")); len(owned) != 0 {
		t.Fatalf("alice should own nothing, got %v", owned)
	}
}

func TestFailedUnitCommitsNothing(t *testing.T) {
	s := New(storage.Runtime{})
	ctx := context.Background()
	id := seed(t, s, "alice")

	boom := errors.New("boom")
	_, err := s.Execute(ctx, "alice", func(tx storage.Tx) error {
		if err := tx.Transfer(id, "bob"); err != nil {
			return err
		}
		if err := tx.Create(ledger.Object{ID: "extra", Kind: ledger.KindItem, Owner: ledger.AccountOwner("alice")}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	obj, _ := s.Get(ctx, id)
	if !obj.Owner.IsAccount("alice") || obj.Version != 1 {
		t.Fatalf("object changed by failed unit: %+v", obj)
	}
	if _, err := s.Get(ctx, "extra"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected extra to be absent, got %v", err)
	}
}

func TestGateVetoIsReturnedVerbatim(t *testing.T) {
	s := New(storage.Runtime{Gate: denyAll{}})
	id := seed(t, s, "alice")

	_, err := s.Execute(context.Background(), "alice", func(tx storage.Tx) error {
		return tx.Transfer(id, "mallory")
	})
	if !errors.Is(err, storage.ErrDenied) {
		t.Fatalf("expected denied, got %v", err)
	}
}

func TestDestroyTwiceIsNotFound(t *testing.T) {
	s := New(storage.Runtime{})
	ctx := context.Background()
	id := seed(t, s, "alice")

	destroy := func(tx storage.Tx) error { return tx.Destroy(id) }
	effects, err := s.Execute(ctx, "alice", destroy)
	if err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if len(effects.Destroyed) != 1 {
		t.Fatalf("unexpected effects %+v", effects)
	}
	if _, err := s.Execute(ctx, "alice", destroy); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStrandedObjectIsRejected(t *testing.T) {
	s := New(storage.Runtime{})
	ctx := context.Background()
	parent := seed(t, s, "alice")
	child := seed(t, s, "alice")

	if _, err := s.Execute(ctx, "alice", func(tx storage.Tx) error {
		return tx.Wrap(child, parent)
	}); err != nil {
		t.Fatalf("wrap: %v", err)
	}

	_, err := s.Execute(ctx, "alice", func(tx storage.Tx) error {
		if _, err := tx.Get(child); err != nil {
			return err
		}
		return tx.Destroy(parent)
	})
	if !errors.Is(err, storage.ErrStranded) {
		t.Fatalf("expected stranded, got %v", err)
	}
	if _, err := s.Get(ctx, parent); err != nil {
		t.Fatalf("parent should survive: %v", err)
	}
}

func TestConflictReexecutesAgainstFreshState(t *testing.T) {
	var conflicts []int
	s := New(storage.Runtime{OnConflict: func(attempt int) { conflicts = append(conflicts, attempt) }})
	ctx := context.Background()
	id := seed(t, s, "alice")

	attempts := 0
	_, err := s.Execute(ctx, "alice", func(tx storage.Tx) error {
		attempts++
		if _, err := tx.Get(id); err != nil {
			return err
		}
		if attempts == 1 {
			// A competing unit consumes the object after this one read it.
			if _, err := s.Execute(ctx, "alice", func(other storage.Tx) error {
				return other.Destroy(id)
			}); err != nil {
				return err
			}
		}
		return tx.Destroy(id)
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected the loser to observe not found, got %v", err)
	}
	if attempts != 2 || len(conflicts) != 1 || conflicts[0] != 1 {
		t.Fatalf("expected one re-execution, attempts=%d conflicts=%v", attempts, conflicts)
	}
}

func TestReadOnlyUnitSkipsCommit(t *testing.T) {
	s := New(storage.Runtime{})
	id := seed(t, s, "alice")

	effects, err := s.Execute(context.Background(), "bob", func(tx storage.Tx) error {
		_, err := tx.Get(id)
		return err
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(effects.Created)+len(effects.Mutated)+len(effects.Destroyed) != 0 {
		t.Fatalf("unexpected effects %+v", effects)
	}
}
