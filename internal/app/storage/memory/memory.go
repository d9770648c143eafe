package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/R3E-Network/lockswap/internal/app/domain/ledger"
	"github.com/R3E-Network/lockswap/internal/app/storage"
)

// Store is an in-memory ledger. It is safe for concurrent use and is
// primarily intended for tests and local development.
type Store struct {
	rt storage.Runtime

	mu      sync.RWMutex
	objects map[ledger.ID]ledger.Object
}

var _ storage.Ledger = (*Store)(nil)

// New creates an empty store.
func New(rt storage.Runtime) *Store {
	return &Store{
		rt:      rt.WithDefaults(),
		objects: make(map[ledger.ID]ledger.Object),
	}
}

// Execute runs fn as one atomic unit.
func (s *Store) Execute(ctx context.Context, sender ledger.Address, fn func(storage.Tx) error) (ledger.Effects, error) {
	return storage.Run(ctx, s.rt, sender, s.Get, s.commit, fn)
}

func (s *Store) Get(_ context.Context, id ledger.ID) (ledger.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[id]
	if !ok {
		return ledger.Object{}, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	return obj.Clone(), nil
}

func (s *Store) ListOwned(_ context.Context, owner ledger.Owner) ([]ledger.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.Object
	for _, obj := range s.objects {
		if obj.Owner == owner {
			out = append(out, obj.Clone())
		}
	}
	storage.SortObjects(out)
	return out, nil
}

func (s *Store) ListKind(_ context.Context, kind ledger.Kind) ([]ledger.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.Object
	for _, obj := range s.objects {
		if obj.Kind == kind {
			out = append(out, obj.Clone())
		}
	}
	storage.SortObjects(out)
	return out, nil
}

func (s *Store) commit(_ context.Context, cs storage.Changeset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, version := range cs.Reads {
		if cur, ok := s.objects[id]; !ok || cur.Version != version {
			return fmt.Errorf("%w: %s", storage.ErrConflict, id)
		}
	}
	for _, w := range cs.Writes {
		cur, ok := s.objects[w.Object.ID]
		switch w.Op {
		case storage.OpCreate:
			if ok {
				return fmt.Errorf("%w: %s", storage.ErrConflict, w.Object.ID)
			}
		default:
			if !ok || cur.Version != w.Prev.Version {
				return fmt.Errorf("%w: %s", storage.ErrConflict, w.Object.ID)
			}
		}
	}

	for _, w := range cs.Writes {
		switch w.Op {
		case storage.OpCreate, storage.OpUpdate:
			s.objects[w.Object.ID] = w.Object.Clone()
		case storage.OpDelete:
			delete(s.objects, w.Object.ID)
		}
	}
	return nil
}
