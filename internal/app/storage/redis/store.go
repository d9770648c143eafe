package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/go-redis/redis/v8"

	"github.com/R3E-Network/lockswap/internal/app/domain/ledger"
	"github.com/R3E-Network/lockswap/internal/app/storage"
)

const defaultPrefix = "lockswap"

type getter interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
}

// Store is a ledger backed by redis. Objects are JSON documents; commits use
// WATCH/MULTI so a concurrent writer aborts the transaction.
type Store struct {
	client goredis.UniversalClient
	rt     storage.Runtime
	prefix string
}

var _ storage.Ledger = (*Store)(nil)

// New creates a Store. An empty prefix uses "lockswap".
func New(client goredis.UniversalClient, rt storage.Runtime, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{client: client, rt: rt.WithDefaults(), prefix: prefix}
}

func (s *Store) objectKey(id ledger.ID) string   { return s.prefix + ":obj:" + string(id) }
func (s *Store) kindKey(kind ledger.Kind) string { return s.prefix + ":kind:" + string(kind) }
func (s *Store) ownerKey(owner ledger.Owner) string {
	return s.prefix + ":owner:" + owner.String()
}

// Execute runs fn as one atomic unit.
func (s *Store) Execute(ctx context.Context, sender ledger.Address, fn func(storage.Tx) error) (ledger.Effects, error) {
	return storage.Run(ctx, s.rt, sender, s.Get, s.commit, fn)
}

func (s *Store) Get(ctx context.Context, id ledger.ID) (ledger.Object, error) {
	return s.read(ctx, s.client, id)
}

func (s *Store) ListOwned(ctx context.Context, owner ledger.Owner) ([]ledger.Object, error) {
	return s.listIndex(ctx, s.ownerKey(owner))
}

func (s *Store) ListKind(ctx context.Context, kind ledger.Kind) ([]ledger.Object, error) {
	return s.listIndex(ctx, s.kindKey(kind))
}

func (s *Store) read(ctx context.Context, c getter, id ledger.ID) (ledger.Object, error) {
	raw, err := c.Get(ctx, s.objectKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return ledger.Object{}, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	if err != nil {
		return ledger.Object{}, err
	}
	return decodeObject(raw)
}

func (s *Store) listIndex(ctx context.Context, index string) ([]ledger.Object, error) {
	ids, err := s.client.SMembers(ctx, index).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.objectKey(ledger.ID(id))
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]ledger.Object, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			// Index entries can briefly outlive the object between units.
			continue
		}
		obj, err := decodeObject([]byte(str))
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	storage.SortObjects(out)
	return out, nil
}

func (s *Store) commit(ctx context.Context, cs storage.Changeset) error {
	keys := make([]string, 0, len(cs.Reads)+len(cs.Writes))
	for id := range cs.Reads {
		keys = append(keys, s.objectKey(id))
	}
	for _, w := range cs.Writes {
		keys = append(keys, s.objectKey(w.Object.ID))
	}

	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		if err := s.validate(ctx, tx, cs); err != nil {
			return err
		}
		_, err := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			return s.queueWrites(ctx, pipe, cs.Writes)
		})
		return err
	}, keys...)
	if errors.Is(err, goredis.TxFailedErr) {
		return fmt.Errorf("%w: concurrent redis write", storage.ErrConflict)
	}
	return err
}

func (s *Store) validate(ctx context.Context, tx *goredis.Tx, cs storage.Changeset) error {
	for id, version := range cs.Reads {
		cur, err := s.read(ctx, tx, id)
		if errors.Is(err, storage.ErrNotFound) || (err == nil && cur.Version != version) {
			return fmt.Errorf("%w: %s", storage.ErrConflict, id)
		}
		if err != nil {
			return err
		}
	}
	for _, w := range cs.Writes {
		cur, err := s.read(ctx, tx, w.Object.ID)
		switch {
		case w.Op == storage.OpCreate && err == nil:
			return fmt.Errorf("%w: %s", storage.ErrConflict, w.Object.ID)
		case w.Op == storage.OpCreate && errors.Is(err, storage.ErrNotFound):
		case errors.Is(err, storage.ErrNotFound):
			return fmt.Errorf("%w: %s", storage.ErrConflict, w.Object.ID)
		case err != nil:
			return err
		case cur.Version != w.Prev.Version:
			return fmt.Errorf("%w: %s", storage.ErrConflict, w.Object.ID)
		}
	}
	return nil
}

func (s *Store) queueWrites(ctx context.Context, pipe goredis.Pipeliner, writes []storage.Write) error {
	for _, w := range writes {
		obj := w.Object
		switch w.Op {
		case storage.OpCreate, storage.OpUpdate:
			raw, err := json.Marshal(obj)
			if err != nil {
				return fmt.Errorf("encode %s: %w", obj.ID, err)
			}
			pipe.Set(ctx, s.objectKey(obj.ID), raw, 0)
			if w.Op == storage.OpUpdate && w.Prev.Owner != obj.Owner {
				pipe.SRem(ctx, s.ownerKey(w.Prev.Owner), string(obj.ID))
			}
			pipe.SAdd(ctx, s.ownerKey(obj.Owner), string(obj.ID))
			pipe.SAdd(ctx, s.kindKey(obj.Kind), string(obj.ID))
		case storage.OpDelete:
			pipe.Del(ctx, s.objectKey(obj.ID))
			pipe.SRem(ctx, s.ownerKey(w.Prev.Owner), string(obj.ID))
			pipe.SRem(ctx, s.kindKey(w.Prev.Kind), string(obj.ID))
		}
	}
	return nil
}

func decodeObject(raw []byte) (ledger.Object, error) {
	var obj ledger.Object
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ledger.Object{}, fmt.Errorf("decode object: %w", err)
	}
	return obj, nil
}
