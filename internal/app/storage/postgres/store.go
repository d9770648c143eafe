package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/R3E-Network/lockswap/internal/app/domain/ledger"
	"github.com/R3E-Network/lockswap/internal/app/storage"
)

// Store is a ledger backed by PostgreSQL. Commits are guarded by the object
// version column, so concurrent units race optimistically.
type Store struct {
	db *sqlx.DB
	rt storage.Runtime
}

var _ storage.Ledger = (*Store)(nil)

// New creates a Store using the provided database handle. The schema is
// created by migrations.Apply.
func New(db *sqlx.DB, rt storage.Runtime) *Store {
	return &Store{db: db, rt: rt.WithDefaults()}
}

type objectRow struct {
	ID        string    `db:"id"`
	Kind      string    `db:"kind"`
	Type      string    `db:"type"`
	OwnerKind string    `db:"owner_kind"`
	Owner     string    `db:"owner"`
	Version   int64     `db:"version"`
	Data      []byte    `db:"data"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r objectRow) object() ledger.Object {
	obj := ledger.Object{
		ID:        ledger.ID(r.ID),
		Kind:      ledger.Kind(r.Kind),
		Type:      r.Type,
		Owner:     ledger.Owner{Kind: ledger.OwnerKind(r.OwnerKind), Ref: r.Owner},
		Version:   uint64(r.Version),
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	if len(r.Data) > 0 {
		obj.Data = append([]byte(nil), r.Data...)
	}
	return obj
}

const selectColumns = `SELECT id, kind, type, owner_kind, owner, version, data, created_at, updated_at FROM ledger_objects`

// Execute runs fn as one atomic unit.
func (s *Store) Execute(ctx context.Context, sender ledger.Address, fn func(storage.Tx) error) (ledger.Effects, error) {
	return storage.Run(ctx, s.rt, sender, s.Get, s.commit, fn)
}

func (s *Store) Get(ctx context.Context, id ledger.ID) (ledger.Object, error) {
	var row objectRow
	err := s.db.GetContext(ctx, &row, selectColumns+` WHERE id = $1`, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Object{}, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	if err != nil {
		return ledger.Object{}, err
	}
	return row.object(), nil
}

func (s *Store) ListOwned(ctx context.Context, owner ledger.Owner) ([]ledger.Object, error) {
	var rows []objectRow
	err := s.db.SelectContext(ctx, &rows, selectColumns+`
		WHERE owner_kind = $1 AND owner = $2
		ORDER BY created_at, id
	`, string(owner.Kind), owner.Ref)
	if err != nil {
		return nil, err
	}
	return toObjects(rows), nil
}

func (s *Store) ListKind(ctx context.Context, kind ledger.Kind) ([]ledger.Object, error) {
	var rows []objectRow
	err := s.db.SelectContext(ctx, &rows, selectColumns+`
		WHERE kind = $1
		ORDER BY created_at, id
	`, string(kind))
	if err != nil {
		return nil, err
	}
	return toObjects(rows), nil
}

// Serialization failures and deadlocks mean another unit got there first.
const (
	codeSerializationFailure pq.ErrorCode = "40001"
	codeDeadlockDetected     pq.ErrorCode = "40P01"
)

func (s *Store) commit(ctx context.Context, cs storage.Changeset) error {
	err := s.apply(ctx, cs)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && (pqErr.Code == codeSerializationFailure || pqErr.Code == codeDeadlockDetected) {
		return fmt.Errorf("%w: %s", storage.ErrConflict, pqErr.Message)
	}
	return err
}

func (s *Store) apply(ctx context.Context, cs storage.Changeset) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	reads := make([]ledger.ID, 0, len(cs.Reads))
	for id := range cs.Reads {
		reads = append(reads, id)
	}
	sort.Slice(reads, func(i, j int) bool { return reads[i] < reads[j] })
	for _, id := range reads {
		var version int64
		err = tx.GetContext(ctx, &version, `SELECT version FROM ledger_objects WHERE id = $1 FOR SHARE`, string(id))
		if errors.Is(err, sql.ErrNoRows) || (err == nil && uint64(version) != cs.Reads[id]) {
			return fmt.Errorf("%w: %s", storage.ErrConflict, id)
		}
		if err != nil {
			return err
		}
	}

	// Row locks are taken in id order so units touching the same objects
	// queue instead of deadlocking.
	writes := append([]storage.Write(nil), cs.Writes...)
	sort.SliceStable(writes, func(i, j int) bool { return writes[i].Object.ID < writes[j].Object.ID })
	for _, w := range writes {
		if err = applyWrite(ctx, tx, w); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func applyWrite(ctx context.Context, tx *sqlx.Tx, w storage.Write) error {
	obj := w.Object
	var (
		result sql.Result
		err    error
	)
	switch w.Op {
	case storage.OpCreate:
		result, err = tx.ExecContext(ctx, `
			INSERT INTO ledger_objects (id, kind, type, owner_kind, owner, version, data, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO NOTHING
		`, string(obj.ID), string(obj.Kind), obj.Type, string(obj.Owner.Kind), obj.Owner.Ref,
			int64(obj.Version), nullableJSON(obj.Data), obj.CreatedAt, obj.UpdatedAt)
	case storage.OpUpdate:
		result, err = tx.ExecContext(ctx, `
			UPDATE ledger_objects
			SET type = $3, owner_kind = $4, owner = $5, version = $6, data = $7, updated_at = $8
			WHERE id = $1 AND version = $2
		`, string(obj.ID), int64(w.Prev.Version), obj.Type, string(obj.Owner.Kind), obj.Owner.Ref,
			int64(obj.Version), nullableJSON(obj.Data), obj.UpdatedAt)
	case storage.OpDelete:
		result, err = tx.ExecContext(ctx, `
			DELETE FROM ledger_objects WHERE id = $1 AND version = $2
		`, string(obj.ID), int64(w.Prev.Version))
	default:
		return fmt.Errorf("unknown write op %d", w.Op)
	}
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", storage.ErrConflict, obj.ID)
	}
	return nil
}

// nullableJSON sends data as text so the json column keeps it byte for byte.
func nullableJSON(data []byte) interface{} {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}

func toObjects(rows []objectRow) []ledger.Object {
	out := make([]ledger.Object, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.object())
	}
	return out
}
