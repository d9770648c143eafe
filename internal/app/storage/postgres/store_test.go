package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/R3E-Network/lockswap/internal/app/domain/ledger"
	"github.com/R3E-Network/lockswap/internal/app/storage"
	"github.com/R3E-Network/lockswap/internal/platform/migrations"
)

var columns = []string{"id", "kind", "type", "owner_kind", "owner", "version", "data", "created_at", "updated_at"}

func newMockStore(t *testing.T, rt storage.Runtime) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres"), rt), mock
}

func itemRow(id, owner string, version int64) *sqlmock.Rows {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(columns).
		AddRow(id, "item", "sword", "account", owner, version, []byte(`{"power":3}`), created, created)
}

func TestGetMapsRows(t *testing.T) {
	store, mock := newMockStore(t, storage.Runtime{})
	mock.ExpectQuery("SELECT id, kind").WithArgs("item-1").WillReturnRows(itemRow("item-1", "alice", 4))

	obj, err := store.Get(context.Background(), "item-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if obj.Kind != ledger.KindItem || !obj.Owner.IsAccount("alice") || obj.Version != 4 || string(obj.Data) != `{"power":3}` {
		t.Fatalf("unexpected object %+v", obj)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetMissingIsNotFound(t *testing.T) {
	store, mock := newMockStore(t, storage.Runtime{})
	mock.ExpectQuery("SELECT id, kind").WithArgs("gone").WillReturnError(sql.ErrNoRows)

	if _, err := store.Get(context.Background(), "gone"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestExecuteCommitsVersionGuardedUpdate(t *testing.T) {
	store, mock := newMockStore(t, storage.Runtime{})
	mock.ExpectQuery("SELECT id, kind").WithArgs("item-1").WillReturnRows(itemRow("item-1", "alice", 1))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE ledger_objects").
		WithArgs("item-1", int64(1), "sword", "account", "bob", int64(2), `{"power":3}`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	effects, err := store.Execute(context.Background(), "alice", func(tx storage.Tx) error {
		return tx.Transfer("item-1", "bob")
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(effects.Transferred) != 1 {
		t.Fatalf("unexpected effects %+v", effects)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestExecuteRetriesOnStaleVersion(t *testing.T) {
	conflicts := 0
	store, mock := newMockStore(t, storage.Runtime{OnConflict: func(int) { conflicts++ }})

	mock.ExpectQuery("SELECT id, kind").WithArgs("item-1").WillReturnRows(itemRow("item-1", "alice", 1))
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM ledger_objects").WithArgs("item-1", int64(1)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()
	mock.ExpectQuery("SELECT id, kind").WithArgs("item-1").WillReturnError(sql.ErrNoRows)

	_, err := store.Execute(context.Background(), "alice", func(tx storage.Tx) error {
		return tx.Destroy("item-1")
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found after re-execution, got %v", err)
	}
	if conflicts != 1 {
		t.Fatalf("expected one conflict, got %d", conflicts)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestExecuteRetriesOnDeadlock(t *testing.T) {
	conflicts := 0
	store, mock := newMockStore(t, storage.Runtime{OnConflict: func(int) { conflicts++ }})

	mock.ExpectQuery("SELECT id, kind").WithArgs("item-1").WillReturnRows(itemRow("item-1", "alice", 1))
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM ledger_objects").WithArgs("item-1", int64(1)).
		WillReturnError(&pq.Error{Code: "40P01", Message: "deadlock detected"})
	mock.ExpectRollback()
	mock.ExpectQuery("SELECT id, kind").WithArgs("item-1").WillReturnError(sql.ErrNoRows)

	_, err := store.Execute(context.Background(), "alice", func(tx storage.Tx) error {
		return tx.Destroy("item-1")
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found after re-execution, got %v", err)
	}
	if conflicts != 1 {
		t.Fatalf("expected the deadlock to count as one conflict, got %d", conflicts)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCommitAppliesWritesInIDOrder(t *testing.T) {
	store, mock := newMockStore(t, storage.Runtime{})
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM ledger_objects").WithArgs("lock-a", int64(1)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM ledger_objects").WithArgs("lock-b", int64(1)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.commit(context.Background(), storage.Changeset{
		Writes: []storage.Write{
			{Op: storage.OpDelete, Object: ledger.Object{ID: "lock-b"}, Prev: ledger.Object{ID: "lock-b", Version: 1}},
			{Op: storage.OpDelete, Object: ledger.Object{ID: "lock-a"}, Prev: ledger.Object{ID: "lock-a", Version: 1}},
		},
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCommitValidatesReadVersions(t *testing.T) {
	store, mock := newMockStore(t, storage.Runtime{})
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT version FROM ledger_objects").WithArgs("lock-1").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(3)))
	mock.ExpectRollback()

	err := store.commit(context.Background(), storage.Changeset{
		Reads:  map[ledger.ID]uint64{"lock-1": 2},
		Writes: []storage.Write{{Op: storage.OpDelete, Object: ledger.Object{ID: "key-1"}, Prev: ledger.Object{ID: "key-1", Version: 1}}},
	})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := migrations.Apply(ctx, db.DB); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := New(db, storage.Runtime{})

	var id ledger.ID
	if _, err := store.Execute(ctx, "alice", func(tx storage.Tx) error {
		var err error
		if id, err = tx.NewID(); err != nil {
			return err
		}
		return tx.Create(ledger.Object{ID: id, Kind: ledger.KindItem, Owner: ledger.AccountOwner("alice")})
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Execute(ctx, "alice", func(tx storage.Tx) error {
		return tx.Transfer(id, "bob")
	}); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	owned, err := store.ListOwned(ctx, ledger.AccountOwner("bob"))
	if err != nil {
		t.Fatalf("list owned: %v", err)
	}
	found := false
	for _, obj := range owned {
		found = found || obj.ID == id
	}
	if !found {
		t.Fatalf("expected bob to own %s", id)
	}
}
