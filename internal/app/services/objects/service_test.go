package objects

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/R3E-Network/lockswap/internal/app/domain/ledger"
	"github.com/R3E-Network/lockswap/internal/app/services/compliance"
	"github.com/R3E-Network/lockswap/internal/app/storage"
	"github.com/R3E-Network/lockswap/internal/app/storage/memory"
)

func TestRegisterAndTransfer(t *testing.T) {
	deny := compliance.NewDenyList()
	deny.DenyRecipient("mallory", "sanctioned")
	svc := New(memory.New(storage.Runtime{Gate: deny}), nil)
	ctx := context.Background()

	item, err := svc.RegisterItem(ctx, "alice", " sword ", json.RawMessage(`{"power":3}`))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if item.Type != "sword" || !item.Owner.IsAccount("alice") || item.Version != 1 {
		t.Fatalf("unexpected item %+v", item)
	}

	if _, err := svc.Transfer(ctx, "bob", item.ID, "carol"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected not owner, got %v", err)
	}
	if _, err := svc.Transfer(ctx, "alice", item.ID, "mallory"); !errors.Is(err, storage.ErrDenied) {
		t.Fatalf("expected denied, got %v", err)
	}

	moved, err := svc.Transfer(ctx, "alice", item.ID, "bob")
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if !moved.Owner.IsAccount("bob") {
		t.Fatalf("expected bob to own item, got %+v", moved.Owner)
	}

	owned, err := svc.ListOwned(ctx, "bob")
	if err != nil || len(owned) != 1 {
		t.Fatalf("expected one item for bob, got %v %v", owned, err)
	}
	if got, err := svc.Get(ctx, item.ID); err != nil || got.Version != 2 {
		t.Fatalf("expected version 2, got %+v %v", got, err)
	}
	if _, err := svc.Get(ctx, ledger.ID("missing")); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRegisterRejectsInvalidData(t *testing.T) {
	svc := New(memory.New(storage.Runtime{}), nil)
	if _, err := svc.RegisterItem(context.Background(), "alice", "sword", json.RawMessage(`{`)); !errors.Is(err, ErrInvalidData) {
		t.Fatalf("expected invalid data, got %v", err)
	}
	if _, err := svc.RegisterItem(context.Background(), "", "sword", nil); err == nil {
		t.Fatalf("expected error for empty sender")
	}
}
