package compliance

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/lockswap/internal/app/domain/ledger"
	"github.com/R3E-Network/lockswap/internal/app/storage"
)

const denyYAML = `
recipients:
  - value: mallory
    reason: sanctioned
item_types:
  - value: relic
`

func TestDenyListFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deny.yaml")
	if err := os.WriteFile(path, []byte(denyYAML), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	list, err := LoadDenyList(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if list.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", list.Len())
	}

	ctx := context.Background()
	sword := ledger.Object{ID: "o1", Kind: ledger.KindItem, Type: "sword"}
	relic := ledger.Object{ID: "o2", Kind: ledger.KindItem, Type: "relic"}

	err = list.CheckTransfer(ctx, sword, "mallory")
	if !errors.Is(err, storage.ErrDenied) {
		t.Fatalf("expected denied, got %v", err)
	}
	var gerr *GateError
	if !errors.As(err, &gerr) || gerr.Reason != "sanctioned" {
		t.Fatalf("expected sanctioned gate error, got %v", err)
	}
	if err := list.CheckTransfer(ctx, relic, "bob"); !errors.Is(err, storage.ErrDenied) {
		t.Fatalf("expected relic to be denied, got %v", err)
	}
	if err := list.CheckTransfer(ctx, sword, "bob"); err != nil {
		t.Fatalf("expected bob to receive a sword, got %v", err)
	}

	list.AllowRecipient("mallory")
	list.AllowItemType("relic")
	if err := list.CheckTransfer(ctx, relic, "mallory"); err != nil {
		t.Fatalf("expected entries to be removed, got %v", err)
	}
}

func TestParseDenyListRejectsEmptyValues(t *testing.T) {
	if _, err := ParseDenyList([]byte("recipients:\n  - reason: nobody\n")); err == nil {
		t.Fatalf("expected error for entry without value")
	}
	if _, err := ParseDenyList([]byte("recipients: [")); err == nil {
		t.Fatalf("expected yaml error")
	}
}

func TestAddressPolicy(t *testing.T) {
	valid := address.Uint160ToString(util.Uint160{1, 2, 3})
	obj := ledger.Object{ID: "o1"}

	if err := (AddressPolicy{}).CheckTransfer(context.Background(), obj, ledger.Address(valid)); err != nil {
		t.Fatalf("expected %s to pass, got %v", valid, err)
	}
	if err := (AddressPolicy{}).CheckTransfer(context.Background(), obj, "bob"); !errors.Is(err, storage.ErrDenied) {
		t.Fatalf("expected denied, got %v", err)
	}
}

func TestChainFirstVetoWins(t *testing.T) {
	first := NewDenyList()
	first.DenyRecipient("mallory", "first")
	second := NewDenyList()
	second.DenyRecipient("mallory", "second")

	err := Chain{AllowAll{}, nil, first, second}.CheckTransfer(context.Background(), ledger.Object{ID: "o"}, "mallory")
	var gerr *GateError
	if !errors.As(err, &gerr) || gerr.Reason != "first" {
		t.Fatalf("expected first veto, got %v", err)
	}
	if err := (Chain{}).CheckTransfer(context.Background(), ledger.Object{}, "bob"); err != nil {
		t.Fatalf("empty chain should allow, got %v", err)
	}
}
