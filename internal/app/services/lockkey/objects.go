package lockkey

import (
	"encoding/json"
	"fmt"

	"github.com/R3E-Network/lockswap/internal/app/domain/capability"
	"github.com/R3E-Network/lockswap/internal/app/domain/ledger"
	"github.com/R3E-Network/lockswap/internal/app/storage"
)

func loadAs(tx storage.Tx, id ledger.ID, kind ledger.Kind, v interface{}) (ledger.Object, error) {
	obj, err := tx.Get(id)
	if err != nil {
		return ledger.Object{}, err
	}
	if err := decodeAs(obj, kind, v); err != nil {
		return ledger.Object{}, err
	}
	return obj, nil
}

func decodeAs(obj ledger.Object, kind ledger.Kind, v interface{}) error {
	if obj.Kind != kind {
		return fmt.Errorf("%w: %s is a %s, want %s", ErrWrongKind, obj.ID, obj.Kind, kind)
	}
	if err := json.Unmarshal(obj.Data, v); err != nil {
		return fmt.Errorf("decode %s %s: %w", kind, obj.ID, err)
	}
	return nil
}

func newObject(id ledger.ID, kind ledger.Kind, owner ledger.Owner, v interface{}) (ledger.Object, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return ledger.Object{}, fmt.Errorf("encode %s: %w", kind, err)
	}
	return ledger.Object{ID: id, Kind: kind, Owner: owner, Data: data}, nil
}

// DecodeLock reads a lock view from a ledger object.
func DecodeLock(obj ledger.Object) (capability.Lock, error) {
	var lock capability.Lock
	err := decodeAs(obj, ledger.KindLock, &lock)
	return lock, err
}

// DecodeKey reads a key view from a ledger object.
func DecodeKey(obj ledger.Object) (capability.Key, error) {
	var key capability.Key
	err := decodeAs(obj, ledger.KindKey, &key)
	return key, err
}

// DecodeEscrow reads an escrow view from a ledger object.
func DecodeEscrow(obj ledger.Object) (capability.Escrow, error) {
	var esc capability.Escrow
	err := decodeAs(obj, ledger.KindEscrow, &esc)
	return esc, err
}

func requireOwner(obj ledger.Object, sender ledger.Address) error {
	if !obj.Owner.IsAccount(sender) {
		return fmt.Errorf("%w: %s %s", ErrNotOwner, obj.Kind, obj.ID)
	}
	return nil
}
