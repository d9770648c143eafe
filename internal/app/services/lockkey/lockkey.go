// Package lockkey implements the lock/key capability pair, the atomic swap
// built from it and the hash time-locked escrow.
//
// The package level functions run inside a caller supplied storage.Tx so they
// compose into larger atomic units. Service wraps each of them in its own
// unit.
package lockkey

import (
	"fmt"

	"github.com/R3E-Network/lockswap/internal/app/domain/capability"
	"github.com/R3E-Network/lockswap/internal/app/domain/ledger"
	"github.com/R3E-Network/lockswap/internal/app/storage"
)

// Create wraps itemID in a new lock and returns the lock with its key. Both
// are owned by the sender, who must own the item.
func Create(tx storage.Tx, itemID ledger.ID) (capability.Lock, capability.Key, error) {
	item, err := tx.Get(itemID)
	if err != nil {
		return capability.Lock{}, capability.Key{}, err
	}
	if item.Owner.Kind == ledger.OwnerShared {
		return capability.Lock{}, capability.Key{}, fmt.Errorf("%w: shared object %s cannot be locked", ErrWrongKind, itemID)
	}
	if err := requireOwner(item, tx.Sender()); err != nil {
		return capability.Lock{}, capability.Key{}, err
	}

	lockID, err := tx.NewID()
	if err != nil {
		return capability.Lock{}, capability.Key{}, err
	}
	keyID, err := tx.NewID()
	if err != nil {
		return capability.Lock{}, capability.Key{}, err
	}

	lock := capability.Lock{ID: lockID, KeyID: keyID, ItemID: itemID}
	key := capability.Key{ID: keyID, LockID: lockID}
	owner := ledger.AccountOwner(tx.Sender())

	lockObj, err := newObject(lockID, ledger.KindLock, owner, lock)
	if err != nil {
		return capability.Lock{}, capability.Key{}, err
	}
	keyObj, err := newObject(keyID, ledger.KindKey, owner, key)
	if err != nil {
		return capability.Lock{}, capability.Key{}, err
	}
	if err := tx.Create(lockObj); err != nil {
		return capability.Lock{}, capability.Key{}, err
	}
	if err := tx.Create(keyObj); err != nil {
		return capability.Lock{}, capability.Key{}, err
	}
	if err := tx.Wrap(itemID, lockID); err != nil {
		return capability.Lock{}, capability.Key{}, err
	}
	return lock, key, nil
}

// CanUnlock reports whether key opens lock. It never mutates anything.
func CanUnlock(lock capability.Lock, key capability.Key) bool {
	return checkPair(lock, key) == nil
}

// checkPair verifies the key side first so a key for another lock reports
// ErrKeyMismatch even when the lock side also disagrees.
func checkPair(lock capability.Lock, key capability.Key) error {
	if key.LockID != lock.ID {
		return &MismatchError{LockID: lock.ID, KeyID: key.ID, Err: ErrKeyMismatch}
	}
	if lock.KeyID != key.ID {
		return &MismatchError{LockID: lock.ID, KeyID: key.ID, Err: ErrLockMismatch}
	}
	return nil
}

// Unlock destroys lockID and keyID and returns the id of the released item.
// The item is left wrapped in the destroyed lock; the caller must transfer
// it within the same unit or the commit fails with storage.ErrStranded.
func Unlock(tx storage.Tx, lockID, keyID ledger.ID) (ledger.ID, error) {
	var lock capability.Lock
	if _, err := loadAs(tx, lockID, ledger.KindLock, &lock); err != nil {
		return "", err
	}
	var key capability.Key
	if _, err := loadAs(tx, keyID, ledger.KindKey, &key); err != nil {
		return "", err
	}
	if err := checkPair(lock, key); err != nil {
		return "", err
	}

	item, err := tx.Get(lock.ItemID)
	if err != nil {
		return "", fmt.Errorf("item %s of lock %s: %w", lock.ItemID, lockID, err)
	}
	if !item.Owner.IsObject(lockID) {
		return "", fmt.Errorf("item %s is not held by lock %s", lock.ItemID, lockID)
	}

	if err := tx.Destroy(keyID); err != nil {
		return "", err
	}
	if err := tx.Destroy(lockID); err != nil {
		return "", err
	}
	return lock.ItemID, nil
}
