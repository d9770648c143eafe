package lockkey

import (
	"fmt"
	"time"

	"github.com/R3E-Network/lockswap/internal/app/domain/capability"
	"github.com/R3E-Network/lockswap/internal/app/domain/ledger"
	"github.com/R3E-Network/lockswap/internal/app/storage"
)

// EscrowRequest describes a hash time-locked escrow.
type EscrowRequest struct {
	ItemID          ledger.ID      `json:"item_id"`
	SecretHash      string         `json:"secret_hash"`
	HashAlgorithm   string         `json:"hash_algorithm,omitempty"`
	Expiry          time.Time      `json:"expiry"`
	Beneficiary     ledger.Address `json:"beneficiary"`
	RefundRecipient ledger.Address `json:"refund_recipient"`
}

// CreateEscrow locks itemID and seals the lock and key inside a new shared
// escrow. Expiry must be strictly after the unit's time.
func CreateEscrow(tx storage.Tx, req EscrowRequest) (capability.Escrow, error) {
	if !req.Expiry.After(tx.Now()) {
		return capability.Escrow{}, fmt.Errorf("%w: %s is not after %s", ErrInvalidExpiry,
			req.Expiry.UTC().Format(time.RFC3339), tx.Now().Format(time.RFC3339))
	}
	alg, err := NormalizeAlgorithm(req.HashAlgorithm)
	if err != nil {
		return capability.Escrow{}, err
	}
	if _, err := parseCommitment(req.SecretHash); err != nil {
		return capability.Escrow{}, err
	}
	if req.Beneficiary == "" || req.RefundRecipient == "" {
		return capability.Escrow{}, fmt.Errorf("%w: beneficiary and refund recipient", ErrInvalidRecipient)
	}

	lock, key, err := Create(tx, req.ItemID)
	if err != nil {
		return capability.Escrow{}, err
	}
	id, err := tx.NewID()
	if err != nil {
		return capability.Escrow{}, err
	}

	esc := capability.Escrow{
		ID:              id,
		LockID:          lock.ID,
		KeyID:           key.ID,
		SecretHash:      req.SecretHash,
		HashAlgorithm:   alg,
		Expiry:          req.Expiry.UTC(),
		Beneficiary:     req.Beneficiary,
		RefundRecipient: req.RefundRecipient,
		Creator:         tx.Sender(),
	}
	obj, err := newObject(id, ledger.KindEscrow, ledger.SharedOwner(), esc)
	if err != nil {
		return capability.Escrow{}, err
	}
	if err := tx.Create(obj); err != nil {
		return capability.Escrow{}, err
	}
	if err := tx.Wrap(lock.ID, id); err != nil {
		return capability.Escrow{}, err
	}
	if err := tx.Wrap(key.ID, id); err != nil {
		return capability.Escrow{}, err
	}
	return esc, nil
}

// Claim releases the escrowed item to the beneficiary. Anyone holding the
// secret may call it before expiry.
func Claim(tx storage.Tx, escrowID ledger.ID, secret []byte) (ledger.ID, error) {
	var esc capability.Escrow
	if _, err := loadAs(tx, escrowID, ledger.KindEscrow, &esc); err != nil {
		return "", err
	}
	if esc.Expired(tx.Now()) {
		return "", fmt.Errorf("%w: escrow %s expired at %s", ErrExpired, escrowID, esc.Expiry.Format(time.RFC3339))
	}
	ok, err := secretMatches(esc.HashAlgorithm, esc.SecretHash, secret)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: escrow %s", ErrWrongSecret, escrowID)
	}
	return release(tx, esc, esc.Beneficiary)
}

// Refund returns the escrowed item to the refund recipient. Anyone may call
// it once the expiry is reached.
func Refund(tx storage.Tx, escrowID ledger.ID) (ledger.ID, error) {
	var esc capability.Escrow
	if _, err := loadAs(tx, escrowID, ledger.KindEscrow, &esc); err != nil {
		return "", err
	}
	if !esc.Expired(tx.Now()) {
		return "", fmt.Errorf("%w: escrow %s expires at %s", ErrNotYetExpired, escrowID, esc.Expiry.Format(time.RFC3339))
	}
	return release(tx, esc, esc.RefundRecipient)
}

func release(tx storage.Tx, esc capability.Escrow, to ledger.Address) (ledger.ID, error) {
	itemID, err := Unlock(tx, esc.LockID, esc.KeyID)
	if err != nil {
		return "", err
	}
	if err := tx.Destroy(esc.ID); err != nil {
		return "", err
	}
	if err := tx.Transfer(itemID, to); err != nil {
		return "", err
	}
	return itemID, nil
}
