package capability

import (
	"time"

	"github.com/R3E-Network/lockswap/internal/app/domain/ledger"
)

// Lock wraps exactly one item. KeyID is fixed at creation.
type Lock struct {
	ID     ledger.ID `json:"id"`
	KeyID  ledger.ID `json:"key_id"`
	ItemID ledger.ID `json:"item_id"`
}

// Key is the single-use capability that opens the lock it names.
type Key struct {
	ID     ledger.ID `json:"id"`
	LockID ledger.ID `json:"lock_id"`
}

// Escrow is a hash time-locked wrapper around one lock/key pair.
type Escrow struct {
	ID              ledger.ID      `json:"id"`
	LockID          ledger.ID      `json:"lock_id"`
	KeyID           ledger.ID      `json:"key_id"`
	SecretHash      string         `json:"secret_hash"`
	HashAlgorithm   string         `json:"hash_algorithm"`
	Expiry          time.Time      `json:"expiry"`
	Beneficiary     ledger.Address `json:"beneficiary"`
	RefundRecipient ledger.Address `json:"refund_recipient"`
	Creator         ledger.Address `json:"creator"`
}

// Expired reports whether the refund path is open at now.
func (e Escrow) Expired(now time.Time) bool {
	return !now.Before(e.Expiry)
}
