package lockkey

import (
	"errors"
	"fmt"

	"github.com/R3E-Network/lockswap/internal/app/domain/ledger"
	"github.com/R3E-Network/lockswap/internal/app/storage"
)

var (
	// ErrKeyMismatch means the key names a different lock.
	ErrKeyMismatch = errors.New("key does not belong to lock")
	// ErrLockMismatch means the lock names a different key.
	ErrLockMismatch = errors.New("lock does not accept key")

	ErrExpired          = errors.New("escrow expired")
	ErrNotYetExpired    = errors.New("escrow not yet expired")
	ErrWrongSecret      = errors.New("secret does not match commitment")
	ErrInvalidExpiry    = errors.New("expiry must be in the future")
	ErrInvalidHash      = errors.New("invalid secret hash")
	ErrUnsupportedHash  = errors.New("unsupported hash algorithm")
	ErrWrongKind        = errors.New("object has the wrong kind")
	ErrNotOwner         = errors.New("sender does not own object")
	ErrBatchLength      = errors.New("batch lists differ in length")
	ErrInvalidRecipient = errors.New("recipient is required")

	// ErrDenied is the transfer gate's veto, surfaced unchanged.
	ErrDenied = storage.ErrDenied
	// ErrAlreadyConsumed is returned when a capability or escrow was
	// destroyed by an earlier unit.
	ErrAlreadyConsumed = storage.ErrNotFound
)

// MismatchError describes a failed lock/key binding check.
type MismatchError struct {
	LockID ledger.ID
	KeyID  ledger.ID
	Err    error
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("lock %s, key %s: %v", e.LockID, e.KeyID, e.Err)
}

func (e *MismatchError) Unwrap() error { return e.Err }

// IsAlreadyConsumed reports whether err means the object no longer exists.
func IsAlreadyConsumed(err error) bool {
	return errors.Is(err, ErrAlreadyConsumed)
}

// Classify maps an operation error to a short label used for metrics and
// API error codes.
func Classify(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrKeyMismatch):
		return "key_mismatch"
	case errors.Is(err, ErrLockMismatch):
		return "lock_mismatch"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrNotYetExpired):
		return "not_yet_expired"
	case errors.Is(err, ErrWrongSecret):
		return "wrong_secret"
	case errors.Is(err, ErrInvalidExpiry):
		return "invalid_expiry"
	case errors.Is(err, ErrDenied):
		return "denied"
	case errors.Is(err, ErrAlreadyConsumed):
		return "already_consumed"
	case errors.Is(err, ErrNotOwner):
		return "not_owner"
	case errors.Is(err, ErrWrongKind):
		return "wrong_kind"
	case errors.Is(err, ErrInvalidHash), errors.Is(err, ErrUnsupportedHash),
		errors.Is(err, ErrBatchLength), errors.Is(err, ErrInvalidRecipient),
		errors.Is(err, storage.ErrInvalidRecipient):
		return "invalid_request"
	case errors.Is(err, storage.ErrStranded):
		return "stranded"
	case errors.Is(err, storage.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
