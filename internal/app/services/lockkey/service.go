package lockkey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/R3E-Network/lockswap/internal/app/domain/capability"
	"github.com/R3E-Network/lockswap/internal/app/domain/ledger"
	"github.com/R3E-Network/lockswap/internal/app/storage"
	"github.com/R3E-Network/lockswap/pkg/logger"
)

// Observer is told the outcome of every service operation.
type Observer func(op string, err error)

// Service runs each capability operation as its own atomic unit.
type Service struct {
	ledger     storage.Ledger
	log        *logger.Logger
	observer   Observer
	defaultAlg string
}

// New constructs a lock/key service.
func New(l storage.Ledger, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("lockkey")
	}
	return &Service{ledger: l, log: log}
}

// WithObserver installs an outcome hook and returns the service.
func (s *Service) WithObserver(o Observer) *Service {
	s.observer = o
	return s
}

// WithDefaultAlgorithm sets the commitment hash used by escrow requests that
// name none.
func (s *Service) WithDefaultAlgorithm(alg string) (*Service, error) {
	norm, err := NormalizeAlgorithm(alg)
	if err != nil {
		return nil, err
	}
	s.defaultAlg = norm
	return s, nil
}

func (s *Service) observe(op string, err error) {
	if s.observer != nil {
		s.observer(op, err)
	}
	if err != nil {
		s.log.WithError(err).WithField("op", op).Debug("operation failed")
	}
}

// Lock wraps an item owned by sender.
func (s *Service) Lock(ctx context.Context, sender ledger.Address, itemID ledger.ID) (lock capability.Lock, key capability.Key, err error) {
	defer func() { s.observe("lock", err) }()
	_, err = s.ledger.Execute(ctx, sender, func(tx storage.Tx) error {
		var err error
		lock, key, err = Create(tx, itemID)
		return err
	})
	if err != nil {
		return capability.Lock{}, capability.Key{}, err
	}
	s.log.Infof("locked item %s in lock %s", itemID, lock.ID)
	return lock, key, nil
}

// Unlock opens a lock with its key and delivers the item to sender, who must
// hold both capabilities.
func (s *Service) Unlock(ctx context.Context, sender ledger.Address, lockID, keyID ledger.ID) (itemID ledger.ID, err error) {
	defer func() { s.observe("unlock", err) }()
	_, err = s.ledger.Execute(ctx, sender, func(tx storage.Tx) error {
		if err := requireHeld(tx, lockID, keyID); err != nil {
			return err
		}
		var err error
		if itemID, err = Unlock(tx, lockID, keyID); err != nil {
			return err
		}
		return tx.Transfer(itemID, tx.Sender())
	})
	if err != nil {
		return "", err
	}
	s.log.Infof("unlocked lock %s, item %s delivered to %s", lockID, itemID, sender)
	return itemID, nil
}

// CanUnlock reads the committed lock and key and reports whether they pair.
func (s *Service) CanUnlock(ctx context.Context, lockID, keyID ledger.ID) (bool, error) {
	lockObj, err := s.ledger.Get(ctx, lockID)
	if err != nil {
		return false, err
	}
	keyObj, err := s.ledger.Get(ctx, keyID)
	if err != nil {
		return false, err
	}
	lock, err := DecodeLock(lockObj)
	if err != nil {
		return false, err
	}
	key, err := DecodeKey(keyObj)
	if err != nil {
		return false, err
	}
	return CanUnlock(lock, key), nil
}

// Swap executes one exchange. The sender must hold all four capabilities.
func (s *Service) Swap(ctx context.Context, sender ledger.Address, req SwapRequest) (res SwapResult, err error) {
	defer func() { s.observe("swap", err) }()
	res, err = s.swap(ctx, sender, req)
	if err != nil {
		return SwapResult{}, err
	}
	s.log.Infof("swapped item %s to %s and item %s to %s", res.Item1, req.Recipient2, res.Item2, req.Recipient1)
	return res, nil
}

func (s *Service) swap(ctx context.Context, sender ledger.Address, req SwapRequest) (res SwapResult, err error) {
	_, err = s.ledger.Execute(ctx, sender, func(tx storage.Tx) error {
		if err := requireHeld(tx, req.Lock1, req.Key1, req.Lock2, req.Key2); err != nil {
			return err
		}
		var err error
		res, err = Swap(tx, req)
		return err
	})
	return res, err
}

// BatchSwap executes every pairing as its own unit. Results are returned
// for all pairings; the error joins every failed pairing by index.
func (s *Service) BatchSwap(ctx context.Context, sender ledger.Address, batch BatchSwapRequest) ([]BatchResult, error) {
	pairs, err := batch.Pairings()
	if err != nil {
		s.observe("batch_swap", err)
		return nil, err
	}

	results := make([]BatchResult, len(pairs))
	var errs []error
	for i, req := range pairs {
		res, err := s.swap(ctx, sender, req)
		s.observe("swap", err)
		results[i] = BatchResult{Index: i, Result: res, Err: err}
		if err != nil {
			errs = append(errs, fmt.Errorf("pairing %d: %w", i, err))
		}
	}
	joined := errors.Join(errs...)
	s.observe("batch_swap", joined)
	if len(errs) > 0 {
		s.log.Warnf("batch swap: %d of %d pairings failed", len(errs), len(pairs))
	}
	return results, joined
}

// CreateEscrow seals an item owned by sender in a hash time-locked escrow.
func (s *Service) CreateEscrow(ctx context.Context, sender ledger.Address, req EscrowRequest) (esc capability.Escrow, err error) {
	defer func() { s.observe("create_escrow", err) }()
	if req.HashAlgorithm == "" {
		req.HashAlgorithm = s.defaultAlg
	}
	_, err = s.ledger.Execute(ctx, sender, func(tx storage.Tx) error {
		var err error
		esc, err = CreateEscrow(tx, req)
		return err
	})
	if err != nil {
		return capability.Escrow{}, err
	}
	s.log.Infof("escrow %s created for item %s, expires %s", esc.ID, req.ItemID, esc.Expiry)
	return esc, nil
}

// Claim releases an escrow to its beneficiary. No caller identity is needed.
func (s *Service) Claim(ctx context.Context, escrowID ledger.ID, secret []byte) (itemID ledger.ID, err error) {
	defer func() { s.observe("claim", err) }()
	_, err = s.ledger.Execute(ctx, "", func(tx storage.Tx) error {
		var err error
		itemID, err = Claim(tx, escrowID, secret)
		return err
	})
	if err != nil {
		return "", err
	}
	s.log.Infof("escrow %s claimed, item %s released", escrowID, itemID)
	return itemID, nil
}

// Refund returns an expired escrow to its refund recipient. No caller
// identity is needed.
func (s *Service) Refund(ctx context.Context, escrowID ledger.ID) (itemID ledger.ID, err error) {
	defer func() { s.observe("refund", err) }()
	_, err = s.ledger.Execute(ctx, "", func(tx storage.Tx) error {
		var err error
		itemID, err = Refund(tx, escrowID)
		return err
	})
	if err != nil {
		return "", err
	}
	s.log.Infof("escrow %s refunded, item %s returned", escrowID, itemID)
	return itemID, nil
}

// Escrow returns the committed view of an escrow.
func (s *Service) Escrow(ctx context.Context, escrowID ledger.ID) (capability.Escrow, error) {
	obj, err := s.ledger.Get(ctx, escrowID)
	if err != nil {
		return capability.Escrow{}, err
	}
	return DecodeEscrow(obj)
}

// ExpiredEscrows lists escrows whose refund path is open at now.
func (s *Service) ExpiredEscrows(ctx context.Context, now time.Time) ([]capability.Escrow, error) {
	objs, err := s.ledger.ListKind(ctx, ledger.KindEscrow)
	if err != nil {
		return nil, err
	}
	var out []capability.Escrow
	for _, obj := range objs {
		esc, err := DecodeEscrow(obj)
		if err != nil {
			s.log.WithError(err).Warnf("skipping unreadable escrow %s", obj.ID)
			continue
		}
		if esc.Expired(now) {
			out = append(out, esc)
		}
	}
	return out, nil
}

func requireHeld(tx storage.Tx, ids ...ledger.ID) error {
	for _, id := range ids {
		obj, err := tx.Get(id)
		if err != nil {
			return err
		}
		if err := requireOwner(obj, tx.Sender()); err != nil {
			return err
		}
	}
	return nil
}
