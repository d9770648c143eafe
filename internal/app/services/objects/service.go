package objects

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/R3E-Network/lockswap/internal/app/domain/ledger"
	"github.com/R3E-Network/lockswap/internal/app/storage"
	"github.com/R3E-Network/lockswap/pkg/logger"
)

var (
	ErrNotOwner    = errors.New("sender does not own object")
	ErrInvalidData = errors.New("item data must be a JSON document")
)

// Service registers opaque items and moves objects between accounts.
type Service struct {
	ledger storage.Ledger
	log    *logger.Logger
}

// New constructs an objects service.
func New(l storage.Ledger, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("objects")
	}
	return &Service{ledger: l, log: log}
}

// RegisterItem creates an item owned by sender. The ledger never inspects
// data; itemType is only used by transfer gates.
func (s *Service) RegisterItem(ctx context.Context, sender ledger.Address, itemType string, data json.RawMessage) (ledger.Object, error) {
	if sender == "" {
		return ledger.Object{}, fmt.Errorf("%w: sender", storage.ErrInvalidRecipient)
	}
	if len(data) > 0 && !json.Valid(data) {
		return ledger.Object{}, ErrInvalidData
	}

	var item ledger.Object
	_, err := s.ledger.Execute(ctx, sender, func(tx storage.Tx) error {
		id, err := tx.NewID()
		if err != nil {
			return err
		}
		obj := ledger.Object{
			ID:    id,
			Kind:  ledger.KindItem,
			Type:  strings.TrimSpace(itemType),
			Owner: ledger.AccountOwner(tx.Sender()),
			Data:  data,
		}
		if err := tx.Create(obj); err != nil {
			return err
		}
		item, err = tx.Get(id)
		return err
	})
	if err != nil {
		return ledger.Object{}, err
	}
	s.log.Debugf("registered item %s for %s", item.ID, sender)
	return item, nil
}

func (s *Service) Get(ctx context.Context, id ledger.ID) (ledger.Object, error) {
	return s.ledger.Get(ctx, id)
}

// ListOwned lists objects held directly by an account.
func (s *Service) ListOwned(ctx context.Context, owner ledger.Address) ([]ledger.Object, error) {
	return s.ledger.ListOwned(ctx, ledger.AccountOwner(owner))
}

// Transfer moves an object the sender holds to another account, subject to
// the transfer gate.
func (s *Service) Transfer(ctx context.Context, sender ledger.Address, id ledger.ID, to ledger.Address) (ledger.Object, error) {
	var out ledger.Object
	_, err := s.ledger.Execute(ctx, sender, func(tx storage.Tx) error {
		obj, err := tx.Get(id)
		if err != nil {
			return err
		}
		if !obj.Owner.IsAccount(tx.Sender()) {
			return fmt.Errorf("%w: %s", ErrNotOwner, id)
		}
		if err := tx.Transfer(id, to); err != nil {
			return err
		}
		out, err = tx.Get(id)
		return err
	})
	if err != nil {
		return ledger.Object{}, err
	}
	s.log.Infof("transferred %s %s from %s to %s", out.Kind, id, sender, to)
	return out, nil
}
