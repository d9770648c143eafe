package compliance

import (
	"context"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"

	"github.com/R3E-Network/lockswap/internal/app/domain/ledger"
	"github.com/R3E-Network/lockswap/internal/app/storage"
)

// AddressPolicy only lets objects move to valid Neo N3 addresses.
type AddressPolicy struct{}

var _ storage.Gate = AddressPolicy{}

func (AddressPolicy) CheckTransfer(_ context.Context, obj ledger.Object, to ledger.Address) error {
	if _, err := address.StringToUint160(string(to)); err != nil {
		return &GateError{Gate: "address-policy", ObjectID: obj.ID, Recipient: to, Reason: "not a Neo N3 address: " + err.Error()}
	}
	return nil
}
