package ledger

import (
	"encoding/json"
	"time"
)

// ID identifies a ledger object. IDs are never reused.
type ID string

// Address identifies an account that can own objects.
type Address string

// Kind classifies objects the ledger knows how to route.
type Kind string

const (
	KindItem   Kind = "item"
	KindLock   Kind = "lock"
	KindKey    Kind = "key"
	KindEscrow Kind = "escrow"
)

// OwnerKind tells how an object is owned.
type OwnerKind string

const (
	// OwnerAccount objects belong to an address and move with Transfer.
	OwnerAccount OwnerKind = "account"
	// OwnerObject objects are wrapped inside another object and cannot be
	// reached except through it.
	OwnerObject OwnerKind = "object"
	// OwnerShared objects may be acted on by anyone.
	OwnerShared OwnerKind = "shared"
)

// Owner is the current holder of an object.
type Owner struct {
	Kind OwnerKind `json:"kind"`
	Ref  string    `json:"ref,omitempty"`
}

// AccountOwner returns an owner for an address.
func AccountOwner(addr Address) Owner { return Owner{Kind: OwnerAccount, Ref: string(addr)} }

// ObjectOwner returns an owner for an object that wraps another.
func ObjectOwner(parent ID) Owner { return Owner{Kind: OwnerObject, Ref: string(parent)} }

// SharedOwner returns the shared owner.
func SharedOwner() Owner { return Owner{Kind: OwnerShared} }

// IsAccount reports whether addr owns the object directly.
func (o Owner) IsAccount(addr Address) bool {
	return o.Kind == OwnerAccount && o.Ref == string(addr)
}

// IsObject reports whether the object is wrapped by parent.
func (o Owner) IsObject(parent ID) bool {
	return o.Kind == OwnerObject && o.Ref == string(parent)
}

// String renders the owner as kind:ref, used as an index key by stores.
func (o Owner) String() string {
	if o.Ref == "" {
		return string(o.Kind)
	}
	return string(o.Kind) + ":" + o.Ref
}

// Object is the unit of storage and ownership. Data is opaque to the ledger.
type Object struct {
	ID        ID              `json:"id"`
	Kind      Kind            `json:"kind"`
	Type      string          `json:"type,omitempty"`
	Owner     Owner           `json:"owner"`
	Version   uint64          `json:"version"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Clone returns a deep copy of the object.
func (o Object) Clone() Object {
	if o.Data != nil {
		o.Data = append(json.RawMessage(nil), o.Data...)
	}
	return o
}

// Effects summarises what a committed atomic unit changed.
type Effects struct {
	Created     []ID `json:"created,omitempty"`
	Mutated     []ID `json:"mutated,omitempty"`
	Transferred []ID `json:"transferred,omitempty"`
	Destroyed   []ID `json:"destroyed,omitempty"`
}
