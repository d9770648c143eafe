package compliance

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/lockswap/internal/app/domain/ledger"
	"github.com/R3E-Network/lockswap/internal/app/storage"
)

// DenyListFile is the YAML layout read by LoadDenyList.
type DenyListFile struct {
	Recipients []DenyEntry `yaml:"recipients"`
	ItemTypes  []DenyEntry `yaml:"item_types"`
}

// DenyEntry names a denied value and why.
type DenyEntry struct {
	Value  string `yaml:"value"`
	Reason string `yaml:"reason"`
}

// DenyList vetoes transfers to denied recipients and of denied item types.
// It is safe for concurrent use.
type DenyList struct {
	mu         sync.RWMutex
	recipients map[ledger.Address]string
	itemTypes  map[string]string
}

var _ storage.Gate = (*DenyList)(nil)

// NewDenyList returns an empty list.
func NewDenyList() *DenyList {
	return &DenyList{
		recipients: make(map[ledger.Address]string),
		itemTypes:  make(map[string]string),
	}
}

// LoadDenyList reads a YAML deny list from path.
func LoadDenyList(path string) (*DenyList, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read deny list: %w", err)
	}
	return ParseDenyList(raw)
}

// ParseDenyList decodes a YAML deny list.
func ParseDenyList(raw []byte) (*DenyList, error) {
	var file DenyListFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse deny list: %w", err)
	}
	list := NewDenyList()
	for _, e := range file.Recipients {
		if strings.TrimSpace(e.Value) == "" {
			return nil, fmt.Errorf("parse deny list: recipient entry without value")
		}
		list.DenyRecipient(ledger.Address(strings.TrimSpace(e.Value)), e.Reason)
	}
	for _, e := range file.ItemTypes {
		if strings.TrimSpace(e.Value) == "" {
			return nil, fmt.Errorf("parse deny list: item type entry without value")
		}
		list.DenyItemType(strings.TrimSpace(e.Value), e.Reason)
	}
	return list, nil
}

func (d *DenyList) DenyRecipient(addr ledger.Address, reason string) {
	if reason == "" {
		reason = "recipient is denied"
	}
	d.mu.Lock()
	d.recipients[addr] = reason
	d.mu.Unlock()
}

func (d *DenyList) AllowRecipient(addr ledger.Address) {
	d.mu.Lock()
	delete(d.recipients, addr)
	d.mu.Unlock()
}

func (d *DenyList) DenyItemType(itemType, reason string) {
	if reason == "" {
		reason = "item type is denied"
	}
	d.mu.Lock()
	d.itemTypes[itemType] = reason
	d.mu.Unlock()
}

func (d *DenyList) AllowItemType(itemType string) {
	d.mu.Lock()
	delete(d.itemTypes, itemType)
	d.mu.Unlock()
}

// Len returns the number of entries.
func (d *DenyList) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.recipients) + len(d.itemTypes)
}

func (d *DenyList) CheckTransfer(_ context.Context, obj ledger.Object, to ledger.Address) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if reason, ok := d.recipients[to]; ok {
		return &GateError{Gate: "deny-list", ObjectID: obj.ID, Recipient: to, Reason: reason}
	}
	if obj.Type != "" {
		if reason, ok := d.itemTypes[obj.Type]; ok {
			return &GateError{Gate: "deny-list", ObjectID: obj.ID, Recipient: to, Reason: reason}
		}
	}
	return nil
}
