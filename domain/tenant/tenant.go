// Package tenant implements the tenant aggregate, a seller and its catalogue.
package tenant

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/AshkanYarmoradi/ordermesh"
)

const AggregateType = "tenant"

var (
	ErrInvalidTenantName = errors.New("tenant: invalid tenant name")
	ErrInvalidItemName   = errors.New("tenant: invalid item name")
	ErrEmptyItems        = errors.New("tenant: items must not be empty")
	ErrEmptyItemIDs      = errors.New("tenant: item ids must not be empty")
)

// Item is a catalogue entry. Price is in the smallest currency unit.
type Item struct {
	ID    ordermesh.ID[Item] `json:"id"`
	Name  string             `json:"name"`
	Price uint32             `json:"price"`
}

type Tenant struct {
	ordermesh.AggregateBase

	name  string
	items []Item
}

func (t *Tenant) Name() string { return t.name }

// Items returns a copy of the catalogue in insertion order.
func (t *Tenant) Items() []Item {
	out := make([]Item, len(t.items))
	copy(out, t.items)
	return out
}

func (t *Tenant) AggregateType() string { return AggregateType }

type Command interface {
	isTenantCommand()
}

type Create struct {
	Name string
}

type AddItems struct {
	Items []Item
}

type RemoveItems struct {
	ItemIDs []ordermesh.ID[Item]
}

func (Create) isTenantCommand()      {}
func (AddItems) isTenantCommand()    {}
func (RemoveItems) isTenantCommand() {}

type CreatedV1 struct {
	Name string `json:"name"`
}

type ItemsAddedV1 struct {
	Items []Item `json:"items"`
}

type ItemsRemovedV1 struct {
	ItemIDs []ordermesh.ID[Item] `json:"item_ids"`
}

func (CreatedV1) EventType() string      { return "TenantCreatedV1" }
func (CreatedV1) CreatesAggregate()      {}
func (ItemsAddedV1) EventType() string   { return "TenantItemsAddedV1" }
func (ItemsRemovedV1) EventType() string { return "TenantItemsRemovedV1" }

func Events() []ordermesh.EventPayload {
	return []ordermesh.EventPayload{CreatedV1{}, ItemsAddedV1{}, ItemsRemovedV1{}}
}

// ApplyCommand validates cmd and applies the resulting event.
func (t *Tenant) ApplyCommand(cmd Command) (ordermesh.CommandOutcome, error) {
	switch c := cmd.(type) {
	case Create:
		if err := ordermesh.RequireNotCreated(t); err != nil {
			return ordermesh.CommandOutcome{}, err
		}
		if strings.TrimSpace(c.Name) == "" {
			return ordermesh.CommandOutcome{}, invalid(ErrInvalidTenantName)
		}
		return ordermesh.Record(t, CreatedV1{Name: c.Name})

	case AddItems:
		if err := ordermesh.RequireCreated(t); err != nil {
			return ordermesh.CommandOutcome{}, err
		}
		if len(c.Items) == 0 {
			return ordermesh.CommandOutcome{}, invalid(ErrEmptyItems)
		}
		for _, item := range c.Items {
			if strings.TrimSpace(item.Name) == "" {
				return ordermesh.CommandOutcome{}, invalid(ErrInvalidItemName)
			}
		}
		items := make([]Item, len(c.Items))
		copy(items, c.Items)
		return ordermesh.Record(t, ItemsAddedV1{Items: items})

	case RemoveItems:
		if err := ordermesh.RequireCreated(t); err != nil {
			return ordermesh.CommandOutcome{}, err
		}
		if len(c.ItemIDs) == 0 {
			return ordermesh.CommandOutcome{}, invalid(ErrEmptyItemIDs)
		}
		ids := make([]ordermesh.ID[Item], len(c.ItemIDs))
		copy(ids, c.ItemIDs)
		return ordermesh.Record(t, ItemsRemovedV1{ItemIDs: ids})

	default:
		return ordermesh.CommandOutcome{}, fmt.Errorf("tenant: unknown command %T", cmd)
	}
}

func (t *Tenant) ApplyEvent(payload ordermesh.EventPayload) error {
	switch e := payload.(type) {
	case CreatedV1:
		t.name = e.Name
	case ItemsAddedV1:
		t.items = append(t.items, e.Items...)
	case ItemsRemovedV1:
		drop := make(map[ordermesh.ID[Item]]struct{}, len(e.ItemIDs))
		for _, id := range e.ItemIDs {
			drop[id] = struct{}{}
		}
		kept := t.items[:0]
		for _, item := range t.items {
			if _, ok := drop[item.ID]; !ok {
				kept = append(kept, item)
			}
		}
		t.items = kept
	default:
		return fmt.Errorf("tenant: unexpected event %T", payload)
	}
	return nil
}

type state struct {
	Name  string `json:"name"`
	Items []Item `json:"items"`
}

func (t *Tenant) MarshalState() ([]byte, error) {
	return json.Marshal(state{Name: t.name, Items: t.items})
}

func (t *Tenant) UnmarshalState(data []byte) error {
	var s state
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	t.name, t.items = s.Name, s.Items
	return nil
}

func invalid(err error) error {
	return ordermesh.NewValidationError(AggregateType, err)
}
