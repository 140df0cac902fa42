// Package restaurant implements the restaurant aggregate and its menu.
// Restaurant events are forwarded to the query side by the event router.
package restaurant

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/AshkanYarmoradi/ordermesh"
)

const AggregateType = "restaurant"

var (
	ErrInvalidRestaurantName = errors.New("restaurant: invalid restaurant name")
	ErrInvalidItemName       = errors.New("restaurant: invalid item name")
	ErrInvalidCategory       = errors.New("restaurant: invalid item category")
	ErrEmptyEntities         = errors.New("restaurant: entities must not be empty")
)

// Category classifies a menu item.
type Category string

const (
	CategoryFood  Category = "food"
	CategoryDrink Category = "drink"
	CategoryOther Category = "other"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryFood, CategoryDrink, CategoryOther:
		return true
	}
	return false
}

// Price is a menu price in yen.
type Price struct {
	Yen uint64 `json:"yen"`
}

type Item struct {
	ID       ordermesh.ID[Item] `json:"id"`
	Name     string             `json:"name"`
	Price    Price              `json:"price"`
	Category Category           `json:"category"`
}

type Restaurant struct {
	ordermesh.AggregateBase

	name  string
	items []Item
}

func (r *Restaurant) AggregateType() string { return AggregateType }
func (r *Restaurant) Name() string          { return r.name }

// Items returns a copy of the menu.
func (r *Restaurant) Items() []Item {
	return append([]Item(nil), r.items...)
}

type Command interface {
	isRestaurantCommand()
}

type Create struct{ Name string }
type AddItems struct{ Items []Item }
type RemoveItems struct{ ItemIDs []ordermesh.ID[Item] }

func (Create) isRestaurantCommand()      {}
func (AddItems) isRestaurantCommand()    {}
func (RemoveItems) isRestaurantCommand() {}

type CreatedV1 struct {
	Name string `json:"name"`
}

type ItemsAddedV1 struct {
	Items []Item `json:"items"`
}

type ItemsRemovedV1 struct {
	ItemIDs []ordermesh.ID[Item] `json:"item_ids"`
}

func (CreatedV1) EventType() string      { return "RestaurantCreatedV1" }
func (CreatedV1) CreatesAggregate()      {}
func (ItemsAddedV1) EventType() string   { return "RestaurantItemsAddedV1" }
func (ItemsRemovedV1) EventType() string { return "RestaurantItemsRemovedV1" }

func Events() []ordermesh.EventPayload {
	return []ordermesh.EventPayload{CreatedV1{}, ItemsAddedV1{}, ItemsRemovedV1{}}
}

func (r *Restaurant) ApplyCommand(cmd Command) (ordermesh.CommandOutcome, error) {
	switch c := cmd.(type) {
	case Create:
		if err := ordermesh.RequireNotCreated(r); err != nil {
			return ordermesh.CommandOutcome{}, err
		}
		if strings.TrimSpace(c.Name) == "" {
			return ordermesh.CommandOutcome{}, invalid(ErrInvalidRestaurantName)
		}
		return ordermesh.Record(r, CreatedV1{Name: c.Name})

	case AddItems:
		if err := ordermesh.RequireCreated(r); err != nil {
			return ordermesh.CommandOutcome{}, err
		}
		if len(c.Items) == 0 {
			return ordermesh.CommandOutcome{}, invalid(ErrEmptyEntities)
		}
		for _, item := range c.Items {
			if strings.TrimSpace(item.Name) == "" {
				return ordermesh.CommandOutcome{}, invalid(ErrInvalidItemName)
			}
			if !item.Category.Valid() {
				return ordermesh.CommandOutcome{}, invalid(fmt.Errorf("%w: %q", ErrInvalidCategory, item.Category))
			}
		}
		return ordermesh.Record(r, ItemsAddedV1{Items: append([]Item(nil), c.Items...)})

	case RemoveItems:
		if err := ordermesh.RequireCreated(r); err != nil {
			return ordermesh.CommandOutcome{}, err
		}
		if len(c.ItemIDs) == 0 {
			return ordermesh.CommandOutcome{}, invalid(ErrEmptyEntities)
		}
		return ordermesh.Record(r, ItemsRemovedV1{ItemIDs: append([]ordermesh.ID[Item](nil), c.ItemIDs...)})
	}
	return ordermesh.CommandOutcome{}, fmt.Errorf("restaurant: unknown command %T", cmd)
}

func (r *Restaurant) ApplyEvent(payload ordermesh.EventPayload) error {
	switch e := payload.(type) {
	case CreatedV1:
		r.name = e.Name
	case ItemsAddedV1:
		r.items = append(r.items, e.Items...)
	case ItemsRemovedV1:
		removed := make(map[ordermesh.ID[Item]]bool, len(e.ItemIDs))
		for _, id := range e.ItemIDs {
			removed[id] = true
		}
		items := make([]Item, 0, len(r.items))
		for _, item := range r.items {
			if !removed[item.ID] {
				items = append(items, item)
			}
		}
		r.items = items
	default:
		return fmt.Errorf("restaurant: unexpected event %T", payload)
	}
	return nil
}

type state struct {
	Name  string `json:"name"`
	Items []Item `json:"items"`
}

func (r *Restaurant) MarshalState() ([]byte, error) {
	return json.Marshal(state{Name: r.name, Items: r.items})
}

func (r *Restaurant) UnmarshalState(data []byte) error {
	var s state
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	r.name, r.items = s.Name, s.Items
	return nil
}

func invalid(err error) error {
	return ordermesh.NewValidationError(AggregateType, err)
}
