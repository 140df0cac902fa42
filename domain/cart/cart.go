// Package cart implements the shopping cart aggregate.
//
// A cart collects items from one or more tenants. Placing the order emits
// OrderPlacedV1, which the event router turns into an order.
package cart

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/AshkanYarmoradi/ordermesh"
	"github.com/AshkanYarmoradi/ordermesh/domain/tenant"
)

// AggregateType is the stored aggregate type name.
const AggregateType = "cart"

// Domain validation errors.
var (
	ErrItemNotFound       = errors.New("cart: item not found")
	ErrOrderAlreadyPlaced = errors.New("cart: order already placed")
	ErrEmptyCart          = errors.New("cart: cart is empty")
	ErrQuantityOverflow   = errors.New("cart: item quantity overflow")
)

// LineItem is one distinct item in the cart.
type LineItem struct {
	TenantID ordermesh.ID[tenant.Tenant] `json:"tenant_id"`
	ItemID   ordermesh.ID[tenant.Item]   `json:"item_id"`
	Quantity uint32                      `json:"quantity"`
}

type lineKey struct {
	tenantID ordermesh.ID[tenant.Tenant]
	itemID   ordermesh.ID[tenant.Item]
}

// Cart is the cart aggregate.
type Cart struct {
	ordermesh.AggregateBase

	items       map[lineKey]uint32
	orderPlaced bool
}

// AggregateType returns "cart".
func (c *Cart) AggregateType() string { return AggregateType }

// OrderPlaced reports whether PlaceOrder has been accepted.
func (c *Cart) OrderPlaced() bool { return c.orderPlaced }

// Items returns the cart lines ordered by tenant then item id.
func (c *Cart) Items() []LineItem {
	out := make([]LineItem, 0, len(c.items))
	for k, q := range c.items {
		out = append(out, LineItem{TenantID: k.tenantID, ItemID: k.itemID, Quantity: q})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TenantID != out[j].TenantID {
			return out[i].TenantID.String() < out[j].TenantID.String()
		}
		return out[i].ItemID.String() < out[j].ItemID.String()
	})
	return out
}

// Command is a cart command.
type Command interface {
	isCartCommand()
}

// Create opens an empty cart.
type Create struct{}

// AddItem adds one unit of an item.
type AddItem struct {
	TenantID ordermesh.ID[tenant.Tenant]
	ItemID   ordermesh.ID[tenant.Item]
}

// RemoveItem removes one unit of an item.
type RemoveItem struct {
	TenantID ordermesh.ID[tenant.Tenant]
	ItemID   ordermesh.ID[tenant.Item]
}

// PlaceOrder closes the cart and requests an order for its contents.
type PlaceOrder struct{}

func (Create) isCartCommand()     {}
func (AddItem) isCartCommand()    {}
func (RemoveItem) isCartCommand() {}
func (PlaceOrder) isCartCommand() {}

// CreatedV1 is the creation event.
type CreatedV1 struct{}

// ItemAddedV1 records one unit added.
type ItemAddedV1 struct {
	TenantID ordermesh.ID[tenant.Tenant] `json:"tenant_id"`
	ItemID   ordermesh.ID[tenant.Item]   `json:"item_id"`
}

// ItemRemovedV1 records one unit removed.
type ItemRemovedV1 struct {
	TenantID ordermesh.ID[tenant.Tenant] `json:"tenant_id"`
	ItemID   ordermesh.ID[tenant.Item]   `json:"item_id"`
}

// OrderPlacedV1 records that the cart was checked out.
type OrderPlacedV1 struct{}

// Event type names.
const (
	CreatedEventType     = "CartCreatedV1"
	ItemAddedEventType   = "CartItemAddedV1"
	ItemRemovedEventType = "CartItemRemovedV1"
	OrderPlacedEventType = "CartOrderPlacedV1"
)

func (CreatedV1) EventType() string     { return CreatedEventType }
func (CreatedV1) CreatesAggregate()     {}
func (ItemAddedV1) EventType() string   { return ItemAddedEventType }
func (ItemRemovedV1) EventType() string { return ItemRemovedEventType }
func (OrderPlacedV1) EventType() string { return OrderPlacedEventType }

// Events returns an example of every cart event.
func Events() []ordermesh.EventPayload {
	return []ordermesh.EventPayload{CreatedV1{}, ItemAddedV1{}, ItemRemovedV1{}, OrderPlacedV1{}}
}

// ApplyCommand validates cmd and applies the resulting event.
// Once the order is placed every further command is rejected.
func (c *Cart) ApplyCommand(cmd Command) (ordermesh.CommandOutcome, error) {
	if _, ok := cmd.(Create); ok {
		if err := ordermesh.RequireNotCreated(c); err != nil {
			return ordermesh.CommandOutcome{}, err
		}
		return ordermesh.Record(c, CreatedV1{})
	}

	if err := ordermesh.RequireCreated(c); err != nil {
		return ordermesh.CommandOutcome{}, err
	}
	if c.orderPlaced {
		return ordermesh.CommandOutcome{}, invalid(ErrOrderAlreadyPlaced)
	}

	switch cmd := cmd.(type) {
	case AddItem:
		if c.items[lineKey{cmd.TenantID, cmd.ItemID}] == math.MaxUint32 {
			return ordermesh.CommandOutcome{}, invalid(ErrQuantityOverflow)
		}
		return ordermesh.Record(c, ItemAddedV1{TenantID: cmd.TenantID, ItemID: cmd.ItemID})

	case RemoveItem:
		if c.items[lineKey{cmd.TenantID, cmd.ItemID}] == 0 {
			return ordermesh.CommandOutcome{}, invalid(ErrItemNotFound)
		}
		return ordermesh.Record(c, ItemRemovedV1{TenantID: cmd.TenantID, ItemID: cmd.ItemID})

	case PlaceOrder:
		if len(c.items) == 0 {
			return ordermesh.CommandOutcome{}, invalid(ErrEmptyCart)
		}
		return ordermesh.Record(c, OrderPlacedV1{})

	default:
		return ordermesh.CommandOutcome{}, fmt.Errorf("cart: unknown command %T", cmd)
	}
}

// ApplyEvent folds one cart event.
func (c *Cart) ApplyEvent(payload ordermesh.EventPayload) error {
	switch e := payload.(type) {
	case CreatedV1:
		c.items = make(map[lineKey]uint32)
	case ItemAddedV1:
		k := lineKey{e.TenantID, e.ItemID}
		if c.items[k] == math.MaxUint32 {
			return ErrQuantityOverflow
		}
		if c.items == nil {
			c.items = make(map[lineKey]uint32)
		}
		c.items[k]++
	case ItemRemovedV1:
		k := lineKey{e.TenantID, e.ItemID}
		if c.items[k] <= 1 {
			delete(c.items, k)
		} else {
			c.items[k]--
		}
	case OrderPlacedV1:
		c.orderPlaced = true
	default:
		return fmt.Errorf("cart: unexpected event %T", payload)
	}
	return nil
}

type state struct {
	Items       []LineItem `json:"items"`
	OrderPlaced bool       `json:"order_placed"`
}

// MarshalState encodes the cart lines and checkout flag.
func (c *Cart) MarshalState() ([]byte, error) {
	return json.Marshal(state{Items: c.Items(), OrderPlaced: c.orderPlaced})
}

// UnmarshalState restores MarshalState output.
func (c *Cart) UnmarshalState(data []byte) error {
	var s state
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	c.items = make(map[lineKey]uint32, len(s.Items))
	for _, li := range s.Items {
		if li.Quantity > 0 {
			c.items[lineKey{li.TenantID, li.ItemID}] = li.Quantity
		}
	}
	c.orderPlaced = s.OrderPlaced
	return nil
}

func invalid(err error) error {
	return ordermesh.NewValidationError(AggregateType, err)
}
