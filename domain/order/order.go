// Package order implements the order aggregate and its delivery status machine.
package order

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/AshkanYarmoradi/ordermesh"
	"github.com/AshkanYarmoradi/ordermesh/domain/cart"
	"github.com/AshkanYarmoradi/ordermesh/domain/tenant"
)

// AggregateType is the stored aggregate type name.
const AggregateType = "order"

var (
	ErrEmptyItems          = errors.New("order: items must not be empty")
	ErrInvalidQuantity     = errors.New("order: quantity must be positive")
	ErrInvalidStatusChange = errors.New("order: invalid status change")
)

// Status is the delivery status of an order.
type Status string

// Order statuses.
const (
	StatusCreated   Status = "created"
	StatusPrepared  Status = "prepared"
	StatusPickedUp  Status = "picked_up"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// StatusChangeError reports a command that is not allowed in the current status.
type StatusChangeError struct {
	Current Status
	Command string
}

func (e *StatusChangeError) Error() string {
	return fmt.Sprintf("order: cannot %s an order in status %s", e.Command, e.Current)
}

func (e *StatusChangeError) Is(target error) bool {
	return target == ErrInvalidStatusChange
}

// Item is one ordered line.
type Item struct {
	TenantID ordermesh.ID[tenant.Tenant] `json:"tenant_id"`
	ItemID   ordermesh.ID[tenant.Item]   `json:"item_id"`
	Quantity uint32                      `json:"quantity"`
}

// Order is the order aggregate.
type Order struct {
	ordermesh.AggregateBase

	cartID ordermesh.ID[cart.Cart]
	items  []Item
	status Status
}

func (o *Order) AggregateType() string { return AggregateType }

// CartID returns the cart the order was placed from.
func (o *Order) CartID() ordermesh.ID[cart.Cart] { return o.cartID }

// Status returns the current status.
func (o *Order) Status() Status { return o.status }

// Items returns a copy of the ordered lines.
func (o *Order) Items() []Item {
	out := make([]Item, len(o.items))
	copy(out, o.items)
	return out
}

// Command is an order command.
type Command interface {
	isOrderCommand()
}

type (
	// Create places an order for the contents of a cart.
	Create struct {
		CartID ordermesh.ID[cart.Cart]
		Items  []Item
	}
	Prepare struct{}
	PickUp  struct{}
	Deliver struct{}
	Cancel  struct{}
)

func (Create) isOrderCommand()  {}
func (Prepare) isOrderCommand() {}
func (PickUp) isOrderCommand()  {}
func (Deliver) isOrderCommand() {}
func (Cancel) isOrderCommand()  {}

// CreatedV1 is the creation event.
type CreatedV1 struct {
	CartID ordermesh.ID[cart.Cart] `json:"cart_id"`
	Items  []Item                  `json:"items"`
}

type (
	PreparedV1  struct{}
	PickedUpV1  struct{}
	DeliveredV1 struct{}
	CancelledV1 struct{}
)

func (CreatedV1) EventType() string   { return "OrderCreatedV1" }
func (CreatedV1) CreatesAggregate()   {}
func (PreparedV1) EventType() string  { return "OrderPreparedV1" }
func (PickedUpV1) EventType() string  { return "OrderPickedUpV1" }
func (DeliveredV1) EventType() string { return "OrderDeliveredV1" }
func (CancelledV1) EventType() string { return "OrderCancelledV1" }

// Events returns an example of every order event.
func Events() []ordermesh.EventPayload {
	return []ordermesh.EventPayload{CreatedV1{}, PreparedV1{}, PickedUpV1{}, DeliveredV1{}, CancelledV1{}}
}

// transitions lists, per command, the statuses it may be applied in.
var transitions = map[string][]Status{
	"prepare": {StatusCreated},
	"pick up": {StatusPrepared},
	"deliver": {StatusPickedUp},
	"cancel":  {StatusCreated, StatusPrepared},
}

// ApplyCommand validates cmd against the status machine and applies the
// resulting event.
func (o *Order) ApplyCommand(cmd Command) (ordermesh.CommandOutcome, error) {
	if c, ok := cmd.(Create); ok {
		if err := ordermesh.RequireNotCreated(o); err != nil {
			return ordermesh.CommandOutcome{}, err
		}
		if len(c.Items) == 0 {
			return ordermesh.CommandOutcome{}, invalid(ErrEmptyItems)
		}
		items := make([]Item, len(c.Items))
		for i, item := range c.Items {
			if item.Quantity == 0 {
				return ordermesh.CommandOutcome{}, invalid(ErrInvalidQuantity)
			}
			items[i] = item
		}
		return ordermesh.Record(o, CreatedV1{CartID: c.CartID, Items: items})
	}

	if err := ordermesh.RequireCreated(o); err != nil {
		return ordermesh.CommandOutcome{}, err
	}

	var (
		name  string
		event ordermesh.EventPayload
	)
	switch cmd.(type) {
	case Prepare:
		name, event = "prepare", PreparedV1{}
	case PickUp:
		name, event = "pick up", PickedUpV1{}
	case Deliver:
		name, event = "deliver", DeliveredV1{}
	case Cancel:
		name, event = "cancel", CancelledV1{}
	default:
		return ordermesh.CommandOutcome{}, fmt.Errorf("order: unknown command %T", cmd)
	}
	if !o.allows(name) {
		return ordermesh.CommandOutcome{}, invalid(&StatusChangeError{Current: o.status, Command: name})
	}
	return ordermesh.Record(o, event)
}

func (o *Order) allows(command string) bool {
	for _, s := range transitions[command] {
		if s == o.status {
			return true
		}
	}
	return false
}

// ApplyEvent folds one order event.
func (o *Order) ApplyEvent(payload ordermesh.EventPayload) error {
	switch e := payload.(type) {
	case CreatedV1:
		o.cartID = e.CartID
		o.items = append([]Item(nil), e.Items...)
		o.status = StatusCreated
	case PreparedV1:
		o.status = StatusPrepared
	case PickedUpV1:
		o.status = StatusPickedUp
	case DeliveredV1:
		o.status = StatusDelivered
	case CancelledV1:
		o.status = StatusCancelled
	default:
		return fmt.Errorf("order: unexpected event %T", payload)
	}
	return nil
}

type state struct {
	CartID ordermesh.ID[cart.Cart] `json:"cart_id"`
	Items  []Item                  `json:"items"`
	Status Status                  `json:"status"`
}

func (o *Order) MarshalState() ([]byte, error) {
	return json.Marshal(state{CartID: o.cartID, Items: o.items, Status: o.status})
}

func (o *Order) UnmarshalState(data []byte) error {
	var s state
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	o.cartID, o.items, o.status = s.CartID, s.Items, s.Status
	return nil
}

func invalid(err error) error {
	return ordermesh.NewValidationError(AggregateType, err)
}
