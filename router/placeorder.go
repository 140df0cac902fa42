package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/AshkanYarmoradi/ordermesh/adapters"
	"github.com/AshkanYarmoradi/ordermesh/domain/cart"
)

// ErrEmptyCart is returned when a placed cart has no items.
var ErrEmptyCart = errors.New("ordermesh/router: placed cart has no items")

// LineItem is one cart line as exchanged with the cart and order services.
type LineItem struct {
	TenantID string `json:"tenant_id"`
	ItemID   string `json:"item_id"`
	Quantity uint32 `json:"quantity"`
}

// CartView is the cart as returned by the cart service.
type CartView struct {
	ID    string     `json:"id"`
	Items []LineItem `json:"items"`
}

// CreateOrderRequest asks the order service for an order.
type CreateOrderRequest struct {
	CartID string     `json:"cart_id"`
	Items  []LineItem `json:"items"`
}

// CartClient reads carts.
type CartClient interface {
	GetCart(ctx context.Context, cartID string) (*CartView, error)
}

// OrderClient creates orders. Creating the order for a cart that already has
// one must succeed and return the existing order id.
type OrderClient interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (string, error)
}

// PlaceOrderHandler turns placed carts into orders.
type PlaceOrderHandler struct {
	carts  CartClient
	orders OrderClient
}

// NewPlaceOrderHandler creates a PlaceOrderHandler.
func NewPlaceOrderHandler(carts CartClient, orders OrderClient) *PlaceOrderHandler {
	return &PlaceOrderHandler{carts: carts, orders: orders}
}

// Name returns "place-order".
func (h *PlaceOrderHandler) Name() string { return "place-order" }

// Interested selects cart OrderPlaced events.
func (h *PlaceOrderHandler) Interested(rec adapters.EventRecord) bool {
	return rec.AggregateType == cart.AggregateType && rec.Type == cart.OrderPlacedEventType
}

// Handle reads the cart and creates the order for it.
func (h *PlaceOrderHandler) Handle(ctx context.Context, rec adapters.EventRecord) error {
	view, err := h.carts.GetCart(ctx, rec.AggregateID)
	if err != nil {
		return fmt.Errorf("get cart %s: %w", rec.AggregateID, err)
	}
	if len(view.Items) == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyCart, rec.AggregateID)
	}

	if _, err := h.orders.CreateOrder(ctx, CreateOrderRequest{CartID: rec.AggregateID, Items: view.Items}); err != nil {
		return fmt.Errorf("create order for cart %s: %w", rec.AggregateID, err)
	}
	return nil
}
