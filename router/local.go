package router

import (
	"context"

	"github.com/AshkanYarmoradi/ordermesh"
	"github.com/AshkanYarmoradi/ordermesh/domain/cart"
	"github.com/AshkanYarmoradi/ordermesh/domain/order"
	"github.com/AshkanYarmoradi/ordermesh/domain/tenant"
)

// LocalCartClient serves CartClient from an in-process cart service.
type LocalCartClient struct {
	Service *cart.Service
}

// GetCart implements CartClient.
func (c LocalCartClient) GetCart(ctx context.Context, cartID string) (*CartView, error) {
	id, err := ordermesh.ParseID[cart.Cart](cartID)
	if err != nil {
		return nil, err
	}
	got, err := c.Service.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	view := &CartView{ID: cartID}
	for _, li := range got.Items() {
		view.Items = append(view.Items, LineItem{
			TenantID: li.TenantID.String(),
			ItemID:   li.ItemID.String(),
			Quantity: li.Quantity,
		})
	}
	return view, nil
}

// LocalOrderClient serves OrderClient from an in-process order service.
type LocalOrderClient struct {
	Service *order.Service
}

// CreateOrder implements OrderClient.
func (c LocalOrderClient) CreateOrder(ctx context.Context, req CreateOrderRequest) (string, error) {
	cartID, err := ordermesh.ParseID[cart.Cart](req.CartID)
	if err != nil {
		return "", err
	}
	items, err := OrderItems(req.Items)
	if err != nil {
		return "", err
	}
	id, err := c.Service.CreateFromCart(ctx, cartID, items)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// OrderItems converts wire line items into order items.
func OrderItems(lines []LineItem) ([]order.Item, error) {
	items := make([]order.Item, 0, len(lines))
	for _, li := range lines {
		tenantID, err := ordermesh.ParseID[tenant.Tenant](li.TenantID)
		if err != nil {
			return nil, err
		}
		itemID, err := ordermesh.ParseID[tenant.Item](li.ItemID)
		if err != nil {
			return nil, err
		}
		items = append(items, order.Item{TenantID: tenantID, ItemID: itemID, Quantity: li.Quantity})
	}
	return items, nil
}
