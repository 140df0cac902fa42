package order

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshkanYarmoradi/ordermesh"
	"github.com/AshkanYarmoradi/ordermesh/adapters/memory"
	"github.com/AshkanYarmoradi/ordermesh/domain/cart"
	"github.com/AshkanYarmoradi/ordermesh/domain/tenant"
)

func sampleItems() []Item {
	return []Item{{
		TenantID: ordermesh.NewID[tenant.Tenant](),
		ItemID:   ordermesh.NewID[tenant.Item](),
		Quantity: 2,
	}}
}

func newOrder(t *testing.T) *Order {
	t.Helper()
	o := &Order{AggregateBase: ordermesh.NewAggregateBase("o-1")}
	_, err := o.ApplyCommand(Create{CartID: ordermesh.NewID[cart.Cart](), Items: sampleItems()})
	require.NoError(t, err)
	return o
}

func TestOrder_StatusMachine(t *testing.T) {
	t.Run("happy path", func(t *testing.T) {
		o := newOrder(t)
		assert.Equal(t, StatusCreated, o.Status())

		for i, step := range []struct {
			cmd  Command
			want Status
		}{
			{Prepare{}, StatusPrepared},
			{PickUp{}, StatusPickedUp},
			{Deliver{}, StatusDelivered},
		} {
			outcome, err := o.ApplyCommand(step.cmd)
			require.NoError(t, err)
			assert.Equal(t, uint64(i+1), outcome.Version)
			assert.Equal(t, step.want, o.Status())
		}
	})

	tests := []struct {
		name    string
		prior   []Command
		cmd     Command
		allowed bool
	}{
		{"cancel created", nil, Cancel{}, true},
		{"cancel prepared", []Command{Prepare{}}, Cancel{}, true},
		{"cancel picked up", []Command{Prepare{}, PickUp{}}, Cancel{}, false},
		{"pick up before prepare", nil, PickUp{}, false},
		{"deliver before pick up", []Command{Prepare{}}, Deliver{}, false},
		{"prepare twice", []Command{Prepare{}}, Prepare{}, false},
		{"prepare cancelled", []Command{Cancel{}}, Prepare{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newOrder(t)
			for _, cmd := range tt.prior {
				_, err := o.ApplyCommand(cmd)
				require.NoError(t, err)
			}
			before := o.Status()

			_, err := o.ApplyCommand(tt.cmd)
			if tt.allowed {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidStatusChange)
			assert.ErrorIs(t, err, ordermesh.ErrValidation)
			var sce *StatusChangeError
			require.ErrorAs(t, err, &sce)
			assert.Equal(t, before, sce.Current)
			assert.Equal(t, before, o.Status())
		})
	}
}

func TestOrder_CreateValidation(t *testing.T) {
	o := &Order{AggregateBase: ordermesh.NewAggregateBase("o-1")}

	_, err := o.ApplyCommand(Create{})
	assert.ErrorIs(t, err, ErrEmptyItems)

	items := sampleItems()
	items[0].Quantity = 0
	_, err = o.ApplyCommand(Create{Items: items})
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = o.ApplyCommand(Prepare{})
	assert.ErrorIs(t, err, ordermesh.ErrAggregateNotCreated)
}

func TestService_CreateFromCart(t *testing.T) {
	ctx := context.Background()
	store := memory.NewAdapter()
	svc := NewService(NewRepository(store, nil))
	cartID := ordermesh.NewID[cart.Cart]()
	items := sampleItems()

	id, err := svc.CreateFromCart(ctx, cartID, items)
	require.NoError(t, err)
	assert.Equal(t, IDForCart(cartID), id)

	again, err := svc.CreateFromCart(ctx, cartID, items)
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Equal(t, 1, store.SnapshotCount())

	o, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, cartID, o.CartID())
	assert.Equal(t, items, o.Items())
	assert.Equal(t, StatusCreated, o.Status())

	o, err = svc.Execute(ctx, id, Prepare{})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), o.Version())

	_, err = svc.Execute(ctx, id, Deliver{})
	assert.ErrorIs(t, err, ErrInvalidStatusChange)
}

func TestService_Queries(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewRepository(memory.NewAdapter(), nil))
	shop := ordermesh.NewID[tenant.Tenant]()
	line := func(tenantID ordermesh.ID[tenant.Tenant]) []Item {
		return []Item{{TenantID: tenantID, ItemID: ordermesh.NewID[tenant.Item](), Quantity: 1}}
	}

	received, err := svc.CreateFromCart(ctx, ordermesh.NewID[cart.Cart](), line(shop))
	require.NoError(t, err)
	prepared, err := svc.CreateFromCart(ctx, ordermesh.NewID[cart.Cart](), line(shop))
	require.NoError(t, err)
	_, err = svc.Execute(ctx, prepared, Prepare{})
	require.NoError(t, err)
	_, err = svc.CreateFromCart(ctx, ordermesh.NewID[cart.Cart](), line(ordermesh.NewID[tenant.Tenant]()))
	require.NoError(t, err)

	t.Run("received by tenant", func(t *testing.T) {
		ids, err := svc.ListTenantReceived(ctx, shop)
		require.NoError(t, err)
		assert.Equal(t, []ordermesh.ID[Order]{received}, ids)
	})

	t.Run("prepared", func(t *testing.T) {
		ids, err := svc.ListPrepared(ctx)
		require.NoError(t, err)
		assert.Equal(t, []ordermesh.ID[Order]{prepared}, ids)
	})

	t.Run("unknown tenant", func(t *testing.T) {
		ids, err := svc.ListTenantReceived(ctx, ordermesh.NewID[tenant.Tenant]())
		require.NoError(t, err)
		assert.Empty(t, ids)
	})
}
