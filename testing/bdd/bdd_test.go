package bdd

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AshkanYarmoradi/ordermesh"
	"github.com/AshkanYarmoradi/ordermesh/domain/cart"
	"github.com/AshkanYarmoradi/ordermesh/domain/tenant"
	"github.com/AshkanYarmoradi/ordermesh/testing/testutil"
)

var (
	cartID   = ordermesh.NewID[cart.Cart]()
	tenantID = ordermesh.NewID[tenant.Tenant]()
	itemID   = ordermesh.NewID[tenant.Item]()
)

func apply(cmd cart.Command) func(*cart.Cart) (ordermesh.CommandOutcome, error) {
	return func(c *cart.Cart) (ordermesh.CommandOutcome, error) {
		return c.ApplyCommand(cmd)
	}
}

func TestGiven_NoHistory(t *testing.T) {
	Given(t, cartID).
		When(apply(cart.Create{})).
		Then(cart.CreatedV1{}).
		ThenVersion(0).
		ThenState(func(c *cart.Cart) {
			assert.True(t, c.Created())
			assert.Equal(t, cartID.String(), c.AggregateID())
		})
}

func TestGiven_WithHistory(t *testing.T) {
	added := cart.ItemAddedV1{TenantID: tenantID, ItemID: itemID}

	Given(t, cartID, cart.CreatedV1{}, added).
		When(apply(cart.AddItem{TenantID: tenantID, ItemID: itemID})).
		Then(added).
		ThenVersion(2).
		ThenState(func(c *cart.Cart) {
			items := c.Items()
			if assert.Len(t, items, 1) {
				assert.Equal(t, uint32(2), items[0].Quantity)
			}
		})
}

func TestThenError(t *testing.T) {
	Given(t, cartID, cart.CreatedV1{}).
		When(apply(cart.PlaceOrder{})).
		ThenError(cart.ErrEmptyCart)

	Given(t, cartID).
		When(apply(cart.PlaceOrder{})).
		ThenError(ordermesh.ErrValidation)

	Given(t, cartID, cart.CreatedV1{}, cart.OrderPlacedV1{}).
		When(apply(cart.AddItem{TenantID: tenantID, ItemID: itemID})).
		ThenErrorContains("order already placed")
}

func TestFixture_ReportsFailures(t *testing.T) {
	t.Run("unexpected events", func(t *testing.T) {
		mt := testutil.RunWithMockT(func(m *testutil.MockT) {
			Given(m, cartID).
				When(apply(cart.Create{})).
				Then(cart.OrderPlacedV1{})
		})
		assert.True(t, mt.Failed())
		assert.Contains(t, mt.Output(), "Event 0 mismatch")
	})

	t.Run("error instead of success", func(t *testing.T) {
		mt := testutil.RunWithMockT(func(m *testutil.MockT) {
			Given(m, cartID).
				When(apply(cart.PlaceOrder{})).
				Then()
		})
		assert.True(t, mt.Fatalled())
		assert.Contains(t, mt.Output(), "Expected success")
	})

	t.Run("success instead of error", func(t *testing.T) {
		mt := testutil.RunWithMockT(func(m *testutil.MockT) {
			Given(m, cartID).
				When(apply(cart.Create{})).
				ThenError(ordermesh.ErrValidation)
		})
		assert.True(t, mt.Fatalled())
	})

	t.Run("corrupt history", func(t *testing.T) {
		mt := testutil.RunWithMockT(func(m *testutil.MockT) {
			Given(m, cartID, cart.OrderPlacedV1{}).
				When(apply(cart.AddItem{}))
		})
		assert.True(t, mt.Fatalled())
		assert.Contains(t, mt.Output(), "replay")
	})

	t.Run("Then before When", func(t *testing.T) {
		mt := testutil.RunWithMockT(func(m *testutil.MockT) {
			Given(m, cartID).Then()
		})
		assert.True(t, mt.Fatalled())
		assert.Contains(t, mt.Output(), "must be called after When()")
	})

	t.Run("wrong version", func(t *testing.T) {
		mt := testutil.RunWithMockT(func(m *testutil.MockT) {
			Given(m, cartID, cart.CreatedV1{}).
				When(apply(cart.AddItem{TenantID: tenantID, ItemID: itemID})).
				ThenVersion(7)
		})
		assert.True(t, mt.Failed())
		assert.False(t, mt.Fatalled())
	})
}
