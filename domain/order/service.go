package order

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/AshkanYarmoradi/ordermesh"
	"github.com/AshkanYarmoradi/ordermesh/adapters"
	"github.com/AshkanYarmoradi/ordermesh/domain/cart"
	"github.com/AshkanYarmoradi/ordermesh/domain/tenant"
)

// cartNamespace scopes order ids derived from cart ids.
var cartNamespace = uuid.MustParse("6f1c2a0e-3b7d-5e4f-9a8b-0c1d2e3f4a5b")

// IDForCart returns the id of the order placed from cartID.
func IDForCart(cartID ordermesh.ID[cart.Cart]) ordermesh.ID[Order] {
	return ordermesh.DeriveID[Order](cartNamespace, cartID.String())
}

// Repository persists orders.
type Repository = ordermesh.Repository[Order, *Order]

// NewRepository creates an order repository. A nil serializer selects JSON.
func NewRepository(store adapters.TransactionalStore, serializer ordermesh.Serializer, opts ...ordermesh.RepositoryOption) *Repository {
	if serializer == nil {
		serializer = ordermesh.NewJSONSerializer(ordermesh.NewEventRegistry(Events()...))
	}
	return ordermesh.NewRepository[Order](store, serializer, opts...)
}

// Service runs order commands.
type Service struct {
	repo *Repository
}

// NewService creates a Service.
func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

// CreateFromCart creates the order for cartID. The order id is derived from
// the cart id, so repeating the call for the same cart returns the existing
// order id without writing anything.
func (s *Service) CreateFromCart(ctx context.Context, cartID ordermesh.ID[cart.Cart], items []Item) (ordermesh.ID[Order], error) {
	id := IDForCart(cartID)
	_, err := s.repo.Start(ctx, id, func(o *Order) (ordermesh.CommandOutcome, error) {
		return o.ApplyCommand(Create{CartID: cartID, Items: items})
	})
	if errors.Is(err, ordermesh.ErrConflict) {
		return id, nil
	}
	if err != nil {
		return ordermesh.ID[Order]{}, err
	}
	return id, nil
}

// Get returns the order with id.
func (s *Service) Get(ctx context.Context, id ordermesh.ID[Order]) (*Order, error) {
	return s.repo.Get(ctx, id)
}

// Execute applies cmd to the order with id.
func (s *Service) Execute(ctx context.Context, id ordermesh.ID[Order], cmd Command) (*Order, error) {
	return s.repo.Handle(ctx, id, func(o *Order) (ordermesh.CommandOutcome, error) {
		return o.ApplyCommand(cmd)
	})
}

// ListTenantReceived returns the ids of orders still in StatusCreated that
// contain at least one item of tenantID.
func (s *Service) ListTenantReceived(ctx context.Context, tenantID ordermesh.ID[tenant.Tenant]) ([]ordermesh.ID[Order], error) {
	return s.listIDs(ctx, func(o *Order) bool {
		if o.status != StatusCreated {
			return false
		}
		for _, item := range o.items {
			if item.TenantID == tenantID {
				return true
			}
		}
		return false
	})
}

// ListPrepared returns the ids of orders waiting for pick up.
func (s *Service) ListPrepared(ctx context.Context) ([]ordermesh.ID[Order], error) {
	return s.listIDs(ctx, func(o *Order) bool { return o.status == StatusPrepared })
}

func (s *Service) listIDs(ctx context.Context, keep func(*Order) bool) ([]ordermesh.ID[Order], error) {
	orders, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]ordermesh.ID[Order], 0, len(orders))
	for _, o := range orders {
		if keep(o) {
			id, err := ordermesh.ParseID[Order](o.AggregateID())
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}
