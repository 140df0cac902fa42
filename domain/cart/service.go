package cart

import (
	"context"

	"github.com/AshkanYarmoradi/ordermesh"
	"github.com/AshkanYarmoradi/ordermesh/adapters"
	"github.com/AshkanYarmoradi/ordermesh/domain/tenant"
)

// Repository persists carts.
type Repository = ordermesh.Repository[Cart, *Cart]

// NewRepository creates a cart repository. A nil serializer selects JSON.
func NewRepository(store adapters.TransactionalStore, serializer ordermesh.Serializer, opts ...ordermesh.RepositoryOption) *Repository {
	if serializer == nil {
		serializer = ordermesh.NewJSONSerializer(ordermesh.NewEventRegistry(Events()...))
	}
	return ordermesh.NewRepository[Cart](store, serializer, opts...)
}

// Service runs cart commands.
type Service struct {
	repo *Repository
}

// NewService creates a Service.
func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

// Create opens a new cart.
func (s *Service) Create(ctx context.Context) (ordermesh.ID[Cart], error) {
	id := ordermesh.NewID[Cart]()
	if _, err := s.repo.Start(ctx, id, func(c *Cart) (ordermesh.CommandOutcome, error) {
		return c.ApplyCommand(Create{})
	}); err != nil {
		return ordermesh.ID[Cart]{}, err
	}
	return id, nil
}

// Get returns the cart with id.
func (s *Service) Get(ctx context.Context, id ordermesh.ID[Cart]) (*Cart, error) {
	return s.repo.Get(ctx, id)
}

// Execute applies cmd to the cart with id.
func (s *Service) Execute(ctx context.Context, id ordermesh.ID[Cart], cmd Command) (*Cart, error) {
	return s.repo.Handle(ctx, id, func(c *Cart) (ordermesh.CommandOutcome, error) {
		return c.ApplyCommand(cmd)
	})
}

// AddItem adds one unit of an item.
func (s *Service) AddItem(ctx context.Context, id ordermesh.ID[Cart], tenantID ordermesh.ID[tenant.Tenant], itemID ordermesh.ID[tenant.Item]) error {
	_, err := s.Execute(ctx, id, AddItem{TenantID: tenantID, ItemID: itemID})
	return err
}

// RemoveItem removes one unit of an item.
func (s *Service) RemoveItem(ctx context.Context, id ordermesh.ID[Cart], tenantID ordermesh.ID[tenant.Tenant], itemID ordermesh.ID[tenant.Item]) error {
	_, err := s.Execute(ctx, id, RemoveItem{TenantID: tenantID, ItemID: itemID})
	return err
}

// PlaceOrder checks the cart out.
func (s *Service) PlaceOrder(ctx context.Context, id ordermesh.ID[Cart]) error {
	_, err := s.Execute(ctx, id, PlaceOrder{})
	return err
}
