package restaurant

import (
	"context"

	"github.com/AshkanYarmoradi/ordermesh"
	"github.com/AshkanYarmoradi/ordermesh/adapters"
)

type Repository = ordermesh.Repository[Restaurant, *Restaurant]

// NewRepository creates a restaurant repository. A nil serializer selects JSON.
func NewRepository(store adapters.TransactionalStore, serializer ordermesh.Serializer, opts ...ordermesh.RepositoryOption) *Repository {
	if serializer == nil {
		serializer = ordermesh.NewJSONSerializer(ordermesh.NewEventRegistry(Events()...))
	}
	return ordermesh.NewRepository[Restaurant](store, serializer, opts...)
}

type Service struct {
	repo *Repository
}

func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Create(ctx context.Context, name string) (ordermesh.ID[Restaurant], error) {
	id := ordermesh.NewID[Restaurant]()
	if _, err := s.repo.Start(ctx, id, func(r *Restaurant) (ordermesh.CommandOutcome, error) {
		return r.ApplyCommand(Create{Name: name})
	}); err != nil {
		return ordermesh.ID[Restaurant]{}, err
	}
	return id, nil
}

func (s *Service) Get(ctx context.Context, id ordermesh.ID[Restaurant]) (*Restaurant, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) Execute(ctx context.Context, id ordermesh.ID[Restaurant], cmd Command) (*Restaurant, error) {
	return s.repo.Handle(ctx, id, func(r *Restaurant) (ordermesh.CommandOutcome, error) {
		return r.ApplyCommand(cmd)
	})
}

// ListRestaurants returns every restaurant ordered by id.
func (s *Service) ListRestaurants(ctx context.Context) ([]*Restaurant, error) {
	return s.repo.List(ctx)
}

// ListItems returns the menu of one restaurant.
func (s *Service) ListItems(ctx context.Context, id ordermesh.ID[Restaurant]) ([]Item, error) {
	r, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.Items(), nil
}
