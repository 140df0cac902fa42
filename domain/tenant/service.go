package tenant

import (
	"context"

	"github.com/AshkanYarmoradi/ordermesh"
	"github.com/AshkanYarmoradi/ordermesh/adapters"
)

type Repository = ordermesh.Repository[Tenant, *Tenant]

// NewRepository creates an eagerly materialized tenant repository.
// A nil serializer selects JSON.
func NewRepository(store adapters.TransactionalStore, serializer ordermesh.Serializer, opts ...ordermesh.RepositoryOption) *Repository {
	if serializer == nil {
		serializer = ordermesh.NewJSONSerializer(ordermesh.NewEventRegistry(Events()...))
	}
	return ordermesh.NewRepository[Tenant](store, serializer, opts...)
}

type Service struct {
	repo *Repository
}

func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Create(ctx context.Context, name string) (ordermesh.ID[Tenant], error) {
	id := ordermesh.NewID[Tenant]()
	if _, err := s.repo.Start(ctx, id, func(t *Tenant) (ordermesh.CommandOutcome, error) {
		return t.ApplyCommand(Create{Name: name})
	}); err != nil {
		return ordermesh.ID[Tenant]{}, err
	}
	return id, nil
}

func (s *Service) Get(ctx context.Context, id ordermesh.ID[Tenant]) (*Tenant, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) Execute(ctx context.Context, id ordermesh.ID[Tenant], cmd Command) (*Tenant, error) {
	return s.repo.Handle(ctx, id, func(t *Tenant) (ordermesh.CommandOutcome, error) {
		return t.ApplyCommand(cmd)
	})
}

// AddItems adds items to the catalogue. Items without an id get a new one.
func (s *Service) AddItems(ctx context.Context, id ordermesh.ID[Tenant], items []Item) ([]Item, error) {
	added := make([]Item, len(items))
	for i, item := range items {
		if item.ID.IsZero() {
			item.ID = ordermesh.NewID[Item]()
		}
		added[i] = item
	}
	if _, err := s.Execute(ctx, id, AddItems{Items: added}); err != nil {
		return nil, err
	}
	return added, nil
}

func (s *Service) RemoveItems(ctx context.Context, id ordermesh.ID[Tenant], itemIDs []ordermesh.ID[Item]) error {
	_, err := s.Execute(ctx, id, RemoveItems{ItemIDs: itemIDs})
	return err
}

// ListTenants returns every tenant ordered by id.
func (s *Service) ListTenants(ctx context.Context) ([]*Tenant, error) {
	return s.repo.List(ctx)
}

// ListItems returns the catalogue of one tenant. A missing tenant yields an
// error matching ordermesh.ErrNotFound.
func (s *Service) ListItems(ctx context.Context, id ordermesh.ID[Tenant]) ([]Item, error) {
	tn, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return tn.Items(), nil
}
