package widget

import (
	"context"

	"github.com/AshkanYarmoradi/ordermesh"
	"github.com/AshkanYarmoradi/ordermesh/adapters"
)

// Repository persists widgets.
type Repository = ordermesh.Repository[Widget, *Widget]

// NewRepository creates a widget repository. A nil serializer selects JSON.
// Widgets use lazy materialization unless opts override it.
func NewRepository(store adapters.TransactionalStore, serializer ordermesh.Serializer, opts ...ordermesh.RepositoryOption) *Repository {
	if serializer == nil {
		serializer = ordermesh.NewJSONSerializer(ordermesh.NewEventRegistry(Events()...))
	}
	opts = append([]ordermesh.RepositoryOption{ordermesh.WithMaterialization(ordermesh.LazyEvents)}, opts...)
	return ordermesh.NewRepository[Widget](store, serializer, opts...)
}

// Service runs widget commands.
type Service struct {
	repo *Repository
}

// NewService creates a Service.
func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

// Create creates a widget and returns its id.
func (s *Service) Create(ctx context.Context, name, description string) (ordermesh.ID[Widget], error) {
	id := ordermesh.NewID[Widget]()
	_, err := s.repo.Start(ctx, id, func(w *Widget) (ordermesh.CommandOutcome, error) {
		return w.ApplyCommand(Create{Name: name, Description: description})
	})
	if err != nil {
		return ordermesh.ID[Widget]{}, err
	}
	return id, nil
}

// Get returns the widget with id.
func (s *Service) Get(ctx context.Context, id ordermesh.ID[Widget]) (*Widget, error) {
	return s.repo.Get(ctx, id)
}

// Execute applies cmd to the widget with id.
func (s *Service) Execute(ctx context.Context, id ordermesh.ID[Widget], cmd Command) (*Widget, error) {
	return s.repo.Handle(ctx, id, func(w *Widget) (ordermesh.CommandOutcome, error) {
		return w.ApplyCommand(cmd)
	})
}

// ChangeName renames the widget with id.
func (s *Service) ChangeName(ctx context.Context, id ordermesh.ID[Widget], name string) error {
	_, err := s.Execute(ctx, id, ChangeName{Name: name})
	return err
}

// ChangeDescription replaces the description of the widget with id.
func (s *Service) ChangeDescription(ctx context.Context, id ordermesh.ID[Widget], description string) error {
	_, err := s.Execute(ctx, id, ChangeDescription{Description: description})
	return err
}
