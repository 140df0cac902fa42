package widget

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshkanYarmoradi/ordermesh"
	"github.com/AshkanYarmoradi/ordermesh/adapters/memory"
)

func TestWidget_ApplyCommand(t *testing.T) {
	t.Run("create", func(t *testing.T) {
		w := &Widget{AggregateBase: ordermesh.NewAggregateBase("w-1")}

		outcome, err := w.ApplyCommand(Create{Name: "Bolt", Description: "M6 bolt"})

		require.NoError(t, err)
		assert.Equal(t, []ordermesh.EventPayload{CreatedV1{Name: "Bolt", Description: "M6 bolt"}}, outcome.Events)
		assert.Equal(t, uint64(0), outcome.Version)
		assert.True(t, w.Created())
		assert.Equal(t, "Bolt", w.Name())
		assert.Equal(t, "M6 bolt", w.Description())
	})

	t.Run("change name and description", func(t *testing.T) {
		w := &Widget{AggregateBase: ordermesh.NewAggregateBase("w-1")}
		_, err := w.ApplyCommand(Create{Name: "Bolt", Description: "M6 bolt"})
		require.NoError(t, err)

		outcome, err := w.ApplyCommand(ChangeName{Name: "Nut"})
		require.NoError(t, err)
		assert.Equal(t, uint64(1), outcome.Version)

		outcome, err = w.ApplyCommand(ChangeDescription{Description: "M6 nut"})
		require.NoError(t, err)
		assert.Equal(t, uint64(2), outcome.Version)
		assert.Equal(t, "Nut", w.Name())
		assert.Equal(t, "M6 nut", w.Description())
	})

	t.Run("lifecycle", func(t *testing.T) {
		w := &Widget{AggregateBase: ordermesh.NewAggregateBase("w-1")}

		_, err := w.ApplyCommand(ChangeName{Name: "Nut"})
		assert.ErrorIs(t, err, ordermesh.ErrAggregateNotCreated)

		_, err = w.ApplyCommand(Create{Name: "Bolt", Description: "M6 bolt"})
		require.NoError(t, err)
		_, err = w.ApplyCommand(Create{Name: "Bolt", Description: "M6 bolt"})
		assert.ErrorIs(t, err, ordermesh.ErrAggregateAlreadyCreated)
	})

	t.Run("validation", func(t *testing.T) {
		tests := []struct {
			name string
			cmd  Command
			want error
		}{
			{"empty name", Create{Name: " ", Description: "d"}, ErrInvalidName},
			{"long name", Create{Name: strings.Repeat("n", MaxNameLength+1), Description: "d"}, ErrInvalidName},
			{"empty description", Create{Name: "n", Description: ""}, ErrInvalidDescription},
			{"long description", Create{Name: "n", Description: strings.Repeat("d", MaxDescriptionLength+1)}, ErrInvalidDescription},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				w := &Widget{AggregateBase: ordermesh.NewAggregateBase("w-1")}
				_, err := w.ApplyCommand(tt.cmd)
				assert.ErrorIs(t, err, tt.want)
				assert.ErrorIs(t, err, ordermesh.ErrValidation)
				assert.False(t, w.Created())
			})
		}
	})

	t.Run("multibyte names count runes", func(t *testing.T) {
		w := &Widget{AggregateBase: ordermesh.NewAggregateBase("w-1")}
		_, err := w.ApplyCommand(Create{Name: strings.Repeat("部", MaxNameLength), Description: "d"})
		assert.NoError(t, err)
	})
}

func TestService(t *testing.T) {
	ctx := context.Background()

	t.Run("create then get", func(t *testing.T) {
		store := memory.NewAdapter()
		svc := NewService(NewRepository(store, nil))

		id, err := svc.Create(ctx, "Bolt", "M6 bolt")
		require.NoError(t, err)
		assert.Equal(t, 0, store.EventCount())

		w, err := svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "Bolt", w.Name())
		assert.Equal(t, uint64(0), w.Version())
		assert.Equal(t, 1, store.EventCount())
	})

	t.Run("change name writes sequence one", func(t *testing.T) {
		store := memory.NewAdapter()
		repo := NewRepository(store, nil)
		svc := NewService(repo)

		id, err := svc.Create(ctx, "Bolt", "M6 bolt")
		require.NoError(t, err)
		require.NoError(t, svc.ChangeName(ctx, id, "Nut"))

		w, err := svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "Nut", w.Name())
		assert.Equal(t, uint64(1), w.Version())

		history, err := repo.History(ctx, id)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, uint64(1), history[1].Sequence)
		assert.Equal(t, NameChangedV1{Name: "Nut"}, history[1].Payload)
	})

	t.Run("racing commands from the same version", func(t *testing.T) {
		store := memory.NewAdapter()
		repo := NewRepository(store, nil)
		svc := NewService(repo)

		id, err := svc.Create(ctx, "Bolt", "M6 bolt")
		require.NoError(t, err)
		require.NoError(t, svc.ChangeName(ctx, id, "Nut"))

		a, err := repo.Get(ctx, id)
		require.NoError(t, err)
		b, err := repo.Get(ctx, id)
		require.NoError(t, err)

		outA, err := a.ApplyCommand(ChangeName{Name: "Washer"})
		require.NoError(t, err)
		outB, err := b.ApplyCommand(ChangeDescription{Description: "flat"})
		require.NoError(t, err)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		wg.Add(2)
		go func() { defer wg.Done(); errs[0] = repo.Update(ctx, a, outA.Events) }()
		go func() { defer wg.Done(); errs[1] = repo.Update(ctx, b, outB.Events) }()
		wg.Wait()

		failures := 0
		for _, err := range errs {
			if err != nil {
				assert.ErrorIs(t, err, ordermesh.ErrConflict)
				failures++
			}
		}
		assert.Equal(t, 1, failures)

		w, err := repo.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), w.Version())
	})

	t.Run("validation error is returned unchanged", func(t *testing.T) {
		svc := NewService(NewRepository(memory.NewAdapter(), nil))
		id, err := svc.Create(ctx, "Bolt", "M6 bolt")
		require.NoError(t, err)

		err = svc.ChangeName(ctx, id, "")
		assert.ErrorIs(t, err, ErrInvalidName)
	})

	t.Run("unknown widget", func(t *testing.T) {
		svc := NewService(NewRepository(memory.NewAdapter(), nil))

		_, err := svc.Get(ctx, ordermesh.NewID[Widget]())
		assert.ErrorIs(t, err, ordermesh.ErrNotFound)
	})

	t.Run("eager override", func(t *testing.T) {
		store := memory.NewAdapter()
		repo := NewRepository(store, nil, ordermesh.WithMaterialization(ordermesh.EagerEvents))
		assert.Equal(t, ordermesh.EagerEvents, repo.Materialization())

		_, err := NewService(repo).Create(ctx, "Bolt", "M6 bolt")
		require.NoError(t, err)
		assert.Equal(t, 1, store.EventCount())
	})
}
