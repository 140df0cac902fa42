package ordermesh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshkanYarmoradi/ordermesh/adapters"
	"github.com/AshkanYarmoradi/ordermesh/adapters/memory"
)

type staticInjector map[string]string

func (s staticInjector) Inject(_ context.Context, md Metadata) {
	for k, v := range s {
		md.Set(k, v)
	}
}

var modes = []Materialization{EagerEvents, LazyEvents}

func newNoteRepo(store adapters.TransactionalStore, mode Materialization, opts ...RepositoryOption) *Repository[testNote, *testNote] {
	opts = append([]RepositoryOption{WithMaterialization(mode)}, opts...)
	return NewRepository[testNote](store, noteSerializer(), opts...)
}

func createNote(t *testing.T, repo *Repository[testNote, *testNote], title string) (ID[testNote], *testNote) {
	t.Helper()
	id := NewID[testNote]()
	note := newNote(id)
	outcome, err := note.create(title)
	require.NoError(t, err)
	require.NoError(t, repo.Create(context.Background(), note, outcome.Events[0]))
	return id, note
}

func TestRepository_Create(t *testing.T) {
	ctx := context.Background()

	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			t.Run("get returns created aggregate", func(t *testing.T) {
				store := memory.NewAdapter()
				repo := newNoteRepo(store, mode)

				id, _ := createNote(t, repo, "groceries")

				if mode == LazyEvents {
					assert.Equal(t, 0, store.EventCount())
				} else {
					assert.Equal(t, 1, store.EventCount())
				}

				note, err := repo.Get(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, uint64(0), note.Version())
				assert.True(t, note.Created())
				assert.Equal(t, "groceries", note.Title)
				assert.Equal(t, 1, store.EventCount())

				seq, err := store.GetSequence(ctx, id.String())
				require.NoError(t, err)
				assert.Equal(t, uint64(0), seq.LatestEventID)
			})

			t.Run("existing id is a conflict", func(t *testing.T) {
				store := memory.NewAdapter()
				repo := newNoteRepo(store, mode)
				id, _ := createNote(t, repo, "first")

				dup := newNote(id)
				outcome, err := dup.create("second")
				require.NoError(t, err)
				err = repo.Create(ctx, dup, outcome.Events[0])

				assert.ErrorIs(t, err, ErrConflict)
				assert.Equal(t, "conflict", Kind(err))
				var conflict *ConflictError
				require.True(t, errors.As(err, &conflict))
				assert.Equal(t, "create", conflict.Operation)

				note, err := repo.Get(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, "first", note.Title)
			})
		})
	}

	t.Run("rejects non-creation event", func(t *testing.T) {
		repo := newNoteRepo(memory.NewAdapter(), EagerEvents)
		note := newNote(NewID[testNote]())
		_, err := note.create("a")
		require.NoError(t, err)

		err = repo.Create(ctx, note, noteRetitled{Title: "b"})

		assert.ErrorIs(t, err, ErrInvalidEvents)
	})

	t.Run("rejects aggregate that is not freshly created", func(t *testing.T) {
		repo := newNoteRepo(memory.NewAdapter(), EagerEvents)
		note := newNote(NewID[testNote]())

		err := repo.Create(ctx, note, noteCreated{Title: "a"})

		assert.ErrorIs(t, err, ErrInvalidEvents)
	})

	t.Run("stamps metadata and timestamp", func(t *testing.T) {
		store := memory.NewAdapter()
		now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		repo := newNoteRepo(store, EagerEvents,
			WithMetadataInjector(staticInjector{"traceparent": "00-trace-span-01"}),
			WithClock(func() time.Time { return now }))

		id, _ := createNote(t, repo, "a")

		records, err := store.LoadEvents(ctx, id.String())
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "00-trace-span-01", records[0].Metadata["traceparent"])
		assert.Equal(t, now, records[0].Timestamp)
		assert.Equal(t, "NoteCreatedV1", records[0].Type)
		assert.Equal(t, "note", records[0].AggregateType)
		assert.NotEmpty(t, records[0].ID)
	})
}

func TestRepository_Get(t *testing.T) {
	ctx := context.Background()

	for _, mode := range modes {
		t.Run(mode.String()+" unknown id is not found", func(t *testing.T) {
			repo := newNoteRepo(memory.NewAdapter(), mode)

			note, err := repo.Get(ctx, NewID[testNote]())

			assert.Nil(t, note)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.NotErrorIs(t, err, ErrConflict)
			var nf *NotFoundError
			require.True(t, errors.As(err, &nf))
			assert.Equal(t, "note", nf.AggregateType)
		})
	}

	t.Run("find reports absence without error", func(t *testing.T) {
		repo := newNoteRepo(memory.NewAdapter(), LazyEvents)
		id, _ := createNote(t, repo, "a")

		note, ok, err := repo.Find(ctx, NewID[testNote]())
		assert.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, note)

		note, ok, err = repo.Find(ctx, id)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "a", note.Title)
	})

	t.Run("lazy snapshot with empty pending list is corrupt", func(t *testing.T) {
		store := memory.NewAdapter()
		repo := newNoteRepo(store, LazyEvents)
		id := NewID[testNote]()
		require.NoError(t, store.Execute(ctx, []adapters.Write{
			adapters.PutSnapshot{Snapshot: adapters.SnapshotRecord{
				AggregateID: id.String(),
				Version:     0,
				Payload:     []byte(`{"schema":"v1","state":{"title":"x"},"pending":[]}`),
			}},
		}))

		note, err := repo.Get(ctx, id)

		assert.Nil(t, note)
		assert.ErrorIs(t, err, ErrCorruptState)
		assert.Equal(t, "corrupt", Kind(err))
	})

	for _, mode := range modes {
		t.Run(mode.String()+" list loads every aggregate of the type", func(t *testing.T) {
			store := memory.NewAdapter()
			repo := newNoteRepo(store, mode)
			idA, _ := createNote(t, repo, "a")
			idB, _ := createNote(t, repo, "b")
			require.NoError(t, store.Execute(ctx, []adapters.Write{
				adapters.PutSnapshot{Snapshot: adapters.SnapshotRecord{
					AggregateID:   NewID[testNote]().String(),
					AggregateType: "other",
					Payload:       []byte(`not json`),
				}},
			}))

			notes, err := repo.List(ctx)

			require.NoError(t, err)
			require.Len(t, notes, 2)
			titles := map[string]string{}
			for _, n := range notes {
				titles[n.AggregateID()] = n.Title
				assert.True(t, n.Created())
			}
			assert.Equal(t, map[string]string{idA.String(): "a", idB.String(): "b"}, titles)
			assert.Less(t, notes[0].AggregateID(), notes[1].AggregateID())
			// Lazy mode flushes on List just as on Get.
			assert.Equal(t, 2, store.EventCount())
		})
	}

	t.Run("list on an empty store", func(t *testing.T) {
		notes, err := newNoteRepo(memory.NewAdapter(), EagerEvents).List(ctx)
		assert.NoError(t, err)
		assert.Empty(t, notes)
	})

	t.Run("list reports store failures as transport errors", func(t *testing.T) {
		store := memory.NewAdapter()
		repo := newNoteRepo(store, EagerEvents)
		require.NoError(t, store.Close())

		_, err := repo.List(ctx)
		assert.ErrorIs(t, err, ErrTransport)
	})

	t.Run("malformed snapshot payload is corrupt", func(t *testing.T) {
		for _, payload := range []string{`not json`, `{"schema":"v9","state":{}}`, `{"schema":"v1"}`} {
			store := memory.NewAdapter()
			repo := newNoteRepo(store, EagerEvents)
			id := NewID[testNote]()
			require.NoError(t, store.Execute(ctx, []adapters.Write{
				adapters.PutSnapshot{Snapshot: adapters.SnapshotRecord{AggregateID: id.String(), Payload: []byte(payload)}},
			}))

			_, err := repo.Get(ctx, id)

			assert.ErrorIs(t, err, ErrCorruptState, payload)
		}
	})

	t.Run("malformed pending event is corrupt", func(t *testing.T) {
		store := memory.NewAdapter()
		repo := newNoteRepo(store, LazyEvents)
		id := NewID[testNote]()
		require.NoError(t, store.Execute(ctx, []adapters.Write{
			adapters.PutSnapshot{Snapshot: adapters.SnapshotRecord{
				AggregateID: id.String(),
				Payload:     []byte(`{"schema":"v1","state":{},"pending":[{"sequence":"zero"}]}`),
			}},
		}))

		_, err := repo.Get(ctx, id)

		assert.ErrorIs(t, err, ErrCorruptState)
	})

	t.Run("undecodable stored event is corrupt", func(t *testing.T) {
		store := memory.NewAdapter()
		repo := newNoteRepo(store, LazyEvents)
		id, _ := createNote(t, repo, "a")

		other := NewRepository[testNote](store, NewJSONSerializer(nil), WithMaterialization(LazyEvents))
		_, err := other.Get(ctx, id)

		assert.ErrorIs(t, err, ErrCorruptState)
	})

	t.Run("store failure is transport", func(t *testing.T) {
		boom := errors.New("connection reset")
		var fail atomic.Bool
		store := memory.NewAdapter(memory.WithExecuteHook(func(context.Context, []adapters.Write) error {
			if fail.Load() {
				return boom
			}
			return nil
		}))
		repo := newNoteRepo(store, LazyEvents)
		id, _ := createNote(t, repo, "a")
		fail.Store(true)

		_, err := repo.Get(ctx, id)

		assert.ErrorIs(t, err, ErrTransport)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, "transport", Kind(err))
	})

	t.Run("get is idempotent while events are pending", func(t *testing.T) {
		store := memory.NewAdapter()
		repo := newNoteRepo(store, LazyEvents)
		id, note := createNote(t, repo, "a")
		outcome, err := note.retitle("b")
		require.NoError(t, err)
		require.NoError(t, repo.Update(ctx, note, outcome.Events))

		first, err := repo.Get(ctx, id)
		require.NoError(t, err)
		second, err := repo.Get(ctx, id)
		require.NoError(t, err)

		assert.Equal(t, first.Version(), second.Version())
		assert.Equal(t, first.Title, second.Title)
		assert.Equal(t, 2, store.EventCount())

		// The snapshot still lists the flushed events.
		snap, err := store.GetSnapshot(ctx, id.String())
		require.NoError(t, err)
		doc, err := decodeSnapshot(snap)
		require.NoError(t, err)
		assert.Len(t, doc.Pending, 2)
	})

	t.Run("flush tolerates rows written by a concurrent reader", func(t *testing.T) {
		store := memory.NewAdapter()
		repo := newNoteRepo(store, LazyEvents)
		id, _ := createNote(t, repo, "a")

		snap, err := store.GetSnapshot(ctx, id.String())
		require.NoError(t, err)
		doc, err := decodeSnapshot(snap)
		require.NoError(t, err)
		require.NoError(t, store.Execute(ctx, []adapters.Write{adapters.PutEvent{Event: doc.Pending[0]}}))

		note, err := repo.Get(ctx, id)

		require.NoError(t, err)
		assert.Equal(t, "a", note.Title)
		assert.Equal(t, 1, store.EventCount())
	})

	t.Run("ignores events newer than the snapshot", func(t *testing.T) {
		store := memory.NewAdapter()
		repo := newNoteRepo(store, LazyEvents)
		id, _ := createNote(t, repo, "a")

		// A writer appended sequence 1 to the log but its snapshot write
		// has not been observed yet.
		data, err := noteSerializer().Serialize(noteRetitled{Title: "later"})
		require.NoError(t, err)
		require.NoError(t, store.Execute(ctx, []adapters.Write{adapters.PutEvent{Event: adapters.EventRecord{
			ID: "late", AggregateID: id.String(), Sequence: 1, Type: "NoteRetitledV1", Data: data,
		}}}))

		note, err := repo.Get(ctx, id)

		require.NoError(t, err)
		assert.Equal(t, uint64(0), note.Version())
		assert.Equal(t, "a", note.Title)
	})

	t.Run("eager store with pending events is reconciled", func(t *testing.T) {
		store := memory.NewAdapter()
		lazy := newNoteRepo(store, LazyEvents)
		id, _ := createNote(t, lazy, "a")

		eager := newNoteRepo(store, EagerEvents)
		note, err := eager.Get(ctx, id)

		require.NoError(t, err)
		assert.Equal(t, "a", note.Title)
		assert.Equal(t, 1, store.EventCount())
	})
}

func TestRepository_Update(t *testing.T) {
	ctx := context.Background()

	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			t.Run("single update", func(t *testing.T) {
				store := memory.NewAdapter()
				repo := newNoteRepo(store, mode)
				id, _ := createNote(t, repo, "a")

				note, err := repo.Get(ctx, id)
				require.NoError(t, err)
				outcome, err := note.retitle("b")
				require.NoError(t, err)
				require.NoError(t, repo.Update(ctx, note, outcome.Events))
				assert.Equal(t, uint64(1), note.Version())

				reread, err := repo.Get(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, uint64(1), reread.Version())
				assert.Equal(t, "b", reread.Title)

				records, err := store.LoadEvents(ctx, id.String())
				require.NoError(t, err)
				require.Len(t, records, 2)
				assert.Equal(t, uint64(1), records[1].Sequence)
				assert.Equal(t, "NoteRetitledV1", records[1].Type)
				assert.JSONEq(t, `{"title":"b"}`, string(records[1].Data))

				seq, err := store.GetSequence(ctx, id.String())
				require.NoError(t, err)
				assert.Equal(t, uint64(1), seq.LatestEventID)
			})

			t.Run("losing writer gets conflict", func(t *testing.T) {
				store := memory.NewAdapter()
				repo := newNoteRepo(store, mode)
				id, note := createNote(t, repo, "a")
				outcome, err := note.retitle("b")
				require.NoError(t, err)
				require.NoError(t, repo.Update(ctx, note, outcome.Events))

				alice, err := repo.Get(ctx, id)
				require.NoError(t, err)
				bob, err := repo.Get(ctx, id)
				require.NoError(t, err)
				require.Equal(t, uint64(1), alice.Version())

				won, err := alice.retitle("alice")
				require.NoError(t, err)
				lost, err := Record(bob, noteArchived{})
				require.NoError(t, err)

				require.NoError(t, repo.Update(ctx, alice, won.Events))
				err = repo.Update(ctx, bob, lost.Events)
				assert.ErrorIs(t, err, ErrConflict)
				assert.ErrorIs(t, err, ErrConditionFailed)

				reread, err := repo.Get(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, uint64(2), reread.Version())
				assert.Equal(t, "alice", reread.Title)
				assert.False(t, reread.Archived)
			})

			t.Run("concurrent writers from one observed version", func(t *testing.T) {
				store := memory.NewAdapter()
				repo := newNoteRepo(store, mode)
				id, _ := createNote(t, repo, "a")

				const writers = 8
				notes := make([]*testNote, writers)
				for i := range notes {
					n, err := repo.Get(ctx, id)
					require.NoError(t, err)
					notes[i] = n
				}

				var wins, conflicts atomic.Int32
				var wg sync.WaitGroup
				for _, n := range notes {
					wg.Add(1)
					go func(n *testNote) {
						defer wg.Done()
						outcome, err := n.retitle("x")
						if err != nil {
							return
						}
						err = repo.Update(ctx, n, outcome.Events)
						switch {
						case err == nil:
							wins.Add(1)
						case errors.Is(err, ErrConflict):
							conflicts.Add(1)
						}
					}(n)
				}
				wg.Wait()

				assert.Equal(t, int32(1), wins.Load())
				assert.Equal(t, int32(writers-1), conflicts.Load())

				reread, err := repo.Get(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, uint64(1), reread.Version())
			})

			t.Run("versions advance by one per call", func(t *testing.T) {
				store := memory.NewAdapter()
				repo := newNoteRepo(store, mode)
				id, _ := createNote(t, repo, "a")

				for want := uint64(1); want <= 5; want++ {
					note, err := repo.Get(ctx, id)
					require.NoError(t, err)
					outcome, err := note.retitle("t")
					require.NoError(t, err)
					require.NoError(t, repo.Update(ctx, note, outcome.Events))

					snap, err := store.GetSnapshot(ctx, id.String())
					require.NoError(t, err)
					assert.Equal(t, want, snap.Version)
				}

				history, err := repo.History(ctx, id)
				require.NoError(t, err)
				if mode == EagerEvents {
					assert.Len(t, history, 6)
				}
			})

			t.Run("several events in one update", func(t *testing.T) {
				store := memory.NewAdapter()
				repo := newNoteRepo(store, mode)
				id, note := createNote(t, repo, "a")

				outcome, err := Record(note, noteRetitled{Title: "b"}, noteArchived{})
				require.NoError(t, err)
				require.NoError(t, repo.Update(ctx, note, outcome.Events))

				reread, err := repo.Get(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, uint64(2), reread.Version())
				assert.True(t, reread.Archived)

				records, err := store.LoadEvents(ctx, id.String())
				require.NoError(t, err)
				require.Len(t, records, 3)
				assert.Equal(t, uint64(2), records[2].Sequence)
			})
		})
	}

	t.Run("lazy writes without reads keep every event", func(t *testing.T) {
		store := memory.NewAdapter()
		repo := newNoteRepo(store, LazyEvents)
		id, note := createNote(t, repo, "a")

		for _, title := range []string{"b", "c", "d"} {
			outcome, err := note.retitle(title)
			require.NoError(t, err)
			require.NoError(t, repo.Update(ctx, note, outcome.Events))
		}
		assert.Equal(t, 0, store.EventCount())

		reread, err := repo.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), reread.Version())
		assert.Equal(t, "d", reread.Title)
		assert.Equal(t, 3, reread.Edits)
		assert.Equal(t, 4, store.EventCount())
	})

	t.Run("committed events are never rewritten", func(t *testing.T) {
		store := memory.NewAdapter()
		repo := newNoteRepo(store, EagerEvents)
		id, note := createNote(t, repo, "a")
		before, err := store.LoadEvents(ctx, id.String())
		require.NoError(t, err)

		outcome, err := note.retitle("b")
		require.NoError(t, err)
		require.NoError(t, repo.Update(ctx, note, outcome.Events))
		_, err = repo.Get(ctx, id)
		require.NoError(t, err)

		after, err := store.LoadEvents(ctx, id.String())
		require.NoError(t, err)
		assert.Equal(t, before[0], after[0])
	})

	t.Run("invalid event sets", func(t *testing.T) {
		repo := newNoteRepo(memory.NewAdapter(), EagerEvents)
		_, note := createNote(t, repo, "a")

		tests := []struct {
			name   string
			agg    *testNote
			events []EventPayload
		}{
			{"no events", note, nil},
			{"creation event", note, []EventPayload{noteCreated{Title: "x"}}},
			{"nil event", note, []EventPayload{nil}},
			{"version zero", note, []EventPayload{noteRetitled{Title: "x"}}},
			{"not created", newNote(NewID[testNote]()), []EventPayload{noteRetitled{Title: "x"}}},
			{"nil aggregate", nil, []EventPayload{noteRetitled{Title: "x"}}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := repo.Update(ctx, tt.agg, tt.events)

				assert.ErrorIs(t, err, ErrInvalidEvents)
				assert.Equal(t, "invalid_events", Kind(err))
			})
		}
	})

	t.Run("update of unknown aggregate is a conflict", func(t *testing.T) {
		repo := newNoteRepo(memory.NewAdapter(), EagerEvents)
		note := newNote(NewID[testNote]())
		_, err := Record(note, noteCreated{Title: "a"}, noteRetitled{Title: "b"})
		require.NoError(t, err)

		err = repo.Update(ctx, note, []EventPayload{noteRetitled{Title: "b"}})

		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("start and handle", func(t *testing.T) {
		repo := newNoteRepo(memory.NewAdapter(), LazyEvents)
		id := NewID[testNote]()

		note, err := repo.Start(ctx, id, func(n *testNote) (CommandOutcome, error) { return n.create("a") })
		require.NoError(t, err)
		assert.Equal(t, uint64(0), note.Version())

		note, err = repo.Handle(ctx, id, func(n *testNote) (CommandOutcome, error) { return n.retitle("b") })
		require.NoError(t, err)
		assert.Equal(t, uint64(1), note.Version())

		_, err = repo.Handle(ctx, id, func(n *testNote) (CommandOutcome, error) { return n.retitle("") })
		assert.ErrorIs(t, err, errEmptyTitle)

		_, err = repo.Handle(ctx, NewID[testNote](), func(n *testNote) (CommandOutcome, error) { return n.retitle("c") })
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = repo.Start(ctx, id, func(n *testNote) (CommandOutcome, error) { return n.create("again") })
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("conflicts are logged", func(t *testing.T) {
		logger := newTestLogger()
		repo := newNoteRepo(memory.NewAdapter(), EagerEvents, WithLogger(logger))
		id, _ := createNote(t, repo, "a")
		a, err := repo.Get(ctx, id)
		require.NoError(t, err)
		b, err := repo.Get(ctx, id)
		require.NoError(t, err)

		oa, _ := a.retitle("a2")
		ob, _ := b.retitle("b2")
		require.NoError(t, repo.Update(ctx, a, oa.Events))
		require.Error(t, repo.Update(ctx, b, ob.Events))

		assert.Contains(t, logger.infos(), "Conditional write rejected")
	})
}
