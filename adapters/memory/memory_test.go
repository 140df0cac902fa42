package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshkanYarmoradi/ordermesh/adapters"
)

func event(id string, seq uint64) adapters.EventRecord {
	return adapters.EventRecord{
		ID:          id + "-" + string(rune('a'+seq)),
		AggregateID: id,
		Sequence:    seq,
		Type:        "WidgetNameChangedV1",
		Data:        []byte(`{}`),
		Metadata:    map[string]string{"traceparent": "00-abc"},
	}
}

func createWrites(id string) []adapters.Write {
	return []adapters.Write{
		adapters.PutEvent{Event: event(id, 0)},
		adapters.PutSequence{Sequence: adapters.SequenceRecord{AggregateID: id, LatestEventID: 0}},
		adapters.PutSnapshot{Snapshot: adapters.SnapshotRecord{AggregateID: id, AggregateType: "widget", Version: 0, Payload: []byte(`{"v":0}`)}},
	}
}

func updateWrites(id string, expected, next uint64) []adapters.Write {
	writes := make([]adapters.Write, 0)
	for seq := expected + 1; seq <= next; seq++ {
		writes = append(writes, adapters.PutEvent{Event: event(id, seq)})
	}
	return append(writes,
		adapters.AdvanceSequence{ID: id, Expected: expected, Next: next},
		adapters.UpdateSnapshot{
			Snapshot:        adapters.SnapshotRecord{AggregateID: id, AggregateType: "widget", Version: next, Payload: []byte(`{}`)},
			ExpectedVersion: expected,
		},
	)
}

func TestNewAdapter(t *testing.T) {
	t.Run("creates adapter with defaults", func(t *testing.T) {
		adapter := NewAdapter()

		assert.NotNil(t, adapter)
		assert.Equal(t, 0, adapter.EventCount())
		assert.Equal(t, 0, adapter.SnapshotCount())
		assert.NoError(t, adapter.Initialize(context.Background()))
	})
}

func TestMemoryAdapter_Execute(t *testing.T) {
	ctx := context.Background()

	t.Run("create writes all rows", func(t *testing.T) {
		adapter := NewAdapter()

		require.NoError(t, adapter.Execute(ctx, createWrites("w1")))

		snap, err := adapter.GetSnapshot(ctx, "w1")
		require.NoError(t, err)
		require.NotNil(t, snap)
		assert.Equal(t, uint64(0), snap.Version)
		assert.Equal(t, "widget", snap.AggregateType)

		seq, err := adapter.GetSequence(ctx, "w1")
		require.NoError(t, err)
		require.NotNil(t, seq)
		assert.Equal(t, uint64(0), seq.LatestEventID)

		events, err := adapter.LoadEvents(ctx, "w1")
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "00-abc", events[0].Metadata["traceparent"])
	})

	t.Run("second create fails and writes nothing", func(t *testing.T) {
		adapter := NewAdapter()
		require.NoError(t, adapter.Execute(ctx, createWrites("w1")))

		err := adapter.Execute(ctx, createWrites("w1"))

		assert.ErrorIs(t, err, adapters.ErrConditionFailed)
		var condErr *adapters.ConditionFailedError
		require.True(t, errors.As(err, &condErr))
		assert.Equal(t, 0, condErr.Index)
		assert.Equal(t, adapters.OpPutEvent, condErr.Operation)
		assert.Equal(t, 1, adapter.EventCount())
	})

	t.Run("update advances sequence and snapshot", func(t *testing.T) {
		adapter := NewAdapter()
		require.NoError(t, adapter.Execute(ctx, createWrites("w1")))

		require.NoError(t, adapter.Execute(ctx, updateWrites("w1", 0, 2)))

		snap, _ := adapter.GetSnapshot(ctx, "w1")
		assert.Equal(t, uint64(2), snap.Version)
		seq, _ := adapter.GetSequence(ctx, "w1")
		assert.Equal(t, uint64(2), seq.LatestEventID)
		events, _ := adapter.LoadEvents(ctx, "w1")
		require.Len(t, events, 3)
		for i, e := range events {
			assert.Equal(t, uint64(i), e.Sequence)
		}
	})

	t.Run("stale update is rejected atomically", func(t *testing.T) {
		adapter := NewAdapter()
		require.NoError(t, adapter.Execute(ctx, createWrites("w1")))
		require.NoError(t, adapter.Execute(ctx, updateWrites("w1", 0, 1)))

		// Sequence 1 exists, so the first event write fails.
		err := adapter.Execute(ctx, updateWrites("w1", 0, 1))
		assert.ErrorIs(t, err, adapters.ErrConditionFailed)

		// A guard failing late still discards earlier writes.
		err = adapter.Execute(ctx, []adapters.Write{
			adapters.PutEvent{Event: event("w1", 5)},
			adapters.AdvanceSequence{ID: "w1", Expected: 0, Next: 5},
		})
		assert.ErrorIs(t, err, adapters.ErrConditionFailed)

		events, _ := adapter.LoadEvents(ctx, "w1")
		assert.Len(t, events, 2)
		seq, _ := adapter.GetSequence(ctx, "w1")
		assert.Equal(t, uint64(1), seq.LatestEventID)
	})

	t.Run("update of missing aggregate fails", func(t *testing.T) {
		adapter := NewAdapter()

		err := adapter.Execute(ctx, updateWrites("nope", 0, 1))

		assert.ErrorIs(t, err, adapters.ErrConditionFailed)
		assert.Equal(t, 0, adapter.EventCount())
	})

	t.Run("duplicate keys within one call fail", func(t *testing.T) {
		adapter := NewAdapter()

		err := adapter.Execute(ctx, []adapters.Write{
			adapters.PutEvent{Event: event("w1", 0)},
			adapters.PutEvent{Event: event("w1", 0)},
		})

		assert.ErrorIs(t, err, adapters.ErrConditionFailed)
		assert.Equal(t, 0, adapter.EventCount())
	})

	t.Run("invalid write sets", func(t *testing.T) {
		adapter := NewAdapter()

		assert.ErrorIs(t, adapter.Execute(ctx, nil), adapters.ErrNoWrites)
		assert.ErrorIs(t, adapter.Execute(ctx, []adapters.Write{adapters.PutEvent{}}), adapters.ErrEmptyAggregateID)
	})

	t.Run("execute hook error aborts", func(t *testing.T) {
		boom := errors.New("boom")
		adapter := NewAdapter(WithExecuteHook(func(context.Context, []adapters.Write) error { return boom }))

		err := adapter.Execute(ctx, createWrites("w1"))

		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 0, adapter.SnapshotCount())
	})

	t.Run("canceled context", func(t *testing.T) {
		adapter := NewAdapter()
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		assert.ErrorIs(t, adapter.Execute(cctx, createWrites("w1")), context.Canceled)
	})

	t.Run("closed adapter", func(t *testing.T) {
		adapter := NewAdapter()
		require.NoError(t, adapter.Close())

		assert.ErrorIs(t, adapter.Execute(ctx, createWrites("w1")), adapters.ErrAdapterClosed)
		assert.ErrorIs(t, adapter.Ping(ctx), adapters.ErrAdapterClosed)
		_, err := adapter.GetSnapshot(ctx, "w1")
		assert.ErrorIs(t, err, adapters.ErrAdapterClosed)
	})
}

func TestMemoryAdapter_Reads(t *testing.T) {
	ctx := context.Background()

	t.Run("absent rows return nil", func(t *testing.T) {
		adapter := NewAdapter()

		snap, err := adapter.GetSnapshot(ctx, "missing")
		assert.NoError(t, err)
		assert.Nil(t, snap)

		seq, err := adapter.GetSequence(ctx, "missing")
		assert.NoError(t, err)
		assert.Nil(t, seq)

		events, err := adapter.LoadEvents(ctx, "missing")
		assert.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("returned rows are copies", func(t *testing.T) {
		adapter := NewAdapter()
		require.NoError(t, adapter.Execute(ctx, createWrites("w1")))

		events, _ := adapter.LoadEvents(ctx, "w1")
		events[0].Metadata["traceparent"] = "mutated"
		events[0].Data[0] = 'x'

		again, _ := adapter.LoadEvents(ctx, "w1")
		assert.Equal(t, "00-abc", again[0].Metadata["traceparent"])
		assert.Equal(t, []byte(`{}`), again[0].Data)
	})

	t.Run("list snapshots filters by type and orders by id", func(t *testing.T) {
		adapter := NewAdapter()
		for _, id := range []string{"w3", "w1", "w2"} {
			require.NoError(t, adapter.Execute(ctx, createWrites(id)))
		}
		require.NoError(t, adapter.Execute(ctx, []adapters.Write{
			adapters.PutSnapshot{Snapshot: adapters.SnapshotRecord{AggregateID: "t1", AggregateType: "tenant", Payload: []byte(`{}`)}},
		}))

		snaps, err := adapter.ListSnapshots(ctx, "widget")
		require.NoError(t, err)
		require.Len(t, snaps, 3)
		for i, id := range []string{"w1", "w2", "w3"} {
			assert.Equal(t, id, snaps[i].AggregateID)
			assert.Equal(t, "widget", snaps[i].AggregateType)
		}

		snaps[0].Payload[0] = 'x'
		again, _ := adapter.GetSnapshot(ctx, "w1")
		assert.Equal(t, []byte(`{"v":0}`), again.Payload)

		none, err := adapter.ListSnapshots(ctx, "order")
		assert.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("empty id is rejected", func(t *testing.T) {
		adapter := NewAdapter()

		_, err := adapter.LoadEvents(ctx, "")
		assert.ErrorIs(t, err, adapters.ErrEmptyAggregateID)
	})
}

func TestMemoryAdapter_ConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	adapter := NewAdapter()
	require.NoError(t, adapter.Execute(ctx, createWrites("w1")))

	const writers = 16
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := adapter.Execute(ctx, updateWrites("w1", 0, 1))
			if err == nil {
				wins.Add(1)
				return
			}
			assert.ErrorIs(t, err, adapters.ErrConditionFailed)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, 2, adapter.EventCount())
}

func TestMemoryAdapter_Reset(t *testing.T) {
	adapter := NewAdapter()
	require.NoError(t, adapter.Execute(context.Background(), createWrites("w1")))

	adapter.Reset()

	assert.Equal(t, 0, adapter.EventCount())
	assert.Equal(t, 0, adapter.SnapshotCount())
}
