package adapters

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditionFailedError(t *testing.T) {
	err := NewConditionFailedError(2, UpdateSnapshot{
		Snapshot:        SnapshotRecord{AggregateID: "w-1"},
		ExpectedVersion: 3,
	})

	assert.True(t, errors.Is(err, ErrConditionFailed))
	assert.Equal(t, 2, err.Index)
	assert.Equal(t, OpUpdateSnapshot, err.Operation)
	assert.Equal(t, "w-1", err.AggregateID)
	assert.Contains(t, err.Error(), "update_snapshot")
}

func TestValidateWrites(t *testing.T) {
	t.Run("rejects empty write set", func(t *testing.T) {
		assert.ErrorIs(t, ValidateWrites(nil), ErrNoWrites)
	})

	t.Run("rejects missing aggregate id", func(t *testing.T) {
		err := ValidateWrites([]Write{PutEvent{Event: EventRecord{Sequence: 0}}})
		assert.ErrorIs(t, err, ErrEmptyAggregateID)
	})

	t.Run("rejects non-advancing sequence", func(t *testing.T) {
		err := ValidateWrites([]Write{AdvanceSequence{ID: "a", Expected: 3, Next: 3}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must advance")
	})

	t.Run("accepts a full update", func(t *testing.T) {
		err := ValidateWrites([]Write{
			PutEvent{Event: EventRecord{AggregateID: "a", Sequence: 1}},
			AdvanceSequence{ID: "a", Expected: 0, Next: 1},
			UpdateSnapshot{Snapshot: SnapshotRecord{AggregateID: "a", Version: 1}, ExpectedVersion: 0},
		})
		assert.NoError(t, err)
	})
}

func TestWriteAccessors(t *testing.T) {
	writes := []Write{
		PutEvent{Event: EventRecord{AggregateID: "a"}},
		PutSequence{Sequence: SequenceRecord{AggregateID: "b"}},
		PutSnapshot{Snapshot: SnapshotRecord{AggregateID: "c"}},
		AdvanceSequence{ID: "d", Expected: 1, Next: 2},
		UpdateSnapshot{Snapshot: SnapshotRecord{AggregateID: "e"}},
	}
	ids := []string{"a", "b", "c", "d", "e"}
	ops := []string{OpPutEvent, OpPutSequence, OpPutSnapshot, OpAdvanceSequence, OpUpdateSnapshot}

	for i, w := range writes {
		assert.Equal(t, ids[i], w.AggregateID())
		assert.Equal(t, ops[i], w.Operation())
	}
}

func TestCopyEventRecord(t *testing.T) {
	original := EventRecord{
		AggregateID: "a",
		Data:        []byte(`{"name":"x"}`),
		Metadata:    map[string]string{"traceparent": "00-abc"},
	}

	copied := CopyEventRecord(original)
	copied.Data[0] = 'X'
	copied.Metadata["traceparent"] = "changed"

	assert.Equal(t, byte('{'), original.Data[0])
	assert.Equal(t, "00-abc", original.Metadata["traceparent"])
}

func TestSortBySequence(t *testing.T) {
	records := []EventRecord{{Sequence: 2}, {Sequence: 0}, {Sequence: 1}}
	SortBySequence(records)

	assert.Equal(t, []uint64{0, 1, 2}, []uint64{records[0].Sequence, records[1].Sequence, records[2].Sequence})
}

func TestApplyStreamOptions(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		opts := ApplyStreamOptions()
		assert.Equal(t, DefaultBatchSize, opts.BatchSize)
		assert.Equal(t, DefaultPollInterval, opts.PollInterval)
	})

	t.Run("overrides", func(t *testing.T) {
		opts := ApplyStreamOptions(StreamOptions{BatchSize: 5, PollInterval: time.Second})
		assert.Equal(t, 5, opts.BatchSize)
		assert.Equal(t, time.Second, opts.PollInterval)
	})
}
