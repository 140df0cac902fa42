// Package memory provides an in-memory implementation of the transactional store.
// This adapter is primarily intended for testing and development purposes.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/AshkanYarmoradi/ordermesh/adapters"
)

// Ensure MemoryAdapter implements all required interfaces.
var (
	_ adapters.TransactionalStore   = (*MemoryAdapter)(nil)
	_ adapters.ChangeStreamProvider = (*MemoryAdapter)(nil)
	_ adapters.HealthChecker        = (*MemoryAdapter)(nil)
)

type eventKey struct {
	aggregateID string
	sequence    uint64
}

// MemoryAdapter is an in-memory implementation of TransactionalStore.
// It is thread-safe and suitable for unit testing. Execute holds a single
// lock, so every call is serializable.
type MemoryAdapter struct {
	mu        sync.RWMutex
	events    map[string][]adapters.EventRecord
	eventKeys map[eventKey]struct{}
	log       []adapters.EventRecord
	snapshots map[string]adapters.SnapshotRecord
	sequences map[string]uint64
	closed    bool

	checkpoints map[string]int
	appended    chan struct{}

	beforeExecute func(ctx context.Context, writes []adapters.Write) error
}

// Option configures a MemoryAdapter.
type Option func(*MemoryAdapter)

// WithExecuteHook installs a function called before each Execute.
// A non-nil error from the hook is returned without applying any write.
// Tests use it to inject transport failures or to interleave writers.
func WithExecuteHook(hook func(ctx context.Context, writes []adapters.Write) error) Option {
	return func(a *MemoryAdapter) {
		a.beforeExecute = hook
	}
}

// NewAdapter creates a new in-memory store adapter.
func NewAdapter(opts ...Option) *MemoryAdapter {
	adapter := &MemoryAdapter{
		events:      make(map[string][]adapters.EventRecord),
		eventKeys:   make(map[eventKey]struct{}),
		snapshots:   make(map[string]adapters.SnapshotRecord),
		sequences:   make(map[string]uint64),
		checkpoints: make(map[string]int),
		appended:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(adapter)
	}

	return adapter
}

// Initialize is a no-op for the memory adapter.
func (a *MemoryAdapter) Initialize(ctx context.Context) error {
	return nil
}

// Execute applies writes atomically. Guards are evaluated against the
// committed state plus the effects of earlier writes in the same call.
func (a *MemoryAdapter) Execute(ctx context.Context, writes []adapters.Write) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := adapters.ValidateWrites(writes); err != nil {
		return err
	}
	if a.beforeExecute != nil {
		if err := a.beforeExecute(ctx, writes); err != nil {
			return err
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return adapters.ErrAdapterClosed
	}

	stagedEvents := make(map[eventKey]struct{})
	stagedSequences := make(map[string]uint64)
	stagedSnapshots := make(map[string]uint64)

	sequence := func(id string) (uint64, bool) {
		if v, ok := stagedSequences[id]; ok {
			return v, true
		}
		v, ok := a.sequences[id]
		return v, ok
	}
	snapshotVersion := func(id string) (uint64, bool) {
		if v, ok := stagedSnapshots[id]; ok {
			return v, true
		}
		s, ok := a.snapshots[id]
		return s.Version, ok
	}

	for i, w := range writes {
		switch w := w.(type) {
		case adapters.PutEvent:
			k := eventKey{w.Event.AggregateID, w.Event.Sequence}
			_, committed := a.eventKeys[k]
			_, staged := stagedEvents[k]
			if committed || staged {
				return adapters.NewConditionFailedError(i, w)
			}
			stagedEvents[k] = struct{}{}

		case adapters.PutSequence:
			if _, ok := sequence(w.Sequence.AggregateID); ok {
				return adapters.NewConditionFailedError(i, w)
			}
			stagedSequences[w.Sequence.AggregateID] = w.Sequence.LatestEventID

		case adapters.PutSnapshot:
			if _, ok := snapshotVersion(w.Snapshot.AggregateID); ok {
				return adapters.NewConditionFailedError(i, w)
			}
			stagedSnapshots[w.Snapshot.AggregateID] = w.Snapshot.Version

		case adapters.AdvanceSequence:
			cur, ok := sequence(w.ID)
			if !ok || cur != w.Expected {
				return adapters.NewConditionFailedError(i, w)
			}
			stagedSequences[w.ID] = w.Next

		case adapters.UpdateSnapshot:
			cur, ok := snapshotVersion(w.Snapshot.AggregateID)
			if !ok || cur != w.ExpectedVersion {
				return adapters.NewConditionFailedError(i, w)
			}
			stagedSnapshots[w.Snapshot.AggregateID] = w.Snapshot.Version

		default:
			return fmt.Errorf("memory: unsupported write %T", w)
		}
	}

	appended := false
	for _, w := range writes {
		switch w := w.(type) {
		case adapters.PutEvent:
			rec := adapters.CopyEventRecord(w.Event)
			a.eventKeys[eventKey{rec.AggregateID, rec.Sequence}] = struct{}{}
			a.events[rec.AggregateID] = append(a.events[rec.AggregateID], rec)
			adapters.SortBySequence(a.events[rec.AggregateID])
			a.log = append(a.log, rec)
			appended = true
		case adapters.PutSequence:
			a.sequences[w.Sequence.AggregateID] = w.Sequence.LatestEventID
		case adapters.AdvanceSequence:
			a.sequences[w.ID] = w.Next
		case adapters.PutSnapshot:
			a.snapshots[w.Snapshot.AggregateID] = copySnapshot(w.Snapshot)
		case adapters.UpdateSnapshot:
			a.snapshots[w.Snapshot.AggregateID] = copySnapshot(w.Snapshot)
		}
	}

	if appended {
		close(a.appended)
		a.appended = make(chan struct{})
	}
	return nil
}

// GetSnapshot returns the snapshot record, or nil if none exists.
func (a *MemoryAdapter) GetSnapshot(ctx context.Context, aggregateID string) (*adapters.SnapshotRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}
	if aggregateID == "" {
		return nil, adapters.ErrEmptyAggregateID
	}

	snapshot, exists := a.snapshots[aggregateID]
	if !exists {
		return nil, nil
	}

	// Return a copy
	out := copySnapshot(snapshot)
	return &out, nil
}

// ListSnapshots returns copies of the snapshots of aggregateType ordered by id.
func (a *MemoryAdapter) ListSnapshots(ctx context.Context, aggregateType string) ([]adapters.SnapshotRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	out := make([]adapters.SnapshotRecord, 0)
	for _, snapshot := range a.snapshots {
		if snapshot.AggregateType == aggregateType {
			out = append(out, copySnapshot(snapshot))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AggregateID < out[j].AggregateID })
	return out, nil
}

// GetSequence returns the sequence record, or nil if none exists.
func (a *MemoryAdapter) GetSequence(ctx context.Context, aggregateID string) (*adapters.SequenceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}
	if aggregateID == "" {
		return nil, adapters.ErrEmptyAggregateID
	}

	latest, exists := a.sequences[aggregateID]
	if !exists {
		return nil, nil
	}
	return &adapters.SequenceRecord{AggregateID: aggregateID, LatestEventID: latest}, nil
}

// LoadEvents returns all events of an aggregate ordered by sequence.
func (a *MemoryAdapter) LoadEvents(ctx context.Context, aggregateID string) ([]adapters.EventRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}
	if aggregateID == "" {
		return nil, adapters.ErrEmptyAggregateID
	}

	stored := a.events[aggregateID]
	events := make([]adapters.EventRecord, len(stored))
	for i, rec := range stored {
		events[i] = adapters.CopyEventRecord(rec)
	}
	return events, nil
}

// Close releases any resources held by the adapter.
func (a *MemoryAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.closed {
		a.closed = true
		close(a.appended)
	}
	return nil
}

// Ping checks if the adapter is healthy.
func (a *MemoryAdapter) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return adapters.ErrAdapterClosed
	}

	return nil
}

// Reset clears all data. Useful for testing.
func (a *MemoryAdapter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.events = make(map[string][]adapters.EventRecord)
	a.eventKeys = make(map[eventKey]struct{})
	a.log = nil
	a.snapshots = make(map[string]adapters.SnapshotRecord)
	a.sequences = make(map[string]uint64)
	a.checkpoints = make(map[string]int)
}

// EventCount returns the total number of events stored.
func (a *MemoryAdapter) EventCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.log)
}

// SnapshotCount returns the number of snapshot records.
func (a *MemoryAdapter) SnapshotCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.snapshots)
}

func copySnapshot(s adapters.SnapshotRecord) adapters.SnapshotRecord {
	out := s
	if s.Payload != nil {
		out.Payload = append([]byte(nil), s.Payload...)
	}
	return out
}
