// Package testutil provides test doubles for code built on ordermesh.
package testutil

import (
	"context"
	"sync"

	"github.com/AshkanYarmoradi/ordermesh/adapters"
	"github.com/AshkanYarmoradi/ordermesh/adapters/memory"
)

var _ adapters.TransactionalStore = (*FaultStore)(nil)

// FaultStore wraps a TransactionalStore and injects errors into it.
// Set the *Err fields to fail every call of that kind, or queue one-shot
// failures with FailNextExecute and FailAfterCommit.
type FaultStore struct {
	adapters.TransactionalStore

	ExecuteErr     error
	GetSnapshotErr error
	GetSequenceErr error
	LoadEventsErr  error
	ListErr        error

	mu        sync.Mutex
	queued    []fault
	executed  [][]adapters.Write
	snapReads int
}

type fault struct {
	err         error
	afterCommit bool
}

// NewFaultStore wraps inner. A nil inner selects a fresh memory adapter.
func NewFaultStore(inner adapters.TransactionalStore) *FaultStore {
	if inner == nil {
		inner = memory.NewAdapter()
	}
	return &FaultStore{TransactionalStore: inner}
}

// FailNextExecute makes the next Execute return err without writing.
func (s *FaultStore) FailNextExecute(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued = append(s.queued, fault{err: err})
}

// FailAfterCommit makes the next Execute commit its writes and then
// return err, as when a connection drops before the reply arrives.
func (s *FaultStore) FailAfterCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued = append(s.queued, fault{err: err, afterCommit: true})
}

// Execute implements adapters.TransactionalStore.
func (s *FaultStore) Execute(ctx context.Context, writes []adapters.Write) error {
	s.mu.Lock()
	s.executed = append(s.executed, append([]adapters.Write(nil), writes...))
	var f *fault
	if len(s.queued) > 0 {
		f = &s.queued[0]
		s.queued = s.queued[1:]
	}
	persistent := s.ExecuteErr
	s.mu.Unlock()

	if persistent != nil {
		return persistent
	}
	if f == nil {
		return s.TransactionalStore.Execute(ctx, writes)
	}
	if f.afterCommit {
		if err := s.TransactionalStore.Execute(ctx, writes); err != nil {
			return err
		}
	}
	return f.err
}

// GetSnapshot implements adapters.TransactionalStore.
func (s *FaultStore) GetSnapshot(ctx context.Context, aggregateID string) (*adapters.SnapshotRecord, error) {
	s.mu.Lock()
	s.snapReads++
	s.mu.Unlock()
	if s.GetSnapshotErr != nil {
		return nil, s.GetSnapshotErr
	}
	return s.TransactionalStore.GetSnapshot(ctx, aggregateID)
}

// GetSequence implements adapters.TransactionalStore.
func (s *FaultStore) GetSequence(ctx context.Context, aggregateID string) (*adapters.SequenceRecord, error) {
	if s.GetSequenceErr != nil {
		return nil, s.GetSequenceErr
	}
	return s.TransactionalStore.GetSequence(ctx, aggregateID)
}

// LoadEvents implements adapters.TransactionalStore.
func (s *FaultStore) LoadEvents(ctx context.Context, aggregateID string) ([]adapters.EventRecord, error) {
	if s.LoadEventsErr != nil {
		return nil, s.LoadEventsErr
	}
	return s.TransactionalStore.LoadEvents(ctx, aggregateID)
}

// ListSnapshots implements adapters.TransactionalStore.
func (s *FaultStore) ListSnapshots(ctx context.Context, aggregateType string) ([]adapters.SnapshotRecord, error) {
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	return s.TransactionalStore.ListSnapshots(ctx, aggregateType)
}

// Executed returns every write set passed to Execute, failed ones included.
func (s *FaultStore) Executed() [][]adapters.Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]adapters.Write(nil), s.executed...)
}

// SnapshotReads returns how many times GetSnapshot was called.
func (s *FaultStore) SnapshotReads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapReads
}
