package memory

import (
	"context"
	"sync"
	"time"

	"github.com/AshkanYarmoradi/ordermesh/adapters"
)

var _ adapters.ChangeStream = (*ChangeStream)(nil)

// ChangeStream delivers the adapter's event log in commit order.
// The position of each consumer is kept by the adapter, so a stream
// reopened under the same consumer name resumes after its last Ack.
type ChangeStream struct {
	adapter  *MemoryAdapter
	consumer string
	opts     adapters.StreamOptions

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// ChangeStream opens a change stream for consumer.
func (a *MemoryAdapter) ChangeStream(ctx context.Context, consumer string, opts ...adapters.StreamOptions) (adapters.ChangeStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	return &ChangeStream{
		adapter:  a,
		consumer: consumer,
		opts:     adapters.ApplyStreamOptions(opts...),
		done:     make(chan struct{}),
	}, nil
}

// Next returns the records after the consumer's checkpoint, blocking until
// at least one exists. Until Ack is called Next keeps returning the same
// records.
func (s *ChangeStream) Next(ctx context.Context) (*adapters.Batch, error) {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		batch, wait, err := s.poll()
		if err != nil {
			return nil, err
		}
		if batch != nil {
			return batch, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.done:
			return nil, adapters.ErrStreamClosed
		case <-wait:
		case <-ticker.C:
		}
	}
}

func (s *ChangeStream) poll() (*adapters.Batch, <-chan struct{}, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, nil, adapters.ErrStreamClosed
	}

	a := s.adapter
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, nil, adapters.ErrAdapterClosed
	}

	pos := a.checkpoints[s.consumer]
	if pos >= len(a.log) {
		return nil, a.appended, nil
	}

	end := pos + s.opts.BatchSize
	if end > len(a.log) {
		end = len(a.log)
	}
	records := make([]adapters.EventRecord, 0, end-pos)
	for _, rec := range a.log[pos:end] {
		records = append(records, adapters.CopyEventRecord(rec))
	}
	return &adapters.Batch{Records: records, Cursor: end}, nil, nil
}

// Ack moves the consumer's checkpoint past the batch.
func (s *ChangeStream) Ack(ctx context.Context, batch *adapters.Batch) error {
	end, ok := batch.Cursor.(int)
	if !ok {
		return nil
	}

	a := s.adapter
	a.mu.Lock()
	defer a.mu.Unlock()

	if end > a.checkpoints[s.consumer] {
		a.checkpoints[s.consumer] = end
	}
	return nil
}

// Nack leaves the checkpoint unchanged so the batch is delivered again.
func (s *ChangeStream) Nack(ctx context.Context, batch *adapters.Batch) error {
	return nil
}

// Close stops the stream. Blocked Next calls return ErrStreamClosed.
func (s *ChangeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

// Checkpoint returns how many log records consumer has acknowledged.
func (a *MemoryAdapter) Checkpoint(consumer string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.checkpoints[consumer]
}
