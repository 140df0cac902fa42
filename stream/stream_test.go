package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshkanYarmoradi/ordermesh/adapters"
	"github.com/AshkanYarmoradi/ordermesh/adapters/memory"
)

type flakyPublisher struct {
	mu        sync.Mutex
	failures  int
	published []adapters.EventRecord
	notify    chan struct{}
}

func (p *flakyPublisher) Publish(ctx context.Context, records []adapters.EventRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, records...)
	select {
	case p.notify <- struct{}{}:
	default:
	}
	return nil
}

func (p *flakyPublisher) Close() error { return nil }

func (p *flakyPublisher) records() []adapters.EventRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]adapters.EventRecord(nil), p.published...)
}

func record(id string, seq uint64) adapters.EventRecord {
	return adapters.EventRecord{
		ID:            id,
		AggregateID:   "cart-1",
		AggregateType: "cart",
		Sequence:      seq,
		Type:          "CartItemAddedV1",
		Data:          []byte(`{"item_id":"i-1"}`),
		Metadata:      map[string]string{"traceparent": "00-abc-def-01"},
		Timestamp:     time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestEncodeDecode(t *testing.T) {
	rec := record("e-1", 3)

	b, err := Encode(rec)
	require.NoError(t, err)

	got, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	_, err = Decode([]byte{0xc1})
	assert.Error(t, err)
}

func TestHeaders(t *testing.T) {
	h := Headers(record("e-1", 0))
	assert.Equal(t, "e-1", h[HeaderEventID])
	assert.Equal(t, "CartItemAddedV1", h[HeaderEventType])
	assert.Equal(t, "cart", h[HeaderAggregateType])
	assert.Equal(t, "00-abc-def-01", h["traceparent"])
}

func TestRelay_Run(t *testing.T) {
	store := memory.NewAdapter()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, store.Execute(ctx, []adapters.Write{
		adapters.PutEvent{Event: record("e-1", 0)},
		adapters.PutSequence{Sequence: adapters.SequenceRecord{AggregateID: "cart-1"}},
	}))

	source, err := store.ChangeStream(ctx, "relay", adapters.StreamOptions{PollInterval: 5 * time.Millisecond})
	require.NoError(t, err)

	pub := &flakyPublisher{failures: 1, notify: make(chan struct{}, 1)}
	relay := NewRelay(pub, WithRetryDelay(10*time.Millisecond))

	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx, source) }()

	select {
	case <-pub.notify:
	case <-ctx.Done():
		t.Fatal("record was never published")
	}

	require.NoError(t, source.Close())
	require.NoError(t, <-done)

	got := pub.records()
	require.Len(t, got, 1)
	assert.Equal(t, "e-1", got[0].ID)
	assert.Equal(t, 1, store.Checkpoint("relay"))
}
