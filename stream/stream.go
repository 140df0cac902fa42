// Package stream moves committed events from a store's change stream onto a
// message broker, and back out again as a change stream the router can
// consume. Broker bindings live in the kafka and redis subpackages.
//
// Records travel msgpack encoded. The relay is at-least-once: a batch is
// acknowledged on the store only after the broker accepted all of it.
package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/AshkanYarmoradi/ordermesh"
	"github.com/AshkanYarmoradi/ordermesh/adapters"
)

// Header keys set on every published message.
const (
	HeaderEventID       = "event_id"
	HeaderEventType     = "event_type"
	HeaderAggregateType = "aggregate_type"
)

// DefaultRetryDelay is the pause after a failed publish.
const DefaultRetryDelay = time.Second

// Publisher writes a batch of records to a broker. Publish returns only
// after every record is durably accepted.
type Publisher interface {
	Publish(ctx context.Context, records []adapters.EventRecord) error
	Close() error
}

// Encode serializes a record for the wire.
func Encode(rec adapters.EventRecord) ([]byte, error) {
	b, err := msgpack.Marshal(&rec)
	if err != nil {
		return nil, fmt.Errorf("ordermesh/stream: encode %s: %w", rec.ID, err)
	}
	return b, nil
}

// Decode parses a record produced by Encode.
func Decode(b []byte) (adapters.EventRecord, error) {
	var rec adapters.EventRecord
	if err := msgpack.Unmarshal(b, &rec); err != nil {
		return adapters.EventRecord{}, fmt.Errorf("ordermesh/stream: decode record: %w", err)
	}
	rec.Timestamp = rec.Timestamp.UTC()
	return rec, nil
}

// Headers returns the message headers for rec: the record metadata plus the
// event identity keys.
func Headers(rec adapters.EventRecord) map[string]string {
	h := make(map[string]string, len(rec.Metadata)+3)
	for k, v := range rec.Metadata {
		h[k] = v
	}
	h[HeaderEventID] = rec.ID
	h[HeaderEventType] = rec.Type
	h[HeaderAggregateType] = rec.AggregateType
	return h
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithRelayLogger sets the logger.
func WithRelayLogger(l ordermesh.Logger) RelayOption {
	return func(r *Relay) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRetryDelay sets the pause after a failed publish.
func WithRetryDelay(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.retryDelay = d
		}
	}
}

// Relay copies a change stream onto a broker.
type Relay struct {
	publisher  Publisher
	logger     ordermesh.Logger
	retryDelay time.Duration
}

// NewRelay creates a relay publishing through p.
func NewRelay(p Publisher, opts ...RelayOption) *Relay {
	r := &Relay{
		publisher:  p,
		logger:     ordermesh.NoopLogger(),
		retryDelay: DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run relays batches until ctx is done or the source is closed. A batch the
// broker rejects is released and retried after the retry delay.
func (r *Relay) Run(ctx context.Context, source adapters.ChangeStream) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		batch, err := source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, adapters.ErrStreamClosed) {
				return nil
			}
			return fmt.Errorf("ordermesh/stream: next batch: %w", err)
		}
		if batch == nil || len(batch.Records) == 0 {
			continue
		}

		if err := r.publisher.Publish(ctx, batch.Records); err != nil {
			if nackErr := source.Nack(ctx, batch); nackErr != nil {
				r.logger.Error("Failed to release batch", "error", nackErr)
			}
			r.logger.Warn("Publish failed, retrying", "records", len(batch.Records), "error", err)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(r.retryDelay):
			}
			continue
		}

		if err := source.Ack(ctx, batch); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ordermesh/stream: ack batch: %w", err)
		}
		r.logger.Debug("Relayed batch", "records", len(batch.Records))
	}
}
