// Package adapters provides interfaces for transactional aggregate store backends.
package adapters

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for adapter implementations.
// Adapters should return these (or errors that match via errors.Is)
// to enable consistent error handling across different backends.
var (
	// ErrConditionFailed is returned when a conditional write guard did not hold.
	// The whole transaction is rejected and nothing is committed.
	ErrConditionFailed = errors.New("ordermesh: condition failed")

	// ErrEmptyAggregateID is returned when a write or read names no aggregate.
	ErrEmptyAggregateID = errors.New("ordermesh: aggregate ID is required")

	// ErrNoWrites is returned when Execute is called with an empty write set.
	ErrNoWrites = errors.New("ordermesh: no writes to execute")

	// ErrAdapterClosed is returned when operations are attempted on a closed adapter.
	ErrAdapterClosed = errors.New("ordermesh: adapter is closed")

	// ErrStreamClosed is returned by a change stream after Close.
	ErrStreamClosed = errors.New("ordermesh: change stream is closed")
)

// EventRecord is one row of the event log.
// Rows are keyed by (AggregateID, Sequence) and never change once written.
type EventRecord struct {
	// ID is the unique event identifier (time ordered).
	ID string `json:"id" bson:"event_id" msgpack:"id"`

	// AggregateID is the aggregate this event belongs to.
	AggregateID string `json:"aggregateId" bson:"aggregate_id" msgpack:"aggregate_id"`

	// AggregateType is the aggregate category (e.g. "widget", "cart").
	AggregateType string `json:"aggregateType" bson:"aggregate_type" msgpack:"aggregate_type"`

	// Sequence is the gapless per-aggregate position. The creation event is 0.
	Sequence uint64 `json:"sequence" bson:"sequence" msgpack:"sequence"`

	// Type is the versioned payload type (e.g. "WidgetCreatedV1").
	Type string `json:"type" bson:"type" msgpack:"type"`

	// Data is the serialized payload.
	Data []byte `json:"data" bson:"data" msgpack:"data"`

	// Metadata carries string keys such as trace propagation headers.
	Metadata map[string]string `json:"metadata,omitempty" bson:"metadata,omitempty" msgpack:"metadata,omitempty"`

	// Timestamp is when the event was produced.
	Timestamp time.Time `json:"timestamp" bson:"timestamp" msgpack:"timestamp"`
}

// SnapshotRecord is the materialized aggregate row.
type SnapshotRecord struct {
	// AggregateID is the aggregate identifier (partition key).
	AggregateID string

	// AggregateType is the aggregate category.
	AggregateType string

	// Version is the aggregate version the payload reflects.
	Version uint64

	// Payload is an opaque versioned document.
	Payload []byte
}

// SequenceRecord is the per-aggregate sequence counter.
type SequenceRecord struct {
	// AggregateID is the aggregate identifier.
	AggregateID string

	// LatestEventID is the last assigned event sequence.
	LatestEventID uint64
}

// Write is one conditional operation inside an Execute call.
// The set of writes is closed; adapters switch over the concrete types below.
type Write interface {
	// AggregateID returns the aggregate the write targets.
	AggregateID() string

	// Operation returns a short name for logs, spans and metrics.
	Operation() string

	isWrite()
}

// PutEvent appends an event row, guarded by "row does not exist".
type PutEvent struct {
	Event EventRecord
}

// PutSequence creates the sequence record, guarded by "row does not exist".
type PutSequence struct {
	Sequence SequenceRecord
}

// PutSnapshot creates the snapshot record, guarded by "row does not exist".
type PutSnapshot struct {
	Snapshot SnapshotRecord
}

// AdvanceSequence moves LatestEventID from Expected to Next,
// guarded by "latest_event_id equals Expected".
type AdvanceSequence struct {
	ID       string
	Expected uint64
	Next     uint64
}

// UpdateSnapshot replaces the snapshot record,
// guarded by "version equals ExpectedVersion".
type UpdateSnapshot struct {
	Snapshot        SnapshotRecord
	ExpectedVersion uint64
}

// Operation names.
const (
	OpPutEvent        = "put_event"
	OpPutSequence     = "put_sequence"
	OpPutSnapshot     = "put_snapshot"
	OpAdvanceSequence = "advance_sequence"
	OpUpdateSnapshot  = "update_snapshot"
)

func (w PutEvent) AggregateID() string        { return w.Event.AggregateID }
func (w PutSequence) AggregateID() string     { return w.Sequence.AggregateID }
func (w PutSnapshot) AggregateID() string     { return w.Snapshot.AggregateID }
func (w AdvanceSequence) AggregateID() string { return w.ID }
func (w UpdateSnapshot) AggregateID() string  { return w.Snapshot.AggregateID }

func (PutEvent) Operation() string        { return OpPutEvent }
func (PutSequence) Operation() string     { return OpPutSequence }
func (PutSnapshot) Operation() string     { return OpPutSnapshot }
func (AdvanceSequence) Operation() string { return OpAdvanceSequence }
func (UpdateSnapshot) Operation() string  { return OpUpdateSnapshot }

func (PutEvent) isWrite()        {}
func (PutSequence) isWrite()     {}
func (PutSnapshot) isWrite()     {}
func (AdvanceSequence) isWrite() {}
func (UpdateSnapshot) isWrite()  {}

// TransactionalStore is the interface that storage backends must implement.
// It offers multi-row atomic conditional writes across the snapshot,
// event log and sequence tables.
type TransactionalStore interface {
	// Execute applies all writes atomically. If any guard fails, nothing is
	// committed and the returned error matches ErrConditionFailed.
	Execute(ctx context.Context, writes []Write) error

	// GetSnapshot returns the snapshot record for an aggregate.
	// Returns nil, nil if no snapshot exists.
	GetSnapshot(ctx context.Context, aggregateID string) (*SnapshotRecord, error)

	// GetSequence returns the sequence record for an aggregate.
	// Returns nil, nil if no sequence record exists.
	GetSequence(ctx context.Context, aggregateID string) (*SequenceRecord, error)

	// LoadEvents returns every event of an aggregate ordered by sequence.
	LoadEvents(ctx context.Context, aggregateID string) ([]EventRecord, error)

	// ListSnapshots returns the snapshot records of every aggregate of
	// aggregateType, ordered by aggregate id.
	ListSnapshots(ctx context.Context, aggregateType string) ([]SnapshotRecord, error)

	// Initialize sets up the required schema.
	Initialize(ctx context.Context) error

	// Close releases any resources held by the adapter.
	Close() error
}

// Batch is a group of committed event rows delivered by a change stream.
type Batch struct {
	// Records are in commit order.
	Records []EventRecord

	// Cursor is an adapter-specific position used by Ack.
	Cursor any
}

// ChangeStream delivers committed event rows with at-least-once semantics.
// A batch that is not acknowledged is delivered again.
type ChangeStream interface {
	// Next blocks until a batch is available or ctx is done.
	Next(ctx context.Context) (*Batch, error)

	// Ack marks the batch as processed.
	Ack(ctx context.Context, batch *Batch) error

	// Nack releases the batch for redelivery.
	Nack(ctx context.Context, batch *Batch) error

	// Close stops the stream.
	Close() error
}

// HealthChecker provides health check capabilities.
type HealthChecker interface {
	// Ping checks if the adapter can connect to its backend.
	Ping(ctx context.Context) error
}

// ChangeStreamProvider is implemented by stores that can expose their
// event log as a change stream.
type ChangeStreamProvider interface {
	// ChangeStream opens a change stream identified by consumer. The consumer
	// name scopes the persisted checkpoint.
	ChangeStream(ctx context.Context, consumer string, opts ...StreamOptions) (ChangeStream, error)
}

// StreamOptions configures change stream behavior.
// Adapters may support additional options beyond these common ones.
type StreamOptions struct {
	// BatchSize is the maximum number of records per batch.
	// Default: 100
	BatchSize int

	// PollInterval is how often polling-based adapters look for new rows.
	// Default: 200ms
	PollInterval time.Duration
}
