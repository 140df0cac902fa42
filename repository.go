package ordermesh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AshkanYarmoradi/ordermesh/adapters"
)

// Logger is a minimal key/value logging interface.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// noopLogger is a no-op logger implementation.
type noopLogger struct{}

func (l *noopLogger) Debug(msg string, args ...interface{}) {}
func (l *noopLogger) Info(msg string, args ...interface{})  {}
func (l *noopLogger) Warn(msg string, args ...interface{})  {}
func (l *noopLogger) Error(msg string, args ...interface{}) {}

// NoopLogger returns a Logger that discards everything.
func NoopLogger() Logger {
	return &noopLogger{}
}

// MetadataInjector writes propagation keys carried by ctx into event metadata.
type MetadataInjector interface {
	Inject(ctx context.Context, md Metadata)
}

type noopInjector struct{}

func (noopInjector) Inject(context.Context, Metadata) {}

// Materialization selects how a repository writes events.
type Materialization int

const (
	// EagerEvents writes event rows in the same transaction as the snapshot.
	EagerEvents Materialization = iota

	// LazyEvents keeps new events inline in the snapshot record. Get appends
	// them to the event log before folding the log into the aggregate.
	LazyEvents
)

// String returns the mode name.
func (m Materialization) String() string {
	if m == LazyEvents {
		return "lazy"
	}
	return "eager"
}

// RepositoryOption configures a Repository.
type RepositoryOption func(*repositoryConfig)

type repositoryConfig struct {
	logger   Logger
	injector MetadataInjector
	mode     Materialization
	clock    func() time.Time
}

// WithLogger sets the logger.
func WithLogger(l Logger) RepositoryOption {
	return func(c *repositoryConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetadataInjector sets the injector used to stamp trace context on events.
func WithMetadataInjector(i MetadataInjector) RepositoryOption {
	return func(c *repositoryConfig) {
		if i != nil {
			c.injector = i
		}
	}
}

// WithMaterialization sets the event write mode.
func WithMaterialization(m Materialization) RepositoryOption {
	return func(c *repositoryConfig) {
		c.mode = m
	}
}

// WithClock sets the time source for event timestamps.
func WithClock(clock func() time.Time) RepositoryOption {
	return func(c *repositoryConfig) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// Repository persists one aggregate type over a TransactionalStore.
// Every operation is a single atomic Execute call; concurrent writers are
// arbitrated only by the store's conditional guards.
//
// T is the aggregate struct and A its pointer type:
//
//	repo := ordermesh.NewRepository[widget.Widget](store, serializer)
type Repository[T any, A Root[T]] struct {
	store         adapters.TransactionalStore
	serializer    Serializer
	aggregateType string
	cfg           repositoryConfig
}

// NewRepository creates a Repository.
func NewRepository[T any, A Root[T]](store adapters.TransactionalStore, serializer Serializer, opts ...RepositoryOption) *Repository[T, A] {
	cfg := repositoryConfig{
		logger:   &noopLogger{},
		injector: noopInjector{},
		mode:     EagerEvents,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Repository[T, A]{
		store:         store,
		serializer:    serializer,
		aggregateType: newAggregate[T, A]("").AggregateType(),
		cfg:           cfg,
	}
}

// AggregateType returns the aggregate type this repository persists.
func (r *Repository[T, A]) AggregateType() string {
	return r.aggregateType
}

// Materialization returns the configured event write mode.
func (r *Repository[T, A]) Materialization() Materialization {
	return r.cfg.mode
}

// Create persists a newly created aggregate together with its creation event.
// All rows are guarded by "does not exist"; an existing id yields ErrConflict.
func (r *Repository[T, A]) Create(ctx context.Context, agg A, event EventPayload) error {
	if agg == nil {
		return NewInvalidEventsError("", "nil aggregate")
	}
	id := agg.AggregateID()
	if !IsCreation(event) {
		return NewInvalidEventsError(id, fmt.Sprintf("%s is not a creation event", typeName(event)))
	}
	if !agg.Created() || agg.Version() != 0 {
		return NewInvalidEventsError(id, "aggregate must be freshly created at version 0")
	}

	rec, err := r.newRecord(ctx, agg, 0, event)
	if err != nil {
		return err
	}
	state, err := agg.MarshalState()
	if err != nil {
		return NewSerializationError(r.aggregateType, "serialize", err)
	}

	var pending []adapters.EventRecord
	writes := make([]adapters.Write, 0, 3)
	if r.cfg.mode == LazyEvents {
		pending = []adapters.EventRecord{rec}
	} else {
		writes = append(writes, adapters.PutEvent{Event: rec})
	}

	payload, err := encodeSnapshot(state, pending)
	if err != nil {
		return NewSerializationError(r.aggregateType, "serialize", err)
	}

	writes = append(writes,
		adapters.PutSequence{Sequence: adapters.SequenceRecord{AggregateID: id, LatestEventID: 0}},
		adapters.PutSnapshot{Snapshot: adapters.SnapshotRecord{
			AggregateID:   id,
			AggregateType: r.aggregateType,
			Version:       0,
			Payload:       payload,
		}},
	)

	if err := r.execute(ctx, "create", id, writes); err != nil {
		return err
	}

	agg.base().unflushed = pending
	r.cfg.logger.Debug("Aggregate created", "aggregateType", r.aggregateType, "aggregateId", id, "mode", r.cfg.mode.String())
	return nil
}

// Get loads the aggregate with the given id. It returns an error matching
// ErrNotFound when no snapshot exists.
//
// When the snapshot carries pending events (always, in LazyEvents mode) Get
// first appends each of them to the event log, treating rows that already
// exist as flushed, then folds the log with Replay. The embedded state is
// not returned in that case.
func (r *Repository[T, A]) Get(ctx context.Context, id ID[T]) (A, error) {
	aggregateID := id.String()

	rec, err := r.store.GetSnapshot(ctx, aggregateID)
	if err != nil {
		return nil, NewTransportError("get snapshot", err)
	}
	if rec == nil {
		return nil, NewNotFoundError(r.aggregateType, aggregateID)
	}
	return r.load(ctx, id, rec)
}

// List returns every aggregate of this repository's type ordered by id.
// Each one is loaded the way Get loads it, so in LazyEvents mode List also
// flushes pending events.
func (r *Repository[T, A]) List(ctx context.Context) ([]A, error) {
	recs, err := r.store.ListSnapshots(ctx, r.aggregateType)
	if err != nil {
		return nil, NewTransportError("list snapshots", err)
	}

	out := make([]A, 0, len(recs))
	for i := range recs {
		id, err := ParseID[T](recs[i].AggregateID)
		if err != nil {
			return nil, NewCorruptStateError(recs[i].AggregateID, "malformed aggregate id", err)
		}
		agg, err := r.load(ctx, id, &recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, agg)
	}
	return out, nil
}

// load builds the aggregate from its snapshot record.
func (r *Repository[T, A]) load(ctx context.Context, id ID[T], rec *adapters.SnapshotRecord) (A, error) {
	aggregateID := id.String()

	doc, err := decodeSnapshot(rec)
	if err != nil {
		return nil, err
	}

	if r.cfg.mode == LazyEvents || len(doc.Pending) > 0 {
		return r.reconcile(ctx, id, rec, doc)
	}

	agg := newAggregate[T, A](aggregateID)
	if err := agg.UnmarshalState(doc.State); err != nil {
		return nil, NewCorruptStateError(aggregateID, "malformed aggregate state", err)
	}
	b := agg.base()
	b.created = true
	b.version = rec.Version
	return agg, nil
}

// Find is Get with absence reported as (nil, false, nil).
func (r *Repository[T, A]) Find(ctx context.Context, id ID[T]) (A, bool, error) {
	agg, err := r.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return agg, true, nil
}

// Update persists events produced by one or more commands. agg must already
// be at its new version; the events receive sequences
// Version()-len(events)+1 through Version(). The snapshot write is guarded by
// "version equals Version()-len(events)" and the sequence write by
// "latest_event_id equals Version()-len(events)". A lost race yields
// ErrConflict and nothing is written.
//
// agg must come from Get, Create or a previous Update of this repository.
func (r *Repository[T, A]) Update(ctx context.Context, agg A, events []EventPayload) error {
	if agg == nil {
		return NewInvalidEventsError("", "nil aggregate")
	}
	id := agg.AggregateID()

	if len(events) == 0 {
		return NewInvalidEventsError(id, "update requires at least one event")
	}
	for _, e := range events {
		if e == nil {
			return NewInvalidEventsError(id, "nil event")
		}
		if IsCreation(e) {
			return NewInvalidEventsError(id, fmt.Sprintf("creation event %s cannot be written by update", e.EventType()))
		}
	}
	if !agg.Created() {
		return NewInvalidEventsError(id, "aggregate is not created")
	}

	newVersion := agg.Version()
	n := uint64(len(events))
	if newVersion < n {
		return NewInvalidEventsError(id,
			fmt.Sprintf("version %d cannot account for %d non-creation events", newVersion, n))
	}
	baseVersion := newVersion - n

	records := make([]adapters.EventRecord, 0, len(events))
	for i, e := range events {
		rec, err := r.newRecord(ctx, agg, baseVersion+uint64(i)+1, e)
		if err != nil {
			return err
		}
		records = append(records, rec)
	}

	state, err := agg.MarshalState()
	if err != nil {
		return NewSerializationError(r.aggregateType, "serialize", err)
	}

	var pending []adapters.EventRecord
	writes := make([]adapters.Write, 0, len(records)+2)
	if r.cfg.mode == LazyEvents {
		b := agg.base()
		pending = make([]adapters.EventRecord, 0, len(b.unflushed)+len(records))
		pending = append(pending, b.unflushed...)
		pending = append(pending, records...)
	} else {
		for _, rec := range records {
			writes = append(writes, adapters.PutEvent{Event: rec})
		}
	}

	payload, err := encodeSnapshot(state, pending)
	if err != nil {
		return NewSerializationError(r.aggregateType, "serialize", err)
	}

	writes = append(writes,
		adapters.AdvanceSequence{ID: id, Expected: baseVersion, Next: newVersion},
		adapters.UpdateSnapshot{
			Snapshot: adapters.SnapshotRecord{
				AggregateID:   id,
				AggregateType: r.aggregateType,
				Version:       newVersion,
				Payload:       payload,
			},
			ExpectedVersion: baseVersion,
		},
	)

	if err := r.execute(ctx, "update", id, writes); err != nil {
		return err
	}

	agg.base().unflushed = pending
	r.cfg.logger.Debug("Aggregate updated",
		"aggregateType", r.aggregateType, "aggregateId", id, "version", newVersion, "events", len(records))
	return nil
}

// Start runs decide on a fresh aggregate with the given id and persists the
// single creation event it produces.
func (r *Repository[T, A]) Start(ctx context.Context, id ID[T], decide func(A) (CommandOutcome, error)) (A, error) {
	agg := newAggregate[T, A](id.String())
	outcome, err := decide(agg)
	if err != nil {
		return nil, err
	}
	if len(outcome.Events) != 1 {
		return nil, NewInvalidEventsError(id.String(),
			fmt.Sprintf("create expects one creation event, got %d events", len(outcome.Events)))
	}
	if err := r.Create(ctx, agg, outcome.Events[0]); err != nil {
		return nil, err
	}
	return agg, nil
}

// Handle loads id, runs decide on it and persists the produced events.
// A lost race surfaces as ErrConflict; callers decide whether to retry.
func (r *Repository[T, A]) Handle(ctx context.Context, id ID[T], decide func(A) (CommandOutcome, error)) (A, error) {
	agg, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	outcome, err := decide(agg)
	if err != nil {
		return nil, err
	}
	if err := r.Update(ctx, agg, outcome.Events); err != nil {
		return nil, err
	}
	return agg, nil
}

// History returns the decoded event log of an aggregate in sequence order.
// In LazyEvents mode events not yet flushed by a Get are not included.
func (r *Repository[T, A]) History(ctx context.Context, id ID[T]) ([]Event, error) {
	records, err := r.store.LoadEvents(ctx, id.String())
	if err != nil {
		return nil, NewTransportError("load events", err)
	}
	events, err := DecodeEvents(r.serializer, records)
	if err != nil {
		return nil, NewCorruptStateError(id.String(), "undecodable event", err)
	}
	return events, nil
}

func (r *Repository[T, A]) newRecord(ctx context.Context, agg A, sequence uint64, payload EventPayload) (adapters.EventRecord, error) {
	data, err := r.serializer.Serialize(payload)
	if err != nil {
		return adapters.EventRecord{}, err
	}

	md := Metadata{}
	r.cfg.injector.Inject(ctx, md)

	eventID, err := uuid.NewV7()
	if err != nil {
		return adapters.EventRecord{}, fmt.Errorf("ordermesh: generate event id: %w", err)
	}

	return adapters.EventRecord{
		ID:            eventID.String(),
		AggregateID:   agg.AggregateID(),
		AggregateType: r.aggregateType,
		Sequence:      sequence,
		Type:          payload.EventType(),
		Data:          data,
		Metadata:      md,
		Timestamp:     r.cfg.clock().UTC(),
	}, nil
}

// execute maps store failures into the error taxonomy.
func (r *Repository[T, A]) execute(ctx context.Context, operation, aggregateID string, writes []adapters.Write) error {
	err := r.store.Execute(ctx, writes)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, adapters.ErrConditionFailed):
		r.cfg.logger.Info("Conditional write rejected",
			"aggregateType", r.aggregateType, "aggregateId", aggregateID, "operation", operation, "error", err)
		return NewConflictError(aggregateID, operation, err)
	default:
		return NewTransportError(operation, err)
	}
}

func typeName(p EventPayload) string {
	if p == nil {
		return "<nil>"
	}
	return p.EventType()
}
