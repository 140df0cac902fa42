// Package tracing provides OpenTelemetry integration for ordermesh.
//
// It covers both ends of an event's trace:
//
//   - MetadataInjector writes the caller's trace context into every event's
//     metadata, so the event router can continue the trace later.
//   - StoreMiddleware wraps a TransactionalStore and records a span per call.
//
// Basic usage:
//
//	tp, _ := tracing.NewStdoutProvider(os.Stderr, "widget")
//	otel.SetTracerProvider(tp)
//	otel.SetTextMapPropagator(propagation.TraceContext{})
//
//	tracer := tracing.NewTracer()
//	store := tracing.NewStoreMiddleware(postgresAdapter, tracer)
//	repo := widget.NewRepository(store, nil,
//		ordermesh.WithMetadataInjector(tracing.NewMetadataInjector(nil)))
package tracing

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/AshkanYarmoradi/ordermesh"
	"github.com/AshkanYarmoradi/ordermesh/adapters"
)

const (
	// TracerName is the name of the ordermesh tracer.
	TracerName = "github.com/AshkanYarmoradi/ordermesh"

	// DefaultServiceName is the default service name for spans.
	DefaultServiceName = "ordermesh"
)

// Tracer wraps OpenTelemetry tracer for ordermesh operations.
type Tracer struct {
	tracer      trace.Tracer
	serviceName string
}

// TracerOption configures a Tracer.
type TracerOption func(*Tracer)

// WithTracerProvider sets a custom TracerProvider.
func WithTracerProvider(tp trace.TracerProvider) TracerOption {
	return func(t *Tracer) {
		t.tracer = tp.Tracer(TracerName)
	}
}

// WithServiceName sets the service name for spans.
func WithServiceName(name string) TracerOption {
	return func(t *Tracer) {
		t.serviceName = name
	}
}

// NewTracer creates a new Tracer with the global TracerProvider.
func NewTracer(opts ...TracerOption) *Tracer {
	t := &Tracer{
		tracer:      otel.Tracer(TracerName),
		serviceName: DefaultServiceName,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// Tracer returns the underlying OpenTelemetry tracer.
func (t *Tracer) Tracer() trace.Tracer {
	return t.tracer
}

// ServiceName returns the configured service name.
func (t *Tracer) ServiceName() string {
	return t.serviceName
}

// NewStdoutProvider builds a TracerProvider that writes finished spans to w
// as JSON lines.
func NewStdoutProvider(w io.Writer, serviceName string) (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("ordermesh/tracing: create stdout exporter: %w", err)
	}
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	), nil
}

// =============================================================================
// Event Metadata Propagation
// =============================================================================

// MetadataInjector stores the trace context of the writing request in event
// metadata. It implements ordermesh.MetadataInjector.
type MetadataInjector struct {
	propagator propagation.TextMapPropagator
}

var _ ordermesh.MetadataInjector = (*MetadataInjector)(nil)

// NewMetadataInjector creates a MetadataInjector. A nil propagator selects
// the global one at injection time.
func NewMetadataInjector(p propagation.TextMapPropagator) *MetadataInjector {
	return &MetadataInjector{propagator: p}
}

// Inject implements ordermesh.MetadataInjector.
func (i *MetadataInjector) Inject(ctx context.Context, md ordermesh.Metadata) {
	p := i.propagator
	if p == nil {
		p = otel.GetTextMapPropagator()
	}
	p.Inject(ctx, propagation.MapCarrier(md))
}

// ExtractContext returns ctx carrying the trace context stored in md.
func ExtractContext(ctx context.Context, p propagation.TextMapPropagator, md map[string]string) context.Context {
	if p == nil {
		p = otel.GetTextMapPropagator()
	}
	return p.Extract(ctx, propagation.MapCarrier(md))
}

// =============================================================================
// Store Middleware
// =============================================================================

// StoreMiddleware wraps a TransactionalStore with tracing.
type StoreMiddleware struct {
	store  adapters.TransactionalStore
	tracer *Tracer
}

var _ adapters.TransactionalStore = (*StoreMiddleware)(nil)

// NewStoreMiddleware wraps a store with tracing.
func NewStoreMiddleware(store adapters.TransactionalStore, tracer *Tracer) *StoreMiddleware {
	if tracer == nil {
		tracer = NewTracer()
	}
	return &StoreMiddleware{store: store, tracer: tracer}
}

// Unwrap returns the wrapped store.
func (m *StoreMiddleware) Unwrap() adapters.TransactionalStore {
	return m.store
}

// Execute applies writes with tracing.
func (m *StoreMiddleware) Execute(ctx context.Context, writes []adapters.Write) error {
	ctx, span := m.tracer.StartSpan(ctx, "store.execute",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	ops := make([]string, len(writes))
	for i, w := range writes {
		ops[i] = w.Operation()
	}
	attrs := []attribute.KeyValue{
		attribute.String("ordermesh.service", m.tracer.serviceName),
		attribute.Int("ordermesh.writes.count", len(writes)),
		attribute.StringSlice("ordermesh.writes.operations", ops),
	}
	if len(writes) > 0 {
		attrs = append(attrs, attribute.String("ordermesh.aggregate.id", writes[0].AggregateID()))
	}
	span.SetAttributes(attrs...)

	err := m.store.Execute(ctx, writes)
	finish(span, err)
	return err
}

// GetSnapshot reads a snapshot with tracing.
func (m *StoreMiddleware) GetSnapshot(ctx context.Context, aggregateID string) (*adapters.SnapshotRecord, error) {
	ctx, span := m.startRead(ctx, "store.get_snapshot", aggregateID)
	defer span.End()

	rec, err := m.store.GetSnapshot(ctx, aggregateID)
	if err == nil {
		span.SetAttributes(attribute.Bool("ordermesh.snapshot.found", rec != nil))
		if rec != nil {
			span.SetAttributes(attribute.Int64("ordermesh.snapshot.version", int64(rec.Version)))
		}
	}
	finish(span, err)
	return rec, err
}

// GetSequence reads a sequence record with tracing.
func (m *StoreMiddleware) GetSequence(ctx context.Context, aggregateID string) (*adapters.SequenceRecord, error) {
	ctx, span := m.startRead(ctx, "store.get_sequence", aggregateID)
	defer span.End()

	rec, err := m.store.GetSequence(ctx, aggregateID)
	finish(span, err)
	return rec, err
}

// LoadEvents reads the event log with tracing.
func (m *StoreMiddleware) LoadEvents(ctx context.Context, aggregateID string) ([]adapters.EventRecord, error) {
	ctx, span := m.startRead(ctx, "store.load_events", aggregateID)
	defer span.End()

	events, err := m.store.LoadEvents(ctx, aggregateID)
	if err == nil {
		span.SetAttributes(attribute.Int("ordermesh.events.loaded", len(events)))
	}
	finish(span, err)
	return events, err
}

// ListSnapshots lists the snapshots of an aggregate type with tracing.
func (m *StoreMiddleware) ListSnapshots(ctx context.Context, aggregateType string) ([]adapters.SnapshotRecord, error) {
	ctx, span := m.tracer.StartSpan(ctx, "store.list_snapshots", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("ordermesh.service", m.tracer.serviceName),
		attribute.String("ordermesh.aggregate.type", aggregateType),
	)

	snapshots, err := m.store.ListSnapshots(ctx, aggregateType)
	if err == nil {
		span.SetAttributes(attribute.Int("ordermesh.snapshots.listed", len(snapshots)))
	}
	finish(span, err)
	return snapshots, err
}

// Initialize initializes the store with tracing.
func (m *StoreMiddleware) Initialize(ctx context.Context) error {
	ctx, span := m.tracer.StartSpan(ctx, "store.initialize",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(attribute.String("ordermesh.service", m.tracer.serviceName))

	err := m.store.Initialize(ctx)
	finish(span, err)
	return err
}

// Close closes the store.
func (m *StoreMiddleware) Close() error {
	return m.store.Close()
}

func (m *StoreMiddleware) startRead(ctx context.Context, name, aggregateID string) (context.Context, trace.Span) {
	ctx, span := m.tracer.StartSpan(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("ordermesh.service", m.tracer.serviceName),
		attribute.String("ordermesh.aggregate.id", aggregateID),
	)
	return ctx, span
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("ordermesh.error.kind", ordermesh.Kind(err)))
		return
	}
	span.SetStatus(codes.Ok, "")
}

// =============================================================================
// Span Helpers
// =============================================================================

// AddEvent adds an event to the current span.
func AddEvent(ctx context.Context, name string, opts ...trace.EventOption) {
	trace.SpanFromContext(ctx).AddEvent(name, opts...)
}

// SetError sets an error on the current span.
func SetError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
