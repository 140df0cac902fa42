// Package metrics provides Prometheus metrics integration for ordermesh.
//
// It measures the two places where an aggregate's events cross a process
// boundary: the transactional store and the CDC event router.
//
// Basic usage:
//
//	m := metrics.New(metrics.WithMetricsServiceName("cart"))
//	prometheus.MustRegister(m.Collectors()...)
//
//	store := m.WrapStore(postgresAdapter)
//	r := router.New(router.WithMetrics(m), router.WithHandler(h))
//
// The metrics collected include:
//   - Store operations by kind and outcome, with durations
//   - Optimistic concurrency conflicts
//   - Events written and loaded
//   - Router handler and batch outcomes
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AshkanYarmoradi/ordermesh"
	"github.com/AshkanYarmoradi/ordermesh/adapters"
	"github.com/AshkanYarmoradi/ordermesh/router"
)

// Default metric labels.
const (
	LabelAggregateType = "aggregate_type"
	LabelEventType     = "event_type"
	LabelHandler       = "handler"
	LabelOperation     = "operation"
	LabelStatus        = "status"
	LabelErrorKind     = "error_kind"
	LabelService       = "service"
)

// Status values.
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusConflict = "conflict"
)

// Operation values.
const (
	OperationExecute       = "execute"
	OperationGetSnapshot   = "get_snapshot"
	OperationGetSequence   = "get_sequence"
	OperationLoadEvents    = "load_events"
	OperationListSnapshots = "list_snapshots"
	OperationInitialize    = "initialize"
)

// Metrics holds all Prometheus metrics for ordermesh.
type Metrics struct {
	namespace   string
	subsystem   string
	serviceName string

	// Store metrics
	storeOperationsTotal   *prometheus.CounterVec
	storeOperationDuration *prometheus.HistogramVec
	conflictsTotal         *prometheus.CounterVec
	eventsWrittenTotal     *prometheus.CounterVec
	eventsLoadedTotal      *prometheus.CounterVec

	// Router metrics
	handledTotal    *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec
	batchesTotal    *prometheus.CounterVec
	batchSize       *prometheus.HistogramVec
	batchDuration   *prometheus.HistogramVec

	// Error metrics
	errorsTotal *prometheus.CounterVec
}

var _ router.Metrics = (*Metrics)(nil)

// MetricsOption configures Metrics.
type MetricsOption func(*Metrics)

// WithNamespace sets the Prometheus namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(m *Metrics) {
		m.namespace = namespace
	}
}

// WithSubsystem sets the Prometheus subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(m *Metrics) {
		m.subsystem = subsystem
	}
}

// WithMetricsServiceName sets the service name label.
func WithMetricsServiceName(name string) MetricsOption {
	return func(m *Metrics) {
		m.serviceName = name
	}
}

// New creates a new Metrics instance with default settings.
func New(opts ...MetricsOption) *Metrics {
	m := &Metrics{
		namespace:   "ordermesh",
		subsystem:   "",
		serviceName: "unknown",
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initMetrics()
	return m
}

// initMetrics initializes all Prometheus metrics.
func (m *Metrics) initMetrics() {
	// Store metrics
	m.storeOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "store_operations_total",
			Help:      "Total number of transactional store operations.",
		},
		[]string{LabelService, LabelOperation, LabelStatus},
	)

	m.storeOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "store_operation_duration_seconds",
			Help:      "Duration of transactional store operations in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelService, LabelOperation},
	)

	m.conflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "conflicts_total",
			Help:      "Total number of transactions rejected by a conditional write.",
		},
		[]string{LabelService, LabelOperation},
	)

	m.eventsWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "events_written_total",
			Help:      "Total number of event rows committed to the log.",
		},
		[]string{LabelService, LabelAggregateType, LabelEventType},
	)

	m.eventsLoadedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "events_loaded_total",
			Help:      "Total number of event rows loaded from the log.",
		},
		[]string{LabelService},
	)

	// Router metrics
	m.handledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "router_handled_total",
			Help:      "Total number of events handled by router handlers.",
		},
		[]string{LabelService, LabelHandler, LabelEventType, LabelStatus},
	)

	m.handlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "router_handler_duration_seconds",
			Help:      "Duration of router handler calls in seconds.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{LabelService, LabelHandler},
	)

	m.batchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "router_batches_total",
			Help:      "Total number of change stream batches processed.",
		},
		[]string{LabelService, LabelStatus},
	)

	m.batchSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "router_batch_size",
			Help:      "Number of records per change stream batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		},
		[]string{LabelService},
	)

	m.batchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "router_batch_duration_seconds",
			Help:      "Duration of change stream batch processing in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelService},
	)

	// Error metrics
	m.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors by kind.",
		},
		[]string{LabelService, LabelErrorKind},
	)
}

// Collectors returns all Prometheus collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.storeOperationsTotal,
		m.storeOperationDuration,
		m.conflictsTotal,
		m.eventsWrittenTotal,
		m.eventsLoadedTotal,
		m.handledTotal,
		m.handlerDuration,
		m.batchesTotal,
		m.batchSize,
		m.batchDuration,
		m.errorsTotal,
	}
}

// MustRegister registers all collectors with the default registry.
// Panics if registration fails.
func (m *Metrics) MustRegister() {
	prometheus.MustRegister(m.Collectors()...)
}

// Register registers all collectors with the given registry.
func (m *Metrics) Register(registry prometheus.Registerer) error {
	for _, collector := range m.Collectors() {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// RecordError counts err under its taxonomy kind. Nil errors are ignored.
func (m *Metrics) RecordError(err error) {
	if err == nil {
		return
	}
	m.errorsTotal.WithLabelValues(m.serviceName, errorKind(err)).Inc()
}

// errorKind names store errors that have no place in the root taxonomy.
func errorKind(err error) string {
	switch {
	case errors.Is(err, adapters.ErrConditionFailed):
		return "conflict"
	case errors.Is(err, adapters.ErrAdapterClosed):
		return "adapter_closed"
	case errors.Is(err, adapters.ErrNoWrites), errors.Is(err, adapters.ErrEmptyAggregateID):
		return "invalid_writes"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline_exceeded"
	case errors.Is(err, router.ErrHandlerFailed):
		return "handler_failed"
	default:
		return ordermesh.Kind(err)
	}
}

// =============================================================================
// Router Metrics
// =============================================================================

// RecordHandled implements router.Metrics.
func (m *Metrics) RecordHandled(handler, eventType string, success bool, duration time.Duration) {
	status := StatusSuccess
	if !success {
		status = StatusError
	}
	m.handledTotal.WithLabelValues(m.serviceName, handler, eventType, status).Inc()
	m.handlerDuration.WithLabelValues(m.serviceName, handler).Observe(duration.Seconds())
}

// RecordBatch implements router.Metrics.
func (m *Metrics) RecordBatch(size int, success bool, duration time.Duration) {
	status := StatusSuccess
	if !success {
		status = StatusError
	}
	m.batchesTotal.WithLabelValues(m.serviceName, status).Inc()
	m.batchSize.WithLabelValues(m.serviceName).Observe(float64(size))
	m.batchDuration.WithLabelValues(m.serviceName).Observe(duration.Seconds())
}

// =============================================================================
// Store Middleware
// =============================================================================

// StoreMiddleware wraps a TransactionalStore with metrics.
type StoreMiddleware struct {
	store   adapters.TransactionalStore
	metrics *Metrics
}

var _ adapters.TransactionalStore = (*StoreMiddleware)(nil)

// WrapStore wraps a store with metrics collection.
func (m *Metrics) WrapStore(store adapters.TransactionalStore) *StoreMiddleware {
	return &StoreMiddleware{
		store:   store,
		metrics: m,
	}
}

// Unwrap returns the wrapped store.
func (sm *StoreMiddleware) Unwrap() adapters.TransactionalStore {
	return sm.store
}

// Execute applies writes with metrics. A failed guard is counted as a
// conflict, not as an error.
func (sm *StoreMiddleware) Execute(ctx context.Context, writes []adapters.Write) error {
	start := time.Now()
	err := sm.store.Execute(ctx, writes)

	status := sm.observe(OperationExecute, start, err)
	switch status {
	case StatusConflict:
		sm.metrics.conflictsTotal.WithLabelValues(sm.metrics.serviceName, conflictOperation(writes, err)).Inc()
	case StatusSuccess:
		for _, w := range writes {
			if pe, ok := w.(adapters.PutEvent); ok {
				sm.metrics.eventsWrittenTotal.WithLabelValues(
					sm.metrics.serviceName, pe.Event.AggregateType, pe.Event.Type).Inc()
			}
		}
	}
	return err
}

// GetSnapshot reads a snapshot with metrics.
func (sm *StoreMiddleware) GetSnapshot(ctx context.Context, aggregateID string) (*adapters.SnapshotRecord, error) {
	start := time.Now()
	rec, err := sm.store.GetSnapshot(ctx, aggregateID)
	sm.observe(OperationGetSnapshot, start, err)
	return rec, err
}

// GetSequence reads a sequence record with metrics.
func (sm *StoreMiddleware) GetSequence(ctx context.Context, aggregateID string) (*adapters.SequenceRecord, error) {
	start := time.Now()
	rec, err := sm.store.GetSequence(ctx, aggregateID)
	sm.observe(OperationGetSequence, start, err)
	return rec, err
}

// LoadEvents reads the event log with metrics.
func (sm *StoreMiddleware) LoadEvents(ctx context.Context, aggregateID string) ([]adapters.EventRecord, error) {
	start := time.Now()
	events, err := sm.store.LoadEvents(ctx, aggregateID)
	if sm.observe(OperationLoadEvents, start, err) == StatusSuccess {
		sm.metrics.eventsLoadedTotal.WithLabelValues(sm.metrics.serviceName).Add(float64(len(events)))
	}
	return events, err
}

// ListSnapshots lists the snapshots of an aggregate type with metrics.
func (sm *StoreMiddleware) ListSnapshots(ctx context.Context, aggregateType string) ([]adapters.SnapshotRecord, error) {
	start := time.Now()
	snapshots, err := sm.store.ListSnapshots(ctx, aggregateType)
	sm.observe(OperationListSnapshots, start, err)
	return snapshots, err
}

// Initialize initializes the store with metrics.
func (sm *StoreMiddleware) Initialize(ctx context.Context) error {
	start := time.Now()
	err := sm.store.Initialize(ctx)
	sm.observe(OperationInitialize, start, err)
	return err
}

// Close closes the store.
func (sm *StoreMiddleware) Close() error {
	return sm.store.Close()
}

func (sm *StoreMiddleware) observe(operation string, start time.Time, err error) string {
	m := sm.metrics
	m.storeOperationDuration.WithLabelValues(m.serviceName, operation).Observe(time.Since(start).Seconds())

	status := StatusSuccess
	switch {
	case errors.Is(err, adapters.ErrConditionFailed):
		status = StatusConflict
	case err != nil:
		status = StatusError
		m.RecordError(err)
	}
	m.storeOperationsTotal.WithLabelValues(m.serviceName, operation, status).Inc()
	return status
}

// conflictOperation names the write whose guard failed.
func conflictOperation(writes []adapters.Write, err error) string {
	var cf *adapters.ConditionFailedError
	if errors.As(err, &cf) && cf.Operation != "" {
		return cf.Operation
	}
	if len(writes) == 1 {
		return writes[0].Operation()
	}
	return "transaction"
}
