// Package router consumes committed events from a change stream and
// dispatches them to side-effect handlers.
//
// Delivery is at least once. A batch is acknowledged only after every record
// in it was handled; the first handler failure aborts the batch and the
// stream delivers it again. The router keeps no retry state and does not
// deduplicate, so handlers must tolerate repeats.
//
//	r := router.New(
//		router.WithHandler(router.NewPlaceOrderHandler(carts, orders)),
//		router.WithLogger(logger),
//	)
//	err := r.Run(ctx, stream)
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/AshkanYarmoradi/ordermesh"
	"github.com/AshkanYarmoradi/ordermesh/adapters"
)

// TracerName is the instrumentation name of router spans.
const TracerName = "github.com/AshkanYarmoradi/ordermesh/router"

// DefaultHandlerTimeout bounds each handler call.
const DefaultHandlerTimeout = 500 * time.Millisecond

var (
	// ErrRouterRunning is returned by Start on a running router.
	ErrRouterRunning = errors.New("ordermesh/router: already running")

	// ErrHandlerFailed matches every error returned by HandleBatch.
	ErrHandlerFailed = errors.New("ordermesh/router: handler failed")
)

// Handler reacts to committed events.
type Handler interface {
	// Name identifies the handler in logs, spans and metrics.
	Name() string

	// Interested reports whether Handle should be called for rec.
	Interested(rec adapters.EventRecord) bool

	// Handle performs the side effect. ctx carries the handler deadline and
	// the trace context extracted from the event metadata.
	Handle(ctx context.Context, rec adapters.EventRecord) error
}

// HandlerError reports the record and handler that aborted a batch.
type HandlerError struct {
	Handler string
	EventID string
	Type    string
	Cause   error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("ordermesh/router: handler %s failed on event %s (%s): %v", e.Handler, e.EventID, e.Type, e.Cause)
}

func (e *HandlerError) Is(target error) bool {
	return target == ErrHandlerFailed
}

func (e *HandlerError) Unwrap() error {
	return e.Cause
}

// Metrics receives router measurements.
type Metrics interface {
	RecordHandled(handler, eventType string, success bool, duration time.Duration)
	RecordBatch(size int, success bool, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) RecordHandled(string, string, bool, time.Duration) {}
func (noopMetrics) RecordBatch(int, bool, time.Duration)              {}

// Option configures a Router.
type Option func(*Router)

// WithHandler registers a handler. Handlers run in registration order.
func WithHandler(h Handler) Option {
	return func(r *Router) {
		r.handlers = append(r.handlers, h)
	}
}

// WithHandlerTimeout sets the per-call handler deadline.
func WithHandlerTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithRedeliveryDelay sets how long Run waits after a failed batch before
// asking the stream for the next one.
func WithRedeliveryDelay(d time.Duration) Option {
	return func(r *Router) {
		if d >= 0 {
			r.redeliveryDelay = d
		}
	}
}

// WithPropagator sets the propagator used to extract trace context from
// event metadata. The global propagator is used by default.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(r *Router) {
		if p != nil {
			r.propagator = p
		}
	}
}

// WithTracerProvider sets the provider for router spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Router) {
		if tp != nil {
			r.tracer = tp.Tracer(TracerName)
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m Metrics) Option {
	return func(r *Router) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l ordermesh.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// Router dispatches change stream batches to handlers.
type Router struct {
	handlers        []Handler
	timeout         time.Duration
	redeliveryDelay time.Duration
	propagator      propagation.TextMapPropagator
	tracer          trace.Tracer
	metrics         Metrics
	logger          ordermesh.Logger

	running atomic.Bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	runErr  error
}

// New creates a Router.
func New(opts ...Option) *Router {
	r := &Router{
		timeout:         DefaultHandlerTimeout,
		redeliveryDelay: time.Second,
		propagator:      otel.GetTextMapPropagator(),
		tracer:          otel.Tracer(TracerName),
		metrics:         noopMetrics{},
		logger:          ordermesh.NoopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handlers returns the registered handler names.
func (r *Router) Handlers() []string {
	names := make([]string, len(r.handlers))
	for i, h := range r.handlers {
		names[i] = h.Name()
	}
	return names
}

// HandleBatch handles records in order and stops at the first failure.
func (r *Router) HandleBatch(ctx context.Context, records []adapters.EventRecord) error {
	start := time.Now()
	for _, rec := range records {
		if err := r.handleRecord(ctx, rec); err != nil {
			r.metrics.RecordBatch(len(records), false, time.Since(start))
			return err
		}
	}
	r.metrics.RecordBatch(len(records), true, time.Since(start))
	return nil
}

func (r *Router) handleRecord(ctx context.Context, rec adapters.EventRecord) error {
	ctx = r.propagator.Extract(ctx, propagation.MapCarrier(rec.Metadata))
	ctx, span := r.tracer.Start(ctx, "router.handle "+rec.Type,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("ordermesh.event.id", rec.ID),
			attribute.String("ordermesh.event.type", rec.Type),
			attribute.String("ordermesh.aggregate.id", rec.AggregateID),
			attribute.String("ordermesh.aggregate.type", rec.AggregateType),
			attribute.Int64("ordermesh.event.sequence", int64(rec.Sequence)),
		),
	)
	defer span.End()

	for _, h := range r.handlers {
		if !h.Interested(rec) {
			continue
		}

		hctx, cancel := context.WithTimeout(ctx, r.timeout)
		start := time.Now()
		err := h.Handle(hctx, rec)
		cancel()
		r.metrics.RecordHandled(h.Name(), rec.Type, err == nil, time.Since(start))

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			r.logger.Error("Event handler failed",
				"handler", h.Name(), "eventId", rec.ID, "eventType", rec.Type, "aggregateId", rec.AggregateID, "error", err)
			return &HandlerError{Handler: h.Name(), EventID: rec.ID, Type: rec.Type, Cause: err}
		}
		r.logger.Debug("Event handled", "handler", h.Name(), "eventId", rec.ID, "eventType", rec.Type)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// Run consumes stream until ctx is done or the stream is closed.
// Successful batches are acknowledged; failed batches are released for
// redelivery.
func (r *Router) Run(ctx context.Context, stream adapters.ChangeStream) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		batch, err := stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, adapters.ErrStreamClosed) {
				return nil
			}
			return fmt.Errorf("ordermesh/router: next batch: %w", err)
		}
		if batch == nil || len(batch.Records) == 0 {
			continue
		}

		if err := r.HandleBatch(ctx, batch.Records); err != nil {
			if nackErr := stream.Nack(ctx, batch); nackErr != nil {
				r.logger.Error("Failed to release batch", "error", nackErr)
			}
			r.logger.Warn("Batch failed, awaiting redelivery", "records", len(batch.Records), "error", err)
			if !r.pause(ctx) {
				return nil
			}
			continue
		}

		if err := stream.Ack(ctx, batch); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ordermesh/router: ack batch: %w", err)
		}
	}
}

func (r *Router) pause(ctx context.Context) bool {
	if r.redeliveryDelay == 0 {
		return true
	}
	t := time.NewTimer(r.redeliveryDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Start runs Run in the background.
func (r *Router) Start(ctx context.Context, stream adapters.ChangeStream) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrRouterRunning
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.runErr = nil

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.Run(ctx, stream); err != nil {
			r.logger.Error("Router stopped with error", "error", err)
			r.runErr = err
		}
	}()

	r.logger.Info("Router started", "handlers", r.Handlers())
	return nil
}

// Stop cancels the background loop and waits for it. A batch cut short by
// the cancellation is not acknowledged. Stop returns the loop error, if any.
func (r *Router) Stop(ctx context.Context) error {
	if !r.running.Load() {
		return nil
	}
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.running.Store(false)
		r.logger.Info("Router stopped")
		return r.runErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning reports whether the background loop is active.
func (r *Router) IsRunning() bool {
	return r.running.Load()
}
