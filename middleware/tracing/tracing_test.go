package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/AshkanYarmoradi/ordermesh"
	"github.com/AshkanYarmoradi/ordermesh/adapters"
	"github.com/AshkanYarmoradi/ordermesh/adapters/memory"
	"github.com/AshkanYarmoradi/ordermesh/domain/widget"
)

func setupTracer(t *testing.T) (*Tracer, *tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	return NewTracer(WithTracerProvider(tp), WithServiceName("widget")), recorder, tp
}

func spanNamed(spans []sdktrace.ReadOnlySpan, name string) sdktrace.ReadOnlySpan {
	for _, s := range spans {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

func attr(s sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range s.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestNewTracer(t *testing.T) {
	tracer := NewTracer()
	assert.Equal(t, DefaultServiceName, tracer.ServiceName())
	assert.NotNil(t, tracer.Tracer())

	tracer = NewTracer(WithServiceName("cart"))
	assert.Equal(t, "cart", tracer.ServiceName())
}

func TestStoreMiddleware(t *testing.T) {
	ctx := context.Background()

	t.Run("records a span per call", func(t *testing.T) {
		tracer, recorder, _ := setupTracer(t)
		store := NewStoreMiddleware(memory.NewAdapter(), tracer)
		svc := widget.NewService(widget.NewRepository(store, nil))

		id, err := svc.Create(ctx, "Bolt", "M6 bolt")
		require.NoError(t, err)
		_, err = svc.Get(ctx, id)
		require.NoError(t, err)

		spans := recorder.Ended()
		execute := spanNamed(spans, "store.execute")
		require.NotNil(t, execute)
		assert.Equal(t, trace.SpanKindClient, execute.SpanKind())
		assert.Equal(t, codes.Ok, execute.Status().Code)
		v, ok := attr(execute, "ordermesh.aggregate.id")
		require.True(t, ok)
		assert.Equal(t, id.String(), v.AsString())
		v, ok = attr(execute, "ordermesh.writes.operations")
		require.True(t, ok)
		assert.Equal(t, []string{adapters.OpPutSequence, adapters.OpPutSnapshot}, v.AsStringSlice())

		snap := spanNamed(spans, "store.get_snapshot")
		require.NotNil(t, snap)
		v, _ = attr(snap, "ordermesh.snapshot.found")
		assert.True(t, v.AsBool())

		assert.NotNil(t, spanNamed(spans, "store.load_events"))
	})

	t.Run("conflicts mark the span as failed", func(t *testing.T) {
		tracer, recorder, _ := setupTracer(t)
		store := NewStoreMiddleware(memory.NewAdapter(), tracer)
		writes := []adapters.Write{adapters.PutSequence{Sequence: adapters.SequenceRecord{AggregateID: "w-1"}}}

		require.NoError(t, store.Execute(ctx, writes))
		err := store.Execute(ctx, writes)
		require.ErrorIs(t, err, adapters.ErrConditionFailed)

		var failed sdktrace.ReadOnlySpan
		for _, s := range recorder.Ended() {
			if s.Status().Code == codes.Error {
				failed = s
			}
		}
		require.NotNil(t, failed)
		v, _ := attr(failed, "ordermesh.error.kind")
		assert.Equal(t, "conflict", v.AsString())
	})

	t.Run("unwrap", func(t *testing.T) {
		inner := memory.NewAdapter()
		assert.Same(t, inner, NewStoreMiddleware(inner, nil).Unwrap())
	})
}

func TestMetadataInjector(t *testing.T) {
	ctx := context.Background()
	_, _, tp := setupTracer(t)
	prop := propagation.TraceContext{}

	spanCtx, span := tp.Tracer("test").Start(ctx, "request")
	defer span.End()

	t.Run("inject and extract", func(t *testing.T) {
		md := ordermesh.Metadata{}
		NewMetadataInjector(prop).Inject(spanCtx, md)
		assert.NotEmpty(t, md.Get("traceparent"))

		extracted := trace.SpanContextFromContext(ExtractContext(ctx, prop, md))
		assert.Equal(t, span.SpanContext().TraceID(), extracted.TraceID())
		assert.True(t, extracted.IsRemote())
	})

	t.Run("events carry the writer's trace", func(t *testing.T) {
		store := memory.NewAdapter()
		repo := widget.NewRepository(store, nil,
			ordermesh.WithMaterialization(ordermesh.EagerEvents),
			ordermesh.WithMetadataInjector(NewMetadataInjector(prop)))

		id, err := widget.NewService(repo).Create(spanCtx, "Bolt", "M6 bolt")
		require.NoError(t, err)

		events, err := store.LoadEvents(ctx, id.String())
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Contains(t, events[0].Metadata["traceparent"], span.SpanContext().TraceID().String())
	})

	t.Run("no active span injects nothing", func(t *testing.T) {
		md := ordermesh.Metadata{}
		NewMetadataInjector(prop).Inject(ctx, md)
		assert.Empty(t, md.Keys())
	})
}

func TestNewStdoutProvider(t *testing.T) {
	var buf bytes.Buffer
	tp, err := NewStdoutProvider(&buf, "widget")
	require.NoError(t, err)

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	span.End()
	require.NoError(t, tp.Shutdown(context.Background()))

	assert.Contains(t, buf.String(), `"Name":"op"`)
}
