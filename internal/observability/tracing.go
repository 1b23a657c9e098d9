package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Span attribute keys.
const (
	AttrEntity   = attribute.Key("fallguys.entity")
	AttrLogicKey = attribute.Key("fallguys.logic_key")
	AttrTick     = attribute.Key("fallguys.tick")
	AttrEntities = attribute.Key("fallguys.entities")
)

// Tracer starts spans around spawns and world ticks. A nil Tracer is valid
// and produces no-op spans.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer returns a tracer backed by the global provider when tracing is
// enabled, and a no-op tracer otherwise. The embedding process installs the
// provider (exporter, sampler, resource).
func NewTracer(cfg Config) *Tracer {
	name := cfg.ServiceName
	if name == "" {
		name = DefaultServiceName
	}
	if !cfg.EnableTracing {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer(name)}
	}
	return &Tracer{tracer: otel.Tracer(name)}
}

// Start opens a span named name.
func (t *Tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	if t == nil || t.tracer == nil {
		return noop.NewTracerProvider().Tracer(DefaultServiceName).Start(ctx, name)
	}
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// End records err on span, if any, and ends it.
func End(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Entity tags a span with an entity handle.
func Entity(handle string) attribute.KeyValue { return AttrEntity.String(handle) }

// LogicKey tags a span with a behavior logic key.
func LogicKey(key string) attribute.KeyValue { return AttrLogicKey.String(key) }

// Tick tags a span with a simulation tick.
func Tick(tick uint64) attribute.KeyValue { return AttrTick.Int64(int64(tick)) }

// Entities tags a span with an entity count.
func Entities(n int) attribute.KeyValue { return AttrEntities.Int(n) }
