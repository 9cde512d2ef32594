package instrument

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Context keys
type ctxKey int

const (
	traceIDKey ctxKey = iota
	parentSpanIDKey
	instrumenterKey
)

// Instrumenter is the tracing and metrics API handed to components through
// the request context.
type Instrumenter interface {
	StartSpan(ctx context.Context, source, component, action string) (context.Context, Span)
	// ComputedFailure counts a computed field that degraded to null.
	ComputedFailure(kind string)
	// SchemaOrphan counts DDL that succeeded without its metadata write.
	SchemaOrphan(operation string)
}

// Span interface represents a timed operation span.
type Span interface {
	End()
	SetStatus(status string)
	SetMetadata(key string, value any)
	SetEntity(entity, recordID string)
	TraceID() string
	SpanID() string
}

// WithTraceID sets the trace ID in the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// GetTraceID returns the trace ID from the context.
func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// WithParentSpanID sets the parent span ID in the context.
func WithParentSpanID(ctx context.Context, spanID string) context.Context {
	return context.WithValue(ctx, parentSpanIDKey, spanID)
}

func getParentSpanID(ctx context.Context) string {
	if v, ok := ctx.Value(parentSpanIDKey).(string); ok {
		return v
	}
	return ""
}

// WithInstrumenter sets the instrumenter in the context.
func WithInstrumenter(ctx context.Context, inst Instrumenter) context.Context {
	return context.WithValue(ctx, instrumenterKey, inst)
}

// GetInstrumenter returns the instrumenter from the context,
// or a NoopInstrumenter if none is set.
func GetInstrumenter(ctx context.Context) Instrumenter {
	if v, ok := ctx.Value(instrumenterKey).(Instrumenter); ok {
		return v
	}
	return &NoopInstrumenter{}
}

// PromInstrumenter records spans and counters into Prometheus collectors.
type PromInstrumenter struct {
	metrics *Metrics
}

func NewInstrumenter(m *Metrics) *PromInstrumenter {
	return &PromInstrumenter{metrics: m}
}

// StartSpan creates a new span and returns the updated context.
func (i *PromInstrumenter) StartSpan(ctx context.Context, source, component, action string) (context.Context, Span) {
	span := &SpanImpl{
		traceID:      GetTraceID(ctx),
		spanID:       uuid.NewString(),
		parentSpanID: getParentSpanID(ctx),
		source:       source,
		component:    component,
		action:       action,
		startTime:    time.Now(),
		metadata:     make(map[string]any),
		metrics:      i.metrics,
	}

	// child spans reference this span as parent
	ctx = WithParentSpanID(ctx, span.spanID)
	return ctx, span
}

func (i *PromInstrumenter) ComputedFailure(kind string) {
	i.metrics.ComputedFailures.WithLabelValues(kind).Inc()
}

func (i *PromInstrumenter) SchemaOrphan(operation string) {
	i.metrics.SchemaOrphans.WithLabelValues(operation).Inc()
}

// SpanImpl times an operation and observes it on End.
type SpanImpl struct {
	traceID      string
	spanID       string
	parentSpanID string
	source       string
	component    string
	action       string
	entity       string
	recordID     string
	status       string
	startTime    time.Time
	metadata     map[string]any
	metrics      *Metrics
	mu           sync.Mutex
	ended        bool
}

func (s *SpanImpl) TraceID() string { return s.traceID }
func (s *SpanImpl) SpanID() string  { return s.spanID }

func (s *SpanImpl) SetStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func (s *SpanImpl) SetMetadata(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[key] = value
}

func (s *SpanImpl) SetEntity(entity, recordID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entity = entity
	s.recordID = recordID
}

// Metadata returns a copy of the span's metadata.
func (s *SpanImpl) Metadata() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.metadata))
	for k, v := range s.metadata {
		out[k] = v
	}
	return out
}

func (s *SpanImpl) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true

	status := s.status
	if status == "" {
		status = "ok"
	}
	s.metrics.SpanDuration.
		WithLabelValues(s.source, s.component, s.action, status).
		Observe(time.Since(s.startTime).Seconds())
}
