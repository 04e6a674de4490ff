// Package telemetry provides OpenTelemetry tracing for coordination systems.
//
// Publishing, dispatch ticks, individual dispatches and policy evaluations
// each get a span. Trace context is carried inside message metadata so a
// dispatch span can be parented to the publish that produced the message.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// InstrumentationName is the tracer name used when none is given.
const InstrumentationName = "github.com/vinayprograms/swarmkit"

// Tracer wraps OpenTelemetry tracing with coordination-specific helpers.
type Tracer struct {
	tracer trace.Tracer
	debug  bool // When true, payload keys are recorded on publish spans
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return Noop()
	}
	return globalTracer
}

// Noop returns a tracer that records nothing.
func Noop() *Tracer {
	return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
}

// NewTracer creates a tracer from the global OpenTelemetry provider.
func NewTracer(name string, debug bool) *Tracer {
	if name == "" {
		name = InstrumentationName
	}
	return &Tracer{
		tracer: otel.Tracer(name),
		debug:  debug,
	}
}

// NewTracerFromProvider creates a tracer bound to a specific provider.
func NewTracerFromProvider(tp trace.TracerProvider, debug bool) *Tracer {
	return &Tracer{
		tracer: tp.Tracer(InstrumentationName),
		debug:  debug,
	}
}

// Debug returns whether debug mode is enabled.
func (t *Tracer) Debug() bool {
	return t.debug
}

// --- Publish Spans ---

// PublishSpanOptions describes one bus publish.
type PublishSpanOptions struct {
	MessageID   string
	Type        string
	Sender      string
	Recipient   string
	Priority    string
	Subscribers int
	Failures    int
	PayloadKeys []string // Only included if debug=true
}

// StartPublishSpan starts a span for a bus publish.
func (t *Tracer) StartPublishSpan(ctx context.Context, messageType string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "bus.publish "+messageType, trace.WithSpanKind(trace.SpanKindProducer))
}

// EndPublishSpan ends a publish span with attributes.
func (t *Tracer) EndPublishSpan(span trace.Span, opts PublishSpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("message.id", opts.MessageID),
		attribute.String("message.type", opts.Type),
		attribute.String("message.sender", opts.Sender),
		attribute.String("message.priority", opts.Priority),
		attribute.Int("bus.subscribers", opts.Subscribers),
		attribute.Int("bus.failures", opts.Failures),
	}
	if opts.Recipient != "" {
		attrs = append(attrs, attribute.String("message.recipient", opts.Recipient))
	}
	if t.debug && len(opts.PayloadKeys) > 0 {
		attrs = append(attrs, attribute.StringSlice("message.payload_keys", opts.PayloadKeys))
	}
	span.SetAttributes(attrs...)
	finish(span, err)
}

// --- Dispatch Spans ---

// TickSpanOptions summarises one coordinator tick.
type TickSpanOptions struct {
	SystemID  string
	Messages  int
	Processed int
	Failed    int
	Unrouted  int
}

// StartTickSpan starts a span covering one drain-and-dispatch cycle.
func (t *Tracer) StartTickSpan(ctx context.Context) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "swarm.tick", trace.WithSpanKind(trace.SpanKindInternal))
}

// EndTickSpan ends a tick span with attributes.
func (t *Tracer) EndTickSpan(span trace.Span, opts TickSpanOptions) {
	span.SetAttributes(
		attribute.String("system.id", opts.SystemID),
		attribute.Int("tick.messages", opts.Messages),
		attribute.Int("tick.processed", opts.Processed),
		attribute.Int("tick.failed", opts.Failed),
		attribute.Int("tick.unrouted", opts.Unrouted),
	)
	span.SetStatus(codes.Ok, "")
	span.End()
}

// DispatchSpanOptions describes one message handed to an agent.
type DispatchSpanOptions struct {
	AgentID   string
	MessageID string
	Type      string
	Routed    bool
	Reason    string // why routing failed
}

// StartDispatchSpan starts a span for a dispatch. Trace context found in the
// message metadata links the span to the originating publish.
func (t *Tracer) StartDispatchSpan(ctx context.Context, metadata map[string]string) (context.Context, trace.Span) {
	opts := []trace.SpanStartOption{trace.WithSpanKind(trace.SpanKindConsumer)}
	if len(metadata) > 0 {
		remote := trace.SpanContextFromContext(ExtractContext(context.Background(), MapCarrier(metadata)))
		if remote.IsValid() {
			opts = append(opts, trace.WithLinks(trace.Link{SpanContext: remote}))
		}
	}
	return t.tracer.Start(ctx, "swarm.dispatch", opts...)
}

// EndDispatchSpan ends a dispatch span with attributes.
func (t *Tracer) EndDispatchSpan(span trace.Span, opts DispatchSpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("message.id", opts.MessageID),
		attribute.String("message.type", opts.Type),
		attribute.Bool("dispatch.routed", opts.Routed),
	}
	if opts.AgentID != "" {
		attrs = append(attrs, attribute.String("agent.id", opts.AgentID))
	}
	if opts.Reason != "" {
		attrs = append(attrs, attribute.String("dispatch.reason", truncate(opts.Reason, 500)))
	}
	span.SetAttributes(attrs...)
	finish(span, err)
}

// --- Policy Spans ---

// PolicySpanOptions describes one policy evaluated against one message.
type PolicySpanOptions struct {
	PolicyID  string
	MessageID string
	Priority  int
	Matched   bool
}

// StartPolicySpan starts a span for a policy evaluation.
func (t *Tracer) StartPolicySpan(ctx context.Context, policyID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "policy."+policyID, trace.WithSpanKind(trace.SpanKindInternal))
}

// EndPolicySpan ends a policy span with attributes.
func (t *Tracer) EndPolicySpan(span trace.Span, opts PolicySpanOptions, err error) {
	span.SetAttributes(
		attribute.String("policy.id", opts.PolicyID),
		attribute.String("message.id", opts.MessageID),
		attribute.Int("policy.priority", opts.Priority),
		attribute.Bool("policy.matched", opts.Matched),
	)
	finish(span, err)
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// --- Context Propagation ---

// InjectContext injects trace context into a carrier.
func InjectContext(ctx context.Context, carrier propagation.TextMapCarrier) {
	otel.GetTextMapPropagator().Inject(ctx, carrier)
}

// ExtractContext extracts trace context from a carrier.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// MapCarrier adapts message metadata to a TextMapCarrier.
type MapCarrier map[string]string

func (c MapCarrier) Get(key string) string {
	return c[key]
}

func (c MapCarrier) Set(key, value string) {
	c[key] = value
}

func (c MapCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
