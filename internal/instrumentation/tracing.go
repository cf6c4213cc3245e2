package instrumentation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope for discord-gate.
const TracerName = "github.com/giantswarm/discord-gate"

// Span attribute keys.
const (
	// SpanAttrOperation is the upstream operation name (exchange, guilds, ...).
	SpanAttrOperation = "discord.operation"

	// SpanAttrEndpoint is the upstream endpoint template, without ids.
	SpanAttrEndpoint = "discord.endpoint"

	// SpanAttrGuild is the guild id being checked.
	SpanAttrGuild = "discord.guild_id"

	// SpanAttrSubject is the hashed Discord user id. Never the raw id.
	SpanAttrSubject = "gate.subject_hash"

	// SpanAttrAllowed records the outcome of an access decision.
	SpanAttrAllowed = "gate.allowed"

	// SpanAttrReason is the decision reason.
	SpanAttrReason = "gate.reason"

	// SpanAttrStatusCode is the upstream HTTP status code.
	SpanAttrStatusCode = "http.response.status_code"
)

// SpanAttributeBuilder helps construct OpenTelemetry span attributes
// with consistent naming.
type SpanAttributeBuilder struct {
	attrs []attribute.KeyValue
}

// NewSpanAttributeBuilder creates a new SpanAttributeBuilder.
func NewSpanAttributeBuilder() *SpanAttributeBuilder {
	return &SpanAttributeBuilder{
		attrs: make([]attribute.KeyValue, 0, 6),
	}
}

// WithGuild adds the guild id attribute.
func (b *SpanAttributeBuilder) WithGuild(guildID string) *SpanAttributeBuilder {
	if guildID != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrGuild, guildID))
	}
	return b
}

// WithSubject adds the hashed subject attribute.
func (b *SpanAttributeBuilder) WithSubject(subjectHash string) *SpanAttributeBuilder {
	if subjectHash != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrSubject, subjectHash))
	}
	return b
}

// WithDecision adds the decision outcome and reason.
func (b *SpanAttributeBuilder) WithDecision(allowed bool, reason string) *SpanAttributeBuilder {
	b.attrs = append(b.attrs, attribute.Bool(SpanAttrAllowed, allowed))
	if reason != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrReason, reason))
	}
	return b
}

// WithStatusCode adds the upstream HTTP status code.
func (b *SpanAttributeBuilder) WithStatusCode(code int) *SpanAttributeBuilder {
	b.attrs = append(b.attrs, attribute.Int(SpanAttrStatusCode, code))
	return b
}

// Build returns the constructed attributes.
func (b *SpanAttributeBuilder) Build() []attribute.KeyValue {
	return b.attrs
}

// StartSpan starts a new span with the given name and attributes.
// The caller is responsible for ending the span with defer span.End().
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartUpstreamSpan starts a client span named "discord.<operation>" for a
// call to the Discord API.
func StartUpstreamSpan(ctx context.Context, operation, endpoint string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := make([]attribute.KeyValue, 0, len(attrs)+2)
	allAttrs = append(allAttrs,
		attribute.String(SpanAttrOperation, operation),
		attribute.String(SpanAttrEndpoint, endpoint),
	)
	allAttrs = append(allAttrs, attrs...)

	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, "discord."+operation,
		trace.WithAttributes(allAttrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// SetSpanError records an error on the span and sets the status to error.
func SetSpanError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess sets the span status to OK.
func SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// GetTraceID returns the trace ID from the current span in context.
// Returns empty string if no valid span is present.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}
