package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys
const (
	attrMethod    = "method"
	attrPath      = "path"
	attrStatus    = "status"
	attrOperation = "operation"
	attrResult    = "result"
	attrReason    = "reason"
)

// Status values for upstream call metrics.
const (
	StatusSuccess      = "success"
	StatusError        = "error"
	StatusUnauthorized = "unauthorized"
	StatusRateLimited  = "rate_limited"
)

// Result values for gate decisions.
const (
	ResultAllow = "allow"
	ResultDeny  = "deny"
	ResultError = "error"
)

var durationBuckets = []float64{0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0}

// Metrics provides methods for recording observability metrics.
// The zero value is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	// Discord API metrics
	discordRequestsTotal   metric.Int64Counter
	discordRequestDuration metric.Float64Histogram

	// Gate metrics
	gateDecisionsTotal  metric.Int64Counter
	sessionsIssuedTotal metric.Int64Counter
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error

	m.httpRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration_seconds histogram: %w", err)
	}

	m.discordRequestsTotal, err = meter.Int64Counter(
		"discord_api_requests_total",
		metric.WithDescription("Total number of Discord API calls"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord_api_requests_total counter: %w", err)
	}

	m.discordRequestDuration, err = meter.Float64Histogram(
		"discord_api_request_duration_seconds",
		metric.WithDescription("Discord API call duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord_api_request_duration_seconds histogram: %w", err)
	}

	m.gateDecisionsTotal, err = meter.Int64Counter(
		"gate_decisions_total",
		metric.WithDescription("Total number of access decisions by result and reason"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gate_decisions_total counter: %w", err)
	}

	m.sessionsIssuedTotal, err = meter.Int64Counter(
		"session_tokens_issued_total",
		metric.WithDescription("Total number of session tokens issued after login"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session_tokens_issued_total counter: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request with method, path, status code, and duration.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m == nil || m.httpRequestsTotal == nil || m.httpRequestDuration == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(attrMethod, method),
		attribute.String(attrPath, path),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	)

	m.httpRequestsTotal.Add(ctx, 1, attrs)
	m.httpRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordDiscordRequest records one Discord API call. Operation is a fixed
// name such as "guilds", never a URL with ids in it.
func (m *Metrics) RecordDiscordRequest(ctx context.Context, operation, status string, duration time.Duration) {
	if m == nil || m.discordRequestsTotal == nil || m.discordRequestDuration == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	)

	m.discordRequestsTotal.Add(ctx, 1, attrs)
	m.discordRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordGateDecision records an access decision.
// Result should be one of ResultAllow, ResultDeny, ResultError.
func (m *Metrics) RecordGateDecision(ctx context.Context, result, reason string) {
	if m == nil || m.gateDecisionsTotal == nil {
		return
	}

	m.gateDecisionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrResult, result),
		attribute.String(attrReason, reason),
	))
}

// RecordSessionIssued records a session token handed out by the callback.
func (m *Metrics) RecordSessionIssued(ctx context.Context) {
	if m == nil || m.sessionsIssuedTotal == nil {
		return
	}

	m.sessionsIssuedTotal.Add(ctx, 1)
}
