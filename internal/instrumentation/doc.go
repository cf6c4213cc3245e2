// Package instrumentation provides OpenTelemetry metrics and tracing for
// discord-gate.
//
// # Metrics
//
// Server/HTTP Metrics:
//   - http_requests_total: Counter of HTTP requests by method, path, and status
//   - http_request_duration_seconds: Histogram of HTTP request durations
//
// Discord API Metrics:
//   - discord_api_requests_total: Counter of upstream calls by operation and status
//   - discord_api_request_duration_seconds: Histogram of upstream call durations
//
// Gate Metrics:
//   - gate_decisions_total: Counter of access decisions by result and reason
//   - session_tokens_issued_total: Counter of session tokens minted at login
//
// Labels are bounded. Paths are normalised by the HTTP middleware, operations
// are fixed names and guild or user ids never appear as metric labels.
//
// # Tracing
//
// Each Discord API call gets a client span named "discord.<operation>" and
// each access decision a "gate.validate" span. User ids only appear hashed.
//
// # Configuration
//
// Instrumentation is configured via environment variables:
//   - INSTRUMENTATION_ENABLED: Enable/disable instrumentation (default: false)
//   - METRICS_EXPORTER: prometheus, otlp, stdout (default: prometheus)
//   - TRACING_EXPORTER: otlp, stdout, none (default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint for traces/metrics
//   - OTEL_EXPORTER_OTLP_INSECURE: plain HTTP to the collector (default: false)
//   - OTEL_TRACES_SAMPLER_ARG: Sampling rate (0.0 to 1.0, default: 0.1)
//   - OTEL_SERVICE_NAME: Service name (default: discord-gate)
//
// # Example Usage
//
//	cfg, err := instrumentation.LoadConfig()
//	if err != nil {
//		return err
//	}
//	cfg.ServiceVersion = version
//
//	provider, err := instrumentation.NewProvider(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	provider.Metrics().RecordGateDecision(ctx, instrumentation.ResultDeny, "missing_role")
package instrumentation
