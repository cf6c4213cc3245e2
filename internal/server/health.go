package server

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// HealthChecker provides health check endpoints for Kubernetes probes.
type HealthChecker struct {
	// ready indicates whether the server is ready to receive traffic
	ready atomic.Bool
	// serverContext provides access to dependencies for health checks
	serverContext *ServerContext
	// startTime tracks when the server started
	startTime time.Time
}

// NewHealthChecker creates a new HealthChecker.
func NewHealthChecker(sc *ServerContext) *HealthChecker {
	h := &HealthChecker{
		serverContext: sc,
		startTime:     time.Now(),
	}
	// Server starts as ready by default; the upstream check still applies.
	h.ready.Store(true)
	return h
}

// SetReady sets the readiness state of the server.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady returns whether the server is ready to receive traffic.
func (h *HealthChecker) IsReady() bool {
	return h.ready.Load() && !h.shuttingDown() && h.upstreamReady()
}

// HealthResponse represents the JSON response for health endpoints.
type HealthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks,omitempty"`
	Version string            `json:"version,omitempty"`
}

// DetailedHealthResponse provides comprehensive health information.
type DetailedHealthResponse struct {
	Status          string                      `json:"status"`
	Version         string                      `json:"version,omitempty"`
	Uptime          string                      `json:"uptime"`
	Upstream        *UpstreamHealthStatus       `json:"upstream,omitempty"`
	Instrumentation *InstrumentationHealthCheck `json:"instrumentation,omitempty"`
}

// UpstreamHealthStatus describes the Discord client.
type UpstreamHealthStatus struct {
	Provider string `json:"provider"`
	Ready    bool   `json:"ready"`
}

// InstrumentationHealthCheck provides health information about instrumentation.
type InstrumentationHealthCheck struct {
	Enabled         bool   `json:"enabled"`
	MetricsExporter string `json:"metrics_exporter,omitempty"`
	TracingExporter string `json:"tracing_exporter,omitempty"`
}

// LivenessHandler returns an HTTP handler for the /healthz endpoint.
// If we can respond, we're alive.
func (h *HealthChecker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		response := HealthResponse{
			Status:  "ok",
			Version: h.version(),
		}

		_ = json.NewEncoder(w).Encode(response)
	})
}

// ReadinessHandler returns an HTTP handler for the /readyz endpoint.
// The gate is ready once the Discord client is initialised and until shutdown.
func (h *HealthChecker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		checks := make(map[string]string)
		allOk := true

		if !h.ready.Load() {
			checks["ready"] = "not ready"
			allOk = false
		} else {
			checks["ready"] = "ok"
		}

		if h.shuttingDown() {
			checks["shutdown"] = "shutting down"
			allOk = false
		} else {
			checks["shutdown"] = "ok"
		}

		if h.upstreamReady() {
			checks["discord"] = "ok"
		} else {
			checks["discord"] = "not initialized"
			allOk = false
		}

		if h.serverContext != nil {
			if h.serverContext.InstrumentationProvider().Enabled() {
				checks["instrumentation"] = "ok"
			} else {
				checks["instrumentation"] = "disabled"
			}
		}

		response := HealthResponse{
			Checks: checks,
		}

		if allOk {
			response.Status = "ok"
			w.WriteHeader(http.StatusOK)
		} else {
			response.Status = "not ready"
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		_ = json.NewEncoder(w).Encode(response)
	})
}

// RegisterHealthEndpoints registers health check endpoints on the given mux.
func (h *HealthChecker) RegisterHealthEndpoints(mux *http.ServeMux) {
	mux.Handle("GET /healthz", h.LivenessHandler())
	mux.Handle("GET /readyz", h.ReadinessHandler())
	mux.Handle("GET /healthz/detailed", h.DetailedHealthHandler())
}

// DetailedHealthHandler returns an HTTP handler for the /healthz/detailed endpoint.
func (h *HealthChecker) DetailedHealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		response := DetailedHealthResponse{
			Status:  "ok",
			Version: h.version(),
			Uptime:  time.Since(h.startTime).Truncate(time.Second).String(),
		}

		if h.serverContext != nil {
			response.Upstream = &UpstreamHealthStatus{
				Provider: "discord",
				Ready:    h.upstreamReady(),
			}
			response.Instrumentation = h.getInstrumentationStatus()
		}

		switch {
		case !h.ready.Load():
			response.Status = "not ready"
			w.WriteHeader(http.StatusServiceUnavailable)
		case h.shuttingDown():
			response.Status = "shutting down"
			w.WriteHeader(http.StatusServiceUnavailable)
		case !h.upstreamReady():
			response.Status = "degraded"
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusOK)
		}

		_ = json.NewEncoder(w).Encode(response)
	})
}

func (h *HealthChecker) version() string {
	if h.serverContext == nil || h.serverContext.Config() == nil {
		return ""
	}
	return h.serverContext.Config().Version
}

func (h *HealthChecker) shuttingDown() bool {
	return h.serverContext != nil && h.serverContext.IsShutdown()
}

func (h *HealthChecker) upstreamReady() bool {
	return h.serverContext != nil && h.serverContext.UpstreamReady()
}

// getInstrumentationStatus returns instrumentation health status.
func (h *HealthChecker) getInstrumentationStatus() *InstrumentationHealthCheck {
	provider := h.serverContext.InstrumentationProvider()
	if !provider.Enabled() {
		return &InstrumentationHealthCheck{Enabled: false}
	}

	cfg := provider.Config()
	return &InstrumentationHealthCheck{
		Enabled:         true,
		MetricsExporter: cfg.MetricsExporter,
		TracingExporter: cfg.TracingExporter,
	}
}
