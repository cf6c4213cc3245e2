package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/giantswarm/discord-gate/internal/instrumentation"
)

// DefaultMetricsAddr is the default listen address of the metrics server.
const DefaultMetricsAddr = ":9090"

// MetricsServerConfig configures the dedicated metrics listener.
type MetricsServerConfig struct {
	// Addr is the listen address. Defaults to DefaultMetricsAddr.
	Addr string

	// InstrumentationProvider serves /metrics.
	InstrumentationProvider *instrumentation.Provider
}

// MetricsServer exposes Prometheus metrics on a separate port, away from
// gate traffic.
type MetricsServer struct {
	addr       string
	httpServer *http.Server
}

// NewMetricsServer creates a metrics server serving /metrics and /healthz.
func NewMetricsServer(config MetricsServerConfig) (*MetricsServer, error) {
	if config.InstrumentationProvider == nil {
		return nil, errors.New("instrumentation provider is required")
	}

	addr := config.Addr
	if addr == "" {
		addr = DefaultMetricsAddr
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", config.InstrumentationProvider.MetricsHandler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	return &MetricsServer{
		addr: addr,
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
		},
	}, nil
}

// Addr returns the listen address.
func (s *MetricsServer) Addr() string {
	return s.addr
}

// Handler returns the metrics mux.
func (s *MetricsServer) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start blocks serving metrics until Shutdown. It returns
// http.ErrServerClosed after a graceful stop.
func (s *MetricsServer) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server. Calling it before Start makes a
// later Start return http.ErrServerClosed.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
