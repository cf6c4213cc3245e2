package instrumentation

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Exporter names accepted by Config.
const (
	ExporterPrometheus = "prometheus"
	ExporterOTLP       = "otlp"
	ExporterStdout     = "stdout"
	ExporterNone       = "none"
)

// DefaultMetricInterval is the export interval for push-based metric exporters.
const DefaultMetricInterval = 10 * time.Second

// Config holds the configuration for OpenTelemetry instrumentation.
type Config struct {
	// ServiceName is the name of the service (default: discord-gate)
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"discord-gate"`

	// ServiceVersion is the version of the service. Set by the caller from
	// the build version, never read from the environment.
	ServiceVersion string

	// Enabled determines if instrumentation is active (default: false for zero overhead)
	Enabled bool `env:"INSTRUMENTATION_ENABLED" envDefault:"false"`

	// MetricsExporter specifies the metrics exporter type
	// Options: "prometheus", "otlp", "stdout" (default: "prometheus")
	MetricsExporter string `env:"METRICS_EXPORTER" envDefault:"prometheus"`

	// TracingExporter specifies the tracing exporter type
	// Options: "otlp", "stdout", "none" (default: "none")
	TracingExporter string `env:"TRACING_EXPORTER" envDefault:"none"`

	// OTLPEndpoint is the OTLP collector endpoint, e.g. "http://localhost:4318".
	// Empty means the exporter library default.
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// OTLPInsecure controls whether to use plain HTTP for OTLP export.
	// Traces carry guild ids and hashed subjects; keep TLS outside local setups.
	OTLPInsecure bool `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"false"`

	// TraceSamplingRate is the sampling rate for traces (0.0 to 1.0, default: 0.1)
	TraceSamplingRate float64 `env:"OTEL_TRACES_SAMPLER_ARG" envDefault:"0.1"`
}

// DefaultConfig returns a Config with defaults applied and nothing read from
// the environment.
func DefaultConfig() Config {
	cfg, err := LoadConfigFrom(map[string]string{})
	if err != nil {
		// Defaults are constant and always parse.
		panic(err)
	}
	return cfg
}

// LoadConfig reads the instrumentation configuration from the process environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse instrumentation config: %w", err)
	}
	return cfg, nil
}

// LoadConfigFrom reads the instrumentation configuration from the given
// variables instead of the process environment.
func LoadConfigFrom(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("failed to parse instrumentation config: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.MetricsExporter {
	case ExporterPrometheus, ExporterOTLP, ExporterStdout:
	default:
		return fmt.Errorf("unsupported metrics exporter %q", c.MetricsExporter)
	}

	switch c.TracingExporter {
	case ExporterOTLP, ExporterStdout, ExporterNone, "":
	default:
		return fmt.Errorf("unsupported tracing exporter %q", c.TracingExporter)
	}

	if c.TraceSamplingRate < 0 || c.TraceSamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0 and 1, got %v", c.TraceSamplingRate)
	}

	return nil
}
