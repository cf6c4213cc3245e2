package instrumentation

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Provider owns the meter and tracer providers and the metrics built on them.
type Provider struct {
	config         Config
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	registry       *prometheus.Registry
	metrics        *Metrics
}

// NewProvider creates a Provider from the given configuration.
// A disabled configuration yields a provider whose metrics record nothing.
func NewProvider(ctx context.Context, config Config) (*Provider, error) {
	p := &Provider{config: config}

	if !config.Enabled {
		p.metrics = &Metrics{}
		return p, nil
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid instrumentation config: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", config.ServiceName),
		attribute.String("service.version", config.ServiceVersion),
	)

	reader, err := p.newMetricReader(ctx)
	if err != nil {
		return nil, err
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(p.meterProvider)

	p.metrics, err = NewMetrics(p.meterProvider.Meter(TracerName))
	if err != nil {
		_ = p.meterProvider.Shutdown(ctx)
		return nil, err
	}

	if config.TracingExporter != "" && config.TracingExporter != ExporterNone {
		exporter, err := p.newSpanExporter(ctx)
		if err != nil {
			_ = p.meterProvider.Shutdown(ctx)
			return nil, err
		}

		p.tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(config.TraceSamplingRate))),
		)
		otel.SetTracerProvider(p.tracerProvider)
		otel.SetTextMapPropagator(propagation.TraceContext{})
	}

	return p, nil
}

func (p *Provider) newMetricReader(ctx context.Context) (sdkmetric.Reader, error) {
	switch p.config.MetricsExporter {
	case ExporterPrometheus:
		p.registry = prometheus.NewRegistry()
		p.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		exporter, err := otelprom.New(otelprom.WithRegisterer(p.registry))
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		return exporter, nil

	case ExporterOTLP:
		var opts []otlpmetrichttp.Option
		if p.config.OTLPEndpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpointURL(p.config.OTLPEndpoint))
		}
		if p.config.OTLPInsecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		exporter, err := otlpmetrichttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp metric exporter: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(DefaultMetricInterval)), nil

	case ExporterStdout:
		exporter, err := stdoutmetric.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout metric exporter: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(DefaultMetricInterval)), nil
	}

	return nil, fmt.Errorf("unsupported metrics exporter %q", p.config.MetricsExporter)
}

func (p *Provider) newSpanExporter(ctx context.Context) (sdktrace.SpanExporter, error) {
	switch p.config.TracingExporter {
	case ExporterOTLP:
		var opts []otlptracehttp.Option
		if p.config.OTLPEndpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpointURL(p.config.OTLPEndpoint))
		}
		if p.config.OTLPInsecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp trace exporter: %w", err)
		}
		return exporter, nil

	case ExporterStdout:
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
		}
		return exporter, nil
	}

	return nil, fmt.Errorf("unsupported tracing exporter %q", p.config.TracingExporter)
}

// Enabled reports whether instrumentation is active.
func (p *Provider) Enabled() bool {
	return p != nil && p.config.Enabled
}

// Config returns the configuration the provider was built from.
func (p *Provider) Config() Config {
	if p == nil {
		return Config{}
	}
	return p.config
}

// Metrics returns the metrics recorder. Never nil.
func (p *Provider) Metrics() *Metrics {
	if p == nil || p.metrics == nil {
		return &Metrics{}
	}
	return p.metrics
}

// MetricsHandler serves the Prometheus registry. It responds 404 when
// instrumentation is disabled or a push exporter is configured.
func (p *Provider) MetricsHandler() http.Handler {
	if p == nil || p.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Shutdown flushes and stops the meter and tracer providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}

	var errs []error
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}
