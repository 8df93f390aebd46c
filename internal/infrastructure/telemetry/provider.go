// Package telemetry wires OpenTelemetry traces, metrics and log export for the
// service and defines the subscription lifecycle instruments.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// Config is the telemetry section shared by traces, metrics and log export
type Config struct {
	Enabled           bool
	CollectorEndpoint string
	Insecure          bool
	ServiceName       string
	ServiceVersion    string
	Environment       string
	SamplingRatio     float64       // 0.0-1.0
	ExportInterval    time.Duration // metrics push interval, default 60s
}

// Option replaces a default OTLP exporter
type Option func(*options)

type options struct {
	spanExporter sdktrace.SpanExporter
	metricReader sdkmetric.Reader
	logExporter  sdklog.Exporter
	skipGlobals  bool
}

// WithSpanExporter sends spans to e instead of the OTLP collector
func WithSpanExporter(e sdktrace.SpanExporter) Option {
	return func(o *options) { o.spanExporter = e }
}

// WithMetricReader collects metrics through r instead of a periodic OTLP push
func WithMetricReader(r sdkmetric.Reader) Option {
	return func(o *options) { o.metricReader = r }
}

// WithLogExporter sends bridged log records to e instead of the OTLP collector
func WithLogExporter(e sdklog.Exporter) Option {
	return func(o *options) { o.logExporter = e }
}

// WithoutGlobals leaves the otel global providers untouched
func WithoutGlobals() Option {
	return func(o *options) { o.skipGlobals = true }
}

// Providers bundles the three signal providers. All of them are usable when
// telemetry is disabled; they then hand out no-op instruments.
type Providers struct {
	Traces  *TracerProvider
	Metrics *MeterProvider
	Logs    *LoggerProvider
}

// Setup builds the providers from cfg and, unless WithoutGlobals is given,
// installs them as the otel globals together with the W3C propagators.
func Setup(ctx context.Context, cfg Config, logger *zap.Logger, opts ...Option) (*Providers, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	p := &Providers{
		Traces:  &TracerProvider{},
		Metrics: &MeterProvider{},
		Logs:    &LoggerProvider{serviceName: cfg.ServiceName},
	}
	if !cfg.Enabled {
		logger.Info("Telemetry disabled, using no-op providers")
		return p, nil
	}

	res, err := newResource(cfg)
	if err != nil {
		return nil, err
	}

	if p.Traces, err = newTracerProvider(ctx, cfg, res, o.spanExporter); err != nil {
		return nil, err
	}
	if p.Metrics, err = newMeterProvider(ctx, cfg, res, o.metricReader); err != nil {
		_ = p.Shutdown(ctx)
		return nil, err
	}
	if p.Logs, err = newLoggerProvider(ctx, cfg, res, o.logExporter); err != nil {
		_ = p.Shutdown(ctx)
		return nil, err
	}

	if !o.skipGlobals {
		otel.SetTracerProvider(p.Traces.provider)
		otel.SetMeterProvider(p.Metrics.provider)
		global.SetLoggerProvider(p.Logs.provider)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
	}

	logger.Info("OpenTelemetry initialized",
		zap.String("collector_endpoint", cfg.CollectorEndpoint),
		zap.String("service_name", cfg.ServiceName),
		zap.Float64("sampling_ratio", cfg.SamplingRatio),
	)
	return p, nil
}

// Shutdown flushes and stops every provider within a bounded time
func (p *Providers) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	var errs []error
	if err := p.Traces.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("traces: %w", err))
	}
	if err := p.Metrics.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("metrics: %w", err))
	}
	if err := p.Logs.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("logs: %w", err))
	}
	return errors.Join(errs...)
}

func newResource(cfg Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentName(cfg.Environment))
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, attrs...))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}
