// Package telemetry provides OpenTelemetry instrumentation and logging setup
// for cmdb.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/yairfalse/cmdb/internal/config"
)

// Provider wraps OTEL tracer and meter providers.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	metricsHandler http.Handler

	// Metrics
	crawlDuration metric.Float64Histogram
	resourceCount metric.Int64Counter
	crawlErrors   metric.Int64Counter
}

// NewProvider creates a new telemetry provider and installs it globally.
func NewProvider(ctx context.Context, cfg config.OTELConfig) (*Provider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	p := &Provider{}

	if err := p.setupTracing(ctx, cfg, res); err != nil {
		return nil, err
	}

	if err := p.setupMetrics(ctx, cfg, res); err != nil {
		if p.tracerProvider != nil {
			_ = p.tracerProvider.Shutdown(ctx)
		}
		return nil, err
	}

	if err := p.initMetrics(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Provider) setupTracing(ctx context.Context, cfg config.OTELConfig, res *resource.Resource) error {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
	}

	if cfg.Traces.Enabled && cfg.Endpoint != "" {
		exp, err := createTraceExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create trace exporter: %w", err)
		}
		sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Traces.SampleRate))
		opts = append(opts, sdktrace.WithBatcher(exp), sdktrace.WithSampler(sampler))
	}

	p.tracerProvider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(p.tracerProvider)
	p.tracer = p.tracerProvider.Tracer("cmdb")

	return nil
}

func (p *Provider) setupMetrics(ctx context.Context, cfg config.OTELConfig, res *resource.Resource) error {
	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
	}

	if cfg.Metrics.Enabled && cfg.Endpoint != "" {
		exp, err := createMetricExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
	}

	if cfg.Metrics.Prometheus {
		reg := prom.NewRegistry()
		exp, err := prometheus.New(prometheus.WithRegisterer(reg))
		if err != nil {
			return fmt.Errorf("create prometheus exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(exp))
		p.metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	p.meterProvider = sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(p.meterProvider)
	p.meter = p.meterProvider.Meter("cmdb")

	return nil
}

func createTraceExporter(ctx context.Context, cfg config.OTELConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithDialOption(
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		))
	}
	return otlptracegrpc.New(ctx, opts...)
}

func createMetricExporter(ctx context.Context, cfg config.OTELConfig) (sdkmetric.Exporter, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithDialOption(
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		))
	}
	return otlpmetricgrpc.New(ctx, opts...)
}

func (p *Provider) initMetrics() error {
	var err error

	p.crawlDuration, err = p.meter.Float64Histogram(
		"cmdb.crawl.duration",
		metric.WithDescription("Duration of one account crawl"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create crawl_duration: %w", err)
	}

	p.resourceCount, err = p.meter.Int64Counter(
		"cmdb.crawl.resources",
		metric.WithDescription("Resources crawled by kind and region"),
		metric.WithUnit("{resource}"),
	)
	if err != nil {
		return fmt.Errorf("create resource_count: %w", err)
	}

	p.crawlErrors, err = p.meter.Int64Counter(
		"cmdb.crawl.errors",
		metric.WithDescription("Account crawls that failed"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return fmt.Errorf("create crawl_errors: %w", err)
	}

	return nil
}

// Tracer returns the tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Meter returns the meter.
func (p *Provider) Meter() metric.Meter {
	return p.meter
}

// MetricsHandler serves the Prometheus scrape endpoint. It is nil unless
// the Prometheus exporter is enabled.
func (p *Provider) MetricsHandler() http.Handler {
	return p.metricsHandler
}

// StartSpan starts a new span.
func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name)
}

// RecordCrawlDuration records how long one account crawl took.
func (p *Provider) RecordCrawlDuration(ctx context.Context, adapter string, d time.Duration) {
	p.crawlDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("adapter", adapter),
	))
}

// RecordResourceCount records the number of resources crawled.
func (p *Provider) RecordResourceCount(ctx context.Context, adapter, kind, region string, count int) {
	p.resourceCount.Add(ctx, int64(count), metric.WithAttributes(
		attribute.String("adapter", adapter),
		attribute.String("kind", kind),
		attribute.String("region", region),
	))
}

// RecordError records a failed account crawl.
func (p *Provider) RecordError(ctx context.Context, adapter string) {
	p.crawlErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("adapter", adapter),
	))
}

// Shutdown flushes and shuts down the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown tracer: %w", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown meter: %w", err)
		}
	}
	return nil
}
