package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	metricsdk "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.uber.org/multierr"
	"sutext.github.io/realtime/internal/metrics"
	"sutext.github.io/realtime/stats"
	"sutext.github.io/realtime/xlog"
)

// telemetry owns the metric registry and the OTel providers of one process.
type telemetry struct {
	registry      *prometheus.Registry
	traceProvider *tracesdk.TracerProvider
	meterProvider *metricsdk.MeterProvider
	instanceID    string
}

func newTelemetry(ctx context.Context, cfg *config) (*telemetry, error) {
	t := &telemetry{
		registry:   prometheus.NewRegistry(),
		instanceID: uuid.NewString(),
	}
	t.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if cfg.Trace.Enabled {
		provider, err := t.initTrace(ctx, cfg.Trace)
		if err != nil {
			otel.Handle(err)
			return nil, err
		}
		t.traceProvider = provider
	}
	if cfg.Metrics.OTLPEndpoint != "" {
		provider, err := t.initMeter(ctx, cfg.Metrics, cfg.Trace.ServiceName)
		if err != nil {
			otel.Handle(err)
			return nil, multierr.Append(err, t.Shutdown(ctx))
		}
		t.meterProvider = provider
	}
	return t, nil
}

func (t *telemetry) resource(ctx context.Context, serviceName string) (*resource.Resource, error) {
	return resource.New(ctx, resource.WithAttributes(
		semconv.ServiceVersion(version),
		semconv.ServiceName(serviceName),
		semconv.ServiceNamespace("realtime"),
		semconv.ServiceInstanceID(t.instanceID),
	))
}

func (t *telemetry) initTrace(ctx context.Context, conf traceConfig) (*tracesdk.TracerProvider, error) {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(conf.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithTimeout(5*time.Second))
	if err != nil {
		return nil, err
	}
	r, err := t.resource(ctx, conf.ServiceName)
	if err != nil {
		return nil, err
	}
	provider := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exporter),
		tracesdk.WithResource(r),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	xlog.Info("OTel tracing initialized", xlog.Str("otlp_endpoint", conf.OTLPEndpoint))
	return provider, nil
}

func (t *telemetry) initMeter(ctx context.Context, conf metricsConfig, serviceName string) (*metricsdk.MeterProvider, error) {
	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(conf.OTLPEndpoint),
		otlpmetricgrpc.WithInsecure(),
		otlpmetricgrpc.WithTimeout(5*time.Second),
	)
	if err != nil {
		return nil, err
	}
	reader := metricsdk.NewPeriodicReader(exporter,
		metricsdk.WithInterval(conf.Interval),
		metricsdk.WithTimeout(5*time.Second),
	)
	r, err := t.resource(ctx, serviceName)
	if err != nil {
		return nil, err
	}
	provider := metricsdk.NewMeterProvider(
		metricsdk.WithReader(reader),
		metricsdk.WithResource(r),
	)
	otel.SetMeterProvider(provider)
	xlog.Info("OTel metrics initialized", xlog.Str("otlp_endpoint", conf.OTLPEndpoint))
	return provider, nil
}

// clientStats builds the stats handler for one client. Prometheus is always
// registered on the local registry; OTel handlers join when their provider is
// configured.
func (t *telemetry) clientStats(cfg *config) stats.Handler {
	handlers := []stats.Handler{
		metrics.NewPrometheus(
			metrics.WithNamespace(cfg.Metrics.Namespace),
			metrics.WithRegistry(t.registry),
		),
	}
	if t.traceProvider != nil {
		handlers = append(handlers, metrics.NewTracer(t.traceProvider))
	}
	if t.meterProvider != nil {
		handlers = append(handlers, metrics.NewMeter(t.meterProvider))
	}
	return stats.Multi(handlers...)
}

func (t *telemetry) Shutdown(ctx context.Context) error {
	var err error
	if t.traceProvider != nil {
		err = multierr.Append(err, t.traceProvider.Shutdown(ctx))
	}
	if t.meterProvider != nil {
		err = multierr.Append(err, t.meterProvider.Shutdown(ctx))
	}
	return err
}
