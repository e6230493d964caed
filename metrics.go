package main

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/encoding/gzip"
)

// Metrics records what the simulation itself is doing: iterations run,
// calls made, log records printed and depth errors hit, per service.
type Metrics struct {
	iterations        metric.Int64Counter
	iterationErrors   metric.Int64Counter
	iterationDuration metric.Float64Histogram
	calls             metric.Int64Counter
	logRecords        metric.Int64Counter
	depthErrors       metric.Int64Counter
	activeUnits       metric.Int64UpDownCounter
}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(ResourceLibrary, metric.WithInstrumentationVersion(ResourceVersion))
	m := &Metrics{}
	var err error

	if m.iterations, err = meter.Int64Counter(
		"svcgen.iterations",
		metric.WithDescription("Loop iterations completed"),
		metric.WithUnit("{iteration}"),
	); err != nil {
		return nil, err
	}
	if m.iterationErrors, err = meter.Int64Counter(
		"svcgen.iteration.errors",
		metric.WithDescription("Loop iterations aborted by an error"),
		metric.WithUnit("{iteration}"),
	); err != nil {
		return nil, err
	}
	if m.iterationDuration, err = meter.Float64Histogram(
		"svcgen.iteration.duration",
		metric.WithDescription("Wall time of one loop iteration"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.calls, err = meter.Int64Counter(
		"svcgen.calls",
		metric.WithDescription("Method calls executed"),
		metric.WithUnit("{call}"),
	); err != nil {
		return nil, err
	}
	if m.logRecords, err = meter.Int64Counter(
		"svcgen.log_records",
		metric.WithDescription("Log records emitted by print statements"),
		metric.WithUnit("{record}"),
	); err != nil {
		return nil, err
	}
	if m.depthErrors, err = meter.Int64Counter(
		"svcgen.call_depth_exceeded",
		metric.WithDescription("Calls refused because the call chain was too deep"),
		metric.WithUnit("{call}"),
	); err != nil {
		return nil, err
	}
	if m.activeUnits, err = meter.Int64UpDownCounter(
		"svcgen.units.active",
		metric.WithDescription("Execution units currently running"),
		metric.WithUnit("{unit}"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// NewNopMetrics returns metrics that record nothing.
func NewNopMetrics() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		// the noop meter never fails
		panic(err)
	}
	return m
}

func serviceAttr(service string) attribute.KeyValue {
	return attribute.String("svcgen.service", service)
}

func (m *Metrics) RecordIteration(ctx context.Context, service string, elapsed time.Duration, err error) {
	attrs := metric.WithAttributes(serviceAttr(service))
	m.iterations.Add(ctx, 1, attrs)
	m.iterationDuration.Record(ctx, float64(elapsed)/float64(time.Millisecond), attrs)
	if err != nil {
		m.iterationErrors.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) RecordCall(ctx context.Context, target *Method) {
	m.calls.Add(ctx, 1, metric.WithAttributes(
		serviceAttr(target.Service.Name),
		attribute.String("svcgen.method", target.Name),
	))
}

func (m *Metrics) RecordLog(ctx context.Context, service string, ch Channel) {
	m.logRecords.Add(ctx, 1, metric.WithAttributes(
		serviceAttr(service),
		attribute.String("log.channel", ch.String()),
	))
}

func (m *Metrics) RecordDepthExceeded(ctx context.Context, service string) {
	m.depthErrors.Add(ctx, 1, metric.WithAttributes(serviceAttr(service)))
}

func (m *Metrics) UnitStarted(ctx context.Context, service string) {
	m.activeUnits.Add(ctx, 1, metric.WithAttributes(serviceAttr(service)))
}

func (m *Metrics) UnitStopped(ctx context.Context, service string) {
	m.activeUnits.Add(ctx, -1, metric.WithAttributes(serviceAttr(service)))
}

// newMeterProvider builds the provider behind Metrics. OTLP export follows
// the otel sink's endpoint; the Prometheus reader is added when a debug
// port is open to serve /metrics. With neither, metrics are discarded.
func newMeterProvider(ctx context.Context, opts *Options) (metric.MeterProvider, func(context.Context) error, error) {
	var readers []sdkmetric.Reader
	if opts.Output.Sender == "otel" {
		var exporter sdkmetric.Exporter
		var err error
		switch opts.Output.Protocol {
		case "grpc":
			exporter, err = otlpmetricgrpc.New(ctx, otelGRPCMetricOptions(opts)...)
		case "http":
			exporter, err = otlpmetrichttp.New(ctx, otelHTTPMetricOptions(opts)...)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failure configuring otel metric exporter: %w", err)
		}
		if exporter != nil {
			readers = append(readers, sdkmetric.NewPeriodicReader(exporter))
		}
	}
	if opts.Global.DebugPort > 0 {
		promExporter, err := prometheus.New()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		readers = append(readers, promExporter)
	}
	if len(readers) == 0 {
		return noop.NewMeterProvider(), func(context.Context) error { return nil }, nil
	}

	mpOpts := []sdkmetric.Option{
		sdkmetric.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(ResourceLibrary),
			semconv.ServiceVersion(ResourceVersion),
		)),
	}
	for _, r := range readers {
		mpOpts = append(mpOpts, sdkmetric.WithReader(r))
	}
	mp := sdkmetric.NewMeterProvider(mpOpts...)
	return mp, mp.Shutdown, nil
}

func otelGRPCMetricOptions(opts *Options) []otlpmetricgrpc.Option {
	options := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(opts.apihost.Host),
		otlpmetricgrpc.WithHeaders(otlpHeaders(opts)),
		otlpmetricgrpc.WithCompressor(gzip.Name),
	}
	if opts.Telemetry.Insecure {
		options = append(options, otlpmetricgrpc.WithInsecure())
	} else {
		options = append(options, otlpmetricgrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	return options
}

func otelHTTPMetricOptions(opts *Options) []otlpmetrichttp.Option {
	options := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(opts.apihost.Host),
		otlpmetrichttp.WithHeaders(otlpHeaders(opts)),
		otlpmetrichttp.WithCompression(otlpmetrichttp.GzipCompression),
	}
	if opts.Telemetry.Insecure {
		options = append(options, otlpmetrichttp.WithInsecure())
	}
	return options
}
