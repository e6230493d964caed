package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/encoding/gzip"
)

// make sure it implements Sink
var _ Sink = (*SinkOTel)(nil)

type OTelSendable struct {
	trace.Span
}

func (s OTelSendable) RecordError(err error) {
	s.Span.RecordError(err)
	s.Span.SetStatus(codes.Error, err.Error())
}

func (s OTelSendable) Send() {
	s.Span.End()
}

// serviceTelemetry holds the providers for one simulated service. Each
// service gets its own resource so that backends show it as a separate
// service.
type serviceTelemetry struct {
	tp     *sdktrace.TracerProvider
	lp     *sdklog.LoggerProvider
	tracer trace.Tracer
	logger otellog.Logger
}

// providerFactory builds the providers for one service's resource.
type providerFactory func(res *resource.Resource) (*sdktrace.TracerProvider, *sdklog.LoggerProvider, error)

// SinkOTel sends spans and log records through the OpenTelemetry SDK.
type SinkOTel struct {
	services map[string]*serviceTelemetry
	log      Logger
}

func NewSinkOTel(ctx context.Context, log Logger, opts *Options, services []string) (*SinkOTel, error) {
	factory := func(res *resource.Resource) (*sdktrace.TracerProvider, *sdklog.LoggerProvider, error) {
		spanExporter, logExporter, err := newOTelExporters(ctx, opts)
		if err != nil {
			return nil, nil, err
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(spanExporter, batchSpanOptions(opts)...)),
			sdktrace.WithResource(res),
		)
		lp := sdklog.NewLoggerProvider(
			sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter, batchLogOptions(opts)...)),
			sdklog.WithResource(res),
		)
		return tp, lp, nil
	}
	return newSinkOTel(log, services, factory)
}

func newSinkOTel(log Logger, services []string, factory providerFactory) (*SinkOTel, error) {
	sink := &SinkOTel{
		services: make(map[string]*serviceTelemetry, len(services)),
		log:      log,
	}
	for _, name := range services {
		res := resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(name),
			semconv.ServiceVersion(ResourceVersion),
		)
		tp, lp, err := factory(res)
		if err != nil {
			sink.Close()
			return nil, fmt.Errorf("configuring telemetry for service %s: %w", name, err)
		}
		sink.services[name] = &serviceTelemetry{
			tp:     tp,
			lp:     lp,
			tracer: tp.Tracer(ResourceLibrary, trace.WithInstrumentationVersion(ResourceVersion)),
			logger: lp.Logger(ResourceLibrary, otellog.WithInstrumentationVersion(ResourceVersion)),
		}
	}
	return sink, nil
}

func newOTelExporters(ctx context.Context, opts *Options) (sdktrace.SpanExporter, sdklog.Exporter, error) {
	switch opts.Output.Protocol {
	case "grpc":
		spanExporter, err := otlptrace.New(ctx, setupOTELGRPCClient(opts))
		if err != nil {
			return nil, nil, fmt.Errorf("failure configuring otel trace exporter: %w", err)
		}
		logExporter, err := otlploggrpc.New(ctx, otelGRPCLogOptions(opts)...)
		if err != nil {
			return nil, nil, fmt.Errorf("failure configuring otel log exporter: %w", err)
		}
		return spanExporter, logExporter, nil
	case "http":
		spanExporter, err := otlptrace.New(ctx, setupOTELHTTPClient(opts))
		if err != nil {
			return nil, nil, fmt.Errorf("failure configuring otel trace exporter: %w", err)
		}
		logExporter, err := otlploghttp.New(ctx, otelHTTPLogOptions(opts)...)
		if err != nil {
			return nil, nil, fmt.Errorf("failure configuring otel log exporter: %w", err)
		}
		return spanExporter, logExporter, nil
	case "stdout":
		spanExporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, nil, err
		}
		logExporter, err := stdoutlog.New(stdoutlog.WithPrettyPrint())
		if err != nil {
			return nil, nil, err
		}
		return spanExporter, logExporter, nil
	default:
		return nil, nil, fmt.Errorf("unknown protocol: %s", opts.Output.Protocol)
	}
}

func batchSpanOptions(opts *Options) []sdktrace.BatchSpanProcessorOption {
	var bspOpts []sdktrace.BatchSpanProcessorOption
	if opts.Output.BatchTimeout != 0 {
		bspOpts = append(bspOpts, sdktrace.WithBatchTimeout(opts.Output.BatchTimeout))
	}
	if opts.Output.MaxQueueSize != 0 {
		bspOpts = append(bspOpts, sdktrace.WithMaxQueueSize(opts.Output.MaxQueueSize))
	}
	if opts.Output.MaxExportBatchSize != 0 {
		bspOpts = append(bspOpts, sdktrace.WithMaxExportBatchSize(opts.Output.MaxExportBatchSize))
	}
	if opts.Output.ExportTimeout != 0 {
		bspOpts = append(bspOpts, sdktrace.WithExportTimeout(opts.Output.ExportTimeout))
	}
	return bspOpts
}

func batchLogOptions(opts *Options) []sdklog.BatchProcessorOption {
	var blpOpts []sdklog.BatchProcessorOption
	if opts.Output.BatchTimeout != 0 {
		blpOpts = append(blpOpts, sdklog.WithExportInterval(opts.Output.BatchTimeout))
	}
	if opts.Output.MaxQueueSize != 0 {
		blpOpts = append(blpOpts, sdklog.WithMaxQueueSize(opts.Output.MaxQueueSize))
	}
	if opts.Output.MaxExportBatchSize != 0 {
		blpOpts = append(blpOpts, sdklog.WithExportMaxBatchSize(opts.Output.MaxExportBatchSize))
	}
	if opts.Output.ExportTimeout != 0 {
		blpOpts = append(blpOpts, sdklog.WithExportTimeout(opts.Output.ExportTimeout))
	}
	return blpOpts
}

func otlpHeaders(opts *Options) map[string]string {
	headers := map[string]string{}
	if opts.Telemetry.APIKey != "" {
		headers["x-honeycomb-team"] = opts.Telemetry.APIKey
	}
	return headers
}

func setupOTELHTTPClient(opts *Options) otlptrace.Client {
	options := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(opts.apihost.Host),
		otlptracehttp.WithHeaders(otlpHeaders(opts)),
		otlptracehttp.WithCompression(otlptracehttp.GzipCompression),
	}
	if opts.Telemetry.Insecure {
		options = append(options, otlptracehttp.WithInsecure())
	} else {
		options = append(options, otlptracehttp.WithTLSClientConfig(&tls.Config{}))
	}
	return otlptracehttp.NewClient(options...)
}

func setupOTELGRPCClient(opts *Options) otlptrace.Client {
	options := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(opts.apihost.Host),
		otlptracegrpc.WithHeaders(otlpHeaders(opts)),
		otlptracegrpc.WithCompressor(gzip.Name),
	}
	if opts.Telemetry.Insecure {
		options = append(options, otlptracegrpc.WithInsecure())
	} else {
		options = append(options, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	return otlptracegrpc.NewClient(options...)
}

func otelGRPCLogOptions(opts *Options) []otlploggrpc.Option {
	options := []otlploggrpc.Option{
		otlploggrpc.WithEndpoint(opts.apihost.Host),
		otlploggrpc.WithHeaders(otlpHeaders(opts)),
		otlploggrpc.WithCompressor(gzip.Name),
	}
	if opts.Telemetry.Insecure {
		options = append(options, otlploggrpc.WithInsecure())
	} else {
		options = append(options, otlploggrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	return options
}

func otelHTTPLogOptions(opts *Options) []otlploghttp.Option {
	options := []otlploghttp.Option{
		otlploghttp.WithEndpoint(opts.apihost.Host),
		otlploghttp.WithHeaders(otlpHeaders(opts)),
		otlploghttp.WithCompression(otlploghttp.GzipCompression),
	}
	if opts.Telemetry.Insecure {
		options = append(options, otlploghttp.WithInsecure())
	} else {
		options = append(options, otlploghttp.WithTLSClientConfig(&tls.Config{}))
	}
	return options
}

func (t *SinkOTel) telemetryFor(service string) *serviceTelemetry {
	st, ok := t.services[service]
	if !ok {
		// the registry is fixed before the sink is built, so this is a wiring bug
		panic(fmt.Sprintf("no telemetry configured for service %s", service))
	}
	return st
}

func (t *SinkOTel) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var errs error
	for name, st := range t.services {
		if err := st.tp.Shutdown(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s traces: %w", name, err))
		}
		if err := st.lp.Shutdown(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s logs: %w", name, err))
		}
	}
	if errs != nil {
		t.log.Error("error shutting down otel sink: %v\n", errs)
	}
}

func (t *SinkOTel) StartTrace(ctx context.Context, info SpanInfo) (context.Context, Sendable) {
	attrs := append(spanAttributes(info), attribute.Int64("count", info.Count))
	ctx, root := t.telemetryFor(info.Service).tracer.Start(ctx, info.Name,
		trace.WithNewRoot(),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)
	return ctx, OTelSendable{Span: root}
}

func (t *SinkOTel) StartSpan(ctx context.Context, info SpanInfo) (context.Context, Sendable) {
	ctx, span := t.telemetryFor(info.Service).tracer.Start(ctx, info.Name,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(spanAttributes(info)...),
	)
	return ctx, OTelSendable{Span: span}
}

func (t *SinkOTel) EmitLog(ctx context.Context, rec LogRecord) {
	var r otellog.Record
	now := time.Now()
	r.SetTimestamp(now)
	r.SetObservedTimestamp(now)
	switch rec.Channel {
	case Stderr:
		r.SetSeverity(otellog.SeverityError)
		r.SetSeverityText("ERROR")
	default:
		r.SetSeverity(otellog.SeverityInfo)
		r.SetSeverityText("INFO")
	}
	r.SetBody(otellog.StringValue(rec.Message))
	r.AddAttributes(otellog.String("log.channel", rec.Channel.String()))
	// exporters must not see a cancelled context while the program drains
	t.telemetryFor(rec.Service).logger.Emit(context.WithoutCancel(ctx), r)
}

func spanAttributes(info SpanInfo) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(info.Fields)+3)
	attrs = append(attrs,
		semconv.ServiceName(info.Service),
		attribute.Int("svcgen.depth", info.Depth),
	)
	return append(attrs, fieldAttributes(info.Fields)...)
}
