// Package observability provides metrics and tracing for the language host.
package observability

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/ajitpratap0/langhost"

	methodAttribute    = "langhost.method"
	transportAttribute = "langhost.transport"
	errorCodeAttribute = "rpc.jsonrpc.error_code"
)

// TracingConfig configures OpenTelemetry tracing
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	ExporterType ExporterType
	Endpoint     string            // OTLP endpoint
	Headers      map[string]string // sent with every OTLP export
	Insecure     bool

	// SampleRate is the fraction of traces kept; zero means all, negative none.
	SampleRate float64
	// AlwaysSample and NeverSample override SampleRate per protocol method.
	AlwaysSample []string
	NeverSample  []string

	ResourceAttributes map[string]string

	// Processors receive every span in addition to the exporter.
	Processors []sdktrace.SpanProcessor

	// RegisterGlobal installs the provider and propagator as otel globals.
	RegisterGlobal bool
}

// ExporterType defines the type of trace exporter
type ExporterType string

const (
	ExporterTypeOTLPGRPC ExporterType = "otlp-grpc"
	ExporterTypeOTLPHTTP ExporterType = "otlp-http"
	// ExporterTypeNoop drops spans after sampling.
	ExporterTypeNoop ExporterType = "noop"
)

// TracingProvider owns the SDK tracer provider and the propagator used on
// inbound HTTP requests.
type TracingProvider struct {
	config         TracingConfig
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
	propagator     propagation.TextMapPropagator

	mu       sync.Mutex
	shutdown bool
}

// NewTracingProvider creates a new tracing provider
func NewTracingProvider(config TracingConfig) (*TracingProvider, error) {
	if config.ServiceName == "" {
		config.ServiceName = "langhost"
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = "unknown"
	}
	if config.Environment == "" {
		config.Environment = "development"
	}
	switch {
	case config.SampleRate == 0:
		config.SampleRate = 1.0
	case config.SampleRate < 0:
		config.SampleRate = 0
	}

	exporter, err := newExporter(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(newResource(config)),
		sdktrace.WithSampler(newSampler(config)),
	}
	for _, p := range config.Processors {
		opts = append(opts, sdktrace.WithSpanProcessor(p))
	}
	tp := sdktrace.NewTracerProvider(opts...)

	propagator := propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
	if config.RegisterGlobal {
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagator)
	}

	return &TracingProvider{
		config:         config,
		tracerProvider: tp,
		tracer:         tp.Tracer(instrumentationName),
		propagator:     propagator,
	}, nil
}

// NewNoopTracing returns a provider that samples nothing and exports nowhere.
func NewNoopTracing(serviceName string) *TracingProvider {
	tp, err := NewTracingProvider(TracingConfig{
		ServiceName:  serviceName,
		ExporterType: ExporterTypeNoop,
		SampleRate:   -1,
	})
	if err != nil {
		panic(err)
	}
	return tp
}

// TracerProvider exposes the SDK provider for instrumentation libraries.
func (tp *TracingProvider) TracerProvider() trace.TracerProvider {
	return tp.tracerProvider
}

// Propagator returns the propagator inbound trace context is read with.
func (tp *TracingProvider) Propagator() propagation.TextMapPropagator {
	return tp.propagator
}

func newResource(config TracingConfig) *resource.Resource {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
		semconv.DeploymentEnvironment(config.Environment),
	}
	for k, v := range config.ResourceAttributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...)
}

func newExporter(config TracingConfig) (sdktrace.SpanExporter, error) {
	switch config.ExporterType {
	case ExporterTypeOTLPGRPC:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.Endpoint)}
		if len(config.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(config.Headers))
		}
		if config.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	case ExporterTypeOTLPHTTP:
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(config.Endpoint)}
		if len(config.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(config.Headers))
		}
		if config.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptrace.New(context.Background(), otlptracehttp.NewClient(opts...))
	case ExporterTypeNoop, "":
		return noopExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", config.ExporterType)
	}
}

func newSampler(config TracingConfig) sdktrace.Sampler {
	var base sdktrace.Sampler
	switch {
	case config.SampleRate >= 1:
		base = sdktrace.AlwaysSample()
	case config.SampleRate <= 0:
		base = sdktrace.NeverSample()
	default:
		base = sdktrace.TraceIDRatioBased(config.SampleRate)
	}
	if len(config.AlwaysSample) == 0 && len(config.NeverSample) == 0 {
		return base
	}
	return &methodSampler{
		base:   base,
		always: stringSet(config.AlwaysSample),
		never:  stringSet(config.NeverSample),
	}
}

// StartMethodSpan starts a server span for a protocol method
func (tp *TracingProvider) StartMethodSpan(ctx context.Context, transport, method string) (context.Context, trace.Span) {
	return tp.tracer.Start(ctx, transport+" "+method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String(methodAttribute, method),
			attribute.String(transportAttribute, transport),
			attribute.String("rpc.system", "jsonrpc"),
		))
}

// StartCompositionSpan starts the span covering registry composition
func (tp *TracingProvider) StartCompositionSpan(ctx context.Context, modules int) (context.Context, trace.Span) {
	return tp.tracer.Start(ctx, "langhost.compose",
		trace.WithAttributes(attribute.Int("langhost.modules", modules)))
}

// RecordError marks the span in ctx as failed.
func (tp *TracingProvider) RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// AddEvent adds an event to the span in ctx.
func (tp *TracingProvider) AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}

// SetAttributes sets attributes on the span in ctx.
func (tp *TracingProvider) SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attrs...)
	}
}

// Shutdown flushes pending spans. Later calls are no-ops.
func (tp *TracingProvider) Shutdown(ctx context.Context) error {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	if tp.shutdown {
		return nil
	}
	tp.shutdown = true
	return tp.tracerProvider.Shutdown(ctx)
}

// methodSampler applies per-method overrides before the base sampler.
type methodSampler struct {
	base   sdktrace.Sampler
	always map[string]struct{}
	never  map[string]struct{}
}

func (s *methodSampler) ShouldSample(params sdktrace.SamplingParameters) sdktrace.SamplingResult {
	method := params.Name
	for _, attr := range params.Attributes {
		if attr.Key == methodAttribute {
			method = attr.Value.AsString()
			break
		}
	}
	if _, ok := s.never[method]; ok {
		return sdktrace.SamplingResult{Decision: sdktrace.Drop}
	}
	if _, ok := s.always[method]; ok {
		return sdktrace.SamplingResult{Decision: sdktrace.RecordAndSample}
	}
	return s.base.ShouldSample(params)
}

func (s *methodSampler) Description() string {
	return fmt.Sprintf("MethodSampler{base=%s}", s.base.Description())
}

type noopExporter struct{}

func (noopExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error { return nil }
func (noopExporter) Shutdown(context.Context) error                             { return nil }

func stringSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}
