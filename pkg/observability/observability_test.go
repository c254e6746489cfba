package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	hosterrors "github.com/ajitpratap0/langhost/pkg/errors"
)

func newTestMetrics(t *testing.T) *PrometheusMetricsProvider {
	t.Helper()
	m, err := NewMetricsProvider(MetricsConfig{ServiceName: "test", InstanceID: "abc"})
	require.NoError(t, err)
	return m
}

func TestMetricsProvider_PrivateRegistries(t *testing.T) {
	a := newTestMetrics(t)
	b := newTestMetrics(t)

	a.RecordDispatch(context.Background(), "stdio", "initialize", "ok", time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(a.dispatchTotal.WithLabelValues("stdio", "initialize", "ok")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.dispatchTotal.WithLabelValues("stdio", "initialize", "ok")))
}

func TestMetricsProvider_StateGaugeIsExclusive(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordState("Composing")
	m.RecordState("Ready")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.state.WithLabelValues("Ready")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.state.WithLabelValues("Composing")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.state.WithLabelValues("Uninitialized")))
}

func TestMetricsProvider_Composition(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordComposition(context.Background(), "ok", 3, 12, 40*time.Millisecond)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.composedModules))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.composedHandlers))
	assert.Equal(t, 1, testutil.CollectAndCount(m.compositionDuration))
}

func TestMetricsProvider_Handler(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordShutdown("parent_exited")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `langhost_shutdown_total{instance_id="abc",reason="parent_exited",service="test"} 1`)
}

func TestStatus(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{context.Canceled, "cancelled"},
		{context.DeadlineExceeded, "timeout"},
		{hosterrors.NotInitialized("x", "Composing"), "ordering"},
		{hosterrors.HandlerFailed("A->B", errors.New("boom")), "handler"},
		{errors.New("plain"), "error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Status(tt.err))
	}
}

func TestInstrumentation_WrapRequest(t *testing.T) {
	m := newTestMetrics(t)
	inst := &Instrumentation{Metrics: m, Tracer: NewNoopTracing("test")}
	defer func() { _ = inst.Tracer.Shutdown(context.Background()) }()

	ok := inst.WrapRequest("stdio", "textDocument/definition", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return "loc", nil
	})
	res, err := ok(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "loc", res)

	failing := inst.WrapRequest("stdio", "textDocument/definition", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return nil, hosterrors.HandlerFailed("A->B", errors.New("boom"))
	})
	_, err = failing(context.Background(), nil)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.dispatchTotal.WithLabelValues("stdio", "textDocument/definition", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dispatchTotal.WithLabelValues("stdio", "textDocument/definition", "handler")))
}

func TestInstrumentation_WrapNotification(t *testing.T) {
	m := newTestMetrics(t)
	inst := &Instrumentation{Metrics: m}

	h := inst.WrapNotification("stdio", "textDocument/didOpen", func(ctx context.Context, params json.RawMessage) error {
		return nil
	})
	require.NoError(t, h(context.Background(), json.RawMessage(`{}`)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notificationTotal.WithLabelValues("stdio", "textDocument/didOpen", "ok")))
}

func TestInstrumentation_NilIsPassThrough(t *testing.T) {
	var inst *Instrumentation
	called := false
	err := inst.Observe(context.Background(), "http", "x", func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestInstrumentation_PanicIsRecordedAndRethrown(t *testing.T) {
	m := newTestMetrics(t)
	inst := &Instrumentation{Metrics: m, Tracer: NewNoopTracing("test")}

	assert.Panics(t, func() {
		_ = inst.Observe(context.Background(), "http", "boom", func(ctx context.Context) error {
			panic("boom")
		})
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dispatchTotal.WithLabelValues("http", "boom", "error")))
}

func TestTracingProvider_Defaults(t *testing.T) {
	tp, err := NewTracingProvider(TracingConfig{})
	require.NoError(t, err)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	assert.Equal(t, "langhost", tp.config.ServiceName)
	assert.Equal(t, 1.0, tp.config.SampleRate)

	ctx, parent := tp.StartMethodSpan(context.Background(), "stdio", "initialize")
	assert.True(t, parent.SpanContext().IsSampled())

	_, child := tp.StartCompositionSpan(ctx, 2)
	assert.Equal(t, parent.SpanContext().TraceID(), child.SpanContext().TraceID())
	child.End()
	parent.End()
}

func TestTracingProvider_UnknownExporter(t *testing.T) {
	_, err := NewTracingProvider(TracingConfig{ExporterType: "zipkin"})
	assert.Error(t, err)
}

func recordingTracer(t *testing.T, config TracingConfig) (*TracingProvider, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	config.ExporterType = ExporterTypeNoop
	config.Processors = append(config.Processors, recorder)
	tp, err := NewTracingProvider(config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, recorder
}

func TestTracingProvider_MethodSampling(t *testing.T) {
	tp, _ := recordingTracer(t, TracingConfig{
		SampleRate:   -1,
		AlwaysSample: []string{"initialize"},
	})
	_, kept := tp.StartMethodSpan(context.Background(), "stdio", "initialize")
	_, dropped := tp.StartMethodSpan(context.Background(), "stdio", "textDocument/definition")
	assert.True(t, kept.SpanContext().IsSampled())
	assert.False(t, dropped.SpanContext().IsSampled())

	tp, _ = recordingTracer(t, TracingConfig{NeverSample: []string{"textDocument/didChange"}})
	_, muted := tp.StartMethodSpan(context.Background(), "stdio", "textDocument/didChange")
	_, normal := tp.StartMethodSpan(context.Background(), "stdio", "shutdown")
	assert.False(t, muted.SpanContext().IsSampled())
	assert.True(t, normal.SpanContext().IsSampled())
}

func TestTracingProvider_SpanHelpers(t *testing.T) {
	tp, recorder := recordingTracer(t, TracingConfig{})

	// without a span in the context the helpers do nothing
	tp.AddEvent(context.Background(), "orphan")
	tp.RecordError(context.Background(), errors.New("orphan"))

	ctx, span := tp.StartMethodSpan(context.Background(), "stdio", "textDocument/didOpen")
	tp.AddEvent(ctx, "langhost.document_ignored", attribute.String("langhost.uri", "file:///a.py"))
	tp.SetAttributes(ctx, attribute.Int("langhost.handlers", 2))
	tp.RecordError(ctx, errors.New("broken"))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	got := ended[0]
	assert.Equal(t, "stdio textDocument/didOpen", got.Name())
	assert.Equal(t, codes.Error, got.Status().Code)
	assert.Contains(t, got.Attributes(), attribute.Int("langhost.handlers", 2))

	var names []string
	for _, ev := range got.Events() {
		names = append(names, ev.Name)
	}
	assert.Equal(t, []string{"langhost.document_ignored", "exception"}, names)
}

func TestTracingProvider_ShutdownTwice(t *testing.T) {
	tp, err := NewTracingProvider(TracingConfig{ExporterType: ExporterTypeNoop})
	require.NoError(t, err)
	require.NoError(t, tp.Shutdown(context.Background()))
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestTracingProvider_OTLPHeadersAccepted(t *testing.T) {
	tp, err := NewTracingProvider(TracingConfig{
		ExporterType:       ExporterTypeOTLPHTTP,
		Endpoint:           "localhost:4318",
		Insecure:           true,
		Headers:            map[string]string{"x-tenant": "editors"},
		ResourceAttributes: map[string]string{"host.role": "test"},
	})
	require.NoError(t, err)
	assert.NotNil(t, tp.Propagator())
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = tp.Shutdown(ctx)
}
