package observability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	hosterrors "github.com/ajitpratap0/langhost/pkg/errors"
	"github.com/ajitpratap0/langhost/pkg/transport"
)

// Instrumentation wraps protocol handlers with spans and metrics. Either
// field may be nil.
type Instrumentation struct {
	Metrics MetricsProvider
	Tracer  *TracingProvider
}

// Observe runs fn inside a server span and records its outcome.
func (i *Instrumentation) Observe(ctx context.Context, transportName, method string, fn func(ctx context.Context) error) (err error) {
	if i == nil {
		return fn(ctx)
	}

	if i.Tracer != nil {
		var span trace.Span
		ctx, span = i.Tracer.StartMethodSpan(ctx, transportName, method)
		defer func() {
			if err != nil {
				i.Tracer.RecordError(ctx, err)
				i.Tracer.SetAttributes(ctx, attribute.Int(errorCodeAttribute, hosterrors.CodeOf(err)))
			} else {
				span.SetStatus(codes.Ok, "")
			}
			span.End()
		}()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			i.record(ctx, transportName, method, err, time.Since(start))
			panic(r)
		}
		i.record(ctx, transportName, method, err, time.Since(start))
	}()

	return fn(ctx)
}

func (i *Instrumentation) record(ctx context.Context, transportName, method string, err error, d time.Duration) {
	if i.Metrics != nil {
		i.Metrics.RecordDispatch(ctx, transportName, method, Status(err), d)
	}
}

// WrapRequest instruments a transport request handler.
func (i *Instrumentation) WrapRequest(transportName, method string, h transport.RequestHandler) transport.RequestHandler {
	if i == nil {
		return h
	}
	return func(ctx context.Context, params json.RawMessage) (result interface{}, err error) {
		err = i.Observe(ctx, transportName, method, func(ctx context.Context) error {
			var herr error
			result, herr = h(ctx, params)
			return herr
		})
		return result, err
	}
}

// WrapNotification instruments a transport notification handler.
func (i *Instrumentation) WrapNotification(transportName, method string, h transport.NotificationHandler) transport.NotificationHandler {
	if i == nil {
		return h
	}
	return func(ctx context.Context, params json.RawMessage) error {
		start := time.Now()
		err := h(ctx, params)
		if i.Metrics != nil {
			i.Metrics.RecordNotification(ctx, transportName, method, Status(err), time.Since(start))
		}
		return err
	}
}

// Status maps an error onto a low cardinality metric label.
func Status(err error) string {
	if err == nil {
		return "ok"
	}
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if hostErr, ok := hosterrors.AsHostError(err); ok {
		return string(hostErr.Category())
	}
	return "error"
}
