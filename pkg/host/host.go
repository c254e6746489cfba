// Package host owns everything shared by the protocol adapters: the
// environment descriptor, the composed capability registry, the handshake
// state machine and the single shutdown token.
package host

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ajitpratap0/langhost/pkg/capability"
	"github.com/ajitpratap0/langhost/pkg/environment"
	hosterrors "github.com/ajitpratap0/langhost/pkg/errors"
	"github.com/ajitpratap0/langhost/pkg/lifecycle"
	"github.com/ajitpratap0/langhost/pkg/logging"
	"github.com/ajitpratap0/langhost/pkg/observability"
	"github.com/ajitpratap0/langhost/pkg/plugin"
)

const (
	DefaultComposeTimeout = 30 * time.Second
	DefaultGracePeriod    = 5 * time.Second
	DefaultName           = "langhost"
)

// Shutdown reasons fired by the host itself.
const (
	ReasonShutdownRequest   = "shutdown requested"
	ReasonExit              = "exit"
	ReasonCompositionFailed = "composition failed"
	ReasonTransportClosed   = "transport closed"
)

// ErrWrongState is returned by Compose when the handshake is not at a point
// where composition may start.
var ErrWrongState = errors.New("host: composition not allowed in current state")

// Host is created once per process and shared by the adapters.
type Host struct {
	id             string
	name           string
	version        string
	composeTimeout time.Duration
	grace          time.Duration

	logger  logging.Logger
	metrics observability.MetricsProvider
	tracer  *observability.TracingProvider

	machine   *lifecycle.Machine
	token     *lifecycle.ShutdownToken
	container *capability.Container
	composer  *capability.Composer
	sequence  *lifecycle.Sequence

	mu         sync.RWMutex
	descriptor *environment.Descriptor
	registry   *capability.Registry

	// trackMu orders Track against the drain barrier in Shutdown.
	trackMu  sync.RWMutex
	inflight sync.WaitGroup
	active   atomic.Int64

	shutdownOnce sync.Once
	shutdownErr  error
	stopped      chan struct{}
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the host logger. Logs go to stderr by default since
// stdout may carry the protocol.
func WithLogger(logger logging.Logger) Option {
	return func(h *Host) { h.logger = logger }
}

// WithMetrics sets the metrics provider.
func WithMetrics(m observability.MetricsProvider) Option {
	return func(h *Host) { h.metrics = m }
}

// WithTracing sets the tracing provider.
func WithTracing(tp *observability.TracingProvider) Option {
	return func(h *Host) { h.tracer = tp }
}

// WithComposeTimeout bounds composition so a hung plugin surfaces as an error.
func WithComposeTimeout(d time.Duration) Option {
	return func(h *Host) {
		if d > 0 {
			h.composeTimeout = d
		}
	}
}

// WithGracePeriod bounds how long shutdown waits for in-flight work.
func WithGracePeriod(d time.Duration) Option {
	return func(h *Host) {
		if d > 0 {
			h.grace = d
		}
	}
}

// WithVersion sets the version reported to clients.
func WithVersion(v string) Option {
	return func(h *Host) { h.version = v }
}

// WithToken shares an existing shutdown token, for instance one already
// handed to a supervisor.
func WithToken(t *lifecycle.ShutdownToken) Option {
	return func(h *Host) {
		if t != nil {
			h.token = t
		}
	}
}

// New creates a host in the Uninitialized state.
func New(opts ...Option) *Host {
	h := &Host{
		id:             uuid.New().String(),
		name:           DefaultName,
		version:        "dev",
		composeTimeout: DefaultComposeTimeout,
		grace:          DefaultGracePeriod,
		machine:        lifecycle.NewMachine(),
		token:          lifecycle.NewShutdownToken(),
		container:      capability.NewContainer(),
		composer:       capability.NewComposer(),
		stopped:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = logging.Nop()
	}
	h.logger = h.logger.WithFields(logging.String("host_id", h.id))
	if h.tracer == nil {
		h.tracer = observability.NewNoopTracing(h.name)
	}
	h.sequence = lifecycle.NewSequence(h.grace)

	h.machine.OnTransition(func(from, to lifecycle.State) {
		h.logger.Debug("Handshake state changed",
			logging.String("from", from.String()), logging.String("to", to.String()))
		if h.metrics != nil {
			h.metrics.RecordState(to.String())
		}
	})
	if h.metrics != nil {
		h.metrics.RecordState(h.machine.State().String())
	}

	capability.Provide[logging.Logger](h.container, h.logger)
	capability.Provide(h.container, h.token)
	capability.Provide(h.container, h)
	return h
}

// ID returns the unique id of this host instance.
func (h *Host) ID() string { return h.id }

// Name returns the server name reported to clients.
func (h *Host) Name() string { return h.name }

// Version returns the server version reported to clients.
func (h *Host) Version() string { return h.version }

func (h *Host) Logger() logging.Logger                 { return h.logger }
func (h *Host) Metrics() observability.MetricsProvider { return h.metrics }
func (h *Host) Tracer() *observability.TracingProvider { return h.tracer }
func (h *Host) Machine() *lifecycle.Machine            { return h.machine }
func (h *Host) Token() *lifecycle.ShutdownToken        { return h.token }
func (h *Host) Container() *capability.Container       { return h.container }
func (h *Host) GracePeriod() time.Duration             { return h.grace }
func (h *Host) State() lifecycle.State                 { return h.machine.State() }
func (h *Host) Instrumentation() *observability.Instrumentation {
	return &observability.Instrumentation{Metrics: h.metrics, Tracer: h.tracer}
}

// Descriptor returns the environment, or nil before composition started.
func (h *Host) Descriptor() *environment.Descriptor {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.descriptor
}

// Registry returns nil until composition succeeded.
func (h *Host) Registry() *capability.Registry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.registry
}

// Compose resolves and loads plugin modules, then builds the registry from
// the core sources followed by the plugins in manifest order. On success
// the machine is Ready. On failure it is Stopped, the token has fired and
// the returned error is a composition error naming the offending module.
//
// Compose may be entered from Uninitialized or ParamsReceived and runs at
// most once.
func (h *Host) Compose(ctx context.Context, env *environment.Descriptor, resolver plugin.Resolver, loader plugin.Loader, core ...capability.Source) (*capability.Registry, error) {
	registry, err := h.Assemble(ctx, env, resolver, loader, core...)
	if err != nil {
		return nil, err
	}
	if err := h.Activate(); err != nil {
		return nil, err
	}
	return registry, nil
}

// Assemble is Compose without the final step: the registry is built but the
// machine stays in Composing until Activate. Adapters use the gap to bind
// protocol handlers and run work that must finish before any request is
// admitted.
func (h *Host) Assemble(ctx context.Context, env *environment.Descriptor, resolver plugin.Resolver, loader plugin.Loader, core ...capability.Source) (*capability.Registry, error) {
	if env == nil {
		return nil, errors.New("host: nil environment descriptor")
	}
	h.machine.Transition(lifecycle.Uninitialized, lifecycle.ParamsReceived)
	if !h.machine.Transition(lifecycle.ParamsReceived, lifecycle.Composing) {
		return nil, fmt.Errorf("%w: %s", ErrWrongState, h.machine.State())
	}

	h.mu.Lock()
	h.descriptor = env
	h.mu.Unlock()
	h.logger.SetLevel(env.LogLevel().LoggingLevel())
	capability.Provide(h.container, env)
	if h.metrics != nil {
		capability.Provide(h.container, h.metrics)
	}

	h.logger.Info("Composing capabilities",
		logging.String("workspace", env.WorkspaceRoot()),
		logging.String("log_level", env.LogLevel().String()))

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, h.composeTimeout)
	defer cancel()
	ctx, span := h.tracer.StartCompositionSpan(ctx, len(core))
	defer span.End()

	registry, modules, err := h.compose(ctx, resolver, loader, core)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if h.metrics != nil {
			h.metrics.RecordComposition(ctx, "error", modules, 0, time.Since(start))
		}
		h.machine.Fail()
		h.token.Fire(ReasonCompositionFailed)
		h.logger.WithError(err).Error("Composition failed")
		return nil, err
	}

	h.mu.Lock()
	h.registry = registry
	h.mu.Unlock()

	span.SetAttributes(attribute.Int("langhost.handlers", registry.Len()), attribute.Int("langhost.modules", modules))
	if h.metrics != nil {
		h.metrics.RecordComposition(ctx, "ok", modules, registry.Len(), time.Since(start))
	}
	h.logger.Info("Composition complete",
		logging.Int("modules", modules),
		logging.Int("handlers", registry.Len()),
		logging.Duration("elapsed", time.Since(start)))
	return registry, nil
}

// Activate moves an assembled host to Ready.
func (h *Host) Activate() error {
	if h.machine.Transition(lifecycle.Composing, lifecycle.Ready) {
		return nil
	}
	if state := h.machine.State(); h.Registry() == nil || state == lifecycle.Ready {
		return fmt.Errorf("%w: %s", ErrWrongState, state)
	}
	// shutdown raced composition and already stopped the machine
	return hosterrors.ShuttingDown("compose")
}

type composeResult struct {
	registry *capability.Registry
	modules  int
	err      error
}

// compose runs the build on its own goroutine so that a hung resolver,
// loader or factory is cut off by the compose timeout.
func (h *Host) compose(ctx context.Context, resolver plugin.Resolver, loader plugin.Loader, core []capability.Source) (*capability.Registry, int, error) {
	var current atomic.Value
	current.Store("plugin resolver")

	done := make(chan composeResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- composeResult{err: hosterrors.CompositionFailed(current.Load().(string), fmt.Errorf("panic: %v", r))}
			}
		}()

		var refs []plugin.ModuleRef
		if resolver != nil {
			var err error
			if refs, err = resolver.Resolve(ctx); err != nil {
				done <- composeResult{err: hosterrors.CompositionFailed("plugin resolver", err)}
				return
			}
		}
		if len(refs) > 0 && loader == nil {
			done <- composeResult{err: hosterrors.ModuleLoadFailed(refs[0].Identity, errors.New("no plugin loader configured"))}
			return
		}

		var plugins []capability.Source
		if len(refs) > 0 {
			current.Store(refs[0].Identity)
			var err error
			if plugins, err = plugin.LoadAll(ctx, loader, refs); err != nil {
				done <- composeResult{modules: len(core), err: err}
				return
			}
			for _, p := range plugins {
				h.logger.Debug("Plugin module loaded", logging.String("module", p.Name))
			}
		}

		sources := make([]capability.Source, 0, len(core)+len(plugins))
		for _, src := range append(append([]capability.Source(nil), core...), plugins...) {
			sources = append(sources, trackSource(src, &current))
		}
		registry, err := h.composer.Build(ctx, h.container, sources...)
		done <- composeResult{registry: registry, modules: len(sources), err: err}
	}()

	select {
	case r := <-done:
		return r.registry, r.modules, r.err
	case <-ctx.Done():
		return nil, 0, hosterrors.CompositionFailed(current.Load().(string), ctx.Err())
	}
}

// trackSource records which module is constructing so a timeout can name it.
func trackSource(src capability.Source, current *atomic.Value) capability.Source {
	regs := make([]capability.Registration, len(src.Registrations))
	for i, reg := range src.Registrations {
		factory := reg.Factory
		if factory != nil {
			reg.Factory = func(c *capability.Container) (capability.Handler, error) {
				current.Store(src.Name)
				return factory(c)
			}
		}
		regs[i] = reg
	}
	return capability.Source{Name: src.Name, Registrations: regs}
}

// Track registers one unit of in-flight work. It refuses new work once the
// shutdown token fired. release must be called exactly once.
func (h *Host) Track(ctx context.Context) (release func(), ok bool) {
	h.trackMu.RLock()
	defer h.trackMu.RUnlock()
	if h.token.Fired() || ctx.Err() != nil {
		return func() {}, false
	}
	h.inflight.Add(1)
	h.active.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() {
			h.active.Add(-1)
			h.inflight.Done()
		})
	}, true
}

// InFlight returns the number of tracked units of work.
func (h *Host) InFlight() int { return int(h.active.Load()) }

// OnShutdown registers a closer run once during shutdown, after in-flight
// work drained. Closers run in registration order. It returns false once
// shutdown has started.
func (h *Host) OnShutdown(name string, fn func(ctx context.Context) error) bool {
	return h.sequence.Add(name, fn)
}

// Shutdown fires the token with reason, waits up to the grace period for
// tracked work, then runs the closers. Every caller blocks until the single
// shutdown finished and gets the same result.
func (h *Host) Shutdown(ctx context.Context, reason string) error {
	if h.token.Fire(reason) {
		h.logger.Info("Shutdown requested", logging.String("reason", reason))
	}
	h.machine.Transition(lifecycle.Ready, lifecycle.ShuttingDown)
	h.machine.Transition(lifecycle.Uninitialized, lifecycle.ShuttingDown)

	h.shutdownOnce.Do(func() {
		drainCtx, cancel := context.WithTimeout(ctx, h.grace)
		drainErr := h.drain(drainCtx)
		cancel()

		closeErr := h.sequence.Run(ctx)
		h.finish()
		h.shutdownErr = errors.Join(drainErr, closeErr)
		close(h.stopped)
	})
	return h.shutdownErr
}

// Stopped is closed once Shutdown completed.
func (h *Host) Stopped() <-chan struct{} { return h.stopped }

func (h *Host) drain(ctx context.Context) error {
	// Once the write lock is taken no Track call can be between its
	// Fired check and inflight.Add.
	h.trackMu.Lock()
	h.trackMu.Unlock()

	drained := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		n := h.InFlight()
		h.logger.Warn("Abandoning in-flight work after grace period", logging.Int("in_flight", n))
		return fmt.Errorf("%d in-flight operations abandoned: %w", n, ctx.Err())
	}
}

func (h *Host) finish() {
	reason := h.token.Reason()
	if h.metrics != nil {
		h.metrics.RecordShutdown(ReasonLabel(reason))
	}
	if !h.machine.Transition(lifecycle.ShuttingDown, lifecycle.Stopped) {
		h.machine.Fail()
	}
	h.logger.Info("Host stopped", logging.String("reason", reason))
}

// ReasonLabel folds a shutdown reason into a low cardinality metric label.
func ReasonLabel(reason string) string {
	switch {
	case reason == ReasonShutdownRequest:
		return "request"
	case reason == ReasonExit:
		return "exit"
	case reason == ReasonCompositionFailed:
		return "composition_failed"
	case reason == ReasonTransportClosed:
		return "transport_closed"
	case strings.HasPrefix(reason, "signal"):
		return "signal"
	case strings.HasPrefix(reason, "host process"):
		return "parent_exited"
	default:
		return "other"
	}
}
