// Package languageserver binds a language host to an editor speaking the
// Language Server Protocol over a stream transport.
package languageserver

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ajitpratap0/langhost/pkg/capability"
	"github.com/ajitpratap0/langhost/pkg/core"
	"github.com/ajitpratap0/langhost/pkg/environment"
	"github.com/ajitpratap0/langhost/pkg/host"
	"github.com/ajitpratap0/langhost/pkg/lifecycle"
	"github.com/ajitpratap0/langhost/pkg/logging"
	"github.com/ajitpratap0/langhost/pkg/observability"
	"github.com/ajitpratap0/langhost/pkg/plugin"
	"github.com/ajitpratap0/langhost/pkg/protocol"
	"github.com/ajitpratap0/langhost/pkg/transport"
)

const transportName = "stdio"

// CoreSources builds the sources composed ahead of every plugin.
type CoreSources func(ws *core.Workspace) []capability.Source

// gatedTransport is implemented by transports that support admission checks.
type gatedTransport interface {
	SetGate(gate transport.Gate)
}

// Server is the structured-protocol adapter.
type Server struct {
	transport  transport.Transport
	host       *host.Host
	logger     logging.Logger
	inst       *observability.Instrumentation
	supervisor *lifecycle.Supervisor

	launchArgs []string
	hostPID    *int
	logLevel   *environment.LogLevel
	resolver   plugin.Resolver
	loader     plugin.Loader
	coreFn     CoreSources

	workspace atomic.Pointer[core.Workspace]
	forwarder *logForwarder

	ready     chan struct{}
	readyOnce sync.Once
	exited    chan struct{}
	exitOnce  sync.Once

	shutdownRequested atomic.Bool
}

// ServerOption defines options for creating a server
type ServerOption func(*Server)

// WithLaunchArgs sets the command line arguments recorded in the
// environment descriptor.
func WithLaunchArgs(args []string) ServerOption {
	return func(s *Server) { s.launchArgs = append([]string(nil), args...) }
}

// WithHostPID sets the parent process used when the client sends no
// processId.
func WithHostPID(pid int) ServerOption {
	return func(s *Server) { s.hostPID = &pid }
}

// WithLogLevel overrides the level derived from the client's trace setting.
func WithLogLevel(level environment.LogLevel) ServerOption {
	return func(s *Server) { s.logLevel = &level }
}

// WithPlugins sets where plugin modules come from.
func WithPlugins(resolver plugin.Resolver, loader plugin.Loader) ServerOption {
	return func(s *Server) {
		s.resolver = resolver
		s.loader = loader
	}
}

// WithCoreSources replaces the default core assembly.
func WithCoreSources(fn CoreSources) ServerOption {
	return func(s *Server) { s.coreFn = fn }
}

// WithSupervisor sets the supervisor started once the host process id is
// known from the initialize request.
func WithSupervisor(sup *lifecycle.Supervisor) ServerOption {
	return func(s *Server) { s.supervisor = sup }
}

// New creates a server bound to t and h. Only initialize, shutdown and exit
// are served until the handshake completed.
func New(t transport.Transport, h *host.Host, options ...ServerOption) *Server {
	s := &Server{
		transport: t,
		host:      h,
		logger:    h.Logger().WithFields(logging.String("component", "languageserver")),
		inst:      h.Instrumentation(),
		coreFn: func(ws *core.Workspace) []capability.Source {
			return []capability.Source{core.Source(ws)}
		},
		ready:  make(chan struct{}),
		exited: make(chan struct{}),
	}
	for _, option := range options {
		option(s)
	}
	s.forwarder = newLogForwarder(t)

	if g, ok := t.(gatedTransport); ok {
		g.SetGate(s.gate)
	}

	t.RegisterRequestHandler(protocol.MethodInitialize, s.inst.WrapRequest(transportName, protocol.MethodInitialize, s.handleInitialize))
	t.RegisterNotificationHandler(protocol.MethodInitialized, s.handleInitialized)
	t.RegisterRequestHandler(protocol.MethodShutdown, s.inst.WrapRequest(transportName, protocol.MethodShutdown, s.handleShutdown))
	t.RegisterNotificationHandler(protocol.MethodExit, s.handleExit)
	return s
}

// Ready is closed once composition and the proactive diagnostics pass
// completed.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Workspace returns the buffer store, or nil before initialize.
func (s *Server) Workspace() *core.Workspace { return s.workspace.Load() }

// Run serves the transport until the client exits, the stream ends or the
// shutdown token fires, then shuts the host down. A shutdown request keeps
// the transport open until exit.
func (s *Server) Run(ctx context.Context) error {
	token := s.host.Token()
	transportErr := make(chan error, 1)
	go func() { transportErr <- s.transport.Start(ctx) }()

	var err error
	select {
	case err = <-transportErr:
		s.host.Token().Fire(host.ReasonTransportClosed)
	case <-s.exited:
	case <-token.Done():
		if s.shutdownRequested.Load() && token.Reason() == host.ReasonShutdownRequest {
			select {
			case err = <-transportErr:
			case <-s.exited:
			case <-ctx.Done():
			}
		}
	case <-ctx.Done():
		token.Fire(ctx.Err().Error())
	}

	shutdownErr := s.host.Shutdown(context.Background(), token.Reason())
	s.forwarder.close()
	stopCtx, cancel := context.WithTimeout(context.Background(), s.host.GracePeriod())
	defer cancel()
	stopErr := s.transport.Stop(stopCtx)

	if s.supervisor != nil {
		s.supervisor.Stop()
	}
	return errors.Join(err, shutdownErr, stopErr)
}

// ExitCode follows the protocol: 0 when exit was preceded by shutdown.
func (s *Server) ExitCode() int {
	if s.shutdownRequested.Load() {
		return 0
	}
	return 1
}

func (s *Server) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}
