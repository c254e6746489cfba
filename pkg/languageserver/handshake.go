package languageserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ajitpratap0/langhost/pkg/capability"
	"github.com/ajitpratap0/langhost/pkg/core"
	"github.com/ajitpratap0/langhost/pkg/environment"
	hosterrors "github.com/ajitpratap0/langhost/pkg/errors"
	"github.com/ajitpratap0/langhost/pkg/host"
	"github.com/ajitpratap0/langhost/pkg/lifecycle"
	"github.com/ajitpratap0/langhost/pkg/logging"
	"github.com/ajitpratap0/langhost/pkg/protocol"
)

// Methods admitted regardless of the handshake state.
var alwaysAdmitted = map[string]bool{
	protocol.MethodInitialize: true,
	protocol.MethodExit:       true,
}

// gate rejects protocol traffic that arrives out of order. Nothing it
// rejects reaches a capability.
func (s *Server) gate(ctx context.Context, method string, isRequest bool) error {
	if alwaysAdmitted[method] {
		return nil
	}
	state := s.host.State()
	switch state {
	case lifecycle.Ready:
		return nil
	case lifecycle.ShuttingDown, lifecycle.Stopped:
		if method == protocol.MethodShutdown {
			return nil
		}
		s.reject(ctx, method, isRequest, "shutting_down")
		return hosterrors.ShuttingDown(method)
	}
	if method == protocol.MethodInitialized && state != lifecycle.Uninitialized {
		// initialized may race the tail of initialize
		return nil
	}
	s.reject(ctx, method, isRequest, "not_initialized")
	return hosterrors.NotInitialized(method, state.String())
}

func (s *Server) reject(ctx context.Context, method string, isRequest bool, reason string) {
	if metrics := s.host.Metrics(); metrics != nil && isRequest {
		metrics.RecordRejected(ctx, transportName, method, reason)
	}
	s.logger.Debug("Message rejected",
		logging.String("method", method),
		logging.Bool("request", isRequest),
		logging.String("reason", reason))
}

func (s *Server) handleInitialize(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params protocol.InitializeParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, hosterrors.InvalidParams(protocol.MethodInitialize, err)
	}

	machine := s.host.Machine()
	if !machine.Transition(lifecycle.Uninitialized, lifecycle.ParamsReceived) {
		return nil, &protocol.Error{
			Code:    protocol.InvalidRequest,
			Message: fmt.Sprintf("initialize not allowed in state %s", machine.State()),
		}
	}

	env, err := s.descriptorFrom(params)
	if err != nil {
		machine.Fail()
		s.host.Token().Fire(host.ReasonCompositionFailed)
		s.sendLog(protocol.MessageError, fmt.Sprintf("Invalid initialize parameters: %v", err))
		return nil, hosterrors.InvalidParams(protocol.MethodInitialize, err)
	}

	s.host.Logger().AddHook(s.forwarder)

	ws := core.NewWorkspace(env.WorkspaceRoot())
	s.workspace.Store(ws)
	capability.Provide(s.host.Container(), ws)

	// The machine stays in Composing, and the gate closed, until handlers
	// are bound and the proactive diagnostics pass finished.
	registry, err := s.host.Assemble(ctx, env, s.resolver, s.loader, s.coreFn(ws)...)
	if err != nil {
		s.sendLog(protocol.MessageError, fmt.Sprintf("Language host failed to start: %v", err))
		return nil, err
	}

	s.bindCapabilities()
	s.publishWorkspaceDiagnostics(ctx, registry)
	if err := s.host.Activate(); err != nil {
		return nil, err
	}
	s.markReady()

	// A parent that is already gone must find the host Ready.
	if s.supervisor != nil {
		if err := s.supervisor.Start(s.host.Token().Context(), env.HostProcessIDPtr()); err != nil {
			s.logger.WithError(err).Warn("Supervisor not started")
		}
	}

	return &protocol.InitializeResult{
		Capabilities: s.capabilities(),
		ServerInfo:   &protocol.ServerInfo{Name: s.host.Name(), Version: s.host.Version()},
	}, nil
}

func (s *Server) descriptorFrom(params protocol.InitializeParams) (*environment.Descriptor, error) {
	root := params.RootURI
	if root == "" {
		root = params.RootPath
	}

	level := environment.FromTrace(string(params.Trace))
	if s.logLevel != nil {
		level = *s.logLevel
	}

	args := append([]string(nil), s.launchArgs...)
	if len(params.InitializationOptions) > 0 && string(params.InitializationOptions) != "null" {
		var opts protocol.InitializationOptions
		if err := json.Unmarshal(params.InitializationOptions, &opts); err != nil {
			return nil, fmt.Errorf("initializationOptions: %w", err)
		}
		args = append(args, opts.Args...)
	}
	pid := params.ProcessID
	if pid == nil {
		pid = s.hostPID
	}
	return environment.New(root, pid, level, args)
}

func (s *Server) capabilities() protocol.ServerCapabilities {
	return protocol.ServerCapabilities{
		TextDocumentSync: &protocol.TextDocumentSyncOptions{
			OpenClose: true,
			Change:    protocol.SyncIncremental,
			Save:      &protocol.SaveOptions{IncludeText: true},
			DocumentSelectors: []protocol.DocumentFilter{
				{Pattern: core.Selector.Pattern, Language: core.Selector.Language},
			},
		},
		DefinitionProvider: len(s.host.Registry().Query(capability.ContractOf[core.GotoDefinitionRequest, *core.GotoDefinitionResponse]())) > 0,
	}
}

func (s *Server) handleInitialized(ctx context.Context, _ json.RawMessage) error {
	s.logger.Info("Client initialized")
	return nil
}

func (s *Server) handleShutdown(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	s.shutdownRequested.Store(true)
	if err := s.host.Shutdown(ctx, host.ReasonShutdownRequest); err != nil {
		s.logger.WithError(err).Warn("Shutdown completed with errors")
	}
	return nil, nil
}

func (s *Server) handleExit(ctx context.Context, _ json.RawMessage) error {
	s.host.Token().Fire(host.ReasonExit)
	s.exitOnce.Do(func() { close(s.exited) })
	return nil
}

// sendLog writes directly to the client, bypassing the level filter.
func (s *Server) sendLog(kind protocol.MessageType, message string) {
	err := s.transport.SendNotification(context.Background(), protocol.MethodLogMessage,
		protocol.LogMessageParams{Type: kind, Message: message})
	if err != nil {
		s.logger.WithError(err).Debug("window/logMessage not delivered")
	}
}
