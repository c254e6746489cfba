package languageserver

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ajitpratap0/langhost/pkg/capability"
	"github.com/ajitpratap0/langhost/pkg/core"
	hosterrors "github.com/ajitpratap0/langhost/pkg/errors"
	"github.com/ajitpratap0/langhost/pkg/logging"
	"github.com/ajitpratap0/langhost/pkg/protocol"
	"github.com/ajitpratap0/langhost/pkg/transport"
)

// bindCapabilities exposes the composed document capabilities on the
// transport. It runs once, after composition succeeded.
func (s *Server) bindCapabilities() {
	notifications := map[string]transport.NotificationHandler{
		protocol.MethodDidOpen:   s.didOpen,
		protocol.MethodDidChange: s.didChange,
		protocol.MethodDidClose:  s.didClose,
		protocol.MethodDidSave:   s.didSave,
	}
	for method, h := range notifications {
		s.transport.RegisterNotificationHandler(method,
			s.inst.WrapNotification(transportName, method, s.trackedNotification(h)))
	}
	s.transport.RegisterRequestHandler(protocol.MethodDefinition,
		s.inst.WrapRequest(transportName, protocol.MethodDefinition, s.trackedRequest(s.definition)))
}

func (s *Server) trackedRequest(h transport.RequestHandler) transport.RequestHandler {
	return func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		release, ok := s.host.Track(ctx)
		if !ok {
			return nil, hosterrors.ShuttingDown("request")
		}
		defer release()
		return h(ctx, raw)
	}
}

func (s *Server) trackedNotification(h transport.NotificationHandler) transport.NotificationHandler {
	return func(ctx context.Context, raw json.RawMessage) error {
		release, ok := s.host.Track(ctx)
		if !ok {
			return hosterrors.ShuttingDown("notification")
		}
		defer release()
		return h(ctx, raw)
	}
}

// languageOf prefers the language the editor announced on open.
func (s *Server) languageOf(uri string) string {
	if ws := s.workspace.Load(); ws != nil {
		if b, ok := ws.Get(uri); ok && b.LanguageID != "" {
			return b.LanguageID
		}
	}
	return core.LanguageID
}

// accepts reports whether a document falls under the selector advertised in
// the initialize result. Documents outside it never reach a capability.
func (s *Server) accepts(ctx context.Context, method, uri, language string) bool {
	if core.Selector.Matches(uri, language) {
		return true
	}
	s.host.Tracer().AddEvent(ctx, "langhost.document_ignored",
		attribute.String("langhost.uri", uri), attribute.String("langhost.language", language))
	s.logger.Debug("Document outside selector ignored",
		logging.String("method", method),
		logging.String("uri", uri),
		logging.String("language", language))
	return false
}

func (s *Server) didOpen(ctx context.Context, raw json.RawMessage) error {
	var params protocol.DidOpenTextDocumentParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return hosterrors.InvalidParams(protocol.MethodDidOpen, err)
	}
	doc := params.TextDocument
	language := doc.LanguageID
	if language == "" {
		language = core.LanguageID
	}
	if !s.accepts(ctx, protocol.MethodDidOpen, doc.URI, language) {
		return nil
	}
	req := core.NewFileOpen(doc.URI, language, doc.Version, doc.Text)
	if err := dispatchAll[core.FileOpenRequest, *core.BufferResponse](ctx, s.host.Registry(), req); err != nil {
		return err
	}
	s.publishDiagnostics(ctx, doc.URI)
	return nil
}

func (s *Server) didChange(ctx context.Context, raw json.RawMessage) error {
	var params protocol.DidChangeTextDocumentParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return hosterrors.InvalidParams(protocol.MethodDidChange, err)
	}
	uri := params.TextDocument.URI
	if !s.accepts(ctx, protocol.MethodDidChange, uri, s.languageOf(uri)) {
		return nil
	}
	req := core.NewChangeBuffer(uri, s.languageOf(uri), params.TextDocument.Version, params.ContentChanges)
	if err := dispatchAll[core.ChangeBufferRequest, *core.BufferResponse](ctx, s.host.Registry(), req); err != nil {
		return err
	}
	s.publishDiagnostics(ctx, uri)
	return nil
}

func (s *Server) didClose(ctx context.Context, raw json.RawMessage) error {
	var params protocol.DidCloseTextDocumentParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return hosterrors.InvalidParams(protocol.MethodDidClose, err)
	}
	uri := params.TextDocument.URI
	if !s.accepts(ctx, protocol.MethodDidClose, uri, s.languageOf(uri)) {
		return nil
	}
	req := core.NewFileClose(uri, s.languageOf(uri))
	if err := dispatchAll[core.FileCloseRequest, *core.BufferResponse](ctx, s.host.Registry(), req); err != nil {
		return err
	}
	// clear what the editor still shows for the closed document
	s.sendDiagnostics(ctx, protocol.PublishDiagnosticsParams{URI: uri, Diagnostics: []protocol.Diagnostic{}})
	return nil
}

func (s *Server) didSave(ctx context.Context, raw json.RawMessage) error {
	var params protocol.DidSaveTextDocumentParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return hosterrors.InvalidParams(protocol.MethodDidSave, err)
	}
	uri := params.TextDocument.URI
	if !s.accepts(ctx, protocol.MethodDidSave, uri, s.languageOf(uri)) {
		return nil
	}
	if params.Text != nil {
		version := 0
		if ws := s.workspace.Load(); ws != nil {
			if b, ok := ws.Get(uri); ok {
				version = b.Version
			}
		}
		req := core.NewUpdateBuffer(uri, s.languageOf(uri), version, *params.Text)
		if err := dispatchAll[core.UpdateBufferRequest, *core.BufferResponse](ctx, s.host.Registry(), req); err != nil {
			return err
		}
	}
	s.publishDiagnostics(ctx, uri)
	return nil
}

func (s *Server) definition(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params protocol.DefinitionParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, hosterrors.InvalidParams(protocol.MethodDefinition, err)
	}
	uri := params.TextDocument.URI
	if !s.accepts(ctx, protocol.MethodDefinition, uri, s.languageOf(uri)) {
		return []protocol.Location{}, nil
	}
	req := core.NewGotoDefinition(uri, s.languageOf(uri), params.Position.Line, params.Position.Character)

	registry := s.host.Registry()
	handlers := registry.QueryFor(capability.ContractOf[core.GotoDefinitionRequest, *core.GotoDefinitionResponse](), req)
	responses, err := capability.Dispatch[core.GotoDefinitionRequest, *core.GotoDefinitionResponse](ctx, handlers, req)
	if err != nil {
		return nil, err
	}

	s.host.Tracer().SetAttributes(ctx, attribute.Int("langhost.handlers", len(handlers)))
	locations := []protocol.Location{}
	for _, resp := range responses {
		locations = append(locations, resp.Definitions...)
	}
	return locations, nil
}

// dispatchAll fans a document request out to every handler selected for it.
func dispatchAll[Req, Resp any](ctx context.Context, registry *capability.Registry, req Req) error {
	handlers := registry.QueryFor(capability.ContractOf[Req, Resp](), req)
	_, err := capability.Dispatch[Req, Resp](ctx, handlers, req)
	return err
}

func (s *Server) publishDiagnostics(ctx context.Context, uri string) {
	s.dispatchDiagnostics(ctx, s.host.Registry(), core.DiagnosticsRequest{FileName: uri})
}

// publishWorkspaceDiagnostics checks every source under the workspace root
// before the host reports ready.
func (s *Server) publishWorkspaceDiagnostics(ctx context.Context, registry *capability.Registry) {
	s.dispatchDiagnostics(ctx, registry, core.DiagnosticsRequest{IncludeWorkspace: true})
}

func (s *Server) dispatchDiagnostics(ctx context.Context, registry *capability.Registry, req core.DiagnosticsRequest) {
	if registry == nil {
		return
	}
	handlers := registry.QueryFor(capability.ContractOf[core.DiagnosticsRequest, *core.DiagnosticsResponse](), req)
	responses, err := capability.Dispatch[core.DiagnosticsRequest, *core.DiagnosticsResponse](ctx, handlers, req)
	if err != nil {
		s.logger.WithError(err).Warn("Diagnostics failed", logging.String("file", req.FileName))
	}
	// a publish replaces everything shown for a uri, so providers are merged
	var order []string
	merged := make(map[string][]protocol.Diagnostic)
	for _, resp := range responses {
		for _, file := range resp.Files {
			if !core.Selector.Matches(file.URI, s.languageOf(file.URI)) {
				continue
			}
			if _, seen := merged[file.URI]; !seen {
				order = append(order, file.URI)
				merged[file.URI] = []protocol.Diagnostic{}
			}
			merged[file.URI] = append(merged[file.URI], file.Diagnostics...)
		}
	}
	for _, uri := range order {
		s.sendDiagnostics(ctx, protocol.PublishDiagnosticsParams{URI: uri, Diagnostics: merged[uri]})
	}
}

func (s *Server) sendDiagnostics(ctx context.Context, params protocol.PublishDiagnosticsParams) {
	if err := s.transport.SendNotification(ctx, protocol.MethodPublishDiagnostics, params); err != nil {
		s.logger.WithError(err).Debug("Diagnostics not delivered", logging.String("uri", params.URI))
	}
}
