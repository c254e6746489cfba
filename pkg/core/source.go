package core

import (
	"context"

	"github.com/ajitpratap0/langhost/pkg/capability"
	"github.com/ajitpratap0/langhost/pkg/logging"
	"github.com/ajitpratap0/langhost/pkg/protocol"
)

// SourceName is the name of the core capability source.
const SourceName = "core"

// LanguageID is the language the core assembly serves.
const LanguageID = "csharp"

// Selector scopes document capabilities to C# sources.
var Selector = capability.Selector{Pattern: "**/*.cs", Language: LanguageID}

// Source returns the core registrations bound to ws. It always composes
// before any plugin.
func Source(ws *Workspace) capability.Source {
	scoped := capability.WithSelector(Selector)
	return capability.Source{
		Name: SourceName,
		Registrations: []capability.Registration{
			capability.RegisterFunc(EndpointUpdateBuffer, func(ctx context.Context, req UpdateBufferRequest) (*BufferResponse, error) {
				b := ws.Update(req.FileName, req.Language, req.Version, req.Buffer)
				return &BufferResponse{FileName: b.URI, Version: b.Version, Open: true}, nil
			}, scoped),
			capability.RegisterFunc(EndpointChangeBuffer, func(ctx context.Context, req ChangeBufferRequest) (*BufferResponse, error) {
				b, err := ws.Apply(req.FileName, req.Version, req.Changes)
				if err != nil {
					return nil, err
				}
				return &BufferResponse{FileName: b.URI, Version: b.Version, Open: true}, nil
			}, scoped),
			capability.RegisterFunc(EndpointOpen, func(ctx context.Context, req FileOpenRequest) (*BufferResponse, error) {
				b := ws.Open(req.FileName, req.Language, req.Version, req.Buffer)
				return &BufferResponse{FileName: b.URI, Version: b.Version, Open: true}, nil
			}, scoped),
			capability.RegisterFunc(EndpointClose, func(ctx context.Context, req FileCloseRequest) (*BufferResponse, error) {
				ws.Close(req.FileName)
				return &BufferResponse{FileName: req.FileName}, nil
			}, scoped),
			capability.RegisterFunc(EndpointGotoDefinition, func(ctx context.Context, req GotoDefinitionRequest) (*GotoDefinitionResponse, error) {
				return gotoDefinition(ws, req), nil
			}, scoped),
			capability.Register[DiagnosticsRequest, *DiagnosticsResponse](EndpointDiagnostics, diagnosticsFactory(ws)),
		},
	}
}

func gotoDefinition(ws *Workspace, req GotoDefinitionRequest) *GotoDefinitionResponse {
	resp := &GotoDefinitionResponse{Definitions: []protocol.Location{}}
	b, ok := ws.Get(req.FileName)
	if !ok {
		return resp
	}
	resp.Symbol = symbolAt(b.Text, protocol.Position{Line: req.Line, Character: req.Column})
	if resp.Symbol == "" {
		return resp
	}

	// The requesting buffer is searched first.
	buffers := []Buffer{b}
	for _, other := range ws.Buffers() {
		if other.URI != b.URI {
			buffers = append(buffers, other)
		}
	}
	if defs := findDeclarations(buffers, resp.Symbol); defs != nil {
		resp.Definitions = defs
	}
	return resp
}

func diagnosticsFactory(ws *Workspace) func(*capability.Container) (capability.HandlerFunc[DiagnosticsRequest, *DiagnosticsResponse], error) {
	return func(c *capability.Container) (capability.HandlerFunc[DiagnosticsRequest, *DiagnosticsResponse], error) {
		logger, err := capability.Resolve[logging.Logger](c)
		if err != nil {
			logger = logging.Nop()
		}
		logger = logger.WithFields(logging.String("component", "diagnostics"))

		return func(ctx context.Context, req DiagnosticsRequest) (*DiagnosticsResponse, error) {
			var buffers []Buffer
			switch {
			case req.FileName != "":
				if b, ok := ws.Get(req.FileName); ok {
					buffers = append(buffers, b)
				}
			default:
				buffers = ws.Buffers()
				if req.IncludeWorkspace {
					onDisk, err := ws.Scan(ctx, Selector.Pattern)
					if err != nil {
						logger.WithError(err).Warn("workspace scan incomplete")
					}
					buffers = append(buffers, onDisk...)
				}
			}

			resp := &DiagnosticsResponse{Files: make([]protocol.PublishDiagnosticsParams, 0, len(buffers))}
			for _, b := range buffers {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				resp.Files = append(resp.Files, protocol.PublishDiagnosticsParams{
					URI:         b.URI,
					Diagnostics: checkDelimiters(b.Text),
				})
			}
			logger.Debug("diagnostics computed", logging.Int("files", len(resp.Files)))
			return resp, nil
		}, nil
	}
}
