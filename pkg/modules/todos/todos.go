// Package todos reports TODO and FIXME markers in open C# buffers as
// informational diagnostics. It is linked into the langhost binary and also
// built as a shared object plugin by examples/todo-plugin.
package todos

import (
	"context"
	"regexp"

	"github.com/ajitpratap0/langhost/pkg/capability"
	"github.com/ajitpratap0/langhost/pkg/core"
	"github.com/ajitpratap0/langhost/pkg/plugin"
	"github.com/ajitpratap0/langhost/pkg/protocol"
)

var marker = regexp.MustCompile(`//\s*(TODO|FIXME)\b:?\s*(.*)`)

// Name is the identity the module is loaded under.
const Name = "todos"

// Module returns the module. It needs a *core.Workspace in the container.
func Module() plugin.Module {
	return plugin.StaticModule{
		ModuleName: Name,
		Registrations: []capability.Registration{
			capability.Register[core.DiagnosticsRequest, *core.DiagnosticsResponse](core.EndpointDiagnostics, newHandler),
		},
	}
}

func newHandler(c *capability.Container) (capability.HandlerFunc[core.DiagnosticsRequest, *core.DiagnosticsResponse], error) {
	ws, err := capability.Resolve[*core.Workspace](c)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, req core.DiagnosticsRequest) (*core.DiagnosticsResponse, error) {
		var buffers []core.Buffer
		if req.FileName != "" {
			if b, ok := ws.Get(req.FileName); ok {
				buffers = append(buffers, b)
			}
		} else {
			buffers = ws.Buffers()
		}

		resp := &core.DiagnosticsResponse{}
		for _, b := range buffers {
			if diags := scan(b.Text); len(diags) > 0 {
				resp.Files = append(resp.Files, protocol.PublishDiagnosticsParams{URI: b.URI, Diagnostics: diags})
			}
		}
		return resp, nil
	}, nil
}

func scan(text string) []protocol.Diagnostic {
	var out []protocol.Diagnostic
	line, start := 0, 0
	for i := 0; i <= len(text); i++ {
		if i < len(text) && text[i] != '\n' {
			continue
		}
		if m := marker.FindStringSubmatchIndex(text[start:i]); m != nil {
			out = append(out, protocol.Diagnostic{
				Range: protocol.Range{
					Start: protocol.Position{Line: line, Character: m[0]},
					End:   protocol.Position{Line: line, Character: m[1]},
				},
				Severity: protocol.SeverityInformation,
				Source:   Name,
				Message:  text[start+m[2]:start+m[3]] + ": " + text[start+m[4]:start+m[5]],
			})
		}
		line++
		start = i + 1
	}
	return out
}
