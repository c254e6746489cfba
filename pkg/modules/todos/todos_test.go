package todos

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/langhost/pkg/capability"
	"github.com/ajitpratap0/langhost/pkg/core"
	"github.com/ajitpratap0/langhost/pkg/protocol"
)

func TestScan(t *testing.T) {
	diags := scan("class A {\n    // TODO: rename\n    int x; // FIXME overflow\n}\n")
	require.Len(t, diags, 2)
	assert.Equal(t, "TODO: rename", diags[0].Message)
	assert.Equal(t, 1, diags[0].Range.Start.Line)
	assert.Equal(t, 4, diags[0].Range.Start.Character)
	assert.Equal(t, "FIXME: overflow", diags[1].Message)
	assert.Equal(t, protocol.SeverityInformation, diags[1].Severity)
}

func TestModuleComposes(t *testing.T) {
	ws := core.NewWorkspace(t.TempDir())
	ws.Open("file:///w/a.cs", core.LanguageID, 1, "// TODO: one\n")
	ws.Open("file:///w/b.cs", core.LanguageID, 1, "class B {}\n")

	c := capability.NewContainer()
	capability.Provide(c, ws)
	reg, err := capability.NewComposer().Build(context.Background(), c,
		capability.Source{Name: Module().Name(), Registrations: Module().Capabilities()})
	require.NoError(t, err)

	handlers := capability.Handlers[core.DiagnosticsRequest, *core.DiagnosticsResponse](reg)
	resp, ok, err := capability.First[core.DiagnosticsRequest, *core.DiagnosticsResponse](context.Background(), handlers, core.DiagnosticsRequest{})
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, resp.Files, 1)
	assert.Equal(t, "file:///w/a.cs", resp.Files[0].URI)
}

func TestModuleNeedsWorkspace(t *testing.T) {
	_, err := capability.NewComposer().Build(context.Background(), capability.NewContainer(),
		capability.Source{Name: Module().Name(), Registrations: Module().Capabilities()})
	assert.Error(t, err)
}
