package languageserver

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/langhost/pkg/capability"
	"github.com/ajitpratap0/langhost/pkg/core"
	"github.com/ajitpratap0/langhost/pkg/environment"
	hosterrors "github.com/ajitpratap0/langhost/pkg/errors"
	"github.com/ajitpratap0/langhost/pkg/host"
	"github.com/ajitpratap0/langhost/pkg/lifecycle"
	"github.com/ajitpratap0/langhost/pkg/logging"
	"github.com/ajitpratap0/langhost/pkg/protocol"
)

type goneWatcher struct{}

func (goneWatcher) Attach(int) (lifecycle.Subscription, error) {
	return nil, lifecycle.ErrProcessNotFound
}

type transitionLog struct {
	mu    sync.Mutex
	edges []string
}

func (l *transitionLog) record(from, to lifecycle.State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.edges = append(l.edges, from.String()+"->"+to.String())
}

func (l *transitionLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.edges...)
}

type slowRequest struct{}
type slowResponse struct{}

// slowSource delays composition by the given duration.
func slowSource(d time.Duration) capability.Source {
	return capability.Source{
		Name: "slow",
		Registrations: []capability.Registration{
			capability.Register[slowRequest, *slowResponse]("slow",
				func(*capability.Container) (capability.HandlerFunc[slowRequest, *slowResponse], error) {
					time.Sleep(d)
					return func(context.Context, slowRequest) (*slowResponse, error) { return nil, nil }, nil
				}),
		},
	}
}

func TestMissingParentShutsDownReadyHost(t *testing.T) {
	token := lifecycle.NewShutdownToken()
	sup := lifecycle.NewSupervisor(token, logging.Nop())
	sup.Watcher = goneWatcher{}

	f := newFixtureWithHost(t, []host.Option{host.WithToken(token)},
		WithSupervisor(sup),
		WithCoreSources(func(ws *core.Workspace) []capability.Source {
			return []capability.Source{core.Source(ws), slowSource(100 * time.Millisecond)}
		}))
	var log transitionLog
	f.host.Machine().OnTransition(log.record)

	resp := f.editor.request(protocol.MethodInitialize, map[string]interface{}{
		"processId": 999999,
		"rootUri":   environment.PathToURI(f.root),
	})
	require.Nil(t, resp["error"], "a missing parent is not an initialize failure: %v", resp["error"])
	require.NotNil(t, resp["result"])

	f.waitRun(t)
	assert.Equal(t, []string{
		"Uninitialized->ParamsReceived",
		"ParamsReceived->Composing",
		"Composing->Ready",
		"Ready->ShuttingDown",
		"ShuttingDown->Stopped",
	}, log.get())
	assert.Contains(t, token.Reason(), "999999")
}

// gatedDiagnostics blocks the workspace-wide diagnostics pass until released.
type gatedDiagnostics struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gatedDiagnostics) source() capability.Source {
	return capability.Source{
		Name: "gated",
		Registrations: []capability.Registration{
			capability.RegisterFunc(core.EndpointDiagnostics,
				func(ctx context.Context, req core.DiagnosticsRequest) (*core.DiagnosticsResponse, error) {
					if req.IncludeWorkspace {
						close(g.entered)
						<-g.release
					}
					return nil, nil
				}),
		},
	}
}

func TestNothingServedBeforeProactiveDiagnosticsFinish(t *testing.T) {
	gate := &gatedDiagnostics{entered: make(chan struct{}), release: make(chan struct{})}
	f := newFixture(t, WithCoreSources(func(ws *core.Workspace) []capability.Source {
		return []capability.Source{core.Source(ws), gate.source()}
	}))

	f.editor.nextID++
	initID := f.editor.nextID
	f.editor.write(map[string]interface{}{"jsonrpc": "2.0", "id": initID, "method": protocol.MethodInitialize,
		"params": map[string]interface{}{"processId": nil, "rootUri": environment.PathToURI(f.root)}})

	select {
	case <-gate.entered:
	case <-time.After(3 * time.Second):
		t.Fatal("proactive diagnostics did not start")
	}
	assert.Equal(t, lifecycle.Composing, f.host.State())
	select {
	case <-f.server.Ready():
		t.Fatal("Ready closed while diagnostics still run")
	default:
	}

	resp := f.editor.request(protocol.MethodDefinition, map[string]interface{}{
		"textDocument": map[string]string{"uri": "file:///w/a.cs"},
		"position":     map[string]int{"line": 0, "character": 0},
	})
	assert.Equal(t, int(hosterrors.CodeServerNotInitialized), resp.errorCode())

	close(gate.release)
	init := f.editor.response(initID)
	require.Nil(t, init["error"])
	assert.Equal(t, lifecycle.Ready, f.host.State())
}

// countingSource answers every document contract without a selector.
type countingSource struct {
	calls atomic.Int32
}

func (c *countingSource) source() capability.Source {
	count := func() { c.calls.Add(1) }
	return capability.Source{
		Name: "counting",
		Registrations: []capability.Registration{
			capability.RegisterFunc(core.EndpointOpen, func(_ context.Context, req core.FileOpenRequest) (*core.BufferResponse, error) {
				count()
				return nil, nil
			}),
			capability.RegisterFunc(core.EndpointGotoDefinition, func(_ context.Context, req core.GotoDefinitionRequest) (*core.GotoDefinitionResponse, error) {
				count()
				return nil, nil
			}),
			capability.RegisterFunc(core.EndpointDiagnostics, func(_ context.Context, req core.DiagnosticsRequest) (*core.DiagnosticsResponse, error) {
				if req.FileName != "" {
					count()
				}
				return nil, nil
			}),
		},
	}
}

func TestDocumentsOutsideSelectorReachNoCapability(t *testing.T) {
	counting := &countingSource{}
	f := newFixture(t, WithCoreSources(func(ws *core.Workspace) []capability.Source {
		return []capability.Source{core.Source(ws), counting.source()}
	}))
	f.initialize(t)
	counting.calls.Store(0)

	f.editor.notify(protocol.MethodDidOpen, map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": "file:///w/tool.py", "languageId": "python", "version": 1, "text": "# TODO\n"},
	})
	f.editor.notify(protocol.MethodDidOpen, map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": "file:///w/Mismatch.cs", "languageId": "fsharp", "version": 1, "text": "x\n"},
	})
	resp := f.editor.request(protocol.MethodDefinition, map[string]interface{}{
		"textDocument": map[string]string{"uri": "file:///w/tool.py"},
		"position":     map[string]int{"line": 0, "character": 0},
	})
	require.Nil(t, resp["error"])
	assert.Empty(t, resp["result"])

	published := func(m message) string {
		if m["method"] != protocol.MethodPublishDiagnostics {
			return ""
		}
		return m["params"].(map[string]interface{})["uri"].(string)
	}
	f.editor.mu.Lock()
	for _, m := range f.editor.pending {
		assert.Empty(t, published(m), "diagnostics published for an ignored document")
	}
	f.editor.mu.Unlock()

	// notifications are handled in order, so this publish comes after the
	// ignored documents were processed
	csURI := "file:///w/Widget.cs"
	f.editor.notify(protocol.MethodDidOpen, map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": csURI, "languageId": "csharp", "version": 1, "text": "class Widget {}\n"},
	})
	for {
		uri := published(f.editor.next())
		if uri == "" {
			continue
		}
		require.Equal(t, csURI, uri, "diagnostics published for an ignored document")
		break
	}

	// open and diagnostics for Widget.cs only
	assert.Equal(t, int32(2), counting.calls.Load())
	_, ok := f.server.Workspace().Get("file:///w/tool.py")
	assert.False(t, ok)
}
