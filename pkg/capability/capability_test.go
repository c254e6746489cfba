package capability

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hosterrors "github.com/ajitpratap0/langhost/pkg/errors"
)

type defRequest struct {
	URI      string
	Language string
}

func (r defRequest) DocumentURI() string { return r.URI }
func (r defRequest) LanguageID() string  { return r.Language }

type defResponse struct {
	From string
}

type pingRequest struct{}
type pingResponse struct{ Pong bool }

var csharp = Selector{Pattern: "**/*.cs", Language: "csharp"}

func answer(from string) func(context.Context, defRequest) (*defResponse, error) {
	return func(context.Context, defRequest) (*defResponse, error) {
		return &defResponse{From: from}, nil
	}
}

func TestContractOf(t *testing.T) {
	a := ContractOf[defRequest, *defResponse]()
	b := ContractOf[defRequest, *defResponse]()
	c := ContractOf[defRequest, defResponse]()

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, "capability.defRequest->*capability.defResponse", a.String())
	assert.False(t, a.IsZero())
	assert.True(t, Contract{}.IsZero())
}

func TestSelectorMatches(t *testing.T) {
	tests := []struct {
		name     string
		sel      Selector
		uri      string
		language string
		want     bool
	}{
		{"uri match", csharp, "file:///repo/src/Program.cs", "csharp", true},
		{"plain path", csharp, "/repo/Program.cs", "csharp", true},
		{"relative path", csharp, "Program.cs", "", true},
		{"wrong extension", csharp, "file:///repo/readme.md", "csharp", false},
		{"wrong language", csharp, "file:///repo/a.cs", "fsharp", false},
		{"unknown language", csharp, "file:///repo/a.cs", "", true},
		{"language only", Selector{Language: "csharp"}, "file:///x/y.txt", "csharp", true},
		{"pattern only", Selector{Pattern: "**/*.csx"}, "file:///x/y.csx", "anything", true},
		{"absolute pattern", Selector{Pattern: "/repo/**/*.cs"}, "file:///repo/a/b.cs", "", true},
		{"absolute pattern miss", Selector{Pattern: "/repo/**/*.cs"}, "file:///other/b.cs", "", false},
		{"empty uri", csharp, "", "csharp", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sel.Matches(tt.uri, tt.language))
		})
	}
}

func TestBuildOrderAndQuery(t *testing.T) {
	core := Source{Name: "core", Registrations: []Registration{
		RegisterFunc("gotodefinition", answer("core-scoped"), WithSelector(csharp)),
		RegisterFunc("gotodefinition", answer("core-any")),
	}}
	plugin := Source{Name: "plugin.cake", Registrations: []Registration{
		RegisterFunc("gotodefinition", answer("cake"), WithSelector(Selector{Pattern: "**/*.cake", Language: "cake"})),
		RegisterFunc("ping", func(context.Context, pingRequest) (pingResponse, error) {
			return pingResponse{Pong: true}, nil
		}),
	}}

	var seen []string
	composer := NewComposer()
	composer.OnHandler = func(source string, reg Registration) { seen = append(seen, source+"/"+reg.Endpoint) }

	reg, err := composer.Build(context.Background(), NewContainer(), core, plugin)
	require.NoError(t, err)
	require.NotNil(t, reg)

	assert.Equal(t, 4, reg.Len())
	assert.Equal(t, []string{"gotodefinition", "ping"}, reg.Endpoints())
	assert.Equal(t, []string{"core/gotodefinition", "core/gotodefinition", "plugin.cake/gotodefinition", "plugin.cake/ping"}, seen)

	contract := ContractOf[defRequest, *defResponse]()
	got, ok := reg.ContractForEndpoint("gotodefinition")
	require.True(t, ok)
	assert.Equal(t, contract, got)
	_, ok = reg.ContractForEndpoint("nope")
	assert.False(t, ok)

	all, err := Dispatch[defRequest, *defResponse](context.Background(), reg.Query(contract), defRequest{})
	require.NoError(t, err)
	assert.Equal(t, []string{"core-scoped", "core-any", "cake"}, froms(all))

	cs := defRequest{URI: "file:///repo/a.cs", Language: "csharp"}
	scoped, err := Dispatch[defRequest, *defResponse](context.Background(), reg.QueryFor(contract, cs), cs)
	require.NoError(t, err)
	assert.Equal(t, []string{"core-scoped", "core-any"}, froms(scoped))

	other := defRequest{URI: "file:///repo/readme.md", Language: "markdown"}
	unscoped, err := Dispatch[defRequest, *defResponse](context.Background(), reg.QueryFor(contract, other), other)
	require.NoError(t, err)
	assert.Equal(t, []string{"core-any"}, froms(unscoped))

	assert.Empty(t, reg.Query(ContractOf[pingRequest, defResponse]()))
	assert.Len(t, Handlers[pingRequest, pingResponse](reg), 1)
}

func froms(rs []*defResponse) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.From)
	}
	return out
}

func TestQueryBySelectorIsStable(t *testing.T) {
	reg, err := NewComposer().Build(context.Background(), nil, Source{Name: "core", Registrations: []Registration{
		RegisterFunc("def", answer("a"), WithSelector(csharp)),
		RegisterFunc("def", answer("b")),
	}})
	require.NoError(t, err)

	contract := ContractOf[defRequest, *defResponse]()
	first := reg.QueryBySelector(contract, "file:///r/x.cs", "csharp")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, reg.QueryBySelector(contract, "file:///r/x.cs", "csharp"))
	}
}

// A query that names no language is matched on the path alone; one that
// names a different language never reaches a language-scoped handler.
func TestQueryBySelectorLanguageRule(t *testing.T) {
	reg, err := NewComposer().Build(context.Background(), nil, Source{Name: "core", Registrations: []Registration{
		RegisterFunc("def", answer("scoped"), WithSelector(csharp)),
		RegisterFunc("def", answer("pathOnly"), WithSelector(Selector{Pattern: "**/*.cs"})),
		RegisterFunc("def", answer("unscoped")),
	}})
	require.NoError(t, err)

	from := func(uri, language string) []string {
		var out []string
		for _, h := range reg.QueryBySelector(ContractOf[defRequest, *defResponse](), uri, language) {
			resp, err := h.Handle(context.Background(), defRequest{URI: uri, Language: language})
			require.NoError(t, err)
			out = append(out, resp.(*defResponse).From)
		}
		return out
	}

	assert.Equal(t, []string{"scoped", "pathOnly", "unscoped"}, from("file:///r/x.cs", "csharp"))
	assert.Equal(t, []string{"scoped", "pathOnly", "unscoped"}, from("file:///r/x.cs", ""))
	assert.Equal(t, []string{"pathOnly", "unscoped"}, from("file:///r/x.cs", "python"))
	assert.Equal(t, []string{"unscoped"}, from("file:///r/x.py", ""))
}

func TestQueryResultCannotMutateRegistry(t *testing.T) {
	reg, err := NewComposer().Build(context.Background(), nil, Source{Name: "core", Registrations: []Registration{
		RegisterFunc("def", answer("a")),
	}})
	require.NoError(t, err)

	contract := ContractOf[defRequest, *defResponse]()
	hs := reg.Query(contract)
	hs[0] = nil
	assert.NotNil(t, reg.Query(contract)[0])

	eps := reg.Endpoints()
	eps[0] = "changed"
	assert.Equal(t, []string{"def"}, reg.Endpoints())
}

func TestSecondBuildPanics(t *testing.T) {
	c := NewComposer()
	_, err := c.Build(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, c.Built())

	assert.PanicsWithValue(t, ErrAlreadyBuilt, func() {
		_, _ = c.Build(context.Background(), nil)
	})
}

func TestConcurrentBuildOnlyOneWins(t *testing.T) {
	c := NewComposer()
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		panics int
		builds int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if recover() != nil {
					mu.Lock()
					panics++
					mu.Unlock()
				}
			}()
			if _, err := c.Build(context.Background(), nil); err == nil {
				mu.Lock()
				builds++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, builds)
	assert.Equal(t, 7, panics)
}

func TestBuildFailureIsAtomic(t *testing.T) {
	calls := 0
	counting := Register[defRequest, *defResponse]("def", func(*Container) (HandlerFunc[defRequest, *defResponse], error) {
		calls++
		return answer("x"), nil
	})

	tests := []struct {
		name    string
		bad     Registration
		wantMsg string
	}{
		{
			name: "factory error",
			bad: Register[pingRequest, pingResponse]("ping", func(*Container) (HandlerFunc[pingRequest, pingResponse], error) {
				return nil, errors.New("no database")
			}),
			wantMsg: "no database",
		},
		{
			name: "factory panic",
			bad: Register[pingRequest, pingResponse]("ping", func(*Container) (HandlerFunc[pingRequest, pingResponse], error) {
				panic("boom")
			}),
			wantMsg: "boom",
		},
		{
			name:    "nil factory",
			bad:     Registration{Contract: ContractOf[pingRequest, pingResponse](), Endpoint: "ping"},
			wantMsg: "no factory",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, err := NewComposer().Build(context.Background(), nil,
				Source{Name: "core", Registrations: []Registration{counting}},
				Source{Name: "plugin.broken", Registrations: []Registration{tt.bad}},
			)
			require.Error(t, err)
			assert.Nil(t, reg)
			assert.True(t, hosterrors.IsCategory(err, hosterrors.CategoryComposition))
			assert.Contains(t, err.Error(), "plugin.broken")
			assert.Contains(t, err.Error(), tt.wantMsg)

			hostErr, ok := hosterrors.AsHostError(err)
			require.True(t, ok)
			assert.True(t, hostErr.Fatal())
		})
	}
	assert.Equal(t, len(tests), calls)
}

func TestBuildHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reg, err := NewComposer().Build(ctx, nil, Source{Name: "core", Registrations: []Registration{
		RegisterFunc("def", answer("a")),
	}})
	assert.Nil(t, reg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestContainerInjection(t *testing.T) {
	type greeter interface{ Greet() string }
	c := NewContainer()
	Provide[string](c, "workspace")

	_, err := Resolve[greeter](c)
	assert.Error(t, err)

	reg, err := NewComposer().Build(context.Background(), c, Source{Name: "core", Registrations: []Registration{
		Register[defRequest, *defResponse]("def", func(c *Container) (HandlerFunc[defRequest, *defResponse], error) {
			root, err := Resolve[string](c)
			if err != nil {
				return nil, err
			}
			return answer(root), nil
		}),
	}})
	require.NoError(t, err)

	resp, ok, err := First[defRequest, *defResponse](context.Background(), Handlers[defRequest, *defResponse](reg), defRequest{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "workspace", resp.From)
	assert.Equal(t, "workspace", MustResolve[string](c))
}

func TestDispatchErrorsAreHandlerScoped(t *testing.T) {
	boom := HandlerFunc[defRequest, *defResponse](func(context.Context, defRequest) (*defResponse, error) {
		return nil, errors.New("analysis crashed")
	})
	none := HandlerFunc[defRequest, *defResponse](func(context.Context, defRequest) (*defResponse, error) {
		return nil, nil
	})
	ok := HandlerFunc[defRequest, *defResponse](answer("ok"))

	out, err := Dispatch[defRequest, *defResponse](context.Background(), []Handler{none, ok}, defRequest{})
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, froms(out))

	out, err = Dispatch[defRequest, *defResponse](context.Background(), []Handler{ok, boom, ok}, defRequest{})
	require.Error(t, err)
	assert.Len(t, out, 1)
	assert.True(t, hosterrors.IsCategory(err, hosterrors.CategoryHandler))
	assert.Contains(t, err.Error(), "analysis crashed")
}

func TestHandlerFuncRejectsWrongType(t *testing.T) {
	h := HandlerFunc[defRequest, *defResponse](answer("x"))
	_, err := h.Handle(context.Background(), pingRequest{})
	assert.Error(t, err)
}
