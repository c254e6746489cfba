package plugin

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	stdplugin "plugin"
	"sort"
	"strings"
	"sync"

	"github.com/ajitpratap0/langhost/pkg/capability"
	hosterrors "github.com/ajitpratap0/langhost/pkg/errors"
)

// Module contributes capability registrations.
type Module interface {
	Name() string
	Capabilities() []capability.Registration
}

// Source converts a module into a composition source.
func Source(m Module) capability.Source {
	return capability.Source{Name: m.Name(), Registrations: m.Capabilities()}
}

// StaticModule is a Module backed by a fixed registration list.
type StaticModule struct {
	ModuleName    string
	Registrations []capability.Registration
}

func (m StaticModule) Name() string { return m.ModuleName }

func (m StaticModule) Capabilities() []capability.Registration {
	return append([]capability.Registration(nil), m.Registrations...)
}

// Loader turns a reference into a Module.
type Loader interface {
	Load(ctx context.Context, ref ModuleRef) (Module, error)
}

// ErrUnknownModule is returned when no loader knows an identity.
var ErrUnknownModule = errors.New("unknown plugin module")

// CatalogLoader loads modules compiled into the binary.
type CatalogLoader struct {
	mu      sync.RWMutex
	modules map[string]func() (Module, error)
}

// NewCatalogLoader returns an empty catalog.
func NewCatalogLoader() *CatalogLoader {
	return &CatalogLoader{modules: make(map[string]func() (Module, error))}
}

// Add registers a constructor under identity.
func (c *CatalogLoader) Add(identity string, ctor func() (Module, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modules[identity] = ctor
}

// AddModule registers an already built module.
func (c *CatalogLoader) AddModule(m Module) {
	c.Add(m.Name(), func() (Module, error) { return m, nil })
}

// Identities lists the catalog in sorted order.
func (c *CatalogLoader) Identities() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.modules))
	for id := range c.modules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *CatalogLoader) Load(ctx context.Context, ref ModuleRef) (Module, error) {
	if err := ctx.Err(); err != nil {
		return nil, hosterrors.ModuleLoadFailed(ref.Identity, err)
	}
	c.mu.RLock()
	ctor, ok := c.modules[ref.Identity]
	c.mu.RUnlock()
	if !ok {
		return nil, hosterrors.ModuleLoadFailed(ref.Identity, ErrUnknownModule)
	}

	m, err := ctor()
	if err != nil {
		return nil, hosterrors.ModuleLoadFailed(ref.Identity, err)
	}
	return m, nil
}

// ModuleSymbol is the symbol a shared object plugin must export. It may be
// a Module value or a func() Module.
const ModuleSymbol = "Module"

// SharedObjectLoader opens Go plugins from Dir. The identity names the file,
// with or without the .so suffix.
type SharedObjectLoader struct {
	Dir string

	open func(path string) (symbolLookup, error)
}

type symbolLookup interface {
	Lookup(name string) (stdplugin.Symbol, error)
}

func openPlugin(path string) (symbolLookup, error) {
	return stdplugin.Open(path)
}

func (l *SharedObjectLoader) Load(ctx context.Context, ref ModuleRef) (Module, error) {
	if err := ctx.Err(); err != nil {
		return nil, hosterrors.ModuleLoadFailed(ref.Identity, err)
	}

	name := ref.Identity
	if !strings.HasSuffix(name, ".so") {
		name += ".so"
	}
	path := filepath.Join(l.Dir, name)

	open := l.open
	if open == nil {
		open = openPlugin
	}
	p, err := open(path)
	if err != nil {
		return nil, hosterrors.ModuleLoadFailed(ref.Identity, err)
	}
	sym, err := p.Lookup(ModuleSymbol)
	if err != nil {
		return nil, hosterrors.ModuleLoadFailed(ref.Identity, err)
	}

	switch v := sym.(type) {
	case Module:
		return v, nil
	case *Module:
		return *v, nil
	case func() Module:
		return v(), nil
	case *func() Module:
		return (*v)(), nil
	}
	return nil, hosterrors.ModuleLoadFailed(ref.Identity, fmt.Errorf("symbol %s has type %T", ModuleSymbol, sym))
}

// MultiLoader tries each loader in turn until one knows the identity.
type MultiLoader []Loader

func (m MultiLoader) Load(ctx context.Context, ref ModuleRef) (Module, error) {
	var lastErr error = hosterrors.ModuleLoadFailed(ref.Identity, ErrUnknownModule)
	for _, l := range m {
		mod, err := l.Load(ctx, ref)
		if err == nil {
			return mod, nil
		}
		lastErr = err
		if !errors.Is(err, ErrUnknownModule) {
			return nil, err
		}
	}
	return nil, lastErr
}

// LoadAll loads refs in order. The first failure aborts loading and names
// the offending module.
func LoadAll(ctx context.Context, loader Loader, refs []ModuleRef) ([]capability.Source, error) {
	sources := make([]capability.Source, 0, len(refs))
	for _, ref := range refs {
		m, err := loader.Load(ctx, ref)
		if err != nil {
			if _, ok := hosterrors.AsHostError(err); !ok {
				err = hosterrors.ModuleLoadFailed(ref.Identity, err)
			}
			return nil, err
		}
		sources = append(sources, Source(m))
	}
	return sources, nil
}
