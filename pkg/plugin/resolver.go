// Package plugin turns configuration into loaded capability modules.
//
// Resolvers produce an ordered list of module references; Loaders turn each
// reference into a Module whose registrations feed composition.
package plugin

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ModuleRef identifies a loadable module. It is consumed once during
// composition and not retained afterwards.
type ModuleRef struct {
	Identity  string
	LoadOrder int
}

// Resolver returns module references ordered by LoadOrder.
type Resolver interface {
	Resolve(ctx context.Context) ([]ModuleRef, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context) ([]ModuleRef, error)

func (f ResolverFunc) Resolve(ctx context.Context) ([]ModuleRef, error) { return f(ctx) }

// StaticResolver resolves a fixed list of identities in the given order.
type StaticResolver []string

func (s StaticResolver) Resolve(context.Context) ([]ModuleRef, error) {
	refs := make([]ModuleRef, 0, len(s))
	for i, id := range s {
		if id == "" {
			continue
		}
		refs = append(refs, ModuleRef{Identity: id, LoadOrder: i})
	}
	return refs, nil
}

// Manifest is the on-disk plugin list.
type Manifest struct {
	Plugins []ManifestEntry `yaml:"plugins" validate:"dive"`
}

// ManifestEntry is one plugin in a Manifest. Enabled defaults to true.
type ManifestEntry struct {
	Name    string `yaml:"name" validate:"required"`
	Order   int    `yaml:"order" validate:"gte=0"`
	Enabled *bool  `yaml:"enabled"`
}

var manifestValidate = validator.New()

// ParseManifest decodes and validates a YAML manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshaling manifest: %w", err)
	}
	if err := manifestValidate.Struct(&m); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &m, nil
}

// Refs returns the enabled entries ordered by Order, keeping file order for
// ties.
func (m *Manifest) Refs() []ModuleRef {
	refs := make([]ModuleRef, 0, len(m.Plugins))
	for _, p := range m.Plugins {
		if p.Enabled != nil && !*p.Enabled {
			continue
		}
		refs = append(refs, ModuleRef{Identity: p.Name, LoadOrder: p.Order})
	}
	sort.SliceStable(refs, func(i, j int) bool { return refs[i].LoadOrder < refs[j].LoadOrder })
	return refs
}

// ManifestResolver reads a manifest file on every Resolve.
type ManifestResolver struct {
	Path string
}

func (r ManifestResolver) Resolve(ctx context.Context) ([]ModuleRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(r.Path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.Path, err)
	}
	return m.Refs(), nil
}

// ChainResolver concatenates resolvers. Load order is renumbered so that
// every module of an earlier resolver precedes those of later ones.
type ChainResolver []Resolver

func (c ChainResolver) Resolve(ctx context.Context) ([]ModuleRef, error) {
	var out []ModuleRef
	seen := make(map[string]bool)
	for _, r := range c {
		if r == nil {
			continue
		}
		refs, err := r.Resolve(ctx)
		if err != nil {
			return nil, err
		}
		for _, ref := range refs {
			if seen[ref.Identity] {
				continue
			}
			seen[ref.Identity] = true
			ref.LoadOrder = len(out)
			out = append(out, ref)
		}
	}
	return out, nil
}
