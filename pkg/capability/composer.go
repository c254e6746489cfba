package capability

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	hosterrors "github.com/ajitpratap0/langhost/pkg/errors"
)

// ErrAlreadyBuilt is the panic value raised when a Composer builds twice.
var ErrAlreadyBuilt = errors.New("capability: registry already built")

// Composer builds the registry exactly once.
type Composer struct {
	built atomic.Bool

	// OnHandler, if set, observes every constructed handler in order.
	OnHandler func(source string, reg Registration)
}

// NewComposer returns a Composer that has not built yet.
func NewComposer() *Composer {
	return &Composer{}
}

// Built reports whether Build has been called.
func (c *Composer) Built() bool { return c.built.Load() }

// Build instantiates every registration of every source in order. Sources
// are expected core first, then plugins in manifest order. Any factory
// failure aborts the whole build and no registry is returned.
//
// Build may be called once; a second call panics with ErrAlreadyBuilt.
func (c *Composer) Build(ctx context.Context, container *Container, sources ...Source) (*Registry, error) {
	if !c.built.CompareAndSwap(false, true) {
		panic(ErrAlreadyBuilt)
	}
	if container == nil {
		container = NewContainer()
	}

	b := newRegistryBuilder()
	for _, src := range sources {
		for _, reg := range src.Registrations {
			if err := ctx.Err(); err != nil {
				return nil, hosterrors.CompositionFailed(src.Name, err)
			}
			if err := validate(reg); err != nil {
				return nil, hosterrors.HandlerConstructionFailed(src.Name, reg.Contract.String(), err)
			}

			h, err := construct(reg, container)
			if err != nil {
				return nil, hosterrors.HandlerConstructionFailed(src.Name, reg.Contract.String(), err).
					WithContext(&hosterrors.Context{
						Module:    src.Name,
						Contract:  reg.Contract.String(),
						Component: "Composer",
						Operation: "Build",
					})
			}
			b.add(src.Name, reg, h)
			if c.OnHandler != nil {
				c.OnHandler(src.Name, reg)
			}
		}
	}
	return b.freeze(), nil
}

func validate(reg Registration) error {
	switch {
	case reg.Contract.IsZero():
		return errors.New("registration has no contract")
	case reg.Factory == nil:
		return errors.New("registration has no factory")
	}
	return nil
}

// construct runs a factory, converting panics into errors.
func construct(reg Registration, container *Container) (h Handler, err error) {
	defer func() {
		if r := recover(); r != nil {
			h, err = nil, fmt.Errorf("factory panicked: %v", r)
		}
	}()

	h, err = reg.Factory(container)
	if err == nil && h == nil {
		err = errors.New("factory returned a nil handler")
	}
	return h, err
}
