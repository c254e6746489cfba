package capability

import "context"

// Factory constructs a handler from the shared service container.
type Factory func(c *Container) (Handler, error)

// Registration pairs a contract with the factory that serves it.
type Registration struct {
	Contract Contract
	// Endpoint is the transport independent name of the contract, used as
	// the HTTP route.
	Endpoint string
	Selector *Selector
	Factory  Factory
}

// Scoped reports whether the registration carries a document selector.
func (r Registration) Scoped() bool { return r.Selector != nil }

// Option customises a Registration.
type Option func(*Registration)

// WithSelector scopes the handler to documents matching sel.
func WithSelector(sel Selector) Option {
	return func(r *Registration) {
		s := sel
		r.Selector = &s
	}
}

// Register builds a typed registration. The factory runs once, during
// composition.
func Register[Req, Resp any](endpoint string, factory func(c *Container) (HandlerFunc[Req, Resp], error), opts ...Option) Registration {
	r := Registration{
		Contract: ContractOf[Req, Resp](),
		Endpoint: endpoint,
		Factory: func(c *Container) (Handler, error) {
			fn, err := factory(c)
			if err != nil {
				return nil, err
			}
			return fn, nil
		},
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// RegisterFunc registers a handler that needs nothing from the container.
func RegisterFunc[Req, Resp any](endpoint string, fn func(ctx context.Context, req Req) (Resp, error), opts ...Option) Registration {
	return Register[Req, Resp](endpoint, func(*Container) (HandlerFunc[Req, Resp], error) {
		return fn, nil
	}, opts...)
}

// Source is the list of registrations contributed by one module.
type Source struct {
	Name          string
	Registrations []Registration
}
