package capability

import (
	"context"
	"fmt"

	hosterrors "github.com/ajitpratap0/langhost/pkg/errors"
)

// Entry describes one composed handler.
type Entry struct {
	Source   string
	Endpoint string
	Contract Contract
	Selector *Selector
	Handler  Handler
}

// Registry is the immutable result of composition. All methods are safe for
// concurrent use without locking because nothing is written after Build.
type Registry struct {
	entries    []Entry
	byContract map[Contract][]int
	endpoints  []string
	byEndpoint map[string]Contract
}

type registryBuilder struct {
	r *Registry
}

func newRegistryBuilder() *registryBuilder {
	return &registryBuilder{r: &Registry{
		byContract: make(map[Contract][]int),
		byEndpoint: make(map[string]Contract),
	}}
}

func (b *registryBuilder) add(source string, reg Registration, h Handler) {
	r := b.r
	r.byContract[reg.Contract] = append(r.byContract[reg.Contract], len(r.entries))
	r.entries = append(r.entries, Entry{
		Source:   source,
		Endpoint: reg.Endpoint,
		Contract: reg.Contract,
		Selector: reg.Selector,
		Handler:  h,
	})
	if reg.Endpoint != "" {
		if _, seen := r.byEndpoint[reg.Endpoint]; !seen {
			r.byEndpoint[reg.Endpoint] = reg.Contract
			r.endpoints = append(r.endpoints, reg.Endpoint)
		}
	}
}

func (b *registryBuilder) freeze() *Registry {
	r := b.r
	b.r = nil
	return r
}

// Len returns the number of composed handlers.
func (r *Registry) Len() int { return len(r.entries) }

// Entries returns a copy of every composed handler in registration order.
func (r *Registry) Entries() []Entry {
	return append([]Entry(nil), r.entries...)
}

// Query returns every handler for contract in registration order. The
// result is empty, never an error, when nothing is registered.
func (r *Registry) Query(contract Contract) []Handler {
	idx := r.byContract[contract]
	out := make([]Handler, 0, len(idx))
	for _, i := range idx {
		out = append(out, r.entries[i].Handler)
	}
	return out
}

// QueryBySelector returns the handlers for contract that apply to the
// document. Unscoped handlers always apply.
func (r *Registry) QueryBySelector(contract Contract, documentURI, languageID string) []Handler {
	idx := r.byContract[contract]
	out := make([]Handler, 0, len(idx))
	for _, i := range idx {
		e := r.entries[i]
		if e.Selector != nil && !e.Selector.Matches(documentURI, languageID) {
			continue
		}
		out = append(out, e.Handler)
	}
	return out
}

// QueryFor selects by document when request implements Document and falls
// back to Query otherwise.
func (r *Registry) QueryFor(contract Contract, request any) []Handler {
	if doc, ok := request.(Document); ok {
		return r.QueryBySelector(contract, doc.DocumentURI(), doc.LanguageID())
	}
	return r.Query(contract)
}

// Endpoints lists endpoint names in first registration order.
func (r *Registry) Endpoints() []string {
	return append([]string(nil), r.endpoints...)
}

// ContractForEndpoint returns the contract served under name.
func (r *Registry) ContractForEndpoint(name string) (Contract, bool) {
	c, ok := r.byEndpoint[name]
	return c, ok
}

// Handlers is the typed form of Query.
func Handlers[Req, Resp any](r *Registry) []Handler {
	return r.Query(ContractOf[Req, Resp]())
}

// Dispatch invokes every handler in order and collects their responses.
// Handlers answering nil are skipped. The first failure stops the fan-out
// and is returned as a handler error.
func Dispatch[Req, Resp any](ctx context.Context, handlers []Handler, req Req) ([]Resp, error) {
	contract := ContractOf[Req, Resp]()
	out := make([]Resp, 0, len(handlers))
	for _, h := range handlers {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		v, err := h.Handle(ctx, req)
		if err != nil {
			return out, hosterrors.HandlerFailed(contract.String(), err)
		}
		if v == nil {
			continue
		}
		resp, ok := v.(Resp)
		if !ok {
			return out, hosterrors.HandlerFailed(contract.String(), fmt.Errorf("handler returned %T", v))
		}
		out = append(out, resp)
	}
	return out, nil
}

// First dispatches and returns the first response, if any.
func First[Req, Resp any](ctx context.Context, handlers []Handler, req Req) (Resp, bool, error) {
	var zero Resp
	for _, h := range handlers {
		v, err := h.Handle(ctx, req)
		if err != nil {
			return zero, false, hosterrors.HandlerFailed(ContractOf[Req, Resp]().String(), err)
		}
		if resp, ok := v.(Resp); ok && v != nil {
			return resp, true, nil
		}
	}
	return zero, false, nil
}
