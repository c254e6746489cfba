// Package capability composes and indexes request handlers.
//
// A capability module exposes a static list of Registrations, each pairing a
// request/response Contract with a factory. The Composer instantiates every
// factory exactly once, in a fixed order, and produces an immutable Registry
// that transports query when dispatching.
package capability

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/ajitpratap0/langhost/pkg/environment"
)

// Contract identifies the request/response pair a handler implements.
type Contract struct {
	Request  reflect.Type
	Response reflect.Type
}

// ContractOf returns the contract for the given request and response types.
func ContractOf[Req, Resp any]() Contract {
	return Contract{
		Request:  reflect.TypeOf((*Req)(nil)).Elem(),
		Response: reflect.TypeOf((*Resp)(nil)).Elem(),
	}
}

func (c Contract) String() string {
	return fmt.Sprintf("%s->%s", typeName(c.Request), typeName(c.Response))
}

// IsZero reports whether c names no types.
func (c Contract) IsZero() bool {
	return c.Request == nil && c.Response == nil
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}

// Selector restricts a handler to matching documents.
type Selector struct {
	Pattern  string
	Language string
}

func (s Selector) String() string {
	return fmt.Sprintf("{pattern=%q language=%q}", s.Pattern, s.Language)
}

// Matches reports whether a document is covered by the selector. The pattern
// is a doublestar glob applied to the document path; an empty pattern matches
// every path. Languages are compared only when both sides name one.
func (s Selector) Matches(documentURI, languageID string) bool {
	if s.Language != "" && languageID != "" && s.Language != languageID {
		return false
	}
	if s.Pattern == "" {
		return true
	}

	path := filepath.ToSlash(environment.URIToPath(documentURI))
	if path == "" {
		return false
	}
	if !strings.HasPrefix(s.Pattern, "/") {
		path = strings.TrimPrefix(path, "/")
	}
	ok, err := doublestar.Match(s.Pattern, path)
	return err == nil && ok
}

// Document is implemented by requests that refer to a single document so
// that adapters can select handlers without knowing the concrete type.
type Document interface {
	DocumentURI() string
	LanguageID() string
}

// Handler serves one contract.
type Handler interface {
	Handle(ctx context.Context, request any) (any, error)
}

// HandlerFunc adapts a typed function to Handler.
type HandlerFunc[Req, Resp any] func(ctx context.Context, request Req) (Resp, error)

// Handle implements Handler. A request of the wrong type is a programming
// error in the caller and is reported as such.
func (f HandlerFunc[Req, Resp]) Handle(ctx context.Context, request any) (any, error) {
	req, ok := request.(Req)
	if !ok {
		var zero Req
		return nil, fmt.Errorf("capability: request type %T does not match %T", request, zero)
	}
	resp, err := f(ctx, req)
	if err != nil {
		return nil, err
	}
	if isNil(resp) {
		return nil, nil
	}
	return resp, nil
}

// isNil reports whether v is nil or a typed nil.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
