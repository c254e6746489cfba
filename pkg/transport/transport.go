// Package transport carries JSON-RPC 2.0 messages between the language host
// and its client. A Transport only frames, decodes and routes messages; what
// a method means is decided by the handlers registered on it.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	hosterrors "github.com/ajitpratap0/langhost/pkg/errors"
	"github.com/ajitpratap0/langhost/pkg/protocol"
)

// Transport defines the interface shared by the host's protocol transports.
type Transport interface {
	RegisterRequestHandler(method string, handler RequestHandler)
	RegisterNotificationHandler(method string, handler NotificationHandler)

	// SendNotification pushes a server initiated notification to the client.
	SendNotification(ctx context.Context, method string, params interface{}) error

	// Start blocks until the peer disconnects, ctx is cancelled or Stop is called.
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// RequestHandler handles incoming requests
type RequestHandler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// NotificationHandler handles incoming notifications
type NotificationHandler func(ctx context.Context, params json.RawMessage) error

// ErrorHandler receives transport level errors that have no response to travel in.
type ErrorHandler func(err error)

// Gate is consulted before a message reaches its handler. A non-nil error
// rejects the message: requests are answered with it, notifications dropped.
type Gate func(ctx context.Context, method string, isRequest bool) error

// ErrUnsupportedMethod is returned for methods without a registered handler.
var ErrUnsupportedMethod = errors.New("unsupported method")

// BaseTransport holds handler tables and turns handler outcomes into
// JSON-RPC responses. Concrete transports embed it.
type BaseTransport struct {
	mu                   sync.RWMutex
	requestHandlers      map[string]RequestHandler
	notificationHandlers map[string]NotificationHandler
	gate                 Gate
}

// NewBaseTransport creates an empty handler table.
func NewBaseTransport() *BaseTransport {
	return &BaseTransport{
		requestHandlers:      make(map[string]RequestHandler),
		notificationHandlers: make(map[string]NotificationHandler),
	}
}

// RegisterRequestHandler registers a handler for incoming requests
func (t *BaseTransport) RegisterRequestHandler(method string, handler RequestHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requestHandlers[method] = handler
}

// RegisterNotificationHandler registers a handler for incoming notifications
func (t *BaseTransport) RegisterNotificationHandler(method string, handler NotificationHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notificationHandlers[method] = handler
}

// SetGate installs the admission check run before every handler.
func (t *BaseTransport) SetGate(gate Gate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gate = gate
}

// HandleRequest runs the handler for request and always produces a response.
// Panics are recovered into InternalError responses.
func (t *BaseTransport) HandleRequest(ctx context.Context, request *protocol.Request) (resp *protocol.Response) {
	defer func() {
		if r := recover(); r != nil {
			resp = protocol.NewErrorResponse(request.ID, protocol.InternalError,
				fmt.Sprintf("internal error processing %s: %v", request.Method, r), nil)
		}
	}()

	t.mu.RLock()
	handler, ok := t.requestHandlers[request.Method]
	gate := t.gate
	t.mu.RUnlock()

	if gate != nil {
		if err := gate(ctx, request.Method, true); err != nil {
			return ErrorResponse(request.ID, err)
		}
	}
	if !ok {
		return protocol.NewErrorResponse(request.ID, protocol.MethodNotFound,
			fmt.Sprintf("%s: %s", ErrUnsupportedMethod, request.Method), nil)
	}

	result, err := handler(ctx, request.Params)
	if err != nil {
		return ErrorResponse(request.ID, err)
	}

	resp, err = protocol.NewResponse(request.ID, result)
	if err != nil {
		return protocol.NewErrorResponse(request.ID, protocol.InternalError, err.Error(), nil)
	}
	return resp
}

// HandleNotification processes an incoming notification with panic recovery
func (t *BaseTransport) HandleNotification(ctx context.Context, notification *protocol.Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("internal error processing notification %s: %v", notification.Method, r)
		}
	}()

	t.mu.RLock()
	handler, ok := t.notificationHandlers[notification.Method]
	gate := t.gate
	t.mu.RUnlock()

	if gate != nil {
		if err := gate(ctx, notification.Method, false); err != nil {
			return err
		}
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedMethod, notification.Method)
	}
	return handler(ctx, notification.Params)
}

// ErrorResponse converts err into a JSON-RPC error response. Codes carried by
// a *protocol.Error or a host error survive; anything else is InternalError.
func ErrorResponse(id interface{}, err error) *protocol.Response {
	var rpcErr *protocol.Error
	if errors.As(err, &rpcErr) {
		return protocol.NewErrorResponse(id, rpcErr.Code, rpcErr.Message, rpcErr.Data)
	}
	if errors.Is(err, context.Canceled) {
		return protocol.NewErrorResponse(id, protocol.RequestCancelled, err.Error(), nil)
	}
	if hostErr, ok := hosterrors.AsHostError(err); ok {
		return protocol.NewErrorResponse(id, protocol.ErrorCode(hostErr.Code()), hostErr.Error(), hostErr.Data())
	}
	return protocol.NewErrorResponse(id, protocol.InternalError, err.Error(), nil)
}
