package errors

import (
	"fmt"
)

// CompositionErrorData names the source that broke composition.
type CompositionErrorData struct {
	Module   string `json:"module"`
	Contract string `json:"contract,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// OrderingErrorData describes a request that arrived out of order.
type OrderingErrorData struct {
	Method string `json:"method"`
	State  string `json:"state"`
}

// HandlerErrorData describes a failed capability invocation.
type HandlerErrorData struct {
	Contract string `json:"contract"`
	Endpoint string `json:"endpoint,omitempty"`
}

// Composition errors

// CompositionFailed wraps any failure that prevents the registry from being built.
func CompositionFailed(module string, cause error) HostError {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	return WrapError(
		cause,
		CodeCompositionFailed,
		fmt.Sprintf("composition failed in module '%s'", module),
		CategoryComposition,
		SeverityCritical,
	).WithData(&CompositionErrorData{
		Module: module,
		Reason: reason,
	}).WithDetail(reason)
}

// ModuleLoadFailed reports a plugin module that could not be loaded.
func ModuleLoadFailed(module string, cause error) HostError {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	return WrapError(
		cause,
		CodeModuleLoadFailed,
		fmt.Sprintf("plugin module '%s' failed to load", module),
		CategoryComposition,
		SeverityCritical,
	).WithData(&CompositionErrorData{
		Module: module,
		Reason: reason,
	}).WithDetail(reason)
}

// HandlerConstructionFailed reports a capability factory that returned an
// error or panicked.
func HandlerConstructionFailed(module, contract string, cause error) HostError {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	return WrapError(
		cause,
		CodeHandlerFactory,
		fmt.Sprintf("handler for %s in module '%s' failed to construct", contract, module),
		CategoryComposition,
		SeverityCritical,
	).WithData(&CompositionErrorData{
		Module:   module,
		Contract: contract,
		Reason:   reason,
	}).WithDetail(reason)
}

// Ordering errors

// NotInitialized rejects a request received before the handshake finished.
func NotInitialized(method, state string) HostError {
	return NewError(
		CodeServerNotInitialized,
		fmt.Sprintf("server not initialized: cannot handle '%s' in state %s", method, state),
		CategoryOrdering,
		SeverityWarning,
	).WithData(&OrderingErrorData{
		Method: method,
		State:  state,
	})
}

// ShuttingDown rejects new work once the shutdown token has fired.
func ShuttingDown(method string) HostError {
	return NewError(
		CodeShuttingDown,
		fmt.Sprintf("host is shutting down: '%s' rejected", method),
		CategoryLifecycle,
		SeverityWarning,
	)
}

// Handler errors

// HandlerFailed wraps a capability's own execution failure.
func HandlerFailed(contract string, cause error) HostError {
	if hostErr, ok := AsHostError(cause); ok && hostErr.Category() == CategoryHandler {
		return hostErr
	}
	return WrapError(
		cause,
		CodeRequestFailed,
		fmt.Sprintf("capability %s failed", contract),
		CategoryHandler,
		SeverityError,
	).WithData(&HandlerErrorData{Contract: contract}).WithDetail(errorText(cause))
}

// NoHandler reports a dispatch that found no capability.
func NoHandler(contract string) HostError {
	return NewError(
		CodeNoHandler,
		fmt.Sprintf("no capability registered for %s", contract),
		CategoryNotFound,
		SeverityWarning,
	).WithData(&HandlerErrorData{Contract: contract})
}

// InvalidParams reports request parameters that could not be decoded.
func InvalidParams(method string, cause error) HostError {
	return WrapError(
		cause,
		CodeInvalidParams,
		fmt.Sprintf("invalid params for '%s'", method),
		CategoryValidation,
		SeverityError,
	).WithDetail(errorText(cause))
}

// Lifecycle outcomes

// ParentProcessGone records that the parent process exited or was never
// found. It is informational and never surfaced to an editor.
func ParentProcessGone(pid int, cause error) HostError {
	return WrapError(
		cause,
		CodeParentGone,
		fmt.Sprintf("parent process %d is gone", pid),
		CategoryLifecycle,
		SeverityInfo,
	)
}

// TransportError wraps an I/O failure on a transport.
func TransportError(transport, operation string, cause error) HostError {
	return WrapError(
		cause,
		CodeTransportError,
		fmt.Sprintf("%s transport error during %s", transport, operation),
		CategoryTransport,
		SeverityError,
	).WithDetail(errorText(cause))
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
