package errors

// JSON-RPC 2.0 Standard Error Codes
const (
	// CodeParseError indicates invalid JSON was received by the server
	CodeParseError int = -32700

	// CodeInvalidRequest indicates the JSON sent is not a valid Request object
	CodeInvalidRequest int = -32600

	// CodeMethodNotFound indicates the method does not exist / is not available
	CodeMethodNotFound int = -32601

	// CodeInvalidParams indicates invalid method parameter(s)
	CodeInvalidParams int = -32602

	// CodeInternalError indicates internal JSON-RPC error
	CodeInternalError int = -32603
)

// Language server protocol reserved codes
const (
	// CodeServerNotInitialized is returned for any request received before
	// the handshake completed.
	CodeServerNotInitialized int = -32002

	CodeUnknownErrorCode int = -32001

	// CodeRequestFailed is returned when a capability failed to produce a response.
	CodeRequestFailed int = -32803

	CodeServerCancelled  int = -32802
	CodeContentModified  int = -32801
	CodeRequestCancelled int = -32800
)

// Host specific codes (-32000 to -32099 is the implementation-defined server range)
const (
	CodeCompositionFailed int = -32010
	CodeModuleLoadFailed  int = -32011
	CodeHandlerFactory    int = -32012
	CodeShuttingDown      int = -32020
	CodeParentGone        int = -32021
	CodeNoHandler         int = -32030
	CodeTransportError    int = -32050
)

// ErrorCodeInfo provides human-readable information about error codes
type ErrorCodeInfo struct {
	Code        int
	Name        string
	Description string
	Category    Category
	Severity    Severity
}

var errorCodeRegistry = map[int]ErrorCodeInfo{
	CodeParseError:     {CodeParseError, "ParseError", "Invalid JSON was received", CategoryProtocol, SeverityError},
	CodeInvalidRequest: {CodeInvalidRequest, "InvalidRequest", "Invalid Request object", CategoryProtocol, SeverityError},
	CodeMethodNotFound: {CodeMethodNotFound, "MethodNotFound", "Method does not exist", CategoryProtocol, SeverityError},
	CodeInvalidParams:  {CodeInvalidParams, "InvalidParams", "Invalid method parameters", CategoryValidation, SeverityError},
	CodeInternalError:  {CodeInternalError, "InternalError", "Internal JSON-RPC error", CategoryInternal, SeverityError},

	CodeServerNotInitialized: {CodeServerNotInitialized, "ServerNotInitialized", "Server not initialized", CategoryOrdering, SeverityWarning},
	CodeUnknownErrorCode:     {CodeUnknownErrorCode, "UnknownErrorCode", "Unknown error", CategoryInternal, SeverityError},
	CodeRequestFailed:        {CodeRequestFailed, "RequestFailed", "Request failed", CategoryHandler, SeverityError},
	CodeServerCancelled:      {CodeServerCancelled, "ServerCancelled", "Server cancelled the request", CategoryCancelled, SeverityInfo},
	CodeContentModified:      {CodeContentModified, "ContentModified", "Content modified", CategoryHandler, SeverityInfo},
	CodeRequestCancelled:     {CodeRequestCancelled, "RequestCancelled", "Request cancelled", CategoryCancelled, SeverityInfo},

	CodeCompositionFailed: {CodeCompositionFailed, "CompositionFailed", "Capability composition failed", CategoryComposition, SeverityCritical},
	CodeModuleLoadFailed:  {CodeModuleLoadFailed, "ModuleLoadFailed", "Plugin module failed to load", CategoryComposition, SeverityCritical},
	CodeHandlerFactory:    {CodeHandlerFactory, "HandlerFactoryFailed", "Capability handler failed to construct", CategoryComposition, SeverityCritical},
	CodeShuttingDown:      {CodeShuttingDown, "ShuttingDown", "Host is shutting down", CategoryLifecycle, SeverityWarning},
	CodeParentGone:        {CodeParentGone, "ParentProcessGone", "Parent process exited", CategoryLifecycle, SeverityInfo},
	CodeNoHandler:         {CodeNoHandler, "NoHandler", "No capability handles the request", CategoryNotFound, SeverityWarning},
	CodeTransportError:    {CodeTransportError, "TransportError", "Transport error", CategoryTransport, SeverityError},
}

// GetErrorCodeInfo returns information about an error code
func GetErrorCodeInfo(code int) (ErrorCodeInfo, bool) {
	info, exists := errorCodeRegistry[code]
	return info, exists
}

// GetErrorCodeName returns the name of an error code
func GetErrorCodeName(code int) string {
	if info, exists := errorCodeRegistry[code]; exists {
		return info.Name
	}
	return "UnknownError"
}
