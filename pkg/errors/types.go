// Package errors provides structured error handling for the language host.
// Every error carries a JSON-RPC compatible code, a category used by the
// adapters to decide how far an error may propagate, and optional context
// describing where it happened.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"
)

// Category represents the type/category of an error for classification and handling
type Category string

const (
	CategoryComposition Category = "composition"
	CategoryOrdering    Category = "ordering"
	CategoryHandler     Category = "handler"
	CategoryLifecycle   Category = "lifecycle"
	CategoryValidation  Category = "validation"
	CategoryNotFound    Category = "not_found"
	CategoryTransport   Category = "transport"
	CategoryInternal    Category = "internal"
	CategoryCancelled   Category = "cancelled"
	CategoryProtocol    Category = "protocol"
)

// Severity indicates how critical an error is
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Context provides additional context about where and when an error occurred
type Context struct {
	RequestID string    `json:"request_id,omitempty"`
	Method    string    `json:"method,omitempty"`
	Module    string    `json:"module,omitempty"`
	Contract  string    `json:"contract,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Component string    `json:"component,omitempty"`
	Operation string    `json:"operation,omitempty"`
}

// HostError defines the interface for all host errors
type HostError interface {
	error

	// Code returns the JSON-RPC error code
	Code() int

	// Message returns a human-readable error message
	Message() string

	// Details returns detailed technical description for debugging
	Details() string

	// Data returns structured error data for programmatic handling
	Data() interface{}

	Category() Category
	Severity() Severity
	Context() *Context

	// Fatal reports whether the error must stop the process.
	Fatal() bool

	WithContext(ctx *Context) HostError
	WithDetail(detail string) HostError
	WithData(data interface{}) HostError

	// Unwrap returns the underlying error for error chain traversal
	Unwrap() error

	// ToJSON returns the error as a JSON-serializable map
	ToJSON() map[string]interface{}
}

// baseError implements the HostError interface
type baseError struct {
	code     int
	message  string
	details  string
	data     interface{}
	category Category
	severity Severity
	context  *Context
	cause    error
}

// Error implements the error interface
func (e *baseError) Error() string {
	if e.details != "" {
		return fmt.Sprintf("%s: %s", e.message, e.details)
	}
	return e.message
}

func (e *baseError) Code() int {
	return e.code
}

func (e *baseError) Message() string {
	return e.message
}

func (e *baseError) Details() string {
	return e.details
}

func (e *baseError) Data() interface{} {
	return e.data
}

func (e *baseError) Category() Category {
	return e.category
}

func (e *baseError) Severity() Severity {
	return e.severity
}

func (e *baseError) Context() *Context {
	return e.context
}

// Fatal is true only for composition failures; everything else is contained
// at the request boundary.
func (e *baseError) Fatal() bool {
	return e.category == CategoryComposition
}

// WithContext returns a new error with the provided context
func (e *baseError) WithContext(ctx *Context) HostError {
	newErr := *e
	if ctx != nil && ctx.Timestamp.IsZero() {
		c := *ctx
		c.Timestamp = time.Now()
		ctx = &c
	}
	newErr.context = ctx
	return &newErr
}

// WithDetail returns a new error with additional detail
func (e *baseError) WithDetail(detail string) HostError {
	newErr := *e
	if newErr.details != "" {
		newErr.details = fmt.Sprintf("%s; %s", newErr.details, detail)
	} else {
		newErr.details = detail
	}
	return &newErr
}

// WithData returns a new error with structured data
func (e *baseError) WithData(data interface{}) HostError {
	newErr := *e
	newErr.data = data
	return &newErr
}

func (e *baseError) Unwrap() error {
	return e.cause
}

// ToJSON returns the error as a JSON-serializable map
func (e *baseError) ToJSON() map[string]interface{} {
	result := map[string]interface{}{
		"code":     e.code,
		"message":  e.message,
		"category": string(e.category),
		"severity": string(e.severity),
	}

	if e.details != "" {
		result["details"] = e.details
	}
	if e.data != nil {
		result["data"] = e.data
	}
	if e.context != nil {
		result["context"] = e.context
	}
	if e.cause != nil {
		result["cause"] = e.cause.Error()
	}

	return result
}

// MarshalJSON implements json.Marshaler for baseError
func (e *baseError) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.ToJSON())
}

// NewError creates a new HostError with the specified parameters
func NewError(code int, message string, category Category, severity Severity) HostError {
	return &baseError{
		code:     code,
		message:  message,
		category: category,
		severity: severity,
		context: &Context{
			Timestamp: time.Now(),
		},
	}
}

// NewErrorf creates a new HostError with formatted message
func NewErrorf(code int, category Category, severity Severity, format string, args ...interface{}) HostError {
	return NewError(code, fmt.Sprintf(format, args...), category, severity)
}

// WrapError wraps an existing error as a HostError
func WrapError(err error, code int, message string, category Category, severity Severity) HostError {
	return &baseError{
		code:     code,
		message:  message,
		category: category,
		severity: severity,
		cause:    err,
		context: &Context{
			Timestamp: time.Now(),
		},
	}
}

// AsHostError extracts a HostError from anywhere in the error chain.
func AsHostError(err error) (HostError, bool) {
	if err == nil {
		return nil, false
	}
	var hostErr HostError
	if stderrors.As(err, &hostErr) {
		return hostErr, true
	}
	return nil, false
}

// IsCategory checks if an error is of a specific category
func IsCategory(err error, category Category) bool {
	if hostErr, ok := AsHostError(err); ok {
		return hostErr.Category() == category
	}
	return false
}

// IsCode checks if an error has a specific error code
func IsCode(err error, code int) bool {
	if hostErr, ok := AsHostError(err); ok {
		return hostErr.Code() == code
	}
	return false
}

// CodeOf returns the JSON-RPC code carried by err, or CodeInternalError.
func CodeOf(err error) int {
	if hostErr, ok := AsHostError(err); ok {
		return hostErr.Code()
	}
	return CodeInternalError
}
