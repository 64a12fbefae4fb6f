// Package errors provides centralized error definitions and error handling
// utilities for the terminal host. It defines sentinel errors, domain error
// types carrying terminal/transport/protocol context, semantic error types and
// classification helpers used when turning failures into host error events.
//
// # Error Types
//
// Domain-specific errors:
//   - TerminalError: failures acting on a terminal's process
//   - TransportError: failures attaching or using shared-memory buffers
//   - ProtocolError: malformed or unknown host messages
//
// Semantic errors:
//   - NotFoundError: resource not found
//   - AlreadyExistsError: resource already exists
//   - ValidationError: invalid input or state
//
// # Usage
//
//	err := errors.NewTerminalError("write failed", cause).WithTerminalID(id).WithOperation("write")
//	if errors.Is(err, errors.ErrProcessExited) { ... }
//	code := errors.Code(err) // stable code for the wire error event
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Terminal-related sentinel errors
var (
	// ErrTerminalNotFound indicates that no live terminal has the given ID.
	ErrTerminalNotFound = New("terminal not found")
	// ErrTerminalExists indicates that a terminal with the ID is already registered.
	ErrTerminalExists = New("terminal already exists")
	// ErrSpawnFailed indicates that the terminal process could not be started.
	ErrSpawnFailed = New("spawn failed")
	// ErrProcessExited indicates that the process is gone.
	ErrProcessExited = New("process exited")
)

// Transport-related sentinel errors
var (
	// ErrTransportNotReady indicates that shared buffers have not been attached.
	ErrTransportNotReady = New("transport not ready")
	// ErrBuffersInitialized indicates a second init-buffers request.
	ErrBuffersInitialized = New("buffers already initialized")
	// ErrBufferHandle indicates that a buffer handle could not be mapped.
	ErrBufferHandle = New("invalid buffer handle")
)

// Protocol-related sentinel errors
var (
	// ErrUnknownMessage indicates a request whose type is not recognized.
	ErrUnknownMessage = New("unknown message type")
	// ErrMalformedMessage indicates a request that could not be decoded.
	ErrMalformedMessage = New("malformed message")
)

// General sentinel errors
var (
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
	// ErrClosed indicates use of a component after shutdown.
	ErrClosed = New("closed")
)

// -----------------------------------------------------------------------------
// Base Error
// -----------------------------------------------------------------------------

// HostError is implemented by every error type in this package.
type HostError interface {
	error
	Unwrap() error
	Severity() Severity
	IsRetryable() bool
	IsUserFacing() bool
}

type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error      { return e.cause }
func (e *baseError) Severity() Severity { return e.severity }
func (e *baseError) IsRetryable() bool  { return e.retryable }
func (e *baseError) IsUserFacing() bool { return e.userFacing }

func (e *baseError) format(kind string, parts []string) string {
	prefix := kind
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", kind, strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// TerminalError represents a failure acting on a terminal.
//
// Example:
//
//	err := errors.NewTerminalError("resize failed", cause).WithTerminalID("t1").WithOperation("resize")
//	fmt.Println(err) // "terminal error [terminal=t1, op=resize]: resize failed: ..."
type TerminalError struct {
	baseError
	TerminalID string
	Operation  string
}

// NewTerminalError creates a new TerminalError.
func NewTerminalError(message string, cause error) *TerminalError {
	return &TerminalError{baseError: baseError{
		message:    message,
		cause:      cause,
		severity:   SeverityError,
		userFacing: true,
	}}
}

// WithTerminalID adds the terminal ID to the error context.
func (e *TerminalError) WithTerminalID(id string) *TerminalError {
	e.TerminalID = id
	return e
}

// WithOperation records which request failed.
func (e *TerminalError) WithOperation(op string) *TerminalError {
	e.Operation = op
	return e
}

// WithSeverity sets the error severity.
func (e *TerminalError) WithSeverity(s Severity) *TerminalError {
	e.severity = s
	return e
}

func (e *TerminalError) Error() string {
	var parts []string
	if e.TerminalID != "" {
		parts = append(parts, "terminal="+e.TerminalID)
	}
	if e.Operation != "" {
		parts = append(parts, "op="+e.Operation)
	}
	return e.format("terminal error", parts)
}

// TransportError represents a failure attaching or using the shared buffers.
type TransportError struct {
	baseError
	Handle string
	Shard  int
}

// NewTransportError creates a new TransportError.
func NewTransportError(message string, cause error) *TransportError {
	return &TransportError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityError,
		},
		Shard: -1,
	}
}

// WithHandle records the buffer handle involved.
func (e *TransportError) WithHandle(handle string) *TransportError {
	e.Handle = handle
	return e
}

// WithShard records the shard index involved.
func (e *TransportError) WithShard(shard int) *TransportError {
	e.Shard = shard
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *TransportError) WithRetryable(r bool) *TransportError {
	e.retryable = r
	return e
}

func (e *TransportError) Error() string {
	var parts []string
	if e.Handle != "" {
		parts = append(parts, "handle="+e.Handle)
	}
	if e.Shard >= 0 {
		parts = append(parts, fmt.Sprintf("shard=%d", e.Shard))
	}
	return e.format("transport error", parts)
}

// ProtocolError represents a host message that could not be handled.
// Protocol errors are never fatal.
type ProtocolError struct {
	baseError
	MessageType string
}

// NewProtocolError creates a new ProtocolError.
func NewProtocolError(message string, cause error) *ProtocolError {
	return &ProtocolError{baseError: baseError{
		message:  message,
		cause:    cause,
		severity: SeverityWarning,
	}}
}

// WithMessageType records the request type, if it could be read.
func (e *ProtocolError) WithMessageType(t string) *ProtocolError {
	e.MessageType = t
	return e
}

func (e *ProtocolError) Error() string {
	var parts []string
	if e.MessageType != "" {
		parts = append(parts, "type="+e.MessageType)
	}
	return e.format("protocol error", parts)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError indicates that a resource could not be found.
type NotFoundError struct {
	ResourceType string
	ResourceID   string
	cause        error
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{ResourceType: resourceType, ResourceID: resourceID}
}

// WithCause attaches an underlying cause, usually a sentinel.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.ResourceType, e.ResourceID)
}

func (e *NotFoundError) Unwrap() error { return e.cause }

// AlreadyExistsError indicates that a resource already exists.
type AlreadyExistsError struct {
	ResourceType string
	ResourceID   string
	cause        error
}

// NewAlreadyExistsError creates a new AlreadyExistsError.
func NewAlreadyExistsError(resourceType, resourceID string) *AlreadyExistsError {
	return &AlreadyExistsError{ResourceType: resourceType, ResourceID: resourceID}
}

// WithCause attaches an underlying cause, usually a sentinel.
func (e *AlreadyExistsError) WithCause(cause error) *AlreadyExistsError {
	e.cause = cause
	return e
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.ResourceType, e.ResourceID)
}

func (e *AlreadyExistsError) Unwrap() error { return e.cause }

// ValidationError indicates invalid input.
type ValidationError struct {
	Field   string
	Value   any
	Message string
	cause   error
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message, cause: ErrInvalidInput}
}

// WithField names the offending field.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue records the offending value.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}
	if e.Value != nil {
		return fmt.Sprintf("validation error [%s=%v]: %s", e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("validation error [%s]: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.cause }

// -----------------------------------------------------------------------------
// Classification
// -----------------------------------------------------------------------------

// IsRetryable reports whether err is transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var hostErr HostError
	if As(err, &hostErr) {
		return hostErr.IsRetryable()
	}
	return false
}

// IsUserFacing reports whether err's message is safe to show in the UI.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	var hostErr HostError
	if As(err, &hostErr) {
		return hostErr.IsUserFacing()
	}
	var notFound *NotFoundError
	var exists *AlreadyExistsError
	var validation *ValidationError
	return As(err, &notFound) || As(err, &exists) || As(err, &validation)
}

// GetSeverity returns the severity level of the error. Semantic errors are
// caller mistakes and rank as warnings; anything else from outside this
// package is an error.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	var hostErr HostError
	if As(err, &hostErr) {
		return hostErr.Severity()
	}
	var notFound *NotFoundError
	var exists *AlreadyExistsError
	var validation *ValidationError
	if As(err, &notFound) || As(err, &exists) || As(err, &validation) {
		return SeverityWarning
	}
	return SeverityError
}

// IsProtocol reports whether err came from decoding or dispatching a message.
func IsProtocol(err error) bool {
	var protoErr *ProtocolError
	return As(err, &protoErr) || Is(err, ErrUnknownMessage) || Is(err, ErrMalformedMessage)
}

// Code maps err to the stable code carried by the host error event.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case Is(err, ErrTerminalNotFound):
		return "terminal-not-found"
	case Is(err, ErrTerminalExists):
		return "terminal-exists"
	case Is(err, ErrSpawnFailed):
		return "spawn-failed"
	case Is(err, ErrProcessExited):
		return "process-exited"
	case Is(err, ErrBuffersInitialized):
		return "buffers-initialized"
	case Is(err, ErrTransportNotReady), Is(err, ErrBufferHandle), isTransport(err):
		return "transport"
	case Is(err, ErrUnknownMessage):
		return "unknown-message"
	case Is(err, ErrMalformedMessage):
		return "malformed-message"
	case Is(err, ErrInvalidInput):
		return "invalid-input"
	default:
		return "internal"
	}
}

func isTransport(err error) bool {
	var te *TransportError
	return As(err, &te)
}

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
