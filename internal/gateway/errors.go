package gateway

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Local preflight codes. None of them involve a network call.
const (
	CodeEmptyPayload   = "LOCAL-001"
	CodeNoTenant       = "LOCAL-002"
	CodeTenantInactive = "LOCAL-003"
	CodeEmptyRegistry  = "LOCAL-004"
	CodeUnsupported    = "LOCAL-005"
)

// LocalPreflightError means the call was refused before anything was sent
type LocalPreflightError struct {
	Code     string
	TenantID string
	Message  string
	Cause    error
}

func (e *LocalPreflightError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *LocalPreflightError) Unwrap() error {
	return e.Cause
}

// Retryable is false: the caller must fix the input or the configuration
func (e *LocalPreflightError) Retryable() bool {
	return false
}

// NewLocalPreflightError creates a new LocalPreflightError
func NewLocalPreflightError(code, tenantID, message string, cause error) *LocalPreflightError {
	return &LocalPreflightError{Code: code, TenantID: tenantID, Message: message, Cause: cause}
}

// RemoteGatewayError is a transport failure, a timeout, a non-2xx answer or
// a SOAP fault from a registry.
type RemoteGatewayError struct {
	Channel    string
	Operation  string
	HTTPStatus int
	Code       string
	Message    string
	Cause      error
}

func (e *RemoteGatewayError) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Channel, e.Operation, e.Message)
	if e.HTTPStatus != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.HTTPStatus)
	}
	if e.Code != "" {
		msg = fmt.Sprintf("[%s] %s", e.Code, msg)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *RemoteGatewayError) Unwrap() error {
	return e.Cause
}

// Retryable is true; the engine itself never retries
func (e *RemoteGatewayError) Retryable() bool {
	return true
}

// NewRemoteGatewayError creates a new RemoteGatewayError
func NewRemoteGatewayError(channel, operation string, httpStatus int, code, message string, cause error) *RemoteGatewayError {
	return &RemoteGatewayError{
		Channel:    channel,
		Operation:  operation,
		HTTPStatus: httpStatus,
		Code:       code,
		Message:    message,
		Cause:      cause,
	}
}

// CancellationError means the caller cancelled the call or its deadline
// passed while it was in flight. It unwraps to the context error.
type CancellationError struct {
	Channel   string
	Operation string
	Cause     error
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("%s %s cancelled: %v", e.Channel, e.Operation, e.Cause)
}

func (e *CancellationError) Unwrap() error {
	return e.Cause
}

// Retryable is true
func (e *CancellationError) Retryable() bool {
	return true
}

// NewCancellationError creates a new CancellationError
func NewCancellationError(channel, operation string, cause error) *CancellationError {
	return &CancellationError{Channel: channel, Operation: operation, Cause: cause}
}

// IsRetryable reports whether err is classified as retryable by a gateway
func IsRetryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

// IsLocal reports whether err is a preflight refusal
func IsLocal(err error) bool {
	var local *LocalPreflightError
	return errors.As(err, &local)
}
