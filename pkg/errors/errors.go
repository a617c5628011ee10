package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Common sentinel errors for quick checks
var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned when the caller lacks the required role.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidInput is returned when request input is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInsufficientFunds is returned when a balance or pool is too low.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInternal is returned when an internal error occurs.
	ErrInternal = errors.New("internal error")
)

// Error is the base interface for all custom errors in the system.
// It extends the standard error interface with additional context.
type Error interface {
	error
	// Code returns the error code
	Code() string
	// Message returns the human-readable error message
	Message() string
	// Unwrap returns the underlying cause
	Unwrap() error
}

// BaseError provides a foundation for all typed errors.
type BaseError struct {
	code    string
	message string
	cause   error
	stack   []uintptr
}

// Error implements the error interface.
func (e *BaseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *BaseError) Code() string {
	return e.code
}

// Message returns the error message.
func (e *BaseError) Message() string {
	return e.message
}

// Unwrap returns the underlying cause.
func (e *BaseError) Unwrap() error {
	return e.cause
}

// Stack returns the captured stack trace.
func (e *BaseError) Stack() []uintptr {
	return e.stack
}

// captureStack captures the current stack trace.
func captureStack(skip int) []uintptr {
	const maxDepth = 32
	stack := make([]uintptr, maxDepth)
	n := runtime.Callers(skip+2, stack)
	return stack[:n]
}

// StackTrace returns a formatted stack trace string.
func (e *BaseError) StackTrace() string {
	if len(e.stack) == 0 {
		return ""
	}

	var buf strings.Builder
	frames := runtime.CallersFrames(e.stack)
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") {
			fmt.Fprintf(&buf, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		}
		if !more {
			break
		}
	}
	return buf.String()
}

// AuthorizationError indicates the caller lacks the identity or role an
// operation requires (admin, operator, registered node, recorded client).
type AuthorizationError struct {
	*BaseError
	Operation string
	Required  string
}

// NewAuthorizationError creates a new authorization error.
func NewAuthorizationError(operation, required string) *AuthorizationError {
	message := "caller not authorized"
	if operation != "" && required != "" {
		message = fmt.Sprintf("caller not authorized: %s requires %s", operation, required)
	}
	return &AuthorizationError{
		BaseError: &BaseError{
			code:    CodeAuthorization,
			message: message,
			stack:   captureStack(1),
		},
		Operation: operation,
		Required:  required,
	}
}

// InvalidStateError indicates an operation that is invalid for the entity's
// current status, e.g. redeeming a receipt that is not Confirmed or
// finalizing a removal that was never scheduled.
type InvalidStateError struct {
	*BaseError
	Entity  string
	Current string
	Wanted  string
}

// NewInvalidStateError creates a new invalid state error.
func NewInvalidStateError(entity, current, wanted string) *InvalidStateError {
	message := fmt.Sprintf("%s in invalid state", entity)
	if current != "" && wanted != "" {
		message = fmt.Sprintf("%s is %s, operation requires %s", entity, current, wanted)
	}
	return &InvalidStateError{
		BaseError: &BaseError{
			code:    CodeInvalidState,
			message: message,
			stack:   captureStack(1),
		},
		Entity:  entity,
		Current: current,
		Wanted:  wanted,
	}
}

// ReplayError indicates a nonce mismatch or reuse on a signed message or
// nonce-gated operation.
type ReplayError struct {
	*BaseError
	Expected uint64
	Got      uint64
}

// NewReplayError creates a new replay error.
func NewReplayError(expected, got uint64) *ReplayError {
	return &ReplayError{
		BaseError: &BaseError{
			code:    CodeReplay,
			message: fmt.Sprintf("nonce mismatch: expected %d, got %d", expected, got),
			stack:   captureStack(1),
		},
		Expected: expected,
		Got:      got,
	}
}

// InsufficientFundsError indicates a balance, quota, or pool too low to cover
// the requested amount. Need and Have are decimal strings so the error stays
// representation-agnostic across big.Int amounts and uint64 unit counts.
type InsufficientFundsError struct {
	*BaseError
	Resource string
	Need     string
	Have     string
}

// NewInsufficientFundsError creates a new insufficient funds error.
func NewInsufficientFundsError(resource, need, have string) *InsufficientFundsError {
	message := fmt.Sprintf("insufficient %s", resource)
	if need != "" && have != "" {
		message = fmt.Sprintf("insufficient %s: need %s, have %s", resource, need, have)
	}
	return &InsufficientFundsError{
		BaseError: &BaseError{
			code:    CodeInsufficientFunds,
			message: message,
			stack:   captureStack(1),
		},
		Resource: resource,
		Need:     need,
		Have:     have,
	}
}

// NewLimitExceededError reports a spending-limit violation. Limits are a form
// of quota, so the error shares the insufficient-funds code.
func NewLimitExceededError(scope, attempted, limit string) *InsufficientFundsError {
	return &InsufficientFundsError{
		BaseError: &BaseError{
			code:    CodeInsufficientFunds,
			message: fmt.Sprintf("transfer exceeds %s limit: %s over limit %s", scope, attempted, limit),
			stack:   captureStack(1),
		},
		Resource: scope + " limit",
		Need:     attempted,
		Have:     limit,
	}
}

// ConfigurationError indicates a misconfigured engine parameter: an asset
// that is not whitelisted, a zero reward rate, or a zero collaborator address.
type ConfigurationError struct {
	*BaseError
	Parameter string
}

// NewConfigurationError creates a new configuration error.
func NewConfigurationError(parameter, message string) *ConfigurationError {
	if message == "" {
		message = fmt.Sprintf("invalid configuration: %s", parameter)
	}
	return &ConfigurationError{
		BaseError: &BaseError{
			code:    CodeConfig,
			message: message,
			stack:   captureStack(1),
		},
		Parameter: parameter,
	}
}

// TransferFailureError indicates an outbound payout to an external recipient
// failed. It always aborts the whole operation, including any ledger debits
// already applied.
type TransferFailureError struct {
	*BaseError
	Asset     string
	Recipient string
}

// NewTransferFailureError creates a new transfer failure error.
func NewTransferFailureError(asset, recipient string, cause error) *TransferFailureError {
	return &TransferFailureError{
		BaseError: &BaseError{
			code:    CodeTransferFailure,
			message: fmt.Sprintf("transfer of %s to %s failed", asset, recipient),
			cause:   cause,
			stack:   captureStack(1),
		},
		Asset:     asset,
		Recipient: recipient,
	}
}

// ValidationError represents an input validation error.
type ValidationError struct {
	*BaseError
	Field string
	Value interface{}
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		BaseError: &BaseError{
			code:    CodeValidation,
			message: message,
			stack:   captureStack(1),
		},
		Field: field,
		Value: value,
	}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.message)
	}
	return fmt.Sprintf("validation error: %s", e.message)
}

// NotFoundError represents a resource not found error.
type NotFoundError struct {
	*BaseError
	Resource string
	ID       string
}

// NewNotFoundError creates a new not found error.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{
		BaseError: &BaseError{
			code:    CodeNotFound,
			message: fmt.Sprintf("%s not found", resource),
			stack:   captureStack(1),
		},
		Resource: resource,
		ID:       id,
	}
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s with ID '%s' not found", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// InternalError represents an internal engine error.
type InternalError struct {
	*BaseError
	Operation string
}

// NewInternalError creates a new internal error.
func NewInternalError(message string, cause error) *InternalError {
	if message == "" {
		message = "internal error"
	}
	return &InternalError{
		BaseError: &BaseError{
			code:    CodeInternal,
			message: message,
			cause:   cause,
			stack:   captureStack(1),
		},
	}
}

// WithOperation sets the operation context.
func (e *InternalError) WithOperation(op string) *InternalError {
	e.Operation = op
	return e
}

// Wrap wraps an error with additional context.
// If the error is already one of our custom types, it preserves the type
// and adds the cause chain. Otherwise, it creates an InternalError.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	// If it's already our error type, wrap it
	if e, ok := err.(Error); ok {
		return &BaseError{
			code:    e.Code(),
			message: message,
			cause:   err,
			stack:   captureStack(1),
		}
	}

	// Otherwise create an internal error
	return &InternalError{
		BaseError: &BaseError{
			code:    CodeInternal,
			message: message,
			cause:   err,
			stack:   captureStack(1),
		},
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// New creates a new error with a message.
func New(message string) error {
	return &BaseError{
		code:    CodeInternal,
		message: message,
		stack:   captureStack(1),
	}
}

// Newf creates a new error with a formatted message.
func Newf(format string, args ...interface{}) error {
	return New(fmt.Sprintf(format, args...))
}
