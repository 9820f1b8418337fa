// Package errors provides centralized error definitions and error handling utilities
// for ragbatch. It defines the sentinel errors shared by the concurrency core and
// the inference clients, typed errors carrying call context, and classification
// helpers used to decide between degrading, retrying and failing.
//
// # Error Types
//
// Domain errors carry context about where a failure happened:
//   - TransportError: a remote inference call failed (endpoint, HTTP status)
//   - BatchError: a batch exhausted its retry attempts (batch index, attempts)
//
// Semantic errors represent common error conditions:
//   - ValidationError: invalid input or configuration
//
// # Usage
//
// Creating errors:
//
//	err := errors.NewTransportError("embed batch", cause).WithEndpoint(url).WithStatus(503)
//	err := errors.NewBatchError(3, 2, cause)
//
// Checking errors:
//
//	if errors.IsResourceExhausted(err) { ... }
//	var batchErr *errors.BatchError
//	if errors.As(err, &batchErr) { ... }
//
// # Error Classification
//
// Resource exhaustion is recoverable by degrading concurrency. Any other
// failure of a batch call is retried a bounded number of times by the batch
// dispatcher, whatever its kind.
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

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Admission and inference sentinel errors
var (
	// ErrResourceExhausted indicates the protected resource (accelerator memory,
	// a saturated inference server) could not satisfy the operation. Operations
	// failing with it are retried under a smaller concurrency ceiling.
	ErrResourceExhausted = New("resource exhausted")
	// ErrTransport indicates a remote call failed at the transport or protocol level.
	ErrTransport = New("transport failure")
	// ErrMalformedResponse indicates a remote call returned a body that could not be used.
	ErrMalformedResponse = New("malformed response")
	// ErrBatchFailed indicates a batch failed on every attempt.
	ErrBatchFailed = New("batch failed")
	// ErrLengthMismatch indicates the number of outputs did not match the inputs.
	ErrLengthMismatch = New("output length mismatch")
)

// Pipeline sentinel errors
var (
	// ErrUnknownMode indicates a configured mode is not supported.
	ErrUnknownMode = New("unknown mode")
	// ErrIndexNotFound indicates no persisted vector index exists.
	ErrIndexNotFound = New("vector index not found")
	// ErrIndexNotLoaded indicates retrieval was attempted before the index was built or loaded.
	ErrIndexNotLoaded = New("vector index not initialized")
	// ErrColumnNotFound indicates a spreadsheet column could not be found.
	ErrColumnNotFound = New("column not found")
)

// ErrCanceled indicates that an operation was canceled.
var ErrCanceled = New("operation canceled")

// -----------------------------------------------------------------------------
// Base Error
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message string
	cause   error
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// format renders "<kind> [k=v, ...]: message: cause".
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

// TransportError represents a failed call to a remote inference endpoint.
//
// Example:
//
//	err := errors.NewTransportError("embed batch", cause).WithEndpoint(url).WithStatus(502)
//	fmt.Println(err) // "transport error [endpoint=http://..., status=502]: embed batch: ..."
type TransportError struct {
	baseError
	Endpoint   string
	StatusCode int
}

// NewTransportError creates a new TransportError.
func NewTransportError(message string, cause error) *TransportError {
	return &TransportError{baseError: baseError{message: message, cause: cause}}
}

// WithEndpoint adds the endpoint URL to the error context.
func (e *TransportError) WithEndpoint(endpoint string) *TransportError {
	e.Endpoint = endpoint
	return e
}

// WithStatus adds the HTTP status code to the error context.
func (e *TransportError) WithStatus(code int) *TransportError {
	e.StatusCode = code
	return e
}

// Error returns the formatted error message.
func (e *TransportError) Error() string {
	var parts []string
	if e.Endpoint != "" {
		parts = append(parts, fmt.Sprintf("endpoint=%s", e.Endpoint))
	}
	if e.StatusCode != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	return e.format("transport error", parts)
}

// Is reports ErrTransport, any *TransportError, or a match on the cause.
func (e *TransportError) Is(target error) bool {
	if target == ErrTransport {
		return true
	}
	if _, ok := target.(*TransportError); ok {
		return true
	}
	return false
}

// BatchError represents a batch that failed on every attempt.
//
// Example:
//
//	err := errors.NewBatchError(4, 3, lastErr)
//	fmt.Println(err) // "batch error [batch=4, attempts=3]: batch failed after 3 attempts: ..."
type BatchError struct {
	baseError
	BatchIndex int
	Attempts   int
}

// NewBatchError creates a new BatchError for the batch at index after the
// given number of attempts.
func NewBatchError(batchIndex, attempts int, cause error) *BatchError {
	return &BatchError{
		baseError: baseError{
			message: fmt.Sprintf("batch failed after %d attempts", attempts),
			cause:   cause,
		},
		BatchIndex: batchIndex,
		Attempts:   attempts,
	}
}

// Error returns the formatted error message.
func (e *BatchError) Error() string {
	parts := []string{
		fmt.Sprintf("batch=%d", e.BatchIndex),
		fmt.Sprintf("attempts=%d", e.Attempts),
	}
	return e.format("batch error", parts)
}

// Is reports ErrBatchFailed or any *BatchError.
func (e *BatchError) Is(target error) bool {
	if target == ErrBatchFailed {
		return true
	}
	_, ok := target.(*BatchError)
	return ok
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// ValidationError represents invalid input or state.
type ValidationError struct {
	Message string
	Field   string
	Value   any
	Cause   error
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

// WithField adds the field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds an underlying cause.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.Cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("validation error")
	if e.Field != "" {
		fmt.Fprintf(&sb, " [field=%s]", e.Field)
	}
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	if e.Value != nil {
		fmt.Fprintf(&sb, " (got: %v)", e.Value)
	}
	if e.Cause != nil {
		fmt.Fprintf(&sb, ": %v", e.Cause)
	}
	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// Is reports any *ValidationError.
func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)
	return ok
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// IsResourceExhausted reports whether err signals exhaustion of a protected
// resource. Such failures are recovered by shrinking concurrency and retrying.
func IsResourceExhausted(err error) bool {
	return err != nil && Is(err, ErrResourceExhausted)
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
//
// Example:
//
//	err := errors.Wrap(baseErr, "failed to load index")
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
//
// Example:
//
//	err := errors.Wrapf(baseErr, "failed to read %s", path)
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
