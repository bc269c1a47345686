// Package errors provides centralized error definitions and error handling
// utilities for picatest. It defines the engine's sentinel errors, domain error
// types carrying structured context, semantic errors, and classification
// helpers.
//
// # Error Types
//
// Domain-specific errors represent failures of one subsystem:
//   - GraphError: dependency graph inconsistencies and repairs
//   - PersistenceError: storage reads and writes of campaign state
//   - OracleError: failures of the action classification oracle
//
// Semantic errors represent common conditions:
//   - NotFoundError: a stored object does not exist
//   - ValidationError: invalid input or configuration
//   - TimeoutError: an operation exceeded its deadline
//
// # Usage
//
//	err := errors.NewPersistenceError("write checkpoint", cause).
//		WithPlatform("google-docs").WithKey("google-docs/checkpoints/batch-0002/action-0004.json")
//
//	if errors.Is(err, errors.ErrPersistence) { ... }
//	if errors.IsRetryable(err) { ... }
//
// Nothing in the engine is fatal except a caller-requested abort, which is
// reported as [ErrInterrupted]. Every other error category is recovered from
// locally (fallback graph, history-only save, fresh-state load).
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
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
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that were recovered from.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
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

var (
	// ErrNotFound indicates that a stored object does not exist.
	ErrNotFound = New("not found")
	// ErrInterrupted indicates that a campaign stopped at the caller's request
	// after its progress was recorded.
	ErrInterrupted = New("campaign interrupted")
	// ErrOracleUnavailable indicates the classification oracle failed, timed
	// out, or returned nothing usable.
	ErrOracleUnavailable = New("classification oracle unavailable")
	// ErrGraphInconsistent indicates oracle hints that needed repair.
	ErrGraphInconsistent = New("dependency graph inconsistent")
	// ErrPersistence indicates a storage read or write failure.
	ErrPersistence = New("persistence failure")
	// ErrRunLocked indicates another process holds the platform's run lock.
	ErrRunLocked = New("platform run is locked by another process")
	// ErrResumeAmbiguous indicates history that could not be parsed cleanly
	// into a resume point.
	ErrResumeAmbiguous = New("resume point ambiguous")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// EngineError is the interface implemented by every error type in this
// package.
type EngineError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the operation may succeed on retry.
	IsRetryable() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message   string
	cause     error
	severity  Severity
	retryable bool
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

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// format renders "kind [k=v, ...]: message: cause".
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

// GraphError describes an inconsistency found while building a dependency
// graph. Graph errors are always repaired; they are logged, never returned to
// callers of the builder.
//
// Example:
//
//	err := errors.NewGraphError("dropped cycle edge", nil).
//		WithActionID("update_doc").WithEdge("delete_doc")
type GraphError struct {
	baseError
	Platform string
	ActionID string
	Edge     string
}

// NewGraphError creates a new GraphError.
func NewGraphError(message string, cause error) *GraphError {
	return &GraphError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityWarning,
		},
	}
}

// WithPlatform adds the platform to the error context.
func (e *GraphError) WithPlatform(platform string) *GraphError {
	e.Platform = platform
	return e
}

// WithActionID adds the action whose node was repaired.
func (e *GraphError) WithActionID(id string) *GraphError {
	e.ActionID = id
	return e
}

// WithEdge adds the dependency target of the repaired edge.
func (e *GraphError) WithEdge(target string) *GraphError {
	e.Edge = target
	return e
}

// Error returns the formatted error message.
func (e *GraphError) Error() string {
	var parts []string
	if e.Platform != "" {
		parts = append(parts, fmt.Sprintf("platform=%s", e.Platform))
	}
	if e.ActionID != "" {
		parts = append(parts, fmt.Sprintf("action=%s", e.ActionID))
	}
	if e.Edge != "" {
		parts = append(parts, fmt.Sprintf("edge=%s", e.Edge))
	}
	return e.format("graph error", parts)
}

// Is checks if this error matches the target.
func (e *GraphError) Is(target error) bool {
	if _, ok := target.(*GraphError); ok {
		return true
	}
	if target == ErrGraphInconsistent {
		return true
	}
	return e.baseError.Is(target)
}

// PersistenceError represents a failed read or write of campaign state.
//
// Example:
//
//	err := errors.NewPersistenceError("save interrupt", ioErr).
//		WithPlatform("slack").WithKey("slack/interrupts/batch-0001.json")
type PersistenceError struct {
	baseError
	Platform string
	Key      string
	Op       string
}

// NewPersistenceError creates a new PersistenceError.
func NewPersistenceError(message string, cause error) *PersistenceError {
	return &PersistenceError{
		baseError: baseError{
			message:   message,
			cause:     cause,
			severity:  SeverityError,
			retryable: true,
		},
	}
}

// WithPlatform adds the platform to the error context.
func (e *PersistenceError) WithPlatform(platform string) *PersistenceError {
	e.Platform = platform
	return e
}

// WithKey adds the storage key to the error context.
func (e *PersistenceError) WithKey(key string) *PersistenceError {
	e.Key = key
	return e
}

// WithOp adds the storage operation ("save", "load", "delete", "list").
func (e *PersistenceError) WithOp(op string) *PersistenceError {
	e.Op = op
	return e
}

// WithSeverity sets the error severity.
func (e *PersistenceError) WithSeverity(s Severity) *PersistenceError {
	e.severity = s
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *PersistenceError) WithRetryable(r bool) *PersistenceError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *PersistenceError) Error() string {
	var parts []string
	if e.Platform != "" {
		parts = append(parts, fmt.Sprintf("platform=%s", e.Platform))
	}
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Key != "" {
		parts = append(parts, fmt.Sprintf("key=%s", e.Key))
	}
	return e.format("persistence error", parts)
}

// Is checks if this error matches the target.
func (e *PersistenceError) Is(target error) bool {
	if _, ok := target.(*PersistenceError); ok {
		return true
	}
	if target == ErrPersistence {
		return true
	}
	return e.baseError.Is(target)
}

// OracleError represents a failed classification oracle call.
//
// Example:
//
//	err := errors.NewOracleError("classify", ctx.Err()).WithPlatform("notion").WithActionCount(42)
type OracleError struct {
	baseError
	Platform    string
	Model       string
	ActionCount int
}

// NewOracleError creates a new OracleError.
func NewOracleError(message string, cause error) *OracleError {
	return &OracleError{
		baseError: baseError{
			message:   message,
			cause:     cause,
			severity:  SeverityWarning,
			retryable: true,
		},
	}
}

// WithPlatform adds the platform to the error context.
func (e *OracleError) WithPlatform(platform string) *OracleError {
	e.Platform = platform
	return e
}

// WithModel adds the LLM model name to the error context.
func (e *OracleError) WithModel(model string) *OracleError {
	e.Model = model
	return e
}

// WithActionCount adds the number of actions sent to the oracle.
func (e *OracleError) WithActionCount(n int) *OracleError {
	e.ActionCount = n
	return e
}

// Error returns the formatted error message.
func (e *OracleError) Error() string {
	var parts []string
	if e.Platform != "" {
		parts = append(parts, fmt.Sprintf("platform=%s", e.Platform))
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	if e.ActionCount > 0 {
		parts = append(parts, fmt.Sprintf("actions=%d", e.ActionCount))
	}
	return e.format("oracle error", parts)
}

// Is checks if this error matches the target.
func (e *OracleError) Is(target error) bool {
	if _, ok := target.(*OracleError); ok {
		return true
	}
	if target == ErrOracleUnavailable {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a stored object that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("checkpoint", "slack/checkpoints/batch-0002")
//	fmt.Println(err) // "checkpoint 'slack/checkpoints/batch-0002' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:  fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity: SeverityInfo,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	if target == ErrNotFound {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or configuration.
//
// Example:
//
//	err := errors.NewValidationError("batch size must be positive").WithField("scheduler.batch_size").WithValue(0)
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:  message,
			severity: SeverityWarning,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}
	return e.format("validation error", parts)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if target == ErrInvalidInput {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that timed out.
//
// Example:
//
//	err := errors.NewTimeoutError("classifying actions", 60*time.Second)
//	fmt.Println(err) // "timeout error: classifying actions (timeout: 1m0s)"
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:   operation,
			severity:  SeverityWarning,
			retryable: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if target == ErrTimeout {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var engineErr EngineError
	if As(err, &engineErr) {
		return engineErr.IsRetryable()
	}

	return Is(err, ErrTimeout)
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement EngineError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var engineErr EngineError
	if As(err, &engineErr) {
		return engineErr.Severity()
	}
	return SeverityError
}

// IsFatal reports whether err ended a campaign before its remaining batches
// ran. Only a caller-requested interrupt does; every other category is
// recovered from inside the campaign.
func IsFatal(err error) bool {
	return Is(err, ErrInterrupted)
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
