// Package coreerr defines the runtime's error taxonomy (spec §7): sentinel
// errors for comparison with errors.Is, a structured KernelError for
// wrapping with operation context, and classifier helpers used by the
// kernel's TRY/ON-FAIL binding and by the API layer when picking a response
// shape. Grounded on core/errors.go of the teacher framework.
package coreerr

import (
	"errors"
	"fmt"
)

// User errors — surfaced to the caller, never retried (§7).
var (
	ErrParse           = errors.New("parse error")
	ErrUnknownOperator = errors.New("unknown operator")
	ErrArity           = errors.New("arity error")
	ErrUnknownVariable = errors.New("unknown variable")
	ErrUnknownTool     = errors.New("unknown tool")
	ErrArgument        = errors.New("argument error")
	ErrUnknownAgent    = errors.New("unknown agent")
	ErrEmptyQuery      = errors.New("empty query")
	ErrValidation      = errors.New("validation error")
)

// Transient infrastructure errors — surfaced to the caller (§7); the
// memory subsystem wraps them without retrying.
var (
	ErrStorageUnavailable   = errors.New("storage unavailable")
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")
)

// Resource-limit errors (§7).
var (
	ErrSandboxViolation     = errors.New("sandbox violation")
	ErrAwaitTimeout         = errors.New("await timeout")
	ErrCognitionTimeout     = errors.New("cognition timeout")
	ErrBackpressureRejected = errors.New("backpressure rejected")
)

// Control-flow (§7).
var ErrCancelled = errors.New("cancelled")

// Structural / not-found errors used across subsystems.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("optimistic concurrency conflict")
	ErrAlreadyExists   = errors.New("already exists")
	ErrInvalidConfig   = errors.New("invalid configuration")
)

// KernelError carries operation context around a sentinel error, the way
// core.FrameworkError does in the teacher framework.
type KernelError struct {
	Op      string
	Kind    string
	ID      string
	Message string
	Err     error
}

func (e *KernelError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

func (e *KernelError) Unwrap() error { return e.Err }

func New(op, kind string, err error) *KernelError {
	return &KernelError{Op: op, Kind: kind, Err: err}
}

func Newf(op, kind, format string, args ...interface{}) *KernelError {
	return &KernelError{Op: op, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// IsRetryable mirrors core.IsRetryable: transient infra errors may be
// retried once by their caller.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable) || errors.Is(err, ErrEmbeddingUnavailable)
}

// IsNotFound mirrors core.IsNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnknownAgent) || errors.Is(err, ErrUnknownTool)
}

// IsUserError reports whether err belongs to the "User errors" class of §7,
// which TRY may catch but which the kernel never retries automatically.
func IsUserError(err error) bool {
	switch {
	case errors.Is(err, ErrParse), errors.Is(err, ErrUnknownOperator),
		errors.Is(err, ErrArity), errors.Is(err, ErrUnknownVariable),
		errors.Is(err, ErrUnknownTool), errors.Is(err, ErrArgument),
		errors.Is(err, ErrUnknownAgent), errors.Is(err, ErrEmptyQuery),
		errors.Is(err, ErrValidation):
		return true
	}
	return false
}

// IsFatal reports whether err must never be caught by TRY (§4.5, §7):
// CognitionTimeout, Cancelled, or a recovered host-level panic.
func IsFatal(err error) bool {
	var pe *PanicError
	return errors.Is(err, ErrCognitionTimeout) || errors.Is(err, ErrCancelled) || errors.As(err, &pe)
}

// PanicError wraps a recovered panic so it can still flow through the
// normal error channel while being flagged fatal by IsFatal.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Kind returns the short machine-readable kind name used in the audit log
// and API error payloads, matching the identifiers named throughout spec §7.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrParse):
		return "ParseError"
	case errors.Is(err, ErrUnknownOperator):
		return "UnknownOperator"
	case errors.Is(err, ErrArity):
		return "ArityError"
	case errors.Is(err, ErrUnknownVariable):
		return "UnknownVariable"
	case errors.Is(err, ErrUnknownTool):
		return "UnknownTool"
	case errors.Is(err, ErrArgument):
		return "ArgumentError"
	case errors.Is(err, ErrUnknownAgent):
		return "UnknownAgent"
	case errors.Is(err, ErrEmptyQuery):
		return "EmptyQuery"
	case errors.Is(err, ErrValidation):
		return "ValidationError"
	case errors.Is(err, ErrStorageUnavailable):
		return "StorageUnavailable"
	case errors.Is(err, ErrEmbeddingUnavailable):
		return "EmbeddingUnavailable"
	case errors.Is(err, ErrSandboxViolation):
		return "SandboxViolation"
	case errors.Is(err, ErrAwaitTimeout):
		return "AwaitTimeout"
	case errors.Is(err, ErrCognitionTimeout):
		return "CognitionTimeout"
	case errors.Is(err, ErrBackpressureRejected):
		return "BackpressureRejected"
	case errors.Is(err, ErrCancelled):
		return "Cancelled"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrConflict):
		return "Conflict"
	case errors.Is(err, ErrAlreadyExists):
		return "AlreadyExists"
	case errors.Is(err, ErrInvalidConfig):
		return "InvalidConfig"
	default:
		var pe *PanicError
		if errors.As(err, &pe) {
			return "Fatal"
		}
		return "Error"
	}
}
