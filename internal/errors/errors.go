// Package errors holds the error definitions shared by every timering package.
//
// It provides:
//   - Sentinel errors for buffer contract violations, codec faults and
//     configuration problems
//   - Category checks (IsContractViolation, IsValidation, IsCodec, ...)
//   - Wire codes carried in error frames, with ErrorToCode / CodeToError
//   - Wrapping helpers
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Wire error codes
// ============================================================================

const (
	CodeUnknown           int32 = 1
	CodeInvalidRequest    int32 = 2
	CodeOutOfOrder        int32 = 3
	CodeDimensionMismatch int32 = 4
	CodeMalformedFrame    int32 = 5
	CodeFrameTooLarge     int32 = 6
	CodeNotRunning        int32 = 7
	CodeInternal          int32 = 8
	CodeTimeout           int32 = 9
)

// CodeName returns a human-readable name for an error code.
func CodeName(code int32) string {
	switch code {
	case CodeUnknown:
		return "Unknown"
	case CodeInvalidRequest:
		return "InvalidRequest"
	case CodeOutOfOrder:
		return "OutOfOrder"
	case CodeDimensionMismatch:
		return "DimensionMismatch"
	case CodeMalformedFrame:
		return "MalformedFrame"
	case CodeFrameTooLarge:
		return "FrameTooLarge"
	case CodeNotRunning:
		return "NotRunning"
	case CodeInternal:
		return "Internal"
	case CodeTimeout:
		return "Timeout"
	default:
		return fmt.Sprintf("Code(%d)", code)
	}
}

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Buffer contract violations. These indicate a bug in the producer and
	// are never produced by a correctly ordered sample stream.
	ErrOutOfOrder        = errors.New("timestamp not strictly after newest sample")
	ErrDimensionMismatch = errors.New("sample dimension mismatch")

	// Construction errors
	ErrInvalidCapacity  = errors.New("capacity must be positive")
	ErrInvalidDimension = errors.New("dimension must be positive")

	// Validation errors
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrMissingField   = errors.New("missing required field")
	ErrInvalidCommand = errors.New("invalid command")

	// Lifecycle errors
	ErrNotRunning     = errors.New("service not running")
	ErrAlreadyRunning = errors.New("service already running")
	ErrWriterClosed   = errors.New("writer is closed")

	// Codec errors
	ErrFrameTooLarge  = errors.New("frame exceeds maximum size")
	ErrMalformedFrame = errors.New("malformed frame")

	// Internal errors
	ErrInternal = errors.New("internal error")
	ErrTimeout  = errors.New("timeout")
	ErrDatabase = errors.New("database error")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// New is a convenience wrapper for errors.New
var New = errors.New

// IsContractViolation reports whether err is an insert that the buffer
// rejected because it would break ordering or shape.
func IsContractViolation(err error) bool {
	return errors.Is(err, ErrOutOfOrder) ||
		errors.Is(err, ErrDimensionMismatch)
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidCommand) ||
		errors.Is(err, ErrInvalidCapacity) ||
		errors.Is(err, ErrInvalidDimension)
}

// IsCodec returns true if err came from decoding a wire frame.
func IsCodec(err error) bool {
	return errors.Is(err, ErrFrameTooLarge) ||
		errors.Is(err, ErrMalformedFrame)
}

// IsRetriable returns true if the error is potentially retriable.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrNotRunning)
}

// ============================================================================
// Error to wire code mapping
// ============================================================================

// ErrorToCode maps a sentinel error to its wire code.
func ErrorToCode(err error) int32 {
	if err == nil {
		return CodeUnknown
	}

	switch {
	case Is(err, ErrOutOfOrder):
		return CodeOutOfOrder
	case Is(err, ErrDimensionMismatch):
		return CodeDimensionMismatch
	case Is(err, ErrFrameTooLarge):
		return CodeFrameTooLarge
	case Is(err, ErrMalformedFrame):
		return CodeMalformedFrame
	case IsValidation(err):
		return CodeInvalidRequest
	case Is(err, ErrNotRunning):
		return CodeNotRunning
	case Is(err, ErrTimeout):
		return CodeTimeout
	default:
		return CodeInternal
	}
}

// CodeToError maps a wire code back to a sentinel error.
func CodeToError(code int32) error {
	switch code {
	case CodeInvalidRequest:
		return ErrInvalidConfig
	case CodeOutOfOrder:
		return ErrOutOfOrder
	case CodeDimensionMismatch:
		return ErrDimensionMismatch
	case CodeMalformedFrame:
		return ErrMalformedFrame
	case CodeFrameTooLarge:
		return ErrFrameTooLarge
	case CodeNotRunning:
		return ErrNotRunning
	case CodeTimeout:
		return ErrTimeout
	default:
		return ErrInternal
	}
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// NewOutOfOrder reports an insert whose stamp does not advance the newest one.
func NewOutOfOrder(stamp, newest int64) error {
	return fmt.Errorf("stamp %d <= newest %d: %w", stamp, newest, ErrOutOfOrder)
}

// NewDimensionMismatch reports a value of the wrong length.
func NewDimensionMismatch(got, want int) error {
	return fmt.Errorf("got %d components, want %d: %w", got, want, ErrDimensionMismatch)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}
