// Package errors defines stable error codes for all pipeline failure modes.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a stable error code for a pipeline failure mode
type ErrorCode string

const (
	// ParseFailed indicates a source file could not be parsed
	ParseFailed ErrorCode = "PARSE_FAILED"
	// OracleMalformed indicates the oracle returned an unparseable response
	OracleMalformed ErrorCode = "ORACLE_MALFORMED"
	// OracleTimeout indicates the oracle did not answer within its deadline
	OracleTimeout ErrorCode = "ORACLE_TIMEOUT"
	// CheckpointMismatch indicates a checkpoint's resumption key does not match current inputs
	CheckpointMismatch ErrorCode = "CHECKPOINT_MISMATCH"
	// InvalidTargetPath indicates a planned module path falls outside the crate source tree
	InvalidTargetPath ErrorCode = "INVALID_TARGET_PATH"
	// DanglingEdge indicates a call edge references a symbol missing from the table
	DanglingEdge ErrorCode = "DANGLING_EDGE"
	// BuildFailed indicates the target toolchain rejected the crate
	BuildFailed ErrorCode = "BUILD_FAILED"
	// RetryExhausted indicates the repair budget for a unit was spent without success
	RetryExhausted ErrorCode = "RETRY_EXHAUSTED"
	// SnapshotRollback indicates an optimizer step was reverted to its pre-step snapshot
	SnapshotRollback ErrorCode = "SNAPSHOT_ROLLBACK"
	// SymbolNotFound indicates a referenced symbol does not exist in the table
	SymbolNotFound ErrorCode = "SYMBOL_NOT_FOUND"
	// InternalError indicates an unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// PipeError is a pipeline error with a stable code, message and optional cause
type PipeError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Unit    string      `json:"unit,omitempty"` // smallest affected unit: file, symbol or root
	Details interface{} `json:"details,omitempty"`
	cause   error
}

// New creates a PipeError with the given code and message
func New(code ErrorCode, message string) *PipeError {
	return &PipeError{Code: code, Message: message}
}

// Wrap creates a PipeError that wraps an underlying cause
func Wrap(code ErrorCode, message string, cause error) *PipeError {
	return &PipeError{Code: code, Message: message, cause: cause}
}

// Error implements the error interface
func (e *PipeError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *PipeError) Unwrap() error {
	return e.cause
}

// WithUnit tags the error with the unit it is local to
func (e *PipeError) WithUnit(unit string) *PipeError {
	e.Unit = unit
	return e
}

// WithDetails attaches structured details to the error
func (e *PipeError) WithDetails(details interface{}) *PipeError {
	e.Details = details
	return e
}

// CodeOf extracts the ErrorCode from err, or InternalError when err carries none
func CodeOf(err error) ErrorCode {
	var pe *PipeError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return InternalError
}

// HasCode reports whether err carries the given code
func HasCode(err error, code ErrorCode) bool {
	var pe *PipeError
	return errors.As(err, &pe) && pe.Code == code
}
