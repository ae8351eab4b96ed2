// Package qerr defines the error taxonomy shared by the schema, relation,
// query and descriptor packages.
//
// All errors here are deterministic, compile-time-equivalent failures: they
// surface synchronously to the caller and are never retried. Runtime engine
// errors (constraint violations, busy/locked) are the embedded database's
// contract and pass through the store untouched.
package qerr

import (
	"errors"
	"fmt"
)

// CompileErrorCode categorizes query compilation failures.
type CompileErrorCode string

const (
	// ErrCodeUnsupportedOperator indicates an unknown $-operator in a condition object.
	ErrCodeUnsupportedOperator CompileErrorCode = "UNSUPPORTED_OPERATOR"

	// ErrCodeNoTablesReferenced indicates a descriptor compilation that never
	// touched a table.
	ErrCodeNoTablesReferenced CompileErrorCode = "NO_TABLES_REFERENCED"

	// ErrCodeUnknownJoinAlias indicates a join column whose alias was not
	// assigned in the current namespace.
	ErrCodeUnknownJoinAlias CompileErrorCode = "UNKNOWN_JOIN_ALIAS"

	// ErrCodeMalformedBetween indicates a $between value that is not exactly
	// a two-element list.
	ErrCodeMalformedBetween CompileErrorCode = "MALFORMED_BETWEEN"

	// ErrCodeUnknownTable indicates a reference to a table missing from the
	// schema registry.
	ErrCodeUnknownTable CompileErrorCode = "UNKNOWN_TABLE"

	// ErrCodeUnknownColumn indicates a reference to a column missing from a
	// table's declared fields.
	ErrCodeUnknownColumn CompileErrorCode = "UNKNOWN_COLUMN"

	// ErrCodeNoRelationship indicates a join between two tables with no
	// registered relationship and no explicit join columns.
	ErrCodeNoRelationship CompileErrorCode = "NO_RELATIONSHIP"
)

// CompileError represents a query compilation failure.
//
// Compile errors are fatal for the query that produced them and indicate a
// malformed query description, never a transient condition. The compiler
// returns the error instead of emitting partially-correct SQL.
type CompileError struct {
	Code    CompileErrorCode
	Message string
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewCompileError creates a CompileError with a formatted message.
func NewCompileError(code CompileErrorCode, format string, args ...any) *CompileError {
	return &CompileError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsCompileError reports whether err is (or wraps) a CompileError with the
// given code. Uses errors.As to handle wrapped errors.
func IsCompileError(err error, code CompileErrorCode) bool {
	var ce *CompileError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// ConfigError represents an invalid schema or relationship configuration,
// detected at registry construction. Fail-fast: the registry is unusable.
type ConfigError struct {
	Table   string // Offending table name, when known.
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("config error: %s (table=%s)", e.Message, e.Table)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

// NewConfigError creates a ConfigError for the named table.
func NewConfigError(table, format string, args ...any) *ConfigError {
	return &ConfigError{Table: table, Message: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// ProgrammingError indicates misuse of a low-level API, such as a
// hand-constructed AST node of an unknown type. These are never produced by
// the package's own constructors.
type ProgrammingError struct {
	Message string
}

// Error implements the error interface.
func (e *ProgrammingError) Error() string {
	return "programming error: " + e.Message
}

// NewProgrammingError creates a ProgrammingError with a formatted message.
func NewProgrammingError(format string, args ...any) *ProgrammingError {
	return &ProgrammingError{Message: fmt.Sprintf(format, args...)}
}

// IsProgrammingError reports whether err is (or wraps) a ProgrammingError.
func IsProgrammingError(err error) bool {
	var pe *ProgrammingError
	return errors.As(err, &pe)
}
