package types

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a failure class reported to callers.
type ErrorCode string

const (
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeAlreadyExists     ErrorCode = "ALREADY_EXISTS"
	CodeAlreadyRunning    ErrorCode = "ALREADY_RUNNING"
	CodeFetchFailed       ErrorCode = "FETCH_FAILED"
	CodeManifest          ErrorCode = "MANIFEST_ERROR"
	CodeSpawnFailed       ErrorCode = "SPAWN_FAILED"
	CodeRuntimeFailure    ErrorCode = "RUNTIME_FAILURE"
	CodeTerminationFailed ErrorCode = "TERMINATION_FAILED"
	CodeInvalidInput      ErrorCode = "INVALID_INPUT"
	CodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	CodeDatabase          ErrorCode = "DATABASE_ERROR"
	CodeInternal          ErrorCode = "INTERNAL_ERROR"
)

// Sentinels for errors.Is. Any *Error with the same code matches.
var (
	ErrNotFound          = &Error{Code: CodeNotFound}
	ErrAlreadyExists     = &Error{Code: CodeAlreadyExists}
	ErrAlreadyRunning    = &Error{Code: CodeAlreadyRunning}
	ErrFetchFailed       = &Error{Code: CodeFetchFailed}
	ErrManifest          = &Error{Code: CodeManifest}
	ErrSpawnFailed       = &Error{Code: CodeSpawnFailed}
	ErrRuntimeFailure    = &Error{Code: CodeRuntimeFailure}
	ErrTerminationFailed = &Error{Code: CodeTerminationFailed}
	ErrInvalidInput      = &Error{Code: CodeInvalidInput}
	ErrUnauthorized      = &Error{Code: CodeUnauthorized}
	ErrDatabase          = &Error{Code: CodeDatabase}
)

// Error is the structured failure returned by the lifecycle components.
type Error struct {
	Code    ErrorCode
	Op      string // Operation that failed, e.g. "install"
	Project string // Project name, when known
	Err     error  // Underlying cause
}

// NewError builds an *Error. err may be nil.
func NewError(code ErrorCode, op, project string, err error) *Error {
	return &Error{Code: code, Op: op, Project: project, Err: err}
}

// Errorf builds an *Error whose cause is a formatted message.
func Errorf(code ErrorCode, op, project, format string, args ...any) *Error {
	return NewError(code, op, project, fmt.Errorf(format, args...))
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Project != "" {
		msg += " (project " + e.Project + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Message returns the human-readable part of the error without the op prefix.
func (e *Error) Message() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
