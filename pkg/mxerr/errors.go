// Package mxerr defines the structured error surface shared by all MXF
// components. Errors carry a stable machine-readable code plus an optional
// issues list for validation failures.
package mxerr

import (
	"errors"
	"fmt"
)

// Code is a stable machine-readable error identifier.
type Code string

const (
	CodeAuthInvalidKey       Code = "AUTH_INVALID_KEY"
	CodeAuthExpired          Code = "AUTH_EXPIRED"
	CodeAuthMissing          Code = "AUTH_MISSING"
	CodeValidationError      Code = "VALIDATION_ERROR"
	CodeMissingRequired      Code = "MISSING_REQUIRED"
	CodeNotFound             Code = "NOT_FOUND"
	CodeAlreadyExists        Code = "ALREADY_EXISTS"
	CodeQuotaExceeded        Code = "QUOTA_EXCEEDED"
	CodeOperationFailed      Code = "OPERATION_FAILED"
	CodeTimeout              Code = "TIMEOUT"
	CodeRateLimited          Code = "RATE_LIMITED"
	CodeConnectionFailed     Code = "CONNECTION_FAILED"
	CodeNetworkError         Code = "NETWORK_ERROR"
	CodeServerError          Code = "SERVER_ERROR"
	CodeToolNotFound         Code = "TOOL_NOT_FOUND"
	CodeToolForbidden        Code = "TOOL_FORBIDDEN"
	CodeToolPairingViolation Code = "TOOL_PAIRING_VIOLATION"
	CodeCircuitOpen          Code = "CIRCUIT_OPEN"
	CodeMessageSendFailed    Code = "MESSAGE_SEND_FAILED"
)

// Issue describes a single validation problem.
type Issue struct {
	Type    string `json:"type"` // "error" or "warning"
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

// Error is a structured error value with a stable code.
type Error struct {
	Code    Code    `json:"code"`
	Message string  `json:"message"`
	Issues  []Issue `json:"issues,omitempty"`

	cause error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches two *Error values by code, so errors.Is(err, mxerr.New(CodeNotFound, ""))
// works without comparing messages.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// New creates a structured error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a structured error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to an underlying error. The cause remains reachable
// via errors.Unwrap.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// Validation creates a VALIDATION_ERROR carrying structured issues.
func Validation(message string, issues []Issue) *Error {
	return &Error{Code: CodeValidationError, Message: message, Issues: issues}
}

// CodeOf extracts the structured code from an error chain.
// Returns SERVER_ERROR for plain errors and "" for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeServerError
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
