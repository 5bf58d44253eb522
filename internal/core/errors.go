package core

import (
	"errors"
	"fmt"
)

// Exit codes of the mb CLI.
const (
	ExitOK          = 0
	ExitRuntime     = 1
	ExitUsage       = 2
	ExitUnavailable = 3
	ExitNotFound    = 4
	ExitRejected    = 5
)

// CLIError carries a user-visible message and exit code.
type CLIError struct {
	Code int
	Msg  string
	Err  error
}

func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *CLIError) Unwrap() error {
	return e.Err
}

// WrapError creates a CLIError with an underlying error.
func WrapError(code int, msg string, err error) *CLIError {
	return &CLIError{Code: code, Msg: msg, Err: err}
}

// ErrorForReplyCode maps bridge error codes to CLI exit codes.
func ErrorForReplyCode(code string, message string) *CLIError {
	if message == "" {
		message = code
	}
	switch code {
	case "NOT_INITIALIZED", "UPSTREAM_UNAVAILABLE":
		return &CLIError{Code: ExitUnavailable, Msg: message}
	case "NOT_FOUND", "UNKNOWN_ADDON":
		return &CLIError{Code: ExitNotFound, Msg: message}
	case "UNSUPPORTED_METHOD", "ADDON_FAILED":
		return &CLIError{Code: ExitRejected, Msg: message}
	case "INVALID", "INVALID_ARGUMENTS", "INVALID_PAYLOAD", "INVALID_ACTION", "INVALID_DURATION", "DECODE_ERROR":
		return &CLIError{Code: ExitUsage, Msg: message}
	default:
		return &CLIError{Code: ExitRuntime, Msg: message}
	}
}

// ExitCode returns the CLI exit code from error.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var cliErr *CLIError
	if errors.As(err, &cliErr) {
		return cliErr.Code
	}
	return ExitRuntime
}
