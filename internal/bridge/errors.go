package bridge

import (
	"errors"
	"fmt"

	"github.com/mikey-austin/media_bridge/pkg/mb"
)

// Error codes carried in encoded failures.
const (
	CodeNotInitialized      = "NOT_INITIALIZED"
	CodeUnknownAddon        = "UNKNOWN_ADDON"
	CodeNotFound            = "NOT_FOUND"
	CodeUnsupportedMethod   = "UNSUPPORTED_METHOD"
	CodeInvalidArguments    = "INVALID_ARGUMENTS"
	CodeInvalidPayload      = "INVALID_PAYLOAD"
	CodeInvalidAction       = "INVALID_ACTION"
	CodeInvalidDuration     = "INVALID_DURATION"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeAddonFailed         = "ADDON_FAILED"
	CodeDecodeError         = "DECODE_ERROR"
	CodeEncodeError         = "ENCODE_ERROR"
)

// Error is a bridge failure with a stable code.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is checks.
var (
	ErrNotInitialized      = &Error{Code: CodeNotInitialized}
	ErrUnknownAddon        = &Error{Code: CodeUnknownAddon}
	ErrNotFound            = &Error{Code: CodeNotFound}
	ErrUnsupportedMethod   = &Error{Code: CodeUnsupportedMethod}
	ErrInvalidArguments    = &Error{Code: CodeInvalidArguments}
	ErrInvalidDuration     = &Error{Code: CodeInvalidDuration}
	ErrUpstreamUnavailable = &Error{Code: CodeUpstreamUnavailable}
)

func newError(code string, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf extracts the code of err, defaulting to UPSTREAM_UNAVAILABLE for
// foreign errors.
func CodeOf(err error) string {
	var bErr *Error
	if errors.As(err, &bErr) {
		return bErr.Code
	}
	return CodeUpstreamUnavailable
}

func errorBody(err error) *mb.ErrorBody {
	var bErr *Error
	if errors.As(err, &bErr) {
		msg := bErr.Message
		if bErr.Err != nil {
			msg = fmt.Sprintf("%s: %v", msg, bErr.Err)
		}
		return &mb.ErrorBody{Code: bErr.Code, Message: msg}
	}
	return &mb.ErrorBody{Code: CodeUpstreamUnavailable, Message: err.Error()}
}
