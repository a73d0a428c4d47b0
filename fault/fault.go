// Package fault normalizes failures from extension modules into the single
// error shape the shell understands.
//
// Every failure path of every module goes through Normalize (directly, or
// via From or a result.Sink), so the shell never sees a blank code or
// message and never sees a raw backend error.
package fault

import (
	"errors"
	"fmt"
)

const (
	// UnknownCode and UnknownMessage are used when neither the caller nor
	// the native error provide a code or message.
	UnknownCode    = "unknown"
	UnknownMessage = "An unknown error occurred"

	// CodeNotImplemented is reported for calls to methods a module does not handle.
	CodeNotImplemented = "not-implemented"
)

// Error is the normalized error delivered to the shell.
type Error struct {
	Code    string
	Message string
	Details map[string]any
	// Cause is the backend's native error, if any.
	Cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Coder is implemented by native errors that carry their own error code.
type Coder interface {
	ErrorCode() string
}

// Normalize builds an Error from the parts a module reports.
//
// An empty code falls back to the native error's code, then to UnknownCode.
// An empty message falls back to the native error's message, then to
// UnknownMessage. Details supplied by the caller are passed through as-is;
// when the caller supplies none and native is non-nil, details are built
// from the native error's code and message. native is kept as Cause.
func Normalize(code, message string, details map[string]any, native error) *Error {
	desc := Describe(native)

	if code == "" {
		code = desc.Code
	}
	if code == "" {
		code = UnknownCode
	}
	if message == "" {
		message = desc.Message
	}
	if message == "" {
		message = UnknownMessage
	}

	if details == nil && native != nil {
		details = desc.details()
	}

	return &Error{
		Code:    code,
		Message: message,
		Details: details,
		Cause:   native,
	}
}

// From converts err into an Error. An Error already in err's chain is
// returned unchanged; anything else is normalized with the given code.
// From returns nil for a nil err.
func From(code string, err error) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return Normalize(code, "", nil, err)
}

// Wire is the error shape serialized to the shell.
type Wire struct {
	Code                   string         `json:"code"`
	Message                string         `json:"message"`
	Details                map[string]any `json:"details,omitempty"`
	NativeErrorDescription string         `json:"nativeErrorDescription,omitempty"`
}

// Wire returns the shell representation of e.
func (e *Error) Wire() Wire {
	w := Wire{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
	if e.Cause != nil {
		w.NativeErrorDescription = e.Cause.Error()
	}
	return w
}
