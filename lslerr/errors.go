// File: lslerr/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Structured error type shared across the core, mapping the four error
// categories of spec §7 (Timeout, Lost, Argument, Internal) onto a single
// comparable code plus free-form context, adapted from the teacher's
// api/errors.go shape.

package lslerr

import "fmt"

// Code names one of the spec §7 error categories.
type Code int

const (
	// CodeTimeout: an API call with a finite timeout expired before
	// completion; recoverable by retry.
	CodeTimeout Code = iota
	// CodeLost: the stream's producer has disappeared and recovery is
	// disabled or permanently failed; the inlet is unusable.
	CodeLost
	// CodeArgument: malformed input.
	CodeArgument
	// CodeInternal: unexpected runtime fault; the affected operation
	// fails but the process must not terminate.
	CodeInternal
)

func (c Code) String() string {
	switch c {
	case CodeTimeout:
		return "timeout"
	case CodeLost:
		return "lost"
	case CodeArgument:
		return "argument"
	case CodeInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the structured error value returned by blocking and validating
// APIs across the core.
type Error struct {
	Code    Code
	Message string
	Context map[string]any
	cause   error
}

func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return fmt.Sprintf("labstream: %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("labstream: %s: %s (context: %+v)", e.Code, e.Message, e.Context)
}

// Unwrap exposes a wrapped cause, if any, for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

// New creates a structured error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a structured error around an existing cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithContext attaches a key/value pair to the error and returns it.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Is reports whether err carries the given code, for use with errors.Is.
func (e *Error) Is(target error) bool {
	o, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == o.Code
}

// IsLost reports whether err is (or wraps) a CodeLost error.
func IsLost(err error) bool {
	var e *Error
	return asError(err, &e) && e.Code == CodeLost
}

// IsTimeout reports whether err is (or wraps) a CodeTimeout error.
func IsTimeout(err error) bool {
	var e *Error
	return asError(err, &e) && e.Code == CodeTimeout
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
