// Package errors replaces the standard "errors" package.
// Each error created by the package contains a stack trace,
// multiple errors can be collected by the MultiError and formatted as a bullet list, see Format.
package errors

import (
	stdErrors "errors"
	"fmt"
	"runtime"
)

const stackDepth = 32

// StackTrace contains program counters of the place where the error was created.
type StackTrace []uintptr

type stackTracer interface {
	StackTrace() StackTrace
}

// withStack wraps an error and adds the stack trace.
type withStack struct {
	error
	trace StackTrace
}

// wrappedError is an error with a new message, the cause is available via Unwrap.
type wrappedError struct {
	msg   string
	cause error
	trace StackTrace
}

func New(message string) error {
	return &withStack{error: stdErrors.New(message), trace: callers()}
}

func Errorf(format string, a ...any) error {
	return &withStack{error: fmt.Errorf(format, a...), trace: callers()} // nolint: forbidigo
}

// Wrap replaces the error message, the original error is still accessible by the Unwrap, Is and As functions.
func Wrap(err error, message string) error {
	return &wrappedError{msg: message, cause: err, trace: callers()}
}

// Wrapf replaces the error message, the original error is still accessible by the Unwrap, Is and As functions.
func Wrapf(err error, format string, a ...any) error {
	return &wrappedError{msg: fmt.Sprintf(format, a...), cause: err, trace: callers()}
}

// WithStack adds stack trace to the error, if it is not present.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	var tracer stackTracer
	if As(err, &tracer) {
		return err
	}
	return &withStack{error: err, trace: callers()}
}

func Is(err, target error) bool {
	return stdErrors.Is(err, target)
}

func As(err error, target any) bool {
	return stdErrors.As(err, target)
}

func Unwrap(err error) error {
	return stdErrors.Unwrap(err)
}

func (e *withStack) Unwrap() error {
	return e.error
}

func (e *withStack) StackTrace() StackTrace {
	return e.trace
}

func (e *wrappedError) Error() string {
	return e.msg
}

func (e *wrappedError) Unwrap() error {
	return e.cause
}

func (e *wrappedError) StackTrace() StackTrace {
	return e.trace
}

func callers() StackTrace {
	pcs := make([]uintptr, stackDepth)
	n := runtime.Callers(3, pcs)
	return pcs[0:n]
}
