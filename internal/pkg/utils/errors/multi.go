package errors

import (
	"sync"
)

// MultiError collects errors, it is safe for concurrent use.
type MultiError interface {
	error
	Len() int
	Unwrap() []error
	WrappedErrors() []error
	Append(errs ...error)
	AppendNested(err error) NestedError
	AppendWithPrefix(err error, prefix string)
	AppendWithPrefixf(err error, format string, a ...any)
	ErrorOrNil() error
}

type multiErrorGetter interface {
	WrappedErrors() []error
}

type multiError struct {
	lock   *sync.Mutex
	errors []error
}

func NewMultiError() MultiError {
	return &multiError{lock: &sync.Mutex{}}
}

func (e *multiError) Len() int {
	e.lock.Lock()
	defer e.lock.Unlock()
	return len(e.errors)
}

func (e *multiError) Error() string {
	return Format(e)
}

func (e *multiError) Unwrap() []error {
	return e.WrappedErrors()
}

func (e *multiError) WrappedErrors() []error {
	e.lock.Lock()
	defer e.lock.Unlock()
	out := make([]error, len(e.errors))
	copy(out, e.errors)
	return out
}

// Append errors, nil values are ignored, nested multi errors are flattened.
func (e *multiError) Append(errs ...error) {
	e.lock.Lock()
	defer e.lock.Unlock()
	for _, err := range errs {
		if err == nil {
			continue
		}
		if v, ok := err.(MultiError); ok { // nolint: errorlint
			e.errors = append(e.errors, v.WrappedErrors()...)
		} else {
			e.errors = append(e.errors, err)
		}
	}
}

// AppendNested appends a new nested error, sub errors can be added to the returned value.
func (e *multiError) AppendNested(err error) NestedError {
	nested := NewNestedError(err)
	e.Append(nested)
	return nested
}

func (e *multiError) AppendWithPrefix(err error, prefix string) {
	e.Append(PrefixError(err, prefix))
}

func (e *multiError) AppendWithPrefixf(err error, format string, a ...any) {
	e.Append(PrefixErrorf(err, format, a...))
}

// ErrorOrNil returns nil if there is no error, the only error if there is one, otherwise the MultiError itself.
func (e *multiError) ErrorOrNil() error {
	e.lock.Lock()
	defer e.lock.Unlock()
	switch len(e.errors) {
	case 0:
		return nil
	case 1:
		return e.errors[0]
	default:
		return e
	}
}
