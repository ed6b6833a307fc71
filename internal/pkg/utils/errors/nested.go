package errors

// NestedError is an error with a main message followed by a list of sub errors.
type NestedError interface {
	error
	Len() int
	Unwrap() []error
	StackTrace() StackTrace
	MainError() error
	WrappedErrors() []error
	Append(errs ...error)
}

type nestedErrorGetter interface {
	MainError() error
	WrappedErrors() []error
}

type nestedError struct {
	main      error
	subErrors MultiError
	trace     StackTrace
}

func NewNestedError(main error, subErrs ...error) NestedError {
	if main == nil {
		panic("error cannot be nil")
	}
	e := &nestedError{main: main, subErrors: NewMultiError(), trace: callers()}
	e.subErrors.Append(subErrs...)
	return e
}

// PrefixError prefixes the error message, for example "cannot claim: <original message>".
func PrefixError(err error, prefix string) error {
	return NewNestedError(New(prefix), err)
}

// PrefixErrorf prefixes the error message, for example "cannot claim "<key>": <original message>".
func PrefixErrorf(err error, format string, a ...any) error {
	return NewNestedError(Errorf(format, a...), err)
}

func (e *nestedError) Len() int {
	return e.subErrors.Len()
}

func (e *nestedError) Error() string {
	return Format(e)
}

func (e *nestedError) Unwrap() []error {
	return append([]error{e.main}, e.subErrors.WrappedErrors()...)
}

func (e *nestedError) StackTrace() StackTrace {
	return e.trace
}

func (e *nestedError) MainError() error {
	return e.main
}

func (e *nestedError) WrappedErrors() []error {
	return e.subErrors.WrappedErrors()
}

func (e *nestedError) Append(errs ...error) {
	e.subErrors.Append(errs...)
}
