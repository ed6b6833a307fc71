package errors

import (
	"fmt"
	"runtime"
	"strings"
)

const (
	Indent = "  "
	Bullet = "- "
)

// maxInlineLength defines when a nested error with one sub error is written to one line.
const maxInlineLength = 60

type FormatOption func(c *formatConfig)

type formatConfig struct {
	withStack  bool
	withUnwrap bool
}

// FormatWithStack adds the place where the error was created to each message.
func FormatWithStack() FormatOption {
	return func(c *formatConfig) {
		c.withStack = true
	}
}

// FormatWithUnwrap writes also the wrapped errors, which are hidden by the Wrap function.
func FormatWithUnwrap() FormatOption {
	return func(c *formatConfig) {
		c.withUnwrap = true
	}
}

// Format converts the error to a string.
// Nested and multi errors are formatted as an indented bullet list.
func Format(err error, opts ...FormatOption) string {
	cfg := formatConfig{}
	for _, o := range opts {
		o(&cfg)
	}
	w := &writer{config: cfg}
	w.writeError(0, err)
	return w.out.String()
}

type writer struct {
	config formatConfig
	out    strings.Builder
}

func (w *writer) writeError(level int, err error) {
	if err == nil {
		panic(New("error cannot be nil"))
	}

	// nolint: errorlint
	switch v := err.(type) {
	case nestedErrorGetter:
		w.writeNested(level, v.MainError(), v.WrappedErrors())
	case multiErrorGetter:
		w.writeList(level, v.WrappedErrors())
	case *withStack:
		w.write(w.message(v.error.Error(), v.trace))
	case *wrappedError:
		w.write(w.message(v.msg, v.trace))
		if w.config.withUnwrap && v.cause != nil {
			w.write(fmt.Sprintf(" (%T):\n", err))
			w.writeIndent(level)
			w.write(Bullet)
			w.writeError(level+1, v.cause)
		}
	default:
		w.write(v.Error())
	}
}

func (w *writer) writeNested(level int, main error, errs []error) {
	mainStr := w.sub(func(sub *writer) { sub.writeError(level, main) })
	if len(errs) == 0 {
		w.write(mainStr)
		return
	}

	mainStr = strings.TrimRight(mainStr, ".,:") + ":"
	subStr := w.sub(func(sub *writer) { sub.writeList(level, errs) })

	w.write(mainStr)
	if len(errs) == 1 && len(mainStr)+len(subStr) <= maxInlineLength && !strings.Contains(subStr, "\n") {
		w.write(" ")
		w.write(subStr)
		return
	}

	w.write("\n")
	if len(errs) == 1 {
		w.writeIndent(level)
		w.write(Bullet)
		w.writeError(level+1, errs[0])
	} else {
		w.writeList(level, errs)
	}
}

func (w *writer) writeList(level int, errs []error) {
	bullets := len(errs) > 1
	for i, err := range errs {
		if bullets {
			w.writeIndent(level)
			w.write(Bullet)
		}
		w.writeError(level+1, err)
		if i != len(errs)-1 {
			w.write("\n")
		}
	}
}

func (w *writer) sub(fn func(sub *writer)) string {
	sub := &writer{config: w.config}
	fn(sub)
	return sub.out.String()
}

func (w *writer) message(msg string, trace StackTrace) string {
	if w.config.withStack && len(trace) > 0 {
		fn := runtime.FuncForPC(trace[0])
		if fn != nil {
			file, line := fn.FileLine(trace[0])
			msg = fmt.Sprintf("%s [%s:%d]", msg, file, line)
		}
	}
	return msg
}

func (w *writer) writeIndent(level int) {
	w.write(strings.Repeat(Indent, level))
}

func (w *writer) write(s string) {
	_, _ = w.out.WriteString(s)
}
