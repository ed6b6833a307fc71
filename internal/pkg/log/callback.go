// nolint:forbidigo // allow usage of the "zap" package
package log

import (
	"go.uber.org/zap/zapcore"
)

type CallbackFn func(entry zapcore.Entry, fields []zapcore.Field)

// callbackCore is a zapcore.Core that forwards each entry to a callback.
// It is used to route logs of third-party libraries, for example the etcd client, to the Logger.
type callbackCore struct {
	fields   []zapcore.Field
	callback CallbackFn
}

func NewCallbackCore(fn CallbackFn) zapcore.Core {
	return &callbackCore{callback: fn}
}

// NewCallbackLogger creates a Logger which calls the callback for each message.
func NewCallbackLogger(fn CallbackFn) Logger {
	return loggerFromZapCore(NewCallbackCore(fn))
}

func (c *callbackCore) Enabled(zapcore.Level) bool {
	return true
}

func (c *callbackCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = append(append([]zapcore.Field{}, c.fields...), fields...)
	return &clone
}

func (c *callbackCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	return checked.AddCore(entry, c)
}

func (c *callbackCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	all := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	all = append(all, c.fields...)
	all = append(all, fields...)
	c.callback(entry, all)
	return nil
}

func (c *callbackCore) Sync() error {
	return nil
}
