// nolint:forbidigo // allow usage of the "zap" package
package log

import (
	"context"
	"fmt"
	"time"

	"github.com/umisama/go-regexpcache"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/keboola/changeset-scheduler/internal/pkg/ctxattr"
)

const (
	componentKey   = "component"
	durationKey    = "duration"
	placeholderExp = `<[a-zA-Z0-9._\-]+>`
)

// zapLogger is the default implementation of the Logger interface.
type zapLogger struct {
	logger    *zap.Logger
	component string
	attrs     []attribute.KeyValue
}

func loggerFromZapCore(core zapcore.Core) *zapLogger {
	return &zapLogger{logger: zap.New(core)}
}

func (l *zapLogger) With(attrs ...attribute.KeyValue) Logger {
	clone := *l
	clone.attrs = append(append([]attribute.KeyValue{}, l.attrs...), attrs...)
	return &clone
}

func (l *zapLogger) WithComponent(component string) Logger {
	clone := *l
	if clone.component == "" {
		clone.component = component
	} else {
		clone.component += "." + component
	}
	return &clone
}

func (l *zapLogger) WithDuration(v time.Duration) Logger {
	return l.With(attribute.String(durationKey, v.String()))
}

func (l *zapLogger) Debug(ctx context.Context, message string) {
	l.log(ctx, DebugLevel, message)
}

func (l *zapLogger) Info(ctx context.Context, message string) {
	l.log(ctx, InfoLevel, message)
}

func (l *zapLogger) Warn(ctx context.Context, message string) {
	l.log(ctx, WarnLevel, message)
}

func (l *zapLogger) Error(ctx context.Context, message string) {
	l.log(ctx, ErrorLevel, message)
}

func (l *zapLogger) Log(ctx context.Context, level string, message string) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = InfoLevel
	}
	l.log(ctx, lvl, message)
}

func (l *zapLogger) Debugf(ctx context.Context, template string, args ...any) {
	l.log(ctx, DebugLevel, fmt.Sprintf(template, args...))
}

func (l *zapLogger) Infof(ctx context.Context, template string, args ...any) {
	l.log(ctx, InfoLevel, fmt.Sprintf(template, args...))
}

func (l *zapLogger) Warnf(ctx context.Context, template string, args ...any) {
	l.log(ctx, WarnLevel, fmt.Sprintf(template, args...))
}

func (l *zapLogger) Errorf(ctx context.Context, template string, args ...any) {
	l.log(ctx, ErrorLevel, fmt.Sprintf(template, args...))
}

func (l *zapLogger) Sync() error {
	return l.logger.Sync()
}

func (l *zapLogger) log(ctx context.Context, level zapcore.Level, message string) {
	if !l.logger.Core().Enabled(level) {
		return
	}

	set := l.attributes(ctx)
	if ce := l.logger.Check(level, replacePlaceholders(message, set)); ce != nil {
		ce.Write(toZapFields(set)...)
	}
}

// attributes merges context and logger attributes, the logger attributes have priority.
func (l *zapLogger) attributes(ctx context.Context) *attribute.Set {
	ctxSet := ctxattr.Attributes(ctx)
	kvs := make([]attribute.KeyValue, 0, ctxSet.Len()+len(l.attrs)+1)
	kvs = append(kvs, ctxSet.ToSlice()...)
	kvs = append(kvs, l.attrs...)
	if l.component != "" {
		kvs = append(kvs, attribute.String(componentKey, l.component))
	}
	set := attribute.NewSet(kvs...)
	return &set
}

func replacePlaceholders(message string, set *attribute.Set) string {
	return regexpcache.MustCompile(placeholderExp).ReplaceAllStringFunc(message, func(placeholder string) string {
		if v, ok := set.Value(attribute.Key(placeholder[1 : len(placeholder)-1])); ok {
			return v.Emit()
		}
		return placeholder
	})
}

func toZapFields(set *attribute.Set) []zapcore.Field {
	out := make([]zapcore.Field, 0, set.Len())
	for iter := set.Iter(); iter.Next(); {
		kv := iter.Attribute()
		key := string(kv.Key)
		switch kv.Value.Type() {
		case attribute.BOOL:
			out = append(out, zap.Bool(key, kv.Value.AsBool()))
		case attribute.INT64:
			out = append(out, zap.Int64(key, kv.Value.AsInt64()))
		case attribute.FLOAT64:
			out = append(out, zap.Float64(key, kv.Value.AsFloat64()))
		case attribute.STRING:
			out = append(out, zap.String(key, kv.Value.AsString()))
		default:
			out = append(out, zap.String(key, kv.Value.Emit()))
		}
	}
	return out
}
