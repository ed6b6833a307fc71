// nolint:forbidigo // allow usage of the "zap" package
package log

import (
	"bytes"
	"strings"
	"sync"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

// DebugLogger keeps messages in memory, it is used in tests.
// All levels are logged as JSON lines without the time field.
type DebugLogger interface {
	Logger
	Truncate()
	AllMessages() string
	WarnAndErrorMessages() string
	CompareJSONMessages(expected string) error
	AssertJSONMessages(t assert.TestingT, expected string, msgAndArgs ...any) bool
	AssertNoWarnOrError(t assert.TestingT) bool
}

type debugLogger struct {
	*zapLogger
	all         *syncBuffer
	warnOrError *syncBuffer
}

type syncBuffer struct {
	lock *sync.Mutex
	buf  bytes.Buffer
}

func NewDebugLogger() DebugLogger {
	l := &debugLogger{
		all:         &syncBuffer{lock: &sync.Mutex{}},
		warnOrError: &syncBuffer{lock: &sync.Mutex{}},
	}

	encoder := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		LevelKey:       "level",
		MessageKey:     "message",
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	})

	l.zapLogger = loggerFromZapCore(zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.AddSync(l.all), DebugLevel),
		zapcore.NewCore(encoder.Clone(), zapcore.AddSync(l.warnOrError), WarnLevel),
	))

	return l
}

func (l *debugLogger) Truncate() {
	l.all.Reset()
	l.warnOrError.Reset()
}

func (l *debugLogger) AllMessages() string {
	return l.all.String()
}

func (l *debugLogger) WarnAndErrorMessages() string {
	return l.warnOrError.String()
}

func (l *debugLogger) CompareJSONMessages(expected string) error {
	return CompareJSONMessages(expected, l.AllMessages())
}

func (l *debugLogger) AssertJSONMessages(t assert.TestingT, expected string, msgAndArgs ...any) bool {
	return AssertJSONMessages(t, expected, l.AllMessages(), msgAndArgs...)
}

func (l *debugLogger) AssertNoWarnOrError(t assert.TestingT) bool {
	return assert.Empty(t, strings.TrimSpace(l.WarnAndErrorMessages()), "unexpected warning or error message")
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Reset() {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.buf.Reset()
}
