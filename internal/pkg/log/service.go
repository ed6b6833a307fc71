// nolint:forbidigo // allow usage of the "zap" package
package log

import (
	"io"

	"go.uber.org/zap/zapcore"
)

// NewServiceLogger creates the production logger of a long-running service.
// Debug messages are logged only if the debug flag is set.
func NewServiceLogger(w io.Writer, debug bool, format LogFormat) Logger {
	level := InfoLevel
	if debug {
		level = DebugLevel
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		MessageKey:     "message",
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}

	var encoder zapcore.Encoder
	if format == LogFormatJSON {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	return loggerFromZapCore(zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(w)), level))
}

// NewNopLogger returns a logger that discards all messages.
func NewNopLogger() Logger {
	return loggerFromZapCore(zapcore.NewNopCore())
}
