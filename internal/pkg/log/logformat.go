package log

import (
	"strings"

	"github.com/keboola/changeset-scheduler/internal/pkg/utils/errors"
)

// LogFormat selects the zap encoder of the service logger.
type LogFormat string

const (
	LogFormatConsole LogFormat = "console"
	LogFormatJSON    LogFormat = "json"
)

var logFormats = []LogFormat{LogFormatJSON, LogFormatConsole}

// NewLogFormat parses the format name, case-insensitive.
// An empty value means JSON, the machine-readable format for services.
func NewLogFormat(format string) (LogFormat, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		return LogFormatJSON, nil
	}

	for _, f := range logFormats {
		if string(f) == format {
			return f, nil
		}
	}

	return "", errors.Errorf(`unexpected log format "%s", expected one of: %s`, format, strings.Join(logFormatNames(), ", "))
}

func logFormatNames() (out []string) {
	for _, f := range logFormats {
		out = append(out, string(f))
	}
	return out
}
