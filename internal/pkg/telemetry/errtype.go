package telemetry

import (
	"context"
	"net"

	"github.com/keboola/changeset-scheduler/internal/pkg/utils/errors"
)

// WithErrorType can be implemented by an error to provide its own type for metrics and spans.
type WithErrorType interface {
	error
	ErrorType() string
}

// ErrorType returns a low-cardinality error type for metrics and spans attributes.
func ErrorType(err error) string {
	if err == nil {
		return ""
	}

	var typed WithErrorType
	if errors.As(err, &typed) {
		return typed.ErrorType()
	}

	if errors.Is(err, context.Canceled) {
		return "context_canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "deadline_exceeded"
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "net_timeout"
		}
		return "net"
	}

	return "other"
}
