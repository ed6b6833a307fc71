package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keboola/changeset-scheduler/internal/pkg/utils/errors"
)

// Span wraps the trace.Span, the status is set from the error pointer on End.
type Span interface {
	End(errPtr *error, opts ...trace.SpanEndOption)
	SetAttributes(kv ...attribute.KeyValue)
}

type span struct {
	span trace.Span
}

func (s *span) SetAttributes(kv ...attribute.KeyValue) {
	s.span.SetAttributes(kv...)
}

// End ends the span, errPtr can point to a named return value.
// A cancelled operation, for example on shutdown, is not marked as an error.
func (s *span) End(errPtr *error, opts ...trace.SpanEndOption) {
	defer s.span.End(opts...)

	if errPtr == nil {
		return
	}

	err := *errPtr
	switch {
	case err == nil:
		s.span.SetStatus(codes.Ok, "")
	case errors.Is(err, context.Canceled):
		s.span.SetAttributes(attribute.Bool("cancelled", true))
	default:
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
		s.span.SetAttributes(attribute.String("error.type", ErrorType(err)))
	}
}
