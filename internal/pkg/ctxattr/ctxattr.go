// Package ctxattr stores telemetry attributes in a context.
// The attributes are added to each log record, see the log package.
package ctxattr

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
)

type ctxKey string

const attributesCtxKey = ctxKey("ctxattr")

// ContextWith returns a new context with the attributes merged to the existing ones.
// The newer value of the same key wins.
func ContextWith(ctx context.Context, attrs ...attribute.KeyValue) context.Context {
	existing := Attributes(ctx).ToSlice()
	set := attribute.NewSet(append(existing, attrs...)...)
	return context.WithValue(ctx, attributesCtxKey, &set)
}

// Attributes returns the attributes stored in the context, the set is empty if there are none.
func Attributes(ctx context.Context) *attribute.Set {
	if set, ok := ctx.Value(attributesCtxKey).(*attribute.Set); ok {
		return set
	}
	return attribute.EmptySet()
}
