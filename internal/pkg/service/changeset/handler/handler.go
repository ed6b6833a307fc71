// Package handler maps the change set direction to the code which processes the change set.
package handler

import (
	"context"

	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/model"
)

// Handler processes one claimed change set.
// A returned error marks the change set as Failed, there is no automatic retry.
type Handler interface {
	Process(ctx context.Context, v model.ChangeSet) error
}

type Func func(ctx context.Context, v model.ChangeSet) error

// Registry is a lookup table of handlers by the direction.
type Registry struct {
	handlers map[model.Direction]Handler
}

func (f Func) Process(ctx context.Context, v model.ChangeSet) error {
	return f(ctx, v)
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[model.Direction]Handler)}
}

// Register sets the handler for the direction, an existing handler is replaced.
func (r *Registry) Register(direction model.Direction, h Handler) *Registry {
	r.handlers[direction] = h
	return r
}

func (r *Registry) Lookup(direction model.Direction) (Handler, bool) {
	h, ok := r.handlers[direction]
	return h, ok
}
