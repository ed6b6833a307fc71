package scheduler

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/keboola/changeset-scheduler/internal/pkg/ctxattr"
	"github.com/keboola/changeset-scheduler/internal/pkg/log"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/handler"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/model"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/repository"
	"github.com/keboola/changeset-scheduler/internal/pkg/telemetry"
	"github.com/keboola/changeset-scheduler/internal/pkg/utils/errors"
)

// dispatcher hands claimed change sets to handlers.
// Success moves the change set to Done, an error or a panic moves it to Failed.
type dispatcher struct {
	config    Config
	clock     clockwork.Clock
	logger    log.Logger
	telemetry telemetry.Telemetry
	metrics   *metrics
	repo      repository.Repository
	handlers  *handler.Registry
}

// Dispatch processes each change set once, at most DispatchConcurrency in parallel.
func (d *dispatcher) Dispatch(ctx context.Context, items []model.ChangeSet) {
	grp := &errgroup.Group{}
	grp.SetLimit(d.config.DispatchConcurrency)
	for _, item := range items {
		grp.Go(func() error {
			d.dispatch(ctx, item)
			return nil
		})
	}
	_ = grp.Wait()
}

func (d *dispatcher) dispatch(ctx context.Context, v model.ChangeSet) {
	// A claimed change set is processed to the end, a shutdown of the tick doesn't interrupt the handler
	ctx = context.WithoutCancel(ctx)
	ctx = ctxattr.ContextWith(ctx, v.Telemetry()...)
	ctx, span := d.telemetry.Tracer().Start(ctx, "keboola.go.changeset.scheduler.dispatch")

	err := d.process(ctx, v)
	span.End(&err)

	now := d.clock.Now()
	transition := model.Transition{Key: v.ChangeSetKey, From: model.StatusRunning, To: model.StatusDone, At: now}
	if err != nil {
		d.logger.Warnf(ctx, `change set "<changeSet.id>" failed: %s`, err)
		transition.To = model.StatusFailed
		transition.Reason = err.Error()
	}

	ok, err := d.repo.Transition(ctx, transition)
	if err != nil {
		d.logger.Errorf(ctx, `cannot mark change set "<changeSet.id>" as "%s": %s`, transition.To, err)
		return
	}
	if !ok {
		// For example, the reaper re-queued the change set in the meantime
		d.logger.Warnf(ctx, `cannot mark change set "<changeSet.id>" as "%s": the change set is no longer running`, transition.To)
		return
	}

	d.metrics.dispatch(ctx, string(transition.To))
	if transition.To == model.StatusDone {
		d.logger.Info(ctx, `change set "<changeSet.id>" done`)
	}
}

// process calls the handler, a panic is converted to an error.
func (d *dispatcher) process(ctx context.Context, v model.ChangeSet) (err error) {
	h, ok := d.handlers.Lookup(v.Direction)
	if !ok {
		return errors.Errorf(`no handler for the direction "%s"`, v.Direction)
	}

	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("handler panic: %s", fmt.Sprint(r))
		}
	}()

	return h.Process(ctx, v)
}
