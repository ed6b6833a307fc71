package scheduler

import (
	"context"

	"github.com/jonboulle/clockwork"

	"github.com/keboola/changeset-scheduler/internal/pkg/ctxattr"
	"github.com/keboola/changeset-scheduler/internal/pkg/log"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/model"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/repository"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/common/distlock"
	"github.com/keboola/changeset-scheduler/internal/pkg/telemetry"
	"github.com/keboola/changeset-scheduler/internal/pkg/utils/errors"
)

const claimLockPrefix = "changeset/claim/"

// claimer moves the head of a group queue from Queued to Running.
// All claims of one tenant are serialized by the tenant lock,
// the final status change is a compare-and-set, so a lost race doesn't claim a change set twice.
type claimer struct {
	config    Config
	clock     clockwork.Clock
	logger    log.Logger
	telemetry telemetry.Telemetry
	metrics   *metrics
	repo      repository.Repository
	locks     distlock.Provider
}

// Claim returns the claimed change set or nil, if there is nothing to claim.
// A lock failure or a lost race is not an error, the group is skipped until the next tick.
func (c *claimer) Claim(ctx context.Context, group model.GroupKey) (result *model.ChangeSet, err error) {
	ctx = ctxattr.ContextWith(ctx, group.Telemetry()...)
	ctx, span := c.telemetry.Tracer().Start(ctx, "keboola.go.changeset.scheduler.claim")
	defer span.End(&err)

	mtx := c.locks.NewMutex(claimLockPrefix + string(group.TenantID))
	if err := c.lock(ctx, mtx); err != nil {
		switch {
		case ctx.Err() != nil:
			c.logger.Info(ctx, `claim of "<tenant.id>/<queue.key>" skipped: the tick has been cancelled`)
		case errors.Is(err, distlock.ErrLockTimeout):
			c.logger.Info(ctx, `claim of "<tenant.id>/<queue.key>" skipped: tenant lock timeout`)
			c.metrics.claim(ctx, claimResultLockTimeout)
		default:
			c.logger.Warnf(ctx, `claim of "<tenant.id>/<queue.key>" skipped: cannot lock tenant: %s`, err)
			c.metrics.claim(ctx, claimResultLockError)
		}
		return nil, nil
	}
	defer func() {
		if err := mtx.Unlock(context.WithoutCancel(ctx)); err != nil {
			c.logger.Warnf(ctx, `cannot unlock tenant lock: %s`, err)
		}
	}()

	// State may have changed before the lock was acquired
	running, err := c.repo.GroupCounts(ctx, model.StatusRunning, repository.Filter{TenantID: group.TenantID})
	if err != nil {
		return nil, err
	}
	runningSet := model.NewGroupSet(running)
	if runningSet.Has(group) {
		c.logger.Debug(ctx, `claim of "<tenant.id>/<queue.key>" skipped: the group is running`)
		c.metrics.claim(ctx, claimResultBusy)
		return nil, nil
	}
	if runningSet.CountByTenant()[group.TenantID] >= c.config.MaxRunningPerTenant {
		c.logger.Debug(ctx, `claim of "<tenant.id>/<queue.key>" skipped: the tenant reached the limit of running change sets`)
		c.metrics.claim(ctx, claimResultBusy)
		return nil, nil
	}

	queued, err := c.repo.ListByStatus(ctx, model.StatusQueued, repository.Filter{TenantID: group.TenantID, QueueKey: group.QueueKey})
	if err != nil {
		return nil, err
	}
	if len(queued) == 0 {
		c.metrics.claim(ctx, claimResultEmpty)
		return nil, nil
	}

	model.SortByPriority(queued)
	head := queued[0]
	now := c.clock.Now()

	ok, err := c.repo.Claim(ctx, head.ChangeSetKey, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		c.logger.With(head.Telemetry()...).Info(ctx, `claim of "<changeSet.id>" skipped: the change set has been modified`)
		c.metrics.claim(ctx, claimResultConflict)
		return nil, nil
	}

	head.Status = model.StatusRunning
	head.LastUpdatedAt = now.UTC()
	c.logger.With(head.Telemetry()...).Infof(ctx, `claimed change set "<changeSet.id>" (%s)`, head.EventType)
	c.metrics.claim(ctx, claimResultClaimed)
	return &head, nil
}

func (c *claimer) lock(ctx context.Context, mtx distlock.Mutex) error {
	lockCtx, cancel := context.WithTimeout(ctx, c.config.LockWaitTimeout)
	defer cancel()
	return mtx.Lock(lockCtx)
}
