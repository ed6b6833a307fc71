package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/keboola/changeset-scheduler/internal/pkg/ctxattr"
	"github.com/keboola/changeset-scheduler/internal/pkg/log"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/model"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/repository"
	"github.com/keboola/changeset-scheduler/internal/pkg/telemetry"
	"github.com/keboola/changeset-scheduler/internal/pkg/utils/errors"
)

const stuckReason = "running for too long without an update"

// reaper skips change sets queued for too long and recovers stuck running change sets.
// It runs at most once per ReaperInterval in the process, the last run time is owned by the reaper.
type reaper struct {
	config    Config
	clock     clockwork.Clock
	logger    log.Logger
	telemetry telemetry.Telemetry
	metrics   *metrics
	repo      repository.Repository

	// lastRun contains unix nanoseconds of the last run start, 0 means never.
	lastRun *atomic.Int64
}

type reaperResult struct {
	Expired  int64
	Requeued int64
	Skipped  int64
}

func newReaper(cfg Config, clk clockwork.Clock, logger log.Logger, tel telemetry.Telemetry, m *metrics, repo repository.Repository) *reaper {
	return &reaper{
		config:    cfg,
		clock:     clk,
		logger:    logger,
		telemetry: tel,
		metrics:   m,
		repo:      repo,
		lastRun:   atomic.NewInt64(0),
	}
}

// Run runs the reaper, if the interval from the last run elapsed.
// The first return value is false, if the run has been throttled.
func (r *reaper) Run(ctx context.Context) (bool, reaperResult, error) {
	now := r.clock.Now()
	last := r.lastRun.Load()
	if last != 0 && now.Sub(time.Unix(0, last)) < r.config.ReaperInterval {
		return false, reaperResult{}, nil
	}
	if !r.lastRun.CompareAndSwap(last, now.UnixNano()) {
		// Concurrent run
		return false, reaperResult{}, nil
	}

	result, err := r.run(ctx, now)
	return true, result, err
}

func (r *reaper) run(ctx context.Context, now time.Time) (result reaperResult, err error) {
	ctx, span := r.telemetry.Tracer().Start(ctx, "keboola.go.changeset.scheduler.reaper")
	defer span.End(&err)

	defer func() {
		span.SetAttributes(
			attribute.Int64("expiredCount", result.Expired),
			attribute.Int64("requeuedCount", result.Requeued),
			attribute.Int64("skippedCount", result.Skipped),
		)
	}()

	errs := errors.NewMultiError()

	// Queued for too long, regardless of the retry count
	if expired, err := r.repo.BulkExpire(ctx, now.Add(-r.config.MaxQueueDuration), now); err == nil {
		result.Expired = expired
		r.metrics.reap(ctx, string(model.StatusSkipped), expired)
		if expired > 0 {
			r.logger.With(attribute.Int64("expiredCount", expired)).Info(ctx, `skipped "<expiredCount>" expired queued change sets`)
		}
	} else {
		errs.Append(errors.PrefixError(err, "cannot expire queued change sets"))
	}

	// Running without an update for too long
	requeued, skipped, err := r.recoverStuck(ctx, now)
	result.Requeued, result.Skipped = requeued, skipped
	if err != nil {
		errs.Append(errors.PrefixError(err, "cannot recover stuck change sets"))
	}

	return result, errs.ErrorOrNil()
}

func (r *reaper) recoverStuck(ctx context.Context, now time.Time) (int64, int64, error) {
	stuck, err := r.repo.ListByStatus(ctx, model.StatusRunning, repository.Filter{UpdatedBefore: now.Add(-r.config.StuckRunningTimeout)})
	if err != nil {
		return 0, 0, err
	}

	byTenant := make(map[model.TenantID][]model.ChangeSet)
	for _, item := range stuck {
		byTenant[item.TenantID] = append(byTenant[item.TenantID], item)
	}
	tenants := make([]model.TenantID, 0, len(byTenant))
	for tenant := range byTenant {
		tenants = append(tenants, tenant)
	}
	sort.Slice(tenants, func(i, j int) bool { return tenants[i] < tenants[j] })

	requeued := atomic.NewInt64(0)
	skipped := atomic.NewInt64(0)
	errs := errors.NewMultiError()

	grp := &errgroup.Group{}
	grp.SetLimit(r.config.ReaperConcurrency)
	for _, tenant := range tenants {
		items := byTenant[tenant]
		grp.Go(func() error {
			ctx := ctxattr.ContextWith(ctx, attribute.String("tenant.id", string(tenant)))
			tenantRequeued, tenantSkipped := int64(0), int64(0)
			for _, item := range items {
				to, ok, err := r.recoverOne(ctx, item, now)
				if err != nil {
					errs.Append(err)
					continue
				}
				if !ok {
					continue
				}
				if to == model.StatusQueued {
					tenantRequeued++
				} else {
					tenantSkipped++
				}
			}

			requeued.Add(tenantRequeued)
			skipped.Add(tenantSkipped)
			if tenantRequeued+tenantSkipped > 0 {
				r.logger.
					With(attribute.Int64("requeuedCount", tenantRequeued), attribute.Int64("skippedCount", tenantSkipped)).
					Info(ctx, `recovered stuck change sets of tenant "<tenant.id>": requeued "<requeuedCount>", skipped "<skippedCount>"`)
			}
			return nil
		})
	}
	_ = grp.Wait()

	r.metrics.reap(ctx, string(model.StatusQueued), requeued.Load())
	r.metrics.reap(ctx, string(model.StatusSkipped), skipped.Load())
	return requeued.Load(), skipped.Load(), errs.ErrorOrNil()
}

// recoverOne increments the retry count and moves the change set back to Queued,
// or to Skipped, if the new retry count exceeds MaxRetries.
func (r *reaper) recoverOne(ctx context.Context, item model.ChangeSet, now time.Time) (model.Status, bool, error) {
	to := model.StatusQueued
	if item.RetryCount+1 > r.config.MaxRetries {
		to = model.StatusSkipped
	}

	ok, err := r.repo.Transition(ctx, model.Transition{
		Key:            item.ChangeSetKey,
		From:           model.StatusRunning,
		To:             to,
		At:             now,
		IncrementRetry: true,
		Reason:         stuckReason,
	})
	if err != nil {
		return to, false, err
	}
	if !ok {
		r.logger.With(item.Telemetry()...).Debug(ctx, `stuck change set "<changeSet.id>" has been modified in the meantime`)
	}
	return to, ok, nil
}
