// Package scheduler provides the change set claim scheduler.
//
// Each tick runs the reaper, finds eligible groups, claims the head of each group under the tenant lock
// and dispatches the claimed change sets to handlers. Several scheduler processes can tick concurrently
// against the same repository and lock provider.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/keboola/changeset-scheduler/internal/pkg/ctxattr"
	"github.com/keboola/changeset-scheduler/internal/pkg/idgenerator"
	"github.com/keboola/changeset-scheduler/internal/pkg/log"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/handler"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/model"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/repository"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/common/distlock"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/common/servicectx"
	"github.com/keboola/changeset-scheduler/internal/pkg/telemetry"
	"github.com/keboola/changeset-scheduler/internal/pkg/utils/errors"
)

type dependencies interface {
	Clock() clockwork.Clock
	Logger() log.Logger
	Telemetry() telemetry.Telemetry
	Process() *servicectx.Process
	ChangeSetRepository() repository.Repository
	DistributedLockProvider() distlock.Provider
	HandlerRegistry() *handler.Registry
}

type Scheduler struct {
	config     Config
	clock      clockwork.Clock
	logger     log.Logger
	telemetry  telemetry.Telemetry
	metrics    *metrics
	aggregator *aggregator
	claimer    *claimer
	dispatcher *dispatcher
	reaper     *reaper
}

// TickResult summarizes one tick.
type TickResult struct {
	Reaped   bool
	Expired  int64
	Requeued int64
	Skipped  int64
	Eligible []model.GroupKey
	Claimed  []model.ChangeSetKey
}

func New(d dependencies, cfg Config) *Scheduler {
	logger := d.Logger().WithComponent("changeset.scheduler")
	m := newMetrics(d.Telemetry().Meter())
	s := &Scheduler{
		config:     cfg,
		clock:      d.Clock(),
		logger:     logger,
		telemetry:  d.Telemetry(),
		metrics:    m,
		aggregator: &aggregator{repo: d.ChangeSetRepository()},
		claimer: &claimer{
			config:    cfg,
			clock:     d.Clock(),
			logger:    logger,
			telemetry: d.Telemetry(),
			metrics:   m,
			repo:      d.ChangeSetRepository(),
			locks:     d.DistributedLockProvider(),
		},
		dispatcher: &dispatcher{
			config:    cfg,
			clock:     d.Clock(),
			logger:    logger,
			telemetry: d.Telemetry(),
			metrics:   m,
			repo:      d.ChangeSetRepository(),
			handlers:  d.HandlerRegistry(),
		},
	}
	s.reaper = newReaper(cfg, d.Clock(), logger.WithComponent("reaper"), d.Telemetry(), m, d.ChangeSetRepository())
	return s
}

// Start creates the scheduler and runs the first tick immediately, then ticks periodically until shutdown.
func Start(d dependencies, cfg Config) (*Scheduler, error) {
	s := New(d, cfg)

	ctx := context.Background()
	if !cfg.Enabled {
		s.logger.Info(ctx, "change set scheduler is disabled")
		return s, nil
	}

	// Graceful shutdown
	ctx, cancel := context.WithCancelCause(ctx)
	wg := &sync.WaitGroup{}
	d.Process().OnShutdown(func(ctx context.Context) {
		s.logger.Info(ctx, "received shutdown request")
		cancel(errors.New("shutting down: changeset scheduler"))
		wg.Wait()
		s.logger.Info(ctx, "shutdown done")
	})

	// Start timer
	wg.Add(1)
	go func() {
		defer wg.Done()

		ticker := s.clock.NewTicker(cfg.Interval)
		defer ticker.Stop()

		for {
			s.Tick(ctx)

			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				continue
			}
		}
	}()

	return s, nil
}

// Tick runs one scheduling pass. Errors are logged, never returned, so the next tick always runs.
func (s *Scheduler) Tick(ctx context.Context) (result TickResult) {
	if ctx.Err() != nil {
		return result
	}

	startTime := s.clock.Now()
	ctx = ctxattr.ContextWith(ctx, attribute.String("tick.id", idgenerator.TickID()))
	ctx, span := s.telemetry.Tracer().Start(ctx, "keboola.go.changeset.scheduler.tick")

	var err error
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %s", fmt.Sprint(r))
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Errorf(ctx, "change set scheduler tick failed: %s", err)
			s.metrics.tickErrors.Add(ctx, 1)
		}
		span.SetAttributes(
			attribute.Int("eligibleGroupsCount", len(result.Eligible)),
			attribute.Int("claimedCount", len(result.Claimed)),
		)
		span.End(&err)
		s.metrics.tickDuration.Record(ctx, float64(s.clock.Since(startTime))/float64(time.Millisecond), metric.WithAttributes(attribute.Bool("failed", err != nil)))
	}()

	err = s.tick(ctx, &result)
	return result
}

func (s *Scheduler) tick(ctx context.Context, result *TickResult) error {
	// Reaper failure doesn't block claims
	reaped, reaperResult, err := s.reaper.Run(ctx)
	result.Reaped, result.Expired, result.Requeued, result.Skipped = reaped, reaperResult.Expired, reaperResult.Requeued, reaperResult.Skipped
	if err != nil {
		s.logger.Errorf(ctx, "change set reaper failed: %s", err)
	}

	queued, err := s.aggregator.QueuedGroups(ctx)
	if err != nil {
		return errors.PrefixError(err, "cannot load queued groups")
	}
	running, err := s.aggregator.RunningGroups(ctx)
	if err != nil {
		return errors.PrefixError(err, "cannot load running groups")
	}

	result.Eligible = eligibleGroups(queued, running, s.config.MaxRunningPerTenant)
	if len(result.Eligible) == 0 {
		s.logger.Debug(ctx, "no eligible group")
		return nil
	}

	// Claimed change sets are dispatched even if a later claim fails
	var claimed []model.ChangeSet
	var claimErr error
	for _, group := range result.Eligible {
		if ctx.Err() != nil {
			claimErr = ctx.Err()
			break
		}
		item, err := s.claimer.Claim(ctx, group)
		if err != nil {
			claimErr = errors.PrefixErrorf(err, `cannot claim group "%s"`, group)
			break
		}
		if item != nil {
			claimed = append(claimed, *item)
			result.Claimed = append(result.Claimed, item.ChangeSetKey)
		}
	}

	s.dispatcher.Dispatch(ctx, claimed)
	return claimErr
}
