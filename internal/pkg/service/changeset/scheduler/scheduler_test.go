package scheduler_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/atomic"

	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/config"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/dependencies"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/handler"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/model"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/repository"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/repository/repotest"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/repository/sqliterepo"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/scheduler"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/common/distlock"
	"github.com/keboola/changeset-scheduler/internal/pkg/utils/errors"
)

// recorder is a handler which records processed change sets.
type recorder struct {
	lock      sync.Mutex
	processed []string
	fn        func(ctx context.Context, v model.ChangeSet) error
}

func (r *recorder) Process(ctx context.Context, v model.ChangeSet) error {
	r.lock.Lock()
	r.processed = append(r.processed, string(v.ChangeSetID))
	r.lock.Unlock()
	if r.fn != nil {
		return r.fn(ctx, v)
	}
	return nil
}

func (r *recorder) Processed() []string {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]string(nil), r.processed...)
}

func createAll(t *testing.T, repo repository.Repository, items ...model.ChangeSet) {
	t.Helper()
	for _, v := range items {
		require.NoError(t, repo.Create(context.Background(), v))
	}
}

func status(t *testing.T, repo repository.Repository, tenant, queue, id string) model.ChangeSet {
	t.Helper()
	v, err := repo.Get(context.Background(), model.ChangeSetKey{TenantID: model.TenantID(tenant), QueueKey: model.QueueKey(queue), ChangeSetID: model.ChangeSetID(id)})
	require.NoError(t, err)
	return v
}

func claimedIDs(result scheduler.TickResult) (out []string) {
	for _, k := range result.Claimed {
		out = append(out, string(k.ChangeSetID))
	}
	return out
}

func TestScheduler_Tick_PriorityOrder(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	d, mock := dependencies.NewMockedServiceScope(t, dependencies.WithHandler(model.DirectionExternalToInternal, rec))
	repo := d.ChangeSetRepository()
	ctx := mock.TestContext()

	// Queue order is push, sync, create, the claim order is create, sync, push
	createAll(t, repo,
		repotest.ChangeSet("tenant1", "queue1", "push", model.EventTypePush, model.StatusQueued, 3*time.Hour),
		repotest.ChangeSet("tenant1", "queue1", "sync", model.EventTypeSync, model.StatusQueued, 2*time.Hour),
		repotest.ChangeSet("tenant1", "queue1", "create", model.EventTypeCreate, model.StatusQueued, time.Hour),
	)

	s := scheduler.New(d, mock.TestConfig().Scheduler)

	// Tick 1
	result := s.Tick(ctx)
	assert.Equal(t, []string{"create"}, claimedIDs(result))
	assert.Equal(t, model.StatusDone, status(t, repo, "tenant1", "queue1", "create").Status)
	assert.Equal(t, model.StatusQueued, status(t, repo, "tenant1", "queue1", "sync").Status)

	// Tick 2
	mock.MockedClock().Advance(time.Minute)
	assert.Equal(t, []string{"sync"}, claimedIDs(s.Tick(ctx)))

	// Tick 3
	mock.MockedClock().Advance(time.Minute)
	assert.Equal(t, []string{"push"}, claimedIDs(s.Tick(ctx)))

	// Nothing left
	assert.Empty(t, s.Tick(ctx).Claimed)
	assert.Equal(t, []string{"create", "sync", "push"}, rec.Processed())

	for _, id := range []string{"create", "sync", "push"} {
		assert.Equal(t, model.StatusDone, status(t, repo, "tenant1", "queue1", id).Status)
	}

	assert.Equal(t, int64(3), mock.TestTelemetry().Int64Sum(t, "changeset.scheduler.dispatches"))
	mock.DebugLogger().AssertJSONMessages(t, `
{"level":"info","message":"claimed change set \"create\" (create)","component":"changeset.scheduler","tenant.id":"tenant1","queue.key":"queue1","changeSet.id":"create","tick.id":"%s"}
{"level":"info","message":"change set \"create\" done","component":"changeset.scheduler"}
{"level":"info","message":"claimed change set \"sync\" (sync)","component":"changeset.scheduler"}
{"level":"info","message":"change set \"sync\" done","component":"changeset.scheduler"}
{"level":"info","message":"claimed change set \"push\" (push)","component":"changeset.scheduler"}
{"level":"info","message":"change set \"push\" done","component":"changeset.scheduler"}
`)
	mock.DebugLogger().AssertNoWarnOrError(t)
}

func TestScheduler_Tick_GroupExclusion(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	d, mock := dependencies.NewMockedServiceScope(t, dependencies.WithHandler(model.DirectionExternalToInternal, rec))
	repo := d.ChangeSetRepository()

	createAll(t, repo,
		repotest.ChangeSet("tenant1", "queue1", "running", model.EventTypeSync, model.StatusRunning, time.Minute),
		repotest.ChangeSet("tenant1", "queue1", "waiting", model.EventTypeCreate, model.StatusQueued, time.Hour),
		repotest.ChangeSet("tenant1", "queue2", "other", model.EventTypePush, model.StatusQueued, time.Hour),
	)

	result := scheduler.New(d, mock.TestConfig().Scheduler).Tick(mock.TestContext())
	assert.Equal(t, []model.GroupKey{{TenantID: "tenant1", QueueKey: "queue2"}}, result.Eligible)
	assert.Equal(t, []string{"other"}, claimedIDs(result))
	assert.Equal(t, []string{"other"}, rec.Processed())
	assert.Equal(t, model.StatusRunning, status(t, repo, "tenant1", "queue1", "running").Status)
	assert.Equal(t, model.StatusQueued, status(t, repo, "tenant1", "queue1", "waiting").Status)
}

func TestScheduler_Tick_TenantLimit(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	d, mock := dependencies.NewMockedServiceScope(t,
		dependencies.WithHandler(model.DirectionExternalToInternal, rec),
		dependencies.WithConfig(func(cfg *config.Config) {
			cfg.Scheduler.MaxRunningPerTenant = 2
		}),
	)
	repo := d.ChangeSetRepository()

	createAll(t, repo,
		repotest.ChangeSet("tenant1", "queue0", "running", model.EventTypeSync, model.StatusRunning, time.Minute),
		repotest.ChangeSet("tenant1", "queue1", "t1q1", model.EventTypeSync, model.StatusQueued, time.Hour),
		repotest.ChangeSet("tenant1", "queue2", "t1q2", model.EventTypeSync, model.StatusQueued, time.Hour),
		repotest.ChangeSet("tenant1", "queue3", "t1q3", model.EventTypeSync, model.StatusQueued, time.Hour),
		repotest.ChangeSet("tenant2", "queue1", "t2q1", model.EventTypeSync, model.StatusQueued, time.Hour),
	)

	// All groups are eligible, but the limit is checked again under the tenant lock
	result := scheduler.New(d, mock.TestConfig().Scheduler).Tick(mock.TestContext())
	assert.Len(t, result.Eligible, 4)
	assert.Equal(t, []string{"t1q1", "t2q1"}, claimedIDs(result))
	assert.Equal(t, model.StatusQueued, status(t, repo, "tenant1", "queue2", "t1q2").Status)
	assert.Equal(t, model.StatusQueued, status(t, repo, "tenant1", "queue3", "t1q3").Status)
	assert.Equal(t, int64(4), mock.TestTelemetry().Int64Sum(t, "changeset.scheduler.claims"))

	mock.DebugLogger().AssertJSONMessages(t, `
{"level":"info","message":"claimed change set \"t1q1\" (sync)"}
{"level":"debug","message":"claim of \"tenant1/queue2\" skipped: the tenant reached the limit of running change sets"}
{"level":"debug","message":"claim of \"tenant1/queue3\" skipped: the tenant reached the limit of running change sets"}
{"level":"info","message":"claimed change set \"t2q1\" (sync)"}
`)
}

func TestScheduler_Tick_LockTimeout(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	d, mock := dependencies.NewMockedServiceScope(t,
		dependencies.WithHandler(model.DirectionExternalToInternal, rec),
		dependencies.WithConfig(func(cfg *config.Config) {
			cfg.Scheduler.LockWaitTimeout = 50 * time.Millisecond
		}),
	)
	repo := d.ChangeSetRepository()
	ctx := mock.TestContext()

	createAll(t, repo,
		repotest.ChangeSet("tenant1", "queue1", "t1q1", model.EventTypeSync, model.StatusQueued, time.Hour),
		repotest.ChangeSet("tenant2", "queue1", "t2q1", model.EventTypeSync, model.StatusQueued, time.Hour),
	)

	// Another replica holds the tenant1 lock
	mtx := d.DistributedLockProvider().NewMutex("changeset/claim/tenant1")
	require.NoError(t, mtx.Lock(ctx))

	s := scheduler.New(d, mock.TestConfig().Scheduler)
	result := s.Tick(ctx)
	assert.Equal(t, []string{"t2q1"}, claimedIDs(result))
	assert.Equal(t, model.StatusQueued, status(t, repo, "tenant1", "queue1", "t1q1").Status)
	mock.DebugLogger().AssertJSONMessages(t, `
{"level":"info","message":"claim of \"tenant1/queue1\" skipped: tenant lock timeout","component":"changeset.scheduler"}
`)
	mock.DebugLogger().AssertNoWarnOrError(t)

	// The next tick claims the change set
	require.NoError(t, mtx.Unlock(ctx))
	assert.Equal(t, []string{"t1q1"}, claimedIDs(s.Tick(ctx)))
}

// brokenLocks fails to lock the tenant, for example because of an expired etcd session.
type brokenLocks struct {
	distlock.Provider
	tenant model.TenantID
}

type brokenMutex struct {
	name string
}

func (p *brokenLocks) NewMutex(name string) distlock.Mutex {
	if name == "changeset/claim/"+string(p.tenant) {
		return &brokenMutex{name: name}
	}
	return p.Provider.NewMutex(name)
}

func (m *brokenMutex) Lock(context.Context) error {
	return errors.New("etcd session expired")
}

func (m *brokenMutex) TryLock(context.Context) error {
	return errors.New("etcd session expired")
}

func (m *brokenMutex) Unlock(context.Context) error {
	return distlock.NotLockedError{Name: m.name}
}

func TestScheduler_Tick_LockError(t *testing.T) {
	t.Parallel()

	clk := clockwork.NewFakeClockAt(repotest.Now)
	locks := &brokenLocks{Provider: distlock.NewLocalProvider(clk, 10*time.Second), tenant: "tenant1"}
	rec := &recorder{}
	d, mock := dependencies.NewMockedServiceScope(t,
		dependencies.WithClock(clk),
		dependencies.WithLockProvider(locks),
		dependencies.WithHandler(model.DirectionExternalToInternal, rec),
	)
	repo := d.ChangeSetRepository()

	createAll(t, repo,
		repotest.ChangeSet("tenant1", "queue1", "t1q1", model.EventTypeSync, model.StatusQueued, time.Hour),
		repotest.ChangeSet("tenant2", "queue1", "t2q1", model.EventTypeSync, model.StatusQueued, time.Hour),
	)

	// The broken lock of tenant1 doesn't block tenant2
	result := scheduler.New(d, mock.TestConfig().Scheduler).Tick(mock.TestContext())
	assert.Len(t, result.Eligible, 2)
	assert.Equal(t, []string{"t2q1"}, claimedIDs(result))
	assert.Equal(t, []string{"t2q1"}, rec.Processed())
	assert.Equal(t, model.StatusQueued, status(t, repo, "tenant1", "queue1", "t1q1").Status)

	tel := mock.TestTelemetry()
	assert.Equal(t, int64(1), tel.Int64Sum(t, "changeset.scheduler.claims", attribute.String("result", "lock_error")))
	assert.Equal(t, int64(0), tel.Int64Sum(t, "changeset.scheduler.tick.errors"))
	mock.DebugLogger().AssertJSONMessages(t, `
{"level":"warn","message":"claim of \"tenant1/queue1\" skipped: cannot lock tenant: etcd session expired","component":"changeset.scheduler"}
{"level":"info","message":"claimed change set \"t2q1\" (sync)","component":"changeset.scheduler"}
`)
}

// racingRepository simulates another replica, which claims the change set just before this one.
type racingRepository struct {
	repository.Repository
	raced *atomic.Bool
}

func (r *racingRepository) Claim(ctx context.Context, k model.ChangeSetKey, now time.Time) (bool, error) {
	if r.raced.CompareAndSwap(false, true) {
		if ok, err := r.Repository.Claim(ctx, k, now); err != nil || !ok {
			return false, errors.Errorf("the other replica cannot claim: %v", err)
		}
	}
	return r.Repository.Claim(ctx, k, now)
}

func TestScheduler_Tick_ClaimConflict(t *testing.T) {
	t.Parallel()

	repo := &racingRepository{Repository: sqliterepo.OpenForTest(t), raced: atomic.NewBool(false)}
	rec := &recorder{}
	d, mock := dependencies.NewMockedServiceScope(t,
		dependencies.WithRepository(repo),
		dependencies.WithHandler(model.DirectionExternalToInternal, rec),
	)

	createAll(t, repo, repotest.ChangeSet("tenant1", "queue1", "c1", model.EventTypeCreate, model.StatusQueued, time.Hour))

	s := scheduler.New(d, mock.TestConfig().Scheduler)
	result := s.Tick(mock.TestContext())
	assert.Equal(t, []model.GroupKey{{TenantID: "tenant1", QueueKey: "queue1"}}, result.Eligible)
	assert.Empty(t, result.Claimed)
	assert.Empty(t, rec.Processed())

	// The change set belongs to the other replica now
	assert.Equal(t, model.StatusRunning, status(t, repo, "tenant1", "queue1", "c1").Status)

	tel := mock.TestTelemetry()
	assert.Equal(t, int64(1), tel.Int64Sum(t, "changeset.scheduler.claims", attribute.String("result", "conflict")))
	assert.Equal(t, int64(0), tel.Int64Sum(t, "changeset.scheduler.claims", attribute.String("result", "claimed")))
	mock.DebugLogger().AssertJSONMessages(t, `
{"level":"info","message":"claim of \"c1\" skipped: the change set has been modified","component":"changeset.scheduler","changeSet.id":"c1"}
`)
	mock.DebugLogger().AssertNoWarnOrError(t)

	// The group is running, the next tick claims nothing
	assert.Empty(t, s.Tick(mock.TestContext()).Claimed)
}

func TestScheduler_Tick_ShutdownDuringDispatch(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The shutdown arrives while the first change set is processed
	var lock sync.Mutex
	handlerErrs := make(map[string]error)
	rec := &recorder{fn: func(ctx context.Context, v model.ChangeSet) error {
		lock.Lock()
		handlerErrs[string(v.ChangeSetID)] = ctx.Err()
		lock.Unlock()
		if v.ChangeSetID == "a" {
			cancel()
		}
		return ctx.Err()
	}}
	d, mock := dependencies.NewMockedServiceScope(t, dependencies.WithHandler(model.DirectionExternalToInternal, rec))
	repo := d.ChangeSetRepository()

	createAll(t, repo,
		repotest.ChangeSet("tenant1", "queue1", "a", model.EventTypeSync, model.StatusQueued, time.Hour),
		repotest.ChangeSet("tenant1", "queue2", "b", model.EventTypeSync, model.StatusQueued, time.Hour),
	)

	result := scheduler.New(d, mock.TestConfig().Scheduler).Tick(ctx)
	assert.Equal(t, []string{"a", "b"}, claimedIDs(result))
	assert.Equal(t, []string{"a", "b"}, rec.Processed())
	assert.Equal(t, map[string]error{"a": nil, "b": nil}, handlerErrs)

	// Claimed change sets are finished, none of them failed because of the shutdown
	for _, v := range []model.ChangeSet{status(t, repo, "tenant1", "queue1", "a"), status(t, repo, "tenant1", "queue2", "b")} {
		assert.Equal(t, model.StatusDone, v.Status, v.ChangeSetID)
		assert.Empty(t, v.LastError, v.ChangeSetID)
	}
	mock.DebugLogger().AssertNoWarnOrError(t)
}

func TestScheduler_Tick_HandlerFailure(t *testing.T) {
	t.Parallel()

	rec := &recorder{fn: func(ctx context.Context, v model.ChangeSet) error {
		switch v.ChangeSetID {
		case "error":
			return errors.New("remote repository is not available")
		case "panic":
			panic("boom")
		default:
			return nil
		}
	}}

	// There is no handler for the internalToExternal direction
	d, mock := dependencies.NewMockedServiceScope(t, dependencies.WithHandler(model.DirectionExternalToInternal, rec))
	repo := d.ChangeSetRepository()
	ctx := mock.TestContext()

	noHandler := repotest.ChangeSet("tenant1", "queue3", "no-handler", model.EventTypeSync, model.StatusQueued, time.Hour)
	noHandler.Direction = model.DirectionInternalToExternal
	createAll(t, repo,
		repotest.ChangeSet("tenant1", "queue1", "error", model.EventTypeSync, model.StatusQueued, time.Hour),
		repotest.ChangeSet("tenant1", "queue1", "next", model.EventTypeSync, model.StatusQueued, 30*time.Minute),
		repotest.ChangeSet("tenant1", "queue2", "panic", model.EventTypeSync, model.StatusQueued, time.Hour),
		noHandler,
	)

	s := scheduler.New(d, mock.TestConfig().Scheduler)
	assert.Equal(t, []string{"error", "panic", "no-handler"}, claimedIDs(s.Tick(ctx)))

	v := status(t, repo, "tenant1", "queue1", "error")
	assert.Equal(t, model.StatusFailed, v.Status)
	assert.Equal(t, "remote repository is not available", v.LastError)
	assert.Equal(t, 0, v.RetryCount)

	v = status(t, repo, "tenant1", "queue2", "panic")
	assert.Equal(t, model.StatusFailed, v.Status)
	assert.Equal(t, "handler panic: boom", v.LastError)

	v = status(t, repo, "tenant1", "queue3", "no-handler")
	assert.Equal(t, model.StatusFailed, v.Status)
	assert.Equal(t, `no handler for the direction "internalToExternal"`, v.LastError)

	mock.DebugLogger().AssertJSONMessages(t, `
{"level":"warn","message":"change set \"error\" failed: remote repository is not available","changeSet.id":"error"}
{"level":"warn","message":"change set \"panic\" failed: handler panic: boom","changeSet.id":"panic"}
{"level":"warn","message":"change set \"no-handler\" failed: no handler for the direction \"internalToExternal\""}
`)

	// Failed change set is not retried, the next change set in the group is claimed
	assert.Equal(t, []string{"next"}, claimedIDs(s.Tick(ctx)))
	assert.Equal(t, model.StatusFailed, status(t, repo, "tenant1", "queue1", "error").Status)
}

func TestScheduler_Tick_Reaper(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	d, mock := dependencies.NewMockedServiceScope(t, dependencies.WithHandler(model.DirectionExternalToInternal, rec))
	repo := d.ChangeSetRepository()
	ctx := mock.TestContext()
	clk := mock.MockedClock()

	exhausted := repotest.ChangeSet("tenant1", "queue2", "exhausted", model.EventTypeSync, model.StatusRunning, 2*time.Hour)
	exhausted.RetryCount = 3
	expiredWithRetries := repotest.ChangeSet("tenant2", "queue1", "expired-retried", model.EventTypeSync, model.StatusQueued, 80*time.Hour)
	expiredWithRetries.RetryCount = 1
	createAll(t, repo,
		repotest.ChangeSet("tenant1", "queue1", "stuck", model.EventTypeSync, model.StatusRunning, 2*time.Hour),
		exhausted,
		repotest.ChangeSet("tenant1", "queue3", "recent", model.EventTypeSync, model.StatusRunning, time.Hour),
		repotest.ChangeSet("tenant2", "queue1", "expired", model.EventTypeCreate, model.StatusQueued, 73*time.Hour),
		expiredWithRetries,
		repotest.ChangeSet("tenant2", "queue2", "fresh", model.EventTypeSync, model.StatusQueued, 71*time.Hour),
	)

	s := scheduler.New(d, mock.TestConfig().Scheduler)

	// Tick 1: the reaper runs
	result := s.Tick(ctx)
	assert.True(t, result.Reaped)
	assert.Equal(t, int64(2), result.Expired)
	assert.Equal(t, int64(1), result.Requeued)
	assert.Equal(t, int64(1), result.Skipped)

	// Queue expiry skips regardless of the retry count
	for _, id := range []string{"expired", "expired-retried"} {
		v := status(t, repo, "tenant2", "queue1", id)
		assert.Equal(t, model.StatusSkipped, v.Status, id)
		assert.Equal(t, repository.ExpiredReason, v.LastError, id)
	}

	// Stuck change set is queued again and claimed in the same tick
	v := status(t, repo, "tenant1", "queue1", "stuck")
	assert.Equal(t, model.StatusDone, v.Status)
	assert.Equal(t, 1, v.RetryCount)

	// Retries exhausted
	v = status(t, repo, "tenant1", "queue2", "exhausted")
	assert.Equal(t, model.StatusSkipped, v.Status)
	assert.Equal(t, 4, v.RetryCount)
	assert.NotEmpty(t, v.LastError)

	// Not stuck yet, it is still running
	assert.Equal(t, model.StatusRunning, status(t, repo, "tenant1", "queue3", "recent").Status)
	assert.ElementsMatch(t, []string{"stuck", "fresh"}, rec.Processed())

	// Tick 2: the reaper is throttled
	clk.Advance(10 * time.Minute)
	result = s.Tick(ctx)
	assert.False(t, result.Reaped)
	assert.Equal(t, model.StatusRunning, status(t, repo, "tenant1", "queue3", "recent").Status)

	// Tick 3: the interval elapsed, the recent change set is stuck now
	clk.Advance(30 * time.Minute)
	result = s.Tick(ctx)
	assert.True(t, result.Reaped)
	assert.Equal(t, int64(1), result.Requeued)
	assert.Equal(t, model.StatusDone, status(t, repo, "tenant1", "queue3", "recent").Status)

	assert.Equal(t, int64(5), mock.TestTelemetry().Int64Sum(t, "changeset.scheduler.reaped"))
	mock.DebugLogger().AssertJSONMessages(t, `
{"level":"info","message":"skipped \"2\" expired queued change sets","component":"changeset.scheduler.reaper"}
{"level":"info","message":"recovered stuck change sets of tenant \"tenant1\": requeued \"1\", skipped \"1\"","component":"changeset.scheduler.reaper"}
`)
}

type failingRepository struct {
	repository.Repository
	fn func()
}

func (r *failingRepository) GroupCounts(ctx context.Context, status model.Status, filter repository.Filter) ([]model.GroupCount, error) {
	r.fn()
	return nil, errors.New("store is down")
}

func TestScheduler_Tick_StoreError(t *testing.T) {
	t.Parallel()

	repo := &failingRepository{Repository: sqliterepo.OpenForTest(t), fn: func() {}}
	d, mock := dependencies.NewMockedServiceScope(t, dependencies.WithRepository(repo))

	result := scheduler.New(d, mock.TestConfig().Scheduler).Tick(mock.TestContext())
	assert.Empty(t, result.Claimed)
	assert.Equal(t, int64(1), mock.TestTelemetry().Int64Sum(t, "changeset.scheduler.tick.errors"))
	mock.DebugLogger().AssertJSONMessages(t, `
{"level":"error","message":"change set scheduler tick failed: cannot load queued groups: store is down","component":"changeset.scheduler"}
`)
}

func TestScheduler_Tick_Panic(t *testing.T) {
	t.Parallel()

	repo := &failingRepository{Repository: sqliterepo.OpenForTest(t), fn: func() { panic("unexpected") }}
	d, mock := dependencies.NewMockedServiceScope(t, dependencies.WithRepository(repo))

	s := scheduler.New(d, mock.TestConfig().Scheduler)
	assert.NotPanics(t, func() {
		s.Tick(mock.TestContext())
	})
	mock.DebugLogger().AssertJSONMessages(t, `
{"level":"error","message":"change set scheduler tick failed: panic: unexpected","component":"changeset.scheduler"}
`)
}

// TestScheduler_MultipleReplicas ticks several schedulers concurrently against the shared repository and locks.
func TestScheduler_MultipleReplicas(t *testing.T) {
	t.Parallel()

	const (
		replicas            = 3
		tenants             = 2
		queues              = 4
		itemsPerQueue       = 3
		maxRunningPerTenant = 2
	)

	ctx := context.Background()
	clk := clockwork.NewFakeClockAt(repotest.Now)
	repo := sqliterepo.OpenForTest(t)
	locks := distlock.NewLocalProvider(clk, 10*time.Second)

	// The handler checks invariants while the change set is running
	var lock sync.Mutex
	processed := make(map[model.ChangeSetID]int)
	h := handler.Func(func(ctx context.Context, v model.ChangeSet) error {
		counts, err := repo.GroupCounts(ctx, model.StatusRunning, repository.Filter{})
		if assert.NoError(t, err) {
			running := model.NewGroupSet(counts)
			for group, count := range running {
				assert.LessOrEqual(t, count, 1, group.String())
			}
			for tenant, count := range running.CountByTenant() {
				assert.LessOrEqual(t, count, maxRunningPerTenant, string(tenant))
			}
		}

		lock.Lock()
		processed[v.ChangeSetID]++
		lock.Unlock()
		return nil
	})

	var items []model.ChangeSet
	for tenant := 1; tenant <= tenants; tenant++ {
		for queue := 1; queue <= queues; queue++ {
			for i := 1; i <= itemsPerQueue; i++ {
				tenantID := fmt.Sprintf("tenant%d", tenant)
				queueKey := fmt.Sprintf("queue%d", queue)
				id := fmt.Sprintf("%s-%s-%d", tenantID, queueKey, i)
				items = append(items, repotest.ChangeSet(tenantID, queueKey, id, model.EventTypeSync, model.StatusQueued, time.Duration(itemsPerQueue-i+1)*time.Minute))
			}
		}
	}
	createAll(t, repo, items...)

	var schedulers []*scheduler.Scheduler
	for range replicas {
		d, mock := dependencies.NewMockedServiceScope(t,
			dependencies.WithClock(clk),
			dependencies.WithRepository(repo),
			dependencies.WithLockProvider(locks),
			dependencies.WithHandler(model.DirectionExternalToInternal, h),
			dependencies.WithConfig(func(cfg *config.Config) {
				cfg.Scheduler.MaxRunningPerTenant = maxRunningPerTenant
			}),
		)
		schedulers = append(schedulers, scheduler.New(d, mock.TestConfig().Scheduler))
	}

	// Tick all replicas at once, until all change sets are processed
	for tick := 0; tick < len(items); tick++ {
		wg := &sync.WaitGroup{}
		for _, s := range schedulers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.Tick(ctx)
			}()
		}
		wg.Wait()

		queued, err := repo.ListByStatus(ctx, model.StatusQueued, repository.Filter{})
		require.NoError(t, err)
		if len(queued) == 0 {
			break
		}
		clk.Advance(time.Second)
	}

	// Each change set has been processed exactly once
	require.Len(t, processed, len(items))
	for id, count := range processed {
		assert.Equal(t, 1, count, string(id))
	}
	for _, v := range items {
		assert.Equal(t, model.StatusDone, status(t, repo, string(v.TenantID), string(v.QueueKey), string(v.ChangeSetID)).Status)
	}
}

func TestStart(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	d, mock := dependencies.NewMockedServiceScope(t, dependencies.WithHandler(model.DirectionExternalToInternal, rec))
	repo := d.ChangeSetRepository()
	clk := mock.MockedClock()

	createAll(t, repo, repotest.ChangeSet("tenant1", "queue1", "first", model.EventTypeSync, model.StatusQueued, time.Hour))

	// The first tick runs immediately
	_, err := scheduler.Start(d, mock.TestConfig().Scheduler)
	require.NoError(t, err)
	assert.EventuallyWithT(t, func(c *assert.CollectT) {
		assert.Equal(c, []string{"first"}, rec.Processed())
	}, 5*time.Second, 10*time.Millisecond)

	// The next tick runs after the interval
	createAll(t, repo, repotest.ChangeSet("tenant1", "queue1", "second", model.EventTypeSync, model.StatusQueued, time.Hour))
	require.NoError(t, clk.BlockUntilContext(mock.TestContext(), 1))
	clk.Advance(mock.TestConfig().Scheduler.Interval)
	assert.EventuallyWithT(t, func(c *assert.CollectT) {
		assert.Equal(c, []string{"first", "second"}, rec.Processed())
	}, 5*time.Second, 10*time.Millisecond)

	// Shutdown waits for the loop
	mock.Process().Shutdown(errors.New("bye bye"))
	mock.Process().WaitForShutdown()
	mock.DebugLogger().AssertJSONMessages(t, `
{"level":"info","message":"received shutdown request","component":"changeset.scheduler"}
{"level":"info","message":"shutdown done","component":"changeset.scheduler"}
`)
}

func TestStart_Disabled(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	d, mock := dependencies.NewMockedServiceScope(t, dependencies.WithHandler(model.DirectionExternalToInternal, rec))
	createAll(t, d.ChangeSetRepository(), repotest.ChangeSet("tenant1", "queue1", "first", model.EventTypeSync, model.StatusQueued, time.Hour))

	cfg := mock.TestConfig().Scheduler
	cfg.Enabled = false
	_, err := scheduler.Start(d, cfg)
	require.NoError(t, err)

	assert.Empty(t, rec.Processed())
	mock.DebugLogger().AssertJSONMessages(t, `{"level":"info","message":"change set scheduler is disabled"}`)
}
