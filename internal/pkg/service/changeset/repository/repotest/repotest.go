// Package repotest contains tests shared by all repository implementations.
package repotest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/model"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/repository"
)

// Now is the time used by fixtures.
var Now = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC) //nolint:gochecknoglobals

// NewRepositoryFn creates an empty repository for one test.
type NewRepositoryFn func(t *testing.T) repository.Repository

// ChangeSet is a fixture, created at the age before Now.
func ChangeSet(tenant, queue, id string, eventType model.EventType, status model.Status, age time.Duration) model.ChangeSet {
	return model.ChangeSet{
		ChangeSetKey:  model.ChangeSetKey{TenantID: model.TenantID(tenant), QueueKey: model.QueueKey(queue), ChangeSetID: model.ChangeSetID(id)},
		Direction:     model.DirectionExternalToInternal,
		EventType:     eventType,
		Status:        status,
		CreatedAt:     Now.Add(-age),
		LastUpdatedAt: Now.Add(-age),
	}
}

// Run runs all repository tests.
func Run(t *testing.T, newRepo NewRepositoryFn) {
	t.Helper()
	t.Run("CreateGet", func(t *testing.T) { t.Parallel(); testCreateGet(t, newRepo(t)) })
	t.Run("ListByStatus", func(t *testing.T) { t.Parallel(); testListByStatus(t, newRepo(t)) })
	t.Run("GroupCounts", func(t *testing.T) { t.Parallel(); testGroupCounts(t, newRepo(t)) })
	t.Run("Claim", func(t *testing.T) { t.Parallel(); testClaim(t, newRepo(t)) })
	t.Run("ClaimConcurrent", func(t *testing.T) { t.Parallel(); testClaimConcurrent(t, newRepo(t)) })
	t.Run("Transition", func(t *testing.T) { t.Parallel(); testTransition(t, newRepo(t)) })
	t.Run("BulkExpire", func(t *testing.T) { t.Parallel(); testBulkExpire(t, newRepo(t)) })
}

func testCreateGet(t *testing.T, repo repository.Repository) {
	t.Helper()
	ctx := context.Background()

	v := ChangeSet("tenant1", "queue1", "cs1", model.EventTypeSync, model.StatusQueued, time.Hour)
	v.Payload = []byte(`{"commit":"abc"}`)
	require.NoError(t, repo.Create(ctx, v))

	// Duplicated ID
	dup := v
	dup.Status = model.StatusRunning
	err := repo.Create(ctx, dup)
	require.ErrorAs(t, err, &repository.AlreadyExistsError{})
	assert.Equal(t, `change set "tenant1/queue1/cs1" already exists`, err.Error())

	// Invalid
	invalid := ChangeSet("tenant1", "queue1", "cs2", "foo", model.StatusQueued, time.Hour)
	require.Error(t, repo.Create(ctx, invalid))

	actual, err := repo.Get(ctx, v.ChangeSetKey)
	require.NoError(t, err)
	assert.Equal(t, v.ChangeSetKey, actual.ChangeSetKey)
	assert.Equal(t, model.StatusQueued, actual.Status)
	assert.Equal(t, model.EventTypeSync, actual.EventType)
	assert.True(t, v.CreatedAt.Equal(actual.CreatedAt))
	assert.JSONEq(t, `{"commit":"abc"}`, string(actual.Payload))

	_, err = repo.Get(ctx, model.ChangeSetKey{TenantID: "tenant1", QueueKey: "queue1", ChangeSetID: "missing"})
	require.ErrorAs(t, err, &repository.NotFoundError{})

	// Generated ID
	group := model.GroupKey{TenantID: "tenant1", QueueKey: "queue2"}
	generated := model.NewChangeSet(group, model.DirectionInternalToExternal, model.EventTypePush, nil, Now)
	require.NoError(t, repo.Create(ctx, generated))
	actual, err = repo.Get(ctx, generated.ChangeSetKey)
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, actual.Status)
	assert.Equal(t, model.DirectionInternalToExternal, actual.Direction)
	assert.Empty(t, actual.Payload)
}

func testListByStatus(t *testing.T, repo repository.Repository) {
	t.Helper()
	ctx := context.Background()

	for _, v := range []model.ChangeSet{
		ChangeSet("tenant1", "queue1", "cs3", model.EventTypePush, model.StatusQueued, 1*time.Hour),
		ChangeSet("tenant1", "queue1", "cs1", model.EventTypeSync, model.StatusQueued, 3*time.Hour),
		ChangeSet("tenant1", "queue1", "cs2", model.EventTypeCreate, model.StatusQueued, 2*time.Hour),
		ChangeSet("tenant1", "queue2", "cs4", model.EventTypeSync, model.StatusQueued, 2*time.Hour),
		ChangeSet("tenant2", "queue1", "cs5", model.EventTypeSync, model.StatusQueued, 2*time.Hour),
		ChangeSet("tenant2", "queue1", "cs6", model.EventTypeSync, model.StatusRunning, 4*time.Hour),
	} {
		require.NoError(t, repo.Create(ctx, v))
	}

	// Group filter, ordered by CreatedAt
	items, err := repo.ListByStatus(ctx, model.StatusQueued, repository.Filter{TenantID: "tenant1", QueueKey: "queue1"})
	require.NoError(t, err)
	assert.Equal(t, []model.ChangeSetID{"cs1", "cs2", "cs3"}, ids(items))

	// Tenant filter
	items, err = repo.ListByStatus(ctx, model.StatusQueued, repository.Filter{TenantID: "tenant1"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []model.ChangeSetID{"cs1", "cs2", "cs3", "cs4"}, ids(items))

	// No filter
	items, err = repo.ListByStatus(ctx, model.StatusQueued, repository.Filter{})
	require.NoError(t, err)
	assert.Len(t, items, 5)

	// UpdatedBefore filter
	items, err = repo.ListByStatus(ctx, model.StatusRunning, repository.Filter{UpdatedBefore: Now.Add(-3 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, []model.ChangeSetID{"cs6"}, ids(items))
	items, err = repo.ListByStatus(ctx, model.StatusRunning, repository.Filter{UpdatedBefore: Now.Add(-5 * time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, items)

	// Empty status
	items, err = repo.ListByStatus(ctx, model.StatusDone, repository.Filter{})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func testGroupCounts(t *testing.T, repo repository.Repository) {
	t.Helper()
	ctx := context.Background()

	for _, v := range []model.ChangeSet{
		ChangeSet("tenant1", "queue1", "cs1", model.EventTypeSync, model.StatusQueued, time.Hour),
		ChangeSet("tenant1", "queue1", "cs2", model.EventTypeSync, model.StatusQueued, time.Hour),
		ChangeSet("tenant1", "queue2", "cs3", model.EventTypeSync, model.StatusQueued, time.Hour),
		ChangeSet("tenant2", "queue/with/slash", "cs4", model.EventTypeSync, model.StatusQueued, time.Hour),
		ChangeSet("tenant2", "queue1", "cs5", model.EventTypeSync, model.StatusRunning, time.Hour),
	} {
		require.NoError(t, repo.Create(ctx, v))
	}

	counts, err := repo.GroupCounts(ctx, model.StatusQueued, repository.Filter{})
	require.NoError(t, err)
	assert.Equal(t, model.GroupSet{
		{TenantID: "tenant1", QueueKey: "queue1"}:           2,
		{TenantID: "tenant1", QueueKey: "queue2"}:           1,
		{TenantID: "tenant2", QueueKey: "queue/with/slash"}: 1,
	}, model.NewGroupSet(counts))

	counts, err = repo.GroupCounts(ctx, model.StatusQueued, repository.Filter{TenantID: "tenant1"})
	require.NoError(t, err)
	assert.Len(t, counts, 2)

	counts, err = repo.GroupCounts(ctx, model.StatusRunning, repository.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []model.GroupCount{{GroupKey: model.GroupKey{TenantID: "tenant2", QueueKey: "queue1"}, Count: 1}}, counts)
}

func testClaim(t *testing.T, repo repository.Repository) {
	t.Helper()
	ctx := context.Background()

	v := ChangeSet("tenant1", "queue1", "cs1", model.EventTypeSync, model.StatusQueued, time.Hour)
	require.NoError(t, repo.Create(ctx, v))

	ok, err := repo.Claim(ctx, v.ChangeSetKey, Now)
	require.NoError(t, err)
	assert.True(t, ok)

	// Already claimed
	ok, err = repo.Claim(ctx, v.ChangeSetKey, Now)
	require.NoError(t, err)
	assert.False(t, ok)

	// Missing
	ok, err = repo.Claim(ctx, model.ChangeSetKey{TenantID: "tenant1", QueueKey: "queue1", ChangeSetID: "missing"}, Now)
	require.NoError(t, err)
	assert.False(t, ok)

	actual, err := repo.Get(ctx, v.ChangeSetKey)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, actual.Status)
	assert.True(t, Now.Equal(actual.LastUpdatedAt))
	assert.True(t, v.CreatedAt.Equal(actual.CreatedAt))
}

func testClaimConcurrent(t *testing.T, repo repository.Repository) {
	t.Helper()
	ctx := context.Background()

	v := ChangeSet("tenant1", "queue1", "cs1", model.EventTypeSync, model.StatusQueued, time.Hour)
	require.NoError(t, repo.Create(ctx, v))

	wins := atomic.NewInt64(0)
	wg := &sync.WaitGroup{}
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.Claim(ctx, v.ChangeSetKey, Now)
			assert.NoError(t, err)
			if ok {
				wins.Inc()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins.Load())
}

func testTransition(t *testing.T, repo repository.Repository) {
	t.Helper()
	ctx := context.Background()

	v := ChangeSet("tenant1", "queue1", "cs1", model.EventTypeSync, model.StatusRunning, time.Hour)
	require.NoError(t, repo.Create(ctx, v))

	// Unexpected current status
	ok, err := repo.Transition(ctx, model.Transition{Key: v.ChangeSetKey, From: model.StatusQueued, To: model.StatusSkipped, At: Now})
	require.NoError(t, err)
	assert.False(t, ok)

	// Running -> Queued with retry increment
	ok, err = repo.Transition(ctx, model.Transition{Key: v.ChangeSetKey, From: model.StatusRunning, To: model.StatusQueued, At: Now, IncrementRetry: true, Reason: "stuck"})
	require.NoError(t, err)
	assert.True(t, ok)

	actual, err := repo.Get(ctx, v.ChangeSetKey)
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, actual.Status)
	assert.Equal(t, 1, actual.RetryCount)
	assert.Equal(t, "stuck", actual.LastError)
	assert.True(t, Now.Equal(actual.LastUpdatedAt))

	// Claim and finish
	ok, err = repo.Claim(ctx, v.ChangeSetKey, Now)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = repo.Transition(ctx, model.Transition{Key: v.ChangeSetKey, From: model.StatusRunning, To: model.StatusDone, At: Now})
	require.NoError(t, err)
	assert.True(t, ok)

	actual, err = repo.Get(ctx, v.ChangeSetKey)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDone, actual.Status)
	assert.Equal(t, "stuck", actual.LastError, "empty reason keeps the last error")

	// Terminal status
	_, err = repo.Transition(ctx, model.Transition{Key: v.ChangeSetKey, From: model.StatusDone, To: model.StatusQueued, At: Now})
	require.Error(t, err)

	// Queued -> Running only via Claim
	_, err = repo.Transition(ctx, model.Transition{Key: v.ChangeSetKey, From: model.StatusQueued, To: model.StatusRunning, At: Now})
	require.Error(t, err)
}

func testBulkExpire(t *testing.T, repo repository.Repository) {
	t.Helper()
	ctx := context.Background()

	for _, v := range []model.ChangeSet{
		ChangeSet("tenant1", "queue1", "old1", model.EventTypeSync, model.StatusQueued, 73*time.Hour),
		ChangeSet("tenant1", "queue2", "old2", model.EventTypeSync, model.StatusQueued, 100*time.Hour),
		ChangeSet("tenant1", "queue1", "fresh", model.EventTypeSync, model.StatusQueued, 71*time.Hour),
		ChangeSet("tenant1", "queue3", "oldRunning", model.EventTypeSync, model.StatusRunning, 100*time.Hour),
	} {
		require.NoError(t, repo.Create(ctx, v))
	}

	// Retry count doesn't matter
	old1 := ChangeSet("tenant2", "queue1", "old3", model.EventTypeSync, model.StatusQueued, 80*time.Hour)
	old1.RetryCount = 2
	require.NoError(t, repo.Create(ctx, old1))

	count, err := repo.BulkExpire(ctx, Now.Add(-72*time.Hour), Now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	skipped, err := repo.ListByStatus(ctx, model.StatusSkipped, repository.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []model.ChangeSetID{"old2", "old3", "old1"}, ids(skipped))
	for _, item := range skipped {
		assert.Equal(t, repository.ExpiredReason, item.LastError)
		assert.True(t, Now.Equal(item.LastUpdatedAt))
	}

	queued, err := repo.ListByStatus(ctx, model.StatusQueued, repository.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []model.ChangeSetID{"fresh"}, ids(queued))

	// Nothing more to expire
	count, err = repo.BulkExpire(ctx, Now.Add(-72*time.Hour), Now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func ids(items []model.ChangeSet) (out []model.ChangeSetID) {
	for _, item := range items {
		out = append(out, item.ChangeSetID)
	}
	return out
}
