package scheduler

import (
	"context"

	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/model"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/repository"
)

// aggregator provides read-only views of groups with Queued and Running change sets.
type aggregator struct {
	repo repository.Repository
}

func (a *aggregator) QueuedGroups(ctx context.Context) (model.GroupSet, error) {
	return a.groups(ctx, model.StatusQueued)
}

func (a *aggregator) RunningGroups(ctx context.Context) (model.GroupSet, error) {
	return a.groups(ctx, model.StatusRunning)
}

func (a *aggregator) groups(ctx context.Context, status model.Status) (model.GroupSet, error) {
	counts, err := a.repo.GroupCounts(ctx, status, repository.Filter{})
	if err != nil {
		return nil, err
	}
	return model.NewGroupSet(counts), nil
}
