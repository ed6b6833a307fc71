// Package repository defines the store of change sets shared by all scheduler processes.
//
// Each status change is a compare-and-set operation,
// it succeeds only if the change set is still in the expected status.
// Implementations: etcdrepo (cluster) and sqliterepo (single host).
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/model"
	"github.com/keboola/changeset-scheduler/internal/pkg/utils/errors"
	"github.com/keboola/changeset-scheduler/internal/pkg/validator"
)

// ExpiredReason is stored to the LastError of change sets skipped by the BulkExpire.
const ExpiredReason = "queue duration exceeded"

type Repository interface {
	// Create stores a new change set, it fails with AlreadyExistsError if the ID is used.
	Create(ctx context.Context, v model.ChangeSet) error
	// Get returns NotFoundError if the change set doesn't exist.
	Get(ctx context.Context, k model.ChangeSetKey) (model.ChangeSet, error)
	// ListByStatus returns change sets in the status, ordered by CreatedAt and ID.
	ListByStatus(ctx context.Context, status model.Status, filter Filter) ([]model.ChangeSet, error)
	// GroupCounts returns number of change sets in the status, for each group.
	GroupCounts(ctx context.Context, status model.Status, filter Filter) ([]model.GroupCount, error)
	// Claim changes the status from Queued to Running, if the change set is still Queued.
	Claim(ctx context.Context, k model.ChangeSetKey, now time.Time) (bool, error)
	// Transition changes the status, if the change set is still in the From status.
	Transition(ctx context.Context, t model.Transition) (bool, error)
	// BulkExpire changes all Queued change sets created before the olderThan to Skipped.
	BulkExpire(ctx context.Context, olderThan, now time.Time) (int64, error)
}

// Filter narrows the list, empty fields are ignored.
type Filter struct {
	TenantID model.TenantID
	QueueKey model.QueueKey
	// UpdatedBefore matches change sets with the LastUpdatedAt before the time.
	UpdatedBefore time.Time
}

type NotFoundError struct {
	Key model.ChangeSetKey
}

type AlreadyExistsError struct {
	Key model.ChangeSetKey
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf(`change set "%s" not found`, e.Key)
}

func (e AlreadyExistsError) Error() string {
	return fmt.Sprintf(`change set "%s" already exists`, e.Key)
}

func (e NotFoundError) ErrorType() string {
	return "changeset_not_found"
}

func (e AlreadyExistsError) ErrorType() string {
	return "changeset_already_exists"
}

func (f Filter) Group() (model.GroupKey, bool) {
	return model.GroupKey{TenantID: f.TenantID, QueueKey: f.QueueKey}, f.TenantID != "" && f.QueueKey != ""
}

// Match is used by implementations which filter in memory.
func (f Filter) Match(v model.ChangeSet) bool {
	if f.TenantID != "" && v.TenantID != f.TenantID {
		return false
	}
	if f.QueueKey != "" && v.QueueKey != f.QueueKey {
		return false
	}
	if !f.UpdatedBefore.IsZero() && !v.LastUpdatedAt.Before(f.UpdatedBefore) {
		return false
	}
	return true
}

var validate = validator.New() //nolint:gochecknoglobals

// ValidateChangeSet checks the change set before Create.
func ValidateChangeSet(ctx context.Context, v model.ChangeSet) error {
	if err := validate.Validate(ctx, v); err != nil {
		return errors.PrefixErrorf(err, `invalid change set "%s"`, v.ChangeSetKey)
	}
	return nil
}

// ValidateTransition rejects transitions which are never valid.
// Queued to Running is possible only via the Claim, terminal statuses cannot be left.
func ValidateTransition(t model.Transition) error {
	switch {
	case t.From == t.To:
		return errors.Errorf(`invalid transition of "%s": status "%s" is not changed`, t.Key, t.From)
	case t.From.IsTerminal():
		return errors.Errorf(`invalid transition of "%s": status "%s" is terminal`, t.Key, t.From)
	case t.To == model.StatusRunning:
		return errors.Errorf(`invalid transition of "%s": use claim to start the change set`, t.Key)
	case t.At.IsZero():
		return errors.Errorf(`invalid transition of "%s": time is not set`, t.Key)
	default:
		return nil
	}
}

// Apply returns the change set modified by the transition.
func Apply(v model.ChangeSet, t model.Transition) model.ChangeSet {
	v.Status = t.To
	v.LastUpdatedAt = t.At.UTC()
	if t.IncrementRetry {
		v.RetryCount++
	}
	if t.Reason != "" {
		v.LastError = t.Reason
	}
	return v
}
