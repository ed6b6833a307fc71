// Package etcdrepo implements the change set repository on top of etcd.
//
// Each change set is stored under the key of its status:
//
//	changeset/<status>/<tenantId>/<queueKey>/<changeSetId>
//
// A status change moves the value to another key in a transaction,
// which succeeds only if the old key has not been modified since it was read.
package etcdrepo

import (
	"context"
	"encoding/json"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	etcd "go.etcd.io/etcd/client/v3"

	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/model"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/repository"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/common/etcdop"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/common/utctime"
	"github.com/keboola/changeset-scheduler/internal/pkg/utils/errors"
)

const rootPrefix = etcdop.Prefix("changeset")

var allStatuses = []model.Status{ //nolint:gochecknoglobals
	model.StatusQueued,
	model.StatusRunning,
	model.StatusFailed,
	model.StatusSkipped,
	model.StatusDone,
}

type Repository struct {
	client etcd.KV
}

// value is the serialized form of the change set, the key parts are stored in the etcd key.
type value struct {
	TenantID      model.TenantID    `json:"tenantId"`
	QueueKey      model.QueueKey    `json:"queueKey"`
	ChangeSetID   model.ChangeSetID `json:"changeSetId"`
	Direction     model.Direction   `json:"direction"`
	EventType     model.EventType   `json:"eventType"`
	RetryCount    int               `json:"retryCount"`
	CreatedAt     utctime.UTCTime   `json:"createdAt"`
	LastUpdatedAt utctime.UTCTime   `json:"lastUpdatedAt"`
	LastError     string            `json:"lastError,omitempty"`
	Payload       json.RawMessage   `json:"payload,omitempty"`
}

func New(client etcd.KV) *Repository {
	return &Repository{client: client}
}

func (r *Repository) Create(ctx context.Context, v model.ChangeSet) error {
	if err := repository.ValidateChangeSet(ctx, v); err != nil {
		return err
	}

	encoded, err := encode(v)
	if err != nil {
		return err
	}

	// The ID must be unique across all statuses
	var cmps []etcd.Cmp
	for _, status := range allStatuses {
		cmps = append(cmps, etcd.Compare(etcd.Version(key(status, v.ChangeSetKey).Key()), "=", 0))
	}

	resp, err := r.client.Txn(ctx).If(cmps...).Then(etcd.OpPut(key(v.Status, v.ChangeSetKey).Key(), encoded)).Commit()
	if err != nil {
		return errors.PrefixErrorf(err, `cannot create change set "%s"`, v.ChangeSetKey)
	}
	if !resp.Succeeded {
		return repository.AlreadyExistsError{Key: v.ChangeSetKey}
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, k model.ChangeSetKey) (model.ChangeSet, error) {
	var ops []etcd.Op
	for _, status := range allStatuses {
		ops = append(ops, key(status, k).Get().Op())
	}

	resp, err := r.client.Txn(ctx).Then(ops...).Commit()
	if err != nil {
		return model.ChangeSet{}, errors.PrefixErrorf(err, `cannot get change set "%s"`, k)
	}

	for i, status := range allStatuses {
		if kvs := resp.Responses[i].GetResponseRange().Kvs; len(kvs) > 0 {
			return decode(status, kvs[0])
		}
	}

	return model.ChangeSet{}, repository.NotFoundError{Key: k}
}

func (r *Repository) ListByStatus(ctx context.Context, status model.Status, filter repository.Filter) ([]model.ChangeSet, error) {
	kvs, err := filterPrefix(status, filter).GetAll().Do(ctx, r.client)
	if err != nil {
		return nil, errors.PrefixErrorf(err, `cannot list "%s" change sets`, status)
	}

	var out []model.ChangeSet
	for _, kv := range kvs {
		v, err := decode(status, kv)
		if err != nil {
			return nil, err
		}
		if filter.Match(v) {
			out = append(out, v)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ChangeSetID < out[j].ChangeSetID
	})

	return out, nil
}

func (r *Repository) GroupCounts(ctx context.Context, status model.Status, filter repository.Filter) ([]model.GroupCount, error) {
	// UpdatedBefore requires values
	if !filter.UpdatedBefore.IsZero() {
		items, err := r.ListByStatus(ctx, status, filter)
		if err != nil {
			return nil, err
		}
		var counts []model.GroupCount
		for k, count := range groupItems(items) {
			counts = append(counts, model.GroupCount{GroupKey: k, Count: count})
		}
		sortCounts(counts)
		return counts, nil
	}

	kvs, err := filterPrefix(status, filter).Keys().Do(ctx, r.client)
	if err != nil {
		return nil, errors.PrefixErrorf(err, `cannot count "%s" change sets`, status)
	}

	set := make(model.GroupSet)
	for _, kv := range kvs {
		k, err := parseKey(string(kv.Key))
		if err != nil {
			return nil, err
		}
		set[k.GroupKey()]++
	}

	var counts []model.GroupCount
	for _, k := range set.Keys() {
		counts = append(counts, model.GroupCount{GroupKey: k, Count: set[k]})
	}
	return counts, nil
}

func (r *Repository) Claim(ctx context.Context, k model.ChangeSetKey, now time.Time) (bool, error) {
	ok, err := r.move(ctx, model.StatusQueued, model.StatusRunning, k, func(v model.ChangeSet) model.ChangeSet {
		v.Status = model.StatusRunning
		v.LastUpdatedAt = now.UTC()
		return v
	})
	if err != nil {
		return false, errors.PrefixErrorf(err, `cannot claim change set "%s"`, k)
	}
	return ok, nil
}

func (r *Repository) Transition(ctx context.Context, t model.Transition) (bool, error) {
	if err := repository.ValidateTransition(t); err != nil {
		return false, err
	}

	ok, err := r.move(ctx, t.From, t.To, t.Key, func(v model.ChangeSet) model.ChangeSet {
		return repository.Apply(v, t)
	})
	if err != nil {
		return false, errors.PrefixErrorf(err, `cannot transition change set "%s" from "%s" to "%s"`, t.Key, t.From, t.To)
	}
	return ok, nil
}

func (r *Repository) BulkExpire(ctx context.Context, olderThan, now time.Time) (int64, error) {
	items, err := r.ListByStatus(ctx, model.StatusQueued, repository.Filter{})
	if err != nil {
		return 0, err
	}

	expired := int64(0)
	for _, item := range items {
		if !item.CreatedAt.Before(olderThan) {
			continue
		}

		ok, err := r.Transition(ctx, model.Transition{
			Key:    item.ChangeSetKey,
			From:   model.StatusQueued,
			To:     model.StatusSkipped,
			At:     now,
			Reason: repository.ExpiredReason,
		})
		if err != nil {
			return expired, err
		}
		if ok {
			expired++
		}
	}

	return expired, nil
}

// move reads the change set from the "from" key and moves the modified value to the "to" key,
// if the "from" key has not been modified in the meantime.
func (r *Repository) move(ctx context.Context, from, to model.Status, k model.ChangeSetKey, modify func(v model.ChangeSet) model.ChangeSet) (bool, error) {
	fromKey := key(from, k)
	kv, err := fromKey.Get().Do(ctx, r.client)
	if err != nil {
		return false, err
	}
	if kv == nil {
		return false, nil
	}

	v, err := decode(from, kv)
	if err != nil {
		return false, err
	}

	encoded, err := encode(modify(v))
	if err != nil {
		return false, err
	}

	return fromKey.MoveIfUnchanged(kv.ModRevision, key(to, k), encoded).Do(ctx, r.client)
}

func statusPrefix(status model.Status) etcdop.Prefix {
	return rootPrefix.Add(string(status))
}

func filterPrefix(status model.Status, filter repository.Filter) etcdop.Prefix {
	pfx := statusPrefix(status)
	if filter.TenantID != "" {
		pfx = pfx.Add(url.PathEscape(string(filter.TenantID)))
		if filter.QueueKey != "" {
			pfx = pfx.Add(url.PathEscape(string(filter.QueueKey)))
		}
	}
	return pfx
}

func key(status model.Status, k model.ChangeSetKey) etcdop.Key {
	return statusPrefix(status).
		Add(url.PathEscape(string(k.TenantID))).
		Add(url.PathEscape(string(k.QueueKey))).
		Key(url.PathEscape(string(k.ChangeSetID)))
}

func parseKey(str string) (model.ChangeSetKey, error) {
	// changeset/<status>/<tenant>/<queue>/<id>
	parts := strings.Split(str, "/")
	if len(parts) != 5 {
		return model.ChangeSetKey{}, errors.Errorf(`unexpected change set key "%s"`, str)
	}

	var unescaped [3]string
	for i, part := range parts[2:] {
		v, err := url.PathUnescape(part)
		if err != nil {
			return model.ChangeSetKey{}, errors.PrefixErrorf(err, `unexpected change set key "%s"`, str)
		}
		unescaped[i] = v
	}

	return model.ChangeSetKey{
		TenantID:    model.TenantID(unescaped[0]),
		QueueKey:    model.QueueKey(unescaped[1]),
		ChangeSetID: model.ChangeSetID(unescaped[2]),
	}, nil
}

func encode(v model.ChangeSet) (string, error) {
	bytes, err := json.Marshal(value{
		TenantID:      v.TenantID,
		QueueKey:      v.QueueKey,
		ChangeSetID:   v.ChangeSetID,
		Direction:     v.Direction,
		EventType:     v.EventType,
		RetryCount:    v.RetryCount,
		CreatedAt:     utctime.From(v.CreatedAt),
		LastUpdatedAt: utctime.From(v.LastUpdatedAt),
		LastError:     v.LastError,
		Payload:       v.Payload,
	})
	if err != nil {
		return "", errors.PrefixErrorf(err, `cannot encode change set "%s"`, v.ChangeSetKey)
	}
	return string(bytes), nil
}

func decode(status model.Status, kv *mvccpb.KeyValue) (model.ChangeSet, error) {
	var v value
	if err := json.Unmarshal(kv.Value, &v); err != nil {
		return model.ChangeSet{}, errors.PrefixErrorf(err, `invalid value of the key "%s"`, string(kv.Key))
	}

	out := model.ChangeSet{
		ChangeSetKey:  model.ChangeSetKey{TenantID: v.TenantID, QueueKey: v.QueueKey, ChangeSetID: v.ChangeSetID},
		Direction:     v.Direction,
		EventType:     v.EventType,
		Status:        status,
		RetryCount:    v.RetryCount,
		CreatedAt:     v.CreatedAt.Time(),
		LastUpdatedAt: v.LastUpdatedAt.Time(),
		LastError:     v.LastError,
	}
	if len(v.Payload) > 0 {
		out.Payload = v.Payload
	}
	return out, nil
}

func groupItems(items []model.ChangeSet) model.GroupSet {
	out := make(model.GroupSet)
	for _, item := range items {
		out[item.GroupKey()]++
	}
	return out
}

func sortCounts(counts []model.GroupCount) {
	sort.SliceStable(counts, func(i, j int) bool {
		if counts[i].TenantID != counts[j].TenantID {
			return counts[i].TenantID < counts[j].TenantID
		}
		return counts[i].QueueKey < counts[j].QueueKey
	})
}
