package model

import (
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
)

// GroupKey identifies a logical queue: at most one change set of the group is running.
// Two keys are equal if and only if both fields are equal.
type GroupKey struct {
	TenantID TenantID `json:"tenantId"`
	QueueKey QueueKey `json:"queueKey"`
}

type GroupCount struct {
	GroupKey
	Count int
}

// GroupSet maps a group to the number of its change sets.
// The count is not a part of the group identity.
type GroupSet map[GroupKey]int

func (v GroupKey) String() string {
	return fmt.Sprintf("%s/%s", v.TenantID, v.QueueKey)
}

func (v GroupKey) Telemetry() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("tenant.id", string(v.TenantID)),
		attribute.String("queue.key", string(v.QueueKey)),
	}
}

func NewGroupSet(counts []GroupCount) GroupSet {
	out := make(GroupSet, len(counts))
	for _, c := range counts {
		out[c.GroupKey] += c.Count
	}
	return out
}

// Has returns true if the group is present with a positive count.
func (s GroupSet) Has(k GroupKey) bool {
	return s[k] > 0
}

// Minus returns groups present in s and not present in other, counts are not compared.
func (s GroupSet) Minus(other GroupSet) GroupSet {
	out := make(GroupSet)
	for k, count := range s {
		if count > 0 && !other.Has(k) {
			out[k] = count
		}
	}
	return out
}

// CountByTenant sums the counts of all groups of each tenant.
func (s GroupSet) CountByTenant() map[TenantID]int {
	out := make(map[TenantID]int)
	for k, count := range s {
		out[k.TenantID] += count
	}
	return out
}

// Keys returns groups sorted by the tenant and the queue key.
func (s GroupSet) Keys() []GroupKey {
	out := make([]GroupKey, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	SortGroupKeys(out)
	return out
}

func SortGroupKeys(keys []GroupKey) {
	sort.SliceStable(keys, func(i, j int) bool {
		if keys[i].TenantID != keys[j].TenantID {
			return keys[i].TenantID < keys[j].TenantID
		}
		return keys[i].QueueKey < keys[j].QueueKey
	})
}
