// Package model contains the change set entity and the types derived from it.
package model

import (
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/keboola/changeset-scheduler/internal/pkg/idgenerator"
)

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	StatusDone    Status = "done"
)

const (
	DirectionExternalToInternal Direction = "externalToInternal"
	DirectionInternalToExternal Direction = "internalToExternal"
)

const (
	EventTypeCreate EventType = "create"
	EventTypeSync   EventType = "sync"
	EventTypePush   EventType = "push"
)

type Status string

type Direction string

type EventType string

type TenantID string

type QueueKey string

type ChangeSetID string

// ChangeSetKey addresses the change set in a store, the identity is the ChangeSetID.
type ChangeSetKey struct {
	TenantID    TenantID    `json:"tenantId" validate:"required"`
	QueueKey    QueueKey    `json:"queueKey" validate:"required"`
	ChangeSetID ChangeSetID `json:"changeSetId" validate:"required"`
}

type ChangeSet struct {
	ChangeSetKey
	Direction     Direction       `json:"direction" validate:"required,oneof=externalToInternal internalToExternal"`
	EventType     EventType       `json:"eventType" validate:"required,oneof=create sync push"`
	Status        Status          `json:"status" validate:"required,oneof=queued running failed skipped done"`
	RetryCount    int             `json:"retryCount" validate:"min=0"`
	CreatedAt     time.Time       `json:"createdAt"`
	LastUpdatedAt time.Time       `json:"lastUpdatedAt"`
	LastError     string          `json:"lastError,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// Transition describes a compare-and-set status change, see the Repository.Transition.
type Transition struct {
	Key  ChangeSetKey
	From Status
	To   Status
	At   time.Time
	// IncrementRetry increments the RetryCount as a part of the transition.
	IncrementRetry bool
	// Reason is stored to the LastError field, if not empty.
	Reason string
}

// NewChangeSet creates a Queued change set with a generated ID.
func NewChangeSet(group GroupKey, direction Direction, eventType EventType, payload json.RawMessage, now time.Time) ChangeSet {
	now = now.UTC()
	return ChangeSet{
		ChangeSetKey: ChangeSetKey{
			TenantID:    group.TenantID,
			QueueKey:    group.QueueKey,
			ChangeSetID: ChangeSetID(idgenerator.ChangeSetID()),
		},
		Direction:     direction,
		EventType:     eventType,
		Status:        StatusQueued,
		CreatedAt:     now,
		LastUpdatedAt: now,
		Payload:       payload,
	}
}

// Priority returns the claim order of the event type, lower value is claimed first.
// Unknown types are claimed last.
func (v EventType) Priority() int {
	switch v {
	case EventTypeCreate:
		return 1
	case EventTypeSync:
		return 2
	case EventTypePush:
		return 3
	default:
		return 4
	}
}

// IsTerminal returns true, if no transition from the status is possible.
func (v Status) IsTerminal() bool {
	return v == StatusSkipped || v == StatusDone
}

func (v ChangeSetKey) GroupKey() GroupKey {
	return GroupKey{TenantID: v.TenantID, QueueKey: v.QueueKey}
}

func (v ChangeSetKey) String() string {
	return fmt.Sprintf("%s/%s/%s", v.TenantID, v.QueueKey, v.ChangeSetID)
}

func (v ChangeSetKey) Telemetry() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("tenant.id", string(v.TenantID)),
		attribute.String("queue.key", string(v.QueueKey)),
		attribute.String("changeSet.id", string(v.ChangeSetID)),
	}
}

func (v ChangeSet) Telemetry() []attribute.KeyValue {
	return append(
		v.ChangeSetKey.Telemetry(),
		attribute.String("changeSet.direction", string(v.Direction)),
		attribute.String("changeSet.eventType", string(v.EventType)),
		attribute.Int("changeSet.retryCount", v.RetryCount),
	)
}
