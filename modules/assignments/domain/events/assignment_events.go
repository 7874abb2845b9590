package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/iota-uz/iota-fleet/modules/assignments/domain/assignment"
)

const TopicAssignmentChangedV1 = "assignment.changed.v1"

// AssignmentChangedV1 is the outbox payload emitted for every lifecycle
// transition. EventID equals the outbox event_id so consumers can dedupe.
type AssignmentChangedV1 struct {
	EventID       uuid.UUID         `json:"event_id"`
	AssignmentID  uuid.UUID         `json:"assignment_id"`
	Action        assignment.Action `json:"action"`
	Kind          assignment.Kind   `json:"kind"`
	Assignee      string            `json:"assignee"`
	Target        string            `json:"target"`
	Status        assignment.Status `json:"status"`
	PrevStatus    assignment.Status `json:"prev_status,omitempty"`
	EffectiveDate string            `json:"effective_date"`
	ExpiryDate    *string           `json:"expiry_date,omitempty"`
	PerformedBy   *uuid.UUID        `json:"performed_by,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func NewAssignmentChanged(a *assignment.Assignment, action assignment.Action, prev assignment.Status, actor *uuid.UUID, at time.Time) AssignmentChangedV1 {
	snap := a.Snapshot()
	return AssignmentChangedV1{
		EventID:       uuid.New(),
		AssignmentID:  a.ID,
		Action:        action,
		Kind:          a.Kind,
		Assignee:      snap.Assignee,
		Target:        snap.Target,
		Status:        a.Status,
		PrevStatus:    prev,
		EffectiveDate: snap.EffectiveDate,
		ExpiryDate:    snap.ExpiryDate,
		PerformedBy:   actor,
		OccurredAt:    at.UTC(),
		Metadata:      snap.Metadata,
	}
}
