package assignment

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionCancelled Action = "cancelled"
	ActionExpired   Action = "expired"
)

// ActionFor maps the status a transition lands on to its audit action.
func ActionFor(to Status) Action {
	switch to {
	case StatusCancelled:
		return ActionCancelled
	case StatusExpired:
		return ActionExpired
	default:
		return ActionUpdated
	}
}

// History is one immutable audit row. Changes holds an RFC 6902 patch from
// the previous snapshot to the new one.
type History struct {
	ID           uuid.UUID
	AssignmentID uuid.UUID
	Action       Action
	PerformedBy  *uuid.UUID
	PerformedAt  time.Time
	Changes      json.RawMessage
	Notes        string
}
