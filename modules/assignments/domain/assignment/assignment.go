package assignment

import (
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/iota-uz/iota-fleet/modules/assignments/domain/entity"
)

const MetadataTransferredFrom = "transferred_from"

type Assignment struct {
	ID            uuid.UUID
	Kind          Kind
	Assignee      entity.Ref
	Target        entity.Ref
	EffectiveDate time.Time
	ExpiryDate    *time.Time
	Status        Status
	AssignedBy    *uuid.UUID
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Reason        string
	Notes         string
	Metadata      map[string]string
}

func (a *Assignment) Window() Window {
	return Window{Effective: a.EffectiveDate, Expiry: a.ExpiryDate}
}

// ActiveOn reports whether the record is active and in force on day.
func (a *Assignment) ActiveOn(day time.Time) bool {
	return a.Status == StatusActive && a.Window().Contains(day)
}

func (a *Assignment) Clone() *Assignment {
	c := *a
	if a.ExpiryDate != nil {
		exp := *a.ExpiryDate
		c.ExpiryDate = &exp
	}
	if a.AssignedBy != nil {
		by := *a.AssignedBy
		c.AssignedBy = &by
	}
	c.Metadata = maps.Clone(a.Metadata)
	return &c
}

// AppendNote adds line to Notes on its own line.
func (a *Assignment) AppendNote(line string) {
	if line == "" {
		return
	}
	if a.Notes == "" {
		a.Notes = line
		return
	}
	a.Notes += "\n" + line
}

// Snapshot is the audited view of an assignment.
type Snapshot struct {
	Kind          Kind              `json:"kind"`
	Assignee      string            `json:"assignee"`
	Target        string            `json:"target"`
	EffectiveDate string            `json:"effective_date"`
	ExpiryDate    *string           `json:"expiry_date"`
	Status        Status            `json:"status"`
	Reason        string            `json:"reason,omitempty"`
	Notes         string            `json:"notes,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func (a *Assignment) Snapshot() Snapshot {
	s := Snapshot{
		Kind:          a.Kind,
		EffectiveDate: a.EffectiveDate.Format(time.DateOnly),
		Status:        a.Status,
		Reason:        a.Reason,
		Notes:         a.Notes,
		Metadata:      a.Metadata,
	}
	if a.Assignee != nil {
		s.Assignee = a.Assignee.String()
	}
	if a.Target != nil {
		s.Target = a.Target.String()
	}
	if a.ExpiryDate != nil {
		exp := a.ExpiryDate.Format(time.DateOnly)
		s.ExpiryDate = &exp
	}
	return s
}
