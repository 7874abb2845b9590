package persistence

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iota-uz/iota-fleet/modules/assignments/domain/assignment"
	"github.com/iota-uz/iota-fleet/modules/assignments/domain/entity"
)

const assignmentColumns = `id, kind, assignee_kind, assignee_id, target_kind, target_id,
	effective_date, expiry_date, status, assigned_by, reason, notes, metadata,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func pgNullUUID(id *uuid.UUID) pgtype.UUID {
	if id == nil {
		return pgtype.UUID{}
	}
	return pgUUID(*id)
}

func pgDate(t time.Time) pgtype.Date {
	return pgtype.Date{Time: assignment.DateOf(t), Valid: true}
}

func pgNullDate(t *time.Time) pgtype.Date {
	if t == nil {
		return pgtype.Date{}
	}
	return pgDate(*t)
}

func kindArg(kind *assignment.Kind) pgtype.Text {
	if kind == nil {
		return pgtype.Text{}
	}
	return pgtype.Text{String: string(*kind), Valid: true}
}

func scanAssignment(row rowScanner) (*assignment.Assignment, error) {
	var (
		a            assignment.Assignment
		id           pgtype.UUID
		kind, status string
		assigneeKind string
		assigneeID   pgtype.UUID
		targetKind   string
		targetID     pgtype.UUID
		effective    pgtype.Date
		expiry       pgtype.Date
		assignedBy   pgtype.UUID
		metadata     map[string]string
	)
	if err := row.Scan(
		&id, &kind, &assigneeKind, &assigneeID, &targetKind, &targetID,
		&effective, &expiry, &status, &assignedBy, &a.Reason, &a.Notes, &metadata,
		&a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}

	assignee, err := entity.NewRef(entity.Kind(assigneeKind), assigneeID.Bytes)
	if err != nil {
		return nil, err
	}
	target, err := entity.NewRef(entity.Kind(targetKind), targetID.Bytes)
	if err != nil {
		return nil, err
	}

	a.ID = id.Bytes
	a.Kind = assignment.Kind(kind)
	a.Status = assignment.Status(status)
	a.Assignee = assignee
	a.Target = target
	a.EffectiveDate = assignment.DateOf(effective.Time)
	if expiry.Valid {
		exp := assignment.DateOf(expiry.Time)
		a.ExpiryDate = &exp
	}
	if assignedBy.Valid {
		by := uuid.UUID(assignedBy.Bytes)
		a.AssignedBy = &by
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	a.Metadata = metadata
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}
