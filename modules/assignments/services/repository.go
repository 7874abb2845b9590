package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/iota-uz/iota-fleet/modules/assignments/domain/assignment"
	"github.com/iota-uz/iota-fleet/modules/assignments/domain/entity"
	"github.com/iota-uz/iota-fleet/modules/assignments/domain/events"
)

// Repository is the record store. Methods run on the transaction bound to
// ctx; Lock* and List*ForUpdate variants take row locks held until commit.
// Lookups of a missing row return an error wrapping pgx.ErrNoRows.
type Repository interface {
	Insert(ctx context.Context, a *assignment.Assignment) error
	Get(ctx context.Context, id uuid.UUID) (*assignment.Assignment, error)
	LockByID(ctx context.Context, id uuid.UUID) (*assignment.Assignment, error)
	UpdateStatus(ctx context.Context, a *assignment.Assignment) error

	// ListActiveByAssigneeForUpdate returns every active record of kind held
	// by assignee regardless of dates.
	ListActiveByAssigneeForUpdate(ctx context.Context, kind assignment.Kind, assignee entity.Ref) ([]*assignment.Assignment, error)
	// CountActiveOccupants counts distinct assignees holding an active
	// occupant assignment on the vehicle.
	CountActiveOccupants(ctx context.Context, vehicleID uuid.UUID) (int, error)
	ListActiveFor(ctx context.Context, assignee entity.Ref, kind *assignment.Kind, asOf time.Time) ([]*assignment.Assignment, error)
	ListActiveTargeting(ctx context.Context, target entity.Ref, kind *assignment.Kind, asOf time.Time) ([]*assignment.Assignment, error)
	// ListDueForExpiry locks active records whose expiry date is before day,
	// skipping rows locked by a concurrent run.
	ListDueForExpiry(ctx context.Context, day time.Time) ([]*assignment.Assignment, error)

	InsertHistory(ctx context.Context, h *assignment.History) error
	ListHistory(ctx context.Context, assignmentID uuid.UUID) ([]*assignment.History, error)

	GetVehicle(ctx context.Context, id uuid.UUID) (*entity.Vehicle, error)
	LockVehicle(ctx context.Context, id uuid.UUID) (*entity.Vehicle, error)
	// MissingEntities returns the subset of ids with no record of kind.
	MissingEntities(ctx context.Context, kind entity.Kind, ids []uuid.UUID) ([]uuid.UUID, error)
}

// TxRunner runs fn in one transaction, joining an outer one when present.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// EventOutbox persists change events in the caller's transaction.
type EventOutbox interface {
	Enqueue(ctx context.Context, ev events.AssignmentChangedV1) error
}
