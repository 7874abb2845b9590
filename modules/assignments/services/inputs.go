package services

import (
	"time"

	"github.com/google/uuid"

	"github.com/iota-uz/iota-fleet/modules/assignments/domain/assignment"
	"github.com/iota-uz/iota-fleet/modules/assignments/domain/entity"
	"github.com/iota-uz/iota-fleet/pkg/constants"
)

type CreateInput struct {
	Kind     assignment.Kind `validate:"required"`
	Assignee entity.Ref      `validate:"required"`
	Target   entity.Ref      `validate:"required"`
	Actor    *uuid.UUID

	// EffectiveDate defaults to today.
	EffectiveDate *time.Time
	ExpiryDate    *time.Time
	// Status defaults to active.
	Status   assignment.Status `validate:"omitempty,oneof=pending active"`
	Reason   string            `validate:"max=500"`
	Notes    string            `validate:"max=2000"`
	Metadata map[string]string `validate:"max=32,dive,keys,required,max=64,endkeys,max=500"`

	AutoCancelConflicting bool
}

type BulkCreateInput struct {
	// Kind defaults to child_to_vehicle and must be an occupant kind.
	Kind          assignment.Kind
	Vehicle       entity.VehicleRef `validate:"required"`
	AssigneeIDs   []uuid.UUID
	Actor         *uuid.UUID
	EffectiveDate *time.Time
	ExpiryDate    *time.Time
	Reason        string `validate:"max=500"`
}

type TransferInput struct {
	ID        uuid.UUID  `validate:"required"`
	NewTarget entity.Ref `validate:"required"`
	Actor     *uuid.UUID
	Reason    string `validate:"max=500"`
	// EffectiveDate of the new record; defaults to today.
	EffectiveDate         *time.Time
	AutoCancelConflicting bool
}

type TransferResult struct {
	Cancelled *assignment.Assignment
	Created   *assignment.Assignment
}

type ActivateInput struct {
	ID                    uuid.UUID `validate:"required"`
	Actor                 *uuid.UUID
	AutoCancelConflicting bool
}

type ExpireDueResult struct {
	Count int
	IDs   []uuid.UUID
}

// Occupancy is the seat picture of one vehicle. Reserved counts every
// active occupant record and is what capacity is enforced against; Seated
// is the subset in force on AsOf.
type Occupancy struct {
	VehicleID uuid.UUID
	AsOf      time.Time
	Capacity  int
	IsActive  bool
	Reserved  int
	Seated    int
	Occupants []*assignment.Assignment
}

func (o Occupancy) Available() int {
	if free := o.Capacity - o.Reserved; free > 0 {
		return free
	}
	return 0
}

type reasonInput struct {
	Reason string `validate:"max=500"`
}

func validateInput(v any) error {
	if err := constants.Validate.Struct(v); err != nil {
		return newServiceError(ErrInvalidInput, err.Error(), err)
	}
	return nil
}
