package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/iota-uz/iota-fleet/modules/assignments/domain/assignment"
	"github.com/iota-uz/iota-fleet/modules/assignments/domain/entity"
)

// ActiveFor lists assignments held by ref that are active and in force on
// asOf (today when zero), optionally restricted to one kind.
func (s *AssignmentService) ActiveFor(ctx context.Context, ref entity.Ref, kind *assignment.Kind, asOf time.Time) ([]*assignment.Assignment, error) {
	if ref == nil {
		return nil, newServiceError(ErrInvalidInput, "entity reference is required", nil)
	}
	list, err := s.repo.ListActiveFor(ctx, ref, kind, s.asOfDay(asOf))
	return list, mapPgError(err)
}

// ActiveTargeting is ActiveFor with ref on the target side.
func (s *AssignmentService) ActiveTargeting(ctx context.Context, ref entity.Ref, kind *assignment.Kind, asOf time.Time) ([]*assignment.Assignment, error) {
	if ref == nil {
		return nil, newServiceError(ErrInvalidInput, "entity reference is required", nil)
	}
	list, err := s.repo.ListActiveTargeting(ctx, ref, kind, s.asOfDay(asOf))
	return list, mapPgError(err)
}

func (s *AssignmentService) Get(ctx context.Context, id uuid.UUID) (*assignment.Assignment, error) {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, mapPgError(err)
	}
	return a, nil
}

func (s *AssignmentService) VehicleOccupancy(ctx context.Context, vehicleID uuid.UUID, asOf time.Time) (Occupancy, error) {
	day := s.asOfDay(asOf)
	return inTx(ctx, s.tx, func(txCtx context.Context) (Occupancy, error) {
		v, err := s.repo.GetVehicle(txCtx, vehicleID)
		if err != nil {
			return Occupancy{}, err
		}
		reserved, err := s.repo.CountActiveOccupants(txCtx, vehicleID)
		if err != nil {
			return Occupancy{}, err
		}
		occ := Occupancy{VehicleID: v.ID, AsOf: day, Capacity: v.Capacity, IsActive: v.IsActive, Reserved: reserved}
		for _, kind := range s.occupantKinds() {
			k := kind
			list, err := s.repo.ListActiveTargeting(txCtx, entity.VehicleRef(vehicleID), &k, day)
			if err != nil {
				return Occupancy{}, err
			}
			occ.Occupants = append(occ.Occupants, list...)
		}
		occ.Seated = len(occ.Occupants)
		return occ, nil
	})
}

func (s *AssignmentService) occupantKinds() []assignment.Kind {
	var out []assignment.Kind
	for _, k := range s.registry.Kinds() {
		if spec, _ := s.registry.Lookup(k); spec.Occupant {
			out = append(out, k)
		}
	}
	return out
}

func (s *AssignmentService) asOfDay(asOf time.Time) time.Time {
	if asOf.IsZero() {
		return s.today()
	}
	return assignment.DateOf(asOf)
}
