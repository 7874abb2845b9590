package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/iota-uz/iota-fleet/modules/assignments/domain/entity"
)

// lockActiveVehicle row-locks the vehicle for the rest of the transaction
// so concurrent seat checks on it serialize.
func (s *AssignmentService) lockActiveVehicle(ctx context.Context, id uuid.UUID) (*entity.Vehicle, error) {
	v, err := s.repo.LockVehicle(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, newServiceError(ErrUnknownEntity, fmt.Sprintf("vehicle %s does not exist", id), err)
		}
		return nil, err
	}
	if !v.IsActive {
		return nil, newServiceError(ErrUnknownEntity, fmt.Sprintf("vehicle %s is inactive", id), nil)
	}
	return v, nil
}

// CheckCapacity verifies that additional more occupants fit on the vehicle.
// The vehicle stays locked until the surrounding transaction ends.
func (s *AssignmentService) CheckCapacity(ctx context.Context, vehicleID uuid.UUID, additional int) error {
	_, err := inTx(ctx, s.tx, func(txCtx context.Context) (struct{}, error) {
		v, err := s.lockActiveVehicle(txCtx, vehicleID)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, s.checkCapacity(txCtx, v, additional)
	})
	return err
}

func (s *AssignmentService) checkCapacity(ctx context.Context, v *entity.Vehicle, additional int) error {
	current, err := s.repo.CountActiveOccupants(ctx, v.ID)
	if err != nil {
		return err
	}
	if current+additional > v.Capacity {
		return newCapacityError(v.Capacity, current, additional, nil)
	}
	return nil
}
