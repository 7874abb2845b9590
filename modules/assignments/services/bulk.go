package services

import (
	"context"
	"fmt"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/iota-uz/iota-fleet/modules/assignments/domain/assignment"
	"github.com/iota-uz/iota-fleet/modules/assignments/domain/entity"
)

// BulkCreateOccupants seats every assignee on the vehicle or none of them.
// Capacity is checked for the whole batch before anything is written, and
// each record is created with conflicting assignments auto-cancelled.
func (s *AssignmentService) BulkCreateOccupants(ctx context.Context, in BulkCreateInput) ([]*assignment.Assignment, error) {
	ctx, span := s.startSpan(ctx, "bulk_create_occupants",
		attribute.String("vehicle.id", uuid.UUID(in.Vehicle).String()),
		attribute.Int("batch.size", len(in.AssigneeIDs)),
	)
	out, err := s.bulkCreate(ctx, in)
	s.finish(ctx, span, "bulk_create_occupants", err, logrus.Fields{
		"vehicle_id": uuid.UUID(in.Vehicle),
		"batch_size": len(in.AssigneeIDs),
		"actor":      actorField(in.Actor),
	})
	return out, err
}

func (s *AssignmentService) bulkCreate(ctx context.Context, in BulkCreateInput) ([]*assignment.Assignment, error) {
	if len(in.AssigneeIDs) == 0 {
		return nil, newServiceError(ErrEmptyBatch, "", nil)
	}
	if dups := duplicateIDs(in.AssigneeIDs); len(dups) > 0 {
		return nil, newServiceError(ErrDuplicateIDs, "duplicate ids: "+joinIDs(dups), nil)
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}
	kind := in.Kind
	if kind == "" {
		kind = assignment.ChildToVehicle
	}
	spec, ok := s.registry.Lookup(kind)
	if !ok || !spec.Occupant {
		return nil, newServiceError(ErrTypeMismatch, fmt.Sprintf("%q is not an occupant assignment kind", kind), nil)
	}

	candidates := make([]*assignment.Assignment, 0, len(in.AssigneeIDs))
	for _, id := range in.AssigneeIDs {
		assignee, err := entity.NewRef(spec.Assignee, id)
		if err != nil {
			return nil, newServiceError(ErrTypeMismatch, err.Error(), err)
		}
		c, err := s.prepare(CreateInput{
			Kind:          kind,
			Assignee:      assignee,
			Target:        in.Vehicle,
			Actor:         in.Actor,
			EffectiveDate: in.EffectiveDate,
			ExpiryDate:    in.ExpiryDate,
			Reason:        in.Reason,
		})
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}

	return inTx(ctx, s.tx, func(txCtx context.Context) ([]*assignment.Assignment, error) {
		missing, err := s.repo.MissingEntities(txCtx, spec.Assignee, in.AssigneeIDs)
		if err != nil {
			return nil, err
		}
		if len(missing) > 0 {
			return nil, newServiceError(ErrUnknownEntity, fmt.Sprintf("unknown %s ids: %s", spec.Assignee, joinIDs(missing)), nil)
		}

		vehicle, err := s.lockActiveVehicle(txCtx, uuid.UUID(in.Vehicle))
		if err != nil {
			return nil, err
		}
		if err := s.checkCapacity(txCtx, vehicle, len(candidates)); err != nil {
			return nil, err
		}

		for _, c := range candidates {
			if err := s.createInTx(txCtx, c, true); err != nil {
				return nil, err
			}
		}
		return candidates, nil
	})
}

func duplicateIDs(ids []uuid.UUID) []uuid.UUID {
	seen := mapset.NewThreadUnsafeSetWithSize[uuid.UUID](len(ids))
	dups := mapset.NewThreadUnsafeSet[uuid.UUID]()
	var out []uuid.UUID
	for _, id := range ids {
		if !seen.Add(id) && dups.Add(id) {
			out = append(out, id)
		}
	}
	return out
}

func joinIDs(ids []uuid.UUID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return strings.Join(parts, ", ")
}
