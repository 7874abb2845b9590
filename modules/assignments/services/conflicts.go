package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iota-uz/iota-fleet/modules/assignments/domain/assignment"
	"github.com/iota-uz/iota-fleet/modules/assignments/domain/entity"
)

// FindConflicts returns every active assignment of kind held by assignee on
// a different target whose window overlaps [effective, expiry]. It only
// reads.
func (s *AssignmentService) FindConflicts(ctx context.Context, kind assignment.Kind, assignee, target entity.Ref, effective time.Time, expiry *time.Time) ([]*assignment.Assignment, error) {
	window, err := assignment.NewWindow(effective, expiry)
	if err != nil {
		return nil, newServiceError(ErrInvalidDateRange, "", err)
	}
	return inTx(ctx, s.tx, func(txCtx context.Context) ([]*assignment.Assignment, error) {
		held, err := s.repo.ListActiveByAssigneeForUpdate(txCtx, kind, assignee)
		if err != nil {
			return nil, err
		}
		conflicts, _ := partitionOverlaps(held, target, window)
		return conflicts, nil
	})
}

// partitionOverlaps splits the overlapping records into those pointing at
// another target (conflicts) and those pointing at the same one (duplicates).
func partitionOverlaps(held []*assignment.Assignment, target entity.Ref, window assignment.Window) (conflicts, duplicates []*assignment.Assignment) {
	for _, h := range held {
		if h.Status != assignment.StatusActive || !h.Window().Overlaps(window) {
			continue
		}
		if entity.Equal(h.Target, target) {
			duplicates = append(duplicates, h)
		} else {
			conflicts = append(conflicts, h)
		}
	}
	return conflicts, duplicates
}

// resolveConflicts rejects the candidate when it overlaps an active record,
// or cancels the overlapping records when autoCancel is set. An overlapping
// record on the same target is a duplicate and is always rejected.
func (s *AssignmentService) resolveConflicts(ctx context.Context, a *assignment.Assignment, held []*assignment.Assignment, autoCancel bool, actor *uuid.UUID) error {
	conflicts, duplicates := partitionOverlaps(held, a.Target, a.Window())
	if len(duplicates) > 0 {
		return newConflictError(duplicates, nil)
	}
	if len(conflicts) == 0 {
		return nil
	}
	if !autoCancel {
		return newConflictError(conflicts, nil)
	}

	note := fmt.Sprintf("auto-cancelled: superseded by assignment %s targeting %s", a.ID, a.Target)
	for _, c := range conflicts {
		if err := s.transition(ctx, c, assignment.StatusCancelled, actor, note); err != nil {
			return err
		}
	}
	return nil
}
