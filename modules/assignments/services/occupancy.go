package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/iota-uz/iota-fleet/modules/assignments/domain/assignment"
)

// retirePrevious enforces single occupancy: every other active record of
// the same kind held by the assignee is retired, whether or not its dates
// overlap the new one. Records that already ended before the new one starts
// are expired, the rest cancelled.
func (s *AssignmentService) retirePrevious(ctx context.Context, a *assignment.Assignment, held []*assignment.Assignment, actor *uuid.UUID) error {
	for _, prev := range held {
		if prev.Status != assignment.StatusActive {
			continue
		}
		to := assignment.StatusCancelled
		if prev.Window().EndedBefore(a.EffectiveDate) {
			to = assignment.StatusExpired
		}
		note := fmt.Sprintf("retired: %s now holds assignment %s targeting %s", a.Assignee, a.ID, a.Target)
		if err := s.transition(ctx, prev, to, actor, note); err != nil {
			return err
		}
	}
	return nil
}
