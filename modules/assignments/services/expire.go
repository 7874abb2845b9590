package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/iota-uz/iota-fleet/modules/assignments/domain/assignment"
)

// Expire moves a pending or active assignment to expired.
func (s *AssignmentService) Expire(ctx context.Context, id uuid.UUID, actor *uuid.UUID) (*assignment.Assignment, error) {
	ctx, span := s.startSpan(ctx, "expire", attribute.String("assignment.id", id.String()))
	out, err := inTx(ctx, s.tx, func(txCtx context.Context) (*assignment.Assignment, error) {
		a, err := s.repo.LockByID(txCtx, id)
		if err != nil {
			return nil, err
		}
		return a, s.transition(txCtx, a, assignment.StatusExpired, actor, "")
	})
	s.finish(ctx, span, "expire", err, logrus.Fields{"assignment_id": id, "actor": actorField(actor)})
	return out, err
}

// ExpireDue expires every active assignment whose expiry date is before
// now's date. Running it again for the same day is a no-op.
func (s *AssignmentService) ExpireDue(ctx context.Context, now time.Time) (ExpireDueResult, error) {
	day := assignment.DateOf(now)
	ctx, span := s.startSpan(ctx, "expire_due", attribute.String("as_of", day.Format(time.DateOnly)))
	res, err := inTx(ctx, s.tx, func(txCtx context.Context) (ExpireDueResult, error) {
		due, err := s.repo.ListDueForExpiry(txCtx, day)
		if err != nil {
			return ExpireDueResult{}, err
		}
		res := ExpireDueResult{IDs: make([]uuid.UUID, 0, len(due))}
		for _, a := range due {
			note := fmt.Sprintf("expiry date %s passed", a.ExpiryDate.Format(time.DateOnly))
			if err := s.transition(txCtx, a, assignment.StatusExpired, nil, note); err != nil {
				return ExpireDueResult{}, err
			}
			res.IDs = append(res.IDs, a.ID)
		}
		res.Count = len(res.IDs)
		return res, nil
	})
	if err == nil {
		expiredTotal.Add(float64(res.Count))
	}
	s.finish(ctx, span, "expire_due", err, logrus.Fields{"as_of": day.Format(time.DateOnly), "expired": res.Count})
	return res, err
}
