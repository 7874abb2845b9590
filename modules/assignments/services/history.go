package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/wI2L/jsondiff"

	"github.com/iota-uz/iota-fleet/modules/assignments/domain/assignment"
	"github.com/iota-uz/iota-fleet/modules/assignments/domain/events"
)

// audit writes the history row and change event for one transition of
// after. before is nil for creations.
func (s *AssignmentService) audit(ctx context.Context, before, after *assignment.Assignment, action assignment.Action, actor *uuid.UUID, note string) error {
	changes, err := snapshotPatch(before, after)
	if err != nil {
		return err
	}
	h := &assignment.History{
		ID:           uuid.New(),
		AssignmentID: after.ID,
		Action:       action,
		PerformedBy:  actor,
		PerformedAt:  s.now(),
		Changes:      changes,
		Notes:        note,
	}
	if err := s.repo.InsertHistory(ctx, h); err != nil {
		return err
	}

	var prev assignment.Status
	if before != nil {
		prev = before.Status
	}
	if s.outbox != nil {
		if err := s.outbox.Enqueue(ctx, events.NewAssignmentChanged(after, action, prev, actor, h.PerformedAt)); err != nil {
			return fmt.Errorf("enqueue assignment event: %w", err)
		}
	}

	logWithFields(ctx, logrus.InfoLevel, "assignment "+string(action), logrus.Fields{
		"assignment_id": after.ID,
		"kind":          after.Kind,
		"assignee":      after.Assignee.String(),
		"target":        after.Target.String(),
		"status":        after.Status,
		"prev_status":   prev,
		"actor":         actorField(actor),
	})
	return nil
}

// snapshotPatch renders the change as a JSON Patch between snapshots.
func snapshotPatch(before, after *assignment.Assignment) (json.RawMessage, error) {
	var from any = map[string]any{}
	if before != nil {
		from = before.Snapshot()
	}
	patch, err := jsondiff.Compare(from, after.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("diff assignment snapshot: %w", err)
	}
	if len(patch) == 0 {
		return json.RawMessage(`[]`), nil
	}
	raw, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("marshal assignment patch: %w", err)
	}
	return raw, nil
}

// History returns the audit trail of one assignment, oldest first.
func (s *AssignmentService) History(ctx context.Context, id uuid.UUID) ([]*assignment.History, error) {
	return inTx(ctx, s.tx, func(txCtx context.Context) ([]*assignment.History, error) {
		if _, err := s.repo.Get(txCtx, id); err != nil {
			return nil, err
		}
		return s.repo.ListHistory(txCtx, id)
	})
}
