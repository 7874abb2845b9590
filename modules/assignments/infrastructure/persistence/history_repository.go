package persistence

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iota-uz/iota-fleet/modules/assignments/domain/assignment"
	"github.com/iota-uz/iota-fleet/pkg/composables"
)

func (r *AssignmentRepository) InsertHistory(ctx context.Context, h *assignment.History) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	changes := []byte(h.Changes)
	if len(changes) == 0 {
		changes = []byte(`[]`)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO assignment_history (id, assignment_id, action, performed_by, performed_at, changes, notes)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)`,
		pgUUID(h.ID),
		pgUUID(h.AssignmentID),
		string(h.Action),
		pgNullUUID(h.PerformedBy),
		h.PerformedAt.UTC(),
		string(changes),
		h.Notes,
	)
	if err != nil {
		return errors.Wrapf(err, "insert history for assignment %s", h.AssignmentID)
	}
	return nil
}

// ListHistory returns rows in insertion order.
func (r *AssignmentRepository) ListHistory(ctx context.Context, assignmentID uuid.UUID) ([]*assignment.History, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
		SELECT id, assignment_id, action, performed_by, performed_at, changes, notes
		  FROM assignment_history
		 WHERE assignment_id = $1
		 ORDER BY seq`,
		pgUUID(assignmentID),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "list history for assignment %s", assignmentID)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*assignment.History, error) {
		var (
			h                  assignment.History
			id, aid, performer pgtype.UUID
			action             string
			changes            []byte
		)
		if err := row.Scan(&id, &aid, &action, &performer, &h.PerformedAt, &changes, &h.Notes); err != nil {
			return nil, err
		}
		h.ID = id.Bytes
		h.AssignmentID = aid.Bytes
		h.Action = assignment.Action(action)
		if performer.Valid {
			by := uuid.UUID(performer.Bytes)
			h.PerformedBy = &by
		}
		h.PerformedAt = h.PerformedAt.UTC()
		h.Changes = changes
		return &h, nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "scan history for assignment %s", assignmentID)
	}
	return out, nil
}
