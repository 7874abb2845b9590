package persistence

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/iota-uz/iota-fleet/modules/assignments/domain/assignment"
	"github.com/iota-uz/iota-fleet/modules/assignments/domain/entity"
	"github.com/iota-uz/iota-fleet/pkg/composables"
)

// AssignmentRepository stores assignments, their history and reads the
// collaborator entity tables. Every method runs on the transaction bound to
// ctx, or on the pool when there is none.
type AssignmentRepository struct{}

func NewAssignmentRepository() *AssignmentRepository {
	return &AssignmentRepository{}
}

func (r *AssignmentRepository) Insert(ctx context.Context, a *assignment.Assignment) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	metadata := a.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO assignments (
			id, kind, assignee_kind, assignee_id, target_kind, target_id,
			effective_date, expiry_date, status, assigned_by, reason, notes, metadata,
			created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		pgUUID(a.ID),
		string(a.Kind),
		string(a.Assignee.Kind()),
		pgUUID(a.Assignee.ID()),
		string(a.Target.Kind()),
		pgUUID(a.Target.ID()),
		pgDate(a.EffectiveDate),
		pgNullDate(a.ExpiryDate),
		string(a.Status),
		pgNullUUID(a.AssignedBy),
		a.Reason,
		a.Notes,
		metadata,
		a.CreatedAt.UTC(),
		a.UpdatedAt.UTC(),
	)
	if err != nil {
		return errors.Wrapf(err, "insert assignment %s", a.ID)
	}
	return nil
}

func (r *AssignmentRepository) Get(ctx context.Context, id uuid.UUID) (*assignment.Assignment, error) {
	return r.getOne(ctx, id, "")
}

func (r *AssignmentRepository) LockByID(ctx context.Context, id uuid.UUID) (*assignment.Assignment, error) {
	return r.getOne(ctx, id, "FOR UPDATE")
}

func (r *AssignmentRepository) getOne(ctx context.Context, id uuid.UUID, lock string) (*assignment.Assignment, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	a, err := scanAssignment(tx.QueryRow(ctx,
		`SELECT `+assignmentColumns+` FROM assignments WHERE id = $1 `+lock, pgUUID(id)))
	if err != nil {
		return nil, errors.Wrapf(err, "get assignment %s", id)
	}
	return a, nil
}

// UpdateStatus writes the mutable lifecycle fields of a.
func (r *AssignmentRepository) UpdateStatus(ctx context.Context, a *assignment.Assignment) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
		UPDATE assignments
		   SET status = $2, notes = $3, updated_at = $4
		 WHERE id = $1`,
		pgUUID(a.ID), string(a.Status), a.Notes, a.UpdatedAt.UTC(),
	)
	if err != nil {
		return errors.Wrapf(err, "update assignment %s", a.ID)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(pgx.ErrNoRows, "update assignment %s", a.ID)
	}
	return nil
}

func (r *AssignmentRepository) list(ctx context.Context, op, query string, args ...any) ([]*assignment.Assignment, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, op)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*assignment.Assignment, error) {
		return scanAssignment(row)
	})
	if err != nil {
		return nil, errors.Wrap(err, op)
	}
	return out, nil
}

func (r *AssignmentRepository) ListActiveByAssigneeForUpdate(ctx context.Context, kind assignment.Kind, assignee entity.Ref) ([]*assignment.Assignment, error) {
	return r.list(ctx, "list held assignments", `
		SELECT `+assignmentColumns+`
		  FROM assignments
		 WHERE kind = $1 AND assignee_kind = $2 AND assignee_id = $3 AND status = 'active'
		 ORDER BY effective_date, created_at
		   FOR UPDATE`,
		string(kind), string(assignee.Kind()), pgUUID(assignee.ID()),
	)
}

func (r *AssignmentRepository) CountActiveOccupants(ctx context.Context, vehicleID uuid.UUID) (int, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	err = tx.QueryRow(ctx, `
		SELECT count(DISTINCT assignee_id)
		  FROM assignments
		 WHERE kind = $1 AND target_kind = 'vehicle' AND target_id = $2 AND status = 'active'`,
		string(assignment.ChildToVehicle), pgUUID(vehicleID),
	).Scan(&n)
	if err != nil {
		return 0, errors.Wrapf(err, "count occupants of vehicle %s", vehicleID)
	}
	return n, nil
}

func (r *AssignmentRepository) ListActiveFor(ctx context.Context, assignee entity.Ref, kind *assignment.Kind, asOf time.Time) ([]*assignment.Assignment, error) {
	return r.list(ctx, "list active for assignee", `
		SELECT `+assignmentColumns+`
		  FROM assignments
		 WHERE assignee_kind = $1 AND assignee_id = $2 AND status = 'active'
		   AND ($3::text IS NULL OR kind = $3)
		   AND effective_date <= $4 AND (expiry_date IS NULL OR expiry_date >= $4)
		 ORDER BY effective_date, created_at`,
		string(assignee.Kind()), pgUUID(assignee.ID()), kindArg(kind), pgDate(asOf),
	)
}

func (r *AssignmentRepository) ListActiveTargeting(ctx context.Context, target entity.Ref, kind *assignment.Kind, asOf time.Time) ([]*assignment.Assignment, error) {
	return r.list(ctx, "list active targeting", `
		SELECT `+assignmentColumns+`
		  FROM assignments
		 WHERE target_kind = $1 AND target_id = $2 AND status = 'active'
		   AND ($3::text IS NULL OR kind = $3)
		   AND effective_date <= $4 AND (expiry_date IS NULL OR expiry_date >= $4)
		 ORDER BY effective_date, created_at`,
		string(target.Kind()), pgUUID(target.ID()), kindArg(kind), pgDate(asOf),
	)
}

func (r *AssignmentRepository) ListDueForExpiry(ctx context.Context, day time.Time) ([]*assignment.Assignment, error) {
	return r.list(ctx, "list due for expiry", `
		SELECT `+assignmentColumns+`
		  FROM assignments
		 WHERE status = 'active' AND expiry_date < $1
		 ORDER BY expiry_date, created_at
		   FOR UPDATE SKIP LOCKED`,
		pgDate(day),
	)
}
