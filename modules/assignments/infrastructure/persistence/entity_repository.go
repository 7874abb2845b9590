package persistence

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iota-uz/iota-fleet/modules/assignments/domain/entity"
	"github.com/iota-uz/iota-fleet/pkg/composables"
)

var entityTables = map[entity.Kind]string{
	entity.KindDriver:  "drivers",
	entity.KindMinder:  "minders",
	entity.KindChild:   "children",
	entity.KindVehicle: "vehicles",
	entity.KindRoute:   "routes",
}

func (r *AssignmentRepository) GetVehicle(ctx context.Context, id uuid.UUID) (*entity.Vehicle, error) {
	return r.vehicle(ctx, id, "")
}

func (r *AssignmentRepository) LockVehicle(ctx context.Context, id uuid.UUID) (*entity.Vehicle, error) {
	return r.vehicle(ctx, id, "FOR UPDATE")
}

func (r *AssignmentRepository) vehicle(ctx context.Context, id uuid.UUID, lock string) (*entity.Vehicle, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	v := entity.Vehicle{ID: id}
	err = tx.QueryRow(ctx, `SELECT capacity, is_active FROM vehicles WHERE id = $1 `+lock, pgUUID(id)).
		Scan(&v.Capacity, &v.IsActive)
	if err != nil {
		return nil, errors.Wrapf(err, "get vehicle %s", id)
	}
	return &v, nil
}

func (r *AssignmentRepository) MissingEntities(ctx context.Context, kind entity.Kind, ids []uuid.UUID) ([]uuid.UUID, error) {
	table, ok := entityTables[kind]
	if !ok {
		return nil, errors.Errorf("unknown entity kind %q", kind)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	params := make([]pgtype.UUID, len(ids))
	for i, id := range ids {
		params[i] = pgUUID(id)
	}
	rows, err := tx.Query(ctx, fmt.Sprintf(`
		SELECT DISTINCT t.id
		  FROM unnest($1::uuid[]) AS t(id)
		 WHERE NOT EXISTS (SELECT 1 FROM %s e WHERE e.id = t.id)`, table),
		params,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "check %s ids", kind)
	}
	missing, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (uuid.UUID, error) {
		var id pgtype.UUID
		err := row.Scan(&id)
		return id.Bytes, err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "check %s ids", kind)
	}
	return missing, nil
}
