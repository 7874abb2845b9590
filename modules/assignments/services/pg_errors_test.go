package services_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/iota-fleet/modules/assignments/domain/assignment"
	"github.com/iota-uz/iota-fleet/modules/assignments/domain/entity"
	"github.com/iota-uz/iota-fleet/modules/assignments/services"
	"github.com/iota-uz/iota-fleet/pkg/serrors"
)

// Commit-time constraint failures roll the whole operation back and surface
// as service errors.
func TestCommitTimeConstraintsAreMapped(t *testing.T) {
	cases := []struct {
		name  string
		pgErr *pgconn.PgError
		want  *serrors.BaseError
		check func(t *testing.T, err error)
	}{
		{
			name:  "capacity trigger",
			pgErr: &pgconn.PgError{Code: "23514", ConstraintName: "assignments_vehicle_capacity", Detail: "capacity=2 occupied=3"},
			want:  services.ErrCapacityExceeded,
			check: func(t *testing.T, err error) {
				var capErr *services.CapacityError
				require.ErrorAs(t, err, &capErr)
				require.Equal(t, 2, capErr.Capacity)
				require.Equal(t, 2, capErr.Current)
				require.Equal(t, 1, capErr.Attempted)
			},
		},
		{
			name:  "overlap exclusion",
			pgErr: &pgconn.PgError{Code: "23P01", ConstraintName: "assignments_active_no_overlap"},
			want:  services.ErrConflict,
			check: func(t *testing.T, err error) {
				var conflictErr *services.ConflictError
				require.ErrorAs(t, err, &conflictErr)
				require.Empty(t, conflictErr.Conflicts)
			},
		},
		{
			name:  "single occupancy index",
			pgErr: &pgconn.PgError{Code: "23505", ConstraintName: "assignments_single_occupancy_active"},
			want:  services.ErrConflict,
		},
		{
			name:  "date check",
			pgErr: &pgconn.PgError{Code: "23514", ConstraintName: "assignments_expiry_after_effective"},
			want:  services.ErrInvalidDateRange,
		},
		{
			name:  "kind pair check",
			pgErr: &pgconn.PgError{Code: "23514", ConstraintName: "assignments_kind_pair"},
			want:  services.ErrTypeMismatch,
		},
		{
			name:  "serialization failure",
			pgErr: &pgconn.PgError{Code: "40001"},
			want:  services.ErrConflict,
		},
		{
			name:  "other database error",
			pgErr: &pgconn.PgError{Code: "53300"},
			want:  services.ErrInternal,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, db := newTestService(t)
			bus := db.addVehicle(2, true)
			child := db.addEntity(entity.KindChild)
			db.beforeCommit = func(*memState) error {
				return fmt.Errorf("commit: %w", tc.pgErr)
			}

			_, err := svc.Create(context.Background(), services.CreateInput{
				Kind:     assignment.ChildToVehicle,
				Assignee: child,
				Target:   bus,
			})
			require.ErrorIs(t, err, tc.want)

			var svcErr *services.ServiceError
			require.ErrorAs(t, err, &svcErr)
			var pgErr *pgconn.PgError
			require.True(t, errors.As(err, &pgErr), "driver error stays reachable as the cause")
			if tc.check != nil {
				tc.check(t, err)
			}

			require.Empty(t, db.all())
			require.Empty(t, db.allHistory())
			require.Empty(t, db.allEvents())
		})
	}
}

func TestServiceErrorStatus(t *testing.T) {
	svc, db := newTestService(t)
	_, err := svc.BulkCreateOccupants(context.Background(), services.BulkCreateInput{Vehicle: db.addVehicle(1, true)})

	var svcErr *services.ServiceError
	require.ErrorAs(t, err, &svcErr)
	require.Equal(t, 400, svcErr.Status)
	require.Equal(t, services.ErrEmptyBatch.Code, svcErr.Code)
	require.NotErrorIs(t, err, services.ErrDuplicateIDs)
}
