package services

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	constraintNoOverlap       = "assignments_active_no_overlap"
	constraintSingleOccupancy = "assignments_single_occupancy_active"
	constraintCapacity        = "assignments_vehicle_capacity"
	constraintDateRange       = "assignments_expiry_after_effective"
	constraintKindPair        = "assignments_kind_pair"
)

// mapPgError turns store-level failures into the service error contract.
// Errors that already are service errors pass through untouched.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return newServiceError(ErrNotFound, "", err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case "23P01": // exclusion_violation
		recordWriteConflict("overlap")
		return newConflictError(nil, err)
	case "23505": // unique_violation
		recordWriteConflict("unique")
		if pgErr.ConstraintName == constraintSingleOccupancy {
			return newConflictError(nil, err)
		}
		return newServiceError(ErrConflict, "unique constraint violated", err)
	case "23514": // check_violation
		switch pgErr.ConstraintName {
		case constraintCapacity:
			recordWriteConflict("capacity")
			capacity, occupied := parseCapacityDetail(pgErr.Detail)
			attempted := occupied - capacity
			if attempted < 1 {
				attempted = 1
			}
			return newCapacityError(capacity, capacity, attempted, err)
		case constraintDateRange:
			return newServiceError(ErrInvalidDateRange, "", err)
		case constraintKindPair:
			return newServiceError(ErrTypeMismatch, "", err)
		}
		return newServiceError(ErrInvalidInput, "check constraint violated", err)
	case "40001", "40P01": // serialization_failure, deadlock_detected
		recordWriteConflict("serialization")
		return newServiceError(ErrConflict, "concurrent update, retry the operation", err)
	}
	return newServiceError(ErrInternal, fmt.Sprintf("database error (%s)", pgErr.Code), err)
}

// parseCapacityDetail reads "capacity=N occupied=M" written by the
// capacity trigger.
func parseCapacityDetail(detail string) (capacity, occupied int) {
	for _, field := range strings.Fields(detail) {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			continue
		}
		switch key {
		case "capacity":
			capacity = n
		case "occupied":
			occupied = n
		}
	}
	return capacity, occupied
}
