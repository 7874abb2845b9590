package services

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/iota-uz/iota-fleet/modules/assignments/domain/assignment"
	"github.com/iota-uz/iota-fleet/pkg/serrors"
)

var (
	ErrTypeMismatch     = serrors.NewError("ASSIGNMENT_TYPE_MISMATCH", "assignee/target kinds do not match the assignment kind", "")
	ErrInvalidDateRange = serrors.NewError("ASSIGNMENT_INVALID_DATE_RANGE", "expiry date precedes effective date", "")
	ErrConflict         = serrors.NewError("ASSIGNMENT_CONFLICT", "overlapping active assignments exist", "")
	ErrCapacityExceeded = serrors.NewError("ASSIGNMENT_CAPACITY_EXCEEDED", "vehicle capacity exceeded", "")
	ErrEmptyBatch       = serrors.NewError("ASSIGNMENT_EMPTY_BATCH", "batch is empty", "")
	ErrDuplicateIDs     = serrors.NewError("ASSIGNMENT_DUPLICATE_IDS", "batch contains duplicate ids", "")
	ErrUnknownEntity    = serrors.NewError("ASSIGNMENT_UNKNOWN_ENTITY", "unknown or inactive entity", "")
	ErrNotFound         = serrors.NewError("ASSIGNMENT_NOT_FOUND", "not found", "")
	ErrAlreadyTerminal  = serrors.NewError("ASSIGNMENT_ALREADY_TERMINAL", "assignment is already cancelled or expired", "")
	ErrInvalidInput     = serrors.NewError("ASSIGNMENT_INVALID_BODY", "invalid input", "")
	ErrInternal         = serrors.NewError("ASSIGNMENT_INTERNAL", "internal error", "")
)

var statusByCode = map[string]int{
	ErrTypeMismatch.Code:     http.StatusUnprocessableEntity,
	ErrInvalidDateRange.Code: http.StatusBadRequest,
	ErrConflict.Code:         http.StatusConflict,
	ErrCapacityExceeded.Code: http.StatusConflict,
	ErrEmptyBatch.Code:       http.StatusBadRequest,
	ErrDuplicateIDs.Code:     http.StatusBadRequest,
	ErrUnknownEntity.Code:    http.StatusUnprocessableEntity,
	ErrNotFound.Code:         http.StatusNotFound,
	ErrAlreadyTerminal.Code:  http.StatusConflict,
	ErrInvalidInput.Code:     http.StatusBadRequest,
	ErrInternal.Code:         http.StatusInternalServerError,
}

// ServiceError is the only error shape lifecycle operations return. Status
// is the HTTP status a transport should answer with.
type ServiceError struct {
	Status  int
	Code    string
	Message string
	Cause   error
}

func (e *ServiceError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *ServiceError) Unwrap() error { return e.Cause }

// Is matches the serrors sentinel with the same code.
func (e *ServiceError) Is(target error) bool {
	base, ok := target.(*serrors.BaseError)
	return ok && base.Code == e.Code
}

func newServiceError(kind *serrors.BaseError, message string, cause error) *ServiceError {
	if message == "" {
		message = kind.Message
	}
	status, ok := statusByCode[kind.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &ServiceError{Status: status, Code: kind.Code, Message: message, Cause: cause}
}

// ConflictError lists every active assignment the candidate collides with.
// Conflicts is empty when the collision was detected by the database.
type ConflictError struct {
	Conflicts []*assignment.Assignment
	err       *ServiceError
}

func newConflictError(conflicts []*assignment.Assignment, cause error) *ConflictError {
	ids := make([]string, 0, len(conflicts))
	for _, c := range conflicts {
		ids = append(ids, c.ID.String())
	}
	msg := ErrConflict.Message
	if len(ids) > 0 {
		msg = fmt.Sprintf("conflicts with active assignment(s) %s", strings.Join(ids, ", "))
	}
	return &ConflictError{Conflicts: conflicts, err: newServiceError(ErrConflict, msg, cause)}
}

func (e *ConflictError) Error() string { return e.err.Error() }
func (e *ConflictError) Unwrap() error { return e.err }

type CapacityError struct {
	Capacity  int
	Current   int
	Attempted int
	err       *ServiceError
}

func newCapacityError(capacity, current, attempted int, cause error) *CapacityError {
	msg := fmt.Sprintf("capacity=%d current=%d attempted=%d", capacity, current, attempted)
	return &CapacityError{
		Capacity:  capacity,
		Current:   current,
		Attempted: attempted,
		err:       newServiceError(ErrCapacityExceeded, msg, cause),
	}
}

func (e *CapacityError) Error() string { return e.err.Error() }
func (e *CapacityError) Unwrap() error { return e.err }
