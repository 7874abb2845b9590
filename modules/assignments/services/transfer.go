package services

import (
	"context"
	"fmt"
	"maps"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/iota-uz/iota-fleet/modules/assignments/domain/assignment"
	"github.com/iota-uz/iota-fleet/modules/assignments/domain/entity"
)

// Transfer cancels an assignment and recreates it for the same assignee on
// NewTarget. Either both happen or neither does.
func (s *AssignmentService) Transfer(ctx context.Context, in TransferInput) (*TransferResult, error) {
	ctx, span := s.startSpan(ctx, "transfer", attribute.String("assignment.id", in.ID.String()))
	var out *TransferResult
	err := validateInput(in)
	if err == nil {
		out, err = inTx(ctx, s.tx, func(txCtx context.Context) (*TransferResult, error) {
			return s.transferInTx(txCtx, in)
		})
	}
	fields := logrus.Fields{"assignment_id": in.ID, "actor": actorField(in.Actor)}
	if in.NewTarget != nil {
		fields["new_target"] = in.NewTarget.String()
	}
	if out != nil {
		fields["new_assignment_id"] = out.Created.ID
	}
	s.finish(ctx, span, "transfer", err, fields)
	return out, err
}

func (s *AssignmentService) transferInTx(ctx context.Context, in TransferInput) (*TransferResult, error) {
	old, err := s.repo.LockByID(ctx, in.ID)
	if err != nil {
		return nil, err
	}
	if old.Status.IsTerminal() {
		return nil, newServiceError(ErrAlreadyTerminal, fmt.Sprintf("assignment %s is %s", old.ID, old.Status), nil)
	}
	if err := s.registry.Validate(old.Kind, old.Assignee, in.NewTarget); err != nil {
		return nil, newServiceError(ErrTypeMismatch, err.Error(), err)
	}
	if entity.Equal(old.Target, in.NewTarget) {
		return nil, newServiceError(ErrInvalidInput, fmt.Sprintf("assignment %s already targets %s", old.ID, in.NewTarget), nil)
	}

	note := "transferred to " + in.NewTarget.String()
	if in.Reason != "" {
		note += ": " + in.Reason
	}
	status := old.Status
	if err := s.transition(ctx, old, assignment.StatusCancelled, in.Actor, note); err != nil {
		return nil, err
	}

	metadata := maps.Clone(old.Metadata)
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadata[assignment.MetadataTransferredFrom] = old.ID.String()

	created, err := s.prepare(CreateInput{
		Kind:                  old.Kind,
		Assignee:              old.Assignee,
		Target:                in.NewTarget,
		Actor:                 in.Actor,
		EffectiveDate:         in.EffectiveDate,
		ExpiryDate:            old.ExpiryDate,
		Status:                status,
		Reason:                in.Reason,
		Metadata:              metadata,
		AutoCancelConflicting: in.AutoCancelConflicting,
	})
	if err != nil {
		return nil, err
	}
	if err := s.createInTx(ctx, created, in.AutoCancelConflicting); err != nil {
		return nil, err
	}
	return &TransferResult{Cancelled: old, Created: created}, nil
}
