package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/iota-uz/iota-fleet/modules/assignments/domain/assignment"
	"github.com/iota-uz/iota-fleet/modules/assignments/domain/entity"
)

var tracer = otel.Tracer("github.com/iota-uz/iota-fleet/modules/assignments/services")

type AssignmentService struct {
	repo     Repository
	tx       TxRunner
	outbox   EventOutbox
	registry *assignment.Registry
	now      func() time.Time
}

type Option func(*AssignmentService)

func WithRegistry(r *assignment.Registry) Option {
	return func(s *AssignmentService) { s.registry = r }
}

// WithClock overrides the clock used for default dates and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *AssignmentService) { s.now = now }
}

// NewAssignmentService wires the lifecycle service. outbox may be nil, in
// which case no change events are recorded.
func NewAssignmentService(repo Repository, tx TxRunner, outbox EventOutbox, opts ...Option) *AssignmentService {
	s := &AssignmentService{
		repo:     repo,
		tx:       tx,
		outbox:   outbox,
		registry: assignment.DefaultRegistry(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *AssignmentService) Registry() *assignment.Registry {
	return s.registry
}

func (s *AssignmentService) today() time.Time {
	return assignment.DateOf(s.now())
}

func inTx[T any](ctx context.Context, runner TxRunner, fn func(txCtx context.Context) (T, error)) (T, error) {
	var out T
	err := runner.InTx(ctx, func(txCtx context.Context) error {
		v, err := fn(txCtx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, mapPgError(err)
	}
	return out, nil
}

func (s *AssignmentService) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "assignments."+op, trace.WithAttributes(attrs...))
}

// finish records the outcome of a lifecycle operation on every channel.
func (s *AssignmentService) finish(ctx context.Context, span trace.Span, op string, err error, fields logrus.Fields) {
	defer span.End()
	recordLifecycle(op, err)
	if fields == nil {
		fields = logrus.Fields{}
	}
	fields["operation"] = op
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, resultCode(err))
	fields["code"] = resultCode(err)
	fields["error"] = err.Error()
	logWithFields(ctx, logrus.WarnLevel, "assignment operation rejected", fields)
}

func actorField(actor *uuid.UUID) string {
	if actor == nil {
		return "system"
	}
	return actor.String()
}

// prepare validates input that needs no storage access and builds the
// candidate record.
func (s *AssignmentService) prepare(in CreateInput) (*assignment.Assignment, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if err := s.registry.Validate(in.Kind, in.Assignee, in.Target); err != nil {
		return nil, newServiceError(ErrTypeMismatch, err.Error(), err)
	}
	effective := s.today()
	if in.EffectiveDate != nil {
		effective = *in.EffectiveDate
	}
	window, err := assignment.NewWindow(effective, in.ExpiryDate)
	if err != nil {
		return nil, newServiceError(ErrInvalidDateRange, "", err)
	}
	status := in.Status
	if status == "" {
		status = assignment.StatusActive
	}
	metadata := make(map[string]string, len(in.Metadata))
	for k, v := range in.Metadata {
		metadata[k] = v
	}
	return &assignment.Assignment{
		ID:            uuid.New(),
		Kind:          in.Kind,
		Assignee:      in.Assignee,
		Target:        in.Target,
		EffectiveDate: window.Effective,
		ExpiryDate:    window.Expiry,
		Status:        status,
		AssignedBy:    in.Actor,
		Reason:        in.Reason,
		Notes:         in.Notes,
		Metadata:      metadata,
	}, nil
}

// Create validates and persists a new assignment together with every
// retirement it implies and their audit rows.
func (s *AssignmentService) Create(ctx context.Context, in CreateInput) (*assignment.Assignment, error) {
	ctx, span := s.startSpan(ctx, "create", attribute.String("assignment.kind", string(in.Kind)))
	candidate, err := s.prepare(in)
	if err == nil {
		candidate, err = inTx(ctx, s.tx, func(txCtx context.Context) (*assignment.Assignment, error) {
			return candidate, s.createInTx(txCtx, candidate, in.AutoCancelConflicting)
		})
	}
	fields := logrus.Fields{"kind": in.Kind, "actor": actorField(in.Actor)}
	if candidate != nil {
		fields["assignment_id"] = candidate.ID
	}
	s.finish(ctx, span, "create", err, fields)
	if err != nil {
		return nil, err
	}
	return candidate, nil
}

func (s *AssignmentService) createInTx(ctx context.Context, a *assignment.Assignment, autoCancel bool) error {
	if err := s.ensureExists(ctx, a.Assignee); err != nil {
		return err
	}
	if err := s.ensureExists(ctx, a.Target); err != nil {
		return err
	}
	if a.Status == assignment.StatusActive {
		if err := s.admit(ctx, a, autoCancel, a.AssignedBy); err != nil {
			return err
		}
	}

	now := s.now()
	a.CreatedAt, a.UpdatedAt = now, now
	if err := s.repo.Insert(ctx, a); err != nil {
		return err
	}
	return s.audit(ctx, nil, a, assignment.ActionCreated, a.AssignedBy, a.Reason)
}

func (s *AssignmentService) ensureExists(ctx context.Context, ref entity.Ref) error {
	missing, err := s.repo.MissingEntities(ctx, ref.Kind(), []uuid.UUID{ref.ID()})
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return newServiceError(ErrNotFound, fmt.Sprintf("%s not found", ref), nil)
	}
	return nil
}

// admit runs the checks a record must pass to become active: conflicts,
// vehicle capacity and single occupancy, in that order.
func (s *AssignmentService) admit(ctx context.Context, a *assignment.Assignment, autoCancel bool, actor *uuid.UUID) error {
	spec, ok := s.registry.Lookup(a.Kind)
	if !ok {
		return newServiceError(ErrTypeMismatch, fmt.Sprintf("unknown assignment kind %q", a.Kind), nil)
	}

	var vehicle *entity.Vehicle
	if a.Target.Kind() == entity.KindVehicle {
		v, err := s.lockActiveVehicle(ctx, a.Target.ID())
		if err != nil {
			return err
		}
		vehicle = v
	}

	held, err := s.repo.ListActiveByAssigneeForUpdate(ctx, a.Kind, a.Assignee)
	if err != nil {
		return err
	}
	held = withoutID(held, a.ID)

	if err := s.resolveConflicts(ctx, a, held, autoCancel, actor); err != nil {
		return err
	}

	if spec.Occupant && vehicle != nil {
		if err := s.checkCapacity(ctx, vehicle, 1); err != nil {
			return err
		}
	}

	if spec.SingleOccupancy && vehicle != nil {
		return s.retirePrevious(ctx, a, held, actor)
	}
	return nil
}

func withoutID(list []*assignment.Assignment, id uuid.UUID) []*assignment.Assignment {
	out := list[:0:0]
	for _, a := range list {
		if a.ID != id {
			out = append(out, a)
		}
	}
	return out
}

// transition moves a to status to, persisting the change and its audit row.
// Cancellation notes are appended to the record's notes.
func (s *AssignmentService) transition(ctx context.Context, a *assignment.Assignment, to assignment.Status, actor *uuid.UUID, note string) error {
	if !assignment.CanTransition(a.Status, to) {
		if a.Status.IsTerminal() {
			return newServiceError(ErrAlreadyTerminal, fmt.Sprintf("assignment %s is %s", a.ID, a.Status), nil)
		}
		return newServiceError(ErrInvalidInput, fmt.Sprintf("assignment %s cannot move from %s to %s", a.ID, a.Status, to), nil)
	}
	before := a.Clone()
	a.Status = to
	if to == assignment.StatusCancelled {
		a.AppendNote(note)
	}
	a.UpdatedAt = s.now()
	if err := s.repo.UpdateStatus(ctx, a); err != nil {
		return err
	}
	return s.audit(ctx, before, a, assignment.ActionFor(to), actor, note)
}

// Cancel moves a pending or active assignment to cancelled.
func (s *AssignmentService) Cancel(ctx context.Context, id uuid.UUID, actor *uuid.UUID, reason string) (*assignment.Assignment, error) {
	ctx, span := s.startSpan(ctx, "cancel", attribute.String("assignment.id", id.String()))
	var out *assignment.Assignment
	err := validateInput(reasonInput{Reason: reason})
	if err == nil {
		out, err = inTx(ctx, s.tx, func(txCtx context.Context) (*assignment.Assignment, error) {
			a, err := s.repo.LockByID(txCtx, id)
			if err != nil {
				return nil, err
			}
			return a, s.transition(txCtx, a, assignment.StatusCancelled, actor, reason)
		})
	}
	s.finish(ctx, span, "cancel", err, logrus.Fields{"assignment_id": id, "actor": actorField(actor)})
	return out, err
}

// Activate promotes a pending assignment, applying the same admission
// checks as an active create.
func (s *AssignmentService) Activate(ctx context.Context, in ActivateInput) (*assignment.Assignment, error) {
	ctx, span := s.startSpan(ctx, "activate", attribute.String("assignment.id", in.ID.String()))
	var out *assignment.Assignment
	err := validateInput(in)
	if err == nil {
		out, err = inTx(ctx, s.tx, func(txCtx context.Context) (*assignment.Assignment, error) {
			a, err := s.repo.LockByID(txCtx, in.ID)
			if err != nil {
				return nil, err
			}
			if a.Status != assignment.StatusPending {
				return nil, s.transition(txCtx, a, assignment.StatusActive, in.Actor, "")
			}
			if err := s.admit(txCtx, a, in.AutoCancelConflicting, in.Actor); err != nil {
				return nil, err
			}
			return a, s.transition(txCtx, a, assignment.StatusActive, in.Actor, "activated")
		})
	}
	s.finish(ctx, span, "activate", err, logrus.Fields{"assignment_id": in.ID, "actor": actorField(in.Actor)})
	return out, err
}
