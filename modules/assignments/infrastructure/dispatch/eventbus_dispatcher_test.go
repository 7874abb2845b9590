package dispatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/iota-fleet/modules/assignments/domain/assignment"
	"github.com/iota-uz/iota-fleet/modules/assignments/domain/events"
	"github.com/iota-uz/iota-fleet/modules/assignments/infrastructure/dispatch"
	"github.com/iota-uz/iota-fleet/pkg/eventbus"
	"github.com/iota-uz/iota-fleet/pkg/outbox"
)

func message(t *testing.T, ev events.AssignmentChangedV1) outbox.DispatchedMessage {
	t.Helper()
	payload, err := json.Marshal(ev)
	require.NoError(t, err)
	return outbox.DispatchedMessage{
		Meta:    outbox.Meta{Topic: events.TopicAssignmentChangedV1, EventID: ev.EventID, Sequence: 7, Attempts: 1},
		Payload: payload,
	}
}

func TestEventBusDispatcher_DeliversTypedEvent(t *testing.T) {
	bus := eventbus.NewEventPublisher(nil)
	var (
		gotMeta *outbox.Meta
		gotEv   *events.AssignmentChangedV1
	)
	bus.Subscribe(func(meta *outbox.Meta, ev *events.AssignmentChangedV1) error {
		gotMeta, gotEv = meta, ev
		return nil
	})

	ev := events.AssignmentChangedV1{
		EventID:      uuid.New(),
		AssignmentID: uuid.New(),
		Action:       assignment.ActionCancelled,
		Kind:         assignment.ChildToVehicle,
		Status:       assignment.StatusCancelled,
		PrevStatus:   assignment.StatusActive,
	}
	require.NoError(t, dispatch.NewEventBusDispatcher(bus).Dispatch(context.Background(), message(t, ev)))

	require.NotNil(t, gotMeta)
	require.Equal(t, int64(7), gotMeta.Sequence)
	require.Equal(t, ev.AssignmentID, gotEv.AssignmentID)
	require.Equal(t, assignment.StatusActive, gotEv.PrevStatus)
}

func TestEventBusDispatcher_HandlerErrorIsReturned(t *testing.T) {
	bus := eventbus.NewEventPublisher(nil)
	boom := errors.New("boom")
	bus.Subscribe(func(*outbox.Meta, *events.AssignmentChangedV1) error { return boom })

	err := dispatch.NewEventBusDispatcher(bus).Dispatch(context.Background(), message(t, events.AssignmentChangedV1{EventID: uuid.New()}))
	require.ErrorIs(t, err, boom)
}

func TestEventBusDispatcher_SkipsWithoutDelivery(t *testing.T) {
	bus := eventbus.NewEventPublisher(nil)
	calls := 0
	bus.Subscribe(func(*outbox.Meta, *events.AssignmentChangedV1) error { calls++; return nil })
	d := dispatch.NewEventBusDispatcher(bus)

	msg := message(t, events.AssignmentChangedV1{EventID: uuid.New()})
	msg.Meta.Topic = "vehicle.changed.v1"
	require.NoError(t, d.Dispatch(context.Background(), msg))
	require.Zero(t, calls)

	require.NoError(t, dispatch.NewEventBusDispatcher(eventbus.NewEventPublisher(nil)).
		Dispatch(context.Background(), message(t, events.AssignmentChangedV1{EventID: uuid.New()})))
}

func TestEventBusDispatcher_BadPayload(t *testing.T) {
	bus := eventbus.NewEventPublisher(nil)
	bus.Subscribe(func(*outbox.Meta, *events.AssignmentChangedV1) error { return nil })

	msg := outbox.DispatchedMessage{
		Meta:    outbox.Meta{Topic: events.TopicAssignmentChangedV1, EventID: uuid.New()},
		Payload: json.RawMessage(`{"assignment_id": 12}`),
	}
	require.Error(t, dispatch.NewEventBusDispatcher(bus).Dispatch(context.Background(), msg))
}
