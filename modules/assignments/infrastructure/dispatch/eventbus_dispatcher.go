// Package dispatch delivers relayed assignment events to in-process
// subscribers.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iota-uz/iota-fleet/modules/assignments/domain/events"
	"github.com/iota-uz/iota-fleet/pkg/eventbus"
	"github.com/iota-uz/iota-fleet/pkg/outbox"
)

// EventBusDispatcher decodes assignment.changed.v1 payloads and publishes
// them as func(*outbox.Meta, *events.AssignmentChangedV1) error events.
// Other topics are acknowledged without delivery.
type EventBusDispatcher struct {
	bus eventbus.EventBusWithError
}

func NewEventBusDispatcher(bus eventbus.EventBusWithError) *EventBusDispatcher {
	return &EventBusDispatcher{bus: bus}
}

func (d *EventBusDispatcher) Dispatch(ctx context.Context, msg outbox.DispatchedMessage) error {
	if msg.Meta.Topic != events.TopicAssignmentChangedV1 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var ev events.AssignmentChangedV1
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return fmt.Errorf("decode %s event %s: %w", msg.Meta.Topic, msg.Meta.EventID, err)
	}

	meta := msg.Meta
	err := d.bus.PublishE(&meta, &ev)
	if errors.Is(err, eventbus.ErrNoSubscribers) {
		return nil
	}
	return err
}
