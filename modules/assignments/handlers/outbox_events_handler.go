package handlers

import (
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/iota-fleet/modules/assignments/domain/events"
	"github.com/iota-uz/iota-fleet/pkg/eventbus"
	"github.com/iota-uz/iota-fleet/pkg/outbox"
)

type OutboxEventsHandler struct {
	log *logrus.Logger
}

// RegisterOutboxEventHandlers subscribes the assignment event handlers to
// bus. Notification collaborators hook in next to onAssignmentChangedV1.
func RegisterOutboxEventHandlers(bus eventbus.EventBus, log *logrus.Logger) *OutboxEventsHandler {
	h := &OutboxEventsHandler{log: log}
	bus.Subscribe(h.onAssignmentChangedV1)
	return h
}

func (h *OutboxEventsHandler) onAssignmentChangedV1(meta *outbox.Meta, ev *events.AssignmentChangedV1) error {
	if h == nil || h.log == nil || meta == nil || ev == nil {
		return nil
	}
	h.log.WithFields(logrus.Fields{
		"event_id":      ev.EventID,
		"sequence":      meta.Sequence,
		"attempts":      meta.Attempts,
		"assignment_id": ev.AssignmentID,
		"action":        ev.Action,
		"kind":          ev.Kind,
		"assignee":      ev.Assignee,
		"target":        ev.Target,
		"status":        ev.Status,
		"prev_status":   ev.PrevStatus,
	}).Info("assignment changed")
	return nil
}
