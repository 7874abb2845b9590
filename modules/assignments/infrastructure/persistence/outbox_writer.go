package persistence

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/iota-uz/iota-fleet/modules/assignments/domain/events"
	"github.com/iota-uz/iota-fleet/pkg/composables"
	"github.com/iota-uz/iota-fleet/pkg/outbox"
)

// DefaultOutboxTable is where assignment change events are enqueued.
var DefaultOutboxTable = pgx.Identifier{"public", "assignment_outbox"}

// OutboxWriter enqueues change events on the transaction bound to ctx, so
// an event is stored if and only if the change that produced it commits.
type OutboxWriter struct {
	publisher outbox.Publisher
	table     pgx.Identifier
}

func NewOutboxWriter(publisher outbox.Publisher, table pgx.Identifier) *OutboxWriter {
	if publisher == nil {
		publisher = outbox.NewPublisher()
	}
	if len(table) == 0 {
		table = DefaultOutboxTable
	}
	return &OutboxWriter{publisher: publisher, table: table}
}

func (w *OutboxWriter) Enqueue(ctx context.Context, ev events.AssignmentChangedV1) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal assignment event")
	}
	if _, err := w.publisher.Enqueue(ctx, tx, w.table, outbox.Message{
		Topic:   events.TopicAssignmentChangedV1,
		EventID: ev.EventID,
		Payload: payload,
	}); err != nil {
		return errors.Wrapf(err, "enqueue event %s", ev.EventID)
	}
	return nil
}
