package outbox

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Message is the unit a domain writes into its outbox table inside the
// business transaction.
type Message struct {
	Topic   string
	EventID uuid.UUID
	Payload json.RawMessage
}

// Meta carries the delivery metadata dispatchers use for idempotency.
type Meta struct {
	Table    pgx.Identifier
	Topic    string
	EventID  uuid.UUID
	Sequence int64
	Attempts int
}

type DispatchedMessage struct {
	Meta    Meta
	Payload json.RawMessage
}

type Dispatcher interface {
	Dispatch(ctx context.Context, msg DispatchedMessage) error
}

type DispatcherFunc func(ctx context.Context, msg DispatchedMessage) error

func (f DispatcherFunc) Dispatch(ctx context.Context, msg DispatchedMessage) error {
	return f(ctx, msg)
}

// Chain delivers a message to every dispatcher in order. All of them are
// attempted; the joined error makes the relay retry the whole message, so
// each dispatcher must tolerate redelivery of the same EventID.
func Chain(dispatchers ...Dispatcher) Dispatcher {
	return DispatcherFunc(func(ctx context.Context, msg DispatchedMessage) error {
		var errs []error
		for _, d := range dispatchers {
			if d == nil {
				continue
			}
			if err := d.Dispatch(ctx, msg); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}
