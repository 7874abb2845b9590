package outbox

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

type nacked struct {
	lastError string
	next      time.Time
}

type fakeQueue struct {
	batch   []claimed
	claimed int
	acked   []uuid.UUID
	nacked  map[uuid.UUID]nacked
	deadIDs []uuid.UUID
}

func (q *fakeQueue) claim(_ context.Context, _, _ time.Time, _, limit int) ([]claimed, error) {
	q.claimed++
	if len(q.batch) > limit {
		return q.batch[:limit], nil
	}
	return q.batch, nil
}

func (q *fakeQueue) ack(_ context.Context, id uuid.UUID) error {
	q.acked = append(q.acked, id)
	return nil
}

func (q *fakeQueue) nack(_ context.Context, id uuid.UUID, lastError string, next time.Time) error {
	if q.nacked == nil {
		q.nacked = map[uuid.UUID]nacked{}
	}
	q.nacked[id] = nacked{lastError: lastError, next: next}
	return nil
}

func (q *fakeQueue) dead(_ context.Context, id uuid.UUID, _ string) error {
	q.deadIDs = append(q.deadIDs, id)
	return nil
}

func (q *fakeQueue) depth(context.Context) (int64, int64, error) {
	return int64(len(q.batch)), 0, nil
}

func testRelay(t *testing.T, d Dispatcher, opts RelayOptions) *Relay {
	t.Helper()
	opts.Rand = rand.New(rand.NewSource(1))
	opts.setDefaults()
	return &Relay{
		table:      pgx.Identifier{"public", "test_outbox"},
		dispatcher: d,
		opts:       opts,
		m:          getMetrics(),
		tableLabel: "public.test_outbox",
	}
}

func item(topic string, attempts int) claimed {
	return claimed{ID: uuid.New(), EventID: uuid.New(), Topic: topic, Attempts: attempts, Payload: []byte(`{}`)}
}

func TestRelay_ProcessOnce_PoisonDoesNotBlockOthers(t *testing.T) {
	good1, poison, good2 := item("ok", 1), item("poison", 1), item("ok", 1)
	q := &fakeQueue{batch: []claimed{good1, poison, good2}}

	var seen []string
	r := testRelay(t, DispatcherFunc(func(_ context.Context, msg DispatchedMessage) error {
		seen = append(seen, msg.Meta.Topic)
		if msg.Meta.Topic == "poison" {
			return errors.New("poison")
		}
		return nil
	}), RelayOptions{MaxAttempts: 3})

	n, err := r.processOnce(context.Background(), q)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, []string{"ok", "poison", "ok"}, seen)
	require.ElementsMatch(t, []uuid.UUID{good1.ID, good2.ID}, q.acked)
	require.Contains(t, q.nacked, poison.ID)
	require.Equal(t, "poison", q.nacked[poison.ID].lastError)
	require.True(t, q.nacked[poison.ID].next.After(time.Now()))
	require.Empty(t, q.deadIDs)
}

func TestRelay_ProcessOnce_DeadAfterMaxAttempts(t *testing.T) {
	last := item("poison", 3)
	q := &fakeQueue{batch: []claimed{last}}
	r := testRelay(t, DispatcherFunc(func(context.Context, DispatchedMessage) error {
		return errors.New("still failing")
	}), RelayOptions{MaxAttempts: 3})

	_, err := r.processOnce(context.Background(), q)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{last.ID}, q.deadIDs)
	require.Empty(t, q.nacked)
}

func TestRelay_ProcessOnce_PassesMeta(t *testing.T) {
	c := item("assignment.changed.v1", 2)
	c.Sequence = 9
	q := &fakeQueue{batch: []claimed{c}}

	var got Meta
	r := testRelay(t, DispatcherFunc(func(ctx context.Context, msg DispatchedMessage) error {
		_, hasDeadline := ctx.Deadline()
		require.True(t, hasDeadline)
		got = msg.Meta
		return nil
	}), RelayOptions{})

	_, err := r.processOnce(context.Background(), q)
	require.NoError(t, err)
	require.Equal(t, c.EventID, got.EventID)
	require.Equal(t, int64(9), got.Sequence)
	require.Equal(t, 2, got.Attempts)
	require.Equal(t, pgx.Identifier{"public", "test_outbox"}, got.Table)
}

func TestChain_AttemptsAllDispatchers(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	d := Chain(
		DispatcherFunc(func(context.Context, DispatchedMessage) error { calls++; return boom }),
		nil,
		DispatcherFunc(func(context.Context, DispatchedMessage) error { calls++; return nil }),
	)
	err := d.Dispatch(context.Background(), DispatchedMessage{})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 2, calls)
}

func TestNewRelay_Validation(t *testing.T) {
	_, err := NewRelay(nil, pgx.Identifier{"t"}, DispatcherFunc(nil), RelayOptions{})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewCleaner_Validation(t *testing.T) {
	_, err := NewCleaner(nil, pgx.Identifier{"t"}, CleanerOptions{})
	require.ErrorIs(t, err, ErrInvalidConfig)
}
