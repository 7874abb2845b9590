package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type claimed struct {
	ID       uuid.UUID
	Topic    string
	Payload  []byte
	EventID  uuid.UUID
	Sequence int64
	Attempts int
}

// queue is the storage side of the relay.
type queue interface {
	claim(ctx context.Context, now, lockCutoff time.Time, maxAttempts, limit int) ([]claimed, error)
	ack(ctx context.Context, id uuid.UUID) error
	nack(ctx context.Context, id uuid.UUID, lastError string, nextAvailable time.Time) error
	dead(ctx context.Context, id uuid.UUID, lastError string) error
	depth(ctx context.Context) (pending, locked int64, err error)
}

type beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgQueue runs every statement on db, which is either the pool or the
// connection holding the relay's advisory lock.
type pgQueue struct {
	db    beginner
	table string
}

func newPgQueue(db beginner, table pgx.Identifier) *pgQueue {
	return &pgQueue{db: db, table: table.Sanitize()}
}

func (q *pgQueue) claim(ctx context.Context, now, lockCutoff time.Time, maxAttempts, limit int) ([]claimed, error) {
	tx, err := q.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, fmt.Sprintf(
		`SELECT id, topic, payload, event_id, sequence, attempts
		   FROM %s
		  WHERE published_at IS NULL
		    AND available_at <= $1
		    AND attempts < $2
		    AND (locked_at IS NULL OR locked_at < $3)
		  ORDER BY available_at, sequence
		  LIMIT $4
		  FOR UPDATE SKIP LOCKED`, q.table),
		now, maxAttempts, lockCutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("outbox claim select: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (claimed, error) {
		var c claimed
		err := row.Scan(&c.ID, &c.Topic, &c.Payload, &c.EventID, &c.Sequence, &c.Attempts)
		c.Attempts++
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("outbox claim scan: %w", err)
	}
	if len(items) > 0 {
		ids := make([]uuid.UUID, len(items))
		for i, c := range items {
			ids[i] = c.ID
		}
		if _, err := tx.Exec(ctx,
			fmt.Sprintf(`UPDATE %s SET locked_at = $1, attempts = attempts + 1 WHERE id = ANY($2)`, q.table),
			now, pgtype.FlatArray[uuid.UUID](ids),
		); err != nil {
			return nil, fmt.Errorf("outbox claim update: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return items, nil
}

func (q *pgQueue) exec(ctx context.Context, op, sql string, args ...any) error {
	tx, err := q.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if _, err := tx.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("outbox %s: %w", op, err)
	}
	return tx.Commit(ctx)
}

func (q *pgQueue) ack(ctx context.Context, id uuid.UUID) error {
	return q.exec(ctx, "ack", fmt.Sprintf(
		`UPDATE %s SET published_at = now(), locked_at = NULL, last_error = NULL
		  WHERE id = $1 AND published_at IS NULL`, q.table), id)
}

func (q *pgQueue) nack(ctx context.Context, id uuid.UUID, lastError string, nextAvailable time.Time) error {
	return q.exec(ctx, "nack", fmt.Sprintf(
		`UPDATE %s SET locked_at = NULL, last_error = $2, available_at = $3
		  WHERE id = $1 AND published_at IS NULL`, q.table), id, lastError, nextAvailable)
}

func (q *pgQueue) dead(ctx context.Context, id uuid.UUID, lastError string) error {
	return q.exec(ctx, "dead", fmt.Sprintf(
		`UPDATE %s SET locked_at = NULL, last_error = $2, available_at = now()
		  WHERE id = $1 AND published_at IS NULL`, q.table), id, lastError)
}

func (q *pgQueue) depth(ctx context.Context) (int64, int64, error) {
	var pending, locked int64
	err := q.db.QueryRow(ctx, fmt.Sprintf(
		`SELECT count(*), count(*) FILTER (WHERE locked_at IS NOT NULL)
		   FROM %s WHERE published_at IS NULL`, q.table),
	).Scan(&pending, &locked)
	if err != nil {
		return 0, 0, fmt.Errorf("outbox depth: %w", err)
	}
	return pending, locked, nil
}
