package outbox

import (
	"context"
	"errors"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// Relay moves messages from one outbox table to a Dispatcher with
// at-least-once semantics: claim, dispatch, then ack, retry or bury.
type Relay struct {
	pool       *pgxpool.Pool
	table      pgx.Identifier
	dispatcher Dispatcher
	opts       RelayOptions

	lockKey    int64
	m          *metrics
	tableLabel string
}

func NewRelay(pool *pgxpool.Pool, table pgx.Identifier, dispatcher Dispatcher, opts RelayOptions) (*Relay, error) {
	if pool == nil {
		return nil, invalidConfig("pool is required")
	}
	if len(table) == 0 {
		return nil, invalidConfig("table is required")
	}
	if dispatcher == nil {
		return nil, invalidConfig("dispatcher is required")
	}
	opts.setDefaults()
	label := TableLabel(table)
	return &Relay{
		pool:       pool,
		table:      table,
		dispatcher: dispatcher,
		opts:       opts,
		lockKey:    advisoryLockKey("outbox:" + label),
		m:          getMetrics(),
		tableLabel: label,
	}, nil
}

// Run blocks until ctx is done. With SingleActive only the process holding
// the table's advisory lock relays; the others keep polling for the lock.
func (r *Relay) Run(ctx context.Context) error {
	if !r.opts.SingleActive {
		r.m.relayLeader.WithLabelValues(r.tableLabel).Set(1)
		return r.runLoop(ctx, newPgQueue(r.pool, r.table))
	}

	for {
		conn, err := r.pool.Acquire(ctx)
		if err == nil {
			var leader bool
			leader, err = r.tryAcquireLeader(ctx, conn)
			if err == nil && leader {
				r.m.relayLeader.WithLabelValues(r.tableLabel).Set(1)
				r.opts.Logger.WithField("table", r.tableLabel).Info("outbox: relay became leader")
				err = r.runLoop(ctx, newPgQueue(conn, r.table))
				r.releaseLeader(conn)
				conn.Release()
				r.m.relayLeader.WithLabelValues(r.tableLabel).Set(0)
				return err
			}
			conn.Release()
		}
		if err != nil && ctx.Err() == nil {
			r.opts.Logger.WithError(err).WithField("table", r.tableLabel).Warn("outbox: leader election failed")
		}
		r.m.relayLeader.WithLabelValues(r.tableLabel).Set(0)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.opts.PollInterval):
		}
	}
}

func (r *Relay) runLoop(ctx context.Context, q queue) error {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	nextDepthAt := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if time.Now().After(nextDepthAt) {
			r.observeQueueDepth(ctx, q)
			nextDepthAt = time.Now().Add(r.opts.ObserveQueueDepthEvery)
		}

		if _, err := r.processOnce(ctx, q); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			r.opts.Logger.WithError(err).WithField("table", r.tableLabel).Warn("outbox: process tick failed")
		}
	}
}

// processOnce handles one claimed batch and returns its size.
func (r *Relay) processOnce(ctx context.Context, q queue) (int, error) {
	now := time.Now()
	batch, err := q.claim(ctx, now, now.Add(-r.opts.LockTTL), r.opts.MaxAttempts, r.opts.BatchSize)
	if err != nil {
		return 0, err
	}

	for _, c := range batch {
		log := r.opts.Logger.WithFields(r.logFields(c))

		dispatchCtx, cancel := context.WithTimeout(ctx, r.opts.DispatchTimeout)
		start := time.Now()
		err := r.dispatcher.Dispatch(dispatchCtx, DispatchedMessage{
			Meta: Meta{
				Table:    r.table,
				Topic:    c.Topic,
				EventID:  c.EventID,
				Sequence: c.Sequence,
				Attempts: c.Attempts,
			},
			Payload: c.Payload,
		})
		cancel()
		latency := time.Since(start)

		if err == nil {
			r.recordDispatch(c.Topic, "success", latency)
			if ackErr := q.ack(ctx, c.ID); ackErr != nil {
				log.WithError(ackErr).Warn("outbox: ack failed")
			}
			continue
		}

		r.recordDispatch(c.Topic, "failure", latency)
		lastErr := truncateError(err, r.opts.LastErrorMaxLen)

		if c.Attempts >= r.opts.MaxAttempts {
			r.m.deadTotal.WithLabelValues(r.tableLabel, c.Topic).Inc()
			log.WithError(err).Error("outbox: message exhausted its attempts")
			if deadErr := q.dead(ctx, c.ID, lastErr); deadErr != nil {
				log.WithError(deadErr).Warn("outbox: dead update failed")
			}
			continue
		}

		next := time.Now().Add(backoff(c.Attempts, r.opts.MaxBackoff) + jitter(r.opts.Rand, r.opts.JitterMax))
		log.WithError(err).Debug("outbox: dispatch failed, scheduling retry")
		if nackErr := q.nack(ctx, c.ID, lastErr, next); nackErr != nil {
			log.WithError(nackErr).Warn("outbox: nack failed")
		}
	}
	return len(batch), nil
}

func (r *Relay) observeQueueDepth(ctx context.Context, q queue) {
	pending, locked, err := q.depth(ctx)
	if err != nil {
		r.opts.Logger.WithError(err).Debug("outbox: observe queue depth failed")
		return
	}
	r.m.pending.WithLabelValues(r.tableLabel).Set(float64(pending))
	r.m.locked.WithLabelValues(r.tableLabel).Set(float64(locked))
}

func (r *Relay) recordDispatch(topic, result string, latency time.Duration) {
	r.m.dispatchTotal.WithLabelValues(r.tableLabel, topic, result).Inc()
	r.m.dispatchLatency.WithLabelValues(r.tableLabel, topic, result).Observe(latency.Seconds())
}

func (r *Relay) tryAcquireLeader(ctx context.Context, conn *pgxpool.Conn) (bool, error) {
	var ok bool
	err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1::bigint)`, r.lockKey).Scan(&ok)
	return ok, err
}

func (r *Relay) releaseLeader(conn *pgxpool.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock($1::bigint)`, r.lockKey); err != nil {
		r.opts.Logger.WithError(err).WithField("table", r.tableLabel).Warn("outbox: advisory unlock failed")
	}
}

func (r *Relay) logFields(c claimed) logrus.Fields {
	return logrus.Fields{
		"table":    r.tableLabel,
		"topic":    c.Topic,
		"event_id": c.EventID.String(),
		"sequence": c.Sequence,
		"attempts": c.Attempts,
	}
}

func advisoryLockKey(s string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int64(h.Sum64())
}
