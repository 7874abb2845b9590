package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iota-uz/iota-fleet/modules/assignments/services"
	"github.com/iota-uz/iota-fleet/pkg/composables"
	"github.com/iota-uz/iota-fleet/pkg/configuration"
	"github.com/iota-uz/iota-fleet/pkg/joblock"
)

const expireDueLockName = "assignments:expire-due"

type dueExpirer interface {
	ExpireDue(ctx context.Context, now time.Time) (services.ExpireDueResult, error)
}

type expireDueOutput struct {
	Command    string      `json:"command"`
	AsOf       string      `json:"as_of"`
	Count      int         `json:"count"`
	IDs        []uuid.UUID `json:"ids"`
	Locked     bool        `json:"locked"`
	DurationMS int64       `json:"duration_ms"`
}

func newExpireDueCmd() *cobra.Command {
	var asOf string
	cmd := &cobra.Command{
		Use:   "expire-due",
		Short: "Expire every active assignment whose expiry date has passed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf := configuration.Use()
			now, err := parseDateUTC(asOf)
			if err != nil {
				return err
			}

			var locker *joblock.Locker
			if conf.Expiry.LockEnabled {
				client := redis.NewClient(&redis.Options{Addr: conf.RedisURL})
				defer client.Close()
				locker = joblock.New(client, "fleet")
			}

			pool, err := connectDB(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			ctx := serviceContext(cmd.Context(), pool, "expire-due")
			out, err := expireDue(ctx, newService(), locker, conf.Expiry.LockTTL, now)
			if err != nil {
				return err
			}
			return writeJSON(out)
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "Run as of this date (UTC, YYYY-MM-DD; default today)")
	return cmd
}

// expireDue runs one sweep, holding the job lock for its duration when a
// locker is given.
func expireDue(ctx context.Context, svc dueExpirer, locker *joblock.Locker, ttl time.Duration, now time.Time) (expireDueOutput, error) {
	out := expireDueOutput{Command: "expire-due", AsOf: now.Format(time.DateOnly), IDs: []uuid.UUID{}}
	start := time.Now()

	if locker != nil {
		lock, err := locker.Acquire(ctx, expireDueLockName, ttl)
		if errors.Is(err, joblock.ErrNotAcquired) {
			return out, fmt.Errorf("%w (%s)", errLockHeld, expireDueLockName)
		}
		if err != nil {
			return out, err
		}
		out.Locked = true
		defer func() {
			_, err := lock.Release(context.WithoutCancel(ctx))
			if logger, ok := composables.UseLogger(ctx); ok && err != nil {
				logger.WithError(err).WithFields(logrus.Fields{"lock": lock.Key()}).Warn("expire-due: lock release failed")
			}
		}()
	}

	res, err := svc.ExpireDue(ctx, now)
	if err != nil {
		return out, err
	}
	out.Count = res.Count
	if res.IDs != nil {
		out.IDs = res.IDs
	}
	out.DurationMS = time.Since(start).Milliseconds()
	return out, nil
}
