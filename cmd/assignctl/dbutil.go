package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iota-uz/iota-fleet/modules/assignments/infrastructure/persistence"
	"github.com/iota-uz/iota-fleet/modules/assignments/services"
	"github.com/iota-uz/iota-fleet/pkg/composables"
	"github.com/iota-uz/iota-fleet/pkg/configuration"
)

func connectDB(ctx context.Context) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, configuration.Use().Database.Opts)
	if err != nil {
		return nil, fmt.Errorf("db connect failed: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping failed: %w", err)
	}
	return pool, nil
}

// serviceContext carries the pool and the command logger so that services
// and repositories pick them up from context.
func serviceContext(ctx context.Context, pool *pgxpool.Pool, command string) context.Context {
	ctx = composables.WithPool(ctx, pool)
	return composables.WithLogger(ctx, configuration.Use().Logger().WithField("command", command))
}

func newService() *services.AssignmentService {
	return services.NewAssignmentService(
		persistence.NewAssignmentRepository(),
		composables.TxRunner{},
		persistence.NewOutboxWriter(nil, nil),
	)
}
