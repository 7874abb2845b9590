// Package pgtest starts a disposable Postgres for integration tests and
// applies the assignments migrations to it.
package pgtest

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/iota-uz/iota-fleet/migrations"
)

const (
	image        = "postgres:16-alpine"
	user         = "fleet"
	password     = "fleet"
	database     = "fleet_test"
	readyTimeout = 90 * time.Second
)

// New returns a pool on a migrated database. PG_TEST_DSN points the tests
// at an existing server; otherwise a container is started when
// DOCKER_AVAILABLE is set, and the test is skipped when neither is.
func New(tb testing.TB) *pgxpool.Pool {
	tb.Helper()
	ctx := context.Background()

	dsn := strings.TrimSpace(os.Getenv("PG_TEST_DSN"))
	if dsn == "" {
		if os.Getenv("DOCKER_AVAILABLE") == "" {
			tb.Skip("set DOCKER_AVAILABLE or PG_TEST_DSN to run Postgres integration tests")
		}
		dsn = startContainer(tb, ctx)
	}

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(tb, err)
	tb.Cleanup(pool.Close)

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	provider, err := migrations.NewAssignmentsProvider(db)
	require.NoError(tb, err)
	_, err = provider.Up(ctx)
	require.NoError(tb, err)

	Reset(tb, pool)
	tb.Cleanup(func() { Reset(tb, pool) })
	return pool
}

func startContainer(tb testing.TB, ctx context.Context) string {
	tb.Helper()
	req := tc.ContainerRequest{
		Image:        image,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     user,
			"POSTGRES_PASSWORD": password,
			"POSTGRES_DB":       database,
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(readyTimeout),
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(tb, err)
	tb.Cleanup(func() { _ = cont.Terminate(context.Background()) })

	host, err := cont.Host(ctx)
	require.NoError(tb, err)
	port, err := cont.MappedPort(ctx, "5432")
	require.NoError(tb, err)
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port.Port(), database)
}

// Reset empties every table the migrations own. History rows are immutable,
// so the table is truncated rather than deleted from.
func Reset(tb testing.TB, pool *pgxpool.Pool) {
	tb.Helper()
	_, err := pool.Exec(context.Background(), `
		TRUNCATE assignment_history, assignment_outbox, assignments,
		         drivers, minders, children, routes, vehicles`)
	require.NoError(tb, err)
}
