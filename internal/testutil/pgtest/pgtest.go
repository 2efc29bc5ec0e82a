//go:build integration

// Package pgtest starts a disposable pgvector-enabled PostgreSQL for integration tests.
package pgtest

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/essaygrader/hub/pkg/database"
)

const image = "pgvector/pgvector:pg16"

// NewPool starts a container, applies the schema and River migrations, and returns a pool.
// The container is terminated when the test finishes.
func NewPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	ctx := context.Background()

	ctr, err := postgres.Run(ctx, image,
		postgres.WithDatabase("grader"),
		postgres.WithUsername("grader"),
		postgres.WithPassword("grader"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := database.NewPostgresPool(ctx, dsn, database.WithVectorTypes())
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, database.Migrate(ctx, pool))

	return pool
}
