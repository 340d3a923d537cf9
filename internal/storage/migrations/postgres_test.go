package migrations

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/vuittont60/scope/internal/storage/postgres"
)

func TestRunPostgresMigrations(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("ledger"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	pool, err := postgres.NewPool(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	require.NoError(t, RunPostgresMigrations(ctx, pool))
	require.NoError(t, RunPostgresMigrations(ctx, pool), "a second run must be a no-op")

	var versions int
	require.NoError(t, pool.QueryRow(ctx, "SELECT count(*) FROM "+versionTable).Scan(&versions))
	assert.Equal(t, 1, versions)

	var exists bool
	require.NoError(t, pool.QueryRow(ctx, "SELECT to_regclass('accounts') IS NOT NULL").Scan(&exists))
	assert.True(t, exists)

	var app string
	require.NoError(t, pool.QueryRow(ctx, "SHOW application_name").Scan(&app))
	assert.Equal(t, "scope-node", app)
}
