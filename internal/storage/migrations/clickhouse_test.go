package migrations

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/vuittont60/scope/internal/domain"
	chstore "github.com/vuittont60/scope/internal/storage/clickhouse"
)

// startClickhouse returns a DSN whose path names the "test" database.
func startClickhouse(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "clickhouse/clickhouse-server:24.1-alpine",
			ExposedPorts: []string{"9000/tcp"},
			WaitingFor: wait.ForAll(
				wait.ForLog("Application: Ready for connections").WithStartupTimeout(60*time.Second),
				wait.ForListeningPort("9000/tcp"),
			),
			Env: map[string]string{"CLICKHOUSE_DB": "test", "CLICKHOUSE_USER": "default"},
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)
	return fmt.Sprintf("clickhouse://%s:%s/test", host, port.Port())
}

func TestRunClickhouseMigrations_DatabaseOverride(t *testing.T) {
	dsn := startClickhouse(t)
	ctx := context.Background()

	conn, err := RunClickhouseMigrations(ctx, dsn, "history")
	require.NoError(t, err)
	defer conn.Close()

	var n uint64
	require.NoError(t, conn.QueryRow(ctx,
		"SELECT count() FROM system.tables WHERE database = 'history' AND name = 'price_history'").Scan(&n))
	assert.Equal(t, uint64(1), n, "schema must land in the configured database")
	require.NoError(t, conn.QueryRow(ctx,
		"SELECT count() FROM system.tables WHERE database = 'test' AND name = 'price_history'").Scan(&n))
	assert.Equal(t, uint64(0), n, "the DSN database must stay untouched")

	// The store writes through the same connection.
	store := chstore.NewPriceHistoryStore(conn)
	require.NoError(t, store.InsertBulk(ctx, []*domain.PricePoint{{
		Index: 1, TokenPair: "SOL/USD", Value: 1, LastUpdatedSlot: 5, UnixTimestamp: 10,
	}}))

	// A second run applies nothing new.
	again, err := RunClickhouseMigrations(ctx, dsn, "history")
	require.NoError(t, err)
	defer again.Close()
	require.NoError(t, again.QueryRow(ctx, "SELECT count() FROM "+versionTable+" FINAL").Scan(&n))
	assert.Equal(t, uint64(1), n)
}

func TestRunClickhouseMigrations_DSNDatabase(t *testing.T) {
	dsn := startClickhouse(t)
	ctx := context.Background()

	conn, err := RunClickhouseMigrations(ctx, dsn, "")
	require.NoError(t, err)
	defer conn.Close()

	var n uint64
	require.NoError(t, conn.QueryRow(ctx,
		"SELECT count() FROM system.tables WHERE database = 'test' AND name = 'price_history'").Scan(&n))
	assert.Equal(t, uint64(1), n)
}
