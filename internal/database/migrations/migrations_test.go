package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"testing"
	"time"

	"ms-coupons/internal/logger"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

func tableExists(t *testing.T, db *bun.DB, name string) bool {
	var exists bool
	err := db.NewRaw("SELECT to_regclass(?) IS NOT NULL", "public."+name).Scan(context.Background(), &exists)
	require.NoError(t, err)
	return exists
}

func TestRunnerUpDownClose(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping Postgres integration test in short mode")
	}

	ctx := context.Background()
	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "coupons",
				"POSTGRES_PASSWORD": "coupons",
				"POSTGRES_DB":       "coupons",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start Postgres container: %v", err)
	}
	defer pgContainer.Terminate(ctx)

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://coupons:coupons@%s:%s/coupons?sslmode=disable", host, port.Port())
	sqldb, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	bunDB := bun.NewDB(sqldb, pgdialect.New())

	runner := NewRunner(bunDB, "../../../migrations", logger.NewWithWriter(io.Discard))

	require.NoError(t, runner.RunMigrations())
	for _, table := range []string{"coupon_definitions", "coupon_instances", "coupon_redemptions"} {
		assert.True(t, tableExists(t, bunDB, table), "%s after up", table)
	}

	// a second run is a no-op
	require.NoError(t, runner.RunMigrations())

	require.NoError(t, runner.MigrateDown())
	assert.False(t, tableExists(t, bunDB, "coupon_instances"))

	require.NoError(t, runner.Close())
	assert.Error(t, bunDB.PingContext(ctx), "closing the runner closes the shared pool")
}

func TestCloseUninitialised(t *testing.T) {
	runner := NewRunner(nil, "/does/not/exist", logger.NewWithWriter(io.Discard))
	assert.NoError(t, runner.Close(), "closing an uninitialised runner is a no-op")
}
