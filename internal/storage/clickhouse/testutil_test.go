package clickhouse

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDB creates a ClickHouse container and returns a connection with
// the panel schema applied. Returns a cleanup function that must be called
// when done.
func setupTestDB(t *testing.T) (*Conn, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "clickhouse/clickhouse-server:24.1-alpine",
		ExposedPorts: []string{"9000/tcp", "8123/tcp"},
		WaitingFor: wait.ForAll(
			wait.ForLog("Application: Ready for connections").
				WithStartupTimeout(60 * time.Second),
			wait.ForListeningPort("9000/tcp"),
		),
		Env: map[string]string{
			"CLICKHOUSE_DB":       "test",
			"CLICKHOUSE_USER":     "default",
			"CLICKHOUSE_PASSWORD": "",
		},
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	dsn := fmt.Sprintf("clickhouse://%s:%s/test", host, port.Port())

	conn, err := NewConn(ctx, dsn)
	require.NoError(t, err)

	// The schema is applied inline rather than through the migrations
	// package to avoid an import cycle in same-package tests. Keep it in
	// sync with migrations/clickhouse/001_daily_panel.sql.
	err = conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS daily_panel (
			date                Date,
			coin_id             String,
			ticker              String,
			canonical_id        String,
			open                Nullable(Float64),
			high                Nullable(Float64),
			low                 Nullable(Float64),
			close               Nullable(Float64),
			volume              Nullable(Float64),
			market_cap          Nullable(Float64),
			chain_tvl           Nullable(Float64),
			protocol_tvl        Nullable(Float64),
			dex_volume          Nullable(Float64),
			lc_galaxy_score     Nullable(Float64),
			lc_alt_rank         Nullable(Float64),
			lc_social_dominance Nullable(Float64),
			lc_sentiment        Nullable(Float64),
			inserted_at         DateTime DEFAULT now()
		) ENGINE = ReplacingMergeTree(inserted_at)
		ORDER BY (canonical_id, coin_id, date)
	`)
	require.NoError(t, err)

	cleanup := func() {
		conn.Close()
		_ = container.Terminate(ctx)
	}

	return conn, cleanup
}

// ptr is a helper to create pointers for test values
func ptr[T any](v T) *T {
	return &v
}
