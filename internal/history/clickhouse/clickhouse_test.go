package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcclickhouse "github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/tunnelctl/internal/history"
)

func setupClickHouse(ctx context.Context, t *testing.T) string {
	t.Helper()
	c, err := tcclickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		tcclickhouse.WithUsername("default"),
		tcclickhouse.WithPassword(""),
		tcclickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start ClickHouse container: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })
	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "9000")
	require.NoError(t, err)
	return host + ":" + port.Port()
}

func TestClickHouseSink(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}
	ctx := context.Background()
	addr := setupClickHouse(ctx, t)

	s, err := New(Options{Addr: addr, Table: "tunnel_history_test", CreateTable: true})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	events := []history.Event{
		{Type: history.EventSpawned, OccurredAt: time.Now().UTC(), ProfileID: "p", Name: "db", PID: 10},
		{Type: history.EventExited, OccurredAt: time.Now().UTC(), ProfileID: "p", Name: "db", PID: 10, ExitCode: 255, Reason: "connection"},
		{Type: history.EventReconnectScheduled, OccurredAt: time.Now().UTC(), ProfileID: "p", Attempt: 1, Delay: time.Second},
	}
	for _, e := range events {
		require.NoError(t, s.Send(ctx, e))
	}

	var n uint64
	row := s.conn.QueryRow(ctx, "SELECT count() FROM tunnel_history_test WHERE profile_id = 'p'")
	require.NoError(t, row.Scan(&n))
	require.EqualValues(t, len(events), n)
}
