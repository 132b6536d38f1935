package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/tunnelctl/internal/history"
)

// Schema is the table layout Send writes to. %s is the table name.
const Schema = `CREATE TABLE IF NOT EXISTS %s (
	type String,
	occurred_at DateTime64(6),
	profile_id String,
	name String,
	pid Int64,
	exit_code Int32,
	signal String,
	reason String,
	attempt Int32,
	delay_ms Int64
) ENGINE = MergeTree()
ORDER BY (occurred_at, profile_id)`

// Sink sends events to ClickHouse using the official client.
type Sink struct {
	conn  driver.Conn
	table string
}

// Options are the connection parameters parsed from a clickhouse:// DSN.
type Options struct {
	Addr        string
	Database    string
	Username    string
	Password    string
	Table       string
	CreateTable bool
}

func New(o Options) (*Sink, error) {
	if o.Database == "" {
		o.Database = "default"
	}
	if o.Username == "" {
		o.Username = "default"
	}
	if o.Table == "" {
		o.Table = "tunnel_history"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{o.Addr},
		Auth: clickhouse.Auth{
			Database: o.Database,
			Username: o.Username,
			Password: o.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	s := &Sink{conn: conn, table: o.Table}
	if o.CreateTable {
		if err := conn.Exec(context.Background(), fmt.Sprintf(Schema, o.Table)); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("create table %s: %w", o.Table, err)
		}
	}
	return s, nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	query := fmt.Sprintf(`INSERT INTO %s (type, occurred_at, profile_id, name, pid, exit_code, signal, reason, attempt, delay_ms) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	err := s.conn.Exec(ctx, query,
		string(e.Type),
		e.OccurredAt,
		e.ProfileID,
		e.Name,
		int64(e.PID),
		int32(e.ExitCode),
		e.Signal,
		e.Reason,
		int32(e.Attempt),
		e.Delay.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}
	return nil
}
