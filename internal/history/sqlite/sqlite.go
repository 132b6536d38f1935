package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/tunnelctl/internal/history"
)

// Sink appends history events to a SQLite table tunnel_history.
type Sink struct {
	db *sql.DB
}

// New creates a SQLite history sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" or ":memory:"
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS tunnel_history(
		occurred_at TIMESTAMP NOT NULL,
		event TEXT NOT NULL,
		profile_id TEXT NOT NULL,
		name TEXT NOT NULL,
		pid INTEGER NOT NULL,
		exit_code INTEGER NOT NULL,
		signal TEXT NOT NULL,
		reason TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		delay_ms INTEGER NOT NULL
	);`)
	return err
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tunnel_history(occurred_at, event, profile_id, name, pid, exit_code, signal, reason, attempt, delay_ms)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		e.OccurredAt.UTC(), string(e.Type), e.ProfileID, e.Name, e.PID, e.ExitCode, e.Signal, e.Reason, e.Attempt, e.Delay.Milliseconds())
	return err
}

// Events returns recorded events for a profile, oldest first.
func (s *Sink) Events(ctx context.Context, profileID string) ([]history.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT occurred_at, event, profile_id, name, pid, exit_code, signal, reason, attempt, delay_ms
		FROM tunnel_history WHERE profile_id=? ORDER BY rowid;`, profileID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return history.ScanEvents(rows)
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
