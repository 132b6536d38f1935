package postgres

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/tunnelctl/internal/history"
)

// Sink appends history events to a PostgreSQL table tunnel_history.
type Sink struct {
	db *sql.DB
}

func New(dsn string) (*Sink, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	s := &Sink{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tunnel_history(
			id BIGSERIAL PRIMARY KEY,
			occurred_at TIMESTAMPTZ NOT NULL,
			event TEXT NOT NULL,
			profile_id TEXT NOT NULL,
			name TEXT NOT NULL,
			pid INTEGER NOT NULL,
			exit_code INTEGER NOT NULL,
			signal TEXT NOT NULL,
			reason TEXT NOT NULL,
			attempt INTEGER NOT NULL,
			delay_ms BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tunnel_history_profile ON tunnel_history(profile_id);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tunnel_history(occurred_at, event, profile_id, name, pid, exit_code, signal, reason, attempt, delay_ms)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10);`,
		e.OccurredAt.UTC(), string(e.Type), e.ProfileID, e.Name, e.PID, e.ExitCode, e.Signal, e.Reason, e.Attempt, e.Delay.Milliseconds())
	return err
}

func (s *Sink) Events(ctx context.Context, profileID string) ([]history.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT occurred_at, event, profile_id, name, pid, exit_code, signal, reason, attempt, delay_ms
		FROM tunnel_history WHERE profile_id=$1 ORDER BY id;`, profileID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return history.ScanEvents(rows)
}

func (s *Sink) Close() error { return s.db.Close() }
