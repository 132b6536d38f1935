// Package sqlite persists profiles in SQLite (modernc.org/sqlite, CGO-free).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/tunnelctl/internal/profile"
)

// DB implements store.Store. The path may be ":memory:".
type DB struct {
	db *sql.DB
}

func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// one connection keeps ":memory:" databases coherent
	d.SetMaxOpenConns(1)
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	s := &DB{db: d}
	if err := s.EnsureSchema(context.Background()); err != nil {
		_ = d.Close()
		return nil, err
	}
	return s, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tunnel_profiles(
			position INTEGER NOT NULL,
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			command TEXT NOT NULL,
			enabled BOOLEAN NOT NULL,
			keep_alive BOOLEAN NOT NULL,
			keep_alive_interval INTEGER NOT NULL,
			auto_reconnect BOOLEAN NOT NULL,
			max_reconnect_attempts INTEGER NOT NULL
		);`)
	return err
}

func (s *DB) LoadProfiles(ctx context.Context) ([]profile.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, command, enabled, keep_alive, keep_alive_interval, auto_reconnect, max_reconnect_attempts
		FROM tunnel_profiles
		ORDER BY position;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]profile.Profile, 0)
	for rows.Next() {
		var p profile.Profile
		if err := rows.Scan(&p.ID, &p.Name, &p.Command, &p.Enabled, &p.KeepAlive, &p.KeepAliveInterval, &p.AutoReconnect, &p.MaxReconnectAttempts); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *DB) SaveProfiles(ctx context.Context, profiles []profile.Profile) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM tunnel_profiles;`); err != nil {
		return err
	}
	for i, p := range profiles {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tunnel_profiles(position, id, name, command, enabled, keep_alive, keep_alive_interval, auto_reconnect, max_reconnect_attempts)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);`,
			i, p.ID, p.Name, p.Command, p.Enabled, p.KeepAlive, p.KeepAliveInterval, p.AutoReconnect, p.MaxReconnectAttempts)
		if err != nil {
			return fmt.Errorf("insert %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

func (s *DB) Close() error { return s.db.Close() }
