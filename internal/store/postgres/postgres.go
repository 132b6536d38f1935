// Package postgres persists profiles in PostgreSQL through the pgx stdlib driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/tunnelctl/internal/profile"
)

type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	s := &DB{db: d}
	if err := s.EnsureSchema(context.Background()); err != nil {
		_ = d.Close()
		return nil, err
	}
	return s, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
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

func (p *DB) LoadProfiles(ctx context.Context) ([]profile.Profile, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, command, enabled, keep_alive, keep_alive_interval, auto_reconnect, max_reconnect_attempts
		FROM tunnel_profiles
		ORDER BY position;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]profile.Profile, 0)
	for rows.Next() {
		var pr profile.Profile
		if err := rows.Scan(&pr.ID, &pr.Name, &pr.Command, &pr.Enabled, &pr.KeepAlive, &pr.KeepAliveInterval, &pr.AutoReconnect, &pr.MaxReconnectAttempts); err != nil {
			return nil, err
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

func (p *DB) SaveProfiles(ctx context.Context, profiles []profile.Profile) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM tunnel_profiles;`); err != nil {
		return err
	}
	for i, pr := range profiles {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tunnel_profiles(position, id, name, command, enabled, keep_alive, keep_alive_interval, auto_reconnect, max_reconnect_attempts)
			VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9);`,
			i, pr.ID, pr.Name, pr.Command, pr.Enabled, pr.KeepAlive, pr.KeepAliveInterval, pr.AutoReconnect, pr.MaxReconnectAttempts)
		if err != nil {
			return fmt.Errorf("insert %s: %w", pr.ID, err)
		}
	}
	return tx.Commit()
}

func (p *DB) Close() error { return p.db.Close() }
