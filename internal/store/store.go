// Package store defines persistence for profile definitions.
package store

import (
	"context"
	"errors"

	"github.com/loykin/tunnelctl/internal/profile"
)

// ErrEmptyDSN is returned when no store location was configured.
var ErrEmptyDSN = errors.New("empty store DSN")

// Store loads and saves the full profile list. SaveProfiles replaces whatever was
// stored before; order is preserved.
type Store interface {
	LoadProfiles(ctx context.Context) ([]profile.Profile, error)
	SaveProfiles(ctx context.Context, profiles []profile.Profile) error
	Close() error
}

// Watchable is implemented by stores backed by a single file that external editors may change.
type Watchable interface {
	Path() string
}
