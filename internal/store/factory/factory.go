package factory

import (
	"strings"

	"github.com/loykin/tunnelctl/internal/store"
	"github.com/loykin/tunnelctl/internal/store/jsonfile"
	pg "github.com/loykin/tunnelctl/internal/store/postgres"
	sq "github.com/loykin/tunnelctl/internal/store/sqlite"
)

// NewFromDSN selects a store implementation based on DSN.
// Supported:
//   - postgres: DSN starting with "postgres://" or "postgresql://"
//   - sqlite:   "sqlite:///<path>" or "sqlite://:memory:"
//   - json:     any other value is a file path
func NewFromDSN(dsn string) (store.Store, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	switch {
	case d == "":
		return nil, store.ErrEmptyDSN
	case strings.HasPrefix(ld, "postgres://"), strings.HasPrefix(ld, "postgresql://"):
		return pg.New(d)
	case strings.HasPrefix(ld, "sqlite://"):
		return sq.New(d[len("sqlite://"):])
	default:
		return jsonfile.New(d)
	}
}
