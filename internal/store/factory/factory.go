package factory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/omnix-ai/omnixd/internal/store"
	pg "github.com/omnix-ai/omnixd/internal/store/postgres"
	sq "github.com/omnix-ai/omnixd/internal/store/sqlite"
)

// NewFromDSN selects a store backend by DSN scheme:
//
//	sqlite:///var/lib/omnixd/state.db   (or a bare filesystem path)
//	postgres://user@host/db             (postgresql:// also accepted)
//
// A DSN carrying any other scheme is rejected rather than guessed at.
func NewFromDSN(dsn string) (store.Store, error) {
	d := strings.TrimSpace(dsn)
	if d == "" {
		return nil, errors.New("empty DSN")
	}
	scheme, rest, found := strings.Cut(d, "://")
	if !found {
		return sq.New(d)
	}
	switch strings.ToLower(scheme) {
	case "postgres", "postgresql":
		return pg.New(d)
	case "sqlite":
		return sq.New(rest)
	default:
		return nil, fmt.Errorf("unsupported store scheme %q", scheme)
	}
}
