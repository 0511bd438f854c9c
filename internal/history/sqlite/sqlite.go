package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/omnix-ai/omnixd/internal/history"
)

const (
	// Append-only audit table, no primary key. Operators query it by
	// service name and time window, hence the one index.
	schemaSQL = `CREATE TABLE IF NOT EXISTS service_history(
		occurred_at TIMESTAMP NOT NULL,
		event TEXT NOT NULL,
		name TEXT NOT NULL,
		pid INTEGER NOT NULL,
		state TEXT NOT NULL,
		exit_err TEXT NULL,
		uniq TEXT NOT NULL
	)`
	indexSQL  = `CREATE INDEX IF NOT EXISTS idx_service_history_name_time ON service_history(name, occurred_at)`
	insertSQL = `INSERT INTO service_history(occurred_at, event, name, pid, state, exit_err, uniq)
		VALUES(?, ?, ?, ?, ?, ?, ?)`
)

// Sink appends lifecycle events to a SQLite file. It can share the file with
// the state store; the busy timeout covers their short overlapping writes.
type Sink struct {
	db *sql.DB
}

// New opens the sink. Accepted DSNs: "sqlite:///path/to/file.db", a bare
// filesystem path, or ":memory:".
func New(dsn string) (*Sink, error) {
	path := strings.TrimSpace(dsn)
	if path == "" {
		return nil, errors.New("empty SQLite DSN")
	}
	if _, rest, found := strings.Cut(path, "://"); found {
		path = rest
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	_, _ = db.Exec("PRAGMA busy_timeout=3000;")

	s := &Sink{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, indexSQL)
	return err
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	rec := e.Record
	_, err := s.db.ExecContext(ctx, insertSQL,
		e.OccurredAt.UTC(), string(e.Type), rec.Name, rec.PID, rec.State, rec.ExitErr, rec.Key())
	return err
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
