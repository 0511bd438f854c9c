package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/omnix-ai/omnixd/internal/store"
)

// One row per service incarnation, keyed by uniq (pid + launch nanos).
// The columns selected everywhere match scanRecords field for field.
const (
	schemaSQL = `CREATE TABLE IF NOT EXISTS service_state(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		pid INTEGER NOT NULL,
		state TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		stopped_at TIMESTAMP NULL,
		live BOOLEAN NOT NULL,
		exit_err TEXT NULL,
		uniq TEXT NOT NULL UNIQUE,
		updated_at TIMESTAMP NOT NULL
	)`
	nameIndexSQL = `CREATE INDEX IF NOT EXISTS idx_service_state_name ON service_state(name)`
	liveIndexSQL = `CREATE INDEX IF NOT EXISTS idx_service_state_live ON service_state(live)`

	launchSQL = `INSERT INTO service_state(name, pid, state, started_at, stopped_at, live, exit_err, uniq, updated_at)
		VALUES(?, ?, ?, ?, NULL, 1, NULL, ?, ?)
		ON CONFLICT(uniq) DO UPDATE SET
			name=excluded.name, pid=excluded.pid, state=excluded.state,
			started_at=excluded.started_at, live=excluded.live,
			stopped_at=NULL, exit_err=NULL, updated_at=excluded.updated_at`

	exitSQL = `UPDATE service_state
		SET live=0, state=?, stopped_at=?, exit_err=?, updated_at=?
		WHERE uniq=?`

	upsertSQL = `INSERT INTO service_state(name, pid, state, started_at, stopped_at, live, exit_err, uniq, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uniq) DO UPDATE SET
			name=excluded.name, pid=excluded.pid, state=excluded.state,
			started_at=excluded.started_at, stopped_at=excluded.stopped_at,
			live=excluded.live, exit_err=excluded.exit_err, updated_at=excluded.updated_at`

	byNameSQL = `SELECT id, name, pid, state, started_at, stopped_at, live, exit_err, uniq, updated_at
		FROM service_state WHERE name=? ORDER BY started_at DESC LIMIT ?`

	liveSQL = `SELECT id, name, pid, state, started_at, stopped_at, live, exit_err, uniq, updated_at
		FROM service_state WHERE live=1 AND name LIKE ? ORDER BY updated_at DESC`

	purgeSQL = `DELETE FROM service_state WHERE live=0 AND updated_at < ?`
)

// DB implements store.Store on a SQLite file (modernc.org/sqlite, CGO-free).
type DB struct {
	db *sql.DB
}

// New opens the database at path (":memory:" for in-memory). The schema is
// created separately via EnsureSchema.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	for _, q := range []string{schemaSQL, nameIndexSQL, liveIndexSQL} {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

// RecordLaunch inserts a fresh live incarnation, overwriting any earlier row
// with the same uniq key (a relaunch that reused pid and nanos).
func (s *DB) RecordLaunch(ctx context.Context, rec store.Record) error {
	if rec.State == "" {
		rec.State = "starting"
	}
	_, err := s.db.ExecContext(ctx, launchSQL,
		rec.Name, rec.PID, rec.State, rec.StartedAt.UTC(), rec.Key(), time.Now().UTC())
	return err
}

// RecordExit finalizes the incarnation with its terminal state. exitErr may
// be nil for clean stops.
func (s *DB) RecordExit(ctx context.Context, uniq string, state string, stoppedAt time.Time, exitErr error) error {
	if state == "" {
		state = "stopped"
	}
	var errStr sql.NullString
	if exitErr != nil {
		errStr = sql.NullString{String: exitErr.Error(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, exitSQL,
		state, stoppedAt.UTC(), errStr, time.Now().UTC(), uniq)
	return err
}

func (s *DB) UpsertStatus(ctx context.Context, rec store.Record) error {
	var stoppedAt any
	if rec.StoppedAt.Valid {
		stoppedAt = rec.StoppedAt.Time.UTC()
	}
	var exitErr any
	if rec.ExitErr.Valid {
		exitErr = rec.ExitErr.String
	}
	_, err := s.db.ExecContext(ctx, upsertSQL,
		rec.Name, rec.PID, rec.State, rec.StartedAt.UTC(), stoppedAt, rec.Live, exitErr, rec.Key(), time.Now().UTC())
	return err
}

// GetByName returns incarnations newest first. limit <= 0 means 50.
func (s *DB) GetByName(ctx context.Context, name string, limit int) ([]store.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, byNameSQL, name, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

// GetLive returns live incarnations whose name starts with namePrefix.
func (s *DB) GetLive(ctx context.Context, namePrefix string) ([]store.Record, error) {
	rows, err := s.db.QueryContext(ctx, liveSQL, strings.TrimSpace(namePrefix)+"%")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

// PurgeOlderThan deletes dead rows not updated since olderThan. Live rows are
// never purged regardless of age.
func (s *DB) PurgeOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, purgeSQL, olderThan.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanRecords(rows *sql.Rows) ([]store.Record, error) {
	out := make([]store.Record, 0)
	for rows.Next() {
		var r store.Record
		if err := rows.Scan(&r.ID, &r.Name, &r.PID, &r.State, &r.StartedAt, &r.StoppedAt, &r.Live, &r.ExitErr, &r.Uniq, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
