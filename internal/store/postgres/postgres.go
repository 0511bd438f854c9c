package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/omnix-ai/omnixd/internal/store"
)

const (
	schemaSQL = `CREATE TABLE IF NOT EXISTS service_state(
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		pid INTEGER NOT NULL,
		state TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		stopped_at TIMESTAMPTZ NULL,
		live BOOLEAN NOT NULL,
		exit_err TEXT NULL,
		uniq TEXT NOT NULL UNIQUE,
		updated_at TIMESTAMPTZ NOT NULL
	)`
	nameIndexSQL = `CREATE INDEX IF NOT EXISTS idx_service_state_name ON service_state(name)`
	liveIndexSQL = `CREATE INDEX IF NOT EXISTS idx_service_state_live ON service_state(live)`

	launchSQL = `INSERT INTO service_state(name, pid, state, started_at, stopped_at, live, exit_err, uniq, updated_at)
		VALUES($1, $2, $3, $4, NULL, true, NULL, $5, $6)
		ON CONFLICT(uniq) DO UPDATE SET
			name=EXCLUDED.name, pid=EXCLUDED.pid, state=EXCLUDED.state,
			started_at=EXCLUDED.started_at, live=EXCLUDED.live,
			stopped_at=NULL, exit_err=NULL, updated_at=EXCLUDED.updated_at`

	exitSQL = `UPDATE service_state
		SET live=false, state=$1, stopped_at=$2, exit_err=$3, updated_at=$4
		WHERE uniq=$5`

	upsertSQL = `INSERT INTO service_state(name, pid, state, started_at, stopped_at, live, exit_err, uniq, updated_at)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT(uniq) DO UPDATE SET
			name=EXCLUDED.name, pid=EXCLUDED.pid, state=EXCLUDED.state,
			started_at=EXCLUDED.started_at, stopped_at=EXCLUDED.stopped_at,
			live=EXCLUDED.live, exit_err=EXCLUDED.exit_err, updated_at=EXCLUDED.updated_at`

	byNameSQL = `SELECT id, name, pid, state, started_at, stopped_at, live, exit_err, uniq, updated_at
		FROM service_state WHERE name=$1 ORDER BY started_at DESC LIMIT $2`

	liveSQL = `SELECT id, name, pid, state, started_at, stopped_at, live, exit_err, uniq, updated_at
		FROM service_state WHERE live=true AND name LIKE $1 ORDER BY updated_at DESC`

	purgeSQL = `DELETE FROM service_state WHERE live=false AND updated_at < $1`
)

// DB implements store.Store on PostgreSQL via the pgx stdlib driver. New is
// lazy: no connection is made until the first operation.
type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	for _, q := range []string{schemaSQL, nameIndexSQL, liveIndexSQL} {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) RecordLaunch(ctx context.Context, rec store.Record) error {
	if rec.State == "" {
		rec.State = "starting"
	}
	_, err := p.db.ExecContext(ctx, launchSQL,
		rec.Name, rec.PID, rec.State, rec.StartedAt.UTC(), rec.Key(), time.Now().UTC())
	return err
}

func (p *DB) RecordExit(ctx context.Context, uniq string, state string, stoppedAt time.Time, exitErr error) error {
	if state == "" {
		state = "stopped"
	}
	var errStr sql.NullString
	if exitErr != nil {
		errStr = sql.NullString{String: exitErr.Error(), Valid: true}
	}
	_, err := p.db.ExecContext(ctx, exitSQL,
		state, stoppedAt.UTC(), errStr, time.Now().UTC(), uniq)
	return err
}

func (p *DB) UpsertStatus(ctx context.Context, rec store.Record) error {
	var stoppedAt any
	if rec.StoppedAt.Valid {
		stoppedAt = rec.StoppedAt.Time.UTC()
	}
	var exitErr any
	if rec.ExitErr.Valid {
		exitErr = rec.ExitErr.String
	}
	_, err := p.db.ExecContext(ctx, upsertSQL,
		rec.Name, rec.PID, rec.State, rec.StartedAt.UTC(), stoppedAt, rec.Live, exitErr, rec.Key(), time.Now().UTC())
	return err
}

func (p *DB) GetByName(ctx context.Context, name string, limit int) ([]store.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, byNameSQL, name, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

func (p *DB) GetLive(ctx context.Context, namePrefix string) ([]store.Record, error) {
	rows, err := p.db.QueryContext(ctx, liveSQL, strings.TrimSpace(namePrefix)+"%")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

func (p *DB) PurgeOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, purgeSQL, olderThan.UTC())
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
