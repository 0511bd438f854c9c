package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Record is one persisted incarnation of a managed service: a single
// launch with its observed PID, lifecycle state and exit outcome.
// State is the string form of the service state ("starting", "healthy",
// "unhealthy", "stopped", "failed"). Uniq identifies the incarnation
// (PID plus launch time) so relaunches of the same service produce
// separate rows. Timestamps should be in UTC.
type Record struct {
	ID        int64          `json:"id"`
	Name      string         `json:"name"`
	PID       int            `json:"pid"`
	State     string         `json:"state"`
	StartedAt time.Time      `json:"started_at"`
	StoppedAt sql.NullTime   `json:"stopped_at"`
	Live      bool           `json:"live"`
	ExitErr   sql.NullString `json:"exit_err"`
	Uniq      string         `json:"uniq"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// UniqueKey builds the incarnation key for a PID launched at startedAt.
func UniqueKey(pid int, startedAt time.Time) string {
	return fmt.Sprintf("%d-%d", pid, startedAt.UTC().UnixNano())
}

// Key returns the incarnation key, deriving it from PID and StartedAt
// when the record does not carry one yet.
func (r Record) Key() string {
	if r.Uniq != "" {
		return r.Uniq
	}
	return UniqueKey(r.PID, r.StartedAt)
}

// Store persists service incarnations so status survives supervisor
// restarts and stale pidfiles can be reconciled on boot.
type Store interface {
	EnsureSchema(ctx context.Context) error
	// RecordLaunch inserts a fresh live incarnation for a service.
	RecordLaunch(ctx context.Context, rec Record) error
	// RecordExit finalizes the incarnation identified by uniq with its
	// terminal state ("stopped" or "failed") and optional exit error.
	RecordExit(ctx context.Context, uniq string, state string, stoppedAt time.Time, exitErr error) error
	// UpsertStatus writes the full current row for an incarnation,
	// used for non-terminal state changes such as healthy/unhealthy.
	UpsertStatus(ctx context.Context, rec Record) error
	GetByName(ctx context.Context, name string, limit int) ([]Record, error)
	GetLive(ctx context.Context, namePrefix string) ([]Record, error)
	PurgeOlderThan(ctx context.Context, olderThan time.Time) (int64, error)
	Close() error
}
