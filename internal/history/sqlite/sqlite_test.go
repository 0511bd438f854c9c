package sqlite

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/omnix-ai/omnixd/internal/history"
	"github.com/omnix-ai/omnixd/internal/store"
)

func TestSQLiteSinkRoundtrip(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := tempDir + "/history.db"

	sink, err := New("sqlite://" + dbPath)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	ctx := context.Background()
	started := time.Now().Add(-time.Minute).UTC()
	rec := store.Record{
		Name:      "stt",
		PID:       12345,
		State:     "starting",
		StartedAt: started,
		Live:      true,
	}

	if err := sink.Send(ctx, history.Event{Type: history.EventLaunch, OccurredAt: time.Now().UTC(), Record: rec}); err != nil {
		t.Fatalf("Failed to send launch event: %v", err)
	}

	rec.State = "failed"
	rec.Live = false
	rec.ExitErr = sql.NullString{String: "exit status 2", Valid: true}
	if err := sink.Send(ctx, history.Event{Type: history.EventUnexpectedExit, OccurredAt: time.Now().UTC(), Record: rec}); err != nil {
		t.Fatalf("Failed to send exit event: %v", err)
	}

	var n int
	if err := sink.db.QueryRow(`SELECT COUNT(*) FROM service_history WHERE name='stt'`).Scan(&n); err != nil {
		t.Fatalf("count query: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows, got %d", n)
	}

	var event, state string
	var exitErr sql.NullString
	row := sink.db.QueryRow(`SELECT event, state, exit_err FROM service_history WHERE event='unexpected_exit'`)
	if err := row.Scan(&event, &state, &exitErr); err != nil {
		t.Fatalf("select exit row: %v", err)
	}
	if state != "failed" || !exitErr.Valid || exitErr.String != "exit status 2" {
		t.Fatalf("unexpected exit row: state=%q exit_err=%+v", state, exitErr)
	}
}

func TestSQLiteSinkInMemory(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create in-memory sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	rec := store.Record{
		Name:      "tts",
		PID:       54321,
		State:     "healthy",
		StartedAt: time.Now().UTC(),
		Live:      true,
	}

	if err := sink.Send(ctx, history.Event{Type: history.EventHealthy, OccurredAt: time.Now().UTC(), Record: rec}); err != nil {
		t.Fatalf("Failed to send event: %v", err)
	}
}

func TestSQLiteSinkEmptyDSN(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
