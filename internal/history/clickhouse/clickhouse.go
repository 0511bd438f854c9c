package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/omnix-ai/omnixd/internal/history"
)

// Sink streams lifecycle events into a ClickHouse table over the native
// protocol. The table is expected to exist; omnixd never manages ClickHouse
// schemas (they carry engine and TTL choices that belong to the cluster).
type Sink struct {
	conn      driver.Conn
	insertSQL string
}

func New(addr, table string) (*Sink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: "default",
			Username: "default",
			Password: "",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &Sink{
		conn: conn,
		insertSQL: fmt.Sprintf(`INSERT INTO %s (type, occurred_at, record_name, record_pid, record_state,`+
			` record_started_at, record_stopped_at, record_live, record_exit_err, record_uniq)`+
			` VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, table),
	}, nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	rec := e.Record
	err := s.conn.Exec(ctx, s.insertSQL,
		string(e.Type),
		e.OccurredAt,
		rec.Name,
		rec.PID,
		rec.State,
		rec.StartedAt,
		rec.StoppedAt,
		rec.Live,
		rec.ExitErr,
		rec.Uniq,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
