package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/omnix-ai/omnixd/internal/history"
)

// DefaultKey is the list events are pushed to when none is configured.
const DefaultKey = "omnixd:history"

// Sink appends history events to a Redis list as JSON documents, newest
// first, and mirrors each service's current state into a hash at
// "<key>:state" so dashboards can HGETALL the stack without replaying
// the list. MaxLen bounds the list length; zero keeps everything.
type Sink struct {
	client   *redis.Client
	key      string
	stateKey string
	maxLen   int64
}

// New creates a Redis history sink.
// DSN format: redis://[user:pass@]host:port[/db]
func New(dsn, key string, maxLen int64) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty Redis DSN")
	}
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, err
	}
	if key == "" {
		key = DefaultKey
	}

	client := redis.NewClient(opts)

	// Test the connection
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Sink{client: client, key: key, stateKey: key + ":state", maxLen: maxLen}, nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := s.client.LPush(ctx, s.key, b).Err(); err != nil {
		return err
	}
	if s.maxLen > 0 {
		if err := s.client.LTrim(ctx, s.key, 0, s.maxLen-1).Err(); err != nil {
			return err
		}
	}
	if e.Record.Name != "" && e.Record.State != "" {
		return s.client.HSet(ctx, s.stateKey, e.Record.Name, e.Record.State).Err()
	}
	return nil
}

func (s *Sink) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
