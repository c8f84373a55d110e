package reporting

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultLogSize = 50
	defaultLogTTL  = 7 * 24 * time.Hour
)

// RedisReporter keeps a capped, expiring list of recent failures per room.
type RedisReporter struct {
	client *redis.Client
	prefix string
	size   int64
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisReporter connects to redisURL and verifies the connection.
func NewRedisReporter(redisURL string, size int, ttl time.Duration, logger *slog.Logger) (*RedisReporter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisReporterWithClient(client, size, ttl, logger), nil
}

// NewRedisReporterWithClient builds a reporter from an existing client.
func NewRedisReporterWithClient(client *redis.Client, size int, ttl time.Duration, logger *slog.Logger) *RedisReporter {
	if size <= 0 {
		size = defaultLogSize
	}
	if ttl <= 0 {
		ttl = defaultLogTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisReporter{
		client: client,
		prefix: "history:failures:",
		size:   int64(size),
		ttl:    ttl,
		logger: logger,
	}
}

func (r *RedisReporter) key(roomID string) string {
	return r.prefix + roomID
}

// Report pushes event onto the room's list. Redis errors are logged and
// swallowed.
func (r *RedisReporter) Report(ctx context.Context, event Event) {
	if err := r.Append(ctx, event); err != nil {
		r.logger.Warn("failure log append", "room", event.RoomID, "error", err)
	}
}

// Append is Report with the error surfaced.
func (r *RedisReporter) Append(ctx context.Context, event Event) error {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal failure event: %w", err)
	}

	key := r.key(event.RoomID)
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, r.size-1)
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append failure event: %w", err)
	}
	return nil
}

// Recent returns up to limit events for roomID, newest first.
func (r *RedisReporter) Recent(ctx context.Context, roomID string, limit int) ([]Event, error) {
	if limit <= 0 || int64(limit) > r.size {
		limit = int(r.size)
	}
	raw, err := r.client.LRange(ctx, r.key(roomID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read failure log: %w", err)
	}

	events := make([]Event, 0, len(raw))
	for _, item := range raw {
		var ev Event
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			return nil, fmt.Errorf("unmarshal failure event: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// Clear drops the failure log of a room.
func (r *RedisReporter) Clear(ctx context.Context, roomID string) error {
	if err := r.client.Del(ctx, r.key(roomID)).Err(); err != nil {
		return fmt.Errorf("clear failure log: %w", err)
	}
	return nil
}

func (r *RedisReporter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisReporter) Close() error {
	return r.client.Close()
}
