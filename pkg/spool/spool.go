package spool

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Sternrassler/vendor-sync/pkg/pagination"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long spooled pages live. Abandoned windows must not
// accumulate in Redis forever.
const DefaultTTL = 24 * time.Hour

// Spool stores fetched pages in a Redis hash per fetch window, one field
// per page number.
type Spool struct {
	redis *redis.Client
	ttl   time.Duration
}

// New creates a page spool with the given TTL (DefaultTTL if ttl <= 0).
func New(redisClient *redis.Client, ttl time.Duration) *Spool {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Spool{
		redis: redisClient,
		ttl:   ttl,
	}
}

// Put stores one page under the window key.
func (s *Spool) Put(ctx context.Context, key Key, pageNo int, items []json.RawMessage) error {
	data, err := json.Marshal(items)
	if err != nil {
		SpoolErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("marshal page: %w", err)
	}

	k := key.String()
	pipe := s.redis.Pipeline()
	pipe.HSet(ctx, k, strconv.Itoa(pageNo), data)
	pipe.Expire(ctx, k, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		SpoolErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("redis hset: %w", err)
	}

	SpoolWrites.Inc()
	SpoolBytes.Add(float64(len(data)))
	return nil
}

// Pages returns all spooled pages for the window, keyed by page number.
// Returns an empty map when nothing is spooled.
func (s *Spool) Pages(ctx context.Context, key Key) (map[int][]json.RawMessage, error) {
	fields, err := s.redis.HGetAll(ctx, key.String()).Result()
	if err != nil {
		SpoolErrors.WithLabelValues("pages").Inc()
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}

	pages := make(map[int][]json.RawMessage, len(fields))
	for field, raw := range fields {
		pageNo, err := strconv.Atoi(field)
		if err != nil {
			SpoolErrors.WithLabelValues("pages").Inc()
			return nil, fmt.Errorf("parse page number %q: %w", field, err)
		}
		var items []json.RawMessage
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			SpoolErrors.WithLabelValues("pages").Inc()
			return nil, fmt.Errorf("unmarshal page %d: %w", pageNo, err)
		}
		pages[pageNo] = items
	}
	return pages, nil
}

// Clear removes all spooled pages for the window. Called after the run
// outcome is durably recorded.
func (s *Spool) Clear(ctx context.Context, key Key) error {
	if err := s.redis.Del(ctx, key.String()).Err(); err != nil {
		SpoolErrors.WithLabelValues("clear").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// windowSink binds the spool to one window so it satisfies
// pagination.PageSink.
type windowSink struct {
	spool *Spool
	key   Key
}

// Sink returns a pagination.PageSink bound to the given window key.
func (s *Spool) Sink(key Key) pagination.PageSink {
	return &windowSink{spool: s, key: key}
}

func (w *windowSink) Put(ctx context.Context, pageNo int, items []json.RawMessage) error {
	return w.spool.Put(ctx, w.key, pageNo, items)
}
