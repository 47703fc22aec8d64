package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/raphaelgruber/lingostream/internal/models"
)

const redisKeyPrefix = "lingostream:explanation:"

// Redis stores JSON-encoded entries in Redis.
type Redis struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

var _ Cache = (*Redis)(nil)

// NewRedis wraps an existing client. A ttl of zero never expires entries.
func NewRedis(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{rdb: rdb, ttl: ttl, logger: logger}
}

// DialRedis connects to addr and verifies the connection. addr may be a
// host:port pair or a redis:// URL.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	var opts *redis.Options
	if u, err := redis.ParseURL(addr); err == nil {
		opts = u
	} else {
		opts = &redis.Options{Addr: addr, Password: password, DB: db}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return rdb, nil
}

func redisKey(segmentID string) string {
	return redisKeyPrefix + segmentID
}

func (c *Redis) Lookup(ctx context.Context, segmentID, fingerprint string) (models.ExplanationRecord, bool, error) {
	raw, err := c.rdb.Get(ctx, redisKey(segmentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.ExplanationRecord{}, false, nil
	}
	if err != nil {
		return models.ExplanationRecord{}, false, fmt.Errorf("redis get %s: %w", segmentID, err)
	}

	e, err := DecodeEntry(raw)
	if err != nil {
		c.logger.Warn("dropping corrupt cache entry", "segment", segmentID, "error", err)
		_ = c.rdb.Del(ctx, redisKey(segmentID)).Err()
		return models.ExplanationRecord{}, false, nil
	}
	if e.Fingerprint != fingerprint {
		return models.ExplanationRecord{}, false, nil
	}
	return e.Record, true, nil
}

func (c *Redis) Store(ctx context.Context, segmentID, fingerprint string, rec models.ExplanationRecord) error {
	b, err := json.Marshal(Entry{Fingerprint: fingerprint, Record: rec, StoredAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := c.rdb.Set(ctx, redisKey(segmentID), b, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", segmentID, err)
	}
	return nil
}

func (c *Redis) Delete(ctx context.Context, segmentID string) error {
	if err := c.rdb.Del(ctx, redisKey(segmentID)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", segmentID, err)
	}
	return nil
}

// DecodeEntry parses a stored payload, returning ErrCorrupt if it is not a
// valid entry.
func DecodeEntry(raw []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if e.Fingerprint == "" {
		return Entry{}, fmt.Errorf("%w: missing fingerprint", ErrCorrupt)
	}
	e.Record.Normalize()
	if err := e.Record.Validate(); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return e, nil
}
