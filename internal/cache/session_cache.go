// Package cache is the Redis-backed recovery layer: session countdown
// baselines and terminal results survive a gateway restart or a page reload
// without a round trip to the collaborator. Everything here is ephemeral and
// reconstructible; durable state lives behind the exam API.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/examflow/internal/config"
	"github.com/stemsi/examflow/internal/model"
)

// ErrMiss is returned when a key is absent.
var ErrMiss = errors.New("cache miss")

// resultTTL keeps terminal results long enough to cover any realistic
// reload-and-recover window.
const resultTTL = 24 * time.Hour

// SessionCache stores per-session recovery state in Redis.
type SessionCache struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewSessionCache creates a SessionCache.
func NewSessionCache(rdb *redis.Client, log zerolog.Logger) *SessionCache {
	return &SessionCache{
		rdb: rdb,
		log: log.With().Str("component", "session_cache").Logger(),
	}
}

// SetBaseline caches the session's absolute deadline so a rejoining client
// can resync its countdown without a collaborator round trip. The key
// expires once the session cannot possibly be running anymore.
func (c *SessionCache) SetBaseline(ctx context.Context, session *model.ExamSession) error {
	key := config.CacheKey.SessionBaselineKey(session.ID.String())
	ttl := time.Duration(session.DurationSeconds)*time.Second + time.Hour
	if err := c.rdb.Set(ctx, key, session.Deadline().Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("set baseline: %w", err)
	}
	return nil
}

// GetDeadline returns the cached absolute deadline for a session.
func (c *SessionCache) GetDeadline(ctx context.Context, sessionID uuid.UUID) (time.Time, error) {
	val, err := c.rdb.Get(ctx, config.CacheKey.SessionBaselineKey(sessionID.String())).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, ErrMiss
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get baseline: %w", err)
	}
	unix, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid baseline format: %w", err)
	}
	return time.Unix(unix, 0), nil
}

// SetResult caches a terminal exam result for reload recovery.
func (c *SessionCache) SetResult(ctx context.Context, result *model.ExamResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	key := config.CacheKey.SessionResultKey(result.SessionID.String())
	if err := c.rdb.Set(ctx, key, raw, resultTTL).Err(); err != nil {
		return fmt.Errorf("set result: %w", err)
	}
	return nil
}

// GetResult returns the cached result for a session.
func (c *SessionCache) GetResult(ctx context.Context, sessionID uuid.UUID) (*model.ExamResult, error) {
	raw, err := c.rdb.Get(ctx, config.CacheKey.SessionResultKey(sessionID.String())).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	var result model.ExamResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return &result, nil
}
