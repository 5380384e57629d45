// Package redisstate implements repository.StateRepository on Redis.
package redisstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"harmonic-universe/internal/domain"
	"harmonic-universe/internal/repository"
)

// activityTailCap bounds the recent-activity list kept per room.
const activityTailCap = 200

// RedisStateRepository mirrors the room workers' live state. All keys share
// a configurable prefix so several deployments can share one Redis.
type RedisStateRepository struct {
	client    *redis.Client
	keyPrefix string
}

func NewRedisStateRepository(client *redis.Client, keyPrefix string) *RedisStateRepository {
	if client == nil {
		panic("redis client cannot be nil for RedisStateRepository")
	}
	if keyPrefix == "" {
		keyPrefix = "hu:"
	}
	return &RedisStateRepository{client: client, keyPrefix: keyPrefix}
}

// --- Key helpers ---

func (r *RedisStateRepository) paramsKey(roomID uint) string {
	return fmt.Sprintf("%sroom:%d:params", r.keyPrefix, roomID)
}

func (r *RedisStateRepository) activityKey(roomID uint) string {
	return fmt.Sprintf("%sroom:%d:activity", r.keyPrefix, roomID)
}

func (r *RedisStateRepository) lastSeenKey(roomID, userID uint) string {
	return fmt.Sprintf("%sroom:%d:seen:%d", r.keyPrefix, roomID, userID)
}

func (r *RedisStateRepository) rateLimitKey(key string) string {
	return r.keyPrefix + "ratelimit:" + key
}

// --- Parameter mirror ---

// MirrorParameter stores the full state as one JSON hash field keyed by the
// dotted path. The worker already serialized writes, so a plain HSET is
// enough.
func (r *RedisStateRepository) MirrorParameter(ctx context.Context, roomID uint, state domain.ParameterState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("redis: marshal parameter %s for room %d: %w", state.FieldPath, roomID, err)
	}
	if err := r.client.HSet(ctx, r.paramsKey(roomID), state.FieldPath, payload).Err(); err != nil {
		return fmt.Errorf("redis: mirror parameter %s for room %d: %w", state.FieldPath, roomID, err)
	}
	return nil
}

func (r *RedisStateRepository) LoadParameters(ctx context.Context, roomID uint) ([]domain.ParameterState, error) {
	raw, err := r.client.HGetAll(ctx, r.paramsKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: load parameters for room %d: %w", roomID, err)
	}
	states := make([]domain.ParameterState, 0, len(raw))
	for field, payload := range raw {
		var state domain.ParameterState
		if err := json.Unmarshal([]byte(payload), &state); err != nil {
			logrus.WithFields(logrus.Fields{
				"room_id":    roomID,
				"field_path": field,
			}).WithError(err).Warn("Skipping undecodable parameter mirror entry")
			continue
		}
		states = append(states, state)
	}
	return states, nil
}

// --- Activity tail ---

func (r *RedisStateRepository) PushActivity(ctx context.Context, roomID uint, entry domain.ActivityEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("redis: marshal activity entry for room %d: %w", roomID, err)
	}
	key := r.activityKey(roomID)
	pipe := r.client.Pipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, activityTailCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: push activity for room %d: %w", roomID, err)
	}
	return nil
}

func (r *RedisStateRepository) RecentActivity(ctx context.Context, roomID uint, limit int) ([]domain.ActivityEntry, error) {
	if limit <= 0 || limit > activityTailCap {
		limit = activityTailCap
	}
	raw, err := r.client.LRange(ctx, r.activityKey(roomID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: recent activity for room %d: %w", roomID, err)
	}
	entries := make([]domain.ActivityEntry, 0, len(raw))
	for _, item := range raw {
		var entry domain.ActivityEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			logrus.WithField("room_id", roomID).WithError(err).Warn("Skipping undecodable activity entry")
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// --- Presence history ---

func (r *RedisStateRepository) SetLastSeen(ctx context.Context, roomID, userID uint, at time.Time, ttl time.Duration) error {
	key := r.lastSeenKey(roomID, userID)
	err := r.client.Set(ctx, key, strconv.FormatInt(at.UnixMilli(), 10), ttl).Err()
	if err != nil {
		return fmt.Errorf("redis: set last seen for user %d in room %d: %w", userID, roomID, err)
	}
	return nil
}

func (r *RedisStateRepository) GetLastSeen(ctx context.Context, roomID, userID uint) (time.Time, error) {
	raw, err := r.client.Get(ctx, r.lastSeenKey(roomID, userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, repository.ErrNotFound
		}
		return time.Time{}, fmt.Errorf("redis: get last seen for user %d in room %d: %w", userID, roomID, err)
	}
	millis, parseErr := strconv.ParseInt(raw, 10, 64)
	if parseErr != nil {
		return time.Time{}, fmt.Errorf("redis: parse last seen %q for user %d in room %d: %w", raw, userID, roomID, parseErr)
	}
	return time.UnixMilli(millis).UTC(), nil
}

// --- Cleanup ---

func (r *RedisStateRepository) CleanupRoomState(ctx context.Context, roomID uint) error {
	keys := []string{r.paramsKey(roomID), r.activityKey(roomID)}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis: cleanup state for room %d: %w", roomID, err)
	}
	// Last-seen keys expire on their own TTL; sweep any stragglers.
	pattern := fmt.Sprintf("%sroom:%d:seen:*", r.keyPrefix, roomID)
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			logrus.WithField("key", iter.Val()).WithError(err).Warn("Failed to delete last-seen key during cleanup")
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis: scan last-seen keys for room %d: %w", roomID, err)
	}
	return nil
}

// --- Rate limiting ---

// CheckRateLimit uses INCR+EXPIRE in a pipeline; INCR is atomic and the
// window refresh racing a concurrent request only extends the window.
func (r *RedisStateRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	pipe := r.client.Pipeline()
	incr := pipe.Incr(ctx, r.rateLimitKey(key))
	pipe.Expire(ctx, r.rateLimitKey(key), window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis: rate limit pipeline for %q: %w", key, err)
	}
	count, err := incr.Result()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit count for %q: %w", key, err)
	}
	return count > int64(limit), nil
}
