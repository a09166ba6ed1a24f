package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	recordKeyPrefix = "completion:"
	servedKeySuffix = ":served"
)

// Redis is the shared completion cache for multi-instance deployments.
// Records and their served-tab sets expire together via key TTLs.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedis creates a Redis-backed completion cache.
func NewRedis(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, ttl: ttl, logger: logger}
}

func recordKey(courseID uuid.UUID) string { return recordKeyPrefix + courseID.String() }

// MarkCompleted stores the record and clears the served-tab set.
func (r *Redis) MarkCompleted(ctx context.Context, rec Record) error {
	if rec.ObservedAt.IsZero() {
		rec.ObservedAt = time.Now().UTC()
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal completion record: %w", err)
	}
	key := recordKey(rec.CourseID)
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, key, body, r.ttl)
	pipe.Del(ctx, key+servedKeySuffix)
	_, err = pipe.Exec(ctx)
	return err
}

// Lookup returns the record for a course if its key has not expired.
func (r *Redis) Lookup(ctx context.Context, courseID uuid.UUID) (*Record, error) {
	body, err := r.client.Get(ctx, recordKey(courseID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(body, &rec); err != nil {
		r.logger.Warn("invalid completion record", zap.String("course_id", courseID.String()), zap.Error(err))
		return nil, nil
	}
	return &rec, nil
}

// MarkServed adds the tab to the served set; SADD reports first-time adds.
func (r *Redis) MarkServed(ctx context.Context, courseID uuid.UUID, tabID string) (bool, error) {
	key := recordKey(courseID) + servedKeySuffix
	added, err := r.client.SAdd(ctx, key, tabID).Result()
	if err != nil {
		return false, err
	}
	// Expire alongside the record; harmless to refresh on every add.
	_ = r.client.Expire(ctx, key, r.ttl).Err()
	return added == 1, nil
}
