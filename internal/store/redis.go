package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/beechat/internal/metrics"
	"github.com/eldtechnologies/beechat/internal/models"
)

const messageCountKey = "messages:count"

// saveMessageScript reserves the id and bumps the counter in one step, so
// the counter can never drift from the set of stored messages.
var saveMessageScript = redis.NewScript(`
if redis.call("SET", KEYS[1], ARGV[1], "NX") then
	redis.call("INCR", KEYS[2])
	return 1
end
return 0
`)

// RedisStore keeps messages, safety logs and location history in Redis.
// Nothing here carries a TTL: message ids must stay reserved for
// idempotence and moderation records must not expire silently.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Client exposes the underlying client for the rate limiter.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() {
	s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// messageKey returns the key holding a message's JSON.
func messageKey(id string) string {
	return fmt.Sprintf("message:%s", id)
}

// safetyLogKey returns the key for one child's log under its parent.
func safetyLogKey(parentID, childID string) string {
	return fmt.Sprintf("safetylog:%s:%s", parentID, childID)
}

// locationKey returns the key for a user's location list.
func locationKey(userID string) string {
	return fmt.Sprintf("location:%s", userID)
}

func observeRedis(start time.Time) {
	metrics.RedisLatency.Observe(time.Since(start).Seconds())
}

// SaveMessage stores a message; a repeated id is a no-op.
func (s *RedisStore) SaveMessage(ctx context.Context, msg *models.Message) (bool, error) {
	defer observeRedis(time.Now())

	data, err := json.Marshal(msg)
	if err != nil {
		return false, err
	}

	n, err := saveMessageScript.Run(ctx, s.client, []string{messageKey(msg.ID), messageCountKey}, data).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetMessage retrieves a message by ID, or nil if absent.
func (s *RedisStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	defer observeRedis(time.Now())

	data, err := s.client.Get(ctx, messageKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var msg models.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// CountMessages returns the stored message counter.
func (s *RedisStore) CountMessages(ctx context.Context) (int64, error) {
	defer observeRedis(time.Now())

	n, err := s.client.Get(ctx, messageCountKey).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

// AppendSafetyLog pushes an entry onto the child's list under the parent.
func (s *RedisStore) AppendSafetyLog(ctx context.Context, parentID string, entry *models.SafetyLogEntry) error {
	defer observeRedis(time.Now())

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.client.RPush(ctx, safetyLogKey(parentID, entry.ChildID), data).Err()
}

// ListSafetyLogs returns the tail of the child's list, oldest first.
func (s *RedisStore) ListSafetyLogs(ctx context.Context, parentID, childID string, limit int) ([]models.SafetyLogEntry, error) {
	defer observeRedis(time.Now())

	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	results, err := s.client.LRange(ctx, safetyLogKey(parentID, childID), start, -1).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]models.SafetyLogEntry, 0, len(results))
	for _, data := range results {
		var e models.SafetyLogEntry
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, fmt.Errorf("decode safety log entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// AppendLocation pushes and trims in one MULTI so the list never exceeds
// limit, even with concurrent writers.
func (s *RedisStore) AppendLocation(ctx context.Context, sample *models.LocationSample, limit int) error {
	defer observeRedis(time.Now())

	data, err := json.Marshal(sample)
	if err != nil {
		return err
	}

	key := locationKey(sample.UserID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	if limit > 0 {
		pipe.LTrim(ctx, key, -int64(limit), -1)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// ListLocations returns the user's full list, oldest first.
func (s *RedisStore) ListLocations(ctx context.Context, userID string) ([]models.LocationSample, error) {
	defer observeRedis(time.Now())

	results, err := s.client.LRange(ctx, locationKey(userID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	samples := make([]models.LocationSample, 0, len(results))
	for _, data := range results {
		var sample models.LocationSample
		if err := json.Unmarshal([]byte(data), &sample); err != nil {
			return nil, fmt.Errorf("decode location sample: %w", err)
		}
		samples = append(samples, sample)
	}
	return samples, nil
}
