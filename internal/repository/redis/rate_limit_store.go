package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"molttok/internal/client"
	"molttok/internal/ratelimit"
	"molttok/internal/util"
)

const (
	rateLimitPrefix = "ratelimit:"
	windowSuffix    = ":w"
)

// slidingWindow prunes, counts and conditionally appends in one round trip.
// Scores are microseconds since the epoch.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local wkey = KEYS[2]
local now = ARGV[1]
local cutoff = ARGV[2]
local limit = tonumber(ARGV[3])
local window_ms = ARGV[4]
local member = ARGV[5]

redis.call('ZREMRANGEBYSCORE', key, '-inf', cutoff)
local count = redis.call('ZCARD', key)

if count >= limit then
    local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local oldest = 0
    if first[2] then
        oldest = tonumber(first[2])
    end
    return {0, count, oldest}
end

redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window_ms)
redis.call('SET', wkey, window_ms, 'PX', window_ms)

local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
return {1, count + 1, tonumber(first[2])}
`)

// bucketKeys returns the sorted set key and its window key. The hash tag keeps
// both in one cluster slot.
func bucketKeys(key string) (string, string) {
	zkey := rateLimitPrefix + "{" + key + "}"
	return zkey, zkey + windowSuffix
}

// RateLimitStore keeps each bucket as a sorted set of call timestamps so that
// several server processes enforce the same limits. Keys expire with their
// window, so the limiter never needs to sweep it.
type RateLimitStore struct {
	client *client.RedisClient
}

var _ ratelimit.AtomicStore = (*RateLimitStore)(nil)

func NewRateLimitStore(c *client.RedisClient) *RateLimitStore {
	return &RateLimitStore{client: c}
}

func (s *RateLimitStore) Record(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (ratelimit.Record, error) {
	zkey, wkey := bucketKeys(key)
	nowMicros := now.UnixMicro()
	cutoff := now.Add(-window).UnixMicro()
	member := strconv.FormatInt(nowMicros, 10) + "-" + uuid.NewString()

	raw, err := slidingWindow.Run(ctx, s.client.Client,
		[]string{zkey, wkey},
		strconv.FormatInt(nowMicros, 10), strconv.FormatInt(cutoff, 10), limit, window.Milliseconds(), member,
	).Result()
	if err != nil {
		util.Error("Failed to execute sliding window rate limit",
			zap.String("key", key),
			zap.Int("limit", limit),
			zap.Duration("window", window),
			zap.Error(err))
		return ratelimit.Record{}, fmt.Errorf("failed to execute sliding window rate limit: %w", err)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 3 {
		return ratelimit.Record{}, fmt.Errorf("unexpected result format from sliding window script")
	}
	allowed, _ := values[0].(int64)
	count, _ := values[1].(int64)
	oldest, _ := values[2].(int64)

	return ratelimit.Record{
		Allowed: allowed == 1,
		Count:   int(count),
		Oldest:  time.UnixMicro(oldest),
	}, nil
}

func (s *RateLimitStore) Get(ctx context.Context, key string) (ratelimit.Bucket, bool, error) {
	zkey, wkey := bucketKeys(key)

	pipe := s.client.Client.Pipeline()
	membersCmd := pipe.ZRangeWithScores(ctx, zkey, 0, -1)
	windowCmd := pipe.Get(ctx, wkey)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return ratelimit.Bucket{}, false, fmt.Errorf("failed to read rate limit bucket: %w", err)
	}

	members := membersCmd.Val()
	if len(members) == 0 {
		return ratelimit.Bucket{}, false, nil
	}
	bucket := ratelimit.Bucket{Timestamps: make([]time.Time, 0, len(members))}
	for _, m := range members {
		bucket.Timestamps = append(bucket.Timestamps, time.UnixMicro(int64(m.Score)))
	}
	if ms, err := windowCmd.Int64(); err == nil {
		bucket.Window = time.Duration(ms) * time.Millisecond
	}
	return bucket, true, nil
}

func (s *RateLimitStore) Set(ctx context.Context, key string, bucket ratelimit.Bucket) error {
	if len(bucket.Timestamps) == 0 {
		return s.Delete(ctx, key)
	}
	zkey, wkey := bucketKeys(key)

	members := make([]redis.Z, 0, len(bucket.Timestamps))
	for _, ts := range bucket.Timestamps {
		micros := ts.UnixMicro()
		members = append(members, redis.Z{
			Score:  float64(micros),
			Member: strconv.FormatInt(micros, 10) + "-" + uuid.NewString(),
		})
	}

	pipe := s.client.Client.TxPipeline()
	pipe.Del(ctx, zkey)
	pipe.ZAdd(ctx, zkey, members...)
	if bucket.Window > 0 {
		pipe.PExpire(ctx, zkey, bucket.Window)
		pipe.Set(ctx, wkey, bucket.Window.Milliseconds(), bucket.Window)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write rate limit bucket: %w", err)
	}
	return nil
}

func (s *RateLimitStore) Delete(ctx context.Context, key string) error {
	zkey, wkey := bucketKeys(key)
	if err := s.client.Client.Del(ctx, zkey, wkey).Err(); err != nil {
		return fmt.Errorf("failed to delete rate limit bucket: %w", err)
	}
	return nil
}
