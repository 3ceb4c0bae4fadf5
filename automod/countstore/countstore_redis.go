package countstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisCountPrefix    = "modq/count/"
	redisDistinctPrefix = "modq/distinct/"
	redisScratchPrefix  = "modq/scratch/"
)

// CountStore backed by redis. Plain counters use INCR; distinct counters use HyperLogLog (PFADD/PFCOUNT), so they are approximate at large cardinality.
type RedisCountStore struct {
	Client *redis.Client
}

var _ CountStore = (*RedisCountStore)(nil)

func NewRedisCountStore(rdb *redis.Client) *RedisCountStore {
	return &RedisCountStore{Client: rdb}
}

// hour and day buckets expire a while after the period closes; totals never do
func bucketTTL(period string) time.Duration {
	switch period {
	case PeriodHour:
		return 2 * time.Hour
	case PeriodDay:
		return 48 * time.Hour
	}
	return 0
}

func (s *RedisCountStore) GetCount(ctx context.Context, name, val, period string) (int, error) {
	c, err := s.Client.Get(ctx, redisCountPrefix+periodBucket(name, val, period)).Int()
	if err == redis.Nil {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	return c, nil
}

func (s *RedisCountStore) Increment(ctx context.Context, name, val string) error {
	// all buckets in a single round-trip
	multi := s.Client.Pipeline()
	for _, p := range AllPeriods {
		key := redisCountPrefix + periodBucket(name, val, p)
		multi.Incr(ctx, key)
		if ttl := bucketTTL(p); ttl > 0 {
			multi.Expire(ctx, key, ttl)
		}
	}
	_, err := multi.Exec(ctx)
	return err
}

func (s *RedisCountStore) GetCountDistinct(ctx context.Context, name, bucket, period string) (int, error) {
	c, err := s.Client.PFCount(ctx, redisDistinctPrefix+periodBucket(name, bucket, period)).Result()
	if err == redis.Nil {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	return int(c), nil
}

// Counts the union of the bucket and a single-member scratch HLL. MULTI keeps concurrent callers from sharing the scratch key.
func (s *RedisCountStore) GetCountDistinctWith(ctx context.Context, name, bucket, period, val string) (int, error) {
	key := redisDistinctPrefix + periodBucket(name, bucket, period)
	scratch := redisScratchPrefix + periodBucket(name, bucket, period)
	var count *redis.IntCmd
	_, err := s.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, scratch)
		pipe.PFAdd(ctx, scratch, val)
		count = pipe.PFCount(ctx, key, scratch)
		pipe.Del(ctx, scratch)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(count.Val()), nil
}

func (s *RedisCountStore) IncrementDistinct(ctx context.Context, name, bucket, val string) error {
	multi := s.Client.Pipeline()
	for _, p := range AllPeriods {
		key := redisDistinctPrefix + periodBucket(name, bucket, p)
		multi.PFAdd(ctx, key, val)
		if ttl := bucketTTL(p); ttl > 0 {
			multi.Expire(ctx, key, ttl)
		}
	}
	_, err := multi.Exec(ctx)
	return err
}
