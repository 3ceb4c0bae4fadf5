package countstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemCountStoreBasics(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cs := NewMemCountStore()

	c, err := cs.GetCount(ctx, "submissions", "POST", PeriodTotal)
	assert.NoError(err)
	assert.Equal(0, c)
	assert.NoError(cs.Increment(ctx, "submissions", "POST"))
	assert.NoError(cs.Increment(ctx, "submissions", "POST"))

	for _, period := range AllPeriods {
		c, err = cs.GetCount(ctx, "submissions", "POST", period)
		assert.NoError(err)
		assert.Equal(2, c)
	}

	assert.NoError(cs.IncrementDistinct(ctx, "reporters", "POST:1", "alice"))
	assert.NoError(cs.IncrementDistinct(ctx, "reporters", "POST:1", "alice"))
	assert.NoError(cs.IncrementDistinct(ctx, "reporters", "POST:1", "bob"))
	for _, period := range AllPeriods {
		c, err = cs.GetCountDistinct(ctx, "reporters", "POST:1", period)
		assert.NoError(err)
		assert.Equal(2, c)
	}

	// looking ahead does not record the member
	c, err = cs.GetCountDistinctWith(ctx, "reporters", "POST:1", PeriodTotal, "carol")
	assert.NoError(err)
	assert.Equal(3, c)
	c, err = cs.GetCountDistinctWith(ctx, "reporters", "POST:1", PeriodTotal, "alice")
	assert.NoError(err)
	assert.Equal(2, c)
	c, err = cs.GetCountDistinct(ctx, "reporters", "POST:1", PeriodTotal)
	assert.NoError(err)
	assert.Equal(2, c)
	c, err = cs.GetCountDistinctWith(ctx, "reporters", "POST:2", PeriodTotal, "alice")
	assert.NoError(err)
	assert.Equal(1, c)
}

func TestMemCountStoreConcurrent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cs := NewMemCountStore()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				assert.NoError(cs.Increment(ctx, "submissions", "COMMENT"))
				_, err := cs.GetCount(ctx, "submissions", "COMMENT", PeriodHour)
				assert.NoError(err)
			}
		}()
	}
	wg.Wait()

	c, err := cs.GetCount(ctx, "submissions", "COMMENT", PeriodTotal)
	assert.NoError(err)
	assert.Equal(100, c)
}

func TestPeriodBucket(t *testing.T) {
	assert := assert.New(t)

	now := time.Date(2024, 3, 9, 17, 45, 0, 0, time.UTC)
	assert.Equal("n/v", periodBucketAt("n", "v", PeriodTotal, now))
	assert.Equal("n/v/2024-03-09", periodBucketAt("n", "v", PeriodDay, now))
	assert.Equal("n/v/2024-03-09T17", periodBucketAt("n", "v", PeriodHour, now))
}

func TestRedisCountStoreBasics(t *testing.T) {
	t.Skip("live test, need redis running locally")
	assert := assert.New(t)
	ctx := context.Background()

	opt, err := redis.ParseURL("redis://localhost:6379/0")
	require.NoError(t, err)
	cs := NewRedisCountStore(redis.NewClient(opt))
	bucket := "LISTING:redis-test"

	assert.NoError(cs.IncrementDistinct(ctx, "reporters", bucket, "alice"))
	c, err := cs.GetCountDistinctWith(ctx, "reporters", bucket, PeriodTotal, "bob")
	assert.NoError(err)
	assert.Equal(2, c)
	c, err = cs.GetCountDistinctWith(ctx, "reporters", bucket, PeriodTotal, "alice")
	assert.NoError(err)
	assert.Equal(1, c)
	c, err = cs.GetCountDistinct(ctx, "reporters", bucket, PeriodTotal)
	assert.NoError(err)
	assert.Equal(1, c)
}
