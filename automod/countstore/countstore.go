// Period-bucketed counters for moderation analytics.
//
// Counters are kept per (name, value) in three buckets at once: the current UTC hour, the current UTC day, and an all-time total. "Distinct" counters count unique members (eg, distinct reporters of one piece of content) rather than events.
package countstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	PeriodTotal = "total"
	PeriodDay   = "day"
	PeriodHour  = "hour"
)

var AllPeriods = []string{PeriodTotal, PeriodDay, PeriodHour}

type CountStore interface {
	GetCount(ctx context.Context, name, val, period string) (int, error)
	Increment(ctx context.Context, name, val string) error
	GetCountDistinct(ctx context.Context, name, bucket, period string) (int, error)
	IncrementDistinct(ctx context.Context, name, bucket, val string) error
	// Distinct count the bucket would have once val is added, without adding it.
	GetCountDistinctWith(ctx context.Context, name, bucket, period, val string) (int, error)
}

func periodBucketAt(name, val, period string, now time.Time) string {
	now = now.UTC()
	switch period {
	case PeriodTotal:
		return fmt.Sprintf("%s/%s", name, val)
	case PeriodDay:
		return fmt.Sprintf("%s/%s/%s", name, val, now.Format(time.DateOnly))
	case PeriodHour:
		return fmt.Sprintf("%s/%s/%s", name, val, now.Format("2006-01-02T15"))
	default:
		slog.Warn("unhandled counter period", "period", period)
		return fmt.Sprintf("%s/%s", name, val)
	}
}

func periodBucket(name, val, period string) string {
	return periodBucketAt(name, val, period, time.Now())
}
