// Reporter credibility: a bounded trust score per reporting user, adjusted by whether their reports turn out to be accurate.
//
// Scores start at 50 and live in [0,100]. The first recorded outcome for a user does not move the score; after that an accurate report adds 2 and a false report subtracts 3. Lifetime counters are bumped with SQL increments, while the score itself is last-writer-wins.
package credibility

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bluesky-social/modqueue/automod/cachestore"
	"github.com/bluesky-social/modqueue/models"
	"github.com/bluesky-social/modqueue/moderr"
)

const (
	InitialScore  = 50.0
	MinScore      = 0.0
	MaxScore      = 100.0
	AccurateDelta = 2.0
	FalseDelta    = -3.0

	MaxTopReporters = 100
)

type Outcome struct {
	UserID string
	// the report this outcome settles (eg, "queue:17" or "appeal:3")
	ReportID    string
	WasAccurate bool
	Notes       string
}

type Adjustment struct {
	PreviousScore float64 `json:"previousScore"`
	Adjustment    float64 `json:"adjustment"`
	UpdatedScore  float64 `json:"updatedScore"`
}

type Scorer struct {
	store  Store
	cache  cachestore.CacheStore
	logger *slog.Logger
}

// cache may be nil, disabling leaderboard caching.
func NewScorer(store Store, cache cachestore.CacheStore, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{
		store:  store,
		cache:  cache,
		logger: logger.With("component", "credibility"),
	}
}

func clampScore(f float64) float64 {
	if f < MinScore {
		return MinScore
	}
	if f > MaxScore {
		return MaxScore
	}
	return f
}

// Nominal adjustment for an outcome, given the number of reports already settled.
func adjustmentFor(totalReports int64, accurate bool) float64 {
	if totalReports == 0 {
		return 0
	}
	if accurate {
		return AccurateDelta
	}
	return FalseDelta
}

func (s *Scorer) EnsureProfile(ctx context.Context, userID string) (*models.ReporterCredibility, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, moderr.Validation("userId is required")
	}
	return s.store.Ensure(ctx, userID, InitialScore)
}

func (s *Scorer) RecordOutcome(ctx context.Context, o Outcome) (*Adjustment, error) {
	if strings.TrimSpace(o.UserID) == "" {
		return nil, moderr.Validation("userId is required")
	}
	profile, err := s.EnsureProfile(ctx, o.UserID)
	if err != nil {
		return nil, err
	}

	adj := adjustmentFor(profile.TotalReports, o.WasAccurate)
	updated := clampScore(profile.Score + adj)
	ev := &models.CredibilityEvent{
		UserID:        o.UserID,
		ReportRef:     o.ReportID,
		WasAccurate:   o.WasAccurate,
		PreviousScore: profile.Score,
		Adjustment:    adj,
		UpdatedScore:  updated,
		Notes:         o.Notes,
	}
	last := map[string]any{
		"reportId":    o.ReportID,
		"wasAccurate": o.WasAccurate,
		"adjustment":  adj,
		"recordedAt":  time.Now().UTC().Format(time.RFC3339),
	}
	if o.Notes != "" {
		last["notes"] = o.Notes
	}
	if err := s.store.Apply(ctx, ev, last); err != nil {
		return nil, err
	}

	credibilityOutcomes.WithLabelValues(fmt.Sprint(o.WasAccurate)).Inc()
	s.logger.Info("recorded report outcome", "user", o.UserID, "report", o.ReportID, "accurate", o.WasAccurate, "previous", profile.Score, "updated", updated)
	return &Adjustment{
		PreviousScore: profile.Score,
		Adjustment:    adj,
		UpdatedScore:  updated,
	}, nil
}

// Returns nil for users who have never reported anything.
func (s *Scorer) Get(ctx context.Context, userID string) (*models.ReporterCredibility, error) {
	return s.store.Get(ctx, userID)
}

func (s *Scorer) Events(ctx context.Context, userID string, limit int) ([]models.CredibilityEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return s.store.Events(ctx, userID, limit)
}

// Normalized [0,1] trust. Users without a profile get the starting score.
func (s *Scorer) TrustWeight(ctx context.Context, userID string) (float64, error) {
	rc, err := s.store.Get(ctx, userID)
	if err != nil {
		return 0, err
	}
	if rc == nil {
		return InitialScore / MaxScore, nil
	}
	return clampScore(rc.Score) / MaxScore, nil
}

const topReportersCacheName = "top-reporters"

// Highest scoring reporters. Served from a short-TTL cache when one is configured, so results may be slightly stale.
func (s *Scorer) TopReporters(ctx context.Context, n int) ([]models.ReporterCredibility, error) {
	if n < 1 || n > MaxTopReporters {
		return nil, moderr.Validation("limit must be within [1,%d]", MaxTopReporters)
	}
	key := fmt.Sprint(n)
	if s.cache != nil {
		cached, ok, err := cachestore.GetJSON[[]models.ReporterCredibility](ctx, s.cache, topReportersCacheName, key)
		if err != nil {
			s.logger.Warn("top reporters cache read failed", "err", err)
		} else if ok {
			return *cached, nil
		}
	}

	out, err := s.store.Top(ctx, n)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := cachestore.SetJSON(ctx, s.cache, topReportersCacheName, key, out); err != nil {
			s.logger.Warn("top reporters cache write failed", "err", err)
		}
	}
	return out, nil
}
