package rules

import (
	"context"
	"testing"
	"time"

	"github.com/bluesky-social/modqueue/automod/cachestore"
	"github.com/bluesky-social/modqueue/content"
	"github.com/bluesky-social/modqueue/internal/testutil"
	"github.com/bluesky-social/modqueue/models"
	"github.com/bluesky-social/modqueue/moderr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEngine(t *testing.T) (*Engine, ConfigStore) {
	db := testutil.TestDB(t)
	store := NewCachedConfigStore(NewGormConfigStore(db), cachestore.NewMemCacheStore(100, time.Minute), nil)
	return NewEngine(store, nil), store
}

func TestEvaluateThresholds(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, store := testEngine(t)

	_, err := store.Set(ctx, &models.RuleConfig{
		ContentType:         "COMMENT",
		Enabled:             true,
		BlockedKeywords:     []string{"scam", "Crypto Giveaway", "spam"},
		AutoRejectThreshold: 1,
		BasePriority:        models.PriorityNormal,
	})
	require.NoError(t, err)

	// two matches exceed a threshold of one
	res, err := eng.Evaluate(ctx, content.TypeComment, "Huge CRYPTO giveaway, totally not a scam", nil)
	require.NoError(t, err)
	assert.True(res.AutoFlagged)
	require.NotNil(t, res.AutoAction)
	assert.Equal(models.ActionReject, *res.AutoAction)
	require.NotNil(t, res.Status)
	assert.Equal(models.StatusAutoRejected, *res.Status)
	assert.Equal([]string{"scam", "Crypto Giveaway"}, res.Matched)

	// exactly at threshold is flagged for review, not rejected
	res, err = eng.Evaluate(ctx, content.TypeComment, "this looks like spam to me", nil)
	require.NoError(t, err)
	assert.True(res.AutoFlagged)
	assert.Nil(res.AutoAction)
	assert.Equal(models.StatusNeedsReview, *res.Status)
	assert.Equal(models.PriorityHigh, res.Priority)

	res, err = eng.Evaluate(ctx, content.TypeComment, "a perfectly nice comment", nil)
	require.NoError(t, err)
	assert.False(res.AutoFlagged)
	assert.Nil(res.AutoAction)
	assert.Nil(res.Status)
	assert.Equal(models.PriorityNormal, res.Priority)
}

func TestEvaluateDiacritics(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, store := testEngine(t)

	_, err := store.Set(ctx, &models.RuleConfig{
		ContentType:         "REVIEW",
		Enabled:             true,
		BlockedKeywords:     []string{"fraude"},
		AutoRejectThreshold: 3,
	})
	require.NoError(t, err)

	res, err := eng.Evaluate(ctx, content.TypeReview, "C'est une FRAUDÉ", nil)
	require.NoError(t, err)
	assert.Equal([]string{"fraude"}, res.Matched)
}

func TestEvaluateObfuscated(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, store := testEngine(t)

	_, err := store.Set(ctx, &models.RuleConfig{
		ContentType:         "COMMENT",
		Enabled:             true,
		BlockedKeywords:     []string{"scam", "fraud"},
		AutoRejectThreshold: 1,
		BasePriority:        models.PriorityNormal,
	})
	require.NoError(t, err)

	res, err := eng.Evaluate(ctx, content.TypeComment, "total s.c.a.m and F R A U D", nil)
	require.NoError(t, err)
	assert.Equal([]string{"scam", "fraud"}, res.Matched)
	require.NotNil(t, res.Status)
	assert.Equal(models.StatusAutoRejected, *res.Status)
}

func TestEvaluateDisabledBypass(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, store := testEngine(t)

	_, err := store.Set(ctx, &models.RuleConfig{
		ContentType:         "POST",
		Enabled:             false,
		BlockedKeywords:     []string{"scam", "fraud"},
		AutoRejectThreshold: 1,
		BasePriority:        models.PriorityUrgent,
		EscalateReportCount: 1,
	})
	require.NoError(t, err)

	res, err := eng.Evaluate(ctx, content.TypePost, "scam fraud scam", Metadata{"reportCount": 10})
	require.NoError(t, err)
	assert.False(res.AutoFlagged)
	assert.Nil(res.AutoAction)
	assert.Nil(res.Status)
	assert.Equal(models.PriorityNormal, res.Priority)
	assert.Empty(res.Matched)
}

func TestEvaluateDefaultConfig(t *testing.T) {
	assert := assert.New(t)
	eng, _ := testEngine(t)

	res, err := eng.Evaluate(context.Background(), content.TypeMessage, "anything goes", nil)
	require.NoError(t, err)
	assert.False(res.AutoFlagged)
	assert.Equal(models.PriorityNormal, res.Priority)
}

func TestEvaluateEscalation(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, store := testEngine(t)

	_, err := store.Set(ctx, &models.RuleConfig{
		ContentType:         "LISTING",
		Enabled:             true,
		AutoRejectThreshold: 1,
		BasePriority:        models.PriorityLow,
		EscalateReportCount: 5,
	})
	require.NoError(t, err)

	res, err := eng.Evaluate(ctx, content.TypeListing, "bike for sale", Metadata{"reportCount": float64(4)})
	require.NoError(t, err)
	assert.Equal(models.PriorityLow, res.Priority)

	res, err = eng.Evaluate(ctx, content.TypeListing, "bike for sale", Metadata{"reportCount": "5"})
	require.NoError(t, err)
	assert.Equal(models.PriorityUrgent, res.Priority)
}

func TestEvaluateDeterministic(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, store := testEngine(t)

	_, err := store.Set(ctx, &models.RuleConfig{
		ContentType:         "POST",
		Enabled:             true,
		BlockedKeywords:     []string{"alpha", "beta", "gamma"},
		AutoRejectThreshold: 2,
	})
	require.NoError(t, err)

	first, err := eng.Evaluate(ctx, content.TypePost, "gamma beta alpha", nil)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := eng.Evaluate(ctx, content.TypePost, "gamma beta alpha", nil)
		require.NoError(t, err)
		assert.Equal(first, again)
	}
}

func TestConfigStoreSet(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	_, store := testEngine(t)

	_, err := store.Set(ctx, &models.RuleConfig{ContentType: "POST", Enabled: true, AutoRejectThreshold: 0})
	assert.ErrorIs(err, moderr.ErrValidation)

	_, err = store.Set(ctx, &models.RuleConfig{ContentType: "BLOG", Enabled: true, AutoRejectThreshold: 1})
	assert.ErrorIs(err, moderr.ErrValidation)

	cfg, err := store.Set(ctx, &models.RuleConfig{
		ContentType:         "post",
		Enabled:             true,
		BlockedKeywords:     []string{" scam ", "", "SCAM", "fraud"},
		AutoRejectThreshold: 2,
	})
	require.NoError(t, err)
	assert.Equal("POST", cfg.ContentType)
	assert.Equal([]string{"scam", "fraud"}, cfg.BlockedKeywords)

	// prime the cache, then overwrite: the cached copy must be purged
	got, err := store.Get(ctx, content.TypePost)
	require.NoError(t, err)
	assert.Equal(2, got.AutoRejectThreshold)

	_, err = store.Set(ctx, &models.RuleConfig{ContentType: "POST", Enabled: false, AutoRejectThreshold: 4})
	require.NoError(t, err)
	got, err = store.Get(ctx, content.TypePost)
	require.NoError(t, err)
	assert.False(got.Enabled)
	assert.Equal(4, got.AutoRejectThreshold)
	assert.Empty(got.BlockedKeywords)
}

func TestMetadataReportCount(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(0, Metadata(nil).ReportCount())
	assert.Equal(3, Metadata{"reportCount": 3}.ReportCount())
	assert.Equal(7, Metadata{"reportCount": float64(7)}.ReportCount())
	assert.Equal(0, Metadata{"reportCount": "many"}.ReportCount())
}
