package classifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bluesky-social/modqueue/content"
	"github.com/bluesky-social/modqueue/moderr"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// upstream stub which always answers with the given result, counting calls
func stubServer(t *testing.T, status int, result moderationResult) (*httptest.Server, *atomic.Int64) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req moderationRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		json.NewEncoder(w).Encode(moderationResponse{Results: []moderationResult{result}})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func floatPtr(f float64) *float64 {
	return &f
}

func TestSensitivityOverride(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	srv, calls := stubServer(t, http.StatusOK, moderationResult{
		Flagged:        false,
		Categories:     map[string]bool{"hate": false, "spam": false},
		CategoryScores: map[string]float64{"hate": 0.65, "spam": 0.1},
	})
	a := NewAdapter(NewHTTPUpstream(srv.Client(), srv.URL, "secret"), nil, DefaultConfig(), nil)

	v, err := a.Classify(ctx, "some borderline text", content.TypeComment, Options{SensitivityLevel: floatPtr(0.6)})
	require.NoError(t, err)
	assert.True(v.Flagged)
	assert.Equal(0.65, v.ConfidenceScore)
	assert.Equal(SourceUpstream, v.Source)

	// without an override, the upstream verdict stands
	v, err = a.Classify(ctx, "some borderline text", content.TypeComment, Options{})
	require.NoError(t, err)
	assert.False(v.Flagged)

	// a stricter caller threshold is not reached
	v, err = a.Classify(ctx, "some borderline text", content.TypeComment, Options{SensitivityLevel: floatPtr(0.7)})
	require.NoError(t, err)
	assert.False(v.Flagged)
	assert.Equal(int64(3), calls.Load())
}

func TestDefaultSensitivity(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	srv, _ := stubServer(t, http.StatusOK, moderationResult{
		Flagged:        true,
		CategoryScores: map[string]float64{"violence": 0.4},
	})
	cfg := DefaultConfig()
	cfg.DefaultSensitivity = 0.5
	a := NewAdapter(NewHTTPUpstream(srv.Client(), srv.URL, "secret"), nil, cfg, nil)

	v, err := a.Classify(ctx, "text", content.TypePost, Options{})
	assert.NoError(err)
	assert.False(v.Flagged)
	assert.Equal(0.4, v.ConfidenceScore)
}

func TestEmptyContentSkipsUpstream(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	srv, calls := stubServer(t, http.StatusOK, moderationResult{Flagged: true})
	a := NewAdapter(NewHTTPUpstream(srv.Client(), srv.URL, "secret"), nil, DefaultConfig(), nil)

	for _, text := range []string{"", "   ", "\n\t"} {
		v, err := a.Classify(ctx, text, content.TypePost, Options{SensitivityLevel: floatPtr(0)})
		assert.NoError(err)
		assert.False(v.Flagged)
		assert.Equal(0.0, v.ConfidenceScore)
		assert.Equal(SourceEmpty, v.Source)
	}
	assert.Equal(int64(0), calls.Load())
}

func TestInvalidSensitivity(t *testing.T) {
	assert := assert.New(t)
	a := NewAdapter(nil, nil, DefaultConfig(), nil)

	_, err := a.Classify(context.Background(), "text", content.TypePost, Options{SensitivityLevel: floatPtr(1.5)})
	assert.ErrorIs(err, moderr.ErrValidation)
}

func TestUpstreamFailure(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	srv, _ := stubServer(t, http.StatusInternalServerError, moderationResult{})
	upstream := NewHTTPUpstream(srv.Client(), srv.URL, "secret")

	fallbacks := func() float64 {
		return promtestutil.ToFloat64(classifierFallbacks.WithLabelValues(string(content.TypeListing)))
	}
	before := fallbacks()

	cfg := DefaultConfig()
	cfg.Fallback = false
	strict := NewAdapter(upstream, nil, cfg, nil)
	_, err := strict.Classify(ctx, "click here for free money", content.TypeListing, Options{})
	assert.ErrorIs(err, moderr.ErrClassifierUnavailable)
	assert.Equal(moderr.KindClassifierUnavailable, moderr.KindOf(err))
	// refusing is not a fallback
	assert.Equal(before, fallbacks())

	cfg.Fallback = true
	lenient := NewAdapter(upstream, nil, cfg, nil)
	v, err := lenient.Classify(ctx, "click here for free money", content.TypeListing, Options{})
	assert.NoError(err)
	assert.Equal(SourceHeuristic, v.Source)
	assert.True(v.Flagged)
	assert.True(v.Categories["spam"])
	assert.InDelta(0.75, v.CategoryScores["spam"], 0.0001)
	assert.Equal(before+1, fallbacks())
}

func TestUpstreamTimeout(t *testing.T) {
	assert := assert.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	cfg := Config{Timeout: 50 * time.Millisecond, Fallback: false}
	a := NewAdapter(NewHTTPUpstream(srv.Client(), srv.URL, ""), nil, cfg, nil)
	_, err := a.Classify(context.Background(), "hello", content.TypeMessage, Options{})
	assert.ErrorIs(err, moderr.ErrClassifierUnavailable)
}

func TestMergeResults(t *testing.T) {
	assert := assert.New(t)

	resp := moderationResponse{Results: []moderationResult{
		{Flagged: false, CategoryScores: map[string]float64{"Hate": 0.2, "spam": 0.9}},
		{Flagged: true, Categories: map[string]bool{"hate": true}, CategoryScores: map[string]float64{"hate": 0.7}},
	}}
	out := resp.merge()
	assert.True(out.Flagged)
	assert.True(out.Categories["hate"])
	assert.Equal(0.7, out.CategoryScores["hate"])
	assert.Equal(0.9, out.CategoryScores["spam"])
}

func TestHeuristic(t *testing.T) {
	assert := assert.New(t)

	h := NewHeuristic(DefaultHeuristicCategories)
	res := h.Evaluate("Hello there, nice weather today")
	assert.False(res.Flagged)
	assert.Equal(0.0, res.CategoryScores["scam"])

	res = h.Evaluate("Please pay with a GIFT CARD or wire transfer")
	assert.True(res.Flagged)
	assert.True(res.Categories["scam"])
	assert.InDelta(0.75, res.CategoryScores["scam"], 0.0001)
	assert.False(res.Categories["spam"])

	res = h.Evaluate("pay by w-i-r-e t.r.a.n.s.f.e.r")
	assert.True(res.Categories["scam"])
	assert.InDelta(heuristicBase, res.CategoryScores["scam"], 0.0001)
}
