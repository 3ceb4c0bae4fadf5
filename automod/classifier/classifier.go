// Classifier Adapter: calls an external text classification service, normalizes its category/score output, and applies a sensitivity threshold to produce a flagged/clean verdict.
//
// When the upstream service fails (network error, timeout, non-2xx), the adapter either falls back to a local keyword heuristic or reports a ClassifierUnavailable error, depending on configuration.
package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bluesky-social/modqueue/content"
	"github.com/bluesky-social/modqueue/moderr"

	"golang.org/x/time/rate"
)

const (
	SourceEmpty     = "empty"
	SourceUpstream  = "upstream"
	SourceHeuristic = "heuristic"
)

type Verdict struct {
	Flagged         bool               `json:"flagged"`
	ConfidenceScore float64            `json:"confidenceScore"`
	Categories      map[string]bool    `json:"categories"`
	CategoryScores  map[string]float64 `json:"categoryScores"`
	// which classifier produced the verdict
	Source string `json:"source"`
}

// Per-call options.
type Options struct {
	// When set (in [0,1]), content is flagged iff the highest category score is at or above this level, ignoring the upstream flagged boolean.
	SensitivityLevel *float64
}

// Raw output from a classification service, before thresholds are applied.
type UpstreamResult struct {
	Flagged        bool
	Categories     map[string]bool
	CategoryScores map[string]float64
}

type Upstream interface {
	Classify(ctx context.Context, text string) (*UpstreamResult, error)
}

type Config struct {
	// Upper bound on a single upstream call, including rate limiter wait.
	Timeout time.Duration
	// Use the keyword heuristic when upstream fails.
	Fallback bool
	// Applied like Options.SensitivityLevel when the caller supplies none. Zero means "trust upstream flagged".
	DefaultSensitivity float64
	// Upstream requests per second; zero disables limiting.
	RateLimit float64
}

func DefaultConfig() Config {
	return Config{
		Timeout:  10 * time.Second,
		Fallback: true,
	}
}

type Adapter struct {
	upstream  Upstream
	heuristic *Heuristic
	limiter   *rate.Limiter
	config    Config
	logger    *slog.Logger
}

// upstream may be nil, in which case every non-empty call takes the failure path.
func NewAdapter(upstream Upstream, heuristic *Heuristic, config Config, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if heuristic == nil {
		heuristic = NewHeuristic(DefaultHeuristicCategories)
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	a := &Adapter{
		upstream:  upstream,
		heuristic: heuristic,
		config:    config,
		logger:    logger.With("component", "classifier"),
	}
	if config.RateLimit > 0 {
		a.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}
	return a
}

func (a *Adapter) Classify(ctx context.Context, text string, ct content.Type, opts Options) (*Verdict, error) {
	if opts.SensitivityLevel != nil {
		lvl := *opts.SensitivityLevel
		if lvl < 0 || lvl > 1 {
			return nil, moderr.Validation("sensitivityLevel must be within [0,1], got %v", lvl)
		}
	}

	if strings.TrimSpace(text) == "" {
		return &Verdict{
			Categories:     map[string]bool{},
			CategoryScores: map[string]float64{},
			Source:         SourceEmpty,
		}, nil
	}

	res, err := a.callUpstream(ctx, text)
	source := SourceUpstream
	if err != nil {
		if !a.config.Fallback {
			a.logger.Warn("classifier upstream failed", "contentType", ct, "err", err)
			return nil, moderr.ClassifierUnavailable(err)
		}
		a.logger.Warn("classifier upstream failed, using heuristic", "contentType", ct, "err", err)
		classifierFallbacks.WithLabelValues(string(ct)).Inc()
		res = a.heuristic.Evaluate(text)
		source = SourceHeuristic
	}

	return a.verdict(res, opts, source), nil
}

func (a *Adapter) callUpstream(ctx context.Context, text string) (*UpstreamResult, error) {
	if a.upstream == nil {
		return nil, fmt.Errorf("no classifier upstream configured")
	}
	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for classifier rate limit: %w", err)
		}
	}
	return a.upstream.Classify(ctx, text)
}

func (a *Adapter) verdict(res *UpstreamResult, opts Options, source string) *Verdict {
	v := &Verdict{
		Categories:     make(map[string]bool, len(res.Categories)),
		CategoryScores: make(map[string]float64, len(res.CategoryScores)),
		Source:         source,
	}
	maxScore := 0.0
	for cat, score := range res.CategoryScores {
		score = clamp01(score)
		v.CategoryScores[cat] = score
		if score > maxScore {
			maxScore = score
		}
	}
	for cat, flagged := range res.Categories {
		v.Categories[cat] = flagged
	}
	v.ConfidenceScore = maxScore

	switch {
	case opts.SensitivityLevel != nil:
		v.Flagged = maxScore >= *opts.SensitivityLevel
	case a.config.DefaultSensitivity > 0:
		v.Flagged = maxScore >= a.config.DefaultSensitivity
	default:
		v.Flagged = res.Flagged
	}
	return v
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
