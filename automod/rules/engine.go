// Deterministic policy rules evaluated against raw content at submission time.
//
// Rules are configured per content type (see ConfigStore): a list of blocked keywords or phrases, a threshold above which content is rejected outright, and priority hints. Evaluation has no side effects.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/bluesky-social/modqueue/automod/keyword"
	"github.com/bluesky-social/modqueue/content"
	"github.com/bluesky-social/modqueue/models"
)

// Free-form submission metadata. Known keys are read with typed helpers.
type Metadata map[string]any

const MetaReportCount = "reportCount"

// Number of user reports against the content, if supplied. Accepts JSON numbers and numeric strings.
func (m Metadata) ReportCount() int {
	switch v := m[MetaReportCount].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return 0
}

type Result struct {
	Priority    models.Priority
	AutoAction  *models.Action
	AutoFlagged bool
	// nil when the engine has no opinion on status
	Status  *models.QueueStatus
	Reason  string
	Matched []string
}

type Engine struct {
	Configs ConfigStore
	Logger  *slog.Logger
}

func NewEngine(configs ConfigStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Configs: configs,
		Logger:  logger.With("component", "rules"),
	}
}

func (e *Engine) Evaluate(ctx context.Context, ct content.Type, text string, meta Metadata) (*Result, error) {
	cfg, err := e.Configs.Get(ctx, ct)
	if err != nil {
		return nil, err
	}

	if !cfg.Enabled {
		rulesOutcomeCount.WithLabelValues(string(ct), "bypass").Inc()
		return &Result{Priority: models.PriorityNormal}, nil
	}

	matched := keyword.NewMatcher(cfg.BlockedKeywords).MatchAll(text)
	res := &Result{
		Priority: cfg.BasePriority,
		Matched:  matched,
	}

	outcome := "clean"
	switch {
	case len(matched) > cfg.AutoRejectThreshold:
		action := models.ActionReject
		status := models.StatusAutoRejected
		res.AutoAction = &action
		res.Status = &status
		res.AutoFlagged = true
		res.Priority = models.MaxPriority(res.Priority, models.PriorityHigh)
		res.Reason = fmt.Sprintf("matched %d blocked terms (threshold %d)", len(matched), cfg.AutoRejectThreshold)
		outcome = "reject"
	case len(matched) > 0:
		status := models.StatusNeedsReview
		res.Status = &status
		res.AutoFlagged = true
		res.Priority = models.MaxPriority(res.Priority, models.PriorityHigh)
		res.Reason = fmt.Sprintf("matched %d blocked terms", len(matched))
		outcome = "flag"
	}

	if cfg.EscalateReportCount > 0 && meta.ReportCount() >= cfg.EscalateReportCount {
		res.Priority = models.PriorityUrgent
	}

	rulesOutcomeCount.WithLabelValues(string(ct), outcome).Inc()
	if len(matched) > 0 {
		e.Logger.Debug("blocked terms matched", "contentType", ct, "matched", matched, "outcome", outcome)
	}
	return res, nil
}
