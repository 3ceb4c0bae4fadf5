package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bluesky-social/modqueue/automod/classifier"
	"github.com/bluesky-social/modqueue/automod/countstore"
	"github.com/bluesky-social/modqueue/automod/rules"
	"github.com/bluesky-social/modqueue/content"
	"github.com/bluesky-social/modqueue/models"
	"github.com/bluesky-social/modqueue/moderr"
	"github.com/bluesky-social/modqueue/notify"
	"github.com/bluesky-social/modqueue/token"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

type SubmitRequest struct {
	ContentType content.Type
	ContentID   string
	Reason      string
	// optional hint; the merged verdict may raise it
	Priority *models.Priority
	// fetched through the content registry when empty
	Content          string
	Metadata         rules.Metadata
	ReporterID       *string
	OwnerID          *string
	SensitivityLevel *float64
}

type SubmitResult struct {
	Item            *models.QueueItem
	AlreadyQueued   bool
	ModerationToken *models.ModerationToken
}

// counter names
const (
	CounterSubmissions = "submissions"
	CounterOutcomes    = "outcomes"
	CounterReporters   = "reporters"
)

func (req *SubmitRequest) validate() error {
	if !req.ContentType.Valid() {
		return moderr.Validation("unknown content type: %q", req.ContentType)
	}
	if strings.TrimSpace(req.ContentID) == "" {
		return moderr.Validation("contentId is required")
	}
	if req.Priority != nil && !req.Priority.Valid() {
		return moderr.Validation("invalid priority: %d", *req.Priority)
	}
	if req.SensitivityLevel != nil && (*req.SensitivityLevel < 0 || *req.SensitivityLevel > 1) {
		return moderr.Validation("sensitivityLevel must be within [0,1]")
	}
	if req.ReporterID != nil && strings.TrimSpace(*req.ReporterID) == "" {
		req.ReporterID = nil
	}
	return nil
}

// merged outcome of classifier and rules
type decision struct {
	status   models.QueueStatus
	priority models.Priority
	action   *models.Action
	flagged  bool
	notes    string
}

func (s *Service) decide(req *SubmitRequest, verdict *classifier.Verdict, rr *rules.Result) decision {
	d := decision{
		status:   models.StatusPending,
		priority: rr.Priority,
		flagged:  rr.AutoFlagged || verdict.Flagged,
	}
	if req.Priority != nil {
		d.priority = models.MaxPriority(d.priority, *req.Priority)
	}

	cfg := s.Config
	switch {
	case rr.AutoAction != nil:
		// rules engine auto action takes precedence
		d.action = rr.AutoAction
		d.status = models.StatusAutoRejected
		if rr.Status != nil {
			d.status = *rr.Status
		}
		d.notes = rr.Reason
	case verdict.Flagged && cfg.AutoRejectConfidence > 0 && verdict.ConfidenceScore >= cfg.AutoRejectConfidence:
		action := models.ActionReject
		d.action = &action
		d.status = models.StatusAutoRejected
		d.notes = fmt.Sprintf("classifier confidence %.2f", verdict.ConfidenceScore)
	case verdict.Flagged:
		d.status = models.StatusNeedsReview
		d.priority = models.MaxPriority(d.priority, models.PriorityHigh)
	case rr.AutoFlagged:
		d.status = models.StatusNeedsReview
	case cfg.AutoApprove && req.ReporterID == nil && verdict.ConfidenceScore <= cfg.AutoApproveBelow:
		action := models.ActionApprove
		d.action = &action
		d.status = models.StatusAutoApproved
		d.notes = fmt.Sprintf("classifier confidence %.2f", verdict.ConfidenceScore)
	}
	return d
}

func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	ref := content.Ref{Type: req.ContentType, ID: req.ContentID}
	logger := s.logger().With("content", ref.String())

	ctx, span := tracer.Start(ctx, "Submit", trace.WithAttributes(attribute.String("content", ref.String())))
	defer span.End()

	existing, err := s.Store.FindOpen(ctx, string(ref.Type), ref.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		// a report against an open item still counts towards escalation
		s.countReporter(ctx, ref, req.ReporterID)
		submissionsTotal.WithLabelValues(string(ref.Type), "already-queued").Inc()
		return &SubmitResult{Item: existing, AlreadyQueued: true}, nil
	}

	text := req.Content
	if strings.TrimSpace(text) == "" && s.Content != nil && s.Content.HasFetcher(ref.Type) {
		text, err = s.Content.Fetch(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("fetching content for moderation: %w", err)
		}
	}

	meta := s.metadata(ctx, ref, req.Metadata, req.ReporterID)

	var verdict *classifier.Verdict
	var rr *rules.Result
	// both are read-only; neither holds anything exclusive while waiting
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := s.Classifier.Classify(gctx, text, ref.Type, classifier.Options{SensitivityLevel: req.SensitivityLevel})
		verdict = v
		return err
	})
	g.Go(func() error {
		r, err := s.Rules.Evaluate(gctx, ref.Type, text, meta)
		rr = r
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	d := s.decide(&req, verdict, rr)

	trusted := false
	if req.ReporterID != nil && s.Credibility != nil {
		if _, err := s.Credibility.EnsureProfile(ctx, *req.ReporterID); err != nil {
			logger.Warn("failed to create reporter profile", "reporter", *req.ReporterID, "err", err)
		}
		if s.Config.TrustedReporterWeight > 0 && !d.status.Terminal() {
			w, err := s.Credibility.TrustWeight(ctx, *req.ReporterID)
			if err != nil {
				logger.Warn("failed to load reporter trust weight", "reporter", *req.ReporterID, "err", err)
			} else if w >= s.Config.TrustedReporterWeight {
				d.priority = d.priority.Bump()
				trusted = true
			}
		}
	}

	now := s.now()
	confidence := verdict.ConfidenceScore
	item := &models.QueueItem{
		ContentType:     string(ref.Type),
		ContentID:       ref.ID,
		Status:          d.status,
		Priority:        d.priority,
		ReporterID:      req.ReporterID,
		OwnerID:         req.OwnerID,
		AutoFlagged:     d.flagged,
		ConfidenceScore: &confidence,
		ActionTaken:     d.action,
		Reason:          req.Reason,
		CreatedAt:       now,
	}
	var hist *models.HistoryEntry
	if d.status.Terminal() {
		item.ResolvedAt = &now
		item.Notes = d.notes
		hist = &models.HistoryEntry{
			Status:    d.status,
			Action:    d.action,
			Notes:     d.notes,
			CreatedAt: now,
		}
	} else {
		item.OpenKey = openKey(ref)
	}

	if err := s.Store.Create(ctx, item, hist); err != nil {
		if errors.Is(err, ErrOpenItemExists) {
			// lost a race with a concurrent submission of the same content
			winner, ferr := s.Store.FindOpen(ctx, string(ref.Type), ref.ID)
			if ferr != nil {
				return nil, ferr
			}
			if winner != nil {
				s.countReporter(ctx, ref, req.ReporterID)
				submissionsTotal.WithLabelValues(string(ref.Type), "already-queued").Inc()
				return &SubmitResult{Item: winner, AlreadyQueued: true}, nil
			}
		}
		return nil, err
	}
	s.countReporter(ctx, ref, req.ReporterID)
	submissionsTotal.WithLabelValues(string(ref.Type), string(item.Status)).Inc()
	logger.Info("queued content", "item", item.ID, "status", item.Status, "priority", item.Priority, "autoFlagged", item.AutoFlagged, "confidence", confidence)

	s.recordModeratedContent(ctx, item, text)
	s.recordFlags(ctx, ref, verdict, rr, trusted)
	s.bumpCounters(ctx, ref, item.Status)

	if item.Status == models.StatusAutoRejected {
		s.applyContentAction(ctx, item, models.ActionHide, d.notes, nil)
		s.notify(ctx, notify.Message{
			Kind:    notify.KindAutoRejected,
			Subject: "auto-rejected " + ref.String(),
			Body:    d.notes,
			Fields:  map[string]string{"item": fmt.Sprint(item.ID), "content": ref.String()},
		})
	} else if item.Status == models.StatusNeedsReview && item.Priority == models.PriorityUrgent {
		s.notify(ctx, notify.Message{
			Kind:    notify.KindNeedsReview,
			Subject: "urgent review needed for " + ref.String(),
			Fields:  map[string]string{"item": fmt.Sprint(item.ID), "content": ref.String()},
		})
	}

	result := &SubmitResult{Item: item}
	if s.Tokens != nil && (item.Status == models.StatusAutoRejected || item.Status == models.StatusNeedsReview) {
		treq := token.IssueRequest{
			ContentType: ref.Type,
			ContentID:   ref.ID,
			TTL:         s.Config.TokenTTL,
			Reason:      fmt.Sprintf("queue item %d %s", item.ID, strings.ToLower(string(item.Status))),
		}
		if s.Config.TokenMaxUses > 0 {
			n := s.Config.TokenMaxUses
			treq.MaxUses = &n
		}
		tok, err := s.Tokens.Issue(ctx, treq)
		if err != nil {
			// the item is committed; a missing token is not worth failing the submission over
			logger.Error("failed to issue moderation token", "item", item.ID, "err", err)
		} else {
			result.ModerationToken = tok
		}
	}
	return result, nil
}

// Records reporterID as a distinct reporter of ref. Only called once the report has been accepted.
func (s *Service) countReporter(ctx context.Context, ref content.Ref, reporterID *string) {
	if reporterID == nil || s.Counters == nil {
		return
	}
	if err := s.Counters.IncrementDistinct(ctx, CounterReporters, ref.String(), *reporterID); err != nil {
		s.logger().Warn("failed to count reporter", "content", ref.String(), "err", err)
	}
}

// Copies caller metadata, filling in the distinct reporter count when it is larger than what the caller claimed. The current reporter is included without being recorded yet.
func (s *Service) metadata(ctx context.Context, ref content.Ref, in rules.Metadata, reporterID *string) rules.Metadata {
	meta := make(rules.Metadata, len(in)+1)
	for k, v := range in {
		meta[k] = v
	}
	if s.Counters == nil {
		return meta
	}
	var n int
	var err error
	if reporterID != nil {
		n, err = s.Counters.GetCountDistinctWith(ctx, CounterReporters, ref.String(), countstore.PeriodTotal, *reporterID)
	} else {
		n, err = s.Counters.GetCountDistinct(ctx, CounterReporters, ref.String(), countstore.PeriodTotal)
	}
	if err != nil {
		s.logger().Warn("failed to read reporter count", "content", ref.String(), "err", err)
		return meta
	}
	if n > meta.ReportCount() {
		meta[rules.MetaReportCount] = n
	}
	return meta
}

func (s *Service) recordModeratedContent(ctx context.Context, item *models.QueueItem, text string) {
	mc := &models.ModeratedContent{
		ContentType:     item.ContentType,
		ContentID:       item.ContentID,
		OriginalContent: text,
		Status:          item.Status,
		ClassifierScore: item.ConfidenceScore,
		OwnerID:         item.OwnerID,
	}
	// The original snapshot and owner are only taken on first insert. A re-report must not mask an earlier decision, so only a terminal outcome moves the status.
	cols := []string{"classifier_score"}
	if item.Status.Terminal() {
		cols = append(cols, "status")
	}
	if err := s.Store.UpsertModeratedContent(ctx, mc, cols...); err != nil {
		s.logger().Error("failed to record moderated content", "item", item.ID, "err", err)
	}
}

func (s *Service) recordFlags(ctx context.Context, ref content.Ref, verdict *classifier.Verdict, rr *rules.Result, trusted bool) {
	if s.Flags == nil {
		return
	}
	var flags []string
	for _, kw := range rr.Matched {
		flags = append(flags, "keyword:"+kw)
	}
	for cat, flagged := range verdict.Categories {
		if flagged {
			flags = append(flags, "classifier:"+cat)
		}
	}
	if verdict.Source == classifier.SourceHeuristic {
		flags = append(flags, "classifier-fallback")
	}
	if trusted {
		flags = append(flags, "trusted-reporter")
	}
	if err := s.Flags.Add(ctx, ref.String(), flags); err != nil {
		s.logger().Warn("failed to record flags", "content", ref.String(), "err", err)
	}
}

func (s *Service) bumpCounters(ctx context.Context, ref content.Ref, status models.QueueStatus) {
	if s.Counters == nil {
		return
	}
	if err := s.Counters.Increment(ctx, CounterSubmissions, string(ref.Type)); err != nil {
		s.logger().Warn("failed to bump submission counter", "err", err)
	}
	if err := s.Counters.Increment(ctx, CounterOutcomes, string(status)); err != nil {
		s.logger().Warn("failed to bump outcome counter", "err", err)
	}
}
