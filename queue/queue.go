// Queue State Machine: the moderation pipeline's orchestrator.
//
// Submissions are checked for an existing open item, then run through the classifier and the rules engine in parallel. The merged verdict decides the item's initial status:
//
//	PENDING -> IN_REVIEW -> {APPROVED, REJECTED}
//	submission -> AUTO_APPROVED | AUTO_REJECTED | NEEDS_REVIEW | PENDING
//
// NEEDS_REVIEW is assignable like PENDING. Terminal statuses never change again. Every transition writes a history entry, except plain (non-automated) creation.
package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/bluesky-social/modqueue/automod/cachestore"
	"github.com/bluesky-social/modqueue/automod/classifier"
	"github.com/bluesky-social/modqueue/automod/countstore"
	"github.com/bluesky-social/modqueue/automod/flagstore"
	"github.com/bluesky-social/modqueue/automod/rules"
	"github.com/bluesky-social/modqueue/content"
	"github.com/bluesky-social/modqueue/credibility"
	"github.com/bluesky-social/modqueue/models"
	"github.com/bluesky-social/modqueue/moderr"
	"github.com/bluesky-social/modqueue/notify"
	"github.com/bluesky-social/modqueue/token"
)

var ErrNoLongerAvailable = moderr.Conflict("queue item is no longer available")

type Classifier interface {
	Classify(ctx context.Context, text string, ct content.Type, opts classifier.Options) (*classifier.Verdict, error)
}

type RulesEvaluator interface {
	Evaluate(ctx context.Context, ct content.Type, text string, meta rules.Metadata) (*rules.Result, error)
}

type TokenIssuer interface {
	Issue(ctx context.Context, req token.IssueRequest) (*models.ModerationToken, error)
}

type CredibilityScorer interface {
	EnsureProfile(ctx context.Context, userID string) (*models.ReporterCredibility, error)
	TrustWeight(ctx context.Context, userID string) (float64, error)
	RecordOutcome(ctx context.Context, o credibility.Outcome) (*credibility.Adjustment, error)
}

type Config struct {
	// Classifier-flagged content at or above this confidence is rejected outright. Zero disables.
	AutoRejectConfidence float64
	// Unreported, unflagged content at or below AutoApproveBelow confidence is approved without review.
	AutoApprove      bool
	AutoApproveBelow float64
	// Reports from users whose trust weight is at or above this are bumped one priority level. Zero disables.
	TrustedReporterWeight float64
	// Tokens issued for flagged or rejected content. Zero values fall back to the token service defaults.
	TokenTTL     time.Duration
	TokenMaxUses int
	// Number of lost races ClaimNext tolerates before giving up.
	ClaimNextAttempts int
}

func DefaultConfig() Config {
	return Config{
		AutoRejectConfidence:  0.95,
		TrustedReporterWeight: 0.8,
		ClaimNextAttempts:     3,
	}
}

// Queue service. Store, Classifier, Rules, and Content are required; the rest are optional and skipped when nil.
type Service struct {
	Store       Store
	Classifier  Classifier
	Rules       RulesEvaluator
	Content     *content.Registry
	Tokens      TokenIssuer
	Credibility CredibilityScorer
	Flags       flagstore.FlagStore
	Counters    countstore.CountStore
	Cache       cachestore.CacheStore
	Notifier    notify.Notifier
	Ranker      Ranker
	Config      Config
	Logger      *slog.Logger

	// clock, overridable in tests
	Now func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Service) ranker() Ranker {
	if s.Ranker != nil {
		return s.Ranker
	}
	return PriorityNewest
}

func refOf(item *models.QueueItem) content.Ref {
	return content.Ref{Type: content.Type(item.ContentType), ID: item.ContentID}
}

func openKey(ref content.Ref) *string {
	k := ref.String()
	return &k
}

func (s *Service) notify(ctx context.Context, msg notify.Message) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.Notify(ctx, msg); err != nil {
		s.logger().Warn("notification failed", "kind", msg.Kind, "err", err)
	}
}
