// Appeals Workflow: content owners contest moderation decisions, and moderators rule on them.
//
// A moderated content record carries at most one PENDING appeal at a time, enforced by a unique PendingKey column. Deciding an appeal is a one-shot conditional update; an APPROVED appeal restores the content, a REJECTED one leaves it moderated. Either way the owner gets a notification.
package appeals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bluesky-social/modqueue/authz"
	"github.com/bluesky-social/modqueue/content"
	"github.com/bluesky-social/modqueue/credibility"
	"github.com/bluesky-social/modqueue/models"
	"github.com/bluesky-social/modqueue/moderr"
	"github.com/bluesky-social/modqueue/notify"
	"github.com/bluesky-social/modqueue/token"
)

// Whether an appeal decision feeds back into reporter credibility.
type CredibilityPolicy string

const (
	// Only the reporter of the queue item that made the decision, if it came from a report.
	PolicyReportOnly CredibilityPolicy = "report-only"
	// Every user who ever reported the content.
	PolicyAlways CredibilityPolicy = "always"
	PolicyNever  CredibilityPolicy = "never"
)

func ParseCredibilityPolicy(raw string) (CredibilityPolicy, error) {
	switch p := CredibilityPolicy(strings.ToLower(strings.TrimSpace(raw))); p {
	case PolicyReportOnly, PolicyAlways, PolicyNever:
		return p, nil
	}
	return "", fmt.Errorf("unknown appeal credibility policy: %q", raw)
}

const MaxListLimit = 100

type TokenValidator interface {
	Validate(ctx context.Context, raw string) (*token.Validation, error)
}

type CredibilityRecorder interface {
	RecordOutcome(ctx context.Context, o credibility.Outcome) (*credibility.Adjustment, error)
}

// Appeals service. Store is required; the rest are optional.
type Service struct {
	Store       Store
	Tokens      TokenValidator
	Content     *content.Registry
	Credibility CredibilityRecorder
	Notifier    notify.Notifier
	// empty means PolicyReportOnly
	Policy CredibilityPolicy
	Logger *slog.Logger

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

func (s *Service) policy() CredibilityPolicy {
	if s.Policy == "" {
		return PolicyReportOnly
	}
	return s.Policy
}

type FileRequest struct {
	ModeratedContentID uint64
	Reason             string
	AdditionalInfo     *string
}

// Loads the record and runs every check that doesn't depend on how ownership is proven. appellantFor decides who the appeal is filed for, and runs before the pending check so a stranger never learns whether an appeal is open.
func (s *Service) prepare(ctx context.Context, req *FileRequest, appellantFor func(mc *models.ModeratedContent) (string, error)) (*models.ModeratedContent, string, error) {
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		return nil, "", moderr.Validation("reason is required")
	}
	if req.AdditionalInfo != nil && strings.TrimSpace(*req.AdditionalInfo) == "" {
		req.AdditionalInfo = nil
	}

	mc, err := s.Store.GetModeratedContent(ctx, req.ModeratedContentID)
	if err != nil {
		return nil, "", err
	}
	if mc == nil {
		return nil, "", moderr.NotFound("moderated content %d not found", req.ModeratedContentID)
	}
	if !mc.Moderated() {
		return nil, "", moderr.Validation("content is not in a moderated state (status %s)", mc.Status)
	}
	userID, err := appellantFor(mc)
	if err != nil {
		return nil, "", err
	}
	pending, err := s.Store.FindPending(ctx, mc.ID)
	if err != nil {
		return nil, "", err
	}
	if pending != nil {
		return nil, "", moderr.DuplicateAppeal("appeal %d is already pending for this content", pending.ID)
	}
	return mc, userID, nil
}

func (s *Service) create(ctx context.Context, userID string, mc *models.ModeratedContent, req FileRequest, path string) (*models.Appeal, error) {
	key := mc.ID
	appeal := &models.Appeal{
		ModeratedContentID: mc.ID,
		UserID:             userID,
		Reason:             req.Reason,
		AdditionalInfo:     req.AdditionalInfo,
		Status:             models.AppealPending,
		PendingKey:         &key,
		CreatedAt:          s.now(),
	}
	if err := s.Store.Create(ctx, appeal); err != nil {
		if errors.Is(err, ErrPendingExists) {
			return nil, moderr.DuplicateAppeal("an appeal is already pending for this content")
		}
		return nil, err
	}
	appealsFiled.WithLabelValues(path).Inc()
	s.logger().Info("appeal filed", "appeal", appeal.ID, "user", userID, "path", path, "content", mc.ContentType+":"+mc.ContentID)
	return appeal, nil
}

// Opens an appeal against a REJECTED or AUTO_REJECTED record for an authenticated caller. When the record has an owner, only the owner may appeal.
func (s *Service) File(ctx context.Context, caller *authz.Caller, req FileRequest) (*models.Appeal, error) {
	if err := caller.RequireUser(); err != nil {
		return nil, err
	}
	mc, userID, err := s.prepare(ctx, &req, func(mc *models.ModeratedContent) (string, error) {
		if mc.OwnerID != nil && *mc.OwnerID != caller.ID {
			return "", moderr.Forbidden("only the content owner can appeal")
		}
		return caller.ID, nil
	})
	if err != nil {
		return nil, err
	}
	return s.create(ctx, userID, mc, req, "direct")
}

// Opens an appeal on the strength of the moderation token issued for the content; no session is needed. The appeal is filed for the record's owner. A signed-in caller other than the owner is refused, and a record without an owner needs a signed-in caller to appeal for.
//
// One use of the token is consumed once the other checks pass; a token for different content, or one that is no longer usable, is refused.
func (s *Service) FileWithToken(ctx context.Context, caller *authz.Caller, rawToken string, req FileRequest) (*models.Appeal, error) {
	if s.Tokens == nil {
		return nil, moderr.Validation("moderation tokens are not enabled")
	}
	if strings.TrimSpace(rawToken) == "" {
		return nil, moderr.Validation("moderationToken is required")
	}
	signedIn := caller != nil && caller.ID != ""
	mc, userID, err := s.prepare(ctx, &req, func(mc *models.ModeratedContent) (string, error) {
		if mc.OwnerID == nil {
			if !signedIn {
				return "", moderr.Forbidden("content has no recorded owner; sign in to appeal")
			}
			return caller.ID, nil
		}
		if signedIn && caller.ID != *mc.OwnerID {
			return "", moderr.Forbidden("only the content owner can appeal")
		}
		return *mc.OwnerID, nil
	})
	if err != nil {
		return nil, err
	}
	v, err := s.Tokens.Validate(ctx, rawToken)
	if err != nil {
		return nil, err
	}
	if !v.Valid {
		return nil, moderr.Forbidden("moderation token is %s", v.Reason)
	}
	if v.Token.ContentType != mc.ContentType || v.Token.ContentID != mc.ContentID {
		return nil, moderr.Forbidden("moderation token does not match the appealed content")
	}
	return s.create(ctx, userID, mc, req, "token")
}

type Decision struct {
	Status         models.AppealStatus
	ModeratorNotes *string
}

func decisionMessage(st models.AppealStatus) string {
	if st == models.AppealApproved {
		return "Your appeal was approved and your content has been restored."
	}
	return "Your appeal was reviewed and the original moderation decision stands."
}

// Rules on a PENDING appeal. Deciding twice, or racing another moderator, yields a ResolutionConflict.
func (s *Service) Decide(ctx context.Context, caller *authz.Caller, id uint64, d Decision) (*models.Appeal, error) {
	if err := caller.RequireModerator(); err != nil {
		return nil, err
	}
	if !d.Status.Terminal() {
		return nil, moderr.Validation("status must be APPROVED or REJECTED")
	}

	appeal, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if appeal == nil {
		return nil, moderr.NotFound("appeal %d not found", id)
	}
	if appeal.Status.Terminal() {
		return nil, moderr.Conflict("appeal %d is already %s", id, appeal.Status)
	}

	now := s.now()
	upd := DecisionUpdate{
		Status:         d.Status,
		ModeratorID:    caller.ID,
		ModeratorNotes: d.ModeratorNotes,
		ReviewedAt:     now,
		Notification: &models.AppealNotification{
			AppealID:  appeal.ID,
			UserID:    appeal.UserID,
			Status:    d.Status,
			Message:   decisionMessage(d.Status),
			CreatedAt: now,
		},
	}
	if d.Status == models.AppealApproved {
		st := models.StatusApproved
		upd.ContentStatus = &st
	}
	ok, err := s.Store.Decide(ctx, id, upd)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, moderr.Conflict("appeal %d was decided concurrently", id)
	}
	appealDecisions.WithLabelValues(string(d.Status)).Inc()
	s.logger().Info("appeal decided", "appeal", id, "moderator", caller.ID, "status", d.Status)

	appeal.Status = d.Status
	appeal.ModeratorID = &caller.ID
	appeal.ModeratorNotes = d.ModeratorNotes
	appeal.ReviewedAt = &now
	appeal.PendingKey = nil

	mc, err := s.Store.GetModeratedContent(ctx, appeal.ModeratedContentID)
	if err != nil {
		s.logger().Error("failed to load appealed content", "appeal", id, "err", err)
	} else if mc != nil {
		ref := content.Ref{Type: content.Type(mc.ContentType), ID: mc.ContentID}
		if d.Status == models.AppealApproved && s.Content != nil {
			if err := s.Content.ActorFor(ref.Type).Restore(ctx, ref); err != nil {
				s.logger().Error("failed to restore content", "appeal", id, "content", ref.String(), "err", err)
			}
		}
		s.recordCredibility(ctx, appeal, ref)
	}

	if s.Notifier != nil {
		msg := notify.Message{
			Kind:    notify.KindAppealDecision,
			UserID:  appeal.UserID,
			Subject: fmt.Sprintf("appeal %d %s", appeal.ID, strings.ToLower(string(d.Status))),
			Body:    decisionMessage(d.Status),
			Fields:  map[string]string{"appeal": fmt.Sprint(appeal.ID)},
		}
		if err := s.Notifier.Notify(ctx, msg); err != nil {
			s.logger().Warn("appeal notification failed", "appeal", id, "err", err)
		}
	}
	return appeal, nil
}

// A rejected appeal upholds the report; an approved one means the report was wrong.
func (s *Service) recordCredibility(ctx context.Context, appeal *models.Appeal, ref content.Ref) {
	if s.Credibility == nil {
		return
	}
	var reporters []string
	switch s.policy() {
	case PolicyNever:
		return
	case PolicyAlways:
		all, err := s.Store.Reporters(ctx, string(ref.Type), ref.ID)
		if err != nil {
			s.logger().Error("failed to load content reporters", "appeal", appeal.ID, "err", err)
			return
		}
		reporters = all
	default:
		item, err := s.Store.DecidingItem(ctx, string(ref.Type), ref.ID)
		if err != nil {
			s.logger().Error("failed to load deciding queue item", "appeal", appeal.ID, "err", err)
			return
		}
		if item != nil && item.ReporterID != nil {
			reporters = []string{*item.ReporterID}
		}
	}

	for _, r := range reporters {
		_, err := s.Credibility.RecordOutcome(ctx, credibility.Outcome{
			UserID:      r,
			ReportID:    fmt.Sprintf("appeal:%d", appeal.ID),
			WasAccurate: appeal.Status == models.AppealRejected,
			Notes:       "appeal " + strings.ToLower(string(appeal.Status)),
		})
		if err != nil {
			s.logger().Error("failed to record reporter outcome", "appeal", appeal.ID, "reporter", r, "err", err)
		}
	}
}

// Visible to the appellant and to moderators.
func (s *Service) Get(ctx context.Context, caller *authz.Caller, id uint64) (*models.Appeal, error) {
	if err := caller.RequireUser(); err != nil {
		return nil, err
	}
	appeal, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if appeal == nil || (appeal.UserID != caller.ID && !caller.CanModerate) {
		return nil, moderr.NotFound("appeal %d not found", id)
	}
	return appeal, nil
}

// Most recent first.
func (s *Service) ListForUser(ctx context.Context, userID string, limit int) ([]models.Appeal, error) {
	if limit < 1 || limit > MaxListLimit {
		return nil, moderr.Validation("limit must be within [1,%d]", MaxListLimit)
	}
	out, err := s.Store.ListForUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.Appeal{}
	}
	return out, nil
}

func (s *Service) Notifications(ctx context.Context, userID string, unreadOnly bool) ([]models.AppealNotification, error) {
	out, err := s.Store.Notifications(ctx, userID, unreadOnly, MaxListLimit)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.AppealNotification{}
	}
	return out, nil
}

// Flips the notification to read. Only its recipient may do this; marking twice keeps the first ReadAt.
func (s *Service) MarkRead(ctx context.Context, caller *authz.Caller, id uint64) (*models.AppealNotification, error) {
	if err := caller.RequireUser(); err != nil {
		return nil, err
	}
	n, err := s.Store.GetNotification(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, moderr.NotFound("notification %d not found", id)
	}
	if n.UserID != caller.ID {
		return nil, moderr.Forbidden("notification belongs to another user")
	}
	if n.Read {
		return n, nil
	}
	if err := s.Store.MarkRead(ctx, id, s.now()); err != nil {
		return nil, err
	}
	return s.Store.GetNotification(ctx, id)
}
