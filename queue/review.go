package queue

import (
	"context"
	"fmt"

	"github.com/bluesky-social/modqueue/authz"
	"github.com/bluesky-social/modqueue/credibility"
	"github.com/bluesky-social/modqueue/models"
	"github.com/bluesky-social/modqueue/moderr"
)

type ResolveRequest struct {
	Status models.QueueStatus
	// defaults to APPROVE or REJECT, following Status
	Action *models.Action
	Notes  string
	// replacement body, for EDIT
	ContentEdits *string
}

type ResolveResult struct {
	ID          uint64             `json:"id"`
	Status      models.QueueStatus `json:"status"`
	ActionTaken models.Action      `json:"actionTaken"`
}

// actions that are consistent with each resolution
var actionsFor = map[models.QueueStatus]map[models.Action]bool{
	models.StatusApproved: {models.ActionApprove: true, models.ActionEdit: true, models.ActionWarn: true},
	models.StatusRejected: {models.ActionReject: true, models.ActionHide: true, models.ActionDelete: true, models.ActionWarn: true},
}

func (req *ResolveRequest) validate() error {
	if req.Status != models.StatusApproved && req.Status != models.StatusRejected {
		return moderr.Validation("status must be APPROVED or REJECTED")
	}
	if req.Action == nil {
		a := models.ActionApprove
		if req.Status == models.StatusRejected {
			a = models.ActionReject
		}
		req.Action = &a
	}
	if !req.Action.Valid() {
		return moderr.Validation("invalid action: %q", *req.Action)
	}
	if !actionsFor[req.Status][*req.Action] {
		return moderr.Validation("action %s cannot accompany status %s", *req.Action, req.Status)
	}
	if *req.Action == models.ActionEdit && req.ContentEdits == nil {
		return moderr.Validation("contentEdits is required for EDIT")
	}
	return nil
}

// Assigns an unassigned PENDING or NEEDS_REVIEW item to the caller, moving it to IN_REVIEW. Of any number of concurrent claims on one item, exactly one succeeds; the rest get ErrNoLongerAvailable.
func (s *Service) Claim(ctx context.Context, caller *authz.Caller, id uint64) (*models.QueueItem, error) {
	if err := caller.RequireModerator(); err != nil {
		return nil, err
	}
	ok, err := s.Store.Claim(ctx, id, caller.ID, s.now())
	if err != nil {
		return nil, err
	}
	item, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, moderr.NotFound("queue item %d not found", id)
	}
	if !ok {
		claimsTotal.WithLabelValues("lost").Inc()
		return nil, ErrNoLongerAvailable
	}
	claimsTotal.WithLabelValues("claimed").Inc()
	s.logger().Info("claimed queue item", "item", id, "moderator", caller.ID)
	return item, nil
}

// Claims the highest ranked available item matching the filter.
func (s *Service) ClaimNext(ctx context.Context, caller *authz.Caller, filter ListFilter) (*models.QueueItem, error) {
	if err := caller.RequireModerator(); err != nil {
		return nil, err
	}
	filter.Claimable = true
	attempts := s.Config.ClaimNextAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		candidates, _, err := s.Store.List(ctx, filter, s.ranker().Order(), 0, 5)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			return nil, moderr.NotFound("no queue items available")
		}
		for _, c := range candidates {
			ok, err := s.Store.Claim(ctx, c.ID, caller.ID, s.now())
			if err != nil {
				return nil, err
			}
			if ok {
				claimsTotal.WithLabelValues("claimed").Inc()
				s.logger().Info("claimed queue item", "item", c.ID, "moderator", caller.ID)
				return s.Store.Get(ctx, c.ID)
			}
			claimsTotal.WithLabelValues("lost").Inc()
		}
	}
	return nil, ErrNoLongerAvailable
}

// Moves a non-terminal item to APPROVED or REJECTED and runs the action's side effects. Terminal items yield a ResolutionConflict.
func (s *Service) Resolve(ctx context.Context, caller *authz.Caller, id uint64, req ResolveRequest) (*ResolveResult, error) {
	if err := caller.RequireModerator(); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	now := s.now()
	ok, err := s.Store.Resolve(ctx, id, ResolveUpdate{
		Status:      req.Status,
		Action:      *req.Action,
		ModeratorID: caller.ID,
		Notes:       req.Notes,
		ResolvedAt:  now,
	})
	if err != nil {
		return nil, err
	}
	item, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, moderr.NotFound("queue item %d not found", id)
	}
	if !ok {
		return nil, moderr.Conflict("queue item %d is already %s", id, item.Status)
	}
	resolutionsTotal.WithLabelValues(string(req.Status), string(*req.Action)).Inc()
	s.logger().Info("resolved queue item", "item", id, "moderator", caller.ID, "status", req.Status, "action", *req.Action)

	mc := &models.ModeratedContent{
		ContentType:     item.ContentType,
		ContentID:       item.ContentID,
		Status:          item.Status,
		ClassifierScore: item.ConfidenceScore,
		ModeratorID:     &caller.ID,
		ModifiedContent: req.ContentEdits,
		OwnerID:         item.OwnerID,
	}
	cols := []string{"status", "moderator_id"}
	if req.ContentEdits != nil {
		cols = append(cols, "modified_content")
	}
	if err := s.Store.UpsertModeratedContent(ctx, mc, cols...); err != nil {
		s.logger().Error("failed to record moderated content", "item", id, "err", err)
	}
	if s.Counters != nil {
		if err := s.Counters.Increment(ctx, CounterOutcomes, string(item.Status)); err != nil {
			s.logger().Warn("failed to bump outcome counter", "err", err)
		}
	}

	s.applyContentAction(ctx, item, *req.Action, req.Notes, req.ContentEdits)

	if item.ReporterID != nil && s.Credibility != nil {
		// a report is upheld when the reviewer rejects the content
		_, err := s.Credibility.RecordOutcome(ctx, credibility.Outcome{
			UserID:      *item.ReporterID,
			ReportID:    fmt.Sprintf("queue:%d", item.ID),
			WasAccurate: item.Status == models.StatusRejected,
			Notes:       req.Notes,
		})
		if err != nil {
			s.logger().Error("failed to record reporter outcome", "item", id, "reporter", *item.ReporterID, "err", err)
		}
	}

	return &ResolveResult{
		ID:          item.ID,
		Status:      item.Status,
		ActionTaken: *req.Action,
	}, nil
}

// Side effects on the underlying content. Failures are logged, never returned: the transition has already committed.
func (s *Service) applyContentAction(ctx context.Context, item *models.QueueItem, action models.Action, reason string, edits *string) {
	if s.Content == nil {
		return
	}
	ref := refOf(item)
	actor := s.Content.ActorFor(ref.Type)

	var err error
	switch action {
	case models.ActionReject, models.ActionHide, models.ActionDelete:
		err = actor.Hide(ctx, ref, reason)
	case models.ActionEdit:
		if edits != nil {
			err = actor.Replace(ctx, ref, *edits)
		}
	default:
		return
	}
	if err != nil {
		contentActionErrors.WithLabelValues(string(action)).Inc()
		s.logger().Error("content action failed", "item", item.ID, "content", ref.String(), "action", action, "err", err)
	}
}
