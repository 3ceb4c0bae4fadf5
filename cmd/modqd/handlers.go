package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bluesky-social/modqueue/appeals"
	"github.com/bluesky-social/modqueue/authz"
	"github.com/bluesky-social/modqueue/automod/rules"
	"github.com/bluesky-social/modqueue/content"
	"github.com/bluesky-social/modqueue/models"
	"github.com/bluesky-social/modqueue/moderr"
	"github.com/bluesky-social/modqueue/queue"
	"github.com/bluesky-social/modqueue/token"

	"github.com/labstack/echo/v4"
)

type GenericError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func statusFor(kind moderr.Kind) int {
	switch kind {
	case moderr.KindValidation:
		return http.StatusBadRequest
	case moderr.KindNotFound:
		return http.StatusNotFound
	case moderr.KindForbidden:
		return http.StatusForbidden
	case moderr.KindResolutionConflict, moderr.KindDuplicateAppeal:
		return http.StatusConflict
	case moderr.KindClassifierUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorResponse(err error) (int, GenericError) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		kind := http.StatusText(he.Code)
		switch he.Code {
		case http.StatusBadRequest:
			kind = string(moderr.KindValidation)
		case http.StatusNotFound:
			kind = string(moderr.KindNotFound)
		}
		return he.Code, GenericError{Error: kind, Message: fmt.Sprint(he.Message)}
	}
	kind := moderr.KindOf(err)
	return statusFor(kind), GenericError{Error: string(kind), Message: moderr.MessageOf(err)}
}

func (srv *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code, body := errorResponse(err)
	if code >= 500 {
		srv.logger.Error("http-internal-error", "err", err, "method", c.Request().Method, "path", c.Path())
	}
	if err := c.JSON(code, body); err != nil {
		srv.logger.Error("failed to write error response", "err", err)
	}
}

// Resolves the bearer token, if any, into a caller on the request context. Requests without one continue anonymously; each operation decides whether that is enough.
func (srv *Server) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		hdr := c.Request().Header.Get("Authorization")
		if hdr == "" {
			return next(c)
		}
		ctx := c.Request().Context()
		caller, err := srv.auth.Authorize(ctx, hdr)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, GenericError{
				Error:   "AuthenticationRequired",
				Message: err.Error(),
			})
		}
		c.SetRequest(c.Request().WithContext(authz.WithCaller(ctx, caller)))
		return next(c)
	}
}

func callerOf(c echo.Context) *authz.Caller {
	return authz.CallerFrom(c.Request().Context())
}

func (srv *Server) registerRoutes(g *echo.Group) {
	g.POST("/queue", srv.HandleSubmit)
	g.GET("/queue", srv.HandleListQueue)
	g.POST("/queue/claim-next", srv.HandleClaimNext)
	g.GET("/queue/:id", srv.HandleQueueDetail)
	g.POST("/queue/:id/claim", srv.HandleClaim)
	g.POST("/queue/:id/resolve", srv.HandleResolve)

	g.GET("/rules/:contentType", srv.HandleGetRules)
	g.PUT("/rules/:contentType", srv.HandlePutRules)

	g.POST("/tokens", srv.HandleIssueToken)
	g.POST("/tokens/:token/validate", srv.HandleValidateToken)
	g.DELETE("/tokens/:token", srv.HandleRevokeToken)

	g.POST("/appeals", srv.HandleFileAppeal)
	g.GET("/appeals", srv.HandleListAppeals)
	g.GET("/appeals/:id", srv.HandleGetAppeal)
	g.POST("/appeals/:id/decision", srv.HandleDecideAppeal)
	g.GET("/notifications", srv.HandleNotifications)
	g.POST("/notifications/:id/read", srv.HandleMarkRead)

	g.GET("/reporters/top", srv.HandleTopReporters)
	g.GET("/reporters/:userId", srv.HandleGetReporter)
	g.GET("/stats", srv.HandleStats)
}

func (srv *Server) HandleHealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func idParam(c echo.Context, name string) (uint64, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		return 0, moderr.Validation("invalid %s: %q", name, c.Param(name))
	}
	return id, nil
}

func intQuery(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, moderr.Validation("invalid %s: %q", name, raw)
	}
	return n, nil
}

func parseContentType(raw string) (content.Type, error) {
	ct, err := content.ParseType(raw)
	if err != nil {
		return "", moderr.Validation("%s", err)
	}
	return ct, nil
}

type submitBody struct {
	ContentID        string           `json:"contentId"`
	ContentType      string           `json:"contentType"`
	Reason           string           `json:"reason"`
	Priority         *models.Priority `json:"priority"`
	Content          string           `json:"content"`
	Metadata         map[string]any   `json:"metadata"`
	ReporterID       *string          `json:"reporterId"`
	OwnerID          *string          `json:"ownerId"`
	SensitivityLevel *float64         `json:"sensitivityLevel"`
}

type submitResponse struct {
	ID              uint64                  `json:"id"`
	Status          models.QueueStatus      `json:"status"`
	Priority        models.Priority         `json:"priority"`
	AutoFlagged     bool                    `json:"autoFlagged"`
	AlreadyQueued   bool                    `json:"alreadyQueued,omitempty"`
	ModerationToken *models.ModerationToken `json:"moderationToken,omitempty"`
}

func (srv *Server) HandleSubmit(c echo.Context) error {
	caller := callerOf(c)
	if err := caller.RequireUser(); err != nil {
		return err
	}
	var body submitBody
	if err := c.Bind(&body); err != nil {
		return err
	}
	ct, err := parseContentType(body.ContentType)
	if err != nil {
		return err
	}
	// ordinary users report as themselves and cannot claim ownership; moderation services may do both on behalf of others
	reporter, owner := body.ReporterID, body.OwnerID
	if !caller.CanModerate {
		reporter, owner = &caller.ID, nil
	}

	res, err := srv.queue.Submit(c.Request().Context(), queue.SubmitRequest{
		ContentType:      ct,
		ContentID:        body.ContentID,
		Reason:           body.Reason,
		Priority:         body.Priority,
		Content:          body.Content,
		Metadata:         rules.Metadata(body.Metadata),
		ReporterID:       reporter,
		OwnerID:          owner,
		SensitivityLevel: body.SensitivityLevel,
	})
	if err != nil {
		return err
	}
	out := submitResponse{
		ID:            res.Item.ID,
		Status:        res.Item.Status,
		Priority:      res.Item.Priority,
		AutoFlagged:   res.Item.AutoFlagged,
		AlreadyQueued: res.AlreadyQueued,
	}
	// the token is for the platform to hand to the content owner, never to a reporter
	if caller.CanModerate {
		out.ModerationToken = res.ModerationToken
	}
	if res.AlreadyQueued {
		return c.JSON(http.StatusOK, out)
	}
	return c.JSON(http.StatusCreated, out)
}

func (srv *Server) HandleListQueue(c echo.Context) error {
	if err := callerOf(c).RequireModerator(); err != nil {
		return err
	}
	params := queue.ListParams{}
	var err error
	if params.Page, err = intQuery(c, "page", 1); err != nil {
		return err
	}
	if params.Limit, err = intQuery(c, "limit", 20); err != nil {
		return err
	}
	if raw := c.QueryParam("status"); raw != "" {
		st := models.QueueStatus(strings.ToUpper(strings.TrimSpace(raw)))
		params.Status = &st
	}
	if raw := c.QueryParam("contentType"); raw != "" {
		ct, err := parseContentType(raw)
		if err != nil {
			return err
		}
		params.ContentType = &ct
	}
	if raw := c.QueryParam("priority"); raw != "" {
		p, err := models.ParsePriority(raw)
		if err != nil {
			return moderr.Validation("%s", err)
		}
		params.Priority = &p
	}

	page, err := srv.queue.List(c.Request().Context(), params)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, page)
}

func (srv *Server) HandleQueueDetail(c echo.Context) error {
	if err := callerOf(c).RequireModerator(); err != nil {
		return err
	}
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	d, err := srv.queue.Detail(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (srv *Server) HandleClaim(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	item, err := srv.queue.Claim(c.Request().Context(), callerOf(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, item)
}

type claimNextBody struct {
	ContentType string `json:"contentType"`
	Priority    string `json:"priority"`
}

func (srv *Server) HandleClaimNext(c echo.Context) error {
	var body claimNextBody
	if err := c.Bind(&body); err != nil {
		return err
	}
	var filter queue.ListFilter
	if body.ContentType != "" {
		ct, err := parseContentType(body.ContentType)
		if err != nil {
			return err
		}
		filter.ContentType = string(ct)
	}
	if body.Priority != "" {
		p, err := models.ParsePriority(body.Priority)
		if err != nil {
			return moderr.Validation("%s", err)
		}
		filter.Priority = &p
	}
	item, err := srv.queue.ClaimNext(c.Request().Context(), callerOf(c), filter)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, item)
}

type resolveBody struct {
	Status       string         `json:"status"`
	Action       *models.Action `json:"action"`
	Notes        string         `json:"notes"`
	ContentEdits *string        `json:"contentEdits"`
}

func (srv *Server) HandleResolve(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var body resolveBody
	if err := c.Bind(&body); err != nil {
		return err
	}
	if body.Action != nil {
		a := models.Action(strings.ToUpper(string(*body.Action)))
		body.Action = &a
	}
	res, err := srv.queue.Resolve(c.Request().Context(), callerOf(c), id, queue.ResolveRequest{
		Status:       models.QueueStatus(strings.ToUpper(strings.TrimSpace(body.Status))),
		Action:       body.Action,
		Notes:        body.Notes,
		ContentEdits: body.ContentEdits,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (srv *Server) HandleGetRules(c echo.Context) error {
	if err := callerOf(c).RequireModerator(); err != nil {
		return err
	}
	ct, err := parseContentType(c.Param("contentType"))
	if err != nil {
		return err
	}
	cfg, err := srv.rules.Get(c.Request().Context(), ct)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cfg)
}

func (srv *Server) HandlePutRules(c echo.Context) error {
	caller := callerOf(c)
	if err := caller.RequireModerator(); err != nil {
		return err
	}
	ct, err := parseContentType(c.Param("contentType"))
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	// fields missing from the body keep their current values
	cfg, err := srv.rules.Get(ctx, ct)
	if err != nil {
		return err
	}
	if err := c.Bind(cfg); err != nil {
		return err
	}
	cfg.ContentType = string(ct)
	out, err := srv.rules.Set(ctx, cfg)
	if err != nil {
		return err
	}
	srv.logger.Info("rule config updated", "contentType", ct, "moderator", caller.ID, "keywords", len(out.BlockedKeywords))
	return c.JSON(http.StatusOK, out)
}

type issueTokenBody struct {
	ContentType string `json:"contentType"`
	ContentID   string `json:"contentId"`
	TTLSeconds  int64  `json:"ttlSeconds"`
	MaxUses     *int   `json:"maxUses"`
	Reason      string `json:"reason"`
}

func (srv *Server) HandleIssueToken(c echo.Context) error {
	caller := callerOf(c)
	if err := caller.RequireModerator(); err != nil {
		return err
	}
	var body issueTokenBody
	if err := c.Bind(&body); err != nil {
		return err
	}
	ct, err := parseContentType(body.ContentType)
	if err != nil {
		return err
	}
	if body.TTLSeconds < 0 {
		return moderr.Validation("ttlSeconds must be positive")
	}
	tok, err := srv.tokens.Issue(c.Request().Context(), token.IssueRequest{
		ContentType: ct,
		ContentID:   body.ContentID,
		IssuedBy:    &caller.ID,
		TTL:         time.Duration(body.TTLSeconds) * time.Second,
		MaxUses:     body.MaxUses,
		Reason:      body.Reason,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, tok)
}

// Possession of the token is the credential; no session is required.
func (srv *Server) HandleValidateToken(c echo.Context) error {
	v, err := srv.tokens.Validate(c.Request().Context(), c.Param("token"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}

func (srv *Server) HandleRevokeToken(c echo.Context) error {
	if err := callerOf(c).RequireModerator(); err != nil {
		return err
	}
	ok, err := srv.tokens.Revoke(c.Request().Context(), c.Param("token"))
	if err != nil {
		return err
	}
	if !ok {
		return moderr.NotFound("moderation token not found")
	}
	return c.JSON(http.StatusOK, map[string]bool{"revoked": true})
}

type fileAppealBody struct {
	ModeratedContentID uint64  `json:"moderatedContentId"`
	Reason             string  `json:"reason"`
	AdditionalInfo     *string `json:"additionalInfo"`
	ModerationToken    string  `json:"moderationToken"`
}

func (srv *Server) HandleFileAppeal(c echo.Context) error {
	var body fileAppealBody
	if err := c.Bind(&body); err != nil {
		return err
	}
	req := appeals.FileRequest{
		ModeratedContentID: body.ModeratedContentID,
		Reason:             body.Reason,
		AdditionalInfo:     body.AdditionalInfo,
	}
	ctx := c.Request().Context()
	var appeal *models.Appeal
	var err error
	if body.ModerationToken != "" {
		appeal, err = srv.appeals.FileWithToken(ctx, callerOf(c), body.ModerationToken, req)
	} else {
		appeal, err = srv.appeals.File(ctx, callerOf(c), req)
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, appeal)
}

func (srv *Server) HandleListAppeals(c echo.Context) error {
	caller := callerOf(c)
	if err := caller.RequireUser(); err != nil {
		return err
	}
	limit, err := intQuery(c, "limit", 50)
	if err != nil {
		return err
	}
	out, err := srv.appeals.ListForUser(c.Request().Context(), caller.ID, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"appeals": out})
}

func (srv *Server) HandleGetAppeal(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	appeal, err := srv.appeals.Get(c.Request().Context(), callerOf(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, appeal)
}

type decisionBody struct {
	Status         string  `json:"status"`
	ModeratorNotes *string `json:"moderatorNotes"`
}

func (srv *Server) HandleDecideAppeal(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var body decisionBody
	if err := c.Bind(&body); err != nil {
		return err
	}
	appeal, err := srv.appeals.Decide(c.Request().Context(), callerOf(c), id, appeals.Decision{
		Status:         models.AppealStatus(strings.ToUpper(strings.TrimSpace(body.Status))),
		ModeratorNotes: body.ModeratorNotes,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, appeal)
}

func (srv *Server) HandleNotifications(c echo.Context) error {
	caller := callerOf(c)
	if err := caller.RequireUser(); err != nil {
		return err
	}
	unread := false
	if raw := c.QueryParam("unread"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return moderr.Validation("invalid unread: %q", raw)
		}
		unread = b
	}
	out, err := srv.appeals.Notifications(c.Request().Context(), caller.ID, unread)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"notifications": out})
}

func (srv *Server) HandleMarkRead(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	n, err := srv.appeals.MarkRead(c.Request().Context(), callerOf(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, n)
}

func (srv *Server) HandleTopReporters(c echo.Context) error {
	if err := callerOf(c).RequireModerator(); err != nil {
		return err
	}
	limit, err := intQuery(c, "limit", 10)
	if err != nil {
		return err
	}
	out, err := srv.credibility.TopReporters(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"reporters": out})
}

func (srv *Server) HandleGetReporter(c echo.Context) error {
	if err := callerOf(c).RequireModerator(); err != nil {
		return err
	}
	ctx := c.Request().Context()
	userID := c.Param("userId")
	profile, err := srv.credibility.Get(ctx, userID)
	if err != nil {
		return err
	}
	if profile == nil {
		return moderr.NotFound("no reporter profile for %s", userID)
	}
	events, err := srv.credibility.Events(ctx, userID, 20)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"profile": profile,
		"events":  events,
	})
}

func (srv *Server) HandleStats(c echo.Context) error {
	if err := callerOf(c).RequireModerator(); err != nil {
		return err
	}
	st, err := srv.queue.Stats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}
