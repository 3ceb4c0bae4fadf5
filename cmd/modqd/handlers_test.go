package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bluesky-social/modqueue/authz"
	"github.com/bluesky-social/modqueue/automod/classifier"
	"github.com/bluesky-social/modqueue/internal/testutil"
	"github.com/bluesky-social/modqueue/moderr"
	"github.com/bluesky-social/modqueue/pkg/metrics"
	"github.com/bluesky-social/modqueue/queue"
	"github.com/bluesky-social/modqueue/token"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	t    *testing.T
	srv  *Server
	auth *authz.JWTAuthorizer
}

func newTestServer(t *testing.T) *testServer {
	db := testutil.TestDB(t)
	srv, err := NewServer(db, Config{
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		MetricsRegisterer: prometheus.NewRegistry(),
		JWTSecret:         "test-secret",
		Classifier:        classifier.Config{Timeout: time.Second, Fallback: true},
		Queue:             queue.DefaultConfig(),
		Tokens:            token.DefaultConfig(),
	})
	require.NoError(t, err)
	return &testServer{t: t, srv: srv, auth: authz.NewJWTAuthorizer([]byte("test-secret"), "")}
}

var (
	alice = &authz.Caller{ID: "alice"}
	owner = &authz.Caller{ID: "owner-1"}
	mod   = &authz.Caller{ID: "mod-1", CanModerate: true}
)

func (ts *testServer) do(method, path string, body any, caller *authz.Caller) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(ts.t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if caller != nil {
		jwt, err := ts.auth.Sign(*caller, time.Hour)
		require.NoError(ts.t, err)
		req.Header.Set("Authorization", "Bearer "+jwt)
	}
	rec := httptest.NewRecorder()
	ts.srv.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func errorKind(t *testing.T, rec *httptest.ResponseRecorder) string {
	return decode[GenericError](t, rec).Error
}

func TestHealthAndAuth(t *testing.T) {
	assert := assert.New(t)
	ts := newTestServer(t)

	rec := ts.do("GET", "/_health", nil, nil)
	assert.Equal(http.StatusOK, rec.Code)

	rec = ts.do("POST", "/v1/queue", map[string]any{"contentType": "POST", "contentId": "1"}, nil)
	assert.Equal(http.StatusForbidden, rec.Code)
	assert.Equal("Forbidden", errorKind(t, rec))

	req := httptest.NewRequest("GET", "/v1/stats", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec = httptest.NewRecorder()
	ts.srv.ServeHTTP(rec, req)
	assert.Equal(http.StatusUnauthorized, rec.Code)

	rec = ts.do("GET", "/v1/stats", nil, alice)
	assert.Equal(http.StatusForbidden, rec.Code)
	rec = ts.do("GET", "/v1/stats", nil, mod)
	assert.Equal(http.StatusOK, rec.Code)
}

func TestSubmitAndReview(t *testing.T) {
	assert := assert.New(t)
	ts := newTestServer(t)

	body := map[string]any{"contentType": "comment", "contentId": "c1", "content": "see you at the game", "reason": "rude"}
	rec := ts.do("POST", "/v1/queue", body, alice)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sub := decode[submitResponse](t, rec)
	assert.Equal("PENDING", string(sub.Status))
	assert.False(sub.AlreadyQueued)
	assert.Nil(sub.ModerationToken)

	rec = ts.do("POST", "/v1/queue", body, alice)
	assert.Equal(http.StatusOK, rec.Code)
	again := decode[submitResponse](t, rec)
	assert.True(again.AlreadyQueued)
	assert.Equal(sub.ID, again.ID)

	rec = ts.do("POST", "/v1/queue", map[string]any{"contentType": "BLOG", "contentId": "1"}, alice)
	assert.Equal(http.StatusBadRequest, rec.Code)
	assert.Equal("ValidationError", errorKind(t, rec))
	rec = ts.do("POST", "/v1/queue", map[string]any{"contentType": "POST", "contentId": "1", "priority": "EXTREME"}, alice)
	assert.Equal(http.StatusBadRequest, rec.Code)

	rec = ts.do("GET", "/v1/queue?status=pending&limit=5", nil, mod)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[queue.Page](t, rec)
	require.Len(t, page.Items, 1)
	assert.Equal("alice", *page.Items[0].ReporterID)
	assert.Equal(int64(1), page.Pagination.TotalItems)

	rec = ts.do("GET", "/v1/queue?limit=500", nil, mod)
	assert.Equal(http.StatusBadRequest, rec.Code)

	path := fmt.Sprintf("/v1/queue/%d", sub.ID)
	rec = ts.do("POST", path+"/claim", nil, alice)
	assert.Equal(http.StatusForbidden, rec.Code)
	rec = ts.do("POST", path+"/claim", nil, mod)
	assert.Equal(http.StatusOK, rec.Code)
	rec = ts.do("POST", path+"/claim", nil, &authz.Caller{ID: "mod-2", CanModerate: true})
	assert.Equal(http.StatusConflict, rec.Code)
	assert.Equal("ResolutionConflict", errorKind(t, rec))

	rec = ts.do("POST", path+"/resolve", map[string]any{"status": "REJECTED", "notes": "harassment"}, mod)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[queue.ResolveResult](t, rec)
	assert.Equal("REJECTED", string(res.Status))
	assert.Equal("REJECT", string(res.ActionTaken))

	rec = ts.do("POST", path+"/resolve", map[string]any{"status": "APPROVED"}, mod)
	assert.Equal(http.StatusConflict, rec.Code)

	rec = ts.do("GET", path, nil, mod)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[queue.Detail](t, rec)
	assert.Len(detail.History, 2)
	assert.Contains(detail.Flags, "classifier-fallback")

	rec = ts.do("GET", "/v1/queue/999", nil, mod)
	assert.Equal(http.StatusNotFound, rec.Code)
	rec = ts.do("GET", "/v1/queue/abc", nil, mod)
	assert.Equal(http.StatusBadRequest, rec.Code)

	rec = ts.do("GET", "/v1/reporters/alice", nil, mod)
	assert.Equal(http.StatusOK, rec.Code)
	rec = ts.do("GET", "/v1/reporters/top?limit=5", nil, mod)
	assert.Equal(http.StatusOK, rec.Code)
	rec = ts.do("GET", "/v1/reporters/nobody", nil, mod)
	assert.Equal(http.StatusNotFound, rec.Code)
}

func TestClaimNext(t *testing.T) {
	assert := assert.New(t)
	ts := newTestServer(t)

	rec := ts.do("POST", "/v1/queue/claim-next", nil, mod)
	assert.Equal(http.StatusNotFound, rec.Code)

	rec = ts.do("POST", "/v1/queue", map[string]any{"contentType": "POST", "contentId": "p1", "content": "hi"}, mod)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = ts.do("POST", "/v1/queue", map[string]any{"contentType": "LISTING", "contentId": "l1", "content": "hi", "priority": "URGENT"}, mod)
	require.Equal(t, http.StatusCreated, rec.Code)
	urgent := decode[submitResponse](t, rec)

	rec = ts.do("POST", "/v1/queue/claim-next", map[string]any{}, mod)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(rec.Body.String(), fmt.Sprintf(`"id":%d`, urgent.ID))
}

func TestRulesAndAppeals(t *testing.T) {
	assert := assert.New(t)
	ts := newTestServer(t)
	ctx := context.Background()

	rules := map[string]any{"blockedKeywords": []string{" Scam ", "fraud", "scam"}, "autoRejectThreshold": 1}
	rec := ts.do("PUT", "/v1/rules/post", rules, alice)
	assert.Equal(http.StatusForbidden, rec.Code)
	rec = ts.do("PUT", "/v1/rules/post", rules, mod)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = ts.do("PUT", "/v1/rules/post", map[string]any{"autoRejectThreshold": 0}, mod)
	assert.Equal(http.StatusBadRequest, rec.Code)

	rec = ts.do("GET", "/v1/rules/POST", nil, mod)
	require.Equal(t, http.StatusOK, rec.Code)
	cfg := decode[map[string]any](t, rec)
	assert.Equal([]any{"Scam", "fraud"}, cfg["blockedKeywords"])
	assert.Equal("NORMAL", cfg["basePriority"])

	rec = ts.do("POST", "/v1/queue", map[string]any{
		"contentType": "POST",
		"contentId":   "p1",
		"content":     "obvious scam, total fraud",
		"ownerId":     "owner-1",
	}, mod)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sub := decode[submitResponse](t, rec)
	assert.Equal("AUTO_REJECTED", string(sub.Status))
	require.NotNil(t, sub.ModerationToken)

	mc, err := ts.srv.queue.Store.GetModeratedContent(ctx, "POST", "p1")
	require.NoError(t, err)
	require.NotNil(t, mc)

	appeal := map[string]any{"moderatedContentId": mc.ID, "reason": "it was a joke"}
	rec = ts.do("POST", "/v1/appeals", appeal, alice)
	assert.Equal(http.StatusForbidden, rec.Code)
	rec = ts.do("POST", "/v1/appeals", appeal, owner)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	filed := decode[map[string]any](t, rec)
	appealID := uint64(filed["id"].(float64))
	rec = ts.do("POST", "/v1/appeals", appeal, owner)
	assert.Equal(http.StatusConflict, rec.Code)
	assert.Equal(string(moderr.KindDuplicateAppeal), errorKind(t, rec))

	rec = ts.do("GET", fmt.Sprintf("/v1/appeals/%d", appealID), nil, owner)
	assert.Equal(http.StatusOK, rec.Code)
	rec = ts.do("GET", "/v1/appeals", nil, owner)
	assert.Equal(http.StatusOK, rec.Code)

	decision := fmt.Sprintf("/v1/appeals/%d/decision", appealID)
	rec = ts.do("POST", decision, map[string]any{"status": "approved"}, owner)
	assert.Equal(http.StatusForbidden, rec.Code)
	rec = ts.do("POST", decision, map[string]any{"status": "approved", "moderatorNotes": "fine"}, mod)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = ts.do("POST", decision, map[string]any{"status": "rejected"}, mod)
	assert.Equal(http.StatusConflict, rec.Code)

	rec = ts.do("GET", "/v1/notifications?unread=true", nil, owner)
	require.Equal(t, http.StatusOK, rec.Code)
	notes := decode[struct {
		Notifications []struct {
			ID   uint64 `json:"id"`
			Read bool   `json:"read"`
		} `json:"notifications"`
	}](t, rec)
	require.Len(t, notes.Notifications, 1)

	readPath := fmt.Sprintf("/v1/notifications/%d/read", notes.Notifications[0].ID)
	rec = ts.do("POST", readPath, nil, alice)
	assert.Equal(http.StatusForbidden, rec.Code)
	rec = ts.do("POST", readPath, nil, owner)
	assert.Equal(http.StatusOK, rec.Code)
	rec = ts.do("GET", "/v1/notifications?unread=true", nil, owner)
	assert.Contains(rec.Body.String(), `"notifications":[]`)
}

func TestTokens(t *testing.T) {
	assert := assert.New(t)
	ts := newTestServer(t)

	rec := ts.do("POST", "/v1/tokens", map[string]any{"contentType": "REVIEW", "contentId": "r1", "maxUses": 2}, alice)
	assert.Equal(http.StatusForbidden, rec.Code)
	rec = ts.do("POST", "/v1/tokens", map[string]any{"contentType": "REVIEW", "contentId": "r1", "maxUses": 0}, mod)
	assert.Equal(http.StatusBadRequest, rec.Code)

	rec = ts.do("POST", "/v1/tokens", map[string]any{"contentType": "REVIEW", "contentId": "r1", "maxUses": 2, "ttlSeconds": 60}, mod)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tok := decode[map[string]any](t, rec)
	raw := tok["token"].(string)

	rec = ts.do("POST", "/v1/tokens/"+raw+"/validate", nil, alice)
	require.Equal(t, http.StatusOK, rec.Code)
	v := decode[token.Validation](t, rec)
	assert.True(v.Valid)

	rec = ts.do("DELETE", "/v1/tokens/"+raw, nil, mod)
	assert.Equal(http.StatusOK, rec.Code)
	rec = ts.do("DELETE", "/v1/tokens/unknown", nil, mod)
	assert.Equal(http.StatusNotFound, rec.Code)

	rec = ts.do("POST", "/v1/tokens/"+raw+"/validate", nil, alice)
	require.Equal(t, http.StatusOK, rec.Code)
	v = decode[token.Validation](t, rec)
	assert.False(v.Valid)
	assert.Equal(token.StatusRevoked, v.Reason)
}

func TestErrorResponse(t *testing.T) {
	assert := assert.New(t)

	code, body := errorResponse(moderr.ClassifierUnavailable(fmt.Errorf("timeout")))
	assert.Equal(http.StatusServiceUnavailable, code)
	assert.Equal("ClassifierUnavailable", body.Error)

	code, body = errorResponse(fmt.Errorf("saving: %w", fmt.Errorf("disk full")))
	assert.Equal(http.StatusInternalServerError, code)
	assert.Equal("InternalError", body.Error)
	assert.NotContains(body.Message, "disk")

	code, _ = errorResponse(queue.ErrNoLongerAvailable)
	assert.Equal(http.StatusConflict, code)
}

func (ts *testServer) blockKeywords(contentType string, keywords ...string) {
	rec := ts.do("PUT", "/v1/rules/"+contentType, map[string]any{"blockedKeywords": keywords, "autoRejectThreshold": 1}, mod)
	require.Equal(ts.t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestReportKeepsModeratedContent(t *testing.T) {
	assert := assert.New(t)
	ts := newTestServer(t)
	ctx := context.Background()
	ts.blockKeywords("post", "scam", "fraud")

	rec := ts.do("POST", "/v1/queue", map[string]any{
		"contentType": "POST",
		"contentId":   "p1",
		"content":     "obvious scam, total fraud",
		"ownerId":     "owner-1",
	}, mod)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal("AUTO_REJECTED", string(decode[submitResponse](t, rec).Status))

	// a fresh report by an ordinary user opens a new item, but neither takes
	// ownership of the content nor masks the earlier decision
	rec = ts.do("POST", "/v1/queue", map[string]any{
		"contentType": "POST",
		"contentId":   "p1",
		"content":     "vintage bike for sale",
		"ownerId":     "alice",
	}, alice)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	again := decode[submitResponse](t, rec)
	assert.Equal("PENDING", string(again.Status))
	assert.Nil(again.ModerationToken)

	mc, err := ts.srv.queue.Store.GetModeratedContent(ctx, "POST", "p1")
	require.NoError(t, err)
	require.NotNil(t, mc)
	require.NotNil(t, mc.OwnerID)
	assert.Equal("owner-1", *mc.OwnerID)
	assert.Equal("AUTO_REJECTED", string(mc.Status))

	appeal := map[string]any{"moderatedContentId": mc.ID, "reason": "it was a joke"}
	rec = ts.do("POST", "/v1/appeals", appeal, alice)
	assert.Equal(http.StatusForbidden, rec.Code)
	rec = ts.do("POST", "/v1/appeals", appeal, owner)
	assert.Equal(http.StatusCreated, rec.Code, rec.Body.String())
}

func TestTokenWithoutSession(t *testing.T) {
	assert := assert.New(t)
	ts := newTestServer(t)
	ctx := context.Background()
	ts.blockKeywords("listing", "scam", "fraud")

	rec := ts.do("POST", "/v1/tokens", map[string]any{"contentType": "LISTING", "contentId": "l9", "maxUses": 2}, mod)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	raw := decode[map[string]any](t, rec)["token"].(string)
	rec = ts.do("POST", "/v1/tokens/"+raw+"/validate", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(decode[token.Validation](t, rec).Valid)

	rec = ts.do("POST", "/v1/queue", map[string]any{
		"contentType": "LISTING",
		"contentId":   "l1",
		"content":     "scam listing, pure fraud",
		"ownerId":     "owner-1",
	}, mod)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sub := decode[submitResponse](t, rec)
	require.NotNil(t, sub.ModerationToken)

	mc, err := ts.srv.queue.Store.GetModeratedContent(ctx, "LISTING", "l1")
	require.NoError(t, err)
	require.NotNil(t, mc)

	appeal := map[string]any{"moderatedContentId": mc.ID, "reason": "it is a real bike"}
	rec = ts.do("POST", "/v1/appeals", appeal, nil)
	assert.Equal(http.StatusForbidden, rec.Code)

	appeal["moderationToken"] = sub.ModerationToken.Token
	rec = ts.do("POST", "/v1/appeals", appeal, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	filed := decode[map[string]any](t, rec)
	assert.Equal("owner-1", filed["userId"])
	assert.Equal("PENDING", filed["status"])

	rec = ts.do("GET", "/v1/notifications", nil, owner)
	assert.Equal(http.StatusOK, rec.Code)
	rec = ts.do("GET", "/v1/appeals", nil, owner)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(rec.Body.String(), `"userId":"owner-1"`)
}

func TestReadinessChecks(t *testing.T) {
	assert := assert.New(t)
	ts := newTestServer(t)

	checks := ts.srv.ReadinessChecks()
	require.Len(t, checks, 1)
	assert.Equal("database", checks[0].Name)
	assert.NoError(checks[0].Ping(context.Background()))

	rec := httptest.NewRecorder()
	metrics.NewMux(checks...).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(http.StatusOK, rec.Code)
	assert.Contains(rec.Body.String(), `"name":"database","ok":true`)

	// a closed database is reported, not hidden
	sqlDB, err := ts.srv.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
	rec = httptest.NewRecorder()
	metrics.NewMux(checks...).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(http.StatusServiceUnavailable, rec.Code)
}
