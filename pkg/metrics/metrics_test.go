package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bluesky-social/modqueue/internal/testutil"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, h http.Handler, path string) (int, pingResponse) {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var resp pingResponse
	if path == "/ping" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec.Code, resp
}

func TestPingReady(t *testing.T) {
	assert := assert.New(t)

	db := testutil.TestDB(t)
	sqlDB, err := db.DB()
	require.NoError(t, err)

	mux := NewMux(Check{Name: "database", Ping: sqlDB.PingContext})
	code, resp := get(t, mux, "/ping")
	assert.Equal(http.StatusOK, code)
	assert.Equal("ok", resp.Status)
	require.Len(t, resp.Checks, 1)
	assert.Equal(checkResult{Name: "database", OK: true}, resp.Checks[0])

	code, _ = get(t, mux, "/version")
	assert.Equal(http.StatusOK, code)

	// no dependencies configured is ready
	code, resp = get(t, NewMux(), "/ping")
	assert.Equal(http.StatusOK, code)
	assert.Empty(resp.Checks)
}

func TestPingUnavailable(t *testing.T) {
	assert := assert.New(t)

	failures := func() float64 {
		return promtestutil.ToFloat64(readinessFailures.WithLabelValues("redis"))
	}
	before := failures()

	mux := NewMux(
		Check{Name: "database", Ping: func(ctx context.Context) error { return nil }},
		Check{Name: "redis", Ping: func(ctx context.Context) error { return fmt.Errorf("connection refused") }},
	)
	code, resp := get(t, mux, "/ping")
	assert.Equal(http.StatusServiceUnavailable, code)
	assert.Equal("unavailable", resp.Status)
	assert.Equal([]checkResult{
		{Name: "database", OK: true},
		{Name: "redis", OK: false, Error: "connection refused"},
	}, resp.Checks)
	assert.Equal(before+1, failures())
}
