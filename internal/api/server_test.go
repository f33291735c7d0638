package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/activity.report/internal/classifier"
	"github.com/banshee-data/activity.report/internal/network"
	"github.com/banshee-data/activity.report/internal/pipeline"
	"github.com/banshee-data/activity.report/internal/timeutil"
	"github.com/banshee-data/activity.report/internal/version"
)

type fixedActivity struct {
	result pipeline.Result
	ok     bool
}

func (f fixedActivity) Latest() (pipeline.Result, bool) { return f.result, f.ok }

func get(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestShowStats(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC))
	stats := network.NewStats(clock, nil)
	stats.AddDatagram(40)
	stats.AddMalformed()
	clock.Advance(30 * time.Second)

	mux := NewServer(ServerConfig{Stats: stats}).ServeMux()
	rec := get(t, mux, http.MethodGet, "/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got network.Snapshot
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, int64(1), got.Datagrams)
	assert.Equal(t, int64(40), got.Bytes)
	assert.Equal(t, int64(1), got.Malformed)
	assert.Equal(t, 30.0, got.UptimeSeconds)
}

func TestShowStats_Errors(t *testing.T) {
	mux := NewServer(ServerConfig{}).ServeMux()
	assert.Equal(t, http.StatusServiceUnavailable, get(t, mux, http.MethodGet, "/api/stats").Code)

	mux = NewServer(ServerConfig{Stats: network.NewStats(nil, nil)}).ServeMux()
	assert.Equal(t, http.StatusMethodNotAllowed, get(t, mux, http.MethodPost, "/api/stats").Code)
}

func TestShowLatestActivity(t *testing.T) {
	at := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	mux := NewServer(ServerConfig{Activity: fixedActivity{
		result: pipeline.Result{Activity: classifier.Falling, Time: at, Alerted: true},
		ok:     true,
	}}).ServeMux()

	rec := get(t, mux, http.MethodGet, "/api/activity/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"activity":"falling","time":"2026-05-01T08:00:00Z","alerted":true}`, rec.Body.String())
}

func TestShowLatestActivity_NothingYet(t *testing.T) {
	mux := NewServer(ServerConfig{Activity: fixedActivity{}}).ServeMux()
	rec := get(t, mux, http.MethodGet, "/api/activity/latest")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"No activity classified yet"}`, rec.Body.String())

	mux = NewServer(ServerConfig{}).ServeMux()
	assert.Equal(t, http.StatusServiceUnavailable, get(t, mux, http.MethodGet, "/api/activity/latest").Code)
}

func TestShowConfig(t *testing.T) {
	info := Info{
		WindowSize:   100,
		StepSize:     100,
		FallCooldown: "5s",
		Labels:       []string{"falling"},
		Source:       "udp :5555",
		Build:        version.Info{Version: "v0.3.1", GitSHA: "abc1234", BuildTime: "unknown"},
	}
	mux := NewServer(ServerConfig{Info: info}).ServeMux()

	rec := get(t, mux, http.MethodGet, "/api/config")
	require.Equal(t, http.StatusOK, rec.Code)
	var got Info
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, info, got)
}

func TestServeMux_NoHubNoWebsocket(t *testing.T) {
	mux := NewServer(ServerConfig{}).ServeMux()
	assert.Equal(t, http.StatusNotFound, get(t, mux, http.MethodGet, "/ws").Code)
}

func TestLoggingMiddleware_RecordsStatus(t *testing.T) {
	h := LoggingMiddleware(nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	assert.Equal(t, http.StatusTeapot, get(t, h, http.MethodGet, "/").Code)
}
