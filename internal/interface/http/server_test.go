package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classpoints/classpoints-hub/internal/domain/report"
	"github.com/classpoints/classpoints-hub/internal/infrastructure/persistence/redis"
	"github.com/classpoints/classpoints-hub/internal/infrastructure/scheduler"
	"github.com/classpoints/classpoints-hub/internal/interface/http/handlers"
)

type stubJobs struct {
	jobs    []scheduler.JobInfo
	history []scheduler.JobResult
	limit   int
}

func (s *stubJobs) ListJobs() []scheduler.JobInfo { return s.jobs }

func (s *stubJobs) GetHistory(limit int) []scheduler.JobResult {
	s.limit = limit
	return s.history
}

func (s *stubJobs) RunNow(_ context.Context, name string) (*scheduler.JobResult, error) {
	if name != "daily-digest" {
		return nil, fmt.Errorf("%w: %s", scheduler.ErrJobNotFound, name)
	}
	err := errors.New("redis down")
	return &scheduler.JobResult{JobName: name, Manual: true, Error: err}, err
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
}

func get(t *testing.T, h http.Handler, path string) (int, envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var env envelope
	if rec.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec.Code, env
}

func newCache(t *testing.T) *redis.Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redis.NewCacheWithClient(client)
}

func TestHealthz(t *testing.T) {
	health := handlers.NewCompositeHealthChecker("test")
	failing := false
	health.AddCheck("storage", func(context.Context) error {
		if failing {
			return errors.New("database is locked")
		}
		return nil
	})
	h := NewServer(DefaultConfig(), Dependencies{Health: health}).Handler()

	code, env := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)

	failing = true
	code, env = get(t, h, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.False(t, env.Success)
	assert.Contains(t, string(env.Data), "Some checks failed: storage")

	code, _ = get(t, h, "/livez")
	assert.Equal(t, http.StatusOK, code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "classpoints_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	h := NewServer(DefaultConfig(), Dependencies{Gatherer: reg}).Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "classpoints_test_total 1")
}

func TestJobsEndpoints(t *testing.T) {
	started := time.Date(2024, 3, 4, 7, 0, 0, 0, time.UTC)
	jobs := &stubJobs{
		jobs: []scheduler.JobInfo{{
			Name:       "daily-digest",
			Schedule:   "0 7 * * *",
			RunCount:   2,
			FailCount:  1,
			LastRun:    started,
			LastResult: &scheduler.JobResult{JobName: "daily-digest", StartedAt: started, Error: errors.New("redis down")},
		}},
		history: []scheduler.JobResult{{JobName: "publish-rankings", Success: true, Duration: 1500 * time.Millisecond}},
	}
	h := NewServer(DefaultConfig(), Dependencies{Jobs: jobs}).Handler()

	code, env := get(t, h, "/jobs")
	require.Equal(t, http.StatusOK, code)
	var listed []jobView
	require.NoError(t, json.Unmarshal(env.Data, &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, int64(1), listed[0].FailCount)
	require.NotNil(t, listed[0].LastResult)
	assert.Equal(t, "redis down", listed[0].LastResult.Error)

	code, env = get(t, h, "/jobs/history?limit=5")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 5, jobs.limit)
	var history []resultView
	require.NoError(t, json.Unmarshal(env.Data, &history))
	require.Len(t, history, 1)
	assert.Equal(t, int64(1500), history[0].DurationMs)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/daily-digest/run", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	var ran resultView
	require.NoError(t, json.Unmarshal(env.Data, &ran))
	assert.True(t, ran.Manual)
	assert.Equal(t, "redis down", ran.Error)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/missing/run", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRankingEndpoint(t *testing.T) {
	ctx := context.Background()
	rankings := redis.NewRankingCache(newCache(t), time.Hour)
	h := NewServer(DefaultConfig(), Dependencies{Rankings: rankings}).Handler()

	code, env := get(t, h, "/classes/7a/ranking")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_published", env.Error.Code)

	require.NoError(t, rankings.PublishRanking(ctx, "7a", []report.RankingEntry{
		{Position: 1, Rank: 1, StudentID: "s1", Number: 1, Name: "Ann", Total: 5, Podium: true},
		{Position: 2, Rank: 2, StudentID: "s2", Number: 2, Name: "Bob", Total: 3, Podium: true},
	}))

	code, env = get(t, h, "/classes/7a/ranking?page=1&page_size=1")
	require.Equal(t, http.StatusOK, code)
	var body struct {
		Ranking redis.RankingPage  `json:"ranking"`
		Meta    *redis.RankingMeta `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	require.Len(t, body.Ranking.Entries, 1)
	assert.Equal(t, "Ann", body.Ranking.Entries[0].Name)
	assert.True(t, body.Ranking.HasNext)
	require.NotNil(t, body.Meta)
	assert.Equal(t, 2, body.Meta.Students)

	code, _ = get(t, h, "/classes/7a/ranking?page=0")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRankingEndpoint_Disabled(t *testing.T) {
	h := NewServer(DefaultConfig(), Dependencies{}).Handler()

	code, env := get(t, h, "/classes/7a/ranking")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "projection_disabled", env.Error.Code)

	code, _ = get(t, h, "/jobs")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestDigestEndpoint(t *testing.T) {
	cache := newCache(t)
	h := NewServer(DefaultConfig(), Dependencies{Digests: cache}).Handler()

	code, _ := get(t, h, "/classes/7a/digests/2024-03-04")
	assert.Equal(t, http.StatusNotFound, code)

	require.NoError(t, cache.Set(context.Background(), redis.DigestKey("7a", "2024-03-04"),
		map[string]any{"class_id": "7a", "net": 6}, time.Hour))

	code, env := get(t, h, "/classes/7a/digests/2024-03-04")
	require.Equal(t, http.StatusOK, code)
	var digest map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &digest))
	assert.Equal(t, "7a", digest["class_id"])
	assert.EqualValues(t, 6, digest["net"])
}

func TestServerLifecycle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	srv := NewServer(cfg, Dependencies{})

	errCh := srv.StartAsync()
	require.Eventually(t, srv.IsRunning, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.False(t, srv.IsRunning())
	assert.NoError(t, <-errCh)
	assert.NoError(t, srv.Shutdown(ctx), "second shutdown is a no-op")
}
