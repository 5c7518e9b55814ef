package main

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classpoints/classpoints-hub/config"
	"github.com/classpoints/classpoints-hub/internal/app"
	"github.com/classpoints/classpoints-hub/internal/infrastructure/scheduler"
)

// syncBuffer guards a bytes.Buffer written by the worker goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func workerConfig(t *testing.T, extra map[string]string) *config.Config {
	t.Helper()
	environ := map[string]string{
		"CLASSPOINTS_STORAGE_PATH":               filepath.Join(t.TempDir(), "points.db"),
		"CLASSPOINTS_OBSERVABILITY_METRICS_ADDR": "127.0.0.1:0",
		"CLASSPOINTS_APP_SHUTDOWN_TIMEOUT":       "2s",
	}
	for k, v := range extra {
		environ[k] = v
	}
	cfg, err := config.LoadFrom(environ)
	require.NoError(t, err)
	return cfg
}

func TestRegisterJobs(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := workerConfig(t, map[string]string{
		"CLASSPOINTS_REDIS_ENABLED": "true",
		"CLASSPOINTS_REDIS_ADDR":    mr.Addr(),
	})
	rt, err := app.Open(context.Background(), cfg, app.Options{LogOutput: &bytes.Buffer{}})
	require.NoError(t, err)
	defer rt.Close()

	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{Logger: rt.Slog})
	require.NoError(t, registerJobs(sched, rt))

	names := make([]string, 0, 2)
	for _, j := range sched.ListJobs() {
		names = append(names, j.Name)
	}
	assert.Equal(t, []string{"daily-digest", "publish-rankings"}, names)
}

func TestRegisterJobs_WithoutRedis(t *testing.T) {
	rt, err := app.Open(context.Background(), workerConfig(t, nil), app.Options{LogOutput: &bytes.Buffer{}})
	require.NoError(t, err)
	defer rt.Close()

	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{Logger: rt.Slog})
	require.NoError(t, registerJobs(sched, rt))
	assert.Empty(t, sched.ListJobs())
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := workerConfig(t, map[string]string{
		"CLASSPOINTS_REDIS_ENABLED": "true",
		"CLASSPOINTS_REDIS_ADDR":    mr.Addr(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	logs := &syncBuffer{}
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, logs) }()

	require.Eventually(t, func() bool {
		return bytes.Contains([]byte(logs.String()), []byte("classpoints worker is running"))
	}, 5*time.Second, 20*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Contains(t, logs.String(), "shutdown completed")
}

func TestRun_BadSchedule(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := workerConfig(t, map[string]string{
		"CLASSPOINTS_REDIS_ENABLED":          "true",
		"CLASSPOINTS_REDIS_ADDR":             mr.Addr(),
		"CLASSPOINTS_SCHEDULER_DAILY_DIGEST": "every day",
	})

	err := run(context.Background(), cfg, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "register daily-digest")
}
