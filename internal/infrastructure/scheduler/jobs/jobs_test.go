package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classpoints/classpoints-hub/internal/domain/classroom"
	"github.com/classpoints/classpoints-hub/internal/domain/ledger"
	"github.com/classpoints/classpoints-hub/internal/domain/points"
	"github.com/classpoints/classpoints-hub/internal/domain/shared"
	"github.com/classpoints/classpoints-hub/internal/domain/student"
	"github.com/classpoints/classpoints-hub/internal/infrastructure/persistence/redis"
	"github.com/classpoints/classpoints-hub/pkg/timeutil"
)

type memRepo struct {
	mu    sync.Mutex
	snaps map[string]classroom.Snapshot
}

func (m *memRepo) Load(_ context.Context, id string) (classroom.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snaps[id]
	if !ok {
		return classroom.Snapshot{}, shared.ErrClassNotFound
	}
	return s, nil
}

func (m *memRepo) Save(_ context.Context, snap classroom.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.Info.ID] = snap
	return nil
}

func (m *memRepo) List(context.Context) ([]classroom.Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []classroom.Info
	for _, id := range []string{"7a", "7b"} {
		if s, ok := m.snaps[id]; ok {
			out = append(out, s.Info)
		}
	}
	return out, nil
}

func (m *memRepo) Delete(context.Context, string) error { return nil }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newRegistry(t *testing.T) *classroom.Registry {
	t.Helper()
	ctx := context.Background()
	reg := classroom.NewRegistry(&memRepo{snaps: map[string]classroom.Snapshot{}}, classroom.RegistryConfig{})

	c, err := reg.Create(ctx, "7a", "7A")
	require.NoError(t, err)
	ann, err := c.Ledger.AddStudent(student.Profile{Number: 1, Name: "Ann"})
	require.NoError(t, err)
	_, err = c.Ledger.AddStudent(student.Profile{Number: 2, Name: "Bob"})
	require.NoError(t, err)
	_, err = c.Ledger.ApplyAdjustment(ledger.Adjustment{
		StudentID: ann.ID, Category: points.Academic, Amount: 4, Direction: points.Credit, Operator: "t",
	})
	require.NoError(t, err)
	require.NoError(t, reg.Checkpoint(ctx, "7a"))

	_, err = reg.Create(ctx, "7b", "7B")
	require.NoError(t, err)
	return reg
}

type publisherFunc func(ctx context.Context, classID string) error

func (f publisherFunc) PublishClass(ctx context.Context, classID string) error {
	return f(ctx, classID)
}

func TestPublishRankingsJob_PublishesEveryClass(t *testing.T) {
	reg := newRegistry(t)
	var seen []string
	job := NewPublishRankingsJob(reg, publisherFunc(func(_ context.Context, id string) error {
		seen = append(seen, id)
		if id == "7b" {
			return errors.New("redis down")
		}
		return nil
	}), discard())

	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "class 7b")
	assert.Equal(t, []string{"7a", "7b"}, seen)

	stats := job.LastRunStats()
	require.NotNil(t, stats)
	assert.Equal(t, 2, stats.Classes)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, 1, stats.Failed)
}

func TestPublishRankingsJob_StopsOnCancel(t *testing.T) {
	reg := newRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job := NewPublishRankingsJob(reg, publisherFunc(func(context.Context, string) error {
		t.Fatal("publisher called after cancel")
		return nil
	}), discard())
	assert.ErrorIs(t, job.Run(ctx), context.Canceled)
}

func TestDailyDigestJob_StoresYesterday(t *testing.T) {
	reg := newRegistry(t)
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := redis.NewCacheWithClient(client)

	job := NewDailyDigestJob(reg, cache, DailyDigestConfig{Zone: timeutil.UTC}, discard())
	job.now = func() time.Time { return time.Now().UTC().AddDate(0, 0, 1) }

	require.NoError(t, job.Run(context.Background()))

	date := time.Now().UTC().Format(timeutil.FormatDate)
	var d Digest
	require.NoError(t, cache.Get(context.Background(), redis.DigestKey("7a", date), &d))
	assert.Equal(t, "7A", d.ClassName)
	assert.Equal(t, date, d.Day.Date)
	assert.Equal(t, 4, d.Day.Added)
	assert.Equal(t, 1, d.Day.Entries)
	assert.Equal(t, 4, d.Categories.Total)
	require.Len(t, d.Podium, 2)
	assert.Equal(t, "Ann", d.Podium[0].Name)

	var empty Digest
	require.NoError(t, cache.Get(context.Background(), redis.DigestKey("7b", date), &empty))
	assert.Zero(t, empty.Day.Entries)
	assert.Empty(t, empty.Podium)

	ttl, err := cache.TTL(context.Background(), redis.DigestKey("7a", date))
	require.NoError(t, err)
	assert.Equal(t, redis.TTLDigest, ttl)
}

func TestDailyDigestJob_QuietDay(t *testing.T) {
	reg := newRegistry(t)
	job := NewDailyDigestJob(reg, nil, DailyDigestConfig{Zone: timeutil.UTC}, discard())

	from := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	d, err := job.BuildDigest(context.Background(), "7a", "2020-01-01", from, from.Add(24*time.Hour-time.Nanosecond))
	require.NoError(t, err)
	assert.Equal(t, "2020-01-01", d.Day.Date)
	assert.Zero(t, d.Day.Net)
	assert.Equal(t, 4, d.Categories.Total)
}
