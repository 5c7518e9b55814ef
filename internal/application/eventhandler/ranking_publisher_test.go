package eventhandler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classpoints/classpoints-hub/internal/domain/classroom"
	"github.com/classpoints/classpoints-hub/internal/domain/ledger"
	"github.com/classpoints/classpoints-hub/internal/domain/points"
	"github.com/classpoints/classpoints-hub/internal/domain/report"
	"github.com/classpoints/classpoints-hub/internal/domain/shared"
	"github.com/classpoints/classpoints-hub/internal/domain/student"
	"github.com/classpoints/classpoints-hub/pkg/circuitbreaker"
	"github.com/classpoints/classpoints-hub/pkg/retry"
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

func (m *memRepo) List(context.Context) ([]classroom.Info, error) { return nil, nil }
func (m *memRepo) Delete(context.Context, string) error           { return nil }

type fakeStore struct {
	mu        sync.Mutex
	published map[string][]report.RankingEntry
	fail      int
	calls     int
}

func (f *fakeStore) PublishRanking(_ context.Context, classID string, entries []report.RankingEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail > 0 {
		f.fail--
		return errors.New("connection reset")
	}
	f.published[classID] = entries
	return nil
}

type subscriptions struct {
	types []shared.EventType
}

func (s *subscriptions) Subscribe(t shared.EventType, _ shared.EventHandler) error {
	s.types = append(s.types, t)
	return nil
}

func (s *subscriptions) SubscribeAll(shared.EventHandler) error { return nil }

func setup(t *testing.T) (*classroom.Registry, *fakeStore, *RankingPublisher) {
	t.Helper()
	reg := classroom.NewRegistry(&memRepo{snaps: map[string]classroom.Snapshot{}}, classroom.RegistryConfig{})
	c, err := reg.Create(context.Background(), "7a", "7A")
	require.NoError(t, err)

	ann, err := c.Ledger.AddStudent(student.Profile{Number: 1, Name: "Ann"})
	require.NoError(t, err)
	_, err = c.Ledger.AddStudent(student.Profile{Number: 2, Name: "Bob"})
	require.NoError(t, err)
	_, err = c.Ledger.ApplyAdjustment(ledger.Adjustment{
		StudentID: ann.ID, Category: points.Academic, Amount: 3, Direction: points.Credit, Operator: "t",
	})
	require.NoError(t, err)

	store := &fakeStore{published: map[string][]report.RankingEntry{}}
	pub := NewRankingPublisher(reg, store, RankingPublisherConfig{
		Retrier: retry.ProjectionRetrier(retry.WithInitialDelay(time.Millisecond), retry.WithMaxDelay(time.Millisecond)),
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return reg, store, pub
}

func TestRankingPublisher_HandlePublishesClassRanking(t *testing.T) {
	_, store, pub := setup(t)

	require.NoError(t, pub.Handle(shared.NewStudentSavedEvent("7a", "x", true)))

	ranking := store.published["7a"]
	require.Len(t, ranking, 2)
	assert.Equal(t, "Ann", ranking[0].Name)
	assert.Equal(t, 3, ranking[0].Total)
	assert.Equal(t, 2, ranking[1].Rank)
}

func TestRankingPublisher_RetriesStoreFailures(t *testing.T) {
	_, store, pub := setup(t)
	store.fail = 1

	require.NoError(t, pub.PublishClass(context.Background(), "7a"))
	assert.Equal(t, 2, store.calls)

	store.fail = 5
	err := pub.PublishClass(context.Background(), "7a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestRankingPublisher_BreakerFailsFast(t *testing.T) {
	reg, store, _ := setup(t)
	store.fail = 100
	breaker := circuitbreaker.New("test", circuitbreaker.WithFailureThreshold(1), circuitbreaker.WithTimeout(time.Hour))
	pub := NewRankingPublisher(reg, store, RankingPublisherConfig{
		Retrier: retry.ProjectionRetrier(retry.WithInitialDelay(time.Millisecond), retry.WithMaxDelay(time.Millisecond)),
		Breaker: breaker,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	require.Error(t, pub.PublishClass(context.Background(), "7a"))
	calls := store.calls

	err := pub.PublishClass(context.Background(), "7a")
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, calls, store.calls, "an open breaker never reaches the store")
}

func TestRankingPublisher_UnknownClass(t *testing.T) {
	_, store, pub := setup(t)

	err := pub.Handle(shared.NewStudentDeletedEvent("9z", "s1", 0))
	assert.True(t, shared.IsNotFound(err))
	assert.Zero(t, store.calls)
}

func TestRankingPublisher_RegisterSkipsRedemptions(t *testing.T) {
	_, _, pub := setup(t)
	subs := &subscriptions{}

	require.NoError(t, pub.Register(subs))
	assert.Len(t, subs.types, 4)
	assert.NotContains(t, subs.types, shared.EventRewardRedeemed)
}
