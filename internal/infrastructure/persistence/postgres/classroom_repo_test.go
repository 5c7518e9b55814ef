package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classpoints/classpoints-hub/internal/domain/classroom"
	"github.com/classpoints/classpoints-hub/internal/domain/ledger"
	"github.com/classpoints/classpoints-hub/internal/domain/points"
	"github.com/classpoints/classpoints-hub/internal/domain/reward"
	"github.com/classpoints/classpoints-hub/internal/domain/shared"
	"github.com/classpoints/classpoints-hub/internal/domain/student"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{"unique", &pgconn.PgError{Code: "23505"}, shared.ErrInvalidArgument},
		{"check", &pgconn.PgError{Code: "23514"}, shared.ErrInvalidArgument},
		{"serialization", &pgconn.PgError{Code: "40001"}, shared.ErrStorageUnavailable},
		{"closed", ErrConnectionClosed, shared.ErrStorageUnavailable},
		{"begin", fmt.Errorf("%w: dial tcp: refused", ErrTransactionFailed), shared.ErrStorageUnavailable},
		{"deadline", context.DeadlineExceeded, shared.ErrTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classify("Save", tt.err), tt.kind)
		})
	}

	assert.Nil(t, classify("Save", nil))
	assert.Same(t, shared.ErrClassNotFound, classify("Load", shared.ErrClassNotFound))

	plain := classify("List", errors.New("syntax error"))
	assert.False(t, shared.IsRetryable(plain))
	assert.Contains(t, plain.Error(), "postgres: List")
}

func TestSnapshotBatch_OrdersStudentsFirst(t *testing.T) {
	snap := testSnapshot()
	b := snapshotBatch(snap)
	// 2 students, 2 entries, 1 reward, 1 exchange.
	assert.Equal(t, 6, b.Len())
	assert.Contains(t, b.QueuedQueries[0].SQL, "INSERT INTO students")
	assert.Contains(t, b.QueuedQueries[2].SQL, "INSERT INTO log_entries")
	assert.Contains(t, b.QueuedQueries[5].SQL, "INSERT INTO exchanges")
}

func TestDefaultConfig_DSN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Password = "secret"
	dsn := cfg.DSN()
	assert.Contains(t, dsn, "host=localhost")
	assert.Contains(t, dsn, "dbname=classpoints")
	assert.Contains(t, dsn, "connect_timeout=10")

	assert.NotContains(t, DefaultConfig().DSN(), "password=")

	pc, err := cfg.PoolConfig()
	require.NoError(t, err)
	assert.Equal(t, int32(8), pc.MaxConns)
	assert.Equal(t, time.Hour, pc.MaxConnLifetime)
}

func testSnapshot() classroom.Snapshot {
	at := time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)
	return classroom.Snapshot{
		Info: classroom.Info{ID: "pg-7a", Name: "7A", CreatedAt: at},
		Ledger: ledger.Snapshot{
			Students: []student.Student{
				{ID: "s1", Number: 1, Name: "Ann", Group: "Red", Balances: points.NewBalances(3, 0, 0, 0), Currency: 3, CreatedAt: at, UpdatedAt: at},
				{ID: "s2", Number: 2, Name: "Bob", Balances: points.NewBalances(0, 0, 0, 1), Currency: 1, CreatedAt: at, UpdatedAt: at},
			},
			Entries: []ledger.LogEntry{
				{ID: "e1", Seq: 1, StudentID: "s1", Category: points.Discipline, Delta: 3, Operator: "t", CreatedAt: at},
				{ID: "e2", Seq: 2, StudentID: "s2", Category: points.Other, Delta: 1, Operator: "t", CreatedAt: at},
			},
		},
		Rewards: reward.Snapshot{
			Rewards: []reward.Reward{{ID: "r1", Name: "Pen", Cost: 2, Stock: 1, CreatedAt: at}},
			Exchanges: []reward.Exchange{{
				ID: "x1", StudentID: "s1", StudentName: "Ann", StudentNumber: 1,
				RewardID: "r1", RewardName: "Pen", Cost: 2, Operator: "t", At: at,
			}},
		},
	}
}

// The round trip needs a real server; set CLASSPOINTS_TEST_DATABASE_URL to run it.
func TestClassroomRepository_RoundTrip(t *testing.T) {
	url := os.Getenv("CLASSPOINTS_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("CLASSPOINTS_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	conn, err := NewConnectionFromURL(ctx, url, 2)
	require.NoError(t, err)
	defer conn.Close()
	_, err = NewMigrator(conn).Migrate(ctx)
	require.NoError(t, err)
	applied, err := NewMigrator(conn).Migrate(ctx)
	require.NoError(t, err)
	assert.Empty(t, applied, "second run finds nothing pending")

	status, err := NewMigrator(conn).Status(ctx)
	require.NoError(t, err)
	for _, m := range status {
		assert.False(t, m.AppliedAt.IsZero(), "migration %d applied", m.Version)
	}

	repo := NewClassroomRepository(conn)
	snap := testSnapshot()
	_ = repo.Delete(ctx, snap.Info.ID)

	require.NoError(t, repo.Save(ctx, snap))
	got, err := repo.Load(ctx, snap.Info.ID)
	require.NoError(t, err)
	assert.Equal(t, snap, got)

	snap.Ledger.Entries = snap.Ledger.Entries[:1]
	require.NoError(t, repo.Save(ctx, snap))
	got, err = repo.Load(ctx, snap.Info.ID)
	require.NoError(t, err)
	assert.Len(t, got.Ledger.Entries, 1)

	infos, err := repo.List(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, infos)

	require.NoError(t, repo.Delete(ctx, snap.Info.ID))
	_, err = repo.Load(ctx, snap.Info.ID)
	assert.ErrorIs(t, err, shared.ErrClassNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, snap.Info.ID), shared.ErrClassNotFound)

	health, err := conn.Health(ctx)
	require.NoError(t, err)
	assert.True(t, health.Healthy)

	conn.Close()
	assert.ErrorIs(t, conn.Ping(ctx), ErrConnectionClosed)
}
