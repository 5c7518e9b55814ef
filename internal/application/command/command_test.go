package command

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classpoints/classpoints-hub/internal/domain/classroom"
	"github.com/classpoints/classpoints-hub/internal/domain/importer"
	"github.com/classpoints/classpoints-hub/internal/domain/ledger"
	"github.com/classpoints/classpoints-hub/internal/domain/points"
	"github.com/classpoints/classpoints-hub/internal/domain/reward"
	"github.com/classpoints/classpoints-hub/internal/domain/shared"
	"github.com/classpoints/classpoints-hub/internal/domain/student"
	"github.com/classpoints/classpoints-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// FAKES
// ══════════════════════════════════════════════════════════════════════════════

type fakeRepo struct {
	mu      sync.Mutex
	snaps   map[string]classroom.Snapshot
	saves   int
	saveErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{snaps: make(map[string]classroom.Snapshot)}
}

func (r *fakeRepo) Load(_ context.Context, id string) (classroom.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.snaps[id]
	if !ok {
		return classroom.Snapshot{}, shared.ErrClassNotFound
	}
	return s, nil
}

func (r *fakeRepo) Save(_ context.Context, snap classroom.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	if r.saveErr != nil {
		return r.saveErr
	}
	r.snaps[snap.Info.ID] = snap
	return nil
}

func (r *fakeRepo) List(_ context.Context) ([]classroom.Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]classroom.Info, 0, len(r.snaps))
	for _, s := range r.snaps {
		out = append(out, s.Info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.snaps, id)
	return nil
}

func (r *fakeRepo) saveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []shared.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]shared.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType()
	}
	return out
}

type recordingMetrics struct {
	adjustments []int
	importRows  map[string]int
	redemptions []string
	checkpoints int
}

func (m *recordingMetrics) RecordAdjustment(_, _ string, effective int) {
	m.adjustments = append(m.adjustments, effective)
}

func (m *recordingMetrics) RecordImportRows(outcome string, n int) {
	if m.importRows == nil {
		m.importRows = make(map[string]int)
	}
	m.importRows[outcome] += n
}

func (m *recordingMetrics) RecordRedemption(outcome string) {
	m.redemptions = append(m.redemptions, outcome)
}

func (m *recordingMetrics) RecordCheckpoint(time.Duration, error) { m.checkpoints++ }

type fixture struct {
	repo    *fakeRepo
	events  *recordingPublisher
	metrics *recordingMetrics
	deps    Deps
	class   *classroom.Classroom
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{repo: newFakeRepo(), events: &recordingPublisher{}, metrics: &recordingMetrics{}}
	reg := classroom.NewRegistry(f.repo, classroom.RegistryConfig{
		Retrier: retry.StorageRetrier(shared.IsRetryable, retry.WithInitialDelay(time.Millisecond)),
	})
	f.deps = Deps{Registry: reg, Events: f.events, Metrics: f.metrics}

	c, err := reg.Create(context.Background(), "7a", "Class 7A")
	require.NoError(t, err)
	f.class = c
	return f
}

func (f *fixture) addStudent(t *testing.T, number int, name, group string) *student.Student {
	t.Helper()
	s, err := f.class.Ledger.AddStudent(student.Profile{Number: student.Number(number), Name: name, Group: group})
	require.NoError(t, err)
	return s
}

var testItems = points.ItemSet{
	"homework": {ID: "homework", Name: "Homework done", Category: points.Academic, Points: 2, Direction: points.Credit},
}

// ══════════════════════════════════════════════════════════════════════════════
// ADJUST
// ══════════════════════════════════════════════════════════════════════════════

func TestAdjustPoints_CreditThenClampedDebit(t *testing.T) {
	f := newFixture(t)
	s := f.addStudent(t, 1, "Ann", "")
	h := NewAdjustPointsHandler(f.deps, nil)
	ctx := context.Background()

	res, err := h.Handle(ctx, AdjustPointsCommand{
		ClassID:   "7a",
		StudentID: s.ID,
		AdjustmentSpec: AdjustmentSpec{
			Category: points.Hygiene, Amount: 3, Direction: points.Credit, Operator: "teacher",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Effective)
	assert.Equal(t, 3, res.Student.Currency)
	require.NotNil(t, res.Entry)
	assert.Equal(t, 3, res.Entry.Delta)

	res, err = h.Handle(ctx, AdjustPointsCommand{
		ClassID:   "7a",
		StudentID: s.ID,
		AdjustmentSpec: AdjustmentSpec{
			Category: points.Hygiene, Amount: 10, Direction: points.Debit, Operator: "teacher",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 10, res.Requested)
	assert.Equal(t, 3, res.Effective)
	assert.Equal(t, -3, res.CurrencyDelta)
	assert.Equal(t, 0, res.Student.Balances.Get(points.Hygiene))
	assert.Equal(t, -3, res.Entry.Delta)

	assert.Equal(t, []shared.EventType{shared.EventPointsAdjusted, shared.EventPointsAdjusted}, f.events.types())
	assert.Equal(t, []int{3, 3}, f.metrics.adjustments)

	stored, err := f.repo.Load(ctx, "7a")
	require.NoError(t, err)
	assert.Len(t, stored.Ledger.Entries, 2)
}

func TestAdjustPoints_DebitOnEmptyBalanceIsNoOp(t *testing.T) {
	f := newFixture(t)
	s := f.addStudent(t, 1, "Ann", "")
	savesBefore := f.repo.saveCount()

	res, err := NewAdjustPointsHandler(f.deps, nil).Handle(context.Background(), AdjustPointsCommand{
		ClassID:   "7a",
		StudentID: s.ID,
		AdjustmentSpec: AdjustmentSpec{
			Category: points.Discipline, Amount: 5, Direction: points.Debit, Operator: "teacher",
		},
	})
	require.NoError(t, err)
	assert.False(t, res.Applied())
	assert.Nil(t, res.Entry)
	assert.Empty(t, f.events.types())
	assert.Equal(t, savesBefore, f.repo.saveCount())
	assert.Empty(t, f.class.Ledger.Logs(s.ID))
}

func TestAdjustPoints_ItemPreset(t *testing.T) {
	f := newFixture(t)
	s := f.addStudent(t, 1, "Ann", "")
	h := NewAdjustPointsHandler(f.deps, testItems)

	res, err := h.Handle(context.Background(), AdjustPointsCommand{
		ClassID:        "7a",
		StudentID:      s.ID,
		AdjustmentSpec: AdjustmentSpec{ItemID: "homework", Operator: "teacher"},
	})
	require.NoError(t, err)
	assert.Equal(t, points.Academic, res.Category)
	assert.Equal(t, 2, res.Student.Balances.Get(points.Academic))
	assert.Equal(t, "Homework done", res.Entry.Reason)
	assert.Equal(t, "homework", res.Entry.ItemID)

	_, err = h.Handle(context.Background(), AdjustPointsCommand{
		ClassID:        "7a",
		StudentID:      s.ID,
		AdjustmentSpec: AdjustmentSpec{ItemID: "missing", Operator: "teacher"},
	})
	assert.True(t, shared.IsNotFound(err))
}

func TestAdjustPoints_Validation(t *testing.T) {
	f := newFixture(t)
	s := f.addStudent(t, 1, "Ann", "")
	h := NewAdjustPointsHandler(f.deps, nil)
	valid := AdjustmentSpec{Category: points.Other, Amount: 1, Direction: points.Credit, Operator: "t"}

	tests := []struct {
		name  string
		cmd   AdjustPointsCommand
		check func(error) bool
	}{
		{"missing class", AdjustPointsCommand{StudentID: s.ID, AdjustmentSpec: valid}, shared.IsInvalidArgument},
		{"missing student", AdjustPointsCommand{ClassID: "7a", AdjustmentSpec: valid}, shared.IsInvalidArgument},
		{"unknown student", AdjustPointsCommand{ClassID: "7a", StudentID: "nope", AdjustmentSpec: valid}, shared.IsNotFound},
		{"unknown class", AdjustPointsCommand{ClassID: "9z", StudentID: s.ID, AdjustmentSpec: valid}, shared.IsNotFound},
		{"zero amount", AdjustPointsCommand{ClassID: "7a", StudentID: s.ID, AdjustmentSpec: AdjustmentSpec{
			Category: points.Other, Direction: points.Credit, Operator: "t"}}, shared.IsInvalidArgument},
		{"bad category", AdjustPointsCommand{ClassID: "7a", StudentID: s.ID, AdjustmentSpec: AdjustmentSpec{
			Category: "music", Amount: 1, Direction: points.Credit, Operator: "t"}}, shared.IsInvalidArgument},
		{"no operator", AdjustPointsCommand{ClassID: "7a", StudentID: s.ID, AdjustmentSpec: AdjustmentSpec{
			Category: points.Other, Amount: 1, Direction: points.Credit}}, shared.IsInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Handle(context.Background(), tt.cmd)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error kind: %v", err)
		})
	}
	assert.Empty(t, f.events.types())
}

func TestAdjustPoints_CheckpointFailure(t *testing.T) {
	f := newFixture(t)
	s := f.addStudent(t, 1, "Ann", "")
	ctx := context.Background()
	require.NoError(t, f.deps.Registry.Checkpoint(ctx, "7a"))
	f.repo.saveErr = errors.New("disk full")

	h := NewAdjustPointsHandler(f.deps, nil)
	cmd := AdjustPointsCommand{
		ClassID:   "7a",
		StudentID: s.ID,
		AdjustmentSpec: AdjustmentSpec{
			Category: points.Other, Amount: 5, Direction: points.Credit, Operator: "t",
		},
	}
	_, err := h.Handle(ctx, cmd)
	assert.ErrorContains(t, err, "disk full")
	assert.Empty(t, f.events.types(), "events follow a successful checkpoint only")

	c, err := f.deps.Registry.Open(ctx, "7a")
	require.NoError(t, err)
	got, err := c.Ledger.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Total(), "failed adjustment must not survive in memory")
	assert.Equal(t, 0, got.Currency)
	assert.Empty(t, c.Ledger.Logs(s.ID))

	// A retry after the store recovers credits exactly once.
	f.repo.saveErr = nil
	res, err := h.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Student.Total())
	assert.Equal(t, 5, res.Student.Currency)
}

// ══════════════════════════════════════════════════════════════════════════════
// BATCH
// ══════════════════════════════════════════════════════════════════════════════

func TestBatchAdjustPoints_PartialFailure(t *testing.T) {
	f := newFixture(t)
	a := f.addStudent(t, 1, "Ann", "")
	b := f.addStudent(t, 2, "Bob", "")

	res, err := NewBatchAdjustPointsHandler(f.deps, nil).Handle(context.Background(), BatchAdjustPointsCommand{
		ClassID:    "7a",
		StudentIDs: []string{a.ID, "ghost", b.ID, a.ID},
		AdjustmentSpec: AdjustmentSpec{
			Category: points.Discipline, Amount: 2, Direction: points.Credit, Operator: "t",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Requested)
	assert.Equal(t, 2, res.Applied)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Items, 3)
	assert.True(t, shared.IsNotFound(res.Items[1].Err))
	assert.Len(t, f.events.types(), 2)

	got, err := f.class.Ledger.Get(b.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Total())
}

func TestBatchAdjustPoints_AllStudentsDebit(t *testing.T) {
	f := newFixture(t)
	a := f.addStudent(t, 1, "Ann", "")
	f.addStudent(t, 2, "Bob", "")
	_, err := f.class.Ledger.ApplyAdjustment(ledger.Adjustment{
		StudentID: a.ID, Category: points.Hygiene, Amount: 1, Direction: points.Credit, Operator: "t",
	})
	require.NoError(t, err)

	res, err := NewBatchAdjustPointsHandler(f.deps, nil).Handle(context.Background(), BatchAdjustPointsCommand{
		ClassID:     "7a",
		AllStudents: true,
		AdjustmentSpec: AdjustmentSpec{
			Category: points.Hygiene, Amount: 4, Direction: points.Debit, Operator: "t",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Requested)
	assert.Equal(t, 1, res.Applied, "the student with nothing to lose is unchanged")
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, -1, res.Items[0].Entry.Delta)
	assert.Nil(t, res.Items[1].Entry)
}

func TestBatchAdjustPoints_InvalidSharedParameters(t *testing.T) {
	f := newFixture(t)
	a := f.addStudent(t, 1, "Ann", "")
	h := NewBatchAdjustPointsHandler(f.deps, nil)

	_, err := h.Handle(context.Background(), BatchAdjustPointsCommand{ClassID: "7a"})
	assert.True(t, shared.IsInvalidArgument(err))

	_, err = h.Handle(context.Background(), BatchAdjustPointsCommand{
		ClassID:    "7a",
		StudentIDs: []string{a.ID},
		AdjustmentSpec: AdjustmentSpec{
			Category: points.Hygiene, Amount: -1, Direction: points.Credit, Operator: "t",
		},
	})
	assert.True(t, shared.IsInvalidArgument(err))
	assert.Empty(t, f.class.Ledger.Logs(a.ID))
}

// ══════════════════════════════════════════════════════════════════════════════
// IMPORT
// ══════════════════════════════════════════════════════════════════════════════

func TestImportStudents(t *testing.T) {
	f := newFixture(t)
	f.addStudent(t, 1, "Ann", "")
	h := NewImportStudentsHandler(f.deps)

	rows := []importer.Row{
		{Line: 2, Number: 1, Name: "Ann B.", Total: 5},
		{Line: 3, Number: 2, Name: "Bob", Group: "A", Total: 6},
		{Line: 4, Number: 0, Name: "Nobody"},
	}

	res, err := h.Handle(context.Background(), ImportStudentsCommand{ClassID: "7a", Rows: rows, Policy: ledger.SkipExisting})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, f.metrics.importRows["created"])
	assert.Equal(t, []shared.EventType{shared.EventStudentsImported}, f.events.types())

	bob, err := f.class.Ledger.GetByNumber(2)
	require.NoError(t, err)
	assert.Equal(t, points.Balances{2, 2, 1, 1}, bob.Balances)
	assert.Equal(t, 6, bob.Currency)

	res, err = h.Handle(context.Background(), ImportStudentsCommand{ClassID: "7a", Rows: rows[:1], Policy: ledger.OverrideExisting})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	ann, err := f.class.Ledger.GetByNumber(1)
	require.NoError(t, err)
	assert.Equal(t, "Ann B.", ann.Name)
	assert.Equal(t, 5, ann.Total())

	_, err = h.Handle(context.Background(), ImportStudentsCommand{ClassID: "7a", Rows: rows, Policy: "merge"})
	assert.ErrorIs(t, err, shared.ErrInvalidConflictPolicy)
}

// ══════════════════════════════════════════════════════════════════════════════
// STUDENTS
// ══════════════════════════════════════════════════════════════════════════════

func TestSaveAndDeleteStudent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	save := NewSaveStudentHandler(f.deps)

	created, err := save.Handle(ctx, SaveStudentCommand{ClassID: "7a", Profile: student.Profile{Number: 4, Name: " Dana "}})
	require.NoError(t, err)
	assert.True(t, created.Created)
	assert.Equal(t, "Dana", created.Student.Name)

	_, err = save.Handle(ctx, SaveStudentCommand{ClassID: "7a", Profile: student.Profile{Number: 4, Name: "Dup"}})
	assert.True(t, shared.IsAlreadyExists(err))

	edited, err := save.Handle(ctx, SaveStudentCommand{
		ClassID: "7a", StudentID: created.Student.ID, Profile: student.Profile{Number: 5, Name: "Dana", Group: "B"},
	})
	require.NoError(t, err)
	assert.False(t, edited.Created)
	assert.Equal(t, student.Number(5), edited.Student.Number)

	_, err = f.class.Ledger.ApplyAdjustment(ledger.Adjustment{
		StudentID: created.Student.ID, Category: points.Other, Amount: 1, Direction: points.Credit, Operator: "t",
	})
	require.NoError(t, err)

	del := NewDeleteStudentHandler(f.deps)
	res, err := del.Handle(ctx, DeleteStudentCommand{ClassID: "7a", StudentID: created.Student.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, res.RemovedEntries)
	assert.Empty(t, f.class.Ledger.ClassLogs())

	_, err = del.Handle(ctx, DeleteStudentCommand{ClassID: "7a", StudentID: created.Student.ID})
	assert.True(t, shared.IsNotFound(err))

	assert.Equal(t, []shared.EventType{
		shared.EventStudentSaved, shared.EventStudentSaved, shared.EventStudentDeleted,
	}, f.events.types())
}

// ══════════════════════════════════════════════════════════════════════════════
// REWARDS
// ══════════════════════════════════════════════════════════════════════════════

func TestManageAndRedeemReward(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.addStudent(t, 1, "Ann", "")
	_, err := f.class.Ledger.ApplyAdjustment(ledger.Adjustment{
		StudentID: s.ID, Category: points.Academic, Amount: 5, Direction: points.Credit, Operator: "t",
	})
	require.NoError(t, err)

	manage := NewManageRewardHandler(f.deps)
	added, err := manage.Handle(ctx, ManageRewardCommand{
		ClassID: "7a", Action: RewardAdd, Input: reward.Input{Name: "Sticker", Cost: 3, Stock: 1},
	})
	require.NoError(t, err)
	id := added.Reward.ID

	updated, err := manage.Handle(ctx, ManageRewardCommand{
		ClassID: "7a", Action: RewardUpdate, RewardID: id, Input: reward.Input{Name: "Sticker", Cost: 4, Stock: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, updated.Reward.Cost)

	redeem := NewRedeemRewardHandler(f.deps)
	res, err := redeem.Handle(ctx, RedeemRewardCommand{ClassID: "7a", StudentID: s.ID, RewardID: id, Operator: "t"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Student.Currency)
	assert.Equal(t, 5, res.Student.Total(), "redemption never touches category balances")
	assert.Equal(t, "Sticker", res.Exchange.RewardName)

	_, err = redeem.Handle(ctx, RedeemRewardCommand{ClassID: "7a", StudentID: s.ID, RewardID: id, Operator: "t"})
	assert.ErrorIs(t, err, shared.ErrOutOfStock)

	_, err = manage.Handle(ctx, ManageRewardCommand{
		ClassID: "7a", Action: RewardUpdate, RewardID: id, Input: reward.Input{Name: "Sticker", Cost: 4, Stock: 2},
	})
	require.NoError(t, err)
	_, err = redeem.Handle(ctx, RedeemRewardCommand{ClassID: "7a", StudentID: s.ID, RewardID: id, Operator: "t"})
	assert.ErrorIs(t, err, shared.ErrInsufficientBalance)

	assert.Equal(t, []string{"ok", "out_of_stock", "insufficient"}, f.metrics.redemptions)

	_, err = manage.Handle(ctx, ManageRewardCommand{ClassID: "7a", Action: RewardRemove, RewardID: id})
	require.NoError(t, err)
	assert.Len(t, f.class.Rewards.Exchanges(), 1, "history outlives the reward")

	_, err = manage.Handle(ctx, ManageRewardCommand{ClassID: "7a", Action: "rename"})
	assert.True(t, shared.IsInvalidArgument(err))
}

func TestCreateClass(t *testing.T) {
	f := newFixture(t)
	h := NewCreateClassHandler(f.deps)

	info, err := h.Handle(context.Background(), CreateClassCommand{ClassID: "8b"})
	require.NoError(t, err)
	assert.Equal(t, "8b", info.Name)

	_, err = h.Handle(context.Background(), CreateClassCommand{ClassID: "7a"})
	assert.True(t, shared.IsAlreadyExists(err))

	_, err = h.Handle(context.Background(), CreateClassCommand{ClassID: "Bad Id"})
	assert.True(t, shared.IsInvalidArgument(err))
}
