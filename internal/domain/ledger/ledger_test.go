package ledger

import (
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classpoints/classpoints-hub/internal/domain/points"
	"github.com/classpoints/classpoints-hub/internal/domain/shared"
	"github.com/classpoints/classpoints-hub/internal/domain/student"
)

// ──────────────────────────────────────────────────────────────────────────────
// Fixtures
// ──────────────────────────────────────────────────────────────────────────────

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC)}
	n := 0
	var mu sync.Mutex
	return New("class-1",
		WithClock(clock.Now),
		WithIDGenerator(func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("id-%d", n)
		}),
	)
}

func addStudent(t *testing.T, l *Ledger, number int, name, group string) *student.Student {
	t.Helper()
	s, err := l.AddStudent(student.Profile{Number: student.Number(number), Name: name, Group: group})
	require.NoError(t, err)
	return s
}

func credit(id string, c points.Category, amount int) Adjustment {
	return Adjustment{StudentID: id, Category: c, Amount: amount, Direction: points.Credit, Operator: "teacher"}
}

func debit(id string, c points.Category, amount int) Adjustment {
	return Adjustment{StudentID: id, Category: c, Amount: amount, Direction: points.Debit, Operator: "teacher"}
}

// ──────────────────────────────────────────────────────────────────────────────
// ApplyAdjustment
// ──────────────────────────────────────────────────────────────────────────────

func TestApplyAdjustment_Credit(t *testing.T) {
	l := newTestLedger(t)
	s := addStudent(t, l, 1, "Ann", "")

	res, err := l.ApplyAdjustment(credit(s.ID, points.Academic, 5))
	require.NoError(t, err)

	assert.Equal(t, 5, res.Effective)
	assert.Equal(t, 5, res.CurrencyDelta)
	assert.Equal(t, 5, res.Student.Balances.Get(points.Academic))
	assert.Equal(t, 5, res.Student.Currency)
	require.NotNil(t, res.Entry)
	assert.Equal(t, 5, res.Entry.Delta)
	assert.Equal(t, "teacher", res.Entry.Operator)
}

func TestApplyAdjustment_DebitClampsAndLogsEffective(t *testing.T) {
	l := newTestLedger(t)
	s := addStudent(t, l, 1, "Ann", "")
	_, err := l.ApplyAdjustment(credit(s.ID, points.Hygiene, 3))
	require.NoError(t, err)

	res, err := l.ApplyAdjustment(debit(s.ID, points.Hygiene, 10))
	require.NoError(t, err)

	assert.Equal(t, 3, res.Effective)
	assert.Equal(t, 0, res.Student.Balances.Get(points.Hygiene))
	assert.Equal(t, 0, res.Student.Currency)
	require.NotNil(t, res.Entry)
	assert.Equal(t, -3, res.Entry.Delta, "log records the clamped amount, not the request")
}

func TestApplyAdjustment_DebitCurrencyClampsAfterSpend(t *testing.T) {
	l := newTestLedger(t)
	s := addStudent(t, l, 1, "Ann", "")
	_, err := l.ApplyAdjustment(credit(s.ID, points.Other, 10))
	require.NoError(t, err)

	taken, _, err := l.DebitCurrency(s.ID, 8, true)
	require.NoError(t, err)
	assert.Equal(t, 8, taken)

	res, err := l.ApplyAdjustment(debit(s.ID, points.Other, 5))
	require.NoError(t, err)
	assert.Equal(t, 5, res.Effective)
	assert.Equal(t, -2, res.CurrencyDelta)
	assert.Equal(t, 5, res.Student.Balances.Get(points.Other))
	assert.Equal(t, 0, res.Student.Currency)
}

func TestApplyAdjustment_CreditOverflowIsRejected(t *testing.T) {
	l := newTestLedger(t)
	s := addStudent(t, l, 1, "Ann", "")
	_, err := l.ApplyAdjustment(credit(s.ID, points.Other, 1))
	require.NoError(t, err)

	_, err = l.ApplyAdjustment(credit(s.ID, points.Other, math.MaxInt))
	assert.ErrorIs(t, err, shared.ErrPointsOverflow)
	assert.True(t, shared.IsInvalidArgument(err))

	got, err := l.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Balances.Get(points.Other))
	assert.Equal(t, 1, got.Currency)
	assert.Len(t, l.Logs(s.ID), 1)

	// A credit into another category still counts against the total.
	_, err = l.ApplyAdjustment(credit(s.ID, points.Academic, math.MaxInt))
	assert.ErrorIs(t, err, shared.ErrPointsOverflow)

	res, err := l.ApplyAdjustment(credit(s.ID, points.Academic, math.MaxInt-1))
	require.NoError(t, err)
	assert.Equal(t, math.MaxInt, res.Student.Total())
	assert.Equal(t, math.MaxInt, res.Student.Currency)
}

func TestApplyAdjustment_NoopDebitIsNotLogged(t *testing.T) {
	l := newTestLedger(t)
	s := addStudent(t, l, 1, "Ann", "")

	res, err := l.ApplyAdjustment(debit(s.ID, points.Discipline, 4))
	require.NoError(t, err)

	assert.False(t, res.Applied())
	assert.Nil(t, res.Entry)
	assert.Empty(t, l.Logs(s.ID))
	assert.Empty(t, l.ClassLogs())
}

func TestApplyAdjustment_Errors(t *testing.T) {
	l := newTestLedger(t)
	s := addStudent(t, l, 1, "Ann", "")

	tests := []struct {
		name string
		adj  Adjustment
		is   error
	}{
		{"unknown student", credit("nope", points.Academic, 1), shared.ErrNotFound},
		{"zero amount", credit(s.ID, points.Academic, 0), shared.ErrInvalidArgument},
		{"negative amount", credit(s.ID, points.Academic, -2), shared.ErrInvalidArgument},
		{"bad category", credit(s.ID, points.Category("art"), 1), shared.ErrInvalidArgument},
		{"bad direction", Adjustment{StudentID: s.ID, Category: points.Academic, Amount: 1, Direction: "up", Operator: "t"}, shared.ErrInvalidArgument},
		{"no operator", Adjustment{StudentID: s.ID, Category: points.Academic, Amount: 1, Direction: points.Credit}, shared.ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.ApplyAdjustment(tt.adj)
			assert.ErrorIs(t, err, tt.is)
		})
	}

	got, err := l.Get(s.ID)
	require.NoError(t, err)
	assert.True(t, got.Balances.IsZero(), "failed adjustments leave no partial state")
	assert.Empty(t, l.ClassLogs())
}

func TestApplyAdjustment_BalancesNeverNegative(t *testing.T) {
	l := newTestLedger(t)
	s := addStudent(t, l, 1, "Ann", "")

	seq := []Adjustment{
		credit(s.ID, points.Academic, 3),
		debit(s.ID, points.Academic, 2),
		debit(s.ID, points.Academic, 7),
		credit(s.ID, points.Hygiene, 1),
		debit(s.ID, points.Hygiene, 1),
		debit(s.ID, points.Hygiene, 1),
		credit(s.ID, points.Academic, 4),
	}
	for _, adj := range seq {
		res, err := l.ApplyAdjustment(adj)
		require.NoError(t, err)
		assert.False(t, res.Student.Balances.HasNegative())
		assert.GreaterOrEqual(t, res.Student.Currency, 0)
	}

	got, _ := l.Get(s.ID)
	assert.Equal(t, 4, got.Balances.Get(points.Academic))
	assert.Equal(t, 4, got.Currency)
	assert.Len(t, l.Logs(s.ID), 6, "only the no-op hygiene debit is missing")
}

func TestApplyAdjustment_ConcurrentDebitsStayNonNegative(t *testing.T) {
	l := newTestLedger(t)
	s := addStudent(t, l, 1, "Ann", "")
	_, err := l.ApplyAdjustment(credit(s.ID, points.Academic, 50))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.ApplyAdjustment(debit(s.ID, points.Academic, 1))
		}()
	}
	wg.Wait()

	got, _ := l.Get(s.ID)
	assert.Equal(t, 0, got.Balances.Get(points.Academic))
	assert.Len(t, l.Logs(s.ID), 51, "one credit and exactly fifty effective debits")
}

// ──────────────────────────────────────────────────────────────────────────────
// Batch
// ──────────────────────────────────────────────────────────────────────────────

func TestApplyBatchAdjustment_PartialFailure(t *testing.T) {
	l := newTestLedger(t)
	a := addStudent(t, l, 1, "Ann", "")
	b := addStudent(t, l, 2, "Bob", "")
	_, err := l.ApplyAdjustment(credit(a.ID, points.Discipline, 2))
	require.NoError(t, err)

	res, err := l.ApplyBatchAdjustment([]string{a.ID, "ghost", b.ID, a.ID}, debit("", points.Discipline, 1))
	require.NoError(t, err)

	assert.Equal(t, 3, res.Requested, "duplicates collapse")
	assert.Equal(t, 1, res.Applied, "only Ann had points to debit")
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Items, 3)
	assert.Equal(t, a.ID, res.Items[0].StudentID)
	assert.True(t, shared.IsNotFound(res.Items[1].Err))
	assert.NoError(t, res.Items[2].Err)
	assert.False(t, res.Items[2].Result.Applied())
}

func TestLogEntry_DirectionAndMagnitude(t *testing.T) {
	add := LogEntry{Delta: 4}
	sub := LogEntry{Delta: -3}
	assert.Equal(t, points.Credit, add.Direction())
	assert.Equal(t, 4, add.Magnitude())
	assert.Equal(t, points.Debit, sub.Direction())
	assert.Equal(t, 3, sub.Magnitude())
}

func TestApplyBatchAdjustment_InvalidTemplate(t *testing.T) {
	l := newTestLedger(t)
	a := addStudent(t, l, 1, "Ann", "")

	_, err := l.ApplyBatchAdjustment([]string{a.ID}, credit("", points.Academic, 0))
	assert.ErrorIs(t, err, shared.ErrInvalidArgument)
	assert.Empty(t, l.ClassLogs())
}

// ──────────────────────────────────────────────────────────────────────────────
// Students
// ──────────────────────────────────────────────────────────────────────────────

func TestAddStudent_NumberUnique(t *testing.T) {
	l := newTestLedger(t)
	addStudent(t, l, 1, "Ann", "")

	_, err := l.AddStudent(student.Profile{Number: 1, Name: "Other"})
	assert.True(t, shared.IsAlreadyExists(err))

	_, err = l.AddStudent(student.Profile{Number: 2, Name: " "})
	assert.True(t, shared.IsInvalidArgument(err))
}

func TestUpdateProfile(t *testing.T) {
	l := newTestLedger(t)
	a := addStudent(t, l, 1, "Ann", "A")
	addStudent(t, l, 2, "Bob", "")
	_, err := l.ApplyAdjustment(credit(a.ID, points.Academic, 3))
	require.NoError(t, err)

	_, err = l.UpdateProfile(a.ID, student.Profile{Number: 2, Name: "Ann"})
	assert.True(t, shared.IsAlreadyExists(err))

	got, err := l.UpdateProfile(a.ID, student.Profile{Number: 9, Name: "Anna", Group: "B"})
	require.NoError(t, err)
	assert.Equal(t, student.Number(9), got.Number)
	assert.Equal(t, 3, got.Total(), "balances untouched")

	byNum, err := l.GetByNumber(9)
	require.NoError(t, err)
	assert.Equal(t, a.ID, byNum.ID)
	_, err = l.GetByNumber(1)
	assert.True(t, shared.IsNotFound(err))
}

func TestDeleteStudent_CascadesLogs(t *testing.T) {
	l := newTestLedger(t)
	a := addStudent(t, l, 1, "Ann", "")
	b := addStudent(t, l, 2, "Bob", "")
	for i := 0; i < 3; i++ {
		_, err := l.ApplyAdjustment(credit(a.ID, points.Academic, 1))
		require.NoError(t, err)
	}
	_, err := l.ApplyAdjustment(credit(b.ID, points.Academic, 1))
	require.NoError(t, err)

	removed, err := l.DeleteStudent(a.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	assert.Empty(t, l.Logs(a.ID), "logs of a deleted student read as empty, not an error")
	assert.Len(t, l.ClassLogs(), 1)

	_, err = l.DeleteStudent(a.ID)
	assert.True(t, shared.IsNotFound(err))

	// The number is free again.
	addStudent(t, l, 1, "Newcomer", "")
}

func TestLogs_NewestFirst(t *testing.T) {
	l := newTestLedger(t)
	a := addStudent(t, l, 1, "Ann", "")
	for i := 1; i <= 3; i++ {
		_, err := l.ApplyAdjustment(credit(a.ID, points.Academic, i))
		require.NoError(t, err)
	}

	logs := l.Logs(a.ID)
	require.Len(t, logs, 3)
	assert.Equal(t, []int{3, 2, 1}, []int{logs[0].Delta, logs[1].Delta, logs[2].Delta})
}

func TestGroups(t *testing.T) {
	l := newTestLedger(t)
	addStudent(t, l, 1, "Ann", "B")
	addStudent(t, l, 2, "Bob", "A")
	addStudent(t, l, 3, "Cid", "")
	addStudent(t, l, 4, "Dee", "A")

	assert.Equal(t, []string{"A", "B"}, l.Groups())
}

// ──────────────────────────────────────────────────────────────────────────────
// UpsertByNumber
// ──────────────────────────────────────────────────────────────────────────────

func TestUpsertByNumber(t *testing.T) {
	l := newTestLedger(t)

	out, s, err := l.UpsertByNumber(student.Profile{Number: 5, Name: "Eve"}, points.Redistribute(26), SkipExisting)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, out)
	assert.Equal(t, points.NewBalances(7, 7, 6, 6), s.Balances)
	assert.Equal(t, 26, s.Currency)

	_, _, err = l.DebitCurrency(s.ID, 20, true)
	require.NoError(t, err)

	t.Run("skip leaves the student untouched", func(t *testing.T) {
		out, got, err := l.UpsertByNumber(student.Profile{Number: 5, Name: "Someone"}, points.NewBalances(1, 1, 1, 1), SkipExisting)
		require.NoError(t, err)
		assert.Equal(t, OutcomeSkipped, out)
		assert.Equal(t, "Eve", got.Name)
		assert.Equal(t, 6, got.Currency)
	})

	t.Run("override resets currency to the new sum", func(t *testing.T) {
		out, got, err := l.UpsertByNumber(student.Profile{Number: 5, Name: "Eve Z", Group: "C"}, points.NewBalances(1, 2, 3, 4), OverrideExisting)
		require.NoError(t, err)
		assert.Equal(t, OutcomeUpdated, out)
		assert.Equal(t, s.ID, got.ID)
		assert.Equal(t, "Eve Z", got.Name)
		assert.Equal(t, "C", got.Group)
		assert.Equal(t, 10, got.Currency)
	})

	t.Run("invalid input", func(t *testing.T) {
		_, _, err := l.UpsertByNumber(student.Profile{Number: 6, Name: "X"}, points.Balances{}, ConflictPolicy("merge"))
		assert.ErrorIs(t, err, shared.ErrInvalidArgument)
		_, _, err = l.UpsertByNumber(student.Profile{Number: 6, Name: "X"}, points.NewBalances(-1, 0, 0, 0), SkipExisting)
		assert.ErrorIs(t, err, shared.ErrNegativeValue)
		_, _, err = l.UpsertByNumber(student.Profile{Number: 6, Name: "X"}, points.NewBalances(math.MaxInt, 1, 0, 0), SkipExisting)
		assert.ErrorIs(t, err, shared.ErrStudentBalanceTooBig)
	})

	assert.Empty(t, l.ClassLogs(), "upserts never write log entries")
	assert.Equal(t, 1, l.Len())
}

// ──────────────────────────────────────────────────────────────────────────────
// Currency
// ──────────────────────────────────────────────────────────────────────────────

func TestDebitCurrency(t *testing.T) {
	l := newTestLedger(t)
	a := addStudent(t, l, 1, "Ann", "")
	_, err := l.ApplyAdjustment(credit(a.ID, points.Academic, 5))
	require.NoError(t, err)

	_, _, err = l.DebitCurrency(a.ID, 6, true)
	assert.ErrorIs(t, err, shared.ErrInsufficientBalance)

	taken, got, err := l.DebitCurrency(a.ID, 6, false)
	require.NoError(t, err)
	assert.Equal(t, 5, taken)
	assert.Equal(t, 0, got.Currency)
	assert.Equal(t, 5, got.Balances.Get(points.Academic), "category balances are never touched")
	assert.Len(t, l.Logs(a.ID), 1, "currency debits write no point log")

	_, _, err = l.DebitCurrency(a.ID, 0, false)
	assert.ErrorIs(t, err, shared.ErrInvalidArgument)
}

// ──────────────────────────────────────────────────────────────────────────────
// Snapshot / Restore
// ──────────────────────────────────────────────────────────────────────────────

func TestSnapshotRestore(t *testing.T) {
	l := newTestLedger(t)
	a := addStudent(t, l, 2, "Ann", "A")
	b := addStudent(t, l, 1, "Bob", "")
	_, err := l.ApplyAdjustment(credit(a.ID, points.Academic, 4))
	require.NoError(t, err)
	_, err = l.ApplyAdjustment(credit(b.ID, points.Hygiene, 1))
	require.NoError(t, err)

	snap := l.Snapshot()
	require.Len(t, snap.Students, 2)
	assert.Equal(t, b.ID, snap.Students[0].ID, "students ordered by number")

	restored, err := Restore("class-1", snap)
	require.NoError(t, err)
	assert.Equal(t, l.List(), restored.List())
	assert.Equal(t, l.ClassLogs(), restored.ClassLogs())

	res, err := restored.ApplyAdjustment(credit(a.ID, points.Academic, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Entry.Seq, "sequence continues after restore")
}

func TestRestore_RejectsBrokenSnapshots(t *testing.T) {
	good := student.Student{ID: "s1", Number: 1, Name: "Ann"}

	_, err := Restore("c", Snapshot{Students: []student.Student{good, {ID: "s2", Number: 1, Name: "Bob"}}})
	assert.True(t, shared.IsAlreadyExists(err))

	_, err = Restore("c", Snapshot{Students: []student.Student{good}, Entries: []LogEntry{{ID: "e", StudentID: "ghost"}}})
	assert.True(t, shared.IsNotFound(err))

	bad := good
	bad.Currency = -1
	_, err = Restore("c", Snapshot{Students: []student.Student{bad}})
	assert.ErrorIs(t, err, shared.ErrNegativeValue)
}

func TestView_IsConsistentCopy(t *testing.T) {
	l := newTestLedger(t)
	a := addStudent(t, l, 1, "Ann", "")
	_, err := l.ApplyAdjustment(credit(a.ID, points.Academic, 1))
	require.NoError(t, err)

	v := l.View()
	v.Students[0].Name = "mutated"
	v.Entries[0].Delta = 99

	got, _ := l.Get(a.ID)
	assert.Equal(t, "Ann", got.Name)
	assert.Equal(t, 1, l.ClassLogs()[0].Delta)
}
