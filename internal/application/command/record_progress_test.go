package command_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/learning-progress/internal/application/command"
	"github.com/alem-hub/learning-progress/internal/application/query"
	"github.com/alem-hub/learning-progress/internal/domain/points"
	"github.com/alem-hub/learning-progress/internal/domain/progress"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
	"github.com/alem-hub/learning-progress/internal/infrastructure/gameconfig"
	"github.com/alem-hub/learning-progress/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/learning-progress/pkg/timeutil"
)

// MockLedger is a mock implementation of points.Ledger for testing.
type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) Append(ctx context.Context, tx *points.Transaction) (int, error) {
	args := m.Called(ctx, tx)
	return args.Int(0), args.Error(1)
}

func (m *MockLedger) HasReasonSince(ctx context.Context, userID shared.UserID, reason points.Reason, since time.Time) (bool, error) {
	args := m.Called(ctx, userID, reason, since)
	return args.Bool(0), args.Error(1)
}

func (m *MockLedger) HasKey(ctx context.Context, userID shared.UserID, key string) (bool, error) {
	args := m.Called(ctx, userID, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockLedger) History(ctx context.Context, userID shared.UserID, limit int) ([]points.Transaction, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]points.Transaction), args.Error(1)
}

func (m *MockLedger) PeriodTotals(ctx context.Context, window shared.TimeRange) (map[shared.UserID]int, error) {
	args := m.Called(ctx, window)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[shared.UserID]int), args.Error(1)
}

func newHandlers(store *memory.Store, ledger points.Ledger, clock timeutil.Clock) *command.RecordProgressHandler {
	env := command.Env{Rules: gameconfig.MustDefault(), Clock: clock, Calendar: timeutil.NewCalendar(time.UTC)}
	stats := query.NewGetGameStatsHandler(store, store.Streaks(), store, store, query.Env{Rules: env.Rules, Clock: clock})

	award := command.NewAwardPointsHandler(ledger, store, env)
	touch := command.NewTouchStreakHandler(store.Streaks(), env)
	evaluate := command.NewEvaluateAchievementsHandler(store, stats, award, env)
	recompute := command.NewRecomputeCourseProgressHandler(store, store, touch, award, env)
	return command.NewRecordProgressHandler(store, store, recompute, award, evaluate, env)
}

func TestRecordProgress_LedgerFailureIsAWarning(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.PutCourse("c1", progress.Lesson{ID: "l1", Kind: progress.KindInteractive, Position: 1})

	ledger := new(MockLedger)
	ledger.On("Append", mock.Anything, mock.AnythingOfType("*points.Transaction")).
		Return(0, errors.New("disk full"))

	h := newHandlers(store, ledger, timeutil.NewManualClock(time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)))

	res, err := h.Handle(ctx, command.RecordProgressCommand{
		UserID:   "u1",
		LessonID: "l1",
		CourseID: "c1",
		Payload:  &progress.Payload{Interactive: &progress.InteractivePayload{StepsCompleted: 4, TotalSteps: 4}},
	})
	require.NoError(t, err)
	assert.True(t, res.FirstCompletion)
	assert.True(t, res.CourseCompleted)
	assert.Zero(t, res.PointsAwarded)
	assert.NotEmpty(t, res.Warnings)

	// Progress is durable even though no points were written.
	row, err := store.GetLesson(ctx, "u1", "l1")
	require.NoError(t, err)
	assert.Equal(t, progress.StatusCompleted, row.Status)

	earned, err := store.ListEarned(ctx, "u1")
	require.NoError(t, err)
	assert.NotEmpty(t, earned)

	ledger.AssertCalled(t, "Append", mock.Anything, mock.AnythingOfType("*points.Transaction"))
}

// flakyLedger fails the first Append of each listed reason and delegates
// everything else to the store.
type flakyLedger struct {
	points.Ledger

	mu     sync.Mutex
	failOn map[points.Reason]bool
}

func newFlakyLedger(store *memory.Store, reasons ...points.Reason) *flakyLedger {
	f := &flakyLedger{Ledger: store, failOn: make(map[points.Reason]bool)}
	for _, r := range reasons {
		f.failOn[r] = true
	}
	return f
}

func (f *flakyLedger) Append(ctx context.Context, tx *points.Transaction) (int, error) {
	f.mu.Lock()
	fail := f.failOn[tx.Reason]
	delete(f.failOn, tx.Reason)
	f.mu.Unlock()
	if fail {
		return 0, errors.New("disk full")
	}
	return f.Ledger.Append(ctx, tx)
}

var milestoneReasons = []points.Reason{
	points.ReasonLessonCompleted,
	points.ReasonCourseCompleted,
	points.ReasonQuizPassed,
	points.ReasonQuizPerfect,
}

var milestoneKeys = []string{
	points.LessonKey("q1"),
	points.CourseKey("c1"),
	points.QuizPassedKey("q1"),
	points.QuizPerfectKey("q1"),
}

func perfectQuizSignal() command.RecordProgressCommand {
	return command.RecordProgressCommand{
		UserID:   "u1",
		LessonID: "q1",
		CourseID: "c1",
		Payload:  &progress.Payload{Quiz: &progress.QuizPayload{Score: 10, MaxScore: 10}},
	}
}

func assertMilestonesPaid(t *testing.T, store *memory.Store, want bool) {
	t.Helper()
	for _, key := range milestoneKeys {
		paid, err := store.HasKey(context.Background(), "u1", key)
		require.NoError(t, err)
		assert.Equal(t, want, paid, key)
	}
}

func TestRecordProgress_ResentSignalRepaysFailedGrants(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.PutCourse("c1", progress.Lesson{ID: "q1", Kind: progress.KindQuiz, Position: 1})

	h := newHandlers(store, newFlakyLedger(store, milestoneReasons...), timeutil.NewManualClock(time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)))

	first, err := h.Handle(ctx, perfectQuizSignal())
	require.NoError(t, err)
	assert.True(t, first.FirstCompletion)
	assert.True(t, first.CourseCompleted)
	assert.Len(t, first.Warnings, len(milestoneReasons))
	assertMilestonesPaid(t, store, false)

	// Same completion again, no new quiz attempt.
	again, err := h.Handle(ctx, command.RecordProgressCommand{UserID: "u1", LessonID: "q1", CourseID: "c1", Percent: 100})
	require.NoError(t, err)
	assert.False(t, again.FirstCompletion)
	assert.False(t, again.CourseCompleted)
	assert.Equal(t, 10+100+15+25, again.PointsAwarded)
	assertMilestonesPaid(t, store, true)

	third, err := h.Handle(ctx, command.RecordProgressCommand{UserID: "u1", LessonID: "q1", CourseID: "c1", Percent: 100})
	require.NoError(t, err)
	assert.Zero(t, third.PointsAwarded)
	assert.Empty(t, third.Warnings)
}

func TestReconcileGrants_PaysMilestonesOfFailedAwards(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.PutCourse("c1", progress.Lesson{ID: "q1", Kind: progress.KindQuiz, Position: 1})

	ledger := newFlakyLedger(store, milestoneReasons...)
	clock := timeutil.NewManualClock(time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC))
	h := newHandlers(store, ledger, clock)

	_, err := h.Handle(ctx, perfectQuizSignal())
	require.NoError(t, err)
	before, err := store.Get(ctx, "u1")
	require.NoError(t, err)

	env := command.Env{Rules: gameconfig.MustDefault(), Clock: clock, Calendar: timeutil.NewCalendar(time.UTC)}
	reconcile := command.NewReconcileGrantsHandler(store, store, command.NewAwardPointsHandler(ledger, store, env), env)

	res, err := reconcile.Handle(ctx, command.ReconcileGrantsCommand{})
	require.NoError(t, err)
	assert.Equal(t, len(milestoneReasons), res.Milestones)
	assert.Equal(t, len(milestoneReasons), res.Repaired)
	assert.Zero(t, res.Failed)
	assertMilestonesPaid(t, store, true)

	after, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, before.TotalPoints+10+100+15+25, after.TotalPoints)

	res, err = reconcile.Handle(ctx, command.ReconcileGrantsCommand{})
	require.NoError(t, err)
	assert.Zero(t, res.Milestones)
	assert.Zero(t, res.Repaired)
}

func TestRecordProgress_CatalogOutageIsAnError(t *testing.T) {
	store := memory.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := newHandlers(store, store, timeutil.SystemClock{})
	_, err := h.Handle(ctx, command.RecordProgressCommand{UserID: "u1", LessonID: "l1", CourseID: "c1"})
	require.Error(t, err)
	assert.True(t, shared.IsUnavailable(err))
}
