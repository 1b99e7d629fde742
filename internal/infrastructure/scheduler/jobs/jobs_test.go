package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/learning-progress/internal/application/command"
	"github.com/alem-hub/learning-progress/internal/domain/leaderboard"
	"github.com/alem-hub/learning-progress/pkg/timeutil"
)

type stubReconciler struct {
	got    command.ReconcileGrantsCommand
	result *command.ReconcileGrantsResult
	err    error
}

func (s *stubReconciler) Handle(_ context.Context, cmd command.ReconcileGrantsCommand) (*command.ReconcileGrantsResult, error) {
	s.got = cmd
	return s.result, s.err
}

func TestReconcileGrantsJob(t *testing.T) {
	ok := &stubReconciler{result: &command.ReconcileGrantsResult{Scanned: 3, Repaired: 2, Skipped: 1}}
	job := NewReconcileGrantsJob(ok, 50)
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 50, ok.got.Limit)
	assert.Equal(t, "reconcile_grants", job.Name())

	partial := &stubReconciler{result: &command.ReconcileGrantsResult{Scanned: 2, Failed: 1}}
	assert.ErrorContains(t, NewReconcileGrantsJob(partial, 0).Run(context.Background()), "1 of 2")

	broken := &stubReconciler{err: errors.New("db down")}
	assert.ErrorContains(t, NewReconcileGrantsJob(broken, 0).Run(context.Background()), "db down")
}

type recordingLoader struct {
	mu      sync.Mutex
	periods []leaderboard.Period
	nows    map[time.Time]bool
	failOn  leaderboard.Period
}

func (r *recordingLoader) Standings(_ context.Context, period leaderboard.Period, now time.Time) ([]leaderboard.Standing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.periods = append(r.periods, period)
	r.nows[now] = true
	if period == r.failOn {
		return nil, errors.New("unavailable")
	}
	return nil, nil
}

func TestWarmLeaderboardsJob(t *testing.T) {
	now := time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC)
	loader := &recordingLoader{nows: map[time.Time]bool{}}
	job := NewWarmLeaderboardsJob(loader, timeutil.NewManualClock(now))

	require.NoError(t, job.Run(context.Background()))
	assert.ElementsMatch(t, []leaderboard.Period{
		leaderboard.PeriodAllTime, leaderboard.PeriodDaily, leaderboard.PeriodWeekly, leaderboard.PeriodMonthly,
	}, loader.periods)
	assert.Equal(t, map[time.Time]bool{now: true}, loader.nows)

	failing := &recordingLoader{nows: map[time.Time]bool{}, failOn: leaderboard.PeriodWeekly}
	err := NewWarmLeaderboardsJob(failing, nil, leaderboard.PeriodWeekly).Run(context.Background())
	assert.ErrorContains(t, err, "warm weekly")
}
