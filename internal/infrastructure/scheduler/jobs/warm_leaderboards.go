package jobs

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/learning-progress/internal/domain/leaderboard"
	"github.com/alem-hub/learning-progress/pkg/timeutil"
)

// StandingsLoader reads standings through the leaderboard cache.
type StandingsLoader interface {
	Standings(ctx context.Context, period leaderboard.Period, now time.Time) ([]leaderboard.Standing, error)
}

// WarmLeaderboardsJob refills the standings cache so API reads after an
// invalidation do not all hit the ledger.
type WarmLeaderboardsJob struct {
	loader  StandingsLoader
	clock   timeutil.Clock
	periods []leaderboard.Period
}

// NewWarmLeaderboardsJob creates the job. Without periods every period is
// warmed.
func NewWarmLeaderboardsJob(loader StandingsLoader, clock timeutil.Clock, periods ...leaderboard.Period) *WarmLeaderboardsJob {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if len(periods) == 0 {
		periods = []leaderboard.Period{
			leaderboard.PeriodAllTime,
			leaderboard.PeriodDaily,
			leaderboard.PeriodWeekly,
			leaderboard.PeriodMonthly,
		}
	}
	return &WarmLeaderboardsJob{loader: loader, clock: clock, periods: periods}
}

func (j *WarmLeaderboardsJob) Name() string { return "warm_leaderboards" }

func (j *WarmLeaderboardsJob) Description() string {
	return "Loads leaderboard standings for every period into the cache"
}

// Run loads all periods concurrently against the same instant.
func (j *WarmLeaderboardsJob) Run(ctx context.Context) error {
	now := j.clock.Now()
	g, ctx := errgroup.WithContext(ctx)
	for _, period := range j.periods {
		period := period
		g.Go(func() error {
			if _, err := j.loader.Standings(ctx, period, now); err != nil {
				return fmt.Errorf("warm %s: %w", period, err)
			}
			return nil
		})
	}
	return g.Wait()
}
