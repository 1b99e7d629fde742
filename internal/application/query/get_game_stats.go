package query

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/learning-progress/internal/domain/achievement"
	"github.com/alem-hub/learning-progress/internal/domain/learner"
	"github.com/alem-hub/learning-progress/internal/domain/level"
	"github.com/alem-hub/learning-progress/internal/domain/progress"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
	"github.com/alem-hub/learning-progress/internal/domain/streak"
	"github.com/alem-hub/learning-progress/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET GAME STATS QUERY
// Assembles the game stats read model from its four sources in parallel.
// The same assembly feeds the achievement evaluator.
// ══════════════════════════════════════════════════════════════════════════════

// GetGameStatsQuery identifies the learner.
type GetGameStatsQuery struct {
	UserID shared.UserID
}

// StreakView is the streak as the learner sees it today.
type StreakView struct {
	Current          int           `json:"current"`
	Longest          int           `json:"longest"`
	LastActivityDate timeutil.Date `json:"last_activity_date"`
	ActiveToday      bool          `json:"active_today"`
}

// GameStatsResult is the stats card of a learner.
type GameStatsResult struct {
	UserID      shared.UserID             `json:"user_id"`
	DisplayName string                    `json:"display_name"`
	Stats       achievement.GameStats     `json:"stats"`
	Level       level.Info                `json:"level"`
	Streak      StreakView                `json:"streak"`
	Courses     []progress.CourseProgress `json:"courses"`
}

// GetGameStatsHandler handles the GetGameStatsQuery.
type GetGameStatsHandler struct {
	learners     learner.Repository
	streaks      streak.Repository
	achievements achievement.Repository
	progress     progress.Repository
	env          Env
}

// NewGetGameStatsHandler creates a new GetGameStatsHandler.
func NewGetGameStatsHandler(
	learners learner.Repository,
	streaks streak.Repository,
	achievements achievement.Repository,
	progressRepo progress.Repository,
	env Env,
) *GetGameStatsHandler {
	return &GetGameStatsHandler{
		learners:     learners,
		streaks:      streaks,
		achievements: achievements,
		progress:     progressRepo,
		env:          env.withDefaults(),
	}
}

// Handle executes the query.
func (h *GetGameStatsHandler) Handle(ctx context.Context, q GetGameStatsQuery) (*GameStatsResult, error) {
	if err := requireUser(q.UserID); err != nil {
		return nil, err
	}
	return h.assemble(ctx, q.UserID, true)
}

// Stats returns only the read model. It satisfies command.StatsProvider.
func (h *GetGameStatsHandler) Stats(ctx context.Context, userID shared.UserID) (achievement.GameStats, error) {
	res, err := h.assemble(ctx, userID, false)
	if err != nil {
		return achievement.GameStats{}, err
	}
	return res.Stats, nil
}

func (h *GetGameStatsHandler) assemble(ctx context.Context, userID shared.UserID, withCourses bool) (*GameStatsResult, error) {
	today := h.env.Calendar.Today(h.env.Clock.Now())
	res := &GameStatsResult{UserID: userID, DisplayName: userID.String()}

	var (
		l      *learner.Learner
		s      *streak.LearningStreak
		earned []achievement.UserAchievement
		counts progress.Counts
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		l, err = h.learners.Get(gctx, userID)
		if shared.IsNotFound(err) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		var err error
		s, err = h.streaks.Get(gctx, userID)
		if shared.IsNotFound(err) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		var err error
		earned, err = h.achievements.ListEarned(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		counts, err = h.progress.Counts(gctx, userID)
		return err
	})
	if withCourses {
		g.Go(func() error {
			var err error
			res.Courses, err = h.progress.ListCourses(gctx, userID)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("game_stats: %w", err)
	}

	if l != nil {
		res.DisplayName = l.DisplayName
		res.Stats.TotalPoints = l.TotalPoints
	}
	if s != nil {
		res.Streak = StreakView{
			Current:          s.ActiveOn(today),
			Longest:          s.LongestStreak,
			LastActivityDate: s.LastActivityDate,
			ActiveToday:      s.LastActivityDate.Equal(today),
		}
	}

	res.Level = h.env.Rules.Level(res.Stats.TotalPoints)
	res.Stats.Level = res.Level.Level
	res.Stats.CurrentStreak = res.Streak.Current
	res.Stats.LongestStreak = res.Streak.Longest
	res.Stats.AchievementsEarned = len(earned)
	res.Stats.LessonsCompleted = counts.LessonsCompleted
	res.Stats.CoursesCompleted = counts.CoursesCompleted
	res.Stats.QuizzesPassed = counts.QuizzesPassed
	res.Stats.PerfectQuizzes = counts.PerfectQuizzes
	res.Stats.TimeStudiedSeconds = counts.TimeStudiedSeconds
	return res, nil
}
