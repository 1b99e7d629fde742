// Package application wires the command and query handlers into one unit
// that the HTTP server, the worker and the tests share.
package application

import (
	"time"

	"github.com/alem-hub/learning-progress/internal/application/command"
	"github.com/alem-hub/learning-progress/internal/application/query"
	"github.com/alem-hub/learning-progress/internal/domain/achievement"
	"github.com/alem-hub/learning-progress/internal/domain/leaderboard"
	"github.com/alem-hub/learning-progress/internal/domain/learner"
	"github.com/alem-hub/learning-progress/internal/domain/points"
	"github.com/alem-hub/learning-progress/internal/domain/progress"
	"github.com/alem-hub/learning-progress/internal/domain/rules"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
	"github.com/alem-hub/learning-progress/internal/domain/streak"
	"github.com/alem-hub/learning-progress/pkg/logger"
	"github.com/alem-hub/learning-progress/pkg/timeutil"
)

// Stores groups the persistence ports.
type Stores struct {
	Progress     progress.Repository
	Catalog      progress.Catalog
	Streaks      streak.Repository
	Ledger       points.Ledger
	Achievements achievement.Repository
	Learners     learner.Repository
	Leaderboard  leaderboard.Repository

	// LeaderboardCache is optional.
	LeaderboardCache leaderboard.Cache
}

// Options configures the handlers.
type Options struct {
	Rules          rules.Rules
	Clock          timeutil.Clock
	Calendar       timeutil.Calendar
	Publisher      shared.EventPublisher
	Logger         *logger.Logger
	LeaderboardTTL time.Duration
}

// App exposes every use case.
type App struct {
	RecordProgress       *command.RecordProgressHandler
	RecomputeCourse      *command.RecomputeCourseProgressHandler
	TouchStreak          *command.TouchStreakHandler
	AwardPoints          *command.AwardPointsHandler
	EvaluateAchievements *command.EvaluateAchievementsHandler
	ClaimDailyLogin      *command.ClaimDailyLoginHandler
	ReconcileGrants      *command.ReconcileGrantsHandler

	GameStats      *query.GetGameStatsHandler
	Leaderboard    *query.GetLeaderboardHandler
	Achievements   *query.ListAchievementsHandler
	PointsHistory  *query.GetPointsHistoryHandler
	CourseProgress *query.GetCourseProgressHandler
	Levels         *query.GetLevelsHandler
}

// New builds the handler graph.
func New(stores Stores, opts Options) *App {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	cmdEnv := command.Env{
		Rules:     opts.Rules,
		Clock:     opts.Clock,
		Calendar:  opts.Calendar,
		Publisher: opts.Publisher,
		Logger:    opts.Logger.With(logger.Component("command")),
	}
	qryEnv := query.Env{
		Rules:    opts.Rules,
		Clock:    opts.Clock,
		Calendar: opts.Calendar,
		Logger:   opts.Logger.With(logger.Component("query")),
	}

	stats := query.NewGetGameStatsHandler(stores.Learners, stores.Streaks, stores.Achievements, stores.Progress, qryEnv)

	award := command.NewAwardPointsHandler(stores.Ledger, stores.Learners, cmdEnv)
	touch := command.NewTouchStreakHandler(stores.Streaks, cmdEnv)
	evaluate := command.NewEvaluateAchievementsHandler(stores.Achievements, stats, award, cmdEnv)
	recompute := command.NewRecomputeCourseProgressHandler(stores.Progress, stores.Catalog, touch, award, cmdEnv)

	return &App{
		RecordProgress:       command.NewRecordProgressHandler(stores.Progress, stores.Catalog, recompute, award, evaluate, cmdEnv),
		RecomputeCourse:      recompute,
		TouchStreak:          touch,
		AwardPoints:          award,
		EvaluateAchievements: evaluate,
		ClaimDailyLogin:      command.NewClaimDailyLoginHandler(stores.Learners, award, cmdEnv),
		ReconcileGrants:      command.NewReconcileGrantsHandler(stores.Achievements, stores.Progress, award, cmdEnv),

		GameStats:      stats,
		Leaderboard:    query.NewGetLeaderboardHandler(stores.Leaderboard, stores.LeaderboardCache, opts.LeaderboardTTL, qryEnv),
		Achievements:   query.NewListAchievementsHandler(stores.Achievements, stats, qryEnv),
		PointsHistory:  query.NewGetPointsHistoryHandler(stores.Ledger, stores.Learners, qryEnv),
		CourseProgress: query.NewGetCourseProgressHandler(stores.Progress, stores.Catalog, qryEnv),
		Levels:         query.NewGetLevelsHandler(qryEnv),
	}
}
