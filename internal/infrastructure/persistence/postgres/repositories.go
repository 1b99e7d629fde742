package postgres

import (
	"github.com/alem-hub/learning-progress/internal/domain/achievement"
	"github.com/alem-hub/learning-progress/internal/domain/leaderboard"
	"github.com/alem-hub/learning-progress/internal/domain/learner"
	"github.com/alem-hub/learning-progress/internal/domain/points"
	"github.com/alem-hub/learning-progress/internal/domain/progress"
	"github.com/alem-hub/learning-progress/internal/domain/streak"
)

// Repositories bundles every repository over one connection.
type Repositories struct {
	Learners     *LearnerRepository
	Catalog      *CatalogRepository
	Progress     *ProgressRepository
	Streaks      *StreakRepository
	Ledger       *LedgerRepository
	Achievements *AchievementRepository
	Leaderboard  *LeaderboardRepository
}

// NewRepositories creates all repositories over conn.
func NewRepositories(conn *Connection) *Repositories {
	return &Repositories{
		Learners:     NewLearnerRepository(conn),
		Catalog:      NewCatalogRepository(conn),
		Progress:     NewProgressRepository(conn),
		Streaks:      NewStreakRepository(conn),
		Ledger:       NewLedgerRepository(conn),
		Achievements: NewAchievementRepository(conn),
		Leaderboard:  NewLeaderboardRepository(conn),
	}
}

var (
	_ learner.Repository     = (*LearnerRepository)(nil)
	_ progress.Catalog       = (*CatalogRepository)(nil)
	_ progress.Repository    = (*ProgressRepository)(nil)
	_ streak.Repository      = (*StreakRepository)(nil)
	_ points.Ledger          = (*LedgerRepository)(nil)
	_ achievement.Repository = (*AchievementRepository)(nil)
	_ leaderboard.Repository = (*LeaderboardRepository)(nil)
)
