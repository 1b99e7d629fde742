package postgres

import (
	"context"
	"time"

	"github.com/alem-hub/learning-progress/internal/domain/shared"
	"github.com/alem-hub/learning-progress/internal/domain/streak"
	"github.com/alem-hub/learning-progress/pkg/timeutil"
)

// StreakRepository implements streak.Repository for PostgreSQL.
type StreakRepository struct {
	conn *Connection
}

// NewStreakRepository creates a new StreakRepository.
func NewStreakRepository(conn *Connection) *StreakRepository {
	return &StreakRepository{conn: conn}
}

// Get returns the learner's streak row.
func (r *StreakRepository) Get(ctx context.Context, userID shared.UserID) (*streak.LearningStreak, error) {
	var (
		s        streak.LearningStreak
		lastDate *time.Time
	)
	err := r.conn.QueryRow(ctx, `
		SELECT current_streak, longest_streak, last_activity_date, updated_at, version
		FROM learning_streaks
		WHERE user_id = $1
	`, userID.String()).Scan(&s.CurrentStreak, &s.LongestStreak, &lastDate, &s.UpdatedAt, &s.Version)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.NewDomainError("streak", "Get", shared.ErrNotFound, "streak not found")
		}
		return nil, mapError("GetStreak", err)
	}

	s.UserID = userID
	if lastDate != nil {
		s.LastActivityDate = timeutil.DateOf(lastDate.UTC())
	}
	return &s, nil
}

// Save writes the streak guarded by its version.
func (r *StreakRepository) Save(ctx context.Context, s *streak.LearningStreak) error {
	var lastDate *time.Time
	if !s.LastActivityDate.IsZero() {
		d := s.LastActivityDate.In(time.UTC)
		lastDate = &d
	}

	var (
		affected int64
		err      error
	)
	if s.Version == 0 {
		tag, execErr := r.conn.Exec(ctx, `
			INSERT INTO learning_streaks (user_id, current_streak, longest_streak, last_activity_date, updated_at, version)
			VALUES ($1, $2, $3, $4, $5, 1)
		`, s.UserID.String(), s.CurrentStreak, s.LongestStreak, lastDate, s.UpdatedAt)
		affected, err = tag.RowsAffected(), execErr
	} else {
		tag, execErr := r.conn.Exec(ctx, `
			UPDATE learning_streaks SET
				current_streak = $2,
				longest_streak = $3,
				last_activity_date = $4,
				updated_at = $5,
				version = version + 1
			WHERE user_id = $1 AND version = $6
		`, s.UserID.String(), s.CurrentStreak, s.LongestStreak, lastDate, s.UpdatedAt, s.Version)
		affected, err = tag.RowsAffected(), execErr
	}

	if err := casResult("SaveStreak", affected, err); err != nil {
		return err
	}
	s.Version++
	return nil
}
