// Package streak tracks consecutive calendar days of learning activity.
package streak

import (
	"context"
	"time"

	"github.com/alem-hub/learning-progress/internal/domain/shared"
	"github.com/alem-hub/learning-progress/pkg/timeutil"
)

// LearningStreak is a learner's daily activity streak.
type LearningStreak struct {
	UserID           shared.UserID `json:"user_id"`
	CurrentStreak    int           `json:"current_streak"`
	LongestStreak    int           `json:"longest_streak"`
	LastActivityDate timeutil.Date `json:"last_activity_date"`
	UpdatedAt        time.Time     `json:"updated_at"`

	Version int64 `json:"-"`
}

// New returns an empty streak for a learner with no recorded activity.
func New(userID shared.UserID) *LearningStreak {
	return &LearningStreak{UserID: userID}
}

// Outcome describes what a Touch did.
type Outcome int

const (
	// Unchanged means today was already counted (or lies before the last
	// recorded day).
	Unchanged Outcome = iota
	// Extended means yesterday was active and the streak grew by one.
	Extended
	// Restarted means the streak started over at 1.
	Restarted
)

// Touch records activity on today.
//
//	last == today       → no-op
//	last == today - 1   → current + 1
//	otherwise           → current = 1
//
// Longest is raised to current and last becomes today whenever the state
// changes. A today earlier than the last recorded day is treated as a no-op
// so a skewed clock cannot rewind the streak.
func (s *LearningStreak) Touch(today timeutil.Date, now time.Time) Outcome {
	if !s.LastActivityDate.IsZero() {
		diff := today.DaysSince(s.LastActivityDate)
		if diff <= 0 {
			return Unchanged
		}
		if diff == 1 {
			s.CurrentStreak++
			s.apply(today, now)
			return Extended
		}
	}

	s.CurrentStreak = 1
	s.apply(today, now)
	return Restarted
}

func (s *LearningStreak) apply(today timeutil.Date, now time.Time) {
	if s.CurrentStreak > s.LongestStreak {
		s.LongestStreak = s.CurrentStreak
	}
	s.LastActivityDate = today
	s.UpdatedAt = now
}

// ActiveOn reports the streak as the learner would see it on day: a streak
// whose last activity is older than yesterday has lapsed and reads as 0.
func (s *LearningStreak) ActiveOn(day timeutil.Date) int {
	if s.LastActivityDate.IsZero() {
		return 0
	}
	if day.DaysSince(s.LastActivityDate) > 1 {
		return 0
	}
	return s.CurrentStreak
}

// Repository persists streaks.
type Repository interface {
	// Get returns shared.ErrNotFound when the learner has no streak yet.
	Get(ctx context.Context, userID shared.UserID) (*LearningStreak, error)

	// Save is compare-and-swap on Version (0 inserts) and bumps Version.
	Save(ctx context.Context, s *LearningStreak) error
}
