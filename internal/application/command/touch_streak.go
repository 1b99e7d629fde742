package command

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/learning-progress/internal/domain/shared"
	"github.com/alem-hub/learning-progress/internal/domain/streak"
	"github.com/alem-hub/learning-progress/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// TOUCH STREAK COMMAND
// Records learning activity for the calendar day of At in the engine
// timezone. Same-day calls are no-ops, so it is safe to call on every event.
// ══════════════════════════════════════════════════════════════════════════════

// TouchStreakCommand contains the data to touch a streak.
type TouchStreakCommand struct {
	UserID shared.UserID

	// At is the activity instant. Zero means now.
	At time.Time
}

// TouchStreakResult contains the streak after the touch.
type TouchStreakResult struct {
	Streak  streak.LearningStreak
	Outcome streak.Outcome
}

// TouchStreakHandler handles the TouchStreakCommand.
type TouchStreakHandler struct {
	streaks streak.Repository
	env     Env
}

// NewTouchStreakHandler creates a new TouchStreakHandler.
func NewTouchStreakHandler(streaks streak.Repository, env Env) *TouchStreakHandler {
	return &TouchStreakHandler{streaks: streaks, env: env.withDefaults()}
}

// Handle executes the touch streak command.
func (h *TouchStreakHandler) Handle(ctx context.Context, cmd TouchStreakCommand) (*TouchStreakResult, error) {
	if err := requireUser(cmd.UserID); err != nil {
		return nil, err
	}

	now := h.env.now(cmd.At)
	today := h.env.Calendar.Today(now)

	var (
		result   TouchStreakResult
		previous int
	)
	err := h.env.withStoreRetry(ctx, "touch_streak", func(ctx context.Context) error {
		s, err := h.streaks.Get(ctx, cmd.UserID)
		switch {
		case shared.IsNotFound(err):
			s = streak.New(cmd.UserID)
		case err != nil:
			return err
		}

		previous = s.CurrentStreak
		outcome := s.Touch(today, now)
		if outcome == streak.Unchanged {
			result = TouchStreakResult{Streak: *s, Outcome: outcome}
			return nil
		}
		if err := h.streaks.Save(ctx, s); err != nil {
			return err
		}
		result = TouchStreakResult{Streak: *s, Outcome: outcome}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("touch_streak: %w", err)
	}

	if result.Outcome != streak.Unchanged {
		h.env.Logger.Debug("streak touched",
			logger.UserID(cmd.UserID.String()),
			logger.Int("current_streak", result.Streak.CurrentStreak),
			logger.Int("longest_streak", result.Streak.LongestStreak),
		)
		h.env.publish(shared.NewStreakChangedEvent(
			cmd.UserID.String(), previous, result.Streak.CurrentStreak, result.Streak.LongestStreak, now,
		))
	}
	return &result, nil
}
