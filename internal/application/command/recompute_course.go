package command

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/learning-progress/internal/domain/points"
	"github.com/alem-hub/learning-progress/internal/domain/progress"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
	"github.com/alem-hub/learning-progress/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECOMPUTE COURSE PROGRESS COMMAND
// Rebuilds a course rollup from the catalog and the learner's lesson rows.
// The aggregator owns completion edge detection: the recompute that first
// sets CompletedAt grants course points and publishes CourseCompleted. Later
// recomputes of a completed course re-pay the grant only if its ledger key
// is missing; the key also backs up racing recomputes.
// ══════════════════════════════════════════════════════════════════════════════

// RecomputeCourseProgressCommand identifies the rollup to rebuild.
type RecomputeCourseProgressCommand struct {
	UserID   shared.UserID
	CourseID string `validate:"required,max=128"`

	// At is the recompute instant. Zero means now.
	At time.Time
}

// RecomputeCourseProgressResult contains the rebuilt rollup.
type RecomputeCourseProgressResult struct {
	Course progress.CourseProgress

	// Completed is true only on the recompute that completed the course.
	Completed     bool
	PointsAwarded int
	Warnings      Warnings
}

// RecomputeCourseProgressHandler handles the RecomputeCourseProgressCommand.
type RecomputeCourseProgressHandler struct {
	repo    progress.Repository
	catalog progress.Catalog
	streaks *TouchStreakHandler
	award   *AwardPointsHandler
	env     Env
}

// NewRecomputeCourseProgressHandler creates a new RecomputeCourseProgressHandler.
func NewRecomputeCourseProgressHandler(
	repo progress.Repository,
	catalog progress.Catalog,
	streaks *TouchStreakHandler,
	award *AwardPointsHandler,
	env Env,
) *RecomputeCourseProgressHandler {
	return &RecomputeCourseProgressHandler{
		repo:    repo,
		catalog: catalog,
		streaks: streaks,
		award:   award,
		env:     env.withDefaults(),
	}
}

// Handle executes the recompute command.
func (h *RecomputeCourseProgressHandler) Handle(ctx context.Context, cmd RecomputeCourseProgressCommand) (*RecomputeCourseProgressResult, error) {
	if err := requireUser(cmd.UserID); err != nil {
		return nil, err
	}
	if err := validateCommand("RecomputeCourseProgress", cmd); err != nil {
		return nil, err
	}

	lessons, err := h.catalog.CourseLessons(ctx, cmd.CourseID)
	if err != nil {
		return nil, fmt.Errorf("recompute_course: %w", err)
	}

	now := h.env.now(cmd.At)
	result := &RecomputeCourseProgressResult{}

	err = h.env.withStoreRetry(ctx, "recompute_course", func(ctx context.Context) error {
		prev, err := h.repo.GetCourse(ctx, cmd.UserID, cmd.CourseID)
		switch {
		case shared.IsNotFound(err):
			prev = nil
		case err != nil:
			return err
		}

		rows, err := h.repo.ListCourseLessons(ctx, cmd.UserID, cmd.CourseID)
		if err != nil {
			return err
		}

		cp, transitioned := progress.Recompute(cmd.UserID, cmd.CourseID, lessons, rows, prev, now)
		if err := h.repo.SaveCourse(ctx, &cp); err != nil {
			return err
		}
		result.Course = cp
		result.Completed = transitioned
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recompute_course: %w", err)
	}

	log := h.env.Logger.With(logger.UserID(cmd.UserID.String()), logger.CourseID(cmd.CourseID))

	if _, err := h.streaks.Handle(ctx, TouchStreakCommand{UserID: cmd.UserID, At: now}); err != nil {
		result.Warnings.add(log, "touch_streak", err)
	}

	owed := result.Completed
	if result.Completed {
		log.Info("course completed",
			logger.Int("total_lessons", result.Course.TotalLessons),
			logger.Int64("time_spent_seconds", result.Course.TimeSpentSeconds),
		)
	} else if m, held := result.Course.Milestone(); held {
		granted, err := h.award.Granted(ctx, cmd.UserID, m.Key())
		switch {
		case err != nil:
			result.Warnings.add(log, "check_course_points", err)
		case !granted:
			log.Warn("repaying missing course completion grant")
			owed = true
		}
	}

	if owed {
		at := now
		if result.Course.CompletedAt != nil {
			at = *result.Course.CompletedAt
		}
		award, err := h.award.Handle(ctx, AwardPointsCommand{
			UserID:         cmd.UserID,
			Reason:         points.ReasonCourseCompleted,
			Description:    "Completed course " + cmd.CourseID,
			Metadata:       map[string]any{"course_id": cmd.CourseID},
			IdempotencyKey: points.CourseKey(cmd.CourseID),
			At:             at,
		})
		switch {
		case err != nil:
			result.Warnings.add(log, "award_course_points", err)
		case award.Awarded:
			result.PointsAwarded = award.Transaction.Points
		}
	}

	if result.Completed {
		h.env.publish(shared.NewCourseCompletedEvent(
			cmd.UserID.String(), cmd.CourseID, result.Course.TotalLessons, result.Course.TimeSpentSeconds, now,
		))
	}
	return result, nil
}
