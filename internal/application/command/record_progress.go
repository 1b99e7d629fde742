package command

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/learning-progress/internal/domain/achievement"
	"github.com/alem-hub/learning-progress/internal/domain/points"
	"github.com/alem-hub/learning-progress/internal/domain/progress"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
	"github.com/alem-hub/learning-progress/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD PROGRESS COMMAND
// The main write path. One progress signal for one lesson:
//   1. fold the signal into the lesson row (compare-and-swap, retried)
//   2. recompute the owning course synchronously
//   3. grant lesson and quiz points on first completion edges, and re-pay
//      held milestones whose grant never reached the ledger
//   4. grant time-of-day specials and evaluate the achievement catalog
// Failures after step 2 never undo the learner's progress; they are logged
// and returned as warnings.
// ══════════════════════════════════════════════════════════════════════════════

// Local hour windows for the time-of-day achievements.
const (
	nightOwlFromHour  = 0
	nightOwlToHour    = 5
	earlyBirdFromHour = 5
	earlyBirdToHour   = 7
)

// RecordProgressCommand contains one progress signal.
type RecordProgressCommand struct {
	UserID   shared.UserID
	LessonID string `validate:"required,max=128"`
	CourseID string `validate:"required,max=128"`

	// Percent is the client's reported progress. It is clamped to [0, 100].
	Percent float64

	// TimeSpentDelta is added to the lesson's time spent.
	TimeSpentDelta int64 `validate:"min=0"`

	// Payload carries the kind-specific part of the signal.
	Payload *progress.Payload

	// At is the signal instant. Zero means now.
	At time.Time
}

// RecordProgressResult contains the state after the signal.
type RecordProgressResult struct {
	Lesson progress.LessonProgress
	Course progress.CourseProgress

	FirstCompletion bool
	CourseCompleted bool
	PointsAwarded   int
	Unlocked        []achievement.Definition
	Warnings        Warnings
}

// RecordProgressHandler handles the RecordProgressCommand.
type RecordProgressHandler struct {
	repo         progress.Repository
	catalog      progress.Catalog
	courses      *RecomputeCourseProgressHandler
	award        *AwardPointsHandler
	achievements *EvaluateAchievementsHandler
	env          Env
}

// NewRecordProgressHandler creates a new RecordProgressHandler.
func NewRecordProgressHandler(
	repo progress.Repository,
	catalog progress.Catalog,
	courses *RecomputeCourseProgressHandler,
	award *AwardPointsHandler,
	achievements *EvaluateAchievementsHandler,
	env Env,
) *RecordProgressHandler {
	return &RecordProgressHandler{
		repo:         repo,
		catalog:      catalog,
		courses:      courses,
		award:        award,
		achievements: achievements,
		env:          env.withDefaults(),
	}
}

// Handle executes the record progress command.
func (h *RecordProgressHandler) Handle(ctx context.Context, cmd RecordProgressCommand) (*RecordProgressResult, error) {
	if err := requireUser(cmd.UserID); err != nil {
		return nil, err
	}
	if err := validateCommand("RecordProgress", cmd); err != nil {
		return nil, err
	}

	lesson, err := h.catalog.Lesson(ctx, cmd.LessonID)
	if err != nil {
		return nil, fmt.Errorf("record_progress: %w", err)
	}
	if lesson.CourseID != cmd.CourseID {
		return nil, shared.ErrLessonNotInCourse
	}

	now := h.env.now(cmd.At)
	if _, err := h.award.ensureLearner(ctx, cmd.UserID, now); err != nil {
		return nil, fmt.Errorf("record_progress: %w", err)
	}

	var (
		row     progress.LessonProgress
		applied progress.ApplyResult
	)
	err = h.env.withStoreRetry(ctx, "record_progress", func(ctx context.Context) error {
		lp, err := h.repo.GetLesson(ctx, cmd.UserID, cmd.LessonID)
		switch {
		case shared.IsNotFound(err):
			lp = progress.NewLessonProgress(cmd.UserID, lesson, now)
		case err != nil:
			return err
		}

		res, err := lp.Apply(progress.Signal{
			Percent:        cmd.Percent,
			TimeSpentDelta: cmd.TimeSpentDelta,
			Payload:        cmd.Payload,
			At:             now,
		})
		if err != nil {
			return err
		}
		if err := h.repo.SaveLesson(ctx, lp); err != nil {
			return err
		}
		row, applied = *lp, res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record_progress: %w", err)
	}

	course, err := h.courses.Handle(ctx, RecomputeCourseProgressCommand{
		UserID:   cmd.UserID,
		CourseID: cmd.CourseID,
		At:       now,
	})
	if err != nil {
		return nil, fmt.Errorf("record_progress: course rollup: %w", err)
	}

	result := &RecordProgressResult{
		Lesson:          row,
		Course:          course.Course,
		FirstCompletion: applied.FirstCompletion,
		CourseCompleted: course.Completed,
		PointsAwarded:   course.PointsAwarded,
		Warnings:        course.Warnings,
	}

	log := h.env.Logger.With(
		logger.UserID(cmd.UserID.String()),
		logger.LessonID(cmd.LessonID),
		logger.CourseID(cmd.CourseID),
	)

	if applied.FirstCompletion {
		log.Info("lesson completed", logger.String("kind", lesson.Kind.String()))
		h.grantPoints(ctx, log, result, points.ReasonLessonCompleted, points.LessonKey(cmd.LessonID), now)
		h.env.publish(shared.NewLessonCompletedEvent(
			cmd.UserID.String(), cmd.LessonID, cmd.CourseID, lesson.Kind.String(), now,
		))
		h.grantTimeOfDay(ctx, log, result, cmd.UserID, now)
	}
	if applied.QuizPassed {
		h.grantPoints(ctx, log, result, points.ReasonQuizPassed, points.QuizPassedKey(cmd.LessonID), now)
	}
	if applied.QuizPerfect {
		h.grantPoints(ctx, log, result, points.ReasonQuizPerfect, points.QuizPerfectKey(cmd.LessonID), now)
	}
	h.repayMilestones(ctx, log, result, applied)

	eval, err := h.achievements.Handle(ctx, EvaluateAchievementsCommand{UserID: cmd.UserID, At: now})
	if eval != nil {
		result.Unlocked = append(result.Unlocked, eval.Unlocked...)
		result.Warnings = append(result.Warnings, eval.Warnings...)
	}
	if err != nil {
		result.Warnings.add(log, "evaluate_achievements", err)
	}

	return result, nil
}

// repayMilestones pays milestones the row already held before this signal
// when their ledger key is missing, so a re-sent signal repairs a grant that
// failed earlier.
func (h *RecordProgressHandler) repayMilestones(ctx context.Context, log *logger.Logger, result *RecordProgressResult, applied progress.ApplyResult) {
	for _, m := range result.Lesson.Milestones() {
		switch {
		case m.Reason == points.ReasonLessonCompleted && applied.FirstCompletion,
			m.Reason == points.ReasonQuizPassed && applied.QuizPassed,
			m.Reason == points.ReasonQuizPerfect && applied.QuizPerfect:
			continue
		}
		granted, err := h.award.Granted(ctx, m.UserID, m.Key())
		if err != nil {
			result.Warnings.add(log, "check_"+string(m.Reason), err)
			continue
		}
		if granted {
			continue
		}
		log.Warn("repaying missing milestone grant", logger.IdempotencyKey(m.Key()))
		h.grantPoints(ctx, log, result, m.Reason, m.Key(), m.At)
	}
}

func (h *RecordProgressHandler) grantPoints(ctx context.Context, log *logger.Logger, result *RecordProgressResult, reason points.Reason, key string, now time.Time) {
	award, err := h.award.Handle(ctx, AwardPointsCommand{
		UserID:         result.Lesson.UserID,
		Reason:         reason,
		Description:    string(reason) + " " + result.Lesson.LessonID,
		Metadata:       map[string]any{"lesson_id": result.Lesson.LessonID, "course_id": result.Lesson.CourseID},
		IdempotencyKey: key,
		At:             now,
	})
	if err != nil {
		result.Warnings.add(log, "award_"+string(reason), err)
		return
	}
	if award.Awarded {
		result.PointsAwarded += award.Transaction.Points
	}
}

// grantTimeOfDay grants night_owl or early_bird when the completion falls in
// their local hour window.
func (h *RecordProgressHandler) grantTimeOfDay(ctx context.Context, log *logger.Logger, result *RecordProgressResult, userID shared.UserID, now time.Time) {
	var t achievement.Type
	switch hour := h.env.Calendar.Hour(now); {
	case hour >= nightOwlFromHour && hour < nightOwlToHour:
		t = achievement.TypeNightOwl
	case hour >= earlyBirdFromHour && hour < earlyBirdToHour:
		t = achievement.TypeEarlyBird
	default:
		return
	}
	def, ok := h.env.Rules.Achievements.Get(t)
	if !ok {
		return
	}

	granted, warnings, err := h.achievements.GrantSpecial(ctx, userID, t, now)
	result.Warnings = append(result.Warnings, warnings...)
	if err != nil {
		result.Warnings.add(log, "grant_"+string(t), err)
		return
	}
	if granted {
		result.Unlocked = append(result.Unlocked, def)
	}
}
