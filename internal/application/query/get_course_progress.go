package query

import (
	"context"

	"github.com/alem-hub/learning-progress/internal/domain/level"
	"github.com/alem-hub/learning-progress/internal/domain/progress"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET COURSE PROGRESS QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetCourseProgressQuery identifies the rollup.
type GetCourseProgressQuery struct {
	UserID   shared.UserID
	CourseID string
}

// LessonView pairs a catalog lesson with the learner's row, if any.
type LessonView struct {
	Lesson   progress.Lesson          `json:"lesson"`
	Progress *progress.LessonProgress `json:"progress,omitempty"`
}

// CourseProgressResult is the course rollup plus per-lesson detail.
type CourseProgressResult struct {
	Course         progress.CourseProgress `json:"course"`
	RoundedPercent int                     `json:"rounded_percent"`
	Lessons        []LessonView            `json:"lessons"`
}

// GetCourseProgressHandler handles the GetCourseProgressQuery.
type GetCourseProgressHandler struct {
	repo    progress.Repository
	catalog progress.Catalog
	env     Env
}

// NewGetCourseProgressHandler creates a new GetCourseProgressHandler.
func NewGetCourseProgressHandler(repo progress.Repository, catalog progress.Catalog, env Env) *GetCourseProgressHandler {
	return &GetCourseProgressHandler{repo: repo, catalog: catalog, env: env.withDefaults()}
}

// Handle executes the query. A course the learner never touched reads as a
// not started rollup; it is not persisted.
func (h *GetCourseProgressHandler) Handle(ctx context.Context, q GetCourseProgressQuery) (*CourseProgressResult, error) {
	if err := requireUser(q.UserID); err != nil {
		return nil, err
	}

	lessons, err := h.catalog.CourseLessons(ctx, q.CourseID)
	if err != nil {
		return nil, err
	}
	rows, err := h.repo.ListCourseLessons(ctx, q.UserID, q.CourseID)
	if err != nil {
		return nil, err
	}

	var course progress.CourseProgress
	stored, err := h.repo.GetCourse(ctx, q.UserID, q.CourseID)
	switch {
	case err == nil:
		course = *stored
	case shared.IsNotFound(err):
		course, _ = progress.Recompute(q.UserID, q.CourseID, lessons, rows, nil, h.env.Clock.Now())
	default:
		return nil, err
	}

	byLesson := make(map[string]*progress.LessonProgress, len(rows))
	for i := range rows {
		byLesson[rows[i].LessonID] = &rows[i]
	}
	res := &CourseProgressResult{
		Course:         course,
		RoundedPercent: course.RoundedPercent(),
		Lessons:        make([]LessonView, 0, len(lessons)),
	}
	for _, l := range lessons {
		res.Lessons = append(res.Lessons, LessonView{Lesson: l, Progress: byLesson[l.ID]})
	}
	return res, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GET LEVELS QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetLevelsHandler returns the configured level table.
type GetLevelsHandler struct {
	env Env
}

// NewGetLevelsHandler creates a new GetLevelsHandler.
func NewGetLevelsHandler(env Env) *GetLevelsHandler {
	return &GetLevelsHandler{env: env.withDefaults()}
}

// Handle returns the level table in threshold order.
func (h *GetLevelsHandler) Handle(context.Context) level.Table {
	return h.env.Rules.Levels
}
