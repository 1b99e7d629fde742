package progress

import (
	"context"

	"github.com/alem-hub/learning-progress/internal/domain/shared"
)

// Repository persists lesson and course progress.
//
// Save methods are compare-and-swap on Version: a value with Version 0 is
// inserted and fails with shared.ErrConflictRace if the row already exists;
// otherwise the row is updated only if its stored version still equals
// Version. On success Version is incremented in place.
type Repository interface {
	// GetLesson returns shared.ErrLessonProgressNotFound when the learner has
	// never touched the lesson.
	GetLesson(ctx context.Context, userID shared.UserID, lessonID string) (*LessonProgress, error)

	SaveLesson(ctx context.Context, lp *LessonProgress) error

	// ListCourseLessons returns all of the learner's rows for a course.
	ListCourseLessons(ctx context.Context, userID shared.UserID, courseID string) ([]LessonProgress, error)

	// GetCourse returns shared.ErrCourseProgressNotFound before the first rollup.
	GetCourse(ctx context.Context, userID shared.UserID, courseID string) (*CourseProgress, error)

	SaveCourse(ctx context.Context, cp *CourseProgress) error

	// ListCourses returns every course rollup of the learner.
	ListCourses(ctx context.Context, userID shared.UserID) ([]CourseProgress, error)

	// Counts aggregates the learner's progress for game stats.
	Counts(ctx context.Context, userID shared.UserID) (Counts, error)

	// ListUnpaidMilestones returns held milestones whose ledger key is
	// missing, oldest first. limit <= 0 means no limit.
	ListUnpaidMilestones(ctx context.Context, limit int) ([]Milestone, error)
}

// Counts is the progress slice of a learner's game stats.
type Counts struct {
	LessonsCompleted   int
	CoursesCompleted   int
	QuizzesPassed      int
	PerfectQuizzes     int
	TimeStudiedSeconds int64
}

// Catalog is read-only access to course content.
type Catalog interface {
	// Lesson returns shared.ErrLessonNotFound for unknown lessons.
	Lesson(ctx context.Context, lessonID string) (Lesson, error)

	// CourseLessons returns the lessons of a course ordered by position, or
	// shared.ErrCourseNotFound for unknown courses. A known course may have
	// no lessons.
	CourseLessons(ctx context.Context, courseID string) ([]Lesson, error)
}
