package progress

import (
	"time"

	"github.com/alem-hub/learning-progress/internal/domain/shared"
)

// Lesson is the read-only catalog view of a lesson.
type Lesson struct {
	ID       string `json:"id"`
	CourseID string `json:"course_id"`
	Kind     Kind   `json:"kind"`
	Position int    `json:"position"`
}

// ══════════════════════════════════════════════════════════════════════════════
// COURSE PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// CourseProgress is the rollup of one learner's lesson rows in a course.
// It is always recomputed from the lesson rows, never patched.
type CourseProgress struct {
	UserID           shared.UserID `json:"user_id"`
	CourseID         string        `json:"course_id"`
	ProgressPercent  float64       `json:"progress_percent"`
	LessonsCompleted int           `json:"lessons_completed"`
	TotalLessons     int           `json:"total_lessons"`
	TimeSpentSeconds int64         `json:"time_spent_seconds"`
	Status           Status        `json:"status"`
	StartedAt        time.Time     `json:"started_at"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
	UpdatedAt        time.Time     `json:"updated_at"`

	Version int64 `json:"-"`
}

// RoundedPercent is the display value of ProgressPercent.
func (cp *CourseProgress) RoundedPercent() int {
	return RoundPercent(cp.ProgressPercent)
}

// IsCompleted reports whether the course was ever completed.
func (cp *CourseProgress) IsCompleted() bool {
	return cp.CompletedAt != nil
}

// Recompute derives a course rollup from the course's lessons and the
// learner's progress rows.
//
// Rows for lessons that are no longer part of the course are ignored for the
// completed count but still contribute time spent. Completion is monotonic:
// once prev carries a CompletedAt it is kept even if lessons were added and
// the percent dropped below 100. The returned bool is true only on the call
// that first sets CompletedAt.
func Recompute(userID shared.UserID, courseID string, lessons []Lesson, rows []LessonProgress, prev *CourseProgress, now time.Time) (CourseProgress, bool) {
	inCourse := make(map[string]struct{}, len(lessons))
	for _, l := range lessons {
		inCourse[l.ID] = struct{}{}
	}

	cp := CourseProgress{
		UserID:       userID,
		CourseID:     courseID,
		TotalLessons: len(lessons),
		UpdatedAt:    now,
	}

	var earliest time.Time
	for i := range rows {
		row := &rows[i]
		cp.TimeSpentSeconds += row.TimeSpentSeconds
		if earliest.IsZero() || row.StartedAt.Before(earliest) {
			earliest = row.StartedAt
		}
		if _, ok := inCourse[row.LessonID]; ok && row.Status.IsCompleted() {
			cp.LessonsCompleted++
		}
	}

	if cp.TotalLessons > 0 {
		cp.ProgressPercent = 100 * float64(cp.LessonsCompleted) / float64(cp.TotalLessons)
	}
	cp.Status = StatusFor(cp.ProgressPercent)

	switch {
	case prev != nil && !prev.StartedAt.IsZero():
		cp.StartedAt = prev.StartedAt
	case !earliest.IsZero():
		cp.StartedAt = earliest
	default:
		cp.StartedAt = now
	}
	if prev != nil {
		cp.Version = prev.Version
	}

	if prev != nil && prev.CompletedAt != nil {
		completedAt := *prev.CompletedAt
		cp.CompletedAt = &completedAt
		cp.Status = StatusCompleted
		return cp, false
	}

	if cp.Status.IsCompleted() {
		completedAt := now
		cp.CompletedAt = &completedAt
		return cp, true
	}
	return cp, false
}
