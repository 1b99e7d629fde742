// Package progress turns raw lesson signals into per-lesson and per-course
// progress records.
package progress

import (
	"math"
	"time"

	"github.com/alem-hub/learning-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

// Status is derived from a progress percent and never stored independently.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// StatusFor maps a percent to its status: 0 is not started, anything below
// 100 is in progress, 100 and above is completed.
func StatusFor(percent float64) Status {
	switch {
	case percent >= 100:
		return StatusCompleted
	case percent > 0:
		return StatusInProgress
	default:
		return StatusNotStarted
	}
}

// IsCompleted reports whether the status is terminal.
func (s Status) IsCompleted() bool {
	return s == StatusCompleted
}

// RoundPercent rounds half up for display. Stored percents stay unrounded.
func RoundPercent(p float64) int {
	return int(math.Floor(p + 0.5))
}

// ══════════════════════════════════════════════════════════════════════════════
// LESSON PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// LessonProgress is one learner's state in one lesson.
type LessonProgress struct {
	UserID           shared.UserID `json:"user_id"`
	LessonID         string        `json:"lesson_id"`
	CourseID         string        `json:"course_id"`
	Kind             Kind          `json:"kind"`
	ProgressPercent  float64       `json:"progress_percent"`
	Status           Status        `json:"status"`
	TimeSpentSeconds int64         `json:"time_spent_seconds"`
	StartedAt        time.Time     `json:"started_at"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
	LastAccessedAt   time.Time     `json:"last_accessed_at"`
	Payload          Payload       `json:"payload"`

	// Version is the store revision this value was read at. Zero means the
	// row has never been written.
	Version int64 `json:"-"`
}

// NewLessonProgress starts tracking a lesson. startedAt is the first signal.
func NewLessonProgress(userID shared.UserID, lesson Lesson, startedAt time.Time) *LessonProgress {
	return &LessonProgress{
		UserID:         userID,
		LessonID:       lesson.ID,
		CourseID:       lesson.CourseID,
		Kind:           lesson.Kind,
		Status:         StatusNotStarted,
		StartedAt:      startedAt,
		LastAccessedAt: startedAt,
	}
}

// Signal is one incremental progress report from a client.
type Signal struct {
	Percent        float64
	TimeSpentDelta int64
	Payload        *Payload
	At             time.Time
}

// ApplyResult reports the edges crossed by one Apply call.
type ApplyResult struct {
	FirstCompletion bool
	QuizPassed      bool // first passing submission
	QuizPerfect     bool // first perfect submission
}

// Apply folds a signal into the record.
//
// The percent only ratchets upward, so status never moves backward and
// CompletedAt, once set, keeps its original timestamp. Time spent always
// accumulates and the payload is always merged, even for lower percents.
func (lp *LessonProgress) Apply(sig Signal) (ApplyResult, error) {
	var res ApplyResult

	if sig.TimeSpentDelta < 0 {
		return res, shared.NewDomainError("progress", "Apply", shared.ErrNegativeValue, "time spent delta cannot be negative")
	}

	wasPassed, wasPerfect := false, false
	if lp.Payload.Quiz != nil {
		wasPassed, wasPerfect = lp.Payload.Quiz.Passed, lp.Payload.Quiz.Perfect
	}

	if sig.Payload != nil {
		if err := sig.Payload.Validate(lp.Kind); err != nil {
			return res, err
		}
		lp.Payload = lp.Payload.merge(*sig.Payload)
	}

	effective, err := EffectivePercent(lp.Kind, sig.Percent, lp.Payload)
	if err != nil {
		return res, err
	}

	if effective > lp.ProgressPercent {
		lp.ProgressPercent = effective
	}
	lp.TimeSpentSeconds += sig.TimeSpentDelta
	lp.LastAccessedAt = sig.At
	lp.Status = StatusFor(lp.ProgressPercent)

	if lp.Status.IsCompleted() && lp.CompletedAt == nil {
		at := sig.At
		lp.CompletedAt = &at
		res.FirstCompletion = true
	}

	if q := lp.Payload.Quiz; q != nil {
		res.QuizPassed = q.Passed && !wasPassed
		res.QuizPerfect = q.Perfect && !wasPerfect
	}
	return res, nil
}

// IsCompleted reports whether the lesson has been completed.
func (lp *LessonProgress) IsCompleted() bool {
	return lp.CompletedAt != nil
}
