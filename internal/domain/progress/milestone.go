package progress

import (
	"time"

	"github.com/alem-hub/learning-progress/internal/domain/points"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
)

// Milestone is a points-earning state that a progress row keeps once
// reached: a completed lesson or course, a passed quiz, a perfect quiz.
// Rows never leave these states, so a missing ledger entry for a held
// milestone is always a grant that failed and can be paid again.
type Milestone struct {
	UserID shared.UserID
	Reason points.Reason
	// LessonID is empty for course milestones.
	LessonID string
	CourseID string
	At       time.Time
}

// Key returns the idempotency key of the milestone's points grant.
func (m Milestone) Key() string {
	switch m.Reason {
	case points.ReasonCourseCompleted:
		return points.CourseKey(m.CourseID)
	case points.ReasonQuizPassed:
		return points.QuizPassedKey(m.LessonID)
	case points.ReasonQuizPerfect:
		return points.QuizPerfectKey(m.LessonID)
	default:
		return points.LessonKey(m.LessonID)
	}
}

// Milestones lists the milestones the lesson row holds. Quiz milestones are
// dated by the last access since the payload keeps no pass timestamp.
func (lp *LessonProgress) Milestones() []Milestone {
	var out []Milestone
	held := func(reason points.Reason, at time.Time) {
		out = append(out, Milestone{UserID: lp.UserID, Reason: reason, LessonID: lp.LessonID, CourseID: lp.CourseID, At: at})
	}
	if lp.CompletedAt != nil {
		held(points.ReasonLessonCompleted, *lp.CompletedAt)
	}
	if q := lp.Payload.Quiz; q != nil {
		if q.Passed {
			held(points.ReasonQuizPassed, lp.LastAccessedAt)
		}
		if q.Perfect {
			held(points.ReasonQuizPerfect, lp.LastAccessedAt)
		}
	}
	return out
}

// Milestone returns the course completion milestone when the course is done.
func (cp *CourseProgress) Milestone() (Milestone, bool) {
	if cp.CompletedAt == nil {
		return Milestone{}, false
	}
	return Milestone{
		UserID:   cp.UserID,
		Reason:   points.ReasonCourseCompleted,
		CourseID: cp.CourseID,
		At:       *cp.CompletedAt,
	}, true
}
