// Package points models the append-only points ledger.
package points

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/learning-progress/internal/domain/shared"
	"github.com/alem-hub/learning-progress/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// REASONS
// ══════════════════════════════════════════════════════════════════════════════

// Reason explains why a transaction was written.
type Reason string

const (
	ReasonLessonCompleted   Reason = "lesson_completed"
	ReasonCourseCompleted   Reason = "course_completed"
	ReasonQuizPassed        Reason = "quiz_passed"
	ReasonQuizPerfect       Reason = "quiz_perfect"
	ReasonDailyLogin        Reason = "daily_login"
	ReasonAchievementEarned Reason = "achievement_earned"
	// ReasonAdjustment is a manual correction; the only reason that may be negative.
	ReasonAdjustment Reason = "adjustment"
)

var knownReasons = map[Reason]struct{}{
	ReasonLessonCompleted:   {},
	ReasonCourseCompleted:   {},
	ReasonQuizPassed:        {},
	ReasonQuizPerfect:       {},
	ReasonDailyLogin:        {},
	ReasonAchievementEarned: {},
	ReasonAdjustment:        {},
}

// IsValid reports whether r is a known reason.
func (r Reason) IsValid() bool {
	_, ok := knownReasons[r]
	return ok
}

// ──────────────────────────────────────────────────────────────────────────────
// Point table
// ──────────────────────────────────────────────────────────────────────────────

// Table holds the fixed point values and the reasons limited to one grant per
// calendar day. Achievement points come from the achievement catalog instead.
type Table struct {
	Values       map[Reason]int `yaml:"values" json:"values"`
	DailyLimited []Reason       `yaml:"daily_limited" json:"daily_limited"`
}

// DefaultTable returns the standard point values.
func DefaultTable() Table {
	return Table{
		Values: map[Reason]int{
			ReasonLessonCompleted: 10,
			ReasonCourseCompleted: 100,
			ReasonQuizPassed:      15,
			ReasonQuizPerfect:     25,
			ReasonDailyLogin:      5,
		},
		DailyLimited: []Reason{ReasonDailyLogin},
	}
}

// PointsFor returns the configured value for r.
func (t Table) PointsFor(r Reason) (int, bool) {
	v, ok := t.Values[r]
	return v, ok
}

// IsDailyLimited reports whether r may be granted at most once per day.
func (t Table) IsDailyLimited(r Reason) bool {
	for _, d := range t.DailyLimited {
		if d == r {
			return true
		}
	}
	return false
}

// Validate checks that every value is a known, positive reason.
func (t Table) Validate() error {
	for r, v := range t.Values {
		if !r.IsValid() || r == ReasonAdjustment || r == ReasonAchievementEarned {
			return fmt.Errorf("point table: reason %q cannot carry a fixed value", r)
		}
		if v <= 0 {
			return fmt.Errorf("point table: reason %q must be positive, got %d", r, v)
		}
	}
	for _, r := range t.DailyLimited {
		if !r.IsValid() {
			return fmt.Errorf("point table: unknown daily limited reason %q", r)
		}
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSACTION
// ══════════════════════════════════════════════════════════════════════════════

// Transaction is one immutable ledger row.
type Transaction struct {
	ID          string         `json:"id"`
	UserID      shared.UserID  `json:"user_id"`
	Points      int            `json:"points"`
	Reason      Reason         `json:"reason"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`

	// IdempotencyKey is unique per user. Two grants for the same logical
	// event share a key, so the store rejects the second one.
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewTransaction validates and builds a transaction.
func NewTransaction(id string, userID shared.UserID, reason Reason, pts int, description string, metadata map[string]any, key string, at time.Time) (*Transaction, error) {
	if !userID.IsValid() {
		return nil, shared.ErrNoUserContext
	}
	if !reason.IsValid() {
		return nil, shared.ErrUnknownReason
	}
	if pts == 0 {
		return nil, shared.ErrZeroPoints
	}
	if pts < 0 && reason != ReasonAdjustment {
		return nil, shared.NewDomainError("points", "Validate", shared.ErrNegativeValue, "only adjustments may remove points")
	}
	return &Transaction{
		ID:             id,
		UserID:         userID,
		Points:         pts,
		Reason:         reason,
		Description:    description,
		Metadata:       metadata,
		IdempotencyKey: key,
		CreatedAt:      at,
	}, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Idempotency keys
// ──────────────────────────────────────────────────────────────────────────────

// LessonKey identifies the completion grant of a lesson.
func LessonKey(lessonID string) string { return string(ReasonLessonCompleted) + ":" + lessonID }

// CourseKey identifies the completion grant of a course.
func CourseKey(courseID string) string { return string(ReasonCourseCompleted) + ":" + courseID }

// QuizPassedKey identifies the pass grant of a quiz lesson.
func QuizPassedKey(lessonID string) string { return string(ReasonQuizPassed) + ":" + lessonID }

// QuizPerfectKey identifies the perfect-score grant of a quiz lesson.
func QuizPerfectKey(lessonID string) string { return string(ReasonQuizPerfect) + ":" + lessonID }

// AchievementKey identifies the points grant of an achievement.
func AchievementKey(achievementType string) string {
	return string(ReasonAchievementEarned) + ":" + achievementType
}

// DailyKey identifies a once-per-day grant.
func DailyKey(reason Reason, day timeutil.Date) string {
	return string(reason) + ":" + day.String()
}

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// Ledger is the durable points ledger.
type Ledger interface {
	// Append writes tx and adds tx.Points to the learner's denormalized total
	// in one atomic operation, returning the new total. A duplicate
	// idempotency key yields shared.ErrAlreadyGranted and changes nothing.
	Append(ctx context.Context, tx *Transaction) (int, error)

	// HasReasonSince reports whether the learner has a transaction with
	// reason created at or after since.
	HasReasonSince(ctx context.Context, userID shared.UserID, reason Reason, since time.Time) (bool, error)

	// HasKey reports whether a transaction with the idempotency key exists.
	HasKey(ctx context.Context, userID shared.UserID, key string) (bool, error)

	// History returns the newest transactions first.
	History(ctx context.Context, userID shared.UserID, limit int) ([]Transaction, error)

	// PeriodTotals sums transactions inside the window per learner.
	PeriodTotals(ctx context.Context, window shared.TimeRange) (map[shared.UserID]int, error)
}
