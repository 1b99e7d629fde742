package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/learning-progress/internal/domain/points"
	"github.com/alem-hub/learning-progress/internal/domain/progress"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRepository implements progress.Repository for PostgreSQL. Both
// tables carry a version column used for compare-and-swap writes.
type ProgressRepository struct {
	conn *Connection
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(conn *Connection) *ProgressRepository {
	return &ProgressRepository{conn: conn}
}

var errVersionMismatch = shared.NewDomainError("postgres", "Save", shared.ErrConflictRace, "row version changed")

// casResult turns the outcome of a versioned write into the domain error.
// Inserts race on the primary key; updates race on the version predicate.
func casResult(op string, rowsAffected int64, err error) error {
	if err != nil {
		if IsUniqueViolation(err) {
			return errVersionMismatch
		}
		return mapError(op, err)
	}
	if rowsAffected == 0 {
		return errVersionMismatch
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Lesson progress
// ─────────────────────────────────────────────────────────────────────────────

const lessonColumns = `user_id, lesson_id, course_id, kind, progress_percent, status,
	time_spent_seconds, started_at, completed_at, last_accessed_at, payload, version`

// GetLesson returns the learner's row for a lesson.
func (r *ProgressRepository) GetLesson(ctx context.Context, userID shared.UserID, lessonID string) (*progress.LessonProgress, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+lessonColumns+` FROM lesson_progress WHERE user_id = $1 AND lesson_id = $2`,
		userID.String(), lessonID)

	lp, err := scanLesson(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrLessonProgressNotFound
		}
		return nil, mapError("GetLesson", err)
	}
	return lp, nil
}

// SaveLesson inserts or updates the row guarded by its version.
func (r *ProgressRepository) SaveLesson(ctx context.Context, lp *progress.LessonProgress) error {
	payload, err := json.Marshal(lp.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	var affected int64
	if lp.Version == 0 {
		tag, execErr := r.conn.Exec(ctx, `
			INSERT INTO lesson_progress (`+lessonColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1)
		`, lp.UserID.String(), lp.LessonID, lp.CourseID, string(lp.Kind), lp.ProgressPercent, string(lp.Status),
			lp.TimeSpentSeconds, lp.StartedAt, lp.CompletedAt, lp.LastAccessedAt, payload)
		affected, err = tag.RowsAffected(), execErr
	} else {
		tag, execErr := r.conn.Exec(ctx, `
			UPDATE lesson_progress SET
				progress_percent = $3,
				status = $4,
				time_spent_seconds = $5,
				completed_at = $6,
				last_accessed_at = $7,
				payload = $8,
				version = version + 1
			WHERE user_id = $1 AND lesson_id = $2 AND version = $9
		`, lp.UserID.String(), lp.LessonID, lp.ProgressPercent, string(lp.Status), lp.TimeSpentSeconds,
			lp.CompletedAt, lp.LastAccessedAt, payload, lp.Version)
		affected, err = tag.RowsAffected(), execErr
	}

	if err := casResult("SaveLesson", affected, err); err != nil {
		return err
	}
	lp.Version++
	return nil
}

// ListCourseLessons returns the learner's rows for a course.
func (r *ProgressRepository) ListCourseLessons(ctx context.Context, userID shared.UserID, courseID string) ([]progress.LessonProgress, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT `+lessonColumns+`
		FROM lesson_progress
		WHERE user_id = $1 AND course_id = $2
		ORDER BY lesson_id
	`, userID.String(), courseID)
	if err != nil {
		return nil, mapError("ListCourseLessons", err)
	}
	defer rows.Close()

	var out []progress.LessonProgress
	for rows.Next() {
		lp, err := scanLesson(rows)
		if err != nil {
			return nil, mapError("ListCourseLessons", err)
		}
		out = append(out, *lp)
	}
	return out, mapError("ListCourseLessons", rows.Err())
}

func scanLesson(row pgx.Row) (*progress.LessonProgress, error) {
	var (
		lp                   progress.LessonProgress
		userID, kind, status string
		payload              []byte
	)
	err := row.Scan(&userID, &lp.LessonID, &lp.CourseID, &kind, &lp.ProgressPercent, &status,
		&lp.TimeSpentSeconds, &lp.StartedAt, &lp.CompletedAt, &lp.LastAccessedAt, &payload, &lp.Version)
	if err != nil {
		return nil, err
	}
	lp.UserID = shared.UserID(userID)
	lp.Kind = progress.Kind(kind)
	lp.Status = progress.Status(status)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &lp.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}
	return &lp, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Course progress
// ─────────────────────────────────────────────────────────────────────────────

const courseColumns = `user_id, course_id, progress_percent, lessons_completed, total_lessons,
	time_spent_seconds, status, started_at, completed_at, updated_at, version`

// GetCourse returns the stored rollup.
func (r *ProgressRepository) GetCourse(ctx context.Context, userID shared.UserID, courseID string) (*progress.CourseProgress, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+courseColumns+` FROM course_progress WHERE user_id = $1 AND course_id = $2`,
		userID.String(), courseID)

	cp, err := scanCourse(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrCourseProgressNotFound
		}
		return nil, mapError("GetCourse", err)
	}
	return cp, nil
}

// SaveCourse inserts or updates the rollup guarded by its version.
func (r *ProgressRepository) SaveCourse(ctx context.Context, cp *progress.CourseProgress) error {
	var (
		affected int64
		err      error
	)
	if cp.Version == 0 {
		tag, execErr := r.conn.Exec(ctx, `
			INSERT INTO course_progress (`+courseColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1)
		`, cp.UserID.String(), cp.CourseID, cp.ProgressPercent, cp.LessonsCompleted, cp.TotalLessons,
			cp.TimeSpentSeconds, string(cp.Status), cp.StartedAt, cp.CompletedAt, cp.UpdatedAt)
		affected, err = tag.RowsAffected(), execErr
	} else {
		tag, execErr := r.conn.Exec(ctx, `
			UPDATE course_progress SET
				progress_percent = $3,
				lessons_completed = $4,
				total_lessons = $5,
				time_spent_seconds = $6,
				status = $7,
				completed_at = $8,
				updated_at = $9,
				version = version + 1
			WHERE user_id = $1 AND course_id = $2 AND version = $10
		`, cp.UserID.String(), cp.CourseID, cp.ProgressPercent, cp.LessonsCompleted, cp.TotalLessons,
			cp.TimeSpentSeconds, string(cp.Status), cp.CompletedAt, cp.UpdatedAt, cp.Version)
		affected, err = tag.RowsAffected(), execErr
	}

	if err := casResult("SaveCourse", affected, err); err != nil {
		return err
	}
	cp.Version++
	return nil
}

// ListCourses returns every rollup of the learner.
func (r *ProgressRepository) ListCourses(ctx context.Context, userID shared.UserID) ([]progress.CourseProgress, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT `+courseColumns+`
		FROM course_progress
		WHERE user_id = $1
		ORDER BY course_id
	`, userID.String())
	if err != nil {
		return nil, mapError("ListCourses", err)
	}
	defer rows.Close()

	var out []progress.CourseProgress
	for rows.Next() {
		cp, err := scanCourse(rows)
		if err != nil {
			return nil, mapError("ListCourses", err)
		}
		out = append(out, *cp)
	}
	return out, mapError("ListCourses", rows.Err())
}

func scanCourse(row pgx.Row) (*progress.CourseProgress, error) {
	var (
		cp             progress.CourseProgress
		userID, status string
		completedAt    *time.Time
	)
	err := row.Scan(&userID, &cp.CourseID, &cp.ProgressPercent, &cp.LessonsCompleted, &cp.TotalLessons,
		&cp.TimeSpentSeconds, &status, &cp.StartedAt, &completedAt, &cp.UpdatedAt, &cp.Version)
	if err != nil {
		return nil, err
	}
	cp.UserID = shared.UserID(userID)
	cp.Status = progress.Status(status)
	cp.CompletedAt = completedAt
	return &cp, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Stats
// ─────────────────────────────────────────────────────────────────────────────

// Counts aggregates the learner's progress rows.
func (r *ProgressRepository) Counts(ctx context.Context, userID shared.UserID) (progress.Counts, error) {
	var c progress.Counts
	err := r.conn.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE lp.status = 'completed'),
			COUNT(*) FILTER (WHERE COALESCE((lp.payload->'quiz'->>'passed')::boolean, FALSE)),
			COUNT(*) FILTER (WHERE COALESCE((lp.payload->'quiz'->>'perfect')::boolean, FALSE)),
			COALESCE(SUM(lp.time_spent_seconds), 0)::BIGINT,
			(SELECT COUNT(*) FROM course_progress cp WHERE cp.user_id = $1 AND cp.completed_at IS NOT NULL)
		FROM lesson_progress lp
		WHERE lp.user_id = $1
	`, userID.String()).Scan(&c.LessonsCompleted, &c.QuizzesPassed, &c.PerfectQuizzes, &c.TimeStudiedSeconds, &c.CoursesCompleted)
	if err != nil {
		return progress.Counts{}, mapError("Counts", err)
	}
	return c, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Milestones
// ─────────────────────────────────────────────────────────────────────────────

// unpaidMilestonesSQL lists held milestones without a ledger row under their
// key. Keys are "<reason>:<lesson or course id>", matching points.LessonKey
// and friends.
const unpaidMilestonesSQL = `
	SELECT m.user_id, m.reason, m.lesson_id, m.course_id, m.at
	FROM (
		SELECT lp.user_id, $1::text AS reason, lp.lesson_id, lp.course_id, lp.completed_at AS at
		FROM lesson_progress lp
		WHERE lp.completed_at IS NOT NULL
		UNION ALL
		SELECT lp.user_id, $2::text, lp.lesson_id, lp.course_id, lp.last_accessed_at
		FROM lesson_progress lp
		WHERE COALESCE((lp.payload->'quiz'->>'passed')::boolean, FALSE)
		UNION ALL
		SELECT lp.user_id, $3::text, lp.lesson_id, lp.course_id, lp.last_accessed_at
		FROM lesson_progress lp
		WHERE COALESCE((lp.payload->'quiz'->>'perfect')::boolean, FALSE)
		UNION ALL
		SELECT cp.user_id, $4::text, '', cp.course_id, cp.completed_at
		FROM course_progress cp
		WHERE cp.completed_at IS NOT NULL
	) m
	WHERE NOT EXISTS (
		SELECT 1 FROM points_transactions pt
		WHERE pt.user_id = m.user_id
		  AND pt.idempotency_key = m.reason || ':' ||
		      CASE WHEN m.reason = $4::text THEN m.course_id ELSE m.lesson_id END
	)
	ORDER BY m.at, m.user_id, m.reason, m.lesson_id, m.course_id
	LIMIT $5`

// ListUnpaidMilestones returns held milestones whose points never landed.
func (r *ProgressRepository) ListUnpaidMilestones(ctx context.Context, limit int) ([]progress.Milestone, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := r.conn.Query(ctx, unpaidMilestonesSQL,
		string(points.ReasonLessonCompleted),
		string(points.ReasonQuizPassed),
		string(points.ReasonQuizPerfect),
		string(points.ReasonCourseCompleted),
		lim,
	)
	if err != nil {
		return nil, mapError("ListUnpaidMilestones", err)
	}
	defer rows.Close()

	var out []progress.Milestone
	for rows.Next() {
		var (
			m            progress.Milestone
			user, reason string
		)
		if err := rows.Scan(&user, &reason, &m.LessonID, &m.CourseID, &m.At); err != nil {
			return nil, mapError("ListUnpaidMilestones", err)
		}
		m.UserID = shared.UserID(user)
		m.Reason = points.Reason(reason)
		out = append(out, m)
	}
	return out, mapError("ListUnpaidMilestones", rows.Err())
}
