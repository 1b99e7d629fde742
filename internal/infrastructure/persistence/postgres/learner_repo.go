package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/learning-progress/internal/domain/learner"
	"github.com/alem-hub/learning-progress/internal/domain/progress"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEARNER REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// LearnerRepository implements learner.Repository for PostgreSQL.
type LearnerRepository struct {
	conn *Connection
}

// NewLearnerRepository creates a new LearnerRepository.
func NewLearnerRepository(conn *Connection) *LearnerRepository {
	return &LearnerRepository{conn: conn}
}

// Ensure inserts the learner unless a row already exists and returns the
// stored row either way.
func (r *LearnerRepository) Ensure(ctx context.Context, l *learner.Learner) (*learner.Learner, error) {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO learners (id, display_name, total_points, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, l.ID.String(), l.DisplayName, l.TotalPoints, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		return nil, mapError("EnsureLearner", err)
	}
	return r.Get(ctx, l.ID)
}

// Get returns a learner by ID.
func (r *LearnerRepository) Get(ctx context.Context, id shared.UserID) (*learner.Learner, error) {
	row := r.conn.QueryRow(ctx, `
		SELECT id, display_name, total_points, created_at, updated_at
		FROM learners
		WHERE id = $1
	`, id.String())

	var (
		l      learner.Learner
		userID string
	)
	if err := row.Scan(&userID, &l.DisplayName, &l.TotalPoints, &l.CreatedAt, &l.UpdatedAt); err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrLearnerNotFound
		}
		return nil, mapError("GetLearner", err)
	}
	l.ID = shared.UserID(userID)
	return &l, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CONTENT CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// CatalogRepository implements progress.Catalog over the courses and lessons
// tables.
type CatalogRepository struct {
	conn *Connection
}

// NewCatalogRepository creates a new CatalogRepository.
func NewCatalogRepository(conn *Connection) *CatalogRepository {
	return &CatalogRepository{conn: conn}
}

// Lesson returns a lesson by ID.
func (r *CatalogRepository) Lesson(ctx context.Context, lessonID string) (progress.Lesson, error) {
	var (
		l    progress.Lesson
		kind string
	)
	err := r.conn.QueryRow(ctx, `
		SELECT id, course_id, kind, position FROM lessons WHERE id = $1
	`, lessonID).Scan(&l.ID, &l.CourseID, &kind, &l.Position)
	if err != nil {
		if IsNoRows(err) {
			return progress.Lesson{}, shared.ErrLessonNotFound
		}
		return progress.Lesson{}, mapError("Lesson", err)
	}
	l.Kind = progress.Kind(kind)
	return l, nil
}

// CourseLessons returns the lessons of a course ordered by position.
func (r *CatalogRepository) CourseLessons(ctx context.Context, courseID string) ([]progress.Lesson, error) {
	var exists bool
	if err := r.conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM courses WHERE id = $1)`, courseID).Scan(&exists); err != nil {
		return nil, mapError("CourseLessons", err)
	}
	if !exists {
		return nil, shared.ErrCourseNotFound
	}

	rows, err := r.conn.Query(ctx, `
		SELECT id, course_id, kind, position
		FROM lessons
		WHERE course_id = $1
		ORDER BY position, id
	`, courseID)
	if err != nil {
		return nil, mapError("CourseLessons", err)
	}
	defer rows.Close()

	lessons := make([]progress.Lesson, 0)
	for rows.Next() {
		var (
			l    progress.Lesson
			kind string
		)
		if err := rows.Scan(&l.ID, &l.CourseID, &kind, &l.Position); err != nil {
			return nil, mapError("CourseLessons", err)
		}
		l.Kind = progress.Kind(kind)
		lessons = append(lessons, l)
	}
	return lessons, mapError("CourseLessons", rows.Err())
}

// UpsertCourse writes a course and replaces its lesson list. It is used to
// seed the catalog; the engine itself never writes content.
func (r *CatalogRepository) UpsertCourse(ctx context.Context, courseID, title string, lessons []progress.Lesson) error {
	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO courses (id, title) VALUES ($1, $2)
			ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title
		`, courseID, title); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM lessons WHERE course_id = $1`, courseID); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, l := range lessons {
			batch.Queue(`
				INSERT INTO lessons (id, course_id, kind, position) VALUES ($1, $2, $3, $4)
				ON CONFLICT (id) DO UPDATE SET course_id = EXCLUDED.course_id, kind = EXCLUDED.kind, position = EXCLUDED.position
			`, l.ID, courseID, string(l.Kind), l.Position)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	return mapError("UpsertCourse", err)
}
