// Package memory implements every repository of the engine in process memory.
// It backs the development mode of the API and the application tests, and
// enforces the same uniqueness and compare-and-swap rules as PostgreSQL.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alem-hub/learning-progress/internal/domain/achievement"
	"github.com/alem-hub/learning-progress/internal/domain/leaderboard"
	"github.com/alem-hub/learning-progress/internal/domain/learner"
	"github.com/alem-hub/learning-progress/internal/domain/points"
	"github.com/alem-hub/learning-progress/internal/domain/progress"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
	"github.com/alem-hub/learning-progress/internal/domain/streak"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

type lessonKey struct {
	user   shared.UserID
	lesson string
}

type courseKey struct {
	user   shared.UserID
	course string
}

// Store holds all state behind a single lock.
type Store struct {
	mu sync.RWMutex

	lessons map[string]progress.Lesson
	courses map[string][]string

	learners   map[shared.UserID]learner.Learner
	lessonRows map[lessonKey]progress.LessonProgress
	courseRows map[courseKey]progress.CourseProgress
	streaks    map[shared.UserID]streak.LearningStreak
	txs        []points.Transaction
	txKeys     map[shared.UserID]map[string]struct{}
	earned     map[shared.UserID][]achievement.UserAchievement
}

// New creates an empty store.
func New() *Store {
	return &Store{
		lessons:    make(map[string]progress.Lesson),
		courses:    make(map[string][]string),
		learners:   make(map[shared.UserID]learner.Learner),
		lessonRows: make(map[lessonKey]progress.LessonProgress),
		courseRows: make(map[courseKey]progress.CourseProgress),
		streaks:    make(map[shared.UserID]streak.LearningStreak),
		txKeys:     make(map[shared.UserID]map[string]struct{}),
		earned:     make(map[shared.UserID][]achievement.UserAchievement),
	}
}

// Compile-time interface checks.
var (
	_ progress.Repository    = (*Store)(nil)
	_ progress.Catalog       = (*Store)(nil)
	_ streak.Repository      = StreakRepository{}
	_ points.Ledger          = (*Store)(nil)
	_ achievement.Repository = (*Store)(nil)
	_ learner.Repository     = (*Store)(nil)
	_ leaderboard.Repository = (*Store)(nil)
)

func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return shared.WrapError("memory", "ctx", shared.ErrTimeout, "context done", err)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Catalog
// ──────────────────────────────────────────────────────────────────────────────

// PutCourse registers a course and replaces its lesson list. Lessons are
// ordered by Position.
func (s *Store) PutCourse(courseID string, lessons ...progress.Lesson) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.courses[courseID] {
		delete(s.lessons, id)
	}
	ids := make([]string, 0, len(lessons))
	for _, l := range lessons {
		l.CourseID = courseID
		s.lessons[l.ID] = l
		ids = append(ids, l.ID)
	}
	sort.SliceStable(ids, func(i, j int) bool {
		return s.lessons[ids[i]].Position < s.lessons[ids[j]].Position
	})
	s.courses[courseID] = ids
}

// Lesson implements progress.Catalog.
func (s *Store) Lesson(ctx context.Context, lessonID string) (progress.Lesson, error) {
	if err := ctxErr(ctx); err != nil {
		return progress.Lesson{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.lessons[lessonID]
	if !ok {
		return progress.Lesson{}, shared.ErrLessonNotFound
	}
	return l, nil
}

// CourseLessons implements progress.Catalog.
func (s *Store) CourseLessons(ctx context.Context, courseID string) ([]progress.Lesson, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids, ok := s.courses[courseID]
	if !ok {
		return nil, shared.ErrCourseNotFound
	}
	out := make([]progress.Lesson, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.lessons[id])
	}
	return out, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Learners
// ──────────────────────────────────────────────────────────────────────────────

// Ensure implements learner.Repository.
func (s *Store) Ensure(ctx context.Context, l *learner.Learner) (*learner.Learner, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.learners[l.ID]; ok {
		return &existing, nil
	}
	s.learners[l.ID] = *l
	stored := *l
	return &stored, nil
}

// Get implements learner.Repository.
func (s *Store) Get(ctx context.Context, id shared.UserID) (*learner.Learner, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.learners[id]
	if !ok {
		return nil, shared.ErrLearnerNotFound
	}
	return &l, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Lesson and course progress
// ──────────────────────────────────────────────────────────────────────────────

func cloneLesson(lp progress.LessonProgress) progress.LessonProgress {
	if lp.CompletedAt != nil {
		at := *lp.CompletedAt
		lp.CompletedAt = &at
	}
	if p := lp.Payload.Video; p != nil {
		v := *p
		lp.Payload.Video = &v
	}
	if p := lp.Payload.Quiz; p != nil {
		q := *p
		lp.Payload.Quiz = &q
	}
	if p := lp.Payload.Reading; p != nil {
		r := *p
		lp.Payload.Reading = &r
	}
	if p := lp.Payload.Interactive; p != nil {
		it := *p
		lp.Payload.Interactive = &it
	}
	return lp
}

func cloneCourse(cp progress.CourseProgress) progress.CourseProgress {
	if cp.CompletedAt != nil {
		at := *cp.CompletedAt
		cp.CompletedAt = &at
	}
	return cp
}

// GetLesson implements progress.Repository.
func (s *Store) GetLesson(ctx context.Context, userID shared.UserID, lessonID string) (*progress.LessonProgress, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.lessonRows[lessonKey{userID, lessonID}]
	if !ok {
		return nil, shared.ErrLessonProgressNotFound
	}
	out := cloneLesson(row)
	return &out, nil
}

// SaveLesson implements progress.Repository.
func (s *Store) SaveLesson(ctx context.Context, lp *progress.LessonProgress) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := lessonKey{lp.UserID, lp.LessonID}
	if err := checkVersion(s.lessonRows[key].Version, lp.Version, hasKey(s.lessonRows, key)); err != nil {
		return err
	}
	lp.Version++
	s.lessonRows[key] = cloneLesson(*lp)
	return nil
}

// ListCourseLessons implements progress.Repository.
func (s *Store) ListCourseLessons(ctx context.Context, userID shared.UserID, courseID string) ([]progress.LessonProgress, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []progress.LessonProgress
	for key, row := range s.lessonRows {
		if key.user == userID && row.CourseID == courseID {
			out = append(out, cloneLesson(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LessonID < out[j].LessonID })
	return out, nil
}

// GetCourse implements progress.Repository.
func (s *Store) GetCourse(ctx context.Context, userID shared.UserID, courseID string) (*progress.CourseProgress, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.courseRows[courseKey{userID, courseID}]
	if !ok {
		return nil, shared.ErrCourseProgressNotFound
	}
	out := cloneCourse(row)
	return &out, nil
}

// SaveCourse implements progress.Repository.
func (s *Store) SaveCourse(ctx context.Context, cp *progress.CourseProgress) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := courseKey{cp.UserID, cp.CourseID}
	if err := checkVersion(s.courseRows[key].Version, cp.Version, hasKey(s.courseRows, key)); err != nil {
		return err
	}
	cp.Version++
	s.courseRows[key] = cloneCourse(*cp)
	return nil
}

// ListCourses implements progress.Repository.
func (s *Store) ListCourses(ctx context.Context, userID shared.UserID) ([]progress.CourseProgress, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []progress.CourseProgress
	for key, row := range s.courseRows {
		if key.user == userID {
			out = append(out, cloneCourse(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CourseID < out[j].CourseID })
	return out, nil
}

// Counts implements progress.Repository.
func (s *Store) Counts(ctx context.Context, userID shared.UserID) (progress.Counts, error) {
	if err := ctxErr(ctx); err != nil {
		return progress.Counts{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c progress.Counts
	for key, row := range s.lessonRows {
		if key.user != userID {
			continue
		}
		c.TimeStudiedSeconds += row.TimeSpentSeconds
		if row.Status.IsCompleted() {
			c.LessonsCompleted++
		}
		if q := row.Payload.Quiz; q != nil {
			if q.Passed {
				c.QuizzesPassed++
			}
			if q.Perfect {
				c.PerfectQuizzes++
			}
		}
	}
	for key, row := range s.courseRows {
		if key.user == userID && row.CompletedAt != nil {
			c.CoursesCompleted++
		}
	}
	return c, nil
}

// ListUnpaidMilestones implements progress.Repository.
func (s *Store) ListUnpaidMilestones(ctx context.Context, limit int) ([]progress.Milestone, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var held []progress.Milestone
	for _, lp := range s.lessonRows {
		held = append(held, lp.Milestones()...)
	}
	for _, cp := range s.courseRows {
		if m, ok := cp.Milestone(); ok {
			held = append(held, m)
		}
	}

	var out []progress.Milestone
	for _, m := range held {
		if _, paid := s.txKeys[m.UserID][m.Key()]; !paid {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.Before(out[j].At)
		}
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Key() < out[j].Key()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Streaks
// ──────────────────────────────────────────────────────────────────────────────

// StreakRepository is the streak.Repository view of a Store. Learners and
// streaks both use Get, so streaks live behind their own type.
type StreakRepository struct {
	s *Store
}

// Streaks returns the streak repository backed by s.
func (s *Store) Streaks() StreakRepository {
	return StreakRepository{s: s}
}

// Get implements streak.Repository.
func (r StreakRepository) Get(ctx context.Context, userID shared.UserID) (*streak.LearningStreak, error) {
	s := r.s
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.streaks[userID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &st, nil
}

// Save implements streak.Repository.
func (r StreakRepository) Save(ctx context.Context, st *streak.LearningStreak) error {
	s := r.s
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkVersion(s.streaks[st.UserID].Version, st.Version, hasKey(s.streaks, st.UserID)); err != nil {
		return err
	}
	st.Version++
	s.streaks[st.UserID] = *st
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Ledger
// ──────────────────────────────────────────────────────────────────────────────

// Append implements points.Ledger.
func (s *Store) Append(ctx context.Context, tx *points.Transaction) (int, error) {
	if err := ctxErr(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.learners[tx.UserID]
	if !ok {
		return 0, shared.ErrLearnerNotFound
	}
	if tx.IdempotencyKey != "" {
		if _, dup := s.txKeys[tx.UserID][tx.IdempotencyKey]; dup {
			return l.TotalPoints, shared.ErrAlreadyGranted
		}
		if s.txKeys[tx.UserID] == nil {
			s.txKeys[tx.UserID] = make(map[string]struct{})
		}
		s.txKeys[tx.UserID][tx.IdempotencyKey] = struct{}{}
	}

	s.txs = append(s.txs, *tx)
	l.TotalPoints += tx.Points
	if tx.CreatedAt.After(l.UpdatedAt) {
		l.UpdatedAt = tx.CreatedAt
	}
	s.learners[tx.UserID] = l
	return l.TotalPoints, nil
}

// HasReasonSince implements points.Ledger.
func (s *Store) HasReasonSince(ctx context.Context, userID shared.UserID, reason points.Reason, since time.Time) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.txs {
		tx := &s.txs[i]
		if tx.UserID == userID && tx.Reason == reason && !tx.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

// HasKey implements points.Ledger.
func (s *Store) HasKey(ctx context.Context, userID shared.UserID, key string) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.txKeys[userID][key]
	return ok, nil
}

// History implements points.Ledger.
func (s *Store) History(ctx context.Context, userID shared.UserID, limit int) ([]points.Transaction, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []points.Transaction
	for i := range s.txs {
		if s.txs[i].UserID == userID {
			out = append(out, s.txs[i])
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PeriodTotals implements points.Ledger.
func (s *Store) PeriodTotals(ctx context.Context, window shared.TimeRange) (map[shared.UserID]int, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.periodTotalsLocked(window), nil
}

func (s *Store) periodTotalsLocked(window shared.TimeRange) map[shared.UserID]int {
	totals := make(map[shared.UserID]int)
	for i := range s.txs {
		if window.Contains(s.txs[i].CreatedAt) {
			totals[s.txs[i].UserID] += s.txs[i].Points
		}
	}
	return totals
}

// ──────────────────────────────────────────────────────────────────────────────
// Achievements
// ──────────────────────────────────────────────────────────────────────────────

// ListEarned implements achievement.Repository.
func (s *Store) ListEarned(ctx context.Context, userID shared.UserID) ([]achievement.UserAchievement, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]achievement.UserAchievement(nil), s.earned[userID]...), nil
}

// Grant implements achievement.Repository.
func (s *Store) Grant(ctx context.Context, ua *achievement.UserAchievement) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.earned[ua.UserID] {
		if e.AchievementType == ua.AchievementType {
			return shared.ErrAlreadyEarned
		}
	}
	s.earned[ua.UserID] = append(s.earned[ua.UserID], *ua)
	return nil
}

// ListUnpaid implements achievement.Repository.
func (s *Store) ListUnpaid(ctx context.Context, limit int) ([]achievement.UserAchievement, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []achievement.UserAchievement
	for user, list := range s.earned {
		for _, ua := range list {
			if _, paid := s.txKeys[user][points.AchievementKey(string(ua.AchievementType))]; !paid {
				out = append(out, ua)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EarnedAt.Equal(out[j].EarnedAt) {
			return out[i].EarnedAt.Before(out[j].EarnedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Leaderboard
// ──────────────────────────────────────────────────────────────────────────────

// AllTimeStandings implements leaderboard.Repository.
func (s *Store) AllTimeStandings(ctx context.Context) ([]leaderboard.Standing, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]leaderboard.Standing, 0, len(s.learners))
	for _, l := range s.learners {
		out = append(out, standingOf(l, l.TotalPoints))
	}
	return out, nil
}

// PeriodStandings implements leaderboard.Repository.
func (s *Store) PeriodStandings(ctx context.Context, window shared.TimeRange) ([]leaderboard.Standing, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := s.periodTotalsLocked(window)
	out := make([]leaderboard.Standing, 0, len(totals))
	for id, pts := range totals {
		l, ok := s.learners[id]
		if !ok {
			continue
		}
		out = append(out, standingOf(l, pts))
	}
	return out, nil
}

func standingOf(l learner.Learner, pts int) leaderboard.Standing {
	return leaderboard.Standing{
		UserID:      l.ID,
		DisplayName: l.DisplayName,
		Points:      pts,
		JoinedAt:    l.CreatedAt,
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────────────────────────────────

func hasKey[K comparable, V any](m map[K]V, k K) bool {
	_, ok := m[k]
	return ok
}

// checkVersion applies the compare-and-swap rule shared by all versioned rows.
func checkVersion(stored, expected int64, exists bool) error {
	switch {
	case expected == 0 && exists:
		return shared.ErrConflictRace
	case expected != 0 && (!exists || stored != expected):
		return shared.ErrConflictRace
	}
	return nil
}
