//go:build integration

package postgres

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alem-hub/learning-progress/internal/domain/achievement"
	"github.com/alem-hub/learning-progress/internal/domain/learner"
	"github.com/alem-hub/learning-progress/internal/domain/points"
	"github.com/alem-hub/learning-progress/internal/domain/progress"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
	"github.com/alem-hub/learning-progress/internal/domain/streak"
	"github.com/alem-hub/learning-progress/pkg/timeutil"
)

type RepositoriesSuite struct {
	suite.Suite

	container testcontainers.Container
	conn      *Connection
	repos     *Repositories
	now       time.Time
}

func TestRepositoriesSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	suite.Run(t, new(RepositoriesSuite))
}

func (s *RepositoriesSuite) SetupSuite() {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "progress",
				"POSTGRES_PASSWORD": "progress",
				"POSTGRES_DB":       "progress",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	s.Require().NoError(err)
	s.container = container

	host, err := container.Host(ctx)
	s.Require().NoError(err)
	port, err := container.MappedPort(ctx, "5432")
	s.Require().NoError(err)

	url := fmt.Sprintf("postgres://progress:progress@%s:%s/progress?sslmode=disable", host, port.Port())
	s.conn, err = Connect(ctx, url, DefaultPoolSettings())
	s.Require().NoError(err)

	applied, err := NewMigrator(s.conn).Migrate(ctx)
	s.Require().NoError(err)
	s.Equal(len(Migrations()), applied)

	s.repos = NewRepositories(s.conn)
	s.now = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
}

func (s *RepositoriesSuite) TearDownSuite() {
	if s.conn != nil {
		s.conn.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

func (s *RepositoriesSuite) SetupTest() {
	_, err := s.conn.Exec(context.Background(), `
		TRUNCATE user_achievements, points_transactions, learning_streaks,
			course_progress, lesson_progress, lessons, courses, learners CASCADE
	`)
	s.Require().NoError(err)
}

func (s *RepositoriesSuite) ensure(id shared.UserID, at time.Time) {
	l, err := learner.New(id, "", at)
	s.Require().NoError(err)
	_, err = s.repos.Learners.Ensure(context.Background(), l)
	s.Require().NoError(err)
}

func (s *RepositoriesSuite) TestCatalog() {
	ctx := context.Background()
	err := s.repos.Catalog.UpsertCourse(ctx, "c1", "Course", []progress.Lesson{
		{ID: "l2", Kind: progress.KindQuiz, Position: 2},
		{ID: "l1", Kind: progress.KindVideo, Position: 1},
	})
	s.Require().NoError(err)

	lessons, err := s.repos.Catalog.CourseLessons(ctx, "c1")
	s.Require().NoError(err)
	s.Require().Len(lessons, 2)
	s.Equal("l1", lessons[0].ID)
	s.Equal("c1", lessons[1].CourseID)

	_, err = s.repos.Catalog.CourseLessons(ctx, "missing")
	s.True(shared.IsNotFound(err))
	_, err = s.repos.Catalog.Lesson(ctx, "missing")
	s.True(shared.IsNotFound(err))
}

func (s *RepositoriesSuite) TestLessonCompareAndSwap() {
	ctx := context.Background()
	s.ensure("u1", s.now)

	lp := progress.NewLessonProgress("u1", progress.Lesson{ID: "l1", CourseID: "c1", Kind: progress.KindQuiz}, s.now)
	lp.Payload.Quiz = &progress.QuizPayload{Score: 10, MaxScore: 10, Passed: true, Perfect: true}
	s.Require().NoError(s.repos.Progress.SaveLesson(ctx, lp))
	s.EqualValues(1, lp.Version)

	stale := *lp
	lp.ProgressPercent = 100
	lp.Status = progress.StatusCompleted
	s.Require().NoError(s.repos.Progress.SaveLesson(ctx, lp))

	err := s.repos.Progress.SaveLesson(ctx, &stale)
	s.True(shared.IsConflict(err))

	dup := progress.NewLessonProgress("u1", progress.Lesson{ID: "l1", CourseID: "c1", Kind: progress.KindQuiz}, s.now)
	s.True(shared.IsConflict(s.repos.Progress.SaveLesson(ctx, dup)))

	got, err := s.repos.Progress.GetLesson(ctx, "u1", "l1")
	s.Require().NoError(err)
	s.Equal(progress.StatusCompleted, got.Status)
	s.Require().NotNil(got.Payload.Quiz)
	s.True(got.Payload.Quiz.Perfect)

	counts, err := s.repos.Progress.Counts(ctx, "u1")
	s.Require().NoError(err)
	s.Equal(1, counts.LessonsCompleted)
	s.Equal(1, counts.PerfectQuizzes)
}

func (s *RepositoriesSuite) TestStreakRoundTrip() {
	ctx := context.Background()
	s.ensure("u1", s.now)

	_, err := s.repos.Streaks.Get(ctx, "u1")
	s.True(shared.IsNotFound(err))

	st := streak.New("u1")
	st.Touch(timeutil.NewDate(2024, 3, 4), s.now)
	s.Require().NoError(s.repos.Streaks.Save(ctx, st))

	got, err := s.repos.Streaks.Get(ctx, "u1")
	s.Require().NoError(err)
	s.Equal(1, got.CurrentStreak)
	s.Equal(timeutil.NewDate(2024, 3, 4), got.LastActivityDate)
}

func (s *RepositoriesSuite) TestLedgerIdempotency() {
	ctx := context.Background()
	s.ensure("u1", s.now)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx, err := points.NewTransaction(fmt.Sprintf("tx-%d", i), "u1", points.ReasonLessonCompleted, 10, "", nil, points.LessonKey("l1"), s.now)
			if err != nil {
				return
			}
			if _, err := s.repos.Ledger.Append(ctx, tx); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	s.Equal(1, granted)

	l, err := s.repos.Learners.Get(ctx, "u1")
	s.Require().NoError(err)
	s.Equal(10, l.TotalPoints)

	tx, err := points.NewTransaction("orphan", "ghost", points.ReasonDailyLogin, 5, "", nil, "", s.now)
	s.Require().NoError(err)
	_, err = s.repos.Ledger.Append(ctx, tx)
	s.ErrorIs(err, shared.ErrLearnerNotFound)
}

func (s *RepositoriesSuite) TestPeriodStandingsAndUnpaid() {
	ctx := context.Background()
	s.ensure("a", s.now.Add(-time.Hour))
	s.ensure("b", s.now)

	for i, row := range []struct {
		user shared.UserID
		pts  int
		at   time.Time
	}{
		{"a", 50, s.now.AddDate(0, 0, -10)},
		{"a", 5, s.now},
		{"b", 20, s.now},
	} {
		tx, err := points.NewTransaction(fmt.Sprintf("t%d", i), row.user, points.ReasonAdjustment, row.pts, "", map[string]any{"i": i}, "", row.at)
		s.Require().NoError(err)
		_, err = s.repos.Ledger.Append(ctx, tx)
		s.Require().NoError(err)
	}

	window := shared.TimeRange{From: s.now.Add(-24 * time.Hour), To: s.now.Add(time.Hour)}
	standings, err := s.repos.Leaderboard.PeriodStandings(ctx, window)
	s.Require().NoError(err)
	s.Require().Len(standings, 2)
	s.Equal(shared.UserID("b"), standings[0].UserID)
	s.Equal(20, standings[0].Points)

	all, err := s.repos.Leaderboard.AllTimeStandings(ctx)
	s.Require().NoError(err)
	s.Equal(55, all[0].Points)

	history, err := s.repos.Ledger.History(ctx, "a", 10)
	s.Require().NoError(err)
	s.Require().Len(history, 2)
	s.Equal(5, history[0].Points)

	s.Require().NoError(s.repos.Achievements.Grant(ctx, &achievement.UserAchievement{UserID: "a", AchievementType: "first_lesson", EarnedAt: s.now}))
	s.ErrorIs(s.repos.Achievements.Grant(ctx, &achievement.UserAchievement{UserID: "a", AchievementType: "first_lesson", EarnedAt: s.now}), shared.ErrAlreadyEarned)

	unpaid, err := s.repos.Achievements.ListUnpaid(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(unpaid, 1)

	tx, err := points.NewTransaction("ach", "a", points.ReasonAchievementEarned, 10, "", nil, points.AchievementKey("first_lesson"), s.now)
	s.Require().NoError(err)
	_, err = s.repos.Ledger.Append(ctx, tx)
	s.Require().NoError(err)

	unpaid, err = s.repos.Achievements.ListUnpaid(ctx, 10)
	s.Require().NoError(err)
	s.Empty(unpaid)
}
