package query_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/learning-progress/internal/application/query"
	"github.com/alem-hub/learning-progress/internal/domain/achievement"
	"github.com/alem-hub/learning-progress/internal/domain/leaderboard"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
	"github.com/alem-hub/learning-progress/internal/infrastructure/gameconfig"
	"github.com/alem-hub/learning-progress/pkg/timeutil"
)

// MockCache is a mock implementation of leaderboard.Cache for testing.
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, period leaderboard.Period, windowStart time.Time) ([]leaderboard.Standing, bool, error) {
	args := m.Called(ctx, period, windowStart)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).([]leaderboard.Standing), args.Bool(1), args.Error(2)
}

func (m *MockCache) Generation(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockCache) Set(ctx context.Context, period leaderboard.Period, windowStart time.Time, standings []leaderboard.Standing, ttl time.Duration, generation int64) (bool, error) {
	args := m.Called(ctx, period, windowStart, standings, ttl, generation)
	return args.Bool(0), args.Error(1)
}

func (m *MockCache) Invalidate(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// MockStandings is a mock implementation of leaderboard.Repository.
type MockStandings struct {
	mock.Mock
}

func (m *MockStandings) AllTimeStandings(ctx context.Context) ([]leaderboard.Standing, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]leaderboard.Standing), args.Error(1)
}

func (m *MockStandings) PeriodStandings(ctx context.Context, window shared.TimeRange) ([]leaderboard.Standing, error) {
	args := m.Called(ctx, window)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]leaderboard.Standing), args.Error(1)
}

// generationCache keeps standings in memory with the same generation rule
// as the Redis cache.
type generationCache struct {
	mu        sync.Mutex
	gen       int64
	standings map[string][]leaderboard.Standing
}

func newGenerationCache() *generationCache {
	return &generationCache{standings: make(map[string][]leaderboard.Standing)}
}

func cacheKey(period leaderboard.Period, windowStart time.Time) string {
	return string(period) + windowStart.String()
}

func (c *generationCache) Get(_ context.Context, period leaderboard.Period, windowStart time.Time) ([]leaderboard.Standing, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.standings[cacheKey(period, windowStart)]
	return s, ok, nil
}

func (c *generationCache) Generation(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen, nil
}

func (c *generationCache) Set(_ context.Context, period leaderboard.Period, windowStart time.Time, standings []leaderboard.Standing, _ time.Duration, generation int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if generation != c.gen {
		return false, nil
	}
	c.standings[cacheKey(period, windowStart)] = standings
	return true, nil
}

func (c *generationCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.standings = make(map[string][]leaderboard.Standing)
	return nil
}

var boardNow = time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC)

func boardEnv() query.Env {
	return query.Env{
		Rules:    gameconfig.MustDefault(),
		Clock:    timeutil.NewManualClock(boardNow),
		Calendar: timeutil.NewCalendar(time.UTC),
	}
}

func sampleStandings() []leaderboard.Standing {
	joined := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return []leaderboard.Standing{
		{UserID: "a", DisplayName: "A", Points: 50, JoinedAt: joined},
		{UserID: "b", DisplayName: "B", Points: 100, JoinedAt: joined},
		{UserID: "c", DisplayName: "C", Points: 100, JoinedAt: joined.Add(time.Hour)},
	}
}

func TestGetLeaderboard_CacheHitSkipsStore(t *testing.T) {
	ctx := context.Background()
	repo := new(MockStandings)
	cache := new(MockCache)
	cache.On("Get", mock.Anything, leaderboard.PeriodAllTime, time.Time{}).Return(sampleStandings(), true, nil)

	h := query.NewGetLeaderboardHandler(repo, cache, time.Minute, boardEnv())
	got, err := h.Standings(ctx, leaderboard.PeriodAllTime, boardNow)

	require.NoError(t, err)
	assert.Len(t, got, 3)
	repo.AssertNotCalled(t, "AllTimeStandings", mock.Anything)
	cache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGetLeaderboard_MissReadsWindowAndCaches(t *testing.T) {
	ctx := context.Background()
	window, _ := leaderboard.PeriodWeekly.Window(timeutil.NewCalendar(time.UTC), boardNow)

	repo := new(MockStandings)
	repo.On("PeriodStandings", mock.Anything, window).Return(sampleStandings(), nil).Once()
	cache := new(MockCache)
	cache.On("Get", mock.Anything, leaderboard.PeriodWeekly, window.From).Return(nil, false, nil)
	cache.On("Generation", mock.Anything).Return(int64(4), nil)
	cache.On("Set", mock.Anything, leaderboard.PeriodWeekly, window.From, sampleStandings(), time.Minute, int64(4)).Return(true, nil).Once()

	h := query.NewGetLeaderboardHandler(repo, cache, time.Minute, boardEnv())
	got, err := h.Standings(ctx, leaderboard.PeriodWeekly, boardNow)

	require.NoError(t, err)
	assert.Equal(t, sampleStandings(), got)
	repo.AssertExpectations(t)
	cache.AssertExpectations(t)
}

func TestGetLeaderboard_CacheReadErrorFallsBackToStore(t *testing.T) {
	ctx := context.Background()
	repo := new(MockStandings)
	repo.On("AllTimeStandings", mock.Anything).Return(sampleStandings(), nil).Once()
	cache := new(MockCache)
	cache.On("Get", mock.Anything, leaderboard.PeriodAllTime, time.Time{}).Return(nil, false, errors.New("connection refused"))
	cache.On("Generation", mock.Anything).Return(int64(0), nil)
	cache.On("Set", mock.Anything, leaderboard.PeriodAllTime, time.Time{}, mock.Anything, query.DefaultLeaderboardTTL, int64(0)).
		Return(false, errors.New("connection refused")).Once()

	h := query.NewGetLeaderboardHandler(repo, cache, 0, boardEnv())
	got, err := h.Standings(ctx, leaderboard.PeriodAllTime, boardNow)

	require.NoError(t, err)
	assert.Len(t, got, 3)
	repo.AssertExpectations(t)
	cache.AssertExpectations(t)
}

func TestGetLeaderboard_GenerationErrorSkipsCacheWrite(t *testing.T) {
	ctx := context.Background()
	repo := new(MockStandings)
	repo.On("AllTimeStandings", mock.Anything).Return(sampleStandings(), nil)
	cache := new(MockCache)
	cache.On("Get", mock.Anything, mock.Anything, mock.Anything).Return(nil, false, nil)
	cache.On("Generation", mock.Anything).Return(int64(0), errors.New("circuit breaker is open"))

	h := query.NewGetLeaderboardHandler(repo, cache, time.Minute, boardEnv())
	_, err := h.Standings(ctx, leaderboard.PeriodAllTime, boardNow)

	require.NoError(t, err)
	cache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGetLeaderboard_StoreErrorIsReturned(t *testing.T) {
	repo := new(MockStandings)
	repo.On("AllTimeStandings", mock.Anything).Return(nil, errors.New("database is down"))

	h := query.NewGetLeaderboardHandler(repo, nil, time.Minute, boardEnv())
	_, err := h.Standings(context.Background(), leaderboard.PeriodAllTime, boardNow)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is down")
}

func TestGetLeaderboard_AwardDuringBuildIsNotCached(t *testing.T) {
	ctx := context.Background()
	cache := newGenerationCache()

	before := sampleStandings()
	after := sampleStandings()
	after[0].Points = 500

	repo := new(MockStandings)
	repo.On("AllTimeStandings", mock.Anything).
		Run(func(mock.Arguments) {
			// A points award commits and invalidates after this read.
			require.NoError(t, cache.Invalidate(ctx))
		}).
		Return(before, nil).Once()
	repo.On("AllTimeStandings", mock.Anything).Return(after, nil).Once()

	h := query.NewGetLeaderboardHandler(repo, cache, time.Minute, boardEnv())

	first, err := h.Standings(ctx, leaderboard.PeriodAllTime, boardNow)
	require.NoError(t, err)
	assert.Equal(t, 50, first[0].Points)

	_, cached, err := cache.Get(ctx, leaderboard.PeriodAllTime, time.Time{})
	require.NoError(t, err)
	assert.False(t, cached, "standings read across an invalidation must not be cached")

	second, err := h.Standings(ctx, leaderboard.PeriodAllTime, boardNow)
	require.NoError(t, err)
	assert.Equal(t, 500, second[0].Points)

	third, err := h.Standings(ctx, leaderboard.PeriodAllTime, boardNow)
	require.NoError(t, err)
	assert.Equal(t, 500, third[0].Points)
	repo.AssertNumberOfCalls(t, "AllTimeStandings", 2)
}

func TestGetLeaderboard_HandleRanksAndFindsRequester(t *testing.T) {
	repo := new(MockStandings)
	repo.On("AllTimeStandings", mock.Anything).Return(sampleStandings(), nil)

	h := query.NewGetLeaderboardHandler(repo, nil, time.Minute, boardEnv())
	lb, err := h.Handle(context.Background(), query.GetLeaderboardQuery{Limit: 2, Requester: "a"})

	require.NoError(t, err)
	assert.Equal(t, leaderboard.PeriodAllTime, lb.Period)
	assert.Equal(t, 3, lb.TotalUsers)
	require.Len(t, lb.Entries, 2)
	assert.Equal(t, shared.UserID("b"), lb.Entries[0].UserID)
	assert.Equal(t, 1, lb.Entries[0].Rank)
	assert.Equal(t, shared.UserID("c"), lb.Entries[1].UserID)
	require.NotNil(t, lb.UserRank)
	assert.Equal(t, 3, lb.UserRank.Rank)
	assert.Equal(t, boardNow, lb.GeneratedAt)
}

func TestGetLeaderboard_HandleRejectsUnknownPeriod(t *testing.T) {
	h := query.NewGetLeaderboardHandler(new(MockStandings), nil, time.Minute, boardEnv())
	_, err := h.Handle(context.Background(), query.GetLeaderboardQuery{Period: "yearly"})
	assert.ErrorIs(t, err, shared.ErrInvalidPeriod)
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENTS
// ══════════════════════════════════════════════════════════════════════════════

// MockAchievements is a mock implementation of achievement.Repository.
type MockAchievements struct {
	mock.Mock
}

func (m *MockAchievements) ListEarned(ctx context.Context, userID shared.UserID) ([]achievement.UserAchievement, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]achievement.UserAchievement), args.Error(1)
}

func (m *MockAchievements) Grant(ctx context.Context, ua *achievement.UserAchievement) error {
	return m.Called(ctx, ua).Error(0)
}

func (m *MockAchievements) ListUnpaid(ctx context.Context, limit int) ([]achievement.UserAchievement, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]achievement.UserAchievement), args.Error(1)
}

type fixedStats achievement.GameStats

func (s fixedStats) Stats(context.Context, shared.UserID) (achievement.GameStats, error) {
	return achievement.GameStats(s), nil
}

func TestCheckProgress_HiddenUnearnedIsNotFound(t *testing.T) {
	repo := new(MockAchievements)
	repo.On("ListEarned", mock.Anything, shared.UserID("u1")).Return([]achievement.UserAchievement{}, nil)

	h := query.NewListAchievementsHandler(repo, fixedStats{}, boardEnv())
	_, err := h.CheckProgress(context.Background(), query.CheckAchievementProgressQuery{UserID: "u1", Type: achievement.TypeNightOwl})

	assert.ErrorIs(t, err, shared.ErrAchievementNotFound)
}

func TestCheckProgress_HiddenEarnedIsVisible(t *testing.T) {
	earnedAt := boardNow.Add(-time.Hour)
	repo := new(MockAchievements)
	repo.On("ListEarned", mock.Anything, shared.UserID("u1")).Return([]achievement.UserAchievement{
		{UserID: "u1", AchievementType: achievement.TypeNightOwl, EarnedAt: earnedAt},
	}, nil)

	h := query.NewListAchievementsHandler(repo, fixedStats{}, boardEnv())
	view, err := h.CheckProgress(context.Background(), query.CheckAchievementProgressQuery{UserID: "u1", Type: achievement.TypeNightOwl})

	require.NoError(t, err)
	assert.True(t, view.Earned)
	assert.Equal(t, float64(100), view.Progress)
	require.NotNil(t, view.EarnedAt)
	assert.Equal(t, earnedAt, *view.EarnedAt)
}

func TestCheckProgress_UnknownTypeIsNotFound(t *testing.T) {
	h := query.NewListAchievementsHandler(new(MockAchievements), fixedStats{}, boardEnv())
	_, err := h.CheckProgress(context.Background(), query.CheckAchievementProgressQuery{UserID: "u1", Type: "no_such_badge"})
	assert.ErrorIs(t, err, shared.ErrAchievementNotFound)
}

func TestListAchievements_HidesUnearnedHidden(t *testing.T) {
	repo := new(MockAchievements)
	repo.On("ListEarned", mock.Anything, shared.UserID("u1")).Return([]achievement.UserAchievement{}, nil)

	h := query.NewListAchievementsHandler(repo, fixedStats{LessonsCompleted: 5}, boardEnv())
	res, err := h.Handle(context.Background(), query.ListAchievementsQuery{UserID: "u1"})

	require.NoError(t, err)
	assert.Zero(t, res.EarnedCount)
	for _, v := range res.Achievements {
		assert.NotEqual(t, achievement.TypeNightOwl, v.Type)
		assert.False(t, v.Earned)
	}
	assert.Less(t, len(res.Achievements), res.TotalCount)
}
