//go:build integration

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alem-hub/learning-progress/internal/domain/leaderboard"
)

func startRedis(t *testing.T) *Cache {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Addr = endpoint
	cache, err := NewCache(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func TestLeaderboardCache_RoundTripAndInvalidate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()
	lc := NewLeaderboardCache(startRedis(t), nil)
	week := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	_, ok, err := lc.Get(ctx, leaderboard.PeriodWeekly, week)
	require.NoError(t, err)
	assert.False(t, ok)

	gen, err := lc.Generation(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, gen)

	standings := []leaderboard.Standing{{UserID: "a", DisplayName: "A", Points: 10, JoinedAt: week}}
	stored, err := lc.Set(ctx, leaderboard.PeriodWeekly, week, standings, time.Minute, gen)
	require.NoError(t, err)
	assert.True(t, stored)
	stored, err = lc.Set(ctx, leaderboard.PeriodAllTime, time.Time{}, nil, time.Minute, gen)
	require.NoError(t, err)
	assert.True(t, stored)

	got, ok, err := lc.Get(ctx, leaderboard.PeriodWeekly, week)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, standings[0].UserID, got[0].UserID)
	assert.True(t, standings[0].JoinedAt.Equal(got[0].JoinedAt))

	empty, ok, err := lc.Get(ctx, leaderboard.PeriodAllTime, time.Time{})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, empty)

	require.NoError(t, lc.Invalidate(ctx))
	_, ok, err = lc.Get(ctx, leaderboard.PeriodWeekly, week)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLeaderboardCache_SetSkipsStandingsBuiltBeforeInvalidation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()
	lc := NewLeaderboardCache(startRedis(t), nil)
	week := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	before, err := lc.Generation(ctx)
	require.NoError(t, err)

	// An award lands while the standings are being read.
	require.NoError(t, lc.Invalidate(ctx))

	stale := []leaderboard.Standing{{UserID: "a", DisplayName: "A", Points: 10, JoinedAt: week}}
	stored, err := lc.Set(ctx, leaderboard.PeriodWeekly, week, stale, time.Minute, before)
	require.NoError(t, err)
	assert.False(t, stored)

	_, ok, err := lc.Get(ctx, leaderboard.PeriodWeekly, week)
	require.NoError(t, err)
	assert.False(t, ok)

	after, err := lc.Generation(ctx)
	require.NoError(t, err)
	assert.Equal(t, before+1, after)
	stored, err = lc.Set(ctx, leaderboard.PeriodWeekly, week, stale, time.Minute, after)
	require.NoError(t, err)
	assert.True(t, stored)
}
