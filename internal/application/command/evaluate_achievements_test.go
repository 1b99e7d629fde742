package command_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/learning-progress/internal/application/command"
	"github.com/alem-hub/learning-progress/internal/application/query"
	"github.com/alem-hub/learning-progress/internal/domain/achievement"
	"github.com/alem-hub/learning-progress/internal/infrastructure/gameconfig"
	"github.com/alem-hub/learning-progress/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/learning-progress/pkg/timeutil"
)

// collectorChain builds n achievements where step i needs i earned
// achievements, so each grant unlocks the next one.
func collectorChain(t *testing.T, n int) *achievement.Catalog {
	t.Helper()
	defs := make([]achievement.Definition, 0, n)
	for i := 0; i < n; i++ {
		defs = append(defs, achievement.Definition{
			Type:   achievement.Type(fmt.Sprintf("collector_step_%d", i)),
			Title:  fmt.Sprintf("Collector %d", i),
			Points: 5,
			Requirements: []achievement.Requirement{
				{StatField: achievement.StatAchievementsEarned, Operator: achievement.OpGte, Target: float64(i)},
			},
		})
	}
	catalog, err := achievement.NewCatalog(defs)
	require.NoError(t, err)
	return catalog
}

func TestEvaluateAchievements_CascadeRunsToCompletion(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	clock := timeutil.NewManualClock(time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC))

	rules := gameconfig.MustDefault()
	rules.Achievements = collectorChain(t, 6)
	env := command.Env{Rules: rules, Clock: clock, Calendar: timeutil.NewCalendar(time.UTC)}
	stats := query.NewGetGameStatsHandler(store, store.Streaks(), store, store, query.Env{Rules: rules, Clock: clock})
	evaluate := command.NewEvaluateAchievementsHandler(store, stats, command.NewAwardPointsHandler(store, store, env), env)

	res, err := evaluate.Handle(ctx, command.EvaluateAchievementsCommand{UserID: "u1"})
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	require.Len(t, res.Unlocked, 6)
	for i, def := range res.Unlocked {
		assert.Equal(t, achievement.Type(fmt.Sprintf("collector_step_%d", i)), def.Type)
	}

	earned, err := store.ListEarned(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, earned, 6)

	l, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 30, l.TotalPoints)

	again, err := evaluate.Handle(ctx, command.EvaluateAchievementsCommand{UserID: "u1"})
	require.NoError(t, err)
	assert.Empty(t, again.Unlocked)
}
