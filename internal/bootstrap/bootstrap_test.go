package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/learning-progress/config"
	"github.com/alem-hub/learning-progress/internal/application/command"
	"github.com/alem-hub/learning-progress/pkg/logger"
)

func memoryConfig() *config.Config {
	return &config.Config{
		App:           config.AppConfig{Name: "test", Location: time.UTC},
		Database:      config.DatabaseConfig{Driver: config.StoreMemory},
		Redis:         config.RedisConfig{Disabled: true},
		Features:      config.LoadFeatureFlags(),
		Observability: config.ObservabilityConfig{LogLevel: "debug", LogFormat: "console"},
	}
}

func TestOpen_MemoryRuntime(t *testing.T) {
	ctx := context.Background()
	rt, err := Open(ctx, memoryConfig(), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, rt.Close()) })

	assert.Nil(t, rt.Postgres)
	assert.Nil(t, rt.Cache)
	require.NotNil(t, rt.Memory)
	assert.Empty(t, rt.Checks)

	res, err := rt.App.RecordProgress.Handle(ctx, command.RecordProgressCommand{
		UserID:   "u1",
		LessonID: "go-basics-syntax",
		CourseID: "go-basics",
		Percent:  100,
	})
	require.NoError(t, err)
	assert.True(t, res.FirstCompletion)
	assert.Positive(t, rt.Bus.Stats().Published.Load())
}

func TestOpen_UnknownDriver(t *testing.T) {
	cfg := memoryConfig()
	cfg.Database.Driver = "sqlite"
	_, err := Open(context.Background(), cfg, logger.Nop())
	assert.ErrorContains(t, err, "unknown store driver")
}

func TestOpen_BadRulesPath(t *testing.T) {
	cfg := memoryConfig()
	cfg.Engine.RulesPath = "/does/not/exist.yaml"
	_, err := Open(context.Background(), cfg, logger.Nop())
	assert.ErrorContains(t, err, "read game rules")
}

func TestNewLogger(t *testing.T) {
	assert.NotNil(t, NewLogger(memoryConfig()))
}
