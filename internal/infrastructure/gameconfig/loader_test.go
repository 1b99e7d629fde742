package gameconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/learning-progress/internal/domain/achievement"
	"github.com/alem-hub/learning-progress/internal/domain/level"
	"github.com/alem-hub/learning-progress/internal/domain/points"
)

func TestDefault_MatchesBuiltInTables(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)

	assert.Equal(t, points.DefaultTable().Values, r.Points.Values)
	assert.True(t, r.Points.IsDailyLimited(points.ReasonDailyLogin))
	assert.Equal(t, level.DefaultTable(), r.Levels)

	first, ok := r.Achievements.Get("first_lesson")
	require.True(t, ok)
	assert.Equal(t, 10, first.Points)
	req, _ := first.Primary()
	assert.Equal(t, achievement.StatLessonsCompleted, req.StatField)
	assert.Equal(t, achievement.OpGte, req.Operator)

	owl, ok := r.Achievements.Get(achievement.TypeNightOwl)
	require.True(t, ok)
	assert.True(t, owl.IsSpecial())
	assert.True(t, owl.IsHidden)
}

func TestParse_RejectsInvalidOperator(t *testing.T) {
	doc := []byte(`
levels:
  - { level: 1, title: Only, points_required: 0 }
achievements:
  - type: bad
    title: Bad
    requirements:
      - { stat_field: level, operator: about, target: 1 }
`)
	_, err := Parse(doc)
	assert.Error(t, err)
}

func TestParse_RejectsMissingLevels(t *testing.T) {
	_, err := Parse([]byte(`achievements: []`))
	assert.Error(t, err)
}

func TestParse_DefaultsPointTable(t *testing.T) {
	r, err := Parse([]byte(`
levels:
  - { level: 1, title: Only, points_required: 0 }
`))
	require.NoError(t, err)
	assert.Equal(t, points.DefaultTable().Values, r.Points.Values)
	assert.Equal(t, 0, r.Achievements.Len())
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
points:
  values:
    lesson_completed: 20
  daily_limited: []
levels:
  - { level: 1, title: Start, points_required: 0 }
  - { level: 2, title: Next, points_required: 10 }
`), 0o600))

	r, err := Load(path)
	require.NoError(t, err)
	v, _ := r.Points.PointsFor(points.ReasonLessonCompleted)
	assert.Equal(t, 20, v)
	assert.Equal(t, "Next", r.Level(15).Title)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
