// Package rules bundles the static game configuration: point values, the
// level ladder and the achievement catalog. It is loaded once at start and
// passed explicitly to every handler that needs it.
package rules

import (
	"fmt"

	"github.com/alem-hub/learning-progress/internal/domain/achievement"
	"github.com/alem-hub/learning-progress/internal/domain/level"
	"github.com/alem-hub/learning-progress/internal/domain/points"
)

// Rules is immutable after construction.
type Rules struct {
	Points       points.Table
	Levels       level.Table
	Achievements *achievement.Catalog
}

// New validates the parts and sorts the level table.
func New(pointTable points.Table, levels level.Table, catalog *achievement.Catalog) (Rules, error) {
	if err := pointTable.Validate(); err != nil {
		return Rules{}, err
	}
	sorted := levels.Sorted()
	if err := sorted.Validate(); err != nil {
		return Rules{}, err
	}
	if catalog == nil {
		return Rules{}, fmt.Errorf("achievement catalog is required")
	}
	return Rules{Points: pointTable, Levels: sorted, Achievements: catalog}, nil
}

// Level computes the level of a point total.
func (r Rules) Level(totalPoints int) level.Info {
	return level.Calculate(r.Levels, totalPoints)
}

// LevelOf adapts Level for leaderboard decoration.
func (r Rules) LevelOf(totalPoints int) (int, string) {
	info := r.Level(totalPoints)
	return info.Level, info.Title
}
