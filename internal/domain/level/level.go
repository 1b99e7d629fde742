// Package level maps point totals to learner levels.
package level

import (
	"fmt"
	"sort"
)

// Definition is one row of the level table.
type Definition struct {
	Level          int      `yaml:"level" json:"level" validate:"min=1"`
	Title          string   `yaml:"title" json:"title" validate:"required"`
	PointsRequired int      `yaml:"points_required" json:"points_required" validate:"min=0"`
	Benefits       []string `yaml:"benefits" json:"benefits,omitempty"`
}

// Table is an ordered list of level thresholds.
type Table []Definition

// Info is the computed level of a point total.
type Info struct {
	Level           int      `json:"level"`
	Title           string   `json:"title"`
	Points          int      `json:"points"`
	PointsRequired  int      `json:"points_required"`
	NextLevelPoints int      `json:"next_level_points,omitempty"`
	PointsToNext    int      `json:"points_to_next"`
	ProgressPercent float64  `json:"progress_percent"`
	Benefits        []string `json:"benefits,omitempty"`
	IsMaxLevel      bool     `json:"is_max_level"`
}

// DefaultTable returns the standard ten-level ladder.
func DefaultTable() Table {
	return Table{
		{Level: 1, Title: "Novice", PointsRequired: 0, Benefits: []string{"Course access"}},
		{Level: 2, Title: "Learner", PointsRequired: 100, Benefits: []string{"Profile badge"}},
		{Level: 3, Title: "Apprentice", PointsRequired: 250, Benefits: []string{"Custom avatar frame"}},
		{Level: 4, Title: "Scholar", PointsRequired: 500, Benefits: []string{"Leaderboard highlight"}},
		{Level: 5, Title: "Adept", PointsRequired: 1000, Benefits: []string{"Streak freeze"}},
		{Level: 6, Title: "Expert", PointsRequired: 2000, Benefits: []string{"Early access to new courses"}},
		{Level: 7, Title: "Master", PointsRequired: 3500, Benefits: []string{"Mentor badge"}},
		{Level: 8, Title: "Sage", PointsRequired: 5500, Benefits: []string{"Exclusive content"}},
		{Level: 9, Title: "Luminary", PointsRequired: 8000, Benefits: []string{"Community spotlight"}},
		{Level: 10, Title: "Legend", PointsRequired: 12000, Benefits: []string{"Hall of fame"}},
	}
}

// Validate checks that the table is non-empty, starts at zero and that both
// levels and thresholds strictly increase.
func (t Table) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("level table is empty")
	}
	if t[0].PointsRequired != 0 {
		return fmt.Errorf("first level must require 0 points, got %d", t[0].PointsRequired)
	}
	for i := 1; i < len(t); i++ {
		if t[i].Level <= t[i-1].Level {
			return fmt.Errorf("level %d is not greater than level %d", t[i].Level, t[i-1].Level)
		}
		if t[i].PointsRequired <= t[i-1].PointsRequired {
			return fmt.Errorf("level %d threshold %d is not above %d", t[i].Level, t[i].PointsRequired, t[i-1].PointsRequired)
		}
	}
	return nil
}

// Sorted returns a copy ordered by threshold.
func (t Table) Sorted() Table {
	out := append(Table(nil), t...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].PointsRequired < out[j].PointsRequired })
	return out
}

// Calculate selects the highest level whose threshold is at or below
// totalPoints. The table must be sorted by threshold. Totals below the first
// threshold map to the first level.
func Calculate(table Table, totalPoints int) Info {
	if len(table) == 0 {
		return Info{Level: 1, Points: totalPoints, IsMaxLevel: true}
	}

	idx := sort.Search(len(table), func(i int) bool { return table[i].PointsRequired > totalPoints }) - 1
	if idx < 0 {
		idx = 0
	}
	current := table[idx]

	info := Info{
		Level:          current.Level,
		Title:          current.Title,
		Points:         totalPoints,
		PointsRequired: current.PointsRequired,
		Benefits:       current.Benefits,
	}

	if idx == len(table)-1 {
		info.IsMaxLevel = true
		info.ProgressPercent = 100
		return info
	}

	next := table[idx+1]
	info.NextLevelPoints = next.PointsRequired
	info.PointsToNext = next.PointsRequired - totalPoints

	span := next.PointsRequired - current.PointsRequired
	gained := totalPoints - current.PointsRequired
	if gained > 0 && span > 0 {
		info.ProgressPercent = 100 * float64(gained) / float64(span)
	}
	return info
}
