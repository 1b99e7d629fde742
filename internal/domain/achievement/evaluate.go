package achievement

import "math"

// Evaluate returns the definitions that stats newly satisfy.
//
// Achievements already in earned are skipped and never re-evaluated. Special
// achievements (no requirements) are skipped as well. Only the first
// requirement of a definition is checked.
func Evaluate(catalog *Catalog, earned map[Type]struct{}, stats GameStats) []Definition {
	var unlocked []Definition
	for _, def := range catalog.defs {
		if _, done := earned[def.Type]; done {
			continue
		}
		req, ok := def.Primary()
		if !ok {
			continue
		}
		if Satisfied(req, stats) {
			unlocked = append(unlocked, def)
		}
	}
	return unlocked
}

// Satisfied tests one requirement against stats.
func Satisfied(req Requirement, stats GameStats) bool {
	current, ok := stats.Value(req.StatField)
	if !ok {
		return false
	}
	return req.Operator.Compare(current, req.Target)
}

// Progress is a UI-facing view of how close a learner is to an achievement.
type Progress struct {
	Type     Type    `json:"type"`
	Earned   bool    `json:"earned"`
	Progress float64 `json:"progress"`
	Current  float64 `json:"current"`
	Target   float64 `json:"target"`
}

// CheckProgress computes progress toward def without side effects.
//
// progress = min(100, 100 * current / target). An earned achievement always
// reads 100; a non-positive target reads 0 until earned. Special
// achievements report only their earned flag.
func CheckProgress(def Definition, stats GameStats, alreadyEarned bool) Progress {
	p := Progress{Type: def.Type, Earned: alreadyEarned}

	req, ok := def.Primary()
	if ok {
		p.Target = req.Target
		p.Current, _ = stats.Value(req.StatField)
		if !p.Earned {
			p.Earned = Satisfied(req, stats)
		}
	}

	switch {
	case p.Earned:
		p.Progress = 100
	case !ok || req.Target <= 0:
		p.Progress = 0
	default:
		p.Progress = math.Min(100, math.Max(0, 100*p.Current/req.Target))
	}
	return p
}
