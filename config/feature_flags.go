package config

import (
	"os"
	"sort"
	"strconv"
	"strings"
)

// Predefined feature flag names.
const (
	FeatureLeaderboardCache = "leaderboard.cache"        // Redis standings cache
	FeatureWorkerReconcile  = "worker.reconcile"         // reconcile_grants job
	FeatureWorkerWarmBoards = "worker.warm_leaderboards" // warm_leaderboards job
)

// Feature is a single toggle.
type Feature struct {
	Name        string
	Description string
	Enabled     bool
}

// FeatureFlags is the set of toggles resolved at start. It is read-only
// after LoadFeatureFlags.
type FeatureFlags struct {
	features map[string]Feature
}

func defaultFeatures() []Feature {
	return []Feature{
		{Name: FeatureLeaderboardCache, Description: "Read leaderboard standings through Redis", Enabled: true},
		{Name: FeatureWorkerReconcile, Description: "Repair achievements written without points", Enabled: true},
		{Name: FeatureWorkerWarmBoards, Description: "Refill the standings cache periodically", Enabled: true},
	}
}

// LoadFeatureFlags applies FEATURE_<NAME> overrides to the defaults, e.g.
// FEATURE_LEADERBOARD_CACHE=false.
func LoadFeatureFlags() FeatureFlags {
	ff := FeatureFlags{features: make(map[string]Feature)}
	for _, f := range defaultFeatures() {
		if raw := os.Getenv(featureNameToEnvKey(f.Name)); raw != "" {
			if enabled, err := strconv.ParseBool(raw); err == nil {
				f.Enabled = enabled
			}
		}
		ff.features[f.Name] = f
	}
	return ff
}

// featureNameToEnvKey converts "worker.warm_leaderboards" to
// "FEATURE_WORKER_WARM_LEADERBOARDS".
func featureNameToEnvKey(name string) string {
	return "FEATURE_" + strings.ToUpper(strings.ReplaceAll(name, ".", "_"))
}

// IsEnabled reports whether the named feature is on. Unknown features are
// off.
func (ff FeatureFlags) IsEnabled(name string) bool {
	return ff.features[name].Enabled
}

// All returns every feature ordered by name.
func (ff FeatureFlags) All() []Feature {
	out := make([]Feature, 0, len(ff.features))
	for _, f := range ff.features {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
