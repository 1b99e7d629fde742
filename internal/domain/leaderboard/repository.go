package leaderboard

import (
	"context"
	"time"

	"github.com/alem-hub/learning-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD REPOSITORY INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// Repository reads unranked standings. Ranking happens in the domain so the
// tie-break is the same for every store.
type Repository interface {
	// AllTimeStandings returns every learner with the denormalized total.
	AllTimeStandings(ctx context.Context) ([]Standing, error)

	// PeriodStandings sums ledger rows inside window per learner. Learners
	// without a transaction in the window are omitted.
	PeriodStandings(ctx context.Context, window shared.TimeRange) ([]Standing, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD CACHE INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// Cache stores built standings per (period, window start). Implementations
// are best effort: callers fall back to the repository on any error.
//
// Every Invalidate bumps a generation counter. A builder reads Generation
// before it reads the store and passes the value to Set, which stores
// nothing if an invalidation happened in between.
type Cache interface {
	// Get returns false on a miss.
	Get(ctx context.Context, period Period, windowStart time.Time) ([]Standing, bool, error)

	// Generation returns the current invalidation generation.
	Generation(ctx context.Context) (int64, error)

	// Set stores standings built at generation. It reports false without
	// storing when the generation has moved on.
	Set(ctx context.Context, period Period, windowStart time.Time, standings []Standing, ttl time.Duration, generation int64) (bool, error)

	// Invalidate bumps the generation and drops every cached period.
	Invalidate(ctx context.Context) error
}
