package query

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alem-hub/learning-progress/internal/domain/leaderboard"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
	"github.com/alem-hub/learning-progress/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEADERBOARD QUERY
// Ranks learners by points for a period. Standings are read through a cache
// keyed by (period, window start); concurrent misses for the same key share
// one store read. Standings read across an invalidation are served but not
// cached.
// ══════════════════════════════════════════════════════════════════════════════

// DefaultLeaderboardTTL is used when the handler is built without a TTL.
const DefaultLeaderboardTTL = 30 * time.Second

// GetLeaderboardQuery contains the leaderboard request.
type GetLeaderboardQuery struct {
	Period leaderboard.Period
	Limit  int

	// Requester is the learner whose own rank is returned. Optional.
	Requester shared.UserID
}

// Validate normalizes the query.
func (q *GetLeaderboardQuery) Validate() error {
	if q.Period == "" {
		q.Period = leaderboard.PeriodAllTime
	}
	if _, err := leaderboard.ParsePeriod(string(q.Period)); err != nil {
		return err
	}
	if q.Limit < 0 {
		return shared.NewDomainError("leaderboard", "Validate", shared.ErrInvalidInput, "limit cannot be negative")
	}
	q.Limit = shared.ClampLimit(q.Limit)
	return nil
}

// GetLeaderboardHandler handles the GetLeaderboardQuery.
type GetLeaderboardHandler struct {
	repo  leaderboard.Repository
	cache leaderboard.Cache
	ttl   time.Duration
	env   Env
	group singleflight.Group
}

// NewGetLeaderboardHandler creates a new GetLeaderboardHandler. cache may be
// nil.
func NewGetLeaderboardHandler(repo leaderboard.Repository, cache leaderboard.Cache, ttl time.Duration, env Env) *GetLeaderboardHandler {
	if ttl <= 0 {
		ttl = DefaultLeaderboardTTL
	}
	return &GetLeaderboardHandler{repo: repo, cache: cache, ttl: ttl, env: env.withDefaults()}
}

// Handle executes the query.
func (h *GetLeaderboardHandler) Handle(ctx context.Context, q GetLeaderboardQuery) (*leaderboard.Leaderboard, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	now := h.env.Clock.Now()
	standings, err := h.Standings(ctx, q.Period, now)
	if err != nil {
		return nil, err
	}

	ranking := leaderboard.Rank(standings, h.env.Rules.LevelOf)
	lb := leaderboard.Build(q.Period, ranking, q.Limit, q.Requester, now)
	return &lb, nil
}

// Standings returns the unranked standings of a period, from the cache when
// possible. It is also used by the worker to warm the cache.
func (h *GetLeaderboardHandler) Standings(ctx context.Context, period leaderboard.Period, now time.Time) ([]leaderboard.Standing, error) {
	window, windowed := period.Window(h.env.Calendar, now)
	windowStart := time.Time{}
	if windowed {
		windowStart = window.From
	}
	log := h.env.Logger.With(logger.Period(period.String()))

	if h.cache != nil {
		cached, ok, err := h.cache.Get(ctx, period, windowStart)
		switch {
		case err != nil:
			log.Warn("leaderboard cache read failed", logger.Err(err))
		case ok:
			return cached, nil
		}
	}

	key := fmt.Sprintf("%s:%d", period, windowStart.Unix())
	v, err, _ := h.group.Do(key, func() (any, error) {
		var (
			standings []leaderboard.Standing
			gen       int64
			cacheable = h.cache != nil
			err       error
		)
		if cacheable {
			// Read before the store so an award that commits mid-read is seen.
			if gen, err = h.cache.Generation(ctx); err != nil {
				log.Warn("leaderboard cache generation read failed", logger.Err(err))
				cacheable = false
			}
		}
		if windowed {
			standings, err = h.repo.PeriodStandings(ctx, window)
		} else {
			standings, err = h.repo.AllTimeStandings(ctx)
		}
		if err != nil {
			return nil, err
		}
		if cacheable {
			stored, err := h.cache.Set(ctx, period, windowStart, standings, h.ttl, gen)
			switch {
			case err != nil:
				log.Warn("leaderboard cache write failed", logger.Err(err))
			case !stored:
				log.Debug("leaderboard changed while building, not cached")
			}
		}
		return standings, nil
	})
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	return v.([]leaderboard.Standing), nil
}
