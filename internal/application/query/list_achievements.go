package query

import (
	"context"
	"time"

	"github.com/alem-hub/learning-progress/internal/domain/achievement"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST ACHIEVEMENTS / CHECK ACHIEVEMENT PROGRESS QUERIES
// ══════════════════════════════════════════════════════════════════════════════

// StatsSource supplies the game stats read model.
type StatsSource interface {
	Stats(ctx context.Context, userID shared.UserID) (achievement.GameStats, error)
}

// AchievementView is one catalog entry from a learner's point of view.
type AchievementView struct {
	Type        achievement.Type `json:"type"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Points      int              `json:"points"`
	Category    string           `json:"category"`
	Rarity      string           `json:"rarity"`
	IsHidden    bool             `json:"is_hidden"`
	Earned      bool             `json:"earned"`
	EarnedAt    *time.Time       `json:"earned_at,omitempty"`
	Progress    float64          `json:"progress"`
	Current     float64          `json:"current"`
	Target      float64          `json:"target"`
}

// ListAchievementsQuery identifies the learner.
type ListAchievementsQuery struct {
	UserID shared.UserID
}

// ListAchievementsResult is the catalog with earned flags.
type ListAchievementsResult struct {
	Achievements []AchievementView `json:"achievements"`
	EarnedCount  int               `json:"earned_count"`
	TotalCount   int               `json:"total_count"`
}

// ListAchievementsHandler handles ListAchievementsQuery and
// CheckAchievementProgressQuery.
type ListAchievementsHandler struct {
	achievements achievement.Repository
	stats        StatsSource
	env          Env
}

// NewListAchievementsHandler creates a new ListAchievementsHandler.
func NewListAchievementsHandler(achievements achievement.Repository, stats StatsSource, env Env) *ListAchievementsHandler {
	return &ListAchievementsHandler{achievements: achievements, stats: stats, env: env.withDefaults()}
}

// Handle lists the catalog. Hidden achievements appear only once earned.
func (h *ListAchievementsHandler) Handle(ctx context.Context, q ListAchievementsQuery) (*ListAchievementsResult, error) {
	if err := requireUser(q.UserID); err != nil {
		return nil, err
	}

	earned, err := h.achievements.ListEarned(ctx, q.UserID)
	if err != nil {
		return nil, err
	}
	earnedAt := make(map[achievement.Type]time.Time, len(earned))
	for _, ua := range earned {
		earnedAt[ua.AchievementType] = ua.EarnedAt
	}

	stats, err := h.stats.Stats(ctx, q.UserID)
	if err != nil {
		return nil, err
	}

	defs := h.env.Rules.Achievements.All()
	res := &ListAchievementsResult{
		Achievements: make([]AchievementView, 0, len(defs)),
		TotalCount:   len(defs),
	}
	for _, def := range defs {
		at, isEarned := earnedAt[def.Type]
		if def.IsHidden && !isEarned {
			continue
		}
		view := viewOf(def, achievement.CheckProgress(def, stats, isEarned))
		// Only stored rows count as earned in the listing.
		view.Earned = isEarned
		if isEarned {
			view.EarnedAt = &at
			res.EarnedCount++
		}
		res.Achievements = append(res.Achievements, view)
	}
	return res, nil
}

// CheckAchievementProgressQuery asks how close a learner is to one
// achievement.
type CheckAchievementProgressQuery struct {
	UserID shared.UserID
	Type   achievement.Type
}

// CheckProgress executes CheckAchievementProgressQuery. Hidden achievements
// the learner has not earned read as not found.
func (h *ListAchievementsHandler) CheckProgress(ctx context.Context, q CheckAchievementProgressQuery) (*AchievementView, error) {
	if err := requireUser(q.UserID); err != nil {
		return nil, err
	}
	def, ok := h.env.Rules.Achievements.Get(q.Type)
	if !ok {
		return nil, shared.ErrAchievementNotFound
	}

	earned, err := h.achievements.ListEarned(ctx, q.UserID)
	if err != nil {
		return nil, err
	}
	var (
		isEarned bool
		at       time.Time
	)
	for _, ua := range earned {
		if ua.AchievementType == q.Type {
			isEarned, at = true, ua.EarnedAt
			break
		}
	}
	if def.IsHidden && !isEarned {
		return nil, shared.ErrAchievementNotFound
	}

	stats, err := h.stats.Stats(ctx, q.UserID)
	if err != nil {
		return nil, err
	}
	view := viewOf(def, achievement.CheckProgress(def, stats, isEarned))
	if isEarned {
		view.EarnedAt = &at
	}
	return &view, nil
}

func viewOf(def achievement.Definition, p achievement.Progress) AchievementView {
	return AchievementView{
		Type:        def.Type,
		Title:       def.Title,
		Description: def.Description,
		Points:      def.Points,
		Category:    def.Category,
		Rarity:      def.Rarity,
		IsHidden:    def.IsHidden,
		Earned:      p.Earned,
		Progress:    p.Progress,
		Current:     p.Current,
		Target:      p.Target,
	}
}
