package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alem-hub/learning-progress/internal/domain/achievement"
	"github.com/alem-hub/learning-progress/internal/domain/points"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
	"github.com/alem-hub/learning-progress/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATE ACHIEVEMENTS COMMAND
// Runs the catalog against the learner's current game stats and grants every
// newly satisfied achievement. A grant writes the UserAchievement row first
// and then the achievement_earned points; a crash between the two is
// repaired by ReconcileGrants.
// ══════════════════════════════════════════════════════════════════════════════

// StatsProvider assembles the game stats read model.
type StatsProvider interface {
	Stats(ctx context.Context, userID shared.UserID) (achievement.GameStats, error)
}

// EvaluateAchievementsCommand contains the learner to evaluate.
type EvaluateAchievementsCommand struct {
	UserID shared.UserID

	// At is the grant instant. Zero means now.
	At time.Time
}

// EvaluateAchievementsResult lists the achievements granted by this call.
type EvaluateAchievementsResult struct {
	Unlocked []achievement.Definition
	Warnings Warnings
}

// EvaluateAchievementsHandler handles the EvaluateAchievementsCommand.
type EvaluateAchievementsHandler struct {
	achievements achievement.Repository
	stats        StatsProvider
	award        *AwardPointsHandler
	env          Env
}

// NewEvaluateAchievementsHandler creates a new EvaluateAchievementsHandler.
func NewEvaluateAchievementsHandler(
	achievements achievement.Repository,
	stats StatsProvider,
	award *AwardPointsHandler,
	env Env,
) *EvaluateAchievementsHandler {
	return &EvaluateAchievementsHandler{
		achievements: achievements,
		stats:        stats,
		award:        award,
		env:          env.withDefaults(),
	}
}

// Handle executes the evaluate achievements command.
func (h *EvaluateAchievementsHandler) Handle(ctx context.Context, cmd EvaluateAchievementsCommand) (*EvaluateAchievementsResult, error) {
	if err := requireUser(cmd.UserID); err != nil {
		return nil, err
	}
	now := h.env.now(cmd.At)
	result := &EvaluateAchievementsResult{}

	// Achievement points can unlock point, level or collector achievements,
	// so passes repeat until one grants nothing. Every granting pass earns
	// at least one new entry, which bounds the loop by the catalog size.
	for pass := 0; pass <= h.env.Rules.Achievements.Len(); pass++ {
		stats, err := h.stats.Stats(ctx, cmd.UserID)
		if err != nil {
			return result, fmt.Errorf("evaluate_achievements: stats: %w", err)
		}
		earned, err := h.achievements.ListEarned(ctx, cmd.UserID)
		if err != nil {
			return result, fmt.Errorf("evaluate_achievements: list earned: %w", err)
		}

		candidates := achievement.Evaluate(h.env.Rules.Achievements, achievement.EarnedSet(earned), stats)
		if len(candidates) == 0 {
			break
		}

		granted := 0
		for _, def := range candidates {
			ok, err := h.grant(ctx, cmd.UserID, def, now, &result.Warnings)
			if err != nil {
				return result, err
			}
			if ok {
				granted++
				result.Unlocked = append(result.Unlocked, def)
			}
		}
		if granted == 0 {
			break
		}
	}
	return result, nil
}

// GrantSpecial grants an event-driven achievement such as night_owl. It
// returns false when the learner already had it.
func (h *EvaluateAchievementsHandler) GrantSpecial(ctx context.Context, userID shared.UserID, t achievement.Type, at time.Time) (bool, Warnings, error) {
	if err := requireUser(userID); err != nil {
		return false, nil, err
	}
	def, ok := h.env.Rules.Achievements.Get(t)
	if !ok {
		return false, nil, shared.ErrAchievementNotFound
	}
	var warnings Warnings
	granted, err := h.grant(ctx, userID, def, h.env.now(at), &warnings)
	return granted, warnings, err
}

// grant writes the achievement row and then its points. The row write is the
// exactly-once gate; losing the race to a concurrent grant is not an error.
func (h *EvaluateAchievementsHandler) grant(ctx context.Context, userID shared.UserID, def achievement.Definition, now time.Time, warnings *Warnings) (bool, error) {
	ua := &achievement.UserAchievement{UserID: userID, AchievementType: def.Type, EarnedAt: now}
	err := h.env.withStoreRetry(ctx, "grant_achievement", func(ctx context.Context) error {
		return h.achievements.Grant(ctx, ua)
	})
	if errors.Is(err, shared.ErrAlreadyEarned) || shared.IsAlreadyExists(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("grant achievement %s: %w", def.Type, err)
	}

	log := h.env.Logger.With(logger.UserID(userID.String()), logger.Achievement(string(def.Type)))
	log.Info("achievement unlocked", logger.String("rarity", def.Rarity))

	if def.Points > 0 {
		_, err := h.award.Handle(ctx, AwardPointsCommand{
			UserID:         userID,
			Reason:         points.ReasonAchievementEarned,
			Points:         def.Points,
			Description:    "Achievement: " + def.Title,
			Metadata:       map[string]any{"achievement_type": string(def.Type)},
			IdempotencyKey: points.AchievementKey(string(def.Type)),
			At:             now,
		})
		if err != nil {
			warnings.add(log, "award_achievement_points", err)
		}
	}

	h.env.publish(shared.NewAchievementUnlockedEvent(userID.String(), string(def.Type), def.Title, def.Points, def.Rarity, now))
	return true, nil
}
