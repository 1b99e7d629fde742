package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/learning-progress/internal/domain/achievement"
	"github.com/alem-hub/learning-progress/internal/domain/points"
	"github.com/alem-hub/learning-progress/internal/domain/progress"
	"github.com/alem-hub/learning-progress/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILE GRANTS COMMAND
// Repairs grants that never reached the ledger: achievements written without
// their points, and lesson, quiz and course milestones whose award failed
// after the progress row was saved. Every award is keyed, so running this
// concurrently with normal traffic cannot double-pay.
// ══════════════════════════════════════════════════════════════════════════════

// DefaultReconcileBatch is the batch size when the command omits a limit.
const DefaultReconcileBatch = 500

// ReconcileGrantsCommand bounds one reconciliation run. Limit applies to
// achievements and milestones separately.
type ReconcileGrantsCommand struct {
	Limit int `validate:"min=0,max=10000"`
}

// ReconcileGrantsResult counts what the run did.
type ReconcileGrantsResult struct {
	// Scanned counts achievements and milestones; Milestones is the share
	// of the latter.
	Scanned    int
	Milestones int
	Repaired int
	Skipped  int
	Failed   int
}

// ReconcileGrantsHandler handles the ReconcileGrantsCommand.
type ReconcileGrantsHandler struct {
	achievements achievement.Repository
	progress     progress.Repository
	award        *AwardPointsHandler
	env          Env
}

// NewReconcileGrantsHandler creates a new ReconcileGrantsHandler.
func NewReconcileGrantsHandler(achievements achievement.Repository, progressRepo progress.Repository, award *AwardPointsHandler, env Env) *ReconcileGrantsHandler {
	return &ReconcileGrantsHandler{achievements: achievements, progress: progressRepo, award: award, env: env.withDefaults()}
}

// Handle executes the reconcile grants command.
func (h *ReconcileGrantsHandler) Handle(ctx context.Context, cmd ReconcileGrantsCommand) (*ReconcileGrantsResult, error) {
	if err := validateCommand("ReconcileGrants", cmd); err != nil {
		return nil, err
	}
	limit := cmd.Limit
	if limit == 0 {
		limit = DefaultReconcileBatch
	}

	unpaid, err := h.achievements.ListUnpaid(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("reconcile_grants: %w", err)
	}

	result := &ReconcileGrantsResult{Scanned: len(unpaid)}
	for _, ua := range unpaid {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		def, ok := h.env.Rules.Achievements.Get(ua.AchievementType)
		if !ok || def.Points <= 0 {
			// Retired from the catalog or worth nothing.
			result.Skipped++
			continue
		}

		award, err := h.award.Handle(ctx, AwardPointsCommand{
			UserID:         ua.UserID,
			Reason:         points.ReasonAchievementEarned,
			Points:         def.Points,
			Description:    "Achievement: " + def.Title,
			Metadata:       map[string]any{"achievement_type": string(def.Type), "reconciled": true},
			IdempotencyKey: points.AchievementKey(string(def.Type)),
			At:             ua.EarnedAt,
		})
		if err != nil {
			h.env.Logger.Error("reconcile grant failed",
				logger.UserID(ua.UserID.String()),
				logger.Achievement(string(ua.AchievementType)),
				logger.Err(err),
			)
		}
		result.count(award, err)
	}

	milestones, err := h.progress.ListUnpaidMilestones(ctx, limit)
	if err != nil {
		return result, fmt.Errorf("reconcile_grants: milestones: %w", err)
	}
	result.Scanned += len(milestones)
	result.Milestones = len(milestones)
	for _, m := range milestones {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if v, ok := h.env.Rules.Points.PointsFor(m.Reason); !ok || v <= 0 {
			result.Skipped++
			continue
		}

		meta := map[string]any{"course_id": m.CourseID, "reconciled": true}
		if m.LessonID != "" {
			meta["lesson_id"] = m.LessonID
		}
		award, err := h.award.Handle(ctx, AwardPointsCommand{
			UserID:         m.UserID,
			Reason:         m.Reason,
			Description:    string(m.Reason) + " (reconciled)",
			Metadata:       meta,
			IdempotencyKey: m.Key(),
			At:             m.At,
		})
		if err != nil {
			h.env.Logger.Error("reconcile milestone failed",
				logger.UserID(m.UserID.String()),
				logger.IdempotencyKey(m.Key()),
				logger.Err(err),
			)
		}
		result.count(award, err)
	}

	h.env.Logger.Info("reconciliation finished",
		logger.Int("scanned", result.Scanned),
		logger.Int("milestones", result.Milestones),
		logger.Int("repaired", result.Repaired),
		logger.Int("skipped", result.Skipped),
		logger.Int("failed", result.Failed),
	)
	return result, nil
}

func (r *ReconcileGrantsResult) count(award *AwardPointsResult, err error) {
	switch {
	case err != nil:
		r.Failed++
	case award.Awarded:
		r.Repaired++
	default:
		r.Skipped++
	}
}
