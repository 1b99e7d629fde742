package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/learning-progress/internal/domain/learner"
	"github.com/alem-hub/learning-progress/internal/domain/level"
	"github.com/alem-hub/learning-progress/internal/domain/points"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
	"github.com/alem-hub/learning-progress/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// AWARD POINTS COMMAND
// Appends one ledger transaction and moves the learner total by the same
// delta. Grants are deduplicated by idempotency key; daily limited reasons
// are additionally checked against today's transactions.
// ══════════════════════════════════════════════════════════════════════════════

// AwardPointsCommand contains the data to award points.
type AwardPointsCommand struct {
	UserID shared.UserID
	Reason points.Reason `validate:"required"`

	// Points overrides the point table. Required for achievement_earned and
	// adjustment, optional otherwise.
	Points int

	Description string         `validate:"max=500"`
	Metadata    map[string]any
	// IdempotencyKey identifies the logical grant. Daily limited reasons
	// default to reason:YYYY-MM-DD.
	IdempotencyKey string `validate:"max=200"`

	// At is the grant instant. Zero means now.
	At time.Time
}

// AwardPointsResult contains the result of an award.
type AwardPointsResult struct {
	// Awarded is false when the grant already existed (the AlreadyGranted
	// outcome). That is not an error.
	Awarded     bool
	Transaction *points.Transaction
	NewTotal    int
	Level       level.Info
	LeveledUp   bool
}

// AwardPointsHandler handles the AwardPointsCommand.
type AwardPointsHandler struct {
	ledger   points.Ledger
	learners learner.Repository
	env      Env
	newID    func() string
}

// NewAwardPointsHandler creates a new AwardPointsHandler.
func NewAwardPointsHandler(ledger points.Ledger, learners learner.Repository, env Env) *AwardPointsHandler {
	return &AwardPointsHandler{
		ledger:   ledger,
		learners: learners,
		env:      env.withDefaults(),
		newID:    uuid.NewString,
	}
}

// Handle executes the award points command.
func (h *AwardPointsHandler) Handle(ctx context.Context, cmd AwardPointsCommand) (*AwardPointsResult, error) {
	if err := requireUser(cmd.UserID); err != nil {
		return nil, err
	}
	if err := validateCommand("AwardPoints", cmd); err != nil {
		return nil, err
	}

	pts := cmd.Points
	if pts == 0 {
		v, ok := h.env.Rules.Points.PointsFor(cmd.Reason)
		if !ok {
			return nil, shared.NewDomainError("points", "Award", shared.ErrInvalidInput,
				fmt.Sprintf("reason %q has no configured value", cmd.Reason))
		}
		pts = v
	}

	now := h.env.now(cmd.At)
	key := cmd.IdempotencyKey
	log := h.env.Logger.With(logger.UserID(cmd.UserID.String()), logger.Reason(string(cmd.Reason)))

	current, err := h.ensureLearner(ctx, cmd.UserID, now)
	if err != nil {
		return nil, fmt.Errorf("award_points: %w", err)
	}

	if h.env.Rules.Points.IsDailyLimited(cmd.Reason) {
		if key == "" {
			key = points.DailyKey(cmd.Reason, h.env.Calendar.Today(now))
		}
		granted, err := h.ledger.HasReasonSince(ctx, cmd.UserID, cmd.Reason, h.env.Calendar.StartOfDay(now))
		if err != nil {
			return nil, fmt.Errorf("award_points: daily check: %w", err)
		}
		if granted {
			log.Debug("daily grant already claimed")
			return h.alreadyGranted(current.TotalPoints), nil
		}
	}

	tx, err := points.NewTransaction(h.newID(), cmd.UserID, cmd.Reason, pts, cmd.Description, cmd.Metadata, key, now)
	if err != nil {
		return nil, err
	}

	var total int
	err = h.env.withStoreRetry(ctx, "award_points", func(ctx context.Context) error {
		var appendErr error
		total, appendErr = h.ledger.Append(ctx, tx)
		return appendErr
	})
	if errors.Is(err, shared.ErrAlreadyGranted) {
		log.Debug("grant already recorded", logger.IdempotencyKey(key))
		if l, getErr := h.learners.Get(ctx, cmd.UserID); getErr == nil {
			total = l.TotalPoints
		}
		return h.alreadyGranted(total), nil
	}
	if err != nil {
		return nil, fmt.Errorf("award_points: %w", err)
	}

	before := h.env.Rules.Level(total - pts)
	after := h.env.Rules.Level(total)
	result := &AwardPointsResult{
		Awarded:     true,
		Transaction: tx,
		NewTotal:    total,
		Level:       after,
		LeveledUp:   after.Level > before.Level,
	}

	log.Info("points awarded", logger.Points(pts), logger.Int("new_total", total), logger.IdempotencyKey(key))

	h.env.publish(shared.NewPointsAwardedEvent(cmd.UserID.String(), tx.ID, pts, string(cmd.Reason), total, now))
	if result.LeveledUp {
		h.env.publish(shared.NewLevelUpEvent(cmd.UserID.String(), before.Level, after.Level, after.Title, now))
	}
	return result, nil
}

// Granted reports whether a grant with the idempotency key is already in the
// ledger.
func (h *AwardPointsHandler) Granted(ctx context.Context, userID shared.UserID, key string) (bool, error) {
	return h.ledger.HasKey(ctx, userID, key)
}

func (h *AwardPointsHandler) ensureLearner(ctx context.Context, id shared.UserID, now time.Time) (*learner.Learner, error) {
	l, err := learner.New(id, "", now)
	if err != nil {
		return nil, err
	}
	var stored *learner.Learner
	err = h.env.withStoreRetry(ctx, "ensure_learner", func(ctx context.Context) error {
		var ensureErr error
		stored, ensureErr = h.learners.Ensure(ctx, l)
		return ensureErr
	})
	return stored, err
}

func (h *AwardPointsHandler) alreadyGranted(total int) *AwardPointsResult {
	return &AwardPointsResult{
		Awarded:  false,
		NewTotal: total,
		Level:    h.env.Rules.Level(total),
	}
}
