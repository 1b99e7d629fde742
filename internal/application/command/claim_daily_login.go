package command

import (
	"context"
	"time"

	"github.com/alem-hub/learning-progress/internal/domain/learner"
	"github.com/alem-hub/learning-progress/internal/domain/points"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CLAIM DAILY LOGIN COMMAND
// Grants the daily login bonus at most once per calendar day. Claiming also
// registers the learner's display name on first contact.
// ══════════════════════════════════════════════════════════════════════════════

// ClaimDailyLoginCommand contains the claiming learner.
type ClaimDailyLoginCommand struct {
	UserID      shared.UserID
	DisplayName string `validate:"max=256"`

	// At is the claim instant. Zero means now.
	At time.Time
}

// ClaimDailyLoginResult reports whether the bonus was granted.
type ClaimDailyLoginResult struct {
	Claimed  bool
	Points   int
	NewTotal int
}

// ClaimDailyLoginHandler handles the ClaimDailyLoginCommand.
type ClaimDailyLoginHandler struct {
	learners learner.Repository
	award    *AwardPointsHandler
	env      Env
}

// NewClaimDailyLoginHandler creates a new ClaimDailyLoginHandler.
func NewClaimDailyLoginHandler(learners learner.Repository, award *AwardPointsHandler, env Env) *ClaimDailyLoginHandler {
	return &ClaimDailyLoginHandler{learners: learners, award: award, env: env.withDefaults()}
}

// Handle executes the claim daily login command.
func (h *ClaimDailyLoginHandler) Handle(ctx context.Context, cmd ClaimDailyLoginCommand) (*ClaimDailyLoginResult, error) {
	if err := requireUser(cmd.UserID); err != nil {
		return nil, err
	}
	if err := validateCommand("ClaimDailyLogin", cmd); err != nil {
		return nil, err
	}
	now := h.env.now(cmd.At)

	l, err := learner.New(cmd.UserID, cmd.DisplayName, now)
	if err != nil {
		return nil, err
	}
	if _, err := h.learners.Ensure(ctx, l); err != nil {
		return nil, err
	}

	award, err := h.award.Handle(ctx, AwardPointsCommand{
		UserID:      cmd.UserID,
		Reason:      points.ReasonDailyLogin,
		Description: "Daily login " + h.env.Calendar.Today(now).String(),
		At:          now,
	})
	if err != nil {
		return nil, err
	}

	result := &ClaimDailyLoginResult{Claimed: award.Awarded, NewTotal: award.NewTotal}
	if award.Awarded {
		result.Points = award.Transaction.Points
	}
	return result, nil
}
