package query

import (
	"context"

	"github.com/alem-hub/learning-progress/internal/domain/learner"
	"github.com/alem-hub/learning-progress/internal/domain/level"
	"github.com/alem-hub/learning-progress/internal/domain/points"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET POINTS HISTORY QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetPointsHistoryQuery contains the history request.
type GetPointsHistoryQuery struct {
	UserID shared.UserID
	Limit  int
}

// PointsHistoryResult is the learner's recent ledger.
type PointsHistoryResult struct {
	TotalPoints  int                  `json:"total_points"`
	Level        level.Info           `json:"level"`
	Transactions []points.Transaction `json:"transactions"`
}

// GetPointsHistoryHandler handles the GetPointsHistoryQuery.
type GetPointsHistoryHandler struct {
	ledger   points.Ledger
	learners learner.Repository
	env      Env
}

// NewGetPointsHistoryHandler creates a new GetPointsHistoryHandler.
func NewGetPointsHistoryHandler(ledger points.Ledger, learners learner.Repository, env Env) *GetPointsHistoryHandler {
	return &GetPointsHistoryHandler{ledger: ledger, learners: learners, env: env.withDefaults()}
}

// Handle executes the query. Newest transactions come first.
func (h *GetPointsHistoryHandler) Handle(ctx context.Context, q GetPointsHistoryQuery) (*PointsHistoryResult, error) {
	if err := requireUser(q.UserID); err != nil {
		return nil, err
	}

	total := 0
	l, err := h.learners.Get(ctx, q.UserID)
	switch {
	case err == nil:
		total = l.TotalPoints
	case !shared.IsNotFound(err):
		return nil, err
	}

	txs, err := h.ledger.History(ctx, q.UserID, shared.ClampLimit(q.Limit))
	if err != nil {
		return nil, err
	}
	if txs == nil {
		txs = []points.Transaction{}
	}
	return &PointsHistoryResult{
		TotalPoints:  total,
		Level:        h.env.Rules.Level(total),
		Transactions: txs,
	}, nil
}
