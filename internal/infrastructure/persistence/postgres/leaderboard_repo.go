package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/learning-progress/internal/domain/leaderboard"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardRepository implements leaderboard.Repository for PostgreSQL.
// It returns unranked standings; ordering and ties are resolved in the domain.
type LeaderboardRepository struct {
	conn *Connection
}

// NewLeaderboardRepository creates a new LeaderboardRepository.
func NewLeaderboardRepository(conn *Connection) *LeaderboardRepository {
	return &LeaderboardRepository{conn: conn}
}

// AllTimeStandings reads the denormalized totals of every learner.
func (r *LeaderboardRepository) AllTimeStandings(ctx context.Context) ([]leaderboard.Standing, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT id, display_name, total_points, created_at
		FROM learners
		ORDER BY total_points DESC, created_at ASC
	`)
	if err != nil {
		return nil, mapError("AllTimeStandings", err)
	}
	defer rows.Close()

	return scanStandings("AllTimeStandings", rows)
}

// PeriodStandings sums ledger rows inside window and joins the learner row.
func (r *LeaderboardRepository) PeriodStandings(ctx context.Context, window shared.TimeRange) ([]leaderboard.Standing, error) {
	totals := periodTotalsQuery(window)
	sql, args, err := psql.
		Select("l.id", "l.display_name", "t.total", "l.created_at").
		FromSelect(totals, "t").
		Join("learners l ON l.id = t.user_id").
		OrderBy("t.total DESC", "l.created_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build period standings query: %w", err)
	}

	rows, err := r.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError("PeriodStandings", err)
	}
	defer rows.Close()

	return scanStandings("PeriodStandings", rows)
}

func scanStandings(op string, rows pgx.Rows) ([]leaderboard.Standing, error) {
	out := make([]leaderboard.Standing, 0)
	for rows.Next() {
		var (
			s    leaderboard.Standing
			user string
		)
		if err := rows.Scan(&user, &s.DisplayName, &s.Points, &s.JoinedAt); err != nil {
			return nil, mapError(op, err)
		}
		s.UserID = shared.UserID(user)
		out = append(out, s)
	}
	return out, mapError(op, rows.Err())
}
