package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/learning-progress/internal/domain/achievement"
	"github.com/alem-hub/learning-progress/internal/domain/points"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
)

// AchievementRepository implements achievement.Repository for PostgreSQL.
type AchievementRepository struct {
	conn *Connection
}

// NewAchievementRepository creates a new AchievementRepository.
func NewAchievementRepository(conn *Connection) *AchievementRepository {
	return &AchievementRepository{conn: conn}
}

// ListEarned returns the learner's achievements in the order earned.
func (r *AchievementRepository) ListEarned(ctx context.Context, userID shared.UserID) ([]achievement.UserAchievement, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT user_id, achievement_type, earned_at
		FROM user_achievements
		WHERE user_id = $1
		ORDER BY earned_at, achievement_type
	`, userID.String())
	if err != nil {
		return nil, mapError("ListEarned", err)
	}
	defer rows.Close()

	return scanUserAchievements(rows)
}

// Grant inserts the row once per learner and type.
func (r *AchievementRepository) Grant(ctx context.Context, ua *achievement.UserAchievement) error {
	tag, err := r.conn.Exec(ctx, `
		INSERT INTO user_achievements (user_id, achievement_type, earned_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, achievement_type) DO NOTHING
	`, ua.UserID.String(), string(ua.AchievementType), ua.EarnedAt)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return shared.ErrLearnerNotFound
		}
		return mapError("Grant", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrAlreadyEarned
	}
	return nil
}

// ListUnpaid returns earned achievements whose points grant never landed,
// oldest first.
func (r *AchievementRepository) ListUnpaid(ctx context.Context, limit int) ([]achievement.UserAchievement, error) {
	query := psql.
		Select("ua.user_id", "ua.achievement_type", "ua.earned_at").
		From("user_achievements ua").
		Where(`NOT EXISTS (
			SELECT 1 FROM points_transactions pt
			WHERE pt.user_id = ua.user_id AND pt.idempotency_key = ?::text || ua.achievement_type
		)`, points.AchievementKey("")).
		OrderBy("ua.earned_at", "ua.user_id")
	if limit > 0 {
		query = query.Limit(uint64(limit))
	}

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, mapError("ListUnpaid", err)
	}
	rows, err := r.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError("ListUnpaid", err)
	}
	defer rows.Close()

	return scanUserAchievements(rows)
}

func scanUserAchievements(rows pgx.Rows) ([]achievement.UserAchievement, error) {
	var out []achievement.UserAchievement
	for rows.Next() {
		var (
			ua         achievement.UserAchievement
			user, kind string
		)
		if err := rows.Scan(&user, &kind, &ua.EarnedAt); err != nil {
			return nil, mapError("scanUserAchievement", err)
		}
		ua.UserID = shared.UserID(user)
		ua.AchievementType = achievement.Type(kind)
		out = append(out, ua)
	}
	return out, mapError("scanUserAchievement", rows.Err())
}
