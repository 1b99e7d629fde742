package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/learning-progress/internal/domain/points"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// ══════════════════════════════════════════════════════════════════════════════
// POINTS LEDGER IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// LedgerRepository implements points.Ledger for PostgreSQL. The ledger row
// and the learner's denormalized total change in one transaction.
type LedgerRepository struct {
	conn *Connection
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(conn *Connection) *LedgerRepository {
	return &LedgerRepository{conn: conn}
}

// Append writes tx and bumps the learner total. A duplicate idempotency key
// returns the current total with shared.ErrAlreadyGranted.
func (r *LedgerRepository) Append(ctx context.Context, tx *points.Transaction) (int, error) {
	var metadata []byte
	if len(tx.Metadata) > 0 {
		raw, err := json.Marshal(tx.Metadata)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = raw
	}
	var key *string
	if tx.IdempotencyKey != "" {
		key = &tx.IdempotencyKey
	}

	var (
		total     int
		duplicate bool
	)
	err := r.conn.WithTx(ctx, func(dbtx pgx.Tx) error {
		tag, err := dbtx.Exec(ctx, `
			INSERT INTO points_transactions (id, user_id, points, reason, description, metadata, idempotency_key, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT ON CONSTRAINT unique_idempotency_key DO NOTHING
		`, tx.ID, tx.UserID.String(), tx.Points, string(tx.Reason), tx.Description, metadata, key, tx.CreatedAt)
		if err != nil {
			return err
		}

		if tag.RowsAffected() == 0 {
			duplicate = true
			return dbtx.QueryRow(ctx, `SELECT total_points FROM learners WHERE id = $1`, tx.UserID.String()).Scan(&total)
		}
		return dbtx.QueryRow(ctx, `
			UPDATE learners
			SET total_points = total_points + $2, updated_at = GREATEST(updated_at, $3)
			WHERE id = $1
			RETURNING total_points
		`, tx.UserID.String(), tx.Points, tx.CreatedAt).Scan(&total)
	})
	if err != nil {
		if IsForeignKeyViolation(err) || IsNoRows(err) {
			return 0, shared.ErrLearnerNotFound
		}
		return 0, mapError("Append", err)
	}
	if duplicate {
		return total, shared.ErrAlreadyGranted
	}
	return total, nil
}

// HasReasonSince reports whether a transaction with reason exists at or
// after since.
func (r *LedgerRepository) HasReasonSince(ctx context.Context, userID shared.UserID, reason points.Reason, since time.Time) (bool, error) {
	var exists bool
	err := r.conn.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM points_transactions
			WHERE user_id = $1 AND reason = $2 AND created_at >= $3
		)
	`, userID.String(), string(reason), since).Scan(&exists)
	if err != nil {
		return false, mapError("HasReasonSince", err)
	}
	return exists, nil
}

// HasKey reports whether the idempotency key was already used.
func (r *LedgerRepository) HasKey(ctx context.Context, userID shared.UserID, key string) (bool, error) {
	var exists bool
	err := r.conn.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM points_transactions WHERE user_id = $1 AND idempotency_key = $2)
	`, userID.String(), key).Scan(&exists)
	if err != nil {
		return false, mapError("HasKey", err)
	}
	return exists, nil
}

// History returns up to limit transactions, newest first.
func (r *LedgerRepository) History(ctx context.Context, userID shared.UserID, limit int) ([]points.Transaction, error) {
	query := psql.
		Select("id", "user_id", "points", "reason", "description", "metadata", "COALESCE(idempotency_key, '')", "created_at").
		From("points_transactions").
		Where(squirrel.Eq{"user_id": userID.String()}).
		OrderBy("created_at DESC", "id DESC")
	if limit > 0 {
		query = query.Limit(uint64(limit))
	}

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build history query: %w", err)
	}
	rows, err := r.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError("History", err)
	}
	defer rows.Close()

	var out []points.Transaction
	for rows.Next() {
		var (
			t            points.Transaction
			user, reason string
			rawMetadata  []byte
		)
		if err := rows.Scan(&t.ID, &user, &t.Points, &reason, &t.Description, &rawMetadata, &t.IdempotencyKey, &t.CreatedAt); err != nil {
			return nil, mapError("History", err)
		}
		t.UserID = shared.UserID(user)
		t.Reason = points.Reason(reason)
		if len(rawMetadata) > 0 {
			if err := json.Unmarshal(rawMetadata, &t.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		out = append(out, t)
	}
	return out, mapError("History", rows.Err())
}

// PeriodTotals sums transactions in [window.From, window.To) per learner.
func (r *LedgerRepository) PeriodTotals(ctx context.Context, window shared.TimeRange) (map[shared.UserID]int, error) {
	sql, args, err := periodTotalsQuery(window).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build period query: %w", err)
	}
	rows, err := r.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError("PeriodTotals", err)
	}
	defer rows.Close()

	totals := make(map[shared.UserID]int)
	for rows.Next() {
		var (
			user  string
			total int
		)
		if err := rows.Scan(&user, &total); err != nil {
			return nil, mapError("PeriodTotals", err)
		}
		totals[shared.UserID(user)] = total
	}
	return totals, mapError("PeriodTotals", rows.Err())
}

func periodTotalsQuery(window shared.TimeRange) squirrel.SelectBuilder {
	return psql.
		Select("user_id", "SUM(points)::BIGINT AS total").
		From("points_transactions").
		Where(squirrel.GtOrEq{"created_at": window.From}).
		Where(squirrel.Lt{"created_at": window.To}).
		GroupBy("user_id")
}
