package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/learning-progress/internal/domain/shared"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"unique violation", &pgconn.PgError{Code: "23505"}, shared.IsAlreadyExists},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, shared.IsConflict},
		{"deadlock", fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "40P01"}), shared.IsConflict},
		{"deadline", context.DeadlineExceeded, shared.IsUnavailable},
		{"closed pool", ErrConnectionClosed, shared.IsUnavailable},
		{"domain error passes through", shared.ErrLearnerNotFound, shared.IsNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(mapError("op", tt.err)))
		})
	}

	assert.NoError(t, mapError("op", nil))

	other := mapError("op", &pgconn.PgError{Code: "42P01"})
	require.Error(t, other)
	assert.False(t, shared.IsRetryable(other))
	assert.Contains(t, other.Error(), "postgres.op")
}

func TestCasResult(t *testing.T) {
	assert.NoError(t, casResult("op", 1, nil))
	assert.True(t, shared.IsConflict(casResult("op", 0, nil)))
	assert.True(t, shared.IsConflict(casResult("op", 0, &pgconn.PgError{Code: "23505"})))
	assert.True(t, shared.IsUnavailable(casResult("op", 0, context.Canceled)))
	assert.False(t, shared.IsRetryable(casResult("op", 0, errors.New("boom"))))
}

func TestPeriodTotalsQuery(t *testing.T) {
	from := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	sql, args, err := periodTotalsQuery(shared.TimeRange{From: from, To: from.AddDate(0, 0, 7)}).ToSql()
	require.NoError(t, err)

	assert.Equal(t, "SELECT user_id, SUM(points)::BIGINT AS total FROM points_transactions WHERE created_at >= $1 AND created_at < $2 GROUP BY user_id", sql)
	assert.Equal(t, []any{from, from.AddDate(0, 0, 7)}, args)
}

func TestMigrationsAreOrdered(t *testing.T) {
	migrations := Migrations()
	require.NotEmpty(t, migrations)
	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.UpSQL)
		assert.NotEmpty(t, m.DownSQL)
	}
}
