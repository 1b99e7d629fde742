package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/alem-hub/learning-progress/internal/application"
	"github.com/alem-hub/learning-progress/internal/domain/progress"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
	"github.com/alem-hub/learning-progress/internal/infrastructure/gameconfig"
	"github.com/alem-hub/learning-progress/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/learning-progress/internal/interface/http/handlers"
	"github.com/alem-hub/learning-progress/pkg/circuitbreaker"
	"github.com/alem-hub/learning-progress/pkg/timeutil"
)

const internalToken = "ops-secret"

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
}

type ServerSuite struct {
	suite.Suite
	verifier *handlers.TokenVerifier
	health   *handlers.HealthChecker
	handler  http.Handler
}

func (s *ServerSuite) SetupTest() {
	store := memory.New()
	store.PutCourse("c1",
		progress.Lesson{ID: "l1", Kind: progress.KindReading, Position: 1},
		progress.Lesson{ID: "l2", Kind: progress.KindReading, Position: 2},
	)

	app := application.New(application.Stores{
		Progress:     store,
		Catalog:      store,
		Streaks:      store.Streaks(),
		Ledger:       store,
		Achievements: store,
		Learners:     store,
		Leaderboard:  store,
	}, application.Options{
		Rules:    gameconfig.MustDefault(),
		Clock:    timeutil.NewManualClock(time.Date(2024, time.March, 4, 10, 0, 0, 0, time.UTC)),
		Calendar: timeutil.NewCalendar(time.UTC),
	})

	var err error
	s.verifier, err = handlers.NewTokenVerifier("test-secret", handlers.TokenOptions{Issuer: "tests"})
	s.Require().NoError(err)
	s.health = handlers.NewHealthChecker("test")

	cfg := DefaultConfig()
	cfg.InternalToken = internalToken
	s.handler = NewServer(cfg, Dependencies{App: app, Verifier: s.verifier, Health: s.health}).Handler()
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerSuite))
}

func (s *ServerSuite) token(user shared.UserID) string {
	tok, err := s.verifier.Issue(user, time.Hour)
	s.Require().NoError(err)
	return tok
}

func (s *ServerSuite) do(method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if method == http.MethodPost && path == "/internal/reconcile" {
		req.Header.Set(handlers.InternalTokenHeader, token)
		req.Header.Del("Authorization")
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var env envelope
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func (s *ServerSuite) TestHealthAndRequestID() {
	rec, env := s.do(http.MethodGet, "/health", "", nil)
	s.Equal(http.StatusOK, rec.Code)
	s.True(env.Success)
	s.NotEmpty(rec.Header().Get(handlers.RequestIDHeader))
}

func (s *ServerSuite) TestReadyReportsFailingCheck() {
	rec, _ := s.do(http.MethodGet, "/ready", "", nil)
	s.Equal(http.StatusOK, rec.Code)

	s.health.AddCheck("postgres", func(context.Context) error { return errors.New("connection refused") })
	rec, env := s.do(http.MethodGet, "/ready", "", nil)
	s.Equal(http.StatusServiceUnavailable, rec.Code)

	var status handlers.HealthStatus
	s.Require().NoError(json.Unmarshal(env.Data, &status))
	s.False(status.Healthy)
	s.Equal("unhealthy: postgres", status.Message)
}

func (s *ServerSuite) TestRequiresBearerToken() {
	rec, env := s.do(http.MethodGet, "/api/v1/me/stats", "", nil)
	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Require().NotNil(env.Error)
	s.Equal("unauthenticated", env.Error.Code)

	other, err := handlers.NewTokenVerifier("other-secret", handlers.TokenOptions{})
	s.Require().NoError(err)
	forged, err := other.Issue("u1", time.Hour)
	s.Require().NoError(err)
	rec, _ = s.do(http.MethodGet, "/api/v1/me/stats", forged, nil)
	s.Equal(http.StatusUnauthorized, rec.Code)

	expired, err := s.verifier.Issue("u1", -time.Minute)
	s.Require().NoError(err)
	rec, _ = s.do(http.MethodGet, "/api/v1/me/stats", expired, nil)
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *ServerSuite) TestRecordProgressFlow() {
	tok := s.token("u1")

	rec, env := s.do(http.MethodPost, "/api/v1/progress", tok, map[string]any{
		"lesson_id": "l1", "course_id": "c1", "percent": 100, "time_spent_delta": 120,
	})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var res recordProgressResponse
	s.Require().NoError(json.Unmarshal(env.Data, &res))
	s.True(res.FirstCompletion)
	s.False(res.CourseCompleted)
	s.Positive(res.PointsAwarded)
	s.Equal(50.0, res.Course.ProgressPercent)

	// Replaying the completion grants nothing new.
	rec, env = s.do(http.MethodPost, "/api/v1/progress", tok, map[string]any{
		"lesson_id": "l1", "course_id": "c1", "percent": 100,
	})
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Require().NoError(json.Unmarshal(env.Data, &res))
	s.False(res.FirstCompletion)
	s.Zero(res.PointsAwarded)

	rec, env = s.do(http.MethodGet, "/api/v1/me/points", tok, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var history struct {
		TotalPoints  int               `json:"total_points"`
		Transactions []json.RawMessage `json:"transactions"`
	}
	s.Require().NoError(json.Unmarshal(env.Data, &history))
	s.Positive(history.TotalPoints)
	s.NotEmpty(history.Transactions)

	rec, env = s.do(http.MethodGet, "/api/v1/courses/c1/progress", tok, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var course struct {
		RoundedPercent int               `json:"rounded_percent"`
		Lessons        []json.RawMessage `json:"lessons"`
	}
	s.Require().NoError(json.Unmarshal(env.Data, &course))
	s.Equal(50, course.RoundedPercent)
	s.Len(course.Lessons, 2)

	rec, env = s.do(http.MethodGet, "/api/v1/leaderboard?period=weekly&limit=10", tok, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var board struct {
		Entries  []json.RawMessage `json:"entries"`
		UserRank *struct {
			Rank int `json:"rank"`
		} `json:"user_rank"`
	}
	s.Require().NoError(json.Unmarshal(env.Data, &board))
	s.Len(board.Entries, 1)
	s.Require().NotNil(board.UserRank)
	s.Equal(1, board.UserRank.Rank)
}

func (s *ServerSuite) TestRequestErrors() {
	tok := s.token("u1")

	rec, env := s.do(http.MethodPost, "/api/v1/progress", tok, map[string]any{
		"lesson_id": "missing", "course_id": "c1", "percent": 10,
	})
	s.Equal(http.StatusNotFound, rec.Code)
	s.Equal("not_found", env.Error.Code)

	rec, _ = s.do(http.MethodPost, "/api/v1/progress", tok, `{"lesson_id":`)
	s.Equal(http.StatusBadRequest, rec.Code)

	rec, _ = s.do(http.MethodPost, "/api/v1/progress", tok, `{"unknown":1}`)
	s.Equal(http.StatusBadRequest, rec.Code)

	rec, _ = s.do(http.MethodPost, "/api/v1/progress", tok, nil)
	s.Equal(http.StatusBadRequest, rec.Code)

	rec, _ = s.do(http.MethodGet, "/api/v1/leaderboard?period=yearly", tok, nil)
	s.Equal(http.StatusBadRequest, rec.Code)

	rec, _ = s.do(http.MethodGet, "/api/v1/me/points?limit=abc", tok, nil)
	s.Equal(http.StatusBadRequest, rec.Code)

	rec, _ = s.do(http.MethodGet, "/api/v1/nope", tok, nil)
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *ServerSuite) TestDailyLoginOncePerDay() {
	tok := s.token("u2")

	rec, env := s.do(http.MethodPost, "/api/v1/daily-login", tok, nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var first dailyLoginResponse
	s.Require().NoError(json.Unmarshal(env.Data, &first))
	s.True(first.Claimed)

	rec, env = s.do(http.MethodPost, "/api/v1/daily-login", tok, map[string]string{"display_name": "Ada"})
	s.Require().Equal(http.StatusOK, rec.Code)
	var second dailyLoginResponse
	s.Require().NoError(json.Unmarshal(env.Data, &second))
	s.False(second.Claimed)
	s.Equal(first.NewTotal, second.NewTotal)
}

func (s *ServerSuite) TestAchievementEndpoints() {
	tok := s.token("u3")

	rec, env := s.do(http.MethodGet, "/api/v1/me/achievements", tok, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var list struct {
		TotalCount  int `json:"total_count"`
		EarnedCount int `json:"earned_count"`
	}
	s.Require().NoError(json.Unmarshal(env.Data, &list))
	s.Positive(list.TotalCount)
	s.Zero(list.EarnedCount)

	rec, _ = s.do(http.MethodGet, "/api/v1/achievements/no_such_thing/progress", tok, nil)
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *ServerSuite) TestLevelsArePublic() {
	rec, env := s.do(http.MethodGet, "/api/v1/levels", "", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var table []json.RawMessage
	s.Require().NoError(json.Unmarshal(env.Data, &table))
	s.NotEmpty(table)
}

func (s *ServerSuite) TestInternalReconcileNeedsToken() {
	rec, env := s.do(http.MethodPost, "/internal/reconcile", "wrong", nil)
	s.Equal(http.StatusForbidden, rec.Code)
	s.Equal("forbidden", env.Error.Code)

	rec, env = s.do(http.MethodPost, "/internal/reconcile", internalToken, map[string]int{"limit": 10})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var res reconcileResponse
	s.Require().NoError(json.Unmarshal(env.Data, &res))
	s.Zero(res.Failed)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"unauthenticated", shared.ErrNoUserContext, http.StatusUnauthorized},
		{"validation", shared.ErrInvalidPeriod, http.StatusBadRequest},
		{"empty body", io.EOF, http.StatusBadRequest},
		{"not found", shared.ErrCourseNotFound, http.StatusNotFound},
		{"already exists", shared.ErrAlreadyEarned, http.StatusConflict},
		{"conflict", shared.WrapError("progress", "Save", shared.ErrConflictRace, "stale", nil), http.StatusConflict},
		{"unavailable", shared.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{"breaker", circuitbreaker.ErrCircuitOpen, http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := classify(tt.err)
			assert.Equal(t, tt.status, status)
		})
	}
}

func TestNewTokenVerifierRequiresSecret(t *testing.T) {
	_, err := handlers.NewTokenVerifier("", handlers.TokenOptions{})
	require.ErrorIs(t, err, handlers.ErrMissingSecret)
}
