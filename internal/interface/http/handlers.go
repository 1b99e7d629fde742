package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/alem-hub/learning-progress/internal/application/command"
	"github.com/alem-hub/learning-progress/internal/application/query"
	"github.com/alem-hub/learning-progress/internal/domain/achievement"
	"github.com/alem-hub/learning-progress/internal/domain/leaderboard"
	"github.com/alem-hub/learning-progress/internal/domain/progress"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.config.Version,
		"uptime":  s.Uptime().Round(time.Second).String(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := s.deps.Health.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status)
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

type recordProgressRequest struct {
	LessonID       string            `json:"lesson_id"`
	CourseID       string            `json:"course_id"`
	Percent        float64           `json:"percent"`
	TimeSpentDelta int64             `json:"time_spent_delta"`
	Payload        *progress.Payload `json:"payload,omitempty"`
}

type recordProgressResponse struct {
	Lesson          progress.LessonProgress  `json:"lesson"`
	Course          progress.CourseProgress  `json:"course"`
	FirstCompletion bool                     `json:"first_completion"`
	CourseCompleted bool                     `json:"course_completed"`
	PointsAwarded   int                      `json:"points_awarded"`
	Unlocked        []achievement.Definition `json:"unlocked"`
	Warnings        []string                 `json:"warnings,omitempty"`
}

func (s *Server) handleRecordProgress(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.UserIDFromContext(r.Context())

	var req recordProgressRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.deps.App.RecordProgress.Handle(r.Context(), command.RecordProgressCommand{
		UserID:         userID,
		LessonID:       req.LessonID,
		CourseID:       req.CourseID,
		Percent:        req.Percent,
		TimeSpentDelta: req.TimeSpentDelta,
		Payload:        req.Payload,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	unlocked := res.Unlocked
	if unlocked == nil {
		unlocked = []achievement.Definition{}
	}
	writeJSON(w, r, http.StatusOK, recordProgressResponse{
		Lesson:          res.Lesson,
		Course:          res.Course,
		FirstCompletion: res.FirstCompletion,
		CourseCompleted: res.CourseCompleted,
		PointsAwarded:   res.PointsAwarded,
		Unlocked:        unlocked,
		Warnings:        res.Warnings,
	})
}

type recomputeCourseResponse struct {
	Course        progress.CourseProgress `json:"course"`
	Completed     bool                    `json:"completed"`
	PointsAwarded int                     `json:"points_awarded"`
	Warnings      []string                `json:"warnings,omitempty"`
}

func (s *Server) handleRecomputeCourse(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.UserIDFromContext(r.Context())
	res, err := s.deps.App.RecomputeCourse.Handle(r.Context(), command.RecomputeCourseProgressCommand{
		UserID:   userID,
		CourseID: chi.URLParam(r, "courseID"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, recomputeCourseResponse{
		Course:        res.Course,
		Completed:     res.Completed,
		PointsAwarded: res.PointsAwarded,
		Warnings:      res.Warnings,
	})
}

func (s *Server) handleCourseProgress(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.UserIDFromContext(r.Context())
	res, err := s.deps.App.CourseProgress.Handle(r.Context(), query.GetCourseProgressQuery{
		UserID:   userID,
		CourseID: chi.URLParam(r, "courseID"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// ══════════════════════════════════════════════════════════════════════════════
// GAMIFICATION
// ══════════════════════════════════════════════════════════════════════════════

type dailyLoginRequest struct {
	DisplayName string `json:"display_name"`
}

type dailyLoginResponse struct {
	Claimed  bool `json:"claimed"`
	Points   int  `json:"points"`
	NewTotal int  `json:"new_total"`
}

func (s *Server) handleDailyLogin(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.UserIDFromContext(r.Context())

	var req dailyLoginRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, err)
		return
	}

	res, err := s.deps.App.ClaimDailyLogin.Handle(r.Context(), command.ClaimDailyLoginCommand{
		UserID:      userID,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dailyLoginResponse{Claimed: res.Claimed, Points: res.Points, NewTotal: res.NewTotal})
}

func (s *Server) handleMyStats(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.UserIDFromContext(r.Context())
	res, err := s.deps.App.GameStats.Handle(r.Context(), query.GetGameStatsQuery{UserID: userID})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

func (s *Server) handleMyAchievements(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.UserIDFromContext(r.Context())
	res, err := s.deps.App.Achievements.Handle(r.Context(), query.ListAchievementsQuery{UserID: userID})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

func (s *Server) handleAchievementProgress(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.UserIDFromContext(r.Context())
	res, err := s.deps.App.Achievements.CheckProgress(r.Context(), query.CheckAchievementProgressQuery{
		UserID: userID,
		Type:   achievement.Type(chi.URLParam(r, "type")),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

func (s *Server) handleMyPoints(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.UserIDFromContext(r.Context())
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.deps.App.PointsHistory.Handle(r.Context(), query.GetPointsHistoryQuery{UserID: userID, Limit: limit})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.UserIDFromContext(r.Context())
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.deps.App.Leaderboard.Handle(r.Context(), query.GetLeaderboardQuery{
		Period:    leaderboard.Period(r.URL.Query().Get("period")),
		Limit:     limit,
		Requester: userID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

func (s *Server) handleLevels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.deps.App.Levels.Handle(r.Context()))
}

// ══════════════════════════════════════════════════════════════════════════════
// INTERNAL
// ══════════════════════════════════════════════════════════════════════════════

type reconcileRequest struct {
	Limit int `json:"limit"`
}

type reconcileResponse struct {
	Scanned    int `json:"scanned"`
	Milestones int `json:"milestones"`
	Repaired   int `json:"repaired"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, err)
		return
	}
	res, err := s.deps.App.ReconcileGrants.Handle(r.Context(), command.ReconcileGrantsCommand{Limit: req.Limit})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, reconcileResponse{
		Scanned:    res.Scanned,
		Milestones: res.Milestones,
		Repaired:   res.Repaired,
		Skipped:    res.Skipped,
		Failed:     res.Failed,
	})
}

// ──────────────────────────────────────────────────────────────────────────────
// Request helpers
// ──────────────────────────────────────────────────────────────────────────────

// decodeJSON decodes the body strictly. An empty body yields io.EOF.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxBytes *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF), errors.As(err, &maxBytes):
			return err
		default:
			return shared.WrapError("http", "Decode", shared.ErrInvalidInput, "malformed JSON body", err)
		}
	}
	return nil
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, shared.WrapError("http", "Query", shared.ErrInvalidInput, key+" must be an integer", err)
	}
	return n, nil
}
