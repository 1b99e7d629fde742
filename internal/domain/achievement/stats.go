package achievement

// StatField names a GameStats field a requirement can test.
type StatField string

const (
	StatTotalPoints        StatField = "total_points"
	StatLevel              StatField = "level"
	StatCurrentStreak      StatField = "current_streak"
	StatLongestStreak      StatField = "longest_streak"
	StatAchievementsEarned StatField = "achievements_earned"
	StatLessonsCompleted   StatField = "lessons_completed"
	StatCoursesCompleted   StatField = "courses_completed"
	StatQuizzesPassed      StatField = "quizzes_passed"
	StatPerfectQuizzes     StatField = "perfect_quizzes"
	StatTimeStudiedSeconds StatField = "time_studied_seconds"
)

// IsValid reports whether GameStats has the field.
func (f StatField) IsValid() bool {
	_, ok := GameStats{}.Value(f)
	return ok
}

// GameStats is the read model achievements are evaluated against. It is
// assembled at query time and never stored.
type GameStats struct {
	TotalPoints        int   `json:"total_points"`
	Level              int   `json:"level"`
	CurrentStreak      int   `json:"current_streak"`
	LongestStreak      int   `json:"longest_streak"`
	AchievementsEarned int   `json:"achievements_earned"`
	LessonsCompleted   int   `json:"lessons_completed"`
	CoursesCompleted   int   `json:"courses_completed"`
	QuizzesPassed      int   `json:"quizzes_passed"`
	PerfectQuizzes     int   `json:"perfect_quizzes"`
	TimeStudiedSeconds int64 `json:"time_studied_seconds"`
}

// Value returns the numeric value of a stat field.
func (s GameStats) Value(f StatField) (float64, bool) {
	switch f {
	case StatTotalPoints:
		return float64(s.TotalPoints), true
	case StatLevel:
		return float64(s.Level), true
	case StatCurrentStreak:
		return float64(s.CurrentStreak), true
	case StatLongestStreak:
		return float64(s.LongestStreak), true
	case StatAchievementsEarned:
		return float64(s.AchievementsEarned), true
	case StatLessonsCompleted:
		return float64(s.LessonsCompleted), true
	case StatCoursesCompleted:
		return float64(s.CoursesCompleted), true
	case StatQuizzesPassed:
		return float64(s.QuizzesPassed), true
	case StatPerfectQuizzes:
		return float64(s.PerfectQuizzes), true
	case StatTimeStudiedSeconds:
		return float64(s.TimeStudiedSeconds), true
	default:
		return 0, false
	}
}
