package progress

import (
	"math"

	"github.com/alem-hub/learning-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LESSON KIND (tagged variant)
// ══════════════════════════════════════════════════════════════════════════════

// Kind tags what sort of lesson a progress row belongs to. Each kind owns one
// part of Payload and exactly one completion function.
type Kind string

const (
	KindVideo       Kind = "video"
	KindQuiz        Kind = "quiz"
	KindReading     Kind = "reading"
	KindInteractive Kind = "interactive"
)

// IsValid checks that the kind has a completion function.
func (k Kind) IsValid() bool {
	_, ok := completionRules[k]
	return ok
}

// String returns the string representation.
func (k Kind) String() string {
	return string(k)
}

const (
	// VideoCompletionRatio is the watched share at which a video counts as done.
	VideoCompletionRatio = 0.9

	// DefaultQuizPassRatio applies when a quiz payload omits its own ratio.
	DefaultQuizPassRatio = 0.7
)

// ──────────────────────────────────────────────────────────────────────────────
// Payload
// ──────────────────────────────────────────────────────────────────────────────

// Payload carries kind-specific state. Only the part matching the row's Kind
// may be set.
type Payload struct {
	Video       *VideoPayload       `json:"video,omitempty"`
	Quiz        *QuizPayload        `json:"quiz,omitempty"`
	Reading     *ReadingPayload     `json:"reading,omitempty"`
	Interactive *InteractivePayload `json:"interactive,omitempty"`
}

// VideoPayload tracks playback.
type VideoPayload struct {
	WatchedSeconds  int64 `json:"watched_seconds"`
	DurationSeconds int64 `json:"duration_seconds"`
	PositionSeconds int64 `json:"position_seconds"`
}

// QuizPayload tracks submissions. Score/MaxScore describe the latest attempt;
// BestScore, Passed and Perfect are sticky across attempts.
type QuizPayload struct {
	Score        int     `json:"score"`
	MaxScore     int     `json:"max_score"`
	PassingRatio float64 `json:"passing_ratio,omitempty"`
	Attempts     int     `json:"attempts"`
	BestScore    int     `json:"best_score"`
	Passed       bool    `json:"passed"`
	Perfect      bool    `json:"perfect"`
}

// ReadingPayload tracks how far the learner scrolled.
type ReadingPayload struct {
	ScrollPercent float64 `json:"scroll_percent"`
}

// InteractivePayload tracks completed steps of an exercise.
type InteractivePayload struct {
	StepsCompleted int `json:"steps_completed"`
	TotalSteps     int `json:"total_steps"`
}

// IsEmpty reports whether no part is set.
func (p Payload) IsEmpty() bool {
	return p.Video == nil && p.Quiz == nil && p.Reading == nil && p.Interactive == nil
}

// Validate checks that only the part belonging to kind is present and that
// its numbers are sane.
func (p Payload) Validate(kind Kind) error {
	set := map[Kind]bool{
		KindVideo:       p.Video != nil,
		KindQuiz:        p.Quiz != nil,
		KindReading:     p.Reading != nil,
		KindInteractive: p.Interactive != nil,
	}
	for k, present := range set {
		if present && k != kind {
			return shared.NewDomainError("progress", "ValidatePayload", shared.ErrInvalidInput,
				"payload part "+string(k)+" does not match lesson kind "+string(kind))
		}
	}

	switch {
	case p.Video != nil:
		if p.Video.WatchedSeconds < 0 || p.Video.DurationSeconds < 0 || p.Video.PositionSeconds < 0 {
			return shared.NewDomainError("progress", "ValidatePayload", shared.ErrNegativeValue, "video seconds cannot be negative")
		}
	case p.Quiz != nil:
		if p.Quiz.MaxScore <= 0 || p.Quiz.Score < 0 || p.Quiz.Score > p.Quiz.MaxScore {
			return shared.NewDomainError("progress", "ValidatePayload", shared.ErrValueOutOfRange, "quiz score must be within [0, max_score]")
		}
		if p.Quiz.PassingRatio < 0 || p.Quiz.PassingRatio > 1 {
			return shared.NewDomainError("progress", "ValidatePayload", shared.ErrValueOutOfRange, "passing ratio must be within [0, 1]")
		}
	case p.Interactive != nil:
		if p.Interactive.StepsCompleted < 0 || p.Interactive.TotalSteps < 0 {
			return shared.NewDomainError("progress", "ValidatePayload", shared.ErrNegativeValue, "steps cannot be negative")
		}
	}
	return nil
}

// merge folds an incoming payload into the stored one. Watched seconds and
// best scores never shrink; attempts accumulate.
func (p Payload) merge(in Payload) Payload {
	out := p
	if in.Video != nil {
		v := *in.Video
		if p.Video != nil && p.Video.WatchedSeconds > v.WatchedSeconds {
			v.WatchedSeconds = p.Video.WatchedSeconds
		}
		if v.DurationSeconds == 0 && p.Video != nil {
			v.DurationSeconds = p.Video.DurationSeconds
		}
		out.Video = &v
	}
	if in.Quiz != nil {
		q := *in.Quiz
		prev := QuizPayload{}
		if p.Quiz != nil {
			prev = *p.Quiz
		}
		q.Attempts = prev.Attempts + 1
		q.BestScore = max(prev.BestScore, q.Score)
		q.Passed = prev.Passed || quizPassed(q.Score, q.MaxScore, q.PassingRatio)
		q.Perfect = prev.Perfect || (q.MaxScore > 0 && q.Score == q.MaxScore)
		out.Quiz = &q
	}
	if in.Reading != nil {
		r := *in.Reading
		if p.Reading != nil && p.Reading.ScrollPercent > r.ScrollPercent {
			r.ScrollPercent = p.Reading.ScrollPercent
		}
		out.Reading = &r
	}
	if in.Interactive != nil {
		it := *in.Interactive
		if p.Interactive != nil && p.Interactive.StepsCompleted > it.StepsCompleted {
			it.StepsCompleted = p.Interactive.StepsCompleted
		}
		out.Interactive = &it
	}
	return out
}

func quizPassed(score, maxScore int, ratio float64) bool {
	if maxScore <= 0 {
		return false
	}
	if ratio == 0 {
		ratio = DefaultQuizPassRatio
	}
	return float64(score)/float64(maxScore) >= ratio
}

// ──────────────────────────────────────────────────────────────────────────────
// Completion detection
// ──────────────────────────────────────────────────────────────────────────────

// completionFunc maps the reported percent and the merged payload to the
// effective percent for one kind.
type completionFunc func(reported float64, p Payload) float64

var completionRules = map[Kind]completionFunc{
	KindVideo:       videoCompletion,
	KindQuiz:        quizCompletion,
	KindReading:     readingCompletion,
	KindInteractive: interactiveCompletion,
}

// EffectivePercent runs the completion function of kind. The result is
// clamped to [0, 100].
func EffectivePercent(kind Kind, reported float64, p Payload) (float64, error) {
	rule, ok := completionRules[kind]
	if !ok {
		return 0, shared.NewDomainError("progress", "EffectivePercent", shared.ErrInvalidInput, "unknown lesson kind "+string(kind))
	}
	return ClampPercent(rule(ClampPercent(reported), p)), nil
}

func videoCompletion(reported float64, p Payload) float64 {
	if p.Video == nil || p.Video.DurationSeconds <= 0 {
		return reported
	}
	ratio := float64(p.Video.WatchedSeconds) / float64(p.Video.DurationSeconds)
	if ratio >= VideoCompletionRatio {
		return 100
	}
	return math.Max(reported, ratio*100)
}

func quizCompletion(reported float64, p Payload) float64 {
	if p.Quiz != nil && p.Quiz.Passed {
		return 100
	}
	return reported
}

func readingCompletion(reported float64, p Payload) float64 {
	if p.Reading == nil {
		return reported
	}
	return math.Max(reported, p.Reading.ScrollPercent)
}

func interactiveCompletion(reported float64, p Payload) float64 {
	if p.Interactive == nil || p.Interactive.TotalSteps <= 0 {
		return reported
	}
	return math.Max(reported, 100*float64(p.Interactive.StepsCompleted)/float64(p.Interactive.TotalSteps))
}

// ClampPercent bounds a percent to [0, 100]. NaN counts as 0.
func ClampPercent(p float64) float64 {
	switch {
	case math.IsNaN(p) || p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
