// Package leaderboard ranks learners by points for a period.
package leaderboard

import (
	"sort"
	"time"

	"github.com/alem-hub/learning-progress/internal/domain/shared"
	"github.com/alem-hub/learning-progress/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// PERIOD
// ══════════════════════════════════════════════════════════════════════════════

// Period selects which points count toward a leaderboard.
type Period string

const (
	PeriodAllTime Period = "all_time"
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// ParsePeriod validates a period string. Empty means all time.
func ParsePeriod(s string) (Period, error) {
	switch p := Period(s); p {
	case "":
		return PeriodAllTime, nil
	case PeriodAllTime, PeriodDaily, PeriodWeekly, PeriodMonthly:
		return p, nil
	default:
		return "", shared.ErrInvalidPeriod
	}
}

// String returns the string representation.
func (p Period) String() string {
	return string(p)
}

// IsWindowed reports whether totals come from ledger rows in a window rather
// than the denormalized all-time total.
func (p Period) IsWindowed() bool {
	return p != PeriodAllTime
}

// Window returns the [from, to) range of the period containing now. The
// all-time period has no window and returns false.
func (p Period) Window(cal timeutil.Calendar, now time.Time) (shared.TimeRange, bool) {
	var from, to time.Time
	switch p {
	case PeriodDaily:
		from = cal.StartOfDay(now)
		to = cal.Today(now).AddDays(1).In(cal.Location())
	case PeriodWeekly:
		from = cal.StartOfWeek(now)
		to = timeutil.DateOf(from).AddDays(7).In(cal.Location())
	case PeriodMonthly:
		from = cal.StartOfMonth(now)
		to = from.AddDate(0, 1, 0)
	default:
		return shared.TimeRange{}, false
	}
	return shared.TimeRange{From: from, To: to}, true
}

// ══════════════════════════════════════════════════════════════════════════════
// STANDING & ENTRY
// ══════════════════════════════════════════════════════════════════════════════

// Standing is one learner's unranked score for a period.
type Standing struct {
	UserID      shared.UserID `json:"user_id"`
	DisplayName string        `json:"display_name"`
	Points      int           `json:"points"`
	JoinedAt    time.Time     `json:"joined_at"`
}

// Entry is a ranked standing.
type Entry struct {
	Rank        int           `json:"rank"`
	UserID      shared.UserID `json:"user_id"`
	DisplayName string        `json:"display_name"`
	Points      int           `json:"points"`
	Level       int           `json:"level"`
	LevelTitle  string        `json:"level_title"`
	JoinedAt    time.Time     `json:"-"`
}

// Leaderboard is the response of a build.
type Leaderboard struct {
	Period      Period    `json:"period"`
	Entries     []Entry   `json:"entries"`
	UserRank    *Entry    `json:"user_rank,omitempty"`
	TotalUsers  int       `json:"total_users"`
	GeneratedAt time.Time `json:"generated_at"`
}

// ══════════════════════════════════════════════════════════════════════════════
// RANKING
// ══════════════════════════════════════════════════════════════════════════════

// Ranking is the fully ordered list of entries for one period.
type Ranking struct {
	entries []Entry
	byID    map[shared.UserID]int
}

// Less orders standings by points descending, then earliest JoinedAt, then
// user ID, so equal scores always rank the same way.
func Less(a, b Standing) bool {
	if a.Points != b.Points {
		return a.Points > b.Points
	}
	if !a.JoinedAt.Equal(b.JoinedAt) {
		return a.JoinedAt.Before(b.JoinedAt)
	}
	return a.UserID < b.UserID
}

// Rank orders standings and assigns 1-based positions. Every position is
// distinct: ties are split by the secondary keys of Less. The levelOf
// callback decorates entries and may be nil.
func Rank(standings []Standing, levelOf func(points int) (int, string)) *Ranking {
	sorted := append([]Standing(nil), standings...)
	sort.SliceStable(sorted, func(i, j int) bool { return Less(sorted[i], sorted[j]) })

	r := &Ranking{
		entries: make([]Entry, len(sorted)),
		byID:    make(map[shared.UserID]int, len(sorted)),
	}
	for i, s := range sorted {
		e := Entry{
			Rank:        i + 1,
			UserID:      s.UserID,
			DisplayName: s.DisplayName,
			Points:      s.Points,
			JoinedAt:    s.JoinedAt,
		}
		if levelOf != nil {
			e.Level, e.LevelTitle = levelOf(s.Points)
		}
		r.entries[i] = e
		r.byID[s.UserID] = i
	}
	return r
}

// Count returns the number of ranked learners.
func (r *Ranking) Count() int {
	return len(r.entries)
}

// Top returns the first n entries.
func (r *Ranking) Top(n int) []Entry {
	if n <= 0 {
		return []Entry{}
	}
	if n > len(r.entries) {
		n = len(r.entries)
	}
	out := make([]Entry, n)
	copy(out, r.entries[:n])
	return out
}

// Find returns the entry of a learner.
func (r *Ranking) Find(userID shared.UserID) (Entry, bool) {
	i, ok := r.byID[userID]
	if !ok {
		return Entry{}, false
	}
	return r.entries[i], true
}

// Neighbors returns up to rangeSize entries on each side of the learner,
// including the learner.
func (r *Ranking) Neighbors(userID shared.UserID, rangeSize int) []Entry {
	idx, ok := r.byID[userID]
	if !ok {
		return nil
	}
	from := max(idx-rangeSize, 0)
	to := min(idx+rangeSize+1, len(r.entries))
	out := make([]Entry, to-from)
	copy(out, r.entries[from:to])
	return out
}

// Build produces a leaderboard from a ranking: the top limit entries and the
// requester's own entry when ranked.
func Build(period Period, r *Ranking, limit int, requester shared.UserID, generatedAt time.Time) Leaderboard {
	lb := Leaderboard{
		Period:      period,
		Entries:     r.Top(limit),
		TotalUsers:  r.Count(),
		GeneratedAt: generatedAt,
	}
	if !requester.IsEmpty() {
		if e, ok := r.Find(requester); ok {
			lb.UserRank = &e
		}
	}
	return lb
}
