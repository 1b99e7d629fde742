// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Each event represents something significant that
// happened to a learner's progress.
const (
	// Progress events
	EventLessonCompleted EventType = "progress.lesson_completed"
	EventCourseCompleted EventType = "progress.course_completed"

	// Streak events
	EventStreakExtended EventType = "streak.extended"
	EventStreakReset    EventType = "streak.reset"

	// Points events
	EventPointsAwarded EventType = "points.awarded"
	EventLevelUp       EventType = "points.level_up"

	// Achievement events
	EventAchievementUnlocked EventType = "achievement.unlocked"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// LessonCompletedEvent is emitted the first time a lesson reaches 100%.
type LessonCompletedEvent struct {
	BaseEvent
	UserID   string `json:"user_id"`
	LessonID string `json:"lesson_id"`
	CourseID string `json:"course_id"`
	Kind     string `json:"kind"`
}

// Payload implements Event interface.
func (e LessonCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   e.UserID,
		"lesson_id": e.LessonID,
		"course_id": e.CourseID,
		"kind":      e.Kind,
	}
}

// NewLessonCompletedEvent creates a new LessonCompletedEvent.
func NewLessonCompletedEvent(userID, lessonID, courseID, kind string, at time.Time) LessonCompletedEvent {
	return LessonCompletedEvent{
		BaseEvent: NewBaseEvent(EventLessonCompleted, userID, at),
		UserID:    userID,
		LessonID:  lessonID,
		CourseID:  courseID,
		Kind:      kind,
	}
}

// CourseCompletedEvent is emitted when a course rollup first reaches 100%.
type CourseCompletedEvent struct {
	BaseEvent
	UserID       string `json:"user_id"`
	CourseID     string `json:"course_id"`
	TotalLessons int    `json:"total_lessons"`
	TimeSpent    int64  `json:"time_spent_seconds"`
}

// Payload implements Event interface.
func (e CourseCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":            e.UserID,
		"course_id":          e.CourseID,
		"total_lessons":      e.TotalLessons,
		"time_spent_seconds": e.TimeSpent,
	}
}

// NewCourseCompletedEvent creates a new CourseCompletedEvent.
func NewCourseCompletedEvent(userID, courseID string, totalLessons int, timeSpent int64, at time.Time) CourseCompletedEvent {
	return CourseCompletedEvent{
		BaseEvent:    NewBaseEvent(EventCourseCompleted, userID, at),
		UserID:       userID,
		CourseID:     courseID,
		TotalLessons: totalLessons,
		TimeSpent:    timeSpent,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Streak Events
// ═══════════════════════════════════════════════════════════════════════════

// StreakChangedEvent is emitted when a streak is extended or restarted.
type StreakChangedEvent struct {
	BaseEvent
	UserID        string `json:"user_id"`
	CurrentStreak int    `json:"current_streak"`
	LongestStreak int    `json:"longest_streak"`
	PreviousDays  int    `json:"previous_days"`
}

// Payload implements Event interface.
func (e StreakChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":        e.UserID,
		"current_streak": e.CurrentStreak,
		"longest_streak": e.LongestStreak,
		"previous_days":  e.PreviousDays,
	}
}

// NewStreakChangedEvent creates a StreakChangedEvent. A current streak of 1
// after a longer one is reported as a reset.
func NewStreakChangedEvent(userID string, previous, current, longest int, at time.Time) StreakChangedEvent {
	eventType := EventStreakExtended
	if current == 1 && previous > 0 {
		eventType = EventStreakReset
	}
	return StreakChangedEvent{
		BaseEvent:     NewBaseEvent(eventType, userID, at),
		UserID:        userID,
		CurrentStreak: current,
		LongestStreak: longest,
		PreviousDays:  previous,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Points Events
// ═══════════════════════════════════════════════════════════════════════════

// PointsAwardedEvent is emitted after a ledger transaction is committed.
type PointsAwardedEvent struct {
	BaseEvent
	UserID        string `json:"user_id"`
	TransactionID string `json:"transaction_id"`
	Points        int    `json:"points"`
	Reason        string `json:"reason"`
	NewTotal      int    `json:"new_total"`
}

// Payload implements Event interface.
func (e PointsAwardedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":        e.UserID,
		"transaction_id": e.TransactionID,
		"points":         e.Points,
		"reason":         e.Reason,
		"new_total":      e.NewTotal,
	}
}

// NewPointsAwardedEvent creates a new PointsAwardedEvent.
func NewPointsAwardedEvent(userID, transactionID string, points int, reason string, newTotal int, at time.Time) PointsAwardedEvent {
	return PointsAwardedEvent{
		BaseEvent:     NewBaseEvent(EventPointsAwarded, userID, at),
		UserID:        userID,
		TransactionID: transactionID,
		Points:        points,
		Reason:        reason,
		NewTotal:      newTotal,
	}
}

// LevelUpEvent is emitted when an award moves a learner into a higher level.
type LevelUpEvent struct {
	BaseEvent
	UserID   string `json:"user_id"`
	OldLevel int    `json:"old_level"`
	NewLevel int    `json:"new_level"`
	Title    string `json:"title"`
}

// Payload implements Event interface.
func (e LevelUpEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   e.UserID,
		"old_level": e.OldLevel,
		"new_level": e.NewLevel,
		"title":     e.Title,
	}
}

// NewLevelUpEvent creates a new LevelUpEvent.
func NewLevelUpEvent(userID string, oldLevel, newLevel int, title string, at time.Time) LevelUpEvent {
	return LevelUpEvent{
		BaseEvent: NewBaseEvent(EventLevelUp, userID, at),
		UserID:    userID,
		OldLevel:  oldLevel,
		NewLevel:  newLevel,
		Title:     title,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Achievement Events
// ═══════════════════════════════════════════════════════════════════════════

// AchievementUnlockedEvent is emitted when a user achievement row is written.
type AchievementUnlockedEvent struct {
	BaseEvent
	UserID          string `json:"user_id"`
	AchievementType string `json:"achievement_type"`
	Title           string `json:"title"`
	Points          int    `json:"points"`
	Rarity          string `json:"rarity"`
}

// Payload implements Event interface.
func (e AchievementUnlockedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":          e.UserID,
		"achievement_type": e.AchievementType,
		"title":            e.Title,
		"points":           e.Points,
		"rarity":           e.Rarity,
	}
}

// NewAchievementUnlockedEvent creates a new AchievementUnlockedEvent.
func NewAchievementUnlockedEvent(userID, achievementType, title string, points int, rarity string, at time.Time) AchievementUnlockedEvent {
	return AchievementUnlockedEvent{
		BaseEvent:       NewBaseEvent(EventAchievementUnlocked, userID, at),
		UserID:          userID,
		AchievementType: achievementType,
		Title:           title,
		Points:          points,
		Rarity:          rarity,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Bus contracts
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NoopPublisher drops every event. Used where no bus is wired.
type NoopPublisher struct{}

// Publish implements EventPublisher.
func (NoopPublisher) Publish(Event) error { return nil }
