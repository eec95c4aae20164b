// Package shared contains common domain types, errors, and events that are
// used across all domain packages.
package shared

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Each event represents something notification-worthy
// that happened in the gamification core; an external notification
// collaborator subscribes to these and handles delivery.
const (
	// Ledger events
	EventXPEarned EventType = "ledger.xp_earned"
	EventLevelUp  EventType = "ledger.level_up"

	// Badge events
	EventBadgeAwarded EventType = "badge.awarded"

	// Challenge events
	EventChallengeJoined    EventType = "challenge.joined"
	EventChallengeCompleted EventType = "challenge.completed"

	// Leaderboard events
	EventLeaderboardRotated EventType = "leaderboard.rotated"

	// Inbound activity events, published by the learning-session collaborator
	// and consumed by the activity intake.
	EventProblemCompleted EventType = "activity.problem_completed"
	EventTimeSpent        EventType = "activity.time_spent"
	EventStreakUpdated    EventType = "activity.streak_updated"
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

// BaseEvent provides common event functionality. EventID makes deliveries
// deduplicable on the subscriber side.
type BaseEvent struct {
	EventID     string    `json:"event_id"`
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	AggregateId string    `json:"aggregate_id"`
	Version     int       `json:"version"`
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
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		EventID:     uuid.NewString(),
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Reward Events
// ═══════════════════════════════════════════════════════════════════════════

// RewardEvent is the notification-worthy record emitted on every successful
// badge award and challenge completion. The core never delivers notifications
// itself; subscribers do.
type RewardEvent struct {
	BaseEvent
	StudentID   int64  `json:"student_id"`
	Kind        string `json:"kind"` // "badge" or "challenge"
	Title       string `json:"title"`
	Description string `json:"description"`
	XPEarned    int    `json:"xp_earned,omitempty"`
}

// Payload implements Event interface.
func (e RewardEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":  e.StudentID,
		"kind":        e.Kind,
		"title":       e.Title,
		"description": e.Description,
		"xp_earned":   e.XPEarned,
	}
}

// NewBadgeAwardedEvent creates the reward event for a freshly earned badge.
func NewBadgeAwardedEvent(studentID int64, title, description string, xpEarned int) RewardEvent {
	return RewardEvent{
		BaseEvent:   NewBaseEvent(EventBadgeAwarded, strconv.FormatInt(studentID, 10)),
		StudentID:   studentID,
		Kind:        "badge",
		Title:       title,
		Description: description,
		XPEarned:    xpEarned,
	}
}

// NewChallengeCompletedEvent creates the reward event for a completed challenge.
func NewChallengeCompletedEvent(studentID int64, title, description string, xpEarned int) RewardEvent {
	return RewardEvent{
		BaseEvent:   NewBaseEvent(EventChallengeCompleted, strconv.FormatInt(studentID, 10)),
		StudentID:   studentID,
		Kind:        "challenge",
		Title:       title,
		Description: description,
		XPEarned:    xpEarned,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// XPEarnedEvent is emitted for every applied XP credit. Suppressed duplicate
// credits emit nothing.
type XPEarnedEvent struct {
	BaseEvent
	StudentID int64  `json:"student_id"`
	Amount    int    `json:"amount"`
	Source    string `json:"source"`
	TotalXP   int    `json:"total_xp"`
}

// Payload implements Event interface.
func (e XPEarnedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id": e.StudentID,
		"amount":     e.Amount,
		"source":     e.Source,
		"total_xp":   e.TotalXP,
	}
}

// NewXPEarnedEvent creates the event for an applied XP credit.
func NewXPEarnedEvent(studentID int64, amount int, source string, totalXP int) XPEarnedEvent {
	return XPEarnedEvent{
		BaseEvent: NewBaseEvent(EventXPEarned, strconv.FormatInt(studentID, 10)),
		StudentID: studentID,
		Amount:    amount,
		Source:    source,
		TotalXP:   totalXP,
	}
}

// LevelUpEvent is emitted when a credit pushes the account over a level
// threshold.
type LevelUpEvent struct {
	BaseEvent
	StudentID int64 `json:"student_id"`
	NewLevel  int   `json:"new_level"`
	TotalXP   int   `json:"total_xp"`
}

// Payload implements Event interface.
func (e LevelUpEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id": e.StudentID,
		"new_level":  e.NewLevel,
		"total_xp":   e.TotalXP,
	}
}

// NewLevelUpEvent creates the event for a level transition.
func NewLevelUpEvent(studentID int64, newLevel, totalXP int) LevelUpEvent {
	return LevelUpEvent{
		BaseEvent: NewBaseEvent(EventLevelUp, strconv.FormatInt(studentID, 10)),
		StudentID: studentID,
		NewLevel:  newLevel,
		TotalXP:   totalXP,
	}
}

// ChallengeJoinedEvent is emitted when a student enrolls in a challenge.
type ChallengeJoinedEvent struct {
	BaseEvent
	StudentID   int64  `json:"student_id"`
	ChallengeID int64  `json:"challenge_id"`
	Title       string `json:"title"`
}

// Payload implements Event interface.
func (e ChallengeJoinedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":   e.StudentID,
		"challenge_id": e.ChallengeID,
		"title":        e.Title,
	}
}

// NewChallengeJoinedEvent creates the event for a successful join.
func NewChallengeJoinedEvent(studentID, challengeID int64, title string) ChallengeJoinedEvent {
	return ChallengeJoinedEvent{
		BaseEvent:   NewBaseEvent(EventChallengeJoined, strconv.FormatInt(studentID, 10)),
		StudentID:   studentID,
		ChallengeID: challengeID,
		Title:       title,
	}
}

// LeaderboardRotatedEvent is emitted when a new board becomes the current one
// for its scope key.
type LeaderboardRotatedEvent struct {
	BaseEvent
	LeaderboardID int64  `json:"leaderboard_id"`
	BoardType     string `json:"board_type"`
	ScopeKind     string `json:"scope_kind"`
	ScopeID       int64  `json:"scope_id"`
}

// Payload implements Event interface.
func (e LeaderboardRotatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"leaderboard_id": e.LeaderboardID,
		"board_type":     e.BoardType,
		"scope_kind":     e.ScopeKind,
		"scope_id":       e.ScopeID,
	}
}

// NewLeaderboardRotatedEvent creates the event for a board rotation.
func NewLeaderboardRotatedEvent(leaderboardID int64, boardType, scopeKind string, scopeID int64) LeaderboardRotatedEvent {
	return LeaderboardRotatedEvent{
		BaseEvent:     NewBaseEvent(EventLeaderboardRotated, strconv.FormatInt(leaderboardID, 10)),
		LeaderboardID: leaderboardID,
		BoardType:     boardType,
		ScopeKind:     scopeKind,
		ScopeID:       scopeID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Bus Contracts
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler processes a single event.
type EventHandler func(event Event) error

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(event Event) error
}

// EventBus combines publishing with subscription management.
type EventBus interface {
	EventPublisher

	// Subscribe registers a handler for a specific event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// Close shuts the bus down and releases resources.
	Close() error
}

// NopPublisher discards all events. Useful for tests and tools that do not
// care about notifications.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(Event) error { return nil }
