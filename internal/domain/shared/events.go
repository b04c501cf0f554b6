package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types emitted by the gamification engine.
const (
	// Progress events
	EventPointsAwarded EventType = "progress.points_awarded"
	EventLevelUp       EventType = "progress.level_up"
	EventStreakUpdated EventType = "progress.streak_updated"

	// Achievement events
	EventAchievementUnlocked EventType = "achievement.unlocked"
	EventCatalogChanged      EventType = "achievement.catalog_changed"
)

// Event is the base interface for all domain events.
type Event interface {
	EventType() EventType
	OccurredAt() time.Time
	// AggregateID is the member id for progress events and the
	// achievement id for catalog events.
	AggregateID() string
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

func (e BaseEvent) EventType() EventType  { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }
func (e BaseEvent) AggregateID() string   { return e.AggregateId }

// NewBaseEvent creates a new base event stamped at the given time.
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at.UTC(),
		AggregateId: aggregateID,
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

// PointsAwardedEvent is emitted after a base reward lands on the ledger.
type PointsAwardedEvent struct {
	BaseEvent
	Points int    `json:"points"`
	XP     int    `json:"xp"`
	Reason string `json:"reason"`
}

func (e PointsAwardedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"points": e.Points,
		"xp":     e.XP,
		"reason": e.Reason,
	}
}

func NewPointsAwardedEvent(memberID string, points, xp int, reason string, at time.Time) PointsAwardedEvent {
	return PointsAwardedEvent{
		BaseEvent: NewBaseEvent(EventPointsAwarded, memberID, at),
		Points:    points,
		XP:        xp,
		Reason:    reason,
	}
}

// LevelUpEvent is emitted when a member's level rises.
type LevelUpEvent struct {
	BaseEvent
	OldLevel int `json:"old_level"`
	NewLevel int `json:"new_level"`
}

func (e LevelUpEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"old_level": e.OldLevel,
		"new_level": e.NewLevel,
	}
}

func NewLevelUpEvent(memberID string, oldLevel, newLevel int, at time.Time) LevelUpEvent {
	return LevelUpEvent{
		BaseEvent: NewBaseEvent(EventLevelUp, memberID, at),
		OldLevel:  oldLevel,
		NewLevel:  newLevel,
	}
}

// StreakUpdatedEvent is emitted after a check-in moved the streak.
type StreakUpdatedEvent struct {
	BaseEvent
	Current int  `json:"current"`
	Record  int  `json:"record"`
	Reset   bool `json:"reset"`
}

func (e StreakUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"current": e.Current,
		"record":  e.Record,
		"reset":   e.Reset,
	}
}

func NewStreakUpdatedEvent(memberID string, current, record int, reset bool, at time.Time) StreakUpdatedEvent {
	return StreakUpdatedEvent{
		BaseEvent: NewBaseEvent(EventStreakUpdated, memberID, at),
		Current:   current,
		Record:    record,
		Reset:     reset,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Achievement Events
// ═══════════════════════════════════════════════════════════════════════════

// AchievementUnlockedEvent is emitted once per (member, achievement) pair.
type AchievementUnlockedEvent struct {
	BaseEvent
	AchievementID string `json:"achievement_id"`
	Name          string `json:"name"`
	Rarity        string `json:"rarity"`
	Points        int    `json:"points"`
	XP            int    `json:"xp"`
}

func (e AchievementUnlockedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"achievement_id": e.AchievementID,
		"name":           e.Name,
		"rarity":         e.Rarity,
		"points":         e.Points,
		"xp":             e.XP,
	}
}

func NewAchievementUnlockedEvent(memberID, achievementID, name, rarity string, points, xp int, at time.Time) AchievementUnlockedEvent {
	return AchievementUnlockedEvent{
		BaseEvent:     NewBaseEvent(EventAchievementUnlocked, memberID, at),
		AchievementID: achievementID,
		Name:          name,
		Rarity:        rarity,
		Points:        points,
		XP:            xp,
	}
}

// CatalogChangedEvent is emitted on every administrative catalog edit.
type CatalogChangedEvent struct {
	BaseEvent
	Version int    `json:"version"`
	Change  string `json:"change"` // created, updated, deactivated
}

func (e CatalogChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"version": e.Version,
		"change":  e.Change,
	}
}

func NewCatalogChangedEvent(achievementID string, version int, change string, at time.Time) CatalogChangedEvent {
	return CatalogChangedEvent{
		BaseEvent: NewBaseEvent(EventCatalogChanged, achievementID, at),
		Version:   version,
		Change:    change,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Bus contracts
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) error { return nil }
