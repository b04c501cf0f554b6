package eventhandler

import (
	"fmt"
	"log/slog"

	"github.com/Xeideverme/galpao/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON ACHIEVEMENT UNLOCKED / LEVEL UP HANDLER
// Members poll their pending notifications; this handler only records the
// announcement so operators can follow unlocks in the logs.
// ═══════════════════════════════════════════════════════════════════════════

// OnAchievementUnlockedHandler logs unlock and level-up announcements.
type OnAchievementUnlockedHandler struct {
	logger *slog.Logger
}

// NewOnAchievementUnlockedHandler creates the handler.
func NewOnAchievementUnlockedHandler(logger *slog.Logger) *OnAchievementUnlockedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnAchievementUnlockedHandler{logger: logger.With("handler", "on_achievement_unlocked")}
}

// EventTypes lists the events this handler subscribes to.
func (h *OnAchievementUnlockedHandler) EventTypes() []shared.EventType {
	return []shared.EventType{shared.EventAchievementUnlocked, shared.EventLevelUp}
}

// Handle implements shared.EventHandler. It reads the payload rather than
// asserting concrete types so events relayed from other instances work too.
func (h *OnAchievementUnlockedHandler) Handle(event shared.Event) error {
	p := event.Payload()

	switch event.EventType() {
	case shared.EventAchievementUnlocked:
		h.logger.Info("achievement unlocked",
			"member_id", event.AggregateID(),
			"achievement_id", p["achievement_id"],
			"name", p["name"],
			"rarity", p["rarity"],
			"message", Announcement(fmt.Sprint(p["name"]), fmt.Sprint(p["rarity"])),
		)
	case shared.EventLevelUp:
		h.logger.Info("level up",
			"member_id", event.AggregateID(),
			"old_level", p["old_level"],
			"new_level", p["new_level"],
		)
	}
	return nil
}

// Announcement renders the member-facing unlock message.
func Announcement(name, rarity string) string {
	switch rarity {
	case "legendary", "epic":
		return fmt.Sprintf("Incrível! Você desbloqueou a conquista %s (%s)!", name, rarity)
	default:
		return fmt.Sprintf("Parabéns! Nova conquista: %s", name)
	}
}

// Subscriber is a handler that knows which events it wants.
type Subscriber interface {
	EventTypes() []shared.EventType
	Handle(shared.Event) error
}

// Register subscribes the handlers to the bus.
func Register(bus shared.EventSubscriber, handlers ...Subscriber) error {
	for _, h := range handlers {
		for _, t := range h.EventTypes() {
			if err := bus.Subscribe(t, h.Handle); err != nil {
				return fmt.Errorf("subscribe %s: %w", t, err)
			}
		}
	}
	return nil
}
