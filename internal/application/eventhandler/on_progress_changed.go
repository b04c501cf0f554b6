// Package eventhandler contains domain event subscribers. They react to
// ledger changes with side effects that never affect the ledger itself:
// cache invalidation and notification logging.
package eventhandler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Xeideverme/galpao/internal/domain/leaderboard"
	"github.com/Xeideverme/galpao/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON PROGRESS CHANGED HANDLER
// Any change to points invalidates the cached rankings. Invalidation is
// throttled so a burst of check-ins costs one wipe at its start and one at
// the end of the window.
// ═══════════════════════════════════════════════════════════════════════════

// ProgressChangedConfig configures OnProgressChangedHandler.
type ProgressChangedConfig struct {
	// MinInterval is the minimum time between two invalidations.
	MinInterval time.Duration
	Timeout     time.Duration
}

// DefaultProgressChangedConfig returns the default configuration.
func DefaultProgressChangedConfig() ProgressChangedConfig {
	return ProgressChangedConfig{
		MinInterval: 2 * time.Second,
		Timeout:     3 * time.Second,
	}
}

// OnProgressChangedHandler invalidates the leaderboard cache.
type OnProgressChangedHandler struct {
	cache  leaderboard.Cache
	config ProgressChangedConfig
	now    shared.Clock
	logger *slog.Logger

	mu       sync.Mutex
	last     time.Time
	trailing *time.Timer
	stopped  bool
}

// NewOnProgressChangedHandler creates the handler.
func NewOnProgressChangedHandler(cache leaderboard.Cache, config ProgressChangedConfig, clock shared.Clock, logger *slog.Logger) *OnProgressChangedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = shared.SystemClock
	}
	return &OnProgressChangedHandler{
		cache:  cache,
		config: config,
		now:    clock,
		logger: logger.With("handler", "on_progress_changed"),
	}
}

// EventTypes lists the events this handler subscribes to.
func (h *OnProgressChangedHandler) EventTypes() []shared.EventType {
	return []shared.EventType{shared.EventPointsAwarded, shared.EventAchievementUnlocked}
}

// Handle implements shared.EventHandler.
func (h *OnProgressChangedHandler) Handle(event shared.Event) error {
	if h.cache == nil {
		return nil
	}
	if !h.due() {
		return nil
	}

	if err := h.invalidate(); err != nil {
		h.logger.Warn("failed to invalidate leaderboard cache",
			"event_type", event.EventType(),
			"member_id", event.AggregateID(),
			"error", err,
		)
		h.reset()
		return err
	}
	h.logger.Debug("leaderboard cache invalidated", "event_type", event.EventType())
	return nil
}

// Stop cancels a pending trailing invalidation.
func (h *OnProgressChangedHandler) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	if h.trailing != nil {
		h.trailing.Stop()
		h.trailing = nil
	}
}

func (h *OnProgressChangedHandler) invalidate() error {
	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()
	return h.cache.Invalidate(ctx)
}

// due reports whether the event should invalidate now. A suppressed event
// arms one trailing invalidation at the end of the window; an invalidation
// that runs first disarms it.
func (h *OnProgressChangedHandler) due() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	if elapsed := now.Sub(h.last); !h.last.IsZero() && elapsed < h.config.MinInterval {
		if h.trailing == nil && !h.stopped {
			h.trailing = time.AfterFunc(h.config.MinInterval-elapsed, h.flush)
		}
		return false
	}
	h.last = now
	if h.trailing != nil {
		h.trailing.Stop()
		h.trailing = nil
	}
	return true
}

// flush is the trailing invalidation for events suppressed inside a window.
func (h *OnProgressChangedHandler) flush() {
	h.mu.Lock()
	if h.trailing == nil {
		h.mu.Unlock()
		return
	}
	h.trailing = nil
	h.last = h.now()
	h.mu.Unlock()

	if err := h.invalidate(); err != nil {
		h.logger.Warn("failed trailing leaderboard cache invalidation", "error", err)
		h.reset()
		return
	}
	h.logger.Debug("leaderboard cache invalidated at end of window")
}

// reset lets the next event retry a failed invalidation.
func (h *OnProgressChangedHandler) reset() {
	h.mu.Lock()
	h.last = time.Time{}
	h.mu.Unlock()
}
