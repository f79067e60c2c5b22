// Package decay runs one adaptive timer per actively listened channel. The
// check interval doubles under inactivity up to a cap; after a threshold of
// consecutive checks at the cap with no activity, listening deactivates and
// a one-time notice is emitted.
package decay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"vigil/internal/bus"
	"vigil/internal/domain"
	"vigil/internal/metrics"
)

const (
	defaultInitialInterval = 10 * time.Second
	defaultMaxInterval     = 120 * time.Second
	defaultThreshold       = 3
	defaultCancelWait      = 2 * time.Second
)

// Config tunes the decay state machine.
type Config struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Threshold       int           // consecutive max-interval checks before deactivation
	CancelWait      time.Duration // bounded wait for an old task to acknowledge cancellation
}

func (c Config) withDefaults() Config {
	if c.InitialInterval <= 0 {
		c.InitialInterval = defaultInitialInterval
	}
	if c.MaxInterval < c.InitialInterval {
		c.MaxInterval = defaultMaxInterval
	}
	if c.Threshold <= 0 {
		c.Threshold = defaultThreshold
	}
	if c.CancelWait <= 0 {
		c.CancelWait = defaultCancelWait
	}
	return c
}

// Notice is called exactly once when a channel falls silent, so the caller
// can deliver the user-visible goodbye.
type Notice func(key domain.ChannelKey)

// task is the per-channel state machine.
type task struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu           sync.Mutex
	interval     time.Duration
	lastActivity time.Time
	maxStreak    int // consecutive no-activity checks at max interval
}

func (t *task) touch(now time.Time, initial time.Duration) {
	t.mu.Lock()
	t.lastActivity = now
	t.interval = initial
	t.maxStreak = 0
	t.mu.Unlock()
}

// Manager owns all decay tasks. Conversational memory lives in the world
// state and survives deactivation, so a fresh activation picks up where the
// channel left off.
type Manager struct {
	cfg    Config
	events *bus.EventBus
	notice Notice
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	tasks map[domain.ChannelKey]*task
}

// NewManager creates a decay manager. events and notice may be nil.
func NewManager(cfg Config, events *bus.EventBus, notice Notice, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:    cfg.withDefaults(),
		events: events,
		notice: notice,
		logger: logger,
		now:    time.Now,
		tasks:  make(map[domain.ChannelKey]*task),
	}
}

// Activate starts active listening on a channel. Re-activating a channel
// that is already active cancels the old task and waits (bounded) for its
// acknowledgement before the replacement starts, so two timers never race
// on the same channel.
func (m *Manager) Activate(ctx context.Context, key domain.ChannelKey) {
	m.mu.Lock()
	old := m.tasks[key]
	delete(m.tasks, key)

	taskCtx, cancel := context.WithCancel(ctx)
	t := &task{
		cancel:       cancel,
		done:         make(chan struct{}),
		interval:     m.cfg.InitialInterval,
		lastActivity: m.now(),
	}
	m.tasks[key] = t
	m.mu.Unlock()

	if old != nil {
		old.cancel()
		if !m.awaitDone(old) {
			m.logger.Warn("previous decay task did not acknowledge cancellation", "channel", key.String())
		}
	}

	m.logger.Info("channel listening activated",
		"channel", key.String(),
		"interval", m.cfg.InitialInterval,
	)
	if m.events != nil {
		m.events.Emit(bus.Event{
			Type:    bus.EventChannelActivated,
			Source:  "decay",
			Payload: map[string]any{"channel": key.String()},
		})
	}

	go m.run(taskCtx, key, t)
}

// Touch records observed activity: the interval snaps back to its initial
// value and the no-activity counter resets, wherever the backoff currently
// is. No-op for channels that are not actively listened.
func (m *Manager) Touch(key domain.ChannelKey) {
	m.mu.Lock()
	t := m.tasks[key]
	m.mu.Unlock()

	if t != nil {
		t.touch(m.now(), m.cfg.InitialInterval)
	}
}

// IsActive reports whether a channel is currently actively listened.
func (m *Manager) IsActive(key domain.ChannelKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tasks[key]
	return ok
}

// Active returns the actively listened channels.
func (m *Manager) Active() []domain.ChannelKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]domain.ChannelKey, 0, len(m.tasks))
	for k := range m.tasks {
		keys = append(keys, k)
	}
	return keys
}

// Deactivate stops listening on a channel without emitting the silence
// notice. Waits (bounded) for the task to acknowledge.
func (m *Manager) Deactivate(key domain.ChannelKey) {
	m.mu.Lock()
	t := m.tasks[key]
	delete(m.tasks, key)
	m.mu.Unlock()

	if t == nil {
		return
	}
	t.cancel()
	if !m.awaitDone(t) {
		m.logger.Warn("decay task did not acknowledge cancellation", "channel", key.String())
	}
}

// Shutdown cancels every task and waits a bounded time for each
// acknowledgement. Laggards are logged, never blocked on indefinitely.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	tasks := make(map[domain.ChannelKey]*task, len(m.tasks))
	for k, t := range m.tasks {
		tasks[k] = t
	}
	m.tasks = make(map[domain.ChannelKey]*task)
	m.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
	}
	for key, t := range tasks {
		if !m.awaitDone(t) {
			m.logger.Warn("decay task did not stop before shutdown timeout", "channel", key.String())
		}
	}
	m.logger.Info("decay manager stopped", "tasks", len(tasks))
}

func (m *Manager) awaitDone(t *task) bool {
	timer := time.NewTimer(m.cfg.CancelWait)
	defer timer.Stop()
	select {
	case <-t.done:
		return true
	case <-timer.C:
		return false
	}
}

// run is the periodic check loop for one activation episode.
func (m *Manager) run(ctx context.Context, key domain.ChannelKey, t *task) {
	defer close(t.done)

	for {
		t.mu.Lock()
		interval := t.interval
		t.mu.Unlock()

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		now := m.now()
		t.mu.Lock()
		if now.Sub(t.lastActivity) < t.interval {
			// Activity happened inside the window; Touch already reset us.
			t.mu.Unlock()
			continue
		}
		if t.interval >= m.cfg.MaxInterval {
			t.maxStreak++
			if t.maxStreak >= m.cfg.Threshold {
				t.mu.Unlock()
				m.fallSilent(key, t)
				return
			}
		} else {
			t.interval *= 2
			if t.interval > m.cfg.MaxInterval {
				t.interval = m.cfg.MaxInterval
			}
			t.maxStreak = 0
			m.logger.Debug("decay interval increased",
				"channel", key.String(),
				"interval", t.interval,
			)
		}
		t.mu.Unlock()
	}
}

// fallSilent transitions the episode to its terminal state. The map entry
// is removed only if this task still owns it (a re-activation may already
// have replaced us).
func (m *Manager) fallSilent(key domain.ChannelKey, t *task) {
	m.mu.Lock()
	if m.tasks[key] == t {
		delete(m.tasks, key)
	}
	m.mu.Unlock()

	m.logger.Info("channel fell silent, listening deactivated",
		"channel", key.String(),
		"threshold", m.cfg.Threshold,
	)
	metrics.ChannelsDeactivated.Inc()
	if m.events != nil {
		m.events.Emit(bus.Event{
			Type:    bus.EventChannelDeactivated,
			Source:  "decay",
			Payload: map[string]any{"channel": key.String()},
		})
	}
	if m.notice != nil {
		m.notice(key)
	}
}
