// Package scheduler runs the main control loop: observe, detect change,
// decide, execute, record. One loop drives all channels; per-channel decay
// timers live in the decay package.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"vigil/internal/bus"
	"vigil/internal/decay"
	"vigil/internal/domain"
	"vigil/internal/metrics"
	"vigil/internal/state"
)

const (
	defaultObservationInterval = 10 * time.Second
	defaultActivityWindow      = 10 * time.Minute
	defaultErrorPause          = 5 * time.Second
)

// Archiver receives every observed message and every final action outcome
// for durable audit storage. Failures are logged and never abort the loop.
type Archiver interface {
	ArchiveMessage(msg domain.Message) error
	ArchiveAction(entry domain.ActionEntry) error
}

// Config tunes the control loop timing.
type Config struct {
	ObservationInterval time.Duration // fixed tick
	MaxCyclesPerHour    int           // rate floor = 3600/n seconds
	ForcedInterval      time.Duration // run a cycle even when unchanged; 0 disables
	ActivityWindow      time.Duration // trailing window defining "active" channels
	ErrorPause          time.Duration // bounded pause after a loop-fatal error
}

func (c Config) withDefaults() Config {
	if c.ObservationInterval <= 0 {
		c.ObservationInterval = defaultObservationInterval
	}
	if c.ActivityWindow <= 0 {
		c.ActivityWindow = defaultActivityWindow
	}
	if c.ErrorPause <= 0 {
		c.ErrorPause = defaultErrorPause
	}
	return c
}

// Loop is the decision scheduler.
type Loop struct {
	cfg      Config
	world    *state.World
	engine   domain.DecisionEngine
	executor domain.ActionExecutor
	bus      domain.MessageBus
	events   *bus.EventBus
	decay    *decay.Manager
	archive  Archiver
	logger   *slog.Logger
	floor    *RateFloor
	now      func() time.Time
	newID    func() string

	lastFingerprint string
	lastCycle       time.Time
}

// LoopConfig holds all dependencies for the scheduler.
type LoopConfig struct {
	Config   Config
	World    *state.World
	Engine   domain.DecisionEngine
	Executor domain.ActionExecutor
	Bus      domain.MessageBus
	Events   *bus.EventBus
	Decay    *decay.Manager
	Archive  Archiver // optional
	Logger   *slog.Logger
}

// NewLoop creates the decision scheduler.
func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{
		cfg:      cfg.Config.withDefaults(),
		world:    cfg.World,
		engine:   cfg.Engine,
		executor: cfg.Executor,
		bus:      cfg.Bus,
		events:   cfg.Events,
		decay:    cfg.Decay,
		archive:  cfg.Archive,
		logger:   cfg.Logger,
		floor:    NewRateFloor(cfg.Config.MaxCyclesPerHour),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Run drives the loop until the context is cancelled. It never exits because
// of a single bad cycle: unexpected panics pause the loop briefly and it
// resumes.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("scheduler started",
		"observation_interval", l.cfg.ObservationInterval,
		"rate_floor", l.floor.Min(),
	)

	ticker := time.NewTicker(l.cfg.ObservationInterval)
	defer ticker.Stop()

	inbound := l.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("scheduler stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				l.logger.Info("inbound bus closed, scheduler stopping")
				return
			}
			l.observe(msg)
		case <-ticker.C:
			l.safeTick(ctx)
		}
	}
}

// observe folds one observed message into the world state and pokes the
// channel's decay timer.
func (l *Loop) observe(msg domain.Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = l.now()
	}
	l.world.AddMessage(msg)
	if l.decay != nil {
		l.decay.Touch(msg.Key())
	}
	metrics.MessagesObserved.Inc()

	if l.archive != nil {
		if err := l.archive.ArchiveMessage(msg); err != nil {
			l.logger.Warn("message archive failed", "err", err)
		}
	}
	if l.events != nil {
		l.events.Emit(bus.Event{
			Type:   bus.EventMessageObserved,
			Source: "scheduler",
			Payload: map[string]any{
				"channel": msg.Key().String(),
				"sender":  msg.Sender,
			},
		})
	}
}

// safeTick shields the loop from its own bookkeeping: a panic is logged and
// followed by a bounded pause, never a hard stop.
func (l *Loop) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("scheduler tick panicked, pausing", "panic", r, "pause", l.cfg.ErrorPause)
			select {
			case <-ctx.Done():
			case <-time.After(l.cfg.ErrorPause):
			}
		}
	}()
	l.tick(ctx)
}

// tick decides whether a decision cycle is warranted and runs it.
func (l *Loop) tick(ctx context.Context) {
	fp := l.world.Fingerprint()
	changed := fp != l.lastFingerprint
	forced := l.cfg.ForcedInterval > 0 && l.now().Sub(l.lastCycle) >= l.cfg.ForcedInterval

	if !changed && !forced {
		if l.events != nil {
			l.events.Emit(bus.Event{Type: bus.EventCycleSkipped, Source: "scheduler"})
		}
		return
	}

	if !l.floor.Allow() {
		l.logger.Debug("decision cycle rejected by rate floor", "min_interval", l.floor.Min())
		metrics.CyclesRateLimited.Inc()
		if l.events != nil {
			l.events.Emit(bus.Event{Type: bus.EventCycleRateLimited, Source: "scheduler"})
		}
		return
	}

	l.runCycle(ctx, fp, changed)
}

// runCycle processes every active channel sequentially in stable order. The
// new fingerprint and cycle timestamp are recorded only after all channels
// finish, so a crash mid-cycle retries the same fingerprint instead of
// silently skipping it.
func (l *Loop) runCycle(ctx context.Context, fp string, changed bool) {
	channels := l.world.ActiveChannels(l.cfg.ActivityWindow)
	if len(channels) == 0 {
		// State changed but activity is stale: never go fully idle.
		channels = l.world.ChannelKeys()
	}
	channels = promoteTriggered(channels, l.world.DrainTriggers())

	l.logger.Info("decision cycle starting",
		"channels", len(channels),
		"fingerprint_changed", changed,
	)
	metrics.CyclesTotal.Inc()
	if l.events != nil {
		l.events.Emit(bus.Event{
			Type:    bus.EventCycleStarted,
			Source:  "scheduler",
			Payload: map[string]any{"fingerprint": fp, "channels": len(channels)},
		})
	}

	start := l.now()
	for _, key := range channels {
		if err := l.processChannel(ctx, key); err != nil {
			l.logger.Error("channel cycle failed", "channel", key.String(), "err", err)
			l.world.AddAction(domain.ActionEntry{
				ID:     l.newID(),
				Type:   domain.ActionNone,
				Params: map[string]any{"channel": key.String()},
				Status: domain.StatusFailure,
				Result: err.Error(),
			})
		}
	}
	metrics.CycleDuration.Observe(l.now().Sub(start).Seconds())
	metrics.ChannelsKnown.Set(int64(len(l.world.ChannelKeys())))
	metrics.HistoryEntries.Set(int64(l.world.HistoryLen()))

	l.lastFingerprint = fp
	l.lastCycle = l.now()
}

// processChannel runs one decision cycle for one channel: snapshot, decide,
// execute, record.
func (l *Loop) processChannel(ctx context.Context, key domain.ChannelKey) error {
	l.world.MarkChecked(key)
	snap := l.world.Snapshot(l.cfg.ActivityWindow)

	plan, err := l.engine.Decide(ctx, snap, key)
	if err != nil {
		return fmt.Errorf("decide: %w", err)
	}
	if plan.Reasoning != "" {
		l.logger.Debug("decision reasoning", "channel", key.String(), "reasoning", plan.Reasoning)
	}

	for _, action := range plan.Actions {
		l.executeAction(ctx, key, action)
	}
	return nil
}

// executeAction validates, deduplicates, and executes a single planned
// action, folding the outcome into the history log.
func (l *Loop) executeAction(ctx context.Context, key domain.ChannelKey, action domain.Action) {
	if _, err := domain.ParseActionType(string(action.Type)); err != nil {
		l.logger.Warn("rejecting plan action", "channel", key.String(), "err", err)
		l.world.AddAction(domain.ActionEntry{
			ID:     l.newID(),
			Type:   domain.ActionNone,
			Params: map[string]any{"rejected_type": string(action.Type)},
			Status: domain.StatusFailure,
			Result: err.Error(),
		})
		return
	}
	if action.Type == domain.ActionNone {
		return
	}

	// Canonical dedup: a scheduled or successful reply to the same target
	// means this one is a duplicate.
	if action.Type == domain.ActionReply {
		if target := paramString(action.Parameters, "reply_to"); target != "" && l.world.HasRepliedTo(target) {
			l.logger.Debug("duplicate reply suppressed", "channel", key.String(), "reply_to", target)
			metrics.ActionsDeduplicated.Inc()
			return
		}
	}

	id := l.newID()
	l.world.AddAction(domain.ActionEntry{
		ID:     id,
		Type:   action.Type,
		Params: action.Parameters,
		Status: domain.StatusScheduled,
	})

	result, err := l.executor.Execute(ctx, key, action)

	entry := domain.ActionEntry{
		ID:        id,
		Type:      action.Type,
		Params:    action.Parameters,
		Timestamp: l.now(),
	}
	if err != nil {
		entry.Status = domain.StatusFailure
		entry.Result = err.Error()
		l.world.UpdateAction(id, domain.StatusFailure, err.Error())
		l.logger.Error("action failed", "channel", key.String(), "type", action.Type, "err", err)
		metrics.ActionsFailed.Inc()
		if l.events != nil {
			l.events.Emit(bus.Event{
				Type:    bus.EventActionFailed,
				Source:  "scheduler",
				Payload: map[string]any{"channel": key.String(), "type": string(action.Type), "err": err.Error()},
			})
		}
	} else {
		entry.Status = domain.StatusSuccess
		entry.Result = result
		l.world.UpdateAction(id, domain.StatusSuccess, result)
		metrics.ActionsExecuted.Inc()
		if l.events != nil {
			l.events.Emit(bus.Event{
				Type:    bus.EventActionExecuted,
				Source:  "scheduler",
				Payload: map[string]any{"channel": key.String(), "type": string(action.Type)},
			})
		}
	}

	if l.archive != nil {
		if archiveErr := l.archive.ArchiveAction(entry); archiveErr != nil {
			l.logger.Warn("action archive failed", "err", archiveErr)
		}
	}
}

// promoteTriggered moves channels named by pending triggers to the front of
// the cycle order. Trigger order (priority descending) is preserved among
// the promoted channels, stable order among the rest.
func promoteTriggered(channels []domain.ChannelKey, triggers []domain.Trigger) []domain.ChannelKey {
	if len(triggers) == 0 {
		return channels
	}

	rank := make(map[string]int, len(triggers))
	for i, tr := range triggers {
		if _, seen := rank[tr.ChannelID]; !seen {
			rank[tr.ChannelID] = i
		}
	}

	promoted := make([]domain.ChannelKey, 0, len(channels))
	rest := make([]domain.ChannelKey, 0, len(channels))
	for _, key := range channels {
		if _, ok := rank[key.String()]; ok {
			promoted = append(promoted, key)
		} else {
			rest = append(rest, key)
		}
	}
	sort.SliceStable(promoted, func(i, j int) bool {
		return rank[promoted[i].String()] < rank[promoted[j].String()]
	})
	return append(promoted, rest...)
}

func paramString(params map[string]any, key string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
