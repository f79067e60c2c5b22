// Package state holds the canonical in-memory world state: channels and
// their recent messages, the action history log, rate-limit bookkeeping,
// pending invitations, generated media, and accumulated research. All
// collections are bounded and lossy; durability belongs to the archive.
package state

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"vigil/internal/domain"
)

const (
	defaultMessageCap   = 50
	defaultHistoryCap   = 100
	defaultKnowledgeCap = 200
	defaultMediaCap     = 100
)

// Config bounds the world state collections.
type Config struct {
	MessageCap   int // recent messages kept per channel
	HistoryCap   int // action history entries kept
	KnowledgeCap int
	MediaCap     int
}

func (c Config) withDefaults() Config {
	if c.MessageCap <= 0 {
		c.MessageCap = defaultMessageCap
	}
	if c.HistoryCap <= 0 {
		c.HistoryCap = defaultHistoryCap
	}
	if c.KnowledgeCap <= 0 {
		c.KnowledgeCap = defaultKnowledgeCap
	}
	if c.MediaCap <= 0 {
		c.MediaCap = defaultMediaCap
	}
	return c
}

// channel is the stored record for one platform channel.
type channel struct {
	id          string
	platform    domain.Platform
	name        string
	recent      []domain.Message
	lastChecked time.Time
	status      domain.ChannelStatus
}

// World is the aggregate root for all mutable agent state. It is shared by
// the scheduler, the decay managers, and the executor, so every operation
// takes the mutex.
type World struct {
	mu     sync.RWMutex
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	channels    map[domain.Platform]map[string]*channel
	history     []domain.ActionEntry
	rateLimits  map[string]domain.RateLimitSnapshot
	invitations []domain.Invitation
	media       []domain.MediaEntry
	knowledge   []domain.KnowledgeEntry
	status      map[string]any
	triggers    map[domain.TriggerKey]domain.Trigger

	messagesSeen int64
	actionsSeen  int64
	latestMsg    time.Time
	lastUpdate   time.Time
}

// New creates an empty world state.
func New(cfg Config, logger *slog.Logger) *World {
	if logger == nil {
		logger = slog.Default()
	}
	return &World{
		cfg:        cfg.withDefaults(),
		logger:     logger,
		now:        time.Now,
		channels:   make(map[domain.Platform]map[string]*channel),
		rateLimits: make(map[string]domain.RateLimitSnapshot),
		status:     make(map[string]any),
		triggers:   make(map[domain.TriggerKey]domain.Trigger),
	}
}

// touch must be called with the write lock held.
func (w *World) touch() {
	w.lastUpdate = w.now()
}

// getOrCreate must be called with the write lock held.
func (w *World) getOrCreate(key domain.ChannelKey) *channel {
	byID, ok := w.channels[key.Platform]
	if !ok {
		byID = make(map[string]*channel)
		w.channels[key.Platform] = byID
	}
	ch, ok := byID[key.ID]
	if !ok {
		ch = &channel{
			id:       key.ID,
			platform: key.Platform,
			status:   domain.ChannelActive,
		}
		byID[key.ID] = ch
		w.logger.Debug("channel created", "channel", key.String())
	}
	return ch
}

// AddMessage appends a message to its channel, creating the channel
// implicitly on first activity. The oldest message is evicted once the
// per-channel cap is reached.
func (w *World) AddMessage(msg domain.Message) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ch := w.getOrCreate(msg.Key())
	ch.recent = append(ch.recent, msg)
	if len(ch.recent) > w.cfg.MessageCap {
		ch.recent = ch.recent[len(ch.recent)-w.cfg.MessageCap:]
	}

	w.messagesSeen++
	if msg.Timestamp.After(w.latestMsg) {
		w.latestMsg = msg.Timestamp
	}
	w.touch()
}

// SetChannelName records the display name of a channel.
func (w *World) SetChannelName(key domain.ChannelKey, name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.getOrCreate(key).name = name
	w.touch()
}

// MarkChecked stamps the channel's last-checked time.
func (w *World) MarkChecked(key domain.ChannelKey) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.getOrCreate(key).lastChecked = w.now()
	w.touch()
}

// MarkChannelStatus records the agent's standing in a channel.
func (w *World) MarkChannelStatus(key domain.ChannelKey, status domain.ChannelStatus) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.getOrCreate(key).status = status
	w.touch()
}

// AddAction appends an entry to the action history log, evicting the oldest
// entry beyond the cap.
func (w *World) AddAction(entry domain.ActionEntry) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = w.now()
	}
	w.history = append(w.history, entry)
	if len(w.history) > w.cfg.HistoryCap {
		w.history = w.history[len(w.history)-w.cfg.HistoryCap:]
	}
	w.actionsSeen++
	w.touch()
}

// UpdateAction folds a final outcome into a previously scheduled entry,
// located by its stable ID. Returns false if no such entry remains in the
// bounded log.
func (w *World) UpdateAction(id string, status domain.ActionStatus, result string) bool {
	if id == "" {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	for i := len(w.history) - 1; i >= 0; i-- {
		if w.history[i].ID == id {
			w.history[i].Status = status
			w.history[i].Result = result
			w.touch()
			return true
		}
	}
	return false
}

// HasRepliedTo reports whether a reply referencing targetID has already been
// recorded with a non-failure status. Scheduled entries count, so an
// outstanding attempt blocks a concurrent duplicate from being queued.
func (w *World) HasRepliedTo(targetID string) bool {
	if targetID == "" {
		return false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()

	for i := len(w.history) - 1; i >= 0; i-- {
		e := w.history[i]
		if e.Type != domain.ActionReply || e.Status == domain.StatusFailure {
			continue
		}
		for _, v := range e.Params {
			if s, ok := v.(string); ok && s == targetID {
				return true
			}
		}
	}
	return false
}

// RecentActivity returns all messages and actions within the trailing
// window, each list sorted ascending by timestamp.
func (w *World) RecentActivity(window time.Duration) domain.RecentActivity {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.recentActivityLocked(window)
}

func (w *World) recentActivityLocked(window time.Duration) domain.RecentActivity {
	cutoff := w.now().Add(-window)

	var out domain.RecentActivity
	for _, byID := range w.channels {
		for _, ch := range byID {
			for _, m := range ch.recent {
				if !m.Timestamp.Before(cutoff) {
					out.Messages = append(out.Messages, m)
				}
			}
		}
	}
	sort.Slice(out.Messages, func(i, j int) bool {
		return out.Messages[i].Timestamp.Before(out.Messages[j].Timestamp)
	})

	for _, a := range w.history {
		if !a.Timestamp.Before(cutoff) {
			out.Actions = append(out.Actions, a)
		}
	}
	// History preserves insertion order, which is timestamp order.
	return out
}

// ChannelKeys returns every known channel in a stable sorted order.
func (w *World) ChannelKeys() []domain.ChannelKey {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var keys []domain.ChannelKey
	for platform, byID := range w.channels {
		for id := range byID {
			keys = append(keys, domain.ChannelKey{Platform: platform, ID: id})
		}
	}
	sortKeys(keys)
	return keys
}

// ActiveChannels returns channels with observed activity inside the trailing
// window, in a stable sorted order. Callers fall back to ChannelKeys when
// the result is empty.
func (w *World) ActiveChannels(window time.Duration) []domain.ChannelKey {
	w.mu.RLock()
	defer w.mu.RUnlock()

	cutoff := w.now().Add(-window)
	var keys []domain.ChannelKey
	for platform, byID := range w.channels {
		for id, ch := range byID {
			if n := len(ch.recent); n > 0 && !ch.recent[n-1].Timestamp.Before(cutoff) {
				keys = append(keys, domain.ChannelKey{Platform: platform, ID: id})
			}
		}
	}
	sortKeys(keys)
	return keys
}

func sortKeys(keys []domain.ChannelKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Platform != keys[j].Platform {
			return keys[i].Platform < keys[j].Platform
		}
		return keys[i].ID < keys[j].ID
	})
}

// SetRateLimit stores the latest rate-limit snapshot reported for a service.
func (w *World) SetRateLimit(rl domain.RateLimitSnapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rateLimits[rl.Service] = rl
	w.touch()
}

// RateLimit returns the last known rate-limit snapshot for a service.
func (w *World) RateLimit(service string) (domain.RateLimitSnapshot, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	rl, ok := w.rateLimits[service]
	return rl, ok
}

// AddInvitation queues a pending invitation to join a channel.
func (w *World) AddInvitation(inv domain.Invitation) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if inv.Timestamp.IsZero() {
		inv.Timestamp = w.now()
	}
	w.invitations = append(w.invitations, inv)
	w.getOrCreate(inv.Key).status = domain.ChannelInvited
	w.touch()
}

// TakeInvitation removes and returns the pending invitation for a channel.
func (w *World) TakeInvitation(key domain.ChannelKey) (domain.Invitation, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i, inv := range w.invitations {
		if inv.Key == key {
			w.invitations = append(w.invitations[:i], w.invitations[i+1:]...)
			w.touch()
			return inv, true
		}
	}
	return domain.Invitation{}, false
}

// AddMedia indexes a generated media entry, evicting the oldest beyond cap.
func (w *World) AddMedia(m domain.MediaEntry) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if m.Timestamp.IsZero() {
		m.Timestamp = w.now()
	}
	w.media = append(w.media, m)
	if len(w.media) > w.cfg.MediaCap {
		w.media = w.media[len(w.media)-w.cfg.MediaCap:]
	}
	w.touch()
}

// AddKnowledge stores a research entry, evicting the oldest beyond cap.
func (w *World) AddKnowledge(k domain.KnowledgeEntry) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if k.Timestamp.IsZero() {
		k.Timestamp = w.now()
	}
	w.knowledge = append(w.knowledge, k)
	if len(w.knowledge) > w.cfg.KnowledgeCap {
		w.knowledge = w.knowledge[len(w.knowledge)-w.cfg.KnowledgeCap:]
	}
	w.touch()
}

// Knowledge returns a copy of the accumulated research entries.
func (w *World) Knowledge() []domain.KnowledgeEntry {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]domain.KnowledgeEntry, len(w.knowledge))
	copy(out, w.knowledge)
	return out
}

// SetStatus records a free-form system status field reported by a feed.
func (w *World) SetStatus(key string, value any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status[key] = value
	w.touch()
}

// AddTrigger adds a trigger under set semantics. Returns false when a
// value-equal trigger is already pending.
func (w *World) AddTrigger(t domain.Trigger) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	k := t.Key()
	if _, dup := w.triggers[k]; dup {
		return false
	}
	w.triggers[k] = t
	w.touch()
	return true
}

// DrainTriggers removes and returns all pending triggers, highest priority
// first, with a stable tie-break so ordering is deterministic.
func (w *World) DrainTriggers() []domain.Trigger {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]domain.Trigger, 0, len(w.triggers))
	for _, t := range w.triggers {
		out = append(out, t)
	}
	w.triggers = make(map[domain.TriggerKey]domain.Trigger)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if out[i].ChannelID != out[j].ChannelID {
			return out[i].ChannelID < out[j].ChannelID
		}
		return out[i].Type < out[j].Type
	})
	if len(out) > 0 {
		w.touch()
	}
	return out
}

// HistoryLen returns the current number of action history entries.
func (w *World) HistoryLen() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.history)
}

// Messages returns a copy of one channel's recent messages.
func (w *World) Messages(key domain.ChannelKey) []domain.Message {
	w.mu.RLock()
	defer w.mu.RUnlock()

	byID, ok := w.channels[key.Platform]
	if !ok {
		return nil
	}
	ch, ok := byID[key.ID]
	if !ok {
		return nil
	}
	out := make([]domain.Message, len(ch.recent))
	copy(out, ch.recent)
	return out
}

// Snapshot produces the fully serializable projection of the store handed
// across the decision boundary.
func (w *World) Snapshot(activityWindow time.Duration) domain.Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	snap := domain.Snapshot{
		Channels:     make(map[domain.Platform]map[string]domain.ChannelSnapshot, len(w.channels)),
		SystemStatus: make(map[string]any, len(w.status)),
		LastUpdate:   w.lastUpdate.Unix(),
	}

	for platform, byID := range w.channels {
		snap.Channels[platform] = make(map[string]domain.ChannelSnapshot, len(byID))
		for id, ch := range byID {
			recent := make([]domain.Message, len(ch.recent))
			copy(recent, ch.recent)
			snap.Channels[platform][id] = domain.ChannelSnapshot{
				ID:             ch.id,
				Type:           ch.platform,
				Name:           ch.name,
				RecentMessages: recent,
				LastChecked:    ch.lastChecked.Unix(),
				Status:         ch.status,
			}
		}
	}

	snap.ActionHistory = make([]domain.ActionEntry, len(w.history))
	copy(snap.ActionHistory, w.history)

	for k, v := range w.status {
		snap.SystemStatus[k] = v
	}

	snap.RecentActivity = w.recentActivityLocked(activityWindow)
	return snap
}
