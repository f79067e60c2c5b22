package domain

import "context"

// Action is one step of a decision plan, as proposed by the decision engine.
type Action struct {
	Type       ActionType     `json:"action_type"`
	Parameters map[string]any `json:"parameters"`
	Reasoning  string         `json:"reasoning,omitempty"`
	Priority   int            `json:"priority"`
}

// Plan is the ordered set of actions the decision engine selected for one
// channel. Selection between competing candidates happens inside the engine;
// the scheduler executes exactly what it is handed.
type Plan struct {
	Actions   []Action `json:"actions"`
	Reasoning string   `json:"reasoning,omitempty"`
}

// DecisionEngine is the external component that decides what to do next for
// a channel, given a snapshot of recent world state.
type DecisionEngine interface {
	Decide(ctx context.Context, snap Snapshot, channel ChannelKey) (Plan, error)
}

// ActionExecutor performs a single action and returns a human-readable
// result. A nil error is the success signal.
type ActionExecutor interface {
	Execute(ctx context.Context, channel ChannelKey, action Action) (string, error)
}

// ChannelSnapshot is the serializable projection of one channel.
type ChannelSnapshot struct {
	ID             string        `json:"id"`
	Type           Platform      `json:"type"`
	Name           string        `json:"name"`
	RecentMessages []Message     `json:"recent_messages"`
	LastChecked    int64         `json:"last_checked"`
	Status         ChannelStatus `json:"status"`
}

// RecentActivity is the derived, windowed view of messages and actions,
// sorted ascending by timestamp.
type RecentActivity struct {
	Messages []Message     `json:"messages"`
	Actions  []ActionEntry `json:"actions"`
}

// Snapshot is the fully serializable projection of the world state handed
// across the decision boundary.
type Snapshot struct {
	Channels       map[Platform]map[string]ChannelSnapshot `json:"channels"`
	ActionHistory  []ActionEntry                           `json:"action_history"`
	SystemStatus   map[string]any                          `json:"system_status"`
	LastUpdate     int64                                   `json:"last_update"`
	RecentActivity RecentActivity                          `json:"recent_activity"`
}
