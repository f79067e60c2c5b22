package domain

import (
	"errors"
	"fmt"
	"time"
)

// ActionType is the closed set of actions the executor knows how to perform.
// Unknown tags coming back from the decision engine are rejected at the
// boundary with ErrUnknownAction instead of falling through a string match.
type ActionType string

const (
	ActionReply         ActionType = "reply"
	ActionSendMessage   ActionType = "send_message"
	ActionJoinChannel   ActionType = "join_channel"
	ActionLeaveChannel  ActionType = "leave_channel"
	ActionResearch      ActionType = "research"
	ActionGenerateMedia ActionType = "generate_media"
	ActionUpdateStatus  ActionType = "update_status"
	ActionNone          ActionType = "none"
)

// ErrUnknownAction is returned when a decision plan names an action type
// outside the closed set.
var ErrUnknownAction = errors.New("unknown action type")

// ParseActionType validates a raw action tag against the closed set.
func ParseActionType(s string) (ActionType, error) {
	switch t := ActionType(s); t {
	case ActionReply, ActionSendMessage, ActionJoinChannel, ActionLeaveChannel,
		ActionResearch, ActionGenerateMedia, ActionUpdateStatus, ActionNone:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

// ActionStatus is the recorded outcome of an action attempt.
type ActionStatus string

const (
	StatusSuccess   ActionStatus = "success"
	StatusFailure   ActionStatus = "failure"
	StatusScheduled ActionStatus = "scheduled"
)

// ActionEntry is one record in the action history log. Entries created with
// StatusScheduled carry a stable ID so the final outcome can be folded back
// in place once execution finishes.
type ActionEntry struct {
	ID        string         `json:"id,omitempty"`
	Type      ActionType     `json:"type"`
	Params    map[string]any `json:"params,omitempty"`
	Status    ActionStatus   `json:"status"`
	Result    string         `json:"result,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ParamString returns a string-typed parameter, or "" when absent.
func (e ActionEntry) ParamString(key string) string {
	if v, ok := e.Params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprintf("%v", v)
	}
	return ""
}
