package domain

import "time"

// Platform identifies which communication platform a channel lives on.
type Platform string

const (
	PlatformTelegram Platform = "telegram"
	PlatformDiscord  Platform = "discord"
	PlatformSlack    Platform = "slack"
	PlatformCLI      Platform = "cli"
)

// ChannelStatus tracks the agent's standing in a channel. Channels are never
// deleted from the world state; terminal states are recorded here instead.
type ChannelStatus string

const (
	ChannelActive  ChannelStatus = "active"
	ChannelLeft    ChannelStatus = "left"
	ChannelKicked  ChannelStatus = "kicked"
	ChannelBanned  ChannelStatus = "banned"
	ChannelInvited ChannelStatus = "invited"
)

// ChannelKey uniquely identifies a channel across platforms.
type ChannelKey struct {
	Platform Platform `json:"platform"`
	ID       string   `json:"id"`
}

func (k ChannelKey) String() string {
	return string(k.Platform) + ":" + k.ID
}

// Message is one observed unit of communication. Immutable once created;
// owned by exactly one channel in the world state.
type Message struct {
	ID          string    `json:"id"`
	Platform    Platform  `json:"platform"`
	ChannelID   string    `json:"channel_id"`
	Sender      string    `json:"sender"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	ReplyTo     string    `json:"reply_to,omitempty"`
	Attachments []string  `json:"attachments,omitempty"`
}

// Key returns the channel the message belongs to.
func (m Message) Key() ChannelKey {
	return ChannelKey{Platform: m.Platform, ID: m.ChannelID}
}

// Outbound is a message the agent wants delivered to a platform channel.
type Outbound struct {
	Platform  Platform
	ChannelID string
	Content   string
	ReplyTo   string // platform message ID to reply to, if supported
}

// Invitation is a pending request for the agent to join a channel.
type Invitation struct {
	Key       ChannelKey `json:"key"`
	Inviter   string     `json:"inviter"`
	Timestamp time.Time  `json:"timestamp"`
}
