package domain

import "time"

// KnowledgeEntry is one piece of research the agent has accumulated.
type KnowledgeEntry struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Content   string    `json:"content"`
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MediaEntry indexes a piece of generated media. Vigil only keeps the
// bookkeeping; the bytes live wherever the generator put them.
type MediaEntry struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"` // image | audio | video
	Prompt    string    `json:"prompt,omitempty"`
	URI       string    `json:"uri,omitempty"`
	ChannelID string    `json:"channel_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RateLimitSnapshot records the last known rate-limit state of an external
// service, as reported by its client.
type RateLimitSnapshot struct {
	Service   string    `json:"service"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}
