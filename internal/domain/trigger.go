package domain

// Trigger signals that something happened and may warrant attention.
// Value-equal triggers (same type, priority, channel) collapse under set
// semantics; the payload is deliberately excluded from equality so two
// observers reporting the same event with different context do not queue
// twice.
type Trigger struct {
	Type      string
	Priority  int // 1 (lowest) .. 10 (highest)
	ChannelID string
	Payload   map[string]any
}

// TriggerKey is the comparable identity of a trigger.
type TriggerKey struct {
	Type      string
	Priority  int
	ChannelID string
}

// Key returns the set identity of the trigger.
func (t Trigger) Key() TriggerKey {
	return TriggerKey{Type: t.Type, Priority: t.Priority, ChannelID: t.ChannelID}
}
