package state

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Fingerprint summarizes the decision-relevant subset of world state: total
// messages observed, channel count, latest message timestamp, and total
// actions recorded. The projection is deliberately narrow so cosmetic field
// changes do not trigger decision cycles. Components are sorted before
// hashing, so two logically identical states always fingerprint identically
// regardless of insertion order.
func (w *World) Fingerprint() string {
	w.mu.RLock()
	messages := w.messagesSeen
	actions := w.actionsSeen
	latest := w.latestMsg
	channels := 0
	for _, byID := range w.channels {
		channels += len(byID)
	}
	w.mu.RUnlock()

	var latestUnix int64
	if !latest.IsZero() {
		latestUnix = latest.UnixNano()
	}

	parts := []string{
		fmt.Sprintf("actions=%d", actions),
		fmt.Sprintf("channels=%d", channels),
		fmt.Sprintf("latest=%d", latestUnix),
		fmt.Sprintf("messages=%d", messages),
	}
	sort.Strings(parts)

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
