package state

import (
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"vigil/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func msg(id string, ts time.Time) domain.Message {
	return domain.Message{
		ID:        id,
		Platform:  domain.PlatformTelegram,
		ChannelID: "chan-1",
		Sender:    "alice",
		Content:   "hello " + id,
		Timestamp: ts,
	}
}

func TestAddMessage_CapAndEvictionOrder(t *testing.T) {
	w := New(Config{MessageCap: 3}, testLogger())
	base := time.Now()

	for i := 0; i < 5; i++ {
		w.AddMessage(msg(fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Second)))
	}

	got := w.Messages(domain.ChannelKey{Platform: domain.PlatformTelegram, ID: "chan-1"})
	if len(got) != 3 {
		t.Fatalf("expected cap of 3 messages, got %d", len(got))
	}
	// Oldest evicted first: m2, m3, m4 remain in timestamp order.
	for i, want := range []string{"m2", "m3", "m4"} {
		if got[i].ID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, got[i].ID)
		}
	}
}

func TestAddMessage_ImplicitChannelCreation(t *testing.T) {
	w := New(Config{}, testLogger())
	w.AddMessage(msg("m1", time.Now()))

	keys := w.ChannelKeys()
	if len(keys) != 1 {
		t.Fatalf("expected 1 channel, got %d", len(keys))
	}
	if keys[0].ID != "chan-1" || keys[0].Platform != domain.PlatformTelegram {
		t.Errorf("unexpected channel key: %v", keys[0])
	}
}

func TestAddAction_CapOldestFirst(t *testing.T) {
	w := New(Config{HistoryCap: 2}, testLogger())
	base := time.Now()

	for i := 0; i < 4; i++ {
		w.AddAction(domain.ActionEntry{
			Type:      domain.ActionSendMessage,
			Result:    fmt.Sprintf("r%d", i),
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
	}

	if w.HistoryLen() != 2 {
		t.Fatalf("expected history cap of 2, got %d", w.HistoryLen())
	}
	snap := w.Snapshot(time.Hour)
	if snap.ActionHistory[0].Result != "r2" || snap.ActionHistory[1].Result != "r3" {
		t.Errorf("eviction not oldest-first: %+v", snap.ActionHistory)
	}
}

func TestHasRepliedTo(t *testing.T) {
	w := New(Config{}, testLogger())

	if w.HasRepliedTo("msg-42") {
		t.Fatal("expected false for never-referenced id")
	}

	// Failed attempt does not count.
	w.AddAction(domain.ActionEntry{
		Type:   domain.ActionReply,
		Params: map[string]any{"reply_to": "msg-42"},
		Status: domain.StatusFailure,
	})
	if w.HasRepliedTo("msg-42") {
		t.Fatal("failed reply should not count as replied")
	}

	// Scheduled attempt counts: blocks concurrent duplicates.
	w.AddAction(domain.ActionEntry{
		ID:     "act-1",
		Type:   domain.ActionReply,
		Params: map[string]any{"reply_to": "msg-42"},
		Status: domain.StatusScheduled,
	})
	if !w.HasRepliedTo("msg-42") {
		t.Fatal("scheduled reply should count as replied")
	}

	// Still true after a later unrelated action.
	w.AddAction(domain.ActionEntry{
		Type:   domain.ActionResearch,
		Params: map[string]any{"topic": "something else"},
		Status: domain.StatusSuccess,
	})
	if !w.HasRepliedTo("msg-42") {
		t.Fatal("unrelated action must not clear the reply record")
	}

	if w.HasRepliedTo("msg-99") {
		t.Fatal("expected false for other id")
	}
}

func TestUpdateAction(t *testing.T) {
	w := New(Config{}, testLogger())
	w.AddAction(domain.ActionEntry{
		ID:     "act-7",
		Type:   domain.ActionReply,
		Status: domain.StatusScheduled,
	})

	if !w.UpdateAction("act-7", domain.StatusSuccess, "sent") {
		t.Fatal("expected update to find scheduled entry")
	}
	snap := w.Snapshot(time.Hour)
	if snap.ActionHistory[0].Status != domain.StatusSuccess || snap.ActionHistory[0].Result != "sent" {
		t.Errorf("entry not updated in place: %+v", snap.ActionHistory[0])
	}

	if w.UpdateAction("missing", domain.StatusFailure, "") {
		t.Error("expected false for unknown action id")
	}
}

func TestRecentActivity_WindowAndOrder(t *testing.T) {
	w := New(Config{}, testLogger())
	now := time.Now()

	w.AddMessage(msg("old", now.Add(-2*time.Hour)))
	w.AddMessage(msg("mid", now.Add(-30*time.Second)))
	w.AddMessage(domain.Message{
		ID: "new", Platform: domain.PlatformDiscord, ChannelID: "d1",
		Timestamp: now.Add(-5 * time.Second),
	})
	w.AddAction(domain.ActionEntry{Type: domain.ActionReply, Timestamp: now.Add(-10 * time.Second)})
	w.AddAction(domain.ActionEntry{Type: domain.ActionReply, Timestamp: now.Add(-3 * time.Hour)})

	act := w.RecentActivity(time.Minute)
	if len(act.Messages) != 2 {
		t.Fatalf("expected 2 messages in window, got %d", len(act.Messages))
	}
	if act.Messages[0].ID != "mid" || act.Messages[1].ID != "new" {
		t.Errorf("messages not ascending by timestamp: %v, %v", act.Messages[0].ID, act.Messages[1].ID)
	}
	if len(act.Actions) != 1 {
		t.Fatalf("expected 1 action in window, got %d", len(act.Actions))
	}
}

func TestActiveChannels_FallbackOrdering(t *testing.T) {
	w := New(Config{}, testLogger())
	now := time.Now()

	w.AddMessage(domain.Message{ID: "a", Platform: domain.PlatformSlack, ChannelID: "s1", Timestamp: now})
	w.AddMessage(domain.Message{ID: "b", Platform: domain.PlatformDiscord, ChannelID: "d1", Timestamp: now.Add(-time.Hour)})

	active := w.ActiveChannels(10 * time.Minute)
	if len(active) != 1 || active[0].Platform != domain.PlatformSlack {
		t.Fatalf("expected only the slack channel active, got %v", active)
	}

	all := w.ChannelKeys()
	if len(all) != 2 {
		t.Fatalf("expected 2 known channels, got %d", len(all))
	}
	// Stable sorted order: discord before slack.
	if all[0].Platform != domain.PlatformDiscord || all[1].Platform != domain.PlatformSlack {
		t.Errorf("channel keys not in stable order: %v", all)
	}
}

func TestTriggers_SetSemantics(t *testing.T) {
	w := New(Config{}, testLogger())

	first := domain.Trigger{Type: "mention", Priority: 5, ChannelID: "c1", Payload: map[string]any{"a": 1}}
	dup := domain.Trigger{Type: "mention", Priority: 5, ChannelID: "c1", Payload: map[string]any{"b": 2}}

	if !w.AddTrigger(first) {
		t.Fatal("first trigger should be accepted")
	}
	if w.AddTrigger(dup) {
		t.Fatal("value-equal trigger must collapse; payload is excluded from equality")
	}
	w.AddTrigger(domain.Trigger{Type: "invite", Priority: 9, ChannelID: "c2"})

	drained := w.DrainTriggers()
	if len(drained) != 2 {
		t.Fatalf("expected 2 triggers, got %d", len(drained))
	}
	if drained[0].Priority != 9 {
		t.Errorf("expected highest priority first, got %+v", drained[0])
	}
	if got := w.DrainTriggers(); len(got) != 0 {
		t.Errorf("drain should empty the set, got %d", len(got))
	}
}

func TestInvitations_TakeConsumes(t *testing.T) {
	w := New(Config{}, testLogger())
	key := domain.ChannelKey{Platform: domain.PlatformDiscord, ID: "guild-1"}

	w.AddInvitation(domain.Invitation{Key: key, Inviter: "bob"})

	snap := w.Snapshot(time.Hour)
	if snap.Channels[domain.PlatformDiscord]["guild-1"].Status != domain.ChannelInvited {
		t.Error("invitation should mark the channel invited")
	}

	inv, ok := w.TakeInvitation(key)
	if !ok || inv.Inviter != "bob" {
		t.Fatalf("expected to take the invitation, got ok=%v inv=%+v", ok, inv)
	}
	if _, ok := w.TakeInvitation(key); ok {
		t.Error("invitation should be consumed by Take")
	}
}

func TestSnapshot_Shape(t *testing.T) {
	w := New(Config{}, testLogger())
	now := time.Now()
	key := domain.ChannelKey{Platform: domain.PlatformTelegram, ID: "chan-1"}

	w.AddMessage(msg("m1", now))
	w.SetChannelName(key, "general")
	w.MarkChecked(key)
	w.SetStatus("telegram_connected", true)
	w.AddAction(domain.ActionEntry{Type: domain.ActionReply, Status: domain.StatusSuccess, Timestamp: now})

	snap := w.Snapshot(time.Hour)

	ch, ok := snap.Channels[domain.PlatformTelegram]["chan-1"]
	if !ok {
		t.Fatal("snapshot missing channel")
	}
	if ch.Name != "general" || len(ch.RecentMessages) != 1 || ch.LastChecked == 0 {
		t.Errorf("unexpected channel snapshot: %+v", ch)
	}
	if len(snap.ActionHistory) != 1 {
		t.Errorf("expected 1 history entry, got %d", len(snap.ActionHistory))
	}
	if v, ok := snap.SystemStatus["telegram_connected"]; !ok || v != true {
		t.Errorf("system status not carried: %v", snap.SystemStatus)
	}
	if snap.LastUpdate == 0 {
		t.Error("last update not stamped")
	}
	if len(snap.RecentActivity.Messages) != 1 {
		t.Errorf("recent activity view missing message")
	}
}

func TestRateLimits(t *testing.T) {
	w := New(Config{}, testLogger())
	w.SetRateLimit(domain.RateLimitSnapshot{Service: "telegram", Limit: 30, Remaining: 12})

	rl, ok := w.RateLimit("telegram")
	if !ok || rl.Remaining != 12 {
		t.Fatalf("expected stored rate limit, got ok=%v rl=%+v", ok, rl)
	}
	if _, ok := w.RateLimit("unknown"); ok {
		t.Error("expected miss for unknown service")
	}
}
