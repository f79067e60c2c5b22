package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"vigil/internal/domain"
	"vigil/internal/state"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type fakeEngine struct {
	mu    sync.Mutex
	calls []domain.ChannelKey
	plan  func(key domain.ChannelKey) (domain.Plan, error)
}

func (f *fakeEngine) Decide(ctx context.Context, snap domain.Snapshot, key domain.ChannelKey) (domain.Plan, error) {
	f.mu.Lock()
	f.calls = append(f.calls, key)
	f.mu.Unlock()
	if f.plan == nil {
		return domain.Plan{}, nil
	}
	return f.plan(key)
}

func (f *fakeEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeExecutor struct {
	mu       sync.Mutex
	executed []domain.Action
	err      error
}

func (f *fakeExecutor) Execute(ctx context.Context, key domain.ChannelKey, action domain.Action) (string, error) {
	f.mu.Lock()
	f.executed = append(f.executed, action)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return "ok", nil
}

func (f *fakeExecutor) execCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.executed)
}

func newTestLoop(engine domain.DecisionEngine, exec domain.ActionExecutor) (*Loop, *state.World) {
	w := state.New(state.Config{}, testLogger())
	l := NewLoop(LoopConfig{
		Config: Config{
			ObservationInterval: time.Hour, // ticks driven manually in tests
			MaxCyclesPerHour:    60,
			ActivityWindow:      10 * time.Minute,
			ErrorPause:          time.Millisecond,
		},
		World:    w,
		Engine:   engine,
		Executor: exec,
		Logger:   testLogger(),
	})
	l.floor.min = 0 // rate floor exercised separately
	return l, w
}

func observed(w *state.World, id, channelID string) {
	w.AddMessage(domain.Message{
		ID:        id,
		Platform:  domain.PlatformTelegram,
		ChannelID: channelID,
		Sender:    "alice",
		Content:   "ping",
		Timestamp: time.Now(),
	})
}

func TestTick_SkipsWhenFingerprintUnchanged(t *testing.T) {
	engine := &fakeEngine{}
	l, w := newTestLoop(engine, &fakeExecutor{})

	observed(w, "m1", "c1")
	l.tick(context.Background())
	if engine.callCount() != 1 {
		t.Fatalf("expected 1 engine call after change, got %d", engine.callCount())
	}

	// No state change: second tick must not run a cycle.
	l.tick(context.Background())
	if engine.callCount() != 1 {
		t.Fatalf("unchanged fingerprint must skip the cycle, got %d calls", engine.callCount())
	}

	// New message changes the fingerprint again.
	observed(w, "m2", "c1")
	l.tick(context.Background())
	if engine.callCount() != 2 {
		t.Fatalf("expected cycle after new message, got %d calls", engine.callCount())
	}
}

func TestTick_ForcedIntervalRunsWithoutChange(t *testing.T) {
	engine := &fakeEngine{}
	l, w := newTestLoop(engine, &fakeExecutor{})
	l.cfg.ForcedInterval = time.Nanosecond

	observed(w, "m1", "c1")
	l.tick(context.Background())
	calls := engine.callCount()

	// Fingerprint unchanged, but the forced interval has elapsed.
	time.Sleep(time.Millisecond)
	l.tick(context.Background())
	if engine.callCount() != calls+1 {
		t.Fatalf("forced interval should run a cycle, got %d calls", engine.callCount())
	}
}

func TestRunCycle_FallsBackToAllChannelsWhenActivityStale(t *testing.T) {
	engine := &fakeEngine{}
	l, w := newTestLoop(engine, &fakeExecutor{})

	// Stale message: outside the activity window.
	w.AddMessage(domain.Message{
		ID: "m1", Platform: domain.PlatformSlack, ChannelID: "s1",
		Timestamp: time.Now().Add(-time.Hour),
	})

	l.tick(context.Background())
	if engine.callCount() != 1 {
		t.Fatalf("expected fallback to all known channels, got %d calls", engine.callCount())
	}
}

func TestRunCycle_ChannelErrorDoesNotAbortOthers(t *testing.T) {
	engine := &fakeEngine{
		plan: func(key domain.ChannelKey) (domain.Plan, error) {
			if key.ID == "bad" {
				return domain.Plan{}, errors.New("engine unavailable")
			}
			return domain.Plan{}, nil
		},
	}
	l, w := newTestLoop(engine, &fakeExecutor{})

	observed(w, "m1", "bad")
	observed(w, "m2", "good")

	l.tick(context.Background())

	if engine.callCount() != 2 {
		t.Fatalf("both channels must be processed, got %d calls", engine.callCount())
	}
	// The failure is recorded in history.
	snap := w.Snapshot(time.Hour)
	var failures int
	for _, e := range snap.ActionHistory {
		if e.Status == domain.StatusFailure {
			failures++
		}
	}
	if failures != 1 {
		t.Fatalf("expected 1 recorded failure, got %d", failures)
	}
}

func TestExecuteAction_UnknownTypeRejected(t *testing.T) {
	exec := &fakeExecutor{}
	l, w := newTestLoop(&fakeEngine{}, exec)

	l.executeAction(context.Background(),
		domain.ChannelKey{Platform: domain.PlatformCLI, ID: "c1"},
		domain.Action{Type: "launch_rockets"},
	)

	if exec.execCount() != 0 {
		t.Fatal("executor must not run an unknown action type")
	}
	snap := w.Snapshot(time.Hour)
	if len(snap.ActionHistory) != 1 || snap.ActionHistory[0].Status != domain.StatusFailure {
		t.Fatalf("expected a typed rejection recorded, got %+v", snap.ActionHistory)
	}
	if !errors.Is(func() error {
		_, err := domain.ParseActionType("launch_rockets")
		return err
	}(), domain.ErrUnknownAction) {
		t.Fatal("expected ErrUnknownAction")
	}
}

func TestExecuteAction_ReplyDedup(t *testing.T) {
	exec := &fakeExecutor{}
	l, w := newTestLoop(&fakeEngine{}, exec)
	key := domain.ChannelKey{Platform: domain.PlatformTelegram, ID: "c1"}
	reply := domain.Action{
		Type:       domain.ActionReply,
		Parameters: map[string]any{"reply_to": "msg-1", "content": "hello"},
	}

	l.executeAction(context.Background(), key, reply)
	if exec.execCount() != 1 {
		t.Fatalf("first reply should execute, got %d", exec.execCount())
	}
	if !w.HasRepliedTo("msg-1") {
		t.Fatal("reply should be recorded")
	}

	l.executeAction(context.Background(), key, reply)
	if exec.execCount() != 1 {
		t.Fatal("duplicate reply must be suppressed")
	}
}

func TestExecuteAction_FailureRecorded(t *testing.T) {
	exec := &fakeExecutor{err: errors.New("send failed")}
	l, w := newTestLoop(&fakeEngine{}, exec)

	l.executeAction(context.Background(),
		domain.ChannelKey{Platform: domain.PlatformTelegram, ID: "c1"},
		domain.Action{Type: domain.ActionSendMessage, Parameters: map[string]any{"content": "x"}},
	)

	snap := w.Snapshot(time.Hour)
	if len(snap.ActionHistory) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(snap.ActionHistory))
	}
	e := snap.ActionHistory[0]
	if e.Status != domain.StatusFailure || e.Result != "send failed" {
		t.Fatalf("failure not folded into the scheduled entry: %+v", e)
	}
}

func TestEndToEnd_ReplyOnceScenario(t *testing.T) {
	// Channel C has no messages -> F0. M1 arrives -> F1 != F0 -> one cycle,
	// engine proposes a reply, executor succeeds, HasRepliedTo(M1) is true,
	// and a second unchanged cycle does not re-attempt the reply.
	engine := &fakeEngine{
		plan: func(key domain.ChannelKey) (domain.Plan, error) {
			return domain.Plan{
				Actions: []domain.Action{{
					Type:       domain.ActionReply,
					Parameters: map[string]any{"reply_to": "m1", "content": "hi alice"},
					Priority:   5,
				}},
				Reasoning: "someone said hello",
			}, nil
		},
	}
	exec := &fakeExecutor{}
	l, w := newTestLoop(engine, exec)

	f0 := w.Fingerprint()
	observed(w, "m1", "c1")
	f1 := w.Fingerprint()
	if f0 == f1 {
		t.Fatal("message must change the fingerprint")
	}

	l.tick(context.Background())
	if exec.execCount() != 1 {
		t.Fatalf("expected 1 executed reply, got %d", exec.execCount())
	}
	if !w.HasRepliedTo("m1") {
		t.Fatal("reply to m1 must be recorded")
	}

	// Unchanged fingerprint: the cycle is skipped entirely.
	l.tick(context.Background())
	if exec.execCount() != 1 {
		t.Fatal("no re-attempt on unchanged fingerprint")
	}

	// Even a forced cycle must not duplicate the reply.
	l.cfg.ForcedInterval = time.Nanosecond
	time.Sleep(time.Millisecond)
	l.tick(context.Background())
	if exec.execCount() != 1 {
		t.Fatal("dedup must suppress the reply in a forced cycle")
	}
}

func TestSafeTick_RecoverFromPanic(t *testing.T) {
	engine := &fakeEngine{
		plan: func(key domain.ChannelKey) (domain.Plan, error) {
			panic("engine exploded")
		},
	}
	l, w := newTestLoop(engine, &fakeExecutor{})
	observed(w, "m1", "c1")

	// Must not propagate the panic.
	l.safeTick(context.Background())
}

func TestObserve_AddsMessageToWorld(t *testing.T) {
	l, w := newTestLoop(&fakeEngine{}, &fakeExecutor{})

	l.observe(domain.Message{
		ID: "m1", Platform: domain.PlatformDiscord, ChannelID: "d1", Sender: "bob",
	})

	msgs := w.Messages(domain.ChannelKey{Platform: domain.PlatformDiscord, ID: "d1"})
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message in world state, got %d", len(msgs))
	}
	if msgs[0].Timestamp.IsZero() {
		t.Error("observe must stamp missing timestamps")
	}
}

func TestRunCycle_StableChannelOrder(t *testing.T) {
	engine := &fakeEngine{}
	l, w := newTestLoop(engine, &fakeExecutor{})

	for _, id := range []string{"zeta", "alpha", "mike"} {
		observed(w, fmt.Sprintf("m-%s", id), id)
	}

	l.tick(context.Background())

	engine.mu.Lock()
	defer engine.mu.Unlock()
	want := []string{"alpha", "mike", "zeta"}
	if len(engine.calls) != len(want) {
		t.Fatalf("expected %d calls, got %d", len(want), len(engine.calls))
	}
	for i, k := range engine.calls {
		if k.ID != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], k.ID)
		}
	}
}

func TestRunCycle_TriggeredChannelsGoFirst(t *testing.T) {
	engine := &fakeEngine{}
	l, w := newTestLoop(engine, &fakeExecutor{})

	for _, id := range []string{"alpha", "mike", "zeta"} {
		observed(w, fmt.Sprintf("m-%s", id), id)
	}
	w.AddTrigger(domain.Trigger{
		Type:      "mention",
		Priority:  8,
		ChannelID: "telegram:zeta",
	})

	l.tick(context.Background())

	engine.mu.Lock()
	defer engine.mu.Unlock()
	if len(engine.calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(engine.calls))
	}
	if engine.calls[0].ID != "zeta" {
		t.Errorf("triggered channel should be processed first, got %s", engine.calls[0].ID)
	}
	if engine.calls[1].ID != "alpha" || engine.calls[2].ID != "mike" {
		t.Errorf("remaining channels out of order: %s, %s", engine.calls[1].ID, engine.calls[2].ID)
	}

	if got := len(w.DrainTriggers()); got != 0 {
		t.Errorf("cycle must consume pending triggers, %d left", got)
	}
}
