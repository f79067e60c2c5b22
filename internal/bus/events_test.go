package bus

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestEventBus_EmitAndReceive(t *testing.T) {
	eb := NewEventBus(testBusLogger())

	var received int32
	eb.On(EventCycleStarted, func(e Event) {
		atomic.AddInt32(&received, 1)
	})

	eb.Emit(Event{Type: EventCycleStarted, Payload: map[string]any{"fingerprint": "abc"}})

	if atomic.LoadInt32(&received) != 1 {
		t.Errorf("expected 1 event received, got %d", received)
	}
}

func TestEventBus_WildcardHandler(t *testing.T) {
	eb := NewEventBus(testBusLogger())

	var count int32
	eb.On("*", func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	eb.Emit(Event{Type: EventActionExecuted})
	eb.Emit(Event{Type: EventActionFailed})

	if atomic.LoadInt32(&count) != 2 {
		t.Errorf("expected 2, got %d", count)
	}
}

func TestEventBus_Off(t *testing.T) {
	eb := NewEventBus(testBusLogger())

	var count int32
	id := eb.On(EventChannelDeactivated, func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	eb.Emit(Event{Type: EventChannelDeactivated})
	eb.Off(EventChannelDeactivated, id)
	eb.Emit(Event{Type: EventChannelDeactivated})

	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("expected 1 after unsubscribe, got %d", count)
	}
}

func TestEventBus_PanickingHandlerDoesNotAbort(t *testing.T) {
	eb := NewEventBus(testBusLogger())

	var after int32
	eb.On(EventCycleSkipped, func(e Event) { panic("boom") })
	eb.On(EventCycleSkipped, func(e Event) { atomic.AddInt32(&after, 1) })

	eb.Emit(Event{Type: EventCycleSkipped})

	if atomic.LoadInt32(&after) != 1 {
		t.Error("handler after a panicking one should still run")
	}
}

func TestEventBus_Replay(t *testing.T) {
	eb := NewEventBus(testBusLogger())

	start := time.Now().Add(-time.Second)
	eb.Emit(Event{Type: EventCycleStarted})
	eb.Emit(Event{Type: EventCycleSkipped})

	all := eb.Replay("*", start)
	if len(all) != 2 {
		t.Fatalf("expected 2 replayed events, got %d", len(all))
	}
	only := eb.Replay(EventCycleSkipped, start)
	if len(only) != 1 {
		t.Fatalf("expected 1 filtered event, got %d", len(only))
	}
}
