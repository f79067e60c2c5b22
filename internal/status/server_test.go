package status

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"vigil/internal/domain"
	"vigil/internal/metrics"
	"vigil/internal/state"
)

func newTestServer(t *testing.T) (*Server, *state.World) {
	t.Helper()
	world := state.New(state.Config{}, nil)
	s := NewServer(world, metrics.NewMetricsCollector(), Config{Host: "127.0.0.1", Port: 0})
	return s, world
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestSnapshotEndpoint(t *testing.T) {
	s, world := newTestServer(t)
	world.AddMessage(domain.Message{
		ID:        "m1",
		Platform:  domain.PlatformTelegram,
		ChannelID: "chat-1",
		Sender:    "alice",
		Content:   "hi",
		Timestamp: time.Now(),
	})

	rec := httptest.NewRecorder()
	s.handleSnapshot(rec, httptest.NewRequest("GET", "/snapshot", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(snap.Channels[domain.PlatformTelegram]) != 1 {
		t.Fatalf("expected one telegram channel in snapshot, got %v", snap.Channels)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	world := state.New(state.Config{}, nil)
	collector := metrics.NewMetricsCollector()
	collector.Counter("vigil_test_total", "test counter").Inc()
	s := NewServer(world, collector, Config{Host: "127.0.0.1", Port: 0})

	rec := httptest.NewRecorder()
	s.collector.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "vigil_test_total 1") {
		t.Fatalf("metrics output missing counter:\n%s", rec.Body.String())
	}
}
