package config

import (
	"os"
	"path/filepath"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_SchedulerBounds(t *testing.T) {
	cfg := Defaults()
	cfg.Scheduler.MaxCyclesPerHour = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxCyclesPerHour=0")
	}

	cfg = Defaults()
	cfg.Scheduler.MaxCyclesPerHour = 9999
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxCyclesPerHour=9999")
	}

	cfg = Defaults()
	cfg.Scheduler.ForcedIntervalS = 1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for forced interval below observation interval")
	}
}

func TestValidate_DecayBounds(t *testing.T) {
	cfg := Defaults()
	cfg.Decay.MaxIntervalS = cfg.Decay.InitialIntervalS - 1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for max interval below initial interval")
	}

	cfg = Defaults()
	cfg.Decay.Threshold = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for threshold=0")
	}
}

func TestValidate_EngineRequired(t *testing.T) {
	cfg := Defaults()
	cfg.Engine.APIBase = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for empty engine.apiBase")
	}

	cfg = Defaults()
	cfg.Engine.Model = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for empty engine.model")
	}
}

func TestValidate_EnabledChannelsNeedTokens(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Telegram.Enabled = true
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for enabled telegram without token")
	}

	cfg = Defaults()
	cfg.Channels.Slack.Enabled = true
	cfg.Channels.Slack.BotToken = "xoxb-test"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for enabled slack without app token")
	}
}

func TestValidate_InvalidStatusPort(t *testing.T) {
	cfg := Defaults()
	cfg.Status.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

// --- Load ---

func TestLoad_AppliesDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	raw := `{
		"scheduler": {"maxCyclesPerHour": 30},
		"channels": {"telegram": {"enabled": true, "token": "abc", "allowFrom": ["123", 456]}}
	}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduler.MaxCyclesPerHour != 30 {
		t.Fatalf("expected override 30, got %d", cfg.Scheduler.MaxCyclesPerHour)
	}
	if cfg.Scheduler.ObservationIntervalS != 10 {
		t.Fatalf("expected default observation interval 10, got %d", cfg.Scheduler.ObservationIntervalS)
	}
	if got := []string(cfg.Channels.Telegram.AllowFrom); len(got) != 2 || got[0] != "123" || got[1] != "456" {
		t.Fatalf("flex list mismatch: %v", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

// --- Env interpolation ---

func TestExpandEnvVars_Basic(t *testing.T) {
	t.Setenv("VIGIL_TEST_TOKEN", "secret123")
	got := ExpandEnvVars(`{"token": "${VIGIL_TEST_TOKEN}"}`)
	want := `{"token": "secret123"}`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestExpandEnvVars_Default(t *testing.T) {
	got := ExpandEnvVars(`${VIGIL_UNSET_VAR:-fallback}`)
	if got != "fallback" {
		t.Fatalf("got %q, want fallback", got)
	}
}

func TestExpandEnvVars_UnsetNoDefault(t *testing.T) {
	got := ExpandEnvVars(`${VIGIL_UNSET_VAR}`)
	if got != "${VIGIL_UNSET_VAR}" {
		t.Fatalf("unset var without default should be kept, got %q", got)
	}
}

func TestExpandEnvVars_SetOverridesDefault(t *testing.T) {
	t.Setenv("VIGIL_TEST_MODEL", "gpt-x")
	got := ExpandEnvVars(`${VIGIL_TEST_MODEL:-llama}`)
	if got != "gpt-x" {
		t.Fatalf("got %q, want gpt-x", got)
	}
}

// --- Save / roundtrip ---

func TestSaveLoad_Roundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "config.json")

	cfg := Defaults()
	cfg.Engine.Model = "test-model"
	cfg.Status.Port = 9000
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Engine.Model != "test-model" {
		t.Fatalf("model mismatch: %q", loaded.Engine.Model)
	}
	if loaded.Status.Port != 9000 {
		t.Fatalf("port mismatch: %d", loaded.Status.Port)
	}
}
