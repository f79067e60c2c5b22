// Package config loads and validates the agent configuration from a JSON
// file, with ${VAR} environment interpolation for secrets.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Config is the root configuration for vigil.
type Config struct {
	General   GeneralConfig   `json:"general"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Decay     DecayConfig     `json:"decay"`
	State     StateConfig     `json:"state"`
	Engine    EngineConfig    `json:"engine"`
	Channels  ChannelsConfig  `json:"channels"`
	Archive   ArchiveConfig   `json:"archive"`
	Persona   PersonaConfig   `json:"persona"`
	Status    StatusConfig    `json:"status"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile,omitempty"`
}

// SchedulerConfig tunes the decision loop.
type SchedulerConfig struct {
	ObservationIntervalS int `json:"observationIntervalSeconds"`
	MaxCyclesPerHour     int `json:"maxCyclesPerHour"`
	ForcedIntervalS      int `json:"forcedIntervalSeconds"`
	ActivityWindowS      int `json:"activityWindowSeconds"`
}

// DecayConfig tunes per-channel listening decay.
type DecayConfig struct {
	InitialIntervalS int `json:"initialIntervalSeconds"`
	MaxIntervalS     int `json:"maxIntervalSeconds"`
	Threshold        int `json:"threshold"`
}

// StateConfig bounds the in-memory world state.
type StateConfig struct {
	MessageCap   int `json:"messageCap"`
	HistoryCap   int `json:"historyCap"`
	KnowledgeCap int `json:"knowledgeCap"`
	MediaCap     int `json:"mediaCap"`
}

// EngineConfig points the decision engine at an OpenAI-compatible endpoint.
type EngineConfig struct {
	APIBase string `json:"apiBase"`
	APIKey  string `json:"apiKey,omitempty"`
	Model   string `json:"model"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
	Slack    SlackConfig    `json:"slack"`
	CLI      CLIConfig      `json:"cli"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom,omitempty"`
}

type DiscordConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	GuildID string `json:"guildId,omitempty"`
}

type SlackConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"botToken"`
	AppToken string `json:"appToken"` // required for Socket Mode
}

type CLIConfig struct {
	Enabled bool `json:"enabled"`
}

// ArchiveConfig configures the durable message and action archive.
type ArchiveConfig struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"dbPath"`
}

// PersonaConfig points at a directory of YAML persona profiles.
type PersonaConfig struct {
	Dir     string `json:"dir"`
	Profile string `json:"profile"`
}

// StatusConfig configures the local HTTP status surface.
type StatusConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.vigil).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".vigil"
	}
	return filepath.Join(home, ".vigil")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Archive.DBPath = ExpandPath(cfg.Archive.DBPath)
	cfg.Persona.Dir = ExpandPath(cfg.Persona.Dir)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset
// or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Scheduler.ObservationIntervalS < 1 {
		errs = append(errs, "scheduler.observationIntervalSeconds must be >= 1")
	}
	if cfg.Scheduler.MaxCyclesPerHour < 1 || cfg.Scheduler.MaxCyclesPerHour > 3600 {
		errs = append(errs, "scheduler.maxCyclesPerHour must be between 1 and 3600")
	}
	if cfg.Scheduler.ForcedIntervalS < cfg.Scheduler.ObservationIntervalS {
		errs = append(errs, "scheduler.forcedIntervalSeconds must be >= observationIntervalSeconds")
	}

	if cfg.Decay.InitialIntervalS < 1 {
		errs = append(errs, "decay.initialIntervalSeconds must be >= 1")
	}
	if cfg.Decay.MaxIntervalS < cfg.Decay.InitialIntervalS {
		errs = append(errs, "decay.maxIntervalSeconds must be >= initialIntervalSeconds")
	}
	if cfg.Decay.Threshold < 1 {
		errs = append(errs, "decay.threshold must be >= 1")
	}

	if cfg.State.MessageCap < 1 {
		errs = append(errs, "state.messageCap must be >= 1")
	}
	if cfg.State.HistoryCap < 1 {
		errs = append(errs, "state.historyCap must be >= 1")
	}

	if cfg.Engine.APIBase == "" {
		errs = append(errs, "engine.apiBase is required")
	}
	if cfg.Engine.Model == "" {
		errs = append(errs, "engine.model is required")
	}

	if cfg.Status.Port < 0 || cfg.Status.Port > 65535 {
		errs = append(errs, "status.port must be between 0 and 65535")
	}

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when enabled")
	}
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token == "" {
		errs = append(errs, "channels.discord.token is required when enabled")
	}
	if cfg.Channels.Slack.Enabled && (cfg.Channels.Slack.BotToken == "" || cfg.Channels.Slack.AppToken == "") {
		errs = append(errs, "channels.slack.botToken and appToken are required when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
