package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Scheduler: SchedulerConfig{
			ObservationIntervalS: 10,
			MaxCyclesPerHour:     60,
			ForcedIntervalS:      300,
			ActivityWindowS:      600,
		},
		Decay: DecayConfig{
			InitialIntervalS: 10,
			MaxIntervalS:     120,
			Threshold:        3,
		},
		State: StateConfig{
			MessageCap:   50,
			HistoryCap:   100,
			KnowledgeCap: 200,
			MediaCap:     100,
		},
		Engine: EngineConfig{
			APIBase: "http://localhost:11434/v1",
			Model:   "llama3.1:8b",
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{Enabled: false},
			Discord:  DiscordConfig{Enabled: false},
			Slack:    SlackConfig{Enabled: false},
			CLI:      CLIConfig{Enabled: true},
		},
		Archive: ArchiveConfig{
			Enabled: true,
			DBPath:  "~/.vigil/archive.db",
		},
		Persona: PersonaConfig{
			Dir:     "~/.vigil/personas",
			Profile: "default",
		},
		Status: StatusConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8140,
		},
	}
}
