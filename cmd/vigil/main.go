package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"vigil/internal/bus"
	"vigil/internal/channel"
	"vigil/internal/config"
	"vigil/internal/decay"
	"vigil/internal/decision"
	"vigil/internal/domain"
	"vigil/internal/executor"
	"vigil/internal/memory"
	"vigil/internal/metrics"
	"vigil/internal/persona"
	"vigil/internal/scheduler"
	"vigil/internal/state"
	"vigil/internal/status"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "vigil",
		Short: "vigil: an always-on reactive channel agent",
		Long: "vigil watches chat channels, keeps a bounded world state, and decides on its own\n" +
			"schedule when something changed enough to be worth acting on.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.vigil/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(runCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(exportCmd())
	root.AddCommand(configCmd())
	root.AddCommand(installDaemonCmd())
	root.AddCommand(uninstallDaemonCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the config directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists: %s", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			if err := os.MkdirAll(config.ExpandPath(cfg.Persona.Dir), 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the agent (all enabled feeds + decision loop)",
		RunE:  runAgent,
	}
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
		cfg = config.Defaults()
	}
	logger = buildLogger(cfg.General)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messageBus := bus.New(100, logger)
	events := bus.NewEventBus(logger)

	world := state.New(state.Config{
		MessageCap:   cfg.State.MessageCap,
		HistoryCap:   cfg.State.HistoryCap,
		KnowledgeCap: cfg.State.KnowledgeCap,
		MediaCap:     cfg.State.MediaCap,
	}, logger)

	var archive *memory.Archive
	if cfg.Archive.Enabled {
		archive, err = memory.NewArchive(cfg.Archive.DBPath, logger)
		if err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		defer archive.Close()
	}

	// Farewell when a channel falls silent, then the listening gauge follows
	// the decay manager's view.
	var decayMgr *decay.Manager
	notice := func(key domain.ChannelKey) {
		messageBus.SendOutbound(domain.Outbound{
			Platform:  key.Platform,
			ChannelID: key.ID,
			Content:   "Going quiet here for now. Mention me if you need me again.",
		})
	}
	decayMgr = decay.NewManager(decay.Config{
		InitialInterval: time.Duration(cfg.Decay.InitialIntervalS) * time.Second,
		MaxInterval:     time.Duration(cfg.Decay.MaxIntervalS) * time.Second,
		Threshold:       cfg.Decay.Threshold,
	}, events, notice, logger)

	trackListening := func(bus.Event) {
		metrics.ChannelsListening.Set(int64(len(decayMgr.Active())))
	}
	events.On(bus.EventChannelActivated, trackListening)
	events.On(bus.EventChannelDeactivated, trackListening)

	profiles, err := persona.LoadFromDirectory(cfg.Persona.Dir, logger)
	if err != nil {
		logger.Warn("persona profiles unavailable", "err", err)
	}
	profile := persona.Select(profiles, cfg.Persona.Profile)
	logger.Info("persona selected", "name", profile.Name)

	engine := decision.NewEngine(decision.EngineConfig{
		APIKey:       cfg.Engine.APIKey,
		APIBase:      cfg.Engine.APIBase,
		Model:        cfg.Engine.Model,
		SystemPrompt: profile.Prompt(),
		Logger:       logger,
	})

	exec := executor.New(world, messageBus, logger)

	loopCfg := scheduler.LoopConfig{
		Config: scheduler.Config{
			ObservationInterval: time.Duration(cfg.Scheduler.ObservationIntervalS) * time.Second,
			MaxCyclesPerHour:    cfg.Scheduler.MaxCyclesPerHour,
			ForcedInterval:      time.Duration(cfg.Scheduler.ForcedIntervalS) * time.Second,
			ActivityWindow:      time.Duration(cfg.Scheduler.ActivityWindowS) * time.Second,
		},
		World:    world,
		Engine:   engine,
		Executor: exec,
		Bus:      messageBus,
		Events:   events,
		Decay:    decayMgr,
		Logger:   logger,
	}
	if archive != nil {
		loopCfg.Archive = archive
	}
	loop := scheduler.NewLoop(loopCfg)

	go loop.Run(ctx)

	onMention := func(key domain.ChannelKey) {
		decayMgr.Activate(ctx, key)
		world.AddTrigger(domain.Trigger{
			Type:      "mention",
			Priority:  8,
			ChannelID: key.String(),
		})
	}
	startFeeds(ctx, cfg, messageBus, world, onMention)

	var statusSrv *status.Server
	if cfg.Status.Enabled {
		statusSrv = status.NewServer(world, metrics.Collector, status.Config{
			Host:           cfg.Status.Host,
			Port:           cfg.Status.Port,
			ActivityWindow: time.Duration(cfg.Scheduler.ActivityWindowS) * time.Second,
			Logger:         logger,
		})
		statusSrv.Start()
	}

	logger.Info("vigil started", "version", version)

	<-ctx.Done()
	logger.Info("shutting down...")

	const shutdownTimeout = 10 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		decayMgr.Shutdown()
		if statusSrv != nil {
			_ = statusSrv.Shutdown(shutdownCtx)
		}
		messageBus.Close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}

// startFeeds launches every enabled platform feed in its own goroutine.
func startFeeds(ctx context.Context, cfg *config.Config, messageBus domain.MessageBus, world *state.World, onMention func(domain.ChannelKey)) {
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		feed := channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Channels.Telegram.Token,
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
			Logger:    logger,
			OnMention: onMention,
			Status:    world.SetStatus,
		})
		go runFeed(ctx, feed, messageBus)
	}

	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token != "" {
		feed := channel.NewDiscord(channel.DiscordConfig{
			Token:     cfg.Channels.Discord.Token,
			GuildID:   cfg.Channels.Discord.GuildID,
			Logger:    logger,
			OnMention: onMention,
			Status:    world.SetStatus,
		})
		go runFeed(ctx, feed, messageBus)
	}

	if cfg.Channels.Slack.Enabled && cfg.Channels.Slack.BotToken != "" {
		feed := channel.NewSlack(channel.SlackConfig{
			BotToken:  cfg.Channels.Slack.BotToken,
			AppToken:  cfg.Channels.Slack.AppToken,
			Logger:    logger,
			OnMention: onMention,
			Status:    world.SetStatus,
		})
		go runFeed(ctx, feed, messageBus)
	}

	if cfg.Channels.CLI.Enabled {
		feed := channel.NewCLI(channel.CLIConfig{Logger: logger})
		go runFeed(ctx, feed, messageBus)
	}
}

func runFeed(ctx context.Context, feed domain.Feed, messageBus domain.MessageBus) {
	logger.Info("feed starting", "feed", feed.Name())
	if err := feed.Start(ctx, messageBus); err != nil {
		logger.Error("feed stopped with error", "feed", feed.Name(), "err", err)
	}
}

func buildLogger(general config.GeneralConfig) *slog.Logger {
	level := slog.LevelInfo
	switch general.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var out io.Writer = os.Stderr
	if general.LogFile != "" {
		f, err := os.OpenFile(general.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err == nil {
			out = io.MultiWriter(os.Stderr, f)
		}
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration and archive status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				return nil
			}
			logger.Info("config", "path", cfgPath, "loaded", true)

			// A running instance serves its live snapshot locally.
			if cfg.Status.Enabled {
				if snap, err := fetchSnapshot(cfg.Status.Host, cfg.Status.Port); err == nil {
					fmt.Println(snap)
					return nil
				}
				logger.Info("no running instance reachable, showing config only")
			}

			logger.Info("engine", "apiBase", cfg.Engine.APIBase, "model", cfg.Engine.Model)
			logger.Info("channels",
				"telegram", cfg.Channels.Telegram.Enabled,
				"discord", cfg.Channels.Discord.Enabled,
				"slack", cfg.Channels.Slack.Enabled,
				"cli", cfg.Channels.CLI.Enabled,
			)

			if cfg.Archive.Enabled {
				archive, err := memory.NewArchive(cfg.Archive.DBPath, logger)
				if err != nil {
					return fmt.Errorf("archive: %w", err)
				}
				defer archive.Close()
				n, err := archive.CountMessages()
				if err != nil {
					return err
				}
				logger.Info("archive", "path", cfg.Archive.DBPath, "messages", n)
			}
			return nil
		},
	}
}

// fetchSnapshot asks a running instance's status server for its world view.
func fetchSnapshot(host string, port int) (string, error) {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s:%d/snapshot", host, port))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("snapshot endpoint returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func exportCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the archive as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !cfg.Archive.Enabled {
				return fmt.Errorf("archive is disabled in config")
			}

			archive, err := memory.NewArchive(cfg.Archive.DBPath, logger)
			if err != nil {
				return fmt.Errorf("archive: %w", err)
			}
			defer archive.Close()

			var w io.Writer = os.Stdout
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return archive.ExportJSONL(w)
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write to file instead of stdout")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. engine.model)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. scheduler.maxCyclesPerHour 30)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
