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
	"path/filepath"
	"slices"
	"syscall"

	"memoryagent/internal/channel"
	"memoryagent/internal/config"
	"memoryagent/internal/domain"
	"memoryagent/internal/drive"
	"memoryagent/internal/events"
	"memoryagent/internal/httpapi"
	"memoryagent/internal/ingest"
	"memoryagent/internal/metrics"
	"memoryagent/internal/registry"
	"memoryagent/internal/store"
	"memoryagent/internal/summary"

	"github.com/spf13/cobra"
)

var (
	version    = "1.0.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "memoryagent",
		Short: "Memory Agent: notes, summaries and file capture over WhatsApp and Telegram",
		Long: `Memory Agent receives provider webhooks, stores every message as a note
for its sender, answers /resumen, /hoy, /semana and /buscar, and moves
attachments into Google Drive.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.memoryagent/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(configCmd())
	root.AddCommand(sourcesCmd())
	root.AddCommand(driveCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(config.ExpandPath(cfg.Store.DSN)), 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "db", config.ExpandPath(cfg.Store.DSN))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return config.ExpandPath(configPath)
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config file and reconfigures the global logger from
// it. The returned closer releases the log file, if any.
func loadConfig() (*config.Config, func(), error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	closeLog, err := setupLogger(cfg.General)
	if err != nil {
		return nil, nil, err
	}
	return cfg, closeLog, nil
}

func setupLogger(gc config.GeneralConfig) (func(), error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(gc.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	var w io.Writer = os.Stderr
	closer := func() {}
	if gc.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(gc.LogFile), 0o755); err != nil {
			return nil, fmt.Errorf("log directory: %w", err)
		}
		f, err := os.OpenFile(gc.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, f)
		closer = func() { f.Close() }
	}

	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return closer, nil
}

func openStore(cfg *config.Config) (*store.Store, error) {
	st, err := store.Open(cfg.Store.Driver, cfg.Store.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

// seedSources loads the configured seed file, or the built-in sources when
// none is set.
func seedSources(cfg *config.Config) ([]domain.Source, error) {
	if cfg.Sources.SeedFile == "" {
		return registry.DefaultSources(), nil
	}
	return registry.LoadSeedFile(cfg.Sources.SeedFile)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		Long:  "Serves provider webhooks, /health and /metrics until interrupted.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if cfg.Sources.SeedOnStart {
		srcs, err := seedSources(cfg)
		if err != nil {
			return err
		}
		rep, err := registry.Seed(ctx, st, srcs, false, logger)
		if err != nil {
			return fmt.Errorf("seed sources: %w", err)
		}
		logger.Info("sources seeded", "created", len(rep.Created), "existing", len(rep.Existing))
	}
	if cfg.Sources.Watch && cfg.Sources.SeedFile != "" {
		go func() {
			if err := registry.Watch(ctx, cfg.Sources.SeedFile, st, logger); err != nil {
				logger.Error("seed file watcher stopped", "err", err)
			}
		}()
	}

	bus := events.NewBus(logger)
	var collector *metrics.MetricsCollector
	if cfg.Metrics.Enabled {
		collector = metrics.Collector
		bus.On("*", collector.RecordEvent)
	}
	if cfg.Events.Enabled {
		fwd, err := events.DialForwarder(cfg.Events.AMQPURL, cfg.Events.Exchange, logger)
		if err != nil {
			return fmt.Errorf("events: %w", err)
		}
		defer fwd.Close()
		fwd.Attach(bus)
		logger.Info("event forwarding enabled", "exchange", cfg.Events.Exchange)
	}

	svcCfg := ingest.Config{
		Sources:  st,
		Notes:    st,
		Commands: summary.New(summary.Config{Notes: st, Location: loc, Logger: logger}),
		Channels: channel.Deps{
			Twilio: channel.NewTwilioClient(channel.TwilioClientConfig{
				APIBase: cfg.Twilio.APIBase,
				Timeout: config.Seconds(cfg.Twilio.TimeoutSeconds),
				Logger:  logger,
			}),
			Bots:      channel.NewBotPool(&http.Client{Timeout: config.Seconds(cfg.Telegram.TimeoutSeconds)}),
			ParseMode: cfg.Telegram.ParseMode,
			Logger:    logger,
		},
		Events:   bus,
		Location: loc,
		Logger:   logger,
	}

	if cfg.Drive.Enabled {
		reloc, err := newRelocator(ctx, cfg)
		if err != nil {
			return err
		}
		svcCfg.Drive = reloc
		logger.Info("drive relocation enabled", "root", cfg.Drive.RootFolderID)
	} else {
		logger.Warn("drive relocation disabled; attachments will be rejected")
	}

	server := httpapi.New(httpapi.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Processor:    ingest.New(svcCfg),
		Sources:      st,
		Metrics:      collector,
		MetricsPath:  cfg.Metrics.Endpoint,
		Version:      version,
		Logger:       logger,
	})

	logger.Info("memory agent started. Press Ctrl+C to stop.", "version", version)
	if err := server.Run(ctx); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// newRelocator wires the token file, the Drive client and the relocator.
func newRelocator(ctx context.Context, cfg *config.Config) (*drive.Relocator, error) {
	cache, err := newTokenCache(ctx, cfg)
	if err != nil {
		return nil, err
	}
	svc, err := drive.NewService(ctx, cache)
	if err != nil {
		return nil, fmt.Errorf("drive service: %w", err)
	}
	return drive.New(drive.Config{
		Service:      svc,
		RootFolderID: cfg.Drive.RootFolderID,
		Client:       &http.Client{Timeout: config.Seconds(cfg.Drive.TimeoutSeconds)},
		Tokens:       cache,
		Logger:       logger,
	}), nil
}

func newTokenCache(ctx context.Context, cfg *config.Config) (*drive.TokenCache, error) {
	conf, err := drive.LoadOAuthConfig(cfg.Drive.CredentialsPath)
	if err != nil {
		return nil, err
	}
	return drive.NewTokenCache(ctx, cfg.Drive.TokenPath, conf, logger), nil
}

// maskedConfigValue reads path from the sanitized config so secrets in
// connection URLs never reach the log.
func maskedConfigValue(cfg *config.Config, path string) any {
	val, err := config.GetByPath(config.Sanitize(cfg), path)
	if err != nil {
		return nil
	}
	return val
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. server.port)",
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
		Short: "Set a config value (e.g. drive.enabled true)",
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
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", maskedConfigValue(cfg, args[0]), "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			paths := config.ListPaths(config.Sanitize(cfg))
			keys := make([]string, 0, len(paths))
			for k := range paths {
				keys = append(keys, k)
			}
			slices.Sort(keys)
			for _, k := range keys {
				fmt.Printf("%s = %v\n", k, paths[k])
			}
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
