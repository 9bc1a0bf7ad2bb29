package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mudscribe/mudscribe/pkg/bus"
	"github.com/mudscribe/mudscribe/pkg/channels"
	"github.com/mudscribe/mudscribe/pkg/config"
	"github.com/mudscribe/mudscribe/pkg/logger"
	"github.com/mudscribe/mudscribe/pkg/relay"
)

type runOptions struct {
	mudURL    string
	username  string
	offline   bool
	translate bool
	web       bool
	showRaw   bool
	debug     bool
}

func newRunCmd(configPath *string) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the game and start the enabled channels",
		Long: `Connect to the game and start the enabled channels.

The login comes from the config file and MUDSCRIBE_* environment variables.
Flags override both.

Examples:
  mudscribe run
  mudscribe run --mud-url wss://game.example/ws --username alice
  mudscribe run --offline --web`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			applyRunFlags(cmd, cfg, opts)
			return runRelay(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.mudURL, "mud-url", "", "game WebSocket address")
	f.StringVarP(&opts.username, "username", "u", "", "game username")
	f.BoolVar(&opts.offline, "offline", false, "play a canned scene without a game server")
	f.BoolVar(&opts.translate, "translate", false, "translate free text into game commands")
	f.BoolVar(&opts.web, "web", false, "enable the browser channel")
	f.BoolVar(&opts.showRaw, "raw", false, "show raw game output in the terminal")
	f.BoolVarP(&opts.debug, "debug", "d", false, "enable debug logging")
	return cmd
}

func applyRunFlags(cmd *cobra.Command, cfg *config.Config, opts runOptions) {
	f := cmd.Flags()
	if f.Changed("mud-url") {
		cfg.Game.MudURL = opts.mudURL
	}
	if f.Changed("username") {
		cfg.Game.Username = opts.username
	}
	if f.Changed("offline") {
		cfg.Game.Offline = opts.offline
	}
	if f.Changed("translate") {
		cfg.Game.TranslateInput = opts.translate
	}
	if f.Changed("web") {
		cfg.Channels.Web.Enabled = opts.web
	}
	if f.Changed("raw") {
		cfg.Channels.Terminal.ShowRaw = opts.showRaw
	}
	if opts.debug {
		cfg.Logging.Level = "debug"
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	return cfg, nil
}

func setupLogging(cfg *config.Config) error {
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	if !cfg.Logging.FileEnabled {
		return nil
	}
	return logger.EnableFileLoggingWithRotation(
		config.ExpandHome(cfg.Logging.FilePath),
		cfg.Logging.RotationEnabled,
		cfg.Logging.MaxSizeMB,
		cfg.Logging.MaxAgeDays,
	)
}

func runRelay(parent context.Context, cfg *config.Config) error {
	if err := setupLogging(cfg); err != nil {
		return fmt.Errorf("enable file logging: %w", err)
	}
	defer logger.DisableFileLogging()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	messageBus := bus.NewMessageBus()
	defer messageBus.Close()

	manager, err := channels.NewManager(cfg, messageBus)
	if err != nil {
		return fmt.Errorf("error creating channel manager: %w", err)
	}
	r, err := relay.New(cfg, messageBus, manager)
	if err != nil {
		return err
	}

	if err := manager.StartAll(ctx); err != nil {
		return err
	}
	logger.InfoCF("mudscribe", "Started", map[string]any{
		"channels": manager.GetEnabledChannels(),
		"offline":  cfg.Game.Offline,
		"version":  version,
	})

	runErr := r.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = manager.StopAll(shutdownCtx)
	logger.InfoC("mudscribe", "Stopped")
	return runErr
}
