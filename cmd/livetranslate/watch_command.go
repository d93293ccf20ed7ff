package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/livetranslate/internal/app"
	"github.com/MrWong99/livetranslate/internal/config"
)

const shutdownTimeout = 15 * time.Second

type watchOptions struct {
	source   string
	target   string
	listen   string
	simulate bool
	start    bool
}

func newWatchCommand(configPath *string) *cobra.Command {
	var opts watchOptions

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Show live translations in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), *configPath, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.source, "source", "", "Source language code (overrides config)")
	flags.StringVar(&opts.target, "target", "", "Target language code (overrides config)")
	flags.StringVar(&opts.listen, "listen", "", "Status server address (overrides config)")
	flags.BoolVar(&opts.simulate, "simulate", false, "Never connect; show simulated lines")
	flags.BoolVar(&opts.start, "start", false, "Start translating immediately")
	return cmd
}

// applyFlags overrides cfg with explicitly set command-line options.
func applyFlags(cfg *config.Config, opts watchOptions) {
	if opts.source != "" {
		cfg.Languages.Source = opts.source
	}
	if opts.target != "" {
		cfg.Languages.Target = opts.target
	}
	if opts.listen != "" {
		cfg.Server.ListenAddr = opts.listen
	}
	if opts.simulate {
		cfg.Channel.Mode = config.ModeSimulated
	}
}

func runWatch(parent context.Context, configPath string, opts watchOptions) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	applyFlags(cfg, opts)
	if err := config.Validate(cfg); err != nil {
		return err
	}

	logger, level := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("livetranslate starting",
		"version", version,
		"config", configPath,
		"channel", cfg.Channel.URL,
		"mode", cfg.Channel.Mode,
		"listen_addr", cfg.Server.ListenAddr,
	)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appOpts := []app.Option{app.WithLevelVar(level), app.WithAutoStart(opts.start)}
	if configPath != "" {
		appOpts = append(appOpts, app.WithConfigWatch(configPath))
	}
	application, err := app.New(ctx, cfg, appOpts...)
	if err != nil {
		return err
	}

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return err
	}
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}
