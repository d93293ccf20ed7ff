package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/livetranslate/internal/config"
)

func newRootCommand() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "livetranslate",
		Short:         "Real-time translation client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file path (defaults apply when empty)")

	watch := newWatchCommand(&configPath)
	rootCmd.RunE = watch.RunE
	rootCmd.Flags().AddFlagSet(watch.Flags())

	rootCmd.AddCommand(watch)
	rootCmd.AddCommand(newConfigCommand(&configPath))
	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "livetranslate %s\n", version)
			return nil
		},
	}
}

// loadConfig loads path, or returns the defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// newLogger returns a text logger on stderr whose level can be changed at
// runtime through the returned LevelVar.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lv := &slog.LevelVar{}
	lv.Set(level.Level())
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})), lv
}
