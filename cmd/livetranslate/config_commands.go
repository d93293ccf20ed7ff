package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newConfigCommand(configPath *string) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}
	configCmd.AddCommand(newConfigValidateCommand(configPath))
	return configCmd
}

func newConfigValidateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := *configPath
			if len(args) == 1 {
				path = args[0]
			}
			cfg, err := loadConfig(path)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			out := cmd.OutOrStdout()
			if path == "" {
				fmt.Fprintln(out, "No config file given; defaults were used")
			} else {
				fmt.Fprintf(out, "Config path: %s\n", path)
			}
			fmt.Fprintf(out, "Channel: %s (%s)\n", cfg.Channel.URL, cfg.Channel.Mode)
			fmt.Fprintf(out, "Languages: %s\n", cfg.Languages.Pair())
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}
