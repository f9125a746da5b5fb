package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/souravmenon1999/dex-order-engine/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration (file, environment and defaults merged)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		out, err := cfg.Dump()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

// loadConfig resolves --config. The default path is optional: when it does
// not exist, defaults and environment cover everything.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path := configPath
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}
	cfg, err := config.LoadConfig(path)
	return cfg, path, err
}
