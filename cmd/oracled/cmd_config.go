package main

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/alanyoungcy/marketoracle/internal/config"
)

var configFlags struct {
	validate bool
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration with secrets redacted",
	RunE:  runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&configFlags.validate, "validate", false, "also validate the configuration")
}

func runConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if configFlags.validate {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}
	redacted := config.RedactedConfig(cfg)
	return toml.NewEncoder(cmd.OutOrStdout()).Encode(redacted)
}
