package main

import (
	"github.com/spf13/cobra"

	"github.com/evanslai/thingy/pkg/config"
)

// loadCommandConfig loads the config file named by --config, or the default
// location when the flag is unset. A missing file yields built-in defaults.
func loadCommandConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.DefaultPath()
	}
	return config.Load(path)
}

// applyScanConfig fills scan flag values from the config file. Flags given on
// the command line always win.
func applyScanConfig(cmd *cobra.Command, cfg *config.Config) {
	if !cmd.Flags().Changed("duration") {
		scanDuration = cfg.ScanTimeout
	}
	if !cmd.Flags().Changed("adapter") {
		scanAdapter = cfg.Adapter
	}
	if !cmd.Flags().Changed("format") && !cmd.Flags().Changed("watch") {
		if cfg.OutputFormat == "watch" {
			scanWatch = true
		} else {
			scanFormat = cfg.OutputFormat
		}
	}
}

func applyListenConfig(cmd *cobra.Command, cfg *config.Config) {
	if !cmd.Flags().Changed("timeout") {
		listenTimeout = cfg.ConnectTimeout
	}
	if !cmd.Flags().Changed("adapter") {
		listenAdapter = cfg.Adapter
	}
	if !cmd.Flags().Changed("mtu") {
		listenMTU = cfg.MTU
	}
	if !cmd.Flags().Changed("rate") {
		listenRate = cfg.Rate
	}
}

func applyServicesConfig(cmd *cobra.Command, cfg *config.Config) {
	if !cmd.Flags().Changed("timeout") {
		servicesTimeout = cfg.ConnectTimeout
	}
	if !cmd.Flags().Changed("adapter") {
		servicesAdapter = cfg.Adapter
	}
}
