package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds a 'v' prefix if version starts with a digit.
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "thingy",
	Short: "Nordic Thingy:52 environment sensor CLI",
	Long: `Command-line client for the Nordic Thingy:52 environment service:

- Scan for nearby Thingy:52 devices
- Inspect GATT services, characteristics, and descriptors
- Stream temperature, pressure, humidity, and gas readings to stdout

Readings arrive as BLE notifications and are decoded and printed until
interrupted with Ctrl+C.`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(servicesCmd)
	rootCmd.AddCommand(listenCmd)

	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("config", "", "Config file (default: <user-config-dir>/thingy/config.yaml)")

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
